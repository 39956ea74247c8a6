package telemetry

// Noop is a Telemetry implementation that discards every observation. Used
// by package tests and any caller that does not want the OTLP dependency.
type Noop struct{}

var _ Telemetry = Noop{}

func (Noop) EventsIn(string, string, int)          {}
func (Noop) EventsOut(string, string, string, int) {}
func (Noop) DiscardedEvents(string, string, int)   {}
func (Noop) ComponentError(string, string, string) {}
func (Noop) SetBufferEvents(string, int64)         {}
func (Noop) SetBufferByteSize(string, int64)       {}
