// Package telemetry defines the injected metrics handle the topology
// controller and sink service framework report through, plus an
// OpenTelemetry-backed implementation and a no-op stand-in for tests.
package telemetry

// Telemetry is the injected metrics contract every pipeline stage reports
// through. It never exposes the concrete OpenTelemetry types so components
// stay testable against the no-op implementation.
type Telemetry interface {
	// EventsIn records n events accepted by a component.
	EventsIn(componentID, componentKind string, n int)
	// EventsOut records n events emitted by a component toward output.
	EventsOut(componentID, componentKind, output string, n int)
	// DiscardedEvents records n events discarded by a component for reason.
	DiscardedEvents(componentID, reason string, n int)
	// ComponentError records one error observed during stage for a component.
	ComponentError(componentID, errorType, stage string)
	// SetBufferEvents reports the current queued-event count for a buffer.
	SetBufferEvents(componentID string, n int64)
	// SetBufferByteSize reports the current byte size of a buffer.
	SetBufferByteSize(componentID string, n int64)
}
