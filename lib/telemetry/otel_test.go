package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/conduit/config"
)

func TestParseEndpoint(t *testing.T) {
	host, insecure, err := parseEndpoint("https://example.com:4318")
	require.NoError(t, err)
	require.Equal(t, "example.com:4318", host)
	require.False(t, insecure)

	host, insecure, err = parseEndpoint("http://localhost:4318")
	require.NoError(t, err)
	require.Equal(t, "localhost:4318", host)
	require.True(t, insecure)
}

func TestInitNoEndpointUsesNoopProviderButRealTelemetry(t *testing.T) {
	tel, shutdown, err := Init(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	require.NotNil(t, tel)
	require.NotNil(t, shutdown)

	require.NotPanics(t, func() {
		tel.EventsIn("source-a", "source", 3)
		tel.SetBufferEvents("buffer-a", 10)
	})
	require.NoError(t, shutdown(context.Background()))
}

func TestInitInvalidEndpoint(t *testing.T) {
	_, _, err := Init(context.Background(), config.TelemetryConfig{OTLPEndpoint: "://bad"})
	require.Error(t, err)
}

func TestNoopSatisfiesTelemetry(t *testing.T) {
	var tel Telemetry = Noop{}
	require.NotPanics(t, func() {
		tel.EventsIn("c", "kind", 1)
		tel.EventsOut("c", "kind", "out", 1)
		tel.DiscardedEvents("c", "overflow", 1)
		tel.ComponentError("c", "transient", "retry")
		tel.SetBufferEvents("c", 5)
		tel.SetBufferByteSize("c", 500)
	})
}
