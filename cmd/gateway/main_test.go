package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/conduit/lib/telemetry"
)

func TestResolveConfigPathPrefersExplicitFlag(t *testing.T) {
	require.Equal(t, "custom.yaml", resolveConfigPath("custom.yaml"))
}

func TestResolveConfigPathFallsBackWhenDefaultMissing(t *testing.T) {
	require.Equal(t, "", resolveConfigPath(""))
}

func TestBuildSpecsWiresSourceToSink(t *testing.T) {
	specs := buildSpecs("ws://example.invalid/stream", "http://example.invalid/ingest", telemetry.Noop{})
	require.Len(t, specs, 2)
	require.Equal(t, sourceKey, specs[0].Key)
	require.Contains(t, specs[0].SendsTo, sinkKey)
	require.Equal(t, sinkKey, specs[1].Key)
	require.NotNil(t, specs[1].Sink)
}
