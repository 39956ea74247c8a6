// Command gateway launches the conduit pipeline entrypoint: a single
// WebSocket source feeding a single HTTP sink through the topology
// controller, with signal-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coachpo/conduit/config"
	"github.com/coachpo/conduit/internal/sinks/httpsink"
	"github.com/coachpo/conduit/internal/sinksvc"
	"github.com/coachpo/conduit/internal/sources/wsource"
	"github.com/coachpo/conduit/internal/topology"
	"github.com/coachpo/conduit/lib/telemetry"
)

const (
	defaultConfigPath        = "config/gateway.yaml"
	gatewayLoggerPrefix      = "gateway "
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	sourceURL, sinkURL, cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newGatewayLogger()

	cfg, err := config.Load(resolveConfigPath(cfgPath))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s", cfg.Environment)

	tel, telShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	ctrl := topology.NewController(tel)
	if err := ctrl.Build(buildSpecs(sourceURL, sinkURL, tel)); err != nil {
		logger.Fatalf("build topology: %v", err)
	}

	go watchComponentErrors(logger, ctrl)

	if err := ctrl.Run(ctx); err != nil {
		logger.Fatalf("run topology: %v", err)
	}
	logger.Print("gateway started; awaiting shutdown signal")

	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Shutdown.PerComponentTimeout*4)
	defer shutdownCancel()

	shutdownStart := time.Now()
	if err := ctrl.ShutdownWithConfig(shutdownCtx, topology.ShutdownConfig{
		PerComponentTimeout: cfg.Shutdown.PerComponentTimeout,
		DrainTimeout:        cfg.Shutdown.PerComponentTimeout,
	}); err != nil {
		logger.Printf("shutdown: %v", err)
	}

	telCtx, telCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer telCancel()
	if err := telShutdown(telCtx); err != nil {
		logger.Printf("shutdown: telemetry: %v", err)
	}

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() (sourceURL, sinkURL, cfgPath string) {
	src := flag.String("source-url", "ws://localhost:8081/stream", "WebSocket URL to ingest events from")
	sink := flag.String("sink-url", "http://localhost:8082/ingest", "HTTP endpoint to deliver batches to")
	cfg := flag.String("config", "", fmt.Sprintf("path to configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *src, *sink, *cfg
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newGatewayLogger() *log.Logger {
	return log.New(os.Stdout, gatewayLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

const (
	sourceKey topology.ComponentKey = "ws-source"
	sinkKey   topology.ComponentKey = "http-sink"
)

func buildSpecs(sourceURL, sinkURL string, tel telemetry.Telemetry) []topology.ComponentSpec {
	source := wsource.New(wsource.Options{URL: sourceURL})
	sink := httpsink.New(httpsink.Options{
		ComponentID: string(sinkKey),
		URL:         sinkURL,
		Batch:       sinksvc.BatchOptions{MaxEvents: 500, MaxBytes: 1 << 20, MaxAge: time.Second},
		Concurrency: sinksvc.ConcurrencyOptions{Mode: sinksvc.ConcurrencyAdaptive, MinLimit: 1, MaxLimit: 16},
		Retry:       sinksvc.RetryOptions{Base: 250 * time.Millisecond, Cap: 10 * time.Second, Deadline: 30 * time.Second},
		Telemetry:   tel,
	})

	return []topology.ComponentSpec{
		{
			Key:     sourceKey,
			Source:  source,
			SendsTo: []topology.ComponentKey{sinkKey},
		},
		{
			Key:  sinkKey,
			Sink: sink,
		},
	}
}

func watchComponentErrors(logger *log.Logger, ctrl *topology.Controller) {
	for ce := range ctrl.Errors() {
		logger.Printf("component %s: %v", ce.Key, ce.Err)
	}
}
