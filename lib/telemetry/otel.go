package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coachpo/conduit/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	apimetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// otelTelemetry is the OpenTelemetry-backed Telemetry implementation. It
// mirrors the teacher's provider-lifecycle shape (construct once at
// startup, shut down once during graceful teardown) generalized from a
// trace+metric handle to a metrics-only handle carrying this pipeline's
// fixed counter/gauge set (spec §6.4).
type otelTelemetry struct {
	meterProvider apimetric.MeterProvider

	eventsIn        apimetric.Int64Counter
	eventsOut       apimetric.Int64Counter
	discardedEvents apimetric.Int64Counter
	componentErrors apimetric.Int64Counter

	gaugeMu    sync.Mutex
	bufEvents  map[string]int64
	bufBytes   map[string]int64
	bufEventsG apimetric.Int64ObservableGauge
	bufBytesG  apimetric.Int64ObservableGauge
}

// Init configures an OpenTelemetry meter provider per cfg and returns a
// ready-to-use Telemetry handle plus a shutdown func. An empty OTLPEndpoint
// yields a no-op meter provider (mirrors the teacher's no-endpoint fallback
// in lib/telemetry.Init) so tests and local runs never require a collector.
func Init(ctx context.Context, cfg config.TelemetryConfig) (Telemetry, func(context.Context) error, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "conduit"
	}

	if endpoint == "" {
		mp := noop.NewMeterProvider()
		otel.SetMeterProvider(mp)
		t, err := newOtelTelemetry(mp)
		if err != nil {
			return nil, nil, err
		}
		return t, func(context.Context) error { return nil }, nil
	}

	host, insecure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, nil, err
	}

	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
	if insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create metric exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	t, err := newOtelTelemetry(mp)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(ctx context.Context) error {
		return mp.Shutdown(ctx)
	}
	return t, shutdown, nil
}

func newOtelTelemetry(mp apimetric.MeterProvider) (*otelTelemetry, error) {
	meter := mp.Meter("github.com/coachpo/conduit")

	eventsIn, err := meter.Int64Counter("events_in_total")
	if err != nil {
		return nil, fmt.Errorf("create events_in_total: %w", err)
	}
	eventsOut, err := meter.Int64Counter("events_out_total")
	if err != nil {
		return nil, fmt.Errorf("create events_out_total: %w", err)
	}
	discarded, err := meter.Int64Counter("component_discarded_events_total")
	if err != nil {
		return nil, fmt.Errorf("create component_discarded_events_total: %w", err)
	}
	compErrors, err := meter.Int64Counter("component_errors_total")
	if err != nil {
		return nil, fmt.Errorf("create component_errors_total: %w", err)
	}

	t := &otelTelemetry{
		meterProvider:   mp,
		eventsIn:        eventsIn,
		eventsOut:       eventsOut,
		discardedEvents: discarded,
		componentErrors: compErrors,
		bufEvents:       make(map[string]int64),
		bufBytes:        make(map[string]int64),
	}

	bufEventsG, err := meter.Int64ObservableGauge("buffer_events",
		apimetric.WithInt64Callback(t.observeBufferEvents))
	if err != nil {
		return nil, fmt.Errorf("create buffer_events: %w", err)
	}
	bufBytesG, err := meter.Int64ObservableGauge("buffer_byte_size",
		apimetric.WithInt64Callback(t.observeBufferBytes))
	if err != nil {
		return nil, fmt.Errorf("create buffer_byte_size: %w", err)
	}
	t.bufEventsG = bufEventsG
	t.bufBytesG = bufBytesG
	return t, nil
}

func (t *otelTelemetry) observeBufferEvents(_ context.Context, o apimetric.Int64Observer) error {
	t.gaugeMu.Lock()
	defer t.gaugeMu.Unlock()
	for componentID, v := range t.bufEvents {
		o.Observe(v, apimetric.WithAttributes(attribute.String("component_id", componentID)))
	}
	return nil
}

func (t *otelTelemetry) observeBufferBytes(_ context.Context, o apimetric.Int64Observer) error {
	t.gaugeMu.Lock()
	defer t.gaugeMu.Unlock()
	for componentID, v := range t.bufBytes {
		o.Observe(v, apimetric.WithAttributes(attribute.String("component_id", componentID)))
	}
	return nil
}

func (t *otelTelemetry) EventsIn(componentID, componentKind string, n int) {
	t.eventsIn.Add(context.Background(), int64(n),
		apimetric.WithAttributes(
			attribute.String("component_id", componentID),
			attribute.String("component_kind", componentKind),
		))
}

func (t *otelTelemetry) EventsOut(componentID, componentKind, output string, n int) {
	t.eventsOut.Add(context.Background(), int64(n),
		apimetric.WithAttributes(
			attribute.String("component_id", componentID),
			attribute.String("component_kind", componentKind),
			attribute.String("output", output),
		))
}

func (t *otelTelemetry) DiscardedEvents(componentID, reason string, n int) {
	t.discardedEvents.Add(context.Background(), int64(n),
		apimetric.WithAttributes(
			attribute.String("component_id", componentID),
			attribute.String("reason", reason),
		))
}

func (t *otelTelemetry) ComponentError(componentID, errorType, stage string) {
	t.componentErrors.Add(context.Background(), 1,
		apimetric.WithAttributes(
			attribute.String("component_id", componentID),
			attribute.String("error_type", errorType),
			attribute.String("stage", stage),
		))
}

func (t *otelTelemetry) SetBufferEvents(componentID string, n int64) {
	t.gaugeMu.Lock()
	defer t.gaugeMu.Unlock()
	t.bufEvents[componentID] = n
}

func (t *otelTelemetry) SetBufferByteSize(componentID string, n int64) {
	t.gaugeMu.Lock()
	defer t.gaugeMu.Unlock()
	t.bufBytes[componentID] = n
}

func parseEndpoint(raw string) (string, bool, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse otlp endpoint: %w", err)
	}
	host := parsed.Host
	if host == "" {
		host = raw
	}
	insecure := parsed.Scheme != "https"
	return host, insecure, nil
}
