// Package telemetry wires OpenTelemetry metrics with a Prometheus
// exporter and adapts dictation session activity onto the meters.
package telemetry

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/voxwrite/dictated/internal/dictation"
)

const meterName = "github.com/voxwrite/dictated"

// Setup initializes the global meter provider with a Prometheus
// reader. It returns a shutdown func and the scrape handler; with
// metrics disabled both degrade to no-ops.
func Setup(serviceName, environment string, enabled bool, log *slog.Logger) (func(context.Context) error, http.Handler, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("deployment.environment", environment),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	promExporter, err := prometheus.New()
	if err != nil {
		log.Warn("failed to initialize prometheus exporter", "error", err)
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		otel.SetMeterProvider(provider)
		return provider.Shutdown, nil, nil
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, promhttp.Handler(), nil
}

// Observer feeds session activity into the meters. It implements
// dictation.Observer.
type Observer struct {
	active      metric.Int64UpDownCounter
	updates     metric.Int64Counter
	audioBytes  metric.Int64Counter
	duration    metric.Int64Histogram
	firstResult metric.Int64Histogram
}

var _ dictation.Observer = (*Observer)(nil)

// NewObserver registers the per-session instruments plus
// callback-driven counters over the manager's aggregate stats.
func NewObserver(stats func() dictation.StatsSnapshot) (*Observer, error) {
	meter := otel.Meter(meterName)

	o := &Observer{}
	var err error
	if o.active, err = meter.Int64UpDownCounter("dictated.sessions.active",
		metric.WithDescription("Sessions currently running")); err != nil {
		return nil, err
	}
	if o.updates, err = meter.Int64Counter("dictated.transcript.updates",
		metric.WithDescription("Transcript view updates delivered to observers")); err != nil {
		return nil, err
	}
	if o.audioBytes, err = meter.Int64Counter("dictated.audio.bytes",
		metric.WithDescription("Captured audio bytes, counted per completed session"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if o.duration, err = meter.Int64Histogram("dictated.session.duration",
		metric.WithDescription("Session duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if o.firstResult, err = meter.Int64Histogram("dictated.session.first_result",
		metric.WithDescription("Latency from session start to the first transcription result"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}

	started, err := meter.Int64ObservableCounter("dictated.sessions.started",
		metric.WithDescription("Sessions started"))
	if err != nil {
		return nil, err
	}
	completed, err := meter.Int64ObservableCounter("dictated.sessions.completed",
		metric.WithDescription("Sessions ended with a transcript"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64ObservableCounter("dictated.sessions.failed",
		metric.WithDescription("Sessions ended in the error state"))
	if err != nil {
		return nil, err
	}
	fallbacks, err := meter.Int64ObservableCounter("dictated.fallback.runs",
		metric.WithDescription("Fallback chain activations"))
	if err != nil {
		return nil, err
	}
	voiceStops, err := meter.Int64ObservableCounter("dictated.voice.stops",
		metric.WithDescription("Sessions ended by a spoken stop phrase"))
	if err != nil {
		return nil, err
	}
	transportErrors, err := meter.Int64ObservableCounter("dictated.transport.errors",
		metric.WithDescription("Terminal streaming transport failures"))
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		snap := stats()
		obs.ObserveInt64(started, int64(snap.Started))
		obs.ObserveInt64(completed, int64(snap.Completed))
		obs.ObserveInt64(failed, int64(snap.Failed))
		obs.ObserveInt64(fallbacks, int64(snap.Fallbacks))
		obs.ObserveInt64(voiceStops, int64(snap.VoiceStops))
		obs.ObserveInt64(transportErrors, int64(snap.TransportErrors))
		return nil
	}, started, completed, failed, fallbacks, voiceStops, transportErrors)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Observer) SessionStarted(snap dictation.Snapshot) {
	o.active.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("mode", string(snap.Mode))))
}

func (o *Observer) TranscriptUpdated(snap dictation.Snapshot, view string, final bool) {
	o.updates.Add(context.Background(), 1,
		metric.WithAttributes(attribute.Bool("final", final)))
}

func (o *Observer) SessionEnded(snap dictation.Snapshot) {
	ctx := context.Background()
	mode := attribute.String("mode", string(snap.Mode))
	status := attribute.String("status", string(snap.Status))

	o.active.Add(ctx, -1, metric.WithAttributes(mode))
	o.duration.Record(ctx, snap.DurationMS, metric.WithAttributes(mode, status))
	o.audioBytes.Add(ctx, snap.AudioBytes, metric.WithAttributes(mode))
	if snap.FirstResultMS > 0 {
		o.firstResult.Record(ctx, snap.FirstResultMS,
			metric.WithAttributes(attribute.String("engine", snap.Engine)))
	}
}
