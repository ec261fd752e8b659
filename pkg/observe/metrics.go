// Package observe provides observability for the voice pipeline:
// OpenTelemetry metric instruments and a Prometheus exporter bridge
// ([InitProvider]) so they can be scraped from a /metrics endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is
// provided for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/nutrivoice/nutrivoice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// FramesSent counts microphone frames sent over the live channel.
	FramesSent metric.Int64Counter

	// ChunksScheduled counts inbound speech chunks handed to the playback
	// scheduler.
	ChunksScheduled metric.Int64Counter

	// Interruptions counts barge-in events that flushed scheduled speech.
	Interruptions metric.Int64Counter

	// DecodeErrors counts inbound chunks dropped as malformed.
	DecodeErrors metric.Int64Counter

	// ChunkDuration tracks the audio duration of each scheduled chunk.
	ChunkDuration metric.Float64Histogram

	// ActiveSessions tracks the number of live voice sessions. In this
	// client it is 0 or 1.
	ActiveSessions metric.Int64UpDownCounter
}

// chunkBuckets defines histogram bucket boundaries (in seconds) sized
// for the short PCM chunks the live endpoint streams.
var chunkBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesSent, err = m.Int64Counter("nutrivoice.capture.frames_sent",
		metric.WithDescription("Total microphone frames sent over the live channel."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("nutrivoice.playback.chunks_scheduled",
		metric.WithDescription("Total inbound speech chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("nutrivoice.playback.interruptions",
		metric.WithDescription("Total barge-in events that flushed scheduled speech."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("nutrivoice.playback.decode_errors",
		metric.WithDescription("Total inbound chunks dropped as malformed."),
	); err != nil {
		return nil, err
	}

	if met.ChunkDuration, err = m.Float64Histogram("nutrivoice.playback.chunk_duration",
		metric.WithDescription("Audio duration of each scheduled chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(chunkBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("nutrivoice.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Panics if instrument
// creation fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
