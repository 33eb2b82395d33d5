// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package metrics records the engine's latency histograms, gauges, and
// counters through the OpenTelemetry Metrics API, bridged to a Prometheus
// exporter so the admin API's /metrics endpoint serves the standard text
// exposition.
package metrics

import (
	"context"

	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// meterName is the instrumentation scope for all engine metrics.
const meterName = "github.com/rapidaai/callengine"

// latencyBuckets covers the sub-second-to-a-few-seconds range the engine
// targets for turn latency and the per-stage pipeline latencies.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10}

// Metrics holds every metric instrument the engine records. All fields
// are safe for concurrent use; the underlying OTel types synchronize
// internally. The exported Prometheus names carry the unit/counter
// suffixes the exporter appends (turn_latency_seconds,
// transport_frames_dropped_total, active_calls).
type Metrics struct {
	// TurnLatency measures end of caller utterance to first agent-audio
	// frame on the wire.
	TurnLatency metric.Float64Histogram

	// STTLatency, LLMLatency, and TTSLatency measure the modular
	// pipeline's per-stage latencies.
	STTLatency metric.Float64Histogram
	LLMLatency metric.Float64Histogram
	TTSLatency metric.Float64Histogram

	// ActiveCalls tracks the number of live call sessions.
	ActiveCalls metric.Int64UpDownCounter

	// TransportFramesDropped counts caller/agent audio frames dropped at
	// the transport layer (ingress overflow or stale-generation discard).
	TransportFramesDropped metric.Int64Counter

	// ToolInvocations counts tool dispatches. Attributes: tool, status.
	ToolInvocations metric.Int64Counter
}

// InitProvider installs a MeterProvider backed by a Prometheus exporter
// registered with the default Prometheus registerer, so promhttp's
// default handler serves everything recorded here. Returns a shutdown
// function to flush on exit.
func InitProvider() (shutdown func(context.Context) error, err error) {
	exp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// New creates the engine's instruments on mp. Tests pass a private
// MeterProvider to avoid cross-test pollution; main passes the global one
// installed by InitProvider.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)

	var err error
	met := &Metrics{}

	if met.TurnLatency, err = m.Float64Histogram("turn_latency",
		metric.WithDescription("Time from end of caller utterance to first agent-audio frame on the wire."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTLatency, err = m.Float64Histogram("stt_latency",
		metric.WithDescription("Speech-to-text transcription latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMLatency, err = m.Float64Histogram("llm_latency",
		metric.WithDescription("Language-model turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSLatency, err = m.Float64Histogram("tts_latency",
		metric.WithDescription("Text-to-speech synthesis latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveCalls, err = m.Int64UpDownCounter("active_calls",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}
	if met.TransportFramesDropped, err = m.Int64Counter("transport_frames_dropped",
		metric.WithDescription("Audio frames dropped at the transport layer."),
	); err != nil {
		return nil, err
	}
	if met.ToolInvocations, err = m.Int64Counter("tool_invocations",
		metric.WithDescription("Tool dispatches by tool name and status."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Nop returns a Metrics wired to a no-op provider, for tests and
// components constructed before InitProvider runs.
func Nop() *Metrics {
	met, _ := New(noop.NewMeterProvider())
	return met
}
