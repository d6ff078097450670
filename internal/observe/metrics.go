// Package observe provides the OpenTelemetry metrics of the caption pipeline.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping by [InitProvider]. Tests should use [NewMetrics] with a
// [sdkmetric.ManualReader] backed provider.
//
// Every Record method is safe to call on a nil *Metrics, so components can
// take an optional metrics handle without branching at each call site.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/ayusman/signcaption"

// Frame results recorded by RecordFrame.
const (
	FrameDetected = "detected"
	FrameEmpty    = "empty"
	FrameSkipped  = "skipped"
	FrameError    = "error"
)

// Transport outcomes recorded by RecordTransportFrame.
const (
	TransportSent    = "sent"
	TransportDropped = "dropped"
)

// Prediction outcomes recorded by RecordPrediction.
const (
	PredictionAccepted = "accepted"
	PredictionFiltered = "filtered"
)

// Metrics holds all metric instruments. The underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// Frames counts scheduler ticks by result (detected, empty, skipped, error).
	Frames metric.Int64Counter

	// HandsDetected counts hands returned by the detector.
	HandsDetected metric.Int64Counter

	// DetectorDuration tracks detector latency per frame.
	DetectorDuration metric.Float64Histogram

	// Gestures counts local classifier results by label.
	Gestures metric.Int64Counter

	// TransportFrames counts landmark frames handed to the transport by outcome.
	TransportFrames metric.Int64Counter

	// Predictions counts inbound tokens by outcome.
	Predictions metric.Int64Counter

	// CaptionAppends counts tokens accepted into the caption.
	CaptionAppends metric.Int64Counter

	// Connected is 1 while the transport is open.
	Connected metric.Int64UpDownCounter
}

// detectorBuckets are histogram boundaries (in seconds) sized for per-frame
// inference.
var detectorBuckets = []float64{
	0.002, 0.005, 0.01, 0.016, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Frames, err = m.Int64Counter("signcaption.frames",
		metric.WithDescription("Scheduler ticks by result."),
	); err != nil {
		return nil, err
	}
	if met.HandsDetected, err = m.Int64Counter("signcaption.hands",
		metric.WithDescription("Hands returned by the detector."),
	); err != nil {
		return nil, err
	}
	if met.DetectorDuration, err = m.Float64Histogram("signcaption.detector.duration",
		metric.WithDescription("Latency of hand landmark detection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(detectorBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Gestures, err = m.Int64Counter("signcaption.gestures",
		metric.WithDescription("Local gesture classifications by label."),
	); err != nil {
		return nil, err
	}
	if met.TransportFrames, err = m.Int64Counter("signcaption.transport.frames",
		metric.WithDescription("Landmark frames offered to the transport by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Predictions, err = m.Int64Counter("signcaption.predictions",
		metric.WithDescription("Inbound prediction tokens by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CaptionAppends, err = m.Int64Counter("signcaption.caption.appends",
		metric.WithDescription("Tokens appended to the caption."),
	); err != nil {
		return nil, err
	}
	if met.Connected, err = m.Int64UpDownCounter("signcaption.transport.connected",
		metric.WithDescription("1 while the predictor connection is open."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordFrame counts one scheduler tick with the given result.
func (m *Metrics) RecordFrame(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordDetection records detector latency and the number of hands found.
func (m *Metrics) RecordDetection(ctx context.Context, d time.Duration, hands int) {
	if m == nil {
		return
	}
	m.DetectorDuration.Record(ctx, d.Seconds())
	if hands > 0 {
		m.HandsDetected.Add(ctx, int64(hands))
	}
}

// RecordGesture counts a local classification. An empty label counts as "none".
func (m *Metrics) RecordGesture(ctx context.Context, label string) {
	if m == nil {
		return
	}
	if label == "" {
		label = "none"
	}
	m.Gestures.Add(ctx, 1, metric.WithAttributes(attribute.String("gesture", label)))
}

// RecordTransportFrame counts a landmark frame by outcome.
func (m *Metrics) RecordTransportFrame(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.TransportFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPrediction counts an inbound token by outcome.
func (m *Metrics) RecordPrediction(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Predictions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCaptionAppend counts a token accepted into the caption.
func (m *Metrics) RecordCaptionAppend(ctx context.Context) {
	if m == nil {
		return
	}
	m.CaptionAppends.Add(ctx, 1)
}

// SetConnected moves the connected gauge by one in the given direction.
func (m *Metrics) SetConnected(ctx context.Context, up bool) {
	if m == nil {
		return
	}
	if up {
		m.Connected.Add(ctx, 1)
	} else {
		m.Connected.Add(ctx, -1)
	}
}
