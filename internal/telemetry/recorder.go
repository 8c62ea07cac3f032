package telemetry

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/turbine/internal/telemetry"

// Histogram-shaped metric names; everything else records as a counter.
var histogramMetrics = map[string]bool{
	"effect_duration_ms": true,
	"coverage":           true,
	"confidence":         true,
}

// Recorder implements the span/metric/log port on an otel tracer and meter
// plus a zap logger. Span handles are opaque uuids so the functional core
// never sees otel types.
type Recorder struct {
	tracer oteltrace.Tracer
	meter  metric.Meter
	logger *zap.Logger

	mu         sync.Mutex
	spans      map[string]oteltrace.Span
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
}

// NewRecorder builds a recorder over the given telemetry instance.
func NewRecorder(t *Telemetry, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		tracer:     t.Tracer(instrumentationName),
		meter:      t.Meter(instrumentationName),
		logger:     logger,
		spans:      make(map[string]oteltrace.Span),
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// StartSpan opens a span and returns its opaque handle.
func (r *Recorder) StartSpan(name string, attrs map[string]string) string {
	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		otelAttrs = append(otelAttrs, attribute.String(k, v))
	}

	_, span := r.tracer.Start(context.Background(), name,
		oteltrace.WithAttributes(otelAttrs...))

	id := uuid.NewString()
	r.mu.Lock()
	r.spans[id] = span
	r.mu.Unlock()
	return id
}

// EndSpan closes the span behind the handle. Unknown handles, including
// handles already ended, are ignored.
func (r *Recorder) EndSpan(spanID, status, errMsg string) {
	r.mu.Lock()
	span, ok := r.spans[spanID]
	delete(r.spans, spanID)
	r.mu.Unlock()
	if !ok {
		return
	}

	if status == "error" {
		span.SetStatus(codes.Error, errMsg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// RecordMetric records one sample under the turbine namespace.
func (r *Recorder) RecordMetric(name string, value float64, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	opt := metric.WithAttributes(attrs...)
	qualified := "turbine." + name

	if histogramMetrics[name] {
		hist, err := r.histogram(qualified)
		if err != nil {
			r.logger.Warn("failed to create histogram", zap.String("name", name), zap.Error(err))
			return
		}
		hist.Record(context.Background(), value, opt)
		return
	}

	counter, err := r.counter(qualified)
	if err != nil {
		r.logger.Warn("failed to create counter", zap.String("name", name), zap.Error(err))
		return
	}
	counter.Add(context.Background(), value, opt)
}

// Log forwards a structured record to zap.
func (r *Recorder) Log(level, msg string, fields map[string]any) {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}

	switch level {
	case "debug":
		r.logger.Debug(msg, zapFields...)
	case "warn":
		r.logger.Warn(msg, zapFields...)
	case "error":
		r.logger.Error(msg, zapFields...)
	default:
		r.logger.Info(msg, zapFields...)
	}
}

func (r *Recorder) counter(name string) (metric.Float64Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if counter, ok := r.counters[name]; ok {
		return counter, nil
	}
	counter, err := r.meter.Float64Counter(name)
	if err != nil {
		return nil, err
	}
	r.counters[name] = counter
	return counter, nil
}

func (r *Recorder) histogram(name string) (metric.Float64Histogram, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hist, ok := r.histograms[name]; ok {
		return hist, nil
	}
	hist, err := r.meter.Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	r.histograms[name] = hist
	return hist, nil
}
