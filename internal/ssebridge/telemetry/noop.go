package telemetry

import "context"

type (
	NoopLogger  struct{}
	NoopMetrics struct{}
	NoopTracer  struct{}
	noopSpan    struct{}
)

func NewNoopLogger() Logger   { return NoopLogger{} }
func NewNoopMetrics() Metrics { return NoopMetrics{} }
func NewNoopTracer() Tracer   { return NoopTracer{} }

func (NoopLogger) Debug(context.Context, string, ...any) {}
func (NoopLogger) Info(context.Context, string, ...any)  {}
func (NoopLogger) Error(context.Context, string, ...any) {}

func (NoopMetrics) IncCounter(context.Context, string, ...string)            {}
func (NoopMetrics) RecordDuration(context.Context, string, float64, ...string) {}
func (NoopMetrics) SetGauge(context.Context, string, float64, ...string)     {}

func (NoopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (noopSpan) SetAttribute(string, any) {}
func (noopSpan) RecordError(error)        {}
func (noopSpan) End()                     {}
