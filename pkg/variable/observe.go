package variable

import "context"

// Extractor function types for the tracing boundary. They allow applications
// to feed trace-correlation data into resolution without coupling this
// package to a telemetry SDK.
type (
	// TraceIDExtractor returns the active trace identifier, if any. When a
	// resolution has no explicit or context-scoped targeting key, the trace
	// identifier keeps the resolved value stable for one traced operation.
	TraceIDExtractor func(ctx context.Context) string

	// TagsExtractor returns ambient propagation-tag key/value pairs merged
	// into the attribute map of every resolution.
	TagsExtractor func(ctx context.Context) map[string]string
)

// SpanHook opens an observability span around a whole resolution.
type SpanHook interface {
	Start(ctx context.Context, name string) (context.Context, Span)
}

// Span is the minimal span surface this package records to: settable
// attributes, a recorded (never propagated) error, and an end call.
type Span interface {
	SetAttr(key string, value any)
	RecordError(err error)
	End()
}

type noopSpanHook struct{}

func (noopSpanHook) Start(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) SetAttr(string, any) {}
func (noopSpan) RecordError(error)   {}
func (noopSpan) End()                {}
