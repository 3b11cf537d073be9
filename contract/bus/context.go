package bus

import "context"

// Context is re-exported for convenience in handler signatures.
// It avoids importing context in user packages when referencing bus types.
type Context = context.Context

// HeaderPropagator abstracts injecting tracing context into envelope headers.
// Implementations may bridge to OpenTelemetry or any other propagation standard.
// Implementations must be safe for concurrent use.
type HeaderPropagator interface {
	Inject(ctx context.Context, headers map[string]string)
}

// HeaderExtractor restores context carried in envelope headers on the consuming side.
type HeaderExtractor interface {
	Extract(ctx context.Context, headers map[string]string) context.Context
}

// NopHeaderPropagator is a no-op implementation useful for tests or when tracing is disabled.
type NopHeaderPropagator struct{}

func (NopHeaderPropagator) Inject(ctx context.Context, headers map[string]string) {
	_ = ctx
	_ = headers
}

func (NopHeaderPropagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	_ = headers
	return ctx
}
