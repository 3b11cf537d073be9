// Package propagation carries OpenTelemetry context across the bus through envelope headers.
package propagation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
)

// Propagator injects outgoing and extracts incoming trace context.
// It satisfies both cbus.HeaderPropagator and cbus.HeaderExtractor.
type Propagator struct {
	tmp propagation.TextMapPropagator
}

var (
	_ cbus.HeaderPropagator = Propagator{}
	_ cbus.HeaderExtractor  = Propagator{}
)

// New uses tmp, or the globally registered propagator when tmp is nil.
func New(tmp propagation.TextMapPropagator) Propagator {
	return Propagator{tmp: tmp}
}

// Default returns the W3C trace context and baggage propagator.
func Default() Propagator {
	return New(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

func (p Propagator) get() propagation.TextMapPropagator {
	if p.tmp != nil {
		return p.tmp
	}

	return otel.GetTextMapPropagator()
}

func (p Propagator) Inject(ctx context.Context, headers map[string]string) {
	if headers == nil {
		return
	}

	p.get().Inject(ctx, propagation.MapCarrier(headers))
}

func (p Propagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	return p.get().Extract(ctx, propagation.MapCarrier(headers))
}
