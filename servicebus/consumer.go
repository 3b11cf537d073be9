package servicebus

import (
	"context"
	"errors"
	"fmt"
	"time"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/internal/metrics"
)

func (b *Bus) deliver(channel string) cbus.DeliverFunc {
	return func(ctx context.Context, env cbus.Envelope) { b.process(ctx, channel, env) }
}

// process dispatches one inbound envelope. Nothing escapes: unroutable messages are dropped,
// decode and handler failures go to the processing-error hook, and the loop moves on.
func (b *Bus) process(ctx context.Context, channel string, env cbus.Envelope) {
	name := env.Name
	if name == "" {
		name = channel
	}

	metrics.RecordConsumed(name)

	bindings := b.registry.Bindings(name)
	et, known := b.registry.Type(name)

	if len(bindings) == 0 || !known {
		metrics.RecordDrop(name, metrics.ReasonUnroutable)
		b.logger.Debug().Str("event", name).Str("id", env.ID).Msg("no handlers registered, message dropped")

		return
	}

	if b.extractor != nil && len(env.Headers) > 0 {
		ctx = b.extractor.Extract(ctx, env.Headers)
	}

	event, err := et.Decode(env.Payload)
	if err != nil {
		metrics.RecordProcessingError(name, metrics.KindDeserialize)
		b.report(ctx, name, env.Payload, fmt.Errorf("decode %s: %w", name, errors.Join(berr.ErrDeserialization, err)))

		return
	}

	// Handlers run one after another; a failing handler does not stop the rest.
	for _, binding := range bindings {
		if err := b.invoke(ctx, name, binding, event); err != nil {
			metrics.RecordProcessingError(name, metrics.KindHandler)
			b.report(ctx, name, env.Payload, &berr.HandlerError{Event: name, Handler: binding.Handler, Err: err})
		}
	}
}

func (b *Bus) invoke(ctx context.Context, name string, binding Binding, event any) (err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}

		metrics.ObserveHandler(name, binding.Handler, time.Since(start))
	}()

	return binding.Invoke(ctx, event)
}

// report hands err to the processing-error hook. A panicking hook is logged and swallowed
// so the receive loop survives it.
func (b *Bus) report(ctx context.Context, name string, payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				AnErr("cause", err).
				Str("event", name).
				Str("panic", fmt.Sprint(r)).
				Msg("processing error hook panicked")
		}
	}()

	b.onError(ctx, name, payload, err)
}

func (b *Bus) logProcessingError(_ context.Context, eventName string, payload []byte, err error) {
	b.logger.Error().
		Err(err).
		Str("event", eventName).
		Int("payload_bytes", len(payload)).
		Msg("event processing failed")
}
