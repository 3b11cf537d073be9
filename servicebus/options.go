package servicebus

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
)

// BusOption configures a Bus instance.
type BusOption func(*Bus)

// ProcessingErrorHook observes every failure inside a receive loop: undecodable payloads and
// handler errors or panics. It runs on the receive loop and must not block for long.
type ProcessingErrorHook func(ctx context.Context, eventName string, payload []byte, err error)

// WithCodec replaces the default JSON codec.
func WithCodec(c Codec) BusOption {
	return func(b *Bus) {
		if c != nil {
			b.codec = c
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// WithPropagator injects context (e.g. trace headers) into every published envelope.
func WithPropagator(p cbus.HeaderPropagator) BusOption {
	return func(b *Bus) { b.propagator = p }
}

// WithExtractor restores context from inbound envelope headers before handlers run.
func WithExtractor(e cbus.HeaderExtractor) BusOption {
	return func(b *Bus) { b.extractor = e }
}

// WithProcessingErrorHook replaces the default hook, which logs the failure.
func WithProcessingErrorHook(h ProcessingErrorHook) BusOption {
	return func(b *Bus) {
		if h != nil {
			b.onError = h
		}
	}
}

// WithCommandMiddleware registers global command middleware via an option.
func WithCommandMiddleware(mw ...CommandMiddleware) BusOption {
	return func(b *Bus) { b.cmdMW = append(b.cmdMW, mw...) }
}

// WithClock overrides the time source used for envelope timestamps.
func WithClock(now func() time.Time) BusOption {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}
