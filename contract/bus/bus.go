package bus

import "context"

// EventBus is the non-generic surface of the service bus.
//
// Typed subscription and command helpers live in the servicebus package as generic functions;
// this interface is intended for consumers that want to depend only on contracts.
type EventBus interface {
	// SendCommand dispatches cmd to its single in-process handler and returns the handler result.
	SendCommand(ctx context.Context, cmd Command) (any, error)

	// Publish hands event to the transport channel named after it.
	// A nil error means the transport accepted the message, not that anyone processed it.
	Publish(ctx context.Context, event Event) error

	// SubscribeOf registers fn under the identity handler for events shaped like sample.
	SubscribeOf(sample Event, handler string, fn func(ctx context.Context, event any) error) error

	// Close stops every subscription and releases the transport.
	Close() error
}
