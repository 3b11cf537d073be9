package bus

import "context"

// EventHandler handles events of type E.
// A fresh handler is obtained for every inbound message, so implementations should not keep
// state between calls.
type EventHandler[E Event] interface {
	Handle(ctx context.Context, e E) error
}

// CommandHandler handles commands of type C and returns a result of type R.
// Implementations must be safe for concurrent use by multiple goroutines.
type CommandHandler[C Command, R any] interface {
	Handle(ctx context.Context, c C) (R, error)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc[E Event] func(ctx context.Context, e E) error

// Handle calls f(ctx, e).
func (f EventHandlerFunc[E]) Handle(ctx context.Context, e E) error { return f(ctx, e) }

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc[C Command, R any] func(ctx context.Context, c C) (R, error)

// Handle calls f(ctx, c).
func (f CommandHandlerFunc[C, R]) Handle(ctx context.Context, c C) (R, error) { return f(ctx, c) }
