package servicebus

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/internal/metrics"
)

type commandFunc func(ctx context.Context, cmd any) (any, error)

// CommandMiddleware wraps command handler execution. Middlewares are executed in registration order.
type CommandMiddleware func(next func(ctx context.Context, cmd any) (any, error)) func(ctx context.Context, cmd any) (any, error)

// BindCommandOf registers a handler for a specific command type.
// Provide a zero value of the command type via sample.
func (b *Bus) BindCommandOf(sample cbus.Command, handler func(ctx context.Context, cmd any) (any, error)) error {
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()

	t := reflect.TypeOf(sample)
	if _, exists := b.cmd[t]; exists {
		return fmt.Errorf("bind command %T: %w", sample, berr.ErrHandlerExists)
	}

	b.cmd[t] = func(ctx context.Context, v any) (any, error) { return handler(ctx, v) }

	return nil
}

// BindCommand registers the single handler for command type C. Duplicate bindings are rejected.
func BindCommand[C cbus.Command, R any](b *Bus, h cbus.CommandHandler[C, R]) error {
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()

	t := reflect.TypeFor[C]()

	if _, exists := b.cmd[t]; exists {
		return fmt.Errorf("bind command %s: %w", t.String(), berr.ErrHandlerExists)
	}

	b.cmd[t] = func(ctx context.Context, v any) (any, error) {
		c, ok := v.(C)
		if !ok {
			return nil, fmt.Errorf("send %T: %w", v, berr.ErrHandlerTypeMismatch)
		}

		return h.Handle(ctx, c)
	}

	return nil
}

// SendCommand dispatches cmd synchronously to its handler and returns the result.
// Commands never touch the transport.
func (b *Bus) SendCommand(ctx context.Context, cmd cbus.Command) (any, error) {
	return b.dispatchWithMiddleware(ctx, cmd)
}

// SendCommand is the typed form of Bus.SendCommand.
func SendCommand[C cbus.Command, R any](ctx context.Context, b *Bus, cmd C) (R, error) {
	var zero R

	res, err := b.dispatchWithMiddleware(ctx, cmd)
	if err != nil {
		return zero, err
	}

	if res == nil {
		return zero, nil
	}

	r, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("send %T: result %T: %w", cmd, res, berr.ErrHandlerTypeMismatch)
	}

	return r, nil
}

// SendCommandWithMiddleware executes a command with additional per-call middleware.
func (b *Bus) SendCommandWithMiddleware(ctx context.Context, cmd cbus.Command, mws ...CommandMiddleware) (any, error) {
	return b.dispatchWithMiddleware(ctx, cmd, mws...)
}

func (b *Bus) dispatchWithMiddleware(ctx context.Context, cmd cbus.Command, mws ...CommandMiddleware) (any, error) {
	b.cmdMu.RLock()
	f, ok := b.cmd[reflect.TypeOf(cmd)]
	b.cmdMu.RUnlock()

	if !ok {
		err := fmt.Errorf("send %T: %w", cmd, berr.ErrHandlerNotFound)
		metrics.RecordCommand(cbus.NameOf(cmd), err)

		return nil, err
	}

	// Combine global and per-call middleware
	chain := make([]CommandMiddleware, 0, len(b.cmdMW)+len(mws))
	chain = append(chain, b.cmdMW...)
	chain = append(chain, mws...)

	// Build chain so the first registered middleware runs first
	final := f
	for i := len(chain) - 1; i >= 0; i-- {
		final = chain[i](final)
	}

	res, err := final(ctx, cmd)
	metrics.RecordCommand(cbus.NameOf(cmd), err)

	return res, err
}

// Chain executes commands in order and stops on the first error.
func (b *Bus) Chain(ctx context.Context, cmds ...cbus.Command) error {
	for _, c := range cmds {
		if _, err := b.dispatchWithMiddleware(ctx, c); err != nil {
			return err
		}
	}

	return nil
}

// BatchOptions controls Batch execution behavior.
// OnProgress is called after each command completes (success or failure) with done and total.
// OnError is called when a command returns an error with its index, the command value, and the error.
type BatchOptions struct {
	OnProgress func(done, total int)
	OnError    func(index int, cmd cbus.Command, err error)
}

// BatchOpt configures BatchOptions.
type BatchOpt func(*BatchOptions)

// WithBatchProgress sets the progress callback.
func WithBatchProgress(fn func(done, total int)) BatchOpt {
	return func(o *BatchOptions) { o.OnProgress = fn }
}

// WithBatchOnError sets the error callback.
func WithBatchOnError(fn func(index int, cmd cbus.Command, err error)) BatchOpt {
	return func(o *BatchOptions) { o.OnError = fn }
}

// Batch executes the provided commands sequentially.
// It respects context cancellation, reports progress, and aggregates errors.
func (b *Bus) Batch(ctx context.Context, cmds []cbus.Command, opts ...BatchOpt) error {
	var o BatchOptions
	for _, f := range opts {
		f(&o)
	}

	total := len(cmds)

	var errs []error

	for i, c := range cmds {
		if err := ctx.Err(); err != nil { // canceled or deadline exceeded
			return errors.Join(append(errs, err)...)
		}

		_, err := b.dispatchWithMiddleware(ctx, c)
		if err != nil {
			if o.OnError != nil {
				o.OnError(i, c, err)
			}

			errs = append(errs, err)
		}

		if o.OnProgress != nil {
			o.OnProgress(i+1, total)
		}
	}

	return errors.Join(errs...)
}
