package servicebus

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/internal/metrics"
)

// Publish serializes event and hands it to the transport channel named after its type.
// Success means the transport accepted the message; nobody may be listening.
func (b *Bus) Publish(ctx context.Context, event cbus.Event) error {
	name := cbus.NameOf(event)
	err := b.publish(ctx, name, event)
	metrics.RecordPublish(name, err)

	return err
}

func (b *Bus) publish(ctx context.Context, name string, event cbus.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if b.closed.Load() {
		return fmt.Errorf("publish %s: %w", name, berr.ErrBusClosed)
	}

	if b.transport == nil {
		return fmt.Errorf("publish %s: %w", name, berr.ErrTransportNotConfigured)
	}

	if name == "" {
		return fmt.Errorf("publish %T: event has no type name: %w", event, berr.ErrSerializationFailed)
	}

	payload, err := b.codec.Marshal(event)
	if err != nil {
		return fmt.Errorf("publish %s serialize: %w", name, errors.Join(berr.ErrSerializationFailed, err))
	}

	headers := map[string]string{cbus.HeaderContentType: b.codec.ContentType()}
	if b.propagator != nil {
		b.propagator.Inject(ctx, headers)
	}

	env := cbus.Envelope{
		ID:          uuid.NewString(),
		Name:        name,
		Payload:     payload,
		Headers:     headers,
		PublishedAt: b.now().UTC(),
	}

	if err := b.transport.Publish(ctx, env); err != nil {
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		case errors.Is(err, berr.ErrPublishFailed):
			return fmt.Errorf("publish %s: %w", name, err)
		default:
			return fmt.Errorf("publish %s: %w", name, errors.Join(berr.ErrPublishFailed, err))
		}
	}

	return nil
}
