package bus

import (
	"context"
	"time"
)

// HeaderContentType carries the codec content type of the payload.
const HeaderContentType = "content-type"

// Envelope is the unit a Transport moves. Name doubles as channel name and routing key.
type Envelope struct {
	ID          string
	Name        string
	Payload     []byte
	Headers     map[string]string
	PublishedAt time.Time
}

// DeliverFunc receives envelopes from a subscription's receive loop.
// Transports call it serially per subscription and wait for it to return before
// reading the next message, which keeps per-channel order.
type DeliverFunc func(ctx context.Context, env Envelope)

// Subscription is a live receive loop bound to one channel.
type Subscription interface {
	Channel() string
	Close() error
}

// Transport abstracts the broker. Library users provide an implementation that maps to
// RabbitMQ/NATS/Kafka/Redis etc.
//
// Publish declares the channel named env.Name if needed (declaration is idempotent) and sends
// the envelope with env.Name as routing key. Subscribe declares the channel, starts a receive
// loop in the background and returns once the loop is consuming. The loop runs until ctx is done
// or the subscription is closed.
type Transport interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, channel string, deliver DeliverFunc) (Subscription, error)
	Close() error
}
