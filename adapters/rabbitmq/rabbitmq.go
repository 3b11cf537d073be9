package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/internal/log"
)

// Session is one AMQP connection with an open channel.
type Session interface {
	// QueueDeclare declares a non-durable, non-exclusive, non-auto-delete queue.
	QueueDeclare(name string) error
	// Publish sends msg to queue through the default exchange.
	Publish(ctx context.Context, queue string, msg amqp.Publishing) error
	// Consume starts an auto-ack consumer on queue.
	Consume(queue string) (<-chan amqp.Delivery, error)
	// NotifyClose fires when the broker or the network drops the connection.
	NotifyClose() <-chan *amqp.Error
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Transport maps event channels onto RabbitMQ queues of the same name.
//
// Every Publish opens its own connection unless Config.PoolConnections is set, in which case
// a single reconnecting connection is shared. Every Subscribe holds a dedicated connection.
type Transport struct {
	dialer Dialer
	pool   *reconnectingPublisher
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ cbus.Transport = (*Transport)(nil)

// New creates a transport that dials through d.
func New(d Dialer) *Transport { return NewWithConfig(d, Config{}) }

// NewWithConfig creates a transport that dials through d; only cfg.PoolConnections is read.
func NewWithConfig(d Dialer, cfg Config) *Transport {
	t := &Transport{
		dialer: d,
		logger: log.WithComponent("transport.rabbitmq"),
		subs:   make(map[*subscription]struct{}),
	}

	if cfg.PoolConnections {
		t.pool = newReconnectingPublisher(d, t.logger)
	}

	return t
}

// Publish sends env to the queue named env.Name, declaring it first.
func (t *Transport) Publish(ctx context.Context, env cbus.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if t.closed.Load() {
		return fmt.Errorf("rabbitmq publish %s: %w", env.Name, berr.ErrBusClosed)
	}

	msg := toPublishing(env)

	var err error
	if t.pool != nil {
		err = t.pool.Publish(ctx, env.Name, msg)
	} else {
		err = t.publishOnce(ctx, env.Name, msg)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq publish %s: %w", env.Name, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (t *Transport) publishOnce(ctx context.Context, queue string, msg amqp.Publishing) error {
	s, err := t.dialer.Dial(ctx)
	if err != nil {
		return err
	}

	defer func() { _ = s.Close() }()

	if err := s.QueueDeclare(queue); err != nil {
		return err
	}

	return s.Publish(ctx, queue, msg)
}

// Subscribe declares channel as a queue and consumes it with auto-ack on a dedicated connection.
// Deliveries are handed to deliver one at a time.
func (t *Transport) Subscribe(ctx context.Context, channel string, deliver cbus.DeliverFunc) (cbus.Subscription, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("rabbitmq subscribe %s: %w", channel, berr.ErrBusClosed)
	}

	s, err := t.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq subscribe %s dial: %w", channel, err)
	}

	if err := s.QueueDeclare(channel); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("rabbitmq subscribe %s declare: %w", channel, err)
	}

	deliveries, err := s.Consume(channel)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("rabbitmq subscribe %s consume: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{t: t, channel: channel, session: s, cancel: cancel, done: make(chan struct{})}

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	t.wg.Add(1)

	go t.receive(subCtx, sub, deliveries, deliver)

	return sub, nil
}

func (t *Transport) receive(ctx context.Context, sub *subscription, deliveries <-chan amqp.Delivery, deliver cbus.DeliverFunc) {
	defer t.wg.Done()
	defer close(sub.done)

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() == nil {
					t.logger.Warn().Str("queue", sub.channel).Msg("delivery channel closed by broker")
				}

				return
			}

			deliver(ctx, fromDelivery(sub.channel, d))
		}
	}
}

// Close stops every consumer and the shared publisher connection.
func (t *Transport) Close() error {
	var errs []error

	t.closeOnce.Do(func() {
		t.closed.Store(true)

		t.mu.Lock()
		subs := make([]*subscription, 0, len(t.subs))
		for s := range t.subs {
			subs = append(subs, s)
		}
		t.mu.Unlock()

		for _, s := range subs {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		if t.pool != nil {
			t.pool.close()
		}

		t.wg.Wait()
	})

	return errors.Join(errs...)
}

type subscription struct {
	t       *Transport
	channel string
	session Session
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) Close() error {
	var err error

	s.once.Do(func() {
		s.cancel()
		err = s.session.Close()
		<-s.done

		s.t.mu.Lock()
		delete(s.t.subs, s)
		s.t.mu.Unlock()
	})

	if err != nil {
		return fmt.Errorf("rabbitmq close %s: %w", s.channel, err)
	}

	return nil
}

func toPublishing(env cbus.Envelope) amqp.Publishing {
	h := amqp.Table{}
	for k, v := range env.Headers {
		if k != cbus.HeaderContentType {
			h[k] = v
		}
	}

	return amqp.Publishing{
		ContentType:  env.Headers[cbus.HeaderContentType],
		DeliveryMode: amqp.Transient,
		MessageId:    env.ID,
		Timestamp:    env.PublishedAt,
		Type:         env.Name,
		Headers:      h,
		Body:         env.Payload,
	}
}

func fromDelivery(queue string, d amqp.Delivery) cbus.Envelope {
	headers := make(map[string]string, len(d.Headers)+1)
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		} else {
			headers[k] = fmt.Sprint(v)
		}
	}

	if d.ContentType != "" {
		headers[cbus.HeaderContentType] = d.ContentType
	}

	name := d.Type
	if name == "" {
		name = d.RoutingKey
	}

	if name == "" {
		name = queue
	}

	var at time.Time
	if !d.Timestamp.IsZero() {
		at = d.Timestamp.UTC()
	}

	return cbus.Envelope{
		ID:          d.MessageId,
		Name:        name,
		Payload:     d.Body,
		Headers:     headers,
		PublishedAt: at,
	}
}
