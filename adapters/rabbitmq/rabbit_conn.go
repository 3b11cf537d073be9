package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// Concrete AMQP dialer plus a shared publisher connection with auto-reconnect.

const defaultConnTimeout = 5 * time.Second

var errNotConnected = errors.New("rabbitmq not connected")

type Config struct {
	URL         string
	ConnTimeout time.Duration

	// PoolConnections shares one reconnecting connection between publishes.
	PoolConnections bool
}

type amqpDialer struct{ cfg Config }

func (d amqpDialer) Dial(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(d.cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-event-bus"},
		Dial:       amqp.DefaultDial(d.cfg.ConnTimeout),
	})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &amqpSession{conn: conn, ch: ch}, nil
}

type amqpSession struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (s *amqpSession) QueueDeclare(name string) error {
	_, err := s.ch.QueueDeclare(name, false, false, false, false, nil)
	return err
}

func (s *amqpSession) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	return s.ch.PublishWithContext(ctx, "", queue, false, false, msg)
}

func (s *amqpSession) Consume(queue string) (<-chan amqp.Delivery, error) {
	return s.ch.Consume(queue, "", true, false, false, false, nil)
}

func (s *amqpSession) NotifyClose() <-chan *amqp.Error {
	return s.conn.NotifyClose(make(chan *amqp.Error, 1))
}

func (s *amqpSession) Close() error {
	_ = s.ch.Close()

	if err := s.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}

	return nil
}

type reconnectingPublisher struct {
	dialer Dialer
	logger zerolog.Logger

	mu       sync.Mutex
	session  Session
	declared map[string]bool

	ready     chan struct{} // closed once the first session is up
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func newReconnectingPublisher(d Dialer, logger zerolog.Logger) *reconnectingPublisher {
	rp := &reconnectingPublisher{
		dialer:   d,
		logger:   logger,
		declared: make(map[string]bool),
		ready:    make(chan struct{}),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go rp.run()

	return rp
}

func (rp *reconnectingPublisher) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	select {
	case <-rp.ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-rp.closed:
		return errNotConnected
	}

	rp.mu.Lock()
	s := rp.session
	if s == nil {
		rp.mu.Unlock()
		return errNotConnected
	}

	if !rp.declared[queue] {
		if err := s.QueueDeclare(queue); err != nil {
			rp.mu.Unlock()
			return err
		}

		rp.declared[queue] = true
	}
	rp.mu.Unlock()

	return s.Publish(ctx, queue, msg)
}

func (rp *reconnectingPublisher) run() {
	defer close(rp.done)

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // non-crypto RNG is acceptable for backoff jitter

	for {
		select {
		case <-rp.closed:
			return
		default:
		}

		s, err := rp.dialer.Dial(context.Background())
		if err != nil {
			rp.logger.Warn().Err(err).Dur("backoff", backoff).Msg("publisher connect failed")

			// exponential backoff with jitter
			jitter := time.Duration(rng.Int63n(int64(backoff / 2)))
			sleep := min(backoff+jitter/2, maxBackoff)

			t := time.NewTimer(sleep)
			select {
			case <-rp.closed:
				t.Stop()
				return
			case <-t.C:
			}

			backoff = min(backoff*2, maxBackoff)

			continue
		}

		backoff = time.Second

		rp.mu.Lock()
		rp.session = s
		rp.declared = make(map[string]bool)
		rp.mu.Unlock()
		rp.readyOnce.Do(func() { close(rp.ready) })

		select {
		case <-rp.closed:
			rp.drop()
			return
		case amqpErr := <-s.NotifyClose():
			rp.logger.Warn().Interface("reason", amqpErr).Msg("publisher connection lost, reconnecting")
			rp.drop()
		}
	}
}

func (rp *reconnectingPublisher) drop() {
	rp.mu.Lock()
	s := rp.session
	rp.session = nil
	rp.mu.Unlock()

	if s != nil {
		_ = s.Close()
	}
}

func (rp *reconnectingPublisher) close() {
	rp.closeOnce.Do(func() { close(rp.closed) })
	<-rp.done
}

// NewWithAMQP returns a transport dialing the broker at cfg.URL.
func NewWithAMQP(cfg Config) (*Transport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrTransportNotConfigured)
	}

	if cfg.ConnTimeout <= 0 {
		cfg.ConnTimeout = defaultConnTimeout
	}

	return NewWithConfig(amqpDialer{cfg: cfg}, cfg), nil
}
