package nats

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/internal/log"
)

// Envelope metadata travels as message headers; NATS has no native fields for it.
const (
	headerID          = "eventbus-id"
	headerName        = "eventbus-name"
	headerPublishedAt = "eventbus-published-at"
)

// Message is an inbound NATS message with flattened headers.
type Message struct {
	Subject string
	Data    []byte
	Headers map[string]string
}

// Client is a minimal NATS-like interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
	// Subscribe registers cb for subject. Callbacks of one subscription must run one at a time.
	Subscribe(subject string, cb func(Message)) (unsubscribe func() error, err error)
}

// Transport publishes each event on the subject named after it (optionally prefixed).
// Core NATS keeps no messages for absent subscribers, so delivery is at most once.
type Transport struct {
	client Client
	prefix string
	logger zerolog.Logger
	// closeConn releases a connection the transport opened itself.
	closeConn func()

	mu   sync.Mutex
	subs map[*subscription]struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

// Ensure Transport implements the contract.
var _ cbus.Transport = (*Transport)(nil)

// New creates a new NATS transport with the provided client.
func New(c Client) *Transport { return NewWithPrefix(c, "") }

// NewWithPrefix creates a transport whose subjects are prefix + event name.
func NewWithPrefix(c Client, prefix string) *Transport {
	return &Transport{
		client: c,
		prefix: prefix,
		logger: log.WithComponent("transport.nats"),
		subs:   make(map[*subscription]struct{}),
	}
}

func (t *Transport) subject(channel string) string { return t.prefix + channel }

func (t *Transport) ready(ctx context.Context, label, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if t.closed.Load() {
		return fmt.Errorf("nats %s %s: %w", label, name, berr.ErrBusClosed)
	}

	if t.client == nil {
		return fmt.Errorf("nats %s %s: %w", label, name, berr.ErrTransportNotConfigured)
	}

	return nil
}

func (t *Transport) Publish(ctx context.Context, env cbus.Envelope) error {
	if err := t.ready(ctx, "publish", env.Name); err != nil {
		return err
	}

	headers := make(map[string]string, len(env.Headers)+3)
	maps.Copy(headers, env.Headers)
	headers[headerID] = env.ID
	headers[headerName] = env.Name

	if !env.PublishedAt.IsZero() {
		headers[headerPublishedAt] = env.PublishedAt.UTC().Format(time.RFC3339Nano)
	}

	if err := t.client.Publish(t.subject(env.Name), env.Payload, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats publish %s: %w", env.Name, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (t *Transport) Subscribe(ctx context.Context, channel string, deliver cbus.DeliverFunc) (cbus.Subscription, error) {
	if err := t.ready(ctx, "subscribe", channel); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{t: t, channel: channel, cancel: cancel}

	unsubscribe, err := t.client.Subscribe(t.subject(channel), func(m Message) {
		if subCtx.Err() != nil {
			return
		}

		deliver(subCtx, toEnvelope(channel, m))
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("nats subscribe %s: %w", channel, err)
	}

	sub.unsubscribe = unsubscribe

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	t.logger.Debug().Str("subject", t.subject(channel)).Msg("subscribed")

	return sub, nil
}

// Close unsubscribes everything and releases an owned connection.
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

		if t.closeConn != nil {
			t.closeConn()
		}
	})

	return errors.Join(errs...)
}

type subscription struct {
	t           *Transport
	channel     string
	cancel      context.CancelFunc
	unsubscribe func() error
	once        sync.Once
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) Close() error {
	var err error

	s.once.Do(func() {
		s.cancel()

		if s.unsubscribe != nil {
			err = s.unsubscribe()
		}

		s.t.mu.Lock()
		delete(s.t.subs, s)
		s.t.mu.Unlock()
	})

	if err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", s.channel, err)
	}

	return nil
}

func toEnvelope(channel string, m Message) cbus.Envelope {
	headers := make(map[string]string, len(m.Headers))

	var env cbus.Envelope

	for k, v := range m.Headers {
		switch k {
		case headerID:
			env.ID = v
		case headerName:
			env.Name = v
		case headerPublishedAt:
			if at, err := time.Parse(time.RFC3339Nano, v); err == nil {
				env.PublishedAt = at
			}
		default:
			headers[k] = v
		}
	}

	if env.Name == "" {
		env.Name = channel
	}

	env.Payload = m.Data
	env.Headers = headers

	return env
}
