package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/internal/log"
)

const (
	headerID   = "eventbus-id"
	headerName = "eventbus-name"

	pollBackoff = 100 * time.Millisecond
)

// Record is a Kafka record reduced to what the transport needs.
type Record struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Writer is a minimal Kafka-like writer interface.
// Users can adapt any client to this.
type Writer interface {
	Write(ctx context.Context, rec Record) error
}

// Reader polls one topic. Poll blocks until records arrive or ctx is done.
type Reader interface {
	Poll(ctx context.Context) ([]Record, error)
	Close()
}

// ReaderFactory opens a Reader positioned at the end of topic.
type ReaderFactory func(topic string) (Reader, error)

// Transport publishes each event to the topic named after it. Records are keyed by event name,
// so every event of one name lands on one partition and keeps its order.
type Transport struct {
	writer    Writer
	newReader ReaderFactory
	prefix    string
	logger    zerolog.Logger
	closeConn func()

	mu   sync.Mutex
	subs map[*subscription]struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

var _ cbus.Transport = (*Transport)(nil)

// New creates a Kafka transport over w and readers built by newReader.
func New(w Writer, newReader ReaderFactory) *Transport {
	return NewWithPrefix(w, newReader, "")
}

// NewWithPrefix creates a transport whose topics are prefix + event name.
func NewWithPrefix(w Writer, newReader ReaderFactory, prefix string) *Transport {
	return &Transport{
		writer:    w,
		newReader: newReader,
		prefix:    prefix,
		logger:    log.WithComponent("transport.kafka"),
		subs:      make(map[*subscription]struct{}),
	}
}

func (t *Transport) topic(channel string) string { return t.prefix + channel }

func (t *Transport) Publish(ctx context.Context, env cbus.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if t.closed.Load() {
		return fmt.Errorf("kafka publish %s: %w", env.Name, berr.ErrBusClosed)
	}

	if t.writer == nil {
		return fmt.Errorf("kafka publish %s: %w", env.Name, berr.ErrTransportNotConfigured)
	}

	headers := make(map[string]string, len(env.Headers)+2)
	for k, v := range env.Headers {
		headers[k] = v
	}

	headers[headerID] = env.ID
	headers[headerName] = env.Name

	rec := Record{
		Topic:     t.topic(env.Name),
		Key:       []byte(env.Name),
		Value:     env.Payload,
		Headers:   headers,
		Timestamp: env.PublishedAt,
	}

	if err := t.writer.Write(ctx, rec); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// separate return from preceding multi-line block (wsl)
		return fmt.Errorf("kafka publish %s write: %w", env.Name, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

// Subscribe starts a poll loop on the channel's topic; records are handed to deliver in
// partition order, one at a time.
func (t *Transport) Subscribe(ctx context.Context, channel string, deliver cbus.DeliverFunc) (cbus.Subscription, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("kafka subscribe %s: %w", channel, berr.ErrBusClosed)
	}

	if t.newReader == nil {
		return nil, fmt.Errorf("kafka subscribe %s: %w", channel, berr.ErrTransportNotConfigured)
	}

	r, err := t.newReader(t.topic(channel))
	if err != nil {
		return nil, fmt.Errorf("kafka subscribe %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{t: t, channel: channel, reader: r, cancel: cancel, done: make(chan struct{})}

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	go t.poll(subCtx, sub, deliver)

	return sub, nil
}

func (t *Transport) poll(ctx context.Context, sub *subscription, deliver cbus.DeliverFunc) {
	defer close(sub.done)

	for {
		recs, err := sub.reader.Poll(ctx)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			t.logger.Warn().Err(err).Str("topic", t.topic(sub.channel)).Msg("poll failed")

			select {
			case <-ctx.Done():
				return
			case <-time.After(pollBackoff):
			}

			continue
		}

		for _, rec := range recs {
			if ctx.Err() != nil {
				return
			}

			deliver(ctx, toEnvelope(sub.channel, rec))
		}
	}
}

// Close stops every poll loop and releases owned clients.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)

		t.mu.Lock()
		subs := make([]*subscription, 0, len(t.subs))
		for s := range t.subs {
			subs = append(subs, s)
		}
		t.mu.Unlock()

		for _, s := range subs {
			_ = s.Close()
		}

		if t.closeConn != nil {
			t.closeConn()
		}
	})

	return nil
}

type subscription struct {
	t       *Transport
	channel string
	reader  Reader
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.reader.Close()

		s.t.mu.Lock()
		delete(s.t.subs, s)
		s.t.mu.Unlock()
	})

	return nil
}

func toEnvelope(channel string, rec Record) cbus.Envelope {
	env := cbus.Envelope{
		Payload:     rec.Value,
		Headers:     make(map[string]string, len(rec.Headers)),
		PublishedAt: rec.Timestamp,
	}

	for k, v := range rec.Headers {
		switch k {
		case headerID:
			env.ID = v
		case headerName:
			env.Name = v
		default:
			env.Headers[k] = v
		}
	}

	if env.Name == "" {
		env.Name = string(rec.Key)
	}

	if env.Name == "" {
		env.Name = channel
	}

	return env
}
