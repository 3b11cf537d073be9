// Package inmemory provides a process-local Transport backed by buffered Go channels.
// It mirrors broker queue semantics closely enough for tests, examples and single-process use:
// one FIFO queue per channel name, competing consumers, and no durability.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/internal/log"
	"github.com/next-trace/scg-event-bus/internal/metrics"
)

const defaultBuffer = 1024

// Config controls the in-memory transport.
type Config struct {
	// Buffer is the per-channel queue capacity (default 1024).
	Buffer int
}

// Transport is a thread-safe in-memory implementation of cbus.Transport.
type Transport struct {
	buffer int
	logger zerolog.Logger

	mu     sync.Mutex
	queues map[string]*queue

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type queue struct {
	ch        chan cbus.Envelope
	consumers atomic.Int32
}

// Ensure Transport implements the contract.
var _ cbus.Transport = (*Transport)(nil)

// New creates a new in-memory transport with default settings.
func New() *Transport { return NewWithConfig(Config{}) }

// NewWithConfig creates a new in-memory transport.
func NewWithConfig(cfg Config) *Transport {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}

	return &Transport{
		buffer: cfg.Buffer,
		logger: log.WithComponent("transport.inmemory"),
		queues: make(map[string]*queue),
		done:   make(chan struct{}),
	}
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// declare returns the queue for name, creating it on first use.
func (t *Transport) declare(name string) (*queue, error) {
	if t.isClosed() {
		return nil, fmt.Errorf("inmemory declare %q: %w", name, berr.ErrBusClosed)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	q, ok := t.queues[name]
	if !ok {
		q = &queue{ch: make(chan cbus.Envelope, t.buffer)}
		t.queues[name] = q
	}

	return q, nil
}

// Publish enqueues env on its channel. With nobody consuming and the queue full the message
// is dropped, like an unconsumed non-durable broker queue at its limit; otherwise Publish
// waits for room until ctx is done.
func (t *Transport) Publish(ctx context.Context, env cbus.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q, err := t.declare(env.Name)
	if err != nil {
		return fmt.Errorf("inmemory publish: %w", err)
	}

	select {
	case q.ch <- env:
		return nil
	default:
	}

	if q.consumers.Load() == 0 {
		metrics.RecordDrop(env.Name, metrics.ReasonOverflow)
		t.logger.Warn().Str("channel", env.Name).Int("buffer", t.buffer).Msg("queue full without consumers, message dropped")

		return nil
	}

	select {
	case q.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return fmt.Errorf("inmemory publish %q: %w", env.Name, berr.ErrPublishFailed)
	}
}

// Subscribe starts a receive loop on channel. Several subscriptions on one channel compete
// for messages.
func (t *Transport) Subscribe(ctx context.Context, channel string, deliver cbus.DeliverFunc) (cbus.Subscription, error) {
	q, err := t.declare(channel)
	if err != nil {
		return nil, fmt.Errorf("inmemory subscribe: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{channel: channel, cancel: cancel, done: make(chan struct{})}

	q.consumers.Add(1)
	t.wg.Add(1)

	go func() {
		defer t.wg.Done()
		defer close(s.done)
		defer q.consumers.Add(-1)

		for {
			select {
			case <-subCtx.Done():
				return
			case <-t.done:
				return
			case env := <-q.ch:
				deliver(subCtx, env)
			}
		}
	}()

	return s, nil
}

// Close stops every receive loop and waits for them to exit.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	t.wg.Wait()

	return nil
}

// Pending reports how many messages wait on channel.
func (t *Transport) Pending(channel string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if q, ok := t.queues[channel]; ok {
		return len(q.ch)
	}

	return 0
}

type subscription struct {
	channel string
	cancel  context.CancelFunc
	done    chan struct{}
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) Close() error {
	s.cancel()
	<-s.done

	return nil
}
