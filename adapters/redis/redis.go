// Package redis provides a Redis transport: each event name is a list, publishers RPUSH and
// one BLPOP loop per subscription pops in FIFO order. Popped messages are gone, so delivery
// is at most once and several subscribers on one name compete for messages.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/internal/log"
)

const (
	defaultKeyPrefix = "eventbus:"
	// BLPOP timeouts below one second are rounded up by the server protocol.
	defaultBlock = time.Second
	retryBackoff = 200 * time.Millisecond
)

// Config holds Redis connection and key layout settings.
type Config struct {
	Addr      string // Redis server address (host:port)
	Username  string
	Password  string
	DB        int
	KeyPrefix string        // prepended to every event name (default "eventbus:")
	Block     time.Duration // BLPOP timeout per poll (default 1s)
}

// frame is the list element: the envelope with its payload kept as raw bytes.
type frame struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	Headers     map[string]string `json:"headers,omitempty"`
	PublishedAt int64             `json:"published_at,omitempty"`
	Payload     []byte            `json:"payload"`
}

// Transport is a go-redis backed implementation of cbus.Transport.
type Transport struct {
	client goredis.UniversalClient
	owned  bool
	prefix string
	block  time.Duration
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ cbus.Transport = (*Transport)(nil)

// New wraps an existing client. The caller keeps ownership of client.
func New(client goredis.UniversalClient, cfg Config) *Transport {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}

	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}

	return &Transport{
		client: client,
		prefix: cfg.KeyPrefix,
		block:  cfg.Block,
		logger: log.WithComponent("transport.redis"),
		subs:   make(map[*subscription]struct{}),
	}
}

// NewWithRedis connects to cfg.Addr and returns a Transport that owns the client.
func NewWithRedis(cfg Config) (*Transport, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis addr required", berr.ErrTransportNotConfigured)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	t := New(client, cfg)
	t.owned = true

	t.logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to Redis")

	return t, nil
}

func (t *Transport) key(channel string) string { return t.prefix + channel }

func (t *Transport) Publish(ctx context.Context, env cbus.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if t.closed.Load() {
		return fmt.Errorf("redis publish %s: %w", env.Name, berr.ErrBusClosed)
	}

	f := frame{ID: env.ID, Name: env.Name, Headers: env.Headers, Payload: env.Payload}
	if !env.PublishedAt.IsZero() {
		f.PublishedAt = env.PublishedAt.UnixNano()
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("redis publish %s encode: %w", env.Name, errors.Join(berr.ErrSerializationFailed, err))
	}

	if err := t.client.RPush(ctx, t.key(env.Name), data).Err(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("redis publish %s: %w", env.Name, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

// Subscribe starts a BLPOP loop on the channel's list.
func (t *Transport) Subscribe(ctx context.Context, channel string, deliver cbus.DeliverFunc) (cbus.Subscription, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, berr.ErrBusClosed)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{t: t, channel: channel, cancel: cancel, done: make(chan struct{})}

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	t.wg.Add(1)

	go t.pop(subCtx, sub, deliver)

	return sub, nil
}

func (t *Transport) pop(ctx context.Context, sub *subscription, deliver cbus.DeliverFunc) {
	defer t.wg.Done()
	defer close(sub.done)

	key := t.key(sub.channel)

	for {
		res, err := t.client.BLPop(ctx, t.block, key).Result()
		if ctx.Err() != nil {
			return
		}

		switch {
		case errors.Is(err, goredis.Nil):
			continue
		case err != nil:
			t.logger.Warn().Err(err).Str("key", key).Msg("blpop failed")

			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff):
			}

			continue
		}

		// BLPOP replies with [key, value]
		if len(res) != 2 {
			continue
		}

		env, err := decodeFrame(sub.channel, []byte(res[1]))
		if err != nil {
			// the frame is unreadable; hand the raw bytes on so the bus reports it
			t.logger.Warn().Err(err).Str("key", key).Msg("malformed frame")
		}

		deliver(ctx, env)
	}
}

func decodeFrame(channel string, data []byte) (cbus.Envelope, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return cbus.Envelope{Name: channel, Payload: data}, err
	}

	env := cbus.Envelope{ID: f.ID, Name: f.Name, Headers: f.Headers, Payload: f.Payload}
	if f.PublishedAt != 0 {
		env.PublishedAt = time.Unix(0, f.PublishedAt).UTC()
	}

	if env.Name == "" {
		env.Name = channel
	}

	return env, nil
}

// Pending reports how many messages wait on channel.
func (t *Transport) Pending(ctx context.Context, channel string) (int64, error) {
	return t.client.LLen(ctx, t.key(channel)).Result()
}

// Close stops every loop and closes the client when the transport owns it.
func (t *Transport) Close() error {
	var err error

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

		t.wg.Wait()

		if t.owned {
			err = t.client.Close()
		}
	})

	return err
}

type subscription struct {
	t       *Transport
	channel string
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) Channel() string { return s.channel }

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done

		s.t.mu.Lock()
		delete(s.t.subs, s)
		s.t.mu.Unlock()
	})

	return nil
}
