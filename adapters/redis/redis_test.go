package redis_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-event-bus/adapters/redis"
	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// setupMiniRedis starts a test server and a transport over a client the test owns.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client, *redis.Transport) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	tr := redis.New(client, redis.Config{KeyPrefix: "test:"})

	t.Cleanup(func() {
		_ = tr.Close()
		_ = client.Close()
	})

	return mr, client, tr
}

type recorder struct {
	mu   sync.Mutex
	envs []cbus.Envelope
}

func (r *recorder) deliver(_ context.Context, env cbus.Envelope) {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	r.mu.Unlock()
}

func (r *recorder) received() []cbus.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]cbus.Envelope(nil), r.envs...)
}

func TestRedis_PublishBeforeSubscribe_IsQueued(t *testing.T) {
	mr, _, tr := setupMiniRedis(t)

	at := time.Date(2026, 4, 5, 6, 7, 8, 9, time.UTC)
	for i := range 3 {
		require.NoError(t, tr.Publish(t.Context(), cbus.Envelope{
			ID:          fmt.Sprint(i),
			Name:        "FundsTransferred",
			Payload:     []byte(fmt.Sprintf(`{"AccountID":%d}`, i)),
			Headers:     map[string]string{cbus.HeaderContentType: "application/json"},
			PublishedAt: at,
		}))
	}

	n, err := tr.Pending(t.Context(), "FundsTransferred")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.True(t, mr.Exists("test:FundsTransferred"))

	rec := &recorder{}
	sub, err := tr.Subscribe(t.Context(), "FundsTransferred", rec.deliver)
	require.NoError(t, err)
	require.Equal(t, "FundsTransferred", sub.Channel())

	require.Eventually(t, func() bool { return len(rec.received()) == 3 }, 2*time.Second, 10*time.Millisecond)

	for i, env := range rec.received() {
		require.Equal(t, fmt.Sprint(i), env.ID)
		require.Equal(t, "FundsTransferred", env.Name)
		require.JSONEq(t, fmt.Sprintf(`{"AccountID":%d}`, i), string(env.Payload))
		require.Equal(t, "application/json", env.Headers[cbus.HeaderContentType])
		require.True(t, env.PublishedAt.Equal(at))
	}

	require.NoError(t, sub.Close())
}

func TestRedis_CompetingConsumers(t *testing.T) {
	_, _, tr := setupMiniRedis(t)

	a, b := &recorder{}, &recorder{}

	_, err := tr.Subscribe(t.Context(), "Evt", a.deliver)
	require.NoError(t, err)
	_, err = tr.Subscribe(t.Context(), "Evt", b.deliver)
	require.NoError(t, err)

	const total = 40
	for i := range total {
		require.NoError(t, tr.Publish(t.Context(), cbus.Envelope{ID: fmt.Sprint(i), Name: "Evt", Payload: []byte(`{}`)}))
	}

	require.Eventually(t, func() bool {
		return len(a.received())+len(b.received()) == total
	}, 2*time.Second, 10*time.Millisecond)

	seen := make(map[string]bool, total)
	for _, env := range append(a.received(), b.received()...) {
		require.False(t, seen[env.ID], "message %s delivered twice", env.ID)
		seen[env.ID] = true
	}
}

func TestRedis_MalformedFrameIsPassedOn(t *testing.T) {
	_, client, tr := setupMiniRedis(t)

	rec := &recorder{}
	_, err := tr.Subscribe(t.Context(), "Evt", rec.deliver)
	require.NoError(t, err)

	require.NoError(t, client.RPush(t.Context(), "test:Evt", "not a frame").Err())

	require.Eventually(t, func() bool { return len(rec.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "Evt", rec.received()[0].Name)
	require.Equal(t, "not a frame", string(rec.received()[0].Payload))
}

func TestRedis_Errors(t *testing.T) {
	t.Run("server gone", func(t *testing.T) {
		mr, _, tr := setupMiniRedis(t)
		mr.Close()

		err := tr.Publish(t.Context(), cbus.Envelope{Name: "Evt"})
		require.ErrorIs(t, err, berr.ErrPublishFailed)
	})

	t.Run("canceled context", func(t *testing.T) {
		_, _, tr := setupMiniRedis(t)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		require.ErrorIs(t, tr.Publish(ctx, cbus.Envelope{Name: "Evt"}), context.Canceled)
	})

	t.Run("closed transport", func(t *testing.T) {
		_, _, tr := setupMiniRedis(t)
		require.NoError(t, tr.Close())

		require.ErrorIs(t, tr.Publish(t.Context(), cbus.Envelope{Name: "Evt"}), berr.ErrBusClosed)

		_, err := tr.Subscribe(t.Context(), "Evt", func(context.Context, cbus.Envelope) {})
		require.ErrorIs(t, err, berr.ErrBusClosed)
	})
}

func TestNewWithRedis(t *testing.T) {
	_, err := redis.NewWithRedis(redis.Config{})
	require.ErrorIs(t, err, berr.ErrTransportNotConfigured)

	mr := miniredis.RunT(t)
	addr := mr.Addr()

	tr, err := redis.NewWithRedis(redis.Config{Addr: addr})
	require.NoError(t, err)
	require.NoError(t, tr.Publish(t.Context(), cbus.Envelope{Name: "Evt", Payload: []byte(`{}`)}))
	require.True(t, mr.Exists("eventbus:Evt"))
	require.NoError(t, tr.Close())

	mr.Close()

	_, err = redis.NewWithRedis(redis.Config{Addr: addr})
	require.Error(t, err)
}
