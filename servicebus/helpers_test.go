package servicebus_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/next-trace/scg-event-bus/adapters/inmemory"
	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	"github.com/next-trace/scg-event-bus/servicebus"
)

type FundsTransferred struct {
	AccountID int
	Amount    float64
}

type AccountClosed struct{ AccountID int }

// ledger records what handlers saw, in the order they saw it.
type ledger struct {
	mu     sync.Mutex
	events []FundsTransferred
	calls  []string
}

func (l *ledger) add(handler string, e FundsTransferred) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, e)
	l.calls = append(l.calls, fmt.Sprintf("%s:%d", handler, e.AccountID))
}

func (l *ledger) snapshot() ([]FundsTransferred, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]FundsTransferred(nil), l.events...), append([]string(nil), l.calls...)
}

func (l *ledger) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.events)
}

type auditHandler struct{ l *ledger }

func (h auditHandler) Handle(_ context.Context, e FundsTransferred) error {
	h.l.add("audit", e)
	return nil
}

type notifyHandler struct{ l *ledger }

func (h notifyHandler) Handle(_ context.Context, e FundsTransferred) error {
	h.l.add("notify", e)
	return nil
}

type failingHandler struct{}

func (failingHandler) Handle(context.Context, FundsTransferred) error { return errBoom }

type panickingHandler struct{}

func (panickingHandler) Handle(context.Context, FundsTransferred) error { panic("kaboom") }

var errBoom = errors.New("boom")

// hookRecorder captures processing errors.
type hookRecorder struct {
	mu     sync.Mutex
	errs   []error
	events []string
}

func (h *hookRecorder) hook(_ context.Context, name string, _ []byte, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.errs = append(h.errs, err)
	h.events = append(h.events, name)
}

func (h *hookRecorder) snapshot() []error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]error(nil), h.errs...)
}

// captureTransport records publishes and delivers them synchronously to the subscribed loop.
type captureTransport struct {
	mu             sync.Mutex
	published      []cbus.Envelope
	deliver        map[string]cbus.DeliverFunc
	subscribeCalls int
	subscribeErr   error
	publishErr     error
	closed         bool
}

func newCapture() *captureTransport {
	return &captureTransport{deliver: make(map[string]cbus.DeliverFunc)}
}

func (c *captureTransport) Publish(ctx context.Context, env cbus.Envelope) error {
	c.mu.Lock()
	if c.publishErr != nil {
		c.mu.Unlock()
		return c.publishErr
	}

	c.published = append(c.published, env)
	d := c.deliver[env.Name]
	c.mu.Unlock()

	if d != nil {
		d(ctx, env)
	}

	return nil
}

func (c *captureTransport) Subscribe(_ context.Context, channel string, d cbus.DeliverFunc) (cbus.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscribeCalls++
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}

	c.deliver[channel] = d

	return captureSub{channel: channel}, nil
}

func (c *captureTransport) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	return nil
}

// inject hands env to the loop of channel as if the broker delivered it.
func (c *captureTransport) inject(t *testing.T, channel string, env cbus.Envelope) {
	t.Helper()

	c.mu.Lock()
	d := c.deliver[channel]
	c.mu.Unlock()

	if d == nil {
		t.Fatalf("no subscription on %s", channel)
	}

	d(t.Context(), env)
}

type captureSub struct{ channel string }

func (s captureSub) Channel() string { return s.channel }
func (captureSub) Close() error      { return nil }

func newMemoryBus(t *testing.T, opts ...servicebus.BusOption) (*servicebus.Bus, *inmemory.Transport) {
	t.Helper()

	tr := inmemory.New()
	b := servicebus.New(tr, opts...)
	t.Cleanup(func() { _ = b.Close() })

	return b, tr
}

func newCaptureBus(t *testing.T, opts ...servicebus.BusOption) (*servicebus.Bus, *captureTransport) {
	t.Helper()

	tr := newCapture()
	b := servicebus.New(tr, opts...)
	t.Cleanup(func() { _ = b.Close() })

	return b, tr
}
