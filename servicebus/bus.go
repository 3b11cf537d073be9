package servicebus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/internal/log"
)

// SubscriptionState is the lifecycle of the receive loop for one event name.
type SubscriptionState int

const (
	Unsubscribed SubscriptionState = iota
	Subscribing
	Consuming
)

func (s SubscriptionState) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Consuming:
		return "consuming"
	default:
		return "unsubscribed"
	}
}

// Bus is the single entry point for commands and events.
// Commands are dispatched in-process; events travel through the configured Transport and are
// dispatched back to handlers by one receive loop per subscribed event name.
//
// Bus is concurrency-safe and contains no global state.
type Bus struct {
	registry *Registry

	cmdMu sync.RWMutex
	cmd   map[reflect.Type]commandFunc
	// global command middleware executed in registration order
	cmdMW []CommandMiddleware

	subMu sync.Mutex
	subs  map[string]*subscription

	transport  cbus.Transport
	codec      Codec
	propagator cbus.HeaderPropagator
	extractor  cbus.HeaderExtractor
	onError    ProcessingErrorHook
	now        func() time.Time
	logger     zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

type subscription struct {
	state SubscriptionState
	sub   cbus.Subscription
}

var _ cbus.EventBus = (*Bus)(nil)

// New constructs a Bus over transport. A nil transport still allows commands;
// Publish and Subscribe then fail with ErrTransportNotConfigured.
func New(transport cbus.Transport, opts ...BusOption) *Bus {
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		registry:  NewRegistry(),
		cmd:       make(map[reflect.Type]commandFunc),
		subs:      make(map[string]*subscription),
		transport: transport,
		codec:     JSONCodec{},
		now:       time.Now,
		logger:    log.WithComponent("servicebus"),
		ctx:       ctx,
		cancel:    cancel,
	}
	b.onError = b.logProcessingError

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Registry exposes the handler registry for inspection.
func (b *Bus) Registry() *Registry { return b.registry }

// Handlers returns the handler identities bound to eventName in dispatch order.
func (b *Bus) Handlers(eventName string) []string { return b.registry.Lookup(eventName) }

// SubscriptionState reports the receive-loop state for eventName.
func (b *Bus) SubscriptionState(eventName string) SubscriptionState {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	if s, ok := b.subs[eventName]; ok {
		return s.state
	}

	return Unsubscribed
}

// Subscribe binds handler type H to events of type E. A zero-value H is built for every
// inbound message, so H must work as its zero value (typically a struct with value receivers).
// Registering the same H twice for E fails with a DuplicateRegistrationError.
func Subscribe[E cbus.Event, H cbus.EventHandler[E]](b *Bus) error {
	return SubscribeWith[E, H](b, func() H {
		var h H
		return h
	})
}

// SubscribeWith is Subscribe with an explicit factory; newHandler runs once per inbound message.
func SubscribeWith[E cbus.Event, H cbus.EventHandler[E]](b *Bus, newHandler func() H) error {
	var zero E

	name := cbus.NameOf(zero)
	if name == "" {
		return fmt.Errorf("subscribe %s: event type has no name: %w", reflect.TypeFor[E](), berr.ErrSubscribeFailed)
	}

	et := EventType{
		GoType: typeID(reflect.TypeFor[E]()),
		Decode: func(payload []byte) (any, error) { return decodeAs[E](b.codec, payload) },
	}

	binding := Binding{
		Handler: typeID(reflect.TypeFor[H]()),
		Invoke: func(ctx context.Context, v any) error {
			e, ok := v.(E)
			if !ok {
				return fmt.Errorf("handle %s: %w", name, berr.ErrHandlerTypeMismatch)
			}

			return newHandler().Handle(ctx, e)
		},
	}

	return b.subscribe(name, et, binding)
}

// SubscribeOf registers an untyped handler for events shaped like sample.
// Inbound payloads are decoded into a new value of sample's type before fn is called.
func (b *Bus) SubscribeOf(sample cbus.Event, handler string, fn func(ctx context.Context, event any) error) error {
	t := reflect.TypeOf(sample)
	if t == nil || fn == nil || handler == "" {
		return fmt.Errorf("subscribe %T: sample, handler and fn are required: %w", sample, berr.ErrSubscribeFailed)
	}

	et := EventType{
		GoType: typeID(t),
		Decode: func(payload []byte) (any, error) {
			ptr := reflect.New(t)
			if err := b.codec.Unmarshal(payload, ptr.Interface()); err != nil {
				return nil, err
			}

			return ptr.Elem().Interface(), nil
		},
	}

	return b.subscribe(cbus.NameOf(sample), et, Binding{Handler: handler, Invoke: fn})
}

// subscribe registers first, then starts the receive loop when this is the first handler of
// the name. A loop that fails to start rolls the registration back.
func (b *Bus) subscribe(name string, et EventType, binding Binding) error {
	if b.closed.Load() {
		return fmt.Errorf("subscribe %s: %w", name, berr.ErrBusClosed)
	}

	b.subMu.Lock()
	defer b.subMu.Unlock()

	if err := b.registry.RegisterType(name, et); err != nil {
		return fmt.Errorf("subscribe %s: %w", name, err)
	}

	if err := b.registry.Register(name, binding); err != nil {
		return fmt.Errorf("subscribe %s: %w", name, err)
	}

	if _, ok := b.subs[name]; ok {
		return nil
	}

	if b.transport == nil {
		b.registry.unregister(name, binding.Handler)
		return fmt.Errorf("subscribe %s: %w", name, berr.ErrTransportNotConfigured)
	}

	s := &subscription{state: Subscribing}
	b.subs[name] = s

	sub, err := b.transport.Subscribe(b.ctx, name, b.deliver(name))
	if err != nil {
		delete(b.subs, name)
		b.registry.unregister(name, binding.Handler)

		return fmt.Errorf("subscribe %s: %w", name, errors.Join(berr.ErrSubscribeFailed, err))
	}

	s.sub = sub
	s.state = Consuming

	b.logger.Info().Str("event", name).Str("handler", binding.Handler).Msg("subscription consuming")

	return nil
}

// Close stops every receive loop, then closes the transport. Safe to call more than once.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.cancel()

		b.subMu.Lock()
		subs := b.subs
		b.subs = make(map[string]*subscription)
		b.subMu.Unlock()

		var errs []error

		for name, s := range subs {
			if s.sub == nil {
				continue
			}

			if err := s.sub.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close subscription %s: %w", name, err))
			}
		}

		if b.transport != nil {
			if err := b.transport.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close transport: %w", err))
			}
		}

		b.closeErr = errors.Join(errs...)
		b.logger.Debug().Int("subscriptions", len(subs)).Msg("bus closed")
	})

	return b.closeErr
}
