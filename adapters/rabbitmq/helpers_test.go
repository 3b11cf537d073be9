package rabbitmq_test

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/next-trace/scg-event-bus/adapters/rabbitmq"
	cbus "github.com/next-trace/scg-event-bus/contract/bus"
)

// fakeBroker stands in for a RabbitMQ server: one buffered delivery channel per queue.
type fakeBroker struct {
	mu         sync.Mutex
	queues     map[string]chan amqp.Delivery
	declared   []string
	published  []published
	sessions   []*fakeSession
	dialErr    error
	publishErr error
}

type published struct {
	queue string
	msg   amqp.Publishing
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{queues: make(map[string]chan amqp.Delivery)}
}

func (b *fakeBroker) Dial(context.Context) (rabbitmq.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dialErr != nil {
		return nil, b.dialErr
	}

	s := &fakeSession{b: b, notify: make(chan *amqp.Error, 1)}
	b.sessions = append(b.sessions, s)

	return s, nil
}

func (b *fakeBroker) queue(name string) chan amqp.Delivery {
	q, ok := b.queues[name]
	if !ok {
		q = make(chan amqp.Delivery, 64)
		b.queues[name] = q
	}

	return q
}

// push delivers d on queue as if another producer had published it.
func (b *fakeBroker) push(queue string, d amqp.Delivery) {
	b.mu.Lock()
	q := b.queue(queue)
	b.mu.Unlock()

	q <- d
}

func (b *fakeBroker) dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.sessions)
}

func (b *fakeBroker) session(i int) *fakeSession {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.sessions[i]
}

func (b *fakeBroker) publishes() []published {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]published(nil), b.published...)
}

type fakeSession struct {
	b      *fakeBroker
	notify chan *amqp.Error

	mu     sync.Mutex
	closed bool
}

func (s *fakeSession) QueueDeclare(name string) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	s.b.declared = append(s.b.declared, name)
	s.b.queue(name)

	return nil
}

func (s *fakeSession) Publish(_ context.Context, queue string, msg amqp.Publishing) error {
	s.b.mu.Lock()
	if s.b.publishErr != nil {
		s.b.mu.Unlock()
		return s.b.publishErr
	}

	s.b.published = append(s.b.published, published{queue: queue, msg: msg})
	q := s.b.queue(queue)
	s.b.mu.Unlock()

	q <- amqp.Delivery{
		Headers:     msg.Headers,
		ContentType: msg.ContentType,
		MessageId:   msg.MessageId,
		Timestamp:   msg.Timestamp,
		Type:        msg.Type,
		RoutingKey:  queue,
		Body:        msg.Body,
	}

	return nil
}

func (s *fakeSession) Consume(queue string) (<-chan amqp.Delivery, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	return s.b.queue(queue), nil
}

func (s *fakeSession) NotifyClose() <-chan *amqp.Error { return s.notify }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
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
