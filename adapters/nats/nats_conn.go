package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// Concrete NATS connection-backed Client and constructor.

type Config struct {
	URL           string
	Name          string
	SubjectPrefix string
	ConnTimeout   time.Duration
	MaxReconnects int
}

type natsClient struct{ nc *nats.Conn }

func (c natsClient) Publish(subject string, data []byte, headers map[string]string) error {
	msg := &nats.Msg{Subject: subject, Data: data}

	if len(headers) > 0 {
		msg.Header = nats.Header{}
		for k, v := range headers {
			msg.Header.Set(k, v)
		}
	}

	if err := c.nc.PublishMsg(msg); err != nil {
		return err
	}

	return c.nc.Flush()
}

func (c natsClient) Subscribe(subject string, cb func(Message)) (func() error, error) {
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		headers := make(map[string]string, len(m.Header))
		for k := range m.Header {
			headers[k] = m.Header.Get(k)
		}

		cb(Message{Subject: m.Subject, Data: m.Data, Headers: headers})
	})
	if err != nil {
		return nil, err
	}

	// make sure the server knows about the interest before returning
	if err := c.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}

	return sub.Unsubscribe, nil
}

// NewWithNATS connects to cfg.URL and returns a Transport that owns the connection.
func NewWithNATS(cfg Config) (*Transport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: nats url required", berr.ErrTransportNotConfigured)
	}

	opts := []nats.Option{}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}

	t := NewWithPrefix(natsClient{nc: nc}, cfg.SubjectPrefix)
	t.closeConn = func() {
		if !nc.IsClosed() {
			_ = nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
			nc.Close()
		}
	}

	return t, nil
}
