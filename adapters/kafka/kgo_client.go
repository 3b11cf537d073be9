package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// Concrete franz-go based constructor, writer and reader wrappers.

type Config struct {
	Brokers     []string
	ClientID    string
	TopicPrefix string
	TLS         *tls.Config
	Acks        *kgo.Acks
	Idempotent  bool
	Compression kgo.CompressionCodec

	// Group joins readers to a consumer group so processes compete for records.
	// Empty means every subscriber sees every record.
	Group string
}

var errClientClosed = errors.New("kafka client closed")

func (cfg Config) baseOpts() []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	return opts
}

type kgoWriter struct{ cl *kgo.Client }

func (w kgoWriter) Write(ctx context.Context, rec Record) error {
	r := &kgo.Record{Topic: rec.Topic, Key: rec.Key, Value: rec.Value, Timestamp: rec.Timestamp}
	if len(rec.Headers) > 0 {
		r.Headers = make([]kgo.RecordHeader, 0, len(rec.Headers))
		for k, v := range rec.Headers {
			r.Headers = append(r.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return w.cl.ProduceSync(ctx, r).FirstErr()
}

type kgoReader struct{ cl *kgo.Client }

func (r kgoReader) Poll(ctx context.Context) ([]Record, error) {
	fetches := r.cl.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, errClientClosed
	}

	var errs []error
	fetches.EachError(func(topic string, partition int32, err error) {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			errs = append(errs, fmt.Errorf("fetch %s[%d]: %w", topic, partition, err))
		}
	})

	var out []Record
	fetches.EachRecord(func(rec *kgo.Record) {
		headers := make(map[string]string, len(rec.Headers))
		for _, h := range rec.Headers {
			headers[h.Key] = string(h.Value)
		}

		out = append(out, Record{
			Topic:     rec.Topic,
			Key:       rec.Key,
			Value:     rec.Value,
			Headers:   headers,
			Timestamp: rec.Timestamp.UTC(),
		})
	})

	return out, errors.Join(errs...)
}

func (r kgoReader) Close() { r.cl.Close() }

// NewWithKgo builds a franz-go backed Transport. The transport owns its clients and closes
// them on Close.
func NewWithKgo(cfg Config) (*Transport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers required", berr.ErrTransportNotConfigured)
	}

	opts := cfg.baseOpts()
	if !cfg.Idempotent {
		opts = append(opts, kgo.DisableIdempotentWrite())
	}

	if cfg.Compression != (kgo.CompressionCodec{}) {
		opts = append(opts, kgo.ProducerBatchCompression(cfg.Compression))
	}

	if cfg.Acks != nil {
		opts = append(opts, kgo.RequiredAcks(*cfg.Acks))
	}

	producer, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrTransportNotConfigured, err)
	}

	newReader := func(topic string) (Reader, error) {
		ropts := append(cfg.baseOpts(),
			kgo.ConsumeTopics(topic),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		)
		if cfg.Group != "" {
			ropts = append(ropts, kgo.ConsumerGroup(cfg.Group))
		}

		cl, err := kgo.NewClient(ropts...)
		if err != nil {
			return nil, fmt.Errorf("kafka reader init: %w", err)
		}

		return kgoReader{cl: cl}, nil
	}

	t := NewWithPrefix(kgoWriter{cl: producer}, newReader, cfg.TopicPrefix)
	t.closeConn = producer.Close

	return t, nil
}
