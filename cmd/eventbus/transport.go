package main

import (
	"fmt"

	"github.com/next-trace/scg-event-bus/adapters/inmemory"
	"github.com/next-trace/scg-event-bus/adapters/kafka"
	"github.com/next-trace/scg-event-bus/adapters/nats"
	"github.com/next-trace/scg-event-bus/adapters/rabbitmq"
	"github.com/next-trace/scg-event-bus/adapters/redis"
	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	"github.com/next-trace/scg-event-bus/internal/config"
	"github.com/next-trace/scg-event-bus/propagation"
	"github.com/next-trace/scg-event-bus/servicebus"
)

// openTransport connects the transport selected by cfg.Transport.
func openTransport(cfg config.Config) (cbus.Transport, error) {
	switch cfg.Transport {
	case config.TransportMemory:
		return inmemory.NewWithConfig(inmemory.Config{Buffer: cfg.Memory.Buffer}), nil
	case config.TransportRabbitMQ:
		return rabbitmq.NewWithAMQP(rabbitmq.Config{
			URL:             cfg.RabbitMQ.URL,
			ConnTimeout:     cfg.RabbitMQ.ConnTimeout,
			PoolConnections: cfg.RabbitMQ.PoolConnections,
		})
	case config.TransportNATS:
		return nats.NewWithNATS(nats.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			ConnTimeout:   cfg.NATS.ConnTimeout,
			MaxReconnects: cfg.NATS.MaxReconnects,
		})
	case config.TransportKafka:
		return kafka.NewWithKgo(kafka.Config{
			Brokers:     cfg.Kafka.Brokers,
			ClientID:    cfg.Kafka.ClientID,
			TopicPrefix: cfg.Kafka.TopicPrefix,
			Group:       cfg.Kafka.Group,
		})
	case config.TransportRedis:
		return redis.NewWithRedis(redis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// openBus wires a bus over the configured transport with trace propagation.
func (a *app) openBus() (*servicebus.Bus, error) {
	tr, err := openTransport(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s transport: %w", a.cfg.Transport, err)
	}

	p := propagation.Default()

	return servicebus.New(tr,
		servicebus.WithLogger(a.logger.With().Str("transport", a.cfg.Transport).Logger()),
		servicebus.WithPropagator(p),
		servicebus.WithExtractor(p),
	), nil
}
