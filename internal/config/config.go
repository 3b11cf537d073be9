// Package config loads the event bus runtime configuration.
// Precedence: environment > YAML file > defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted by Config.Transport.
const (
	TransportMemory   = "memory"
	TransportRabbitMQ = "rabbitmq"
	TransportNATS     = "nats"
	TransportKafka    = "kafka"
	TransportRedis    = "redis"
)

var transports = []string{TransportMemory, TransportRabbitMQ, TransportNATS, TransportKafka, TransportRedis}

// ErrInvalid marks configuration rejected by Validate.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Transport string         `yaml:"transport"`
	Service   string         `yaml:"service"`
	Log       LogConfig      `yaml:"log"`
	RabbitMQ  RabbitMQConfig `yaml:"rabbitmq"`
	NATS      NATSConfig     `yaml:"nats"`
	Kafka     KafkaConfig    `yaml:"kafka"`
	Redis     RedisConfig    `yaml:"redis"`
	Memory    MemoryConfig   `yaml:"memory"`
	Metrics   MetricsConfig  `yaml:"metrics"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type RabbitMQConfig struct {
	URL             string        `yaml:"url"`
	ConnTimeout     time.Duration `yaml:"conn_timeout"`
	PoolConnections bool          `yaml:"pool_connections"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	ConnTimeout   time.Duration `yaml:"conn_timeout"`
	MaxReconnects int           `yaml:"max_reconnects"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	ClientID    string   `yaml:"client_id"`
	TopicPrefix string   `yaml:"topic_prefix"`
	Group       string   `yaml:"group"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type MemoryConfig struct {
	Buffer int `yaml:"buffer"`
}

type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint; empty disables it.
	Addr string `yaml:"addr"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		Transport: TransportMemory,
		Service:   "eventbus",
		Log:       LogConfig{Level: "info"},
		RabbitMQ:  RabbitMQConfig{ConnTimeout: 5 * time.Second},
		NATS:      NATSConfig{Name: "eventbus", ConnTimeout: 5 * time.Second, MaxReconnects: 60},
		Kafka:     KafkaConfig{ClientID: "eventbus"},
		Redis:     RedisConfig{KeyPrefix: "eventbus:"},
		Memory:    MemoryConfig{Buffer: 1024},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if any), then
// environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile decodes a YAML file onto cfg with strict parsing.
// Unknown fields cause an error to prevent misconfiguration.
func loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}

		return fmt.Errorf("strict config parse error: %w", err)
	}

	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	if !slices.Contains(transports, c.Transport) {
		errs = append(errs, fmt.Errorf("%w: transport %q (want one of %s)", ErrInvalid, c.Transport, strings.Join(transports, ", ")))
	}

	switch c.Transport {
	case TransportRabbitMQ:
		if c.RabbitMQ.URL == "" {
			errs = append(errs, fmt.Errorf("%w: rabbitmq.url is required", ErrInvalid))
		}
	case TransportNATS:
		if c.NATS.URL == "" {
			errs = append(errs, fmt.Errorf("%w: nats.url is required", ErrInvalid))
		}
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, fmt.Errorf("%w: kafka.brokers is required", ErrInvalid))
		}
	case TransportRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("%w: redis.addr is required", ErrInvalid))
		}
	}

	if c.Memory.Buffer < 0 {
		errs = append(errs, fmt.Errorf("%w: memory.buffer must not be negative", ErrInvalid))
	}

	if c.RabbitMQ.ConnTimeout < 0 || c.NATS.ConnTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: connection timeouts must not be negative", ErrInvalid))
	}

	return errors.Join(errs...)
}

// YAML renders the configuration with secrets masked.
func (c Config) YAML() ([]byte, error) {
	masked := c
	if masked.Redis.Password != "" {
		masked.Redis.Password = "***"
	}

	masked.RabbitMQ.URL = maskURL(masked.RabbitMQ.URL)
	masked.NATS.URL = maskURL(masked.NATS.URL)

	return yaml.Marshal(masked)
}
