package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/next-trace/scg-event-bus/internal/log"
)

// applyEnv overrides cfg with EVENTBUS_* variables.
func applyEnv(cfg *Config) {
	logger := log.WithComponent("config")

	cfg.Transport = parseString(logger, "EVENTBUS_TRANSPORT", cfg.Transport)
	cfg.Service = parseString(logger, "EVENTBUS_SERVICE", cfg.Service)
	cfg.Log.Level = parseString(logger, "EVENTBUS_LOG_LEVEL", cfg.Log.Level)

	cfg.RabbitMQ.URL = parseString(logger, "EVENTBUS_RABBITMQ_URL", cfg.RabbitMQ.URL)
	cfg.RabbitMQ.ConnTimeout = parseDuration(logger, "EVENTBUS_RABBITMQ_CONN_TIMEOUT", cfg.RabbitMQ.ConnTimeout)
	cfg.RabbitMQ.PoolConnections = parseBool(logger, "EVENTBUS_RABBITMQ_POOL", cfg.RabbitMQ.PoolConnections)

	cfg.NATS.URL = parseString(logger, "EVENTBUS_NATS_URL", cfg.NATS.URL)
	cfg.NATS.SubjectPrefix = parseString(logger, "EVENTBUS_NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)

	cfg.Kafka.Brokers = parseList(logger, "EVENTBUS_KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.Group = parseString(logger, "EVENTBUS_KAFKA_GROUP", cfg.Kafka.Group)
	cfg.Kafka.TopicPrefix = parseString(logger, "EVENTBUS_KAFKA_TOPIC_PREFIX", cfg.Kafka.TopicPrefix)

	cfg.Redis.Addr = parseString(logger, "EVENTBUS_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = parseString(logger, "EVENTBUS_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = parseInt(logger, "EVENTBUS_REDIS_DB", cfg.Redis.DB)

	cfg.Memory.Buffer = parseInt(logger, "EVENTBUS_MEMORY_BUFFER", cfg.Memory.Buffer)
	cfg.Metrics.Addr = parseString(logger, "EVENTBUS_METRICS_ADDR", cfg.Metrics.Addr)
}

func sensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "password") || strings.Contains(k, "token") || strings.HasSuffix(k, "_url")
}

// parseString reads key from the environment, logging where the value came from.
// An empty variable counts as unset.
func parseString(logger zerolog.Logger, key, current string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return current
	}

	if sensitive(key) {
		logger.Debug().Str("key", key).Str("source", "environment").Bool("sensitive", true).Msg("using environment variable")
	} else {
		logger.Debug().Str("key", key).Str("value", value).Str("source", "environment").Msg("using environment variable")
	}

	return value
}

func parseInt(logger zerolog.Logger, key string, current int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return current
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", value).Int("fallback", current).Msg("invalid integer in environment, ignoring")
		return current
	}

	logger.Debug().Str("key", key).Int("value", i).Str("source", "environment").Msg("using environment variable")

	return i
}

func parseBool(logger zerolog.Logger, key string, current bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return current
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", value).Bool("fallback", current).Msg("invalid boolean in environment, ignoring")
		return current
	}

	logger.Debug().Str("key", key).Bool("value", b).Str("source", "environment").Msg("using environment variable")

	return b
}

func parseDuration(logger zerolog.Logger, key string, current time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return current
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", value).Dur("fallback", current).Msg("invalid duration in environment, ignoring")
		return current
	}

	logger.Debug().Str("key", key).Dur("value", d).Str("source", "environment").Msg("using environment variable")

	return d
}

// parseList reads a comma-separated list; blank items are skipped.
func parseList(logger zerolog.Logger, key string, current []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return current
	}

	var out []string

	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	logger.Debug().Str("key", key).Strs("value", out).Str("source", "environment").Msg("using environment variable")

	return out
}

// maskURL hides the password of a connection URL.
func maskURL(raw string) string {
	if raw == "" {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}

	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}

	return u.String()
}
