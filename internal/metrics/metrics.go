// Package metrics holds the Prometheus collectors of the event bus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop and error reasons used as label values.
const (
	ReasonUnroutable = "unroutable"
	ReasonOverflow   = "overflow"

	KindDeserialize = "deserialize"
	KindHandler     = "handler"
)

var (
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_events_published_total",
		Help: "Total number of events handed to the transport, by event and outcome",
	}, []string{"event", "outcome"})

	EventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_events_consumed_total",
		Help: "Total number of inbound events received by a subscription",
	}, []string{"event"})

	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_events_dropped_total",
		Help: "Total number of events dropped without dispatch, by event and reason",
	}, []string{"event", "reason"})

	ProcessingErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_processing_errors_total",
		Help: "Total number of inbound processing failures, by event and kind",
	}, []string{"event", "kind"})

	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eventbus_handler_duration_seconds",
		Help:    "Duration of a single event handler invocation",
		Buckets: prometheus.DefBuckets,
	}, []string{"event", "handler"})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_commands_total",
		Help: "Total number of dispatched commands, by command and outcome",
	}, []string{"command", "outcome"})
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// RecordPublish counts one publish attempt.
func RecordPublish(event string, err error) {
	EventsPublishedTotal.WithLabelValues(label(event), outcome(err)).Inc()
}

// RecordConsumed counts one inbound message.
func RecordConsumed(event string) {
	EventsConsumedTotal.WithLabelValues(label(event)).Inc()
}

// RecordDrop counts one dropped message with a concrete reason.
func RecordDrop(event, reason string) {
	EventsDroppedTotal.WithLabelValues(label(event), label(reason)).Inc()
}

// RecordProcessingError counts one processing failure.
func RecordProcessingError(event, kind string) {
	ProcessingErrorsTotal.WithLabelValues(label(event), label(kind)).Inc()
}

// ObserveHandler records how long a handler took.
func ObserveHandler(event, handler string, d time.Duration) {
	HandlerDuration.WithLabelValues(label(event), label(handler)).Observe(d.Seconds())
}

// RecordCommand counts one command dispatch.
func RecordCommand(command string, err error) {
	CommandsTotal.WithLabelValues(label(command), outcome(err)).Inc()
}
