// Package memory builds a ready-to-use bus over the in-memory transport.
package memory

import (
	"github.com/next-trace/scg-event-bus/adapters/inmemory"
	"github.com/next-trace/scg-event-bus/servicebus"
)

// New constructs a bus backed by the in-memory transport and returns it along with a
// cleanup function that closes the bus and its transport.
func New(opts ...servicebus.BusOption) (*servicebus.Bus, func()) {
	return NewWithConfig(inmemory.Config{}, opts...)
}

// NewWithConfig is New with explicit transport settings.
func NewWithConfig(cfg inmemory.Config, opts ...servicebus.BusOption) (*servicebus.Bus, func()) {
	sb := servicebus.New(inmemory.NewWithConfig(cfg), opts...)
	cleanup := func() { _ = sb.Close() }

	return sb, cleanup
}
