package servicebus

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// typeID names t by import path so same-named types from different packages stay distinct.
func typeID(t reflect.Type) string {
	if t == nil {
		return ""
	}

	if t.Kind() == reflect.Pointer {
		return "*" + typeID(t.Elem())
	}

	if t.Name() == "" || t.PkgPath() == "" {
		return t.String()
	}

	return t.PkgPath() + "." + t.Name()
}

// Binding is one handler registered for an event name.
// Handler is the handler's type identity (import path qualified for typed handlers); Invoke builds a fresh handler and calls it.
type Binding struct {
	Handler string
	Invoke  func(ctx context.Context, event any) error
}

// EventType resolves an event name back to a concrete Go type.
// Decode must return the decoded event by value.
type EventType struct {
	// GoType is the import path qualified type name.
	GoType string
	Decode func(payload []byte) (any, error)
}

// Registry maps event names to their concrete type and to the ordered handlers bound to them.
//
// Registration and lookup may run concurrently: handler lists are replaced, never mutated
// in place, so a reader sees either the previous or the complete new list.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Binding
	types    map[string]EventType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string][]Binding),
		types:    make(map[string]EventType),
	}
}

// RegisterType records the concrete type behind eventName. Registering the same Go type again
// is a no-op; a different Go type under an existing name is rejected.
func (r *Registry) RegisterType(eventName string, t EventType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.types[eventName]; ok {
		if cur.GoType != t.GoType {
			return fmt.Errorf("register type %q as %s (already %s): %w", eventName, t.GoType, cur.GoType, berr.ErrEventTypeConflict)
		}

		return nil
	}

	r.types[eventName] = t

	return nil
}

// Register appends b to the handlers of eventName.
// The same handler identity may appear at most once per event name.
func (r *Registry) Register(eventName string, b Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.handlers[eventName]
	for _, existing := range cur {
		if existing.Handler == b.Handler {
			return &berr.DuplicateRegistrationError{Event: eventName, Handler: b.Handler}
		}
	}

	next := make([]Binding, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, b)
	r.handlers[eventName] = next

	return nil
}

// Lookup returns the handler identities bound to eventName in registration order.
// An unknown name yields an empty slice.
func (r *Registry) Lookup(eventName string) []string {
	bs := r.Bindings(eventName)

	out := make([]string, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.Handler)
	}

	return out
}

// Bindings returns the handlers bound to eventName. Callers must not modify the slice.
func (r *Registry) Bindings(eventName string) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.handlers[eventName]
}

// Type returns the concrete type registered for eventName.
func (r *Registry) Type(eventName string) (EventType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[eventName]

	return t, ok
}

// unregister removes one handler, and the type entry once no handler is left.
func (r *Registry) unregister(eventName, handler string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.handlers[eventName]
	next := make([]Binding, 0, len(cur))

	for _, b := range cur {
		if b.Handler != handler {
			next = append(next, b)
		}
	}

	if len(next) == 0 {
		delete(r.handlers, eventName)
		delete(r.types, eventName)

		return
	}

	r.handlers[eventName] = next
}
