package bus

import (
	"reflect"
	"time"
)

// Command is a message addressed to exactly one in-process handler.
// Commands record their issuance time and never leave the process.
type Command interface {
	Timestamp() time.Time
}

// Event is a marker for messages broadcast to zero or more handlers, possibly across processes.
// Any JSON-encodable value can be an event; its name is resolved with NameOf.
type Event interface{}

// Named lets a message choose its own routing name instead of the Go type name.
// The method must be defined on the value receiver so a zero value reports the same name.
type Named interface {
	MessageType() string
}

// CommandBase carries the issuance timestamp. Embed it in concrete commands.
type CommandBase struct {
	IssuedAt time.Time
}

// NewCommandBase stamps the current time.
func NewCommandBase() CommandBase { return CommandBase{IssuedAt: time.Now()} }

// Timestamp reports when the command was issued.
func (c CommandBase) Timestamp() time.Time { return c.IssuedAt }

// NameOf returns the routing name of a message: MessageType() when implemented,
// otherwise the unqualified name of its concrete type (pointers are dereferenced).
// Nil pointers resolve to the same name as a value of their element type.
func NameOf(v any) string {
	// a typed nil pointer cannot run value-receiver methods; ask a fresh value instead
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		v = reflect.New(rv.Type().Elem()).Interface()
	}

	if n, ok := v.(Named); ok {
		return n.MessageType()
	}

	return TypeName(reflect.TypeOf(v))
}

// TypeName returns the unqualified name of t, dereferencing pointers.
// Unnamed types fall back to their string form.
func TypeName(t reflect.Type) string {
	if t == nil {
		return ""
	}

	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	name := t.Name()
	if name == "" {
		name = t.String()
	}

	return name
}
