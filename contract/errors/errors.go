package errors

import "fmt"

// Error codes for the bus contracts. Keep stable; used across adapters and bus.
const (
	ErrCodeDuplicateRegistration = "servicebus.duplicate_registration"
	ErrCodeDeserialization       = "servicebus.deserialization_failed"
	ErrCodeHandlerExecution      = "servicebus.handler_execution_failed"
	ErrCodeHandlerExists         = "servicebus.handler_exists"
	ErrCodeHandlerNotFound       = "servicebus.handler_not_found"
	ErrCodeHandlerTypeMismatch   = "servicebus.handler_type_mismatch"
	ErrCodeEventTypeConflict     = "servicebus.event_type_conflict"
	ErrCodeTransportNotConfig    = "servicebus.transport_not_configured"
	ErrCodePublishFailed         = "servicebus.publish_failed"
	ErrCodeSubscribeFailed       = "servicebus.subscribe_failed"
	ErrCodeSerializationFailed   = "servicebus.serialization_failed"
	ErrCodeBusClosed             = "servicebus.closed"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrDuplicateRegistration  = Code(ErrCodeDuplicateRegistration)
	ErrDeserialization        = Code(ErrCodeDeserialization)
	ErrHandlerExecution       = Code(ErrCodeHandlerExecution)
	ErrHandlerExists          = Code(ErrCodeHandlerExists)
	ErrHandlerNotFound        = Code(ErrCodeHandlerNotFound)
	ErrHandlerTypeMismatch    = Code(ErrCodeHandlerTypeMismatch)
	ErrEventTypeConflict      = Code(ErrCodeEventTypeConflict)
	ErrTransportNotConfigured = Code(ErrCodeTransportNotConfig)
	ErrPublishFailed          = Code(ErrCodePublishFailed)
	ErrSubscribeFailed        = Code(ErrCodeSubscribeFailed)
	ErrSerializationFailed    = Code(ErrCodeSerializationFailed)
	ErrBusClosed              = Code(ErrCodeBusClosed)
)

// DuplicateRegistrationError reports a handler type registered twice for one event name.
// It matches ErrDuplicateRegistration with errors.Is.
type DuplicateRegistrationError struct {
	Event   string
	Handler string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("handler %s already registered for %q: %s", e.Handler, e.Event, ErrCodeDuplicateRegistration)
}

func (e *DuplicateRegistrationError) Is(target error) bool { return target == ErrDuplicateRegistration }

// HandlerError wraps a failure raised by one handler while processing one event.
// It matches ErrHandlerExecution and unwraps to the handler's own error.
type HandlerError struct {
	Event   string
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s for %q: %v", e.Handler, e.Event, e.Err)
}

func (e *HandlerError) Is(target error) bool { return target == ErrHandlerExecution }

func (e *HandlerError) Unwrap() error { return e.Err }
