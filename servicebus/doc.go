/*
Package servicebus provides the event bus facade: in-process command dispatch, event publishing
through a pluggable Transport, and one receive loop per subscribed event name that maps inbound
messages back to typed handlers.
*/
package servicebus
