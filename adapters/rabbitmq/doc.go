/*
Package rabbitmq provides a RabbitMQ transport for the event bus.
Each event name maps to a queue of the same name on the default exchange. Consumers use
auto-ack, so delivery is at most once. An optional shared publisher connection reconnects
with backoff when the broker drops it.
*/
package rabbitmq
