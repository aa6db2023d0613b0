// Package queue publishes relayer events to durable queues.
//
// QueuePublisher is the transport-neutral interface; KafkaPublisher is the
// Kafka implementation. Every publisher must be closed exactly once so that
// in-flight messages are flushed.
package queue
