package queue

import "context"

// Msg is one queue message. Key selects the partition where the backend
// supports it.
type Msg struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

type QueuePublisher interface {
	// Publish sends a message. Implementations may block until delivery is
	// confirmed.
	Publish(ctx context.Context, message Msg) error

	// Close flushes in-flight messages and releases resources. Canceling ctx
	// may drop messages.
	Close(ctx context.Context)
}
