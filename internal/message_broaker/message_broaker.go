package message_broaker

import "context"

// MessageBroker carries serialized jobs from producers to the queue sync worker.
type MessageBroker interface {
	Publish(ctx context.Context, queue string, message []byte) error
	Consume(ctx context.Context, queue string) (<-chan []byte, error)
	Close() error
}
