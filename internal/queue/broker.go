// Package queue carries task and result messages between the submitter,
// workers and the result consumer, over RabbitMQ with an in-process fallback.
package queue

import (
	"context"
)

// Broker is a durable, named-queue message transport.
type Broker interface {
	Publish(ctx context.Context, queue string, body []byte) error
	// Get fetches one message without waiting; ok is false when the queue is empty.
	Get(ctx context.Context, queue string) (msg *Message, ok bool, err error)
	Depth(ctx context.Context, queue string) (int, error)
	Connected() bool
	Close() error
}

// Message is one fetched broker message awaiting acknowledgement.
type Message struct {
	Body []byte
	ack  func() error
	nack func(requeue bool) error
}

func NewMessage(body []byte, ack func() error, nack func(requeue bool) error) *Message {
	return &Message{Body: body, ack: ack, nack: nack}
}

func (m *Message) Ack() error {
	if m.ack == nil {
		return nil
	}
	return m.ack()
}

func (m *Message) Nack(requeue bool) error {
	if m.nack == nil {
		return nil
	}
	return m.nack(requeue)
}
