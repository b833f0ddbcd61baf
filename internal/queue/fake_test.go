package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/joseph-ayodele/docintake/internal/common"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// memBroker is an in-memory Broker that can be switched off to simulate an outage.
type memBroker struct {
	mu     sync.Mutex
	down   bool
	queues map[string][][]byte
	unack  int
}

func newMemBroker() *memBroker { return &memBroker{queues: map[string][][]byte{}} }

func (b *memBroker) setDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

func (b *memBroker) Publish(_ context.Context, queue string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errors.Join(common.ErrBrokerUnavailable, errors.New("connection refused"))
	}
	b.queues[queue] = append(b.queues[queue], body)
	return nil
}

func (b *memBroker) Get(_ context.Context, queue string) (*Message, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, false, errors.Join(common.ErrBrokerUnavailable, errors.New("connection refused"))
	}
	q := b.queues[queue]
	if len(q) == 0 {
		return nil, false, nil
	}
	body := q[0]
	b.queues[queue] = q[1:]
	b.unack++
	ack := func() error {
		b.mu.Lock()
		b.unack--
		b.mu.Unlock()
		return nil
	}
	nack := func(requeue bool) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.unack--
		if requeue {
			b.queues[queue] = append([][]byte{body}, b.queues[queue]...)
		}
		return nil
	}
	return NewMessage(body, ack, nack), true, nil
}

func (b *memBroker) Depth(_ context.Context, queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return 0, common.ErrBrokerUnavailable
	}
	return len(b.queues[queue]), nil
}

func (b *memBroker) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.down
}

func (b *memBroker) Close() error { return nil }
