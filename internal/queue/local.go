package queue

import "sync"

// LocalQueue is the in-process FIFO used while the broker is unreachable.
// Its contents do not survive a restart.
type LocalQueue struct {
	mu    sync.Mutex
	items [][]byte
}

func NewLocalQueue() *LocalQueue {
	return &LocalQueue{}
}

func (q *LocalQueue) Push(body []byte) {
	q.mu.Lock()
	q.items = append(q.items, body)
	q.mu.Unlock()
}

// Pop removes the oldest message without blocking.
func (q *LocalQueue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	body := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return body, true
}

func (q *LocalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
