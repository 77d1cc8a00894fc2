package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryQueue implements OperationQueue using in-memory storage. Delays are
// honored with real timers so the worker's delayed re-enqueue behavior can
// be exercised in tests with shrunk waits.
type MemoryQueue struct {
	mu       sync.Mutex
	messages []memoryMessage
	inflight map[string]string // receipt handle -> body
	nextID   int
}

type memoryMessage struct {
	body      string
	visibleAt time.Time
}

// NewMemoryQueue creates a new in-memory operation queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		inflight: make(map[string]string),
	}
}

// Enqueue sends an envelope, optionally delayed.
func (q *MemoryQueue) Enqueue(ctx context.Context, body string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.messages = append(q.messages, memoryMessage{
		body:      body,
		visibleAt: time.Now().Add(delay),
	})
	return nil
}

// Receive fetches visible messages, waiting up to waitSeconds for one to
// arrive or become visible.
func (q *MemoryQueue) Receive(ctx context.Context, max int, waitSeconds int) ([]Message, error) {
	deadline := time.Now().Add(time.Duration(waitSeconds) * time.Second)

	for {
		if msgs := q.takeVisible(max); len(msgs) > 0 {
			return msgs, nil
		}

		if time.Now().After(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) takeVisible(max int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var out []Message
	var keep []memoryMessage

	for _, m := range q.messages {
		if len(out) < max && !m.visibleAt.After(now) {
			q.nextID++
			handle := fmt.Sprintf("receipt-%d", q.nextID)
			q.inflight[handle] = m.body
			out = append(out, Message{Body: m.body, ReceiptHandle: handle})
			continue
		}
		keep = append(keep, m)
	}
	q.messages = keep

	return out
}

// Delete removes a processed message.
func (q *MemoryQueue) Delete(ctx context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inflight[receiptHandle]; !ok {
		return fmt.Errorf("unknown receipt handle %s", receiptHandle)
	}
	delete(q.inflight, receiptHandle)
	return nil
}

// Len reports messages waiting in the queue (visible or delayed).
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
