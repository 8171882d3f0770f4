package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/rzpsarthak13/serenity/internal/core"
)

// MemoryQueue is a buffered channel of messages for a single process.
type MemoryQueue struct {
	queue  chan *core.BroadcastMessage
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a queue holding up to bufferSize messages.
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &MemoryQueue{queue: make(chan *core.BroadcastMessage, bufferSize)}
}

// Publish never blocks; a full buffer yields ErrQueueFull.
func (q *MemoryQueue) Publish(ctx context.Context, msg *core.BroadcastMessage) error {
	if err := validate(msg); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	select {
	case q.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Receive drains up to batchSize messages without waiting.
func (q *MemoryQueue) Receive(ctx context.Context, batchSize int) ([]*core.BroadcastMessage, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	msgs := make([]*core.BroadcastMessage, 0, batchSize)
	for len(msgs) < batchSize {
		select {
		case msg, ok := <-q.queue:
			if !ok {
				return msgs, nil
			}
			msgs = append(msgs, msg)
		case <-ctx.Done():
			return msgs, ctx.Err()
		default:
			return msgs, nil
		}
	}
	return msgs, nil
}

func (q *MemoryQueue) Size() int {
	return len(q.queue)
}

// Close stops publishing. Buffered messages can still be received.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.queue)
	return nil
}
