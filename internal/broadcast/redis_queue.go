package broadcast

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rzpsarthak13/serenity/internal/core"
)

// RedisQueue keeps messages in one Redis list, so several processes can
// share a single fan-out queue.
type RedisQueue struct {
	ops    ListOperations
	key    string
	closed atomic.Bool
	log    *logrus.Entry
}

// NewRedisQueue stores messages under key, "serenity:broadcasts" when empty.
func NewRedisQueue(ops ListOperations, key string) *RedisQueue {
	if key == "" {
		key = "serenity:broadcasts"
	}
	return &RedisQueue{
		ops: ops,
		key: key,
		log: logrus.WithFields(logrus.Fields{"component": "broadcast", "queue": "redis", "key": key}),
	}
}

func (q *RedisQueue) Publish(ctx context.Context, msg *core.BroadcastMessage) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	if err := validate(msg); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := encode(msg)
	if err != nil {
		return err
	}
	return q.ops.ListPush(ctx, q.key, data)
}

// Receive pops up to batchSize messages. Undecodable entries are logged
// and skipped.
func (q *RedisQueue) Receive(ctx context.Context, batchSize int) ([]*core.BroadcastMessage, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	msgs := make([]*core.BroadcastMessage, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		data, err := q.ops.ListPop(ctx, q.key)
		if err != nil {
			return msgs, err
		}
		if data == nil {
			break
		}
		msg, err := decode(data)
		if err != nil {
			q.log.WithError(err).Warn("skipping malformed message")
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (q *RedisQueue) Size() int {
	if q.closed.Load() {
		return 0
	}
	n, err := q.ops.ListLength(context.Background(), q.key)
	if err != nil {
		return 0
	}
	return int(n)
}

// Close marks the queue closed; the list and its connection stay with
// the owning store.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}
