package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/serenity/internal/core"
	"github.com/rzpsarthak13/serenity/internal/registry"
)

func msg(seq int64) *core.BroadcastMessage {
	return &core.BroadcastMessage{Seq: seq, Date: seq * 10, Payload: []byte{0xa0}}
}

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(2)

	require.NoError(t, q.Publish(ctx, msg(1)))
	require.NoError(t, q.Publish(ctx, msg(2)))
	assert.ErrorIs(t, q.Publish(ctx, msg(3)), ErrQueueFull)
	assert.ErrorIs(t, q.Publish(ctx, &core.BroadcastMessage{}), ErrInvalidMessage)
	assert.Equal(t, 2, q.Size())

	got, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.False(t, got[0].Timestamp.IsZero())

	got, err = q.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryQueueClose(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(4)
	require.NoError(t, q.Publish(ctx, msg(1)))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Publish(ctx, msg(2)), ErrQueueClosed)
	got, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

type fakeList struct {
	items [][]byte
	err   error
}

func (f *fakeList) ListPush(_ context.Context, _ string, v []byte) error {
	f.items = append(f.items, v)
	return nil
}

func (f *fakeList) ListPop(context.Context, string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.items) == 0 {
		return nil, nil
	}
	v := f.items[0]
	f.items = f.items[1:]
	return v, nil
}

func (f *fakeList) ListLength(context.Context, string) (int64, error) {
	return int64(len(f.items)), nil
}

func TestRedisQueue(t *testing.T) {
	ctx := context.Background()
	ops := &fakeList{}
	q := NewRedisQueue(ops, "")
	assert.Equal(t, "serenity:broadcasts", q.key)

	in := msg(7)
	in.ID = "abc"
	require.NoError(t, q.Publish(ctx, in))
	ops.items = append(ops.items, []byte("garbage"))
	require.NoError(t, q.Publish(ctx, msg(8)))
	assert.Equal(t, 3, q.Size())

	got, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "abc", got[0].ID)
	assert.Equal(t, int64(7), got[0].Seq)
	assert.Equal(t, int64(70), got[0].Date)
	assert.Equal(t, []byte{0xa0}, got[0].Payload)
	assert.Equal(t, int64(8), got[1].Seq)

	ops.err = errors.New("down")
	require.NoError(t, q.Publish(ctx, msg(9)))
	_, err = q.Receive(ctx, 10)
	assert.EqualError(t, err, "down")

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Publish(ctx, msg(10)), ErrQueueClosed)
	assert.Equal(t, 0, q.Size())
}

func TestKafkaMessage(t *testing.T) {
	in := msg(42)
	m, err := kafkaMessage(in)
	require.NoError(t, err)
	assert.NotEmpty(t, in.ID)
	assert.Equal(t, []byte(in.ID), m.Key)
	require.Len(t, m.Headers, 1)
	assert.Equal(t, "42", string(m.Headers[0].Value))

	out, err := decode(m.Value)
	require.NoError(t, err)
	assert.Equal(t, in.Seq, out.Seq)
	assert.True(t, in.Timestamp.Equal(out.Timestamp))
}

func TestNewQueue(t *testing.T) {
	cfg := registry.DefaultInternalConfig().Broadcast

	q, err := NewQueue(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	cfg.QueueType = "redis"
	_, err = NewQueue(cfg, nil)
	assert.ErrorIs(t, err, ErrListOperationsNotSupported)
	q, err = NewQueue(cfg, &fakeList{})
	require.NoError(t, err)
	assert.IsType(t, &RedisQueue{}, q)

	cfg.QueueType = "kafka"
	cfg.KafkaConfig.Brokers = nil
	_, err = NewQueue(cfg, nil)
	assert.ErrorContains(t, err, "broker")

	cfg.QueueType = "nats"
	_, err = NewQueue(cfg, nil)
	assert.Error(t, err)
}

func TestReceiveHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	q := NewMemoryQueue(1)
	got, err := q.Receive(ctx, 1)
	assert.Empty(t, got)
	if err != nil {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
}
