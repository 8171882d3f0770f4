// Package broadcast fans messages read from the __broadcasts table out to
// local consumers through a queue backend.
package broadcast

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/rzpsarthak13/serenity/internal/core"
	"github.com/rzpsarthak13/serenity/internal/registry"
)

var (
	// ErrQueueClosed is returned when publishing to a closed queue.
	ErrQueueClosed = errors.New("broadcast queue is closed")

	// ErrQueueFull is returned by the memory queue when its buffer is full.
	ErrQueueFull = errors.New("broadcast queue is full")

	// ErrInvalidMessage is returned for nil or empty messages.
	ErrInvalidMessage = errors.New("invalid broadcast message")

	// ErrListOperationsNotSupported is returned when the redis queue is
	// built on a store without list operations.
	ErrListOperationsNotSupported = errors.New("KVStore does not support list operations")
)

// ListOperations are the Redis list commands the redis queue needs.
// *kvstore.RedisKVStore implements them.
type ListOperations interface {
	ListPush(ctx context.Context, key string, value []byte) error

	// ListPop returns nil when the list is empty.
	ListPop(ctx context.Context, key string) ([]byte, error)

	ListLength(ctx context.Context, key string) (int64, error)
}

func validate(msg *core.BroadcastMessage) error {
	if msg == nil || len(msg.Payload) == 0 {
		return ErrInvalidMessage
	}
	return nil
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoder: %v", err))
	}
	return em
}()

func encode(msg *core.BroadcastMessage) ([]byte, error) {
	data, err := encMode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode broadcast: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*core.BroadcastMessage, error) {
	var msg core.BroadcastMessage
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode broadcast: %w", err)
	}
	return &msg, nil
}

// NewQueue builds the queue selected by cfg.QueueType. ops is only used by
// the redis queue.
func NewQueue(cfg registry.InternalBroadcastConfig, ops ListOperations) (core.BroadcastQueue, error) {
	switch cfg.QueueType {
	case "", "memory":
		return NewMemoryQueue(cfg.QueueBufferSize), nil
	case "redis":
		if ops == nil {
			return nil, ErrListOperationsNotSupported
		}
		return NewRedisQueue(ops, cfg.RedisKey), nil
	case "kafka":
		k := cfg.KafkaConfig
		return NewKafkaQueue(KafkaQueueConfig{
			Brokers:         k.Brokers,
			Topic:           k.Topic,
			GroupID:         k.GroupID,
			BatchSize:       k.BatchSize,
			BatchTimeout:    k.BatchTimeout,
			WriteTimeout:    k.WriteTimeout,
			ReadTimeout:     k.ReadTimeout,
			RequiredAcks:    k.RequiredAcks,
			MaxMessageBytes: k.MaxMessageBytes,
			MinBytes:        k.MinBytes,
			MaxBytes:        k.MaxBytes,
			MaxWait:         k.MaxWait,
		})
	}
	return nil, fmt.Errorf("unsupported broadcast queue type: %s", cfg.QueueType)
}
