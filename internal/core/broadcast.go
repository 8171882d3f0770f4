package core

import (
	"context"
	"time"
)

// BroadcastMessage is one inter-process notification read from the
// __broadcasts table and fanned out to subscribers.
type BroadcastMessage struct {
	// ID identifies the message across queue backends (used as the Kafka key).
	ID string `json:"id"`

	// Seq is the monotonic id of the row in __broadcasts.
	Seq int64 `json:"seq"`

	// Date is the insertion time in microseconds.
	Date int64 `json:"date"`

	// Payload is the CBOR-encoded message body.
	Payload []byte `json:"payload"`

	// Timestamp is when the message entered the queue.
	Timestamp time.Time `json:"timestamp"`
}

// BroadcastQueue fans broadcast messages out to local consumers.
// Implementations exist for in-memory channels, Redis lists and Kafka.
type BroadcastQueue interface {
	// Publish adds a message to the queue.
	Publish(ctx context.Context, msg *BroadcastMessage) error

	// Receive retrieves up to batchSize messages. It returns an empty
	// slice when nothing is available.
	Receive(ctx context.Context, batchSize int) ([]*BroadcastMessage, error)

	// Size returns the (possibly approximate) number of queued messages.
	Size() int

	// Close closes the queue and releases resources.
	Close() error
}
