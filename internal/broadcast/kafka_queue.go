package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/rzpsarthak13/serenity/internal/core"
)

// KafkaQueueConfig holds configuration for the Kafka queue.
type KafkaQueueConfig struct {
	Brokers         []string
	Topic           string
	GroupID         string
	BatchSize       int
	BatchTimeout    time.Duration
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	RequiredAcks    int // 0, 1 or -1 (all)
	MaxMessageBytes int
	MinBytes        int
	MaxBytes        int
	MaxWait         time.Duration
}

// KafkaQueue publishes broadcasts to a topic and consumes them through a
// consumer group.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
	topic  string
	read   time.Duration

	mu     sync.RWMutex
	closed bool
	size   int // approximate
	log    *logrus.Entry
}

// NewKafkaQueue creates the writer and reader. No connection is made until
// the first publish or receive.
func NewKafkaQueue(config KafkaQueueConfig) (*KafkaQueue, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("Kafka topic is required")
	}
	if config.GroupID == "" {
		config.GroupID = "serenity-broadcasts"
	}
	read := config.ReadTimeout
	if read <= 0 {
		read = 5 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		BatchBytes:   int64(config.MaxMessageBytes),
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		MaxAttempts:  3,
	}

	// A new group only sees broadcasts published after it joined.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		Topic:       config.Topic,
		GroupID:     config.GroupID,
		MinBytes:    config.MinBytes,
		MaxBytes:    config.MaxBytes,
		MaxWait:     config.MaxWait,
		StartOffset: kafka.LastOffset,
	})

	log := logrus.WithFields(logrus.Fields{"component": "broadcast", "queue": "kafka", "topic": config.Topic})
	log.WithFields(logrus.Fields{
		"brokers":  config.Brokers,
		"group_id": config.GroupID,
		"acks":     config.RequiredAcks,
	}).Info("kafka queue initialized")

	return &KafkaQueue{
		writer: writer,
		reader: reader,
		topic:  config.Topic,
		read:   read,
		log:    log,
	}, nil
}

func (q *KafkaQueue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// kafkaMessage keys the record by message id, so retries of one broadcast
// land on the same partition.
func kafkaMessage(msg *core.BroadcastMessage) (kafka.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := encode(msg)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(msg.ID),
		Value: data,
		Time:  msg.Timestamp,
		Headers: []kafka.Header{
			{Key: "seq", Value: []byte(strconv.FormatInt(msg.Seq, 10))},
		},
	}, nil
}

func (q *KafkaQueue) Publish(ctx context.Context, msg *core.BroadcastMessage) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	if err := validate(msg); err != nil {
		return err
	}
	m, err := kafkaMessage(msg)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := q.writer.WriteMessages(ctx, m); err != nil {
		q.log.WithError(err).WithField("seq", msg.Seq).Error("produce failed")
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	q.mu.Lock()
	q.size++
	q.mu.Unlock()
	q.log.WithFields(logrus.Fields{"seq": msg.Seq, "bytes": len(m.Value), "duration": time.Since(start)}).Debug("produced")
	return nil
}

// Receive reads until batchSize messages arrive or a read waits longer than
// the read timeout. Offsets are committed as messages are taken.
func (q *KafkaQueue) Receive(ctx context.Context, batchSize int) ([]*core.BroadcastMessage, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	msgs := make([]*core.BroadcastMessage, 0, batchSize)
	for len(msgs) < batchSize {
		readCtx, cancel := context.WithTimeout(ctx, q.read)
		m, err := q.reader.FetchMessage(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			q.log.WithError(err).Warn("fetch failed")
			return msgs, err
		}

		if err := q.reader.CommitMessages(ctx, m); err != nil {
			q.log.WithError(err).WithFields(logrus.Fields{"partition": m.Partition, "offset": m.Offset}).Warn("commit failed")
		}
		msg, err := decode(m.Value)
		if err != nil {
			q.log.WithError(err).WithField("offset", m.Offset).Warn("skipping malformed message")
			continue
		}
		msgs = append(msgs, msg)
	}

	if len(msgs) > 0 {
		q.mu.Lock()
		q.size = max(q.size-len(msgs), 0)
		q.mu.Unlock()
	}
	return msgs, nil
}

// Size is the number of messages this process published and has not yet
// received; Kafka exposes no exact queue length.
func (q *KafkaQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}

func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	werr := q.writer.Close()
	if werr != nil {
		q.log.WithError(werr).Error("failed to close writer")
	}
	if err := q.reader.Close(); err != nil {
		q.log.WithError(err).Error("failed to close reader")
		return err
	}
	return werr
}
