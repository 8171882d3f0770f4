package serenity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/serenity/internal/core"
	"github.com/rzpsarthak13/serenity/internal/registry"
)

// BroadcastPoller follows the __broadcasts table and republishes every new
// message on a local queue. Each poll uses its own handle so a failed
// statement never poisons the next iteration.
type BroadcastPoller struct {
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	client  *Client
	queue   core.BroadcastQueue
	cfg     registry.InternalBroadcastConfig
	limiter *rate.Limiter

	last atomic.Int64
	seq  atomic.Int64
	log  *logrus.Entry
}

// NewBroadcastPoller creates a poller publishing to queue. from is the last
// id already seen; zero or less starts at the current end of the table.
func NewBroadcastPoller(client *Client, queue core.BroadcastQueue, from int64) *BroadcastPoller {
	cfg := client.Config().Broadcast
	defaults := registry.DefaultInternalConfig().Broadcast
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.Rate <= 0 {
		cfg.Rate = defaults.Rate
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.RetryBackoffMax <= 0 {
		cfg.RetryBackoffMax = defaults.RetryBackoffMax
	}

	p := &BroadcastPoller{
		client:  client,
		queue:   queue,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.BatchSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		log:     client.log.WithField("worker", "broadcast-poller"),
	}
	p.last.Store(from)
	return p
}

// Name identifies the poller in a WorkerManager.
func (p *BroadcastPoller) Name() string { return "broadcast-poller" }

// Last returns the highest broadcast id published so far.
func (p *BroadcastPoller) Last() int64 { return p.last.Load() }

// PollOnce reads new messages and publishes them, returning how many were
// published. On a publish error the position stays at the last published
// message so the rest is picked up again.
func (p *BroadcastPoller) PollOnce(ctx context.Context) (int, error) {
	h, err := p.client.Handle(ctx)
	if err != nil {
		return 0, err
	}
	defer h.Close(ctx)

	type pending struct {
		id, date int64
		msg      []byte
	}
	var batch []pending
	last := p.last.Load()
	next := h.ProcessBroadcasts(ctx, last, func(id, date int64, msg []byte) {
		batch = append(batch, pending{id: id, date: date, msg: msg})
	})
	if info := h.LastError(); info.Error != "" {
		return 0, fmt.Errorf("poll broadcasts: %s", info.Desc)
	}
	if last <= 0 {
		p.last.Store(next)
		p.observe()
		return 0, nil
	}

	published := 0
	for _, b := range batch {
		if err := p.limiter.Wait(ctx); err != nil {
			return published, err
		}
		msg := &core.BroadcastMessage{
			ID:      uuid.NewString(),
			Seq:     p.seq.Add(1),
			Date:    b.date,
			Payload: b.msg,
		}
		if err := p.queue.Publish(ctx, msg); err != nil {
			p.observe()
			return published, fmt.Errorf("publish broadcast %d: %w", b.id, err)
		}
		p.last.Store(b.id)
		published++
	}
	if next > p.last.Load() {
		p.last.Store(next)
	}
	p.observe()
	return published, nil
}

func (p *BroadcastPoller) observe() {
	if c := p.client.Collector(); c != nil {
		c.ObserveQueue(p.queue.Size(), p.last.Load())
	}
}

// Start runs the poll loop in a goroutine until Stop or ctx is done.
func (p *BroadcastPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.run(ctx)
	p.log.WithFields(logrus.Fields{
		"interval": p.cfg.PollInterval,
		"rate":     p.cfg.Rate,
		"from":     p.last.Load(),
	}).Info("started")
	return nil
}

// Stop waits for the current poll to finish.
func (p *BroadcastPoller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.doneCh
	p.log.WithField("last", p.last.Load()).Info("stopped")
	return nil
}

func (p *BroadcastPoller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Wait blocks until the loop exits.
func (p *BroadcastPoller) Wait() {
	p.mu.RLock()
	done := p.doneCh
	p.mu.RUnlock()
	<-done
}

func (p *BroadcastPoller) run(ctx context.Context) {
	defer close(p.doneCh)

	retry := backoff.NewExponentialBackOff()
	retry.MaxInterval = p.cfg.RetryBackoffMax
	retry.MaxElapsedTime = 0

	wait := time.Duration(0)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		n, err := p.PollOnce(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		case err != nil:
			wait = retry.NextBackOff()
			p.log.WithError(err).WithField("retry_in", wait).Warn("poll failed")
		case n >= p.cfg.BatchSize:
			retry.Reset()
			wait = 0
		default:
			retry.Reset()
			wait = p.cfg.PollInterval
		}
	}
}
