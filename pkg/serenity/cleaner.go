package serenity

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionCleaner runs Client.Cleanup every cleanup.interval.
type SessionCleaner struct {
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	client   *Client
	interval time.Duration
	runs     int
	log      *logrus.Entry
}

func NewSessionCleaner(client *Client) *SessionCleaner {
	interval := client.Config().Cleanup.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &SessionCleaner{
		client:   client,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		log:      client.log.WithField("worker", "session-cleaner"),
	}
}

func (c *SessionCleaner) Name() string { return "session-cleaner" }

// Runs returns how many cleanups finished without error.
func (c *SessionCleaner) Runs() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runs
}

func (c *SessionCleaner) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx)
	c.log.WithField("interval", c.interval).Info("started")
	return nil
}

func (c *SessionCleaner) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopCh)
	<-c.doneCh
	c.log.Info("stopped")
	return nil
}

func (c *SessionCleaner) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *SessionCleaner) run(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.client.Cleanup(ctx); err != nil {
				c.log.WithError(err).Warn("cleanup failed")
				continue
			}
			c.mu.Lock()
			c.runs++
			c.mu.Unlock()
		}
	}
}
