package serenity

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Worker is a background loop owned by a WorkerManager.
type Worker interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
}

// WorkerManager starts and stops a set of named workers together.
type WorkerManager struct {
	mu      sync.RWMutex
	workers map[string]Worker
}

func NewWorkerManager() *WorkerManager {
	return &WorkerManager{workers: make(map[string]Worker)}
}

// Add registers w unless a worker of the same name exists, and returns the
// registered one.
func (m *WorkerManager) Add(w Worker) Worker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.workers[w.Name()]; ok {
		return existing
	}
	m.workers[w.Name()] = w
	return w
}

func (m *WorkerManager) Get(name string) Worker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.workers[name]
}

func (m *WorkerManager) names() []string {
	names := make([]string, 0, len(m.workers))
	for name := range m.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll starts the workers in name order and stops at the first error.
func (m *WorkerManager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, name := range m.names() {
		if err := m.workers[name].Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every worker and joins their errors.
func (m *WorkerManager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, name := range m.names() {
		errs = append(errs, m.workers[name].Stop())
	}
	return errors.Join(errs...)
}

// Remove stops and forgets the named worker.
func (m *WorkerManager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[name]
	if !ok {
		return nil
	}
	if err := w.Stop(); err != nil {
		return err
	}
	delete(m.workers, name)
	return nil
}

func (m *WorkerManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}
