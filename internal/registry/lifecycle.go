package registry

import (
	"context"
	"sync"
)

// MigrationEvent describes a finished migration.
type MigrationEvent struct {
	Schemes    []string
	Statements int
	Applied    bool
	DryRun     bool
	LogPath    string
	Err        error
}

// LifecycleHook is called around schema migrations. Hooks run
// synchronously in registration order.
type LifecycleHook interface {
	// BeforeMigrate runs before the database is touched. An error aborts
	// the migration.
	BeforeMigrate(ctx context.Context, schemes []string) error

	// AfterMigrate runs once the migration transaction has finished,
	// whether or not it succeeded.
	AfterMigrate(ctx context.Context, event MigrationEvent) error
}

// LifecycleHookFunc adapts plain functions to LifecycleHook. Nil funcs are
// no-ops.
type LifecycleHookFunc struct {
	BeforeFunc func(ctx context.Context, schemes []string) error
	AfterFunc  func(ctx context.Context, event MigrationEvent) error
}

func (f LifecycleHookFunc) BeforeMigrate(ctx context.Context, schemes []string) error {
	if f.BeforeFunc != nil {
		return f.BeforeFunc(ctx, schemes)
	}
	return nil
}

func (f LifecycleHookFunc) AfterMigrate(ctx context.Context, event MigrationEvent) error {
	if f.AfterFunc != nil {
		return f.AfterFunc(ctx, event)
	}
	return nil
}

// LifecycleManager holds the registered migration hooks.
type LifecycleManager struct {
	mu    sync.RWMutex
	hooks []LifecycleHook
}

// NewLifecycleManager creates an empty lifecycle manager.
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{}
}

// RegisterHook appends hook.
func (lm *LifecycleManager) RegisterHook(hook LifecycleHook) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.hooks = append(lm.hooks, hook)
}

func (lm *LifecycleManager) snapshot() []LifecycleHook {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	hooks := make([]LifecycleHook, len(lm.hooks))
	copy(hooks, lm.hooks)
	return hooks
}

// ExecuteBeforeHooks runs every BeforeMigrate hook, stopping at the first
// error.
func (lm *LifecycleManager) ExecuteBeforeHooks(ctx context.Context, schemes []string) error {
	for _, hook := range lm.snapshot() {
		if err := hook.BeforeMigrate(ctx, schemes); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteAfterHooks runs every AfterMigrate hook, stopping at the first
// error.
func (lm *LifecycleManager) ExecuteAfterHooks(ctx context.Context, event MigrationEvent) error {
	for _, hook := range lm.snapshot() {
		if err := hook.AfterMigrate(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// HookCount returns the number of registered hooks.
func (lm *LifecycleManager) HookCount() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.hooks)
}
