package handle

import (
	"context"
	"fmt"
	"time"

	"github.com/rzpsarthak13/serenity/internal/storage"
)

// BeginTransaction opens a transaction and publishes the current user and
// time to triggers through the serenity GUCs.
func (h *Handle) BeginTransaction(ctx context.Context, level Isolation) bool {
	if h.status != StatusNone {
		return false
	}
	if !h.PerformSimpleQuery(ctx, "BEGIN ISOLATION LEVEL "+level.String()) {
		return false
	}
	h.status = StatusCommit
	h.level = level

	user := storage.UserFromContext(ctx)
	if user == 0 {
		user = h.user
	}
	now := time.Now().UnixMicro()
	h.PerformSimpleQuery(ctx, fmt.Sprintf(`SET LOCAL serenity."user" = %d;SET LOCAL serenity."now" = %d;`, user, now))
	return true
}

// CancelTransaction marks the open transaction for rollback.
func (h *Handle) CancelTransaction() {
	if h.status == StatusCommit {
		h.status = StatusRollback
	}
}

// EndTransaction commits or rolls back the open transaction. Broadcasts
// and session mirror writes buffered inside it are applied only after a
// successful commit. It reports whether the transaction was committed.
func (h *Handle) EndTransaction(ctx context.Context) bool {
	switch h.status {
	case StatusCommit:
		h.status = StatusNone
		if h.PerformSimpleQuery(ctx, "COMMIT") {
			h.observeTransaction("commit")
			h.flushBroadcasts(ctx)
			h.flushMirror(ctx)
			return true
		}
		h.observeTransaction("failed")
		h.broadcasts = nil
		h.dropMirror(ctx)
	case StatusRollback:
		h.status = StatusNone
		h.PerformSimpleQuery(ctx, "ROLLBACK")
		h.observeTransaction("rollback")
		h.broadcasts = nil
		h.dropMirror(ctx)
	}
	return false
}

// PerformInTransaction runs fn in a read committed transaction. When one
// is already open fn joins it.
func (h *Handle) PerformInTransaction(ctx context.Context, fn func(ctx context.Context) bool) bool {
	return h.PerformInTransactionLevel(ctx, ReadCommitted, fn)
}

// PerformInTransactionLevel is PerformInTransaction with an explicit
// isolation level for a newly opened transaction.
func (h *Handle) PerformInTransactionLevel(ctx context.Context, level Isolation, fn func(ctx context.Context) bool) bool {
	if h.status != StatusNone {
		return fn(ctx) && h.status != StatusRollback
	}
	if !h.BeginTransaction(ctx, level) {
		return false
	}
	if !fn(ctx) {
		h.CancelTransaction()
	}
	return h.EndTransaction(ctx)
}

func (h *Handle) observeTransaction(outcome string) {
	if h.observer != nil {
		h.observer.ObserveTransaction(outcome)
	}
}
