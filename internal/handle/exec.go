package handle

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rzpsarthak13/serenity/internal/core"
	"github.com/rzpsarthak13/serenity/internal/query"
)

func statementKind(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, " \t\n("); i > 0 {
		text = text[:i]
	}
	return strings.ToLower(text)
}

// run executes text. A transaction in rollback state short-circuits every
// statement, and a failed statement inside a transaction poisons it.
func (h *Handle) run(ctx context.Context, text string, args []any, rows bool) *core.Result {
	if h.status == StatusRollback {
		h.log.WithField("kind", statementKind(text)).Debug("statement skipped in failed transaction")
		return nil
	}

	start := time.Now()
	var res *core.Result
	if rows {
		res = h.conn.Query(ctx, text, args...)
	} else {
		res = h.conn.Exec(ctx, text, args...)
	}
	if h.observer != nil {
		h.observer.ObserveQuery(statementKind(text), res.IsSuccess(), time.Since(start))
	}

	if !res.IsSuccess() {
		info := res.Info()
		h.lastError = info
		h.log.WithFields(logrus.Fields{
			"code":   info.Error,
			"status": info.Status,
			"desc":   info.Desc,
		}).Error("statement failed")
		if h.status == StatusCommit {
			h.status = StatusRollback
		}
	}
	return res
}

// Select runs a row-producing query.
func (h *Handle) Select(ctx context.Context, q *query.Query) *core.Result {
	text, args := q.Build()
	return h.run(ctx, text, args, true)
}

// Perform runs q and returns the affected row count, or Failure.
func (h *Handle) Perform(ctx context.Context, q *query.Query) uint64 {
	text, args := q.Build()
	res := h.run(ctx, text, args, false)
	if !res.IsSuccess() {
		return Failure
	}
	return uint64(res.Affected())
}

// PerformSimpleQuery runs statement text without parameters. The text may
// contain several statements.
func (h *Handle) PerformSimpleQuery(ctx context.Context, text string) bool {
	return h.run(ctx, text, nil, false).IsSuccess()
}

// PerformSimpleSelect runs a parameterless query and hands the result to fn.
func (h *Handle) PerformSimpleSelect(ctx context.Context, text string, fn func(res *core.Result)) bool {
	res := h.run(ctx, text, nil, true)
	if !res.IsSuccess() {
		return false
	}
	if fn != nil {
		fn(res)
	}
	return true
}

// SelectID returns the first column of the first row, or zero.
func (h *Handle) SelectID(ctx context.Context, q *query.Query) int64 {
	res := h.Select(ctx, q)
	if res.Rows() == 0 {
		return 0
	}
	return res.ToInteger(0, 0)
}
