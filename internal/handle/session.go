package handle

import (
	"context"
	"fmt"
	"time"

	"github.com/rzpsarthak13/serenity/internal/query"
	"github.com/rzpsarthak13/serenity/internal/storage"
	"github.com/rzpsarthak13/serenity/internal/value"
)

// KVPrefix is prepended to key-value entries stored in the session table.
const KVPrefix = "kvs:"

func seconds(t time.Time) int64 {
	return t.Unix()
}

// SetSession stores data under name for maxAge. The session mirror, when
// configured, follows the table once the row is written, or at commit when
// a transaction is open.
func (h *Handle) SetSession(ctx context.Context, name []byte, data any, maxAge time.Duration) bool {
	encoded, err := value.Encode(data)
	if err != nil {
		h.log.WithError(err).Error("failed to encode session")
		return false
	}

	q := query.New()
	q.Insert("__sessions").
		Fields("name", "mtime", "maxage", "data").
		Values(name, seconds(time.Now()), int64(maxAge/time.Second), encoded).
		OnConflictUpdate([]string{"name"}, "mtime", "maxage", "data")
	if h.Perform(ctx, q) == Failure {
		h.mirrorDelete(ctx, name)
		return false
	}
	h.mirrorWrite(ctx, mirrorOp{name: name, data: encoded, ttl: maxAge})
	return true
}

// GetSession reads a session, from the mirror when it has the entry.
func (h *Handle) GetSession(ctx context.Context, name []byte) any {
	if h.mirror != nil {
		data, err := h.mirror.Get(ctx, name)
		if err != nil {
			h.log.WithError(err).Warn("session mirror read failed")
		} else if data != nil {
			if v, err := value.Decode(data); err == nil {
				return v
			}
		}
	}

	q := query.New()
	q.Select(query.Name("data")).From("__sessions").
		Where().And(query.Name("name"), query.Equal, name)
	res := h.Select(ctx, q)
	if res.Rows() != 1 {
		return nil
	}
	v, err := value.Decode(res.ToBytes(0, 0))
	if err != nil {
		h.log.WithError(err).Error("failed to decode session")
		return nil
	}
	return v
}

// ClearSession removes a session. It succeeds only when exactly one row
// was removed.
func (h *Handle) ClearSession(ctx context.Context, name []byte) bool {
	q := query.New()
	q.Delete("__sessions").Where().And(query.Name("name"), query.Equal, name)
	n := h.Perform(ctx, q)
	if n == Failure {
		h.mirrorDelete(ctx, name)
		return false
	}
	h.mirrorWrite(ctx, mirrorOp{name: name})
	return n == 1
}

// mirrorWrite applies op now, or at commit inside a transaction.
func (h *Handle) mirrorWrite(ctx context.Context, op mirrorOp) {
	if h.mirror == nil {
		return
	}
	if h.status != StatusNone {
		h.mirrorOps = append(h.mirrorOps, op)
		return
	}
	h.applyMirror(ctx, op)
}

func (h *Handle) applyMirror(ctx context.Context, op mirrorOp) {
	if op.data == nil {
		h.mirrorDelete(ctx, op.name)
		return
	}
	if err := h.mirror.Set(ctx, op.name, op.data, op.ttl); err != nil {
		h.log.WithError(err).Warn("session mirror write failed")
	}
}

// mirrorDelete drops name from the mirror so reads fall back to the table.
func (h *Handle) mirrorDelete(ctx context.Context, name []byte) {
	if h.mirror == nil {
		return
	}
	if err := h.mirror.Delete(ctx, name); err != nil {
		h.log.WithError(err).Warn("session mirror delete failed")
	}
}

func (h *Handle) flushMirror(ctx context.Context) {
	pending := h.mirrorOps
	h.mirrorOps = nil
	for _, op := range pending {
		h.applyMirror(ctx, op)
	}
}

// dropMirror discards held writes and evicts their keys, since the mirror
// may hold a value written before the transaction began.
func (h *Handle) dropMirror(ctx context.Context) {
	pending := h.mirrorOps
	h.mirrorOps = nil
	for _, op := range pending {
		h.mirrorDelete(ctx, op.name)
	}
}

func kvKey(key string) []byte {
	return []byte(KVPrefix + key)
}

// SetData stores a key-value entry with a lifetime.
func (h *Handle) SetData(ctx context.Context, key string, data any, maxAge time.Duration) bool {
	return h.SetSession(ctx, kvKey(key), data, maxAge)
}

func (h *Handle) GetData(ctx context.Context, key string) any {
	return h.GetSession(ctx, kvKey(key))
}

func (h *Handle) ClearData(ctx context.Context, key string) bool {
	return h.ClearSession(ctx, kvKey(key))
}

// MakeSessionsCleanup drops expired sessions, deletes files of removed
// objects and trims old broadcasts.
func (h *Handle) MakeSessionsCleanup(ctx context.Context) {
	now := time.Now()

	res := h.run(ctx, fmt.Sprintf(`DELETE FROM __sessions WHERE ("mtime" + "maxage" + 10) < %d`, seconds(now)), nil, false)
	if res.IsSuccess() && h.observer != nil {
		h.observer.ObserveSessionsRemoved(res.Affected())
	}

	h.cleanupRemoved(ctx)

	q := query.New()
	q.Delete("__broadcasts").Where().And(query.Name("date"), query.LessThen, now.Add(-10*time.Second).UnixMicro())
	h.Perform(ctx, q)
}

func (h *Handle) cleanupRemoved(ctx context.Context) {
	q := query.New()
	q.Delete("__removed").Returning(query.Name("__oid"))
	res := h.Select(ctx, q)
	if res.Rows() == 0 {
		return
	}
	removed := make([]any, 0, res.Rows())
	for i := 0; i < res.Rows(); i++ {
		removed = append(removed, res.ToInteger(i, 0))
	}

	q = query.New()
	q.Select(query.Ref("obj", "__oid").As("id")).FromAs(storage.FilesScheme, "obj").
		Where().And(query.Ref("obj", "__oid"), query.In, removed)
	res = h.Select(ctx, q)
	if res.Rows() == 0 {
		return
	}

	var files storage.FileStore
	if h.registry != nil {
		files = h.registry.Files()
	}
	ids := make([]any, 0, res.Rows())
	for i := 0; i < res.Rows(); i++ {
		id := res.ToInteger(i, 0)
		if files != nil {
			files.RemoveFile(ctx, id)
		}
		ids = append(ids, id)
	}

	q = query.New()
	q.Delete(storage.FilesScheme).Where().And(query.Name("__oid"), query.In, ids)
	h.Perform(ctx, q)
}
