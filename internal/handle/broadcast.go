package handle

import (
	"context"
	"time"

	"github.com/rzpsarthak13/serenity/internal/query"
	"github.com/rzpsarthak13/serenity/internal/value"
)

// Broadcast queues msg for other servers. Inside a transaction the message
// is held until commit and dropped on rollback.
func (h *Handle) Broadcast(ctx context.Context, msg []byte) {
	if len(msg) == 0 {
		return
	}
	date := time.Now().UnixMicro()
	if h.status != StatusNone {
		h.broadcasts = append(h.broadcasts, pendingBroadcast{date: date, msg: msg})
		return
	}
	q := query.New()
	q.Insert("__broadcasts").Fields("date", "msg").Values(date, msg)
	if h.Perform(ctx, q) != Failure {
		h.observeBroadcast("out", 1)
	}
}

// BroadcastValue encodes v and broadcasts it.
func (h *Handle) BroadcastValue(ctx context.Context, v any) {
	data, err := value.Encode(v)
	if err != nil {
		h.log.WithError(err).Error("failed to encode broadcast")
		return
	}
	h.Broadcast(ctx, data)
}

func (h *Handle) flushBroadcasts(ctx context.Context) {
	if len(h.broadcasts) == 0 {
		return
	}
	pending := h.broadcasts
	h.broadcasts = nil

	q := query.New()
	ins := q.Insert("__broadcasts").Fields("date", "msg")
	for _, b := range pending {
		ins.Values(b.date, b.msg)
	}
	if h.Perform(ctx, q) != Failure {
		h.observeBroadcast("out", len(pending))
	}
}

// ProcessBroadcasts reads messages newer than last in id order and hands
// them to fn.
// With last <= 0 it only returns the current sequence value, so a new
// listener starts from now. It returns the highest id seen.
func (h *Handle) ProcessBroadcasts(ctx context.Context, last int64, fn func(id, date int64, msg []byte)) int64 {
	if last <= 0 {
		q := query.New()
		q.Select(query.Name("last_value")).From("__broadcasts_id_seq")
		return h.SelectID(ctx, q)
	}

	q := query.New()
	sel := q.Select(query.Name("id"), query.Name("date"), query.Name("msg")).From("__broadcasts").
		Order(query.Ascending, query.Name("id"), query.NullsNone)
	sel.Where().And(query.Name("id"), query.GreatherThen, last)
	res := h.Select(ctx, q)

	maxID := last
	n := 0
	for i := 0; i < res.Rows(); i++ {
		if res.Fields() < 3 {
			break
		}
		msg := res.ToBytes(i, 2)
		if len(msg) == 0 {
			continue
		}
		id := res.ToInteger(i, 0)
		if id > maxID {
			maxID = id
		}
		n++
		if fn != nil {
			fn(id, res.ToInteger(i, 1), msg)
		}
	}
	if n > 0 {
		h.observeBroadcast("in", n)
	}
	return maxID
}

func (h *Handle) observeBroadcast(direction string, n int) {
	if h.observer != nil {
		h.observer.ObserveBroadcast(direction, n)
	}
}
