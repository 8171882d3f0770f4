package handle

import (
	"context"

	"github.com/rzpsarthak13/serenity/internal/core"
	"github.com/rzpsarthak13/serenity/internal/query"
	"github.com/rzpsarthak13/serenity/internal/storage"
	"github.com/rzpsarthak13/serenity/internal/value"
)

// DeltaTable is the change log table of a delta scheme.
func DeltaTable(s *storage.Scheme) string {
	return "__delta_" + s.Name()
}

func (h *Handle) maxTime(ctx context.Context, table string, tag int64) int64 {
	q := query.New()
	sel := q.Select(query.Max(query.Ref("d", "time"), "")).FromAs(table, "d")
	if tag != 0 {
		sel.Where().And(query.Name("tag"), query.Equal, tag)
	}
	return h.SelectID(ctx, q)
}

// GetDeltaValue returns the time of the latest change of s, usable as a
// token for GetDeltaData.
func (h *Handle) GetDeltaValue(ctx context.Context, s *storage.Scheme) int64 {
	if !s.HasDelta() {
		return 0
	}
	return h.maxTime(ctx, DeltaTable(s), 0)
}

// GetViewDeltaValue returns the time of the latest change of the view of
// the owner object tag.
func (h *Handle) GetViewDeltaValue(ctx context.Context, s *storage.Scheme, view *storage.Field, tag int64) int64 {
	slot := view.ViewSlot()
	if slot == nil || !slot.Delta {
		return 0
	}
	return h.maxTime(ctx, viewDeltaTable(s, view), tag)
}

func historyRows(res *core.Result, tagged bool) []value.Dict {
	out := make([]value.Dict, 0, res.Rows())
	for i := 0; i < res.Rows(); i++ {
		d := value.Dict{}
		for j := 0; j < res.Fields(); j++ {
			switch name := res.FieldName(j); name {
			case "id":
			case "action":
				if !tagged {
					d[name] = DeltaAction(res.ToInteger(i, j)).String()
				}
			default:
				d[name] = res.ToInteger(i, j)
			}
		}
		out = append(out, d)
	}
	return out
}

// GetHistory lists change log entries of s newer than since, latest first.
func (h *Handle) GetHistory(ctx context.Context, s *storage.Scheme, since int64) []value.Dict {
	if !s.HasDelta() {
		return nil
	}
	q := query.New()
	q.Select().From(DeltaTable(s)).
		Order(query.Descending, query.Name("time"), query.NullsNone).
		Where().And(query.Name("time"), query.GreatherThen, since)
	return historyRows(h.Select(ctx, q), false)
}

// GetViewHistory lists change log entries of the view of tag newer than
// since.
func (h *Handle) GetViewHistory(ctx context.Context, s *storage.Scheme, view *storage.Field, tag, since int64) []value.Dict {
	slot := view.ViewSlot()
	if slot == nil || !slot.Delta {
		return nil
	}
	q := query.New()
	q.Select().From(viewDeltaTable(s, view)).
		Order(query.Descending, query.Name("time"), query.NullsNone).
		Where().
		And(query.Name("time"), query.GreatherThen, since).
		And(query.Name("tag"), query.Equal, tag)
	return historyRows(h.Select(ctx, q), true)
}

// GetDeltaData returns the objects of s changed since the token, each with
// a __delta dictionary holding the last action and its time. Deleted
// objects carry only __oid.
func (h *Handle) GetDeltaData(ctx context.Context, s *storage.Scheme, since int64, fields []string) []value.Dict {
	if !s.HasDelta() {
		return nil
	}
	d := query.New()
	d.Select(query.Max(query.Name("time"), "time"), query.Max(query.Name("action"), "action"), query.Name("object")).
		From(DeltaTable(s)).
		Group(query.Name("object")).
		Order(query.Descending, query.Name("time"), query.NullsNone).
		Where().And(query.Name("time"), query.GreatherThen, since)

	q := query.New()
	sel := q.With("d", d).Select(fieldRefs("t", readFields(s, fields))...)
	sel.Fields(
		query.Ref("d", "action").As("__d_action"),
		query.Ref("d", "time").As("__d_time"),
		query.Ref("d", "object").As("__d_object"),
	).FromAs(s.Name(), "t").RightJoinOn("d", func(w *query.Where) {
		w.And(query.Ref("d", "object"), query.Equal, query.Ref("t", "__oid"))
	})
	return decodeRows(s, h.Select(ctx, q), nil)
}

// GetViewDeltaData returns the members of the view of tag changed since
// the token. Members still in the view have action update and their view
// rows under __views; removed ones have action delete and only __oid.
func (h *Handle) GetViewDeltaData(ctx context.Context, s *storage.Scheme, view *storage.Field, tag, since int64, fields []string) []value.Dict {
	slot := view.ViewSlot()
	target := view.ForeignScheme()
	if slot == nil || !slot.Delta || target == nil {
		return nil
	}
	deltaName := viewDeltaTable(s, view)
	viewName := viewTable(s, view)

	d := query.New()
	d.Select(query.Max(query.Name("time"), "time"), query.Name("object"), query.Name("tag")).
		From(deltaName).
		Group(query.Name("object"), query.Name("tag")).
		Where().
		And(query.Name("tag"), query.Equal, tag).
		And(query.Name("time"), query.GreatherThen, since)

	dv := query.New()
	dv.With("d", d).
		Select(query.Ref("d", "time"), query.Ref("d", "object"), query.Name("__vid")).
		From(viewName).
		RightJoinOn("d", func(w *query.Where) {
			w.And(query.Ref("d", "tag"), query.Equal, query.Ref(viewName, idColumn(s))).
				And(query.Ref("d", "object"), query.Equal, query.Ref(viewName, idColumn(target)))
		})

	q := query.New()
	q.With("dv", dv).
		Select(fieldRefs("t", readFields(target, fields))...).
		Fields(
			query.Ref("dv", "time").As("__d_time"),
			query.Ref("dv", "object").As("__d_object"),
			query.Ref("dv", "__vid"),
		).
		FromAs(target.Name(), "t").
		RightJoinOn("dv", func(w *query.Where) {
			w.And(query.Ref("dv", "object"), query.Equal, query.Ref("t", "__oid"))
		})

	objs := decodeRows(target, h.Select(ctx, q), nil)
	if len(objs) == 0 {
		return nil
	}
	h.mergeViewData(ctx, s, tag, view, objs)
	return objs
}
