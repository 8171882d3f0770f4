package handle

import (
	"context"

	"github.com/rzpsarthak13/serenity/internal/query"
	"github.com/rzpsarthak13/serenity/internal/storage"
	"github.com/rzpsarthak13/serenity/internal/value"
)

func viewTable(owner *storage.Scheme, view *storage.Field) string {
	return owner.Name() + "_f_" + view.Name + "_view"
}

func viewDeltaTable(owner *storage.Scheme, view *storage.Field) string {
	return owner.Name() + "_f_" + view.Name + "_delta"
}

// AddToView inserts one projected row into the view table of view.
func (h *Handle) AddToView(ctx context.Context, owner *storage.Scheme, view *storage.Field, tag int64, data value.Dict) bool {
	slot := view.ViewSlot()
	if slot == nil || len(data) == 0 {
		return false
	}
	keys := value.Keys(data)
	vals := make([]any, 0, len(keys))
	for _, k := range keys {
		v := data[k]
		if f := slot.Fields[k]; f != nil {
			v = bindField(f, v)
		}
		vals = append(vals, v)
	}
	q := query.New()
	q.Insert(viewTable(owner, view)).Fields(keys...).Values(vals...)
	return h.Perform(ctx, q) != Failure
}

// RemoveFromView deletes the rows of object from the view. A zero tag
// removes them for every owner.
func (h *Handle) RemoveFromView(ctx context.Context, owner *storage.Scheme, view *storage.Field, tag, object int64) bool {
	target := view.ForeignScheme()
	if target == nil {
		return false
	}
	q := query.New()
	w := q.Delete(viewTable(owner, view)).Where().And(query.Name(idColumn(target)), query.Equal, object)
	if tag != 0 {
		w.And(query.Name(idColumn(owner)), query.Equal, tag)
	}
	return h.Perform(ctx, q) != Failure
}

// getViewField reads the distinct objects visible through the view of oid
// with their projected rows merged under __views.
func (h *Handle) getViewField(ctx context.Context, s *storage.Scheme, oid int64, f *storage.Field, fields []string) any {
	target := f.ForeignScheme()
	if target == nil {
		return nil
	}
	sub := query.New()
	sub.SelectDistinct(query.Name(idColumn(target)).As("__id")).From(viewTable(s, f)).
		Where().And(query.Name(idColumn(s)), query.Equal, oid)
	q := query.New()
	q.With("s", sub).
		Select(fieldRefs("t", readFields(target, fields))...).FromAs(target.Name(), "t").
		InnerJoinOn("s", func(w *query.Where) {
			w.And(query.Ref("t", "__oid"), query.Equal, query.Ref("s", "__id"))
		})

	objs := decodeRows(target, h.Select(ctx, q), nil)
	if len(objs) == 0 {
		return nil
	}
	h.mergeViewData(ctx, s, oid, f, objs)
	return dictList(objs)
}

// mergeViewData reads the view rows of objs and merges them in.
func (h *Handle) mergeViewData(ctx context.Context, s *storage.Scheme, tag int64, f *storage.Field, objs []value.Dict) {
	target := f.ForeignScheme()
	slot := f.ViewSlot()
	ids := make([]any, 0, len(objs))
	for _, obj := range objs {
		if id := value.Oid(obj); id != 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		for _, obj := range objs {
			convertViewDelta(obj)
		}
		return
	}

	fields := []query.Expr{query.Name(idColumn(target)).As("__oid"), query.Name("__vid")}
	for _, name := range value.Keys(fieldMap(slot)) {
		fields = append(fields, query.Name(name))
	}
	q := query.New()
	q.Select(fields...).From(viewTable(s, f)).
		Order(query.Ascending, query.Name(idColumn(target)), query.NullsNone).
		Where().
		And(query.Name(idColumn(s)), query.Equal, tag).
		And(query.Name(idColumn(target)), query.In, ids)

	res := h.Select(ctx, q)
	if res.Rows() == 0 {
		for _, obj := range objs {
			convertViewDelta(obj)
		}
		return
	}
	mergeViews(objs, decodeRows(target, res, slot.Fields))
}

func fieldMap(slot *storage.ViewSlot) value.Dict {
	out := value.Dict{}
	if slot == nil {
		return out
	}
	for name, f := range slot.Fields {
		if f.IsSimpleLayout() {
			out[name] = true
		}
	}
	return out
}

func dictList(list []value.Dict) []any {
	out := make([]any, len(list))
	for i, d := range list {
		out[i] = d
	}
	return out
}
