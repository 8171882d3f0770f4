package handle

import (
	"context"
	"time"

	"github.com/rzpsarthak13/serenity/internal/query"
	"github.com/rzpsarthak13/serenity/internal/storage"
	"github.com/rzpsarthak13/serenity/internal/value"
)

func arrayTable(s *storage.Scheme, f *storage.Field) string {
	return s.Name() + "_f_" + f.Name
}

func idColumn(s *storage.Scheme) string {
	return s.Name() + "_id"
}

// GetProperty reads a property of the object oid.
func (h *Handle) GetProperty(ctx context.Context, s *storage.Scheme, oid int64, f *storage.Field, fields []string) any {
	switch f.Type {
	case storage.TypeFile, storage.TypeImage:
		return h.getFileField(ctx, s, oid, 0, f)
	case storage.TypeArray:
		return h.getArrayField(ctx, s, oid, f)
	case storage.TypeObject:
		return h.getObjectField(ctx, s, oid, 0, f, fields)
	case storage.TypeSet:
		return h.getSetField(ctx, s, oid, f, fields)
	case storage.TypeView:
		return h.getViewField(ctx, s, oid, f, fields)
	case storage.TypeFullTextView:
		return nil
	}
	return h.getSimpleField(ctx, s, oid, f)
}

// GetObjectProperty reads a property using a loaded object for ids and
// inline values.
func (h *Handle) GetObjectProperty(ctx context.Context, s *storage.Scheme, obj value.Dict, f *storage.Field, fields []string) any {
	oid := value.Oid(obj)
	targetID := value.ToInt(obj[f.Name])
	switch f.Type {
	case storage.TypeFile, storage.TypeImage:
		if targetID == 0 {
			return nil
		}
		return h.getFileField(ctx, s, oid, targetID, f)
	case storage.TypeObject:
		if targetID == 0 {
			return nil
		}
		return h.getObjectField(ctx, s, oid, targetID, f, fields)
	case storage.TypeArray, storage.TypeSet, storage.TypeView, storage.TypeFullTextView:
		return h.GetProperty(ctx, s, oid, f, fields)
	}
	if v, ok := obj[f.Name]; ok {
		return v
	}
	return h.getSimpleField(ctx, s, oid, f)
}

// selectReferenced reads one row of target, either by id or through the
// column f of the object oid.
func (h *Handle) selectReferenced(ctx context.Context, s, target *storage.Scheme, oid, targetID int64, f *storage.Field, fields []string) value.Dict {
	q := query.New()
	var sel *query.Select
	if targetID == 0 {
		sub := query.New()
		sub.Select(query.Name(f.Name)).From(s.Name()).Where().And(query.Name("__oid"), query.Equal, oid)
		q.With("s", sub)
	}
	sel = q.Select(fieldRefs("t", readFields(target, fields))...).FromAs(target.Name(), "t")
	if targetID != 0 {
		sel.Where().And(query.Ref("t", "__oid"), query.Equal, targetID)
	} else {
		sel.InnerJoinOn("s", func(w *query.Where) {
			w.And(query.Ref("t", "__oid"), query.Equal, query.Ref("s", f.Name))
		})
	}
	rows := decodeRows(target, h.Select(ctx, q), nil)
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

func (h *Handle) getFileField(ctx context.Context, s *storage.Scheme, oid, targetID int64, f *storage.Field) any {
	files := h.scheme(storage.FilesScheme)
	if files == nil {
		return nil
	}
	if d := h.selectReferenced(ctx, s, files, oid, targetID, f, nil); d != nil {
		return d
	}
	return nil
}

func (h *Handle) getObjectField(ctx context.Context, s *storage.Scheme, oid, targetID int64, f *storage.Field, fields []string) any {
	target := f.ForeignScheme()
	if target == nil {
		return nil
	}
	if d := h.selectReferenced(ctx, s, target, oid, targetID, f, fields); d != nil {
		return d
	}
	return nil
}

func (h *Handle) getArrayField(ctx context.Context, s *storage.Scheme, oid int64, f *storage.Field) any {
	q := query.New()
	q.Select(query.Name("data")).From(arrayTable(s, f)).
		Where().And(query.Name(idColumn(s)), query.Equal, oid)
	res := h.Select(ctx, q)
	if !res.IsSuccess() {
		return nil
	}
	return decodeField(res, f.Element())
}

func (h *Handle) getSetField(ctx context.Context, s *storage.Scheme, oid int64, f *storage.Field, fields []string) any {
	target := f.ForeignScheme()
	if target == nil {
		return nil
	}
	q := query.New()
	if f.IsReference() {
		sub := query.New()
		sub.Select(query.Name(idColumn(target)).As("id")).From(arrayTable(s, f)).
			Where().And(query.Name(idColumn(s)), query.Equal, oid)
		q.With("s", sub)
		q.Select(fieldRefs("t", readFields(target, fields))...).FromAs(target.Name(), "t").
			InnerJoinOn("s", func(w *query.Where) {
				w.And(query.Ref("t", "__oid"), query.Equal, query.Ref("s", "id"))
			})
	} else {
		link := objectLink(f)
		if link == "" {
			return nil
		}
		q.Select(fieldRefs("t", readFields(target, fields))...).FromAs(target.Name(), "t").
			Where().And(query.Ref("t", link), query.Equal, oid)
	}
	res := h.Select(ctx, q)
	if !res.IsSuccess() {
		return nil
	}
	out := make([]any, 0, res.Rows())
	for _, d := range decodeRows(target, res, nil) {
		out = append(out, d)
	}
	return out
}

func (h *Handle) getSimpleField(ctx context.Context, s *storage.Scheme, oid int64, f *storage.Field) any {
	q := query.New()
	q.Select(query.Name(f.Name)).From(s.Name()).Where().And(query.Name("__oid"), query.Equal, oid)
	rows := decodeRows(s, h.Select(ctx, q), nil)
	if len(rows) == 0 {
		return nil
	}
	return rows[0][f.Name]
}

// touch bumps the AutoMTime fields of oid.
func (h *Handle) touch(ctx context.Context, s *storage.Scheme, oid int64) {
	q := query.New()
	upd := q.Update(s.Name())
	now := time.Now().UnixMicro()
	for _, f := range s.Fields() {
		if f.HasFlag(storage.FlagAutoMTime) {
			upd.Set(f.Name, now)
		}
	}
	if upd.Empty() {
		return
	}
	upd.Where().And(query.Name("__oid"), query.Equal, oid)
	h.Perform(ctx, q)
}

func (h *Handle) clearArray(ctx context.Context, s *storage.Scheme, oid int64, f *storage.Field) bool {
	q := query.New()
	q.Delete(arrayTable(s, f)).Where().And(query.Name(idColumn(s)), query.Equal, oid)
	return h.Perform(ctx, q) != Failure
}

// insertIntoArray appends elements; duplicates of unique arrays are
// ignored.
func (h *Handle) insertIntoArray(ctx context.Context, s *storage.Scheme, oid int64, f *storage.Field, list []any) bool {
	if len(list) == 0 {
		return false
	}
	el := f.Element()
	q := query.New()
	ins := q.Insert(arrayTable(s, f)).Fields(idColumn(s), "data")
	for _, it := range list {
		ins.Values(oid, bindField(el, it))
	}
	ins.OnConflictDoNothing()
	return h.Perform(ctx, q) != Failure
}

func toIDs(list []any) []int64 {
	out := make([]int64, 0, len(list))
	for _, it := range list {
		if id, ok := value.Int(it); ok && id != 0 {
			out = append(out, id)
		}
	}
	return out
}

func idList(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// insertIntoRefSet links ids into the join table of a reference set.
func (h *Handle) insertIntoRefSet(ctx context.Context, s *storage.Scheme, oid int64, f *storage.Field, ids []int64) bool {
	target := f.ForeignScheme()
	if len(ids) == 0 || target == nil {
		return false
	}
	q := query.New()
	ins := q.Insert(arrayTable(s, f)).Fields(idColumn(s), idColumn(target))
	for _, id := range ids {
		ins.Values(oid, id)
	}
	ins.OnConflictDoNothing()
	return h.Perform(ctx, q) != Failure
}

// appendToSet adds members to a set. Dictionaries become new objects
// linked to oid; ids are linked through the join table or the back-link
// field of the target. It fails when linking fails or a statement poisoned
// the transaction.
func (h *Handle) appendToSet(ctx context.Context, s *storage.Scheme, oid int64, f *storage.Field, list []any) ([]any, bool) {
	target := f.ForeignScheme()
	if target == nil {
		return nil, false
	}
	link := objectLink(f)
	var (
		ret   []any
		toAdd []int64
	)
	for _, it := range list {
		if d, ok := it.(map[string]any); ok {
			d = value.Clone(d).(map[string]any)
			if link != "" {
				d[link] = oid
			}
			if created := target.Create(ctx, h, d, false); created != nil {
				ret = append(ret, created)
				if f.IsReference() {
					toAdd = append(toAdd, value.Oid(created))
				}
			}
			continue
		}
		id, ok := value.Int(it)
		if !ok || id == 0 {
			continue
		}
		if f.IsReference() {
			toAdd = append(toAdd, id)
		} else if link != "" {
			if upd := target.Update(ctx, h, id, value.Dict{link: oid}, true); upd != nil {
				ret = append(ret, upd)
			}
		}
	}
	if len(toAdd) > 0 {
		if !h.insertIntoRefSet(ctx, s, oid, f, toAdd) {
			return nil, false
		}
		for _, id := range toAdd {
			ret = append(ret, id)
		}
	}
	if h.status == StatusRollback {
		return nil, false
	}
	return ret, true
}

// SetProperty replaces a property of oid.
func (h *Handle) SetProperty(ctx context.Context, s *storage.Scheme, oid int64, f *storage.Field, v any) any {
	switch f.Type {
	case storage.TypeFile, storage.TypeImage, storage.TypeView, storage.TypeFullTextView:
		return nil
	case storage.TypeArray:
		list, ok := v.([]any)
		if !ok {
			return nil
		}
		if !h.clearArray(ctx, s, oid, f) {
			return nil
		}
		h.touch(ctx, s, oid)
		if len(list) > 0 && !h.insertIntoArray(ctx, s, oid, f, list) {
			return nil
		}
		return list
	case storage.TypeSet:
		list, ok := v.([]any)
		if !ok {
			return nil
		}
		if !h.dropSetMembers(ctx, s, oid, f, toIDs(list)) {
			return nil
		}
		return h.AppendProperty(ctx, s, oid, f, list)
	}

	patch := value.Dict{f.Name: v}
	if s.IsAtomicPatch(patch) {
		if h.PatchObject(ctx, s, oid, patch) == nil {
			return nil
		}
	} else if s.Update(ctx, h, oid, patch, true) == nil {
		return nil
	}
	return v
}

// dropSetMembers unlinks members of a set that are not in keep. Targets of
// strong references are deleted.
func (h *Handle) dropSetMembers(ctx context.Context, s *storage.Scheme, oid int64, f *storage.Field, keep []int64) bool {
	target := f.ForeignScheme()
	if target == nil {
		return false
	}
	q := query.New()
	switch {
	case f.RemovePolicy() == storage.RemoveReference:
		w := q.Delete(arrayTable(s, f)).Where().And(query.Name(idColumn(s)), query.Equal, oid)
		if len(keep) > 0 {
			w.And(query.Name(idColumn(target)), query.NotIn, idList(keep))
		}
	case f.RemovePolicy() == storage.RemoveStrongReference:
		sub := query.New()
		sub.Select(query.Name(idColumn(target))).From(arrayTable(s, f)).
			Where().And(query.Name(idColumn(s)), query.Equal, oid)
		w := q.Delete(target.Name()).Where().And(query.Name("__oid"), query.In, sub)
		if len(keep) > 0 {
			w.And(query.Name("__oid"), query.NotIn, idList(keep))
		}
	default:
		link := objectLink(f)
		if link == "" {
			return false
		}
		w := q.Update(target.Name()).Set(link, nil).Where().And(query.Name(link), query.Equal, oid)
		if len(keep) > 0 {
			w.And(query.Name("__oid"), query.NotIn, idList(keep))
		}
	}
	return h.Perform(ctx, q) != Failure
}

// AppendProperty adds elements to an array or members to a set.
func (h *Handle) AppendProperty(ctx context.Context, s *storage.Scheme, oid int64, f *storage.Field, v any) any {
	list, ok := v.([]any)
	if !ok {
		if v == nil {
			return nil
		}
		list = []any{v}
	}
	switch f.Type {
	case storage.TypeArray:
		h.touch(ctx, s, oid)
		if !h.insertIntoArray(ctx, s, oid, f, list) {
			return nil
		}
		return list
	case storage.TypeSet:
		h.touch(ctx, s, oid)
		ret, ok := h.appendToSet(ctx, s, oid, f, list)
		if !ok || ret == nil {
			return nil
		}
		return ret
	}
	return nil
}

// ClearProperty removes a property of oid. For sets hint restricts the
// removal to the given member ids.
func (h *Handle) ClearProperty(ctx context.Context, s *storage.Scheme, oid int64, f *storage.Field, hint []any) bool {
	if f.HasFlag(storage.FlagRequired) {
		return false
	}
	switch f.Type {
	case storage.TypeView, storage.TypeFullTextView:
		return false
	case storage.TypeArray:
		h.touch(ctx, s, oid)
		return h.clearArray(ctx, s, oid, f)
	case storage.TypeSet:
		h.touch(ctx, s, oid)
		if len(hint) == 0 {
			return h.dropSetMembers(ctx, s, oid, f, nil)
		}
		return h.removeSetMembers(ctx, s, oid, f, toIDs(hint))
	}
	return h.PatchObject(ctx, s, oid, value.Dict{f.Name: nil}) != nil
}

// removeSetMembers unlinks the given ids from a set.
func (h *Handle) removeSetMembers(ctx context.Context, s *storage.Scheme, oid int64, f *storage.Field, ids []int64) bool {
	target := f.ForeignScheme()
	if target == nil || len(ids) == 0 {
		return false
	}
	q := query.New()
	switch f.RemovePolicy() {
	case storage.RemoveReference:
		q.Delete(arrayTable(s, f)).Where().
			And(query.Name(idColumn(s)), query.Equal, oid).
			And(query.Name(idColumn(target)), query.In, idList(ids))
	case storage.RemoveStrongReference:
		q.Delete(target.Name()).Where().And(query.Name("__oid"), query.In, idList(ids))
	default:
		link := objectLink(f)
		if link == "" {
			return false
		}
		q.Update(target.Name()).Set(link, nil).Where().
			And(query.Name(link), query.Equal, oid).
			And(query.Name("__oid"), query.In, idList(ids))
	}
	return h.Perform(ctx, q) != Failure
}
