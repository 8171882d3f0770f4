package handle

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/rzpsarthak13/serenity/internal/query"
	"github.com/rzpsarthak13/serenity/internal/storage"
	"github.com/rzpsarthak13/serenity/internal/value"
)

// isColumn reports whether f is stored in the scheme row itself.
func isColumn(f *storage.Field) bool {
	switch f.Type {
	case storage.TypeSet, storage.TypeArray, storage.TypeView, storage.TypeNone:
		return false
	}
	return true
}

// readFields lists the columns selected for s. Full text vectors are never
// read back. A non-empty include restricts the list; forced fields are
// always added.
func readFields(s *storage.Scheme, include []string) []string {
	out := []string{"__oid"}
	if len(include) == 0 {
		for _, f := range s.Fields() {
			if isColumn(f) && f.Type != storage.TypeFullTextView {
				out = append(out, f.Name)
			}
		}
		return out
	}

	seen := map[string]bool{"__oid": true}
	add := func(name string) {
		f := s.Field(name)
		if f == nil || seen[name] || !isColumn(f) || f.Type == storage.TypeFullTextView {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	names := append([]string(nil), include...)
	sort.Strings(names)
	for _, n := range names {
		add(n)
	}
	for _, n := range s.ForceInclude() {
		add(n)
	}
	return out
}

func fieldRefs(source string, names []string) []query.Expr {
	out := make([]query.Expr, 0, len(names))
	for _, n := range names {
		if source == "" {
			out = append(out, query.Name(n))
		} else {
			out = append(out, query.Ref(source, n))
		}
	}
	return out
}

// bindField wraps v for a column of f.
func bindField(f *storage.Field, v any) any {
	if v == nil {
		return nil
	}
	switch {
	case f.Type == storage.TypeFullTextView:
		if vec, ok := v.(query.FullTextVector); ok {
			return vec
		}
		if str, ok := v.(string); ok {
			return query.FullTextVector{{Text: str, Raw: true}}
		}
		return nil
	case f.IsDataLayout():
		return query.Force{V: v}
	case f.Type == storage.TypeFloat:
		return query.Cast{V: value.ToFloat(v), Type: "float8"}
	}
	return v
}

// fullTextQuery converts a search value into a tsquery expression.
func fullTextQuery(f *storage.Field, v any) any {
	switch t := v.(type) {
	case query.FullTextQuery, query.FullTextQueries:
		return t
	case string:
		lang := ""
		if slot := f.FullTextSlot(); slot != nil {
			lang = slot.Language
		}
		return query.FullTextQuery{Text: t, Language: lang}
	}
	return nil
}

// writeWhere adds the predicates of q. Predicates on fields that are not
// indexed, or with comparators invalid for the field type, are dropped and
// reported.
func (h *Handle) writeWhere(w *query.Where, s *storage.Scheme, q *storage.Query) {
	switch {
	case q.Oid() != 0:
		w.And(query.Ref(s.Name(), "__oid"), query.Equal, q.Oid())
	case q.Alias() != "":
		w.Parenthesis(query.And, func(w *query.Where) {
			for _, f := range s.Fields() {
				if f.Type == storage.TypeText && f.Transform == storage.TransformAlias {
					w.Or(query.Ref(s.Name(), f.Name), query.Equal, q.Alias())
				}
			}
		})
	case len(q.List()) > 0:
		w.Parenthesis(query.And, func(w *query.Where) {
			for _, sel := range q.List() {
				h.writePredicate(w, s, sel)
			}
		})
	}
}

func (h *Handle) writePredicate(w *query.Where, s *storage.Scheme, sel storage.Select) {
	if sel.Field == "__oid" {
		if storage.ValidComparation(storage.TypeInteger, sel.Compare) {
			w.And(query.Ref(s.Name(), "__oid"), sel.Compare, sel.Value1, sel.Value2)
		} else {
			h.dropped(s, sel.Field, fmt.Sprintf("invalid comparation %s", sel.Compare))
		}
		return
	}
	f := s.Field(sel.Field)
	switch {
	case f == nil:
		h.dropped(s, sel.Field, "unknown field")
	case f.Type == storage.TypeFullTextView:
		if tsq := fullTextQuery(f, sel.Value1); tsq != nil && sel.Compare == query.Includes {
			w.And(query.Ref(s.Name(), f.Name), query.Includes, tsq)
		} else {
			h.dropped(s, sel.Field, "invalid full text search")
		}
	case !f.IsIndexed():
		h.dropped(s, sel.Field, "field is not indexed")
	case !storage.ValidComparation(f.Type, sel.Compare):
		h.dropped(s, sel.Field, fmt.Sprintf("invalid comparation %s for %s", sel.Compare, f.Type))
	case f.Type == storage.TypeBoolean && (sel.Compare == query.Equal || sel.Compare == query.NotEqual):
		v := true
		switch t := sel.Value1.(type) {
		case nil:
		case bool:
			v = t
		default:
			v = value.ToBool(t)
		}
		w.And(query.Ref(s.Name(), f.Name), sel.Compare, v)
	default:
		w.And(query.Ref(s.Name(), f.Name), sel.Compare, sel.Value1, sel.Value2)
	}
}

func (h *Handle) dropped(s *storage.Scheme, field, reason string) {
	if reg := s.Registry(); reg != nil {
		reg.DroppedPredicate(s, field, reason)
		return
	}
	h.log.WithFields(logrus.Fields{"scheme": s.Name(), "field": field}).Warn("predicate dropped: ", reason)
}

// writeRanks selects ts_rank for every full text search of q.
func writeRanks(sel *query.Select, s *storage.Scheme, q *storage.Query) {
	if q.Oid() != 0 || q.Alias() != "" {
		return
	}
	for _, it := range q.List() {
		f := s.Field(it.Field)
		if f == nil || f.Type != storage.TypeFullTextView || it.Compare != query.Includes {
			continue
		}
		var tsq query.FullTextQueries
		switch t := fullTextQuery(f, it.Value1).(type) {
		case query.FullTextQuery:
			tsq = query.FullTextQueries{t}
		case query.FullTextQueries:
			tsq = t
		default:
			continue
		}
		sel.Fields(query.FullTextRank{
			Scheme:        s.Name(),
			Field:         f.Name,
			Query:         tsq,
			Normalization: f.FullTextSlot().Normalization,
			Alias:         query.RankAlias(f.Name),
		})
	}
}

// writeOrdering adds ORDER BY, LIMIT and OFFSET. Without an explicit order
// a single predicate field or __oid is used.
func writeOrdering(sel *query.Select, s *storage.Scheme, q *storage.Query) {
	order, ordering, hasOrder := q.OrderField()
	limit, hasLimit := q.LimitValue()
	offset := q.OffsetValue()
	if !hasOrder && !hasLimit && offset == 0 {
		return
	}

	var field query.Expr
	switch {
	case hasOrder:
		if f := s.Field(order); f != nil {
			if f.Type == storage.TypeFullTextView {
				field = query.Name(query.RankAlias(order))
			} else {
				field = query.Ref(s.Name(), order)
			}
		} else if order == "__oid" {
			field = query.Ref(s.Name(), order)
		} else {
			return
		}
	case len(q.List()) == 1:
		name := q.List()[0].Field
		if s.Field(name) == nil {
			return
		}
		field = query.Ref(s.Name(), name)
	default:
		field = query.Ref(s.Name(), "__oid")
	}

	nulls := query.NullsNone
	if ordering == query.Descending {
		nulls = query.NullsLast
	}
	sel.Order(ordering, field, nulls)
	if hasLimit {
		sel.Limit(limit)
	}
	if offset > 0 {
		sel.Offset(offset)
	}
}

// SelectObjects reads the objects matching q.
func (h *Handle) SelectObjects(ctx context.Context, s *storage.Scheme, q *storage.Query) []value.Dict {
	if q == nil {
		q = storage.NewQuery()
	}
	b := query.New()
	sel := b.Select(fieldRefs(s.Name(), readFields(s, q.Included()))...)
	writeRanks(sel, s, q)
	sel.From(s.Name())
	if !q.Empty() {
		h.writeWhere(sel.Where(), s, q)
	}
	writeOrdering(sel, s, q)
	if q.IsForUpdate() {
		sel.ForUpdate()
	}
	return decodeRows(s, h.Select(ctx, b), nil)
}

// CountObjects counts the objects matching q.
func (h *Handle) CountObjects(ctx context.Context, s *storage.Scheme, q *storage.Query) int64 {
	if q == nil {
		q = storage.NewQuery()
	}
	b := query.New()
	sel := b.Select(query.Count{}).From(s.Name())
	if !q.Empty() {
		h.writeWhere(sel.Where(), s, q)
	}
	res := h.Select(ctx, b)
	if res.Rows() == 0 {
		return 0
	}
	return res.ToInteger(0, 0)
}

// splitPostUpdate moves values written outside the scheme row out of data:
// arrays, sets and nested objects given as dictionaries. Unknown keys are
// dropped.
func splitPostUpdate(s *storage.Scheme, data value.Dict, nestedObjects bool) value.Dict {
	post := value.Dict{}
	for k, v := range data {
		f := s.Field(k)
		if f == nil {
			delete(data, k)
			continue
		}
		switch {
		case f.Type == storage.TypeArray || f.Type == storage.TypeSet:
			post[k] = v
			delete(data, k)
		case f.Type == storage.TypeView:
			delete(data, k)
		case nestedObjects && f.Type == storage.TypeObject && value.IsDict(v):
			post[k] = v
			delete(data, k)
		}
	}
	return post
}

// CreateObject inserts data and stores the new id into it as __oid.
func (h *Handle) CreateObject(ctx context.Context, s *storage.Scheme, data value.Dict) bool {
	post := splitPostUpdate(s, data, true)

	q := query.New()
	ins := q.Insert(s.Name())
	keys := value.Keys(data)
	vals := make([]any, 0, len(keys))
	for _, k := range keys {
		vals = append(vals, bindField(s.Field(k), data[k]))
	}
	if len(keys) == 0 {
		keys = []string{"__oid"}
		vals = []any{query.Default{}}
	}
	ins.Fields(keys...).Values(vals...).Returning(query.Name("__oid").As("id"))

	id := h.SelectID(ctx, q)
	if id == 0 {
		return false
	}
	data["__oid"] = id
	return h.performPostUpdate(ctx, s, data, id, post, false)
}

// SaveObject writes fields of data into the row of oid. Without a field
// list every known column in data is written.
func (h *Handle) SaveObject(ctx context.Context, s *storage.Scheme, oid int64, data value.Dict, fields []string) bool {
	if len(data) == 0 {
		return false
	}
	if len(fields) == 0 {
		fields = value.Keys(data)
	}

	q := query.New()
	upd := q.Update(s.Name())
	for _, name := range fields {
		f := s.Field(name)
		if f == nil || !isColumn(f) {
			continue
		}
		upd.Set(name, bindField(f, data[name]))
	}
	if upd.Empty() {
		return false
	}
	upd.Where().And(query.Name("__oid"), query.Equal, oid)
	return h.Perform(ctx, q) == 1
}

// PatchObject applies patch with a single UPDATE ... RETURNING. Arrays and
// sets in patch replace the stored ones afterwards.
func (h *Handle) PatchObject(ctx context.Context, s *storage.Scheme, oid int64, patch value.Dict) value.Dict {
	if len(patch) == 0 {
		return nil
	}
	data := value.Clone(patch).(map[string]any)
	post := splitPostUpdate(s, data, false)

	fields := fieldRefs("", readFields(s, nil))
	q := query.New()
	if len(data) > 0 {
		upd := q.Update(s.Name())
		for _, k := range value.Keys(data) {
			upd.Set(k, bindField(s.Field(k), data[k]))
		}
		upd.Where().And(query.Name("__oid"), query.Equal, oid)
		upd.Returning(fields...)
	} else {
		q.Select(fields...).From(s.Name()).
			Where().And(query.Name("__oid"), query.Equal, oid)
	}

	rows := decodeRows(s, h.Select(ctx, q), nil)
	if len(rows) != 1 {
		return nil
	}
	obj := rows[0]
	if id := value.Oid(obj); id > 0 && len(post) > 0 {
		if !h.performPostUpdate(ctx, s, obj, id, post, true) {
			return nil
		}
	}
	return obj
}

// RemoveObject deletes one row. Dependent rows are handled by constraints
// and triggers.
func (h *Handle) RemoveObject(ctx context.Context, s *storage.Scheme, oid int64) bool {
	q := query.New()
	q.Delete(s.Name()).Where().And(query.Name("__oid"), query.Equal, oid)
	return h.Perform(ctx, q) == 1
}

// performPostUpdate writes arrays, sets and nested objects of a freshly
// written row. With clear the stored collections are replaced.
func (h *Handle) performPostUpdate(ctx context.Context, s *storage.Scheme, data value.Dict, id int64, post value.Dict, clear bool) bool {
	for _, k := range value.Keys(post) {
		f := s.Field(k)
		v := post[k]
		switch f.Type {
		case storage.TypeObject:
			if !h.createNestedObject(ctx, s, data, id, f, v) {
				return false
			}
		case storage.TypeSet:
			list, _ := v.([]any)
			if clear && list != nil {
				if !h.dropSetMembers(ctx, s, id, f, toIDs(list)) {
					return false
				}
			}
			if list != nil {
				members, ok := h.appendToSet(ctx, s, id, f, list)
				if !ok {
					return false
				}
				data[k] = members
			}
		case storage.TypeArray:
			if clear && v != nil {
				if !h.clearArray(ctx, s, id, f) {
					return false
				}
			}
			if list, ok := v.([]any); ok && len(list) > 0 {
				if !h.insertIntoArray(ctx, s, id, f, list) {
					return false
				}
				data[k] = list
			}
		}
	}
	return true
}

func objectLink(f *storage.Field) string {
	if slot, ok := f.Slot.(*storage.ObjectSlot); ok {
		return slot.Link
	}
	return ""
}

// createNestedObject creates the object given as a dictionary for field f
// and points the row id at it.
func (h *Handle) createNestedObject(ctx context.Context, s *storage.Scheme, data value.Dict, id int64, f *storage.Field, v any) bool {
	d, ok := v.(map[string]any)
	target := f.ForeignScheme()
	if !ok || target == nil {
		return true
	}
	d = value.Clone(d).(map[string]any)
	if link := objectLink(f); link != "" {
		d[link] = id
	}
	created := target.Create(ctx, h, d, false)
	targetID := value.Oid(created)
	if targetID == 0 {
		return false
	}

	q := query.New()
	q.Update(s.Name()).Set(f.Name, targetID).Where().And(query.Name("__oid"), query.Equal, id)
	if h.Perform(ctx, q) == Failure {
		return false
	}
	data[f.Name] = targetID
	return true
}
