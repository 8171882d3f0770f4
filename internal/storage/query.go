package storage

import (
	"github.com/rzpsarthak13/serenity/internal/query"
)

// Select is one predicate of a storage query.
type Select struct {
	Field   string
	Compare query.Comparation
	Value1  any
	Value2  any
}

// Query is the selection request handed to Adapter.SelectObjects. An oid
// or alias lookup takes priority over the predicate list.
type Query struct {
	oid       int64
	alias     string
	list      []Select
	order     string
	ordering  query.Ordering
	hasOrder  bool
	limit     int64
	offset    int64
	forUpdate bool
	include   []string
}

// NewQuery returns an empty query without limit.
func NewQuery() *Query {
	return &Query{limit: -1}
}

// ByOid selects a single object by id.
func (q *Query) ByOid(oid int64) *Query {
	q.oid = oid
	return q
}

// ByAlias selects a single object by one of its alias fields.
func (q *Query) ByAlias(alias string) *Query {
	q.alias = alias
	return q
}

// Where adds a predicate. Two-argument comparators take both values.
func (q *Query) Where(field string, cmp query.Comparation, values ...any) *Query {
	sel := Select{Field: field, Compare: cmp}
	if len(values) > 0 {
		sel.Value1 = values[0]
	}
	if len(values) > 1 {
		sel.Value2 = values[1]
	}
	q.list = append(q.list, sel)
	return q
}

func (q *Query) Order(field string, ord query.Ordering) *Query {
	q.order = field
	q.ordering = ord
	q.hasOrder = true
	return q
}

func (q *Query) Limit(n int64) *Query {
	q.limit = n
	return q
}

func (q *Query) Offset(n int64) *Query {
	q.offset = n
	return q
}

// ForUpdate locks the selected rows until the transaction ends.
func (q *Query) ForUpdate() *Query {
	q.forUpdate = true
	return q
}

// Include restricts the selected columns. Forced fields are always added.
func (q *Query) Include(fields ...string) *Query {
	q.include = append(q.include, fields...)
	return q
}

func (q *Query) Oid() int64 { return q.oid }
func (q *Query) Alias() string { return q.alias }
func (q *Query) List() []Select { return q.list }
func (q *Query) Included() []string { return q.include }
func (q *Query) IsForUpdate() bool { return q.forUpdate }
func (q *Query) OffsetValue() int64 { return q.offset }

// OrderField returns the requested ordering, if any.
func (q *Query) OrderField() (string, query.Ordering, bool) {
	return q.order, q.ordering, q.hasOrder
}

// LimitValue returns the limit and whether one was set.
func (q *Query) LimitValue() (int64, bool) {
	return q.limit, q.limit >= 0
}

// Empty reports whether the query carries no selection at all.
func (q *Query) Empty() bool {
	return q.oid == 0 && q.alias == "" && len(q.list) == 0
}
