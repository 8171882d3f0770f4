package query

import (
	"strconv"
)

// Ordering of ORDER BY.
type Ordering int

const (
	Ascending Ordering = iota
	Descending
)

// Nulls placement of ORDER BY.
type Nulls int

const (
	NullsNone Nulls = iota
	NullsFirst
	NullsLast
)

// Field is a column reference, optionally qualified by a source and aliased.
type Field struct {
	Source string
	Name   string
	Alias  string
}

// Name returns an unqualified column reference.
func Name(name string) Field {
	return Field{Name: name}
}

// Ref returns a column qualified by its table or alias.
func Ref(source, name string) Field {
	return Field{Source: source, Name: name}
}

// All selects every column of source, or of the whole row set when empty.
func All(source string) Field {
	return Field{Source: source, Name: "*"}
}

// As returns a copy of f with an alias.
func (f Field) As(alias string) Field {
	f.Alias = alias
	return f
}

func (f Field) writeRef(b *Binder) {
	if f.Source != "" {
		b.WriteString(f.Source)
		b.WriteString(".")
	}
	if f.Name == "*" {
		b.WriteString("*")
	} else {
		b.WriteString(quoteIdent(f.Name))
	}
}

func (f Field) writeTo(b *Binder) {
	f.writeRef(b)
	if f.Alias != "" {
		b.WriteString(" AS ")
		b.WriteString(quoteIdent(f.Alias))
	}
}

// Aggregate applies a SQL aggregate function to a field.
type Aggregate struct {
	Func  string
	Arg   Field
	Alias string
}

func (a Aggregate) writeTo(b *Binder) {
	b.WriteString(a.Func)
	b.WriteString("(")
	a.Arg.writeRef(b)
	b.WriteString(")")
	if a.Alias != "" {
		b.WriteString(" AS ")
		b.WriteString(quoteIdent(a.Alias))
	}
}

// Max is max(field) AS alias.
func Max(f Field, alias string) Aggregate {
	return Aggregate{Func: "max", Arg: f, Alias: alias}
}

// Count is count(*).
type Count struct {
	Alias string
}

func (c Count) writeTo(b *Binder) {
	b.WriteString("count(*)")
	if c.Alias != "" {
		b.WriteString(" AS ")
		b.WriteString(quoteIdent(c.Alias))
	}
}

// Excluded references the row proposed for insertion in ON CONFLICT.
type Excluded string

func (e Excluded) writeTo(b *Binder) {
	b.WriteString("EXCLUDED.")
	b.WriteString(quoteIdent(string(e)))
}

// Value selects a bound value as a column.
type Value struct {
	V     any
	Alias string
}

func (v Value) writeTo(b *Binder) {
	b.Bind(v.V)
	if v.Alias != "" {
		b.WriteString(" AS ")
		b.WriteString(quoteIdent(v.Alias))
	}
}

// Setting reads a session GUC as bigint, as trigger bodies do. An unset or
// reset setting reads as NULL.
type Setting string

func (s Setting) writeTo(b *Binder) {
	b.WriteString("NULLIF(current_setting(")
	b.WriteString(quoteLiteral(string(s)))
	b.WriteString(", true), '')::bigint")
}

// Coalesce is the first non-null of its arguments.
type Coalesce []Expr

func (c Coalesce) writeTo(b *Binder) {
	b.WriteString("COALESCE(")
	writeExprs(b, c)
	b.WriteString(")")
}

// Raw is trusted statement text.
type Raw string

func (r Raw) writeTo(b *Binder) {
	b.WriteString(string(r))
}

// Table is a FROM source.
type Table struct {
	Name  string
	Alias string
}

func (t Table) writeTo(b *Binder) {
	b.WriteString(t.Name)
	if t.Alias != "" {
		b.WriteString(" AS ")
		b.WriteString(t.Alias)
	}
}

type cte struct {
	name string
	q    *Query
}

type statement interface {
	writeTo(b *Binder)
}

// Query is a statement with optional common table expressions.
type Query struct {
	ctes []cte
	stmt statement
}

// New returns an empty query.
func New() *Query {
	return &Query{}
}

// With adds a named subquery.
func (q *Query) With(name string, sub *Query) *Query {
	q.ctes = append(q.ctes, cte{name: name, q: sub})
	return q
}

// Select makes q a SELECT of the given fields.
func (q *Query) Select(fields ...Expr) *Select {
	s := &Select{fields: fields}
	q.stmt = s
	return s
}

// SelectDistinct makes q a SELECT DISTINCT.
func (q *Query) SelectDistinct(fields ...Expr) *Select {
	s := q.Select(fields...)
	s.distinct = true
	return s
}

// Insert makes q an INSERT into table.
func (q *Query) Insert(table string) *Insert {
	s := &Insert{table: table}
	q.stmt = s
	return s
}

// Update makes q an UPDATE of table.
func (q *Query) Update(table string) *Update {
	s := &Update{table: table}
	q.stmt = s
	return s
}

// Delete makes q a DELETE from table.
func (q *Query) Delete(table string) *Delete {
	s := &Delete{table: table}
	q.stmt = s
	return s
}

// Clear drops everything built so far.
func (q *Query) Clear() {
	q.ctes = nil
	q.stmt = nil
}

// Empty reports whether no statement was set.
func (q *Query) Empty() bool {
	return q.stmt == nil
}

func (q *Query) writeTo(b *Binder) {
	if len(q.ctes) > 0 {
		b.WriteString("WITH ")
		for i, c := range q.ctes {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.name)
			b.WriteString(" AS (")
			c.q.writeTo(b)
			b.WriteString(")")
		}
		b.WriteString(" ")
	}
	if q.stmt != nil {
		q.stmt.writeTo(b)
	}
}

// Finalize compiles the query through b.
func (q *Query) Finalize(b *Binder) {
	q.writeTo(b)
}

// Build compiles the query into text and parameters.
func (q *Query) Build() (string, []any) {
	b := NewBinder()
	q.writeTo(b)
	return b.String(), b.Params()
}

type join struct {
	kind   string
	target Table
	on     *Where
}

type order struct {
	field Expr
	ord   Ordering
	nulls Nulls
}

// Select is a SELECT statement.
type Select struct {
	distinct  bool
	fields    []Expr
	from      []Table
	joins     []join
	where     *Where
	groups    []Expr
	orders    []order
	limit     *int64
	offset    *int64
	forUpdate bool
}

// Fields appends selected expressions.
func (s *Select) Fields(fields ...Expr) *Select {
	s.fields = append(s.fields, fields...)
	return s
}

// HasFields reports whether any field was selected.
func (s *Select) HasFields() bool {
	return len(s.fields) > 0
}

// From adds a source table.
func (s *Select) From(table string) *Select {
	s.from = append(s.from, Table{Name: table})
	return s
}

// FromAs adds an aliased source table.
func (s *Select) FromAs(table, alias string) *Select {
	s.from = append(s.from, Table{Name: table, Alias: alias})
	return s
}

// InnerJoinOn joins target with the predicate built by fn.
func (s *Select) InnerJoinOn(target string, fn func(*Where)) *Select {
	return s.joinOn("INNER JOIN", target, fn)
}

// RightJoinOn right-joins target with the predicate built by fn.
func (s *Select) RightJoinOn(target string, fn func(*Where)) *Select {
	return s.joinOn("RIGHT JOIN", target, fn)
}

func (s *Select) joinOn(kind, target string, fn func(*Where)) *Select {
	w := &Where{}
	fn(w)
	s.joins = append(s.joins, join{kind: kind, target: Table{Name: target}, on: w})
	return s
}

// Where returns the predicate list of the statement.
func (s *Select) Where() *Where {
	if s.where == nil {
		s.where = &Where{}
	}
	return s.where
}

// Group adds GROUP BY expressions.
func (s *Select) Group(fields ...Expr) *Select {
	s.groups = append(s.groups, fields...)
	return s
}

// Order adds an ORDER BY term.
func (s *Select) Order(ord Ordering, field Expr, nulls Nulls) *Select {
	s.orders = append(s.orders, order{field: field, ord: ord, nulls: nulls})
	return s
}

// Limit sets LIMIT.
func (s *Select) Limit(n int64) *Select {
	s.limit = &n
	return s
}

// Offset sets OFFSET.
func (s *Select) Offset(n int64) *Select {
	s.offset = &n
	return s
}

// ForUpdate appends FOR UPDATE.
func (s *Select) ForUpdate() *Select {
	s.forUpdate = true
	return s
}

func writeExprs(b *Binder, list []Expr) {
	for i, e := range list {
		if i > 0 {
			b.WriteString(", ")
		}
		e.writeTo(b)
	}
}

func (s *Select) writeTo(b *Binder) {
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(s.fields) == 0 {
		b.WriteString("*")
	} else {
		writeExprs(b, s.fields)
	}
	if len(s.from) > 0 {
		b.WriteString(" FROM ")
		for i, t := range s.from {
			if i > 0 {
				b.WriteString(", ")
			}
			t.writeTo(b)
		}
	}
	for _, j := range s.joins {
		b.WriteString(" ")
		b.WriteString(j.kind)
		b.WriteString(" ")
		j.target.writeTo(b)
		b.WriteString(" ON (")
		j.on.writeTo(b)
		b.WriteString(")")
	}
	if !s.where.Empty() {
		b.WriteString(" WHERE ")
		s.where.writeTo(b)
	}
	if len(s.groups) > 0 {
		b.WriteString(" GROUP BY ")
		for i, g := range s.groups {
			if i > 0 {
				b.WriteString(", ")
			}
			writeOperand(b, g)
		}
	}
	if len(s.orders) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range s.orders {
			if i > 0 {
				b.WriteString(", ")
			}
			writeOperand(b, o.field)
			if o.ord == Descending {
				b.WriteString(" DESC")
			} else {
				b.WriteString(" ASC")
			}
			switch o.nulls {
			case NullsFirst:
				b.WriteString(" NULLS FIRST")
			case NullsLast:
				b.WriteString(" NULLS LAST")
			}
		}
	}
	if s.limit != nil {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.FormatInt(*s.limit, 10))
	}
	if s.offset != nil {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.FormatInt(*s.offset, 10))
	}
	if s.forUpdate {
		b.WriteString(" FOR UPDATE")
	}
}

// Insert is an INSERT statement.
type Insert struct {
	table      string
	cols       []string
	rows       [][]any
	source     *Query
	doNothing  bool
	conflictOn []string
	updateCols []string
	returning  []Expr
}

// Fields sets the inserted column list.
func (s *Insert) Fields(cols ...string) *Insert {
	s.cols = append(s.cols, cols...)
	return s
}

// Values adds one row of values matching the column list.
func (s *Insert) Values(vals ...any) *Insert {
	s.rows = append(s.rows, vals)
	return s
}

// FromSelect inserts the rows produced by sub.
func (s *Insert) FromSelect(sub *Query) *Insert {
	s.source = sub
	return s
}

// OnConflictDoNothing appends ON CONFLICT DO NOTHING.
func (s *Insert) OnConflictDoNothing() *Insert {
	s.doNothing = true
	return s
}

// OnConflictUpdate overwrites cols from EXCLUDED when target conflicts.
func (s *Insert) OnConflictUpdate(target []string, cols ...string) *Insert {
	s.conflictOn = target
	s.updateCols = cols
	return s
}

// Returning appends a RETURNING clause.
func (s *Insert) Returning(fields ...Expr) *Insert {
	s.returning = append(s.returning, fields...)
	return s
}

func writeIdents(b *Binder, cols []string) {
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(c))
	}
}

func writeReturning(b *Binder, list []Expr) {
	if len(list) > 0 {
		b.WriteString(" RETURNING ")
		writeExprs(b, list)
	}
}

func (s *Insert) writeTo(b *Binder) {
	b.WriteString("INSERT INTO ")
	b.WriteString(s.table)
	if len(s.cols) > 0 {
		b.WriteString("(")
		writeIdents(b, s.cols)
		b.WriteString(")")
	}
	if s.source != nil {
		b.WriteString(" ")
		s.source.writeTo(b)
	} else {
		b.WriteString(" VALUES ")
		for i, row := range s.rows {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(")
			for j, v := range row {
				if j > 0 {
					b.WriteString(", ")
				}
				b.Bind(v)
			}
			b.WriteString(")")
		}
	}
	switch {
	case s.doNothing:
		b.WriteString(" ON CONFLICT DO NOTHING")
	case len(s.conflictOn) > 0:
		b.WriteString(" ON CONFLICT (")
		writeIdents(b, s.conflictOn)
		b.WriteString(") DO UPDATE SET ")
		for i, c := range s.updateCols {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quoteIdent(c))
			b.WriteString("=")
			Excluded(c).writeTo(b)
		}
	}
	writeReturning(b, s.returning)
}

type assignment struct {
	col string
	v   any
}

// Update is an UPDATE statement.
type Update struct {
	table     string
	sets      []assignment
	where     *Where
	returning []Expr
}

// Set assigns v to col.
func (s *Update) Set(col string, v any) *Update {
	s.sets = append(s.sets, assignment{col: col, v: v})
	return s
}

// Empty reports whether no column is assigned.
func (s *Update) Empty() bool {
	return len(s.sets) == 0
}

// Where returns the predicate list of the statement.
func (s *Update) Where() *Where {
	if s.where == nil {
		s.where = &Where{}
	}
	return s.where
}

// Returning appends a RETURNING clause.
func (s *Update) Returning(fields ...Expr) *Update {
	s.returning = append(s.returning, fields...)
	return s
}

func (s *Update) writeTo(b *Binder) {
	b.WriteString("UPDATE ")
	b.WriteString(s.table)
	b.WriteString(" SET ")
	for i, a := range s.sets {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(a.col))
		b.WriteString("=")
		writeOperand(b, a.v)
	}
	if !s.where.Empty() {
		b.WriteString(" WHERE ")
		s.where.writeTo(b)
	}
	writeReturning(b, s.returning)
}

// Delete is a DELETE statement.
type Delete struct {
	table     string
	where     *Where
	returning []Expr
}

// Where returns the predicate list of the statement.
func (s *Delete) Where() *Where {
	if s.where == nil {
		s.where = &Where{}
	}
	return s.where
}

// Returning appends a RETURNING clause.
func (s *Delete) Returning(fields ...Expr) *Delete {
	s.returning = append(s.returning, fields...)
	return s
}

func (s *Delete) writeTo(b *Binder) {
	b.WriteString("DELETE FROM ")
	b.WriteString(s.table)
	if !s.where.Empty() {
		b.WriteString(" WHERE ")
		s.where.writeTo(b)
	}
	writeReturning(b, s.returning)
}

// Default is the DEFAULT keyword of an inserted value.
type Default struct{}

func (Default) writeTo(b *Binder) {
	b.WriteString("DEFAULT")
}
