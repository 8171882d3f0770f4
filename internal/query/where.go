package query

// Operator joins predicates.
type Operator int

const (
	And Operator = iota
	Or
)

func (o Operator) String() string {
	if o == Or {
		return " OR "
	}
	return " AND "
}

// Comparation is a predicate comparator.
type Comparation int

const (
	Equal Comparation = iota
	NotEqual
	LessThen
	LessOrEqual
	GreatherThen
	GreatherOrEqual
	BetweenValues    // f > a AND f < b
	BetweenEquals    // f >= a AND f <= b
	NotBetweenValues // f <= a OR f >= b
	NotBetweenEquals // f < a OR f > b
	Includes
	In
	IsNull
	IsNotNull
	NotIn
)

var comparationNames = map[Comparation]string{
	Equal:            "eq",
	NotEqual:         "neq",
	LessThen:         "lt",
	LessOrEqual:      "le",
	GreatherThen:     "gt",
	GreatherOrEqual:  "ge",
	BetweenValues:    "bw",
	BetweenEquals:    "be",
	NotBetweenValues: "nbw",
	NotBetweenEquals: "nbe",
	Includes:         "incl",
	In:               "in",
	IsNull:           "null",
	IsNotNull:        "notnull",
	NotIn:            "nin",
}

func (c Comparation) String() string {
	return comparationNames[c]
}

// ParseComparation maps the short names used in query files back to values.
func ParseComparation(s string) (Comparation, bool) {
	for c, n := range comparationNames {
		if n == s {
			return c, true
		}
	}
	return Equal, false
}

// IsTwoArg reports whether the comparator takes a pair of values.
func (c Comparation) IsTwoArg() bool {
	switch c {
	case BetweenValues, BetweenEquals, NotBetweenValues, NotBetweenEquals:
		return true
	}
	return false
}

type condition struct {
	field Expr
	cmp   Comparation
	v1    any
	v2    any
}

type whereItem struct {
	op    Operator
	cond  *condition
	group *Where
}

// Where is an ordered predicate list. The operator of the first item is
// ignored; empty groups are skipped when compiling.
type Where struct {
	items []whereItem
}

// Add appends a comparison of field against the given values.
func (w *Where) Add(op Operator, field Expr, cmp Comparation, values ...any) *Where {
	c := &condition{field: field, cmp: cmp}
	if len(values) > 0 {
		c.v1 = values[0]
	}
	if len(values) > 1 {
		c.v2 = values[1]
	}
	w.items = append(w.items, whereItem{op: op, cond: c})
	return w
}

// And appends an AND comparison.
func (w *Where) And(field Expr, cmp Comparation, values ...any) *Where {
	return w.Add(And, field, cmp, values...)
}

// Or appends an OR comparison.
func (w *Where) Or(field Expr, cmp Comparation, values ...any) *Where {
	return w.Add(Or, field, cmp, values...)
}

// Parenthesis appends a nested group built by fn.
func (w *Where) Parenthesis(op Operator, fn func(*Where)) *Where {
	g := &Where{}
	fn(g)
	w.items = append(w.items, whereItem{op: op, group: g})
	return w
}

// Empty reports whether the predicate list would compile to nothing.
func (w *Where) Empty() bool {
	if w == nil {
		return true
	}
	for _, it := range w.items {
		if it.cond != nil || !it.group.Empty() {
			return false
		}
	}
	return true
}

func (w *Where) writeTo(b *Binder) {
	first := true
	for _, it := range w.items {
		if it.cond == nil && it.group.Empty() {
			continue
		}
		if !first {
			b.WriteString(it.op.String())
		}
		first = false
		if it.group != nil {
			b.WriteString("(")
			it.group.writeTo(b)
			b.WriteString(")")
			continue
		}
		it.cond.writeTo(b)
	}
}

func writeOperand(b *Binder, v any) {
	switch t := v.(type) {
	case Field:
		t.writeRef(b)
	case *Query:
		b.WriteString("(")
		t.writeTo(b)
		b.WriteString(")")
	default:
		b.Bind(v)
	}
}

func writeList(b *Binder, v any) {
	switch t := v.(type) {
	case *Query:
		writeOperand(b, t)
	case []int64:
		b.WriteString("(")
		for i, id := range t {
			if i > 0 {
				b.WriteString(",")
			}
			b.Bind(id)
		}
		b.WriteString(")")
	case []any:
		b.WriteString("(")
		for i, e := range t {
			if i > 0 {
				b.WriteString(",")
			}
			b.Bind(e)
		}
		b.WriteString(")")
	default:
		b.WriteString("(")
		b.Bind(v)
		b.WriteString(")")
	}
}

func (c *condition) pair(b *Binder, cmp1, cmp2, op string) {
	b.WriteString("(")
	writeOperand(b, c.field)
	b.WriteString(cmp1)
	writeOperand(b, c.v1)
	b.WriteString(op)
	writeOperand(b, c.field)
	b.WriteString(cmp2)
	writeOperand(b, c.v2)
	b.WriteString(")")
}

func (c *condition) single(b *Binder, cmp string) {
	writeOperand(b, c.field)
	b.WriteString(cmp)
	writeOperand(b, c.v1)
}

func (c *condition) writeTo(b *Binder) {
	switch c.cmp {
	case Equal:
		c.single(b, "=")
	case NotEqual:
		c.single(b, "!=")
	case LessThen:
		c.single(b, "<")
	case LessOrEqual:
		c.single(b, "<=")
	case GreatherThen:
		c.single(b, ">")
	case GreatherOrEqual:
		c.single(b, ">=")
	case Includes:
		c.single(b, " @@ ")
	case BetweenValues:
		c.pair(b, ">", "<", " AND ")
	case BetweenEquals:
		c.pair(b, ">=", "<=", " AND ")
	case NotBetweenValues:
		c.pair(b, "<=", ">=", " OR ")
	case NotBetweenEquals:
		c.pair(b, "<", ">", " OR ")
	case In:
		writeOperand(b, c.field)
		b.WriteString(" IN ")
		writeList(b, c.v1)
	case NotIn:
		writeOperand(b, c.field)
		b.WriteString(" NOT IN ")
		writeList(b, c.v1)
	case IsNull:
		writeOperand(b, c.field)
		b.WriteString(" IS NULL")
	case IsNotNull:
		writeOperand(b, c.field)
		b.WriteString(" IS NOT NULL")
	}
}
