// Package query builds PostgreSQL statements as a typed tree and compiles
// them into text plus a positional parameter list through a single Binder.
package query

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rzpsarthak13/serenity/internal/value"
)

// Expr is a node that knows how to write itself through a Binder.
type Expr interface {
	writeTo(b *Binder)
}

// Binder accumulates statement text and bound parameters.
type Binder struct {
	buf    strings.Builder
	params []any
}

// NewBinder returns an empty binder.
func NewBinder() *Binder {
	return &Binder{}
}

// WriteString appends trusted statement text.
func (b *Binder) WriteString(s string) {
	b.buf.WriteString(s)
}

// String returns the statement text.
func (b *Binder) String() string {
	return b.buf.String()
}

// Params returns the bound parameters in placeholder order.
func (b *Binder) Params() []any {
	return b.params
}

// Clear resets both buffers so the binder can be reused.
func (b *Binder) Clear() {
	b.buf.Reset()
	b.params = nil
}

func (b *Binder) placeholder(v any, typ string) {
	b.params = append(b.params, v)
	b.buf.WriteByte('$')
	b.buf.WriteString(strconv.Itoa(len(b.params)))
	b.buf.WriteString("::")
	b.buf.WriteString(typ)
}

// Bind writes v into the statement. Text and bytes always travel as
// parameters; booleans, integers and floats are inlined as literals.
func (b *Binder) Bind(v any) {
	switch t := v.(type) {
	case nil:
		b.buf.WriteString("NULL")
	case Expr:
		t.writeTo(b)
	case bool:
		if t {
			b.buf.WriteString("TRUE")
		} else {
			b.buf.WriteString("FALSE")
		}
	case int:
		b.buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int8:
		b.buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int16:
		b.buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int32:
		b.buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		b.buf.WriteString(strconv.FormatInt(t, 10))
	case uint:
		b.buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint8:
		b.buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint16:
		b.buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint32:
		b.buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint64:
		b.buf.WriteString(strconv.FormatUint(t, 10))
	case float32:
		b.writeFloat(float64(t))
	case float64:
		b.writeFloat(t)
	case time.Time:
		b.buf.WriteString(strconv.FormatInt(t.UnixMicro(), 10))
	case string:
		b.placeholder(t, "text")
	case []byte:
		b.placeholder(t, "bytea")
	case map[string]any, []any:
		b.placeholder(value.MustEncode(t), "bytea")
	default:
		b.placeholder(value.ToString(t), "text")
	}
}

func (b *Binder) writeFloat(f float64) {
	switch {
	case math.IsNaN(f):
		b.buf.WriteString("'NaN'::float8")
	case math.IsInf(f, 1):
		b.buf.WriteString("'Infinity'::float8")
	case math.IsInf(f, -1):
		b.buf.WriteString("'-Infinity'::float8")
	default:
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		b.buf.WriteString(s)
	}
}

// Force sends any value through the binary encoding as bytea.
type Force struct {
	V any
}

func (f Force) writeTo(b *Binder) {
	b.placeholder(value.MustEncode(f.V), "bytea")
}

// Typed binds V as a parameter with an explicit cast, e.g. inet.
type Typed struct {
	V    any
	Type string
}

func (t Typed) writeTo(b *Binder) {
	if t.V == nil {
		b.buf.WriteString("NULL")
		return
	}
	switch v := t.V.(type) {
	case []byte:
		b.placeholder(v, t.Type)
	default:
		b.placeholder(value.ToString(v), t.Type)
	}
}

// Cast writes V through Bind and appends a column cast suffix, used for
// field-typed writes where the literal type must match the column.
type Cast struct {
	V    any
	Type string
}

func (c Cast) writeTo(b *Binder) {
	b.Bind(c.V)
	if c.V != nil && c.Type != "" {
		if _, isExpr := c.V.(Expr); !isExpr {
			b.buf.WriteString("::")
			b.buf.WriteString(c.Type)
		}
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
