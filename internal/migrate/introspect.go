package migrate

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rzpsarthak13/serenity/internal/core"
)

// Executor runs the raw statements of a migration. *handle.Handle
// implements it.
type Executor interface {
	PerformSimpleQuery(ctx context.Context, text string) bool
	PerformSimpleSelect(ctx context.Context, text string, fn func(res *core.Result)) bool
	LastError() core.Info
}

const (
	tablesQuery = `SELECT table_name FROM information_schema.tables WHERE table_schema='public' AND table_type='BASE TABLE';`

	columnsQuery = `SELECT table_name, column_name, is_nullable::text, data_type::text FROM information_schema.columns WHERE table_schema='public';`

	constraintsQuery = `SELECT table_name, constraint_name, constraint_type::text FROM information_schema.table_constraints WHERE table_schema='public' AND constraint_type IN ('UNIQUE', 'FOREIGN KEY');`

	indexesQuery = `WITH tables AS (SELECT table_name AS name FROM information_schema.tables WHERE table_schema='public' AND table_type='BASE TABLE')
SELECT pg_class.relname AS table_name, i.relname AS index_name, array_to_string(array_agg(a.attname), ', ') AS column_names
FROM pg_class INNER JOIN tables ON (tables.name = pg_class.relname), pg_class i, pg_index ix, pg_attribute a
WHERE pg_class.oid = ix.indrelid
	AND i.oid = ix.indexrelid
	AND a.attrelid = pg_class.oid
	AND a.attnum = ANY(ix.indkey)
	AND pg_class.relkind = 'r'
GROUP BY pg_class.relname, i.relname ORDER BY pg_class.relname, i.relname;`

	triggersQuery = `SELECT event_object_table, trigger_name FROM information_schema.triggers WHERE trigger_schema='public';`
)

func triggerKind(name string) TriggerKind {
	switch {
	case strings.HasPrefix(name, "_tr_b_"):
		return TriggerBefore
	case strings.HasPrefix(name, "_trig_"):
		return TriggerViewDelta
	}
	return TriggerAfter
}

// Get reads the tables of the public schema from the catalog. Rows for
// unknown tables are ignored, and the inherited __oid column is skipped.
func Get(ctx context.Context, exec Executor) (Tables, bool) {
	tables := Tables{}
	ok := exec.PerformSimpleSelect(ctx, tablesQuery, func(res *core.Result) {
		for i := 0; i < res.Rows(); i++ {
			t := newTable(res.ToString(i, 0))
			t.exists = true
			tables[t.Name] = t
		}
	})
	if !ok {
		return nil, false
	}

	ok = exec.PerformSimpleSelect(ctx, columnsQuery, func(res *core.Result) {
		for i := 0; i < res.Rows(); i++ {
			t := tables[res.ToString(i, 0)]
			name := res.ToString(i, 1)
			if t == nil || name == "__oid" {
				continue
			}
			t.Columns[name] = Column{
				Type:    ParseColumnType(res.ToString(i, 3)),
				NotNull: res.ToString(i, 2) == "NO",
			}
		}
	})
	if !ok {
		return nil, false
	}

	ok = exec.PerformSimpleSelect(ctx, constraintsQuery, func(res *core.Result) {
		for i := 0; i < res.Rows(); i++ {
			t := tables[res.ToString(i, 0)]
			if t == nil {
				continue
			}
			c := Constraint{Kind: ConstraintUnique}
			if res.ToString(i, 2) == "FOREIGN KEY" {
				c.Kind = ConstraintReference
			}
			t.Constraints[res.ToString(i, 1)] = c
		}
	})
	if !ok {
		return nil, false
	}

	ok = exec.PerformSimpleSelect(ctx, indexesQuery, func(res *core.Result) {
		for i := 0; i < res.Rows(); i++ {
			t := tables[res.ToString(i, 0)]
			name := res.ToString(i, 1)
			if t == nil || !strings.Contains(name, "_idx_") {
				continue
			}
			t.Indexes[name] = Index{Column: res.ToString(i, 2)}
		}
	})
	if !ok {
		return nil, false
	}

	ok = exec.PerformSimpleSelect(ctx, triggersQuery, func(res *core.Result) {
		for i := 0; i < res.Rows(); i++ {
			if t := tables[res.ToString(i, 0)]; t != nil {
				name := res.ToString(i, 1)
				t.Triggers[name] = triggerKind(name)
			}
		}
	})
	if !ok {
		return nil, false
	}
	return tables, true
}

func dumpType(t ColumnType) string {
	if t == ColumnSerial {
		t = ColumnInteger
	}
	if s := t.String(); s != "" {
		return s
	}
	return "unknown"
}

// Dump writes a stable text listing of tables, one item per line, so that
// two listings can be diffed.
func Dump(w io.Writer, tables Tables) {
	for _, name := range tables.Names() {
		t := tables[name]
		fmt.Fprintf(w, "TABLE %s\n", name)
		for _, c := range sortedKeys(t.Columns) {
			col := t.Columns[c]
			if col.NotNull {
				fmt.Fprintf(w, "\tCOLUMN %s %s NOT NULL\n", c, dumpType(col.Type))
			} else {
				fmt.Fprintf(w, "\tCOLUMN %s %s\n", c, dumpType(col.Type))
			}
		}
		for _, c := range sortedKeys(t.Constraints) {
			kind := "UNIQUE"
			if t.Constraints[c].Kind == ConstraintReference {
				kind = "FOREIGN KEY"
			}
			fmt.Fprintf(w, "\tCONSTRAINT %s %s\n", c, kind)
		}
		for _, idx := range sortedKeys(t.Indexes) {
			fmt.Fprintf(w, "\tINDEX %s (%s)\n", idx, t.Indexes[idx].Column)
		}
		for _, tr := range sortedKeys(t.Triggers) {
			fmt.Fprintf(w, "\tTRIGGER %s\n", tr)
		}
	}
}
