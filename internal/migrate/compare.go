package migrate

import (
	"fmt"
	"strings"

	"github.com/rzpsarthak13/serenity/internal/storage"
)

type compiler struct {
	b *strings.Builder
	n int
}

func (c *compiler) stmt(format string, args ...any) {
	fmt.Fprintf(c.b, format, args...)
	c.b.WriteString(";\n")
	c.n++
}

func onDelete(p storage.RemovePolicy) string {
	switch p {
	case storage.RemoveCascade:
		return "CASCADE"
	case storage.RemoveRestrict:
		return "RESTRICT"
	}
	return "SET NULL"
}

func quoteList(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = `"` + n + `"`
	}
	return strings.Join(q, ", ")
}

// pending is the part of a required table still missing from the catalog.
type pending struct {
	table       *TableRec
	exists      bool
	columns     []string
	constraints []string
	indexes     []string
	triggers    []string
}

// WriteCompareResult writes the DDL turning existing into required and
// returns the number of statements written. Tables present only in
// existing are left alone.
func WriteCompareResult(b *strings.Builder, required, existing Tables) int {
	c := &compiler{b: b}
	var plan []*pending

	for _, name := range required.Names() {
		req := required[name]
		p := &pending{table: req}
		plan = append(plan, p)

		ex := existing[name]
		if ex == nil {
			p.columns = sortedKeys(req.Columns)
			p.constraints = sortedKeys(req.Constraints)
			p.indexes = sortedKeys(req.Indexes)
			p.triggers = sortedKeys(req.Triggers)
			continue
		}
		p.exists = true
		dropped := map[string]bool{}

		for _, idx := range sortedKeys(ex.Indexes) {
			if _, ok := req.Indexes[idx]; !ok {
				c.stmt(`DROP INDEX IF EXISTS "%s"`, idx)
			}
		}
		for _, cst := range sortedKeys(ex.Constraints) {
			if _, ok := req.Constraints[cst]; !ok {
				c.stmt(`ALTER TABLE %s DROP CONSTRAINT IF EXISTS "%s"`, name, cst)
			}
		}
		for _, col := range sortedKeys(ex.Columns) {
			exCol := ex.Columns[col]
			reqCol, ok := req.Columns[col]
			if !ok {
				c.stmt(`ALTER TABLE %s DROP COLUMN IF EXISTS "%s"`, name, col)
				continue
			}
			reqType := reqCol.Type
			if reqType == ColumnSerial {
				reqType = ColumnInteger
			}
			if exCol.Type == ColumnNone || exCol.Type != reqType {
				c.stmt(`ALTER TABLE %s DROP COLUMN IF EXISTS "%s"`, name, col)
				dropped[col] = true
				continue
			}
			if exCol.NotNull != reqCol.NotNull {
				if exCol.NotNull {
					c.stmt(`ALTER TABLE %s ALTER COLUMN "%s" DROP NOT NULL`, name, col)
				} else {
					c.stmt(`ALTER TABLE %s ALTER COLUMN "%s" SET NOT NULL`, name, col)
				}
			}
		}
		for _, tr := range sortedKeys(ex.Triggers) {
			if _, ok := req.Triggers[tr]; !ok {
				c.stmt(`DROP TRIGGER IF EXISTS "%s" ON "%s"`, tr, name)
				c.stmt(`DROP FUNCTION IF EXISTS "%s_func"()`, tr)
			}
		}

		for _, col := range sortedKeys(req.Columns) {
			exCol, ok := ex.Columns[col]
			reqType := req.Columns[col].Type
			if reqType == ColumnSerial {
				reqType = ColumnInteger
			}
			if !ok || exCol.Type == ColumnNone || exCol.Type != reqType {
				p.columns = append(p.columns, col)
			}
		}
		// Dropping a column takes its constraints and indexes with it.
		for _, cst := range sortedKeys(req.Constraints) {
			if _, ok := ex.Constraints[cst]; !ok || anyDropped(dropped, req.Constraints[cst].Fields...) {
				p.constraints = append(p.constraints, cst)
			}
		}
		for _, idx := range sortedKeys(req.Indexes) {
			if _, ok := ex.Indexes[idx]; !ok || dropped[req.Indexes[idx].Column] {
				p.indexes = append(p.indexes, idx)
			}
		}
		for _, tr := range sortedKeys(req.Triggers) {
			if _, ok := ex.Triggers[tr]; !ok {
				p.triggers = append(p.triggers, tr)
			}
		}
	}

	for _, p := range plan {
		if p.exists {
			for _, col := range p.columns {
				c.stmt(`ALTER TABLE %s ADD COLUMN %s`, p.table.Name, columnDef(col, p.table.Columns[col]))
			}
			continue
		}
		c.createTable(p.table)
	}

	for _, p := range plan {
		for _, name := range p.constraints {
			c.constraint(p.table.Name, name, p.table.Constraints[name])
		}
	}

	for _, p := range plan {
		for _, name := range p.indexes {
			idx := p.table.Indexes[name]
			if idx.Method != "" {
				c.stmt(`CREATE INDEX IF NOT EXISTS "%s" ON %s USING %s ( "%s" )`, name, p.table.Name, idx.Method, idx.Column)
			} else {
				c.stmt(`CREATE INDEX IF NOT EXISTS "%s" ON %s ( "%s" )`, name, p.table.Name, idx.Column)
			}
		}
		for _, name := range p.triggers {
			writeTrigger(c.b, p.table, name, p.table.Triggers[name])
			c.n += 2
		}
	}
	return c.n
}

func anyDropped(dropped map[string]bool, cols ...string) bool {
	for _, c := range cols {
		if dropped[c] {
			return true
		}
	}
	return false
}

func columnDef(name string, col Column) string {
	if col.NotNull {
		return fmt.Sprintf(`"%s" %s NOT NULL`, name, col.Type)
	}
	return fmt.Sprintf(`"%s" %s`, name, col.Type)
}

func (c *compiler) createTable(t *TableRec) {
	fmt.Fprintf(c.b, "CREATE TABLE IF NOT EXISTS %s (\n", t.Name)
	for i, col := range sortedKeys(t.Columns) {
		if i > 0 {
			c.b.WriteString(",\n")
		}
		c.b.WriteString("\t" + columnDef(col, t.Columns[col]))
	}
	if len(t.PrimaryKey) > 0 {
		if len(t.Columns) > 0 {
			c.b.WriteString(",\n")
		}
		fmt.Fprintf(c.b, "\tPRIMARY KEY (%s)", quoteList(t.PrimaryKey))
	}
	c.b.WriteString("\n)")
	if t.Objects {
		c.b.WriteString(" INHERITS (__objects)")
	}
	c.b.WriteString(";\n\n")
	c.n++
}

func (c *compiler) constraint(table, name string, cst Constraint) {
	switch cst.Kind {
	case ConstraintUnique:
		c.stmt(`ALTER TABLE %s ADD CONSTRAINT "%s" UNIQUE ( %s )`, table, name, quoteList(cst.Fields))
	case ConstraintReference:
		c.stmt(`ALTER TABLE %s ADD CONSTRAINT "%s" FOREIGN KEY (%s) REFERENCES %s ( "__oid" ) ON DELETE %s`,
			table, name, quoteList(cst.Fields), cst.Reference, onDelete(cst.OnRemove))
	}
}
