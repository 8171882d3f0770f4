// Package migrate reflects the scheme registry into the tables, constraints,
// indexes and triggers PostgreSQL needs, reads the same description back
// from a live catalog and compiles the difference into migration DDL.
package migrate

import (
	"sort"
	"strings"

	"github.com/rzpsarthak13/serenity/internal/storage"
)

// ColumnType is the storage class of a column.
type ColumnType int

const (
	ColumnNone ColumnType = iota
	ColumnBinary
	ColumnInteger
	ColumnSerial
	ColumnFloat
	ColumnBoolean
	ColumnText
	ColumnTsVector
)

// String returns the SQL type name used in DDL.
func (t ColumnType) String() string {
	switch t {
	case ColumnBinary:
		return "bytea"
	case ColumnInteger:
		return "bigint"
	case ColumnSerial:
		return "bigserial"
	case ColumnFloat:
		return "double precision"
	case ColumnBoolean:
		return "boolean"
	case ColumnText:
		return "text"
	case ColumnTsVector:
		return "tsvector"
	}
	return ""
}

// ParseColumnType maps an information_schema data_type back to a column
// type. Unknown types map to ColumnNone, which always compares unequal.
func ParseColumnType(dataType string) ColumnType {
	switch dataType {
	case "bigint":
		return ColumnInteger
	case "boolean":
		return ColumnBoolean
	case "double precision":
		return ColumnFloat
	case "text":
		return ColumnText
	case "bytea":
		return ColumnBinary
	case "tsvector":
		return ColumnTsVector
	}
	return ColumnNone
}

// Column is one column of a table.
type Column struct {
	Type    ColumnType
	NotNull bool
}

// ConstraintKind is the kind of a table constraint.
type ConstraintKind int

const (
	ConstraintUnique ConstraintKind = iota
	ConstraintReference
)

// Constraint is a UNIQUE or FOREIGN KEY constraint. Introspected constraints
// carry only their kind.
type Constraint struct {
	Kind      ConstraintKind
	Fields    []string
	Reference string
	OnRemove  storage.RemovePolicy
}

// Index is a single-column index.
type Index struct {
	Column string
	Method string
}

// TriggerKind selects the body template of a trigger.
type TriggerKind int

const (
	TriggerAfter TriggerKind = iota
	TriggerBefore
	TriggerViewDelta
)

// TableRec describes one table either as required by the registry or as
// found in the catalog.
type TableRec struct {
	Name        string
	Columns     map[string]Column
	Constraints map[string]Constraint
	Indexes     map[string]Index
	PrimaryKey  []string
	Triggers    map[string]TriggerKind

	// Objects tables inherit __oid from __objects.
	Objects bool

	scheme    *storage.Scheme
	viewOwner *storage.Scheme
	viewField *storage.Field
	exists    bool
}

// Tables is a set of tables by name.
type Tables map[string]*TableRec

func newTable(name string) *TableRec {
	return &TableRec{
		Name:        name,
		Columns:     map[string]Column{},
		Constraints: map[string]Constraint{},
		Indexes:     map[string]Index{},
		Triggers:    map[string]TriggerKind{},
	}
}

// Names returns the table names in order.
func (t Tables) Names() []string {
	out := make([]string, 0, len(t))
	for n := range t {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DeltaTable is the change log table of a delta scheme.
func DeltaTable(s *storage.Scheme) string {
	return "__delta_" + s.Name()
}

// columnFor maps a simple field type to its column type.
func columnFor(t storage.Type) (ColumnType, bool) {
	switch t {
	case storage.TypeFloat:
		return ColumnFloat, true
	case storage.TypeBoolean:
		return ColumnBoolean, true
	case storage.TypeText:
		return ColumnText, true
	case storage.TypeData, storage.TypeBytes, storage.TypeExtra:
		return ColumnBinary, true
	case storage.TypeInteger, storage.TypeFile, storage.TypeImage, storage.TypeObject:
		return ColumnInteger, true
	case storage.TypeFullTextView:
		return ColumnTsVector, true
	}
	return ColumnNone, false
}

func isAlias(f *storage.Field) bool {
	return f.Type == storage.TypeText && f.Transform == storage.TransformAlias
}

// Parse builds the tables the registry requires.
func Parse(reg *storage.Registry) Tables {
	tables := Tables{}
	for _, s := range reg.Schemes() {
		tables[s.Name()] = schemeTable(s)
		for _, f := range s.Fields() {
			switch f.Type {
			case storage.TypeSet:
				if f.IsReference() && f.ForeignScheme() != nil {
					t := setTable(s, f)
					tables[t.Name] = t
				}
			case storage.TypeArray:
				if el := f.Element(); el != nil && el.IsSimpleLayout() {
					t := arrayTable(s, f)
					tables[t.Name] = t
				}
			case storage.TypeView:
				if f.ForeignScheme() == nil {
					continue
				}
				t := viewTable(s, f)
				tables[t.Name] = t
				if slot := f.ViewSlot(); slot.Delta {
					d := viewDeltaTable(s, f)
					tables[d.Name] = d
				}
			}
		}
		if s.HasDelta() {
			t := deltaTable(s)
			tables[t.Name] = t
		}
	}
	return tables
}

func schemeTable(s *storage.Scheme) *TableRec {
	name := s.Name()
	t := newTable(name)
	t.Objects = true
	t.scheme = s
	t.PrimaryKey = []string{"__oid"}

	for _, f := range s.Fields() {
		typ, ok := columnFor(f.Type)
		if !ok {
			continue
		}
		t.Columns[f.Name] = Column{Type: typ, NotNull: f.HasFlag(storage.FlagRequired)}

		switch {
		case f.Type == storage.TypeObject:
			if target := f.ForeignScheme(); target != nil {
				t.Constraints[name+"_ref_"+f.Name+"_"+target.Name()] = Constraint{
					Kind:      ConstraintReference,
					Fields:    []string{f.Name},
					Reference: target.Name(),
					OnRemove:  f.RemovePolicy(),
				}
			}
			t.Indexes[name+"_idx_"+f.Name] = Index{Column: f.Name}
		case f.IsFile():
			t.Constraints[name+"_ref_"+f.Name] = Constraint{
				Kind:      ConstraintReference,
				Fields:    []string{f.Name},
				Reference: storage.FilesScheme,
				OnRemove:  storage.RemoveNull,
			}
		case f.Type == storage.TypeFullTextView:
			t.Indexes[name+"_idx_"+f.Name] = Index{Column: f.Name, Method: "GIN"}
		}

		if isAlias(f) || f.HasFlag(storage.FlagUnique) {
			t.Constraints[name+"_unique_"+f.Name] = Constraint{Kind: ConstraintUnique, Fields: []string{f.Name}}
		}
		if isAlias(f) || (f.HasFlag(storage.FlagIndexed) && !f.HasFlag(storage.FlagUnique) && f.Type != storage.TypeFullTextView) {
			t.Indexes[name+"_idx_"+f.Name] = Index{Column: f.Name}
		}
	}

	if desc, ok := afterTriggerDesc(s); ok {
		t.Triggers[triggerName("_tr_a_", name, desc)] = TriggerAfter
	}
	if desc, ok := beforeTriggerDesc(s); ok {
		t.Triggers[triggerName("_tr_b_", name, desc)] = TriggerBefore
	}
	return t
}

func setTable(s *storage.Scheme, f *storage.Field) *TableRec {
	source := s.Name()
	target := f.ForeignScheme().Name()
	name := strings.ToLower(source + "_f_" + f.Name)
	t := newTable(name)
	t.Columns[source+"_id"] = Column{Type: ColumnInteger, NotNull: true}
	t.Columns[target+"_id"] = Column{Type: ColumnInteger, NotNull: true}
	t.Constraints[name+"_ref_"+source] = Constraint{
		Kind: ConstraintReference, Fields: []string{source + "_id"}, Reference: source, OnRemove: storage.RemoveCascade,
	}
	t.Constraints[name+"_ref_"+f.Name] = Constraint{
		Kind: ConstraintReference, Fields: []string{target + "_id"}, Reference: target, OnRemove: storage.RemoveCascade,
	}
	t.Indexes[name+"_idx_"+source] = Index{Column: source + "_id"}
	t.Indexes[name+"_idx_"+target] = Index{Column: target + "_id"}
	t.PrimaryKey = []string{source + "_id", target + "_id"}
	return t
}

func arrayTable(s *storage.Scheme, f *storage.Field) *TableRec {
	source := s.Name()
	name := source + "_f_" + f.Name
	t := newTable(name)
	t.Columns["id"] = Column{Type: ColumnSerial, NotNull: true}
	t.Columns[source+"_id"] = Column{Type: ColumnInteger, NotNull: true}
	if typ, ok := columnFor(f.Element().Type); ok {
		t.Columns["data"] = Column{Type: typ}
	}
	t.Constraints[name+"_ref_"+source] = Constraint{
		Kind: ConstraintReference, Fields: []string{source + "_id"}, Reference: source, OnRemove: storage.RemoveCascade,
	}
	if f.HasFlag(storage.FlagUnique) {
		t.Constraints[name+"_unique"] = Constraint{Kind: ConstraintUnique, Fields: []string{source + "_id", "data"}}
	}
	t.Indexes[name+"_idx_"+source] = Index{Column: source + "_id"}
	t.PrimaryKey = []string{"id"}
	return t
}

func viewTable(s *storage.Scheme, f *storage.Field) *TableRec {
	source := s.Name()
	target := f.ForeignScheme().Name()
	name := source + "_f_" + f.Name + "_view"
	t := newTable(name)
	t.viewOwner = s
	t.viewField = f
	t.Columns["__vid"] = Column{Type: ColumnSerial, NotNull: true}
	t.Columns[source+"_id"] = Column{Type: ColumnInteger, NotNull: true}
	t.Columns[target+"_id"] = Column{Type: ColumnInteger, NotNull: true}

	slot := f.ViewSlot()
	for _, fname := range sortedKeys(slot.Fields) {
		vf := slot.Fields[fname]
		typ, ok := columnFor(vf.Type)
		if !ok || !vf.IsSimpleLayout() {
			continue
		}
		t.Columns[fname] = Column{Type: typ}
		if vf.HasFlag(storage.FlagIndexed) {
			t.Indexes[name+"_idx_"+fname] = Index{Column: fname}
		}
	}

	t.Constraints[name+"_ref_"+source] = Constraint{
		Kind: ConstraintReference, Fields: []string{source + "_id"}, Reference: source, OnRemove: storage.RemoveCascade,
	}
	t.Constraints[name+"_ref_"+f.Name] = Constraint{
		Kind: ConstraintReference, Fields: []string{target + "_id"}, Reference: target, OnRemove: storage.RemoveCascade,
	}
	t.Indexes[name+"_idx_"+source+"_id"] = Index{Column: source + "_id"}
	t.Indexes[name+"_idx_"+target+"_id"] = Index{Column: target + "_id"}
	t.PrimaryKey = []string{"__vid"}

	if f.ViewSlot().Delta {
		t.Triggers[triggerName("_trig_", name, viewDeltaDesc(s, f))] = TriggerViewDelta
	}
	return t
}

func viewDeltaTable(s *storage.Scheme, f *storage.Field) *TableRec {
	name := s.Name() + "_f_" + f.Name + "_delta"
	t := newTable(name)
	t.Columns["id"] = Column{Type: ColumnSerial, NotNull: true}
	t.Columns["tag"] = Column{Type: ColumnInteger, NotNull: true}
	t.Columns["object"] = Column{Type: ColumnInteger, NotNull: true}
	t.Columns["time"] = Column{Type: ColumnInteger, NotNull: true}
	t.Columns["user"] = Column{Type: ColumnInteger}
	t.PrimaryKey = []string{"id"}
	t.Indexes[name+"_idx_tag"] = Index{Column: "tag"}
	t.Indexes[name+"_idx_object"] = Index{Column: "object"}
	t.Indexes[name+"_idx_time"] = Index{Column: "time"}
	return t
}

func deltaTable(s *storage.Scheme) *TableRec {
	name := DeltaTable(s)
	t := newTable(name)
	t.Columns["id"] = Column{Type: ColumnSerial, NotNull: true}
	t.Columns["object"] = Column{Type: ColumnInteger, NotNull: true}
	t.Columns["time"] = Column{Type: ColumnInteger, NotNull: true}
	t.Columns["action"] = Column{Type: ColumnInteger, NotNull: true}
	t.Columns["user"] = Column{Type: ColumnInteger}
	t.PrimaryKey = []string{"id"}
	t.Indexes[name+"_idx_object"] = Index{Column: "object"}
	t.Indexes[name+"_idx_time"] = Index{Column: "time"}
	return t
}
