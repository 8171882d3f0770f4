package migrate

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/rzpsarthak13/serenity/internal/query"
	"github.com/rzpsarthak13/serenity/internal/storage"
)

// triggerVersion is mixed into every trigger hash. Bump it when a body
// template changes so that existing triggers are replaced.
const triggerVersion = 11

// maxTriggerName keeps generated names under the identifier limit.
const maxTriggerName = 56

const (
	deltaCreate = 1
	deltaUpdate = 2
	deltaDelete = 3
)

// triggerName derives a stable name from the semantic description of a
// trigger body, so it only changes when the body would. Long table names
// are cut; the hash is always kept whole.
func triggerName(prefix, table, desc string) string {
	hash := fmt.Sprintf("_%016x", xxh3.HashString(fmt.Sprintf("%d:%s", triggerVersion, desc)))
	head := prefix + table
	if len(head)+len(hash) > maxTriggerName {
		head = head[:maxTriggerName-len(hash)]
	}
	return head + hash
}

func strongReference(f *storage.Field) bool {
	return f.RemovePolicy() == storage.RemoveStrongReference && f.ForeignScheme() != nil
}

// afterTriggerDesc describes the AFTER trigger of s: file cleanup, owned
// objects and the delta log.
func afterTriggerDesc(s *storage.Scheme) (string, bool) {
	var b strings.Builder
	if s.HasDelta() {
		b.WriteString(":delta:")
	}
	for _, f := range s.Fields() {
		switch {
		case f.IsFile():
			fmt.Fprintf(&b, "%s%d;", f.Name, f.Type)
		case f.Type == storage.TypeObject && strongReference(f):
			fmt.Fprintf(&b, "%s%d>%s;", f.Name, f.Type, f.ForeignScheme().Name())
		}
	}
	return b.String(), b.Len() > 0
}

// beforeTriggerDesc describes the BEFORE DELETE trigger removing members of
// strongly referenced sets.
func beforeTriggerDesc(s *storage.Scheme) (string, bool) {
	var b strings.Builder
	for _, f := range s.Fields() {
		if f.Type == storage.TypeSet && f.IsReference() && strongReference(f) {
			fmt.Fprintf(&b, "%s%d>%s;", f.Name, f.Type, f.ForeignScheme().Name())
		}
	}
	return b.String(), b.Len() > 0
}

func viewDeltaDesc(owner *storage.Scheme, view *storage.Field) string {
	return fmt.Sprintf("%s_f_%s_delta:%s", owner.Name(), view.Name, view.ForeignScheme().Name())
}

func expr(e query.Expr) string {
	b := query.NewBinder()
	b.Bind(e)
	return b.String()
}

var (
	nowExpr = expr(query.Coalesce{
		query.Setting("serenity.now"),
		query.Raw("(extract(epoch from clock_timestamp()) * 1000000)::bigint"),
	})
	userExpr = expr(query.Setting("serenity.user"))
)

func writeFunctionHead(b *strings.Builder, name string) {
	fmt.Fprintf(b, "CREATE OR REPLACE FUNCTION %s_func() RETURNS TRIGGER AS $%s$ BEGIN\n", name, name)
}

func writeFunctionTail(b *strings.Builder, name, ret string) {
	fmt.Fprintf(b, "\tEND IF;\n\tRETURN %s;\nEND; $%s$ LANGUAGE plpgsql;\n", ret, name)
}

func writeDeltaInsert(b *strings.Builder, s *storage.Scheme, row string, action int) {
	fmt.Fprintf(b, "\t\tINSERT INTO %s(\"object\",\"action\",\"time\",\"user\") VALUES(%s.__oid,%d,%s,%s);\n",
		DeltaTable(s), row, action, nowExpr, userExpr)
}

func writeFileUpdate(b *strings.Builder, f *storage.Field) {
	n := f.Name
	fmt.Fprintf(b, "\t\tIF (NEW.\"%s\" IS NULL OR OLD.\"%s\" <> NEW.\"%s\") THEN\n", n, n, n)
	fmt.Fprintf(b, "\t\t\tIF (OLD.\"%s\" IS NOT NULL) THEN\n", n)
	fmt.Fprintf(b, "\t\t\t\tINSERT INTO __removed (__oid) VALUES (OLD.\"%s\");\n", n)
	b.WriteString("\t\t\tEND IF;\n\t\tEND IF;\n")
}

func writeFileRemove(b *strings.Builder, f *storage.Field) {
	fmt.Fprintf(b, "\t\tIF (OLD.\"%s\" IS NOT NULL) THEN\n", f.Name)
	fmt.Fprintf(b, "\t\t\tINSERT INTO __removed (__oid) VALUES (OLD.\"%s\");\n", f.Name)
	b.WriteString("\t\tEND IF;\n")
}

func writeObjectUpdate(b *strings.Builder, f *storage.Field) {
	n := f.Name
	fmt.Fprintf(b, "\t\tIF (NEW.\"%s\" IS NULL OR OLD.\"%s\" <> NEW.\"%s\") THEN\n", n, n, n)
	fmt.Fprintf(b, "\t\t\tIF (OLD.\"%s\" IS NOT NULL) THEN\n", n)
	fmt.Fprintf(b, "\t\t\t\tDELETE FROM %s WHERE __oid=OLD.\"%s\";\n", f.ForeignScheme().Name(), n)
	b.WriteString("\t\t\tEND IF;\n\t\tEND IF;\n")
}

func writeObjectRemove(b *strings.Builder, f *storage.Field) {
	fmt.Fprintf(b, "\t\tIF (OLD.\"%s\" IS NOT NULL) THEN\n", f.Name)
	fmt.Fprintf(b, "\t\t\tDELETE FROM %s WHERE __oid=OLD.\"%s\";\n", f.ForeignScheme().Name(), f.Name)
	b.WriteString("\t\tEND IF;\n")
}

// writeAfterTrigger emits the function and trigger keeping files, owned
// objects and the delta log of s consistent.
func writeAfterTrigger(b *strings.Builder, s *storage.Scheme, name string) {
	writeFunctionHead(b, name)
	b.WriteString("\tIF (TG_OP = 'INSERT') THEN\n")
	if s.HasDelta() {
		writeDeltaInsert(b, s, "NEW", deltaCreate)
	}
	b.WriteString("\tELSIF (TG_OP = 'UPDATE') THEN\n")
	for _, f := range s.Fields() {
		switch {
		case f.IsFile():
			writeFileUpdate(b, f)
		case f.Type == storage.TypeObject && strongReference(f):
			writeObjectUpdate(b, f)
		}
	}
	if s.HasDelta() {
		writeDeltaInsert(b, s, "NEW", deltaUpdate)
	}
	b.WriteString("\tELSIF (TG_OP = 'DELETE') THEN\n")
	for _, f := range s.Fields() {
		switch {
		case f.IsFile():
			writeFileRemove(b, f)
		case f.Type == storage.TypeObject && strongReference(f):
			writeObjectRemove(b, f)
		}
	}
	if s.HasDelta() {
		writeDeltaInsert(b, s, "OLD", deltaDelete)
	}
	writeFunctionTail(b, name, "NULL")
	fmt.Fprintf(b, "CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE PROCEDURE %s_func();\n",
		name, s.Name(), name)
}

// writeBeforeTrigger emits the function and trigger deleting the members of
// strongly referenced sets before their owner goes away.
func writeBeforeTrigger(b *strings.Builder, s *storage.Scheme, name string) {
	writeFunctionHead(b, name)
	b.WriteString("\tIF (TG_OP = 'DELETE') THEN\n")
	for _, f := range s.Fields() {
		if f.Type != storage.TypeSet || !f.IsReference() || !strongReference(f) {
			continue
		}
		target := f.ForeignScheme().Name()
		fmt.Fprintf(b, "\t\tDELETE FROM %s WHERE __oid IN (SELECT %s_id FROM %s WHERE %s_id=OLD.__oid);\n",
			target, target, strings.ToLower(s.Name()+"_f_"+f.Name), s.Name())
	}
	writeFunctionTail(b, name, "OLD")
	fmt.Fprintf(b, "CREATE TRIGGER %s BEFORE DELETE ON %s FOR EACH ROW EXECUTE PROCEDURE %s_func();\n",
		name, s.Name(), name)
}

// writeViewDeltaTrigger emits the trigger journaling view row changes into
// the delta table of the view.
func writeViewDeltaTrigger(b *strings.Builder, t *TableRec, name string) {
	deltaName := strings.TrimSuffix(t.Name, "_view") + "_delta"
	tag := t.viewOwner.Name() + "_id"
	obj := t.viewField.ForeignScheme().Name() + "_id"
	insert := func(row string) {
		fmt.Fprintf(b, "\t\tINSERT INTO %s (\"tag\", \"object\", \"time\", \"user\") VALUES(%s.\"%s\",%s.\"%s\",%s,%s);\n",
			deltaName, row, tag, row, obj, nowExpr, userExpr)
	}

	writeFunctionHead(b, name)
	b.WriteString("\tIF (TG_OP = 'INSERT') THEN\n")
	insert("NEW")
	b.WriteString("\tELSIF (TG_OP = 'UPDATE') THEN\n")
	insert("OLD")
	b.WriteString("\tELSIF (TG_OP = 'DELETE') THEN\n")
	insert("OLD")
	writeFunctionTail(b, name, "NULL")
	fmt.Fprintf(b, "CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE PROCEDURE %s_func();\n",
		name, t.Name, name)
}

// writeTrigger dispatches on the kind of a required trigger.
func writeTrigger(b *strings.Builder, t *TableRec, name string, kind TriggerKind) {
	switch kind {
	case TriggerAfter:
		if t.scheme != nil {
			writeAfterTrigger(b, t.scheme, name)
		}
	case TriggerBefore:
		if t.scheme != nil {
			writeBeforeTrigger(b, t.scheme, name)
		}
	case TriggerViewDelta:
		if t.viewOwner != nil && t.viewField != nil {
			writeViewDeltaTrigger(b, t, name)
		}
	}
}
