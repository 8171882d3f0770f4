package storage

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/rzpsarthak13/serenity/internal/query"
	"github.com/rzpsarthak13/serenity/internal/value"
)

// FilesScheme is the name of the built-in scheme holding file metadata.
const FilesScheme = "__files"

// ViewScheme is the registration of a view field of Owner on the scheme it
// projects. AutoLink, when set, is the Object field of the projected scheme
// pointing back at Owner.
type ViewScheme struct {
	Owner    *Scheme
	Field    *Field
	AutoLink *Field
	Fields   map[string]bool
}

// Scheme is a named collection of fields describing one object kind. Schemes
// are built once, handed to NewRegistry and never mutated afterwards.
type Scheme struct {
	name   string
	delta  bool
	fields map[string]*Field
	order  []string

	views        []*ViewScheme
	forceInclude map[string]bool
	aliases      bool

	registry *Registry
}

// NewScheme creates a scheme. Delta enables history tracking.
func NewScheme(name string, delta bool, fields ...*Field) *Scheme {
	s := &Scheme{
		name:         name,
		delta:        delta,
		fields:       make(map[string]*Field, len(fields)),
		forceInclude: map[string]bool{},
	}
	for _, f := range fields {
		s.fields[f.Name] = f
	}
	s.order = make([]string, 0, len(s.fields))
	for n := range s.fields {
		s.order = append(s.order, n)
	}
	sort.Strings(s.order)
	return s
}

func (s *Scheme) Name() string { return s.name }

// HasDelta reports whether changes are journaled into __delta_<name>.
func (s *Scheme) HasDelta() bool { return s.delta }

// Field returns the named field or nil.
func (s *Scheme) Field(name string) *Field {
	return s.fields[name]
}

// Fields returns every field in name order.
func (s *Scheme) Fields() []*Field {
	out := make([]*Field, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.fields[n])
	}
	return out
}

// Views lists registrations of other schemes' view fields on this one.
func (s *Scheme) Views() []*ViewScheme { return s.views }

// IsForceInclude reports whether the field is always selected.
func (s *Scheme) IsForceInclude(name string) bool { return s.forceInclude[name] }

// ForceInclude lists forced fields in name order.
func (s *Scheme) ForceInclude() []string {
	out := make([]string, 0, len(s.forceInclude))
	for n := range s.forceInclude {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// HasAliases reports whether any text field is an alias.
func (s *Scheme) HasAliases() bool { return s.aliases }

// Registry returns the registry the scheme belongs to.
func (s *Scheme) Registry() *Registry { return s.registry }

var defaultLog = logrus.WithField("component", "storage")

func (s *Scheme) logger() *logrus.Entry {
	if s.registry != nil && s.registry.log != nil {
		return s.registry.log.WithField("scheme", s.name)
	}
	return defaultLog.WithField("scheme", s.name)
}

func (s *Scheme) hasher() PasswordHasher {
	if s.registry != nil {
		return s.registry.hasher
	}
	return nil
}

func (s *Scheme) files() FileStore {
	if s.registry != nil {
		return s.registry.files
	}
	return nil
}

// IsAtomicPatch reports whether a change-set may be applied as a single
// UPDATE ... RETURNING. A patch touching an extra field or a force-included
// field is not atomic: extra fields need a merge against stored data, and
// force-included fields feed views and full text vectors that are rebuilt
// from the whole object.
func (s *Scheme) IsAtomicPatch(patch value.Dict) bool {
	for k := range patch {
		f := s.fields[k]
		if f == nil {
			continue
		}
		if f.Type == TypeExtra || s.forceInclude[k] {
			return false
		}
	}
	return true
}

// ColumnFields lists the fields the handle may put in a select list.
func (s *Scheme) ColumnFields(names []string) []*Field {
	out := make([]*Field, 0, len(names))
	for _, n := range names {
		if f := s.fields[n]; f != nil {
			out = append(out, f)
		}
	}
	return out
}

// addView registers view, a field of owner, on s.
func (s *Scheme) addView(owner *Scheme, view *Field) {
	slot := view.ViewSlot()
	vs := &ViewScheme{Owner: owner, Field: view, Fields: map[string]bool{}}
	for _, name := range slot.Requires {
		if f := s.fields[name]; f != nil {
			vs.Fields[name] = true
			s.forceInclude[name] = true
		}
	}
	if slot.Link == nil {
		for _, n := range slot.Requires {
			if f := s.fields[n]; f != nil && f.Type == TypeObject && f.ForeignScheme() == owner {
				vs.AutoLink = f
				break
			}
		}
	}
	if slot.Link == nil && vs.AutoLink == nil {
		for _, n := range s.order {
			f := s.fields[n]
			if f.Type == TypeObject && f.ForeignScheme() == owner {
				vs.AutoLink = f
				vs.Fields[n] = true
				s.forceInclude[n] = true
				break
			}
		}
	}
	if slot.Link == nil && vs.AutoLink == nil {
		s.logger().WithField("view", owner.name+"."+view.Name).Warn("no link field for view")
	}
	s.views = append(s.views, vs)
}

// fullTextVector computes the vector written into a full text column.
func (s *Scheme) fullTextVector(f *Field, obj value.Dict) query.FullTextVector {
	slot := f.FullTextSlot()
	if slot.Source != nil {
		return slot.Source(s, obj)
	}
	var vec query.FullTextVector
	for _, name := range slot.Requires {
		str, ok := obj[name].(string)
		if !ok || str == "" {
			continue
		}
		vec = append(vec, query.FullTextTerm{Text: str, Language: slot.Language, Rank: slot.Rank})
	}
	return vec
}

// applyFullText fills full text columns whose sources appear in changed.
// It returns the names of updated columns.
func (s *Scheme) applyFullText(obj, changed value.Dict) []string {
	var out []string
	for _, n := range s.order {
		f := s.fields[n]
		slot := f.FullTextSlot()
		if slot == nil {
			continue
		}
		touched := false
		for _, src := range slot.Requires {
			if _, ok := changed[src]; ok {
				touched = true
				break
			}
		}
		if !touched {
			continue
		}
		obj[n] = s.fullTextVector(f, obj)
		out = append(out, n)
	}
	return out
}
