package storage

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownScheme   = errors.New("unknown scheme")
	ErrDuplicateScheme = errors.New("duplicate scheme")
	ErrInvalidName     = errors.New("invalid name")
	ErrInvalidField    = errors.New("invalid field")
)

// identRe admits names PostgreSQL keeps unchanged when unquoted, so the
// catalog reports them back as declared.
var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Registry is the immutable set of schemes of one storage.
type Registry struct {
	schemes map[string]*Scheme
	names   []string

	files     FileStore
	hasher    PasswordHasher
	onDropped func(s *Scheme, field string, reason string)
	log       *logrus.Entry
}

// RegistryOption configures a registry.
type RegistryOption func(*Registry)

func WithFileStore(fs FileStore) RegistryOption {
	return func(r *Registry) { r.files = fs }
}

func WithPasswordHasher(h PasswordHasher) RegistryOption {
	return func(r *Registry) { r.hasher = h }
}

func WithLogger(log *logrus.Entry) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// WithDroppedPredicate installs a hook called for select predicates that
// were ignored because the field is not indexed or the comparator does not
// apply to its type.
func WithDroppedPredicate(fn func(s *Scheme, field string, reason string)) RegistryOption {
	return func(r *Registry) { r.onDropped = fn }
}

// NewFilesScheme returns the built-in file metadata scheme.
func NewFilesScheme() *Scheme {
	return NewScheme(FilesScheme, false,
		Text("location"),
		Text("type"),
		Integer("size"),
		Integer("mtime", WithFlags(FlagAutoMTime)),
		Extra("image", WithFields(Integer("width"), Integer("height"))),
	)
}

// NewRegistry validates the schemes, resolves references between them and
// registers view fields on the schemes they project. The __files scheme is
// added when absent.
func NewRegistry(schemes []*Scheme, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		schemes: make(map[string]*Scheme, len(schemes)+1),
		log:     defaultLog,
	}
	for _, o := range opts {
		o(r)
	}

	for _, s := range schemes {
		if s.name != FilesScheme && !identRe.MatchString(s.name) {
			return nil, fmt.Errorf("%w: scheme %q", ErrInvalidName, s.name)
		}
		if _, ok := r.schemes[s.name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateScheme, s.name)
		}
		r.schemes[s.name] = s
	}
	if _, ok := r.schemes[FilesScheme]; !ok {
		r.schemes[FilesScheme] = NewFilesScheme()
	}

	for name, s := range r.schemes {
		if s.registry != nil && s.registry != r {
			return nil, fmt.Errorf("%w: %s already belongs to another registry", ErrDuplicateScheme, name)
		}
		s.registry = r
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)

	for _, name := range r.names {
		if err := r.resolve(r.schemes[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range r.names {
		s := r.schemes[name]
		for _, fn := range s.order {
			f := s.fields[fn]
			if f.Type == TypeView {
				f.ForeignScheme().addView(s, f)
			}
		}
	}
	for _, name := range r.names {
		s := r.schemes[name]
		for _, fn := range s.order {
			if slot := s.fields[fn].FullTextSlot(); slot != nil {
				for _, src := range slot.Requires {
					if s.fields[src] != nil {
						s.forceInclude[src] = true
					}
				}
			}
			if s.fields[fn].HasFlag(FlagForceInclude) {
				s.forceInclude[fn] = true
			}
		}
	}
	return r, nil
}

func (r *Registry) resolve(s *Scheme) error {
	for _, name := range s.order {
		f := s.fields[name]
		if !identRe.MatchString(name) || name == "__oid" {
			return fmt.Errorf("%w: field %q of %s", ErrInvalidName, name, s.name)
		}
		if f.Transform == TransformAlias && f.Type == TypeText {
			s.aliases = true
		}
		switch slot := f.Slot.(type) {
		case *ObjectSlot:
			target := r.schemes[slot.Target]
			if target == nil {
				return fmt.Errorf("%w: %s.%s refers to %q", ErrUnknownScheme, s.name, name, slot.Target)
			}
			slot.scheme = target
			if f.Type == TypeSet && slot.Link == "" && slot.Linkage == LinkageAuto && !f.IsReference() {
				for _, tn := range target.order {
					tf := target.fields[tn]
					if tf.Type == TypeObject && tf.ForeignScheme() == s {
						slot.Link = tn
						break
					}
					if ts, ok := tf.Slot.(*ObjectSlot); ok && tf.Type == TypeObject && ts.Target == s.name {
						slot.Link = tn
						break
					}
				}
			}
			if slot.Link != "" && target.fields[slot.Link] == nil {
				return fmt.Errorf("%w: %s.%s links to missing %s.%s", ErrInvalidField, s.name, name, target.name, slot.Link)
			}
		case *ViewSlot:
			target := r.schemes[slot.Target]
			if target == nil {
				return fmt.Errorf("%w: view %s.%s refers to %q", ErrUnknownScheme, s.name, name, slot.Target)
			}
			slot.scheme = target
		case *ArraySlot:
			if slot.Element == nil || !slot.Element.IsSimpleLayout() {
				return fmt.Errorf("%w: array %s.%s needs a simple element", ErrInvalidField, s.name, name)
			}
		}
	}
	return nil
}

// Scheme returns the named scheme or nil.
func (r *Registry) Scheme(name string) *Scheme {
	return r.schemes[name]
}

// Schemes returns every scheme in name order.
func (r *Registry) Schemes() []*Scheme {
	out := make([]*Scheme, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.schemes[n])
	}
	return out
}

func (r *Registry) Files() FileStore { return r.files }
func (r *Registry) Hasher() PasswordHasher { return r.hasher }
func (r *Registry) Logger() *logrus.Entry { return r.log }

// DroppedPredicate reports an ignored select predicate.
func (r *Registry) DroppedPredicate(s *Scheme, field, reason string) {
	if r == nil {
		return
	}
	if r.onDropped != nil {
		r.onDropped(s, field, reason)
		return
	}
	r.log.WithFields(logrus.Fields{"scheme": s.name, "field": field}).Warn("predicate dropped: ", reason)
}
