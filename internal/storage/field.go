package storage

import (
	"strings"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/serenity/internal/query"
	"github.com/rzpsarthak13/serenity/internal/value"
)

// Type is the kind of a field. The set is closed; every switch over it in
// this module lists each kind explicitly.
type Type int

const (
	TypeNone Type = iota
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeText
	TypeBytes
	TypeData
	TypeExtra
	TypeFile
	TypeImage
	TypeObject
	TypeSet
	TypeArray
	TypeView
	TypeFullTextView
)

var typeNames = map[Type]string{
	TypeNone:         "none",
	TypeInteger:      "integer",
	TypeFloat:        "float",
	TypeBoolean:      "boolean",
	TypeText:         "text",
	TypeBytes:        "bytes",
	TypeData:         "data",
	TypeExtra:        "extra",
	TypeFile:         "file",
	TypeImage:        "image",
	TypeObject:       "object",
	TypeSet:          "set",
	TypeArray:        "array",
	TypeView:         "view",
	TypeFullTextView: "fulltext",
}

func (t Type) String() string {
	return typeNames[t]
}

// ParseType maps a type name to its value.
func ParseType(s string) (Type, bool) {
	s = strings.ToLower(s)
	for t, n := range typeNames {
		if n == s {
			return t, true
		}
	}
	return TypeNone, false
}

// Flags are field attributes.
type Flags uint32

const (
	FlagRequired Flags = 1 << iota
	FlagProtected
	FlagReadOnly
	FlagReference
	FlagUnique
	FlagAutoNamed
	FlagAutoCTime
	FlagAutoMTime
	FlagAutoUser
	FlagIndexed
	FlagAdmin
	FlagForceInclude

	FlagNone Flags = 0
)

var flagNames = map[string]Flags{
	"required":     FlagRequired,
	"protected":    FlagProtected,
	"readonly":     FlagReadOnly,
	"reference":    FlagReference,
	"unique":       FlagUnique,
	"auto-named":   FlagAutoNamed,
	"auto-ctime":   FlagAutoCTime,
	"auto-mtime":   FlagAutoMTime,
	"auto-user":    FlagAutoUser,
	"indexed":      FlagIndexed,
	"admin":        FlagAdmin,
	"forceinclude": FlagForceInclude,
}

// ParseFlag maps a flag name to its value.
func ParseFlag(s string) (Flags, bool) {
	f, ok := flagNames[strings.ToLower(s)]
	return f, ok
}

// Transform is the value normalization applied to text-like fields.
type Transform int

const (
	TransformNone Transform = iota
	TransformText
	TransformIdentifier
	TransformAlias
	TransformUrl
	TransformEmail
	TransformNumber
	TransformHexadecimal
	TransformBase64
	TransformUuid
	TransformPassword
	TransformArray
)

var transformNames = map[string]Transform{
	"none":        TransformNone,
	"text":        TransformText,
	"identifier":  TransformIdentifier,
	"alias":       TransformAlias,
	"url":         TransformUrl,
	"email":       TransformEmail,
	"number":      TransformNumber,
	"hexadecimal": TransformHexadecimal,
	"base64":      TransformBase64,
	"uuid":        TransformUuid,
	"password":    TransformPassword,
	"array":       TransformArray,
}

// ParseTransform maps a transform name to its value.
func ParseTransform(s string) (Transform, bool) {
	t, ok := transformNames[strings.ToLower(s)]
	return t, ok
}

// RemovePolicy governs what happens to references when an object is removed.
type RemovePolicy int

const (
	RemoveNull RemovePolicy = iota
	RemoveCascade
	RemoveRestrict
	RemoveReference
	RemoveStrongReference
)

var removeNames = map[string]RemovePolicy{
	"null":            RemoveNull,
	"cascade":         RemoveCascade,
	"restrict":        RemoveRestrict,
	"reference":       RemoveReference,
	"strongreference": RemoveStrongReference,
}

// ParseRemovePolicy maps a policy name to its value.
func ParseRemovePolicy(s string) (RemovePolicy, bool) {
	p, ok := removeNames[strings.ToLower(s)]
	return p, ok
}

// Linkage selects how the back reference of an object or set is found.
type Linkage int

const (
	LinkageAuto Linkage = iota
	LinkageManual
	LinkageNone
)

// Slot carries the type-specific part of a field.
type Slot interface {
	isSlot()
}

// TextSlot holds length bounds of text, bytes and password fields.
type TextSlot struct {
	MinLength int
	MaxLength int
	Salt      string
}

// ExtraSlot describes the nested typed dictionary of an Extra field.
type ExtraSlot struct {
	Fields map[string]*Field
}

// FileSlot holds upload constraints of File and Image fields.
type FileSlot struct {
	MaxSize      int64
	AllowedTypes []string
}

// ObjectSlot describes a reference to another scheme.
type ObjectSlot struct {
	Target   string
	OnRemove RemovePolicy
	Linkage  Linkage
	Link     string

	scheme *Scheme
}

// ArraySlot holds the element descriptor of an Array field.
type ArraySlot struct {
	Element *Field
}

// ViewFunc projects an object of the viewed scheme into view rows. A true
// value stands for an empty row.
type ViewFunc func(target *Scheme, obj value.Dict) []any

// LinkFunc lists the owner ids a viewed object belongs to.
type LinkFunc func(owner, target *Scheme, obj value.Dict) []int64

// ViewSlot describes a materialized reverse index into another scheme.
type ViewSlot struct {
	Target   string
	Requires []string
	Fields   map[string]*Field
	Delta    bool
	View     ViewFunc
	Link     LinkFunc

	scheme *Scheme
}

// FullTextFunc builds the document vector of an object.
type FullTextFunc func(s *Scheme, obj value.Dict) query.FullTextVector

// FullTextSlot describes a tsvector column computed from source fields.
type FullTextSlot struct {
	Requires      []string
	Language      string
	Rank          query.Rank
	Normalization int
	Source        FullTextFunc
}

func (*TextSlot) isSlot() {}
func (*ExtraSlot) isSlot() {}
func (*FileSlot) isSlot() {}
func (*ObjectSlot) isSlot() {}
func (*ArraySlot) isSlot() {}
func (*ViewSlot) isSlot() {}
func (*FullTextSlot) isSlot() {}

// Field is one typed attribute of a scheme.
type Field struct {
	Name      string
	Type      Type
	Flags     Flags
	Transform Transform
	Default   any
	DefaultFn func(patch value.Dict) any
	Filter    func(s *Scheme, v any) bool
	Slot      Slot
}

// Option configures a field at construction.
type Option func(*Field)

func newField(name string, t Type, slot Slot, opts []Option) *Field {
	f := &Field{Name: name, Type: t, Slot: slot}
	for _, o := range opts {
		o(f)
	}
	return f
}

func Integer(name string, opts ...Option) *Field { return newField(name, TypeInteger, nil, opts) }
func Float(name string, opts ...Option) *Field { return newField(name, TypeFloat, nil, opts) }
func Boolean(name string, opts ...Option) *Field { return newField(name, TypeBoolean, nil, opts) }
func Data(name string, opts ...Option) *Field { return newField(name, TypeData, nil, opts) }

func Text(name string, opts ...Option) *Field {
	return newField(name, TypeText, &TextSlot{MaxLength: DefaultTextMax}, opts)
}

func Bytes(name string, opts ...Option) *Field {
	return newField(name, TypeBytes, &TextSlot{MaxLength: DefaultTextMax}, opts)
}

// Password is a bytes field whose input is hashed by the registry's hasher.
func Password(name string, opts ...Option) *Field {
	f := newField(name, TypeBytes, &TextSlot{MinLength: 6, MaxLength: DefaultTextMax}, opts)
	f.Transform = TransformPassword
	return f
}

func Extra(name string, opts ...Option) *Field {
	return newField(name, TypeExtra, &ExtraSlot{Fields: map[string]*Field{}}, opts)
}

func File(name string, opts ...Option) *Field {
	return newField(name, TypeFile, &FileSlot{MaxSize: DefaultMaxFileSize}, opts)
}

func Image(name string, opts ...Option) *Field {
	return newField(name, TypeImage, &FileSlot{MaxSize: DefaultMaxFileSize}, opts)
}

// ObjectField references a single object of the target scheme.
func ObjectField(name, target string, opts ...Option) *Field {
	return newField(name, TypeObject, &ObjectSlot{Target: target}, opts)
}

func Set(name, target string, opts ...Option) *Field {
	return newField(name, TypeSet, &ObjectSlot{Target: target}, opts)
}

func Array(name string, element *Field, opts ...Option) *Field {
	if element == nil {
		element = Text("")
	}
	return newField(name, TypeArray, &ArraySlot{Element: element}, opts)
}

func View(name, target string, opts ...Option) *Field {
	return newField(name, TypeView, &ViewSlot{Target: target, Fields: map[string]*Field{}}, opts)
}

func FullText(name string, opts ...Option) *Field {
	return newField(name, TypeFullTextView, &FullTextSlot{Language: "simple", Normalization: query.NormDocLength}, opts)
}

const (
	DefaultTextMax     = 1 << 16
	DefaultMaxFileSize = 1 << 20
)

func WithFlags(fl Flags) Option {
	return func(f *Field) { f.Flags |= fl }
}

func WithTransform(t Transform) Option {
	return func(f *Field) { f.Transform = t }
}

func WithDefault(v any) Option {
	return func(f *Field) { f.Default = v }
}

func WithDefaultFunc(fn func(patch value.Dict) any) Option {
	return func(f *Field) { f.DefaultFn = fn }
}

func WithFilter(fn func(s *Scheme, v any) bool) Option {
	return func(f *Field) { f.Filter = fn }
}

func WithLength(min, max int) Option {
	return func(f *Field) {
		if s, ok := f.Slot.(*TextSlot); ok {
			s.MinLength = min
			if max > 0 {
				s.MaxLength = max
			}
		}
	}
}

func WithSalt(salt string) Option {
	return func(f *Field) {
		if s, ok := f.Slot.(*TextSlot); ok {
			s.Salt = salt
		}
	}
}

func WithRemovePolicy(p RemovePolicy) Option {
	return func(f *Field) {
		if s, ok := f.Slot.(*ObjectSlot); ok {
			s.OnRemove = p
		}
	}
}

// WithForeignLink names the back reference field on the target scheme.
func WithForeignLink(name string) Option {
	return func(f *Field) {
		if s, ok := f.Slot.(*ObjectSlot); ok {
			s.Link = name
			s.Linkage = LinkageManual
		}
	}
}

func WithLinkage(l Linkage) Option {
	return func(f *Field) {
		if s, ok := f.Slot.(*ObjectSlot); ok {
			s.Linkage = l
		}
	}
}

// WithFields sets the nested fields of Extra and View fields.
func WithFields(fields ...*Field) Option {
	return func(f *Field) {
		var m map[string]*Field
		switch s := f.Slot.(type) {
		case *ExtraSlot:
			m = s.Fields
		case *ViewSlot:
			m = s.Fields
		default:
			return
		}
		for _, it := range fields {
			m[it.Name] = it
		}
	}
}

// WithRequires lists the source fields of View and FullText fields.
func WithRequires(names ...string) Option {
	return func(f *Field) {
		switch s := f.Slot.(type) {
		case *ViewSlot:
			s.Requires = append(s.Requires, names...)
		case *FullTextSlot:
			s.Requires = append(s.Requires, names...)
		}
	}
}

func WithDelta() Option {
	return func(f *Field) {
		if s, ok := f.Slot.(*ViewSlot); ok {
			s.Delta = true
		}
	}
}

func WithViewFunc(fn ViewFunc) Option {
	return func(f *Field) {
		if s, ok := f.Slot.(*ViewSlot); ok {
			s.View = fn
		}
	}
}

func WithLinkFunc(fn LinkFunc) Option {
	return func(f *Field) {
		if s, ok := f.Slot.(*ViewSlot); ok {
			s.Link = fn
		}
	}
}

func WithLanguage(lang string, rank query.Rank) Option {
	return func(f *Field) {
		if s, ok := f.Slot.(*FullTextSlot); ok {
			s.Language = lang
			s.Rank = rank
		}
	}
}

func WithNormalization(n int) Option {
	return func(f *Field) {
		if s, ok := f.Slot.(*FullTextSlot); ok {
			s.Normalization = n
		}
	}
}

func WithFullTextFunc(fn FullTextFunc) Option {
	return func(f *Field) {
		if s, ok := f.Slot.(*FullTextSlot); ok {
			s.Source = fn
		}
	}
}

func WithMaxFileSize(n int64, allowed ...string) Option {
	return func(f *Field) {
		if s, ok := f.Slot.(*FileSlot); ok {
			s.MaxSize = n
			s.AllowedTypes = append(s.AllowedTypes, allowed...)
		}
	}
}

// HasFlag reports whether any of fl is set.
func (f *Field) HasFlag(fl Flags) bool {
	return f.Flags&fl != 0
}

// IsProtected reports whether the field is hidden from direct client output.
func (f *Field) IsProtected() bool {
	return f.HasFlag(FlagProtected | FlagAdmin)
}

// IsIndexed reports whether select predicates may use the field.
func (f *Field) IsIndexed() bool {
	return f.HasFlag(FlagIndexed) || f.Transform == TransformAlias || f.Type == TypeObject || f.Type == TypeFullTextView
}

func (f *Field) IsFile() bool {
	return f.Type == TypeFile || f.Type == TypeImage
}

// IsSimpleLayout reports whether the value lives inline in the scheme row.
func (f *Field) IsSimpleLayout() bool {
	switch f.Type {
	case TypeInteger, TypeFloat, TypeBoolean, TypeText, TypeBytes, TypeData, TypeExtra:
		return true
	}
	return false
}

// IsDataLayout reports whether the value is stored as encoded bytes.
func (f *Field) IsDataLayout() bool {
	return f.Type == TypeData || f.Type == TypeExtra
}

// IsReference reports whether an Object or Set field links by reference
// through a join table.
func (f *Field) IsReference() bool {
	if s, ok := f.Slot.(*ObjectSlot); ok {
		return s.OnRemove == RemoveReference || s.OnRemove == RemoveStrongReference
	}
	return false
}

// RemovePolicy returns the remove policy of Object and Set fields.
func (f *Field) RemovePolicy() RemovePolicy {
	if s, ok := f.Slot.(*ObjectSlot); ok {
		return s.OnRemove
	}
	return RemoveNull
}

// ForeignScheme returns the resolved target of Object, Set and View fields.
func (f *Field) ForeignScheme() *Scheme {
	switch s := f.Slot.(type) {
	case *ObjectSlot:
		return s.scheme
	case *ViewSlot:
		return s.scheme
	}
	return nil
}

// Element returns the element descriptor of an Array field.
func (f *Field) Element() *Field {
	if s, ok := f.Slot.(*ArraySlot); ok {
		return s.Element
	}
	return nil
}

// ViewSlot returns the view description or nil.
func (f *Field) ViewSlot() *ViewSlot {
	s, _ := f.Slot.(*ViewSlot)
	return s
}

// FullTextSlot returns the full text description or nil.
func (f *Field) FullTextSlot() *FullTextSlot {
	s, _ := f.Slot.(*FullTextSlot)
	return s
}

func (f *Field) HasDefault() bool {
	if f.DefaultFn != nil || f.Default != nil {
		return true
	}
	if f.Type == TypeBytes && f.Transform == TransformUuid {
		return true
	}
	if s, ok := f.Slot.(*ExtraSlot); ok {
		for _, it := range s.Fields {
			if it.HasDefault() {
				return true
			}
		}
	}
	return false
}

// DefaultValue computes the default for a new object.
func (f *Field) DefaultValue(patch value.Dict) any {
	switch {
	case f.DefaultFn != nil:
		return f.DefaultFn(patch)
	case f.Default != nil:
		return value.Clone(f.Default)
	case f.Type == TypeBytes && f.Transform == TransformUuid:
		id := uuid.New()
		return id[:]
	}
	if s, ok := f.Slot.(*ExtraSlot); ok {
		ret := value.Dict{}
		for name, it := range s.Fields {
			if it.HasDefault() {
				ret[name] = it.DefaultValue(patch)
			}
		}
		if len(ret) > 0 {
			return ret
		}
	}
	return nil
}

// ValidComparation reports whether cmp may be used against a column of
// type t in a select predicate.
func ValidComparation(t Type, cmp query.Comparation) bool {
	switch t {
	case TypeInteger, TypeObject, TypeFloat:
		return cmp != query.Includes
	case TypeText, TypeBoolean, TypeBytes:
		switch cmp {
		case query.Equal, query.NotEqual, query.IsNull, query.IsNotNull:
			return true
		}
		return false
	case TypeFullTextView:
		return cmp == query.Includes
	}
	return false
}
