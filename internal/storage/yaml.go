package storage

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/serenity/internal/query"
	"github.com/rzpsarthak13/serenity/internal/value"
)

// schemeFile is the document layout read by LoadYAML.
type schemeFile struct {
	Schemes []schemeDef `yaml:"schemes"`
}

type schemeDef struct {
	Name   string     `yaml:"name"`
	Delta  bool       `yaml:"delta"`
	Fields []fieldDef `yaml:"fields"`
}

type fieldDef struct {
	Name      string     `yaml:"name"`
	Type      string     `yaml:"type"`
	Flags     []string   `yaml:"flags"`
	Transform string     `yaml:"transform"`
	Default   any        `yaml:"default"`
	Min       int        `yaml:"min"`
	Max       int        `yaml:"max"`
	Salt      string     `yaml:"salt"`
	MaxSize   int64      `yaml:"max_size"`
	Types     []string   `yaml:"types"`
	Target    string     `yaml:"target"`
	Remove    string     `yaml:"remove"`
	Link      string     `yaml:"link"`
	Linkage   string     `yaml:"linkage"`
	Element   *fieldDef  `yaml:"element"`
	Fields    []fieldDef `yaml:"fields"`
	Requires  []string   `yaml:"requires"`
	Delta     bool       `yaml:"delta"`
	Auto      bool       `yaml:"auto"`
	Language  string     `yaml:"language"`
	Rank      string     `yaml:"rank"`
	Normalize int        `yaml:"normalization"`
}

// LoadYAML parses scheme definitions and builds a registry from them.
func LoadYAML(data []byte, opts ...RegistryOption) (*Registry, error) {
	var doc schemeFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse scheme file: %w", err)
	}

	schemes := make([]*Scheme, 0, len(doc.Schemes))
	for _, sd := range doc.Schemes {
		fields := make([]*Field, 0, len(sd.Fields))
		for i := range sd.Fields {
			f, err := sd.Fields[i].build()
			if err != nil {
				return nil, fmt.Errorf("scheme %s: %w", sd.Name, err)
			}
			fields = append(fields, f)
		}
		schemes = append(schemes, NewScheme(sd.Name, sd.Delta, fields...))
	}
	return NewRegistry(schemes, opts...)
}

func (d *fieldDef) build() (*Field, error) {
	t, ok := ParseType(d.Type)
	if !ok || t == TypeNone {
		return nil, fmt.Errorf("%w: field %s has unknown type %q", ErrInvalidField, d.Name, d.Type)
	}

	var opts []Option
	for _, name := range d.Flags {
		fl, ok := ParseFlag(name)
		if !ok {
			return nil, fmt.Errorf("%w: field %s has unknown flag %q", ErrInvalidField, d.Name, name)
		}
		opts = append(opts, WithFlags(fl))
	}
	if d.Transform != "" {
		tr, ok := ParseTransform(d.Transform)
		if !ok {
			return nil, fmt.Errorf("%w: field %s has unknown transform %q", ErrInvalidField, d.Name, d.Transform)
		}
		opts = append(opts, WithTransform(tr))
	}
	if d.Default != nil {
		opts = append(opts, WithDefault(normalizeYAML(d.Default)))
	}
	if d.Min > 0 || d.Max > 0 {
		opts = append(opts, WithLength(d.Min, d.Max))
	}
	if d.Salt != "" {
		opts = append(opts, WithSalt(d.Salt))
	}
	if d.MaxSize > 0 || len(d.Types) > 0 {
		opts = append(opts, WithMaxFileSize(d.MaxSize, d.Types...))
	}
	if d.Remove != "" {
		p, ok := ParseRemovePolicy(d.Remove)
		if !ok {
			return nil, fmt.Errorf("%w: field %s has unknown remove policy %q", ErrInvalidField, d.Name, d.Remove)
		}
		opts = append(opts, WithRemovePolicy(p))
	}
	if d.Link != "" {
		opts = append(opts, WithForeignLink(d.Link))
	}
	if d.Linkage == "none" {
		opts = append(opts, WithLinkage(LinkageNone))
	}
	if len(d.Fields) > 0 {
		sub := make([]*Field, 0, len(d.Fields))
		for i := range d.Fields {
			f, err := d.Fields[i].build()
			if err != nil {
				return nil, err
			}
			sub = append(sub, f)
		}
		opts = append(opts, WithFields(sub...))
	}
	if len(d.Requires) > 0 {
		opts = append(opts, WithRequires(d.Requires...))
	}
	if d.Delta {
		opts = append(opts, WithDelta())
	}
	if d.Auto {
		opts = append(opts, WithViewFunc(func(_ *Scheme, obj value.Dict) []any {
			return []any{value.Clone(obj)}
		}))
	}
	if d.Language != "" || d.Rank != "" {
		opts = append(opts, WithLanguage(d.Language, query.ParseRank(d.Rank)))
	}
	if d.Normalize > 0 {
		opts = append(opts, WithNormalization(d.Normalize))
	}

	switch t {
	case TypeInteger:
		return Integer(d.Name, opts...), nil
	case TypeFloat:
		return Float(d.Name, opts...), nil
	case TypeBoolean:
		return Boolean(d.Name, opts...), nil
	case TypeText:
		return Text(d.Name, opts...), nil
	case TypeBytes:
		if d.Transform == "password" {
			return Password(d.Name, opts...), nil
		}
		return Bytes(d.Name, opts...), nil
	case TypeData:
		return Data(d.Name, opts...), nil
	case TypeExtra:
		return Extra(d.Name, opts...), nil
	case TypeFile:
		return File(d.Name, opts...), nil
	case TypeImage:
		return Image(d.Name, opts...), nil
	case TypeObject:
		return ObjectField(d.Name, d.Target, opts...), nil
	case TypeSet:
		return Set(d.Name, d.Target, opts...), nil
	case TypeArray:
		var el *Field
		if d.Element != nil {
			var err error
			if el, err = d.Element.build(); err != nil {
				return nil, err
			}
		}
		return Array(d.Name, el, opts...), nil
	case TypeView:
		return View(d.Name, d.Target, opts...), nil
	case TypeFullTextView:
		return FullText(d.Name, opts...), nil
	}
	return nil, fmt.Errorf("%w: field %s", ErrInvalidField, d.Name)
}

// normalizeYAML converts decoded YAML values into the value tree types.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeYAML(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeYAML(e)
		}
		return out
	}
	return v
}
