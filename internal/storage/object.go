package storage

import (
	"context"

	"github.com/rzpsarthak13/serenity/internal/value"
)

// Object is a decoded row bound to its scheme. Set marks it modified so
// that Save only performs I/O when something changed.
type Object struct {
	scheme   *Scheme
	data     value.Dict
	oid      int64
	modified bool
	locked   map[string]bool
}

// NewObject wraps data read from s. The oid is taken from __oid.
func NewObject(s *Scheme, data value.Dict) *Object {
	if data == nil {
		data = value.Dict{}
	}
	return &Object{scheme: s, data: data, oid: value.Oid(data)}
}

func (o *Object) Scheme() *Scheme { return o.scheme }
func (o *Object) Oid() int64 { return o.oid }
func (o *Object) Data() value.Dict { return o.data }
func (o *Object) IsModified() bool { return o.modified }

func (o *Object) Get(name string) any {
	return o.data[name]
}

// Set changes a property. Locked properties keep their value.
func (o *Object) Set(name string, v any) {
	if o.locked[name] {
		return
	}
	if v == nil {
		delete(o.data, name)
	} else {
		o.data[name] = v
	}
	o.modified = true
}

// Lock marks a property as not to be changed by Set. It is advisory and
// Save still writes every field.
func (o *Object) Lock(name string) {
	if o.locked == nil {
		o.locked = map[string]bool{}
	}
	o.locked[name] = true
}

func (o *Object) Unlock(name string) {
	delete(o.locked, name)
}

func (o *Object) IsLocked(name string) bool {
	return o.locked[name]
}

// Save writes the object through a. Unmodified objects are skipped unless
// force is set.
func (o *Object) Save(ctx context.Context, a Adapter, force bool) bool {
	if !o.modified && !force {
		return true
	}
	if o.scheme.SaveObject(ctx, a, o) {
		o.modified = false
		return true
	}
	return false
}
