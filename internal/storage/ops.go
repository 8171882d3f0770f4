package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rzpsarthak13/serenity/internal/value"
)

// Create inserts a new object. Pending uploads in data become file records
// inside the same transaction and are purged when the insert fails. It
// returns the stored change-set with __oid, or nil.
func (s *Scheme) Create(ctx context.Context, a Adapter, data any, protected bool) value.Dict {
	input, ok := data.(map[string]any)
	if !ok {
		s.logger().Error("invalid data for object")
		return nil
	}

	action := ActionCreate
	if protected {
		action = ActionProtectedCreate
	}
	changeSet := s.Transform(ctx, input, action)

	stop := false
	for _, name := range s.order {
		f := s.fields[name]
		if !f.HasFlag(FlagRequired) || changeSet[name] != nil {
			continue
		}
		if f.IsFile() && isPendingFile(input[name]) {
			continue
		}
		s.logger().WithField("field", name).Error("no value for required field")
		stop = true
	}
	if stop {
		return nil
	}

	if !a.PerformInTransaction(ctx, func(ctx context.Context) bool {
		patch := s.createFilePatch(ctx, a, input)
		for k, v := range patch {
			changeSet[k] = v
		}
		s.applyFullText(changeSet, changeSet)
		if a.CreateObject(ctx, s, changeSet) {
			return true
		}
		s.purgeFilePatch(ctx, a, patch)
		return false
	}) {
		return nil
	}
	s.dropComputed(changeSet)
	return changeSet
}

func (s *Scheme) prepareUpdate(ctx context.Context, data value.Dict, protected bool) (value.Dict, bool) {
	if data == nil {
		s.logger().Error("invalid changeset data for object")
		return nil, false
	}
	action := ActionUpdate
	if protected {
		action = ActionProtectedUpdate
	}
	changeSet := s.Transform(ctx, data, action)

	ok := true
	for k, v := range changeSet {
		if v == nil && s.fields[k].HasFlag(FlagRequired) {
			s.logger().WithField("field", k).Error("value for required field can not be removed")
			ok = false
		}
	}
	return changeSet, ok
}

// Update applies data to the object identified by obj: an id, an alias, or
// a dict carrying __oid. A dict is used as the current state instead of
// being read back. Atomic change-sets become one UPDATE ... RETURNING;
// others are merged in memory and saved, refreshing affected views.
func (s *Scheme) Update(ctx context.Context, a Adapter, obj any, data value.Dict, protected bool) value.Dict {
	changeSet, ok := s.prepareUpdate(ctx, data, protected)
	if !ok {
		return nil
	}

	current, _ := obj.(map[string]any)
	oid := s.resolveOid(ctx, a, obj)
	if oid == 0 {
		s.logger().Error("invalid object for update")
		return nil
	}

	var ret value.Dict
	if !a.PerformInTransaction(ctx, func(ctx context.Context) bool {
		patch := s.createFilePatch(ctx, a, data)
		for k, v := range patch {
			changeSet[k] = v
		}
		if len(changeSet) == 0 {
			s.logger().WithField("oid", oid).Error("empty changeset for id")
			return false
		}

		if s.IsAtomicPatch(changeSet) {
			ret = a.PatchObject(ctx, s, oid, changeSet)
		} else {
			if current == nil {
				current = s.Get(ctx, a, oid, true)
			} else {
				current = value.Clone(current).(map[string]any)
			}
			if current != nil {
				ret = s.updateObject(ctx, a, current, changeSet)
			}
		}
		if ret == nil {
			s.purgeFilePatch(ctx, a, patch)
			s.logger().WithField("oid", oid).Error("fail to update object for id")
			return false
		}
		return true
	}) {
		return nil
	}
	return ret
}

// Patch is a protected update by id.
func (s *Scheme) Patch(ctx context.Context, a Adapter, oid int64, data value.Dict) value.Dict {
	return s.Update(ctx, a, oid, data, true)
}

// mergeValue merges a new value into the stored one. Extra dictionaries
// merge key by key and a nil removes the key.
func (s *Scheme) mergeValue(f *Field, original, v any) any {
	if f.Type != TypeExtra {
		return v
	}
	nd, ok := v.(map[string]any)
	if !ok {
		return v
	}
	od, ok := original.(map[string]any)
	if !ok {
		return v
	}
	slot := f.Slot.(*ExtraSlot)
	for k, e := range nd {
		sub := slot.Fields[k]
		if sub == nil {
			continue
		}
		if e == nil {
			delete(od, k)
			continue
		}
		if cur, has := od[k]; has && cur != nil {
			od[k] = s.mergeValue(sub, cur, e)
		} else {
			od[k] = e
		}
	}
	return od
}

func (s *Scheme) updateObject(ctx context.Context, a Adapter, obj value.Dict, changeSet value.Dict) value.Dict {
	var (
		updated []string
		views   []*ViewScheme
		post    = value.Dict{}
	)
	for _, k := range value.Keys(changeSet) {
		f := s.fields[k]
		if f == nil {
			continue
		}
		v := changeSet[k]
		if f.Type == TypeArray || f.Type == TypeSet {
			post[k] = v
			continue
		}
		if v == nil {
			delete(obj, k)
		} else if cur, ok := obj[k]; ok && cur != nil {
			obj[k] = s.mergeValue(f, cur, v)
		} else {
			obj[k] = v
		}
		updated = append(updated, k)

		if s.forceInclude[k] {
			for _, vs := range s.views {
				if vs.Fields[k] && !containsView(views, vs) {
					views = append(views, vs)
				}
			}
		}
	}
	updated = append(updated, s.applyFullText(obj, changeSet)...)

	oid := value.Oid(obj)
	save := func(ctx context.Context) bool {
		if len(updated) > 0 && !a.SaveObject(ctx, s, oid, obj, updated) {
			return false
		}
		for _, k := range value.Keys(post) {
			if post[k] == nil {
				if !a.ClearProperty(ctx, s, oid, s.fields[k], nil) {
					return false
				}
			} else if a.SetProperty(ctx, s, oid, s.fields[k], post[k]) == nil {
				return false
			}
		}
		for _, vs := range views {
			s.updateView(ctx, a, obj, vs)
		}
		return true
	}

	if len(views) > 0 || len(post) > 0 {
		if !a.PerformInTransaction(ctx, save) {
			return nil
		}
	} else if !save(ctx) {
		return nil
	}
	s.dropComputed(obj)
	return obj
}

func containsView(list []*ViewScheme, vs *ViewScheme) bool {
	for _, it := range list {
		if it == vs {
			return true
		}
	}
	return false
}

// dropComputed removes full text vectors from a returned object.
func (s *Scheme) dropComputed(obj value.Dict) {
	for _, n := range s.order {
		if s.fields[n].Type == TypeFullTextView {
			delete(obj, n)
		}
	}
}

// Touch bumps AutoMTime fields of the object.
func (s *Scheme) Touch(ctx context.Context, a Adapter, obj any) bool {
	patch := s.TouchPatch()
	if len(patch) == 0 {
		return false
	}
	return s.patchOrUpdate(ctx, a, obj, patch) != nil
}

// TouchPatch returns a change-set setting every AutoMTime field to now.
func (s *Scheme) TouchPatch() value.Dict {
	patch := value.Dict{}
	now := time.Now().UnixMicro()
	for _, n := range s.order {
		if s.fields[n].HasFlag(FlagAutoMTime) {
			patch[n] = now
		}
	}
	return patch
}

func (s *Scheme) patchOrUpdate(ctx context.Context, a Adapter, obj any, patch value.Dict) value.Dict {
	if len(patch) == 0 {
		return nil
	}
	oid := value.Oid(obj)
	if s.IsAtomicPatch(patch) {
		return a.PatchObject(ctx, s, oid, patch)
	}
	current, ok := obj.(map[string]any)
	if !ok {
		current = s.Get(ctx, a, oid, true)
	} else {
		current = value.Clone(current).(map[string]any)
	}
	if current == nil {
		return nil
	}
	return s.updateObject(ctx, a, current, patch)
}

// Remove deletes one object. Cascades and reference cleanup are performed
// by triggers.
func (s *Scheme) Remove(ctx context.Context, a Adapter, obj any) bool {
	oid := s.resolveOid(ctx, a, obj)
	if oid == 0 {
		return false
	}
	return a.RemoveObject(ctx, s, oid)
}

// resolveOid maps an id, a numeric string, an alias or a dict to an oid.
func (s *Scheme) resolveOid(ctx context.Context, a Adapter, obj any) int64 {
	if str, ok := obj.(string); ok {
		if id, err := strconv.ParseInt(str, 10, 64); err == nil {
			return id
		}
		if d := s.Get(ctx, a, str, false, "__oid"); d != nil {
			return value.Oid(d)
		}
		return 0
	}
	return value.Oid(obj)
}

// Get loads one object by id, alias or a dict carrying __oid. Fields
// restricts the selected columns.
func (s *Scheme) Get(ctx context.Context, a Adapter, obj any, forUpdate bool, fields ...string) value.Dict {
	q := NewQuery()
	switch t := obj.(type) {
	case string:
		if id, err := strconv.ParseInt(t, 10, 64); err == nil {
			q.ByOid(id)
		} else if s.aliases {
			q.ByAlias(t)
		} else {
			return nil
		}
	default:
		id := value.Oid(obj)
		if id == 0 {
			return nil
		}
		q.ByOid(id)
	}
	if forUpdate {
		q.ForUpdate()
	}
	q.Include(fields...)
	list := a.SelectObjects(ctx, s, q)
	if len(list) == 0 {
		return nil
	}
	return list[0]
}

func (s *Scheme) Select(ctx context.Context, a Adapter, q *Query) []value.Dict {
	return a.SelectObjects(ctx, s, q)
}

func (s *Scheme) Count(ctx context.Context, a Adapter, q *Query) int64 {
	if q == nil {
		q = NewQuery()
	}
	return a.CountObjects(ctx, s, q)
}

// GetProperty reads one property. With a loaded object, simple fields come
// from the object itself and files are read from the file store.
func (s *Scheme) GetProperty(ctx context.Context, a Adapter, obj any, name string, fields ...string) any {
	f := s.fields[name]
	if f == nil {
		return nil
	}
	if d, ok := obj.(map[string]any); ok {
		if f.IsSimpleLayout() {
			return d[name]
		}
		if f.IsFile() && len(fields) == 0 {
			if fs := s.files(); fs != nil {
				return fs.GetFileData(ctx, a, value.ToInt(d[name]))
			}
		}
		return a.GetObjectProperty(ctx, s, d, f, fields)
	}
	oid := s.resolveOid(ctx, a, obj)
	if oid == 0 {
		return nil
	}
	return a.GetProperty(ctx, s, oid, f, fields)
}

// SetProperty replaces one property. A nil value clears it and a
// PendingFile on a file field becomes a new file record.
func (s *Scheme) SetProperty(ctx context.Context, a Adapter, obj any, name string, v any) any {
	f := s.fields[name]
	if f == nil {
		return nil
	}
	if v == nil {
		s.ClearProperty(ctx, a, obj, name)
		return nil
	}
	if f.IsFile() {
		if pf := asPendingFile(v); pf != nil {
			return s.setFile(ctx, a, obj, f, pf)
		}
		return nil
	}
	tv, ok := s.transformValue(f, v)
	if !ok {
		return nil
	}
	oid := s.resolveOid(ctx, a, obj)
	if oid == 0 {
		return nil
	}
	var ret any
	if !a.PerformInTransaction(ctx, func(ctx context.Context) bool {
		ret = a.SetProperty(ctx, s, oid, f, tv)
		return ret != nil
	}) {
		return nil
	}
	return ret
}

func (s *Scheme) setFile(ctx context.Context, a Adapter, obj any, f *Field, pf *PendingFile) any {
	fs := s.files()
	if fs == nil {
		s.logger().WithField("field", f.Name).Error("no file store configured")
		return nil
	}
	var ret any
	if !a.PerformInTransaction(ctx, func(ctx context.Context) bool {
		patch := s.TouchPatch()
		id, err := fs.CreateFile(ctx, a, f, pf)
		if err != nil {
			s.logger().WithError(err).WithField("field", f.Name).Error("failed to create file")
			return false
		}
		patch[f.Name] = id
		if s.patchOrUpdate(ctx, a, obj, patch) == nil {
			fs.PurgeFile(ctx, a, id)
			return false
		}
		ret = fs.GetFileData(ctx, a, id)
		return true
	}) {
		return nil
	}
	return ret
}

// ClearProperty empties a property. Required fields can not be cleared.
// For reference sets, hint restricts the removal to the given ids.
func (s *Scheme) ClearProperty(ctx context.Context, a Adapter, obj any, name string, hint ...any) bool {
	f := s.fields[name]
	if f == nil || f.HasFlag(FlagRequired) {
		return false
	}
	oid := s.resolveOid(ctx, a, obj)
	if oid == 0 {
		return false
	}
	return a.PerformInTransaction(ctx, func(ctx context.Context) bool {
		return a.ClearProperty(ctx, s, oid, f, hint)
	})
}

// AppendProperty adds elements to an Array or Set property.
func (s *Scheme) AppendProperty(ctx context.Context, a Adapter, obj any, name string, v any) any {
	f := s.fields[name]
	if f == nil || (f.Type != TypeArray && f.Type != TypeSet) {
		return nil
	}
	if !value.IsList(v) {
		v = []any{v}
	}
	tv, ok := s.transformValue(f, v)
	if !ok {
		return nil
	}
	oid := s.resolveOid(ctx, a, obj)
	if oid == 0 {
		return nil
	}
	var ret any
	if !a.PerformInTransaction(ctx, func(ctx context.Context) bool {
		ret = a.AppendProperty(ctx, s, oid, f, tv)
		return ret != nil
	}) {
		return nil
	}
	return ret
}

// SaveObject writes a modified Object back.
func (s *Scheme) SaveObject(ctx context.Context, a Adapter, obj *Object) bool {
	return a.SaveObject(ctx, s, obj.oid, obj.data, nil)
}

func (s *Scheme) viewField(name string) *Field {
	f := s.fields[name]
	if f == nil || f.Type != TypeView {
		return nil
	}
	return f
}

// projectView filters a view row to the projected fields, applies defaults
// and normalizes values.
func (s *Scheme) projectView(slot *ViewSlot, row value.Dict) value.Dict {
	out := value.Dict{}
	for k, v := range row {
		if slot.Fields[k] != nil {
			out[k] = v
		}
	}
	now := time.Now().UnixMicro()
	for name, f := range slot.Fields {
		if f.HasFlag(FlagAutoMTime | FlagAutoCTime) {
			out[name] = now
		} else if _, has := out[name]; !has && f.HasDefault() {
			out[name] = f.DefaultValue(row)
		}
	}
	for k, v := range out {
		f := slot.Fields[k]
		if v == nil || !f.IsSimpleLayout() {
			continue
		}
		if tv, ok := s.transformValue(f, v); ok {
			out[k] = tv
		} else {
			delete(out, k)
		}
	}
	return out
}

// AddToView inserts object into the view field named view of s under tag.
func (s *Scheme) AddToView(ctx context.Context, a Adapter, view string, tag, object int64, data value.Dict) bool {
	f := s.viewField(view)
	if f == nil || tag == 0 || object == 0 {
		return false
	}
	slot := f.ViewSlot()
	row := s.projectView(slot, data)
	row[slot.scheme.name+"_id"] = object
	row[s.name+"_id"] = tag
	return a.PerformInTransaction(ctx, func(ctx context.Context) bool {
		return a.AddToView(ctx, s, f, tag, row)
	})
}

// RemoveFromView drops object from the view field named view of s under tag.
func (s *Scheme) RemoveFromView(ctx context.Context, a Adapter, view string, tag, object int64) bool {
	f := s.viewField(view)
	if f == nil || object == 0 {
		return false
	}
	return a.PerformInTransaction(ctx, func(ctx context.Context) bool {
		return a.RemoveFromView(ctx, s, f, tag, object)
	})
}

// updateView rebuilds the rows of obj, an object of s, in the view vs.
func (s *Scheme) updateView(ctx context.Context, a Adapter, obj value.Dict, vs *ViewScheme) {
	slot := vs.Field.ViewSlot()
	if slot.View == nil {
		return
	}
	objID := value.Oid(obj)
	a.RemoveFromView(ctx, vs.Owner, vs.Field, 0, objID)

	var ids []int64
	if slot.Link != nil {
		ids = slot.Link(vs.Owner, s, obj)
	} else if vs.AutoLink != nil {
		if id := value.Oid(obj[vs.AutoLink.Name]); id != 0 {
			ids = append(ids, id)
		}
	}

	var rows []value.Dict
	for _, it := range slot.View(s, obj) {
		if b, ok := it.(bool); ok && b {
			it = value.Dict{}
		}
		d, ok := it.(map[string]any)
		if !ok {
			continue
		}
		row := vs.Owner.projectView(slot, d)
		row[s.name+"_id"] = objID
		rows = append(rows, row)
	}

	for _, id := range ids {
		for _, row := range rows {
			r := value.Clone(row).(map[string]any)
			r[vs.Owner.name+"_id"] = id
			if !a.AddToView(ctx, vs.Owner, vs.Field, id, r) {
				s.logger().WithFields(logrus.Fields{"view": vs.Owner.name + "." + vs.Field.Name, "tag": id}).Warn("failed to add object to view")
			}
		}
	}
}

func isPendingFile(v any) bool {
	return asPendingFile(v) != nil
}

func asPendingFile(v any) *PendingFile {
	switch t := v.(type) {
	case *PendingFile:
		return t
	case PendingFile:
		return &t
	}
	return nil
}

// createFilePatch turns pending uploads in data into file ids.
func (s *Scheme) createFilePatch(ctx context.Context, a Adapter, data value.Dict) value.Dict {
	patch := value.Dict{}
	fs := s.files()
	for k, v := range data {
		pf := asPendingFile(v)
		if pf == nil {
			continue
		}
		f := s.fields[k]
		if f == nil || !f.IsFile() {
			continue
		}
		if fs == nil {
			s.logger().WithField("field", k).Error("no file store configured")
			continue
		}
		if slot, ok := f.Slot.(*FileSlot); ok && slot.MaxSize > 0 && pf.Size > slot.MaxSize {
			s.logger().WithFields(logrus.Fields{"field": k, "size": pf.Size}).Error("file is too large")
			continue
		}
		id, err := fs.CreateFile(ctx, a, f, pf)
		if err != nil {
			s.logger().WithError(err).WithField("field", k).Error("failed to create file")
			continue
		}
		patch[k] = id
	}
	return patch
}

func (s *Scheme) purgeFilePatch(ctx context.Context, a Adapter, patch value.Dict) {
	fs := s.files()
	if fs == nil {
		return
	}
	for k, v := range patch {
		if f := s.fields[k]; f != nil && f.IsFile() {
			fs.PurgeFile(ctx, a, value.ToInt(v))
		}
	}
}
