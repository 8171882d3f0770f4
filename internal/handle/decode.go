package handle

import (
	"sort"

	"github.com/rzpsarthak13/serenity/internal/core"
	"github.com/rzpsarthak13/serenity/internal/storage"
	"github.com/rzpsarthak13/serenity/internal/value"
)

// toData converts one cell into the value type of f.
func toData(res *core.Result, row, col int, f *storage.Field) any {
	switch f.Type {
	case storage.TypeInteger, storage.TypeObject, storage.TypeSet, storage.TypeArray, storage.TypeFile, storage.TypeImage:
		return res.ToInteger(row, col)
	case storage.TypeFloat:
		return res.ToDouble(row, col)
	case storage.TypeBoolean:
		return res.ToBool(row, col)
	case storage.TypeText:
		return res.ToString(row, col)
	case storage.TypeBytes:
		return res.ToBytes(row, col)
	case storage.TypeData, storage.TypeExtra:
		v, err := value.Decode(res.ToBytes(row, col))
		if err != nil {
			return nil
		}
		return v
	}
	return nil
}

// decodeRow converts a row of s. Delta bookkeeping columns are folded into
// a __delta dictionary and extra describes columns of view tables.
func decodeRow(s *storage.Scheme, res *core.Result, row int, extra map[string]*storage.Field) value.Dict {
	out := value.Dict{}
	var delta value.Dict
	deltaDict := func() value.Dict {
		if delta == nil {
			delta = value.Dict{}
			out["__delta"] = delta
		}
		return delta
	}
	for i := 0; i < res.Fields(); i++ {
		name := res.FieldName(i)
		switch name {
		case "__oid":
			if !res.IsNull(row, i) {
				out[name] = res.ToInteger(row, i)
			}
		case "__vid":
			out[name] = res.ToInteger(row, i)
		case "__d_action":
			deltaDict()["action"] = DeltaAction(res.ToInteger(row, i)).String()
		case "__d_object":
			out["__oid"] = res.ToInteger(row, i)
		case "__d_time":
			deltaDict()["time"] = res.ToInteger(row, i)
		default:
			if res.IsNull(row, i) {
				continue
			}
			if f := s.Field(name); f != nil {
				out[name] = toData(res, row, i, f)
			} else if f := extra[name]; f != nil {
				out[name] = toData(res, row, i, f)
			}
		}
	}
	return out
}

func decodeRows(s *storage.Scheme, res *core.Result, extra map[string]*storage.Field) []value.Dict {
	if res.Rows() == 0 {
		return nil
	}
	out := make([]value.Dict, 0, res.Rows())
	for i := 0; i < res.Rows(); i++ {
		out = append(out, decodeRow(s, res, i, extra))
	}
	return out
}

// decodeField converts the first column of every row with f.
func decodeField(res *core.Result, f *storage.Field) []any {
	out := make([]any, 0, res.Rows())
	for i := 0; i < res.Rows(); i++ {
		out = append(out, toData(res, i, 0, f))
	}
	return out
}

// convertViewDelta marks a view delta row as updated when the view row
// still exists, or strips it to its id when it was removed. It reports
// whether the object is still a member.
func convertViewDelta(obj value.Dict) bool {
	vid, hasVid := obj["__vid"]
	d, hasDelta := obj["__delta"].(map[string]any)
	if !hasVid || !hasDelta {
		return true
	}
	if value.ToInt(vid) != 0 {
		d["action"] = DeltaUpdate.String()
		delete(obj, "__vid")
		return true
	}
	d["action"] = DeltaDelete.String()
	for k := range obj {
		if k != "__oid" && k != "__delta" {
			delete(obj, k)
		}
	}
	return false
}

// mergeViews attaches projected view rows to their objects under __views.
func mergeViews(objs []value.Dict, rows []value.Dict) {
	sort.SliceStable(rows, func(i, j int) bool {
		return value.Oid(rows[i]) < value.Oid(rows[j])
	})
	for _, obj := range objs {
		if !convertViewDelta(obj) {
			continue
		}
		oid := value.Oid(obj)
		if oid == 0 {
			continue
		}
		i := sort.Search(len(rows), func(i int) bool { return value.Oid(rows[i]) >= oid })
		var views []any
		for ; i < len(rows) && value.Oid(rows[i]) == oid; i++ {
			v := value.Clone(rows[i]).(map[string]any)
			delete(v, "__oid")
			views = append(views, v)
		}
		if len(views) > 0 {
			cur, _ := obj["__views"].([]any)
			obj["__views"] = append(cur, views...)
		}
	}
}
