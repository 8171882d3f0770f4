package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeNested(t *testing.T) {
	dst := Dict{
		"name": "a",
		"extra": Dict{
			"x": int64(1),
			"y": int64(2),
			"z": Dict{"deep": true},
		},
	}
	patch := Dict{
		"extra": Dict{
			"y": nil,
			"w": "new",
			"z": Dict{"more": int64(3)},
		},
	}

	out := Merge(dst, patch)
	assert.Equal(t, "a", out["name"])
	extra := out["extra"].(Dict)
	assert.Equal(t, int64(1), extra["x"])
	assert.NotContains(t, extra, "y")
	assert.Equal(t, "new", extra["w"])
	assert.Equal(t, Dict{"deep": true, "more": int64(3)}, extra["z"])
}

func TestMergeSameValueIsNoop(t *testing.T) {
	stored := Dict{"extra": Dict{"a": int64(1), "b": "x"}}
	read := Clone(stored).(Dict)

	out := Merge(Clone(stored).(Dict), read)
	assert.Equal(t, stored, out)
}

func TestInt(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int64(5), 5, true},
		{int(7), 7, true},
		{uint32(9), 9, true},
		{float64(3), 3, true},
		{float64(3.5), 3, false},
		{"12", 0, false},
		{true, 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := Int(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestOid(t *testing.T) {
	assert.Equal(t, int64(4), Oid(int64(4)))
	assert.Equal(t, int64(8), Oid(Dict{"__oid": int64(8)}))
	assert.Equal(t, int64(0), Oid("8"))
}

func TestCBORDecodesIntoDicts(t *testing.T) {
	in := Dict{
		"list":  List{int64(1), "two", -3},
		"inner": Dict{"flag": true, "f": 1.5},
		"bytes": []byte{1, 2},
	}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	d, ok := out.(Dict)
	require.True(t, ok)
	assert.Equal(t, List{int64(1), "two", int64(-3)}, d["list"])
	assert.Equal(t, Dict{"flag": true, "f": 1.5}, d["inner"])
	assert.Equal(t, []byte{1, 2}, d["bytes"])

	empty, err := Decode(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}
