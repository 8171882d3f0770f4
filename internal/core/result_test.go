package core

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBinaryDecoding(t *testing.T) {
	i2 := make([]byte, 2)
	binary.BigEndian.PutUint16(i2, uint16(0xfffe))
	i4 := make([]byte, 4)
	binary.BigEndian.PutUint32(i4, 70000)
	i8 := make([]byte, 8)
	binary.BigEndian.PutUint64(i8, uint64(1)<<40)
	f4 := make([]byte, 4)
	binary.BigEndian.PutUint32(f4, math.Float32bits(2.5))
	f8 := make([]byte, 8)
	binary.BigEndian.PutUint64(f8, math.Float64bits(-0.25))

	res := NewBinaryResult(
		[]string{"a", "b", "c", "d", "e", "f", "g"},
		[]Format{FormatBinary, FormatBinary, FormatBinary, FormatBinary, FormatBinary, FormatBinary, FormatBinary},
		[][]any{{[]byte{0xff}, i2, i4, i8, f4, f8, []byte{1}}},
	)

	assert.Equal(t, int64(-1), res.ToInteger(0, 0))
	assert.Equal(t, int64(-2), res.ToInteger(0, 1))
	assert.Equal(t, int64(70000), res.ToInteger(0, 2))
	assert.Equal(t, int64(1)<<40, res.ToInteger(0, 3))
	assert.Equal(t, 2.5, res.ToDouble(0, 4))
	assert.Equal(t, -0.25, res.ToDouble(0, 5))
	assert.True(t, res.ToBool(0, 6))
}

func TestTextDecoding(t *testing.T) {
	res := NewResult(
		[]string{"id", "price", "flag", "data", "name", "empty"},
		[][]any{{[]byte("42"), "1.25", []byte("t"), []byte(`\x0102`), "bob", nil}},
	)

	assert.True(t, res.IsSuccess())
	assert.Equal(t, 1, res.Rows())
	assert.Equal(t, 6, res.Fields())
	assert.Equal(t, "price", res.FieldName(1))
	assert.Equal(t, 4, res.FieldIndex("name"))
	assert.Equal(t, int64(42), res.ToInteger(0, 0))
	assert.Equal(t, 1.25, res.ToDouble(0, 1))
	assert.True(t, res.ToBool(0, 2))
	assert.Equal(t, []byte{1, 2}, res.ToBytes(0, 3))
	assert.Equal(t, "bob", res.ToString(0, 4))
	assert.True(t, res.IsNull(0, 5))
}

func TestFailedResultIsInert(t *testing.T) {
	res := NewFailure(Info{Error: "23505", Status: "ERROR", Desc: "duplicate key"})
	assert.False(t, res.IsSuccess())
	assert.Equal(t, 0, res.Rows())
	assert.Equal(t, int64(0), res.ToInteger(0, 0))
	assert.Equal(t, "23505", res.Info().Error)

	var missing *Result
	assert.False(t, missing.IsSuccess())
	assert.Equal(t, "", missing.ToString(0, 0))
}
