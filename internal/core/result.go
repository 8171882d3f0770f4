package core

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Format is the wire format of a result column.
type Format int

const (
	// FormatText columns hold textual values and are parsed.
	FormatText Format = iota

	// FormatBinary columns hold network-order binary values.
	FormatBinary
)

// Info is the structured error record of a failed statement.
type Info struct {
	Error  string `json:"error"`
	Status string `json:"status"`
	Desc   string `json:"desc"`
}

// Result is a fully materialized statement result. A failed result never
// panics: accessors return zero values and IsSuccess reports false.
type Result struct {
	ok       bool
	columns  []string
	formats  []Format
	rows     [][]any
	affected int64
	info     Info
}

// NewResult builds a successful row set with text-format columns.
func NewResult(columns []string, rows [][]any) *Result {
	return &Result{ok: true, columns: columns, rows: rows, affected: int64(len(rows))}
}

// NewBinaryResult builds a successful row set with explicit column formats.
func NewBinaryResult(columns []string, formats []Format, rows [][]any) *Result {
	return &Result{ok: true, columns: columns, formats: formats, rows: rows, affected: int64(len(rows))}
}

// NewAffected builds a successful result of a statement without rows.
func NewAffected(n int64) *Result {
	return &Result{ok: true, affected: n}
}

// NewFailure builds a failed result.
func NewFailure(info Info) *Result {
	return &Result{info: info}
}

// IsSuccess reports whether the statement succeeded.
func (r *Result) IsSuccess() bool {
	return r != nil && r.ok
}

// Info returns the error record; empty for successful results.
func (r *Result) Info() Info {
	if r == nil {
		return Info{Error: "0", Status: "FATAL", Desc: "no result"}
	}
	return r.info
}

// Rows returns the number of rows.
func (r *Result) Rows() int {
	if !r.IsSuccess() {
		return 0
	}
	return len(r.rows)
}

// Fields returns the number of columns.
func (r *Result) Fields() int {
	if !r.IsSuccess() {
		return 0
	}
	return len(r.columns)
}

// Affected returns the number of affected rows.
func (r *Result) Affected() int64 {
	if !r.IsSuccess() {
		return 0
	}
	return r.affected
}

// FieldName returns the name of column f.
func (r *Result) FieldName(f int) string {
	if !r.IsSuccess() || f < 0 || f >= len(r.columns) {
		return ""
	}
	return r.columns[f]
}

// FieldIndex returns the position of the named column or -1.
func (r *Result) FieldIndex(name string) int {
	if !r.IsSuccess() {
		return -1
	}
	for i, c := range r.columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns the raw cell.
func (r *Result) Value(row, f int) any {
	if !r.IsSuccess() || row < 0 || row >= len(r.rows) || f < 0 || f >= len(r.rows[row]) {
		return nil
	}
	return r.rows[row][f]
}

func (r *Result) binary(f int) bool {
	return f < len(r.formats) && r.formats[f] == FormatBinary
}

// IsNull reports whether the cell is NULL.
func (r *Result) IsNull(row, f int) bool {
	return r.Value(row, f) == nil
}

// ToString returns the cell as text.
func (r *Result) ToString(row, f int) string {
	switch v := r.Value(row, f).(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return cast.ToString(v)
	}
}

// ToBytes returns the cell as bytes, decoding the textual \x hex form.
func (r *Result) ToBytes(row, f int) []byte {
	switch v := r.Value(row, f).(type) {
	case nil:
		return nil
	case []byte:
		if !r.binary(f) {
			if b, ok := decodeHex(string(v)); ok {
				return b
			}
		}
		return v
	case string:
		if b, ok := decodeHex(v); ok {
			return b
		}
		return []byte(v)
	default:
		return []byte(cast.ToString(v))
	}
}

// ToInteger returns the cell as int64.
func (r *Result) ToInteger(row, f int) int64 {
	switch v := r.Value(row, f).(type) {
	case nil:
		return 0
	case []byte:
		if r.binary(f) {
			return DecodeInteger(v)
		}
		return parseInteger(string(v))
	case string:
		return parseInteger(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case time.Time:
		return v.UnixMicro()
	default:
		return cast.ToInt64(v)
	}
}

// ToDouble returns the cell as float64.
func (r *Result) ToDouble(row, f int) float64 {
	switch v := r.Value(row, f).(type) {
	case nil:
		return 0
	case []byte:
		if r.binary(f) {
			return DecodeFloat(v)
		}
		return parseFloat(string(v))
	case string:
		return parseFloat(v)
	default:
		return cast.ToFloat64(v)
	}
}

// ToBool returns the cell as bool.
func (r *Result) ToBool(row, f int) bool {
	switch v := r.Value(row, f).(type) {
	case nil:
		return false
	case bool:
		return v
	case []byte:
		if r.binary(f) {
			return len(v) > 0 && v[0] != 0
		}
		return parseBool(string(v))
	case string:
		return parseBool(v)
	default:
		return cast.ToInt64(v) != 0
	}
}

// DecodeInteger decodes a network-order signed integer of 1, 2, 4 or 8 bytes.
func DecodeInteger(b []byte) int64 {
	switch len(b) {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.BigEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.BigEndian.Uint32(b)))
	case 8:
		return int64(binary.BigEndian.Uint64(b))
	}
	return 0
}

// DecodeFloat decodes a network-order IEEE float of 4 or 8 bytes.
func DecodeFloat(b []byte) float64 {
	switch len(b) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	}
	return 0
}

func parseInteger(s string) int64 {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true", "1", "y", "yes", "on":
		return true
	}
	return false
}

func decodeHex(s string) ([]byte, bool) {
	if !strings.HasPrefix(s, `\x`) {
		return nil, false
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, false
	}
	return b, true
}
