package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/rzpsarthak13/serenity/internal/value"
)

// Action selects which defaults and restrictions the change-set transform
// applies.
type Action int

const (
	ActionCreate Action = iota
	ActionUpdate
	ActionProtectedCreate
	ActionProtectedUpdate
)

func (a Action) isCreate() bool {
	return a == ActionCreate || a == ActionProtectedCreate
}

func (a Action) isProtected() bool {
	return a == ActionProtectedCreate || a == ActionProtectedUpdate
}

type userKey struct{}

// WithUser stores the acting user id, used for AutoUser fields.
func WithUser(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

// UserFromContext returns the acting user id or zero.
func UserFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(userKey{}).(int64)
	return id
}

// PasswordHasher turns passwords into stored digests.
type PasswordHasher interface {
	Hash(password, salt string) []byte
	Check(stored []byte, password, salt string) bool
}

const passwordHeader = 16

// SHA512Hasher stores a 16 byte header (version 0,1 and 14 random bytes)
// followed by sha512(header, salt, sha512(password, secret)).
type SHA512Hasher struct {
	Secret string
}

func (h SHA512Hasher) digest(header []byte, password, salt string) []byte {
	src := sha512.Sum512([]byte(password + h.Secret))
	d := sha512.New()
	d.Write(header)
	d.Write([]byte(salt))
	d.Write(src[:])
	return d.Sum(nil)
}

func (h SHA512Hasher) Hash(password, salt string) []byte {
	if password == "" {
		return nil
	}
	out := make([]byte, passwordHeader, passwordHeader+sha512.Size)
	out[0], out[1] = 0, 1
	if _, err := rand.Read(out[2:passwordHeader]); err != nil {
		return nil
	}
	return append(out, h.digest(out[:passwordHeader], password, salt)...)
}

func (h SHA512Hasher) Check(stored []byte, password, salt string) bool {
	if len(stored) != passwordHeader+sha512.Size || stored[0] != 0 || stored[1] != 1 {
		return false
	}
	d := h.digest(stored[:passwordHeader], password, salt)
	return subtle.ConstantTimeCompare(d, stored[passwordHeader:]) == 1
}

// transformValue normalizes v for f. A false result drops the value.
func (s *Scheme) transformValue(f *Field, v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	var (
		out any
		ok  bool
	)
	switch f.Type {
	case TypeData:
		out, ok = v, true
	case TypeInteger:
		out, ok = toInteger(v)
	case TypeFloat:
		if isContainer(v) {
			return nil, false
		}
		fv, err := cast.ToFloat64E(v)
		out, ok = fv, err == nil
	case TypeBoolean:
		out, ok = toBoolean(v)
	case TypeText:
		out, ok = s.transformText(f, v)
	case TypeBytes:
		out, ok = s.transformBytes(f, v)
	case TypeExtra:
		out, ok = s.transformExtra(f, v)
	case TypeFile, TypeImage:
		if value.IsInteger(v) {
			out, ok = value.ToInt(v), true
		}
	case TypeObject:
		if d, isDict := v.(map[string]any); isDict {
			out, ok = d, true
		} else if !isContainer(v) {
			out, ok = toInteger(v)
		}
	case TypeSet:
		out, ok = transformSet(v)
	case TypeArray:
		out, ok = s.transformArray(f, v)
	case TypeView, TypeFullTextView, TypeNone:
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if f.Filter != nil && !f.Filter(s, out) {
		return nil, false
	}
	return out, true
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any, []byte, bool:
		return true
	}
	return false
}

func toInteger(v any) (int64, bool) {
	if i, ok := value.Int(v); ok {
		return i, true
	}
	if str, ok := v.(string); ok {
		i, err := strconv.ParseInt(strings.TrimSpace(str), 10, 64)
		return i, err == nil
	}
	if b, ok := v.(bool); ok {
		if b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toBoolean(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		return t == "1" || t == "on" || t == "true", true
	case map[string]any, []any:
		return false, false
	}
	return value.ToBool(v), true
}

func (s *Scheme) transformText(f *Field, v any) (any, bool) {
	if isContainer(v) {
		if b, ok := v.([]byte); ok {
			v = string(b)
		} else if bv, ok := v.(bool); ok {
			v = strconv.FormatBool(bv)
		} else {
			return nil, false
		}
	}
	str := value.ToString(v)
	if slot, ok := f.Slot.(*TextSlot); ok {
		n := utf8.RuneCountInString(str)
		if n < slot.MinLength || (slot.MaxLength > 0 && n > slot.MaxLength) {
			return nil, false
		}
	}
	switch f.Transform {
	case TransformNone, TransformText:
		return str, validateText(str)
	case TransformIdentifier, TransformAlias:
		return str, validateIdentifier(str)
	case TransformUrl:
		return str, validateURL(str)
	case TransformEmail:
		return validateEmail(str)
	case TransformNumber:
		return str, validateNumber(str)
	case TransformHexadecimal:
		return str, validateHex(str)
	case TransformBase64:
		return str, validateBase64(str)
	}
	return str, true
}

func (s *Scheme) transformBytes(f *Field, v any) (any, bool) {
	slot, _ := f.Slot.(*TextSlot)
	inRange := func(n int) bool {
		if slot == nil {
			return true
		}
		return n >= slot.MinLength && (slot.MaxLength <= 0 || n <= slot.MaxLength)
	}

	if f.Transform == TransformPassword {
		str, ok := v.(string)
		if !ok || !inRange(len(str)) {
			return nil, false
		}
		h := s.hasher()
		if h == nil {
			s.logger().WithField("field", f.Name).Error("password field without configured hasher")
			return nil, false
		}
		salt := ""
		if slot != nil {
			salt = slot.Salt
		}
		out := h.Hash(str, salt)
		return out, out != nil
	}

	switch t := v.(type) {
	case []byte:
		return t, inRange(len(t))
	case string:
		lower := strings.ToLower(t)
		switch {
		case len(t) > 4 && strings.HasPrefix(lower, "hex:"):
			b, err := hex.DecodeString(t[4:])
			if err != nil || !inRange(len(b)) {
				return nil, false
			}
			return b, true
		case len(t) > 7 && strings.HasPrefix(lower, "base64:"):
			b, err := base64.StdEncoding.DecodeString(t[7:])
			if err != nil {
				b, err = base64.RawURLEncoding.DecodeString(t[7:])
			}
			if err != nil || !inRange(len(b)) {
				return nil, false
			}
			return b, true
		case f.Transform == TransformUuid:
			id, err := uuid.Parse(t)
			if err != nil {
				return nil, false
			}
			return id[:], true
		}
	}
	return nil, false
}

func (s *Scheme) transformExtra(f *Field, v any) (any, bool) {
	slot, _ := f.Slot.(*ExtraSlot)
	if slot == nil {
		return nil, false
	}
	filter := func(d value.Dict) (value.Dict, bool) {
		out := value.Dict{}
		for k, e := range d {
			sub, ok := slot.Fields[k]
			if !ok {
				continue
			}
			if e == nil {
				out[k] = nil
				continue
			}
			if tv, ok := s.transformValue(sub, e); ok {
				out[k] = tv
			}
		}
		return out, len(out) > 0
	}

	switch t := v.(type) {
	case map[string]any:
		return filter(t)
	case []any:
		if f.Transform != TransformArray {
			return nil, false
		}
		out := make([]any, 0, len(t))
		for _, e := range t {
			d, ok := e.(map[string]any)
			if !ok {
				continue
			}
			if fd, ok := filter(d); ok {
				out = append(out, fd)
			}
		}
		return out, len(out) > 0
	}
	return nil, false
}

func transformSet(v any) (any, bool) {
	if i, ok := value.Int(v); ok {
		return []any{i}, true
	}
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]any, 0, len(list))
	for _, e := range list {
		if d, ok := e.(map[string]any); ok {
			out = append(out, d)
		} else if i, ok := value.Int(e); ok {
			out = append(out, i)
		}
	}
	return out, true
}

func (s *Scheme) transformArray(f *Field, v any) (any, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	el := f.Element()
	out := make([]any, 0, len(list))
	for _, e := range list {
		if tv, ok := s.transformValue(el, e); ok {
			out = append(out, tv)
		}
	}
	return out, true
}

func validateText(str string) bool {
	if str == "" {
		return false
	}
	for i := 0; i < len(str); i++ {
		c := str[i]
		if c < 8 || (c > 13 && c < 32) || c == 11 {
			return false
		}
	}
	return true
}

// validateIdentifier accepts [a-zA-Z0-9_] followed by [a-zA-Z0-9_.@-].
func validateIdentifier(str string) bool {
	if str == "" {
		return false
	}
	for i := 0; i < len(str); i++ {
		c := str[i]
		alnum := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
		if i == 0 && !alnum {
			return false
		}
		if !alnum && c != '-' && c != '.' && c != '@' {
			return false
		}
	}
	return true
}

func validateURL(str string) bool {
	u, err := url.Parse(strings.TrimSpace(str))
	if err != nil {
		return false
	}
	if u.Scheme == "" {
		return u.Path != "" || u.Host != ""
	}
	return u.Host != "" || u.Opaque != ""
}

// validateEmail strips comments and the display name, returning the
// normalized address with a lowercase domain.
func validateEmail(str string) (any, bool) {
	str = strings.TrimSpace(str)
	if str == "" {
		return nil, false
	}
	if strings.HasSuffix(str, ")") {
		pos := strings.LastIndex(str, "(")
		if pos < 0 {
			return nil, false
		}
		str = strings.TrimSpace(str[:pos])
	}
	addr, err := mail.ParseAddress(str)
	if err != nil {
		return nil, false
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return nil, false
	}
	return addr.Address[:at] + "@" + strings.ToLower(addr.Address[at+1:]), true
}

func validateNumber(str string) bool {
	if str == "" {
		return false
	}
	for i := 0; i < len(str); i++ {
		if str[i] < '0' || str[i] > '9' {
			return false
		}
	}
	return true
}

func validateHex(str string) bool {
	if str == "" {
		return false
	}
	for i := 0; i < len(str); i++ {
		c := str[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func validateBase64(str string) bool {
	if str == "" {
		return false
	}
	for i := 0; i < len(str); i++ {
		c := str[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
			c == '+' || c == '/' || c == '=' || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

// Transform filters d for an action: unknown, read-only and file fields are
// dropped, defaults and auto fields are applied, and every remaining value
// is normalized. Values that fail normalization are removed. It returns a
// new dictionary.
func (s *Scheme) Transform(ctx context.Context, d value.Dict, action Action) value.Dict {
	out := value.Dict{}
	for k, v := range d {
		f := s.fields[k]
		if f == nil {
			continue
		}
		if f.HasFlag(FlagReadOnly) && !action.isProtected() {
			continue
		}
		if f.IsFile() && v != nil {
			continue
		}
		out[k] = v
	}

	now := time.Now().UnixMicro()
	for _, name := range s.order {
		f := s.fields[name]
		if action.isCreate() {
			switch {
			case f.HasFlag(FlagAutoMTime | FlagAutoCTime):
				out[name] = now
			case f.HasFlag(FlagAutoNamed):
				out[name] = uuid.NewString()
			case f.HasFlag(FlagAutoUser):
				if id := UserFromContext(ctx); id != 0 {
					out[name] = id
				}
			default:
				if _, has := out[name]; !has && f.HasDefault() {
					if dv := f.DefaultValue(d); dv != nil {
						out[name] = dv
					}
				}
			}
		} else if f.HasFlag(FlagAutoMTime) && len(out) > 0 {
			out[name] = now
		}
	}

	for k, v := range out {
		f := s.fields[k]
		if v == nil {
			if action.isCreate() {
				delete(out, k)
			}
			continue
		}
		if f.HasFlag(FlagAutoMTime|FlagAutoCTime) && value.IsInteger(v) {
			continue
		}
		tv, ok := s.transformValue(f, v)
		if !ok {
			s.logger().WithField("field", k).Debug("value dropped by transform")
			delete(out, k)
			continue
		}
		out[k] = tv
	}
	return out
}
