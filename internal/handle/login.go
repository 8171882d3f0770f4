package handle

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rzpsarthak13/serenity/internal/query"
	"github.com/rzpsarthak13/serenity/internal/storage"
	"github.com/rzpsarthak13/serenity/internal/value"
)

// LoginRequest describes where a login attempt came from.
type LoginRequest struct {
	Addr string
	Host string
	Path string
}

// CheckFunc verifies password against a decoded user row.
type CheckFunc func(user value.Dict, password string) bool

// AuthorizeUser looks up name in s and verifies password. Users with too
// many recent failures are refused without a check. Every checked attempt
// is recorded in __login. It returns the user row on success.
func (h *Handle) AuthorizeUser(ctx context.Context, s *storage.Scheme, name, password string, check CheckFunc, req LoginRequest) value.Dict {
	log := h.log.WithFields(logrus.Fields{"scheme": s.Name(), "name": name})
	now := time.Now()

	q := query.New()
	u := query.New()
	u.Select().From(s.Name()).Where().And(query.Name("name"), query.Equal, name)
	l := query.New()
	l.Select(query.Count{Alias: "failed_count"}).From("__login").
		InnerJoinOn("u", func(w *query.Where) {
			w.And(query.Ref("__login", "user"), query.Equal, query.Ref("u", "__oid")).
				And(query.Ref("__login", "success"), query.Equal, false).
				And(query.Ref("__login", "date"), query.GreatherThen, seconds(now.Add(-h.authMaxTime)))
		})
	q.With("u", u).With("l", l).Select().From("l").From("u")

	res := h.Select(ctx, q)
	if res.Rows() != 1 {
		log.Warn("user not found")
		return nil
	}

	failed := res.ToInteger(0, res.FieldIndex("failed_count"))
	if failed >= h.authMaxFailures {
		log.WithFields(logrus.Fields{
			"cooldown":       h.authMaxTime.String(),
			"failedAttempts": failed,
		}).Warn("authorization blocked")
		return nil
	}

	user := decodeRow(s, res, 0, nil)
	if check == nil {
		check = h.passwordCheck(s)
	}
	success := check != nil && check(user, password)

	var attempt any
	if hasher := registryHasher(s); hasher != nil {
		attempt = hasher.Hash(password, "")
	}
	var addr any
	if req.Addr != "" {
		addr = req.Addr
	}
	ins := query.New()
	ins.Insert("__login").
		Fields("user", "name", "password", "date", "success", "addr", "host", "path").
		Values(value.Oid(user), name, attempt, seconds(now), success, query.Typed{V: addr, Type: "inet"}, req.Host, req.Path)
	h.Perform(ctx, ins)

	if !success {
		log.Warn("invalid password")
		return nil
	}
	return user
}

// passwordCheck verifies against the password field with the registry
// hasher.
func (h *Handle) passwordCheck(s *storage.Scheme) CheckFunc {
	f := s.Field("password")
	hasher := registryHasher(s)
	if f == nil || hasher == nil {
		return nil
	}
	salt := ""
	if slot, ok := f.Slot.(*storage.TextSlot); ok {
		salt = slot.Salt
	}
	return func(user value.Dict, password string) bool {
		stored, ok := user["password"].([]byte)
		return ok && hasher.Check(stored, password, salt)
	}
}

func registryHasher(s *storage.Scheme) storage.PasswordHasher {
	if reg := s.Registry(); reg != nil {
		return reg.Hasher()
	}
	return nil
}
