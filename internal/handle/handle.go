// Package handle implements the storage adapter on top of one pinned
// PostgreSQL connection. A Handle owns the transaction state of that
// connection, buffers broadcasts until commit and executes every statement
// the scheme operations need.
package handle

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rzpsarthak13/serenity/internal/core"
	"github.com/rzpsarthak13/serenity/internal/storage"
)

// Failure is the affected row count reported for a failed statement.
const Failure uint64 = math.MaxUint64

// Status is the state of the current transaction.
type Status int

const (
	// StatusNone means no transaction is open.
	StatusNone Status = iota

	// StatusCommit means the open transaction will be committed.
	StatusCommit

	// StatusRollback means the transaction failed or was cancelled. Every
	// statement is skipped until EndTransaction.
	StatusRollback
)

func (s Status) String() string {
	switch s {
	case StatusCommit:
		return "commit"
	case StatusRollback:
		return "rollback"
	}
	return "none"
}

// Isolation is a transaction isolation level.
type Isolation int

const (
	ReadCommitted Isolation = iota
	RepeatableRead
	Serializable
)

func (l Isolation) String() string {
	switch l {
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	}
	return "READ COMMITTED"
}

// DeltaAction is the kind of change recorded in a delta log.
type DeltaAction int64

const (
	DeltaCreate DeltaAction = iota + 1
	DeltaUpdate
	DeltaDelete
	DeltaAppend
	DeltaErase
)

func (a DeltaAction) String() string {
	switch a {
	case DeltaCreate:
		return "create"
	case DeltaUpdate:
		return "update"
	case DeltaDelete:
		return "delete"
	case DeltaAppend:
		return "append"
	case DeltaErase:
		return "erase"
	}
	return ""
}

// Observer receives execution events, e.g. for metrics.
type Observer interface {
	ObserveQuery(kind string, ok bool, d time.Duration)
	ObserveTransaction(outcome string)
	ObserveBroadcast(direction string, n int)
	ObserveSessionsRemoved(n int64)
}

// SessionMirror is a fast copy of the session table. A miss is reported as
// nil data without error.
type SessionMirror interface {
	Get(ctx context.Context, name []byte) ([]byte, error)
	Set(ctx context.Context, name, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, name []byte) error
}

type pendingBroadcast struct {
	date int64
	msg  []byte
}

// mirrorOp is a session mirror write held until commit. A nil data
// deletes the entry.
type mirrorOp struct {
	name []byte
	data []byte
	ttl  time.Duration
}

// Handle is the transactional executor bound to one connection. It is not
// safe for concurrent use.
type Handle struct {
	conn     core.Conn
	registry *storage.Registry

	status     Status
	level      Isolation
	user       int64
	broadcasts []pendingBroadcast
	mirrorOps  []mirrorOp
	lastError  core.Info

	mirror   SessionMirror
	observer Observer

	authMaxFailures int64
	authMaxTime     time.Duration

	id  string
	log *logrus.Entry
}

// Option configures a Handle.
type Option func(*Handle)

// WithUser sets the user written into the serenity.user GUC when the
// context carries none.
func WithUser(id int64) Option {
	return func(h *Handle) { h.user = id }
}

func WithObserver(o Observer) Option {
	return func(h *Handle) { h.observer = o }
}

func WithSessionMirror(m SessionMirror) Option {
	return func(h *Handle) { h.mirror = m }
}

func WithLogger(log *logrus.Entry) Option {
	return func(h *Handle) { h.log = log }
}

// WithAuthLimits sets how many failed logins within window block a user.
func WithAuthLimits(maxFailures int64, window time.Duration) Option {
	return func(h *Handle) {
		if maxFailures > 0 {
			h.authMaxFailures = maxFailures
		}
		if window > 0 {
			h.authMaxTime = window
		}
	}
}

// New binds a handle to conn. The registry provides schemes for file and
// object lookups and may be nil for session-only use.
func New(conn core.Conn, reg *storage.Registry, opts ...Option) *Handle {
	h := &Handle{
		conn:            conn,
		registry:        reg,
		authMaxFailures: 16,
		authMaxTime:     10 * time.Minute,
		id:              uuid.NewString(),
	}
	for _, o := range opts {
		o(h)
	}
	if h.log == nil {
		h.log = logrus.WithField("component", "handle")
	}
	h.log = h.log.WithField("handle", h.id)
	return h
}

// ID identifies the handle in logs.
func (h *Handle) ID() string { return h.id }

func (h *Handle) Status() Status { return h.status }

// LastError returns the error record of the last failed statement.
func (h *Handle) LastError() core.Info { return h.lastError }

// Registry returns the scheme registry the handle was created with.
func (h *Handle) Registry() *storage.Registry { return h.registry }

// Close rolls back an open transaction and releases the connection.
func (h *Handle) Close(ctx context.Context) error {
	if h.status != StatusNone {
		h.CancelTransaction()
		h.EndTransaction(ctx)
	}
	return h.conn.Close()
}

func (h *Handle) scheme(name string) *storage.Scheme {
	if h.registry == nil {
		return nil
	}
	return h.registry.Scheme(name)
}

var _ storage.Adapter = (*Handle)(nil)
