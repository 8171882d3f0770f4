package storage

import (
	"context"
	"io"

	"github.com/rzpsarthak13/serenity/internal/value"
)

// Adapter is the persistence backend used by the scheme operations. It is
// implemented by the PostgreSQL handle; failures are reported through zero
// results and logged by the implementation.
type Adapter interface {
	// PerformInTransaction runs fn inside a transaction, joining the
	// current one when open. A false result from fn rolls it back.
	PerformInTransaction(ctx context.Context, fn func(ctx context.Context) bool) bool

	CreateObject(ctx context.Context, s *Scheme, data value.Dict) bool
	SaveObject(ctx context.Context, s *Scheme, oid int64, data value.Dict, fields []string) bool
	PatchObject(ctx context.Context, s *Scheme, oid int64, patch value.Dict) value.Dict
	RemoveObject(ctx context.Context, s *Scheme, oid int64) bool
	SelectObjects(ctx context.Context, s *Scheme, q *Query) []value.Dict
	CountObjects(ctx context.Context, s *Scheme, q *Query) int64

	GetProperty(ctx context.Context, s *Scheme, oid int64, f *Field, fields []string) any
	GetObjectProperty(ctx context.Context, s *Scheme, obj value.Dict, f *Field, fields []string) any
	SetProperty(ctx context.Context, s *Scheme, oid int64, f *Field, v any) any
	ClearProperty(ctx context.Context, s *Scheme, oid int64, f *Field, hint []any) bool
	AppendProperty(ctx context.Context, s *Scheme, oid int64, f *Field, v any) any

	// AddToView inserts one projected row of view, a field of owner.
	AddToView(ctx context.Context, owner *Scheme, view *Field, tag int64, data value.Dict) bool

	// RemoveFromView drops the rows of object from view. A zero tag drops
	// them from every owner.
	RemoveFromView(ctx context.Context, owner *Scheme, view *Field, tag, object int64) bool
}

// PendingFile is an upload placed in a change-set in place of a file id.
type PendingFile struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// FileStore persists uploads referenced by File and Image fields.
type FileStore interface {
	// CreateFile stores the upload and its __files row, returning the id.
	CreateFile(ctx context.Context, a Adapter, f *Field, file *PendingFile) (int64, error)

	// PurgeFile removes a file created during a failed operation.
	PurgeFile(ctx context.Context, a Adapter, id int64)

	// GetFileData returns the __files row of id.
	GetFileData(ctx context.Context, a Adapter, id int64) value.Dict

	// RemoveFile deletes the stored content of a removed __files row.
	RemoveFile(ctx context.Context, id int64)
}
