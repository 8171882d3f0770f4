package core

import (
	"context"
)

// Conn is one physical database connection. Implementations never return Go
// errors for statement failures; the returned Result carries the Info record.
type Conn interface {
	// Query runs a statement that produces rows.
	Query(ctx context.Context, query string, args ...any) *Result

	// Exec runs a statement and reports affected rows. Without arguments the
	// text may hold several statements separated by semicolons.
	Exec(ctx context.Context, query string, args ...any) *Result

	// Close releases the connection back to its pool.
	Close() error
}
