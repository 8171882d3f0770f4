package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/rzpsarthak13/serenity/internal/core"
)

// PostgresDatabase is the connection pool. Handles pin one connection each
// for their whole lifetime via Conn.
type PostgresDatabase struct {
	db     *sqlx.DB
	log    *logrus.Entry
	closed bool
}

// NewPostgresDatabase opens a pool and waits until the server answers.
func NewPostgresDatabase(host string, port int, database, username, password, sslMode string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime, connectionTimeout time.Duration) (*PostgresDatabase, error) {
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=%d",
		host, port, database, username, password, sslMode, int(connectionTimeout.Seconds()))

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	log := logrus.WithField("component", "postgres")

	params := backoff.NewExponentialBackOff()
	params.InitialInterval = 100 * time.Millisecond
	params.MaxElapsedTime = connectionTimeout
	err = backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			log.WithError(err).Warn("ping failed, retrying")
			return err
		}
		return nil
	}, params)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDatabase{db: db, log: log}, nil
}

// NewFromDB wraps an already opened pool.
func NewFromDB(db *sqlx.DB) *PostgresDatabase {
	return &PostgresDatabase{db: db, log: logrus.WithField("component", "postgres")}
}

// Conn pins one connection from the pool.
func (p *PostgresDatabase) Conn(ctx context.Context) (*Connection, error) {
	if p.closed {
		return nil, fmt.Errorf("database is closed")
	}
	conn, err := p.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Connection{conn: conn, log: p.log}, nil
}

// DB returns the underlying pool.
func (p *PostgresDatabase) DB() *sqlx.DB {
	return p.db
}

// Close closes the pool.
func (p *PostgresDatabase) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

// Connection is one pinned connection implementing core.Conn.
type Connection struct {
	conn *sqlx.Conn
	log  *logrus.Entry
}

// Query runs a row-producing statement and materializes every row.
func (c *Connection) Query(ctx context.Context, query string, args ...any) *core.Result {
	c.log.WithField("args", len(args)).Debug(query)
	rows, err := c.conn.QueryxContext(ctx, query, args...)
	if err != nil {
		return c.failure(query, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return c.failure(query, err)
	}

	var out [][]any
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return c.failure(query, err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return c.failure(query, err)
	}
	return core.NewResult(cols, out)
}

// Exec runs a statement and reports the affected row count.
func (c *Connection) Exec(ctx context.Context, query string, args ...any) *core.Result {
	c.log.WithField("args", len(args)).Debug(query)
	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return c.failure(query, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		n = 0
	}
	return core.NewAffected(n)
}

// Close returns the connection to the pool.
func (c *Connection) Close() error {
	return c.conn.Close()
}

func (c *Connection) failure(query string, err error) *core.Result {
	info := InfoFromError(err)
	c.log.WithFields(logrus.Fields{
		"code":   info.Error,
		"status": info.Status,
		"desc":   info.Desc,
	}).Error("statement failed: ", query)
	return core.NewFailure(info)
}

// InfoFromError converts a driver error into the structured record.
func InfoFromError(err error) core.Info {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return core.Info{
			Error:  string(pqErr.Code),
			Status: pqErr.Severity,
			Desc:   pqErr.Message,
		}
	}
	return core.Info{
		Error:  "0",
		Status: "FATAL",
		Desc:   err.Error(),
	}
}
