// Package serenity is the entry point for applications: it owns the
// connection pool, the scheme registry, the optional session mirror and
// the background workers.
//
// Typical usage:
//
//	cfg, _ := serenity.LoadConfig("serenity.yaml")
//	client, _ := serenity.NewClient(cfg)
//	defer client.Close()
//
//	client.LoadSchemes("schemes.yaml")
//	client.Migrate(ctx, false)
//
//	h, _ := client.Handle(ctx)
//	defer h.Close(ctx)
package serenity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rzpsarthak13/serenity/internal/broadcast"
	"github.com/rzpsarthak13/serenity/internal/core"
	"github.com/rzpsarthak13/serenity/internal/database"
	"github.com/rzpsarthak13/serenity/internal/handle"
	"github.com/rzpsarthak13/serenity/internal/kvstore"
	"github.com/rzpsarthak13/serenity/internal/metrics"
	"github.com/rzpsarthak13/serenity/internal/migrate"
	"github.com/rzpsarthak13/serenity/internal/registry"
	"github.com/rzpsarthak13/serenity/internal/storage"
	"github.com/rzpsarthak13/serenity/internal/value"
)

var (
	ErrNoSchemes     = errors.New("serenity: no schemes loaded")
	ErrUnknownScheme = errors.New("serenity: unknown scheme")
	ErrClosed        = errors.New("serenity: client is closed")
)

// Connector hands out pinned connections. *database.PostgresDatabase is
// wrapped into one by NewClient.
type Connector interface {
	Conn(ctx context.Context) (core.Conn, error)
	Close() error
}

type pgConnector struct {
	db *database.PostgresDatabase
}

func (p pgConnector) Conn(ctx context.Context) (core.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (p pgConnector) Close() error { return p.db.Close() }

// Option configures a Client.
type Option func(*Client)

// WithConnector replaces the postgres pool, mostly for tests.
func WithConnector(c Connector) Option {
	return func(cl *Client) { cl.conn = c }
}

// WithRegistry installs an already built scheme registry.
func WithRegistry(reg *storage.Registry) Option {
	return func(cl *Client) { cl.reg = reg }
}

// WithCollector exports handle and migration events to c.
func WithCollector(c *metrics.Collector) Option {
	return func(cl *Client) { cl.collector = c }
}

func WithLogger(log *logrus.Entry) Option {
	return func(cl *Client) { cl.log = log }
}

func WithLifecycleHook(hook registry.LifecycleHook) Option {
	return func(cl *Client) { cl.hooks = append(cl.hooks, hook) }
}

// WithPasswordHasher overrides the SHA512 hasher keyed by auth.secret.
func WithPasswordHasher(h storage.PasswordHasher) Option {
	return func(cl *Client) { cl.hasher = h }
}

func WithFileStore(fs storage.FileStore) Option {
	return func(cl *Client) { cl.files = fs }
}

// Client is safe for concurrent use. Handles it returns are not.
type Client struct {
	mu     sync.RWMutex
	closed bool

	cfg       *Config
	conn      Connector
	reg       *storage.Registry
	mirror    *kvstore.SessionCache
	collector *metrics.Collector
	lifecycle *registry.LifecycleManager
	hooks     []registry.LifecycleHook
	hasher    storage.PasswordHasher
	files     storage.FileStore
	log       *logrus.Entry
}

// NewClient opens the database pool and, when sessions.type is not "none",
// the session mirror.
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	c := &Client{
		cfg:       cfg,
		lifecycle: registry.NewLifecycleManager(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = logrus.WithField("component", "serenity")
	}
	if c.hasher == nil {
		c.hasher = storage.SHA512Hasher{Secret: cfg.Auth.Secret}
	}
	for _, hook := range c.hooks {
		c.lifecycle.RegisterHook(hook)
	}

	if c.conn == nil {
		db := cfg.Database
		pg, err := database.NewPostgresDatabase(db.Host, db.Port, db.Database, db.Username, db.Password, db.SSLMode,
			db.MaxOpenConns, db.MaxIdleConns, db.ConnMaxLifetime, db.ConnMaxIdleTime, db.ConnectionTimeout)
		if err != nil {
			return nil, err
		}
		c.conn = pgConnector{db: pg}
	}

	if cfg.Sessions.Type != "" && cfg.Sessions.Type != registry.SessionsNone {
		store, err := kvstore.Create(kvstore.ConfigFromSessions(cfg.Sessions))
		if err != nil {
			c.conn.Close()
			return nil, fmt.Errorf("failed to create session store: %w", err)
		}
		c.mirror = kvstore.NewSessionCache(store, cfg.Sessions.Namespace)
	}

	c.log.WithFields(logrus.Fields{
		"database": cfg.Database.Database,
		"sessions": cfg.Sessions.Type,
	}).Info("client initialized")
	return c, nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() *Config { return c.cfg }

// Collector returns the metrics collector, or nil.
func (c *Client) Collector() *metrics.Collector { return c.collector }

// LoadSchemes reads a scheme file and makes it the client's registry.
func (c *Client) LoadSchemes(path string) (*storage.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scheme file: %w", err)
	}
	opts := []storage.RegistryOption{
		storage.WithPasswordHasher(c.hasher),
		storage.WithLogger(c.log.WithField("component", "storage")),
		storage.WithDroppedPredicate(func(s *storage.Scheme, field, reason string) {
			c.log.WithFields(logrus.Fields{"scheme": s.Name(), "field": field}).Warn(reason)
		}),
	}
	if c.files != nil {
		opts = append(opts, storage.WithFileStore(c.files))
	}
	reg, err := storage.LoadYAML(data, opts...)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.reg = reg
	c.mu.Unlock()
	return reg, nil
}

// Registry returns the current scheme registry, or nil.
func (c *Client) Registry() *storage.Registry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reg
}

// Handle pins a connection and binds a handle to it. The caller closes it.
func (c *Client) Handle(ctx context.Context, opts ...handle.Option) (*handle.Handle, error) {
	c.mu.RLock()
	closed, reg := c.closed, c.reg
	c.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	conn, err := c.conn.Conn(ctx)
	if err != nil {
		return nil, err
	}

	base := []handle.Option{
		handle.WithLogger(c.log.WithField("component", "handle")),
		handle.WithAuthLimits(c.cfg.Auth.MaxFailures, c.cfg.Auth.MaxAuthTime),
	}
	if c.collector != nil {
		base = append(base, handle.WithObserver(c.collector))
	}
	if c.mirror != nil {
		base = append(base, handle.WithSessionMirror(c.mirror))
	}
	return handle.New(conn, reg, append(base, opts...)...), nil
}

// Migrate brings the database in line with the loaded schemes. Lifecycle
// hooks run around the update; a failing before hook cancels it.
func (c *Client) Migrate(ctx context.Context, dryRun bool) (migrate.Report, error) {
	reg := c.Registry()
	if reg == nil {
		return migrate.Report{}, ErrNoSchemes
	}
	names := make([]string, 0, len(reg.Schemes()))
	for _, s := range reg.Schemes() {
		names = append(names, s.Name())
	}
	if err := c.lifecycle.ExecuteBeforeHooks(ctx, names); err != nil {
		return migrate.Report{}, err
	}

	h, err := c.Handle(ctx)
	if err != nil {
		return migrate.Report{}, err
	}
	defer h.Close(ctx)

	opts := migrate.Options{
		LogDir: c.cfg.Migration.LogDir,
		Server: c.cfg.Migration.Server,
		DryRun: dryRun,
		Log:    c.log.WithField("component", "migrate"),
	}
	if c.collector != nil {
		opts.Observer = c.collector
	}
	report := migrate.Init(ctx, h, reg, opts)

	event := registry.MigrationEvent{
		Schemes:    names,
		Statements: report.Statements,
		Applied:    report.Applied,
		DryRun:     dryRun,
		LogPath:    report.LogPath,
		Err:        report.Err,
	}
	if err := c.lifecycle.ExecuteAfterHooks(ctx, event); err != nil && report.Err == nil {
		return report, err
	}
	return report, report.Err
}

// Plan compiles the pending update without applying it.
func (c *Client) Plan(ctx context.Context) (string, int, error) {
	reg := c.Registry()
	if reg == nil {
		return "", 0, ErrNoSchemes
	}
	h, err := c.Handle(ctx)
	if err != nil {
		return "", 0, err
	}
	defer h.Close(ctx)

	sql, n, _, _, err := migrate.Plan(ctx, h, reg)
	return sql, n, err
}

// Cleanup drops expired sessions, files of removed objects and old
// broadcasts.
func (c *Client) Cleanup(ctx context.Context) error {
	h, err := c.Handle(ctx)
	if err != nil {
		return err
	}
	defer h.Close(ctx)

	h.MakeSessionsCleanup(ctx)
	if info := h.LastError(); info.Error != "" {
		return fmt.Errorf("cleanup: %s", info.Desc)
	}
	return nil
}

// History lists change log entries of scheme newer than since.
func (c *Client) History(ctx context.Context, scheme string, since int64) ([]value.Dict, error) {
	reg := c.Registry()
	if reg == nil {
		return nil, ErrNoSchemes
	}
	s := reg.Scheme(scheme)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, scheme)
	}
	h, err := c.Handle(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Close(ctx)

	return h.GetHistory(ctx, s, since), nil
}

// NewBroadcastQueue builds the local fan-out queue described by the
// broadcast section.
func (c *Client) NewBroadcastQueue() (core.BroadcastQueue, error) {
	cfg := c.cfg.Broadcast
	var ops broadcast.ListOperations
	if cfg.QueueType == "redis" {
		rc := cfg.RedisConfig
		store, err := kvstore.NewRedisKVStore(kvstore.KVStoreConfig{
			Type:         "redis",
			Endpoints:    rc.Endpoints,
			Password:     rc.Password,
			DB:           rc.DB,
			PoolSize:     rc.PoolSize,
			MinIdleConns: rc.MinIdleConns,
			DialTimeout:  c.cfg.Sessions.DialTimeout,
			ReadTimeout:  c.cfg.Sessions.ReadTimeout,
			WriteTimeout: c.cfg.Sessions.WriteTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create broadcast store: %w", err)
		}
		ops = store
	}
	return broadcast.NewQueue(cfg, ops)
}

// Close releases the session mirror and the pool.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var errs []error
	if c.mirror != nil {
		errs = append(errs, c.mirror.Close())
	}
	errs = append(errs, c.conn.Close())
	return errors.Join(errs...)
}
