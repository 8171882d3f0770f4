package serenity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/serenity/internal/broadcast"
	"github.com/rzpsarthak13/serenity/internal/core"
	"github.com/rzpsarthak13/serenity/internal/metrics"
	"github.com/rzpsarthak13/serenity/internal/registry"
)

type rule struct {
	match string
	res   *core.Result
	used  bool
}

// scriptConn serves the first unused rule whose match is a substring of
// the statement. Unmatched statements succeed without rows.
type scriptConn struct {
	mu    sync.Mutex
	rules []*rule
	texts []string
}

func (c *scriptConn) on(match string, res *core.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, &rule{match: match, res: res})
}

func (c *scriptConn) serve(text string, rows bool) *core.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	for _, r := range c.rules {
		if !r.used && strings.Contains(text, r.match) {
			r.used = true
			return r.res
		}
	}
	if rows {
		return core.NewResult(nil, nil)
	}
	return core.NewAffected(0)
}

func (c *scriptConn) Query(_ context.Context, text string, _ ...any) *core.Result {
	return c.serve(text, true)
}

func (c *scriptConn) Exec(_ context.Context, text string, _ ...any) *core.Result {
	return c.serve(text, false)
}

func (c *scriptConn) Close() error { return nil }

func (c *scriptConn) statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

type scriptConnector struct {
	conn   *scriptConn
	opened int
	err    error
	closed bool
}

func (s *scriptConnector) Conn(context.Context) (core.Conn, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.opened++
	return s.conn, nil
}

func (s *scriptConnector) Close() error {
	s.closed = true
	return nil
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *scriptConn, *scriptConnector) {
	t.Helper()
	conn := &scriptConn{}
	connector := &scriptConnector{conn: conn}
	cfg := DefaultConfig()
	cfg.Broadcast.PollInterval = 5 * time.Millisecond
	c, err := NewClient(cfg, append([]Option{WithConnector(connector)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, conn, connector
}

func broadcastRows(rows ...[]any) *core.Result {
	return core.NewResult([]string{"id", "date", "msg"}, rows)
}

const schemesYAML = `
schemes:
  - name: users
    delta: true
    fields:
      - name: name
        type: text
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serenity.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  host: db.local
  database: objects
  username: app
cleanup:
  interval: 30s
`), 0o600))

	env := map[string]string{"SERENITY_DATABASE_PORT": "6543", "SERENITY_AUTH_SECRET": "pepper"}
	cfg, err := loadConfig(path, func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, "db.local", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 30*time.Second, cfg.Cleanup.Interval)
	assert.Equal(t, "pepper", cfg.Auth.Secret)
	assert.Equal(t, "memory", cfg.Broadcast.QueueType)

	_, err = loadConfig("", func(string) string { return "" })
	assert.Error(t, err, "defaults alone lack a database name")
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)

	c, _, connector := newTestClient(t)
	assert.Nil(t, c.Registry())

	reg, err := c.LoadSchemes(writeSchemes(t))
	require.NoError(t, err)
	assert.Same(t, reg, c.Registry())
	require.NotNil(t, reg.Scheme("users"))

	h, err := c.Handle(context.Background())
	require.NoError(t, err)
	assert.Same(t, reg, h.Registry())
	assert.Equal(t, 1, connector.opened)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, connector.closed)
	_, err = c.Handle(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func writeSchemes(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schemes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(schemesYAML), 0o600))
	return path
}

func TestHistory(t *testing.T) {
	c, conn, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.History(ctx, "users", 0)
	assert.ErrorIs(t, err, ErrNoSchemes)

	_, err = c.LoadSchemes(writeSchemes(t))
	require.NoError(t, err)
	_, err = c.History(ctx, "nope", 0)
	assert.ErrorIs(t, err, ErrUnknownScheme)

	got, err := c.History(ctx, "users", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	stmts := conn.statements()
	require.NotEmpty(t, stmts)
	assert.Contains(t, stmts[len(stmts)-1], "users")
}

func TestCleanup(t *testing.T) {
	c, conn, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Cleanup(ctx))

	conn.on("DELETE FROM __sessions", core.NewFailure(core.Info{Error: "42P01", Status: "ERROR", Desc: "no table"}))
	assert.ErrorContains(t, c.Cleanup(ctx), "no table")
}

func TestMigrateHooks(t *testing.T) {
	c, _, connector := newTestClient(t, WithLifecycleHook(&registry.LifecycleHookFunc{
		BeforeFunc: func(context.Context, []string) error { return errors.New("frozen") },
	}))
	ctx := context.Background()

	_, err := c.Migrate(ctx, true)
	assert.ErrorIs(t, err, ErrNoSchemes)

	_, err = c.LoadSchemes(writeSchemes(t))
	require.NoError(t, err)
	_, err = c.Migrate(ctx, true)
	assert.EqualError(t, err, "frozen")
	assert.Equal(t, 0, connector.opened)
}

func TestPollOnce(t *testing.T) {
	collector := metrics.NewCollector(nil, nil)
	c, conn, _ := newTestClient(t, WithCollector(collector))
	ctx := context.Background()
	queue := broadcast.NewMemoryQueue(10)

	p := NewBroadcastPoller(c, queue, 0)
	conn.on("__broadcasts_id_seq", core.NewResult([]string{"last_value"}, [][]any{{int64(40)}}))
	n, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(40), p.Last())

	conn.on("FROM __broadcasts", broadcastRows(
		[]any{int64(41), int64(1000), []byte("a")},
		[]any{int64(43), int64(1001), []byte("b")},
	))
	n, err = p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(43), p.Last())

	msgs, err := queue.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].Seq)
	assert.Equal(t, int64(1000), msgs[0].Date)
	assert.Equal(t, []byte("a"), msgs[0].Payload)
	assert.NotEmpty(t, msgs[0].ID)
	assert.Equal(t, int64(2), msgs[1].Seq)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
}

func TestPollOnceQueueFull(t *testing.T) {
	c, conn, _ := newTestClient(t)
	queue := broadcast.NewMemoryQueue(1)
	p := NewBroadcastPoller(c, queue, 40)

	conn.on("FROM __broadcasts", broadcastRows(
		[]any{int64(41), int64(1000), []byte("a")},
		[]any{int64(42), int64(1001), []byte("b")},
	))
	n, err := p.PollOnce(context.Background())
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, broadcast.ErrQueueFull)
	assert.Equal(t, int64(41), p.Last())
}

func TestPollOnceResumesAfterPublishFailure(t *testing.T) {
	c, conn, _ := newTestClient(t)
	ctx := context.Background()
	queue := broadcast.NewMemoryQueue(1)
	p := NewBroadcastPoller(c, queue, 40)

	conn.on("FROM __broadcasts", broadcastRows(
		[]any{int64(41), int64(1000), []byte("a")},
		[]any{int64(42), int64(1001), []byte("b")},
	))
	_, err := p.PollOnce(ctx)
	require.ErrorIs(t, err, broadcast.ErrQueueFull)
	require.Equal(t, int64(41), p.Last())

	msgs, err := queue.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("a"), msgs[0].Payload)

	conn.on("FROM __broadcasts", broadcastRows([]any{int64(42), int64(1001), []byte("b")}))
	n, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(42), p.Last())

	stmts := conn.statements()
	assert.Contains(t, stmts[len(stmts)-1], `WHERE "id">41 ORDER BY "id" ASC`)

	msgs, err = queue.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("b"), msgs[0].Payload)
}

func TestPollOnceFailure(t *testing.T) {
	c, conn, _ := newTestClient(t)
	p := NewBroadcastPoller(c, broadcast.NewMemoryQueue(1), 40)

	conn.on("FROM __broadcasts", core.NewFailure(core.Info{Error: "57P01", Status: "FATAL", Desc: "terminating"}))
	_, err := p.PollOnce(context.Background())
	assert.ErrorContains(t, err, "terminating")
	assert.Equal(t, int64(40), p.Last())
}

func TestPollerStartStop(t *testing.T) {
	c, conn, _ := newTestClient(t)
	queue := broadcast.NewMemoryQueue(10)
	p := NewBroadcastPoller(c, queue, 7)

	conn.on("FROM __broadcasts", broadcastRows([]any{int64(9), int64(1), []byte("x")}))
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.IsRunning())

	require.Eventually(t, func() bool { return p.Last() == 9 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
	assert.False(t, p.IsRunning())
	assert.Equal(t, 1, queue.Size())
}

type stubWorker struct {
	name    string
	running bool
	err     error
}

func (w *stubWorker) Name() string { return w.name }

func (w *stubWorker) Start(context.Context) error {
	if w.err != nil {
		return w.err
	}
	w.running = true
	return nil
}

func (w *stubWorker) Stop() error {
	w.running = false
	return nil
}

func (w *stubWorker) IsRunning() bool { return w.running }

func TestWorkerManager(t *testing.T) {
	m := NewWorkerManager()
	a := &stubWorker{name: "a"}
	b := &stubWorker{name: "b"}

	assert.Same(t, a, m.Add(a))
	assert.Same(t, a, m.Add(&stubWorker{name: "a"}))
	m.Add(b)
	assert.Equal(t, 2, m.Count())
	assert.Same(t, b, m.Get("b"))
	assert.Nil(t, m.Get("c"))

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, a.IsRunning())
	assert.True(t, b.IsRunning())

	require.NoError(t, m.Remove("a"))
	assert.False(t, a.IsRunning())
	assert.Equal(t, 1, m.Count())
	require.NoError(t, m.Remove("a"))

	require.NoError(t, m.StopAll())
	assert.False(t, b.IsRunning())

	m.Add(&stubWorker{name: "c", err: errors.New("boom")})
	assert.EqualError(t, m.StartAll(context.Background()), "boom")
}

func TestSessionCleaner(t *testing.T) {
	c, conn, _ := newTestClient(t)
	c.cfg.Cleanup.Interval = 5 * time.Millisecond
	cl := NewSessionCleaner(c)

	require.NoError(t, cl.Start(context.Background()))
	require.Eventually(t, func() bool { return cl.Runs() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, cl.Stop())
	assert.False(t, cl.IsRunning())

	var deletes int
	for _, s := range conn.statements() {
		if strings.HasPrefix(s, "DELETE FROM __sessions") {
			deletes++
		}
	}
	assert.GreaterOrEqual(t, deletes, 2)
}
