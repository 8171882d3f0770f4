package handle

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/serenity/internal/core"
	"github.com/rzpsarthak13/serenity/internal/query"
	"github.com/rzpsarthak13/serenity/internal/storage"
	"github.com/rzpsarthak13/serenity/internal/value"
)

type call struct {
	text string
	args []any
	rows bool
}

type rule struct {
	match string
	res   *core.Result
	used  bool
}

// fakeConn records statements and serves scripted results. Each rule is
// consumed by the first statement containing its match.
type fakeConn struct {
	calls  []call
	rules  []*rule
	closed bool
}

func (c *fakeConn) on(match string, res *core.Result) {
	c.rules = append(c.rules, &rule{match: match, res: res})
}

func (c *fakeConn) serve(text string, args []any, rows bool) *core.Result {
	c.calls = append(c.calls, call{text: text, args: args, rows: rows})
	for _, r := range c.rules {
		if !r.used && strings.Contains(text, r.match) {
			r.used = true
			return r.res
		}
	}
	if rows {
		return core.NewResult(nil, nil)
	}
	return core.NewAffected(1)
}

func (c *fakeConn) Query(_ context.Context, text string, args ...any) *core.Result {
	return c.serve(text, args, true)
}

func (c *fakeConn) Exec(_ context.Context, text string, args ...any) *core.Result {
	return c.serve(text, args, false)
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConn) texts() []string {
	out := make([]string, len(c.calls))
	for i, cl := range c.calls {
		out[i] = cl.text
	}
	return out
}

func (c *fakeConn) last() call {
	if len(c.calls) == 0 {
		return call{}
	}
	return c.calls[len(c.calls)-1]
}

type fakeMirror struct {
	data map[string][]byte
}

func (m *fakeMirror) Get(_ context.Context, name []byte) ([]byte, error) {
	return m.data[string(name)], nil
}

func (m *fakeMirror) Set(_ context.Context, name, data []byte, _ time.Duration) error {
	m.data[string(name)] = data
	return nil
}

func (m *fakeMirror) Delete(_ context.Context, name []byte) error {
	delete(m.data, string(name))
	return nil
}

type fakeFiles struct {
	removed []int64
}

func (f *fakeFiles) CreateFile(context.Context, storage.Adapter, *storage.Field, *storage.PendingFile) (int64, error) {
	return 0, nil
}

func (f *fakeFiles) PurgeFile(context.Context, storage.Adapter, int64) {}

func (f *fakeFiles) GetFileData(context.Context, storage.Adapter, int64) value.Dict { return nil }

func (f *fakeFiles) RemoveFile(_ context.Context, id int64) {
	f.removed = append(f.removed, id)
}

type fakeObserver struct {
	queries      []string
	transactions []string
	broadcasts   map[string]int
	sessions     int64
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{broadcasts: map[string]int{}}
}

func (o *fakeObserver) ObserveQuery(kind string, _ bool, _ time.Duration) {
	o.queries = append(o.queries, kind)
}

func (o *fakeObserver) ObserveTransaction(outcome string) {
	o.transactions = append(o.transactions, outcome)
}

func (o *fakeObserver) ObserveBroadcast(direction string, n int) {
	o.broadcasts[direction] += n
}

func (o *fakeObserver) ObserveSessionsRemoved(n int64) {
	o.sessions += n
}

func newTestRegistry(t *testing.T, opts ...storage.RegistryOption) *storage.Registry {
	t.Helper()
	users := storage.NewScheme("users", true,
		storage.Text("name", storage.WithFlags(storage.FlagRequired|storage.FlagIndexed)),
		storage.Text("email"),
		storage.Password("password", storage.WithFlags(storage.FlagProtected)),
		storage.Boolean("admin", storage.WithFlags(storage.FlagIndexed)),
		storage.Integer("mtime", storage.WithFlags(storage.FlagAutoMTime)),
		storage.Array("tags", storage.Text("")),
		storage.ObjectField("group", "groups"),
		storage.Set("memberships", "groups", storage.WithRemovePolicy(storage.RemoveReference)),
	)
	groups := storage.NewScheme("groups", false,
		storage.Text("title"),
		storage.View("members", "users", storage.WithDelta(), storage.WithFields(storage.Text("role"))),
	)
	reg, err := storage.NewRegistry([]*storage.Scheme{users, groups}, opts...)
	require.NoError(t, err)
	return reg
}

func newTestHandle(t *testing.T, opts ...storage.RegistryOption) (*Handle, *fakeConn, *storage.Registry) {
	t.Helper()
	conn := &fakeConn{}
	reg := newTestRegistry(t, opts...)
	return New(conn, reg), conn, reg
}

func TestCreateObject(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	users := reg.Scheme("users")
	conn.on("INSERT INTO users(", core.NewResult([]string{"id"}, [][]any{{int64(7)}}))

	data := value.Dict{"name": "alice", "tags": []any{"x"}, "unknown": 1}
	require.True(t, h.CreateObject(context.Background(), users, data))

	assert.Equal(t, []string{
		`INSERT INTO users("name") VALUES ($1::text) RETURNING "__oid" AS "id"`,
		`INSERT INTO users_f_tags("users_id", "data") VALUES (7, $1::text) ON CONFLICT DO NOTHING`,
	}, conn.texts())
	assert.Equal(t, []any{"alice"}, conn.calls[0].args)
	assert.Equal(t, int64(7), data["__oid"])
	assert.Equal(t, []any{"x"}, data["tags"])
	assert.NotContains(t, data, "unknown")
}

func TestCreateObjectWithoutColumns(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	conn.on("INSERT INTO groups", core.NewResult([]string{"id"}, [][]any{{int64(2)}}))

	data := value.Dict{}
	require.True(t, h.CreateObject(context.Background(), reg.Scheme("groups"), data))
	assert.Equal(t, `INSERT INTO groups("__oid") VALUES (DEFAULT) RETURNING "__oid" AS "id"`, conn.calls[0].text)
	assert.Equal(t, int64(2), data["__oid"])
}

func TestCreateObjectFailure(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	conn.on("INSERT INTO users(", core.NewFailure(core.Info{Error: "23505", Status: "ERROR", Desc: "duplicate key"}))

	data := value.Dict{"name": "alice"}
	assert.False(t, h.CreateObject(context.Background(), reg.Scheme("users"), data))
	assert.NotContains(t, data, "__oid")
}

func TestPatchObjectAtomic(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	conn.on("UPDATE users", core.NewResult([]string{"__oid", "name", "admin"}, [][]any{{int64(3), "bob", "t"}}))

	obj := h.PatchObject(context.Background(), reg.Scheme("users"), 3, value.Dict{"name": "bob"})
	require.NotNil(t, obj)
	assert.Equal(t, value.Dict{"__oid": int64(3), "name": "bob", "admin": true}, obj)
	assert.Equal(t,
		`UPDATE users SET "name"=$1::text WHERE "__oid"=3 RETURNING "__oid", "admin", "email", "group", "mtime", "name", "password"`,
		conn.calls[0].text)
}

func TestUpdateFailsWhenSetLinkFails(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	users := reg.Scheme("users")
	conn.on("UPDATE users", core.NewResult([]string{"__oid", "name"}, [][]any{{int64(3), "bob"}}))
	conn.on("INSERT INTO users_f_memberships", core.NewFailure(core.Info{Error: "23503", Status: "ERROR", Desc: "foreign key violation"}))

	ret := users.Update(context.Background(), h, int64(3), value.Dict{"name": "bob", "memberships": []any{int64(4)}}, true)
	assert.Nil(t, ret)
	assert.Equal(t, StatusNone, h.status)

	texts := conn.texts()
	assert.Contains(t, texts, `INSERT INTO users_f_memberships("users_id", "groups_id") VALUES (3, 4) ON CONFLICT DO NOTHING`)
	assert.Equal(t, "ROLLBACK", texts[len(texts)-1])
}

func TestUpdateFailsWhenCommitFails(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	users := reg.Scheme("users")
	conn.on("UPDATE users", core.NewResult([]string{"__oid", "name"}, [][]any{{int64(3), "bob"}}))
	conn.on("BEGIN", core.NewAffected(0))
	conn.on("COMMIT", core.NewFailure(core.Info{Error: "40001", Status: "ERROR", Desc: "could not serialize access"}))

	assert.Nil(t, users.Update(context.Background(), h, int64(3), value.Dict{"name": "bob"}, true))
	assert.Equal(t, "COMMIT", conn.last().text)
}

func TestAppendToSetFailsWhenLinkFails(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	users := reg.Scheme("users")
	conn.on("INSERT INTO users_f_memberships", core.NewFailure(core.Info{Error: "23503", Status: "ERROR", Desc: "foreign key violation"}))

	assert.Nil(t, h.AppendProperty(context.Background(), users, 3, users.Field("memberships"), []any{int64(4)}))
}

func TestPatchObjectMissingRow(t *testing.T) {
	h, _, reg := newTestHandle(t)
	assert.Nil(t, h.PatchObject(context.Background(), reg.Scheme("users"), 3, value.Dict{"name": "bob"}))
}

func TestSaveObject(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	ok := h.SaveObject(context.Background(), reg.Scheme("users"), 3,
		value.Dict{"name": "bob", "email": "bob@example.com", "tags": []any{"a"}}, nil)
	require.True(t, ok)
	assert.Equal(t, `UPDATE users SET "email"=$1::text, "name"=$2::text WHERE "__oid"=3`, conn.last().text)

	conn.on("UPDATE users", core.NewAffected(0))
	assert.False(t, h.SaveObject(context.Background(), reg.Scheme("users"), 4, value.Dict{"name": "x"}, nil))
}

func TestRemoveObject(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	require.True(t, h.RemoveObject(context.Background(), reg.Scheme("users"), 5))
	assert.Equal(t, `DELETE FROM users WHERE "__oid"=5`, conn.last().text)
}

func TestAppendArrayProperty(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	users := reg.Scheme("users")

	ret := h.AppendProperty(context.Background(), users, 3, users.Field("tags"), []any{"a", "b"})
	assert.Equal(t, []any{"a", "b"}, ret)

	require.Len(t, conn.calls, 2)
	assert.True(t, strings.HasPrefix(conn.calls[0].text, `UPDATE users SET "mtime"=`))
	assert.True(t, strings.HasSuffix(conn.calls[0].text, ` WHERE "__oid"=3`))
	assert.Equal(t, `INSERT INTO users_f_tags("users_id", "data") VALUES (3, $1::text), (3, $2::text) ON CONFLICT DO NOTHING`, conn.calls[1].text)
	assert.Equal(t, []any{"a", "b"}, conn.calls[1].args)
}

func TestClearRequiredProperty(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	users := reg.Scheme("users")
	assert.False(t, h.ClearProperty(context.Background(), users, 3, users.Field("name"), nil))
	assert.Empty(t, conn.calls)
}

func TestSetReferenceSet(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	users := reg.Scheme("users")

	ret := h.SetProperty(context.Background(), users, 3, users.Field("memberships"), []any{int64(4)})
	assert.Equal(t, []any{int64(4)}, ret)

	texts := conn.texts()
	require.Len(t, texts, 3)
	assert.Equal(t, `DELETE FROM users_f_memberships WHERE "users_id"=3 AND "groups_id" NOT IN (4)`, texts[0])
	assert.True(t, strings.HasPrefix(texts[1], `UPDATE users SET "mtime"=`))
	assert.Equal(t, `INSERT INTO users_f_memberships("users_id", "groups_id") VALUES (3, 4) ON CONFLICT DO NOTHING`, texts[2])
}

func TestClearSetWithHint(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	users := reg.Scheme("users")

	require.True(t, h.ClearProperty(context.Background(), users, 3, users.Field("memberships"), []any{int64(4), int64(5)}))
	assert.Equal(t, `DELETE FROM users_f_memberships WHERE "users_id"=3 AND "groups_id" IN (4,5)`, conn.last().text)
}

func TestSelectObjectsDropsPredicates(t *testing.T) {
	var dropped []string
	h, conn, reg := newTestHandle(t, storage.WithDroppedPredicate(func(_ *storage.Scheme, field, _ string) {
		dropped = append(dropped, field)
	}))
	conn.on("FROM users", core.NewResult([]string{"__oid", "name"}, [][]any{{int64(1), "alice"}}))

	q := storage.NewQuery().
		Include("name").
		Where("email", query.Equal, "x").
		Where("admin", query.Equal, nil).
		Where("missing", query.Equal, 1)
	objs := h.SelectObjects(context.Background(), reg.Scheme("users"), q)

	assert.Equal(t, []string{"email", "missing"}, dropped)
	assert.Equal(t, []value.Dict{{"__oid": int64(1), "name": "alice"}}, objs)
	assert.Equal(t, `SELECT users."__oid", users."name", users."group" FROM users WHERE (users."admin"=TRUE)`, conn.calls[0].text)
}

func TestSelectObjectsOrdering(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	q := storage.NewQuery().Include("name").Order("name", query.Descending).Limit(10).Offset(5)
	h.SelectObjects(context.Background(), reg.Scheme("users"), q)
	assert.Equal(t,
		`SELECT users."__oid", users."name", users."group" FROM users ORDER BY users."name" DESC NULLS LAST LIMIT 10 OFFSET 5`,
		conn.calls[0].text)
}

func TestCountObjects(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	conn.on("count(*)", core.NewResult([]string{"count"}, [][]any{{"12"}}))
	n := h.CountObjects(context.Background(), reg.Scheme("users"), storage.NewQuery().ByOid(3))
	assert.Equal(t, int64(12), n)
	assert.Equal(t, `SELECT count(*) FROM users WHERE users."__oid"=3`, conn.calls[0].text)
}

func TestFailedStatementPoisonsTransaction(t *testing.T) {
	obs := newFakeObserver()
	conn := &fakeConn{}
	reg := newTestRegistry(t)
	h := New(conn, reg, WithObserver(obs))
	users := reg.Scheme("users")
	conn.on("DELETE FROM users", core.NewFailure(core.Info{Error: "40001", Status: "ERROR", Desc: "serialization failure"}))

	ok := h.PerformInTransaction(context.Background(), func(ctx context.Context) bool {
		assert.False(t, h.RemoveObject(ctx, users, 5))
		assert.Equal(t, StatusRollback, h.Status())
		assert.False(t, h.RemoveObject(ctx, users, 6))
		return true
	})
	assert.False(t, ok)
	assert.Equal(t, StatusNone, h.Status())

	texts := conn.texts()
	require.Len(t, texts, 4)
	assert.Equal(t, "BEGIN ISOLATION LEVEL READ COMMITTED", texts[0])
	assert.True(t, strings.HasPrefix(texts[1], `SET LOCAL serenity."user" = 0;SET LOCAL serenity."now" = `))
	assert.Equal(t, `DELETE FROM users WHERE "__oid"=5`, texts[2])
	assert.Equal(t, "ROLLBACK", texts[3])
	assert.Equal(t, []string{"rollback"}, obs.transactions)
	assert.Equal(t, []string{"begin", "set", "delete", "rollback"}, obs.queries)
}

func TestNestedTransactionJoins(t *testing.T) {
	h, conn, _ := newTestHandle(t)
	ctx := storage.WithUser(context.Background(), 42)

	ok := h.PerformInTransactionLevel(ctx, Serializable, func(ctx context.Context) bool {
		return h.PerformInTransaction(ctx, func(context.Context) bool { return true })
	})
	assert.True(t, ok)
	assert.Equal(t, []string{
		"BEGIN ISOLATION LEVEL SERIALIZABLE",
		conn.calls[1].text,
		"COMMIT",
	}, conn.texts())
	assert.Contains(t, conn.calls[1].text, `serenity."user" = 42;`)
}

func TestBroadcastsWaitForCommit(t *testing.T) {
	obs := newFakeObserver()
	conn := &fakeConn{}
	h := New(conn, nil, WithObserver(obs))
	ctx := context.Background()

	ok := h.PerformInTransaction(ctx, func(ctx context.Context) bool {
		h.Broadcast(ctx, []byte("one"))
		h.Broadcast(ctx, []byte("two"))
		for _, text := range conn.texts() {
			assert.NotContains(t, text, "__broadcasts")
		}
		return true
	})
	require.True(t, ok)

	last := conn.last()
	assert.True(t, strings.HasPrefix(last.text, `INSERT INTO __broadcasts("date", "msg") VALUES (`))
	assert.Equal(t, []any{[]byte("one"), []byte("two")}, last.args)
	assert.Equal(t, 2, obs.broadcasts["out"])
}

func TestBroadcastsDroppedOnRollback(t *testing.T) {
	h, conn, _ := newTestHandle(t)
	ok := h.PerformInTransaction(context.Background(), func(ctx context.Context) bool {
		h.Broadcast(ctx, []byte("lost"))
		return false
	})
	assert.False(t, ok)
	for _, text := range conn.texts() {
		assert.NotContains(t, text, "__broadcasts")
	}
}

func TestProcessBroadcasts(t *testing.T) {
	h, conn, _ := newTestHandle(t)
	ctx := context.Background()

	conn.on("__broadcasts_id_seq", core.NewResult([]string{"last_value"}, [][]any{{int64(40)}}))
	assert.Equal(t, int64(40), h.ProcessBroadcasts(ctx, 0, nil))

	conn.on("FROM __broadcasts", core.NewResult([]string{"id", "date", "msg"}, [][]any{
		{int64(41), int64(1000), []byte("a")},
		{int64(43), int64(1001), []byte("b")},
	}))
	var got []string
	last := h.ProcessBroadcasts(ctx, 40, func(id, _ int64, msg []byte) {
		got = append(got, string(msg))
	})
	assert.Equal(t, int64(43), last)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, `SELECT "id", "date", "msg" FROM __broadcasts WHERE "id">40 ORDER BY "id" ASC`, conn.last().text)
}

func TestSessions(t *testing.T) {
	conn := &fakeConn{}
	mirror := &fakeMirror{data: map[string][]byte{}}
	h := New(conn, nil, WithSessionMirror(mirror))
	ctx := context.Background()

	require.True(t, h.SetSession(ctx, []byte("s1"), value.Dict{"user": int64(3)}, time.Minute))
	text := conn.last().text
	assert.True(t, strings.HasPrefix(text, `INSERT INTO __sessions("name", "mtime", "maxage", "data") VALUES ($1::bytea, `))
	assert.True(t, strings.HasSuffix(text, `, 60, $2::bytea) ON CONFLICT ("name") DO UPDATE SET "mtime"=EXCLUDED."mtime", "maxage"=EXCLUDED."maxage", "data"=EXCLUDED."data"`))
	assert.Contains(t, mirror.data, "s1")

	calls := len(conn.calls)
	assert.Equal(t, map[string]any{"user": int64(3)}, h.GetSession(ctx, []byte("s1")))
	assert.Len(t, conn.calls, calls, "mirror hit must not query the table")

	conn.on(`SELECT "data" FROM __sessions`, core.NewResult([]string{"data"}, [][]any{
		{value.MustEncode(map[string]any{"k": "v"})},
	}))
	assert.Equal(t, map[string]any{"k": "v"}, h.GetSession(ctx, []byte("s2")))

	conn.on("DELETE FROM __sessions", core.NewAffected(0))
	assert.False(t, h.ClearSession(ctx, []byte("s1")))
	assert.NotContains(t, mirror.data, "s1")
	assert.True(t, h.ClearSession(ctx, []byte("s2")))
}

func TestSessionMirrorWaitsForCommit(t *testing.T) {
	conn := &fakeConn{}
	mirror := &fakeMirror{data: map[string][]byte{}}
	h := New(conn, nil, WithSessionMirror(mirror))
	ctx := context.Background()

	require.True(t, h.BeginTransaction(ctx, ReadCommitted))
	require.True(t, h.SetSession(ctx, []byte("s1"), value.Dict{"user": int64(1)}, time.Minute))
	assert.NotContains(t, mirror.data, "s1")

	require.True(t, h.EndTransaction(ctx))
	assert.Contains(t, mirror.data, "s1")
}

func TestSessionMirrorDroppedOnRollback(t *testing.T) {
	conn := &fakeConn{}
	mirror := &fakeMirror{data: map[string][]byte{"s1": value.MustEncode("old")}}
	h := New(conn, nil, WithSessionMirror(mirror))
	ctx := context.Background()

	require.True(t, h.BeginTransaction(ctx, ReadCommitted))
	require.True(t, h.SetSession(ctx, []byte("s1"), value.Dict{"user": int64(1)}, time.Minute))
	require.True(t, h.ClearSession(ctx, []byte("s2")))
	h.CancelTransaction()
	assert.False(t, h.EndTransaction(ctx))

	assert.Empty(t, mirror.data)
	assert.Nil(t, h.GetSession(ctx, []byte("s1")))
}

func TestSessionMirrorDroppedOnFailedCommit(t *testing.T) {
	conn := &fakeConn{}
	mirror := &fakeMirror{data: map[string][]byte{}}
	h := New(conn, nil, WithSessionMirror(mirror))
	ctx := context.Background()
	conn.on("BEGIN", core.NewAffected(0))
	conn.on("COMMIT", core.NewFailure(core.Info{Error: "40001", Status: "ERROR", Desc: "could not serialize access"}))

	require.True(t, h.BeginTransaction(ctx, ReadCommitted))
	require.True(t, h.SetSession(ctx, []byte("s1"), "v", time.Minute))
	assert.False(t, h.EndTransaction(ctx))
	assert.NotContains(t, mirror.data, "s1")
}

func TestSessionMirrorUntouchedOnFailedWrite(t *testing.T) {
	conn := &fakeConn{}
	mirror := &fakeMirror{data: map[string][]byte{"s1": value.MustEncode("v")}}
	h := New(conn, nil, WithSessionMirror(mirror))
	ctx := context.Background()
	fail := core.NewFailure(core.Info{Error: "53300", Status: "FATAL", Desc: "too many connections"})

	conn.on("INSERT INTO __sessions", fail)
	assert.False(t, h.SetSession(ctx, []byte("s1"), "w", time.Minute))
	assert.NotContains(t, mirror.data, "s1")
	assert.Nil(t, h.GetSession(ctx, []byte("s1")))

	mirror.data["s2"] = value.MustEncode("v")
	conn.on("DELETE FROM __sessions", fail)
	assert.False(t, h.ClearSession(ctx, []byte("s2")))
	assert.NotContains(t, mirror.data, "s2")
}

func TestKeyValueUsesPrefix(t *testing.T) {
	h, conn, _ := newTestHandle(t)
	require.True(t, h.SetData(context.Background(), "counter", int64(1), time.Hour))
	assert.Equal(t, []byte("kvs:counter"), conn.last().args[0])
}

func TestSessionsCleanup(t *testing.T) {
	obs := newFakeObserver()
	files := &fakeFiles{}
	conn := &fakeConn{}
	reg := newTestRegistry(t, storage.WithFileStore(files))
	h := New(conn, reg, WithObserver(obs))

	conn.on("DELETE FROM __sessions", core.NewAffected(3))
	conn.on("DELETE FROM __removed", core.NewResult([]string{"__oid"}, [][]any{{int64(11)}, {int64(12)}}))
	conn.on("FROM __files AS obj", core.NewResult([]string{"id"}, [][]any{{int64(11)}}))

	h.MakeSessionsCleanup(context.Background())

	texts := conn.texts()
	require.Len(t, texts, 5)
	assert.True(t, strings.HasPrefix(texts[0], `DELETE FROM __sessions WHERE ("mtime" + "maxage" + 10) < `))
	assert.Equal(t, `DELETE FROM __removed RETURNING "__oid"`, texts[1])
	assert.Equal(t, `SELECT obj."__oid" AS "id" FROM __files AS obj WHERE obj."__oid" IN (11,12)`, texts[2])
	assert.Equal(t, `DELETE FROM __files WHERE "__oid" IN (11)`, texts[3])
	assert.True(t, strings.HasPrefix(texts[4], `DELETE FROM __broadcasts WHERE "date"<`))
	assert.Equal(t, []int64{11}, files.removed)
	assert.Equal(t, int64(3), obs.sessions)
}

func TestAuthorizeUser(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	users := reg.Scheme("users")
	conn.on("WITH u AS", core.NewResult(
		[]string{"failed_count", "__oid", "name"},
		[][]any{{int64(0), int64(3), "alice"}},
	))

	check := func(user value.Dict, password string) bool {
		return user["name"] == "alice" && password == "secret"
	}
	user := h.AuthorizeUser(context.Background(), users, "alice", "secret", check, LoginRequest{Addr: "127.0.0.1", Host: "example.com", Path: "/login"})
	require.NotNil(t, user)
	assert.Equal(t, int64(3), user["__oid"])

	require.Len(t, conn.calls, 2)
	assert.True(t, strings.HasPrefix(conn.calls[0].text,
		`WITH u AS (SELECT * FROM users WHERE "name"=$1::text), l AS (SELECT count(*) AS "failed_count" FROM __login INNER JOIN u ON (__login."user"=u."__oid" AND __login."success"=FALSE AND __login."date">`))
	assert.True(t, strings.HasSuffix(conn.calls[0].text, `)) SELECT * FROM l, u`))

	ins := conn.calls[1]
	assert.True(t, strings.HasPrefix(ins.text, `INSERT INTO __login("user", "name", "password", "date", "success", "addr", "host", "path") VALUES (3, $1::text, NULL, `))
	assert.True(t, strings.HasSuffix(ins.text, `, TRUE, $2::inet, $3::text, $4::text)`))
	assert.Equal(t, []any{"alice", "127.0.0.1", "example.com", "/login"}, ins.args)
}

func TestAuthorizeUserBlocked(t *testing.T) {
	conn := &fakeConn{}
	reg := newTestRegistry(t)
	h := New(conn, reg, WithAuthLimits(4, time.Minute))
	conn.on("WITH u AS", core.NewResult(
		[]string{"failed_count", "__oid", "name"},
		[][]any{{int64(4), int64(3), "alice"}},
	))

	checked := false
	user := h.AuthorizeUser(context.Background(), reg.Scheme("users"), "alice", "secret", func(value.Dict, string) bool {
		checked = true
		return true
	}, LoginRequest{})
	assert.Nil(t, user)
	assert.False(t, checked)
	assert.Len(t, conn.calls, 1)
}

func TestAuthorizeUserWrongPassword(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	conn.on("WITH u AS", core.NewResult(
		[]string{"failed_count", "__oid", "name"},
		[][]any{{int64(1), int64(3), "alice"}},
	))
	user := h.AuthorizeUser(context.Background(), reg.Scheme("users"), "alice", "nope", func(value.Dict, string) bool {
		return false
	}, LoginRequest{})
	assert.Nil(t, user)
	require.Len(t, conn.calls, 2)
	assert.Contains(t, conn.calls[1].text, ", FALSE, NULL, $2::text, $3::text)")
}

func TestGetHistory(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	conn.on("FROM __delta_users", core.NewResult(
		[]string{"id", "time", "action", "object", "user"},
		[][]any{{int64(1), int64(100), int64(2), int64(3), int64(9)}},
	))

	hist := h.GetHistory(context.Background(), reg.Scheme("users"), 50)
	assert.Equal(t, []value.Dict{{"time": int64(100), "action": "update", "object": int64(3), "user": int64(9)}}, hist)
	assert.Equal(t, `SELECT * FROM __delta_users WHERE "time">50 ORDER BY "time" DESC`, conn.calls[0].text)

	assert.Nil(t, h.GetHistory(context.Background(), reg.Scheme("groups"), 0))
}

func TestGetDeltaValue(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	conn.on("max(", core.NewResult([]string{"max"}, [][]any{{int64(120)}}))
	assert.Equal(t, int64(120), h.GetDeltaValue(context.Background(), reg.Scheme("users")))
	assert.Equal(t, `SELECT max(d."time") FROM __delta_users AS d`, conn.calls[0].text)

	groups := reg.Scheme("groups")
	h.GetViewDeltaValue(context.Background(), groups, groups.Field("members"), 1)
	assert.Equal(t, `SELECT max(d."time") FROM groups_f_members_delta AS d WHERE "tag"=1`, conn.last().text)
}

func TestGetDeltaData(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	conn.on("WITH d AS", core.NewResult(
		[]string{"__oid", "name", "__d_action", "__d_time", "__d_object"},
		[][]any{
			{int64(3), "alice", int64(2), int64(100), int64(3)},
			{nil, nil, int64(3), int64(90), int64(4)},
		},
	))

	objs := h.GetDeltaData(context.Background(), reg.Scheme("users"), 10, []string{"name"})
	assert.Equal(t, []value.Dict{
		{"__oid": int64(3), "name": "alice", "__delta": value.Dict{"action": "update", "time": int64(100)}},
		{"__oid": int64(4), "__delta": value.Dict{"action": "delete", "time": int64(90)}},
	}, objs)
	assert.Equal(t,
		`WITH d AS (SELECT max("time") AS "time", max("action") AS "action", "object" FROM __delta_users WHERE "time">10 GROUP BY "object" ORDER BY "time" DESC) `+
			`SELECT t."__oid", t."name", t."group", d."action" AS "__d_action", d."time" AS "__d_time", d."object" AS "__d_object" `+
			`FROM users AS t RIGHT JOIN d ON (d."object"=t."__oid")`,
		conn.calls[0].text)
}

func TestGetViewDeltaData(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	groups := reg.Scheme("groups")
	conn.on("WITH dv AS", core.NewResult(
		[]string{"__oid", "name", "__d_time", "__d_object", "__vid"},
		[][]any{
			{int64(5), "alice", int64(100), int64(5), int64(10)},
			{nil, nil, int64(110), int64(6), nil},
		},
	))
	conn.on(`"__vid", "role" FROM groups_f_members_view`, core.NewResult(
		[]string{"__oid", "__vid", "role"},
		[][]any{{int64(5), int64(10), "admin"}},
	))

	objs := h.GetViewDeltaData(context.Background(), groups, groups.Field("members"), 1, 0, []string{"name"})
	require.Len(t, objs, 2)
	assert.Equal(t, value.Dict{
		"__oid":   int64(5),
		"name":    "alice",
		"__delta": value.Dict{"action": "update", "time": int64(100)},
		"__views": []any{map[string]any{"__vid": int64(10), "role": "admin"}},
	}, objs[0])
	assert.Equal(t, value.Dict{
		"__oid":   int64(6),
		"__delta": value.Dict{"action": "delete", "time": int64(110)},
	}, objs[1])

	require.Len(t, conn.calls, 2)
	assert.Equal(t,
		`SELECT "users_id" AS "__oid", "__vid", "role" FROM groups_f_members_view WHERE "groups_id"=1 AND "users_id" IN (5,6) ORDER BY "users_id" ASC`,
		conn.calls[1].text)
}

func TestViewRows(t *testing.T) {
	h, conn, reg := newTestHandle(t)
	groups := reg.Scheme("groups")
	view := groups.Field("members")
	ctx := context.Background()

	require.True(t, h.AddToView(ctx, groups, view, 1, value.Dict{"groups_id": int64(1), "users_id": int64(5), "role": "admin"}))
	assert.Equal(t, `INSERT INTO groups_f_members_view("groups_id", "role", "users_id") VALUES (1, $1::text, 5)`, conn.last().text)

	require.True(t, h.RemoveFromView(ctx, groups, view, 0, 5))
	assert.Equal(t, `DELETE FROM groups_f_members_view WHERE "users_id"=5`, conn.last().text)

	require.True(t, h.RemoveFromView(ctx, groups, view, 1, 5))
	assert.Equal(t, `DELETE FROM groups_f_members_view WHERE "users_id"=5 AND "groups_id"=1`, conn.last().text)
}

func TestCloseRollsBack(t *testing.T) {
	h, conn, _ := newTestHandle(t)
	ctx := context.Background()
	require.True(t, h.BeginTransaction(ctx, ReadCommitted))
	require.NoError(t, h.Close(ctx))
	assert.Equal(t, "ROLLBACK", conn.last().text)
	assert.True(t, conn.closed)
}
