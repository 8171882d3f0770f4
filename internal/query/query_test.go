package query

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/serenity/internal/value"
)

func TestBindLiteralsAndParams(t *testing.T) {
	b := NewBinder()
	b.Bind(true)
	b.WriteString(",")
	b.Bind(int64(-4))
	b.WriteString(",")
	b.Bind(1.5)
	b.WriteString(",")
	b.Bind(math.NaN())
	b.WriteString(",")
	b.Bind(math.Inf(1))
	b.WriteString(",")
	b.Bind(math.Inf(-1))
	b.WriteString(",")
	b.Bind("text")
	b.WriteString(",")
	b.Bind([]byte{1})
	b.WriteString(",")
	b.Bind(nil)

	assert.Equal(t, "TRUE,-4,1.5,'NaN'::float8,'Infinity'::float8,'-Infinity'::float8,$1::text,$2::bytea,NULL", b.String())
	assert.Equal(t, []any{"text", []byte{1}}, b.Params())

	b.Clear()
	assert.Empty(t, b.String())
	assert.Empty(t, b.Params())
}

func TestBindDictUsesBinaryEncoding(t *testing.T) {
	b := NewBinder()
	b.Bind(map[string]any{"a": int64(1)})
	b.WriteString(" ")
	b.Bind(Force{V: "plain"})

	assert.Equal(t, "$1::bytea $2::bytea", b.String())
	decoded, err := value.Decode(b.Params()[0].([]byte))
	require.NoError(t, err)
	assert.Equal(t, value.Dict{"a": int64(1)}, decoded)
	decoded, err = value.Decode(b.Params()[1].([]byte))
	require.NoError(t, err)
	assert.Equal(t, "plain", decoded)
}

func TestSelectWithWhereOrderLimit(t *testing.T) {
	q := New()
	s := q.Select(Ref("users", "__oid"), Ref("users", "name")).From("users")
	s.Where().
		And(Ref("users", "name"), Equal, "bob").
		Parenthesis(And, func(w *Where) {
			w.Or(Ref("users", "age"), BetweenValues, int64(1), int64(10))
			w.Or(Ref("users", "age"), IsNull)
		})
	s.Order(Descending, Ref("users", "age"), NullsLast).Limit(5).Offset(10).ForUpdate()

	sql, params := q.Build()
	assert.Equal(t, `SELECT users."__oid", users."name" FROM users WHERE users."name"=$1::text AND ((users."age">1 AND users."age"<10) OR users."age" IS NULL) ORDER BY users."age" DESC NULLS LAST LIMIT 5 OFFSET 10 FOR UPDATE`, sql)
	assert.Equal(t, []any{"bob"}, params)
}

func TestEmptyGroupsAreSkipped(t *testing.T) {
	q := New()
	s := q.Select(Count{}).From("users")
	s.Where().Parenthesis(And, func(w *Where) {})

	sql, _ := q.Build()
	assert.Equal(t, "SELECT count(*) FROM users", sql)
}

func TestNotBetween(t *testing.T) {
	q := New()
	q.Select().From("t").Where().
		And(Name("a"), NotBetweenValues, int64(1), int64(2)).
		And(Name("b"), NotBetweenEquals, int64(3), int64(4)).
		And(Name("c"), BetweenEquals, int64(5), int64(6))

	sql, _ := q.Build()
	assert.Equal(t, `SELECT * FROM t WHERE ("a"<=1 OR "a">=2) AND ("b"<3 OR "b">4) AND ("c">=5 AND "c"<=6)`, sql)
}

func TestWithAndJoins(t *testing.T) {
	sub := New()
	sub.Select(Ref("", "tags_id").As("id")).From("posts_f_tags").Where().And(Name("posts_id"), Equal, int64(7))

	q := New().With("s", sub)
	q.Select(All("t")).FromAs("tags", "t").InnerJoinOn("s", func(w *Where) {
		w.And(Ref("t", "__oid"), Equal, Ref("s", "id"))
	})

	sql, params := q.Build()
	assert.Equal(t, `WITH s AS (SELECT "tags_id" AS "id" FROM posts_f_tags WHERE "posts_id"=7) SELECT t.* FROM tags AS t INNER JOIN s ON (t."__oid"=s."id")`, sql)
	assert.Empty(t, params)
}

func TestInsertVariants(t *testing.T) {
	q := New()
	q.Insert("__sessions").Fields("name", "mtime", "maxage", "data").
		Values([]byte("k"), int64(10), int64(60), []byte{0xa0}).
		OnConflictUpdate([]string{"name"}, "mtime", "maxage", "data")

	sql, params := q.Build()
	assert.Equal(t, `INSERT INTO __sessions("name", "mtime", "maxage", "data") VALUES ($1::bytea, 10, 60, $2::bytea) ON CONFLICT ("name") DO UPDATE SET "mtime"=EXCLUDED."mtime", "maxage"=EXCLUDED."maxage", "data"=EXCLUDED."data"`, sql)
	assert.Len(t, params, 2)

	q = New()
	q.Insert("posts_f_tags").Fields("posts_id", "data").
		Values(int64(1), "x").Values(int64(1), "y").
		OnConflictDoNothing().Returning(Name("id"))
	sql, params = q.Build()
	assert.Equal(t, `INSERT INTO posts_f_tags("posts_id", "data") VALUES (1, $1::text), (1, $2::text) ON CONFLICT DO NOTHING RETURNING "id"`, sql)
	assert.Equal(t, []any{"x", "y"}, params)
}

func TestInsertFromSelect(t *testing.T) {
	sel := New()
	sel.Select(Name("tags_id"), Name("posts_id"), Value{V: int64(100)}, Value{V: int64(3)}).
		From("tags_f_posts_view").Where().And(Name("posts_id"), Equal, int64(9))

	q := New()
	q.Insert("tags_f_posts_delta").Fields("tag", "object", "time", "user").FromSelect(sel)
	sql, _ := q.Build()
	assert.Equal(t, `INSERT INTO tags_f_posts_delta("tag", "object", "time", "user") SELECT "tags_id", "posts_id", 100, 3 FROM tags_f_posts_view WHERE "posts_id"=9`, sql)
}

func TestUpdateAndDelete(t *testing.T) {
	q := New()
	u := q.Update("users").Set("name", Cast{V: "x", Type: "text"}).Set("age", Cast{V: int64(3), Type: "bigint"}).Set("flag", nil)
	u.Where().And(Name("__oid"), Equal, int64(5))
	u.Returning(All(""))
	sql, params := q.Build()
	assert.Equal(t, `UPDATE users SET "name"=$1::text::text, "age"=3::bigint, "flag"=NULL WHERE "__oid"=5 RETURNING *`, sql)
	assert.Equal(t, []any{"x"}, params)

	q.Clear()
	assert.True(t, q.Empty())
	q.Delete("users").Where().And(Name("__oid"), In, []int64{1, 2})
	sql, _ = q.Build()
	assert.Equal(t, `DELETE FROM users WHERE "__oid" IN (1,2)`, sql)
}

func TestFullText(t *testing.T) {
	b := NewBinder()
	FullTextVector{
		{Text: "hello", Language: "english", Rank: RankA},
		{Text: "world", Language: "english"},
	}.writeTo(b)
	assert.Equal(t, `setweight(to_tsvector('english', $1::text), 'A') || to_tsvector('english', $2::text)`, b.String())

	b.Clear()
	FullTextVector(nil).writeTo(b)
	assert.Equal(t, "NULL", b.String())

	b.Clear()
	FullTextRank{
		Scheme:        "posts",
		Field:         "search",
		Query:         FullTextQueries{{Text: "cats", Language: "english"}, {Text: "dogs", Language: "x'; drop", Mode: QueryCast}},
		Normalization: NormDocLength | NormUniqueWordsCount,
		Alias:         RankAlias("search"),
	}.writeTo(b)
	assert.Equal(t, `ts_rank(posts."search", websearch_to_tsquery('english', $1::text) && to_tsquery('simple', $2::text), 10) AS "__ts_rank_search"`, b.String())
}

func TestParseComparation(t *testing.T) {
	c, ok := ParseComparation("nbw")
	require.True(t, ok)
	assert.Equal(t, NotBetweenValues, c)
	_, ok = ParseComparation("bogus")
	assert.False(t, ok)
}

func TestSettingExpressions(t *testing.T) {
	b := NewBinder()
	b.Bind(Coalesce{Setting("serenity.now"), Raw("0")})
	b.WriteString(" ")
	b.Bind(Setting("it's"))

	assert.Equal(t,
		"COALESCE(NULLIF(current_setting('serenity.now', true), '')::bigint, 0) NULLIF(current_setting('it''s', true), '')::bigint",
		b.String())
	assert.Empty(t, b.Params())
}
