package query

import (
	"strconv"
)

// Rank is a tsvector weight class.
type Rank int

const (
	RankUnknown Rank = iota
	RankA
	RankB
	RankC
	RankD
)

func (r Rank) letter() string {
	switch r {
	case RankA:
		return "A"
	case RankB:
		return "B"
	case RankC:
		return "C"
	case RankD:
		return "D"
	}
	return ""
}

// ParseRank maps "A".."D" to a Rank.
func ParseRank(s string) Rank {
	switch s {
	case "A", "a":
		return RankA
	case "B", "b":
		return RankB
	case "C", "c":
		return RankC
	case "D", "d":
		return RankD
	}
	return RankUnknown
}

// Normalization flags of ts_rank.
const (
	NormDocLengthLog        = 1
	NormDocLength           = 2
	NormUniqueWordsCount    = 8
	NormUniqueWordsCountLog = 16
)

// FullTextTerm is one weighted source of a tsvector. A Raw term is an
// already computed tsvector and is cast instead of parsed.
type FullTextTerm struct {
	Text     string
	Language string
	Rank     Rank
	Raw      bool
}

// FullTextVector compiles to setweight(to_tsvector(...), 'A') || ...
type FullTextVector []FullTextTerm

func (v FullTextVector) writeTo(b *Binder) {
	if len(v) == 0 {
		b.WriteString("NULL")
		return
	}
	for i, t := range v {
		if i > 0 {
			b.WriteString(" || ")
		}
		if t.Raw {
			b.placeholder(t.Text, "tsvector")
			continue
		}
		if t.Rank != RankUnknown {
			b.WriteString("setweight(")
		}
		b.WriteString("to_tsvector(")
		b.WriteString(quoteLiteral(language(t.Language)))
		b.WriteString(", ")
		b.placeholder(t.Text, "text")
		b.WriteString(")")
		if t.Rank != RankUnknown {
			b.WriteString(", ")
			b.WriteString(quoteLiteral(t.Rank.letter()))
			b.WriteString(")")
		}
	}
}

// QueryMode selects how a search string becomes a tsquery.
type QueryMode int

const (
	QueryParse QueryMode = iota
	QueryCast
	QueryForce
)

// FullTextQuery is one search term.
type FullTextQuery struct {
	Text     string
	Language string
	Mode     QueryMode
}

func (q FullTextQuery) writeTo(b *Binder) {
	switch q.Mode {
	case QueryForce:
		b.placeholder(q.Text, "tsquery")
	case QueryCast:
		b.WriteString("to_tsquery(")
		b.WriteString(quoteLiteral(language(q.Language)))
		b.WriteString(", ")
		b.placeholder(q.Text, "text")
		b.WriteString(")")
	default:
		b.WriteString("websearch_to_tsquery(")
		b.WriteString(quoteLiteral(language(q.Language)))
		b.WriteString(", ")
		b.placeholder(q.Text, "text")
		b.WriteString(")")
	}
}

// FullTextQueries joins several searches with &&.
type FullTextQueries []FullTextQuery

func (qs FullTextQueries) writeTo(b *Binder) {
	for i, q := range qs {
		if i > 0 {
			b.WriteString(" && ")
		}
		q.writeTo(b)
	}
}

// FullTextRank compiles to ts_rank(scheme."field", query, mask) AS alias.
type FullTextRank struct {
	Scheme        string
	Field         string
	Query         FullTextQueries
	Normalization int
	Alias         string
}

func (r FullTextRank) writeTo(b *Binder) {
	b.WriteString("ts_rank(")
	Ref(r.Scheme, r.Field).writeRef(b)
	b.WriteString(", ")
	r.Query.writeTo(b)
	b.WriteString(", ")
	b.WriteString(strconv.Itoa(r.Normalization))
	b.WriteString(")")
	if r.Alias != "" {
		b.WriteString(" AS ")
		b.WriteString(quoteIdent(r.Alias))
	}
}

// RankAlias is the selected column name carrying the rank of field.
func RankAlias(field string) string {
	return "__ts_rank_" + field
}

func language(l string) string {
	for _, c := range l {
		if !(c >= 'a' && c <= 'z' || c == '_') {
			return "simple"
		}
	}
	if l == "" {
		return "simple"
	}
	return l
}
