package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/sirupsen/logrus"

	"github.com/rzpsarthak13/serenity/internal/core"
	"github.com/rzpsarthak13/serenity/internal/storage"
)

// Defaults creates the service tables every database needs regardless of
// the registered schemes.
const Defaults = `CREATE TABLE IF NOT EXISTS __objects (
	__oid bigserial NOT NULL,
	CONSTRAINT __objects_pkey PRIMARY KEY (__oid)
);

CREATE TABLE IF NOT EXISTS __removed (
	__oid bigint NOT NULL,
	CONSTRAINT __removed_pkey PRIMARY KEY (__oid)
);

CREATE TABLE IF NOT EXISTS __sessions (
	name bytea NOT NULL,
	mtime bigint NOT NULL,
	maxage bigint NOT NULL,
	data bytea,
	CONSTRAINT __sessions_pkey PRIMARY KEY (name)
);

CREATE TABLE IF NOT EXISTS __broadcasts (
	id bigserial NOT NULL,
	date bigint NOT NULL,
	msg bytea,
	CONSTRAINT __broadcasts_pkey PRIMARY KEY (id)
);
CREATE INDEX IF NOT EXISTS __broadcasts_date ON __broadcasts ("date" DESC);

CREATE TABLE IF NOT EXISTS __login (
	id bigserial NOT NULL,
	"user" bigint NOT NULL,
	name text NOT NULL,
	password bytea NOT NULL,
	date bigint NOT NULL,
	success boolean NOT NULL,
	addr inet,
	host text,
	path text,
	CONSTRAINT __login_pkey PRIMARY KEY (id)
);
CREATE INDEX IF NOT EXISTS __login_user ON __login ("user");
CREATE INDEX IF NOT EXISTS __login_date ON __login (date);`

var (
	ErrDefaults   = errors.New("migrate: defaults failed")
	ErrLock       = errors.New("migrate: lock failed")
	ErrIntrospect = errors.New("migrate: introspection failed")
	ErrApply      = errors.New("migrate: update failed")
)

// Observer receives migration outcomes.
type Observer interface {
	ObserveMigration(statements int, applied bool)
}

// Options configure Init.
type Options struct {
	// LogDir receives update.<ms>.sql; empty disables the log file.
	LogDir string
	Server string
	// DryRun compiles the update and rolls back without applying it.
	DryRun   bool
	Now      func() time.Time
	Observer Observer
	Log      *logrus.Entry
}

// Report describes one Init run.
type Report struct {
	Applied    bool
	Statements int
	SQL        string
	LogPath    string
	Err        error

	tail string
}

// Plan introspects the catalog and compiles the update without running it.
func Plan(ctx context.Context, exec Executor, reg *storage.Registry) (sql string, statements int, existing, required Tables, err error) {
	existing, ok := Get(ctx, exec)
	if !ok {
		return "", 0, nil, nil, fmt.Errorf("%w: %s", ErrIntrospect, exec.LastError().Desc)
	}
	required = Parse(reg)
	var b strings.Builder
	statements = WriteCompareResult(&b, required, existing)
	return b.String(), statements, existing, required, nil
}

// Init brings the database in line with reg. The whole update runs in one
// transaction holding a lock on __objects, so concurrent servers migrate
// one at a time.
func Init(ctx context.Context, exec Executor, reg *storage.Registry, opts Options) Report {
	log := opts.Log
	if log == nil {
		log = logrus.WithField("component", "migrate")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	if !exec.PerformSimpleQuery(ctx, Defaults) {
		return finish(opts, log, now(), failed(ErrDefaults, exec.LastError()), nil, Parse(reg))
	}
	if !exec.PerformSimpleQuery(ctx, "START TRANSACTION; LOCK TABLE __objects;") {
		return finish(opts, log, now(), failed(ErrLock, exec.LastError()), nil, Parse(reg))
	}

	sql, n, existing, required, err := Plan(ctx, exec, reg)
	if err != nil {
		info := exec.LastError()
		exec.PerformSimpleQuery(ctx, "ROLLBACK;")
		return finish(opts, log, now(), failed(ErrIntrospect, info), nil, Parse(reg))
	}

	rep := Report{SQL: sql, Statements: n}
	switch {
	case sql == "":
		exec.PerformSimpleQuery(ctx, "COMMIT;")
	case opts.DryRun:
		exec.PerformSimpleQuery(ctx, "ROLLBACK;")
	case exec.PerformSimpleQuery(ctx, sql):
		if exec.PerformSimpleQuery(ctx, "COMMIT;") {
			rep.Applied = true
		} else {
			f := failed(ErrApply, exec.LastError())
			rep.Err, rep.tail = f.Err, f.tail
		}
	default:
		f := failed(ErrApply, exec.LastError())
		rep.Err, rep.tail = f.Err, f.tail
		exec.PerformSimpleQuery(ctx, "ROLLBACK;")
	}

	if opts.Observer != nil && sql != "" && !opts.DryRun {
		opts.Observer.ObserveMigration(n, rep.Applied)
	}
	return finish(opts, log, now(), rep, existing, required)
}

// failed builds the report of a run stopped by err, carrying the database
// error for the log file.
func failed(err error, info core.Info) Report {
	return Report{
		Err:  fmt.Errorf("%w: %s", err, info.Desc),
		tail: fmt.Sprintf("\nError: %s %s\n%s\n", info.Error, info.Status, info.Desc),
	}
}

// finish writes the log file, when enabled, and logs the outcome. Failed
// runs are logged even when they stop before the catalog was read.
func finish(opts Options, log *logrus.Entry, at time.Time, rep Report, existing, required Tables) Report {
	fields := logrus.Fields{"statements": rep.Statements, "applied": rep.Applied}
	if opts.LogDir != "" {
		path, werr := writeLog(opts, at, existing, required, rep.SQL+rep.tail)
		if werr != nil {
			log.WithError(werr).Warn("failed to write migration log")
		} else {
			rep.LogPath = path
			fields["log"] = path
		}
	}
	if rep.Err != nil {
		log.WithFields(fields).WithError(rep.Err).Error("migration failed")
	} else {
		log.WithFields(fields).Info("migration done")
	}
	return rep
}

// DumpDiff renders a line diff from the existing to the required listing.
func DumpDiff(existing, required Tables) string {
	var a, b strings.Builder
	Dump(&a, existing)
	Dump(&b, required)

	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a.String(), b.String())
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	var out strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line != "" {
				out.WriteString(prefix + line)
			}
		}
	}
	return out.String()
}

func writeLog(opts Options, at time.Time, existing, required Tables, sql string) (string, error) {
	if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Server: %s\n\n", opts.Server)
	Dump(&b, existing)
	b.WriteString("\n")
	b.WriteString(DumpDiff(existing, required))
	b.WriteString("\n")
	b.WriteString(sql)

	path := filepath.Join(opts.LogDir, fmt.Sprintf("update.%d.sql", at.UnixMilli()))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
