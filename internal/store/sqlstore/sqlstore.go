// Package sqlstore implements store.Store on database/sql for both the
// Postgres (pgx) and SQLite (modernc) drivers. Queries are written with '?'
// placeholders and rebound per dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	db      *sql.DB
	dialect Dialect
}

// Store is the database/sql backed store.Store.
type Store struct{ c *conn }

// New wraps an open database handle.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{c: &conn{db: db, dialect: d}}
}

func (s *Store) Users() store.Users               { return &users{s.c} }
func (s *Store) Credentials() store.Credentials   { return &credentials{s.c} }
func (s *Store) Memories() store.Memories         { return &memories{s.c} }
func (s *Store) ContextItems() store.ContextItems { return &contextItems{s.c} }
func (s *Store) Patterns() store.Patterns         { return &patterns{s.c} }
func (s *Store) Insights() store.Insights         { return &insights{s.c} }
func (s *Store) Feedback() store.Feedback         { return &feedback{s.c} }
func (s *Store) Reminders() store.Reminders       { return &reminders{s.c} }
func (s *Store) Goals() store.Goals               { return &goals{s.c} }
func (s *Store) Markers() store.Markers           { return &markers{s.c} }

// HealthPing implements health.HealthPinger.
func (s *Store) HealthPing(ctx context.Context) error {
	return s.c.db.PingContext(ctx)
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.c.db }

func (s *Store) Close() error { return s.c.db.Close() }

// Exec runs each statement in order; used for schema setup.
func Exec(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SplitStatements splits a schema file on semicolons, dropping blanks and
// comment-only chunks.
func SplitStatements(ddl string) []string {
	var out []string
	for _, p := range strings.Split(ddl, ";") {
		var lines []string
		for _, l := range strings.Split(p, "\n") {
			if strings.HasPrefix(strings.TrimSpace(l), "--") {
				continue
			}
			lines = append(lines, l)
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// rebind rewrites '?' placeholders to '$n' for Postgres.
func (c *conn) rebind(q string) string {
	if c.dialect != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (c *conn) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, c.rebind(query), args...)
}

func (c *conn) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, c.rebind(query), args...)
}

func (c *conn) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, c.rebind(query), args...)
}

func (c *conn) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// --- helpers ---

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

// ts normalizes a time for storage: UTC at microsecond precision so both
// drivers round-trip the same value.
func ts(t time.Time) time.Time { return t.UTC().Truncate(time.Microsecond) }

func tsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func strPtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func jsonText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func affected(res sql.Result) int64 {
	n, _ := res.RowsAffected()
	return n
}
