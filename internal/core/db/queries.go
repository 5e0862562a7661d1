package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/qustavo/dotsql"
)

//go:embed queries/*.sql
var queriesFS embed.FS

// Queries runs the named statements of queries/*.sql. Every method takes the
// executor, so one statement serves both *sqlx.DB and *sqlx.Tx.
type Queries struct {
	dot *dotsql.DotSql
	db  *sqlx.DB
}

// LoadQueries parses the embedded query files in name order.
func LoadQueries(db *sqlx.DB) (*Queries, error) {
	files, err := fs.Glob(queriesFS, "queries/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list query files: %w", err)
	}
	sort.Strings(files)

	var all strings.Builder
	for _, name := range files {
		content, err := queriesFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		all.Write(content)
		all.WriteByte('\n')
	}

	dot, err := dotsql.LoadFromString(all.String())
	if err != nil {
		return nil, fmt.Errorf("failed to parse queries: %w", err)
	}
	return &Queries{dot: dot, db: db}, nil
}

// prepare looks up a named query, expands IN (?) slices and converts ?
// placeholders to the driver's bindvar style.
func (q *Queries) prepare(name string, args []any) (string, []any, error) {
	query, err := q.dot.Raw(name)
	if err != nil {
		return "", nil, fmt.Errorf("query not found: %s", name)
	}
	if hasSlice(args) {
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return "", nil, fmt.Errorf("expand %s: %w", name, err)
		}
	}
	return q.db.Rebind(query), args, nil
}

// Exec executes a named query.
func (q *Queries) Exec(ctx context.Context, ext sqlx.ExecerContext, name string, args ...any) (sql.Result, error) {
	query, args, err := q.prepare(name, args)
	if err != nil {
		return nil, err
	}
	return ext.ExecContext(ctx, query, args...)
}

// Get retrieves a single row into dest struct using named query.
func (q *Queries) Get(ctx context.Context, qr sqlx.QueryerContext, name string, dest any, args ...any) error {
	query, args, err := q.prepare(name, args)
	if err != nil {
		return err
	}
	return sqlx.GetContext(ctx, qr, dest, query, args...)
}

// Select retrieves multiple rows into dest slice using named query.
func (q *Queries) Select(ctx context.Context, qr sqlx.QueryerContext, name string, dest any, args ...any) error {
	query, args, err := q.prepare(name, args)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, qr, dest, query, args...)
}

func hasSlice(args []any) bool {
	for _, a := range args {
		switch a.(type) {
		case []string, []any:
			return true
		}
	}
	return false
}
