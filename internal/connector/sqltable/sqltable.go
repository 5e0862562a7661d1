// Package sqltable is a Solution backed by plain database tables: a module
// is a table, a field is a column and every table has an "id" column.
package sqltable

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/solatis/docsync/internal/connector"
	"github.com/solatis/docsync/internal/core/db"
	"github.com/solatis/docsync/internal/rules"
	"github.com/solatis/docsync/internal/types"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Solution reads and writes tables of one database.
type Solution struct {
	db *sqlx.DB
}

// Open connects to dbURL (sqlite:// or postgres://).
func Open(dbURL string) (*Solution, error) {
	conn, err := db.Open(dbURL)
	if err != nil {
		return nil, err
	}
	return New(conn), nil
}

// New wraps an open database.
func New(conn *sqlx.DB) *Solution {
	return &Solution{db: conn}
}

// Close closes the database.
func (s *Solution) Close() error {
	return s.db.Close()
}

// GetModuleFields returns the column names of table module.
func (s *Solution) GetModuleFields(ctx context.Context, module string) ([]string, error) {
	if !identPattern.MatchString(module) {
		return nil, fmt.Errorf("invalid module name %q", module)
	}
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM "+module+" LIMIT 0")
	if err != nil {
		return nil, fmt.Errorf("failed to describe module %s: %w", module, err)
	}
	defer rows.Close()
	return rows.Columns()
}

// ReadData implements connector.Solution.
func (s *Solution) ReadData(ctx context.Context, req connector.ReadRequest) (connector.ReadResult, error) {
	columns, err := s.columnSet(ctx, req.Module)
	if err != nil {
		return connector.ReadResult{}, err
	}

	sel := "*"
	if len(req.Fields) > 0 {
		var cols []string
		seen := make(map[string]bool)
		for _, f := range append([]string{types.FieldID}, req.Fields...) {
			// Unknown fields are left out of the projection; formulas and
			// filters see them as missing.
			if columns[f] && !seen[f] {
				seen[f] = true
				cols = append(cols, f)
			}
		}
		for _, f := range []string{types.FieldDateModified, types.FieldDeletion} {
			if columns[f] && !seen[f] {
				seen[f] = true
				cols = append(cols, f)
			}
		}
		sel = strings.Join(cols, ", ")
	}

	keys := make([]string, 0, len(req.Query))
	for k := range req.Query {
		if !columns[k] {
			return connector.ReadResult{}, fmt.Errorf("unknown field %s in module %s", k, req.Module)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	args := make([]any, 0, len(keys))
	b.WriteString("SELECT " + sel + " FROM " + req.Module)
	for i, k := range keys {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(k + " = ?")
		args = append(args, rules.CoerceText(req.Query[k]))
	}
	b.WriteString(" ORDER BY id")
	if req.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", req.Limit)
	}

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(b.String()), args...)
	if err != nil {
		return connector.ReadResult{}, fmt.Errorf("failed to read module %s: %w", req.Module, err)
	}
	defer rows.Close()

	var out connector.ReadResult
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return connector.ReadResult{}, err
		}
		rec := make(types.Record, len(row))
		for k, v := range row {
			if bs, ok := v.([]byte); ok {
				v = string(bs)
			}
			rec[k] = v
		}
		out.Values = append(out.Values, rec)
	}
	return out, rows.Err()
}

// WriteData implements connector.Solution. Records with an id that exists
// are updated, every other record is inserted.
func (s *Solution) WriteData(ctx context.Context, req connector.WriteRequest) (connector.WriteResult, error) {
	columns, err := s.columnSet(ctx, req.Module)
	if err != nil {
		return connector.WriteResult{}, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return connector.WriteResult{}, err
	}
	defer tx.Rollback()

	var out connector.WriteResult
	for _, rec := range req.Records {
		id := rules.CoerceText(rec[types.FieldID])

		var fields []string
		for k := range rec {
			if k == types.FieldID {
				continue
			}
			if !columns[k] {
				return connector.WriteResult{}, fmt.Errorf("unknown field %s in module %s", k, req.Module)
			}
			fields = append(fields, k)
		}
		sort.Strings(fields)

		exists := false
		if id != "" {
			var n int
			q := s.db.Rebind("SELECT COUNT(*) FROM " + req.Module + " WHERE id = ?")
			if err := tx.GetContext(ctx, &n, q, id); err != nil {
				return connector.WriteResult{}, err
			}
			exists = n > 0
		} else {
			id = uuid.NewString()
		}

		args := make([]any, 0, len(fields)+1)
		for _, f := range fields {
			args = append(args, rec[f])
		}

		var q string
		if exists {
			if len(fields) == 0 {
				out.IDs = append(out.IDs, id)
				continue
			}
			sets := make([]string, len(fields))
			for i, f := range fields {
				sets[i] = f + " = ?"
			}
			q = "UPDATE " + req.Module + " SET " + strings.Join(sets, ", ") + " WHERE id = ?"
			args = append(args, id)
		} else {
			cols := append([]string{types.FieldID}, fields...)
			args = append([]any{id}, args...)
			q = "INSERT INTO " + req.Module + " (" + strings.Join(cols, ", ") + ") VALUES (" +
				strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind(q), args...); err != nil {
			return connector.WriteResult{}, fmt.Errorf("failed to write module %s: %w", req.Module, err)
		}
		out.IDs = append(out.IDs, id)
	}

	if err := tx.Commit(); err != nil {
		return connector.WriteResult{}, err
	}
	return out, nil
}

func (s *Solution) columnSet(ctx context.Context, module string) (map[string]bool, error) {
	cols, err := s.GetModuleFields(ctx, module)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		set[c] = true
	}
	return set, nil
}
