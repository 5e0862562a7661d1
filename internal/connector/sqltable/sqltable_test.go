package sqltable

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/docsync/internal/connector"
	"github.com/solatis/docsync/internal/types"
)

func openTestSolution(t *testing.T) *Solution {
	t.Helper()
	s, err := Open("sqlite://" + filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.db.Exec(`CREATE TABLE contacts (
		id TEXT PRIMARY KEY,
		email TEXT,
		account_id TEXT,
		date_modified TEXT
	)`)
	require.NoError(t, err)
	return s
}

func TestSolution_WriteThenRead(t *testing.T) {
	s := openTestSolution(t)
	ctx := context.Background()

	res, err := s.WriteData(ctx, connector.WriteRequest{
		Module: "contacts",
		Records: []types.Record{
			{"id": "c1", "email": "a@x.io", "account_id": "A1"},
			{"id": "c2", "email": "b@x.io", "account_id": "A2"},
			{"email": "c@x.io", "account_id": "A1"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.IDs, 3)
	assert.Equal(t, "c1", res.IDs[0])
	assert.NotEmpty(t, res.IDs[2])

	read, err := s.ReadData(ctx, connector.ReadRequest{
		Module: "contacts",
		Fields: []string{"email", "unknown_column"},
		Query:  map[string]any{"account_id": "A1"},
	})
	require.NoError(t, err)
	require.Len(t, read.Values, 2)
	for _, rec := range read.Values {
		assert.Contains(t, rec, "id")
		assert.Contains(t, rec, "email")
		assert.NotContains(t, rec, "account_id")
	}

	_, err = s.WriteData(ctx, connector.WriteRequest{
		Module:  "contacts",
		Records: []types.Record{{"id": "c1", "email": "new@x.io"}},
	})
	require.NoError(t, err)

	read, err = s.ReadData(ctx, connector.ReadRequest{Module: "contacts", Query: map[string]any{"id": "c1"}})
	require.NoError(t, err)
	require.Len(t, read.Values, 1)
	assert.Equal(t, "new@x.io", read.Values[0]["email"])
	assert.Equal(t, "A1", read.Values[0]["account_id"])
}

func TestSolution_RejectsBadIdentifiers(t *testing.T) {
	s := openTestSolution(t)
	ctx := context.Background()

	_, err := s.GetModuleFields(ctx, "contacts; DROP TABLE contacts")
	assert.Error(t, err)

	_, err = s.ReadData(ctx, connector.ReadRequest{
		Module: "contacts",
		Query:  map[string]any{"email = email OR 1": "x"},
	})
	assert.Error(t, err)

	_, err = s.WriteData(ctx, connector.WriteRequest{
		Module:  "contacts",
		Records: []types.Record{{"id": "c9", "nope": "x"}},
	})
	assert.Error(t, err)

	fields, err := s.GetModuleFields(ctx, "contacts")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "email", "account_id", "date_modified"}, fields)
}
