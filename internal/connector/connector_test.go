package connector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/docsync/internal/ruleset"
	"github.com/solatis/docsync/internal/types"
)

func TestMemory_ReadDataMatchesQuery(t *testing.T) {
	m := NewMemory()
	m.Put("contacts",
		types.Record{"id": "1", "email": "a@x.io", "account_id": "A1"},
		types.Record{"id": "2", "email": "b@x.io", "account_id": "A1"},
		types.Record{"id": "3", "email": "c@x.io", "account_id": "A2"},
	)

	res, err := m.ReadData(context.Background(), ReadRequest{
		Module: "contacts",
		Query:  map[string]any{"account_id": "A1"},
		Fields: []string{"email"},
	})
	require.NoError(t, err)
	require.Len(t, res.Values, 2)
	assert.Equal(t, types.Record{"id": "1", "email": "a@x.io"}, res.Values[0])
	assert.Equal(t, "2", res.Values[1]["id"])

	res, err = m.ReadData(context.Background(), ReadRequest{Module: "contacts", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, res.Values, 1)

	res, err = m.ReadData(context.Background(), ReadRequest{Module: "missing"})
	require.NoError(t, err)
	assert.Empty(t, res.Values)
}

func TestMemory_ReadReturnsCopies(t *testing.T) {
	m := NewMemory()
	m.Put("m", types.Record{"id": "1", "name": "x"})

	res, err := m.ReadData(context.Background(), ReadRequest{Module: "m"})
	require.NoError(t, err)
	res.Values[0]["name"] = "changed"

	res, err = m.ReadData(context.Background(), ReadRequest{Module: "m"})
	require.NoError(t, err)
	assert.Equal(t, "x", res.Values[0]["name"])
}

func TestMemory_FailReads(t *testing.T) {
	m := NewMemory()
	boom := errors.New("connector down")
	m.FailReads(boom)

	_, err := m.ReadData(context.Background(), ReadRequest{Module: "m", CallType: CallHistory})
	assert.ErrorIs(t, err, boom)
	require.Len(t, m.Reads(), 1)
	assert.Equal(t, CallHistory, m.Reads()[0].CallType)

	m.FailReads(nil)
	_, err = m.ReadData(context.Background(), ReadRequest{Module: "m"})
	assert.NoError(t, err)
}

func TestMemory_WriteData(t *testing.T) {
	m := NewMemory()
	m.Put("m", types.Record{"id": "1", "name": "x", "city": "Paris"})

	res, err := m.WriteData(context.Background(), WriteRequest{
		Module: "m",
		Records: []types.Record{
			{"id": "1", "name": "y"},
			{"name": "new"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.IDs, 2)
	assert.Equal(t, "1", res.IDs[0])
	assert.NotEmpty(t, res.IDs[1])

	read, err := m.ReadData(context.Background(), ReadRequest{Module: "m", Query: map[string]any{"id": "1"}})
	require.NoError(t, err)
	require.Len(t, read.Values, 1)
	assert.Equal(t, "y", read.Values[0]["name"])
	assert.Equal(t, "Paris", read.Values[0]["city"])

	fields, err := m.GetModuleFields(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, []string{"city", "id", "name"}, fields)

	_, err = m.GetModuleFields(context.Background(), "other")
	assert.Error(t, err)
}

func TestLoadMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
contacts:
  - id: "c1"
    email: a@x.io
  - id: "c2"
    email: b@x.io
`), 0o644))

	m, err := LoadMemory(path)
	require.NoError(t, err)
	res, err := m.ReadData(context.Background(), ReadRequest{Module: "contacts", Query: map[string]any{"email": "b@x.io"}})
	require.NoError(t, err)
	require.Len(t, res.Values, 1)
	assert.Equal(t, "c2", res.Values[0]["id"])

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("contacts:\n  - email: x\n"), 0o644))
	_, err = LoadMemory(bad)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	rs, err := ruleset.New([]ruleset.Connection{
		{ID: "crm", Driver: "memory"},
		{ID: "erp", Driver: "memory"},
	})
	require.NoError(t, err)

	opened := 0
	reg, err := BuildRegistry(rs, map[string]Opener{
		"memory": func(ruleset.Connection) (Solution, error) {
			opened++
			return NewMemory(), nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, opened)

	_, err = reg.Get("crm")
	assert.NoError(t, err)
	_, err = reg.Get("nope")
	assert.ErrorIs(t, err, types.ErrUnknownConnection)
	assert.NoError(t, reg.Close())

	_, err = BuildRegistry(rs, map[string]Opener{})
	assert.Error(t, err)
}
