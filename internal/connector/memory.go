package connector

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/solatis/docsync/internal/rules"
	"github.com/solatis/docsync/internal/types"
)

// Memory is an in-process Solution holding records per module. Used for
// tests and for dry runs where the target is not reachable.
type Memory struct {
	mu      sync.RWMutex
	modules map[string]map[string]types.Record
	nextID  int
	readErr error
	reads   []ReadRequest
}

// NewMemory creates an empty memory solution.
func NewMemory() *Memory {
	return &Memory{modules: make(map[string]map[string]types.Record)}
}

// Put stores records in module, keyed by their "id".
func (m *Memory) Put(module string, records ...types.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mod := m.module(module)
	for _, r := range records {
		mod[rules.CoerceText(r[types.FieldID])] = r.Clone()
	}
}

// FailReads makes every subsequent ReadData return err. Pass nil to clear.
func (m *Memory) FailReads(err error) {
	m.mu.Lock()
	m.readErr = err
	m.mu.Unlock()
}

// Reads returns every ReadRequest received, in order.
func (m *Memory) Reads() []ReadRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ReadRequest(nil), m.reads...)
}

// ReadData implements Solution.
func (m *Memory) ReadData(_ context.Context, req ReadRequest) (ReadResult, error) {
	m.mu.Lock()
	m.reads = append(m.reads, req)
	err := m.readErr
	m.mu.Unlock()
	if err != nil {
		return ReadResult{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	mod := m.modules[req.Module]
	ids := make([]string, 0, len(mod))
	for id := range mod {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out ReadResult
	for _, id := range ids {
		rec := mod[id]
		if !matches(rec, req.Query) {
			continue
		}
		out.Values = append(out.Values, project(rec, req.Fields))
		if req.Limit > 0 && len(out.Values) >= req.Limit {
			break
		}
	}
	return out, nil
}

// WriteData implements Solution.
func (m *Memory) WriteData(_ context.Context, req WriteRequest) (WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mod := m.module(req.Module)
	var out WriteResult
	for _, r := range req.Records {
		rec := r.Clone()
		id := rules.CoerceText(rec[types.FieldID])
		if id == "" {
			m.nextID++
			id = req.Module + "-" + strconv.Itoa(m.nextID)
			rec[types.FieldID] = id
		} else if existing, ok := mod[id]; ok {
			merged := existing.Clone()
			for k, v := range rec {
				merged[k] = v
			}
			rec = merged
		}
		mod[id] = rec
		out.IDs = append(out.IDs, id)
	}
	return out, nil
}

// GetModuleFields implements Solution. Fields are the union of keys of the
// stored records, sorted.
func (m *Memory) GetModuleFields(_ context.Context, module string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mod, ok := m.modules[module]
	if !ok {
		return nil, fmt.Errorf("unknown module %s", module)
	}
	seen := make(map[string]bool)
	for _, rec := range mod {
		for k := range rec {
			seen[k] = true
		}
	}
	fields := make([]string, 0, len(seen))
	for k := range seen {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields, nil
}

// module returns the module map, creating it. Caller holds mu.
func (m *Memory) module(name string) map[string]types.Record {
	mod, ok := m.modules[name]
	if !ok {
		mod = make(map[string]types.Record)
		m.modules[name] = mod
	}
	return mod
}

func matches(rec types.Record, query map[string]any) bool {
	for k, want := range query {
		if rules.CoerceText(rec[k]) != rules.CoerceText(want) {
			return false
		}
	}
	return true
}

// project keeps the requested fields plus id and date_modified. A nil or
// empty field list keeps everything.
func project(rec types.Record, fields []string) types.Record {
	if len(fields) == 0 {
		return rec.Clone()
	}
	out := make(types.Record, len(fields)+2)
	for _, f := range fields {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	for _, k := range []string{types.FieldID, types.FieldDateModified, types.FieldDeletion} {
		if v, ok := rec[k]; ok {
			out[k] = v
		}
	}
	return out
}

// LoadMemory builds a memory solution from a YAML file mapping module names
// to record lists. An empty path gives an empty solution.
func LoadMemory(path string) (*Memory, error) {
	m := NewMemory()
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read memory fixture: %w", err)
	}
	var modules map[string][]types.Record
	if err := yaml.Unmarshal(data, &modules); err != nil {
		return nil, fmt.Errorf("parse memory fixture: %w", err)
	}
	for name, records := range modules {
		for i, r := range records {
			if rules.IsEmpty(r[types.FieldID]) {
				return nil, fmt.Errorf("memory fixture: module %s record %d has no id", name, i)
			}
		}
		m.Put(name, records...)
	}
	return m, nil
}
