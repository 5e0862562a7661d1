// Package memstore is an in-memory store.Store.
//
// Writes staged inside InTx are applied under the write lock only when fn
// returns nil, so a failed transaction leaves no trace. Transactions are
// serialized, mirroring the single-writer sqlite configuration.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/solatis/docsync/internal/store"
	"github.com/solatis/docsync/internal/types"
)

// Store holds every row in maps guarded by mu.
type Store struct {
	txMu sync.Mutex // serializes transactions

	mu            sync.RWMutex
	docs          map[string]*types.Document
	data          map[string][]types.DocumentData
	relationships map[string][]types.DocumentRelationship
	logs          map[string][]types.Log
	allLogs       []types.Log

	failMu sync.Mutex
	failOn map[string]error
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		docs:          make(map[string]*types.Document),
		data:          make(map[string][]types.DocumentData),
		relationships: make(map[string][]types.DocumentRelationship),
		logs:          make(map[string][]types.Log),
		failOn:        make(map[string]error),
	}
}

// FailNext makes the next write operation named op (e.g. "UpdateStatus")
// fail with err, rolling back its transaction.
func (s *Store) FailNext(op string, err error) {
	s.failMu.Lock()
	s.failOn[op] = err
	s.failMu.Unlock()
}

func (s *Store) injected(op string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if err, ok := s.failOn[op]; ok {
		delete(s.failOn, op)
		return err
	}
	return nil
}

type tx struct {
	s       *Store
	ops     []func()
	created map[string]*types.Document // documents inserted in this tx
	updated map[string]types.Document  // pending header state
}

// InTx implements store.Store.
func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	t := &tx{s: s, created: make(map[string]*types.Document), updated: make(map[string]types.Document)}
	if err := fn(t); err != nil {
		return err
	}

	s.mu.Lock()
	for _, op := range t.ops {
		op()
	}
	s.mu.Unlock()
	return nil
}

// header returns the current header state of id as seen by this tx.
func (t *tx) header(id string) (types.Document, error) {
	if d, ok := t.updated[id]; ok {
		return d, nil
	}
	if d, ok := t.created[id]; ok {
		return *d, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	d, ok := t.s.docs[id]
	if !ok {
		return types.Document{}, fmt.Errorf("%w: %s", types.ErrDocumentNotFound, id)
	}
	return *d, nil
}

func (t *tx) stageHeader(op, id string, mutate func(*types.Document)) error {
	if err := t.s.injected(op); err != nil {
		return err
	}
	d, err := t.header(id)
	if err != nil {
		return err
	}
	mutate(&d)
	t.updated[id] = d
	t.ops = append(t.ops, func() {
		cp := d
		t.s.docs[id] = &cp
	})
	return nil
}

func (t *tx) InsertDocument(_ context.Context, doc *types.Document) error {
	if err := t.s.injected("InsertDocument"); err != nil {
		return err
	}
	if _, err := t.header(doc.ID); err == nil {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	cp := *doc
	t.created[doc.ID] = &cp
	t.ops = append(t.ops, func() {
		c := cp
		t.s.docs[c.ID] = &c
	})
	return nil
}

func (t *tx) InsertDocumentData(_ context.Context, data *types.DocumentData) error {
	if err := t.s.injected("InsertDocumentData"); err != nil {
		return err
	}
	if _, err := t.header(data.DocumentID); err != nil {
		return err
	}
	cp := *data
	cp.Data = data.Data.Clone()
	t.ops = append(t.ops, func() {
		t.s.data[cp.DocumentID] = append(t.s.data[cp.DocumentID], cp)
	})
	return nil
}

func (t *tx) InsertRelationship(_ context.Context, rel *types.DocumentRelationship) error {
	if err := t.s.injected("InsertRelationship"); err != nil {
		return err
	}
	cp := *rel
	t.ops = append(t.ops, func() {
		t.s.relationships[cp.DocumentID] = append(t.s.relationships[cp.DocumentID], cp)
	})
	return nil
}

func (t *tx) UpdateStatus(_ context.Context, id string, status types.Status, global types.GlobalStatus, attempt int, at time.Time) error {
	return t.stageHeader("UpdateStatus", id, func(d *types.Document) {
		d.Status, d.GlobalStatus, d.Attempt, d.ModifiedAt = status, global, attempt, at
	})
}

func (t *tx) UpdateType(_ context.Context, id string, dt types.DocType, at time.Time) error {
	return t.stageHeader("UpdateType", id, func(d *types.Document) {
		d.Type, d.ModifiedAt = dt, at
	})
}

func (t *tx) UpdateTargetID(_ context.Context, id, targetID string, at time.Time) error {
	return t.stageHeader("UpdateTargetID", id, func(d *types.Document) {
		d.TargetID, d.ModifiedAt = targetID, at
	})
}

func (t *tx) UpdateDeleted(_ context.Context, id string, deleted bool, at time.Time) error {
	return t.stageHeader("UpdateDeleted", id, func(d *types.Document) {
		d.Deleted, d.ModifiedAt = deleted, at
	})
}

func (t *tx) AppendLog(_ context.Context, l *types.Log) error {
	if err := t.s.injected("AppendLog"); err != nil {
		return err
	}
	cp := *l
	t.ops = append(t.ops, func() {
		t.s.logs[cp.DocumentID] = append(t.s.logs[cp.DocumentID], cp)
		t.s.allLogs = append(t.s.allLogs, cp)
	})
	return nil
}

// GetDocument implements store.Store.
func (s *Store) GetDocument(_ context.Context, id string) (*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrDocumentNotFound, id)
	}
	cp := *d
	return &cp, nil
}

// GetDocumentData implements store.Store.
func (s *Store) GetDocumentData(_ context.Context, docID string, dataType types.DataType) (*types.DocumentData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.data[docID]
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Type == dataType {
			cp := rows[i]
			cp.Data = rows[i].Data.Clone()
			return &cp, nil
		}
	}
	return nil, nil
}

// FindPredecessor implements store.Store.
func (s *Store) FindPredecessor(_ context.Context, q store.PredecessorQuery) (*types.Document, error) {
	var found []*types.Document
	s.scan(q.RuleID, types.SideSource, q.SourceID, func(d *types.Document) {
		if store.BlocksPredecessor(d, q) {
			found = append(found, d)
		}
	})
	sortOldest(found)
	return first(found), nil
}

// FindSynced implements store.Store.
func (s *Store) FindSynced(_ context.Context, ruleID string, side types.Side, id, excludeDocID string) (*types.Document, error) {
	var found []*types.Document
	s.scan(ruleID, side, id, func(d *types.Document) {
		if !d.Deleted && d.ID != excludeDocID && store.SyncedEligible(d) {
			found = append(found, d)
		}
	})
	sort.SliceStable(found, func(i, j int) bool { return store.SyncedLess(found[i], found[j]) })
	return first(found), nil
}

// FindResolvable implements store.Store.
func (s *Store) FindResolvable(_ context.Context, ruleID string, side types.Side, id string) (*types.Document, error) {
	var found []*types.Document
	s.scan(ruleID, side, id, func(d *types.Document) {
		if !d.Deleted && d.SideID(side.Opposite()) != "" && store.ResolvableEligible(d) {
			found = append(found, d)
		}
	})
	sortNewest(found)
	return first(found), nil
}

// FindByStatus implements store.Store.
func (s *Store) FindByStatus(_ context.Context, ruleID string, side types.Side, id string, status types.Status) (*types.Document, error) {
	var found []*types.Document
	s.scan(ruleID, side, id, func(d *types.Document) {
		if !d.Deleted && d.Status == status {
			found = append(found, d)
		}
	})
	sortNewest(found)
	return first(found), nil
}

// ListChildren implements store.Store.
func (s *Store) ListChildren(_ context.Context, parentID string) ([]types.Document, error) {
	return s.list(func(d *types.Document) bool { return !d.Deleted && d.ParentID == parentID }), nil
}

// ListRuleDocuments implements store.Store.
func (s *Store) ListRuleDocuments(_ context.Context, ruleIDs ...string) ([]types.Document, error) {
	want := make(map[string]bool, len(ruleIDs))
	for _, id := range ruleIDs {
		want[id] = true
	}
	return s.list(func(d *types.Document) bool { return !d.Deleted && want[d.RuleID] }), nil
}

// ListByStatus implements store.Store.
func (s *Store) ListByStatus(_ context.Context, ruleID string, statuses ...types.Status) ([]types.Document, error) {
	want := make(map[types.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	return s.list(func(d *types.Document) bool {
		return !d.Deleted && d.RuleID == ruleID && want[d.Status]
	}), nil
}

// ListRelationships implements store.Store.
func (s *Store) ListRelationships(_ context.Context, docID string) ([]types.DocumentRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.DocumentRelationship(nil), s.relationships[docID]...), nil
}

// ListLogs implements store.Store.
func (s *Store) ListLogs(_ context.Context, docID string) ([]types.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Log(nil), s.logs[docID]...), nil
}

// AllLogs returns every log row in append order.
func (s *Store) AllLogs() []types.Log {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Log(nil), s.allLogs...)
}

// Put inserts or replaces a document header directly. Test seeding only.
func (s *Store) Put(doc types.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = &doc
}

// PutData appends a snapshot directly. Test seeding only.
func (s *Store) PutData(data types.DocumentData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[data.DocumentID] = append(s.data[data.DocumentID], data)
}

// scan calls fn with a copy of every document of ruleID whose id on side
// equals id.
func (s *Store) scan(ruleID string, side types.Side, id string, fn func(*types.Document)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.docs {
		if d.RuleID == ruleID && d.SideID(side) == id {
			cp := *d
			fn(&cp)
		}
	}
}

func (s *Store) list(keep func(*types.Document) bool) []types.Document {
	s.mu.RLock()
	var found []*types.Document
	for _, d := range s.docs {
		if keep(d) {
			cp := *d
			found = append(found, &cp)
		}
	}
	s.mu.RUnlock()

	sortOldest(found)
	out := make([]types.Document, len(found))
	for i, d := range found {
		out[i] = *d
	}
	return out
}

func sortOldest(docs []*types.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}

func sortNewest(docs []*types.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID > docs[j].ID
	})
}

func first(docs []*types.Document) *types.Document {
	if len(docs) == 0 {
		return nil
	}
	return docs[0]
}
