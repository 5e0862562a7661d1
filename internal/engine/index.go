// internal/engine/index.go
package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/solatis/docsync/internal/store"
	"github.com/solatis/docsync/internal/types"
)

/*
 * Document lookups used by the classifier and the relationship resolver.
 *
 * Two implementations sit behind DocumentIndex:
 *   - StoreIndex: one query per lookup, always current
 *   - MemoryIndex: documents of selected rules loaded once per batch and
 *     searched in memory; rules not loaded fall through to another index
 *
 * Both apply the same eligibility filters and orderings (store.SyncedLess
 * for Synced, newest creation first for Resolvable) so a batch produces the
 * same decisions whichever index it runs with, as long as the preloaded
 * documents are not modified during the batch.
 */

// DocumentIndex finds previously synced documents of a rule.
type DocumentIndex interface {
	// Synced returns the best synced document for id on side, see
	// store.Store.FindSynced.
	Synced(ctx context.Context, ruleID string, side types.Side, id, excludeDocID string) (*types.Document, error)

	// Resolvable returns the newest document able to resolve a link to id on
	// side, see store.Store.FindResolvable.
	Resolvable(ctx context.Context, ruleID string, side types.Side, id string) (*types.Document, error)
}

// StoreIndex queries the store on every lookup.
type StoreIndex struct {
	Store store.Store
}

// Synced implements DocumentIndex.
func (s StoreIndex) Synced(ctx context.Context, ruleID string, side types.Side, id, excludeDocID string) (*types.Document, error) {
	return s.Store.FindSynced(ctx, ruleID, side, id, excludeDocID)
}

// Resolvable implements DocumentIndex.
func (s StoreIndex) Resolvable(ctx context.Context, ruleID string, side types.Side, id string) (*types.Document, error) {
	return s.Store.FindResolvable(ctx, ruleID, side, id)
}

type indexKey struct {
	rule string
	side types.Side
	id   string
}

// MemoryIndex answers lookups for preloaded rules from memory. Read-only
// after construction, safe for concurrent use.
type MemoryIndex struct {
	rules    map[string]bool
	docs     map[indexKey][]*types.Document
	fallback DocumentIndex
}

// NewMemoryIndex indexes docs for ruleIDs. Lookups on other rules go to
// fallback.
func NewMemoryIndex(fallback DocumentIndex, docs []types.Document, ruleIDs ...string) *MemoryIndex {
	m := &MemoryIndex{
		rules:    make(map[string]bool, len(ruleIDs)),
		docs:     make(map[indexKey][]*types.Document),
		fallback: fallback,
	}
	for _, id := range ruleIDs {
		m.rules[id] = true
	}
	for i := range docs {
		d := &docs[i]
		if !m.rules[d.RuleID] || d.Deleted {
			continue
		}
		if d.SourceID != "" {
			k := indexKey{d.RuleID, types.SideSource, d.SourceID}
			m.docs[k] = append(m.docs[k], d)
		}
		if d.TargetID != "" {
			k := indexKey{d.RuleID, types.SideTarget, d.TargetID}
			m.docs[k] = append(m.docs[k], d)
		}
	}
	return m
}

// PreloadIndex loads every document of ruleIDs from st.
func PreloadIndex(ctx context.Context, st store.Store, ruleIDs ...string) (*MemoryIndex, error) {
	docs, err := st.ListRuleDocuments(ctx, ruleIDs...)
	if err != nil {
		return nil, fmt.Errorf("preload index: %w", err)
	}
	return NewMemoryIndex(StoreIndex{Store: st}, docs, ruleIDs...), nil
}

// Len returns the number of indexed documents.
func (m *MemoryIndex) Len() int {
	seen := make(map[string]bool)
	for _, docs := range m.docs {
		for _, d := range docs {
			seen[d.ID] = true
		}
	}
	return len(seen)
}

// Synced implements DocumentIndex.
func (m *MemoryIndex) Synced(ctx context.Context, ruleID string, side types.Side, id, excludeDocID string) (*types.Document, error) {
	if !m.rules[ruleID] {
		return m.fallback.Synced(ctx, ruleID, side, id, excludeDocID)
	}
	var found []*types.Document
	for _, d := range m.docs[indexKey{ruleID, side, id}] {
		if d.ID != excludeDocID && store.SyncedEligible(d) {
			found = append(found, d)
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return store.SyncedLess(found[i], found[j]) })
	return firstCopy(found), nil
}

// Resolvable implements DocumentIndex.
func (m *MemoryIndex) Resolvable(ctx context.Context, ruleID string, side types.Side, id string) (*types.Document, error) {
	if !m.rules[ruleID] {
		return m.fallback.Resolvable(ctx, ruleID, side, id)
	}
	var found []*types.Document
	for _, d := range m.docs[indexKey{ruleID, side, id}] {
		if d.SideID(side.Opposite()) != "" && store.ResolvableEligible(d) {
			found = append(found, d)
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		if !found[i].CreatedAt.Equal(found[j].CreatedAt) {
			return found[i].CreatedAt.After(found[j].CreatedAt)
		}
		return found[i].ID > found[j].ID
	})
	return firstCopy(found), nil
}

func firstCopy(docs []*types.Document) *types.Document {
	if len(docs) == 0 {
		return nil
	}
	d := *docs[0]
	return &d
}
