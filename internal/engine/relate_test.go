package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/docsync/internal/types"
)

func linkedContacts(errorIfMissing bool) types.Rule {
	r := contactsRule(types.ModeCreateUpdate)
	r.Relationships = []types.Relationship{{
		FieldNameSource: "account_id",
		FieldNameTarget: "account_ref",
		RelatedRuleID:   "accounts",
		ErrorIfMissing:  errorIfMissing,
	}}
	return r
}

func TestRelate_NotRequired(t *testing.T) {
	h := newHarness(t, linkedContacts(false), accountsRule())

	res := h.proc.Process(context.Background(), h.job, "contacts", types.Record{"id": "S1", "name": "Bob", "account_id": "A1"})
	assert.Equal(t, types.StatusReadyToSend, res.Status)
	assert.True(t, res.OK)

	target := h.data(t, res.DocumentID, types.DataTarget)
	assert.Contains(t, target, "account_ref")
	assert.Nil(t, target["account_ref"])

	var warned bool
	for _, l := range h.logs(t, res.DocumentID) {
		if l.Severity == types.SeverityWarning {
			warned = true
			assert.Contains(t, l.Message, `No value found for the target field account_ref because "Error if missing" is set to false.`)
		}
	}
	assert.True(t, warned)
}

func TestRelate_MissingThenResolved(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, linkedContacts(true), accountsRule())

	res := h.proc.Process(ctx, h.job, "contacts", types.Record{"id": "S1", "name": "Bob", "account_id": "A1"})
	assert.Equal(t, types.StatusRelateKO, res.Status)
	assert.False(t, res.OK)
	msgs := h.messages(t, res.DocumentID)
	assert.Contains(t, msgs[len(msgs)-1], "There is not record with the ID source A1 in the rule Accounts")

	rels, err := h.store.ListRelationships(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Empty(t, rels)

	h.put("acc1", "accounts", "A1", "TA1", types.TypeCreate, types.StatusSend)

	res = h.proc.Run(ctx, h.job, res.DocumentID)
	assert.Equal(t, types.StatusReadyToSend, res.Status)
	assert.Equal(t, types.TypeCreate, res.Type)
	assert.Equal(t, 1, res.Attempt)
	assert.Equal(t, "TA1", h.data(t, res.DocumentID, types.DataTarget)["account_ref"])

	rels, err = h.store.ListRelationships(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "acc1", rels[0].RelatedDocumentID)
	assert.Equal(t, "account_id", rels[0].SourceField)
}

func TestRelate_RecoveredCreateBecomesUpdate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, linkedContacts(true), accountsRule())

	res := h.proc.Process(ctx, h.job, "contacts", types.Record{"id": "S1", "name": "Bob", "account_id": "A1"})
	require.Equal(t, types.StatusRelateKO, res.Status)

	// Meanwhile the same record was sent by another path.
	h.put("sent", "contacts", "S1", "T1", types.TypeCreate, types.StatusSend)
	h.put("acc1", "accounts", "A1", "TA1", types.TypeCreate, types.StatusSend)

	res = h.proc.Run(ctx, h.job, res.DocumentID)
	assert.Equal(t, types.TypeUpdate, res.Type)
	assert.Equal(t, "T1", res.TargetID)
	assert.Equal(t, types.StatusReadyToSend, res.Status)
}

func TestRelate_EmptyValue(t *testing.T) {
	rule := linkedContacts(true)
	rule.Relationships[0].ErrorIfEmpty = true
	h := newHarness(t, rule, accountsRule())

	res := h.proc.Process(context.Background(), h.job, "contacts", types.Record{"id": "S1", "name": "Bob", "account_id": " "})
	assert.Equal(t, types.StatusRelateKO, res.Status)
	msgs := h.messages(t, res.DocumentID)
	assert.Contains(t, msgs[len(msgs)-1], "The source field account_id is empty.")

	lenient := newHarness(t, linkedContacts(true), accountsRule())
	res = lenient.proc.Process(context.Background(), lenient.job, "contacts", types.Record{"id": "S1", "name": "Bob", "account_id": ""})
	assert.Equal(t, types.StatusReadyToSend, res.Status)
	assert.Nil(t, lenient.data(t, res.DocumentID, types.DataTarget)["account_ref"])
}

func TestRelate_FilteredParentFiltersDocument(t *testing.T) {
	h := newHarness(t, linkedContacts(true), accountsRule())
	h.put("acc1", "accounts", "A1", "", types.TypeCreate, types.StatusFilter)

	res := h.proc.Process(context.Background(), h.job, "contacts", types.Record{"id": "S1", "name": "Bob", "account_id": "A1"})
	assert.Equal(t, types.StatusFilter, res.Status)
	assert.True(t, res.OK)

	logs := h.logs(t, res.DocumentID)
	last := logs[len(logs)-1]
	assert.Equal(t, "acc1", last.RefDocumentID)
	assert.Equal(t, types.SeverityWarning, last.Severity)
	assert.Contains(t, last.Message, "the parent document is filter too")
}

func TestResolve_DeletedTargetIsAbsent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, linkedContacts(true), accountsRule())
	rule, err := h.proc.Rules().Get("contacts")
	require.NoError(t, err)
	rel := rule.Relationships[0]

	h.put("acc1", "accounts", "A1", "TA1", types.TypeCreate, types.StatusSend)
	res, err := h.proc.resolveTargetID(ctx, h.job, rule, rel, "A1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, Resolution{RecordID: "TA1", DocumentID: "acc1"}, *res)

	h.put("acc2", "accounts", "A1", "TA1", types.TypeDelete, types.StatusSend)
	res, err = h.proc.resolveTargetID(ctx, h.job, rule, rel, "A1")
	require.NoError(t, err)
	assert.Nil(t, res, "newest document is a deletion")

	res, err = h.proc.resolveTargetID(ctx, h.job, rule, rel, "A2")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolve_ReverseDirection(t *testing.T) {
	ctx := context.Background()
	// Orders flow erp -> crm while accounts flow crm -> erp: an order's
	// account id is an erp id, found on the target side of accounts.
	orders := types.Rule{
		ID: "orders", SourceConnectionID: "erp", TargetConnectionID: "crm",
		SourceModule: "order", TargetModule: "deal",
		Fields: []types.Field{{Source: "ref", Target: "ref"}},
		Relationships: []types.Relationship{{
			FieldNameSource: "account_id", FieldNameTarget: "account", RelatedRuleID: "accounts", ErrorIfMissing: true,
		}},
	}
	h := newHarness(t, orders, accountsRule())
	h.put("acc1", "accounts", "A1", "TA1", types.TypeCreate, types.StatusSend)

	res := h.proc.Process(ctx, h.job, "orders", types.Record{"id": "O1", "ref": "PO-1", "account_id": "TA1"})
	assert.Equal(t, types.StatusReadyToSend, res.Status)
	assert.Equal(t, "A1", h.data(t, res.DocumentID, types.DataTarget)["account"])
}

func TestClassify(t *testing.T) {
	ctx := context.Background()

	t.Run("cancelled without counterpart creates", func(t *testing.T) {
		h := newHarness(t, contactsRule(types.ModeCreateUpdate))
		h.put("nosend", "contacts", "S1", "T1", types.TypeCreate, types.StatusNoSend)
		d := newDoc(h.put("me", "contacts", "S1", "", types.TypeCreate, types.StatusFilterOK), mustRule(t, h, "contacts"), nil, 0)

		c, err := h.proc.classify(ctx, h.job, d)
		require.NoError(t, err)
		assert.Equal(t, classification{Type: types.TypeCreate}, c)
	})

	t.Run("deleted record creates", func(t *testing.T) {
		h := newHarness(t, contactsRule(types.ModeCreateUpdate))
		h.put("del", "contacts", "S1", "T1", types.TypeDelete, types.StatusSend)
		d := newDoc(h.put("me", "contacts", "S1", "", types.TypeCreate, types.StatusFilterOK), mustRule(t, h, "contacts"), nil, 0)

		c, err := h.proc.classify(ctx, h.job, d)
		require.NoError(t, err)
		assert.Equal(t, types.TypeCreate, c.Type)
	})

	t.Run("bidirectional counterpart updates", func(t *testing.T) {
		contacts := contactsRule(types.ModeCreateUpdate)
		contacts.Params = map[string]string{types.ParamBidirectional: " persons"}
		persons := types.Rule{
			ID: "persons", SourceConnectionID: "erp", TargetConnectionID: "crm",
			SourceModule: "person", TargetModule: "contact",
			Fields: []types.Field{{Source: "name", Target: "name"}},
		}
		h := newHarness(t, contacts, persons)
		h.put("back", "persons", "T9", "S1", types.TypeCreate, types.StatusSend)

		res := h.proc.Process(ctx, h.job, "contacts", types.Record{"id": "S1", "name": "Bob"})
		assert.Equal(t, types.TypeUpdate, res.Type)
		assert.Equal(t, "T9", res.TargetID)
	})

	t.Run("element id relationship decides alone", func(t *testing.T) {
		contacts := contactsRule(types.ModeCreateUpdate)
		contacts.Relationships = []types.Relationship{{
			FieldNameSource: "account_id", FieldNameTarget: types.FieldElementID, RelatedRuleID: "accounts",
		}}
		h := newHarness(t, contacts, accountsRule())
		h.put("acc1", "accounts", "A1", "TA1", types.TypeCreate, types.StatusSend)
		h.target.Put("person", types.Record{"id": "TA1", "name": "Old"})

		res := h.proc.Process(ctx, h.job, "contacts", types.Record{"id": "S1", "name": "Bob", "account_id": "A1"})
		assert.Equal(t, types.StatusReadyToSend, res.Status)
		assert.Equal(t, types.TypeUpdate, res.Type)
		assert.Equal(t, "TA1", res.TargetID)

		res = h.proc.Process(ctx, h.job, "contacts", types.Record{"id": "S2", "name": "Ann", "account_id": "A2"})
		assert.Equal(t, types.TypeCreate, res.Type)
		assert.Contains(t, h.messages(t, res.DocumentID), "Failed to get the id target of the current module in the rule linked. Type  : C")
	})
}

func TestMemoryIndex_MatchesStore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, contactsRule(types.ModeCreateUpdate), accountsRule())

	h.put("c1", "contacts", "S1", "T1", types.TypeCreate, types.StatusSend)
	h.put("c2", "contacts", "S1", "T2", types.TypeUpdate, types.StatusSend)
	h.put("c3", "contacts", "S1", "", types.TypeUpdate, types.StatusNoSend)
	h.put("c4", "contacts", "S2", "T4", types.TypeCreate, types.StatusCancel)
	h.put("c5", "contacts", "S2", "T5", types.TypeCreate, types.StatusNoSend)
	h.put("c6", "contacts", "S3", "T6", types.TypeCreate, types.StatusRelateKO)
	removed := h.put("c7", "contacts", "S3", "T7", types.TypeCreate, types.StatusSend)
	removed.Deleted = true
	h.store.Put(removed)
	h.put("a1", "accounts", "A1", "TA1", types.TypeCreate, types.StatusSend)

	mem, err := PreloadIndex(ctx, h.store, "contacts")
	require.NoError(t, err)
	assert.Equal(t, 6, mem.Len())
	st := StoreIndex{Store: h.store}

	type query struct {
		rule string
		side types.Side
		id   string
	}
	queries := []query{
		{"contacts", types.SideSource, "S1"},
		{"contacts", types.SideSource, "S2"},
		{"contacts", types.SideSource, "S3"},
		{"contacts", types.SideTarget, "T1"},
		{"contacts", types.SideTarget, "T5"},
		{"contacts", types.SideTarget, "T7"},
		{"contacts", types.SideSource, "S404"},
		{"accounts", types.SideSource, "A1"}, // not preloaded, falls through
	}
	id := func(d *types.Document) string {
		if d == nil {
			return ""
		}
		return d.ID
	}
	for _, q := range queries {
		want, err := st.Synced(ctx, q.rule, q.side, q.id, "")
		require.NoError(t, err)
		got, err := mem.Synced(ctx, q.rule, q.side, q.id, "")
		require.NoError(t, err)
		assert.Equal(t, id(want), id(got), "Synced %+v", q)

		want, err = st.Resolvable(ctx, q.rule, q.side, q.id)
		require.NoError(t, err)
		got, err = mem.Resolvable(ctx, q.rule, q.side, q.id)
		require.NoError(t, err)
		assert.Equal(t, id(want), id(got), "Resolvable %+v", q)
	}

	got, _ := mem.Synced(ctx, "contacts", types.SideSource, "S1", "c2")
	assert.Equal(t, "c1", id(got), "excluded document is skipped")
}

func TestMemoryIndex_UsedByJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, contactsRule(types.ModeCreateUpdate))
	h.put("sent", "contacts", "S1", "T1", types.TypeCreate, types.StatusSend)

	// The index is a snapshot: documents added later are not visible.
	mem, err := PreloadIndex(ctx, h.store, "contacts")
	require.NoError(t, err)
	h.put("later", "contacts", "S2", "T2", types.TypeCreate, types.StatusSend)
	job := NewJob(mem)

	res := h.proc.Process(ctx, job, "contacts", types.Record{"id": "S1", "name": "Bob"})
	assert.Equal(t, "T1", res.TargetID)

	res = h.proc.Process(ctx, job, "contacts", types.Record{"id": "S2", "name": "Ann"})
	assert.Equal(t, types.TypeCreate, res.Type)
}

func mustRule(t *testing.T, h *harness, id string) *types.Rule {
	t.Helper()
	r, err := h.proc.Rules().Get(id)
	require.NoError(t, err)
	return r
}
