package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/solatis/docsync/internal/connector"
	"github.com/solatis/docsync/internal/formula"
	"github.com/solatis/docsync/internal/ruleset"
	"github.com/solatis/docsync/internal/store"
	"github.com/solatis/docsync/internal/store/memstore"
	"github.com/solatis/docsync/internal/types"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// stepClock advances one second per reading so creation order is strict.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type harness struct {
	store  *memstore.Store
	source *connector.Memory // connection "crm"
	target *connector.Memory // connection "erp"
	proc   *Processor
	job    *Job
	clock  *stepClock
}

func newHarness(t *testing.T, rules ...types.Rule) *harness {
	t.Helper()
	return newHarnessWith(t, Options{}, rules...)
}

func newHarnessWith(t *testing.T, opts Options, rules ...types.Rule) *harness {
	t.Helper()
	rs, err := ruleset.New([]ruleset.Connection{
		{ID: "crm", Driver: "memory"},
		{ID: "erp", Driver: "memory"},
	}, rules...)
	require.NoError(t, err)

	h := &harness{
		store:  memstore.New(),
		source: connector.NewMemory(),
		target: connector.NewMemory(),
		clock:  &stepClock{t: t0},
	}
	reg := connector.NewRegistry()
	reg.Register("crm", h.source)
	reg.Register("erp", h.target)

	opts.Now = h.clock.Now
	h.proc = New(h.store, rs, reg, formula.NewEvaluator(), zerolog.Nop(), opts)
	h.job = NewJob(nil)
	return h
}

func contactsRule(mode types.RuleMode) types.Rule {
	return types.Rule{
		ID:                 "contacts",
		Name:               "Contacts",
		Mode:               mode,
		SourceConnectionID: "crm",
		TargetConnectionID: "erp",
		SourceModule:       "contact",
		TargetModule:       "person",
		Fields:             []types.Field{{Source: "name", Target: "name"}},
	}
}

func accountsRule() types.Rule {
	return types.Rule{
		ID:                 "accounts",
		Name:               "Accounts",
		Mode:               types.ModeCreateUpdate,
		SourceConnectionID: "crm",
		TargetConnectionID: "erp",
		SourceModule:       "account",
		TargetModule:       "company",
		Fields:             []types.Field{{Source: "name", Target: "name"}},
	}
}

// put stores a document directly, bypassing the pipeline.
func (h *harness) put(id, rule, source, target string, dt types.DocType, status types.Status) types.Document {
	at := h.clock.Now()
	d := types.Document{
		ID: id, RuleID: rule, SourceID: source, TargetID: target,
		Type: dt, Status: status, GlobalStatus: types.GlobalStatusOf(status),
		CreatedAt: at, ModifiedAt: at,
	}
	h.store.Put(d)
	return d
}

// send marks a document as sent to the target under targetID, the way the
// outbound side does once the target application accepted it.
func (h *harness) send(t *testing.T, docID, targetID string) {
	t.Helper()
	ctx := context.Background()
	doc, err := h.store.GetDocument(ctx, docID)
	require.NoError(t, err)
	now := h.clock.Now()
	require.NoError(t, h.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateTargetID(ctx, docID, targetID, now); err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, docID, types.StatusSend, types.GlobalClose, doc.Attempt+1, now)
	}))
}

func (h *harness) doc(t *testing.T, id string) *types.Document {
	t.Helper()
	d, err := h.store.GetDocument(context.Background(), id)
	require.NoError(t, err)
	return d
}

func (h *harness) data(t *testing.T, docID string, dt types.DataType) types.Record {
	t.Helper()
	d, err := h.store.GetDocumentData(context.Background(), docID, dt)
	require.NoError(t, err)
	if d == nil {
		return nil
	}
	return d.Data
}

func (h *harness) logs(t *testing.T, docID string) []types.Log {
	t.Helper()
	logs, err := h.store.ListLogs(context.Background(), docID)
	require.NoError(t, err)
	return logs
}

func (h *harness) messages(t *testing.T, docID string) []string {
	t.Helper()
	var out []string
	for _, l := range h.logs(t, docID) {
		out = append(out, l.Message)
	}
	return out
}
