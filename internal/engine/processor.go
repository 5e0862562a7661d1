// Package engine is the document processing engine: the per-record state
// machine that takes a source record through filtering, predecessor and
// relationship checks, field transformation and target reads, until the
// document is ready to send, suppressed or parked in an error status.
//
// A Processor is immutable after New and safe for concurrent use. Every run
// builds a fresh Doc; every status, type, target id and deletion change is
// one store transaction followed by one audit log row.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/solatis/docsync/internal/connector"
	"github.com/solatis/docsync/internal/formula"
	"github.com/solatis/docsync/internal/rules"
	"github.com/solatis/docsync/internal/ruleset"
	"github.com/solatis/docsync/internal/store"
	"github.com/solatis/docsync/internal/types"
)

// Options tunes a Processor. Zero values select defaults.
type Options struct {
	// MaxChildDepth caps parent -> child cascades.
	MaxChildDepth int
	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// Processor runs documents through the pipeline.
type Processor struct {
	store      store.Store
	rules      *ruleset.RuleSet
	connectors *connector.Registry
	formulas   *formula.Evaluator
	log        zerolog.Logger

	maxDepth int
	now      func() time.Time
}

// New creates a processor over its collaborators.
func New(st store.Store, rs *ruleset.RuleSet, reg *connector.Registry, formulas *formula.Evaluator, logger zerolog.Logger, opts Options) *Processor {
	p := &Processor{
		store:      st,
		rules:      rs,
		connectors: reg,
		formulas:   formulas,
		log:        logger.With().Str("component", "engine").Logger(),
		maxDepth:   opts.MaxChildDepth,
		now:        opts.Now,
	}
	if p.maxDepth <= 0 {
		p.maxDepth = types.DefaultMaxChildDepth
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.formulas == nil {
		p.formulas = formula.NewEvaluator()
	}
	return p
}

// Rules returns the rule set the processor runs.
func (p *Processor) Rules() *ruleset.RuleSet {
	return p.rules
}

// Process creates a document for a source record of ruleID and runs the
// whole pipeline on it.
func (p *Processor) Process(ctx context.Context, job *Job, ruleID string, record types.Record) Result {
	rule, err := p.rules.Get(ruleID)
	if err != nil {
		return failed(err)
	}
	return p.process(ctx, job, rule, record, "", 0)
}

func (p *Processor) process(ctx context.Context, job *Job, rule *types.Rule, record types.Record, parentID string, depth int) Result {
	d, err := p.create(ctx, job, rule, record, parentID, depth)
	if err != nil {
		return failed(err)
	}
	return p.runFrom(ctx, job, d, stageFilter)
}

// Run reruns an existing document from the stage its status owes.
// Documents in a final status or in Ready_to_send are returned unchanged.
func (p *Processor) Run(ctx context.Context, job *Job, docID string) Result {
	d, err := p.load(ctx, docID)
	if err != nil {
		return failed(err)
	}
	start, ok := entryStage(d.Status)
	if !ok {
		return d.result()
	}
	return p.runFrom(ctx, job, d, start)
}

// Cancel cancels a document and, first, every child document it generated
// that is not already cancelled.
func (p *Processor) Cancel(ctx context.Context, job *Job, docID string) Result {
	d, err := p.load(ctx, docID)
	if err != nil {
		return failed(err)
	}
	p.cancel(ctx, job, d, 0)
	return d.result()
}

// SetDeleted soft deletes (true) or restores (false) a document.
func (p *Processor) SetDeleted(ctx context.Context, job *Job, docID string, deleted bool) Result {
	d, err := p.loadAny(ctx, docID)
	if err != nil {
		return failed(err)
	}
	p.setDeleted(ctx, job, d, deleted)
	return d.result()
}

// load builds a Doc for an existing document.
func (p *Processor) load(ctx context.Context, docID string) (*Doc, error) {
	d, err := p.loadAny(ctx, docID)
	if err != nil {
		return nil, err
	}
	if d.Deleted {
		return nil, fmt.Errorf("%w: %s is removed", types.ErrDocumentNotFound, docID)
	}
	return d, nil
}

func (p *Processor) loadAny(ctx context.Context, docID string) (*Doc, error) {
	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	rule, err := p.rules.Get(doc.RuleID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", docID, err)
	}
	source := types.Record{}
	data, err := p.store.GetDocumentData(ctx, docID, types.DataSource)
	if err != nil {
		return nil, fmt.Errorf("load document %s source: %w", docID, err)
	}
	if data != nil {
		source = data.Data
	}
	return newDoc(*doc, rule, source, 0), nil
}

// create inserts the document header and its source snapshot.
func (p *Processor) create(ctx context.Context, job *Job, rule *types.Rule, record types.Record, parentID string, depth int) (*Doc, error) {
	if !job.Active() {
		return nil, types.ErrJobInactive
	}
	sourceID := types.NormalizeRecordID(rules.CoerceText(record[types.FieldID]))
	if sourceID == "" {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, types.ErrMissingSourceID)
	}

	docType := types.TypeCreate
	if deletionFlagged(record) {
		docType = types.TypeDelete
	}

	now := p.now().UTC()
	doc := types.Document{
		ID:                 types.NewDocumentID(),
		RuleID:             rule.ID,
		SourceID:           sourceID,
		ParentID:           parentID,
		Type:               docType,
		Status:             types.StatusNew,
		GlobalStatus:       types.GlobalStatusOf(types.StatusNew),
		SourceDateModified: parseDate(record[types.FieldDateModified]),
		CreatedAt:          now,
		ModifiedAt:         now,
	}
	source := sourceSnapshot(rule, record)

	err := p.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertDocument(ctx, &doc); err != nil {
			return err
		}
		return tx.InsertDocumentData(ctx, &types.DocumentData{
			ID:         types.NewRowID(),
			DocumentID: doc.ID,
			Type:       types.DataSource,
			Data:       source,
			CreatedAt:  now,
		})
	})
	if err != nil {
		p.log.Error().Err(err).Str("rule_id", rule.ID).Str("source_id", sourceID).Msg("failed to create document")
		return nil, fmt.Errorf("failed to create document (id source : %s): %w", sourceID, err)
	}

	d := newDoc(doc, rule, source, depth)
	d.addf("Status : %s", types.StatusNew)
	p.flush(ctx, job, d)
	return d, nil
}

// index returns the lookup index for job.
func (p *Processor) index(job *Job) DocumentIndex {
	if job != nil && job.Index != nil {
		return job.Index
	}
	return StoreIndex{Store: p.store}
}

// active is the gate at the start of every stage.
func (p *Processor) active(job *Job, d *Doc) bool {
	if job.Active() {
		return true
	}
	d.addf("Job not active.")
	d.lastErr = types.ErrJobInactive
	p.log.Warn().Str("doc_id", d.ID).Str("job_id", job.ID).Msg("job not active, stage skipped")
	return false
}
