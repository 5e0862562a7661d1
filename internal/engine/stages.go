// internal/engine/stages.go
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/solatis/docsync/internal/rules"
	"github.com/solatis/docsync/internal/store"
	"github.com/solatis/docsync/internal/types"
)

/*
 * Pipeline stages.
 *
 *   filter -> predecessor -> relate -> transform -> target
 *
 * Each stage polls job.Active first, then ends in exactly one terminal
 * transition for the stage (the OK status, a KO status or a cancel-class
 * status) and returns whether the next stage may run. Reruns enter at the
 * stage owed by the current status, see entryStage.
 */

type stage int

const (
	stageFilter stage = iota
	stagePredecessor
	stageRelate
	stageTransform
	stageTarget
)

// entryStage maps a status to the stage a rerun starts at.
func entryStage(s types.Status) (stage, bool) {
	switch s {
	case types.StatusNew, types.StatusFilterKO:
		return stageFilter, true
	case types.StatusFilterOK, types.StatusPredecessorKO:
		return stagePredecessor, true
	case types.StatusPredecessorOK, types.StatusRelateKO:
		return stageRelate, true
	case types.StatusRelateOK, types.StatusErrorTransformed:
		return stageTransform, true
	case types.StatusTransformed, types.StatusErrorChecking, types.StatusNotFound:
		return stageTarget, true
	default:
		return 0, false
	}
}

// RerunStatuses lists the statuses Run picks a document up from.
func RerunStatuses() []types.Status {
	var out []types.Status
	for _, s := range types.AllStatuses() {
		if _, ok := entryStage(s); ok {
			out = append(out, s)
		}
	}
	return out
}

func (p *Processor) runFrom(ctx context.Context, job *Job, d *Doc, start stage) Result {
	stages := []func(context.Context, *Job, *Doc) bool{
		stageFilter:      p.filter,
		stagePredecessor: p.checkPredecessor,
		stageRelate:      p.checkRelations,
		stageTransform:   p.transform,
		stageTarget:      p.checkTarget,
	}
	for _, run := range stages[start:] {
		if !run(ctx, job, d) {
			break
		}
	}
	return d.result()
}

func (p *Processor) filter(ctx context.Context, job *Job, d *Doc) bool {
	if !p.active(job, d) {
		return false
	}
	res := rules.EvaluateFilters(rules.CompileLenient(d.rule.Filters), d.source)
	if res.Passed {
		return p.setStatus(ctx, job, d, types.StatusFilterOK)
	}

	if res.Err != nil && !errors.Is(res.Err, types.ErrInvalidOperator) {
		d.fail(fmt.Errorf("Failed to filter document : %w", res.Err))
		p.log.Error().Err(res.Err).Str("doc_id", d.ID).Msg("filter failed")
		p.setStatus(ctx, job, d, types.StatusFilterKO)
		return false
	}

	f := res.Failed
	d.addf("This document is filtered. This operation is false : %s %s %s.", f.Target, f.Operator, f.Value)
	if res.Err != nil {
		d.warnf("%v.", res.Err)
	}
	p.setStatus(ctx, job, d, types.StatusFilter)
	return false
}

func (p *Processor) checkPredecessor(ctx context.Context, job *Job, d *Doc) bool {
	if !p.active(job, d) {
		return false
	}
	if err := p.predecessor(ctx, job, d); err != nil {
		d.fail(fmt.Errorf("Failed to check document predecessor : %w", err))
		p.log.Error().Err(err).Str("doc_id", d.ID).Msg("predecessor check failed")
		p.setStatus(ctx, job, d, types.StatusPredecessorKO)
		return false
	}
	if d.GlobalStatus == types.GlobalCancel {
		return false
	}

	if !p.setStatus(ctx, job, d, types.StatusPredecessorOK) {
		return false
	}

	isUpdate := d.Type == types.TypeUpdate || d.Type == types.TypeDelete
	if d.rule.Mode == types.ModeCreate && isUpdate && !p.rules.IsChild(d.RuleID) {
		d.addf("Rule mode only allows to create data. Filter because this document updates or deletes data.")
		p.setStatus(ctx, job, d, types.StatusFilter)
		return false
	}
	return true
}

// predecessor blocks on earlier open documents, then fixes the type and the
// target id. A nil error with a Cancel status means the document was
// cancelled on the way.
func (p *Processor) predecessor(ctx context.Context, job *Job, d *Doc) error {
	q := store.PredecessorQuery{RuleID: d.RuleID, SourceID: d.SourceID, Before: d.CreatedAt, ExcludeID: d.ID}
	blocking, err := p.store.FindPredecessor(ctx, q)
	if err != nil {
		return err
	}
	if blocking != nil {
		d.refDocID = blocking.ID
		return fmt.Errorf("The document %s is on the same record and is not closed. This document is queued.", blocking.ID)
	}

	if bidi := d.rule.Bidirectional(); bidi != "" {
		q.RuleID = bidi
		if blocking, err = p.store.FindPredecessor(ctx, q); err != nil {
			return err
		}
		if blocking != nil {
			d.refDocID = blocking.ID
			return fmt.Errorf("The document %s is on the same record on the bidirectional rule %s. This document is not closed. This document is queued.", blocking.ID, bidi)
		}
	}

	seen := make(map[string]bool)
	for _, rel := range p.rules.Children(d.RuleID) {
		if seen[rel.RelatedRuleID] {
			continue
		}
		seen[rel.RelatedRuleID] = true
		q.RuleID, q.Relaxed = rel.RelatedRuleID, true
		if blocking, err = p.store.FindPredecessor(ctx, q); err != nil {
			return err
		}
		if blocking != nil {
			d.refDocID = blocking.ID
			return fmt.Errorf("The document %s is on the same record on the rule %s. This document is not closed. This document is queued.", blocking.ID, rel.RelatedRuleID)
		}
	}

	c, err := p.classify(ctx, job, d)
	if err != nil {
		return err
	}
	if d.Type != types.TypeDelete {
		t := c.Type
		if d.rule.Mode == types.ModeSearch {
			t = types.TypeSearch
		}
		if !p.setType(ctx, job, d, t) {
			return errors.New("Failed to update the type.")
		}
	}

	isUpdate := d.Type == types.TypeUpdate || d.Type == types.TypeDelete
	if !isUpdate || p.rules.IsChild(d.RuleID) {
		return nil
	}
	if c.TargetID == "" {
		if d.Type == types.TypeDelete {
			d.addf("No predecessor. docsync has never sent this record so it cannot delete it. This data transfer is cancelled.")
			if !p.setStatus(ctx, job, d, types.StatusCancel) {
				return errors.New("Failed to cancel the document.")
			}
			return nil
		}
		return errors.New("No target id found for a document with the type Update.")
	}
	if !p.setTargetID(ctx, job, d, c.TargetID) {
		return errors.New("Failed to update the target id. Failed to unblock this update document.")
	}
	return nil
}

func (p *Processor) checkRelations(ctx context.Context, job *Job, d *Doc) bool {
	if !p.active(job, d) {
		return false
	}
	if d.Type == types.TypeDelete {
		return p.setStatus(ctx, job, d, types.StatusRelateOK)
	}

	if !p.rules.IsChild(d.RuleID) {
		filtered, err := p.relate(ctx, job, d)
		if filtered {
			return false
		}
		if err != nil {
			d.fail(fmt.Errorf("Failed to check document related : %w", err))
			p.log.Error().Err(err).Str("doc_id", d.ID).Msg("relationship check failed")
			p.setStatus(ctx, job, d, types.StatusRelateKO)
			return false
		}
	}

	// The parent may have been created since the last attempt.
	if d.Status == types.StatusRelateKO && d.Type == types.TypeCreate {
		c, err := p.classify(ctx, job, d)
		if err == nil && c.Type == types.TypeUpdate && c.TargetID != "" {
			if p.setTargetID(ctx, job, d, c.TargetID) {
				p.setType(ctx, job, d, types.TypeUpdate)
			}
		}
	}
	return p.setStatus(ctx, job, d, types.StatusRelateOK)
}

// relate resolves every relationship. It reports filtered when the document
// was filtered because a parent record was filtered.
func (p *Processor) relate(ctx context.Context, job *Job, d *Doc) (bool, error) {
	var result *multierror.Error
	for _, rel := range d.rule.Relationships {
		v, _ := d.sourceValue(rel.FieldNameSource)
		if rules.IsEmpty(v) {
			if !rel.ErrorIfEmpty {
				d.addf("The source field %s is empty.", rel.FieldNameSource)
				continue
			}
			result = multierror.Append(result, fmt.Errorf("The source field %s is empty.", rel.FieldNameSource))
			continue
		}
		if !rel.ErrorIfMissing {
			d.addf("No check on target field %s because \"Error if missing\" is set to false.", rel.FieldNameTarget)
			continue
		}
		if rel.Parent {
			continue
		}

		id := types.NormalizeRecordID(rules.CoerceText(v))
		res, err := p.resolveTargetID(ctx, job, d.rule, rel, id)
		if err != nil {
			return false, err
		}
		if res == nil {
			parent, err := p.searchRelatedByStatus(ctx, d.rule, rel, id, types.StatusFilter)
			if err != nil {
				return false, err
			}
			if parent != nil {
				d.refDocID = parent.ID
				d.warnf("Document filter because the parent document is filter too. Check reference column to open the parent document.")
				p.setStatus(ctx, job, d, types.StatusFilter)
				return true, nil
			}
			result = multierror.Append(result, p.missingRelated(d, rel, id))
			continue
		}

		now := p.now().UTC()
		err = p.store.InTx(ctx, func(tx store.Tx) error {
			return tx.InsertRelationship(ctx, &types.DocumentRelationship{
				ID:                types.NewRowID(),
				DocumentID:        d.ID,
				RelatedDocumentID: res.DocumentID,
				SourceField:       rel.FieldNameSource,
				CreatedAt:         now,
			})
		})
		if err != nil {
			return false, fmt.Errorf("save relationship %s: %w", rel.FieldNameSource, err)
		}
	}
	return false, result.ErrorOrNil()
}

func (p *Processor) missingRelated(d *Doc, rel types.Relationship, id string) error {
	name := rel.RelatedRuleID
	if related, err := p.rules.Get(rel.RelatedRuleID); err == nil {
		name = related.DisplayName()
	}
	side := "source"
	if s, err := p.side(d.rule, rel); err == nil && s == types.SideTarget {
		side = "target"
	}
	return fmt.Errorf("Failed to retrieve a related document. No data for the field %s. There is not record with the ID %s %s in the rule %s. This document is queued.",
		rel.FieldNameSource, side, id, name)
}

func (p *Processor) transform(ctx context.Context, job *Job, d *Doc) bool {
	if !p.active(job, d) {
		return false
	}
	if err := p.buildTarget(ctx, job, d); err != nil {
		d.fail(fmt.Errorf("Failed to transform document : %w", err))
		p.log.Error().Err(err).Str("doc_id", d.ID).Msg("transform failed")
		p.setStatus(ctx, job, d, types.StatusErrorTransformed)
		return false
	}
	return p.setStatus(ctx, job, d, types.StatusTransformed)
}

func (p *Processor) buildTarget(ctx context.Context, job *Job, d *Doc) error {
	target := make(types.Record)
	for _, f := range d.rule.Fields {
		v, err := p.transformField(d, f)
		if err != nil {
			return fmt.Errorf("Failed to transform the field %s. %w", f.Target, err)
		}
		target[f.Target] = v
	}
	for _, rel := range d.rule.Relationships {
		v, err := p.transformRelationship(ctx, job, d, rel)
		if err != nil {
			if !rel.ErrorIfMissing {
				d.warnf("No value found for the target field %s because \"Error if missing\" is set to false.", rel.FieldNameTarget)
				v = nil
			} else {
				return fmt.Errorf("Failed to transform relationship data. %w", err)
			}
		}
		target[rel.FieldNameTarget] = v
	}
	if len(target) == 0 {
		return errors.New("No target data found. Failed to create target data.")
	}

	now := p.now().UTC()
	err := p.store.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertDocumentData(ctx, &types.DocumentData{
			ID:         types.NewRowID(),
			DocumentID: d.ID,
			Type:       types.DataTarget,
			Data:       target,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return fmt.Errorf("Failed insert target data. %w", err)
	}
	d.target = target

	// A mapped Myddleware_element_id points at an existing target record.
	if d.Type == types.TypeCreate {
		if v, ok := target[types.FieldElementID]; ok && !rules.IsEmpty(v) {
			id := rules.CoerceText(v)
			if !p.setTargetID(ctx, job, d, id) {
				return fmt.Errorf("The type of this document is Update. Failed to update the target id %s on this document. This document is queued.", id)
			}
			if !p.setType(ctx, job, d, types.TypeUpdate) {
				return errors.New("Failed to update the type.")
			}
		}
	}

	if d.Type == types.TypeUpdate && d.TargetID == "" && !p.rules.IsChild(d.RuleID) {
		c, err := p.classify(ctx, job, d)
		if err != nil {
			return err
		}
		if c.TargetID == "" {
			return errors.New("The type of this document is Update. The id of the target is missing. This document is queued.")
		}
		if !p.setTargetID(ctx, job, d, c.TargetID) {
			return fmt.Errorf("The type of this document is Update. Failed to update the target id %s on this document. This document is queued.", c.TargetID)
		}
	}
	return nil
}
