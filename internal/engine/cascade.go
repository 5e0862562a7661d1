package engine

import (
	"context"
	"fmt"

	"github.com/solatis/docsync/internal/connector"
	"github.com/solatis/docsync/internal/rules"
	"github.com/solatis/docsync/internal/types"
)

// runChildren generates and runs the child documents of a parent document.
// For every child relationship with a populated source field, the child
// rule's source module is read where the relationship's target field equals
// that value, and each record goes through the whole pipeline with the
// parent as ParentID. The first child ending in error aborts the cascade:
// every child generated so far is cancelled and the error is returned.
func (p *Processor) runChildren(ctx context.Context, job *Job, d *Doc) error {
	children := p.rules.Children(d.RuleID)
	if len(children) == 0 {
		return nil
	}
	if d.depth+1 > p.maxDepth {
		return fmt.Errorf("rule %s: %w (%d)", d.RuleID, types.ErrMaxDepth, p.maxDepth)
	}

	var generated []string
	abort := func(err error) error {
		for i := len(generated) - 1; i >= 0; i-- {
			if cd, lerr := p.load(ctx, generated[i]); lerr == nil && cd.GlobalStatus != types.GlobalCancel {
				p.cancel(ctx, job, cd, 0)
			}
		}
		return err
	}

	for _, rel := range children {
		v, _ := d.sourceValue(rel.FieldNameSource)
		if rules.IsEmpty(v) {
			continue
		}
		childRule, err := p.rules.Get(rel.RelatedRuleID)
		if err != nil {
			return abort(err)
		}
		sol, err := p.connectors.Get(childRule.SourceConnectionID)
		if err != nil {
			return abort(fmt.Errorf("child rule %s: %w", childRule.DisplayName(), err))
		}
		res, err := sol.ReadData(ctx, connector.ReadRequest{
			Module:     childRule.SourceModule,
			Fields:     readFields(childRule),
			Query:      map[string]any{rel.FieldNameTarget: v},
			RuleParams: childRule.Params,
			CallType:   connector.CallRead,
		})
		if err != nil {
			return abort(fmt.Errorf("Failed to read child data (rule %s) : %w", childRule.DisplayName(), err))
		}

		for _, record := range res.Values {
			r := p.process(ctx, job, childRule, record, d.ID, d.depth+1)
			if r.DocumentID != "" {
				generated = append(generated, r.DocumentID)
			}
			if !r.OK {
				cause := r.Err
				if cause == nil {
					cause = fmt.Errorf("status %s", r.Status)
				}
				return abort(fmt.Errorf("Child document in error (rule %s) : %w. The child document has not be saved.", childRule.DisplayName(), cause))
			}
		}
	}
	return nil
}

// cancel cancels every child of d that is not already cancelled, depth
// first, then d itself.
func (p *Processor) cancel(ctx context.Context, job *Job, d *Doc, depth int) bool {
	if depth > p.maxDepth {
		d.fail(fmt.Errorf("cancel %s: %w", d.ID, types.ErrMaxDepth))
		p.flush(ctx, job, d)
		return false
	}
	children, err := p.store.ListChildren(ctx, d.ID)
	if err != nil {
		d.fail(fmt.Errorf("Failed to list child documents : %w", err))
		p.flush(ctx, job, d)
		return false
	}
	for _, c := range children {
		if c.GlobalStatus == types.GlobalCancel {
			continue
		}
		cd, err := p.load(ctx, c.ID)
		if err != nil {
			p.log.Error().Err(err).Str("doc_id", c.ID).Msg("failed to load child document")
			continue
		}
		p.cancel(ctx, job, cd, depth+1)
	}
	return p.setStatus(ctx, job, d, types.StatusCancel)
}
