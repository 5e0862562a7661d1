// internal/engine/classify.go
package engine

import (
	"context"
	"fmt"

	"github.com/solatis/docsync/internal/rules"
	"github.com/solatis/docsync/internal/types"
)

/*
 * Document type classification: Create or Update.
 *
 * Search order:
 *   1. a non-parent relationship targeting Myddleware_element_id decides
 *      alone, searching the related rule in the relationship's direction
 *   2. synced documents of this rule with the same source id
 *   3. synced documents of the bidirectional rule whose target id is this
 *      source id
 *
 * A found document gives Update with its target id, except when it was a
 * deletion, when it is a No_send document of a rule without counterpart,
 * or when it has no target id: those give Create. Nothing found gives
 * Update for child rules (only the root rule creates) and Create otherwise.
 *
 * Delete and Search types are decided by the caller.
 */

type classification struct {
	Type     types.DocType
	TargetID string
}

func (p *Processor) classify(ctx context.Context, job *Job, d *Doc) (classification, error) {
	idx := p.index(job)
	rule := d.rule

	for _, rel := range rule.Relationships {
		if rel.FieldNameTarget != types.FieldElementID || rel.Parent {
			continue
		}
		v, _ := d.sourceValue(rel.FieldNameSource)
		if rules.IsEmpty(v) {
			return classification{}, fmt.Errorf("The field %s used in the relationship is empty. Failed to create the document.", rel.FieldNameSource)
		}
		side, err := p.side(rule, rel)
		if err != nil {
			return classification{}, err
		}
		found, err := idx.Synced(ctx, rel.RelatedRuleID, side, types.NormalizeRecordID(rules.CoerceText(v)), d.ID)
		if err != nil {
			return classification{}, err
		}
		if found != nil && found.Type != types.TypeDelete {
			if target := found.SideID(side.Opposite()); target != "" {
				return classification{Type: types.TypeUpdate, TargetID: target}, nil
			}
		}
		d.addf("Failed to get the id target of the current module in the rule linked.")
		return classification{Type: types.TypeCreate}, nil
	}

	found, err := idx.Synced(ctx, rule.ID, types.SideSource, d.SourceID, d.ID)
	if err != nil {
		return classification{}, err
	}
	target := ""
	if found != nil {
		target = found.TargetID
	}

	bidirectional := rule.Bidirectional()
	if found == nil && bidirectional != "" {
		found, err = idx.Synced(ctx, bidirectional, types.SideTarget, d.SourceID, d.ID)
		if err != nil {
			return classification{}, err
		}
		if found != nil {
			target = found.SourceID
		}
	}

	if found != nil {
		cancelled := found.GlobalStatus == types.GlobalCancel && bidirectional == ""
		if found.Type == types.TypeDelete || cancelled || target == "" {
			return classification{Type: types.TypeCreate}, nil
		}
		return classification{Type: types.TypeUpdate, TargetID: target}, nil
	}

	if p.rules.IsChild(rule.ID) {
		return classification{Type: types.TypeUpdate}, nil
	}
	return classification{Type: types.TypeCreate}, nil
}
