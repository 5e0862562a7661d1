package engine

import (
	"context"
	"fmt"

	"github.com/solatis/docsync/internal/rules"
	"github.com/solatis/docsync/internal/types"
)

// transformField computes the target value of a mapped field from the source
// snapshot: formula, plain copy, or the record id for Myddleware_element_id.
func (p *Processor) transformField(d *Doc, f types.Field) (any, error) {
	if f.Formula != "" {
		for _, name := range f.SourceNames() {
			if name == types.FieldMyValue {
				continue
			}
			if _, ok := d.sourceValue(name); !ok {
				return nil, fmt.Errorf("The field %s is unknown in the formula %s. %w", name, f.Formula, types.ErrFieldNotFound)
			}
		}
		v, err := p.formulas.Eval(f.Formula, d.source)
		if err != nil {
			return nil, err
		}
		return v, nil
	}

	if v, ok := d.source[f.Source]; ok {
		return v, nil
	}
	if f.Source == types.FieldElementID {
		if v, ok := d.source[types.FieldID]; ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("Field %s not found in source data. %w", f.Source, types.ErrFieldNotFound)
}

// transformRelationship computes the target value of a relationship field:
// the id of the related record in the target application.
func (p *Processor) transformRelationship(ctx context.Context, job *Job, d *Doc, rel types.Relationship) (any, error) {
	v, _ := d.sourceValue(rel.FieldNameSource)
	if rules.IsEmpty(v) {
		return nil, nil
	}
	if rel.Parent {
		return nil, nil
	}
	id := types.NormalizeRecordID(rules.CoerceText(v))
	res, err := p.resolveTargetID(ctx, job, d.rule, rel, id)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("Target id not found for id source %s of the rule %s.", id, rel.RelatedRuleID)
	}
	return res.RecordID, nil
}
