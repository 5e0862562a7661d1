package engine

import (
	"context"

	"github.com/solatis/docsync/internal/types"
)

// Resolution is a resolved link: the id of the related record on the other
// side and the document that proved it.
type Resolution struct {
	RecordID   string
	DocumentID string
}

// side converts a relationship direction into the side to search.
func (p *Processor) side(rule *types.Rule, rel types.Relationship) (types.Side, error) {
	dir, err := p.rules.Direction(rule, rel)
	if err != nil {
		return types.SideSource, err
	}
	if dir < 0 {
		return types.SideTarget, nil
	}
	return types.SideSource, nil
}

// resolveTargetID finds the id on the opposite side of recordID in the
// related rule. Returns nil when no document resolves it or when the newest
// one was a deletion.
func (p *Processor) resolveTargetID(ctx context.Context, job *Job, rule *types.Rule, rel types.Relationship, recordID string) (*Resolution, error) {
	side, err := p.side(rule, rel)
	if err != nil {
		return nil, err
	}
	found, err := p.index(job).Resolvable(ctx, rel.RelatedRuleID, side, recordID)
	if err != nil {
		return nil, err
	}
	if found == nil || found.Type == types.TypeDelete {
		return nil, nil
	}
	return &Resolution{RecordID: found.SideID(side.Opposite()), DocumentID: found.ID}, nil
}

// searchRelatedByStatus finds a related document in an exact status. Used
// to detect that the parent of a link was filtered.
func (p *Processor) searchRelatedByStatus(ctx context.Context, rule *types.Rule, rel types.Relationship, recordID string, status types.Status) (*types.Document, error) {
	side, err := p.side(rule, rel)
	if err != nil {
		return nil, err
	}
	return p.store.FindByStatus(ctx, rel.RelatedRuleID, side, recordID, status)
}
