package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/solatis/docsync/internal/connector"
	"github.com/solatis/docsync/internal/rules"
	"github.com/solatis/docsync/internal/store"
	"github.com/solatis/docsync/internal/types"
)

// checkTarget runs the child cascade, reads the current target record and
// decides between Ready_to_send, No_send, Found, Not_found and Cancel.
func (p *Processor) checkTarget(ctx context.Context, job *Job, d *Doc) bool {
	if !p.active(job, d) {
		return false
	}
	history, err := p.readTarget(ctx, job, d)
	if err != nil {
		d.fail(err)
		p.log.Error().Err(err).Str("doc_id", d.ID).Msg("target check failed")
		if d.Type == types.TypeSearch {
			p.setStatus(ctx, job, d, types.StatusNotFound)
		} else {
			p.setStatus(ctx, job, d, types.StatusErrorChecking)
		}
		return false
	}
	if d.Status != types.StatusReadyToSend {
		return false
	}
	if d.Type != types.TypeSearch && d.Type != types.TypeDelete && !p.rules.IsParent(d.RuleID) {
		if p.unchanged(ctx, d, history) {
			d.warnf("Identical data to the target system. This document is canceled.")
			p.setStatus(ctx, job, d, types.StatusNoSend)
			return false
		}
	}
	return true
}

// readTarget performs the target side of checkTarget. It returns the target
// record read, if any, and leaves d in its next status unless it fails.
func (p *Processor) readTarget(ctx context.Context, job *Job, d *Doc) (types.Record, error) {
	if err := p.runChildren(ctx, job, d); err != nil {
		return nil, err
	}

	isUpdate := d.Type == types.TypeUpdate || d.Type == types.TypeDelete
	child := p.rules.IsChild(d.RuleID)

	switch {
	case isUpdate && !child:
		if d.TargetID == "" {
			return nil, errors.New("The id of the target is missing. This document is queued.")
		}
		record, found, err := p.history(ctx, d, map[string]any{types.FieldID: d.TargetID})
		if err != nil {
			return nil, fmt.Errorf("Failed to retrieve record in target system before update or deletion. Id target : %s. %w", d.TargetID, err)
		}
		if !found && d.Type == types.TypeDelete {
			d.addf("This document type is D (delete) and no record have been found in the target application. It means that the record has already been deleted in the target application. This document is cancelled.")
			p.setStatus(ctx, job, d, types.StatusCancel)
			return nil, nil
		}
		p.setStatus(ctx, job, d, types.StatusReadyToSend)
		return record, nil

	case len(d.rule.DuplicateFields()) > 0:
		return p.searchDuplicate(ctx, job, d)

	default:
		p.setStatus(ctx, job, d, types.StatusReadyToSend)
		return nil, nil
	}
}

func (p *Processor) searchDuplicate(ctx context.Context, job *Job, d *Doc) (types.Record, error) {
	target, err := p.targetData(ctx, d)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, errors.New("Failed to search duplicate data in the target system because there is no target data in this data transfer. This document is queued.")
	}

	fields := d.rule.DuplicateFields()
	query := make(map[string]any, len(fields))
	for _, f := range fields {
		query[f] = target[f]
	}
	record, found, err := p.history(ctx, d, query)
	if err != nil {
		return nil, fmt.Errorf("Failed to search duplicate data in the target system. This document is queued. %w", err)
	}

	if !found {
		if d.Type == types.TypeSearch {
			d.severity = types.SeverityError
			d.lastErr = errors.New("no record found in the target system")
			p.setStatus(ctx, job, d, types.StatusNotFound)
			return nil, nil
		}
		p.setStatus(ctx, job, d, types.StatusReadyToSend)
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("Found")
	for _, f := range fields {
		fmt.Fprintf(&b, " %s = %s ;", f, rules.CoerceText(query[f]))
	}
	d.addf("%s", b.String())

	if d.Type == types.TypeSearch {
		p.setStatus(ctx, job, d, types.StatusFound)
	} else {
		p.setStatus(ctx, job, d, types.StatusReadyToSend)
		p.setType(ctx, job, d, types.TypeUpdate)
	}
	p.setTargetID(ctx, job, d, rules.CoerceText(record[types.FieldID]))
	return record, nil
}

// history reads the first target record matching query and stores it as
// the History snapshot. found is false when the read returned nothing.
func (p *Processor) history(ctx context.Context, d *Doc, query map[string]any) (types.Record, bool, error) {
	sol, err := p.connectors.Get(d.rule.TargetConnectionID)
	if err != nil {
		return nil, false, err
	}

	fields := d.rule.TargetFields()
	if d.Type == types.TypeDelete {
		// Back up the whole record before it is deleted.
		if fields, err = sol.GetModuleFields(ctx, d.rule.TargetModule); err != nil {
			return nil, false, err
		}
	}

	res, err := sol.ReadData(ctx, connector.ReadRequest{
		Module:       d.rule.TargetModule,
		Fields:       fields,
		Query:        query,
		RuleParams:   d.rule.Params,
		CallType:     connector.CallHistory,
		DocumentType: d.Type,
		Limit:        1,
	})
	if err != nil {
		return nil, false, err
	}
	if len(res.Values) == 0 {
		return nil, false, nil
	}
	record := res.Values[0]

	snapshot := make(types.Record, len(fields))
	for _, f := range fields {
		if f == types.FieldElementID {
			continue
		}
		// Some fields cannot be read back from the target application.
		if v, ok := record[f]; ok {
			snapshot[f] = v
		}
	}
	now := p.now().UTC()
	err = p.store.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertDocumentData(ctx, &types.DocumentData{
			ID:         types.NewRowID(),
			DocumentID: d.ID,
			Type:       types.DataHistory,
			Data:       snapshot,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("Failed insert target data in the table DocumentData. %w", err)
	}
	return record, true, nil
}

// targetData returns the Target snapshot, computed in this run or stored.
func (p *Processor) targetData(ctx context.Context, d *Doc) (types.Record, error) {
	if d.target != nil {
		return d.target, nil
	}
	data, err := p.store.GetDocumentData(ctx, d.ID, types.DataTarget)
	if err != nil || data == nil {
		return nil, err
	}
	d.target = data.Data
	return d.target, nil
}

// unchanged reports whether every mapped and relationship field of the
// target snapshot already matches history. A missing history or target
// compares as changed.
func (p *Processor) unchanged(ctx context.Context, d *Doc, history types.Record) bool {
	target, err := p.targetData(ctx, d)
	if err != nil || target == nil {
		return false
	}
	if history == nil {
		data, err := p.store.GetDocumentData(ctx, d.ID, types.DataHistory)
		if err != nil || data == nil {
			return false
		}
		history = data.Data
	}
	if len(history) == 0 {
		return false
	}

	for _, f := range d.rule.Fields {
		if f.Target == types.FieldElementID {
			continue
		}
		if !sameValue(history[f.Target], target[f.Target]) {
			return false
		}
	}
	for _, rel := range d.rule.Relationships {
		if rel.FieldNameTarget == types.FieldElementID {
			continue
		}
		if !sameValue(history[rel.FieldNameTarget], target[rel.FieldNameTarget]) {
			return false
		}
	}
	return true
}

// sameValue compares trimmed text forms. Empty values (nil, blank, "0",
// zero, false) are equal to each other whatever their type.
func sameValue(a, b any) bool {
	if strings.TrimSpace(rules.CoerceText(a)) == strings.TrimSpace(rules.CoerceText(b)) {
		return true
	}
	return emptyValue(a) && emptyValue(b)
}

func emptyValue(v any) bool {
	if rules.IsEmpty(v) {
		return true
	}
	switch x := v.(type) {
	case bool:
		return !x
	case string:
		return strings.TrimSpace(x) == "0"
	}
	if n, err := rules.CoerceNumeric(v); err == nil {
		return n == 0
	}
	return false
}
