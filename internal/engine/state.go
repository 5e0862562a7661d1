// internal/engine/state.go
package engine

import (
	"context"
	"fmt"

	"github.com/solatis/docsync/internal/store"
	"github.com/solatis/docsync/internal/types"
)

/*
 * Document state machine.
 *
 * Every mutator follows the same discipline:
 *   1. one InTx with a single header update
 *   2. on commit, update the in-memory Doc and buffer "<Field> : <value>"
 *   3. flush the message buffer as one log row, then clear it
 *
 * A failed transaction leaves the stored document and the Doc untouched,
 * buffers the failure with Error severity and still flushes a log row.
 * Mutators never return errors; callers get false and the detail lands in
 * the log. Nothing reads the store inside InTx: the sqlite store runs on a
 * single connection.
 */

// setStatus moves d to status. The global status is recomputed and the
// attempt counter grows when entering an Error or Close status.
func (p *Processor) setStatus(ctx context.Context, job *Job, d *Doc, status types.Status) bool {
	global := types.GlobalStatusOf(status)
	attempt := d.Attempt
	if global.CountsAttempt() {
		attempt++
	}
	now := p.now().UTC()

	err := p.store.InTx(ctx, func(tx store.Tx) error {
		return tx.UpdateStatus(ctx, d.ID, status, global, attempt, now)
	})
	if err != nil {
		d.fail(fmt.Errorf("Error status update : %w", err))
		p.log.Error().Err(err).Str("doc_id", d.ID).Str("status", string(status)).Msg("status update failed")
		p.flush(ctx, job, d)
		return false
	}

	d.Status, d.GlobalStatus, d.Attempt, d.ModifiedAt = status, global, attempt, now
	d.addf("Status : %s", status)
	p.log.Debug().
		Str("doc_id", d.ID).
		Str("rule_id", d.RuleID).
		Str("status", string(status)).
		Str("global_status", string(global)).
		Int("attempt", attempt).
		Msg("status changed")
	p.flush(ctx, job, d)
	return true
}

func (p *Processor) setType(ctx context.Context, job *Job, d *Doc, t types.DocType) bool {
	now := p.now().UTC()
	err := p.store.InTx(ctx, func(tx store.Tx) error {
		return tx.UpdateType(ctx, d.ID, t, now)
	})
	if err != nil {
		d.fail(fmt.Errorf("Error type : %w", err))
		p.log.Error().Err(err).Str("doc_id", d.ID).Msg("type update failed")
		p.flush(ctx, job, d)
		return false
	}
	d.Type, d.ModifiedAt = t, now
	d.addf("Type  : %s", t)
	p.flush(ctx, job, d)
	return true
}

// setTargetID stores the target id normalized, since target ids may hold
// accented characters.
func (p *Processor) setTargetID(ctx context.Context, job *Job, d *Doc, targetID string) bool {
	targetID = types.NormalizeRecordID(targetID)
	now := p.now().UTC()
	err := p.store.InTx(ctx, func(tx store.Tx) error {
		return tx.UpdateTargetID(ctx, d.ID, targetID, now)
	})
	if err != nil {
		d.fail(fmt.Errorf("Error target id : %w", err))
		p.log.Error().Err(err).Str("doc_id", d.ID).Msg("target id update failed")
		p.flush(ctx, job, d)
		return false
	}
	d.TargetID, d.ModifiedAt = targetID, now
	d.addf("Target id : %s", targetID)
	p.flush(ctx, job, d)
	return true
}

func (p *Processor) setDeleted(ctx context.Context, job *Job, d *Doc, deleted bool) bool {
	verb := "Restore"
	if deleted {
		verb = "Remove"
	}
	now := p.now().UTC()
	err := p.store.InTx(ctx, func(tx store.Tx) error {
		return tx.UpdateDeleted(ctx, d.ID, deleted, now)
	})
	if err != nil {
		d.fail(fmt.Errorf("Failed to %s : %w", verb, err))
		p.log.Error().Err(err).Str("doc_id", d.ID).Msg("deleted flag update failed")
		p.flush(ctx, job, d)
		return false
	}
	d.Deleted, d.ModifiedAt = deleted, now
	d.addf("%s document", verb)
	p.flush(ctx, job, d)
	return true
}

// flush writes the buffered messages as one log row. Best effort: a failed
// write is reported to the process log only.
func (p *Processor) flush(ctx context.Context, job *Job, d *Doc) {
	msg, sev, ref := d.takeMessage()
	l := &types.Log{
		ID:            types.NewRowID(),
		CreatedAt:     p.now().UTC(),
		Severity:      sev,
		Message:       msg,
		RuleID:        d.RuleID,
		DocumentID:    d.ID,
		RefDocumentID: ref,
	}
	if job != nil {
		l.JobID = job.ID
	}
	err := p.store.InTx(ctx, func(tx store.Tx) error {
		return tx.AppendLog(ctx, l)
	})
	if err != nil {
		p.log.Error().Err(err).Str("doc_id", d.ID).Str("message", msg).Msg("failed to create log")
	}
}
