// Package store defines the record store the document engine persists to.
//
// The engine never talks to a database directly. It reads through Store and
// mutates inside Store.InTx, which gives each transition its own unit of
// work: either every write in fn commits or none does.
//
// Two implementations exist: internal/core/db (sqlite/postgres via sqlx)
// and internal/store/memstore (tests, dry runs).
package store

import (
	"context"
	"time"

	"github.com/solatis/docsync/internal/types"
)

// PredecessorQuery selects an earlier open or errored document on the same
// record.
type PredecessorQuery struct {
	RuleID    string
	SourceID  string
	Before    time.Time // only documents created strictly before
	ExcludeID string
	// Relaxed ignores Open documents sitting in Ready_to_send. Used for child
	// rules, whose documents legitimately wait to be sent with their parent.
	Relaxed bool
}

// Store is the read side plus the transaction entry point.
type Store interface {
	// InTx runs fn in a transaction. fn's error rolls back and is returned.
	InTx(ctx context.Context, fn func(Tx) error) error

	GetDocument(ctx context.Context, id string) (*types.Document, error)

	// GetDocumentData returns the latest snapshot of the given type, or nil.
	GetDocumentData(ctx context.Context, docID string, dataType types.DataType) (*types.DocumentData, error)

	// FindPredecessor returns the first blocking document, or nil.
	FindPredecessor(ctx context.Context, q PredecessorQuery) (*types.Document, error)

	// FindSynced returns the best previously synced document for a record:
	// global status Close, or Cancel with status No_send. Ordered by non-empty
	// target id first, then Close before Cancel, then most recently modified.
	// Returns nil when none matches.
	FindSynced(ctx context.Context, ruleID string, side types.Side, id, excludeDocID string) (*types.Document, error)

	// FindResolvable returns the most recently created non-deleted document
	// with global status Close or status No_send whose id on the opposite side
	// is set. Returns nil when none.
	FindResolvable(ctx context.Context, ruleID string, side types.Side, id string) (*types.Document, error)

	// FindByStatus returns the most recently created non-deleted document in
	// the exact status, or nil.
	FindByStatus(ctx context.Context, ruleID string, side types.Side, id string, status types.Status) (*types.Document, error)

	// ListChildren returns the non-deleted documents generated by parentID,
	// oldest first.
	ListChildren(ctx context.Context, parentID string) ([]types.Document, error)

	// ListRuleDocuments returns every non-deleted document of the rules,
	// oldest first.
	ListRuleDocuments(ctx context.Context, ruleIDs ...string) ([]types.Document, error)

	// ListByStatus returns non-deleted documents of a rule in any of the given
	// statuses, oldest first. Used to pick rerun candidates.
	ListByStatus(ctx context.Context, ruleID string, statuses ...types.Status) ([]types.Document, error)

	ListRelationships(ctx context.Context, docID string) ([]types.DocumentRelationship, error)

	// ListLogs returns the audit trail of a document, oldest first.
	ListLogs(ctx context.Context, docID string) ([]types.Log, error)
}

// Tx is the write side, only reachable inside InTx.
type Tx interface {
	InsertDocument(ctx context.Context, doc *types.Document) error
	InsertDocumentData(ctx context.Context, data *types.DocumentData) error
	InsertRelationship(ctx context.Context, rel *types.DocumentRelationship) error

	UpdateStatus(ctx context.Context, id string, status types.Status, global types.GlobalStatus, attempt int, at time.Time) error
	UpdateType(ctx context.Context, id string, t types.DocType, at time.Time) error
	UpdateTargetID(ctx context.Context, id, targetID string, at time.Time) error
	UpdateDeleted(ctx context.Context, id string, deleted bool, at time.Time) error

	AppendLog(ctx context.Context, l *types.Log) error
}

// SyncedEligible reports whether a document counts as previously synced.
func SyncedEligible(d *types.Document) bool {
	return d.GlobalStatus == types.GlobalClose ||
		(d.GlobalStatus == types.GlobalCancel && d.Status == types.StatusNoSend)
}

// ResolvableEligible reports whether a related document can resolve a link.
func ResolvableEligible(d *types.Document) bool {
	return d.GlobalStatus == types.GlobalClose || d.Status == types.StatusNoSend
}

// SyncedLess orders candidates for FindSynced: a sorts before b when a is the
// better match.
func SyncedLess(a, b *types.Document) bool {
	at, bt := a.TargetID != "", b.TargetID != ""
	if at != bt {
		return at
	}
	if a.GlobalStatus != b.GlobalStatus {
		return a.GlobalStatus > b.GlobalStatus // Close > Cancel
	}
	if !a.ModifiedAt.Equal(b.ModifiedAt) {
		return a.ModifiedAt.After(b.ModifiedAt)
	}
	return a.ID > b.ID
}

// BlocksPredecessor reports whether d blocks a later document under q.
func BlocksPredecessor(d *types.Document, q PredecessorQuery) bool {
	if d.Deleted || d.ID == q.ExcludeID || !d.CreatedAt.Before(q.Before) {
		return false
	}
	switch d.GlobalStatus {
	case types.GlobalError:
		return true
	case types.GlobalOpen:
		return !q.Relaxed || d.Status != types.StatusReadyToSend
	default:
		return false
	}
}
