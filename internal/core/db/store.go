package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/docsync/internal/store"
	"github.com/solatis/docsync/internal/types"
)

// timeLayout is fixed-width so lexical order in TEXT columns equals
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements store.Store on sqlx.
type Store struct {
	db *sqlx.DB
	q  *Queries
}

var _ store.Store = (*Store)(nil)

// NewStore loads the named queries and wraps db.
func NewStore(db *sqlx.DB) (*Store, error) {
	q, err := LoadQueries(db)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, q: q}, nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

type documentRow struct {
	ID                 string `db:"id"`
	RuleID             string `db:"rule_id"`
	SourceID           string `db:"source_id"`
	TargetID           string `db:"target_id"`
	ParentID           string `db:"parent_id"`
	Type               string `db:"type"`
	Status             string `db:"status"`
	GlobalStatus       string `db:"global_status"`
	Attempt            int    `db:"attempt"`
	Deleted            int    `db:"deleted"`
	SourceDateModified string `db:"source_date_modified"`
	CreatedAt          string `db:"created_at"`
	ModifiedAt         string `db:"modified_at"`
}

func (r *documentRow) toDocument() types.Document {
	return types.Document{
		ID:                 r.ID,
		RuleID:             r.RuleID,
		SourceID:           r.SourceID,
		TargetID:           r.TargetID,
		ParentID:           r.ParentID,
		Type:               types.DocType(r.Type),
		Status:             types.Status(r.Status),
		GlobalStatus:       types.GlobalStatus(r.GlobalStatus),
		Attempt:            r.Attempt,
		Deleted:            r.Deleted != 0,
		SourceDateModified: parseTime(r.SourceDateModified),
		CreatedAt:          parseTime(r.CreatedAt),
		ModifiedAt:         parseTime(r.ModifiedAt),
	}
}

type dataRow struct {
	ID         string `db:"id"`
	DocumentID string `db:"document_id"`
	Type       string `db:"type"`
	Data       string `db:"data"`
	CreatedAt  string `db:"created_at"`
}

type relationshipRow struct {
	ID                string `db:"id"`
	DocumentID        string `db:"document_id"`
	RelatedDocumentID string `db:"related_document_id"`
	SourceField       string `db:"source_field"`
	CreatedAt         string `db:"created_at"`
}

type logRow struct {
	ID            string `db:"id"`
	CreatedAt     string `db:"created_at"`
	Severity      string `db:"severity"`
	Message       string `db:"message"`
	RuleID        string `db:"rule_id"`
	DocumentID    string `db:"document_id"`
	RefDocumentID string `db:"ref_document_id"`
	JobID         string `db:"job_id"`
}

// InTx implements store.Store.
func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&sqlTx{tx: tx, q: s.q}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetDocument implements store.Store.
func (s *Store) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	return s.getDocument(ctx, "get-document", id)
}

// GetDocumentData implements store.Store.
func (s *Store) GetDocumentData(ctx context.Context, docID string, dataType types.DataType) (*types.DocumentData, error) {
	var row dataRow
	err := s.q.Get(ctx, s.db, "get-latest-document-data", &row, docID, string(dataType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document data %s: %w", docID, err)
	}

	var data types.Record
	if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
		return nil, fmt.Errorf("decode document data %s: %w", row.ID, err)
	}
	return &types.DocumentData{
		ID:         row.ID,
		DocumentID: row.DocumentID,
		Type:       types.DataType(row.Type),
		Data:       data,
		CreatedAt:  parseTime(row.CreatedAt),
	}, nil
}

// FindPredecessor implements store.Store.
func (s *Store) FindPredecessor(ctx context.Context, q store.PredecessorQuery) (*types.Document, error) {
	name := "find-predecessor"
	if q.Relaxed {
		name = "find-predecessor-relaxed"
	}
	return s.findDocument(ctx, name, q.RuleID, q.SourceID, formatTime(q.Before), q.ExcludeID)
}

// FindSynced implements store.Store.
func (s *Store) FindSynced(ctx context.Context, ruleID string, side types.Side, id, excludeDocID string) (*types.Document, error) {
	return s.findDocument(ctx, sideQuery("find-synced", side), ruleID, id, excludeDocID)
}

// FindResolvable implements store.Store.
func (s *Store) FindResolvable(ctx context.Context, ruleID string, side types.Side, id string) (*types.Document, error) {
	return s.findDocument(ctx, sideQuery("find-resolvable", side), ruleID, id)
}

// FindByStatus implements store.Store.
func (s *Store) FindByStatus(ctx context.Context, ruleID string, side types.Side, id string, status types.Status) (*types.Document, error) {
	name := "find-by-status-source"
	if side == types.SideTarget {
		name = "find-by-status-target"
	}
	return s.findDocument(ctx, name, ruleID, id, string(status))
}

// ListChildren implements store.Store.
func (s *Store) ListChildren(ctx context.Context, parentID string) ([]types.Document, error) {
	return s.listDocuments(ctx, "list-children", parentID)
}

// ListRuleDocuments implements store.Store.
func (s *Store) ListRuleDocuments(ctx context.Context, ruleIDs ...string) ([]types.Document, error) {
	if len(ruleIDs) == 0 {
		return nil, nil
	}
	return s.listDocuments(ctx, "list-rule-documents", ruleIDs)
}

// ListByStatus implements store.Store.
func (s *Store) ListByStatus(ctx context.Context, ruleID string, statuses ...types.Status) ([]types.Document, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	return s.listDocuments(ctx, "list-by-status", ruleID, names)
}

// ListRelationships implements store.Store.
func (s *Store) ListRelationships(ctx context.Context, docID string) ([]types.DocumentRelationship, error) {
	var rows []relationshipRow
	if err := s.q.Select(ctx, s.db, "list-relationships", &rows, docID); err != nil {
		return nil, fmt.Errorf("list relationships %s: %w", docID, err)
	}
	out := make([]types.DocumentRelationship, len(rows))
	for i, r := range rows {
		out[i] = types.DocumentRelationship{
			ID:                r.ID,
			DocumentID:        r.DocumentID,
			RelatedDocumentID: r.RelatedDocumentID,
			SourceField:       r.SourceField,
			CreatedAt:         parseTime(r.CreatedAt),
		}
	}
	return out, nil
}

// ListLogs implements store.Store.
func (s *Store) ListLogs(ctx context.Context, docID string) ([]types.Log, error) {
	var rows []logRow
	if err := s.q.Select(ctx, s.db, "list-logs", &rows, docID); err != nil {
		return nil, fmt.Errorf("list logs %s: %w", docID, err)
	}
	out := make([]types.Log, len(rows))
	for i, r := range rows {
		out[i] = types.Log{
			ID:            r.ID,
			CreatedAt:     parseTime(r.CreatedAt),
			Severity:      types.Severity(r.Severity),
			Message:       r.Message,
			RuleID:        r.RuleID,
			DocumentID:    r.DocumentID,
			RefDocumentID: r.RefDocumentID,
			JobID:         r.JobID,
		}
	}
	return out, nil
}

func (s *Store) getDocument(ctx context.Context, name string, args ...any) (*types.Document, error) {
	doc, err := s.findDocument(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDocumentNotFound, args[0])
	}
	return doc, nil
}

// findDocument returns nil, nil when the query matches no row.
func (s *Store) findDocument(ctx context.Context, name string, args ...any) (*types.Document, error) {
	var row documentRow
	err := s.q.Get(ctx, s.db, name, &row, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	doc := row.toDocument()
	return &doc, nil
}

func (s *Store) listDocuments(ctx context.Context, name string, args ...any) ([]types.Document, error) {
	var rows []documentRow
	if err := s.q.Select(ctx, s.db, name, &rows, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	out := make([]types.Document, len(rows))
	for i := range rows {
		out[i] = rows[i].toDocument()
	}
	return out, nil
}

type sqlTx struct {
	tx *sqlx.Tx
	q  *Queries
}

func (t *sqlTx) InsertDocument(ctx context.Context, d *types.Document) error {
	_, err := t.q.Exec(ctx, t.tx, "insert-document",
		d.ID, d.RuleID, d.SourceID, d.TargetID, d.ParentID, string(d.Type),
		string(d.Status), string(d.GlobalStatus), d.Attempt, boolInt(d.Deleted),
		formatTime(d.SourceDateModified), formatTime(d.CreatedAt), formatTime(d.ModifiedAt))
	if err != nil {
		return fmt.Errorf("insert document %s: %w", d.ID, err)
	}
	return nil
}

func (t *sqlTx) InsertDocumentData(ctx context.Context, d *types.DocumentData) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("encode document data: %w", err)
	}
	_, err = t.q.Exec(ctx, t.tx, "insert-document-data",
		d.ID, d.DocumentID, string(d.Type), string(raw), formatTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert document data %s: %w", d.DocumentID, err)
	}
	return nil
}

func (t *sqlTx) InsertRelationship(ctx context.Context, r *types.DocumentRelationship) error {
	_, err := t.q.Exec(ctx, t.tx, "insert-relationship",
		r.ID, r.DocumentID, r.RelatedDocumentID, r.SourceField, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert relationship %s: %w", r.DocumentID, err)
	}
	return nil
}

func (t *sqlTx) UpdateStatus(ctx context.Context, id string, status types.Status, global types.GlobalStatus, attempt int, at time.Time) error {
	return t.update(ctx, "update-document-status", id, string(status), string(global), attempt, formatTime(at), id)
}

func (t *sqlTx) UpdateType(ctx context.Context, id string, dt types.DocType, at time.Time) error {
	return t.update(ctx, "update-document-type", id, string(dt), formatTime(at), id)
}

func (t *sqlTx) UpdateTargetID(ctx context.Context, id, targetID string, at time.Time) error {
	return t.update(ctx, "update-document-target", id, targetID, formatTime(at), id)
}

func (t *sqlTx) UpdateDeleted(ctx context.Context, id string, deleted bool, at time.Time) error {
	return t.update(ctx, "update-document-deleted", id, boolInt(deleted), formatTime(at), id)
}

func (t *sqlTx) AppendLog(ctx context.Context, l *types.Log) error {
	_, err := t.q.Exec(ctx, t.tx, "insert-log",
		l.ID, formatTime(l.CreatedAt), string(l.Severity), l.Message,
		l.RuleID, l.DocumentID, l.RefDocumentID, l.JobID)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// update runs a single-row update and reports ErrDocumentNotFound when no
// row matched.
func (t *sqlTx) update(ctx context.Context, name, id string, args ...any) error {
	res, err := t.q.Exec(ctx, t.tx, name, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", name, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", name, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", types.ErrDocumentNotFound, id)
	}
	return nil
}

func sideQuery(prefix string, side types.Side) string {
	if side == types.SideTarget {
		return prefix + "-by-target"
	}
	return prefix + "-by-source"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
