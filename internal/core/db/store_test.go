package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/solatis/docsync/internal/store"
	"github.com/solatis/docsync/internal/types"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docsync.db")
	conn, err := Open("sqlite://" + path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := MigrateUp(conn); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	s, err := NewStore(conn)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func insert(t *testing.T, s *Store, docs ...types.Document) {
	t.Helper()
	err := s.InTx(context.Background(), func(tx store.Tx) error {
		for i := range docs {
			if err := tx.InsertDocument(context.Background(), &docs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert error = %v", err)
	}
}

func newDoc(id, rule, source, target string, status types.Status, created time.Time) types.Document {
	return types.Document{
		ID: id, RuleID: rule, SourceID: source, TargetID: target, Type: types.TypeCreate,
		Status: status, GlobalStatus: types.GlobalStatusOf(status), CreatedAt: created, ModifiedAt: created,
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	conn, err := Open("sqlite://" + path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	ran, err := MigrateUp(conn)
	if err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if len(ran) != 1 || ran[0] != "001_initial_schema.sql" {
		t.Errorf("MigrateUp() ran = %v, want [001_initial_schema.sql]", ran)
	}

	ran, err = MigrateUp(conn)
	if err != nil {
		t.Fatalf("second MigrateUp() error = %v", err)
	}
	if len(ran) != 0 {
		t.Errorf("second MigrateUp() ran = %v, want none", ran)
	}

	statuses, err := MigrateStatus(conn)
	if err != nil {
		t.Fatalf("MigrateStatus() error = %v", err)
	}
	if len(statuses) != 1 || !statuses[0].Applied || statuses[0].AppliedAt == nil {
		t.Errorf("MigrateStatus() = %+v, want one applied migration", statuses)
	}
}

func TestOpen_SqlitePragmas(t *testing.T) {
	conn, err := Open("sqlite://" + filepath.Join(t.TempDir(), "p.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	checks := map[string]string{"journal_mode": "wal", "busy_timeout": "5000", "foreign_keys": "1"}
	for pragma, want := range checks {
		var got string
		if err := conn.Get(&got, "PRAGMA "+pragma); err != nil {
			t.Fatalf("PRAGMA %s error = %v", pragma, err)
		}
		if got != want {
			t.Errorf("PRAGMA %s = %v, want %v", pragma, got, want)
		}
	}
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	if _, err := Open("mysql://localhost/db"); err == nil {
		t.Errorf("Open(mysql) error = nil, want error")
	}
}

func TestStore_DocumentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	d := newDoc("d1", "r1", "S1", "", types.StatusNew, t0)
	d.SourceDateModified = t0.Add(-time.Hour)
	insert(t, s, d)

	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertDocumentData(ctx, &types.DocumentData{
			ID: "dd1", DocumentID: "d1", Type: types.DataSource,
			Data: types.Record{"id": "S1", "name": "Bob"}, CreatedAt: t0,
		}); err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, "d1", types.StatusSend, types.GlobalClose, 1, t0.Add(time.Minute)); err != nil {
			return err
		}
		if err := tx.UpdateType(ctx, "d1", types.TypeUpdate, t0.Add(time.Minute)); err != nil {
			return err
		}
		if err := tx.UpdateTargetID(ctx, "d1", "T1", t0.Add(time.Minute)); err != nil {
			return err
		}
		return tx.AppendLog(ctx, &types.Log{ID: "l1", CreatedAt: t0, Severity: types.SeverityInfo,
			Message: "Status : Send", RuleID: "r1", DocumentID: "d1", JobID: "j1"})
	})
	if err != nil {
		t.Fatalf("InTx() error = %v", err)
	}

	got, err := s.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if got.Status != types.StatusSend || got.GlobalStatus != types.GlobalClose || got.Attempt != 1 {
		t.Errorf("GetDocument() status = %v/%v/%v, want Send/Close/1", got.Status, got.GlobalStatus, got.Attempt)
	}
	if got.Type != types.TypeUpdate || got.TargetID != "T1" {
		t.Errorf("GetDocument() type/target = %v/%v, want U/T1", got.Type, got.TargetID)
	}
	if !got.SourceDateModified.Equal(d.SourceDateModified) || !got.CreatedAt.Equal(t0) {
		t.Errorf("GetDocument() times = %v/%v", got.SourceDateModified, got.CreatedAt)
	}

	data, err := s.GetDocumentData(ctx, "d1", types.DataSource)
	if err != nil || data == nil {
		t.Fatalf("GetDocumentData() = %v, %v", data, err)
	}
	if data.Data["name"] != "Bob" {
		t.Errorf("Data[name] = %v, want Bob", data.Data["name"])
	}

	logs, err := s.ListLogs(ctx, "d1")
	if err != nil || len(logs) != 1 || logs[0].Message != "Status : Send" {
		t.Errorf("ListLogs() = %+v, %v", logs, err)
	}
}

func TestStore_RollbackLeavesStateIntact(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	insert(t, s, newDoc("d1", "r1", "S1", "", types.StatusNew, t0))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateStatus(ctx, "d1", types.StatusSend, types.GlobalClose, 1, t0); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() error = %v, want boom", err)
	}

	got, _ := s.GetDocument(ctx, "d1")
	if got.Status != types.StatusNew || got.Attempt != 0 {
		t.Errorf("after rollback status/attempt = %v/%v, want New/0", got.Status, got.Attempt)
	}

	err = s.InTx(ctx, func(tx store.Tx) error {
		return tx.UpdateStatus(ctx, "ghost", types.StatusSend, types.GlobalClose, 1, t0)
	})
	if !errors.Is(err, types.ErrDocumentNotFound) {
		t.Errorf("update unknown error = %v, want ErrDocumentNotFound", err)
	}
	if _, err := s.GetDocument(ctx, "ghost"); !errors.Is(err, types.ErrDocumentNotFound) {
		t.Errorf("GetDocument(ghost) error = %v, want ErrDocumentNotFound", err)
	}
}

func TestStore_Lookups(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	child := newDoc("c1", "child", "X1", "", types.StatusReadyToSend, t0.Add(time.Minute))
	child.ParentID = "p2"
	insert(t, s,
		newDoc("p1", "r1", "S1", "T1", types.StatusSend, t0),
		newDoc("p2", "r1", "S1", "T2", types.StatusSend, t0.Add(time.Hour)),
		newDoc("p3", "r1", "S1", "", types.StatusRelateKO, t0.Add(2*time.Hour)),
		newDoc("p4", "r1", "S9", "T9", types.StatusFilter, t0),
		child,
	)

	pred, err := s.FindPredecessor(ctx, store.PredecessorQuery{RuleID: "r1", SourceID: "S1", Before: t0.Add(3 * time.Hour), ExcludeID: "new"})
	if err != nil || pred == nil || pred.ID != "p3" {
		t.Errorf("FindPredecessor() = %v, %v, want p3", pred, err)
	}
	pred, _ = s.FindPredecessor(ctx, store.PredecessorQuery{RuleID: "r1", SourceID: "S1", Before: t0.Add(time.Hour), ExcludeID: "new"})
	if pred != nil {
		t.Errorf("FindPredecessor(before p3) = %v, want nil", pred.ID)
	}

	synced, err := s.FindSynced(ctx, "r1", types.SideSource, "S1", "")
	if err != nil || synced == nil || synced.ID != "p2" {
		t.Errorf("FindSynced() = %v, %v, want p2", synced, err)
	}
	synced, _ = s.FindSynced(ctx, "r1", types.SideTarget, "T1", "")
	if synced == nil || synced.ID != "p1" {
		t.Errorf("FindSynced(target T1) = %v, want p1", synced)
	}

	res, err := s.FindResolvable(ctx, "r1", types.SideSource, "S1")
	if err != nil || res == nil || res.ID != "p2" {
		t.Errorf("FindResolvable() = %v, %v, want p2", res, err)
	}

	filtered, err := s.FindByStatus(ctx, "r1", types.SideSource, "S9", types.StatusFilter)
	if err != nil || filtered == nil || filtered.ID != "p4" {
		t.Errorf("FindByStatus() = %v, %v, want p4", filtered, err)
	}

	relaxed, _ := s.FindPredecessor(ctx, store.PredecessorQuery{RuleID: "child", SourceID: "X1", Before: t0.Add(time.Hour), Relaxed: true})
	if relaxed != nil {
		t.Errorf("relaxed FindPredecessor() = %v, want nil for Ready_to_send", relaxed.ID)
	}

	children, err := s.ListChildren(ctx, "p2")
	if err != nil || len(children) != 1 || children[0].ID != "c1" {
		t.Errorf("ListChildren() = %v, %v", children, err)
	}

	all, err := s.ListRuleDocuments(ctx, "r1", "child")
	if err != nil || len(all) != 5 {
		t.Errorf("ListRuleDocuments() len = %d, %v, want 5", len(all), err)
	}

	errored, err := s.ListByStatus(ctx, "r1", types.StatusRelateKO, types.StatusFilterKO)
	if err != nil || len(errored) != 1 || errored[0].ID != "p3" {
		t.Errorf("ListByStatus() = %v, %v", errored, err)
	}
}

func TestStore_Relationships(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	insert(t, s, newDoc("d1", "r1", "S1", "", types.StatusNew, t0))

	err := s.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertRelationship(ctx, &types.DocumentRelationship{
			ID: "rel1", DocumentID: "d1", RelatedDocumentID: "d0", SourceField: "account_id", CreatedAt: t0,
		})
	})
	if err != nil {
		t.Fatalf("InsertRelationship() error = %v", err)
	}
	rels, err := s.ListRelationships(ctx, "d1")
	if err != nil || len(rels) != 1 || rels[0].SourceField != "account_id" {
		t.Errorf("ListRelationships() = %v, %v", rels, err)
	}
}

func TestStripComments(t *testing.T) {
	got := stripComments("-- header\n-- more\nCREATE TABLE x (id TEXT)\n")
	if got != "CREATE TABLE x (id TEXT)" {
		t.Errorf("stripComments() = %q", got)
	}
	if stripComments("-- only comment") != "" {
		t.Errorf("stripComments(comment only) should be empty")
	}
}


func TestDataSource(t *testing.T) {
	tests := []struct {
		url, driver, dsn string
	}{
		{"sqlite://docsync.db", "sqlite3", "docsync.db"},
		{"sqlite://data/docsync.db", "sqlite3", "data/docsync.db"},
		{"sqlite:///var/lib/docsync.db", "sqlite3", "/var/lib/docsync.db"},
		{"postgres://u:p@localhost:5432/ds?sslmode=disable", "postgres", "postgres://u:p@localhost:5432/ds?sslmode=disable"},
		{"postgresql://localhost/ds", "postgres", "postgresql://localhost/ds"},
	}
	for _, tt := range tests {
		driver, dsn, err := dataSource(tt.url)
		if err != nil {
			t.Errorf("dataSource(%q) error = %v", tt.url, err)
			continue
		}
		if driver != tt.driver || dsn != tt.dsn {
			t.Errorf("dataSource(%q) = %s, %s, want %s, %s", tt.url, driver, dsn, tt.driver, tt.dsn)
		}
	}
}
