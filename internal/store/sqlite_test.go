package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"trustchain.mini/tcm/internal/types"
)

func openTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()
	dir := t.TempDir()
	dbFile := filepath.Join(dir, "ledger.db")

	s, err := OpenSQLite(context.Background(), dbFile)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestSQLiteApplyAndRead(t *testing.T) {
	s, _ := openTestSQLite(t)
	ctx := context.Background()

	if _, err := s.Global(ctx); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	err := s.Apply(ctx, Batch{
		Global:    &types.GlobalState{TotalReports: 1, Version: "1.0.0", Admin: "admin", Status: types.StatusActive, EvidenceReports: 1},
		Submitter: &types.SubmitterState{Address: "alice", LastSubmissionTime: 1700000000, SubmissionCount: 1},
		Report: &types.ReportRecord{
			ID: 1, Submitter: "alice", Timestamp: 1700000000, Message: "harassment near park",
			ReferenceCode: "PR-2024-001", EvidencePointer: "bafybeigdyrzt",
		},
		Checkpoint: &types.Checkpoint{Height: 4, Index: 1, AppHash: []byte{0xde, 0xad}},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	r, err := s.Report(ctx, 1)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if r.ReferenceCode != "PR-2024-001" || r.EvidencePointer != "bafybeigdyrzt" || r.Anonymous {
		t.Fatalf("unexpected record: %+v", r)
	}

	g, err := s.Global(ctx)
	if err != nil {
		t.Fatalf("Global: %v", err)
	}
	if g.TotalReports != 1 || g.Status != types.StatusActive || g.EvidenceReports != 1 {
		t.Fatalf("unexpected global state: %+v", g)
	}

	cp, err := s.Checkpoint(ctx)
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if cp.Height != 4 || cp.Index != 1 || string(cp.AppHash) != string([]byte{0xde, 0xad}) {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}

	list, err := s.Reports(ctx, 0, 10)
	if err != nil {
		t.Fatalf("Reports: %v", err)
	}
	if len(list) != 1 || list[0].ID != 1 {
		t.Fatalf("unexpected report list: %+v", list)
	}
}

func TestSQLiteRepeatedTxIDRollsBack(t *testing.T) {
	s, _ := openTestSQLite(t)
	ctx := context.Background()

	if err := s.Apply(ctx, Batch{Global: &types.GlobalState{TotalReports: 1, Status: types.StatusActive}, TxID: "AB12"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if ok, err := s.TxApplied(ctx, "AB12"); err != nil || !ok {
		t.Fatalf("TxApplied = %v, %v", ok, err)
	}
	if ok, err := s.TxApplied(ctx, "CD34"); err != nil || ok {
		t.Fatalf("unknown tx reported applied: %v, %v", ok, err)
	}

	err := s.Apply(ctx, Batch{Global: &types.GlobalState{TotalReports: 2, Status: types.StatusActive}, TxID: "AB12"})
	if err == nil {
		t.Fatal("expected a repeated tx id to fail")
	}
	g, err := s.Global(ctx)
	if err != nil {
		t.Fatalf("Global: %v", err)
	}
	if g.TotalReports != 1 {
		t.Fatalf("failed batch leaked a write: %+v", g)
	}
}

func TestSQLiteDuplicateReportLeavesStateUnchanged(t *testing.T) {
	s, _ := openTestSQLite(t)
	ctx := context.Background()

	first := Batch{
		Global: &types.GlobalState{TotalReports: 1, Version: "1.0.0", Admin: "admin", Status: types.StatusActive},
		Report: &types.ReportRecord{ID: 1, Submitter: "alice", Message: "first"},
	}
	if err := s.Apply(ctx, first); err != nil {
		t.Fatalf("Apply first: %v", err)
	}

	second := Batch{
		Global: &types.GlobalState{TotalReports: 2, Version: "1.0.0", Admin: "admin", Status: types.StatusActive},
		Report: &types.ReportRecord{ID: 1, Submitter: "bob", Message: "second"},
	}
	if err := s.Apply(ctx, second); err == nil {
		t.Fatal("expected duplicate report insert to fail")
	}

	g, err := s.Global(ctx)
	if err != nil {
		t.Fatalf("Global: %v", err)
	}
	if g.TotalReports != 1 {
		t.Fatalf("rolled back batch leaked total_reports=%d", g.TotalReports)
	}
}

func TestSQLiteBackupCurrentCreatesAndPrunesBackups(t *testing.T) {
	s, dir := openTestSQLite(t)
	ctx := context.Background()

	if err := s.Apply(ctx, Batch{Global: &types.GlobalState{Version: "1.0.0", Admin: "admin", Status: types.StatusActive}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	backupPath, err := s.BackupCurrent(10)
	if err != nil {
		t.Fatalf("BackupCurrent: %v", err)
	}
	if backupPath == "" {
		t.Fatalf("expected backup path, got empty string")
	}
	if filepath.Ext(backupPath) != ".db" {
		t.Fatalf("expected .db extension, got %q", filepath.Ext(backupPath))
	}
	if filepath.Dir(backupPath) != filepath.Join(dir, "backups") {
		t.Fatalf("expected backup in backups directory, got %q", filepath.Dir(backupPath))
	}

	for i := 0; i < 12; i++ {
		if _, err := s.BackupCurrent(10); err != nil {
			t.Fatalf("backup iteration %d: %v", i, err)
		}
	}

	backups, err := s.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(backups) != 10 {
		t.Fatalf("expected 10 backups after pruning, got %d", len(backups))
	}
	for _, b := range backups {
		if !strings.HasPrefix(b.Name, "ledger-") {
			t.Fatalf("unexpected backup name %q", b.Name)
		}
	}
}

// An exported snapshot is a standalone database holding the state at export
// time.
func TestSQLiteExportSnapshotIsStandalone(t *testing.T) {
	s, dir := openTestSQLite(t)
	ctx := context.Background()

	if err := s.Apply(ctx, Batch{Report: &types.ReportRecord{ID: 1, Submitter: "alice", Message: "kept"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	snapshot, err := s.ExportSnapshot()
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	if err := s.Apply(ctx, Batch{Report: &types.ReportRecord{ID: 2, Submitter: "bob", Message: "later"}}); err != nil {
		t.Fatalf("Apply second: %v", err)
	}

	copyPath := filepath.Join(dir, "copy", "ledger.db")
	if err := os.MkdirAll(filepath.Dir(copyPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(copyPath, snapshot, 0o600); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	restored, err := OpenSQLite(ctx, copyPath)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer restored.Close()

	if r, err := restored.Report(ctx, 1); err != nil || r.Message != "kept" {
		t.Fatalf("report 1 should be in the snapshot: %+v %v", r, err)
	}
	if _, err := restored.Report(ctx, 2); err != ErrNotFound {
		t.Fatalf("report 2 postdates the snapshot, got %v", err)
	}
}

func TestSQLiteRecoversFromCorruptFile(t *testing.T) {
	dir := t.TempDir()
	dbFile := filepath.Join(dir, "ledger.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, dbFile)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := s.Apply(ctx, Batch{Report: &types.ReportRecord{ID: 1, Submitter: "alice", Message: "backed up"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := s.BackupCurrent(5); err != nil {
		t.Fatalf("BackupCurrent: %v", err)
	}
	s.Close()

	for _, path := range []string{dbFile + "-wal", dbFile + "-shm"} {
		os.Remove(path)
	}
	if err := os.WriteFile(dbFile, []byte(strings.Repeat("not a database ", 512)), 0o600); err != nil {
		t.Fatalf("corrupt db: %v", err)
	}

	reopened, err := OpenSQLite(ctx, dbFile)
	if err != nil {
		t.Fatalf("reopen after corruption: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.Report(ctx, 1); err != nil {
		t.Fatalf("expected report restored from backup: %v", err)
	}
}
