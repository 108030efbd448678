package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lu-zhengda/icloud-to-gmail/internal/evidence"
	"github.com/lu-zhengda/icloud-to-gmail/internal/statedb"
)

func openTestDB(t *testing.T) *statedb.DB {
	t.Helper()
	db, err := statedb.Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedDownloadedRow(t *testing.T, db *statedb.DB, store *evidence.Store, fingerprint string, raw []byte) *statedb.MessageRow {
	t.Helper()
	ctx := context.Background()

	row, _, err := db.ReserveDiscovery(ctx, statedb.DiscoveryInput{
		Fingerprint: fingerprint, Folder: "INBOX", UID: 1, UIDValidity: 100,
	})
	if err != nil {
		t.Fatalf("ReserveDiscovery() error: %v", err)
	}

	wr, err := store.WriteImmutable(fingerprint, raw)
	if err != nil {
		t.Fatalf("WriteImmutable() error: %v", err)
	}

	if err := db.RecordDownloaded(ctx, row.ID, wr.Path, wr.SHA256, wr.SizeBytes); err != nil {
		t.Fatalf("RecordDownloaded() error: %v", err)
	}

	row, err = db.GetRow(ctx, row.ID)
	if err != nil {
		t.Fatalf("GetRow() error: %v", err)
	}
	return row
}

func TestVerify_NoMismatchesForIntactEvidence(t *testing.T) {
	db := openTestDB(t)
	store := evidence.New(t.TempDir())
	seedDownloadedRow(t, db, store, "fp1", []byte("From: a@example.com\r\n\r\nhello"))

	p := &Pipeline{DB: db, Evidence: store}
	result, err := p.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if result.Checked != 1 {
		t.Errorf("Checked = %d, want 1", result.Checked)
	}
	if len(result.Mismatches) != 0 {
		t.Errorf("Mismatches = %v, want none", result.Mismatches)
	}
}

func TestVerify_FlagsTamperedEvidence(t *testing.T) {
	db := openTestDB(t)
	store := evidence.New(t.TempDir())
	row := seedDownloadedRow(t, db, store, "fp1", []byte("From: a@example.com\r\n\r\nhello"))

	full := filepath.Join(store.Root, row.EvidencePath)
	if err := os.Chmod(full, 0o644); err != nil {
		t.Fatalf("chmod() error: %v", err)
	}
	if err := os.WriteFile(full, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	p := &Pipeline{DB: db, Evidence: store}
	result, err := p.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if len(result.Mismatches) != 1 {
		t.Fatalf("Mismatches = %v, want exactly one", result.Mismatches)
	}
	if result.Mismatches[0].Fingerprint != "fp1" {
		t.Errorf("Fingerprint = %q, want fp1", result.Mismatches[0].Fingerprint)
	}
}

func TestVerify_SkipsDiscoveredAndSkippedRows(t *testing.T) {
	db := openTestDB(t)
	store := evidence.New(t.TempDir())
	ctx := context.Background()

	if _, _, err := db.ReserveDiscovery(ctx, statedb.DiscoveryInput{
		Fingerprint: "fp-discovered", Folder: "INBOX", UID: 1, UIDValidity: 100,
	}); err != nil {
		t.Fatalf("ReserveDiscovery() error: %v", err)
	}
	skipped, _, err := db.ReserveDiscovery(ctx, statedb.DiscoveryInput{
		Fingerprint: "fp-skipped", Folder: "INBOX", UID: 2, UIDValidity: 100,
	})
	if err != nil {
		t.Fatalf("ReserveDiscovery() error: %v", err)
	}
	if err := db.MarkSkippedFiltered(ctx, skipped.ID); err != nil {
		t.Fatalf("MarkSkippedFiltered() error: %v", err)
	}

	p := &Pipeline{DB: db, Evidence: store}
	result, err := p.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if result.Checked != 0 {
		t.Errorf("Checked = %d, want 0 for rows in discovered and skipped", result.Checked)
	}
}

func TestVerify_NeverMutatesStateDB(t *testing.T) {
	db := openTestDB(t)
	store := evidence.New(t.TempDir())
	row := seedDownloadedRow(t, db, store, "fp1", []byte("From: a@example.com\r\n\r\nhello"))

	p := &Pipeline{DB: db, Evidence: store}
	if _, err := p.Verify(context.Background()); err != nil {
		t.Fatalf("Verify() error: %v", err)
	}

	after, err := db.GetRow(context.Background(), row.ID)
	if err != nil {
		t.Fatalf("GetRow() error: %v", err)
	}
	if after.Status != statedb.StatusDownloaded {
		t.Errorf("Status = %q after Verify, want unchanged downloaded", after.Status)
	}
}
