package statedb

import (
	"context"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesTables(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rows, err := db.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' ORDER BY name")
	if err != nil {
		t.Fatalf("query sqlite_master error: %v", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan error: %v", err)
		}
		tables = append(tables, name)
	}

	for _, exp := range []string{"folders", "messages", "labels"} {
		found := false
		for _, tbl := range tables {
			if tbl == exp {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected table %q not found in %v", exp, tables)
		}
	}
}

func TestReserveDiscovery_NewFingerprint(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	row, isNew, err := db.ReserveDiscovery(ctx, DiscoveryInput{
		Fingerprint: "fp1", Folder: "INBOX", UID: 1, UIDValidity: 100, Subject: "hi",
	})
	if err != nil {
		t.Fatalf("ReserveDiscovery() error: %v", err)
	}
	if !isNew {
		t.Error("isNew = false, want true for first sighting")
	}
	if row.Status != StatusDiscovered {
		t.Errorf("Status = %q, want discovered", row.Status)
	}
}

func TestReserveDiscovery_SameFingerprintIsNotNew(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first, _, err := db.ReserveDiscovery(ctx, DiscoveryInput{Fingerprint: "fp1", Folder: "INBOX", UID: 1, UIDValidity: 100})
	if err != nil {
		t.Fatalf("first ReserveDiscovery: %v", err)
	}

	second, isNew, err := db.ReserveDiscovery(ctx, DiscoveryInput{Fingerprint: "fp1", Folder: "Archive", UID: 2, UIDValidity: 100})
	if err != nil {
		t.Fatalf("second ReserveDiscovery: %v", err)
	}
	if isNew {
		t.Error("isNew = true for a fingerprint seen before, want false")
	}
	if second.ID != first.ID {
		t.Errorf("expected the existing row to be returned, got a different id")
	}
}

func TestFullLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	row, _, err := db.ReserveDiscovery(ctx, DiscoveryInput{Fingerprint: "fp1", Folder: "INBOX", UID: 1, UIDValidity: 100})
	if err != nil {
		t.Fatalf("ReserveDiscovery: %v", err)
	}

	if err := db.RecordDownloaded(ctx, row.ID, "aa/bb/fp1.eml", "deadbeef", 1200); err != nil {
		t.Fatalf("RecordDownloaded: %v", err)
	}
	if err := db.RecordImported(ctx, row.ID, "gmail-msg-1", "gmail-thread-1"); err != nil {
		t.Fatalf("RecordImported: %v", err)
	}

	got, err := db.GetRow(ctx, row.ID)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if got.Status != StatusImported {
		t.Errorf("Status = %q, want imported", got.Status)
	}
	if got.GmailMessageID != "gmail-msg-1" {
		t.Errorf("GmailMessageID = %q, want gmail-msg-1", got.GmailMessageID)
	}
}

func TestRecordDownloaded_RejectsWrongPriorStatus(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	row, _, _ := db.ReserveDiscovery(ctx, DiscoveryInput{Fingerprint: "fp1", Folder: "INBOX", UID: 1, UIDValidity: 100})
	if err := db.RecordDownloaded(ctx, row.ID, "p", "h", 1); err != nil {
		t.Fatalf("first RecordDownloaded: %v", err)
	}
	if err := db.RecordDownloaded(ctx, row.ID, "p", "h", 1); err == nil {
		t.Error("second RecordDownloaded from an already-downloaded row should fail")
	}
}

func TestRecordFailure_PermanentMovesToFailed(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	row, _, _ := db.ReserveDiscovery(ctx, DiscoveryInput{Fingerprint: "fp1", Folder: "INBOX", UID: 1, UIDValidity: 100})
	if err := db.RecordFailure(ctx, row.ID, "RemoteRejected", true); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	got, err := db.GetRow(ctx, row.ID)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
}

func TestRecordFailure_TransientKeepsStatus(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	row, _, _ := db.ReserveDiscovery(ctx, DiscoveryInput{Fingerprint: "fp1", Folder: "INBOX", UID: 1, UIDValidity: 100})
	if err := db.RecordFailure(ctx, row.ID, "NetworkTransient", false); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	got, err := db.GetRow(ctx, row.ID)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if got.Status != StatusDiscovered {
		t.Errorf("Status = %q, want unchanged (discovered)", got.Status)
	}
}

func TestMarkSkippedDuplicate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, _, err := db.ReserveDiscovery(ctx, DiscoveryInput{Fingerprint: "fp1", Folder: "INBOX", UID: 1, UIDValidity: 100}); err != nil {
		t.Fatalf("ReserveDiscovery: %v", err)
	}

	dup, err := db.MarkSkippedDuplicate(ctx, DiscoveryInput{Fingerprint: "fp1", Folder: "Archive", UID: 2, UIDValidity: 100})
	if err != nil {
		t.Fatalf("MarkSkippedDuplicate: %v", err)
	}
	if dup.Status != StatusSkipped || dup.SkipReason != string(SkipDuplicate) {
		t.Errorf("dup row = (%q, %q), want (skipped, duplicate)", dup.Status, dup.SkipReason)
	}

	counts, err := db.CountsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountsByStatus: %v", err)
	}
	if counts.Discovered != 1 || counts.Skipped != 1 {
		t.Errorf("counts = %+v, want 1 discovered + 1 skipped", counts)
	}
}

func TestCheckpointFolder_AdvancesMonotonically(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.CheckpointFolder(ctx, "INBOX", 100, 10, FolderScanning); err != nil {
		t.Fatalf("CheckpointFolder: %v", err)
	}
	if err := db.CheckpointFolder(ctx, "INBOX", 100, 5, FolderScanning); err != nil {
		t.Fatalf("CheckpointFolder (lower uid): %v", err)
	}

	got, err := db.GetFolder(ctx, "INBOX", 100)
	if err != nil {
		t.Fatalf("GetFolder: %v", err)
	}
	if got.HighestUIDDone != 10 {
		t.Errorf("HighestUIDDone = %d, want 10 (checkpoint must not regress)", got.HighestUIDDone)
	}
}

func TestGetFolder_UnknownUIDValidityIsNil(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.CheckpointFolder(ctx, "INBOX", 100, 10, FolderDone); err != nil {
		t.Fatalf("CheckpointFolder: %v", err)
	}

	got, err := db.GetFolder(ctx, "INBOX", 200)
	if err != nil {
		t.Fatalf("GetFolder: %v", err)
	}
	if got != nil {
		t.Errorf("GetFolder with a new UIDVALIDITY should return nil, got %+v", got)
	}
}

func TestLabelMappingRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, found, err := db.GetLabelID(ctx, "iCloud/Inbox"); err != nil || found {
		t.Fatalf("GetLabelID on unknown label = (found=%v, err=%v), want not found", found, err)
	}

	if err := db.SetLabelID(ctx, "iCloud/Inbox", "Label_1"); err != nil {
		t.Fatalf("SetLabelID: %v", err)
	}

	id, found, err := db.GetLabelID(ctx, "iCloud/Inbox")
	if err != nil || !found || id != "Label_1" {
		t.Fatalf("GetLabelID = (%q, %v, %v), want (Label_1, true, nil)", id, found, err)
	}
}

func TestIteratePendingImport(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	row, _, _ := db.ReserveDiscovery(ctx, DiscoveryInput{Fingerprint: "fp1", Folder: "INBOX", UID: 1, UIDValidity: 100})
	if err := db.RecordDownloaded(ctx, row.ID, "p", "h", 1); err != nil {
		t.Fatalf("RecordDownloaded: %v", err)
	}

	pending, err := db.IteratePendingImport(ctx)
	if err != nil {
		t.Fatalf("IteratePendingImport: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != row.ID {
		t.Errorf("pending = %+v, want exactly the downloaded row", pending)
	}
}

func TestReset_SkippedAndFailed(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	row, _, _ := db.ReserveDiscovery(ctx, DiscoveryInput{Fingerprint: "fp1", Folder: "INBOX", UID: 1, UIDValidity: 100})
	if err := db.MarkSkippedFiltered(ctx, row.ID); err != nil {
		t.Fatalf("MarkSkippedFiltered: %v", err)
	}

	n, err := db.Reset(ctx, ResetSkippedAndFailed)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n != 1 {
		t.Errorf("Reset() rows affected = %d, want 1", n)
	}

	got, err := db.GetRow(ctx, row.ID)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if got.Status != StatusDiscovered {
		t.Errorf("Status after reset = %q, want discovered", got.Status)
	}
}

func TestReset_DoesNotResurrectDuplicateSkips(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, _, err := db.ReserveDiscovery(ctx, DiscoveryInput{Fingerprint: "fp1", Folder: "INBOX", UID: 1, UIDValidity: 100}); err != nil {
		t.Fatalf("ReserveDiscovery: %v", err)
	}
	if _, err := db.MarkSkippedDuplicate(ctx, DiscoveryInput{Fingerprint: "fp1", Folder: "Archive", UID: 2, UIDValidity: 100}); err != nil {
		t.Fatalf("MarkSkippedDuplicate: %v", err)
	}

	if _, err := db.Reset(ctx, ResetSkippedAndFailed); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	counts, err := db.CountsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountsByStatus: %v", err)
	}
	if counts.Skipped != 1 {
		t.Errorf("duplicate-skip row should survive reset, counts = %+v", counts)
	}
}
