package pipeline

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lu-zhengda/icloud-to-gmail/internal/statedb"
)

func TestBuildReport_FieldNamesMatchSchema(t *testing.T) {
	s := Summary{
		RunID: "run-1",
		Counts: statedb.Counts{
			Discovered: 10, Downloaded: 8, Imported: 6, Skipped: 2, Failed: 2,
		},
		Folders: []*statedb.FolderRow{
			{Name: "INBOX", UIDValidity: 100, HighestUIDDone: 42, Status: statedb.FolderDone},
		},
		Failures: []FailureEntry{
			{Fingerprint: "fp1", Kind: "quota_exceeded", Retries: 6},
		},
	}
	generatedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	report := BuildReport(s, generatedAt)

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	for _, key := range []string{"generated_at", "run_id", "counts", "folders", "failures"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("report JSON missing top-level key %q, got %v", key, raw)
		}
	}

	counts, ok := raw["counts"].(map[string]any)
	if !ok {
		t.Fatalf("counts is not an object: %v", raw["counts"])
	}
	for _, key := range []string{"discovered", "downloaded", "imported", "skipped", "failed"} {
		if _, ok := counts[key]; !ok {
			t.Errorf("counts missing key %q, got %v", key, counts)
		}
	}

	if report.GeneratedAt != "2026-01-02T03:04:05Z" {
		t.Errorf("GeneratedAt = %q, want RFC3339 UTC", report.GeneratedAt)
	}
}

func TestBuildReport_EmptyFoldersAndFailuresAreEmptySlicesNotNull(t *testing.T) {
	report := BuildReport(Summary{}, time.Now())

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if !strings.Contains(string(data), `"folders":[]`) || !strings.Contains(string(data), `"failures":[]`) {
		t.Errorf("expected empty-array rendering, got %s", data)
	}
}

func TestWriteReport_WritesTimestampedFile(t *testing.T) {
	dir := t.TempDir()
	generatedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	report := BuildReport(Summary{RunID: "run-1"}, generatedAt)

	path, err := WriteReport(dir, report, generatedAt)
	if err != nil {
		t.Fatalf("WriteReport() error: %v", err)
	}

	wantPath := filepath.Join(dir, "20260102T030405Z.json")
	if path != wantPath {
		t.Errorf("path = %q, want %q", path, wantPath)
	}
}
