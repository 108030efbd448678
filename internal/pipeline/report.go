package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Report is the on-disk JSON shape written under reports/. Field names
// and nesting follow the summary schema exactly; Go's encoding/json
// lower-cases nothing on its own, hence the explicit tags throughout.
type Report struct {
	GeneratedAt string          `json:"generated_at"`
	RunID       string          `json:"run_id"`
	Counts      ReportCounts    `json:"counts"`
	Folders     []ReportFolder  `json:"folders"`
	Failures    []ReportFailure `json:"failures"`
}

type ReportCounts struct {
	Discovered int `json:"discovered"`
	Downloaded int `json:"downloaded"`
	Imported   int `json:"imported"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

type ReportFolder struct {
	Name           string `json:"name"`
	UIDValidity    uint32 `json:"uidvalidity"`
	HighestUIDDone uint32 `json:"highest_uid_done"`
	Status         string `json:"status"`
}

type ReportFailure struct {
	Fingerprint string `json:"fingerprint"`
	Kind        string `json:"kind"`
	Retries     int    `json:"retries"`
}

// BuildReport converts an in-memory Summary into the on-disk report shape,
// stamping generatedAt (passed in rather than taken via time.Now here so
// callers control the clock, keeping this pure and easy to test).
func BuildReport(s Summary, generatedAt time.Time) Report {
	folders := make([]ReportFolder, 0, len(s.Folders))
	for _, f := range s.Folders {
		folders = append(folders, ReportFolder{
			Name:           f.Name,
			UIDValidity:    f.UIDValidity,
			HighestUIDDone: f.HighestUIDDone,
			Status:         string(f.Status),
		})
	}
	failures := make([]ReportFailure, 0, len(s.Failures))
	for _, f := range s.Failures {
		failures = append(failures, ReportFailure{
			Fingerprint: f.Fingerprint,
			Kind:        f.Kind,
			Retries:     f.Retries,
		})
	}
	return Report{
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
		RunID:       s.RunID,
		Counts: ReportCounts{
			Discovered: s.Counts.Discovered,
			Downloaded: s.Counts.Downloaded,
			Imported:   s.Counts.Imported,
			Skipped:    s.Counts.Skipped,
			Failed:     s.Counts.Failed,
		},
		Folders:  folders,
		Failures: failures,
	}
}

// WriteReport marshals report as indented JSON into reportsDir, named
// after generatedAt at one-second resolution, so `report` invocations in
// different seconds never collide.
func WriteReport(reportsDir string, report Report, generatedAt time.Time) (string, error) {
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}
	name := generatedAt.UTC().Format("20060102T150405Z") + ".json"
	path := filepath.Join(reportsDir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report file: %w", err)
	}
	return path, nil
}
