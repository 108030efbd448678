package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lu-zhengda/icloud-to-gmail/internal/pipeline"
	"github.com/lu-zhengda/icloud-to-gmail/internal/statedb"
)

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Write a JSON summary of the current StateDB state into reports/",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, _, err := openState(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			counts, err := db.CountsByStatus(ctx)
			if err != nil {
				return exitErr(1, fmt.Errorf("report: %w", err))
			}
			folders, err := db.ListFolders(ctx)
			if err != nil {
				return exitErr(1, fmt.Errorf("report: %w", err))
			}
			failedStatus := statedb.StatusFailed
			failedRows, err := db.IterMessages(ctx, &failedStatus)
			if err != nil {
				return exitErr(1, fmt.Errorf("report: %w", err))
			}
			failures := make([]pipeline.FailureEntry, 0, len(failedRows))
			for _, r := range failedRows {
				failures = append(failures, pipeline.FailureEntry{Fingerprint: r.Fingerprint, Kind: r.LastErrorKind, Retries: r.RetryCount})
			}

			summary := pipeline.Summary{RunID: uuid.New().String(), Counts: counts, Folders: folders, Failures: failures}
			report := pipeline.BuildReport(summary, time.Now())
			path, err := pipeline.WriteReport(cfg.Storage.ReportsDir, report, time.Now())
			if err != nil {
				return exitErr(1, fmt.Errorf("report: %w", err))
			}

			fmt.Printf("report written to %s\n", path)
			return nil
		},
	}
}
