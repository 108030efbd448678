package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lu-zhengda/icloud-to-gmail/internal/statedb"
)

func newMigrateCmd() *cobra.Command {
	var dryRun, reset bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run discovery and ingestion against the configured mailboxes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			p, closeFn, err := buildPipeline(ctx, cfg, dryRun)
			if err != nil {
				return err
			}
			defer closeFn()

			summary, err := p.Run(ctx, dryRun, reset)
			if err != nil {
				return exitErr(1, fmt.Errorf("migrate: %w", err))
			}

			p.Log.WithField("counts", summary.Counts).Info("migrate finished")

			if summary.Counts.Failed > 0 {
				return exitErr(2, fmt.Errorf("%d rows in status %s; see the report for fingerprints", summary.Counts.Failed, statedb.StatusFailed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "stop after evidence is written; never call the Gmail API")
	cmd.Flags().BoolVar(&reset, "reset", false, "return skipped/failed rows and folder checkpoints to an earlier state before running")
	return cmd
}
