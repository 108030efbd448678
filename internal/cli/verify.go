package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lu-zhengda/icloud-to-gmail/internal/pipeline"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute SHA-256 of every evidence file and compare against StateDB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, evidenceStore, err := openState(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			p := &pipeline.Pipeline{Cfg: cfg, DB: db, Evidence: evidenceStore}
			result, err := p.Verify(cmd.Context())
			if err != nil {
				return exitErr(1, fmt.Errorf("verify: %w", err))
			}

			fmt.Printf("checked %d rows, %d mismatches\n", result.Checked, len(result.Mismatches))
			if len(result.Mismatches) == 0 {
				return nil
			}
			for _, m := range result.Mismatches {
				fmt.Printf("  MISMATCH fingerprint=%s row=%d path=%s reason=%s\n", m.Fingerprint, m.RowID, m.EvidencePath, m.Reason)
			}
			return exitErr(3, fmt.Errorf("%d evidence mismatches found", len(result.Mismatches)))
		},
	}
}
