package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lu-zhengda/icloud-to-gmail/internal/gmailapi"
)

func newGmailAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gmail-auth",
		Short: "Complete the Gmail OAuth loopback flow and persist the token file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Gmail == nil {
				return exitErr(1, fmt.Errorf("gmail settings are not configured (TARGET_USER_EMAIL and CREDENTIALS_FILE are required)"))
			}

			ctx := cmd.Context()
			oauthCfg, err := gmailapi.LoadOAuthConfig(cfg.Gmail.CredentialsFile)
			if err != nil {
				return exitErr(1, err)
			}

			token, err := gmailapi.RunLoopbackFlow(ctx, oauthCfg)
			if err != nil {
				return exitErr(1, err)
			}

			if err := gmailapi.NewFileTokenStore(cfg.Gmail.TokenFile).SaveToken(token); err != nil {
				return exitErr(1, fmt.Errorf("save token file: %w", err))
			}

			// Best-effort secondary copy; a missing keyring daemon (headless
			// hosts, CI) must never fail an otherwise-successful auth run.
			_ = gmailapi.NewKeyringTokenStore(cfg.Gmail.TargetUserEmail).SaveToken(token)

			log := newLogger(cfg.Logging.Level, cfg.Logging.JSONLogs)
			client, err := gmailapi.New(ctx, cfg.Gmail, oauthCfg, token, log)
			if err != nil {
				return exitErr(1, err)
			}
			profile, err := client.Profile(ctx)
			if err != nil {
				return exitErr(1, fmt.Errorf("token saved, but profile probe failed: %w", err))
			}

			fmt.Printf("Authorized Gmail access for %s (%d messages, %d threads). Token saved to %s.\n",
				profile.EmailAddress, profile.MessagesTotal, profile.ThreadsTotal, cfg.Gmail.TokenFile)
			return nil
		},
	}
}
