package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lu-zhengda/icloud-to-gmail/internal/config"
	"github.com/lu-zhengda/icloud-to-gmail/internal/evidence"
	"github.com/lu-zhengda/icloud-to-gmail/internal/gmailapi"
	"github.com/lu-zhengda/icloud-to-gmail/internal/imappool"
	"github.com/lu-zhengda/icloud-to-gmail/internal/mailheader"
	"github.com/lu-zhengda/icloud-to-gmail/internal/migerr"
	"github.com/lu-zhengda/icloud-to-gmail/internal/pipeline"
	"github.com/lu-zhengda/icloud-to-gmail/internal/statedb"
)

// loadConfig resolves configuration from the --env-file/--config flags,
// wrapping failures with exit code 1 per spec.md's "user/config error".
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile, tomlFile)
	if err != nil {
		return nil, exitErr(1, err)
	}
	return cfg, nil
}

// openState opens StateDB and the evidence store the verify/report commands
// need, neither of which requires IMAP or Gmail credentials.
func openState(cfg *config.Config) (*statedb.DB, *evidence.Store, error) {
	if err := pipeline.EnsureDirs(cfg.Storage); err != nil {
		return nil, nil, exitErr(1, err)
	}
	db, err := statedb.Open(cfg.Storage.SqlitePath)
	if err != nil {
		return nil, nil, exitErr(1, fmt.Errorf("open state db: %w", err))
	}
	return db, evidence.New(cfg.Storage.EvidenceDir), nil
}

// buildGmailClient loads the OAuth config and persisted token and returns
// a ready gmailapi.Client, reading the token file gmail-auth writes so a
// migrate run fails fast with a clear message if `gmail-auth` was never
// run.
func buildGmailClient(ctx context.Context, cfg *config.GmailConfig, log *logrus.Entry) (*gmailapi.Client, error) {
	oauthCfg, err := gmailapi.LoadOAuthConfig(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	token, err := gmailapi.NewFileTokenStore(cfg.TokenFile).LoadToken()
	if err != nil {
		return nil, migerr.New(migerr.AuthFailed, "load gmail token; run gmail-auth first", err)
	}
	return gmailapi.New(ctx, cfg, oauthCfg, token, log)
}

// buildPipeline assembles every collaborator migrate needs. When dryRun is
// true, Gmail and the label cache are left nil, matching spec.md §4.7's
// "dry-run ... ingestion queue and workers are inert."
func buildPipeline(ctx context.Context, cfg *config.Config, dryRun bool) (*pipeline.Pipeline, func() error, error) {
	log := newLogger(cfg.Logging.Level, cfg.Logging.JSONLogs)

	if cfg.IMAP == nil {
		return nil, nil, exitErr(1, fmt.Errorf("imap settings are not configured"))
	}

	db, evidenceStore, err := openState(cfg)
	if err != nil {
		return nil, nil, err
	}

	imapPool := imappool.New(cfg.IMAP, log)
	closeFn := func() error {
		imapPool.Close()
		return db.Close()
	}

	p := &pipeline.Pipeline{
		Cfg:      cfg,
		DB:       db,
		Evidence: evidenceStore,
		IMAP:     imapPool,
		Filter:   mailheader.NewAddressFilter(cfg.Filter.TargetAddresses, cfg.Filter.IncludeSender, cfg.Filter.IncludeRecipients),
		Log:      log,
		RunID:    uuid.New().String(),
	}

	if !dryRun {
		if cfg.Gmail == nil {
			closeFn()
			return nil, nil, exitErr(1, fmt.Errorf("gmail settings are not configured"))
		}
		client, err := buildGmailClient(ctx, cfg.Gmail, log)
		if err != nil {
			closeFn()
			return nil, nil, exitErr(1, err)
		}
		p.Gmail = client
		p.Labels = gmailapi.NewLabelCache(client, db)
	}

	return p, closeFn, nil
}
