package config

import (
	"fmt"

	"github.com/lu-zhengda/icloud-to-gmail/internal/migerr"
)

func validate(cfg *Config) error {
	if cfg.IMAP != nil {
		if err := inRange("imap.connections", cfg.IMAP.Connections, 1, 10); err != nil {
			return err
		}
		if err := inRange("imap.batch_size", cfg.IMAP.BatchSize, 1, 500); err != nil {
			return err
		}
	}

	if cfg.Gmail != nil {
		switch cfg.Gmail.Mode {
		case ModeImport, ModeInsert:
		default:
			return configErr("gmail.mode", fmt.Errorf("must be %q or %q, got %q", ModeImport, ModeInsert, cfg.Gmail.Mode))
		}
		switch cfg.Gmail.InternalDateSource {
		case DateSourceHeader, DateSourceReceived:
		default:
			return configErr("gmail.internal_date_source", fmt.Errorf("must be %q or %q, got %q",
				DateSourceHeader, DateSourceReceived, cfg.Gmail.InternalDateSource))
		}
	}

	if err := inRange("concurrency.gmail_workers", cfg.Concurrency.GmailWorkers, 1, 50); err != nil {
		return err
	}
	if err := inRange("concurrency.imap_fetch_concurrency", cfg.Concurrency.ImapFetchConcurrency, 1, 50); err != nil {
		return err
	}
	if err := inRange("concurrency.queue_maxsize", cfg.Concurrency.QueueMaxSize, 1, 10000); err != nil {
		return err
	}
	if err := inRange("storage.fingerprint_body_bytes", cfg.Storage.FingerprintBodyBytes, 0, 1048576); err != nil {
		return err
	}
	return nil
}

func inRange(key string, got, min, max int) error {
	if got < min || got > max {
		return configErr(key, fmt.Errorf("must be between %d and %d, got %d", min, max, got))
	}
	return nil
}

func configErr(key string, err error) error {
	return migerr.New(migerr.ConfigInvalid, "validate "+key, err)
}
