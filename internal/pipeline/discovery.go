package pipeline

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"
	"golang.org/x/sync/errgroup"

	"github.com/lu-zhengda/icloud-to-gmail/internal/fingerprint"
	"github.com/lu-zhengda/icloud-to-gmail/internal/foldermap"
	"github.com/lu-zhengda/icloud-to-gmail/internal/imappool"
	"github.com/lu-zhengda/icloud-to-gmail/internal/statedb"
)

// processMailbox is the discovery producer for one mailbox: it selects
// the mailbox, resolves the UID set still to do against the stored
// checkpoint, and runs the download stage inline for each UID, bounded
// by imap_fetch_concurrency in-flight fetches.
func (p *Pipeline) processMailbox(ctx context.Context, mailbox string, queue chan<- WorkItem, dryRun bool) error {
	sess, err := p.IMAP.Select(ctx, mailbox)
	if err != nil {
		return err
	}
	defer sess.Release()

	checkpoint, err := p.DB.GetFolder(ctx, mailbox, uint32(sess.UIDValidity))
	if err != nil {
		return fmt.Errorf("get folder checkpoint for %s: %w", mailbox, err)
	}
	var minUID imap.UID
	if checkpoint != nil {
		minUID = imap.UID(checkpoint.HighestUIDDone)
	}

	uids, err := sess.SearchUIDs(ctx, p.Cfg.IMAP.SearchQuery, minUID)
	if err != nil {
		return err
	}

	mapping := foldermap.Folder(p.labelPrefix(), mailbox)

	batchSize := p.Cfg.IMAP.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	var highestDone uint32
	if checkpoint != nil {
		highestDone = checkpoint.HighestUIDDone
	}

	for start := 0; start < len(uids); start += batchSize {
		end := start + batchSize
		if end > len(uids) {
			end = len(uids)
		}
		batch := uids[start:end]

		if err := p.processBatch(ctx, sess, mailbox, mapping, batch, queue, dryRun); err != nil {
			return err
		}

		for _, u := range batch {
			if uint32(u) > highestDone {
				highestDone = uint32(u)
			}
		}
		if err := p.DB.CheckpointFolder(ctx, mailbox, uint32(sess.UIDValidity), highestDone, statedb.FolderScanning); err != nil {
			return fmt.Errorf("checkpoint folder %s: %w", mailbox, err)
		}
	}

	if err := p.DB.CheckpointFolder(ctx, mailbox, uint32(sess.UIDValidity), highestDone, statedb.FolderDone); err != nil {
		return fmt.Errorf("finalize checkpoint for %s: %w", mailbox, err)
	}
	return nil
}

func (p *Pipeline) processBatch(ctx context.Context, sess *imappool.Session, mailbox string, mapping foldermap.Mapping, batch []imap.UID, queue chan<- WorkItem, dryRun bool) error {
	headers, err := sess.FetchHeaders(ctx, batch)
	if err != nil {
		return err
	}

	limit := p.Cfg.Concurrency.ImapFetchConcurrency
	if limit <= 0 {
		limit = 5
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, h := range headers {
		h := h
		g.Go(func() error {
			return p.processOne(gctx, sess, mailbox, mapping, h, queue, dryRun)
		})
	}
	return g.Wait()
}

func (p *Pipeline) processOne(ctx context.Context, sess *imappool.Session, mailbox string, mapping foldermap.Mapping, h imappool.HeaderFetch, queue chan<- WorkItem, dryRun bool) error {
	// The fingerprint must be computed over the full RFC 5322 bytes, not
	// the header-only section FetchHeaders returns, or FINGERPRINT_BODY_BYTES
	// never contributes a single body byte to the hash (BodyPrefix finds no
	// header/body separator in a header-only slice). So the full body is
	// fetched unconditionally here, before the dedupe gate runs, matching the
	// original orchestrator fetching the whole message before fingerprinting.
	raw, err := sess.FetchBody(ctx, h.UID)
	if err != nil {
		p.Log.WithError(err).WithField("uid", h.UID).Warn("fetch body failed during discovery")
		return nil
	}

	in := fingerprint.FromHeaders(h.Headers, int64(len(raw)), raw, p.Cfg.Storage.FingerprintBodyBytes)
	fp := fingerprint.Compute(in)

	disc := statedb.DiscoveryInput{
		Fingerprint:   fp,
		MessageIDNorm: h.Headers.MessageIDNorm,
		Folder:        mailbox,
		UID:           uint32(h.UID),
		UIDValidity:   uint32(sess.UIDValidity),
		Subject:       h.Headers.Subject,
		From:          h.Headers.From,
		DateHeader:    h.Headers.Date,
		SizeBytes:     int64(len(raw)),
	}

	row, isNew, err := p.DB.ReserveDiscovery(ctx, disc)
	if err != nil {
		return fmt.Errorf("reserve discovery uid=%d: %w", h.UID, err)
	}

	if !isNew {
		if row.Folder == mailbox && row.UID == uint32(h.UID) && row.UIDValidity == uint32(sess.UIDValidity) {
			if row.Status != statedb.StatusDiscovered {
				// Same physical UID re-scanned; whatever status past
				// discovered it already holds stands.
				return nil
			}
			// Same physical UID still in discovered (returned there by
			// Reset, or interrupted before its download was recorded):
			// run the download stage for it again below.
		} else {
			if row.Status == statedb.StatusImported || row.Status == statedb.StatusDownloaded || row.Status == statedb.StatusDiscovered {
				if _, err := p.DB.MarkSkippedDuplicate(ctx, disc); err != nil {
					return fmt.Errorf("mark duplicate uid=%d: %w", h.UID, err)
				}
			}
			return nil
		}
	}

	if !p.Filter.Matches(h.Headers) {
		if err := p.DB.MarkSkippedFiltered(ctx, row.ID); err != nil {
			return fmt.Errorf("mark filtered uid=%d: %w", h.UID, err)
		}
		return nil
	}

	written, err := p.Evidence.WriteImmutable(fp, raw)
	if err != nil {
		p.recordFailure(ctx, row.ID, err)
		return nil
	}

	dateHeader := h.Headers.Date
	if dateHeader.IsZero() {
		if err := p.DB.AnnotateFallback(ctx, row.ID, "Date header missing or unparseable"); err != nil {
			return fmt.Errorf("annotate fallback uid=%d: %w", h.UID, err)
		}
	}

	if err := p.DB.RecordDownloaded(ctx, row.ID, written.Path, written.SHA256, written.SizeBytes); err != nil {
		return fmt.Errorf("record downloaded uid=%d: %w", h.UID, err)
	}

	if dryRun {
		return nil
	}

	labelIDs, err := p.resolveLabelIDs(ctx, mapping)
	if err != nil {
		return fmt.Errorf("resolve labels for %s: %w", mailbox, err)
	}

	item := WorkItem{
		RowID:        row.ID,
		EvidencePath: written.Path,
		LabelIDs:     labelIDs,
		DateHeader:   dateHeader,
		ReceivedAt:   row.ReceivedAt,
	}
	select {
	case queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) resolveLabelIDs(ctx context.Context, mapping foldermap.Mapping) ([]string, error) {
	custom, err := p.Labels.Resolve(ctx, mapping.CustomLabel)
	if err != nil {
		return nil, err
	}
	ids := []string{custom}
	if mapping.System != foldermap.None {
		ids = append(ids, string(mapping.System))
	}
	return ids, nil
}

func (p *Pipeline) recordFailure(ctx context.Context, rowID int64, err error) {
	kind, _ := errKind(err)
	_ = p.DB.RecordFailure(ctx, rowID, string(kind), kind.Permanent())
	p.Log.WithError(err).WithField("row_id", rowID).Warn("row failed during download stage")
}
