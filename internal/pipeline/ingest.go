package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lu-zhengda/icloud-to-gmail/internal/foldermap"
)

// ingestWorker drains WorkItems until queue is closed, uploading each one
// to Gmail via the configured mode and recording the outcome in StateDB.
// One failed item never stops the worker; it records the failure on the
// row and moves on, mirroring the original orchestrator's per-item
// try/except around each queue.get().
func (p *Pipeline) ingestWorker(ctx context.Context, idx int, queue <-chan WorkItem) error {
	log := p.Log.WithField("worker", idx)
	for {
		select {
		case item, ok := <-queue:
			if !ok {
				return nil
			}
			if err := p.ingestOne(ctx, item); err != nil {
				log.WithError(err).WithField("row_id", item.RowID).Warn("ingest failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) ingestOne(ctx context.Context, item WorkItem) error {
	labelIDs := item.LabelIDs
	if len(labelIDs) == 0 {
		resolved, err := p.resolveLabelIDsForRow(ctx, item.RowID)
		if err != nil {
			p.recordFailure(ctx, item.RowID, err)
			return nil
		}
		labelIDs = resolved
	}

	raw, err := os.ReadFile(filepath.Join(p.Cfg.Storage.EvidenceDir, item.EvidencePath))
	if err != nil {
		p.recordFailure(ctx, item.RowID, err)
		return nil
	}

	result, err := p.Gmail.Ingest(ctx, raw, labelIDs, internalDateFor(item))
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted: the row stays downloaded and is resumed next run.
			return err
		}
		// Ingest has already retried retryable errors up to its policy, so
		// an error here is either permanent or retries are exhausted.
		kind, _ := errKind(err)
		_ = p.DB.RecordFailure(ctx, item.RowID, string(kind), true)
		return fmt.Errorf("ingest row=%d: %w", item.RowID, err)
	}

	if err := p.DB.RecordImported(ctx, item.RowID, result.MessageID, result.ThreadID); err != nil {
		return fmt.Errorf("record imported row=%d: %w", item.RowID, err)
	}
	return nil
}

// resolveLabelIDsForRow recovers the label ids for a resumed row that was
// drained from `downloaded` without ever going through processOne, where
// the folder it was discovered in is the only thing on hand.
func (p *Pipeline) resolveLabelIDsForRow(ctx context.Context, rowID int64) ([]string, error) {
	row, err := p.DB.GetRow(ctx, rowID)
	if err != nil {
		return nil, fmt.Errorf("load row %d for label resolution: %w", rowID, err)
	}
	mapping := foldermap.Folder(p.labelPrefix(), row.Folder)
	return p.resolveLabelIDs(ctx, mapping)
}

// internalDateFor picks the Date: header when present, falling back to
// the time the row was first observed on the source mailbox.
func internalDateFor(item WorkItem) time.Time {
	if !item.DateHeader.IsZero() {
		return item.DateHeader
	}
	return item.ReceivedAt
}
