// Package pipeline is the orchestrator: it binds IMAPPool, the
// fingerprinter, StateDB's dedupe gate, EvidenceStore, and GmailClient
// into the discover -> download -> ingest state machine, generalizing
// the async queue/worker-pool shape of the original orchestrator into
// Go channels and an errgroup, following the teacher's pattern of
// naming each worker pool explicitly and bounding it with a constructor
// argument rather than an implicit goroutine fan-out.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lu-zhengda/icloud-to-gmail/internal/config"
	"github.com/lu-zhengda/icloud-to-gmail/internal/evidence"
	"github.com/lu-zhengda/icloud-to-gmail/internal/gmailapi"
	"github.com/lu-zhengda/icloud-to-gmail/internal/imappool"
	"github.com/lu-zhengda/icloud-to-gmail/internal/mailheader"
	"github.com/lu-zhengda/icloud-to-gmail/internal/migerr"
	"github.com/lu-zhengda/icloud-to-gmail/internal/statedb"
)

// WorkItem is the unit of work handed from the download stage (running
// inline inside each mailbox's discovery goroutine) to the ingestion
// worker pool.
type WorkItem struct {
	RowID        int64
	EvidencePath string
	LabelIDs     []string
	DateHeader   time.Time
	ReceivedAt   time.Time
}

// Pipeline wires the four core collaborators together. Gmail and Labels
// are nil in dry-run mode, where the ingestion stage never runs. RunID
// correlates every log line and the report for one invocation of Run;
// it is generated lazily if the caller leaves it blank.
type Pipeline struct {
	Cfg      *config.Config
	DB       *statedb.DB
	Evidence *evidence.Store
	IMAP     *imappool.Pool
	Gmail    *gmailapi.Client
	Labels   *gmailapi.LabelCache
	Filter   *mailheader.AddressFilter
	Log      *logrus.Entry
	RunID    string
}

// Summary is the in-memory tally Run produces, rendered into the report
// JSON schema by report.go.
type Summary struct {
	RunID    string
	Counts   statedb.Counts
	Folders  []*statedb.FolderRow
	Failures []FailureEntry
}

type FailureEntry struct {
	Fingerprint string
	Kind        string
	Retries     int
}

// Run drives one full pass: optional reset, resume-drain of crashed
// downloads, per-mailbox discovery with inline download, and (unless
// dryRun) the ingestion worker pool. It returns once every mailbox has
// been scanned and every queued item has been ingested or has failed
// permanently, or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, dryRun, reset bool) (Summary, error) {
	if p.RunID == "" {
		p.RunID = uuid.New().String()
	}
	p.Log = p.Log.WithField("run_id", p.RunID)

	if reset {
		n, err := p.DB.Reset(ctx, statedb.ResetAll)
		if err != nil {
			return Summary{}, fmt.Errorf("reset before migrate: %w", err)
		}
		p.Log.WithField("rows_reset", n).Info("reset skipped/failed rows and folder checkpoints")
	}

	queue := make(chan WorkItem, p.Cfg.Concurrency.QueueMaxSize)

	g, gctx := errgroup.WithContext(ctx)

	if !dryRun {
		for i := 0; i < p.Cfg.Concurrency.GmailWorkers; i++ {
			idx := i
			g.Go(func() error { return p.ingestWorker(gctx, idx, queue) })
		}
	}

	if err := p.drainPendingImports(gctx, queue, dryRun); err != nil {
		close(queue)
		_ = g.Wait()
		return Summary{}, err
	}

	mailboxes, err := p.listMailboxes(gctx)
	if err != nil {
		close(queue)
		_ = g.Wait()
		return Summary{}, err
	}

	discoveryGroup, dctx := errgroup.WithContext(gctx)
	for _, mbox := range mailboxes {
		mbox := mbox
		discoveryGroup.Go(func() error {
			return p.processMailbox(dctx, mbox, queue, dryRun)
		})
	}
	discoveryErr := discoveryGroup.Wait()

	close(queue)
	workerErr := g.Wait()

	if discoveryErr != nil {
		return Summary{}, discoveryErr
	}
	if workerErr != nil {
		return Summary{}, workerErr
	}

	return p.summarize(ctx)
}

func (p *Pipeline) summarize(ctx context.Context) (Summary, error) {
	counts, err := p.DB.CountsByStatus(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize counts: %w", err)
	}
	folders, err := p.DB.ListFolders(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize folders: %w", err)
	}

	failedStatus := statedb.StatusFailed
	failedRows, err := p.DB.IterMessages(ctx, &failedStatus)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize failures: %w", err)
	}
	failures := make([]FailureEntry, 0, len(failedRows))
	for _, r := range failedRows {
		failures = append(failures, FailureEntry{Fingerprint: r.Fingerprint, Kind: r.LastErrorKind, Retries: r.RetryCount})
	}

	return Summary{RunID: p.RunID, Counts: counts, Folders: folders, Failures: failures}, nil
}

// drainPendingImports recovers rows stuck in `downloaded` from a prior
// crash between the evidence write and the Gmail call, enqueuing them
// before discovery begins per spec.md's resume contract.
func (p *Pipeline) drainPendingImports(ctx context.Context, queue chan<- WorkItem, dryRun bool) error {
	if dryRun {
		return nil
	}
	pending, err := p.DB.IteratePendingImport(ctx)
	if err != nil {
		return fmt.Errorf("drain pending imports: %w", err)
	}
	for _, row := range pending {
		item := WorkItem{
			RowID:        row.ID,
			EvidencePath: row.EvidencePath,
			DateHeader:   row.DateHeader,
			ReceivedAt:   row.ReceivedAt,
		}
		select {
		case queue <- item:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if len(pending) > 0 {
		p.Log.WithField("count", len(pending)).Info("resumed rows stuck in downloaded")
	}
	return nil
}

func (p *Pipeline) listMailboxes(ctx context.Context) ([]string, error) {
	sess, err := p.IMAP.Select(ctx, "INBOX")
	if err != nil {
		return nil, err
	}
	all, err := sess.ListFolders(ctx)
	sess.Release()
	if err != nil {
		return nil, err
	}
	return filterMailboxes(all, p.Cfg.IMAP.FolderInclude, p.Cfg.IMAP.FolderExclude), nil
}

func filterMailboxes(all, include, exclude []string) []string {
	includeSet := toSet(include)
	excludeSet := toSet(exclude)

	var out []string
	for _, m := range all {
		if len(includeSet) > 0 {
			if _, ok := includeSet[m]; !ok {
				continue
			}
		}
		if _, ok := excludeSet[m]; ok {
			continue
		}
		out = append(out, m)
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, i := range items {
		set[i] = struct{}{}
	}
	return set
}

// labelPrefix returns the configured Gmail label prefix, or the default
// even in dry-run where Cfg.Gmail may be nil (folder mapping still needs
// a prefix to compute the custom label path it would have used).
func (p *Pipeline) labelPrefix() string {
	if p.Cfg.Gmail != nil && p.Cfg.Gmail.LabelPrefix != "" {
		return p.Cfg.Gmail.LabelPrefix
	}
	return "iCloud"
}

// errKind extracts the migerr.Kind carried by err, defaulting to
// EvidenceIO for errors raised by the download stage that were never
// wrapped (e.g. a bare filesystem error from EvidenceStore).
func errKind(err error) (migerr.Kind, bool) {
	if kind, ok := migerr.As(err); ok {
		return kind, true
	}
	return migerr.EvidenceIO, false
}

// EnsureDirs creates the storage root, evidence, and reports directories.
func EnsureDirs(cfg config.StorageConfig) error {
	for _, dir := range []string{cfg.RootDir, cfg.EvidenceDir, cfg.ReportsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return migerr.New(migerr.EvidenceIO, "create storage directory "+dir, err)
		}
	}
	return nil
}
