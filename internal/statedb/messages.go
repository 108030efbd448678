package statedb

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DiscoveryInput carries the header-derived fields recorded when a message
// is first observed on the source mailbox.
type DiscoveryInput struct {
	Fingerprint   string
	MessageIDNorm string
	Folder        string
	UID           uint32
	UIDValidity   uint32
	Subject       string
	From          string
	To            string
	CC            string
	BCC           string
	DateHeader    time.Time
	SizeBytes     int64
}

// ReserveDiscovery is the dedupe gate. If a row already carries this
// fingerprint, it is returned unmodified with isNew=false — the caller
// compares its (Folder, UID, UIDValidity) against the discovery's own to
// decide whether this is the same physical UID being re-scanned (no
// further action) or a genuinely new sighting of an already-known message
// (the caller should then call MarkSkippedDuplicate for this UID). If no
// row carries the fingerprint yet, one is created under StatusDiscovered
// and isNew=true.
func (d *DB) ReserveDiscovery(ctx context.Context, in DiscoveryInput) (*MessageRow, bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin reserve_discovery tx: %w", err)
	}
	defer tx.Rollback()

	if existing, err := scanMessageRow(tx.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE fingerprint = ? AND (skip_reason IS NULL OR skip_reason != 'duplicate')`, in.Fingerprint)); err == nil {
		return existing, false, tx.Commit()
	} else if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("check existing fingerprint: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (
			fingerprint, message_id_norm, folder, uid, uidvalidity,
			subject, from_addr, to_addrs, cc_addrs, bcc_addrs, date_header, size_bytes, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'discovered')
		ON CONFLICT(folder, uid, uidvalidity) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			message_id_norm = excluded.message_id_norm,
			subject = excluded.subject,
			from_addr = excluded.from_addr,
			to_addrs = excluded.to_addrs,
			cc_addrs = excluded.cc_addrs,
			bcc_addrs = excluded.bcc_addrs,
			date_header = excluded.date_header,
			size_bytes = excluded.size_bytes,
			status = CASE WHEN status IN ('skipped', 'failed') THEN 'discovered' ELSE status END,
			updated_at = CURRENT_TIMESTAMP`,
		in.Fingerprint, nullableString(in.MessageIDNorm), in.Folder, in.UID, in.UIDValidity,
		nullableString(in.Subject), nullableString(in.From), nullableString(in.To),
		nullableString(in.CC), nullableString(in.BCC), nullableTime(in.DateHeader), in.SizeBytes,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert discovered row: %w", err)
	}

	row, err := scanMessageRow(tx.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE folder = ? AND uid = ? AND uidvalidity = ?`,
		in.Folder, in.UID, in.UIDValidity))
	if err != nil {
		return nil, false, fmt.Errorf("fetch newly discovered row: %w", err)
	}
	return row, true, tx.Commit()
}

// MarkSkippedDuplicate records a reference row for a UID that is a
// duplicate of an already-known fingerprint: same fingerprint, but a
// different (folder, uid, uidvalidity), so it gets its own row with no
// evidence file.
func (d *DB) MarkSkippedDuplicate(ctx context.Context, in DiscoveryInput) (*MessageRow, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin mark_skipped_duplicate tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (
			fingerprint, message_id_norm, folder, uid, uidvalidity,
			subject, from_addr, status, skip_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, 'skipped', 'duplicate')
		ON CONFLICT(folder, uid, uidvalidity) DO UPDATE SET
			status = 'skipped', skip_reason = 'duplicate', updated_at = CURRENT_TIMESTAMP`,
		in.Fingerprint, nullableString(in.MessageIDNorm), in.Folder, in.UID, in.UIDValidity,
		nullableString(in.Subject), nullableString(in.From),
	)
	if err != nil {
		return nil, fmt.Errorf("insert duplicate reference row: %w", err)
	}

	row, err := scanMessageRow(tx.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE folder = ? AND uid = ? AND uidvalidity = ?`,
		in.Folder, in.UID, in.UIDValidity))
	if err != nil {
		return nil, fmt.Errorf("fetch duplicate reference row: %w", err)
	}
	return row, tx.Commit()
}

// MarkSkippedFiltered moves rowID (must currently be discovered) to
// skipped with reason=filtered, for a message that failed the address
// filter before its body was ever fetched.
func (d *DB) MarkSkippedFiltered(ctx context.Context, rowID int64) error {
	return d.transitionStatus(ctx, rowID, []Status{StatusDiscovered}, `
		UPDATE messages SET status = 'skipped', skip_reason = 'filtered', updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, rowID)
}

// RecordDownloaded promotes rowID from discovered to downloaded once the
// full body has been persisted to the evidence store and checksummed.
func (d *DB) RecordDownloaded(ctx context.Context, rowID int64, evidencePath, sha256 string, size int64) error {
	return d.transitionStatus(ctx, rowID, []Status{StatusDiscovered}, `
		UPDATE messages SET status = 'downloaded', evidence_path = ?, evidence_sha256 = ?, size_bytes = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, evidencePath, sha256, size, rowID)
}

// RecordImported promotes rowID from downloaded to imported once Gmail has
// returned a remote message id.
func (d *DB) RecordImported(ctx context.Context, rowID int64, gmailMessageID, gmailThreadID string) error {
	return d.transitionStatus(ctx, rowID, []Status{StatusDownloaded}, `
		UPDATE messages SET status = 'imported', gmail_message_id = ?, gmail_thread_id = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, gmailMessageID, gmailThreadID, rowID)
}

// RecordFailure increments rowID's retry counter and records the error
// kind. It moves the row to failed only if permanent is true; otherwise
// the row keeps its current status so the caller can retry it.
func (d *DB) RecordFailure(ctx context.Context, rowID int64, kind string, permanent bool) error {
	query := `UPDATE messages SET retry_count = retry_count + 1, last_error_kind = ?,
		last_error_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP`
	args := []any{kind}
	if permanent {
		query += `, status = 'failed'`
	}
	query += ` WHERE id = ?`
	args = append(args, rowID)

	_, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("record_failure: %w", err)
	}
	return nil
}

// AnnotateFallback records a note on rowID without changing its status,
// used for the Date-header-missing -> receivedTime fallback.
func (d *DB) AnnotateFallback(ctx context.Context, rowID int64, note string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE messages SET notes = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, note, rowID)
	if err != nil {
		return fmt.Errorf("annotate_fallback: %w", err)
	}
	return nil
}

func (d *DB) transitionStatus(ctx context.Context, rowID int64, from []Status, query string, args ...any) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback()

	row, err := scanMessageRow(tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, rowID))
	if err != nil {
		return fmt.Errorf("fetch row for transition: %w", err)
	}
	ok := false
	for _, s := range from {
		if row.Status == s {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("row %d has status %q, expected one of %v", rowID, row.Status, from)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("apply transition: %w", err)
	}
	return tx.Commit()
}

// GetRow fetches a single message row by id.
func (d *DB) GetRow(ctx context.Context, rowID int64) (*MessageRow, error) {
	return scanMessageRow(d.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, rowID))
}

// IteratePendingImport returns every row in status=downloaded, used on
// startup to drain crash-recovered work back into the ingestion queue
// before discovery begins.
func (d *DB) IteratePendingImport(ctx context.Context) ([]*MessageRow, error) {
	return d.queryRows(ctx, `SELECT `+messageColumns+` FROM messages WHERE status = 'downloaded' ORDER BY id`)
}

// IterMessages returns every row matching status, or every row if status
// is nil.
func (d *DB) IterMessages(ctx context.Context, status *Status) ([]*MessageRow, error) {
	if status == nil {
		return d.queryRows(ctx, `SELECT `+messageColumns+` FROM messages ORDER BY id`)
	}
	return d.queryRows(ctx, `SELECT `+messageColumns+` FROM messages WHERE status = ? ORDER BY id`, string(*status))
}

// CountsByStatus tallies message rows per status.
func (d *DB) CountsByStatus(ctx context.Context) (Counts, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM messages GROUP BY status`)
	if err != nil {
		return Counts{}, fmt.Errorf("counts_by_status: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, fmt.Errorf("scan counts_by_status row: %w", err)
		}
		switch Status(status) {
		case StatusDiscovered:
			c.Discovered = n
		case StatusDownloaded:
			c.Downloaded = n
		case StatusImported:
			c.Imported = n
		case StatusSkipped:
			c.Skipped = n
		case StatusFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

// ResetScope selects which rows Reset touches.
type ResetScope string

const (
	ResetSkippedAndFailed ResetScope = "skipped_and_failed"
	ResetFolderCheckpoints ResetScope = "folder_checkpoints"
	ResetAll               ResetScope = "all"
)

// Reset returns skipped and failed rows to discovered (duplicate reference
// rows stay skipped) and/or resets folder checkpoints to UID 0, per scope.
// It never deletes evidence files; a subsequent run simply re-downloads
// and re-dedupes.
func (d *DB) Reset(ctx context.Context, scope ResetScope) (int64, error) {
	var total int64

	if scope == ResetSkippedAndFailed || scope == ResetAll {
		res, err := d.db.ExecContext(ctx,
			`UPDATE messages SET status = 'discovered', skip_reason = NULL, updated_at = CURRENT_TIMESTAMP
			 WHERE status IN ('skipped', 'failed') AND skip_reason IS NOT 'duplicate'`)
		if err != nil {
			return total, fmt.Errorf("reset skipped_and_failed: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if scope == ResetFolderCheckpoints || scope == ResetAll {
		res, err := d.db.ExecContext(ctx,
			`UPDATE folders SET highest_uid_done = 0, status = 'scanning'`)
		if err != nil {
			return total, fmt.Errorf("reset folder_checkpoints: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	return total, nil
}

const messageColumns = `id, fingerprint, message_id_norm, folder, uid, uidvalidity, subject,
	from_addr, to_addrs, cc_addrs, bcc_addrs, date_header, received_at,
	evidence_path, evidence_sha256, size_bytes, status, skip_reason, retry_count,
	last_error_kind, last_error_at, notes, gmail_message_id, gmail_thread_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessageRow(s rowScanner) (*MessageRow, error) {
	var r MessageRow
	var (
		messageIDNorm, subject, from, to, cc, bcc                    sql.NullString
		dateHeader, receivedAt, lastErrorAt                          sql.NullTime
		evidencePath, evidenceSHA256, skipReason, lastErrorKind      sql.NullString
		notes, gmailMessageID, gmailThreadID                         sql.NullString
		sizeBytes                                                    sql.NullInt64
		status                                                       string
	)
	if err := s.Scan(
		&r.ID, &r.Fingerprint, &messageIDNorm, &r.Folder, &r.UID, &r.UIDValidity, &subject,
		&from, &to, &cc, &bcc, &dateHeader, &receivedAt,
		&evidencePath, &evidenceSHA256, &sizeBytes, &status, &skipReason, &r.RetryCount,
		&lastErrorKind, &lastErrorAt, &notes, &gmailMessageID, &gmailThreadID, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}

	r.MessageIDNorm = messageIDNorm.String
	r.Subject = subject.String
	r.From = from.String
	r.To = to.String
	r.CC = cc.String
	r.BCC = bcc.String
	r.DateHeader = dateHeader.Time
	r.ReceivedAt = receivedAt.Time
	r.EvidencePath = evidencePath.String
	r.EvidenceSHA256 = evidenceSHA256.String
	r.SizeBytes = sizeBytes.Int64
	r.Status = Status(status)
	r.SkipReason = skipReason.String
	r.LastErrorKind = lastErrorKind.String
	r.LastErrorAt = lastErrorAt.Time
	r.Notes = notes.String
	r.GmailMessageID = gmailMessageID.String
	r.GmailThreadID = gmailThreadID.String
	return &r, nil
}

func (d *DB) queryRows(ctx context.Context, query string, args ...any) ([]*MessageRow, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*MessageRow
	for rows.Next() {
		r, err := scanMessageRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
