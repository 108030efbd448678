package statedb

import (
	"context"
	"database/sql"
	"fmt"
)

// CheckpointFolder upserts a folder's scan progress. Advancing
// highestUIDDone is the caller's responsibility; this call never moves it
// backwards implicitly (reset does that explicitly via Reset).
func (d *DB) CheckpointFolder(ctx context.Context, name string, uidvalidity, highestUIDDone uint32, status FolderStatus) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO folders (name, uidvalidity, highest_uid_done, last_scan_at, status)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, ?)
		ON CONFLICT(name, uidvalidity) DO UPDATE SET
			highest_uid_done = MAX(highest_uid_done, excluded.highest_uid_done),
			last_scan_at = CURRENT_TIMESTAMP,
			status = excluded.status`,
		name, uidvalidity, highestUIDDone, string(status))
	if err != nil {
		return fmt.Errorf("checkpoint_folder: %w", err)
	}
	return nil
}

// GetFolder fetches a folder checkpoint by name and UIDVALIDITY. It
// returns (nil, nil) if no checkpoint exists yet — a UIDVALIDITY the
// server has never reported before, so the folder is scanned from UID 0.
func (d *DB) GetFolder(ctx context.Context, name string, uidvalidity uint32) (*FolderRow, error) {
	row, err := scanFolderRow(d.db.QueryRowContext(ctx,
		`SELECT name, uidvalidity, highest_uid_done, last_scan_at, message_count, status
		 FROM folders WHERE name = ? AND uidvalidity = ?`, name, uidvalidity))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_folder: %w", err)
	}
	return row, nil
}

// ListFolders returns every folder checkpoint, used by report generation.
func (d *DB) ListFolders(ctx context.Context) ([]*FolderRow, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name, uidvalidity, highest_uid_done, last_scan_at, message_count, status FROM folders ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list_folders: %w", err)
	}
	defer rows.Close()

	var out []*FolderRow
	for rows.Next() {
		r, err := scanFolderRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanFolderRow(s rowScanner) (*FolderRow, error) {
	var r FolderRow
	var lastScanAt sql.NullTime
	var status string
	if err := s.Scan(&r.Name, &r.UIDValidity, &r.HighestUIDDone, &lastScanAt, &r.MessageCount, &status); err != nil {
		return nil, err
	}
	r.LastScanAt = lastScanAt.Time
	r.Status = FolderStatus(status)
	return &r, nil
}
