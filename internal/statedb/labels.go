package statedb

import (
	"context"
	"database/sql"
	"fmt"
)

// GetLabelID returns the cached Gmail label id for customLabel, if one has
// been created before. found is false if the label has never been seen.
func (d *DB) GetLabelID(ctx context.Context, customLabel string) (id string, found bool, err error) {
	var nullable sql.NullString
	err = d.db.QueryRowContext(ctx,
		`SELECT gmail_label_id FROM labels WHERE custom_label = ?`, customLabel).Scan(&nullable)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get_label_id: %w", err)
	}
	return nullable.String, nullable.Valid && nullable.String != "", nil
}

// SetLabelID persists the Gmail label id created for customLabel, so a
// later run does not recreate it.
func (d *DB) SetLabelID(ctx context.Context, customLabel, gmailLabelID string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO labels (custom_label, gmail_label_id) VALUES (?, ?)
		ON CONFLICT(custom_label) DO UPDATE SET gmail_label_id = excluded.gmail_label_id`,
		customLabel, gmailLabelID)
	if err != nil {
		return fmt.Errorf("set_label_id: %w", err)
	}
	return nil
}

// ListLabelMappings returns every known custom-label -> Gmail-label-id
// mapping, in the form LabelCache.Warm accepts.
func (d *DB) ListLabelMappings(ctx context.Context) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT custom_label, gmail_label_id FROM labels WHERE gmail_label_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list_label_mappings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var label, id string
		if err := rows.Scan(&label, &id); err != nil {
			return nil, fmt.Errorf("scan label mapping: %w", err)
		}
		out[label] = id
	}
	return out, rows.Err()
}
