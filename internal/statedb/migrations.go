package statedb

const schema = `
PRAGMA user_version = 1;

CREATE TABLE IF NOT EXISTS folders (
    name             TEXT NOT NULL,
    uidvalidity      INTEGER NOT NULL,
    highest_uid_done INTEGER NOT NULL DEFAULT 0,
    last_scan_at     DATETIME,
    message_count    INTEGER NOT NULL DEFAULT 0,
    status           TEXT NOT NULL DEFAULT 'scanning',
    PRIMARY KEY (name, uidvalidity)
);

CREATE TABLE IF NOT EXISTS messages (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    fingerprint      TEXT NOT NULL,
    message_id_norm  TEXT,
    folder           TEXT NOT NULL,
    uid              INTEGER NOT NULL,
    uidvalidity      INTEGER NOT NULL,
    subject          TEXT,
    from_addr        TEXT,
    to_addrs         TEXT,
    cc_addrs         TEXT,
    bcc_addrs        TEXT,
    date_header      DATETIME,
    received_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
    evidence_path    TEXT,
    evidence_sha256  TEXT,
    size_bytes       INTEGER,
    status           TEXT NOT NULL DEFAULT 'discovered',
    skip_reason      TEXT,
    retry_count      INTEGER NOT NULL DEFAULT 0,
    last_error_kind  TEXT,
    last_error_at    DATETIME,
    notes            TEXT,
    gmail_message_id TEXT,
    gmail_thread_id  TEXT,
    created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(folder, uid, uidvalidity)
);

-- Same exclusion as idx_messages_fingerprint_primary below: a
-- skip_reason='duplicate' reference row intentionally carries the same
-- message_id_norm as the primary row it duplicates, so the uniqueness
-- here cannot be unconditional either.
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_message_id_norm
    ON messages(message_id_norm)
    WHERE message_id_norm IS NOT NULL AND message_id_norm != ''
    AND (skip_reason IS NULL OR skip_reason != 'duplicate');
CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);

-- Only one row per fingerprint may carry the discovery/download/import
-- lifecycle (skip_reason other than 'duplicate'); every later sighting of
-- the same fingerprint under a different (folder, uid, uidvalidity) gets
-- its own skip_reason='duplicate' reference row with no evidence, so the
-- fingerprint itself is not unique across the table.
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_fingerprint_primary
    ON messages(fingerprint) WHERE skip_reason IS NULL OR skip_reason != 'duplicate';
CREATE INDEX IF NOT EXISTS idx_messages_fingerprint ON messages(fingerprint);

CREATE TABLE IF NOT EXISTS labels (
    custom_label   TEXT PRIMARY KEY,
    gmail_label_id TEXT,
    created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
);
`
