// Package evidence writes immutable, content-addressed .eml files: the
// on-disk record that a message was observed on the source mailbox,
// independent of whatever the destination later does with it.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lu-zhengda/icloud-to-gmail/internal/migerr"
)

// WriteResult describes a written or already-present evidence file.
type WriteResult struct {
	Path      string // relative to Root
	SHA256    string
	SizeBytes int64
}

// ErrCorruption is returned when an existing evidence file's hash does not
// match the hash of the bytes being written under the same fingerprint.
var ErrCorruption = fmt.Errorf("evidence file exists with a different hash")

// Store writes raw RFC 5322 bytes to content-addressed, read-only files
// under Root.
type Store struct {
	Root string
}

// New returns a Store rooted at root. The directory is created lazily on
// first write, not here.
func New(root string) *Store {
	return &Store{Root: root}
}

// RelativePath returns the evidence-root-relative path for a fingerprint,
// fanning out by the first two byte-pairs to bound per-directory size:
// <aa>/<bb>/<fingerprint>.eml.
func RelativePath(fingerprint string) string {
	aa, bb := "00", "00"
	if len(fingerprint) >= 4 {
		aa, bb = fingerprint[0:2], fingerprint[2:4]
	}
	return filepath.Join(aa, bb, fingerprint+".eml")
}

// WriteImmutable writes raw to the content-addressed path for fingerprint.
// If a file already exists there, its hash is compared against raw's hash:
// a match returns the existing identity, a mismatch is EvidenceCorruption.
// The write itself is: write to a sibling temp file, fsync, atomically
// rename into place, fsync the directory, then chmod read-only — so a
// partial write is never observable; only the rename commits it.
func (s *Store) WriteImmutable(fingerprint string, raw []byte) (WriteResult, error) {
	rel := RelativePath(fingerprint)
	target := filepath.Join(s.Root, rel)
	dir := filepath.Dir(target)

	expected := sha256Hex(raw)

	if info, err := os.Stat(target); err == nil {
		actual, err := sha256File(target)
		if err != nil {
			return WriteResult{}, migerr.New(migerr.EvidenceIO, "stat existing evidence", err)
		}
		if actual != expected {
			return WriteResult{}, migerr.New(migerr.EvidenceCorruption, target, ErrCorruption)
		}
		return WriteResult{Path: rel, SHA256: actual, SizeBytes: info.Size()}, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WriteResult{}, migerr.New(migerr.EvidenceIO, "mkdir evidence dir", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return WriteResult{}, migerr.New(migerr.EvidenceIO, "create temp evidence file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return WriteResult{}, migerr.New(migerr.EvidenceIO, "write temp evidence file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return WriteResult{}, migerr.New(migerr.EvidenceIO, "fsync temp evidence file", err)
	}
	if err := tmp.Close(); err != nil {
		return WriteResult{}, migerr.New(migerr.EvidenceIO, "close temp evidence file", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		return WriteResult{}, migerr.New(migerr.EvidenceIO, "rename evidence file into place", err)
	}

	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}

	if err := os.Chmod(target, 0o444); err != nil {
		// Best-effort immutability; the write itself already committed.
		return WriteResult{Path: rel, SHA256: expected, SizeBytes: int64(len(raw))}, nil
	}

	return WriteResult{Path: rel, SHA256: expected, SizeBytes: int64(len(raw))}, nil
}

// Verify recomputes the SHA-256 of the file at rel (relative to Root) and
// compares it against want, also checking the file's size against
// wantSize. It never mutates anything.
func (s *Store) Verify(rel, want string, wantSize int64) (ok bool, err error) {
	full := filepath.Join(s.Root, rel)
	info, err := os.Stat(full)
	if err != nil {
		return false, nil
	}
	if info.Size() != wantSize {
		return false, nil
	}
	actual, err := sha256File(full)
	if err != nil {
		return false, migerr.New(migerr.EvidenceIO, "verify evidence file", err)
	}
	return actual == want, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
