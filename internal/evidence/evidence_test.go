package evidence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lu-zhengda/icloud-to-gmail/internal/migerr"
)

func TestWriteImmutable_WritesReadOnlyFile(t *testing.T) {
	store := New(t.TempDir())
	fp := "aabbccdd00112233445566778899aabbccddeeff00112233445566778899aa"

	res, err := store.WriteImmutable(fp, []byte("hello world"))
	if err != nil {
		t.Fatalf("WriteImmutable() error: %v", err)
	}
	if res.Path != filepath.Join("aa", "bb", fp+".eml") {
		t.Errorf("Path = %q, want fanout path", res.Path)
	}
	if res.SizeBytes != 11 {
		t.Errorf("SizeBytes = %d, want 11", res.SizeBytes)
	}

	full := filepath.Join(store.Root, res.Path)
	info, err := os.Stat(full)
	if err != nil {
		t.Fatalf("stat written file: %v", err)
	}
	if info.Mode().Perm()&0o222 != 0 {
		t.Errorf("file mode = %v, want read-only", info.Mode())
	}
}

func TestWriteImmutable_IdenticalContentConverges(t *testing.T) {
	store := New(t.TempDir())
	fp := "aabbccdd00112233445566778899aabbccddeeff00112233445566778899aa"

	first, err := store.WriteImmutable(fp, []byte("hello world"))
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	second, err := store.WriteImmutable(fp, []byte("hello world"))
	if err != nil {
		t.Fatalf("second write (same content) should converge, got error: %v", err)
	}
	if first.SHA256 != second.SHA256 {
		t.Errorf("converged write hash mismatch")
	}
}

func TestWriteImmutable_DifferingContentIsCorruption(t *testing.T) {
	store := New(t.TempDir())
	fp := "aabbccdd00112233445566778899aabbccddeeff00112233445566778899aa"

	if _, err := store.WriteImmutable(fp, []byte("hello world")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	_, err := store.WriteImmutable(fp, []byte("goodbye world"))
	if err == nil {
		t.Fatal("expected EvidenceCorruption for differing content at same fingerprint")
	}
	if kind, ok := migerr.As(err); !ok || kind != migerr.EvidenceCorruption {
		t.Errorf("error kind = %v (ok=%v), want EvidenceCorruption", kind, ok)
	}
}

func TestVerify(t *testing.T) {
	store := New(t.TempDir())
	fp := "aabbccdd00112233445566778899aabbccddeeff00112233445566778899aa"
	res, err := store.WriteImmutable(fp, []byte("hello world"))
	if err != nil {
		t.Fatalf("WriteImmutable: %v", err)
	}

	ok, err := store.Verify(res.Path, res.SHA256, res.SizeBytes)
	if err != nil || !ok {
		t.Fatalf("Verify() = (%v, %v), want (true, nil)", ok, err)
	}

	full := filepath.Join(store.Root, res.Path)
	_ = os.Chmod(full, 0o644)
	corrupted := []byte("Xello world")
	if err := os.WriteFile(full, corrupted, 0o644); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}
	ok, err = store.Verify(res.Path, res.SHA256, res.SizeBytes)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if ok {
		t.Error("Verify() = true after bit-flip, want false")
	}
}
