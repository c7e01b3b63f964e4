package filecopy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyWithModePreservesContentAndMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")

	content := []byte("copy me byte for byte")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := CopyWithMode(src, dst, 0o600)
	if err != nil {
		t.Fatalf("CopyWithMode: %v", err)
	}
	if n != int64(len(content)) {
		t.Fatalf("copied %d bytes, want %d", n, len(content))
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("dst content = %q, want %q", got, content)
	}

	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("dst mode = %o, want %o", info.Mode().Perm(), 0o600)
	}
}

func TestCopyWithModeFailsIfDestinationExists(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")

	if err := os.WriteFile(src, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := CopyWithMode(src, dst, 0o644); err == nil {
		t.Fatal("expected error copying onto an existing destination")
	}
}

func TestCopyWithModeEmptyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")

	if err := os.WriteFile(src, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := CopyWithMode(src, dst, 0o644)
	if err != nil {
		t.Fatalf("CopyWithMode: %v", err)
	}
	if n != 0 {
		t.Fatalf("copied %d bytes, want 0", n)
	}
}
