package blobstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stagecore/stagecore/pkg/chash"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestPutBytesReadRoundTrip(t *testing.T) {
	s := tempStore(t)
	data := []byte("hello world")

	h, err := s.PutBytes(data)
	if err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	if h != chash.HashBytes(data) {
		t.Fatalf("PutBytes returned %s, want %s", h, chash.HashBytes(data))
	}

	got, err := s.Read(h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Read = %q, want %q", got, data)
	}
}

func TestHasFalseForMissing(t *testing.T) {
	s := tempStore(t)
	if s.Has(chash.HashBytes([]byte("never written"))) {
		t.Fatal("Has returned true for a blob never written")
	}
}

func TestPutBytesIdempotent(t *testing.T) {
	s := tempStore(t)
	data := []byte("same bytes")

	h1, err := s.PutBytes(data)
	if err != nil {
		t.Fatalf("PutBytes #1: %v", err)
	}
	h2, err := s.PutBytes(data)
	if err != nil {
		t.Fatalf("PutBytes #2: %v", err)
	}
	if h1 != h2 {
		t.Fatal("PutBytes produced two different hashes for identical content")
	}

	entries, err := os.ReadDir(s.staging)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging dir not empty after idempotent insert: %v", entries)
	}
}

func TestReadMissingReturnsNotFound(t *testing.T) {
	s := tempStore(t)
	_, err := s.Read(chash.HashBytes([]byte("missing")))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read error = %v, want ErrNotFound", err)
	}
}

func TestPutFileHashesTheCopy(t *testing.T) {
	s := tempStore(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	content := []byte("file content for CAS")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	h, err := s.PutFile(src)
	if err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if h != chash.HashBytes(content) {
		t.Fatalf("PutFile hash = %s, want %s", h, chash.HashBytes(content))
	}

	got, err := s.Read(h)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("blob content does not match source file")
	}
}

func TestMaterializeProducesByteIdenticalFiles(t *testing.T) {
	s := tempStore(t)
	data := []byte("materialize me")
	h, err := s.PutBytes(data)
	if err != nil {
		t.Fatal(err)
	}

	workspace := t.TempDir()
	destA := filepath.Join(workspace, "a", "out.txt")
	destB := filepath.Join(workspace, "b", "out.txt")

	if err := s.Materialize(h, destA, 0o644); err != nil {
		t.Fatalf("Materialize A: %v", err)
	}
	if err := s.Materialize(h, destB, 0o600); err != nil {
		t.Fatalf("Materialize B: %v", err)
	}

	gotA, err := os.ReadFile(destA)
	if err != nil {
		t.Fatal(err)
	}
	gotB, err := os.ReadFile(destB)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotA, gotB) || !bytes.Equal(gotA, data) {
		t.Fatal("two materializations of the same hash were not byte-identical")
	}

	infoA, _ := os.Stat(destA)
	infoB, _ := os.Stat(destB)
	if infoA.Mode().Perm() != 0o644 {
		t.Fatalf("destA mode = %o, want 0644", infoA.Mode().Perm())
	}
	if infoB.Mode().Perm() != 0o600 {
		t.Fatalf("destB mode = %o, want 0600", infoB.Mode().Perm())
	}
}

func TestMaterializeMissingBlobFails(t *testing.T) {
	s := tempStore(t)
	dest := filepath.Join(t.TempDir(), "out.txt")
	err := s.Materialize(chash.HashBytes([]byte("never stored")), dest, 0o644)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Materialize error = %v, want ErrNotFound", err)
	}
}

func TestMaterializeOverwritesExistingFile(t *testing.T) {
	s := tempStore(t)
	h1, _ := s.PutBytes([]byte("v1"))
	h2, _ := s.PutBytes([]byte("v2"))

	dest := filepath.Join(t.TempDir(), "x")
	if err := s.Materialize(h1, dest, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Materialize(h2, dest, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v2" {
		t.Fatalf("dest content = %q, want v2", got)
	}
	info, _ := os.Stat(dest)
	if info.Mode().Perm() != 0o755 {
		t.Fatalf("dest mode = %o, want 0755", info.Mode().Perm())
	}
}

func TestFanoutLayout(t *testing.T) {
	s := tempStore(t)
	h, err := s.PutBytes([]byte("fanout"))
	if err != nil {
		t.Fatal(err)
	}
	prefix, suffix := h.Shard()
	path := filepath.Join(s.root, blobsDirName, prefix, suffix)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected blob at %q: %v", path, err)
	}
}
