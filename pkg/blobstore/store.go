// Package blobstore implements a sharded, deduplicating,
// reflink-capable content-addressable blob store.
//
// The store is append-only: entries are written once via rename-into-place
// and never mutated or deleted by this package.
package blobstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stagecore/stagecore/pkg/chash"
	"github.com/stagecore/stagecore/pkg/filecopy"
)

var (
	// ErrNotFound is returned when a requested blob does not exist.
	ErrNotFound = errors.New("blobstore: not found")
	// ErrInvalidHash is reserved for malformed hash input; nothing in this
	// package returns it today (hex parsing errors come from chash.FromHex).
	ErrInvalidHash = errors.New("blobstore: invalid hash")
	// ErrCorruptedData is reserved for future integrity checking; nothing in
	// this package raises it today.
	ErrCorruptedData = errors.New("blobstore: corrupted data")
	// ErrAlreadyExists is reserved; insertion treats an existing blob as a
	// successful no-op rather than an error.
	ErrAlreadyExists = errors.New("blobstore: already exists")
)

const (
	blobsDirName    = "blobs"
	stagingDirName  = "staging"
	dirMode         = 0o755
	stagingTempGlob = ".tmp-*"
)

// Store is a content-addressed blob store rooted at a directory containing
// blobs/ (the sharded CAS) and staging/ (scratch space for atomic inserts).
type Store struct {
	root    string
	blobs   string
	staging string
}

// Open creates blobs/ and staging/ under root if absent and returns a
// handle to the store. It fails only on permission or out-of-space errors.
func Open(root string) (*Store, error) {
	s := &Store{
		root:    root,
		blobs:   filepath.Join(root, blobsDirName),
		staging: filepath.Join(root, stagingDirName),
	}
	for _, dir := range []string{s.blobs, s.staging} {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return nil, fmt.Errorf("blobstore: open %q: %w", root, err)
		}
	}
	return s, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// StagingDir returns the store's staging/ directory, reused by stagefs as
// the job view's scratch area for newly created files.
func (s *Store) StagingDir() string { return s.staging }

// PathOf returns the filesystem path a blob with hash h would occupy. The
// path need not exist.
func (s *Store) PathOf(h chash.ContentHash) string {
	prefix, suffix := h.Shard()
	return filepath.Join(s.blobs, prefix, suffix)
}

// Has reports whether a blob with hash h is present. Presence is the sole
// authoritative "has" predicate; no content check is performed.
func (s *Store) Has(h chash.ContentHash) bool {
	_, err := os.Stat(s.PathOf(h))
	return err == nil
}

// PutBytes computes the hash of data and, if absent, writes it into the
// store via a temp-file-then-rename sequence. Concurrent PutBytes calls for
// identical content are both correct: whichever rename wins, the loser's
// temp file is removed, and an EEXIST race is treated as success.
func (s *Store) PutBytes(data []byte) (chash.ContentHash, error) {
	h := chash.HashBytes(data)
	if s.Has(h) {
		return h, nil
	}

	tmp, err := os.CreateTemp(s.staging, stagingTempGlob)
	if err != nil {
		return chash.ContentHash{}, fmt.Errorf("blobstore: put bytes: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return chash.ContentHash{}, fmt.Errorf("blobstore: put bytes: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return chash.ContentHash{}, fmt.Errorf("blobstore: put bytes: close: %w", err)
	}

	if err := s.renameIntoPlace(tmpName, h); err != nil {
		return chash.ContentHash{}, err
	}
	return h, nil
}

// PutFile copies src into the store's staging area (reflink-first), hashes
// the bytes actually written to the copy, and if a blob with that hash is
// absent, renames the copy into place; otherwise the copy is discarded.
// Hashing the copy rather than the source file means a concurrent mutation
// of src after the copy starts can never produce a blob that doesn't match
// its own content.
func (s *Store) PutFile(src string) (chash.ContentHash, error) {
	tmp, err := os.CreateTemp(s.staging, stagingTempGlob)
	if err != nil {
		return chash.ContentHash{}, fmt.Errorf("blobstore: put file: tmpfile: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	os.Remove(tmpName)

	if _, err := filecopy.CopyWithMode(src, tmpName, 0o600); err != nil {
		return chash.ContentHash{}, fmt.Errorf("blobstore: put file %q: %w", src, err)
	}

	h, err := chash.HashFile(tmpName)
	if err != nil {
		os.Remove(tmpName)
		return chash.ContentHash{}, fmt.Errorf("blobstore: put file %q: %w", src, err)
	}

	if s.Has(h) {
		os.Remove(tmpName)
		return h, nil
	}
	if err := s.renameIntoPlace(tmpName, h); err != nil {
		return chash.ContentHash{}, err
	}
	return h, nil
}

// Read returns the full contents of the blob with hash h.
func (s *Store) Read(h chash.ContentHash) ([]byte, error) {
	data, err := os.ReadFile(s.PathOf(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blobstore: read %s: %w", h, ErrNotFound)
		}
		return nil, fmt.Errorf("blobstore: read %s: %w", h, err)
	}
	return data, nil
}

// Materialize installs the blob with hash h at dest with the given mode,
// creating parent directories as needed. It copies to a unique
// pid-suffixed temp path (dest.<pid>.<random>.tmp) adjacent to dest and
// renames over dest, so any observer of dest sees
// either the prior content or the new content, never a partial write.
func (s *Store) Materialize(h chash.ContentHash, dest string, mode os.FileMode) error {
	if !s.Has(h) {
		return fmt.Errorf("blobstore: materialize %s -> %q: %w", h, dest, ErrNotFound)
	}

	if err := os.MkdirAll(filepath.Dir(dest), dirMode); err != nil {
		return fmt.Errorf("blobstore: materialize %s -> %q: mkdir: %w", h, dest, err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dest), fmt.Sprintf("%s.%d.*.tmp", filepath.Base(dest), os.Getpid()))
	if err != nil {
		return fmt.Errorf("blobstore: materialize %s -> %q: tmpfile: %w", h, dest, err)
	}
	tmp := tmpFile.Name()
	tmpFile.Close()
	os.Remove(tmp)
	if _, err := filecopy.CopyWithMode(s.PathOf(h), tmp, mode); err != nil {
		return fmt.Errorf("blobstore: materialize %s -> %q: %w", h, dest, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("blobstore: materialize %s -> %q: rename: %w", h, dest, err)
	}
	return nil
}

// renameIntoPlace moves tmpName into the blob's canonical shard path,
// creating the shard directory if needed and tolerating a concurrent
// insertion of the same content (EEXIST) as success.
func (s *Store) renameIntoPlace(tmpName string, h chash.ContentHash) error {
	prefix, _ := h.Shard()
	shardDir := filepath.Join(s.blobs, prefix)
	if err := os.MkdirAll(shardDir, dirMode); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blobstore: mkdir shard %q: %w", shardDir, err)
	}

	dest := s.PathOf(h)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("blobstore: rename into place %q: %w", dest, err)
	}
	return nil
}
