// Package materialize implements the Materializer: it consumes a Manifest
// (possibly transported from another host), ingests staged files into the
// blob store, installs every entry at its destination path, applies mode
// and mtime, and removes consumed staging files.
package materialize

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stagecore/stagecore/pkg/blobstore"
	"github.com/stagecore/stagecore/pkg/manifest"
)

// ErrIntegrity is returned when a file's re-hashed content does not match
// the hash declared in the manifest entry. The blob that was inserted
// while re-hashing is left in CAS: byte-identical reinsertion is
// idempotent, and a mismatch indicates upstream corruption the driver must
// surface.
var ErrIntegrity = errors.New("materialize: content hash does not match manifest entry")

const dirMode = 0o755

// EntryError reports the destination path and underlying cause of one
// failed manifest entry, letting Apply accumulate failures across entries
// instead of aborting the whole run.
type EntryError struct {
	DestPath string
	Err      error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("materialize %q: %v", e.DestPath, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// Report collects the per-entry outcome of one Apply run.
type Report struct {
	Applied []string
	Failed  []*EntryError
}

// OK reports whether every manifest entry materialized successfully.
func (r *Report) OK() bool { return len(r.Failed) == 0 }

// Apply installs every entry of m into workspaceRoot, in m.Outputs order,
// using store as the local blob store. An entry's failure is recorded in
// the returned Report and does not stop later entries: the build driver
// treats the whole job as the atomic unit at a higher layer, so previously
// materialized entries of the same job are not rolled back.
func Apply(m *manifest.Manifest, store *blobstore.Store, workspaceRoot string) (*Report, error) {
	report := &Report{}

	order := m.Outputs
	if len(order) == 0 {
		order = m.SortedDestPaths()
	}

	for _, destRel := range order {
		entry, ok := m.Entries[destRel]
		if !ok {
			continue
		}
		dest := filepath.Join(workspaceRoot, destRel)

		if err := os.MkdirAll(filepath.Dir(dest), dirMode); err != nil {
			report.Failed = append(report.Failed, &EntryError{DestPath: destRel, Err: fmt.Errorf("mkdir parent: %w", err)})
			continue
		}

		var applyErr error
		switch entry.Type {
		case manifest.TypeFile:
			applyErr = applyFile(entry, store, dest)
		case manifest.TypeSymlink:
			applyErr = applySymlink(entry, dest)
		case manifest.TypeDirectory:
			applyErr = applyDirectory(entry, dest)
		default:
			applyErr = fmt.Errorf("unknown entry type %q", entry.Type)
		}

		if applyErr != nil {
			report.Failed = append(report.Failed, &EntryError{DestPath: destRel, Err: applyErr})
			continue
		}
		report.Applied = append(report.Applied, destRel)
	}

	return report, nil
}

// applyFile ingests entry's staging file into store, verifies the
// resulting hash matches the manifest's declared hash, installs the blob
// at dest with the declared mode, applies the declared mtime, and
// best-effort removes the staging file. The four steps run in this fixed
// order.
func applyFile(entry *manifest.Entry, store *blobstore.Store, dest string) error {
	h, err := store.PutFile(entry.StagingPath)
	if err != nil {
		return fmt.Errorf("ingest %q: %w", entry.StagingPath, err)
	}
	if h != entry.Hash {
		return fmt.Errorf("%w: staged %s, declared %s", ErrIntegrity, h, entry.Hash)
	}

	mode := os.FileMode(entry.Mode & 0o7777)
	if mode == 0 {
		mode = 0o644
	}
	if err := store.Materialize(entry.Hash, dest, mode); err != nil {
		return fmt.Errorf("install: %w", err)
	}

	mtime := time.Unix(entry.MTimeSec, int64(entry.MTimeNsec))
	if err := os.Chtimes(dest, time.Time{}, mtime); err != nil {
		return fmt.Errorf("set mtime: %w", err)
	}

	if err := os.Remove(entry.StagingPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "materialize: warning: remove staging file %q: %v\n", entry.StagingPath, err)
	}

	return nil
}

// applySymlink best-effort removes any existing file at dest, then creates
// the declared symlink. A dangling target is not an error.
func applySymlink(entry *manifest.Entry, dest string) error {
	os.Remove(dest)
	if err := os.Symlink(entry.Target, dest); err != nil {
		return fmt.Errorf("symlink: %w", err)
	}
	return nil
}

// applyDirectory ensures dest exists as a directory with the declared
// mode, tolerating a concurrent materializer racing to create the same
// directory (EEXIST).
func applyDirectory(entry *manifest.Entry, dest string) error {
	mode := os.FileMode(entry.Mode & 0o7777)
	if mode == 0 {
		mode = 0o755
	}

	info, err := os.Lstat(dest)
	switch {
	case err == nil && info.IsDir():
		if err := os.Chmod(dest, mode); err != nil {
			return fmt.Errorf("chmod: %w", err)
		}
		return nil
	case err == nil:
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("remove non-directory: %w", err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("lstat: %w", err)
	}

	if err := os.Mkdir(dest, mode); err != nil && !os.IsExist(err) {
		return fmt.Errorf("mkdir: %w", err)
	}
	return nil
}
