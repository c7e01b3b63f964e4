package stagefs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/stagecore/stagecore/pkg/blobstore"
	"github.com/stagecore/stagecore/pkg/manifest"
)

// ErrInvisible is returned for any operation on a path the job was never
// given access to: the last-resort step of the open/getattr routing chain.
// Rename, Unlink and Readlink act on staged items only and return it for
// any path that is not staged, visible or not.
var ErrInvisible = errors.New("stagefs: path not visible to job")

// StagingIDSource allocates the monotonically increasing staging ids that
// back staged files. It is implemented by *session.Manager; stagefs only
// needs the allocator, not the rest of the manager.
type StagingIDSource interface {
	NextStagingID() uint64
}

// View is one job's interposed filesystem: it binds a JobSession to a
// blob store and a staging-id source and implements the path routing
// policy (staged, then visible-hashed, then visible-workspace-fallback,
// then invisible).
type View struct {
	session     *JobSession
	store       *blobstore.Store
	stagingRoot string
	ids         StagingIDSource
}

// NewView returns a View serving session's reads from store and writing
// new staged files under stagingRoot (normally store's own staging/
// directory, reused as the job's scratch area).
func NewView(session *JobSession, store *blobstore.Store, stagingRoot string, ids StagingIDSource) *View {
	return &View{session: session, store: store, stagingRoot: stagingRoot, ids: ids}
}

// Handle is a live file descriptor bound to a staged file.
type Handle struct {
	f    *os.File
	item *StagedItem
}

func (v *View) stagingPath(id uint64) string {
	return filepath.Join(v.stagingRoot, strconv.FormatUint(id, 10))
}

// Create implements create(path, mode) / open(path, O_CREAT, mode): it
// allocates a new staging file and records a file StagedItem.
func (v *View) Create(path string, mode uint32) (*Handle, error) {
	id := v.ids.NextStagingID()
	stagingPath := v.stagingPath(id)

	f, err := os.OpenFile(stagingPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, DefaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("stagefs: create %q: %w", path, err)
	}

	item := NewFile(v.session.JobID, stagingPath, path, mode)
	v.session.Stage(item)
	return &Handle{f: f, item: item}, nil
}

// Write writes buf to the staging file backing handle at the given offset.
func (v *View) Write(h *Handle, buf []byte, off int64) (int, error) {
	if _, err := h.f.Seek(off, io.SeekStart); err != nil {
		return 0, fmt.Errorf("stagefs: write %q: seek: %w", h.item.DestPath, err)
	}
	n, err := h.f.Write(buf)
	if err != nil {
		return n, fmt.Errorf("stagefs: write %q: %w", h.item.DestPath, err)
	}
	return n, nil
}

// Release closes the handle's file descriptor and decrements its open
// count. No hashing or CAS insertion happens here: the staging file
// persists for the post-processor to hash later.
func (v *View) Release(h *Handle) error {
	h.item.OpenCount--
	if err := h.f.Close(); err != nil {
		return fmt.Errorf("stagefs: release %q: %w", h.item.DestPath, err)
	}
	return nil
}

// Open opens path for reading: staged items are served from their staging
// file; visible-hashed paths are served from the blob store; visible bare
// paths fall back to the workspace; anything else is EACCES.
func (v *View) Open(path, workspaceRoot string) (io.ReadCloser, error) {
	if item, ok := v.session.Staged(path); ok {
		if item.Kind != manifest.TypeFile {
			return nil, fmt.Errorf("stagefs: open %q: not a regular file", path)
		}
		f, err := os.Open(item.StagingPath)
		if err != nil {
			return nil, fmt.Errorf("stagefs: open staged %q: %w", path, err)
		}
		return f, nil
	}

	if h, ok := v.session.VisibleHash(path); ok {
		if v.store.Has(h) {
			f, err := os.Open(v.store.PathOf(h))
			if err != nil {
				return nil, fmt.Errorf("stagefs: open blob for %q: %w", path, err)
			}
			v.session.MarkRead(path)
			return f, nil
		}
		// Blob missing: legacy input, fall through to the workspace.
	}

	if v.session.IsVisible(path) {
		f, err := os.Open(filepath.Join(workspaceRoot, path))
		if err != nil {
			return nil, fmt.Errorf("stagefs: open workspace fallback %q: %w", path, err)
		}
		v.session.MarkRead(path)
		return f, nil
	}

	return nil, fmt.Errorf("stagefs: open %q: %w", path, ErrInvisible)
}

// Getattr synthesizes attributes for path following the same routing
// policy as Open.
func (v *View) Getattr(path, workspaceRoot string) (*Attr, error) {
	if item, ok := v.session.Staged(path); ok {
		switch item.Kind {
		case manifest.TypeFile:
			info, err := os.Stat(item.StagingPath)
			if err != nil {
				return nil, fmt.Errorf("stagefs: getattr staged %q: %w", path, err)
			}
			return &Attr{Size: info.Size(), Mode: item.Mode}, nil
		case manifest.TypeDirectory:
			return &Attr{Mode: item.Mode, IsDir: true}, nil
		case manifest.TypeSymlink:
			return &Attr{Mode: 0o777}, nil
		}
	}

	if h, ok := v.session.VisibleHash(path); ok && v.store.Has(h) {
		info, err := os.Stat(v.store.PathOf(h))
		if err != nil {
			return nil, fmt.Errorf("stagefs: getattr blob for %q: %w", path, err)
		}
		return &Attr{Size: info.Size(), Mode: 0o444}, nil
	}

	if v.session.IsVisible(path) {
		info, err := os.Stat(filepath.Join(workspaceRoot, path))
		if err != nil {
			return nil, fmt.Errorf("stagefs: getattr workspace fallback %q: %w", path, err)
		}
		return &Attr{Size: info.Size(), Mode: uint32(info.Mode().Perm())}, nil
	}

	return nil, fmt.Errorf("stagefs: getattr %q: %w", path, ErrInvisible)
}

// Chmod updates the declared mode of a staged file or directory. If the
// underlying staging file was already consumed by the materializer,
// ENOENT is swallowed: the in-memory mode still governs the manifest.
func (v *View) Chmod(path string, mode uint32) error {
	item, ok := v.session.Staged(path)
	if !ok {
		// Visible-but-not-staged paths are a no-op: the manifest carries
		// mode only for staged entries.
		if v.session.IsVisible(path) {
			return nil
		}
		return fmt.Errorf("stagefs: chmod %q: %w", path, ErrInvisible)
	}

	item.Mode = mode & 0o7777
	if item.Kind != manifest.TypeFile {
		return nil
	}
	if err := os.Chmod(item.StagingPath, os.FileMode(item.Mode)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("stagefs: chmod %q: %w", path, err)
	}
	return nil
}

// Utimens records the declared mtime on a staged item and, for files, on
// the staging file itself.
func (v *View) Utimens(path string, sec int64, nsec int32) error {
	item, ok := v.session.Staged(path)
	if !ok {
		if v.session.IsVisible(path) {
			return nil
		}
		return fmt.Errorf("stagefs: utimens %q: %w", path, ErrInvisible)
	}

	item.MTimeSec = sec
	item.MTimeNsec = nsec
	if item.Kind != manifest.TypeFile {
		return nil
	}
	t := time.Unix(sec, int64(nsec))
	if err := os.Chtimes(item.StagingPath, t, t); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("stagefs: utimens %q: %w", path, err)
	}
	return nil
}

// Rename moves a staged item from one dest path to another. ENOENT on the
// underlying staging file is tolerated: it may already have been consumed.
func (v *View) Rename(from, to string) error {
	if _, ok := v.session.RenameStaged(from, to); !ok {
		return fmt.Errorf("stagefs: rename %q: %w", from, ErrInvisible)
	}
	return nil
}

// Unlink removes a staged item and its backing staging file, if any.
// ENOENT is tolerated.
func (v *View) Unlink(path string) error {
	item, ok := v.session.Staged(path)
	if !ok {
		return fmt.Errorf("stagefs: unlink %q: %w", path, ErrInvisible)
	}
	v.session.Unstage(path)
	if item.Kind == manifest.TypeFile {
		if err := os.Remove(item.StagingPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("stagefs: unlink %q: %w", path, err)
		}
	}
	return nil
}

// Symlink records a staged symlink. No on-disk symlink is created in the
// staging area; it exists only as a StagedItem until materialization.
func (v *View) Symlink(target, path string) error {
	v.session.Stage(NewSymlink(v.session.JobID, path, target))
	return nil
}

// Readlink returns the target of a staged symlink. It does not consult the
// blob store or the workspace: any other path, including a visible input,
// fails with ErrInvisible.
func (v *View) Readlink(path string) (string, error) {
	item, ok := v.session.Staged(path)
	if !ok || item.Kind != manifest.TypeSymlink {
		return "", fmt.Errorf("stagefs: readlink %q: %w", path, ErrInvisible)
	}
	return item.Target, nil
}

// Mkdir records a staged directory. No on-disk directory is created in
// the staging area.
func (v *View) Mkdir(path string, mode uint32) error {
	v.session.Stage(NewDirectory(v.session.JobID, path, mode))
	return nil
}

