// Package session implements the Job Session Manager: it allocates the
// monotonically increasing staging ids shared by every job, owns the table
// of live JobSessions, and drives a session through admission, the
// post-processor, and abandonment.
package session

import (
	"fmt"
	"os"
	"sync"

	"github.com/stagecore/stagecore/pkg/blobstore"
	"github.com/stagecore/stagecore/pkg/manifest"
	"github.com/stagecore/stagecore/pkg/postproc"
	"github.com/stagecore/stagecore/pkg/stagefs"
)

// Manager owns a blob store, a monotonic staging-id counter, and the table
// of admitted JobSessions. It is the long-lived handle a driver threads
// through every job.
type Manager struct {
	store *blobstore.Store

	mu       sync.Mutex
	nextID   uint64
	sessions map[string]*stagefs.JobSession
}

// NewManager returns a Manager backed by store. The staging-id counter
// starts at zero; the first allocated id is 1.
func NewManager(store *blobstore.Store) *Manager {
	return &Manager{
		store:    store,
		sessions: make(map[string]*stagefs.JobSession),
	}
}

// Store returns the blob store this manager was constructed with.
func (m *Manager) Store() *blobstore.Store { return m.store }

// NextStagingID returns a fresh, process-unique staging id. The counter
// shares the manager's mutex with the session table, and the critical
// section covers only the increment.
func (m *Manager) NextStagingID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

// Admit creates a new JobSession for jobID with the given visible inputs
// and registers it in the session table. Admitting a jobID that already
// has a live session replaces it.
func (m *Manager) Admit(jobID string, visible []manifest.VisibleInput) (*stagefs.JobSession, error) {
	if jobID == "" {
		return nil, fmt.Errorf("session: admit: job id is required")
	}

	likes := make([]stagefs.VisibleInputLike, len(visible))
	for i, v := range visible {
		likes[i] = stagefs.VisibleInputLike{Path: v.Path, Hash: v.Hash, Hashed: v.Hashed}
	}

	sess := stagefs.NewJobSession(jobID, likes)

	m.mu.Lock()
	m.sessions[jobID] = sess
	m.mu.Unlock()

	return sess, nil
}

// View returns a stagefs.View bound to jobID's session, ready to serve
// filesystem operations for that job.
func (m *Manager) View(jobID string) (*stagefs.View, error) {
	sess, ok := m.session(jobID)
	if !ok {
		return nil, fmt.Errorf("session: view %q: %w", jobID, ErrNoSession)
	}
	return stagefs.NewView(sess, m.store, m.store.StagingDir(), m), nil
}

// Session returns the live JobSession for jobID, if any.
func (m *Manager) Session(jobID string) (*stagefs.JobSession, bool) {
	return m.session(jobID)
}

func (m *Manager) session(jobID string) (*stagefs.JobSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[jobID]
	return sess, ok
}

// Finalize runs the post-processor over jobID's staged items, producing a
// Manifest, and removes the session from the table. The session is
// consumed: a second Finalize for the same jobID fails. Materialization is
// a separate step the driver invokes, possibly on another host, so
// Finalize performs no CAS or workspace I/O itself.
func (m *Manager) Finalize(jobID string) (*manifest.Manifest, error) {
	sess, ok := m.session(jobID)
	if !ok {
		return nil, fmt.Errorf("session: finalize %q: %w", jobID, ErrNoSession)
	}

	mf, err := postproc.Process(sess)
	if err != nil {
		return nil, fmt.Errorf("session: finalize %q: %w", jobID, err)
	}

	m.mu.Lock()
	delete(m.sessions, jobID)
	m.mu.Unlock()

	return mf, nil
}

// Abandon discards jobID's session without producing a manifest, best-
// effort unlinking every staged file's backing staging path: a removal
// failure other than ENOENT does not stop the other removals, the session
// is dropped either way, and the first such failure is returned. Blobs already
// inserted into CAS by a prior job are left untouched: they are content-
// addressed and harmless to leave behind.
func (m *Manager) Abandon(jobID string) error {
	sess, ok := m.session(jobID)
	if !ok {
		return fmt.Errorf("session: abandon %q: %w", jobID, ErrNoSession)
	}

	var firstErr error
	for _, item := range sess.StagedItems() {
		if item.Kind != manifest.TypeFile {
			continue
		}
		if err := os.Remove(item.StagingPath); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("session: abandon %q: remove %q: %w", jobID, item.StagingPath, err)
		}
	}

	m.mu.Lock()
	delete(m.sessions, jobID)
	m.mu.Unlock()

	return firstErr
}

// ErrNoSession is returned for any operation against a jobID with no live
// session (never admitted, already finalized, or already abandoned).
var ErrNoSession = fmt.Errorf("session: no such job session")
