package stagefs

import (
	"sync"

	"github.com/stagecore/stagecore/pkg/chash"
)

// JobSession holds one job's view of the workspace: the paths it may read
// (optionally by hash), and everything it has staged so far.
type JobSession struct {
	JobID string

	mu            sync.RWMutex
	visible       map[string]struct{}
	visibleHashes map[string]chash.ContentHash
	staged        map[string]*StagedItem
	reads         map[string]struct{}
	writes        map[string]struct{}
}

// NewJobSession creates an empty session for jobID with the given visible
// input set. A VisibleInput with Hashed == false is workspace-fallback
// only and is recorded in visible but not visibleHashes.
func NewJobSession(jobID string, visible []VisibleInputLike) *JobSession {
	s := &JobSession{
		JobID:         jobID,
		visible:       make(map[string]struct{}, len(visible)),
		visibleHashes: make(map[string]chash.ContentHash),
		staged:        make(map[string]*StagedItem),
		reads:         make(map[string]struct{}),
		writes:        make(map[string]struct{}),
	}
	for _, v := range visible {
		s.visible[v.Path] = struct{}{}
		if v.Hashed {
			s.visibleHashes[v.Path] = v.Hash
		}
	}
	return s
}

// VisibleInputLike is the minimal shape stagefs needs from a visible input,
// decoupling it from manifest's JSON-focused VisibleInput type.
type VisibleInputLike struct {
	Path   string
	Hash   chash.ContentHash
	Hashed bool
}

// Stage records item under its DestPath, replacing any prior entry.
func (s *JobSession) Stage(item *StagedItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[item.DestPath] = item
	s.writes[item.DestPath] = struct{}{}
}

// Staged returns the StagedItem recorded at path, if any.
func (s *JobSession) Staged(path string) (*StagedItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.staged[path]
	return item, ok
}

// Unstage removes any StagedItem recorded at path.
func (s *JobSession) Unstage(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.staged, path)
}

// RenameStaged moves a staged item from one dest path to another.
func (s *JobSession) RenameStaged(from, to string) (*StagedItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.staged[from]
	if !ok {
		return nil, false
	}
	delete(s.staged, from)
	item.DestPath = to
	s.staged[to] = item
	return item, true
}

// VisibleHash returns the CAS hash required to serve reads of path, if the
// job was given one.
func (s *JobSession) VisibleHash(path string) (chash.ContentHash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.visibleHashes[path]
	return h, ok
}

// IsVisible reports whether path is in the job's visible set at all
// (hashed or bare workspace-fallback).
func (s *JobSession) IsVisible(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.visible[path]
	return ok
}

// MarkRead records that path was observed read by the job, feeding the
// post-processor's input list; it has no effect on routing.
func (s *JobSession) MarkRead(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[path] = struct{}{}
}

// Reads returns the set of paths observed read, for reporting.
func (s *JobSession) Reads() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.reads))
	for p := range s.reads {
		out[p] = struct{}{}
	}
	return out
}

// Writes returns the set of paths observed written, for reporting.
func (s *JobSession) Writes() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.writes))
	for p := range s.writes {
		out[p] = struct{}{}
	}
	return out
}

// StagedItems returns a snapshot copy of the staged map, for the
// post-processor and for Abandon.
func (s *JobSession) StagedItems() map[string]*StagedItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*StagedItem, len(s.staged))
	for k, v := range s.staged {
		out[k] = v
	}
	return out
}
