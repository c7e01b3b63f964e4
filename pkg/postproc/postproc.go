// Package postproc implements the Job Post-Processor: it hashes a job's
// staged outputs and emits a Manifest, without touching the blob store or
// the workspace. Keeping this step free of CAS I/O lets it
// run on a remote executor that does not share the local blob store; the
// Materializer (pkg/materialize) does the ingestion and installation.
package postproc

import (
	"fmt"
	"sort"

	"github.com/stagecore/stagecore/pkg/chash"
	"github.com/stagecore/stagecore/pkg/manifest"
	"github.com/stagecore/stagecore/pkg/stagefs"
)

// stagedSession is the minimal view Process needs of a job session,
// decoupling it from stagefs.JobSession's concurrency machinery.
type stagedSession interface {
	StagedItems() map[string]*stagefs.StagedItem
	Reads() map[string]struct{}
	Writes() map[string]struct{}
}

// Process iterates sess's staged items in dest-path-sorted order, hashing
// each file item's staging path with chash.HashFile, and returns the
// resulting Manifest. Symlink and directory entries pass through
// unchanged. No staging file is deleted and no blob is inserted: both are
// the Materializer's responsibility.
func Process(sess stagedSession) (*manifest.Manifest, error) {
	staged := sess.StagedItems()

	paths := make([]string, 0, len(staged))
	for p := range staged {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	m := manifest.New()
	m.Outputs = paths

	for _, path := range paths {
		item := staged[path]
		entry, err := entryFor(item)
		if err != nil {
			return nil, fmt.Errorf("postproc: process %q: %w", path, err)
		}
		m.Entries[path] = entry
	}

	for p := range sess.Reads() {
		m.Inputs = append(m.Inputs, p)
	}
	sort.Strings(m.Inputs)

	return m, nil
}

func entryFor(item *stagefs.StagedItem) (*manifest.Entry, error) {
	switch item.Kind {
	case manifest.TypeFile:
		h, err := chash.HashFile(item.StagingPath)
		if err != nil {
			return nil, fmt.Errorf("hash staged file %q: %w", item.StagingPath, err)
		}
		return &manifest.Entry{
			Type:        manifest.TypeFile,
			StagingPath: item.StagingPath,
			Hash:        h,
			Mode:        item.Mode,
			MTimeSec:    item.MTimeSec,
			MTimeNsec:   item.MTimeNsec,
		}, nil
	case manifest.TypeSymlink:
		return &manifest.Entry{
			Type:   manifest.TypeSymlink,
			Target: item.Target,
		}, nil
	case manifest.TypeDirectory:
		return &manifest.Entry{
			Type: manifest.TypeDirectory,
			Mode: item.Mode,
		}, nil
	default:
		return nil, fmt.Errorf("postproc: unknown staged item kind %v", item.Kind)
	}
}
