// Package stagefs implements the staging filesystem (the "job view"):
// the capability set a job session exposes to intercept filesystem
// operations, redirecting writes to isolated staging and serving reads of
// visible inputs from the blob store by hash.
//
// This implementation is an in-process API; a FUSE, ptrace, or library
// interposition transport could sit in front of the same View without
// changing its semantics.
package stagefs

import (
	"github.com/stagecore/stagecore/pkg/manifest"
)

// StagedItem is a tagged union describing one path a job has created.
type StagedItem struct {
	Kind manifest.EntryType

	// file
	StagingPath string
	OpenCount   int

	// symlink
	Target string

	// all kinds
	DestPath string

	// file + directory
	Mode uint32

	// file only
	MTimeSec  int64
	MTimeNsec int32

	JobID string
}

// DefaultFileMode is the mode new staging files are created with on disk;
// it is independent of the declared Mode, which is what is recorded and
// ultimately applied to the materialized destination.
const DefaultFileMode = 0o644

// NewFile returns a StagedItem for a freshly created file.
func NewFile(jobID, stagingPath, destPath string, mode uint32) *StagedItem {
	return &StagedItem{
		Kind:        manifest.TypeFile,
		StagingPath: stagingPath,
		DestPath:    destPath,
		Mode:        mode & 0o7777,
		OpenCount:   1,
		JobID:       jobID,
	}
}

// NewSymlink returns a StagedItem for a recorded (not yet on-disk) symlink.
func NewSymlink(jobID, destPath, target string) *StagedItem {
	return &StagedItem{
		Kind:     manifest.TypeSymlink,
		DestPath: destPath,
		Target:   target,
		JobID:    jobID,
	}
}

// NewDirectory returns a StagedItem for a recorded (not yet on-disk) directory.
func NewDirectory(jobID, destPath string, mode uint32) *StagedItem {
	return &StagedItem{
		Kind:     manifest.TypeDirectory,
		DestPath: destPath,
		Mode:     mode & 0o7777,
		JobID:    jobID,
	}
}

// Attr is the synthesized attribute result for Getattr.
type Attr struct {
	Size  int64
	Mode  uint32
	IsDir bool
}
