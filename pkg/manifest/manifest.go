// Package manifest defines the per-job result record produced by the
// post-processor and consumed by the materializer, along with its JSON
// wire format.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/stagecore/stagecore/pkg/chash"
)

// EntryType tags the kind of a ManifestEntry / StagedItem.
type EntryType string

const (
	TypeFile      EntryType = "file"
	TypeSymlink   EntryType = "symlink"
	TypeDirectory EntryType = "directory"
)

// Entry is one manifest record, keyed by DestPath in Manifest.Entries.
type Entry struct {
	Type EntryType `json:"type"`

	// file
	StagingPath string          `json:"staging_path,omitempty"`
	Hash        chash.ContentHash `json:"-"`

	// symlink
	Target string `json:"target,omitempty"`

	// file + directory
	Mode uint32 `json:"mode,omitempty"`

	// file only
	MTimeSec  int64 `json:"mtime_sec,omitempty"`
	MTimeNsec int32 `json:"mtime_nsec,omitempty"`
}

// entryWire is the on-the-wire shape of Entry: chash.ContentHash has no
// native JSON mapping, so it is carried as its canonical hex string.
type entryWire struct {
	Type        EntryType `json:"type"`
	StagingPath string    `json:"staging_path,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	Target      string    `json:"target,omitempty"`
	Mode        uint32    `json:"mode,omitempty"`
	MTimeSec    int64     `json:"mtime_sec,omitempty"`
	MTimeNsec   int32     `json:"mtime_nsec,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Entry) MarshalJSON() ([]byte, error) {
	w := entryWire{
		Type:        e.Type,
		StagingPath: e.StagingPath,
		Target:      e.Target,
		Mode:        e.Mode,
		MTimeSec:    e.MTimeSec,
		MTimeNsec:   e.MTimeNsec,
	}
	if e.Type == TypeFile && !e.Hash.IsZero() {
		w.Hash = e.Hash.ToHex()
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var w entryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Entry{
		Type:        w.Type,
		StagingPath: w.StagingPath,
		Target:      w.Target,
		Mode:        w.Mode,
		MTimeSec:    w.MTimeSec,
		MTimeNsec:   w.MTimeNsec,
	}
	if w.Hash != "" {
		h, err := chash.FromHex(w.Hash)
		if err != nil {
			return fmt.Errorf("manifest: entry hash: %w", err)
		}
		e.Hash = h
	}
	return nil
}

// Manifest is the ordered result record of one completed job.
type Manifest struct {
	Inputs  []string          `json:"inputs"`
	Outputs []string          `json:"outputs"`
	Entries map[string]*Entry `json:"staging_files"`
}

// New returns an empty Manifest ready to accumulate entries.
func New() *Manifest {
	return &Manifest{Entries: make(map[string]*Entry)}
}

// SortedDestPaths returns the keys of Entries in stable alphabetical order,
// independent of Outputs (used by components that only need determinism,
// not the canonical output order).
func (m *Manifest) SortedDestPaths() []string {
	paths := make([]string, 0, len(m.Entries))
	for p := range m.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// WriteFile atomically writes m as JSON to path, using the same
// temp-file-then-rename sequence as the rest of the core.
func WriteFile(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-tmp-*")
	if err != nil {
		return fmt.Errorf("manifest: write %q: tmpfile: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("manifest: write %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("manifest: write %q: close: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("manifest: write %q: rename: %w", path, err)
	}
	return nil
}

// ReadFile reads and parses a Manifest from path.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %q: %w", path, err)
	}
	m := New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("manifest: read %q: unmarshal: %w", path, err)
	}
	if m.Entries == nil {
		m.Entries = make(map[string]*Entry)
	}
	return m, nil
}

// VisibleInput is a path the job is permitted to read, optionally annotated
// with the content hash that must serve its reads. A bare path (Hashed ==
// false) denotes the legacy workspace-fallback form.
type VisibleInput struct {
	Path   string
	Hash   chash.ContentHash
	Hashed bool
}

// visibleInputWire accepts either a bare JSON string or an object with
// "path" and "hash" fields, matching the duck-typed wire format a driver
// emits for visible inputs.
type visibleInputWire struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// UnmarshalJSON implements the Bare(path) | Hashed{path, hash} sum type.
func (v *VisibleInput) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		*v = VisibleInput{Path: bare}
		return nil
	}

	var w visibleInputWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("manifest: visible input: %w", err)
	}
	if w.Hash == "" {
		*v = VisibleInput{Path: w.Path}
		return nil
	}
	h, err := chash.FromHex(w.Hash)
	if err != nil {
		return fmt.Errorf("manifest: visible input %q: %w", w.Path, err)
	}
	*v = VisibleInput{Path: w.Path, Hash: h, Hashed: true}
	return nil
}

// MarshalJSON round-trips VisibleInput back to the wire format: bare inputs
// stay bare strings, hashed inputs become objects.
func (v VisibleInput) MarshalJSON() ([]byte, error) {
	if !v.Hashed {
		return json.Marshal(v.Path)
	}
	return json.Marshal(visibleInputWire{Path: v.Path, Hash: v.Hash.ToHex()})
}

// ParseVisibleInputs decodes the driver-supplied JSON array of visible
// inputs.
func ParseVisibleInputs(data []byte) ([]VisibleInput, error) {
	var inputs []VisibleInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("manifest: parse visible inputs: %w", err)
	}
	return inputs, nil
}
