package materialize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stagecore/stagecore/pkg/blobstore"
	"github.com/stagecore/stagecore/pkg/chash"
	"github.com/stagecore/stagecore/pkg/manifest"
)

func tempStore(t *testing.T) *blobstore.Store {
	t.Helper()
	s, err := blobstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func stageFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	return path
}

// TestApplyFileInstallsContentModeAndHash covers the S1/round-trip law:
// a staged file materializes with its declared mode and the manifest's hash.
func TestApplyFileInstallsContentModeAndHash(t *testing.T) {
	store := tempStore(t)
	workspace := t.TempDir()
	stagingDir := t.TempDir()

	content := []byte("hello\n")
	stagingPath := stageFile(t, stagingDir, "1", content)
	h := chash.HashBytes(content)

	m := manifest.New()
	m.Outputs = []string{"build/a.txt"}
	m.Entries["build/a.txt"] = &manifest.Entry{
		Type:        manifest.TypeFile,
		StagingPath: stagingPath,
		Hash:        h,
		Mode:        0o644,
	}

	report, err := Apply(m, store, workspace)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !report.OK() {
		t.Fatalf("Apply failed entries: %v", report.Failed)
	}

	dest := filepath.Join(workspace, "build/a.txt")
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("dest content = %q, want %q", got, content)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("stat dest: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("dest mode = %o, want 0644", info.Mode().Perm())
	}

	if _, err := os.Stat(stagingPath); !os.IsNotExist(err) {
		t.Fatalf("staging file still present after materialize: %v", err)
	}

	if !store.Has(h) {
		t.Fatal("blob not present in CAS after Apply")
	}
}

// TestApplyIntegrityMismatchFails checks that a hash mismatch is fatal to
// the entry, but the blob that was inserted while re-hashing stays in CAS.
func TestApplyIntegrityMismatchFails(t *testing.T) {
	store := tempStore(t)
	workspace := t.TempDir()
	stagingDir := t.TempDir()

	stagingPath := stageFile(t, stagingDir, "1", []byte("actual content"))
	wrongHash := chash.HashBytes([]byte("declared but wrong"))

	m := manifest.New()
	m.Outputs = []string{"build/x"}
	m.Entries["build/x"] = &manifest.Entry{
		Type:        manifest.TypeFile,
		StagingPath: stagingPath,
		Hash:        wrongHash,
		Mode:        0o644,
	}

	report, err := Apply(m, store, workspace)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.OK() {
		t.Fatal("expected Apply to report a failed entry")
	}
	if len(report.Failed) != 1 || report.Failed[0].DestPath != "build/x" {
		t.Fatalf("unexpected failures: %+v", report.Failed)
	}

	if _, err := os.Stat(filepath.Join(workspace, "build/x")); !os.IsNotExist(err) {
		t.Fatal("dest should not exist after an integrity failure")
	}

	if !store.Has(chash.HashBytes([]byte("actual content"))) {
		t.Fatal("re-hashed blob should stay in CAS after an integrity failure")
	}
}

// TestApplySymlinkAndDirectory covers S6.
func TestApplySymlinkAndDirectory(t *testing.T) {
	store := tempStore(t)
	workspace := t.TempDir()
	stagingDir := t.TempDir()

	content := []byte("file in dir")
	stagingPath := stageFile(t, stagingDir, "1", content)
	h := chash.HashBytes(content)

	m := manifest.New()
	m.Outputs = []string{"build/d", "build/d/link", "build/d/f"}
	m.Entries["build/d"] = &manifest.Entry{Type: manifest.TypeDirectory, Mode: 0o755}
	m.Entries["build/d/link"] = &manifest.Entry{Type: manifest.TypeSymlink, Target: "../x"}
	m.Entries["build/d/f"] = &manifest.Entry{
		Type:        manifest.TypeFile,
		StagingPath: stagingPath,
		Hash:        h,
		Mode:        0o644,
	}

	report, err := Apply(m, store, workspace)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !report.OK() {
		t.Fatalf("Apply failed entries: %v", report.Failed)
	}

	dirInfo, err := os.Stat(filepath.Join(workspace, "build/d"))
	if err != nil || !dirInfo.IsDir() {
		t.Fatalf("build/d not a directory: %v", err)
	}
	if dirInfo.Mode().Perm() != 0o755 {
		t.Fatalf("build/d mode = %o, want 0755", dirInfo.Mode().Perm())
	}

	target, err := os.Readlink(filepath.Join(workspace, "build/d/link"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "../x" {
		t.Fatalf("symlink target = %q, want ../x", target)
	}

	got, err := os.ReadFile(filepath.Join(workspace, "build/d/f"))
	if err != nil || string(got) != string(content) {
		t.Fatalf("build/d/f content = %q, err %v", got, err)
	}
}

// TestApplyDanglingSymlinkIsNotError checks that a symlink whose target is
// never created materializes as-is.
func TestApplyDanglingSymlinkIsNotError(t *testing.T) {
	store := tempStore(t)
	workspace := t.TempDir()

	m := manifest.New()
	m.Outputs = []string{"build/dangling"}
	m.Entries["build/dangling"] = &manifest.Entry{Type: manifest.TypeSymlink, Target: "does/not/exist"}

	report, err := Apply(m, store, workspace)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !report.OK() {
		t.Fatalf("Apply failed entries: %v", report.Failed)
	}

	target, err := os.Readlink(filepath.Join(workspace, "build/dangling"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "does/not/exist" {
		t.Fatalf("target = %q", target)
	}
}
