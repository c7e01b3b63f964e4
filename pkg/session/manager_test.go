package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stagecore/stagecore/pkg/blobstore"
	"github.com/stagecore/stagecore/pkg/chash"
	"github.com/stagecore/stagecore/pkg/manifest"
)

func tempManager(t *testing.T) *Manager {
	t.Helper()
	store, err := blobstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return NewManager(store)
}

func TestNextStagingIDMonotonicAndUnique(t *testing.T) {
	m := tempManager(t)
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		id := m.NextStagingID()
		if seen[id] {
			t.Fatalf("staging id %d allocated twice", id)
		}
		seen[id] = true
	}
}

func TestAdmitViewFinalizeRoundTrip(t *testing.T) {
	m := tempManager(t)

	content := []byte("hello\n")
	h, err := m.Store().PutBytes(content)
	if err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	sess, err := m.Admit("job-1", []manifest.VisibleInput{{Path: "in.txt", Hash: h, Hashed: true}})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if sess.JobID != "job-1" {
		t.Fatalf("JobID = %q", sess.JobID)
	}

	view, err := m.View("job-1")
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	rc, err := view.Open("in.txt", t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	handle, err := view.Create("build/out.txt", 0o644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := view.Write(handle, []byte("built\n"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := view.Release(handle); err != nil {
		t.Fatalf("Release: %v", err)
	}

	mf, err := m.Finalize("job-1")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	entry, ok := mf.Entries["build/out.txt"]
	if !ok {
		t.Fatal("finalize manifest missing build/out.txt")
	}
	if entry.Hash != chash.HashBytes([]byte("built\n")) {
		t.Fatalf("entry hash mismatch")
	}

	if _, ok := m.Session("job-1"); ok {
		t.Fatal("session should be removed after Finalize")
	}
}

func TestFinalizeUnknownJobFails(t *testing.T) {
	m := tempManager(t)
	if _, err := m.Finalize("does-not-exist"); err == nil {
		t.Fatal("expected Finalize to fail for an unadmitted job")
	}
}

func TestAbandonUnlinksStagingFiles(t *testing.T) {
	m := tempManager(t)
	if _, err := m.Admit("job-2", nil); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	view, err := m.View("job-2")
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	handle, err := view.Create("build/x", 0o644)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	stagingPath := filepath.Join(m.Store().StagingDir(), "1")
	if err := view.Release(handle); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if err := m.Abandon("job-2"); err != nil {
		t.Fatalf("Abandon: %v", err)
	}

	if _, err := os.Stat(stagingPath); !os.IsNotExist(err) {
		t.Fatalf("staging file still present after Abandon: %v", err)
	}
	if _, ok := m.Session("job-2"); ok {
		t.Fatal("session should be removed after Abandon")
	}
}
