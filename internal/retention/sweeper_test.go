package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeNonTerminal struct {
	ids map[string]bool
}

func (f fakeNonTerminal) NonTerminalJobIDs() (map[string]bool, error) {
	return f.ids, nil
}

func mkJobDir(t *testing.T, root, jobID string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	old := time.Now().Add(-age)
	if err := os.Chtimes(dir, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	return dir
}

func TestSweep_RemovesExpiredJobDirs(t *testing.T) {
	root := t.TempDir()
	artifacts := filepath.Join(root, "artifacts")
	mkJobDir(t, artifacts, "job-old", 2*time.Hour)
	mkJobDir(t, artifacts, "job-fresh", time.Minute)

	s := &Sweeper{
		Queue:         fakeNonTerminal{ids: map[string]bool{}},
		ArtifactsRoot: artifacts,
		ArtifactsTTL:  time.Hour,
	}
	if err := s.Sweep(time.Now()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := os.Stat(filepath.Join(artifacts, "job-old")); !os.IsNotExist(err) {
		t.Error("expected job-old to be reaped")
	}
	if _, err := os.Stat(filepath.Join(artifacts, "job-fresh")); err != nil {
		t.Error("expected job-fresh to survive, it is within TTL")
	}
}

func TestSweep_SkipsNonTerminalJobsRegardlessOfAge(t *testing.T) {
	root := t.TempDir()
	workspaces := filepath.Join(root, "workspaces")
	mkJobDir(t, workspaces, "job-in-flight", 10*time.Hour)

	s := &Sweeper{
		Queue:          fakeNonTerminal{ids: map[string]bool{"job-in-flight": true}},
		WorkspacesRoot: workspaces,
		WorkspacesTTL:  time.Hour,
	}
	if err := s.Sweep(time.Now()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := os.Stat(filepath.Join(workspaces, "job-in-flight")); err != nil {
		t.Error("expected in-flight job directory to survive despite being past TTL")
	}
}

func TestSweep_MissingRootIsNotAnError(t *testing.T) {
	root := t.TempDir()
	s := &Sweeper{
		Queue:         fakeNonTerminal{ids: map[string]bool{}},
		ArtifactsRoot: filepath.Join(root, "does-not-exist"),
		ArtifactsTTL:  time.Hour,
	}
	if err := s.Sweep(time.Now()); err != nil {
		t.Fatalf("Sweep on missing root should be a no-op, got: %v", err)
	}
}
