package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFile_AtomicAndReadable(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	jobDir := s.JobDir("j1")

	if err := s.WriteFile(jobDir, "report.md", []byte("hello")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := s.ReadFile(jobDir, "report.md")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("got %q, want %q", data, "hello")
	}

	// No leftover temp files.
	entries, err := os.ReadDir(jobDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestWriteFile_RejectsTraversal(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	jobDir := s.JobDir("j1")

	err := s.WriteFile(jobDir, "../../escape.txt", []byte("x"))
	if err == nil {
		t.Fatal("expected path traversal error")
	}
	var traversalErr *PathTraversalError
	if !asTraversalError(err, &traversalErr) {
		t.Errorf("expected PathTraversalError, got %T: %v", err, err)
	}

	// No partial file left anywhere under root.
	if _, statErr := os.Stat(filepath.Join(root, "escape.txt")); statErr == nil {
		t.Error("traversal write left a file on disk")
	}
}

func asTraversalError(err error, target **PathTraversalError) bool {
	if pe, ok := err.(*PathTraversalError); ok {
		*target = pe
		return true
	}
	return false
}

func TestWriteJSON_DeterministicKeyOrder(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	jobDir := s.JobDir("j1")

	type obj struct {
		B string `json:"b"`
		A string `json:"a"`
	}

	if err := s.WriteJSON(jobDir, "state.json", obj{B: "2", A: "1"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	data, err := s.ReadFile(jobDir, "state.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := `{"a":"1","b":"2"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestMissingStepFiles(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	stepDir := s.StepDir("j1", "01_plan")

	missing := s.MissingStepFiles(stepDir)
	if len(missing) != len(RequiredStepFiles) {
		t.Fatalf("expected all files missing, got %v", missing)
	}

	for _, f := range RequiredStepFiles {
		if err := s.WriteFile(stepDir, f, []byte("x")); err != nil {
			t.Fatalf("WriteFile(%s): %v", f, err)
		}
	}
	if missing := s.MissingStepFiles(stepDir); len(missing) != 0 {
		t.Errorf("expected no missing files, got %v", missing)
	}
}
