package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDebugLog_WritesAndCloses(t *testing.T) {
	root := t.TempDir()
	d, err := OpenDebugLog(root, "job-1")
	if err != nil {
		t.Fatalf("OpenDebugLog: %v", err)
	}
	d.Log("step %s started", "01_plan")
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "job-1", "debug.log"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "step 01_plan started\n" {
		t.Errorf("unexpected debug log content: %q", data)
	}
}

func TestLogger_NilRedactorDoesNotPanic(t *testing.T) {
	// A nil redactor must not panic; logging still functions.
	l := New(nil, -4)
	l.Logf("plain message %d", 42)
}
