package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DebugLog is a process-wide append-only file sink for verbose
// per-job tracing, kept separate from the structured stdout logger so
// operators can enable deep tracing for one job without flooding the
// main log stream.
type DebugLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenDebugLog creates (truncating) a debug log file at
// <artifactsRoot>/<job_id>/debug.log.
func OpenDebugLog(artifactsRoot, jobID string) (*DebugLog, error) {
	dir := filepath.Join(artifactsRoot, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating debug log directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, "debug.log"))
	if err != nil {
		return nil, fmt.Errorf("creating debug log file: %w", err)
	}
	return &DebugLog{file: f}, nil
}

// Log writes one formatted line. Best-effort: a write failure is
// dropped rather than propagated, since debug tracing must never be
// the reason a job fails.
func (d *DebugLog) Log(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return
	}
	_, _ = fmt.Fprintf(d.file, format+"\n", args...)
}

// Close closes the underlying file.
func (d *DebugLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
