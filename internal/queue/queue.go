// Package queue implements the filesystem-based durable job queue:
// pending/running/done/failed/awaiting_approval directories under a
// single root, with state transitions expressed as atomic renames.
package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/coderun-ai/orchestrator/internal/jobspec"
)

const (
	dirPending          = "pending"
	dirRunning          = "running"
	dirDone             = "done"
	dirFailed           = "failed"
	dirAwaitingApproval = "awaiting_approval"

	// attemptsSuffix names the sibling side-file that tracks how many
	// times a job has been reclaimed from running/ after a stale claim.
	attemptsSuffix = ".attempts"

	// MaxReclaimAttempts bounds how many times a stale running/ claim is
	// returned to pending/ before the job is escalated to failed/.
	MaxReclaimAttempts = 5
)

var allStateDirs = []string{dirPending, dirRunning, dirDone, dirFailed, dirAwaitingApproval}

// Queue operates on the five state directories rooted at root
// (QUEUE_ROOT).
type Queue struct {
	root string
}

// New returns a Queue rooted at root, creating the five state
// directories if they do not already exist.
func New(root string) (*Queue, error) {
	q := &Queue{root: root}
	for _, dir := range allStateDirs {
		if err := os.MkdirAll(q.dirPath(dir), 0o755); err != nil {
			return nil, fmt.Errorf("creating queue directory %s: %w", dir, err)
		}
	}
	return q, nil
}

func (q *Queue) dirPath(dir string) string {
	return filepath.Join(q.root, dir)
}

// Enqueue validates spec and durably writes it into pending/ as
// <job_id>.json. Returns ErrDuplicateJob if a file for this job_id
// already exists in any state directory.
func (q *Queue) Enqueue(spec *jobspec.JobSpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid job spec: %w", err)
	}

	exists, err := jobFileExistsAnywhere(q.root, spec.JobID)
	if err != nil {
		return fmt.Errorf("checking for duplicate job %s: %w", spec.JobID, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, spec.JobID)
	}

	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling job spec %s: %w", spec.JobID, err)
	}

	pendingDir := q.dirPath(dirPending)
	target := filepath.Join(pendingDir, spec.JobID+".json")
	return writeThenRename(pendingDir, target, data)
}

// writeThenRename commits data atomically into target by writing a
// temp file in dir and renaming it over target.
func writeThenRename(dir, target string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp job file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp job file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsyncing temp job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp job file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("renaming job file into place: %w", err)
	}
	return nil
}

// claimCandidate is a pending job file considered for claiming, kept
// with its mtime for oldest-first ordering.
type claimCandidate struct {
	name  string
	mtime time.Time
}

// Claim attempts to atomically move the oldest claimable job from
// pending/ to running/, returning its parsed JobSpec. Concurrent
// runners racing on the same candidate will see rename fail for all
// but one; losers move on to the next candidate rather than erroring.
// Returns ErrQueueEmpty if no job could be claimed.
func (q *Queue) Claim() (*jobspec.JobSpec, error) {
	pendingDir := q.dirPath(dirPending)
	entries, err := os.ReadDir(pendingDir)
	if err != nil {
		return nil, fmt.Errorf("reading pending directory: %w", err)
	}

	candidates := make([]claimCandidate, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, claimCandidate{name: e.Name(), mtime: info.ModTime()})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mtime.Before(candidates[j].mtime) })

	runningDir := q.dirPath(dirRunning)
	for _, c := range candidates {
		src := filepath.Join(pendingDir, c.name)
		dst := filepath.Join(runningDir, c.name)
		if err := os.Rename(src, dst); err != nil {
			// Another runner claimed it first, or it vanished (operator
			// unlock race); try the next candidate.
			continue
		}
		data, err := os.ReadFile(dst)
		if err != nil {
			return nil, fmt.Errorf("reading claimed job %s: %w", c.name, err)
		}
		var spec jobspec.JobSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("parsing claimed job %s: %w", c.name, err)
		}
		return &spec, nil
	}
	return nil, ErrQueueEmpty
}

// Complete moves jobID from running/ to the terminal directory implied
// by terminal ("done", "failed", or "awaiting_approval"). Calling
// Complete again after a successful move is a no-op: the file is
// already absent from running/, so ErrNotFound is only returned when
// the job was never running in the first place.
func (q *Queue) Complete(jobID string, terminal string) error {
	switch terminal {
	case dirDone, dirFailed, dirAwaitingApproval:
	default:
		return fmt.Errorf("invalid terminal state %q", terminal)
	}

	matches, err := findJobFiles(q.dirPath(dirRunning), jobID)
	if err != nil {
		return fmt.Errorf("locating running job %s: %w", jobID, err)
	}
	if len(matches) == 0 {
		// Idempotency: if it already landed in the requested terminal
		// directory, treat this as success rather than error.
		already, err := findJobFiles(q.dirPath(terminal), jobID)
		if err == nil && len(already) > 0 {
			return nil
		}
		return fmt.Errorf("%w: %s in running", ErrNotFound, jobID)
	}

	destDir := q.dirPath(terminal)
	for _, src := range matches {
		dst := filepath.Join(destDir, filepath.Base(src))
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("completing job %s into %s: %w", jobID, terminal, err)
		}
		_ = os.Remove(src + attemptsSuffix)
	}
	return nil
}

// Approve moves jobID from awaiting_approval/ back to pending/, for
// the ask_human on_failure policy and for manual human_review
// completion.
func (q *Queue) Approve(jobID string) error {
	return q.moveBetween(dirAwaitingApproval, dirPending, jobID)
}

// Unlock moves jobID from running/ back to pending/ on operator
// command, bypassing the stale-claim age check used by
// ReclaimStaleRunning.
func (q *Queue) Unlock(jobID string) error {
	return q.moveBetween(dirRunning, dirPending, jobID)
}

func (q *Queue) moveBetween(from, to, jobID string) error {
	matches, err := findJobFiles(q.dirPath(from), jobID)
	if err != nil {
		return fmt.Errorf("locating job %s in %s: %w", jobID, from, err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("%w: %s in %s", ErrNotFound, jobID, from)
	}
	destDir := q.dirPath(to)
	for _, src := range matches {
		dst := filepath.Join(destDir, filepath.Base(src))
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("moving job %s from %s to %s: %w", jobID, from, to, err)
		}
	}
	return nil
}

// NonTerminalJobIDs returns the set of job IDs currently sitting in
// pending/, running/, or awaiting_approval/. The retention sweeper uses
// this to never reap artifacts or workspaces for a job still in flight.
func (q *Queue) NonTerminalJobIDs() (map[string]bool, error) {
	ids := make(map[string]bool)
	for _, dir := range []string{dirPending, dirRunning, dirAwaitingApproval} {
		entries, err := os.ReadDir(q.dirPath(dir))
		if err != nil {
			return nil, fmt.Errorf("reading %s directory: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
				continue
			}
			ids[strings.TrimSuffix(e.Name(), ".json")] = true
		}
	}
	return ids, nil
}

// ReclaimStaleRunning scans running/ for files whose mtime is older
// than maxAge and returns them to pending/, bumping a durable attempt
// counter kept in a sibling "<name>.attempts" file. Once a job's
// attempt count exceeds MaxReclaimAttempts it is instead moved to
// failed/ unchanged (no error record is written), breaking an otherwise
// infinite reclaim loop caused by a worker that reliably crashes.
func (q *Queue) ReclaimStaleRunning(maxAge time.Duration) ([]string, error) {
	runningDir := q.dirPath(dirRunning)
	entries, err := os.ReadDir(runningDir)
	if err != nil {
		return nil, fmt.Errorf("reading running directory: %w", err)
	}

	now := time.Now()
	var reclaimed []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}

		src := filepath.Join(runningDir, e.Name())
		attempts := q.bumpAttempts(src)
		if attempts > MaxReclaimAttempts {
			if err := q.failStale(src, e.Name(), attempts); err != nil {
				return reclaimed, err
			}
			continue
		}

		dst := filepath.Join(q.dirPath(dirPending), e.Name())
		if err := os.Rename(src, dst); err != nil {
			// Lost a race with a human Unlock or the worker finishing late;
			// skip rather than fail the whole sweep.
			continue
		}
		reclaimed = append(reclaimed, e.Name())
	}
	return reclaimed, nil
}

// bumpAttempts increments and persists the reclaim attempt counter for
// src, returning the new count. Counter state lives beside the job
// file so it survives the job moving between directories.
func (q *Queue) bumpAttempts(src string) int {
	counterPath := src + attemptsSuffix
	count := 0
	if data, err := os.ReadFile(counterPath); err == nil {
		fmt.Sscanf(string(data), "%d", &count)
	}
	count++
	_ = os.WriteFile(counterPath, []byte(fmt.Sprintf("%d", count)), 0o644)
	return count
}

// failStale moves a job that exceeded MaxReclaimAttempts directly to
// failed/ and removes its attempt counter. The job file is moved as is;
// no error record is written.
func (q *Queue) failStale(src, name string, attempts int) error {
	dst := filepath.Join(q.dirPath(dirFailed), name)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failing stale job %s: %w", name, err)
	}
	_ = os.Remove(src + attemptsSuffix)
	_ = attempts // captured only for the caller's benefit; no separate result file here
	return nil
}
