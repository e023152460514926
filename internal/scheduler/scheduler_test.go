package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/coderun-ai/orchestrator/internal/jobspec"
	"github.com/coderun-ai/orchestrator/internal/queue"
)

func newTestEntry(name, schedule string) Entry {
	return Entry{
		Name:     name,
		Schedule: schedule,
		Template: jobspec.JobSpec{
			Goal:    "scheduled run",
			Workdir: "/tmp/repo",
			Steps:   []jobspec.StepSpec{{StepID: "01_plan", Agent: "simulation"}},
		},
	}
}

func TestLoad_InitializesMissingEntriesToAfterNow(t *testing.T) {
	root := t.TempDir()
	q, err := queue.New(root)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Scheduler{
		Queue:     q,
		Entries:   []Entry{newTestEntry("nightly", "0 2 * * *")},
		StatePath: filepath.Join(root, "scheduler_state.json"),
	}
	if err := s.Load(now); err != nil {
		t.Fatalf("Load: %v", err)
	}

	next, ok := s.st["nightly"]
	if !ok {
		t.Fatal("expected entry to be initialized")
	}
	if !next.After(now) {
		t.Errorf("expected next fire time after now, got %v (now=%v)", next, now)
	}
}

func TestTick_EnqueuesDueEntryAndAdvances(t *testing.T) {
	root := t.TempDir()
	q, err := queue.New(root)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}

	now := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	s := &Scheduler{
		Queue:     q,
		Entries:   []Entry{newTestEntry("nightly", "0 2 * * *")},
		StatePath: filepath.Join(root, "scheduler_state.json"),
	}
	if err := s.Load(now.Add(-time.Hour)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Force the entry due by backdating it directly.
	s.st["nightly"] = now.Add(-time.Minute)

	s.Tick(now)

	if _, err := q.Claim(); err != nil {
		t.Fatalf("expected an enqueued job to be claimable: %v", err)
	}

	if !s.st["nightly"].After(now) {
		t.Errorf("expected next fire time advanced past now, got %v", s.st["nightly"])
	}
}

func TestTick_DuplicateEnqueueIsTolerated(t *testing.T) {
	root := t.TempDir()
	q, err := queue.New(root)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}

	entry := newTestEntry("nightly", "0 2 * * *")
	entry.Template.JobID = "fixed-id"

	now := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	s := &Scheduler{Queue: q, Entries: []Entry{entry}, StatePath: filepath.Join(root, "scheduler_state.json")}
	if err := s.Load(now.Add(-time.Hour)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.st["nightly"] = now.Add(-time.Minute)

	// First tick enqueues nightly-<timestamp> (Tick replaces the
	// template's job_id with <name>-<timestamp>); simulate a second
	// identical enqueue attempt by re-running Tick at the same instant
	// after resetting the fire time, which must not panic or error out.
	s.Tick(now)
	s.st["nightly"] = now.Add(-time.Minute)
	s.Tick(now)
}
