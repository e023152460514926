// Package scheduler evaluates configured cron expressions and enqueues
// synthesized jobs, keeping a durable per-entry next-fire-time so a
// downtime window never causes a storm of overdue jobs on restart.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/coderun-ai/orchestrator/internal/jobspec"
	"github.com/coderun-ai/orchestrator/internal/queue"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Entry is one named cron definition: a schedule and the JobSpec
// template it enqueues each time it fires.
type Entry struct {
	Name     string          `yaml:"name"`
	Schedule string          `yaml:"schedule"`
	Template jobspec.JobSpec `yaml:"template"`

	schedule cron.Schedule
}

// state is the persisted scheduler_state.json shape: name -> next fire
// time in RFC3339.
type state map[string]time.Time

// Scheduler ticks at Interval, enqueueing any entry whose next fire
// time has passed.
type Scheduler struct {
	Queue      *queue.Queue
	Entries    []Entry
	Interval   time.Duration
	StatePath  string
	Logger     func(format string, args ...any)

	st state
}

// DefaultInterval is the scheduler's default tick period.
const DefaultInterval = 30 * time.Second

// Load parses entries' cron expressions and loads (or initializes)
// the durable next-fire-time state from StatePath. Missing entries are
// initialized to their next fire time strictly after now, never
// back-filled.
func (s *Scheduler) Load(now time.Time) error {
	for i := range s.Entries {
		sched, err := cronParser.Parse(s.Entries[i].Schedule)
		if err != nil {
			return fmt.Errorf("parsing schedule for %q: %w", s.Entries[i].Name, err)
		}
		s.Entries[i].schedule = sched
	}

	st, err := loadState(s.StatePath)
	if err != nil {
		return fmt.Errorf("loading scheduler state: %w", err)
	}
	s.st = st

	changed := false
	for _, e := range s.Entries {
		if _, ok := s.st[e.Name]; !ok {
			s.st[e.Name] = e.schedule.Next(now)
			changed = true
		}
	}
	if changed {
		return s.saveState()
	}
	return nil
}

func loadState(path string) (state, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return state{}, nil
	}
	if err != nil {
		return nil, err
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if st == nil {
		st = state{}
	}
	return st, nil
}

// saveState atomically rewrites StatePath.
func (s *Scheduler) saveState() error {
	data, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.StatePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.StatePath)
}

// Run ticks at Interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(time.Now())
		}
	}
}

// Tick evaluates every entry against now, enqueueing at most one job
// per entry per call, and advances next_fire_time for any entry that
// fired.
func (s *Scheduler) Tick(now time.Time) {
	changed := false
	for i := range s.Entries {
		e := &s.Entries[i]
		next, ok := s.st[e.Name]
		if !ok || next.After(now) {
			continue
		}

		jobSpec := e.Template
		jobSpec.JobID = fmt.Sprintf("%s-%s", e.Name, now.UTC().Format("20060102T150405Z"))

		if err := s.Queue.Enqueue(&jobSpec); err != nil {
			if !errors.Is(err, queue.ErrDuplicateJob) && s.Logger != nil {
				s.Logger("scheduler: enqueue %s failed: %v", jobSpec.JobID, err)
			}
			// DuplicateJobError is tolerated: the tick already fired.
		}

		s.st[e.Name] = e.schedule.Next(now)
		changed = true
	}
	if changed {
		if err := s.saveState(); err != nil && s.Logger != nil {
			s.Logger("scheduler: persisting state failed: %v", err)
		}
	}
}
