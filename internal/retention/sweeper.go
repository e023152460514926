// Package retention periodically reaps artifact and workspace
// directories past their configured TTL, skipping any job still
// sitting in a non-terminal queue state.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// NonTerminalLister reports which job IDs must never be reaped because
// the queue still considers them in flight.
type NonTerminalLister interface {
	NonTerminalJobIDs() (map[string]bool, error)
}

// Logger is the minimal structured-logging surface the sweeper needs.
type Logger interface {
	Logf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Logf(string, ...any) {}

// Sweeper removes per-job directories under ArtifactsRoot and
// WorkspacesRoot once they exceed their respective TTL, unless the
// queue reports the job as still non-terminal.
type Sweeper struct {
	Queue NonTerminalLister

	ArtifactsRoot  string
	WorkspacesRoot string

	ArtifactsTTL  time.Duration
	WorkspacesTTL time.Duration

	Interval time.Duration
	Logger   Logger
}

// DefaultInterval is the sweeper's default tick period.
const DefaultInterval = 5 * time.Minute

func (s *Sweeper) logger() Logger {
	if s.Logger == nil {
		return noopLogger{}
	}
	return s.Logger
}

// Run ticks at Interval (or DefaultInterval) until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
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
			if err := s.Sweep(time.Now()); err != nil {
				s.logger().Logf("retention: sweep failed: %v", err)
			}
		}
	}
}

// Sweep performs one pass over ArtifactsRoot and WorkspacesRoot,
// evaluated against now.
func (s *Sweeper) Sweep(now time.Time) error {
	nonTerminal, err := s.Queue.NonTerminalJobIDs()
	if err != nil {
		return fmt.Errorf("listing non-terminal jobs: %w", err)
	}

	// Artifacts and workspaces live on independent directory trees, so
	// the two sweeps run concurrently rather than one after the other.
	var g errgroup.Group
	if s.ArtifactsRoot != "" && s.ArtifactsTTL > 0 {
		g.Go(func() error {
			if err := s.sweepRoot(s.ArtifactsRoot, s.ArtifactsTTL, nonTerminal, now); err != nil {
				return fmt.Errorf("sweeping artifacts: %w", err)
			}
			return nil
		})
	}
	if s.WorkspacesRoot != "" && s.WorkspacesTTL > 0 {
		g.Go(func() error {
			if err := s.sweepRoot(s.WorkspacesRoot, s.WorkspacesTTL, nonTerminal, now); err != nil {
				return fmt.Errorf("sweeping workspaces: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Sweeper) sweepRoot(root string, ttl time.Duration, nonTerminal map[string]bool, now time.Time) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		jobID := e.Name()
		if nonTerminal[jobID] {
			continue
		}

		path := filepath.Join(root, jobID)
		age, err := dirAge(path)
		if err != nil {
			s.logger().Logf("retention: stat %s: %v", path, err)
			continue
		}
		if now.Sub(age) < ttl {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			s.logger().Logf("retention: removing %s: %v", path, err)
			continue
		}
		s.logger().Logf("retention: reaped %s (age %s)", path, now.Sub(age))
	}
	return nil
}

// dirAge returns the most recent of the directory's mtime and atime,
// per spec: a job directory touched recently (even read-only) is kept.
func dirAge(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	mtime := info.ModTime()
	atime := statAtime(info)
	if atime.After(mtime) {
		return atime, nil
	}
	return mtime, nil
}
