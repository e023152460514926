// Command orchestrator-scheduler evaluates configured cron entries and
// enqueues jobs at most once per tick.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"

	"github.com/coderun-ai/orchestrator/internal/config"
	"github.com/coderun-ai/orchestrator/internal/logging"
	"github.com/coderun-ai/orchestrator/internal/policy"
	"github.com/coderun-ai/orchestrator/internal/queue"
	"github.com/coderun-ai/orchestrator/internal/scheduler"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	defer logging.RecoverAndPanic()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "orchestrator-scheduler: loading config:", err)
		return 1
	}

	redactor := policy.NewRedactor(os.Environ(), cfg.SensitiveEnvVars)
	cleanup := logging.InitSentry("scheduler", Version, redactor)
	defer cleanup()
	logger := logging.New(redactor, slog.LevelInfo)

	entriesPath := os.Getenv("SCHEDULER_CONFIG")
	if entriesPath == "" {
		entriesPath = "./data/schedules.yaml"
	}
	entries, err := loadEntries(entriesPath)
	if err != nil {
		logger.Errorf("loading scheduler config %s: %v", entriesPath, err)
		return 1
	}

	q, err := queue.New(cfg.QueueRoot)
	if err != nil {
		logger.Errorf("opening queue: %v", err)
		return 1
	}

	s := &scheduler.Scheduler{
		Queue:     q,
		Entries:   entries,
		StatePath: os.Getenv("SCHEDULER_STATE_PATH"),
		Logger:    logger.Logf,
	}
	if s.StatePath == "" {
		s.StatePath = "./data/scheduler_state.json"
	}
	if err := s.Load(time.Now()); err != nil {
		logger.Errorf("loading scheduler state: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("orchestrator-scheduler starting: %d entries from %s", len(entries), entriesPath)

	watcher, watchErr := fsnotify.NewWatcher()
	if watchErr != nil {
		logger.Warnf("fsnotify unavailable, schedules will not hot-reload: %v", watchErr)
		if err := s.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("scheduler stopped: %v", err)
			return 1
		}
		return 0
	}
	defer watcher.Close()
	if err := watcher.Add(entriesPath); err != nil {
		logger.Warnf("watching %s for changes: %v", entriesPath, err)
	}

	if err := runWithHotReload(ctx, s, watcher, entriesPath, logger); err != nil && ctx.Err() == nil {
		logger.Errorf("scheduler stopped: %v", err)
		return 1
	}
	return 0
}

// runWithHotReload ticks the scheduler and, on a write to entriesPath,
// reloads and replaces its entries in between ticks. The scheduler is
// driven from this single goroutine, so entries are never read and
// written concurrently.
func runWithHotReload(ctx context.Context, s *scheduler.Scheduler, watcher *fsnotify.Watcher, entriesPath string, logger *logging.Logger) error {
	interval := s.Interval
	if interval <= 0 {
		interval = scheduler.DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(time.Now())
		case event, ok := <-watcher.Events:
			if !ok {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			entries, err := loadEntries(entriesPath)
			if err != nil {
				logger.Warnf("reloading %s: %v", entriesPath, err)
				continue
			}
			s.Entries = entries
			if err := s.Load(time.Now()); err != nil {
				logger.Warnf("re-initializing scheduler state after reload: %v", err)
				continue
			}
			logger.Infof("reloaded %d scheduler entries from %s", len(entries), entriesPath)
		case err, ok := <-watcher.Errors:
			if !ok {
				continue
			}
			logger.Warnf("fsnotify error: %v", err)
		}
	}
}

// scheduleFile is the on-disk shape of the scheduler config file: a
// list of named cron entries, each templating a JobSpec.
type scheduleFile struct {
	Entries []scheduler.Entry `yaml:"entries"`
}

func loadEntries(path string) ([]scheduler.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f scheduleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for i := range f.Entries {
		if err := f.Entries[i].Template.Validate(); err != nil {
			return nil, fmt.Errorf("entry %q has an invalid job template: %w", f.Entries[i].Name, err)
		}
	}
	return f.Entries, nil
}
