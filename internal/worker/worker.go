// Package worker defines the worker contract — a single run(ctx)
// operation invoked by the runner for each step — and its registry and
// built-in backends (simulation, subprocess, API-driven agentic loop).
package worker

import (
	"context"

	"github.com/coderun-ai/orchestrator/internal/jobspec"
)

// StepContext is passed to a worker for one step attempt. StepDir is
// where the worker writes its step artifacts; the runner checks only
// that the required files exist there and does not detect writes
// outside it.
type StepContext struct {
	JobID       string
	Step        jobspec.StepSpec
	Policy      jobspec.ExecutionPolicy
	StepDir     string
	WorkspaceDir string
	Logger      Logger
	Cancel      context.Context

	// InputArtifacts holds the materialized content of the step's
	// input_artifacts list, keyed by artifact-relative path (per
	// policy's max_input_artifacts_files/per-file/total character
	// caps; truncated with a trailing marker when a cap is exceeded).
	// The same content is also written under StepDir/"inputs/<rel>"
	// for workers that prefer reading from disk.
	InputArtifacts map[string]string
}

// Logger is the sanitizing logger handed to workers; Redact is applied
// by the concrete implementation before anything reaches the
// underlying writer.
type Logger interface {
	Logf(format string, args ...any)
}

// Worker is identified by a name (opencode, codex, claude, …) and
// exposes a single operation. It must write report.md, patch.diff, and
// logs.txt to ctx.StepDir, use only binaries allowlisted in
// ctx.Policy.AllowedBinaries, and honor ctx.Cancel within a bounded
// grace period.
type Worker interface {
	Run(ctx *StepContext) (jobspec.StepResult, error)
}

// Factory constructs a Worker for one step invocation. Workers are
// stateless across steps; the registry holds factories, not instances.
type Factory func() Worker

// Registry maps agent names to worker factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name, overwriting any existing entry.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Get constructs a worker for name, or returns false if name is unknown.
func (r *Registry) Get(name string) (Worker, bool) {
	f, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Names returns every registered agent name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
