// Package runner implements the step-by-step job execution engine: a
// single cooperative loop per process that claims jobs from the queue,
// prepares a workspace, and executes steps under a cursor that supports
// forward moves, continue, and goto.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coderun-ai/orchestrator/internal/artifacts"
	"github.com/coderun-ai/orchestrator/internal/jobspec"
	"github.com/coderun-ai/orchestrator/internal/policy"
	"github.com/coderun-ai/orchestrator/internal/queue"
	"github.com/coderun-ai/orchestrator/internal/workspace"
	"github.com/coderun-ai/orchestrator/internal/worker"
)

// defaultStepTransitionLimit caps total step transitions per job (§4.4)
// when Config.StepTransitionLimit is unset; a job that exceeds it fails with step_transition_limit rather than
// looping forever on a goto cycle.
const defaultStepTransitionLimit = 64

// BudgetGate is consulted before every step attempt. Implementations
// must make the check-and-record atomic across runner processes.
type BudgetGate interface {
	CheckAndLog(ctx context.Context, worker string, calls int, costUSD float64) error
}

// Logger is the sanitizing logger passed down to workers.
type Logger interface {
	Logf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Logf(string, ...any) {}

// Config holds the runner's tunables (RUNNER_* environment variables).
type Config struct {
	PollInterval          time.Duration
	ReclaimAfter          time.Duration
	MaxAttemptsPerStep    int
	StepTransitionLimit   int
	ShutdownGrace         time.Duration
}

// DefaultConfig returns the runner's documented defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:        2 * time.Second,
		ReclaimAfter:        10 * time.Minute,
		MaxAttemptsPerStep:  3,
		StepTransitionLimit: defaultStepTransitionLimit,
		ShutdownGrace:       10 * time.Second,
	}
}

// Runner executes jobs claimed from Queue.
type Runner struct {
	Queue     *queue.Queue
	Artifacts *artifacts.Store
	Workspace *workspace.Manager
	Workers   *worker.Registry
	Budget    BudgetGate
	Checker   *policy.Checker
	Policy    jobspec.ExecutionPolicy // config-level default, overlaid per job
	Config    Config
	Logger    Logger

	// ProjectAliases maps a JobSpec's project_id to an absolute workdir
	// path (PROJECT_ALIASES). A JobSpec may give workdir directly
	// instead, which resolveWorkdir treats as the escape hatch.
	ProjectAliases map[string]string
}

func (r *Runner) logger() Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return noopLogger{}
}

// Run polls the queue forever until ctx is cancelled, executing one job
// to completion per claim.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.Config.PollInterval
	if interval <= 0 {
		interval = DefaultConfig().PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.PollOnce(ctx); err != nil && err != queue.ErrQueueEmpty {
				r.logger().Logf("poll error: %v", err)
			}
		}
	}
}

// PollOnce claims a single job (if any) and runs it to a terminal
// state. Returns queue.ErrQueueEmpty when there was nothing to claim.
func (r *Runner) PollOnce(ctx context.Context) error {
	spec, err := r.Queue.Claim()
	if err != nil {
		return err
	}
	return r.RunJob(ctx, spec)
}

// RunJob executes spec to completion and moves the queue file to its
// terminal directory. Errors returned are infrastructure failures
// (workspace/artifact I/O); job-level failures are recorded in
// result.json and reflected as a "failed" or "awaiting_approval"
// queue.Complete call, not a Go error.
func (r *Runner) RunJob(ctx context.Context, spec *jobspec.JobSpec) error {
	jobDir := r.Artifacts.JobDir(spec.JobID)
	if err := r.Artifacts.WriteJSON(jobDir, artifacts.FileJobSpec, spec); err != nil {
		return fmt.Errorf("persisting job spec: %w", err)
	}

	effectivePolicy := r.Policy.Overlay(spec.Policy)

	workdir, err := r.resolveWorkdir(spec)
	if err != nil {
		return r.abortJob(spec, jobspec.StepError{Code: jobspec.ErrValidation, Message: err.Error()})
	}

	info, teardown, err := r.Workspace.Prepare(ctx, spec.JobID, workdir)
	if err != nil {
		return r.abortJob(spec, jobspec.StepError{Code: workdirErrorCode(err), Message: err.Error()})
	}
	_ = teardown // torn down by retention, never by the runner (§4.3)

	state := jobspec.NewJobState()
	var executed []jobspec.StepResult
	startedAt := time.Now()
	var continueFailure *jobspec.StepError

	cursor := 0
	for {
		if cursor < 0 || cursor >= len(spec.Steps) {
			break
		}
		step := spec.Steps[cursor]

		// Stamp the cursor's current step before it runs, so an external
		// watcher tailing state.json sees progress immediately rather
		// than only after the (possibly long) step completes. This is
		// overwritten by the full WriteJSON below regardless.
		if r.Artifacts.Exists(jobDir, artifacts.FileState) {
			_ = r.Artifacts.SetJSONField(jobDir, artifacts.FileState, "running_step", step.StepID)
		}

		if state.Transitions >= transitionLimit(r.Config) {
			return r.finishJob(spec, state, executed, startedAt, jobspec.JobStatusFailed,
				&jobspec.StepError{Code: jobspec.ErrStepTransitionLimit, Message: "step transition budget exceeded"})
		}
		state.Transitions++
		state.Cursor = cursor

		result := r.runStepWithRetries(ctx, spec, step, effectivePolicy, info.WorkDir)
		executed = append(executed, result)
		state.Steps[step.StepID] = jobspec.StepState{
			Status:      result.Status,
			Attempts:    result.Attempts,
			LastError:   result.Error,
			LastUpdated: time.Now(),
		}
		state.Revision++
		if err := r.Artifacts.WriteJSON(jobDir, artifacts.FileState, state); err != nil {
			return fmt.Errorf("persisting state.json: %w", err)
		}

		if result.Status == jobspec.StepStatusOK || result.Status == jobspec.StepStatusSkipped {
			cursor++
			continue
		}

		// Step failed (or needs_human synthesized below): apply on_failure.
		onFailure := step.OnFailure.Normalize()
		if target, ok := onFailure.IsGoto(); ok {
			cursor = spec.StepByID(target)
			continue
		}
		switch onFailure {
		case jobspec.OnFailureStop:
			return r.finishJob(spec, state, executed, startedAt, jobspec.JobStatusFailed, result.Error)
		case jobspec.OnFailureContinue:
			if continueFailure == nil {
				continueFailure = result.Error
			}
			cursor++
			continue
		case jobspec.OnFailureAskHuman:
			return r.finishJob(spec, state, executed, startedAt, jobspec.JobStatusNeedsHuman, result.Error)
		default:
			return r.finishJob(spec, state, executed, startedAt, jobspec.JobStatusFailed, result.Error)
		}
	}

	if continueFailure != nil {
		return r.finishJob(spec, state, executed, startedAt, jobspec.JobStatusFailed, continueFailure)
	}
	return r.finishJob(spec, state, executed, startedAt, jobspec.JobStatusOK, nil)
}

func transitionLimit(cfg Config) int {
	if cfg.StepTransitionLimit > 0 {
		return cfg.StepTransitionLimit
	}
	return defaultStepTransitionLimit
}

// resolveWorkdir resolves a JobSpec's target path per spec §3: a
// project_id is resolved through the configured ProjectAliases table;
// a bare workdir is the escape hatch and is used unresolved.
func (r *Runner) resolveWorkdir(spec *jobspec.JobSpec) (string, error) {
	if spec.ProjectID != "" {
		path, ok := r.ProjectAliases[spec.ProjectID]
		if !ok {
			return "", fmt.Errorf("project_id %q has no configured project alias", spec.ProjectID)
		}
		return path, nil
	}
	return spec.Workdir, nil
}

func workdirErrorCode(err error) string {
	if e, ok := err.(*workspace.NonGitWorkdirError); ok {
		if e.Status == workspace.NonGitFailed {
			return jobspec.ErrPolicyViolation
		}
		return jobspec.ErrValidation
	}
	if _, ok := err.(*workspace.EscapeError); ok {
		return jobspec.ErrPathTraversal
	}
	return jobspec.ErrTransientIO
}

// abortJob records a job-level failure that occurred before any step
// ran (workspace preparation failed) and completes the queue entry.
func (r *Runner) abortJob(spec *jobspec.JobSpec, stepErr jobspec.StepError) error {
	status := jobspec.JobStatusFailed
	terminal := "failed"
	if stepErr.Code == jobspec.ErrValidation {
		status = jobspec.JobStatusNeedsHuman
		terminal = "awaiting_approval"
	}
	result := jobspec.JobResult{
		Kind:      "job",
		JobID:     spec.JobID,
		Status:    status,
		Error:     &stepErr,
		StartedAt: time.Now(),
		EndedAt:   time.Now(),
	}
	jobDir := r.Artifacts.JobDir(spec.JobID)
	if err := r.Artifacts.WriteJSON(jobDir, artifacts.FileResult, result); err != nil {
		return fmt.Errorf("persisting job result: %w", err)
	}
	return r.Queue.Complete(spec.JobID, terminal)
}

// runStepWithRetries executes one step to a terminal per-attempt
// status, retrying attempts whose error code is retriable up to
// max_attempts.
func (r *Runner) runStepWithRetries(ctx context.Context, spec *jobspec.JobSpec, step jobspec.StepSpec, pol jobspec.ExecutionPolicy, workspaceDir string) jobspec.StepResult {
	maxAttempts := step.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = r.Config.MaxAttemptsPerStep
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	stepDir := r.Artifacts.StepDir(spec.JobID, step.StepID)

	var last jobspec.StepResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last = r.runStepAttempt(ctx, spec, step, pol, stepDir, workspaceDir, attempt)
		if last.Status == jobspec.StepStatusOK {
			break
		}
		workerRetriable := last.Error != nil && last.Error.Retriable
		if last.Error == nil || !jobspec.IsRetriable(last.Error.Code, workerRetriable) {
			break
		}
	}

	// result.json itself is written by the runner, after the worker
	// returns, so only the runner can add its own path to the artifact
	// list the worker already populated.
	if last.Status == jobspec.StepStatusOK {
		last.Artifacts = append(last.Artifacts, artifacts.StepRelPath(step.StepID, "result.json"))
	}

	if err := r.Artifacts.WriteJSON(stepDir, "result.json", last); err != nil {
		last.Status = jobspec.StepStatusFailed
		last.Error = &jobspec.StepError{Code: jobspec.ErrTransientIO, Message: err.Error()}
	}
	return last
}

// inputArtifactTruncationMarker is appended to materialized input
// artifact content that was cut short by a per-file or total character
// cap (§4.4 step 1).
const inputArtifactTruncationMarker = "\n...[truncated: exceeds input artifact character cap]...\n"

// materializeInputArtifacts reads each of step's input_artifacts out of
// the job's artifact store, enforcing MaxInputArtifactsFiles (excess
// files are dropped), MaxInputArtifactChars (per file), and
// MaxInputArtifactsCharsTotal (across all files combined), truncating
// with a trailing marker rather than failing the step when a cap is
// exceeded. Entries that can't be read (e.g. a prior step that never
// ran) are silently skipped.
func (r *Runner) materializeInputArtifacts(jobDir string, step jobspec.StepSpec, pol jobspec.ExecutionPolicy) map[string]string {
	refs := step.InputArtifacts
	if pol.MaxInputArtifactsFiles > 0 && len(refs) > pol.MaxInputArtifactsFiles {
		refs = refs[:pol.MaxInputArtifactsFiles]
	}

	materialized := make(map[string]string, len(refs))
	totalChars := 0
	for _, rel := range refs {
		data, err := r.Artifacts.ReadFile(jobDir, rel)
		if err != nil {
			continue
		}
		content := string(data)

		if pol.MaxInputArtifactChars > 0 && len(content) > pol.MaxInputArtifactChars {
			content = content[:pol.MaxInputArtifactChars] + inputArtifactTruncationMarker
		}
		if pol.MaxInputArtifactsCharsTotal > 0 {
			remaining := pol.MaxInputArtifactsCharsTotal - totalChars
			if remaining <= 0 {
				break
			}
			if len(content) > remaining {
				content = content[:remaining] + inputArtifactTruncationMarker
			}
		}

		totalChars += len(content)
		materialized[rel] = content
	}
	return materialized
}

// writeInputArtifactFiles mirrors materialized input-artifact content
// onto disk under stepDir/inputs/<rel>, for workers (subprocess,
// agentic) that read their context from the filesystem rather than
// StepContext.InputArtifacts directly.
func writeInputArtifactFiles(stepDir string, materialized map[string]string) error {
	if len(materialized) == 0 {
		return nil
	}
	inputsDir := filepath.Join(stepDir, "inputs")
	for rel, content := range materialized {
		dest := filepath.Join(inputsDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("creating input artifact directory for %s: %w", rel, err)
		}
		if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing input artifact %s: %w", rel, err)
		}
	}
	return nil
}

// runStepAttempt executes one attempt of one step per §4.4: budget
// check, timeout-bounded worker invocation, and required-file
// verification.
func (r *Runner) runStepAttempt(ctx context.Context, spec *jobspec.JobSpec, step jobspec.StepSpec, pol jobspec.ExecutionPolicy, stepDir, workspaceDir string, attempt int) jobspec.StepResult {
	started := time.Now()

	if r.Budget != nil {
		if err := r.Budget.CheckAndLog(ctx, step.Agent, 1, 0); err != nil {
			return jobspec.StepResult{
				Kind: "step", StepID: step.StepID, Agent: step.Agent, Status: jobspec.StepStatusFailed,
				Attempts: attempt, StartedAt: started, EndedAt: time.Now(),
				Error: &jobspec.StepError{Code: jobspec.ErrBudgetExceeded, Message: err.Error()},
			}
		}
	}

	w, ok := r.Workers.Get(step.Agent)
	if !ok {
		return jobspec.StepResult{
			Kind: "step", StepID: step.StepID, Agent: step.Agent, Status: jobspec.StepStatusFailed,
			Attempts: attempt, StartedAt: started, EndedAt: time.Now(),
			Error: &jobspec.StepError{Code: jobspec.ErrWorkerNotFound, Message: fmt.Sprintf("no worker registered for agent %q", step.Agent)},
		}
	}

	jobDir := r.Artifacts.JobDir(spec.JobID)
	inputArtifacts := r.materializeInputArtifacts(jobDir, step, pol)
	if err := writeInputArtifactFiles(stepDir, inputArtifacts); err != nil {
		return jobspec.StepResult{
			Kind: "step", StepID: step.StepID, Agent: step.Agent, Status: jobspec.StepStatusFailed,
			Attempts: attempt, StartedAt: started, EndedAt: time.Now(),
			Error: &jobspec.StepError{Code: jobspec.ErrTransientIO, Message: err.Error()},
		}
	}

	timeout := time.Duration(step.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wc := &worker.StepContext{
		JobID:          spec.JobID,
		Step:           step,
		Policy:         pol,
		StepDir:        stepDir,
		WorkspaceDir:   workspaceDir,
		Cancel:         stepCtx,
		InputArtifacts: inputArtifacts,
	}

	result, err := w.Run(wc)
	if err != nil {
		code := jobspec.ErrTransientIO
		if stepCtx.Err() == context.DeadlineExceeded {
			code = jobspec.ErrTimeout
		}
		return jobspec.StepResult{
			Kind: "step", StepID: step.StepID, Agent: step.Agent, Status: jobspec.StepStatusFailed,
			Attempts: attempt, StartedAt: started, EndedAt: time.Now(),
			Error: &jobspec.StepError{Code: code, Message: err.Error(), Retriable: code == jobspec.ErrTimeout},
		}
	}
	result.Attempts = attempt

	if result.Status == jobspec.StepStatusOK {
		// result.json (the fourth entry of RequiredStepFiles) is written
		// by this runner below, after Run returns, so only the three
		// worker-owned files are checked here.
		missing := r.Artifacts.MissingWorkerFiles(stepDir)
		if len(missing) > 0 {
			result.Status = jobspec.StepStatusFailed
			result.Error = &jobspec.StepError{
				Code:    jobspec.ErrWorkerContractViol,
				Message: fmt.Sprintf("worker did not write required files: %s", strings.Join(missing, ", ")),
			}
		}
	}

	return result
}

// finishJob writes the aggregate job artifacts in execution order and
// completes the queue entry.
func (r *Runner) finishJob(spec *jobspec.JobSpec, state *jobspec.JobState, executed []jobspec.StepResult, startedAt time.Time, status jobspec.JobStatus, stepErr *jobspec.StepError) error {
	jobDir := r.Artifacts.JobDir(spec.JobID)

	var report, patch, logs strings.Builder
	for _, sr := range executed {
		stepDir := r.Artifacts.StepDir(spec.JobID, sr.StepID)
		appendIfExists(&report, stepDir, "report.md")
		appendIfExists(&patch, stepDir, "patch.diff")
		appendIfExists(&logs, stepDir, "logs.txt")
	}
	_ = r.Artifacts.WriteFile(jobDir, artifacts.FileReport, []byte(report.String()))
	_ = r.Artifacts.WriteFile(jobDir, artifacts.FilePatch, []byte(patch.String()))
	_ = r.Artifacts.WriteFile(jobDir, artifacts.FileLogs, []byte(logs.String()))

	result := jobspec.JobResult{
		Kind:      "job",
		JobID:     spec.JobID,
		Status:    status,
		Steps:     executed,
		Error:     stepErr,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
	}
	if err := r.Artifacts.WriteJSON(jobDir, artifacts.FileResult, result); err != nil {
		return fmt.Errorf("persisting job result: %w", err)
	}

	terminal := "done"
	switch status {
	case jobspec.JobStatusFailed:
		terminal = "failed"
	case jobspec.JobStatusNeedsHuman:
		terminal = "awaiting_approval"
	}
	return r.Queue.Complete(spec.JobID, terminal)
}

func appendIfExists(b *strings.Builder, stepDir, name string) {
	data, err := os.ReadFile(filepath.Join(stepDir, name))
	if err != nil {
		return
	}
	b.Write(data)
	b.WriteString("\n")
}
