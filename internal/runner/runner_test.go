package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/coderun-ai/orchestrator/internal/artifacts"
	"github.com/coderun-ai/orchestrator/internal/jobspec"
	"github.com/coderun-ai/orchestrator/internal/queue"
	"github.com/coderun-ai/orchestrator/internal/workspace"
	"github.com/coderun-ai/orchestrator/internal/worker"
)

func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v (%s)", args, err, out)
		}
	}
	run("init")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func newTestRunner(t *testing.T, workspacesRoot, artifactsRoot, queueRoot string) *Runner {
	t.Helper()
	q, err := queue.New(queueRoot)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	registry := worker.NewRegistry()
	registry.Register("simulation", worker.NewSimulationFactory("simulation"))

	return &Runner{
		Queue:     q,
		Artifacts: artifacts.New(artifactsRoot),
		Workspace: workspace.New(workspacesRoot, workspace.NonGitNeedsHuman),
		Workers:   registry,
		Policy:    jobspec.ExecutionPolicy{NetworkPolicy: "allow"},
		Config:    DefaultConfig(),
	}
}

// enqueueAndClaim puts spec into running/, as PollOnce does before it
// calls RunJob, so RunJob's final queue.Complete finds the job file.
func enqueueAndClaim(t *testing.T, r *Runner, spec *jobspec.JobSpec) {
	t.Helper()
	if err := r.Queue.Enqueue(spec); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := r.Queue.Claim(); err != nil {
		t.Fatalf("Claim: %v", err)
	}
}

func TestRunJob_SingleStepSucceeds(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repo := initGitRepo(t)
	root := t.TempDir()
	r := newTestRunner(t, filepath.Join(root, "workspaces"), filepath.Join(root, "artifacts"), filepath.Join(root, "queue"))

	spec := &jobspec.JobSpec{
		JobID:   "job-1",
		Goal:    "test goal",
		Workdir: repo,
		Steps: []jobspec.StepSpec{
			{StepID: "01_plan", Agent: "simulation", OnFailure: jobspec.OnFailureStop},
		},
	}

	enqueueAndClaim(t, r, spec)
	if err := r.RunJob(context.Background(), spec); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	var result jobspec.JobResult
	if err := r.Artifacts.ReadJSON(r.Artifacts.JobDir("job-1"), artifacts.FileResult, &result); err != nil {
		t.Fatalf("ReadJSON result: %v", err)
	}
	if result.Status != jobspec.JobStatusOK {
		t.Errorf("got status %s, want ok", result.Status)
	}
	if len(result.Steps) != 1 {
		t.Fatalf("expected 1 step result, got %d", len(result.Steps))
	}
}

func TestRunJob_UnknownAgentFailsStep(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repo := initGitRepo(t)
	root := t.TempDir()
	r := newTestRunner(t, filepath.Join(root, "workspaces"), filepath.Join(root, "artifacts"), filepath.Join(root, "queue"))

	spec := &jobspec.JobSpec{
		JobID:   "job-2",
		Goal:    "test goal",
		Workdir: repo,
		Steps: []jobspec.StepSpec{
			{StepID: "01_plan", Agent: "does_not_exist", OnFailure: jobspec.OnFailureStop},
		},
	}

	enqueueAndClaim(t, r, spec)
	if err := r.RunJob(context.Background(), spec); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	var result jobspec.JobResult
	if err := r.Artifacts.ReadJSON(r.Artifacts.JobDir("job-2"), artifacts.FileResult, &result); err != nil {
		t.Fatalf("ReadJSON result: %v", err)
	}
	if result.Status != jobspec.JobStatusFailed {
		t.Errorf("got status %s, want failed", result.Status)
	}
	if result.Steps[0].Error == nil || result.Steps[0].Error.Code != jobspec.ErrWorkerNotFound {
		t.Errorf("expected worker_not_found error, got %+v", result.Steps[0].Error)
	}
}

func TestRunJob_ProjectIDResolvesThroughAliases(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repo := initGitRepo(t)
	root := t.TempDir()
	r := newTestRunner(t, filepath.Join(root, "workspaces"), filepath.Join(root, "artifacts"), filepath.Join(root, "queue"))
	r.ProjectAliases = map[string]string{"demo": repo}

	spec := &jobspec.JobSpec{
		JobID:     "job-4",
		Goal:      "test goal",
		ProjectID: "demo",
		Steps: []jobspec.StepSpec{
			{StepID: "01_plan", Agent: "simulation", OnFailure: jobspec.OnFailureStop},
		},
	}

	enqueueAndClaim(t, r, spec)
	if err := r.RunJob(context.Background(), spec); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	var result jobspec.JobResult
	if err := r.Artifacts.ReadJSON(r.Artifacts.JobDir("job-4"), artifacts.FileResult, &result); err != nil {
		t.Fatalf("ReadJSON result: %v", err)
	}
	if result.Status != jobspec.JobStatusOK {
		t.Errorf("got status %s, want ok", result.Status)
	}
}

func TestRunJob_UnknownProjectIDFailsBeforeWorkspacePrepare(t *testing.T) {
	root := t.TempDir()
	r := newTestRunner(t, filepath.Join(root, "workspaces"), filepath.Join(root, "artifacts"), filepath.Join(root, "queue"))

	spec := &jobspec.JobSpec{
		JobID:     "job-5",
		Goal:      "test goal",
		ProjectID: "unconfigured",
		Steps: []jobspec.StepSpec{
			{StepID: "01_plan", Agent: "simulation", OnFailure: jobspec.OnFailureStop},
		},
	}

	enqueueAndClaim(t, r, spec)
	if err := r.RunJob(context.Background(), spec); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	var result jobspec.JobResult
	if err := r.Artifacts.ReadJSON(r.Artifacts.JobDir("job-5"), artifacts.FileResult, &result); err != nil {
		t.Fatalf("ReadJSON result: %v", err)
	}
	if result.Status != jobspec.JobStatusNeedsHuman {
		t.Errorf("got status %s, want needs_human", result.Status)
	}
	if result.Error == nil || result.Error.Code != jobspec.ErrValidation {
		t.Errorf("expected validation_error, got %+v", result.Error)
	}
}

func TestRunJob_MaterializesInputArtifactsAndRecordsRelativePaths(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repo := initGitRepo(t)
	root := t.TempDir()
	r := newTestRunner(t, filepath.Join(root, "workspaces"), filepath.Join(root, "artifacts"), filepath.Join(root, "queue"))
	r.Policy.MaxInputArtifactChars = 5

	spec := &jobspec.JobSpec{
		JobID:   "job-6",
		Goal:    "test goal",
		Workdir: repo,
		Steps: []jobspec.StepSpec{
			{StepID: "01_plan", Agent: "simulation", OnFailure: jobspec.OnFailureStop},
			{StepID: "02_apply", Agent: "simulation", OnFailure: jobspec.OnFailureStop,
				InputArtifacts: []string{artifacts.StepRelPath("01_plan", "report.md")}},
		},
	}

	enqueueAndClaim(t, r, spec)
	if err := r.RunJob(context.Background(), spec); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	var result jobspec.JobResult
	if err := r.Artifacts.ReadJSON(r.Artifacts.JobDir("job-6"), artifacts.FileResult, &result); err != nil {
		t.Fatalf("ReadJSON result: %v", err)
	}
	if result.Status != jobspec.JobStatusOK {
		t.Fatalf("got status %s, want ok", result.Status)
	}

	secondStep := result.Steps[1]
	wantArtifacts := []string{
		"steps/02_apply/report.md", "steps/02_apply/patch.diff", "steps/02_apply/logs.txt", "steps/02_apply/result.json",
	}
	if len(secondStep.Artifacts) != len(wantArtifacts) {
		t.Fatalf("got artifacts %v, want %v", secondStep.Artifacts, wantArtifacts)
	}
	for i, want := range wantArtifacts {
		if secondStep.Artifacts[i] != want {
			t.Errorf("artifact %d: got %q, want %q", i, secondStep.Artifacts[i], want)
		}
	}

	materializedPath := filepath.Join(r.Artifacts.StepDir("job-6", "02_apply"), "inputs", "steps", "01_plan", "report.md")
	data, err := os.ReadFile(materializedPath)
	if err != nil {
		t.Fatalf("expected input artifact materialized on disk: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected materialized input artifact content")
	}
	if len(data) <= 5 {
		t.Errorf("expected truncation marker appended after the 5-char cap, got %d bytes: %q", len(data), data)
	}
}

func TestRunJob_ContinueOnFailureAdvancesCursor(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repo := initGitRepo(t)
	root := t.TempDir()
	r := newTestRunner(t, filepath.Join(root, "workspaces"), filepath.Join(root, "artifacts"), filepath.Join(root, "queue"))

	spec := &jobspec.JobSpec{
		JobID:   "job-3",
		Goal:    "test goal",
		Workdir: repo,
		Steps: []jobspec.StepSpec{
			{StepID: "01_fails", Agent: "missing", OnFailure: jobspec.OnFailureContinue},
			{StepID: "02_runs", Agent: "simulation", OnFailure: jobspec.OnFailureStop},
		},
	}

	enqueueAndClaim(t, r, spec)
	if err := r.RunJob(context.Background(), spec); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	var result jobspec.JobResult
	if err := r.Artifacts.ReadJSON(r.Artifacts.JobDir("job-3"), artifacts.FileResult, &result); err != nil {
		t.Fatalf("ReadJSON result: %v", err)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("expected both steps to execute, got %d", len(result.Steps))
	}
	if result.Steps[1].Status != jobspec.StepStatusOK {
		t.Errorf("expected second step to succeed, got %s", result.Steps[1].Status)
	}
	if result.Status != jobspec.JobStatusFailed {
		t.Errorf("expected overall job status failed due to a continue-step failure, got %s", result.Status)
	}
}
