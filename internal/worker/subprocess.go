package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/coderun-ai/orchestrator/internal/artifacts"
	"github.com/coderun-ai/orchestrator/internal/jobspec"
	"github.com/coderun-ai/orchestrator/internal/policy"
)

// Subprocess runs a real CLI agent as a sandboxed child process. Argv
// is built entirely from the step spec and fixed flags — never a shell
// string — and the child environment is allowlist-filtered per policy.
type Subprocess struct {
	Agent   string
	Binary  string
	BaseArgs []string
	Checker *policy.Checker
}

// NewSubprocessFactory returns a Factory producing a Subprocess worker
// that invokes binary with baseArgs, gated by checker.
func NewSubprocessFactory(agent, binary string, baseArgs []string, checker *policy.Checker) Factory {
	return func() Worker {
		return &Subprocess{Agent: agent, Binary: binary, BaseArgs: baseArgs, Checker: checker}
	}
}

func (s *Subprocess) Run(ctx *StepContext) (jobspec.StepResult, error) {
	started := time.Now()

	if s.Checker == nil || !s.Checker.EnableRealCLI {
		return failResult(ctx, s.Agent, started, jobspec.ErrPolicyViolation, "real CLI workers are disabled: ENABLE_REAL_CLI is not set", false), nil
	}

	if err := s.Checker.CheckSpawn(ctx.Cancel, s.Binary, ctx.Policy); err != nil {
		return failResult(ctx, s.Agent, started, jobspec.ErrPolicyViolation, err.Error(), false), nil
	}

	args := make([]string, len(s.BaseArgs))
	copy(args, s.BaseArgs)
	if ctx.Step.Prompt != "" {
		args = append(args, ctx.Step.Prompt)
	}

	redactor := policy.NewRedactor(os.Environ(), ctx.Policy.SensitiveEnvVars)

	// Input artifacts were already materialized to ctx.StepDir/inputs by
	// the runner; point the child at that directory rather than passing
	// content through argv or stdin.
	var inputArtifactsEnv []string
	if len(ctx.InputArtifacts) > 0 {
		inputArtifactsEnv = []string{"STEP_INPUT_ARTIFACTS_DIR=" + filepath.Join(ctx.StepDir, "inputs")}
	}

	cmd := exec.CommandContext(ctx.Cancel, s.Binary, args...)
	cmd.Dir = ctx.WorkspaceDir
	cmd.Env = append(policy.BuildChildEnv(os.Environ(), ctx.Policy.EnvAllowlist, ctx.Policy.SandboxClearEnv), inputArtifactsEnv...)
	if ctx.Policy.Sandbox && ctx.Policy.SandboxWrapper != "" {
		wrapped := append([]string{ctx.Policy.SandboxWrapper}, ctx.Policy.SandboxWrapperArgs...)
		wrapped = append(wrapped, s.Binary)
		wrapped = append(wrapped, args...)
		cmd = exec.CommandContext(ctx.Cancel, wrapped[0], wrapped[1:]...)
		cmd.Dir = ctx.WorkspaceDir
		cmd.Env = append(policy.BuildChildEnv(os.Environ(), ctx.Policy.EnvAllowlist, ctx.Policy.SandboxClearEnv), inputArtifactsEnv...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	logs := redactor.Redact(fmt.Sprintf("$ %s %v\n--- stdout ---\n%s\n--- stderr ---\n%s\n",
		s.Binary, args, stdout.String(), stderr.String()))

	if err := os.MkdirAll(ctx.StepDir, 0o755); err != nil {
		return jobspec.StepResult{}, fmt.Errorf("creating step directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(ctx.StepDir, "logs.txt"), []byte(logs), 0o644); err != nil {
		return jobspec.StepResult{}, fmt.Errorf("writing logs.txt: %w", err)
	}

	if runErr != nil {
		if ctx.Cancel.Err() == context.DeadlineExceeded {
			return failResult(ctx, s.Agent, started, jobspec.ErrTimeout, "step timed out", true), nil
		}
		_ = os.WriteFile(filepath.Join(ctx.StepDir, "report.md"), []byte("# Step failed\n\nsubprocess exited non-zero.\n"), 0o644)
		_ = os.WriteFile(filepath.Join(ctx.StepDir, "patch.diff"), nil, 0o644)
		return failResult(ctx, s.Agent, started, jobspec.ErrSubprocessExitNonzero, runErr.Error(), true), nil
	}

	for _, name := range []string{"report.md", "patch.diff"} {
		if _, err := os.Stat(filepath.Join(ctx.StepDir, name)); os.IsNotExist(err) {
			if writeErr := os.WriteFile(filepath.Join(ctx.StepDir, name), nil, 0o644); writeErr != nil {
				return jobspec.StepResult{}, fmt.Errorf("writing default %s: %w", name, writeErr)
			}
		}
	}

	ended := time.Now()
	return jobspec.StepResult{
		Kind:      "step",
		StepID:    ctx.Step.StepID,
		Agent:     s.Agent,
		Status:    jobspec.StepStatusOK,
		Attempts:  1,
		StartedAt: started,
		EndedAt:   ended,
		Artifacts: []string{
			artifacts.StepRelPath(ctx.Step.StepID, "report.md"),
			artifacts.StepRelPath(ctx.Step.StepID, "patch.diff"),
			artifacts.StepRelPath(ctx.Step.StepID, "logs.txt"),
		},
	}, nil
}

func failResult(ctx *StepContext, agent string, started time.Time, code, message string, retriable bool) jobspec.StepResult {
	return jobspec.StepResult{
		Kind:      "step",
		StepID:    ctx.Step.StepID,
		Agent:     agent,
		Status:    jobspec.StepStatusFailed,
		Attempts:  1,
		StartedAt: started,
		EndedAt:   time.Now(),
		Error:     &jobspec.StepError{Code: code, Message: message, Retriable: retriable},
	}
}
