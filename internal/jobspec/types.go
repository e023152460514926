// Package jobspec defines the data model for jobs, steps, and execution
// policy that flows through the queue, runner, and scheduler.
package jobspec

import (
	"fmt"
	"path/filepath"
	"strings"
)

// OnFailure is the action taken when a step exhausts its retry budget.
type OnFailure string

const (
	OnFailureStop      OnFailure = "stop"
	OnFailureContinue  OnFailure = "continue"
	OnFailureAskHuman  OnFailure = "ask_human"
	onFailureGotoPrefix          = "goto:"
)

// IsGoto reports whether the policy is a goto:<step_id> directive and
// returns the target step id.
func (f OnFailure) IsGoto() (string, bool) {
	s := string(f)
	if strings.HasPrefix(s, onFailureGotoPrefix) {
		return strings.TrimPrefix(s, onFailureGotoPrefix), true
	}
	return "", false
}

// Normalize fills in the default on_failure policy.
func (f OnFailure) Normalize() OnFailure {
	if f == "" {
		return OnFailureStop
	}
	return f
}

// Validate checks that the on_failure value is one of the recognized forms.
func (f OnFailure) Validate() error {
	switch f.Normalize() {
	case OnFailureStop, OnFailureContinue, OnFailureAskHuman:
		return nil
	}
	if _, ok := f.IsGoto(); ok {
		return nil
	}
	return fmt.Errorf("invalid on_failure %q: must be stop, continue, ask_human, or goto:<step_id>", f)
}

// ExecutionPolicy holds the guards applied to every subprocess spawn for a
// job, merged from config defaults and per-job overrides.
type ExecutionPolicy struct {
	Sandbox            bool     `json:"sandbox"`
	SandboxWrapper     string   `json:"sandbox_wrapper,omitempty"`
	SandboxWrapperArgs []string `json:"sandbox_wrapper_args,omitempty"`
	NetworkPolicy      string   `json:"network_policy"` // "allow" | "deny"

	AllowedBinaries []string `json:"allowed_binaries,omitempty"`

	EnvAllowlist       []string `json:"env_allowlist,omitempty"`
	SensitiveEnvVars   []string `json:"sensitive_env_vars,omitempty"`
	SandboxClearEnv    bool     `json:"sandbox_clear_env"`

	MaxInputArtifactsFiles      int `json:"max_input_artifacts_files,omitempty"`
	MaxInputArtifactChars       int `json:"max_input_artifact_chars,omitempty"`
	MaxInputArtifactsCharsTotal int `json:"max_input_artifacts_chars_total,omitempty"`
}

// Overlay returns a new policy with non-zero fields of override applied on
// top of the receiver (the config-level default).
func (p ExecutionPolicy) Overlay(override *ExecutionPolicy) ExecutionPolicy {
	if override == nil {
		return p
	}
	out := p
	if override.Sandbox {
		out.Sandbox = true
	}
	if override.SandboxWrapper != "" {
		out.SandboxWrapper = override.SandboxWrapper
	}
	if len(override.SandboxWrapperArgs) > 0 {
		out.SandboxWrapperArgs = override.SandboxWrapperArgs
	}
	if override.NetworkPolicy != "" {
		out.NetworkPolicy = override.NetworkPolicy
	}
	if len(override.AllowedBinaries) > 0 {
		out.AllowedBinaries = override.AllowedBinaries
	}
	if len(override.EnvAllowlist) > 0 {
		out.EnvAllowlist = override.EnvAllowlist
	}
	if len(override.SensitiveEnvVars) > 0 {
		out.SensitiveEnvVars = override.SensitiveEnvVars
	}
	if override.SandboxClearEnv {
		out.SandboxClearEnv = true
	}
	if override.MaxInputArtifactsFiles > 0 {
		out.MaxInputArtifactsFiles = override.MaxInputArtifactsFiles
	}
	if override.MaxInputArtifactChars > 0 {
		out.MaxInputArtifactChars = override.MaxInputArtifactChars
	}
	if override.MaxInputArtifactsCharsTotal > 0 {
		out.MaxInputArtifactsCharsTotal = override.MaxInputArtifactsCharsTotal
	}
	return out
}

// StepSpec is a single worker invocation within a job.
type StepSpec struct {
	StepID         string    `json:"step_id"`
	Agent          string    `json:"agent"`
	Role           string    `json:"role,omitempty"`
	Prompt         string    `json:"prompt,omitempty"`
	InputArtifacts []string  `json:"input_artifacts,omitempty"`
	AllowedTools   []string  `json:"allowed_tools,omitempty"`
	TimeoutSec     int       `json:"timeout_sec,omitempty"`
	MaxAttempts    int       `json:"max_attempts,omitempty"`
	OnFailure      OnFailure `json:"on_failure,omitempty"`
}

var stepIDPattern = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-"

func isSafeToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(stepIDPattern, r) {
			return false
		}
	}
	return true
}

// JobSpec is the input contract accepted by enqueue.
type JobSpec struct {
	JobID            string           `json:"job_id"`
	Goal             string           `json:"goal"`
	Workdir          string           `json:"workdir"`
	ProjectID        string           `json:"project_id,omitempty"`
	Steps            []StepSpec       `json:"steps"`
	Policy           *ExecutionPolicy `json:"policy,omitempty"`
	ContextWindow    int              `json:"context_window,omitempty"`
	ContextStrategy  string           `json:"context_strategy,omitempty"`
	Schedule         string           `json:"schedule,omitempty"`
}

// Validate checks the structural invariants from spec §3: non-empty job
// id with no path separators or leading dot, unique step ids, safe step
// id tokens, and goto targets that refer to an existing step.
func (j *JobSpec) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("job_id must not be empty")
	}
	if strings.ContainsAny(j.JobID, "/\\") || strings.HasPrefix(j.JobID, ".") {
		return fmt.Errorf("job_id %q must not contain path separators or start with '.'", j.JobID)
	}
	if j.Workdir == "" && j.ProjectID == "" {
		return fmt.Errorf("either workdir or project_id must be set")
	}
	if len(j.Steps) == 0 {
		return fmt.Errorf("steps must not be empty")
	}

	seen := make(map[string]bool, len(j.Steps))
	for i, step := range j.Steps {
		if !isSafeToken(step.StepID) {
			return fmt.Errorf("step %d: step_id %q must be a safe filename token", i, step.StepID)
		}
		if seen[step.StepID] {
			return fmt.Errorf("step %d: duplicate step_id %q", i, step.StepID)
		}
		seen[step.StepID] = true
		if step.Agent == "" {
			return fmt.Errorf("step %q: agent must not be empty", step.StepID)
		}
		if err := step.OnFailure.Validate(); err != nil {
			return fmt.Errorf("step %q: %w", step.StepID, err)
		}
		for _, artifact := range step.InputArtifacts {
			if err := validateArtifactRef(artifact); err != nil {
				return fmt.Errorf("step %q: input_artifacts: %w", step.StepID, err)
			}
		}
	}

	for i, step := range j.Steps {
		if target, ok := step.OnFailure.IsGoto(); ok {
			if !seen[target] {
				return fmt.Errorf("step %d (%q): goto target %q does not refer to an existing step", i, step.StepID, target)
			}
		}
	}

	return nil
}

// validateArtifactRef ensures a relative input-artifact path, once joined
// onto an artifact root and cleaned, cannot escape that root.
func validateArtifactRef(rel string) error {
	if rel == "" {
		return fmt.Errorf("empty artifact path")
	}
	cleaned := filepath.ToSlash(filepath.Clean(rel))
	if cleaned == "." || cleaned == "/" || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("artifact path %q is not a safe relative path", rel)
	}
	return nil
}

// StepByID returns the index of the step with the given id, or -1.
func (j *JobSpec) StepByID(id string) int {
	for i := range j.Steps {
		if j.Steps[i].StepID == id {
			return i
		}
	}
	return -1
}
