// Package policy enforces the guards applied to a step's effective
// execution policy before a subprocess is spawned: binary allowlisting,
// sandbox requirements, network policy, and minimum-version preflight.
package policy

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/coderun-ai/orchestrator/internal/jobspec"
)

// Violation is returned when a step's effective policy forbids spawning
// the requested subprocess.
type Violation struct {
	Reason string
}

func (v *Violation) Error() string { return "policy violation: " + v.Reason }

// EnableRealCLI mirrors the ENABLE_REAL_CLI config flag: when false,
// workers must not spawn real subprocesses regardless of policy.
type Checker struct {
	EnableRealCLI bool
	// MinVersions maps a binary basename to a minimum semver constraint
	// and the argv used to probe its version (MIN_BINARY_VERSIONS).
	MinVersions map[string]VersionCheck
}

// VersionCheck describes how to probe a binary's version and what
// minimum is required.
type VersionCheck struct {
	MinVersion string
	ProbeArgs  []string // defaults to ["--version"]
}

// CheckSpawn enforces the four conditions from the policy section
// before a subprocess for binary (argv[0]) is spawned under policy.
func (c *Checker) CheckSpawn(ctx context.Context, binary string, policy jobspec.ExecutionPolicy) error {
	base := filepath.Base(binary)

	if c.EnableRealCLI && policy.Sandbox && policy.SandboxWrapper == "" {
		return &Violation{Reason: "sandbox=true requires sandbox_wrapper when ENABLE_REAL_CLI is set"}
	}

	if !containsBinary(policy.AllowedBinaries, base) {
		return &Violation{Reason: fmt.Sprintf("binary %q is not in allowed_binaries", base)}
	}

	if policy.NetworkPolicy == "deny" && policy.SandboxWrapper == "" {
		return &Violation{Reason: "network_policy=deny requires a sandbox wrapper"}
	}

	if check, ok := c.MinVersions[base]; ok {
		if err := checkMinVersion(ctx, binary, check); err != nil {
			return &Violation{Reason: err.Error()}
		}
	}

	return nil
}

func containsBinary(allowed []string, base string) bool {
	for _, a := range allowed {
		if a == base {
			return true
		}
	}
	return false
}

func checkMinVersion(ctx context.Context, binary string, check VersionCheck) error {
	args := check.ProbeArgs
	if len(args) == 0 {
		args = []string{"--version"}
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, binary, args...)
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("preflight version check for %s failed: %w", binary, err)
	}

	got := extractVersion(string(out))
	if got == "" {
		return fmt.Errorf("preflight version check for %s: could not parse version from output", binary)
	}

	min, err := semver.NewVersion(check.MinVersion)
	if err != nil {
		return fmt.Errorf("invalid minimum version constraint %q for %s: %w", check.MinVersion, binary, err)
	}
	gotVer, err := semver.NewVersion(got)
	if err != nil {
		return fmt.Errorf("preflight version check for %s: could not parse %q as semver: %w", binary, got, err)
	}
	if gotVer.LessThan(min) {
		return fmt.Errorf("%s version %s is below required minimum %s", binary, got, check.MinVersion)
	}
	return nil
}

// extractVersion finds the first token in s that parses as a semver
// version, tolerant of a leading "v" and surrounding text.
func extractVersion(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == ','
	})
	for _, f := range fields {
		candidate := strings.TrimPrefix(f, "v")
		if _, err := semver.NewVersion(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// BuildChildEnv constructs the environment passed to a subprocess: only
// variables named in allowlist are carried from parent, so an empty
// allowlist yields an empty, non-nil environment (a nil exec.Cmd.Env
// would inherit the parent's). clearEnv removes nothing beyond what the
// allowlist already excludes.
func BuildChildEnv(parentEnv []string, allowlist []string, clearEnv bool) []string {
	if clearEnv && len(allowlist) == 0 {
		return []string{}
	}
	allowed := make(map[string]bool, len(allowlist))
	for _, k := range allowlist {
		allowed[k] = true
	}
	out := make([]string, 0, len(allowlist))
	for _, kv := range parentEnv {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key := kv[:eq]
		if allowed[key] {
			out = append(out, kv)
		}
	}
	return out
}
