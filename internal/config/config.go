// Package config loads the orchestrator's process-wide configuration
// from environment variables, per spec §6, and builds the shared,
// read-only singletons (execution policy defaults, binary version
// checks, project alias table) the other packages consume.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coderun-ai/orchestrator/internal/budget"
	"github.com/coderun-ai/orchestrator/internal/jobspec"
	"github.com/coderun-ai/orchestrator/internal/policy"
	"github.com/coderun-ai/orchestrator/internal/retention"
	"github.com/coderun-ai/orchestrator/internal/runner"
	"github.com/coderun-ai/orchestrator/internal/workspace"
)

// Config is the fully-resolved process configuration, assembled once
// at startup and treated as read-only afterward.
type Config struct {
	QueueRoot      string
	ArtifactsRoot  string
	WorkspacesRoot string
	BudgetDBPath   string

	Policy  jobspec.ExecutionPolicy
	Checker policy.Checker

	NonGitWorkdirStatus workspace.NonGitStatus
	ProjectAliases      map[string]string

	Runner    runner.Config
	Retention RetentionConfig
	Budget    budget.Limits

	SensitiveEnvVars []string
}

// RetentionConfig mirrors the sweeper's tunables.
type RetentionConfig struct {
	Interval      time.Duration
	ArtifactsTTL  time.Duration
	WorkspacesTTL time.Duration
}

// Load reads Config from the process environment, applying the
// documented defaults for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		QueueRoot:      getEnv("QUEUE_ROOT", "./data/queue"),
		ArtifactsRoot:  getEnv("ARTIFACTS_ROOT", "./data/artifacts"),
		WorkspacesRoot: getEnv("WORKSPACES_ROOT", "./data/workspaces"),
		BudgetDBPath:   getEnv("BUDGET_DB_PATH", "./data/budget.db"),
	}

	cfg.NonGitWorkdirStatus = workspace.NonGitStatus(getEnv("NON_GIT_WORKDIR_STATUS", string(workspace.NonGitNeedsHuman)))
	if cfg.NonGitWorkdirStatus != workspace.NonGitNeedsHuman && cfg.NonGitWorkdirStatus != workspace.NonGitFailed {
		return nil, fmt.Errorf("invalid NON_GIT_WORKDIR_STATUS %q: must be needs_human or failed", cfg.NonGitWorkdirStatus)
	}

	aliases, err := parseAliases(os.Getenv("PROJECT_ALIASES"))
	if err != nil {
		return nil, fmt.Errorf("parsing PROJECT_ALIASES: %w", err)
	}
	cfg.ProjectAliases = aliases

	cfg.Policy = jobspec.ExecutionPolicy{
		Sandbox:                     getBool("SANDBOX", false),
		SandboxWrapper:              os.Getenv("SANDBOX_WRAPPER"),
		SandboxWrapperArgs:          splitNonEmpty(os.Getenv("SANDBOX_WRAPPER_ARGS")),
		NetworkPolicy:               getEnv("NETWORK_POLICY", "deny"),
		AllowedBinaries:             splitNonEmpty(os.Getenv("ALLOWED_BINARIES")),
		EnvAllowlist:                splitNonEmpty(os.Getenv("ENV_ALLOWLIST")),
		SensitiveEnvVars:            splitNonEmpty(os.Getenv("SENSITIVE_ENV_VARS")),
		SandboxClearEnv:             getBool("SANDBOX_CLEAR_ENV", false),
		MaxInputArtifactsFiles:      getInt("MAX_INPUT_ARTIFACTS_FILES", 0),
		MaxInputArtifactChars:       getInt("MAX_INPUT_ARTIFACT_CHARS", 0),
		MaxInputArtifactsCharsTotal: getInt("MAX_INPUT_ARTIFACTS_CHARS", 0),
	}
	cfg.SensitiveEnvVars = cfg.Policy.SensitiveEnvVars

	minVersions, err := parseMinVersions(os.Getenv("MIN_BINARY_VERSIONS"))
	if err != nil {
		return nil, fmt.Errorf("parsing MIN_BINARY_VERSIONS: %w", err)
	}
	cfg.Checker = policy.Checker{
		EnableRealCLI: getBool("ENABLE_REAL_CLI", false),
		MinVersions:   minVersions,
	}

	cfg.Runner = runner.Config{
		PollInterval:        getSeconds("RUNNER_POLL_INTERVAL_SEC", 2),
		ReclaimAfter:        getSeconds("RUNNER_RECLAIM_AFTER_SEC", 600),
		MaxAttemptsPerStep:  getInt("RUNNER_MAX_ATTEMPTS_PER_STEP", 3),
		StepTransitionLimit: getInt("STEP_TRANSITION_LIMIT", 64),
		ShutdownGrace:       getSeconds("RUNNER_MAX_IDLE_SEC", 10),
	}

	cfg.Retention = RetentionConfig{
		Interval:      getSeconds("RETENTION_INTERVAL_SEC", int(retention.DefaultInterval/time.Second)),
		ArtifactsTTL:  getSeconds("ARTIFACTS_TTL_SEC", 7*24*3600),
		WorkspacesTTL: getSeconds("WORKSPACES_TTL_SEC", 24*3600),
	}

	cfg.Budget = budget.Limits{
		MaxCallsPerDay:   getInt("BUDGET_MAX_CALLS_PER_DAY", budget.DefaultMaxCalls),
		MaxCostUSDPerDay: getFloat("BUDGET_MAX_COST_USD_PER_DAY", budget.DefaultMaxCostUSD),
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getSeconds(key string, defSeconds int) time.Duration {
	return time.Duration(getInt(key, defSeconds)) * time.Second
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseAliases parses "id=/abs/path,id2=/abs/path2" into a map.
func parseAliases(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, entry := range splitNonEmpty(raw) {
		id, path, ok := strings.Cut(entry, "=")
		if !ok || id == "" || path == "" {
			return nil, fmt.Errorf("invalid PROJECT_ALIASES entry %q: want id=/abs/path", entry)
		}
		out[id] = path
	}
	return out, nil
}

// parseMinVersions parses "bin=ver[:cmd arg1 arg2],bin2=ver2" into a
// policy.Checker's MinVersions table. The optional ":cmd ..." suffix
// overrides the default probe args ("--version").
func parseMinVersions(raw string) (map[string]policy.VersionCheck, error) {
	out := make(map[string]policy.VersionCheck)
	for _, entry := range splitNonEmpty(raw) {
		binAndRest, verAndProbe, ok := strings.Cut(entry, "=")
		if !ok || binAndRest == "" || verAndProbe == "" {
			return nil, fmt.Errorf("invalid MIN_BINARY_VERSIONS entry %q: want bin=ver[:cmd]", entry)
		}
		version, probe, hasProbe := strings.Cut(verAndProbe, ":")
		check := policy.VersionCheck{MinVersion: version}
		if hasProbe {
			check.ProbeArgs = strings.Fields(probe)
		}
		out[binAndRest] = check
	}
	return out, nil
}
