package config

import (
	"os"
	"testing"
)

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		old, had := os.LookupEnv(k)
		if err := os.Setenv(k, v); err != nil {
			t.Fatalf("Setenv %s: %v", k, err)
		}
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			} else {
				os.Unsetenv(k)
			}
		})
	}
}

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	withEnv(t, map[string]string{
		"QUEUE_ROOT": "", "NON_GIT_WORKDIR_STATUS": "", "PROJECT_ALIASES": "",
	})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NonGitWorkdirStatus != "needs_human" {
		t.Errorf("got %s, want needs_human", cfg.NonGitWorkdirStatus)
	}
	if cfg.Policy.NetworkPolicy != "deny" {
		t.Errorf("got %s, want deny", cfg.Policy.NetworkPolicy)
	}
	if cfg.Runner.MaxAttemptsPerStep != 3 {
		t.Errorf("got %d, want 3", cfg.Runner.MaxAttemptsPerStep)
	}
}

func TestLoad_ParsesProjectAliasesAndMinVersions(t *testing.T) {
	withEnv(t, map[string]string{
		"PROJECT_ALIASES":      "svc=/abs/svc,lib=/abs/lib",
		"MIN_BINARY_VERSIONS":  "git=2.30.0,opencode=1.2.0:opencode version",
		"ALLOWED_BINARIES":     "git,opencode",
		"NON_GIT_WORKDIR_STATUS": "failed",
	})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProjectAliases["svc"] != "/abs/svc" || cfg.ProjectAliases["lib"] != "/abs/lib" {
		t.Errorf("unexpected aliases: %+v", cfg.ProjectAliases)
	}
	if cfg.Checker.MinVersions["git"].MinVersion != "2.30.0" {
		t.Errorf("unexpected git min version: %+v", cfg.Checker.MinVersions["git"])
	}
	oc := cfg.Checker.MinVersions["opencode"]
	if oc.MinVersion != "1.2.0" || len(oc.ProbeArgs) != 2 || oc.ProbeArgs[0] != "opencode" {
		t.Errorf("unexpected opencode probe: %+v", oc)
	}
	if cfg.NonGitWorkdirStatus != "failed" {
		t.Errorf("got %s, want failed", cfg.NonGitWorkdirStatus)
	}
}

func TestLoad_RejectsInvalidNonGitWorkdirStatus(t *testing.T) {
	withEnv(t, map[string]string{"NON_GIT_WORKDIR_STATUS": "bogus"})
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an invalid NON_GIT_WORKDIR_STATUS")
	}
}

func TestLoad_RejectsMalformedProjectAliases(t *testing.T) {
	withEnv(t, map[string]string{"PROJECT_ALIASES": "not-a-kv-pair"})
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a malformed PROJECT_ALIASES entry")
	}
}
