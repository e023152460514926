package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/coderun-ai/orchestrator/internal/jobspec"
)

func TestCheckSpawn_RejectsDisallowedBinary(t *testing.T) {
	c := &Checker{}
	pol := jobspec.ExecutionPolicy{AllowedBinaries: []string{"codex"}}
	if err := c.CheckSpawn(context.Background(), "rm", pol); err == nil {
		t.Fatal("expected violation for disallowed binary")
	}
}

func TestCheckSpawn_RejectsSandboxWithoutWrapper(t *testing.T) {
	c := &Checker{EnableRealCLI: true}
	pol := jobspec.ExecutionPolicy{AllowedBinaries: []string{"codex"}, Sandbox: true}
	if err := c.CheckSpawn(context.Background(), "codex", pol); err == nil {
		t.Fatal("expected violation for sandbox without wrapper")
	}
}

func TestCheckSpawn_RejectsNetworkDenyWithoutWrapper(t *testing.T) {
	c := &Checker{}
	pol := jobspec.ExecutionPolicy{AllowedBinaries: []string{"codex"}, NetworkPolicy: "deny"}
	if err := c.CheckSpawn(context.Background(), "codex", pol); err == nil {
		t.Fatal("expected violation for network_policy=deny without wrapper")
	}
}

func TestCheckSpawn_AllowsWhenPolicySatisfied(t *testing.T) {
	c := &Checker{}
	pol := jobspec.ExecutionPolicy{AllowedBinaries: []string{"codex"}, NetworkPolicy: "allow"}
	if err := c.CheckSpawn(context.Background(), "codex", pol); err != nil {
		t.Fatalf("expected no violation, got %v", err)
	}
}

func TestExtractVersion(t *testing.T) {
	cases := map[string]string{
		"codex version v1.2.3\n": "1.2.3",
		"1.0.0":                  "1.0.0",
		"no version here":        "",
	}
	for input, want := range cases {
		if got := extractVersion(input); got != want {
			t.Errorf("extractVersion(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestBuildChildEnv_FiltersToAllowlist(t *testing.T) {
	parent := []string{"PATH=/usr/bin", "SECRET=shh", "HOME=/root"}
	got := BuildChildEnv(parent, []string{"PATH", "HOME"}, false)

	want := map[string]bool{"PATH=/usr/bin": true, "HOME=/root": true}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %v", got)
	}
	for _, kv := range got {
		if !want[kv] {
			t.Errorf("unexpected env entry leaked: %s", kv)
		}
	}
}

func TestBuildChildEnv_ClearEnvWithEmptyAllowlist(t *testing.T) {
	parent := []string{"PATH=/usr/bin"}
	got := BuildChildEnv(parent, nil, true)
	if len(got) != 0 {
		t.Errorf("expected empty env, got %v", got)
	}
}

func TestRedactor_MasksSensitiveEnvValueAndBuiltinPatterns(t *testing.T) {
	env := []string{"API_TOKEN=supersecretvalue123"}
	r := NewRedactor(env, []string{"API_TOKEN"})

	providerToken := "sk-ant-" + strings.Repeat("x", 24)
	out := r.Redact("calling api with token supersecretvalue123 and key " + providerToken)
	if contains(out, "supersecretvalue123") {
		t.Errorf("sensitive env value leaked: %s", out)
	}
	if contains(out, providerToken) {
		t.Errorf("provider token leaked: %s", out)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
