package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/coderun-ai/orchestrator/internal/jobspec"
)

func TestSimulation_WritesRequiredFiles(t *testing.T) {
	stepDir := filepath.Join(t.TempDir(), "steps", "01_plan")
	sc := &StepContext{
		JobID:   "job-1",
		Step:    jobspec.StepSpec{StepID: "01_plan", Agent: "opencode", Prompt: "do the thing"},
		StepDir: stepDir,
		Cancel:  context.Background(),
	}

	w := &Simulation{Agent: "opencode"}
	result, err := w.Run(sc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != jobspec.StepStatusOK {
		t.Errorf("got status %s, want ok", result.Status)
	}

	for _, name := range []string{"report.md", "patch.diff", "logs.txt"} {
		if _, err := os.Stat(filepath.Join(stepDir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}

	wantArtifacts := []string{"steps/01_plan/report.md", "steps/01_plan/patch.diff", "steps/01_plan/logs.txt"}
	if len(result.Artifacts) != len(wantArtifacts) {
		t.Fatalf("got artifacts %v, want %v", result.Artifacts, wantArtifacts)
	}
	for i, want := range wantArtifacts {
		if result.Artifacts[i] != want {
			t.Errorf("artifact %d: got %q, want %q", i, result.Artifacts[i], want)
		}
	}
}

func TestRegistry_GetUnknownAgent(t *testing.T) {
	r := NewRegistry()
	r.Register("opencode", NewSimulationFactory("opencode"))

	if _, ok := r.Get("missing"); ok {
		t.Error("expected Get to fail for unregistered agent")
	}
	w, ok := r.Get("opencode")
	if !ok || w == nil {
		t.Fatal("expected Get to succeed for registered agent")
	}
}
