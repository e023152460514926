package jobspec

import "testing"

func validSpec() *JobSpec {
	return &JobSpec{
		JobID: "j1",
		Goal:  "demo",
		Workdir: "/tmp/repo",
		Steps: []StepSpec{
			{StepID: "01_plan", Agent: "opencode"},
			{StepID: "02_impl", Agent: "codex"},
			{StepID: "03_rev", Agent: "claude"},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validSpec().Validate(); err != nil {
		t.Fatalf("expected valid spec, got error: %v", err)
	}
}

func TestValidate_RejectsPathSeparatorJobID(t *testing.T) {
	for _, id := range []string{"a/b", "../escape", ".hidden"} {
		spec := validSpec()
		spec.JobID = id
		if err := spec.Validate(); err == nil {
			t.Errorf("expected rejection for job_id %q", id)
		}
	}
}

func TestValidate_RequiresSteps(t *testing.T) {
	spec := validSpec()
	spec.Steps = nil
	if err := spec.Validate(); err == nil {
		t.Fatal("expected error for empty steps")
	}
}

func TestValidate_DuplicateStepID(t *testing.T) {
	spec := validSpec()
	spec.Steps = append(spec.Steps, StepSpec{StepID: "01_plan", Agent: "x"})
	if err := spec.Validate(); err == nil {
		t.Fatal("expected error for duplicate step_id")
	}
}

func TestValidate_GotoTargetMustExist(t *testing.T) {
	spec := validSpec()
	spec.Steps[1].OnFailure = "goto:nonexistent"
	if err := spec.Validate(); err == nil {
		t.Fatal("expected error for goto to nonexistent step")
	}
}

func TestValidate_GotoTargetExists(t *testing.T) {
	spec := validSpec()
	spec.Steps[1].OnFailure = "goto:01_plan"
	if err := spec.Validate(); err != nil {
		t.Fatalf("expected valid goto, got: %v", err)
	}
}

func TestValidate_UnsafeStepID(t *testing.T) {
	spec := validSpec()
	spec.Steps[0].StepID = "bad/step"
	if err := spec.Validate(); err == nil {
		t.Fatal("expected error for unsafe step id")
	}
}

func TestValidate_InputArtifactTraversal(t *testing.T) {
	spec := validSpec()
	spec.Steps[0].InputArtifacts = []string{"../../etc/passwd"}
	if err := spec.Validate(); err == nil {
		t.Fatal("expected error for traversal input artifact")
	}
}

func TestOnFailure_Goto(t *testing.T) {
	target, ok := OnFailure("goto:abc").IsGoto()
	if !ok || target != "abc" {
		t.Fatalf("expected goto target abc, got %q ok=%v", target, ok)
	}
	if _, ok := OnFailure("stop").IsGoto(); ok {
		t.Fatal("stop should not be a goto")
	}
}

func TestExecutionPolicy_Overlay(t *testing.T) {
	base := ExecutionPolicy{NetworkPolicy: "deny", AllowedBinaries: []string{"opencode"}}
	override := &ExecutionPolicy{NetworkPolicy: "allow"}
	merged := base.Overlay(override)
	if merged.NetworkPolicy != "allow" {
		t.Errorf("expected override network policy, got %q", merged.NetworkPolicy)
	}
	if len(merged.AllowedBinaries) != 1 || merged.AllowedBinaries[0] != "opencode" {
		t.Errorf("expected base allowed binaries preserved, got %v", merged.AllowedBinaries)
	}
}
