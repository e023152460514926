package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/coderun-ai/orchestrator/internal/artifacts"
	"github.com/coderun-ai/orchestrator/internal/jobspec"
)

// Simulation is the default, offline worker backend: it writes the
// three required artifacts describing what it would have done, without
// spawning a subprocess or calling an API. It lets the system run
// end-to-end with no external dependencies.
type Simulation struct {
	// Agent labels the simulated agent in its report (e.g. "opencode").
	Agent string
}

// NewSimulationFactory returns a Factory producing a Simulation worker
// for the given agent label.
func NewSimulationFactory(agent string) Factory {
	return func() Worker {
		return &Simulation{Agent: agent}
	}
}

func (s *Simulation) Run(ctx *StepContext) (jobspec.StepResult, error) {
	started := time.Now()

	var inputNames []string
	for rel := range ctx.InputArtifacts {
		inputNames = append(inputNames, rel)
	}
	sort.Strings(inputNames)

	report := fmt.Sprintf("# Simulated step: %s\n\nAgent: %s\nGoal: %s\n\nThis step was executed by the simulation backend; no real work was performed.\n",
		ctx.Step.StepID, s.Agent, ctx.Step.Prompt)
	if len(inputNames) > 0 {
		report += fmt.Sprintf("\nInput artifacts materialized: %s\n", strings.Join(inputNames, ", "))
	}
	patch := "" // simulation produces no real diff
	logs := fmt.Sprintf("[simulation] step=%s agent=%s started=%s\n", ctx.Step.StepID, s.Agent, started.Format(time.RFC3339))

	if err := writeRequired(ctx.StepDir, report, patch, logs); err != nil {
		return jobspec.StepResult{}, err
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

// writeRequired writes the three worker-contract-required files
// directly under stepDir. Workers outside this package should prefer
// the artifact store for traversal-safe writes; simulation writes only
// fixed, non-traversable names so a direct write is safe.
func writeRequired(stepDir, report, patch, logs string) error {
	if err := os.MkdirAll(stepDir, 0o755); err != nil {
		return fmt.Errorf("creating step directory: %w", err)
	}
	for name, content := range map[string]string{
		"report.md": report,
		"patch.diff": patch,
		"logs.txt":  logs,
	} {
		if err := os.WriteFile(filepath.Join(stepDir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}
