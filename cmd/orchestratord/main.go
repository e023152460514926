// Command orchestratord is the runner process: it claims jobs from the
// queue and executes their steps to completion.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/coderun-ai/orchestrator/internal/artifacts"
	"github.com/coderun-ai/orchestrator/internal/budget"
	"github.com/coderun-ai/orchestrator/internal/config"
	"github.com/coderun-ai/orchestrator/internal/logging"
	"github.com/coderun-ai/orchestrator/internal/policy"
	"github.com/coderun-ai/orchestrator/internal/queue"
	"github.com/coderun-ai/orchestrator/internal/retention"
	"github.com/coderun-ai/orchestrator/internal/runner"
	"github.com/coderun-ai/orchestrator/internal/worker"
	"github.com/coderun-ai/orchestrator/internal/workspace"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	defer logging.RecoverAndPanic()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "orchestratord: loading config:", err)
		return 1
	}

	redactor := policy.NewRedactor(os.Environ(), cfg.SensitiveEnvVars)
	cleanup := logging.InitSentry("runner", Version, redactor)
	defer cleanup()

	logger := logging.New(redactor, slog.LevelInfo)

	q, err := queue.New(cfg.QueueRoot)
	if err != nil {
		logger.Errorf("opening queue: %v", err)
		return 1
	}

	budgetGate, err := budget.Open(cfg.BudgetDBPath)
	if err != nil {
		logger.Errorf("opening budget database: %v", err)
		return 1
	}
	defer budgetGate.Close()
	budgetGate.Default = cfg.Budget

	registry := worker.NewRegistry()
	registry.Register("simulation", worker.NewSimulationFactory("simulation"))
	registry.Register("opencode", worker.NewSubprocessFactory("opencode", "opencode", nil, &cfg.Checker))
	registry.Register("claude-code", worker.NewSubprocessFactory("claude-code", "claude", nil, &cfg.Checker))

	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		client := anthropic.NewClient(option.WithAPIKey(apiKey))
		registry.Register("anthropic", worker.NewAnthropicFactory("anthropic", client, worker.AnthropicConfig{
			Model:           worker.DefaultModel,
			BudgetPerRunUSD: cfg.Budget.MaxCostUSDPerDay,
		}))
	}

	r := &runner.Runner{
		Queue:          q,
		Artifacts:      artifacts.New(cfg.ArtifactsRoot),
		Workspace:      workspace.New(cfg.WorkspacesRoot, cfg.NonGitWorkdirStatus),
		Workers:        registry,
		Budget:         budgetGate,
		Checker:        &cfg.Checker,
		Policy:         cfg.Policy,
		Config:         cfg.Runner,
		Logger:         logger,
		ProjectAliases: cfg.ProjectAliases,
	}

	sweeper := &retention.Sweeper{
		Queue:          q,
		ArtifactsRoot:  cfg.ArtifactsRoot,
		WorkspacesRoot: cfg.WorkspacesRoot,
		ArtifactsTTL:   cfg.Retention.ArtifactsTTL,
		WorkspacesTTL:  cfg.Retention.WorkspacesTTL,
		Interval:       cfg.Retention.Interval,
		Logger:         logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("retention sweeper stopped: %v", err)
		}
	}()

	logger.Infof("orchestratord starting: queue=%s artifacts=%s workspaces=%s", cfg.QueueRoot, cfg.ArtifactsRoot, cfg.WorkspacesRoot)
	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Errorf("runner stopped: %v", err)
		return 1
	}
	return 0
}
