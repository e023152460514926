package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/coderun-ai/orchestrator/internal/artifacts"
	"github.com/coderun-ai/orchestrator/internal/jobspec"
	"github.com/coderun-ai/orchestrator/internal/worker/agenttools"
)

// maxIterations bounds the number of message rounds in the agentic
// loop, independent of the step's own timeout_sec.
const maxIterations = 50

const maxTokensPerResponse = 8192

// DefaultModel is used when AnthropicConfig.Model is empty.
const DefaultModel = anthropic.ModelClaudeSonnet4_5

// AnthropicConfig configures the API-backed agentic worker backend.
type AnthropicConfig struct {
	Model           anthropic.Model
	BudgetPerRunUSD float64 // 0 = unlimited
}

// Anthropic drives a step to completion via an agentic tool-call loop
// against the Anthropic API: read_file/edit_file/glob tools scoped to
// the step's workspace, stopping on end_turn or on budget/iteration
// exhaustion.
type Anthropic struct {
	Agent  string
	Client anthropic.Client
	Config AnthropicConfig
}

// NewAnthropicFactory returns a Factory producing an Anthropic worker
// for agent, using client and cfg.
func NewAnthropicFactory(agent string, client anthropic.Client, cfg AnthropicConfig) Factory {
	return func() Worker {
		return &Anthropic{Agent: agent, Client: client, Config: cfg}
	}
}

func (a *Anthropic) Run(stepCtx *StepContext) (jobspec.StepResult, error) {
	started := time.Now()

	toolCtx := &agenttools.Context{WorkspaceDir: stepCtx.WorkspaceDir}
	registry := agenttools.NewRegistry(toolCtx)
	registry.Register(agenttools.NewReadFileTool(toolCtx))
	registry.Register(agenttools.NewEditFileTool(toolCtx))
	registry.Register(agenttools.NewGlobTool(toolCtx))

	model := a.Config.Model
	if model == "" {
		model = DefaultModel
	}

	systemPrompt := fmt.Sprintf("You are an autonomous coding agent performing the %q step of job %s. Role: %s.",
		stepCtx.Step.StepID, stepCtx.JobID, stepCtx.Step.Role)

	prompt := stepCtx.Step.Prompt
	if len(stepCtx.InputArtifacts) > 0 {
		var inputNames []string
		for rel := range stepCtx.InputArtifacts {
			inputNames = append(inputNames, rel)
		}
		sort.Strings(inputNames)

		var b strings.Builder
		b.WriteString("Input artifacts from prior steps:\n\n")
		for _, rel := range inputNames {
			fmt.Fprintf(&b, "--- %s ---\n%s\n\n", rel, stepCtx.InputArtifacts[rel])
		}
		b.WriteString(prompt)
		prompt = b.String()
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}

	var logs strings.Builder
	var usage TokenUsage
	var toolCalls int
	var finalMessage string
	ctx := stepCtx.Cancel

	for iteration := 0; iteration < maxIterations; iteration++ {
		response, err := a.Client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     model,
			MaxTokens: maxTokensPerResponse,
			System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
			Messages:  messages,
			Tools:     registry.ToAnthropicTools(),
		})
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return a.finish(stepCtx, started, toolCtx, logs.String(), toolCalls,
					failResult(stepCtx, a.Agent, started, jobspec.ErrTimeout, "step timed out", true))
			}
			return a.finish(stepCtx, started, toolCtx, logs.String(), toolCalls,
				failResult(stepCtx, a.Agent, started, jobspec.ErrTransientIO, err.Error(), true))
		}

		usage.InputTokens += response.Usage.InputTokens
		usage.OutputTokens += response.Usage.OutputTokens
		usage.CacheCreationInputTokens += response.Usage.CacheCreationInputTokens
		usage.CacheReadInputTokens += response.Usage.CacheReadInputTokens
		cost := CalculateCostWithCache(string(model), usage)

		if a.Config.BudgetPerRunUSD > 0 && cost > a.Config.BudgetPerRunUSD {
			return a.finish(stepCtx, started, toolCtx, logs.String(), toolCalls,
				failResult(stepCtx, a.Agent, started, jobspec.ErrBudgetExceeded, "per-run budget exceeded", false))
		}

		if response.StopReason == anthropic.StopReasonEndTurn {
			finalMessage = extractText(response)
			break
		}

		var toolResults []anthropic.ContentBlockParamUnion
		hasToolUse := false
		for i := range response.Content {
			block := response.Content[i]
			toolUse, ok := block.AsAny().(anthropic.ToolUseBlock)
			if !ok {
				continue
			}
			hasToolUse = true
			toolCalls++
			fmt.Fprintf(&logs, "tool_call: %s %s\n", toolUse.Name, toolUse.JSON.Input.Raw())

			result := registry.Dispatch(ctx, toolUse.Name, json.RawMessage(toolUse.JSON.Input.Raw()))
			toolResults = append(toolResults, anthropic.NewToolResultBlock(toolUse.ID, result.Content, result.IsError))
		}

		if !hasToolUse {
			finalMessage = extractText(response)
			break
		}

		messages = append(messages, response.ToParam(), anthropic.NewUserMessage(toolResults...))
	}

	logs.WriteString(fmt.Sprintf("\nfinal_message: %s\n", finalMessage))

	ok := jobspec.StepResult{
		Kind:      "step",
		StepID:    stepCtx.Step.StepID,
		Agent:     a.Agent,
		Status:    jobspec.StepStatusOK,
		Attempts:  1,
		StartedAt: started,
		EndedAt:   time.Now(),
		Artifacts: []string{
			artifacts.StepRelPath(stepCtx.Step.StepID, "report.md"),
			artifacts.StepRelPath(stepCtx.Step.StepID, "patch.diff"),
			artifacts.StepRelPath(stepCtx.Step.StepID, "logs.txt"),
		},
	}
	return a.finish(stepCtx, started, toolCtx, logs.String(), toolCalls, ok)
}

// finish writes the three required artifacts (report.md listing the
// tool-call count and touched files, patch.diff as a summary of files
// changed, logs.txt from the accumulated tool-call transcript and final
// message) and returns result with EndedAt set.
func (a *Anthropic) finish(stepCtx *StepContext, started time.Time, toolCtx *agenttools.Context, logs string, toolCalls int, result jobspec.StepResult) (jobspec.StepResult, error) {
	if err := os.MkdirAll(stepCtx.StepDir, 0o755); err != nil {
		return jobspec.StepResult{}, fmt.Errorf("creating step directory: %w", err)
	}

	var report strings.Builder
	fmt.Fprintf(&report, "# Step %s (%s)\n\n", stepCtx.Step.StepID, a.Agent)
	fmt.Fprintf(&report, "Tool calls: %d\n\nFiles touched:\n", toolCalls)
	for _, f := range toolCtx.Touched {
		fmt.Fprintf(&report, "- %s\n", f)
	}

	var patch strings.Builder
	for _, f := range toolCtx.Touched {
		fmt.Fprintf(&patch, "--- a/%s\n+++ b/%s\n", f, f)
	}

	if err := os.WriteFile(filepath.Join(stepCtx.StepDir, "report.md"), []byte(report.String()), 0o644); err != nil {
		return jobspec.StepResult{}, fmt.Errorf("writing report.md: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stepCtx.StepDir, "patch.diff"), []byte(patch.String()), 0o644); err != nil {
		return jobspec.StepResult{}, fmt.Errorf("writing patch.diff: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stepCtx.StepDir, "logs.txt"), []byte(logs), 0o644); err != nil {
		return jobspec.StepResult{}, fmt.Errorf("writing logs.txt: %w", err)
	}

	result.EndedAt = time.Now()
	return result, nil
}

func extractText(response *anthropic.Message) string {
	for i := range response.Content {
		if text, ok := response.Content[i].AsAny().(anthropic.TextBlock); ok {
			return text.Text
		}
	}
	return ""
}
