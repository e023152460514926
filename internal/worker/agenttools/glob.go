package agenttools

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const maxGlobResults = 200

// GlobTool finds files under the workspace matching a glob pattern.
type GlobTool struct{ ctx *Context }

func NewGlobTool(ctx *Context) *GlobTool { return &GlobTool{ctx: ctx} }

func (t *GlobTool) Name() string { return "glob" }
func (t *GlobTool) Description() string {
	return "Find files in the workspace matching a glob pattern. Supports ** for recursive matching."
}

func (t *GlobTool) InputSchema() map[string]any {
	return NewSchema().AddString("pattern", "Glob pattern, e.g. '**/*.go'").Build()
}

type globInput struct {
	Pattern string `json:"pattern"`
}

func (t *GlobTool) Execute(ctx context.Context, input json.RawMessage) (Result, error) {
	var in globInput
	if err := json.Unmarshal(input, &in); err != nil {
		return ErrorResult("invalid input: " + err.Error()), nil
	}
	if in.Pattern == "" {
		return ErrorResult("pattern is required"), nil
	}

	fsys := os.DirFS(t.ctx.WorkspaceDir)
	matches, err := doublestar.Glob(fsys, in.Pattern)
	if err != nil {
		return ErrorResult("invalid glob pattern: " + err.Error()), nil
	}
	if len(matches) == 0 {
		return SuccessResult("no files match pattern: " + in.Pattern), nil
	}

	sort.Strings(matches)
	truncated := false
	if len(matches) > maxGlobResults {
		matches = matches[:maxGlobResults]
		truncated = true
	}

	var b strings.Builder
	for _, m := range matches {
		b.WriteString(m)
		b.WriteString("\n")
	}
	if truncated {
		b.WriteString("\n... (truncated, refine your pattern)")
	}
	return SuccessResult(b.String()), nil
}
