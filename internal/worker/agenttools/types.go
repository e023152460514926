// Package agenttools implements the file-editing and search tools
// exposed to the Anthropic-backed agentic worker backend, scoped to a
// single step's workspace directory.
package agenttools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
)

// Tool is implemented by every tool dispatchable to the model.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, input json.RawMessage) (Result, error)
}

// Result is returned to the model as a tool_result block.
type Result struct {
	Content string
	IsError bool
}

// ErrorResult builds a failing Result.
func ErrorResult(msg string) Result { return Result{Content: msg, IsError: true} }

// SuccessResult builds a successful Result.
func SuccessResult(content string) Result { return Result{Content: content} }

// Context scopes every tool call to one workspace directory and
// records the files touched so the worker can synthesize a patch
// summary afterward.
type Context struct {
	WorkspaceDir string
	Touched      []string
}

// ValidatePath resolves relPath against the workspace root and rejects
// absolute paths or any path that would escape the root.
func (c *Context) ValidatePath(relPath string) (string, *Result) {
	clean := filepath.Clean(relPath)
	if filepath.IsAbs(clean) {
		r := ErrorResult("absolute paths not allowed: " + relPath)
		return "", &r
	}
	abs := filepath.Join(c.WorkspaceDir, clean)
	rel, err := filepath.Rel(c.WorkspaceDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		r := ErrorResult("path escapes workspace: " + relPath)
		return "", &r
	}
	return abs, nil
}

// RecordTouched notes that relPath was modified, for the worker's
// end-of-step patch summary.
func (c *Context) RecordTouched(relPath string) {
	for _, t := range c.Touched {
		if t == relPath {
			return
		}
	}
	c.Touched = append(c.Touched, relPath)
}
