package agenttools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// EditFileTool replaces the full contents of a file relative to the
// workspace root, creating parent directories as needed.
type EditFileTool struct{ ctx *Context }

func NewEditFileTool(ctx *Context) *EditFileTool { return &EditFileTool{ctx: ctx} }

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Overwrite a file in the workspace with new contents, creating it if missing."
}

func (t *EditFileTool) InputSchema() map[string]any {
	return NewSchema().
		AddString("path", "File path relative to the workspace root").
		AddString("content", "New full contents of the file").
		Build()
}

type editFileInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *EditFileTool) Execute(ctx context.Context, input json.RawMessage) (Result, error) {
	var in editFileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return ErrorResult("invalid input: " + err.Error()), nil
	}
	abs, errResult := t.ctx.ValidatePath(in.Path)
	if errResult != nil {
		return *errResult, nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return ErrorResult("creating parent directory: " + err.Error()), nil
	}
	if err := os.WriteFile(abs, []byte(in.Content), 0o644); err != nil {
		return ErrorResult("writing file: " + err.Error()), nil
	}
	t.ctx.RecordTouched(filepath.Clean(in.Path))
	return SuccessResult("wrote " + strings.TrimSpace(in.Path)), nil
}
