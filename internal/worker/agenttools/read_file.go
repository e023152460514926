package agenttools

import (
	"context"
	"encoding/json"
	"os"
)

// ReadFileTool reads a file relative to the workspace root.
type ReadFileTool struct{ ctx *Context }

func NewReadFileTool(ctx *Context) *ReadFileTool { return &ReadFileTool{ctx: ctx} }

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file in the workspace." }

func (t *ReadFileTool) InputSchema() map[string]any {
	return NewSchema().AddString("path", "File path relative to the workspace root").Build()
}

type readFileInput struct {
	Path string `json:"path"`
}

func (t *ReadFileTool) Execute(ctx context.Context, input json.RawMessage) (Result, error) {
	var in readFileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return ErrorResult("invalid input: " + err.Error()), nil
	}
	abs, errResult := t.ctx.ValidatePath(in.Path)
	if errResult != nil {
		return *errResult, nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return ErrorResult("reading file: " + err.Error()), nil
	}
	return SuccessResult(string(data)), nil
}
