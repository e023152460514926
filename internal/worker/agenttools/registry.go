package agenttools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

// Registry holds every registered tool and handles dispatch for the
// agentic loop.
type Registry struct {
	tools map[string]Tool
	ctx   *Context
}

// NewRegistry creates a registry scoped to ctx.
func NewRegistry(ctx *Context) *Registry {
	return &Registry{tools: make(map[string]Tool), ctx: ctx}
}

// Register adds a tool.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Dispatch executes a tool by name, returning a Result to send back to
// the model. Unknown tool names and tool-level failures are surfaced as
// error Results, not Go errors, so the loop continues.
func (r *Registry) Dispatch(ctx context.Context, name string, input json.RawMessage) Result {
	tool := r.tools[name]
	if tool == nil {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}
	result, err := tool.Execute(ctx, input)
	if err != nil {
		return ErrorResult(fmt.Sprintf("tool execution failed: %v", err))
	}
	return result
}

// ToAnthropicTools converts registered tools to Anthropic SDK format.
func (r *Registry) ToAnthropicTools() []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(r.tools))
	for _, tool := range r.tools {
		schema := tool.InputSchema()
		var required []string
		if req, ok := schema["required"].([]string); ok {
			required = req
		}
		properties := schema["properties"]

		param := anthropic.ToolParam{
			Name:        tool.Name(),
			Description: anthropic.String(tool.Description()),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

// Context returns the tool execution context.
func (r *Registry) Context() *Context { return r.ctx }
