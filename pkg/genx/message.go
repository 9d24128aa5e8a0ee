package genx

import (
	"context"
	"fmt"
	"strings"
)

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// Role identifies the author of a message.
type Role string

func (r Role) String() string { return string(r) }

// Message is one turn of the conversation.
type Message struct {
	Role    Role
	Name    string
	Payload Payload
}

// Payload is Contents, *ToolCall or *ToolResult.
type Payload interface {
	isPayload()
}

// Contents is a sequence of text parts.
type Contents []Text

func (Contents) isPayload() {}

// String joins the parts.
func (c Contents) String() string {
	var sb strings.Builder
	for _, t := range c {
		sb.WriteString(string(t))
	}
	return sb.String()
}

// Text is a plain text part.
type Text string

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID       string
	FuncCall *FuncCall
}

func (*ToolCall) isPayload() {}

// ToolResult carries a tool's output back to the model.
type ToolResult struct {
	ID     string
	Result string
}

func (*ToolResult) isPayload() {}

// FuncCall is a call of a FuncTool with JSON arguments.
type FuncCall struct {
	Name      string
	Arguments string

	tool *FuncTool
}

// Invoke runs the tool's Invoke function on the arguments.
func (f *FuncCall) Invoke(ctx context.Context) (any, error) {
	if f.tool == nil || f.tool.Invoke == nil {
		return nil, fmt.Errorf("genx: no invoke function for %s", f.Name)
	}
	return f.tool.Invoke(ctx, f, f.Arguments)
}

// Unmarshal decodes the arguments into v, repairing malformed JSON.
func (f *FuncCall) Unmarshal(v any) error {
	return unmarshalJSON([]byte(f.Arguments), v)
}
