package genx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/jsonschema-go/jsonschema"
)

var _ Generator = (*AnthropicGenerator)(nil)

// DefaultAnthropicMaxTokens applies when no MaxTokens is configured; the
// Messages API requires one.
const DefaultAnthropicMaxTokens = 2048

// AnthropicGenerator talks to the Anthropic Messages API.
type AnthropicGenerator struct {
	Client *anthropic.Client `json:"-"`

	Model string `json:"model"`

	GenerateParams *ModelParams `json:"generate_params,omitzero"`
	InvokeParams   *ModelParams `json:"invoke_params,omitzero"`
}

func (g *AnthropicGenerator) Generate(ctx context.Context, _ string, mctx ModelContext) (string, Usage, error) {
	params, err := g.params(mctx, g.GenerateParams)
	if err != nil {
		return "", Usage{}, err
	}
	msg, err := g.Client.Messages.New(ctx, params)
	if err != nil {
		return "", Usage{}, err
	}
	usage := anthropicUsage(msg)
	if err := anthropicStop(msg); err != nil {
		return "", usage, err
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", usage, ErrNoContent
	}
	return sb.String(), usage, nil
}

// Invoke forces a tool_use block for fn.
func (g *AnthropicGenerator) Invoke(ctx context.Context, _ string, mctx ModelContext, fn *FuncTool) (Usage, *FuncCall, error) {
	params, err := g.params(mctx, g.InvokeParams)
	if err != nil {
		return Usage{}, nil, err
	}
	tool, err := anthropicTool(fn)
	if err != nil {
		return Usage{}, nil, err
	}
	params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	params.ToolChoice = anthropic.ToolChoiceUnionParam{
		OfTool: &anthropic.ToolChoiceToolParam{Name: fn.Name},
	}

	msg, err := g.Client.Messages.New(ctx, params)
	if err != nil {
		return Usage{}, nil, err
	}
	usage := anthropicUsage(msg)
	if err := anthropicStop(msg); err != nil {
		return usage, nil, err
	}
	for _, block := range msg.Content {
		if block.Type == "tool_use" && block.Name == fn.Name {
			return usage, fn.NewFuncCall(string(block.Input)), nil
		}
	}
	return usage, nil, fmt.Errorf("%w: no %s tool use", ErrNoContent, fn.Name)
}

func anthropicStop(msg *anthropic.Message) error {
	switch string(msg.StopReason) {
	case "max_tokens":
		return ErrTruncated
	case "refusal":
		return Blocked("refusal")
	}
	return nil
}

func (g *AnthropicGenerator) params(mctx ModelContext, mp *ModelParams) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.Model),
		MaxTokens: DefaultAnthropicMaxTokens,
	}
	if p := mctx.Params(); p != nil {
		mp = p
	}
	if mp != nil {
		if mp.MaxTokens > 0 {
			params.MaxTokens = int64(mp.MaxTokens)
		}
		if mp.Temperature > 0 {
			params.Temperature = anthropic.Float(float64(mp.Temperature))
		}
	}

	var system []string
	for p := range mctx.Prompts() {
		system = append(system, p.Text)
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	for t := range mctx.Tools() {
		fn, ok := t.(*FuncTool)
		if !ok {
			return params, fmt.Errorf("genx: unexpected tool type %T", t)
		}
		tool, err := anthropicTool(fn)
		if err != nil {
			return params, err
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}

	for msg := range mctx.Messages() {
		m, err := anthropicMessage(msg)
		if err != nil {
			return params, err
		}
		// The API requires alternating roles; merge runs of the same role.
		if n := len(params.Messages); n > 0 && params.Messages[n-1].Role == m.Role {
			params.Messages[n-1].Content = append(params.Messages[n-1].Content, m.Content...)
			continue
		}
		params.Messages = append(params.Messages, m)
	}
	if len(params.Messages) == 0 {
		return params, errors.New("genx: no messages")
	}
	return params, nil
}

func anthropicMessage(msg *Message) (anthropic.MessageParam, error) {
	switch p := msg.Payload.(type) {
	case Contents:
		switch msg.Role {
		case RoleUser:
			return anthropic.NewUserMessage(anthropic.NewTextBlock(p.String())), nil
		case RoleModel:
			return anthropic.NewAssistantMessage(anthropic.NewTextBlock(p.String())), nil
		}
		return anthropic.MessageParam{}, fmt.Errorf("genx: text message with role %s", msg.Role)
	case *ToolCall:
		var input any = json.RawMessage(p.FuncCall.Arguments)
		if !json.Valid([]byte(p.FuncCall.Arguments)) {
			input = map[string]any{"text": p.FuncCall.Arguments}
		}
		return anthropic.NewAssistantMessage(anthropic.NewToolUseBlock(p.ID, input, p.FuncCall.Name)), nil
	case *ToolResult:
		return anthropic.NewUserMessage(anthropic.NewToolResultBlock(p.ID, p.Result, false)), nil
	}
	return anthropic.MessageParam{}, fmt.Errorf("genx: unexpected payload %T", msg.Payload)
}

func anthropicTool(fn *FuncTool) (anthropic.ToolParam, error) {
	tool := anthropic.ToolParam{
		Name:        fn.Name,
		Description: anthropic.String(fn.Description),
	}
	schema := fn.Argument
	if schema == nil {
		schema = &jsonschema.Schema{Type: "object"}
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return tool, fmt.Errorf("genx: marshal %s schema: %w", fn.Name, err)
	}
	if err := json.Unmarshal(b, &tool.InputSchema); err != nil {
		return tool, fmt.Errorf("genx: convert %s schema: %w", fn.Name, err)
	}
	return tool, nil
}

func anthropicUsage(msg *anthropic.Message) Usage {
	return Usage{
		PromptTokenCount:        msg.Usage.InputTokens,
		CachedContentTokenCount: msg.Usage.CacheReadInputTokens,
		GeneratedTokenCount:     msg.Usage.OutputTokens,
	}
}
