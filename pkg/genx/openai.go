package genx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
)

var _ Generator = (*OpenAIGenerator)(nil)

const (
	oaiFinishStop          = "stop"
	oaiFinishToolCalls     = "tool_calls"
	oaiFinishLength        = "length"
	oaiFinishContentFilter = "content_filter"
)

// OpenAIGenerator talks to the Chat Completions API. Ollama and other
// compatible servers work through the client's base URL.
type OpenAIGenerator struct {
	Client *openai.Client `json:"-"`

	Model string `json:"model"`

	GenerateParams *ModelParams `json:"generate_params,omitzero"`
	InvokeParams   *ModelParams `json:"invoke_params,omitzero"`

	// SupportJSONOutput selects strict json_schema response format for
	// Invoke. Otherwise Invoke forces a tool call.
	SupportJSONOutput bool `json:"support_json_output,omitzero"`

	// UseSystemRole sends prompts as system messages instead of developer
	// messages. Most compatible servers need it.
	UseSystemRole bool `json:"use_system_role,omitzero"`

	ExtraFields map[string]any `json:"extra_fields,omitzero"`
}

func (g *OpenAIGenerator) Generate(ctx context.Context, _ string, mctx ModelContext) (string, Usage, error) {
	params, err := g.params(mctx, g.GenerateParams)
	if err != nil {
		return "", Usage{}, err
	}
	resp, err := g.Client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", Usage{}, err
	}
	usage := oaiUsage(resp.Usage)
	choice, err := oaiChoice(resp, oaiFinishStop)
	if err != nil {
		return "", usage, err
	}
	if choice.Message.Content == "" {
		return "", usage, ErrNoContent
	}
	return choice.Message.Content, usage, nil
}

func (g *OpenAIGenerator) Invoke(ctx context.Context, _ string, mctx ModelContext, fn *FuncTool) (Usage, *FuncCall, error) {
	params, err := g.params(mctx, g.InvokeParams)
	if err != nil {
		return Usage{}, nil, err
	}
	want := oaiFinishToolCalls
	if g.SupportJSONOutput {
		want = oaiFinishStop
		params.Tools = nil
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        fn.Name,
					Description: param.NewOpt(fn.Description),
					Schema:      FormatOpenAISchema(fn.Argument.CloneSchemas()),
					Strict:      param.NewOpt(true),
				},
			},
		}
	} else {
		params.Tools = append(params.Tools, oaiTool(fn, true))
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: fn.Name},
			},
		}
	}

	resp, err := g.Client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Usage{}, nil, err
	}
	usage := oaiUsage(resp.Usage)
	choice, err := oaiChoice(resp, want)
	if err != nil {
		return usage, nil, err
	}
	if g.SupportJSONOutput {
		if choice.Message.Content == "" {
			return usage, nil, ErrNoContent
		}
		return usage, fn.NewFuncCall(choice.Message.Content), nil
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name == fn.Name {
			return usage, fn.NewFuncCall(tc.Function.Arguments), nil
		}
	}
	return usage, nil, fmt.Errorf("%w: no %s tool call", ErrNoContent, fn.Name)
}

// oaiChoice checks the first choice's finish reason. Some compatible
// servers report "stop" for forced tool calls, which is accepted too.
func oaiChoice(resp *openai.ChatCompletion, want string) (*openai.ChatCompletionChoice, error) {
	if len(resp.Choices) == 0 {
		return nil, ErrNoContent
	}
	c := &resp.Choices[0]
	if c.Message.Refusal != "" {
		return nil, Blocked(c.Message.Refusal)
	}
	switch c.FinishReason {
	case want, oaiFinishStop:
		return c, nil
	case oaiFinishLength:
		return nil, ErrTruncated
	case oaiFinishContentFilter:
		return nil, Blocked("content filter")
	}
	return nil, fmt.Errorf("genx: unexpected finish reason %q", c.FinishReason)
}

func (g *OpenAIGenerator) params(mctx ModelContext, mp *ModelParams) (openai.ChatCompletionNewParams, error) {
	msgs, err := g.messages(mctx)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    g.Model,
	}
	if p := mctx.Params(); p != nil {
		mp = p
	}
	if mp != nil {
		if mp.MaxTokens > 0 {
			params.MaxCompletionTokens = param.NewOpt(int64(mp.MaxTokens))
		}
		if mp.Temperature > 0 {
			params.Temperature = param.NewOpt(float64(mp.Temperature))
		}
		if mp.TopP > 0 {
			params.TopP = param.NewOpt(float64(mp.TopP))
		}
	}
	for t := range mctx.Tools() {
		fn, ok := t.(*FuncTool)
		if !ok {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("genx: unexpected tool type %T", t)
		}
		params.Tools = append(params.Tools, oaiTool(fn, false))
	}
	if len(g.ExtraFields) > 0 {
		params.SetExtraFields(g.ExtraFields)
	}
	return params, nil
}

func oaiTool(fn *FuncTool, strict bool) openai.ChatCompletionToolParam {
	def := openai.FunctionDefinitionParam{
		Name:        fn.Name,
		Description: param.NewOpt(fn.Description),
		Parameters:  oaiParameters(fn.Argument, strict),
	}
	if strict {
		def.Strict = param.NewOpt(true)
	}
	return openai.ChatCompletionToolParam{Function: def}
}

func oaiParameters(s *jsonschema.Schema, strict bool) openai.FunctionParameters {
	if s == nil {
		return nil
	}
	s = s.CloneSchemas()
	if strict {
		s = FormatOpenAISchema(s)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var m openai.FunctionParameters
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

func (g *OpenAIGenerator) messages(mctx ModelContext) ([]openai.ChatCompletionMessageParamUnion, error) {
	var out []openai.ChatCompletionMessageParamUnion
	for p := range mctx.Prompts() {
		if g.UseSystemRole {
			m := &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{OfString: param.NewOpt(p.Text)},
			}
			if p.Name != "" {
				m.Name = param.NewOpt(p.Name)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfSystem: m})
			continue
		}
		m := &openai.ChatCompletionDeveloperMessageParam{
			Content: openai.ChatCompletionDeveloperMessageParamContentUnion{OfString: param.NewOpt(p.Text)},
		}
		if p.Name != "" {
			m.Name = param.NewOpt(p.Name)
		}
		out = append(out, openai.ChatCompletionMessageParamUnion{OfDeveloper: m})
	}
	for msg := range mctx.Messages() {
		m, err := oaiMessage(msg)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, errors.New("genx: empty model context")
	}
	return out, nil
}

func oaiMessage(msg *Message) (openai.ChatCompletionMessageParamUnion, error) {
	switch p := msg.Payload.(type) {
	case Contents:
		switch msg.Role {
		case RoleUser:
			m := &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{OfString: param.NewOpt(p.String())},
			}
			if msg.Name != "" {
				m.Name = param.NewOpt(msg.Name)
			}
			return openai.ChatCompletionMessageParamUnion{OfUser: m}, nil
		case RoleModel:
			m := &openai.ChatCompletionAssistantMessageParam{
				Content: openai.ChatCompletionAssistantMessageParamContentUnion{OfString: param.NewOpt(p.String())},
			}
			if msg.Name != "" {
				m.Name = param.NewOpt(msg.Name)
			}
			return openai.ChatCompletionMessageParamUnion{OfAssistant: m}, nil
		}
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("genx: text message with role %s", msg.Role)
	case *ToolCall:
		return openai.ChatCompletionMessageParamUnion{
			OfAssistant: &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
					ID: p.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      p.FuncCall.Name,
						Arguments: p.FuncCall.Arguments,
					},
				}},
			},
		}, nil
	case *ToolResult:
		return openai.ToolMessage(p.Result, p.ID), nil
	}
	return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("genx: unexpected payload %T", msg.Payload)
}

// FormatOpenAISchema rewrites s in place for strict structured outputs:
// every object gets additionalProperties false and lists all properties
// as required, with optional ones made nullable.
func FormatOpenAISchema(s *jsonschema.Schema) *jsonschema.Schema {
	if s == nil {
		return nil
	}
	if s.Type != "" && len(s.Types) > 0 {
		s.Types = append(s.Types, s.Type)
		s.Type = ""
	}
	typ := s.Type
	for _, t := range s.Types {
		if typ == "" && t != "null" {
			typ = t
		}
	}
	switch typ {
	case "array":
		s.Items = FormatOpenAISchema(s.Items)
	case "object":
		s.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}
		required := make(map[string]bool, len(s.Properties))
		for _, k := range s.Required {
			required[k] = true
		}
		for k, v := range s.Properties {
			if !required[k] {
				required[k] = true
				if v.Type != "" {
					v.Types = []string{v.Type}
					v.Type = ""
				}
				if !slices.Contains(v.Types, "null") {
					v.Types = append(v.Types, "null")
				}
			}
			s.Properties[k] = FormatOpenAISchema(v)
		}
		s.Required = slices.Sorted(maps.Keys(required))
	}
	return s
}

func oaiUsage(u openai.CompletionUsage) Usage {
	return Usage{
		PromptTokenCount:        u.PromptTokens,
		CachedContentTokenCount: u.PromptTokensDetails.CachedTokens,
		GeneratedTokenCount:     u.CompletionTokens,
	}
}
