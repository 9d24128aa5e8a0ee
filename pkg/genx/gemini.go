package genx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/genai"
)

var _ Generator = (*GeminiGenerator)(nil)

// GeminiGenerator talks to the Google GenAI API.
type GeminiGenerator struct {
	Client *genai.Client `json:"-"`

	// Model has no "models/" prefix.
	Model string `json:"model"`

	GenerateParams *ModelParams `json:"generate_params,omitzero"`
	InvokeParams   *ModelParams `json:"invoke_params,omitzero"`
}

func (g *GeminiGenerator) Generate(ctx context.Context, _ string, mctx ModelContext) (string, Usage, error) {
	cfg, contents, err := g.request(mctx, g.GenerateParams)
	if err != nil {
		return "", Usage{}, err
	}
	text, usage, err := g.call(ctx, cfg, contents)
	if err != nil {
		return "", usage, err
	}
	return text, usage, nil
}

// Invoke uses JSON response mode with the tool's argument schema, which
// is more reliable on Gemini than forced function calling.
func (g *GeminiGenerator) Invoke(ctx context.Context, _ string, mctx ModelContext, fn *FuncTool) (Usage, *FuncCall, error) {
	cfg, contents, err := g.request(mctx, g.InvokeParams)
	if err != nil {
		return Usage{}, nil, err
	}
	cfg.Tools = nil
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = geminiSchema(fn.Argument)
	text, usage, err := g.call(ctx, cfg, contents)
	if err != nil {
		return usage, nil, err
	}
	return usage, fn.NewFuncCall(text), nil
}

func (g *GeminiGenerator) call(ctx context.Context, cfg *genai.GenerateContentConfig, contents []*genai.Content) (string, Usage, error) {
	resp, err := g.Client.Models.GenerateContent(ctx, g.Model, contents, cfg)
	if err != nil {
		var apiErr *apierror.APIError
		if errors.As(err, &apiErr) {
			err = apiErr.Unwrap()
		}
		return "", Usage{}, err
	}
	usage := geminiUsage(resp.UsageMetadata)
	if len(resp.Candidates) == 0 {
		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			return "", usage, Blocked(string(fb.BlockReason))
		}
		return "", usage, ErrNoContent
	}
	c := resp.Candidates[0]
	switch c.FinishReason {
	case genai.FinishReasonStop, genai.FinishReasonUnspecified, "":
	case genai.FinishReasonMaxTokens:
		return "", usage, ErrTruncated
	case genai.FinishReasonSafety:
		var cats []string
		for _, r := range c.SafetyRatings {
			if r.Blocked {
				cats = append(cats, string(r.Category))
			}
		}
		return "", usage, Blocked(strings.Join(cats, ", "))
	default:
		return "", usage, fmt.Errorf("genx: unexpected finish reason %s", c.FinishReason)
	}
	var sb strings.Builder
	if c.Content != nil {
		for _, p := range c.Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	if sb.Len() == 0 {
		return "", usage, ErrNoContent
	}
	return sb.String(), usage, nil
}

func (g *GeminiGenerator) request(mctx ModelContext, mp *ModelParams) (*genai.GenerateContentConfig, []*genai.Content, error) {
	cfg := &genai.GenerateContentConfig{
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdOff},
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdOff},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdOff},
		},
	}
	var system []*genai.Part
	for p := range mctx.Prompts() {
		system = append(system, genai.NewPartFromText(p.Text))
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: system}
	}
	if p := mctx.Params(); p != nil {
		mp = p
	}
	if mp != nil {
		if mp.MaxTokens > 0 {
			cfg.MaxOutputTokens = int32(mp.MaxTokens)
		}
		if mp.Temperature > 0 {
			cfg.Temperature = genai.Ptr(mp.Temperature)
		}
		if mp.TopP > 0 {
			cfg.TopP = genai.Ptr(mp.TopP)
		}
		if mp.TopK > 0 {
			cfg.TopK = genai.Ptr(mp.TopK)
		}
	}
	for t := range mctx.Tools() {
		fn, ok := t.(*FuncTool)
		if !ok {
			return nil, nil, fmt.Errorf("genx: unexpected tool type %T", t)
		}
		cfg.Tools = append(cfg.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  geminiSchema(fn.Argument),
			}},
		})
	}

	var contents []*genai.Content
	for msg := range mctx.Messages() {
		role, part, err := geminiPart(msg)
		if err != nil {
			return nil, nil, err
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, part)
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{part}})
	}
	if len(contents) == 0 {
		return nil, nil, errors.New("genx: no messages")
	}
	return cfg, contents, nil
}

func geminiPart(msg *Message) (string, *genai.Part, error) {
	switch p := msg.Payload.(type) {
	case Contents:
		switch msg.Role {
		case RoleUser:
			return string(genai.RoleUser), genai.NewPartFromText(p.String()), nil
		case RoleModel:
			return string(genai.RoleModel), genai.NewPartFromText(p.String()), nil
		}
		return "", nil, fmt.Errorf("genx: text message with role %s", msg.Role)
	case *ToolCall:
		var args map[string]any
		if err := json.Unmarshal([]byte(p.FuncCall.Arguments), &args); err != nil {
			args = map[string]any{"text": p.FuncCall.Arguments}
		}
		return string(genai.RoleModel), genai.NewPartFromFunctionCall(p.FuncCall.Name, args), nil
	case *ToolResult:
		var result map[string]any
		if err := json.Unmarshal([]byte(p.Result), &result); err != nil {
			result = map[string]any{"text": p.Result}
		}
		return string(genai.RoleUser), genai.NewPartFromFunctionResponse(p.ID, result), nil
	}
	return "", nil, fmt.Errorf("genx: unexpected payload %T", msg.Payload)
}

// geminiSchema converts the subset of JSON Schema Gemini accepts.
// Nullable unions become Nullable on the non-null type.
func geminiSchema(s *jsonschema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	gs := &genai.Schema{
		Format:      s.Format,
		Description: s.Description,
		Items:       geminiSchema(s.Items),
		Required:    s.Required,
	}
	for _, v := range s.Enum {
		gs.Enum = append(gs.Enum, fmt.Sprint(v))
	}
	if len(s.Properties) > 0 {
		gs.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, p := range s.Properties {
			gs.Properties[k] = geminiSchema(p)
		}
	}
	typ := s.Type
	for _, t := range s.Types {
		if t == "null" {
			gs.Nullable = genai.Ptr(true)
		} else if typ == "" {
			typ = t
		}
	}
	switch typ {
	case "object":
		gs.Type = genai.TypeObject
	case "array":
		gs.Type = genai.TypeArray
	case "string":
		gs.Type = genai.TypeString
	case "number":
		gs.Type = genai.TypeNumber
	case "integer":
		gs.Type = genai.TypeInteger
	case "boolean":
		gs.Type = genai.TypeBoolean
	}
	return gs
}

func geminiUsage(u *genai.GenerateContentResponseUsageMetadata) Usage {
	if u == nil {
		return Usage{}
	}
	return Usage{
		PromptTokenCount:        int64(u.PromptTokenCount),
		CachedContentTokenCount: int64(u.CachedContentTokenCount),
		GeneratedTokenCount:     int64(u.CandidatesTokenCount),
	}
}
