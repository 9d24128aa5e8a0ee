package genx

import (
	"context"
	"iter"

	"github.com/goccy/go-yaml"
)

// Generator produces model output for a ModelContext. The model argument
// is the registered name the caller asked for; routers use it, concrete
// generators ignore it.
type Generator interface {
	// Generate returns the complete text reply.
	Generate(ctx context.Context, model string, mctx ModelContext) (string, Usage, error)

	// Invoke forces the model to answer with one call of fn and returns
	// that call. Arguments are JSON text matching fn.Argument.
	Invoke(ctx context.Context, model string, mctx ModelContext, fn *FuncTool) (Usage, *FuncCall, error)
}

// ModelParams tunes sampling. Zero fields keep provider defaults.
type ModelParams struct {
	MaxTokens   int     `json:"max_tokens,omitzero" yaml:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitzero" yaml:"temperature,omitempty"`
	TopP        float32 `json:"top_p,omitzero" yaml:"top_p,omitempty"`
	TopK        float32 `json:"top_k,omitzero" yaml:"top_k,omitempty"`
}

// Prompt is a named block of system instructions.
type Prompt struct {
	Name string
	Text string
}

// Tool is something a model may call. *FuncTool is the only kind.
type Tool interface {
	isTool()
}

// ModelContext is the read-only input to a Generator.
type ModelContext interface {
	Prompts() iter.Seq[*Prompt]
	Messages() iter.Seq[*Message]
	Tools() iter.Seq[Tool]
	Params() *ModelParams
}

// Usage counts tokens for one call.
type Usage struct {
	PromptTokenCount        int64
	CachedContentTokenCount int64
	GeneratedTokenCount     int64
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokenCount:        u.PromptTokenCount + o.PromptTokenCount,
		CachedContentTokenCount: u.CachedContentTokenCount + o.CachedContentTokenCount,
		GeneratedTokenCount:     u.GeneratedTokenCount + o.GeneratedTokenCount,
	}
}

func (u Usage) String() string {
	b, _ := yaml.Marshal(map[string]map[string]any{
		"Usage": {
			"Prompt":    u.PromptTokenCount,
			"Cached":    u.CachedContentTokenCount,
			"Generated": u.GeneratedTokenCount,
		},
	})
	return string(b)
}
