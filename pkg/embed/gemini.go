package embed

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-embedding-001"

// Gemini embeds through the Google GenAI API.
type Gemini struct {
	client *genai.Client
	model  string
	dim    int
}

var _ Embedder = (*Gemini)(nil)

// NewGemini wraps an existing GenAI client.
func NewGemini(client *genai.Client, opts ...Option) *Gemini {
	cfg := newConfig(DefaultGeminiModel, opts)
	return &Gemini{client: client, model: cfg.model, dim: cfg.dim}
}

// DialGemini creates a GenAI client for apiKey.
func DialGemini(ctx context.Context, apiKey string, opts ...Option) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("embed: gemini api key is required")
	}
	cfg := newConfig(DefaultGeminiModel, opts)
	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI, HTTPClient: cfg.httpClient}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("embed: gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.model, dim: cfg.dim}, nil
}

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	return single(ctx, g, text)
}

func (g *Gemini) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"}
	if g.dim > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(g.dim))
	}
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("embed: gemini: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed: gemini returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func (g *Gemini) Dimension() int { return g.dim }
