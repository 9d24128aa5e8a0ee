// Package embed turns text into dense vectors for similarity search over
// memories and skills.
//
// [OpenAI] talks to the OpenAI embeddings API and any server that speaks
// it, including Ollama. [Gemini] uses the Google GenAI API. [Hash] needs
// no network and is meant for tests and offline runs.
package embed

import (
	"context"
	"errors"
)

// Embedder converts text into float32 vectors of a fixed dimension.
type Embedder interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the vector length, or 0 when the provider
	// decides it.
	Dimension() int
}

// ErrEmptyInput is returned for an empty text or batch.
var ErrEmptyInput = errors.New("embed: empty input")

// single implements Embed on top of EmbedBatch.
func single(ctx context.Context, e Embedder, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
