// Package genx is a small provider-neutral layer over chat models.
//
// A caller assembles a [ModelContext] with [ModelContextBuilder]: named
// system prompts followed by user and model messages. A [Generator] turns
// it into free text with Generate, or into one structured function call
// with Invoke, where the argument schema comes from a [FuncTool].
//
// Three generators are provided:
//
//   - [OpenAIGenerator] for OpenAI and OpenAI-compatible servers (Ollama)
//   - [GeminiGenerator] for the Google GenAI API
//   - [AnthropicGenerator] for the Anthropic Messages API
//
// The generators package routes model names to generators and the
// modelloader package builds them from configuration files.
package genx
