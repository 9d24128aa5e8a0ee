// Package tools describes the functions the agent may put in a plan.
//
// A [Tool] carries a name, a description and a JSON schema for its
// arguments. Tools are not bound at import time: each one has a
// [Builder] that is added to a [Registry] explicitly at startup and
// built once with a [Context]. A builder returns a nil tool when its
// configuration is missing, which skips the tool.
//
// [Docs] renders built tools into the text injected into system prompts.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/paprika-agent/paprika/pkg/config"
)

// Tool is a callable function with a JSON argument object.
type Tool struct {
	Name        string
	Description string
	Argument    *jsonschema.Schema

	resolved *jsonschema.Resolved
	call     func(ctx context.Context, args json.RawMessage) (any, error)
}

// New derives the argument schema from A and binds fn.
func New[A any](name, description string, fn func(ctx context.Context, args A) (any, error)) (*Tool, error) {
	schema, err := jsonschema.For[A](nil)
	if err != nil {
		return nil, fmt.Errorf("tools: schema for %s: %w", name, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("tools: resolve schema for %s: %w", name, err)
	}
	return &Tool{
		Name:        name,
		Description: description,
		Argument:    schema,
		resolved:    resolved,
		call: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args A
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("tools: %s arguments: %w", name, err)
			}
			return fn(ctx, args)
		},
	}, nil
}

// Call validates args against the schema and runs the tool. Empty args
// mean {}.
func (t *Tool) Call(ctx context.Context, args json.RawMessage) (any, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var instance any
	if err := json.Unmarshal(args, &instance); err != nil {
		return nil, fmt.Errorf("tools: %s arguments: %w", t.Name, err)
	}
	if t.resolved != nil {
		if err := t.resolved.Validate(instance); err != nil {
			return nil, fmt.Errorf("tools: %s arguments: %w", t.Name, err)
		}
	}
	if t.call == nil {
		return nil, fmt.Errorf("tools: %s is not callable", t.Name)
	}
	return t.call(ctx, args)
}

// Context is passed to every builder.
type Context struct {
	// Config is probed for tool settings. Required.
	Config *config.Config

	// HTTPClient is used by tools that call external services.
	HTTPClient *http.Client

	Logger *slog.Logger
}

func (c Context) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Builder constructs a tool. Build returns (nil, nil) when the tool is
// not configured.
type Builder interface {
	Name() string
	Build(Context) (*Tool, error)
}

type funcBuilder struct {
	name  string
	build func(Context) (*Tool, error)
}

func (f funcBuilder) Name() string                    { return f.name }
func (f funcBuilder) Build(c Context) (*Tool, error) { return f.build(c) }

// Func adapts a function to a Builder.
func Func(name string, build func(Context) (*Tool, error)) Builder {
	return funcBuilder{name: name, build: build}
}

// Names lists the names of tools.
func Names(tools []*Tool) []string {
	out := make([]string, len(tools))
	for i, t := range tools {
		out[i] = t.Name
	}
	return out
}

// Docs renders one block per tool:
//
//	- Function: move_to
//	- Description: Walk to a specific location or object.
//	- Argument: {"id":{"type":"string",...}}
//
// Blocks are separated by a blank line.
func Docs(tools []*Tool) string {
	blocks := make([]string, 0, len(tools))
	for _, t := range tools {
		blocks = append(blocks, fmt.Sprintf("- Function: %s\n- Description: %s\n- Argument: %s",
			t.Name, t.Description, argumentDoc(t.Argument)))
	}
	return strings.Join(blocks, "\n\n")
}

func argumentDoc(s *jsonschema.Schema) string {
	if s == nil || len(s.Properties) == 0 {
		return "None"
	}
	b, err := json.Marshal(s.Properties)
	if err != nil {
		return "Unknown"
	}
	return string(b)
}
