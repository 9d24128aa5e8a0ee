package genx

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

var _ Tool = (*FuncTool)(nil)

// FuncTool describes a function a model can call, with a JSON schema for
// its single object argument.
type FuncTool struct {
	Name        string
	Description string
	Argument    *jsonschema.Schema

	// Invoke runs the function. The default decodes the arguments into a
	// new value of the argument type and returns a pointer to it.
	Invoke func(ctx context.Context, call *FuncCall, args string) (any, error)
}

func (*FuncTool) isTool() {}

// NewFuncCall binds args to the tool.
func (t *FuncTool) NewFuncCall(args string) *FuncCall {
	return &FuncCall{Name: t.Name, Arguments: args, tool: t}
}

// NewFuncTool derives the argument schema from ArgType's struct tags.
func NewFuncTool[ArgType any](name, description string) (*FuncTool, error) {
	schema, err := jsonschema.For[ArgType](&jsonschema.ForOptions{})
	if err != nil {
		return nil, fmt.Errorf("genx: schema for %s: %w", name, err)
	}
	return &FuncTool{
		Name:        name,
		Description: description,
		Argument:    schema,
		Invoke: func(_ context.Context, _ *FuncCall, args string) (any, error) {
			v := new(ArgType)
			if err := unmarshalJSON([]byte(args), v); err != nil {
				return nil, fmt.Errorf("genx: decode %s arguments: %w", name, err)
			}
			return v, nil
		},
	}, nil
}

// MustNewFuncTool is NewFuncTool for package-level tools. It panics if
// the schema cannot be derived.
func MustNewFuncTool[ArgType any](name, description string) *FuncTool {
	t, err := NewFuncTool[ArgType](name, description)
	if err != nil {
		panic(err)
	}
	return t
}

// InvokeAs runs gen.Invoke with fn and decodes the call into a T.
func InvokeAs[T any](ctx context.Context, gen Generator, model string, mctx ModelContext, fn *FuncTool) (*T, Usage, error) {
	usage, call, err := gen.Invoke(ctx, model, mctx, fn)
	if err != nil {
		return nil, usage, err
	}
	v := new(T)
	if err := call.Unmarshal(v); err != nil {
		return nil, usage, fmt.Errorf("genx: decode %s call: %w", fn.Name, err)
	}
	return v, usage, nil
}
