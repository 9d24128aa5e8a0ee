package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrInvalidPerception is returned for messages that do not match the
	// perception schema.
	ErrInvalidPerception = errors.New("protocol: invalid perception")

	// ErrInvalidAction is returned for plan elements that do not match the
	// action schema.
	ErrInvalidAction = errors.New("protocol: invalid action")
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	perceptionSchema = mustCompile("perception.schema.json")
	actionSchema     = mustCompile("action.schema.json")
)

func mustCompile(name string) *jsonschema.Schema {
	b, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		panic(err)
	}
	return jsonschema.MustCompileString(name, string(b))
}

// SchemaJSON returns the raw JSON Schema document with the given file name,
// e.g. "perception.schema.json".
func SchemaJSON(name string) ([]byte, error) {
	return schemaFS.ReadFile("schemas/" + name)
}

// DecodePerception validates data against the perception schema and decodes
// it. Missing optional fields get their defaults.
func DecodePerception(data []byte) (*Perception, error) {
	if err := validate(perceptionSchema, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPerception, err)
	}
	var p Perception
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPerception, err)
	}
	p.normalize()
	return &p, nil
}

// DecodeAction validates one plan element and decodes it.
func DecodeAction(data json.RawMessage) (AgentAction, error) {
	if err := validate(actionSchema, data); err != nil {
		return AgentAction{}, fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}
	var a AgentAction
	if err := json.Unmarshal(data, &a); err != nil {
		return AgentAction{}, fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}
	if a.Args == nil {
		a.Args = map[string]any{}
	}
	return a, nil
}

func validate(s *jsonschema.Schema, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after json value")
	}
	return s.Validate(v)
}
