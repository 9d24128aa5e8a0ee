package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// LoadRequest loads a request from a YAML or JSON file into the provided struct.
// The path "-" reads stdin.
func LoadRequest(path string, v any) error {
	data, err := readFile(path)
	if err != nil {
		return err
	}
	return ParseRequest(data, path, v)
}

// LoadRequestJSON loads a YAML or JSON file and returns it as JSON, for
// callers that validate the document before decoding it.
func LoadRequestJSON(path string) ([]byte, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if json.Valid(trimmed) {
		return trimmed, nil
	}
	out, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s (tried JSON and YAML): %w", path, err)
	}
	return out, nil
}

func readFile(path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// ParseRequest parses request data based on file extension or content
func ParseRequest(data []byte, filename string, v any) error {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		// Try JSON first, then YAML
		if err := json.Unmarshal(data, v); err != nil {
			if err2 := yaml.Unmarshal(data, v); err2 != nil {
				return fmt.Errorf("failed to parse file (tried JSON and YAML)")
			}
		}
	}
	return nil
}
