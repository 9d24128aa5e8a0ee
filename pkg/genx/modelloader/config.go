// Package modelloader registers generators described by YAML or JSON
// files into a generators.Mux.
package modelloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/goccy/go-yaml"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/paprika-agent/paprika/pkg/genx"
	"github.com/paprika-agent/paprika/pkg/genx/generators"
	"google.golang.org/genai"
)

// errMissingCredentials marks configs skipped because their api key
// expanded to nothing.
var errMissingCredentials = errors.New("api_key is required")

// Options controls LoadFromDir.
type Options struct {
	Logger *slog.Logger

	// Verbose logs every request body at debug level.
	Verbose bool
}

type verboseTransport struct {
	base   http.RoundTripper
	logger *slog.Logger
}

func (t *verboseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err == nil {
			body = pretty.Bytes()
		}
		t.logger.Debug("model request", "url", req.URL.String(), "body", string(body))
	}
	return t.base.RoundTrip(req)
}

// ConfigFile is one provider with its models.
type ConfigFile struct {
	// Schema is "{provider}/{subject}/{version}", e.g. "openai/chat/v1".
	Schema string `json:"schema,omitzero" yaml:"schema,omitzero"`
	Type   string `json:"type,omitzero" yaml:"type,omitzero"`

	// Kind names the provider directly: openai, gemini or anthropic.
	Kind string `json:"kind,omitzero" yaml:"kind,omitzero"`

	// APIKey may be an env var reference like "$OPENAI_API_KEY".
	APIKey  string `json:"api_key,omitzero" yaml:"api_key,omitzero"`
	BaseURL string `json:"base_url,omitzero" yaml:"base_url,omitzero"`

	Models []Entry `json:"models,omitzero" yaml:"models,omitzero"`
}

// Entry registers one model under Name.
type Entry struct {
	Name              string            `json:"name" yaml:"name"`
	Model             string            `json:"model" yaml:"model"`
	GenerateParams    *genx.ModelParams `json:"generate_params,omitzero" yaml:"generate_params,omitzero"`
	InvokeParams      *genx.ModelParams `json:"invoke_params,omitzero" yaml:"invoke_params,omitzero"`
	SupportJSONOutput bool              `json:"support_json_output,omitzero" yaml:"support_json_output,omitzero"`
	UseSystemRole     bool              `json:"use_system_role,omitzero" yaml:"use_system_role,omitzero"`
	ExtraFields       map[string]any    `json:"extra_fields,omitzero" yaml:"extra_fields,omitzero"`
	Desc              string            `json:"desc,omitzero" yaml:"desc,omitzero"`
}

// LoadFromDir walks dir for .json, .yaml and .yml files and registers
// every model they describe into mux. Configs whose api key is empty
// after env expansion are skipped. It returns the registered names.
func LoadFromDir(dir string, mux *generators.Mux, opts Options) ([]string, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var names []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			return nil
		}
		cfg, err := parseConfig(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		got, err := registerConfig(*cfg, mux, opts)
		if errors.Is(err, errMissingCredentials) {
			opts.Logger.Info("skipping model config", "path", path, "reason", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("register %s: %w", path, err)
		}
		names = append(names, got...)
		return nil
	})
	return names, err
}

func parseConfig(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported extension: %s", filepath.Ext(path))
	}
	return &cfg, nil
}

func registerConfig(cfg ConfigFile, mux *generators.Mux, opts Options) ([]string, error) {
	cfg.APIKey = expandEnv(cfg.APIKey)
	cfg.BaseURL = expandEnv(cfg.BaseURL)

	provider := strings.ToLower(cfg.Kind)
	if cfg.Schema != "" {
		if cfg.Type != "" && cfg.Type != "generator" {
			return nil, fmt.Errorf("unknown type: %s", cfg.Type)
		}
		parts := strings.Split(cfg.Schema, "/")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid schema: %s", cfg.Schema)
		}
		provider = parts[0]
	}
	for _, m := range cfg.Models {
		if m.Name == "" || m.Model == "" {
			return nil, errors.New("model entry missing name or model")
		}
	}

	var build func(Entry) genx.Generator
	switch provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai: %w", errMissingCredentials)
		}
		ropts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			ropts = append(ropts, option.WithBaseURL(cfg.BaseURL))
		}
		if opts.Verbose {
			ropts = append(ropts, option.WithHTTPClient(verboseClient(opts.Logger)))
		}
		client := openai.NewClient(ropts...)
		build = func(m Entry) genx.Generator {
			return &genx.OpenAIGenerator{
				Client:            &client,
				Model:             m.Model,
				GenerateParams:    m.GenerateParams,
				InvokeParams:      m.InvokeParams,
				SupportJSONOutput: m.SupportJSONOutput,
				UseSystemRole:     m.UseSystemRole,
				ExtraFields:       m.ExtraFields,
			}
		}
	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini: %w", errMissingCredentials)
		}
		cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
		if opts.Verbose {
			cc.HTTPClient = verboseClient(opts.Logger)
		}
		client, err := genai.NewClient(context.Background(), cc)
		if err != nil {
			return nil, err
		}
		build = func(m Entry) genx.Generator {
			return &genx.GeminiGenerator{
				Client:         client,
				Model:          m.Model,
				GenerateParams: m.GenerateParams,
				InvokeParams:   m.InvokeParams,
			}
		}
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic: %w", errMissingCredentials)
		}
		ropts := []aoption.RequestOption{aoption.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			ropts = append(ropts, aoption.WithBaseURL(cfg.BaseURL))
		}
		if opts.Verbose {
			ropts = append(ropts, aoption.WithHTTPClient(verboseClient(opts.Logger)))
		}
		client := anthropic.NewClient(ropts...)
		build = func(m Entry) genx.Generator {
			return &genx.AnthropicGenerator{
				Client:         &client,
				Model:          m.Model,
				GenerateParams: m.GenerateParams,
				InvokeParams:   m.InvokeParams,
			}
		}
	default:
		return nil, fmt.Errorf("unknown generator provider: %q", provider)
	}

	var names []string
	for _, m := range cfg.Models {
		if err := mux.Handle(m.Name, build(m)); err != nil {
			return names, fmt.Errorf("register generator %q: %w", m.Name, err)
		}
		names = append(names, m.Name)
	}
	return names, nil
}

func verboseClient(logger *slog.Logger) *http.Client {
	return &http.Client{Transport: &verboseTransport{base: http.DefaultTransport, logger: logger}}
}

// expandEnv expands values that start with "$". An unset variable
// expands to the empty string; other values are returned unchanged.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "$") {
		return os.ExpandEnv(s)
	}
	return s
}
