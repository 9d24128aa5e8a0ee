package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"

	"github.com/paprika-agent/paprika/pkg/agent"
	"github.com/paprika-agent/paprika/pkg/config"
	"github.com/paprika-agent/paprika/pkg/embed"
	"github.com/paprika-agent/paprika/pkg/genx"
	"github.com/paprika-agent/paprika/pkg/genx/generators"
	"github.com/paprika-agent/paprika/pkg/genx/modelloader"
	"github.com/paprika-agent/paprika/pkg/knowledge"
	"github.com/paprika-agent/paprika/pkg/kv"
	"github.com/paprika-agent/paprika/pkg/prompts"
	"github.com/paprika-agent/paprika/pkg/storage"
	"github.com/paprika-agent/paprika/pkg/tools"
	"github.com/paprika-agent/paprika/pkg/vecstore"
	"github.com/paprika-agent/paprika/pkg/workflow"
)

// ollamaBaseURL is the OpenAI-compatible endpoint of a local Ollama.
const ollamaBaseURL = "http://localhost:11434/v1"

// env holds what the commands share once the configuration is known.
type env struct {
	cfg    *config.Config
	logger *slog.Logger

	store    knowledge.Store
	snapshot func(context.Context) error

	// Set by withAgent.
	gen     genx.Generator
	prompts *prompts.Set
	tools   []*tools.Tool
}

// openEnv opens the knowledge store. Commands that run the agent call
// withAgent afterwards.
func openEnv(ctx context.Context) (*env, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: newLogger(cfg)}
	emb, err := openEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}
	e.store, e.snapshot, err = openStore(ctx, cfg.Store, emb, e.logger)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// withAgent loads the generator, prompts and tools.
func (e *env) withAgent(ctx context.Context) error {
	gen, err := openGenerator(ctx, e.cfg.LLM, e.logger)
	if err != nil {
		return err
	}
	set, err := prompts.New(prompts.Options{Dir: e.cfg.Prompts.Dir, Logger: e.logger})
	if err != nil {
		return err
	}
	e.gen = gen
	e.prompts = set
	e.tools = buildTools(e.cfg, e.logger)
	return nil
}

// newEngine builds a fresh agent and engine. op serves manual modes.
func (e *env) newEngine(op *agent.Operator, logger *slog.Logger) (*workflow.Engine, error) {
	a, err := agent.New(agent.Deps{
		Generator: e.gen,
		Model:     e.cfg.LLM.Model,
		Prompts:   e.prompts,
		Store:     e.store,
		Tools:     e.tools,
		Logger:    logger,
	}, e.cfg.Agent, op)
	if err != nil {
		return nil, err
	}
	maxRetries := e.cfg.Agent.MaxRetries
	return workflow.New(workflow.Config{
		Stages:        a.Stages(),
		MaxRetries:    &maxRetries,
		MaxSteps:      e.cfg.Agent.MaxSteps,
		HistoryWindow: e.cfg.Agent.HistoryWindow,
		Logger:        logger,
	})
}

// needsOperator reports whether a stage asks a person.
func (e *env) needsOperator() bool {
	return e.cfg.Agent.CurriculumMode == string(agent.ModeManual) ||
		e.cfg.Agent.CriticMode == string(agent.ModeManual)
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error("close knowledge store", "error", err)
	}
}

// openGenerator builds the generator of the configured provider. With a
// models directory, every model registered there is reachable by name and
// the provider settings are ignored.
func openGenerator(ctx context.Context, c config.LLMConfig, logger *slog.Logger) (genx.Generator, error) {
	if c.ModelsDir != "" {
		mux := generators.NewMux()
		names, err := modelloader.LoadFromDir(c.ModelsDir, mux, modelloader.Options{Logger: logger, Verbose: verbose})
		if err != nil {
			return nil, fmt.Errorf("load models: %w", err)
		}
		if !mux.Has(c.Model) {
			return nil, fmt.Errorf("model %q is not registered in %s (have %v)", c.Model, c.ModelsDir, names)
		}
		logger.Info("models loaded", "dir", c.ModelsDir, "count", len(names))
		return mux, nil
	}

	httpClient := &http.Client{Timeout: c.Timeout}
	var params *genx.ModelParams
	if c.Temperature > 0 {
		params = &genx.ModelParams{Temperature: c.Temperature}
	}
	switch c.Provider {
	case "openai", "ollama":
		ropts := []option.RequestOption{option.WithHTTPClient(httpClient)}
		apiKey, baseURL := c.APIKey, c.BaseURL
		if c.Provider == "ollama" {
			if baseURL == "" {
				baseURL = ollamaBaseURL
			}
			if apiKey == "" {
				apiKey = "ollama"
			}
		}
		if apiKey == "" {
			return nil, errors.New("llm.api_key is required for openai")
		}
		ropts = append(ropts, option.WithAPIKey(apiKey))
		if baseURL != "" {
			ropts = append(ropts, option.WithBaseURL(baseURL))
		}
		client := openai.NewClient(ropts...)
		return &genx.OpenAIGenerator{
			Client:         &client,
			Model:          c.Model,
			GenerateParams: params,
			InvokeParams:   params,
			UseSystemRole:  c.Provider == "ollama",
		}, nil
	case "gemini":
		if c.APIKey == "" {
			return nil, errors.New("llm.api_key is required for gemini")
		}
		cc := &genai.ClientConfig{APIKey: c.APIKey, Backend: genai.BackendGeminiAPI, HTTPClient: httpClient}
		if c.BaseURL != "" {
			cc.HTTPOptions.BaseURL = c.BaseURL
		}
		client, err := genai.NewClient(ctx, cc)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return &genx.GeminiGenerator{
			Client:         client,
			Model:          c.Model,
			GenerateParams: params,
			InvokeParams:   params,
		}, nil
	case "anthropic":
		if c.APIKey == "" {
			return nil, errors.New("llm.api_key is required for anthropic")
		}
		ropts := []aoption.RequestOption{aoption.WithAPIKey(c.APIKey), aoption.WithHTTPClient(httpClient)}
		if c.BaseURL != "" {
			ropts = append(ropts, aoption.WithBaseURL(c.BaseURL))
		}
		client := anthropic.NewClient(ropts...)
		return &genx.AnthropicGenerator{
			Client:         &client,
			Model:          c.Model,
			GenerateParams: params,
			InvokeParams:   params,
		}, nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", c.Provider)
}

func openEmbedder(ctx context.Context, c config.EmbeddingConfig) (embed.Embedder, error) {
	var opts []embed.Option
	if c.Model != "" {
		opts = append(opts, embed.WithModel(c.Model))
	}
	if c.Dimension > 0 {
		opts = append(opts, embed.WithDimension(c.Dimension))
	}
	switch c.Provider {
	case "hash":
		return embed.NewHash(c.Dimension), nil
	case "openai":
		if c.APIKey == "" {
			return nil, errors.New("embedding.api_key is required for openai")
		}
		if c.BaseURL != "" {
			opts = append(opts, embed.WithBaseURL(c.BaseURL))
		}
		return embed.NewOpenAI(c.APIKey, opts...), nil
	case "ollama":
		baseURL := c.BaseURL
		if baseURL == "" {
			baseURL = ollamaBaseURL
		}
		return embed.NewOpenAI("ollama", append(opts, embed.WithBaseURL(baseURL))...), nil
	case "gemini":
		if c.BaseURL != "" {
			opts = append(opts, embed.WithBaseURL(c.BaseURL))
		}
		return embed.DialGemini(ctx, c.APIKey, opts...)
	}
	return nil, fmt.Errorf("unknown embedding provider %q", c.Provider)
}

// openStore opens the knowledge backend. snapshot writes the vector
// indexes of a kv backed store and is a no-op otherwise.
func openStore(ctx context.Context, c config.StoreConfig, emb embed.Embedder, logger *slog.Logger) (knowledge.Store, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if c.Backend == "postgres" {
		pg, err := knowledge.OpenPG(ctx, knowledge.PGConfig{DSN: c.DSN, Embedder: emb, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, noop, nil
	}

	var store kv.Store
	switch c.Backend {
	case "memory":
		store = kv.NewMemory(nil)
	case "badger":
		if err := os.MkdirAll(c.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create store dir: %w", err)
		}
		b, err := kv.NewBadger(kv.BadgerOptions{Dir: c.Dir, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		store = b
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(c.Dir), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create store dir: %w", err)
		}
		s, err := kv.NewSQLite(kv.SQLiteOptions{Path: c.Dir})
		if err != nil {
			return nil, nil, err
		}
		store = s
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", c.Backend)
	}

	blobs, err := openBlobs(ctx, c.Snapshot)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	newIndex := func() vecstore.Index { return vecstore.NewFlat(vecstore.L2, emb.Dimension()) }
	if c.Index == "hnsw" {
		newIndex = func() vecstore.Index {
			return vecstore.NewHNSW(vecstore.HNSWConfig{Metric: vecstore.L2, Dim: emb.Dimension()})
		}
	}
	ks, err := knowledge.OpenKV(ctx, knowledge.KVConfig{
		KV:       store,
		Embedder: emb,
		Blobs:    blobs,
		NewIndex: newIndex,
		Logger:   logger,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return ks, ks.Snapshot, nil
}

// openBlobs returns nil when snapshots are not configured.
func openBlobs(ctx context.Context, c config.SnapshotConfig) (storage.Blobs, error) {
	switch {
	case c.S3 != nil:
		return storage.OpenBucket(ctx, storage.S3Options{
			Bucket:          c.S3.Bucket,
			Prefix:          c.S3.Prefix,
			Region:          c.S3.Region,
			Endpoint:        c.S3.Endpoint,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
		})
	case c.Dir != "":
		return storage.NewDir(c.Dir)
	}
	return nil, nil
}

// newRegistry adds every known tool package.
func newRegistry(logger *slog.Logger) *tools.Registry {
	r := tools.NewRegistry(logger)
	tools.AddGame(r)
	tools.AddExternal(r)
	return r
}

// buildTools builds tools.enabled, or every tool when the list is empty.
func buildTools(cfg *config.Config, logger *slog.Logger) []*tools.Tool {
	r := newRegistry(logger)
	tc := tools.Context{Config: cfg, Logger: logger}
	if len(cfg.Tools.Enabled) > 0 {
		return r.BuildSelected(cfg.Tools.Enabled, tc)
	}
	return r.BuildAll(tc)
}
