// Package config holds the settings of a paprika deployment.
//
// A Config is read from one YAML file on top of Default. String values
// starting with "$" are replaced by the named environment variable, so
// secrets can stay out of the file:
//
//	llm:
//	  provider: openai
//	  model: gpt-4.1-mini
//	  api_key: $OPENAI_API_KEY
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/robfig/cron/v3"
)

// Config is the complete configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Agent     AgentConfig     `yaml:"agent"`
	Tools     ToolsConfig     `yaml:"tools"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the websocket gateway.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string `yaml:"addr"`

	// ReadLimit caps the size of one inbound message in bytes.
	ReadLimit int64 `yaml:"read_limit"`

	// WriteTimeout bounds each outbound frame.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// PingInterval is the keepalive period. The peer must answer within
	// twice this interval.
	PingInterval time.Duration `yaml:"ping_interval"`

	// RecordObservations appends every processed perception to memory.
	RecordObservations bool `yaml:"record_observations"`
}

// LLMConfig selects the generation backend.
type LLMConfig struct {
	// Provider is openai, ollama, gemini or anthropic.
	Provider string `yaml:"provider"`

	// Model is the provider's model id, or a name registered from
	// ModelsDir.
	Model string `yaml:"model"`

	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`

	// ModelsDir holds model config files registered at startup. When set,
	// Model may name any model registered there.
	ModelsDir string `yaml:"models_dir,omitempty"`

	// Timeout bounds one generation call. Zero means no deadline.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Temperature applies to every stage. Zero keeps the provider default.
	Temperature float32 `yaml:"temperature,omitempty"`
}

// EmbeddingConfig selects the embedder.
type EmbeddingConfig struct {
	// Provider is openai, ollama, gemini or hash.
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`
	Dimension int    `yaml:"dimension,omitempty"`
}

// StoreConfig selects the knowledge backend.
type StoreConfig struct {
	// Backend is badger, sqlite, memory or postgres.
	Backend string `yaml:"backend"`

	// Dir holds the badger directory or the sqlite file.
	Dir string `yaml:"dir,omitempty"`

	// DSN is the postgres connection string.
	DSN string `yaml:"dsn,omitempty"`

	// Index is flat or hnsw. Postgres ignores it.
	Index string `yaml:"index"`

	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// SnapshotConfig says where vector index snapshots go. With neither Dir
// nor S3 set, no snapshots are written.
type SnapshotConfig struct {
	Dir string    `yaml:"dir,omitempty"`
	S3  *S3Config `yaml:"s3,omitempty"`

	// Schedule is a cron spec such as "@every 10m" for periodic
	// snapshots while serving. Empty snapshots only on shutdown.
	Schedule string `yaml:"schedule,omitempty"`
}

// S3Config locates a snapshot bucket. Endpoint selects an S3-compatible
// server such as MinIO.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
}

// AgentConfig tunes the decision pipeline.
type AgentConfig struct {
	// CurriculumMode and CriticMode are auto or manual.
	CurriculumMode string `yaml:"curriculum_mode"`
	CriticMode     string `yaml:"critic_mode"`

	// MaxRetries is how often a failed plan is retried before the task
	// is abandoned. Zero gives each task a single attempt.
	MaxRetries int `yaml:"max_retries"`

	CurriculumRetries int `yaml:"curriculum_retries"`
	CriticRetries     int `yaml:"critic_retries"`
	SkillRetries      int `yaml:"skill_retries"`

	// MemoryWindow is how many similar memories the curriculum sees.
	MemoryWindow int `yaml:"memory_window"`

	// HistoryWindow is how many recent tasks the curriculum sees.
	HistoryWindow int `yaml:"history_window"`

	// MaxSteps bounds the node executions of one run.
	MaxSteps int `yaml:"max_steps"`

	// StructuredOutput makes curriculum and critic use function calling
	// instead of parsing JSON out of free text.
	StructuredOutput bool `yaml:"structured_output"`

	// StrictTools drops planned actions naming an unknown function.
	StrictTools bool `yaml:"strict_tools"`
}

// ToolsConfig selects and configures tools.
type ToolsConfig struct {
	// Enabled lists tool names to build. Empty builds every tool.
	Enabled []string `yaml:"enabled,omitempty"`

	// Options holds free-form settings per tool name.
	Options map[string]map[string]string `yaml:"options,omitempty"`

	Weather WeatherSettings `yaml:"weather"`
}

// WeatherSettings configures the OpenWeather tool.
type WeatherSettings struct {
	APIKey  string        `yaml:"api_key,omitempty"`
	BaseURL string        `yaml:"base_url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ToolSettings is what Config.Tool reports for one tool.
type ToolSettings struct {
	Name    string
	Options map[string]string
}

// PromptsConfig locates prompt template overrides.
type PromptsConfig struct {
	// Dir holds {name}.md files replacing the built-in templates.
	Dir string `yaml:"dir,omitempty"`

	// Watch reloads changed files in Dir while serving.
	Watch bool `yaml:"watch,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8000",
			ReadLimit:    1 << 20,
			WriteTimeout: 10 * time.Second,
			PingInterval: 30 * time.Second,
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4.1-mini",
		},
		Embedding: EmbeddingConfig{
			Provider: "hash",
		},
		Store: StoreConfig{
			Backend: "badger",
			Dir:     "data/knowledge",
			Index:   "flat",
		},
		Agent: AgentConfig{
			CurriculumMode:    "auto",
			CriticMode:        "auto",
			MaxRetries:        3,
			CurriculumRetries: 5,
			CriticRetries:     5,
			SkillRetries:      3,
			MemoryWindow:      5,
			HistoryWindow:     5,
			MaxSteps:          32,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path on top of Default, expands environment references and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.expandEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expandEnv() {
	for _, p := range []*string{
		&c.LLM.APIKey, &c.LLM.BaseURL,
		&c.Embedding.APIKey, &c.Embedding.BaseURL,
		&c.Store.DSN,
		&c.Tools.Weather.APIKey, &c.Tools.Weather.BaseURL,
	} {
		*p = expandEnv(*p)
	}
	if s3 := c.Store.Snapshot.S3; s3 != nil {
		s3.AccessKeyID = expandEnv(s3.AccessKeyID)
		s3.SecretAccessKey = expandEnv(s3.SecretAccessKey)
		s3.Endpoint = expandEnv(s3.Endpoint)
	}
	for _, opts := range c.Tools.Options {
		for k, v := range opts {
			opts[k] = expandEnv(v)
		}
	}
}

// expandEnv replaces values starting with "$" by the environment; unset
// variables expand to "".
func expandEnv(s string) string {
	if strings.HasPrefix(s, "$") {
		return os.ExpandEnv(s)
	}
	return s
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	oneOf := func(field, v string, allowed ...string) {
		check(slices.Contains(allowed, v), "%s: %q is not one of %s", field, v, strings.Join(allowed, ", "))
	}

	check(c.Server.Addr != "", "server.addr is required")
	check(c.Server.ReadLimit > 0, "server.read_limit must be positive")
	check(c.Server.PingInterval >= 0 && c.Server.WriteTimeout >= 0, "server timeouts must not be negative")

	oneOf("llm.provider", c.LLM.Provider, "openai", "ollama", "gemini", "anthropic")
	check(c.LLM.Model != "", "llm.model is required")
	check(c.LLM.Timeout >= 0, "llm.timeout must not be negative")

	oneOf("embedding.provider", c.Embedding.Provider, "openai", "ollama", "gemini", "hash")
	check(c.Embedding.Dimension >= 0, "embedding.dimension must not be negative")

	oneOf("store.backend", c.Store.Backend, "badger", "sqlite", "memory", "postgres")
	oneOf("store.index", c.Store.Index, "flat", "hnsw")
	switch c.Store.Backend {
	case "badger", "sqlite":
		check(c.Store.Dir != "", "store.dir is required for %s", c.Store.Backend)
	case "postgres":
		check(c.Store.DSN != "", "store.dsn is required for postgres")
	}
	if s3 := c.Store.Snapshot.S3; s3 != nil {
		check(s3.Bucket != "", "store.snapshot.s3.bucket is required")
		check(c.Store.Snapshot.Dir == "", "store.snapshot: dir and s3 are exclusive")
	}
	if spec := c.Store.Snapshot.Schedule; spec != "" {
		_, err := cron.ParseStandard(spec)
		check(err == nil, "store.snapshot.schedule: %v", err)
	}

	a := c.Agent
	oneOf("agent.curriculum_mode", a.CurriculumMode, "auto", "manual")
	oneOf("agent.critic_mode", a.CriticMode, "auto", "manual")
	check(a.MaxRetries >= 0, "agent.max_retries must not be negative")
	check(a.CurriculumRetries > 0, "agent.curriculum_retries must be positive")
	check(a.CriticRetries > 0, "agent.critic_retries must be positive")
	check(a.SkillRetries > 0, "agent.skill_retries must be positive")
	check(a.MemoryWindow > 0, "agent.memory_window must be positive")
	check(a.HistoryWindow > 0, "agent.history_window must be positive")
	check(a.MaxSteps >= 5, "agent.max_steps must be at least 5")

	oneOf("log.level", strings.ToLower(c.Log.Level), "debug", "info", "warn", "error")
	return errors.Join(errs...)
}

// Tool reports whether the named tool is enabled and its options.
func (c *Config) Tool(name string) (ToolSettings, bool) {
	if len(c.Tools.Enabled) > 0 && !slices.Contains(c.Tools.Enabled, name) {
		return ToolSettings{}, false
	}
	return ToolSettings{Name: name, Options: c.Tools.Options[name]}, true
}

// Weather returns the weather tool settings. ok is false unless both the
// api key and the base URL are set.
func (c *Config) Weather() (WeatherSettings, bool) {
	w := c.Tools.Weather
	if w.APIKey == "" || w.BaseURL == "" {
		return WeatherSettings{}, false
	}
	if w.Timeout <= 0 {
		w.Timeout = 5 * time.Second
	}
	return w, true
}
