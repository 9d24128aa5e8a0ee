package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paprika-agent/paprika/pkg/cli"
	"github.com/paprika-agent/paprika/pkg/config"
)

// configEnv names a config file when --config is not given.
const configEnv = "PAPRIKA_CONFIG"

var (
	// Global flags
	verbose      bool
	configPath   string
	formatOutput string
	queryExpr    string
	outputFile   string

	// Global configuration (loaded at init time)
	globalConfig *config.Config
	configSource string
)

var rootCmd = &cobra.Command{
	Use:   "paprika",
	Short: "Decision loop for game characters",
	Long: `paprika - An autonomous agent controller for game characters.

A game client streams perceptions over a websocket; for each one the agent
picks a task, recalls how it solved similar tasks, plans function calls,
checks the outcome and learns skills from what worked.

The configuration is read from, in order:
  --config <file>
  $PAPRIKA_CONFIG
  ~/.paprika/config.yaml
and otherwise built-in defaults apply.

Examples:
  # Serve game clients on :8000
  paprika serve

  # Run one cycle for a recorded perception
  paprika run -f perception.yaml

  # Look up what the agent knows about cooking
  paprika skill search "cook a burger"`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.StringVarP(&configPath, "config", "c", "", "config file (default: $PAPRIKA_CONFIG or ~/.paprika/config.yaml)")
	pf.StringVar(&formatOutput, "format", "yaml", "output format (yaml, json, raw)")
	pf.StringVarP(&queryExpr, "query", "q", "", "jq expression applied to the output")
	pf.StringVarP(&outputFile, "output", "o", "", "write output to a file")
}

// configLoadErr stores the error from loading the config for deferred
// reporting, so that commands like 'paprika version' still work.
var configLoadErr error

func initConfig() {
	globalConfig, configSource, configLoadErr = loadConfig()
}

func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		if paths, err := cli.NewPaths(); err == nil {
			path = paths.ConfigFileIfExists()
		}
	}
	if path == "" {
		return config.Default(), "(defaults)", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// GetConfig returns the global configuration.
func GetConfig() (*config.Config, error) {
	if globalConfig == nil {
		if configLoadErr != nil {
			return nil, fmt.Errorf("config not available: %w", configLoadErr)
		}
		cfg, src, err := loadConfig()
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig, configSource = cfg, src
	}
	return globalConfig, nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// newLogger writes text logs to stderr at the configured level. --verbose
// forces debug.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// outputResult prints result with the global output flags.
func outputResult(result any) error {
	return cli.Output(result, cli.OutputOptions{
		Format: cli.OutputFormat(formatOutput),
		Query:  queryExpr,
		File:   outputFile,
		Indent: "  ",
	})
}
