package commands

import (
	"encoding/json"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/paprika-agent/paprika/pkg/cli"
	"github.com/paprika-agent/paprika/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration after defaults and environment
references are applied. Secrets are masked.

Examples:
  paprika config
  paprika config --format json -q .llm`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if IsVerbose() {
			cli.PrintSuccess(cmd.ErrOrStderr(), "config: %s", configSource)
		}
		view, err := yamlView(masked(cfg))
		if err != nil {
			return err
		}
		return outputResult(view)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

// masked returns a copy of cfg with every secret masked.
func masked(cfg *config.Config) *config.Config {
	c := *cfg
	c.LLM.APIKey = cli.MaskAPIKey(c.LLM.APIKey)
	c.Embedding.APIKey = cli.MaskAPIKey(c.Embedding.APIKey)
	c.Tools.Weather.APIKey = cli.MaskAPIKey(c.Tools.Weather.APIKey)
	if c.Store.DSN != "" {
		c.Store.DSN = cli.MaskAPIKey(c.Store.DSN)
	}
	if s3 := c.Store.Snapshot.S3; s3 != nil {
		cp := *s3
		cp.SecretAccessKey = cli.MaskAPIKey(cp.SecretAccessKey)
		c.Store.Snapshot.S3 = &cp
	}
	if len(c.Tools.Options) > 0 {
		opts := make(map[string]map[string]string, len(c.Tools.Options))
		for tool, kv := range c.Tools.Options {
			m := make(map[string]string, len(kv))
			for k, v := range kv {
				m[k] = v
				if isSecretKey(k) {
					m[k] = cli.MaskAPIKey(v)
				}
			}
			opts[tool] = m
		}
		c.Tools.Options = opts
	}
	return &c
}

func isSecretKey(k string) bool {
	switch k {
	case "api_key", "token", "secret", "password":
		return true
	}
	return false
}

// yamlView converts cfg to plain values keyed by the YAML field names, so
// that JSON output and queries use the names of the config file.
func yamlView(cfg *config.Config) (any, error) {
	y, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	j, err := yaml.YAMLToJSON(y)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(j, &v); err != nil {
		return nil, err
	}
	return v, nil
}
