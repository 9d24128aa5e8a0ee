package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/paprika-agent/paprika/pkg/tools"
)

var toolTimeout time.Duration

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List, document and call planning functions",
	Long: `Inspect the functions the agent may put in a plan.

Game functions are executed by the game client; the agent only plans
them. External functions such as weather call outside services.

Examples:
  paprika tools list
  paprika tools docs
  paprika tools call weather '{"city":"Berlin"}'`,
}

// toolInfo is one row of 'tools list'.
type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the enabled tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		built := buildTools(cfg, newLogger(cfg))
		infos := make([]toolInfo, 0, len(built))
		for _, t := range built {
			infos = append(infos, toolInfo{Name: t.Name, Description: t.Description})
		}
		return outputResult(infos)
	},
}

var toolsDocsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Print the tool text injected into prompts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tools.Docs(buildTools(cfg, newLogger(cfg))))
		return nil
	},
}

var toolsCallCmd = &cobra.Command{
	Use:   "call <name> [json-args]",
	Short: "Call a tool with JSON arguments",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		r := newRegistry(logger)
		built := r.BuildSelected(args[:1], tools.Context{Config: cfg, Logger: logger})
		if len(built) == 0 {
			return fmt.Errorf("tool %q is not available", args[0])
		}
		var raw json.RawMessage
		if len(args) == 2 {
			raw = json.RawMessage(args[1])
		}

		ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
		defer cancel()
		result, err := built[0].Call(ctx, raw)
		if err != nil {
			return err
		}
		return outputResult(result)
	},
}

func init() {
	toolsCallCmd.Flags().DurationVar(&toolTimeout, "timeout", 30*time.Second, "call timeout")

	toolsCmd.AddCommand(toolsListCmd)
	toolsCmd.AddCommand(toolsDocsCmd)
	toolsCmd.AddCommand(toolsCallCmd)
	rootCmd.AddCommand(toolsCmd)
}
