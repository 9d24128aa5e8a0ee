package commands

import (
	"context"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paprika-agent/paprika/pkg/knowledge"
)

var (
	memLimit      int
	memDay        int
	memAsOfDay    int
	memSlot       int
	memLocation   string
	memType       string
	memImportance float64
	memTags       string
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and add memories (recent, search, add)",
	Long: `Inspect and add the agent's memories.

Memories are what the agent saw or did. The curriculum recalls the ones
closest to the current situation when it picks a task.

Examples:
  # The latest memories up to day 3
  paprika memory recent --day 3

  # Memories similar to a situation
  paprika memory search "Location: Kitchen. Nearby: Stove." --limit 5

  # Teach the agent a fact
  paprika memory add "The fridge is always stocked" --type fact --importance 0.9`,
}

var memRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the latest memories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		day := memAsOfDay
		if day < 0 {
			day = math.MaxInt32
		}
		ms, err := e.store.RecentMemories(ctx, day, memLimit)
		if err != nil {
			return err
		}
		return outputResult(memoriesOrEmpty(ms))
	},
}

var memSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find memories similar to a text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		ms, err := e.store.SimilarMemories(ctx, args[0], memLimit)
		if err != nil {
			return err
		}
		return outputResult(memoriesOrEmpty(ms))
	},
}

var memAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Add a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		m := &knowledge.MemoryRecord{
			Day:         memDay,
			TimeSlot:    memSlot,
			LocationID:  memLocation,
			Content:     args[0],
			MemoryType:  memType,
			Importance:  memImportance,
			EmotionTags: splitComma(memTags),
		}
		if err := e.store.AppendMemory(ctx, m); err != nil {
			return err
		}
		return outputResult(m)
	},
}

func init() {
	memoryCmd.PersistentFlags().IntVarP(&memLimit, "limit", "n", 10, "maximum number of memories")

	memRecentCmd.Flags().IntVar(&memAsOfDay, "day", -1, "only memories up to this day (default: all)")

	memAddCmd.Flags().IntVar(&memDay, "day", 0, "in-game day")
	memAddCmd.Flags().IntVar(&memSlot, "slot", 0, "time slot within the day")
	memAddCmd.Flags().StringVar(&memLocation, "location", "", "location id")
	memAddCmd.Flags().StringVar(&memType, "type", knowledge.MemoryFact, "memory type (observation, task_success, fact)")
	memAddCmd.Flags().Float64Var(&memImportance, "importance", 0, "importance in [0, 1] (default 0.5)")
	memAddCmd.Flags().StringVar(&memTags, "tags", "", "comma-separated emotion tags")

	memoryCmd.AddCommand(memRecentCmd)
	memoryCmd.AddCommand(memSearchCmd)
	memoryCmd.AddCommand(memAddCmd)
	rootCmd.AddCommand(memoryCmd)
}

func memoriesOrEmpty(ms []knowledge.MemoryRecord) []knowledge.MemoryRecord {
	if ms == nil {
		return []knowledge.MemoryRecord{}
	}
	return ms
}

// splitComma splits a comma-separated list, dropping blanks.
func splitComma(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
