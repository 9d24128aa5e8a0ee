package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paprika-agent/paprika/pkg/cli"
	"github.com/paprika-agent/paprika/pkg/knowledge"
)

var (
	skillLimit int
	skillFile  string
)

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Inspect and add skills (search, show, put)",
	Long: `Inspect and add the agent's skills.

A skill is a recipe learned from a task the agent completed. Before
planning, the agent looks up the skill closest to "How to <task>".

Examples:
  # Skills close to a task
  paprika skill search "How to Cook a burger"

  # One skill by task name
  paprika skill show "Cook a burger"

  # Teach a skill from a file
  paprika skill put -f burger.yaml

A skill file looks like:

  task_name: Cook a burger
  description: Grill a patty on the stove and serve it.
  steps_text: |
    1. move_to stove
    2. interact stove`,
}

var skillSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find skills similar to a text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		skills, err := e.store.SimilarSkills(ctx, args[0], skillLimit)
		if err != nil {
			return err
		}
		if skills == nil {
			skills = []knowledge.SkillRecord{}
		}
		return outputResult(skills)
	},
}

var skillShowCmd = &cobra.Command{
	Use:   "show <task>",
	Short: "Show the skill of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		sk, err := e.store.Skill(ctx, args[0])
		if errors.Is(err, knowledge.ErrNotFound) {
			return fmt.Errorf("no skill for task %q", args[0])
		}
		if err != nil {
			return err
		}
		return outputResult(sk)
	},
}

var skillPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Insert or update a skill from a file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var sk knowledge.SkillRecord
		if err := cli.LoadRequest(skillFile, &sk); err != nil {
			return err
		}
		if sk.TaskName == "" {
			return errors.New("task_name is required")
		}
		if sk.StepsText == "" {
			return errors.New("steps_text is required")
		}

		ctx := context.Background()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.store.UpsertSkill(ctx, &sk); err != nil {
			return err
		}
		return outputResult(&sk)
	},
}

func init() {
	skillSearchCmd.Flags().IntVarP(&skillLimit, "limit", "n", 5, "maximum number of skills")
	skillPutCmd.Flags().StringVarP(&skillFile, "file", "f", "", "skill file (JSON or YAML, - for stdin)")
	_ = skillPutCmd.MarkFlagRequired("file")

	skillCmd.AddCommand(skillSearchCmd)
	skillCmd.AddCommand(skillShowCmd)
	skillCmd.AddCommand(skillPutCmd)
	rootCmd.AddCommand(skillCmd)
}
