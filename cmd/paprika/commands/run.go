package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/paprika-agent/paprika/pkg/agent"
	"github.com/paprika-agent/paprika/pkg/cli"
	"github.com/paprika-agent/paprika/pkg/protocol"
	"github.com/paprika-agent/paprika/pkg/workflow"
)

// panelWidth is the width of the --panel summary.
const panelWidth = 72

var (
	flagPerception string
	flagPanel      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one decision cycle for a perception",
	Long: `Run one decision cycle for a perception read from a JSON or YAML
file ("-" reads stdin) and print the chosen task and plan.

Memories and skills written during the cycle are kept.

Example:
  paprika run -f perception.yaml --panel`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVarP(&flagPerception, "file", "f", "", "perception file (JSON or YAML, - for stdin)")
	runCmd.Flags().BoolVar(&flagPanel, "panel", false, "print a summary panel instead of structured output")
	_ = runCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(runCmd)
}

// runResult is the printed outcome of a cycle.
type runResult struct {
	Task      string                 `json:"task"`
	Plan      protocol.Plan          `json:"plan"`
	Success   bool                   `json:"success"`
	Critique  *protocol.CriticOutput `json:"critique,omitempty"`
	Retries   int                    `json:"retries"`
	Reasoning string                 `json:"reasoning,omitempty"`
}

func runOnce(cmd *cobra.Command, args []string) error {
	data, err := cli.LoadRequestJSON(flagPerception)
	if err != nil {
		return err
	}
	p, err := protocol.DecodePerception(data)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()
	if err := e.withAgent(ctx); err != nil {
		return err
	}
	var op *agent.Operator
	if e.needsOperator() {
		op = agent.NewOperator(os.Stdin, os.Stderr)
	}
	eng, err := e.newEngine(op, e.logger)
	if err != nil {
		return err
	}
	s, err := eng.Run(ctx, p)
	if err != nil {
		return err
	}

	res := resultOf(s)
	if flagPanel {
		fmt.Println(resultPanel(res).Render(panelWidth))
		return nil
	}
	return outputResult(res)
}

func resultOf(s *workflow.State) runResult {
	res := runResult{
		Task:     s.Task,
		Plan:     s.Plan,
		Success:  s.Succeeded(),
		Critique: s.Critique,
		Retries:  s.RetryCount,
	}
	if res.Plan == nil {
		res.Plan = protocol.Plan{}
	}
	if s.Curriculum != nil {
		res.Reasoning = s.Curriculum.Reasoning
	}
	return res
}

func resultPanel(r runResult) cli.Panel {
	status := "success"
	if !r.Success {
		status = "failed after " + strconv.Itoa(r.Retries) + " retries"
	}
	var steps []string
	for i, a := range r.Plan {
		b, _ := json.Marshal(a.Args)
		steps = append(steps, fmt.Sprintf("%d. %s %s", i+1, a.Function, b))
	}
	if len(steps) == 0 {
		steps = []string{"(empty)"}
	}
	sections := []cli.Section{
		{Label: "Task", Lines: []string{r.Task}},
		{Label: "Plan", Lines: steps},
	}
	if r.Reasoning != "" {
		sections = append(sections, cli.Section{Label: "Reasoning", Lines: []string{r.Reasoning}})
	}
	if r.Critique != nil && r.Critique.Feedback != "" {
		sections = append(sections, cli.Section{Label: "Critique", Lines: []string{r.Critique.Feedback}})
	}
	return cli.Panel{
		Styles:   cli.NewStyles(cli.DefaultTheme),
		Title:    "paprika run",
		Status:   status,
		Failed:   !r.Success,
		Sections: sections,
	}
}
