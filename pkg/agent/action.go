package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MakeNowJust/heredoc"

	"github.com/paprika-agent/paprika/pkg/jsonscan"
	"github.com/paprika-agent/paprika/pkg/prompts"
	"github.com/paprika-agent/paprika/pkg/protocol"
	"github.com/paprika-agent/paprika/pkg/tools"
	"github.com/paprika-agent/paprika/pkg/workflow"
)

// Action turns the current task into a plan. It makes one generation
// call; an unusable reply yields an empty plan.
type Action struct {
	llm    *llm
	logger *slog.Logger

	// known holds the tool names allowed in a plan when strict.
	strict bool
	known  map[string]bool
}

var _ workflow.Stage = (*Action)(nil)

// NewAction returns an Action. With strict set, plan elements that name
// a function outside d.Tools are dropped.
func NewAction(d Deps, strict bool) *Action {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	a := &Action{
		llm:    newLLM(d),
		logger: d.Logger.With("stage", "action"),
		strict: strict,
		known:  make(map[string]bool, len(d.Tools)),
	}
	for _, name := range tools.Names(d.Tools) {
		a.known[name] = true
	}
	return a
}

func (a *Action) Run(ctx context.Context, s workflow.State) (workflow.Patch, error) {
	plan, err := a.Plan(ctx, ActionInput{
		Perception: s.Perception,
		Task:       s.Task,
		SkillGuide: s.SkillGuide,
		LastPlan:   s.Plan,
		Critique:   s.Feedback(),
	})
	if err != nil {
		return nil, err
	}
	return workflow.SetPlan(plan), nil
}

// ActionInput is what the action stage sees.
type ActionInput struct {
	Perception *protocol.Perception
	Task       string
	SkillGuide string

	// LastPlan and Critique describe the previous attempt at Task. The
	// attempt is reported as failed only when both are set.
	LastPlan protocol.Plan
	Critique string
}

// Plan asks the model for a plan. Elements that fail validation are
// dropped; the rest keep their order.
func (a *Action) Plan(ctx context.Context, in ActionInput) (protocol.Plan, error) {
	text, err := a.llm.generate(ctx, prompts.Action, actionMessage(in))
	if err != nil {
		if retryable(err) {
			a.logger.Warn("agent: no plan from model", "task", in.Task, "error", err)
			return protocol.Plan{}, nil
		}
		return nil, err
	}
	plan := a.parse(text)
	a.logger.Info("agent: plan ready", "task", in.Task, "steps", len(plan), "functions", plan.Functions())
	return plan, nil
}

func (a *Action) parse(text string) protocol.Plan {
	items, err := jsonscan.ExtractList(text)
	if err != nil {
		a.logger.Warn("agent: plan is not json", "error", err)
		return protocol.Plan{}
	}
	plan := make(protocol.Plan, 0, len(items))
	for i, raw := range items {
		act, err := protocol.DecodeAction(raw)
		if err != nil {
			a.logger.Warn("agent: dropping invalid action", "index", i, "error", err)
			continue
		}
		if a.strict && !a.known[act.Function] {
			a.logger.Warn("agent: dropping unknown function", "index", i, "function", act.Function)
			continue
		}
		plan = append(plan, act)
	}
	return plan
}

func actionMessage(in ActionInput) string {
	p := in.Perception
	visuals := "I see nothing interactable nearby"
	if objs := visibleObjects(p, " "); len(objs) > 0 {
		visuals = "I can see: " + strings.Join(objs, ", ")
	}

	var sb strings.Builder
	sb.WriteString(heredoc.Docf(`
		--- OBSERVATION ---
		Time: %d:00
		Location: %s
		Holding: %s
		%s
	`, p.TimeHour, p.LocationID, p.Holding("Nothing"), visuals))
	if in.SkillGuide != "" {
		sb.WriteString("\n")
		sb.WriteString(in.SkillGuide)
	}
	fmt.Fprintf(&sb, "\n--- TASK ---\nCurrent Goal: %s\n", in.Task)
	if len(in.LastPlan) > 0 && in.Critique != "" {
		last, err := json.Marshal(in.LastPlan)
		if err != nil {
			last = []byte("[]")
		}
		sb.WriteString("\n")
		sb.WriteString(prompts.FailedPlan(string(last), in.Critique))
	}
	sb.WriteString("\nBased on this, what is the next step?")
	return sb.String()
}
