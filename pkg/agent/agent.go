// Package agent implements the decision stages of the game agent.
//
// Each stage is a plain struct that reads the run state, talks to the
// generation backend and the knowledge store, and returns a
// [workflow.Patch]. [New] wires all of them from explicit dependencies.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/paprika-agent/paprika/pkg/config"
	"github.com/paprika-agent/paprika/pkg/genx"
	"github.com/paprika-agent/paprika/pkg/knowledge"
	"github.com/paprika-agent/paprika/pkg/prompts"
	"github.com/paprika-agent/paprika/pkg/tools"
	"github.com/paprika-agent/paprika/pkg/workflow"
)

// Mode selects who produces a stage's output.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// ParseMode accepts "auto", "manual" and "" (auto).
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, "":
		return ModeAuto, nil
	case ModeManual:
		return ModeManual, nil
	}
	return "", fmt.Errorf("agent: invalid mode %q", s)
}

// Deps are shared by every stage.
type Deps struct {
	Generator genx.Generator
	Model     string
	Prompts   *prompts.Set
	Store     knowledge.Store
	Tools     []*tools.Tool
	Logger    *slog.Logger
}

func (d *Deps) validate() error {
	var errs []error
	if d.Generator == nil {
		errs = append(errs, errors.New("agent: no generator"))
	}
	if d.Prompts == nil {
		errs = append(errs, errors.New("agent: no prompts"))
	}
	if d.Store == nil {
		errs = append(errs, errors.New("agent: no knowledge store"))
	}
	return errors.Join(errs...)
}

// llm renders stage prompts and calls the generator.
type llm struct {
	gen      genx.Generator
	model    string
	prompts  *prompts.Set
	toolsDoc string
	logger   *slog.Logger
}

func newLLM(d Deps) *llm {
	return &llm{
		gen:      d.Generator,
		model:    d.Model,
		prompts:  d.Prompts,
		toolsDoc: tools.Docs(d.Tools),
		logger:   d.Logger,
	}
}

func (l *llm) context(prompt, user string) (genx.ModelContext, error) {
	system, err := l.prompts.System(prompt, l.toolsDoc)
	if err != nil {
		return nil, err
	}
	var mcb genx.ModelContextBuilder
	mcb.PromptText(prompt, system)
	mcb.UserText("", user)
	return mcb.Build(), nil
}

func (l *llm) generate(ctx context.Context, prompt, user string) (string, error) {
	mctx, err := l.context(prompt, user)
	if err != nil {
		return "", err
	}
	text, usage, err := l.gen.Generate(ctx, l.model, mctx)
	if err != nil {
		return "", err
	}
	l.logger.Debug("agent: generated", "stage", prompt, "reply", text,
		"prompt_tokens", usage.PromptTokenCount, "generated_tokens", usage.GeneratedTokenCount)
	return text, nil
}

func (l *llm) invoke(ctx context.Context, prompt, user string, fn *genx.FuncTool) (*genx.FuncCall, error) {
	mctx, err := l.context(prompt, user)
	if err != nil {
		return nil, err
	}
	usage, call, err := l.gen.Invoke(ctx, l.model, mctx, fn)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("agent: invoked", "stage", prompt, "func", fn.Name, "args", call.Arguments,
		"prompt_tokens", usage.PromptTokenCount, "generated_tokens", usage.GeneratedTokenCount)
	return call, nil
}

// errBadReply marks a reply that could not be parsed or validated.
var errBadReply = errors.New("agent: unusable reply")

// retryable reports whether a generation error is a bad reply rather
// than a backend failure. Bad replies use up one attempt.
func retryable(err error) bool {
	return errors.Is(err, errBadReply) ||
		errors.Is(err, genx.ErrNoContent) ||
		errors.Is(err, genx.ErrTruncated) ||
		errors.Is(err, genx.ErrBlocked)
}

// Agent holds the wired stages.
type Agent struct {
	Curriculum *Curriculum
	Skill      *Skill
	Action     *Action
	Critic     *Critic
	Learning   *Learning
}

// New builds every stage from deps and cfg. op serves the manual modes
// and may be nil when both modes are auto.
func New(deps Deps, cfg config.AgentConfig, op *Operator) (*Agent, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cur, err := NewCurriculum(deps, CurriculumOptions{
		Mode:         Mode(cfg.CurriculumMode),
		Operator:     op,
		MaxRetries:   cfg.CurriculumRetries,
		MemoryWindow: cfg.MemoryWindow,
		Structured:   cfg.StructuredOutput,
	})
	if err != nil {
		return nil, err
	}
	crit, err := NewCritic(deps, CriticOptions{
		Mode:       Mode(cfg.CriticMode),
		Operator:   op,
		MaxRetries: cfg.CriticRetries,
		Structured: cfg.StructuredOutput,
	})
	if err != nil {
		return nil, err
	}
	skill := NewSkill(deps, cfg.SkillRetries)
	return &Agent{
		Curriculum: cur,
		Skill:      skill,
		Action:     NewAction(deps, cfg.StrictTools),
		Critic:     crit,
		Learning:   NewLearning(skill, deps.Store, deps.Logger),
	}, nil
}

// Stages binds the stages to workflow nodes.
func (a *Agent) Stages() workflow.Stages {
	return workflow.Stages{
		Curriculum: a.Curriculum,
		Skill:      a.Skill,
		Action:     a.Action,
		Critic:     a.Critic,
		Learning:   a.Learning,
	}
}
