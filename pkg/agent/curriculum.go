package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MakeNowJust/heredoc"

	"github.com/paprika-agent/paprika/pkg/genx"
	"github.com/paprika-agent/paprika/pkg/jsonscan"
	"github.com/paprika-agent/paprika/pkg/knowledge"
	"github.com/paprika-agent/paprika/pkg/prompts"
	"github.com/paprika-agent/paprika/pkg/protocol"
	"github.com/paprika-agent/paprika/pkg/workflow"
)

const (
	DefaultCurriculumRetries = 5
	DefaultMemoryWindow      = 5
)

// FallbackTask is proposed when the model never produces a usable task.
var FallbackTask = protocol.CurriculumOutput{
	Task:       "Explore the area",
	Reasoning:  "I failed to think of a task, so I will just wander.",
	Difficulty: 1,
}

var proposeTask = genx.MustNewFuncTool[protocol.CurriculumOutput](
	"propose_task", "Propose the next task for the character.")

// CurriculumOptions configures a Curriculum.
type CurriculumOptions struct {
	Mode     Mode
	Operator *Operator

	// MaxRetries bounds generation attempts per proposal.
	MaxRetries int

	// MemoryWindow is how many similar memories are shown to the model.
	MemoryWindow int

	// Structured asks the generator for a schema-bound reply instead of
	// scanning free text for JSON.
	Structured bool
}

// Curriculum chooses the next task.
type Curriculum struct {
	llm        *llm
	store      knowledge.Store
	logger     *slog.Logger
	mode       Mode
	op         *Operator
	retries    int
	window     int
	structured bool
}

var _ workflow.Stage = (*Curriculum)(nil)

// NewCurriculum returns a Curriculum. An unknown mode, or manual mode
// without an operator, is an error.
func NewCurriculum(d Deps, opts CurriculumOptions) (*Curriculum, error) {
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, fmt.Errorf("agent: curriculum: %w", err)
	}
	if mode == ModeManual && opts.Operator == nil {
		return nil, errors.New("agent: curriculum: manual mode needs an operator")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	c := &Curriculum{
		llm:        newLLM(d),
		store:      d.Store,
		logger:     d.Logger.With("stage", "curriculum"),
		mode:       mode,
		op:         opts.Operator,
		retries:    opts.MaxRetries,
		window:     opts.MemoryWindow,
		structured: opts.Structured,
	}
	if c.retries <= 0 {
		c.retries = DefaultCurriculumRetries
	}
	if c.window <= 0 {
		c.window = DefaultMemoryWindow
	}
	return c, nil
}

func (c *Curriculum) Run(ctx context.Context, s workflow.State) (workflow.Patch, error) {
	out, err := c.Propose(ctx, s.Perception, s.History)
	if err != nil {
		return nil, err
	}
	return workflow.AdoptTask(out), nil
}

// Propose returns the next task for p. history lists recent tasks, most
// recent first.
func (c *Curriculum) Propose(ctx context.Context, p *protocol.Perception, history []string) (protocol.CurriculumOutput, error) {
	if c.mode == ModeManual {
		return c.op.Task(ctx)
	}
	memories, err := c.store.SimilarMemories(ctx, memoryQuery(p), c.window)
	if err != nil {
		c.logger.Warn("agent: memory lookup failed", "error", err)
		memories = nil
	}
	user := curriculumMessage(p, memories, history)

	for attempt := 1; attempt <= c.retries; attempt++ {
		out, err := c.attempt(ctx, user)
		if err == nil {
			c.logger.Info("agent: task proposed", "task", out.Task, "difficulty", out.Difficulty, "attempt", attempt)
			return out, nil
		}
		if !retryable(err) {
			return protocol.CurriculumOutput{}, err
		}
		c.logger.Warn("agent: unusable proposal, retrying", "attempt", attempt, "left", c.retries-attempt, "error", err)
	}
	c.logger.Error("agent: max retries reached, using fallback task", "task", FallbackTask.Task)
	return FallbackTask, nil
}

func (c *Curriculum) attempt(ctx context.Context, user string) (protocol.CurriculumOutput, error) {
	var out protocol.CurriculumOutput
	if c.structured {
		call, err := c.llm.invoke(ctx, prompts.Curriculum, user, proposeTask)
		if err != nil {
			return out, err
		}
		if err := call.Unmarshal(&out); err != nil {
			return out, fmt.Errorf("%w: %w", errBadReply, err)
		}
	} else {
		text, err := c.llm.generate(ctx, prompts.Curriculum, user)
		if err != nil {
			return out, err
		}
		if err := jsonscan.ExtractObject(text, &out); err != nil {
			return out, fmt.Errorf("%w: %w", errBadReply, err)
		}
	}
	if strings.TrimSpace(out.Task) == "" {
		return out, fmt.Errorf("%w: empty task", errBadReply)
	}
	return out, nil
}

func curriculumMessage(p *protocol.Perception, memories []knowledge.MemoryRecord, history []string) string {
	return heredoc.Docf(`
		--- CURRENT STATE ---
		Location: %s
		Inventory: %s
		Status: Day %d, %d:00

		--- RELEVANT MEMORIES (What I learned here before) ---
		%s

		--- RECENT ACTION HISTORY ---
		%s

		Based on my past memories and current state, what is the best next task?
	`, p.LocationID, p.Holding("Empty"), p.Day, p.TimeHour,
		renderMemories(memories), orNone(strings.Join(history, ", "), "None"))
}
