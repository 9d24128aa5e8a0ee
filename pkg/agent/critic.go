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
	"github.com/paprika-agent/paprika/pkg/prompts"
	"github.com/paprika-agent/paprika/pkg/protocol"
	"github.com/paprika-agent/paprika/pkg/workflow"
)

const DefaultCriticRetries = 5

// ExhaustedVerdict is returned when the model never produces a usable
// verdict.
var ExhaustedVerdict = protocol.CriticOutput{
	Success:   false,
	Reasoning: "Max retries",
	Feedback:  "System Error",
}

var judgeTask = genx.MustNewFuncTool[protocol.CriticOutput](
	"judge_task", "Report whether the character achieved its goal.")

// CriticOptions configures a Critic.
type CriticOptions struct {
	Mode       Mode
	Operator   *Operator
	MaxRetries int
	Structured bool
}

// Critic judges whether the current task was achieved.
type Critic struct {
	llm        *llm
	logger     *slog.Logger
	mode       Mode
	op         *Operator
	retries    int
	structured bool
}

var _ workflow.Stage = (*Critic)(nil)

// NewCritic returns a Critic. An unknown mode, or manual mode without an
// operator, is an error.
func NewCritic(d Deps, opts CriticOptions) (*Critic, error) {
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, fmt.Errorf("agent: critic: %w", err)
	}
	if mode == ModeManual && opts.Operator == nil {
		return nil, errors.New("agent: critic: manual mode needs an operator")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	c := &Critic{
		llm:        newLLM(d),
		logger:     d.Logger.With("stage", "critic"),
		mode:       mode,
		op:         opts.Operator,
		retries:    opts.MaxRetries,
		structured: opts.Structured,
	}
	if c.retries <= 0 {
		c.retries = DefaultCriticRetries
	}
	return c, nil
}

func (c *Critic) Run(ctx context.Context, s workflow.State) (workflow.Patch, error) {
	v, err := c.Check(ctx, s.Perception, s.Task)
	if err != nil {
		return nil, err
	}
	return workflow.SetVerdict(v), nil
}

// Check judges task against p. Unusable replies are retried up to the
// bound, after which ExhaustedVerdict is returned. Only backend errors
// are returned as errors.
func (c *Critic) Check(ctx context.Context, p *protocol.Perception, task string) (protocol.CriticOutput, error) {
	user := criticMessage(p, task)
	if c.mode == ModeManual {
		return c.op.Verdict(ctx, user)
	}
	for attempt := 1; attempt <= c.retries; attempt++ {
		v, err := c.attempt(ctx, user)
		if err == nil {
			c.logger.Info("agent: verdict", "task", task, "success", v.Success, "feedback", v.Feedback)
			return v, nil
		}
		if !retryable(err) {
			return protocol.CriticOutput{}, err
		}
		c.logger.Warn("agent: unusable verdict, retrying", "attempt", attempt, "left", c.retries-attempt, "error", err)
	}
	c.logger.Error("agent: max retries reached, verdict defaults to failure", "task", task)
	return ExhaustedVerdict, nil
}

// verdict requires success to be present.
type verdict struct {
	Success   *bool  `json:"success"`
	Reasoning string `json:"reasoning"`
	Feedback  string `json:"feedback"`
}

func (c *Critic) attempt(ctx context.Context, user string) (protocol.CriticOutput, error) {
	var v verdict
	if c.structured {
		call, err := c.llm.invoke(ctx, prompts.Critic, user, judgeTask)
		if err != nil {
			return protocol.CriticOutput{}, err
		}
		if err := call.Unmarshal(&v); err != nil {
			return protocol.CriticOutput{}, fmt.Errorf("%w: %w", errBadReply, err)
		}
	} else {
		text, err := c.llm.generate(ctx, prompts.Critic, user)
		if err != nil {
			return protocol.CriticOutput{}, err
		}
		if err := jsonscan.ExtractObject(text, &v); err != nil {
			return protocol.CriticOutput{}, fmt.Errorf("%w: %w", errBadReply, err)
		}
	}
	if v.Success == nil {
		return protocol.CriticOutput{}, fmt.Errorf("%w: missing success", errBadReply)
	}
	return protocol.CriticOutput{Success: *v.Success, Reasoning: v.Reasoning, Feedback: v.Feedback}, nil
}

func criticMessage(p *protocol.Perception, task string) string {
	return heredoc.Docf(`
		--- GOAL ---
		%s

		--- CURRENT STATE ---
		Location: %s
		Holding: %s
		Visible Objects: %s

		--- SYSTEM FEEDBACK ---
		Last Action Status: %s
		Last Error: %s
	`, task, p.LocationID, p.Holding("Nothing"),
		orNone(strings.Join(visibleObjects(p, ""), ", "), "None"),
		orNone(p.LastActionStatus, "None"), orNone(p.LastActionError, "None"))
}
