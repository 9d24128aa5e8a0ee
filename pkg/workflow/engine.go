package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/paprika-agent/paprika/pkg/protocol"
)

// Stage runs one node. It reads a copy of the run state and returns the
// patch to apply; a nil patch changes nothing.
type Stage interface {
	Run(ctx context.Context, s State) (Patch, error)
}

// StageFunc adapts a function to a Stage.
type StageFunc func(ctx context.Context, s State) (Patch, error)

func (f StageFunc) Run(ctx context.Context, s State) (Patch, error) { return f(ctx, s) }

// Stages binds a Stage to every node.
type Stages struct {
	Curriculum Stage
	Skill      Stage
	Action     Stage
	Critic     Stage
	Learning   Stage
}

func (ss Stages) get(n Node) Stage {
	switch n {
	case Curriculum:
		return ss.Curriculum
	case Skill:
		return ss.Skill
	case Action:
		return ss.Action
	case Critic:
		return ss.Critic
	case Learning:
		return ss.Learning
	}
	return nil
}

const (
	DefaultMaxSteps      = 32
	DefaultHistoryWindow = 5
)

// Config configures an Engine. Zero step and history limits take the
// defaults.
type Config struct {
	Stages Stages

	// MaxRetries bounds the failed verdicts a task may collect before it is
	// abandoned. Nil takes DefaultMaxRetries; zero allows a single attempt.
	MaxRetries    *int
	MaxSteps      int
	HistoryWindow int

	Logger *slog.Logger
}

// Engine runs decision cycles for one session. It remembers the tasks
// adopted by earlier runs and hands them to the curriculum.
type Engine struct {
	stages        Stages
	maxRetries    int
	maxSteps      int
	historyWindow int
	logger        *slog.Logger

	mu      sync.Mutex
	history []string
}

// New validates cfg and returns an Engine.
func New(cfg Config) (*Engine, error) {
	var errs []error
	for _, n := range []Node{Curriculum, Skill, Action, Critic, Learning} {
		if cfg.Stages.get(n) == nil {
			errs = append(errs, fmt.Errorf("workflow: no stage for %s", n))
		}
	}
	if cfg.MaxRetries != nil && *cfg.MaxRetries < 0 {
		errs = append(errs, errors.New("workflow: negative max retries"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	e := &Engine{
		stages:        cfg.Stages,
		maxRetries:    DefaultMaxRetries,
		maxSteps:      cfg.MaxSteps,
		historyWindow: cfg.HistoryWindow,
		logger:        cfg.Logger,
	}
	if cfg.MaxRetries != nil {
		e.maxRetries = *cfg.MaxRetries
	}
	if e.maxSteps <= 0 {
		e.maxSteps = DefaultMaxSteps
	}
	if e.historyWindow <= 0 {
		e.historyWindow = DefaultHistoryWindow
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// History returns the recently adopted tasks, most recent first.
func (e *Engine) History() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.history)
}

func (e *Engine) remember(task string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = slices.Insert(e.history, 0, task)
	if len(e.history) > e.historyWindow {
		e.history = e.history[:e.historyWindow]
	}
}

// Run executes one decision cycle for p. The cycle starts at the
// curriculum and ends when the machine comes back to it, after learning
// or after giving up on the task, or after MaxSteps stage executions.
// The returned state carries the last task and plan.
//
// A stage error ends the run with that error. Cancelling ctx abandons
// the run; knowledge already written by finished stages stays.
func (e *Engine) Run(ctx context.Context, p *protocol.Perception) (*State, error) {
	s := &State{
		Perception: p,
		History:    e.History(),
		Task:       DefaultTask,
	}
	node := Curriculum
	visits := 0
	for step := 0; ; step++ {
		if node == Curriculum {
			visits++
			if visits > 1 {
				break
			}
		}
		if node == End {
			break
		}
		if step >= e.maxSteps {
			e.logger.Warn("workflow: step limit reached", "steps", step, "task", s.Task, "node", node)
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("workflow: %s: %w", node, err)
		}

		patch, err := e.stages.get(node).Run(ctx, s.clone())
		if err != nil {
			return nil, fmt.Errorf("workflow: %s: %w", node, err)
		}
		if patch != nil {
			patch(s)
		}
		if node == Curriculum {
			e.remember(s.Task)
		}

		next := Route(node, s, e.maxRetries)
		e.logger.Debug("workflow: transition",
			"step", step,
			"from", node,
			"to", next,
			"task", s.Task,
			"retry", s.RetryCount,
			"plan_len", len(s.Plan),
		)
		node = next
	}
	return s, nil
}
