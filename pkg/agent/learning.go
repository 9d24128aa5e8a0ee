package agent

import (
	"context"
	"log/slog"

	"github.com/paprika-agent/paprika/pkg/knowledge"
	"github.com/paprika-agent/paprika/pkg/protocol"
	"github.com/paprika-agent/paprika/pkg/workflow"
)

// SuccessImportance is the importance of task-success memories.
const SuccessImportance = 0.7

// Learning consolidates a successful task: it learns a skill from the
// plan and remembers the success. Both are best effort.
type Learning struct {
	skill  *Skill
	store  knowledge.Store
	logger *slog.Logger
}

var _ workflow.Stage = (*Learning)(nil)

func NewLearning(skill *Skill, store knowledge.Store, logger *slog.Logger) *Learning {
	if logger == nil {
		logger = slog.Default()
	}
	return &Learning{skill: skill, store: store, logger: logger.With("stage", "learning")}
}

// Run never fails and leaves the run state unchanged.
func (l *Learning) Run(ctx context.Context, s workflow.State) (workflow.Patch, error) {
	l.skill.Learn(ctx, s.Task, s.Plan)
	l.remember(ctx, s.Perception, s.Task)
	return nil, nil
}

func (l *Learning) remember(ctx context.Context, p *protocol.Perception, task string) {
	m := &knowledge.MemoryRecord{
		Day:        p.Day,
		TimeSlot:   p.TimeHour,
		Mode:       string(p.Mode),
		LocationID: p.LocationID,
		Content:    "Completed task: " + task,
		MemoryType: knowledge.MemoryTaskSuccess,
		Importance: SuccessImportance,
	}
	if err := l.store.AppendMemory(ctx, m); err != nil {
		l.logger.Warn("agent: remember success failed", "task", task, "error", err)
		return
	}
	l.logger.Debug("agent: success remembered", "task", task, "memory", m.ID)
}
