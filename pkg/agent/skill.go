package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/paprika-agent/paprika/pkg/jsonscan"
	"github.com/paprika-agent/paprika/pkg/knowledge"
	"github.com/paprika-agent/paprika/pkg/prompts"
	"github.com/paprika-agent/paprika/pkg/protocol"
	"github.com/paprika-agent/paprika/pkg/workflow"
)

const DefaultSkillRetries = 3

// Skill looks up recipes for a task and learns new ones from successful
// plans.
type Skill struct {
	llm     *llm
	store   knowledge.Store
	logger  *slog.Logger
	retries int
}

var _ workflow.Stage = (*Skill)(nil)

// NewSkill returns a Skill. retries bounds generation attempts per
// learned recipe.
func NewSkill(d Deps, retries int) *Skill {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if retries <= 0 {
		retries = DefaultSkillRetries
	}
	return &Skill{
		llm:     newLLM(d),
		store:   d.Store,
		logger:  d.Logger.With("stage", "skill"),
		retries: retries,
	}
}

func (sk *Skill) Run(ctx context.Context, s workflow.State) (workflow.Patch, error) {
	return workflow.SetGuide(sk.Retrieve(ctx, s.Task)), nil
}

// Retrieve returns the guide of the skill closest to task, or "" when
// there is none. Store errors are logged and yield "".
func (sk *Skill) Retrieve(ctx context.Context, task string) string {
	skills, err := sk.store.SimilarSkills(ctx, "How to "+task, 1)
	if err != nil {
		sk.logger.Warn("agent: skill lookup failed", "task", task, "error", err)
		return ""
	}
	if len(skills) == 0 {
		sk.logger.Debug("agent: no known skill", "task", task)
		return ""
	}
	r := skills[0]
	sk.logger.Info("agent: skill retrieved", "task", task, "skill", r.TaskName)
	return prompts.SkillGuide(r.TaskName, r.Description, r.StepsText)
}

type learnedSkill struct {
	TaskName    string `json:"task_name"`
	Description string `json:"description"`
	StepsText   string `json:"steps_text"`
}

// Learn condenses a successful plan into a recipe and stores it under
// task. It never fails the caller: an unusable reply or a store error is
// logged and the recipe is dropped. It reports whether a recipe was
// stored.
func (sk *Skill) Learn(ctx context.Context, task string, plan protocol.Plan) bool {
	history, err := json.Marshal(plan)
	if err != nil {
		sk.logger.Error("agent: encode plan", "task", task, "error", err)
		return false
	}
	user := prompts.SkillRequest(task, string(history))

	for attempt := 1; attempt <= sk.retries; attempt++ {
		text, err := sk.llm.generate(ctx, prompts.Skill, user)
		if err != nil {
			if !retryable(err) {
				sk.logger.Error("agent: skill generation failed", "task", task, "error", err)
				return false
			}
			sk.logger.Warn("agent: no recipe, retrying", "attempt", attempt, "error", err)
			continue
		}
		var out learnedSkill
		if err := jsonscan.ExtractObject(text, &out); err != nil || strings.TrimSpace(out.StepsText) == "" {
			sk.logger.Warn("agent: unusable recipe, retrying", "attempt", attempt, "left", sk.retries-attempt, "error", err)
			continue
		}
		rec := &knowledge.SkillRecord{
			TaskName:    task,
			Description: out.Description,
			StepsText:   out.StepsText,
		}
		if err := sk.store.UpsertSkill(ctx, rec); err != nil {
			sk.logger.Error("agent: skill upsert failed, dropping", "task", task, "error", err)
			return false
		}
		sk.logger.Info("agent: skill learned", "task", task, "usage_count", rec.UsageCount)
		return true
	}
	sk.logger.Error("agent: max retries reached, dropping skill", "task", task)
	return false
}
