// Package workflow runs the agent's decision cycle as a small state
// machine: curriculum, skill, action and critic, with an action/critic
// retry loop and a learning step after success.
package workflow

import (
	"slices"

	"github.com/paprika-agent/paprika/pkg/protocol"
)

// Node is a state of the machine.
type Node string

const (
	Curriculum Node = "curriculum"
	Skill      Node = "skill"
	Action     Node = "action"
	Critic     Node = "critic"
	Learning   Node = "learning"
	End        Node = "end"
)

func (n Node) String() string { return string(n) }

// DefaultTask is the task of a run before the curriculum chose one.
const DefaultTask = "Decide Next Task"

// State is the run state. One run owns it exclusively.
type State struct {
	Perception *protocol.Perception

	// History holds recently adopted tasks, most recent first.
	History []string

	Task       string
	Curriculum *protocol.CurriculumOutput
	SkillGuide string

	// Plan is always the latest action output for Task.
	Plan     protocol.Plan
	Critique *protocol.CriticOutput

	// RetryCount counts failed verdicts for Task.
	RetryCount int
}

// Feedback returns the latest critique feedback, or "".
func (s *State) Feedback() string {
	if s.Critique == nil {
		return ""
	}
	return s.Critique.Feedback
}

// Succeeded reports whether the latest verdict was a success.
func (s *State) Succeeded() bool {
	return s.Critique != nil && s.Critique.Success
}

func (s *State) clone() State {
	c := *s
	c.History = slices.Clone(s.History)
	c.Plan = slices.Clone(s.Plan)
	return c
}

// Patch is the output of one stage. The engine applies it to the run
// state in one step after the stage returns.
type Patch func(*State)

// AdoptTask starts a new task: the plan, critique and retry counter are
// reset.
func AdoptTask(out protocol.CurriculumOutput) Patch {
	return func(s *State) {
		s.Task = out.Task
		s.Curriculum = &out
		s.SkillGuide = ""
		s.Plan = nil
		s.Critique = nil
		s.RetryCount = 0
	}
}

// SetGuide records the skill guide for the current task.
func SetGuide(guide string) Patch {
	return func(s *State) { s.SkillGuide = guide }
}

// SetPlan replaces the plan.
func SetPlan(plan protocol.Plan) Patch {
	return func(s *State) { s.Plan = plan }
}

// SetVerdict records a critic verdict. A failure increments the retry
// counter.
func SetVerdict(v protocol.CriticOutput) Patch {
	return func(s *State) {
		s.Critique = &v
		if !v.Success {
			s.RetryCount++
		}
	}
}
