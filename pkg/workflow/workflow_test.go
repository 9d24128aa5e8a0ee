package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/paprika-agent/paprika/pkg/protocol"
)

func TestRoute(t *testing.T) {
	fail := &protocol.CriticOutput{Success: false, Feedback: "Failed: too far"}
	ok := &protocol.CriticOutput{Success: true}
	tests := []struct {
		name  string
		from  Node
		state State
		want  Node
	}{
		{"curriculum", Curriculum, State{}, Skill},
		{"skill", Skill, State{}, Action},
		{"action", Action, State{}, Critic},
		{"success", Critic, State{Critique: ok, RetryCount: 2}, Learning},
		{"retry 1", Critic, State{Critique: fail, RetryCount: 1}, Action},
		{"retry 2", Critic, State{Critique: fail, RetryCount: 2}, Action},
		{"retry 3", Critic, State{Critique: fail, RetryCount: 3}, Action},
		{"retry 4", Critic, State{Critique: fail, RetryCount: 4}, Curriculum},
		{"learning", Learning, State{}, Curriculum},
		{"unknown", Node("bogus"), State{}, End},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Route(tt.from, &tt.state, DefaultMaxRetries); got != tt.want {
				t.Errorf("Route(%s) = %s, want %s", tt.from, got, tt.want)
			}
		})
	}
}

func TestPatches(t *testing.T) {
	s := &State{
		Task:       "old",
		SkillGuide: "guide",
		Plan:       protocol.Plan{{Function: "say"}},
		Critique:   &protocol.CriticOutput{Feedback: "no"},
		RetryCount: 3,
	}
	AdoptTask(protocol.CurriculumOutput{Task: "Cook a burger", Difficulty: 2})(s)
	if s.Task != "Cook a burger" || s.Plan != nil || s.Critique != nil || s.RetryCount != 0 || s.SkillGuide != "" {
		t.Fatalf("AdoptTask left %+v", s)
	}
	SetVerdict(protocol.CriticOutput{Success: false})(s)
	SetVerdict(protocol.CriticOutput{Success: false})(s)
	SetVerdict(protocol.CriticOutput{Success: true})(s)
	if s.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", s.RetryCount)
	}
	if !s.Succeeded() {
		t.Error("Succeeded = false")
	}
}

// script records stage calls and replays canned verdicts.
type script struct {
	calls       []Node
	verdicts    []bool
	actionInput []string
	learned     int
	tasks       []string
}

func (sc *script) stages() Stages {
	return Stages{
		Curriculum: StageFunc(func(_ context.Context, s State) (Patch, error) {
			sc.calls = append(sc.calls, Curriculum)
			task := "Cook a burger"
			if len(sc.tasks) > 0 {
				task, sc.tasks = sc.tasks[0], sc.tasks[1:]
			}
			return AdoptTask(protocol.CurriculumOutput{Task: task, Difficulty: 1}), nil
		}),
		Skill: StageFunc(func(_ context.Context, s State) (Patch, error) {
			sc.calls = append(sc.calls, Skill)
			return SetGuide("guide for " + s.Task), nil
		}),
		Action: StageFunc(func(_ context.Context, s State) (Patch, error) {
			sc.calls = append(sc.calls, Action)
			sc.actionInput = append(sc.actionInput, s.Feedback())
			n := len(sc.actionInput)
			return SetPlan(protocol.Plan{{Function: "move_to", Args: map[string]any{"id": fmt.Sprint("Stove", n)}}}), nil
		}),
		Critic: StageFunc(func(_ context.Context, s State) (Patch, error) {
			sc.calls = append(sc.calls, Critic)
			ok := false
			if len(sc.verdicts) > 0 {
				ok, sc.verdicts = sc.verdicts[0], sc.verdicts[1:]
			}
			return SetVerdict(protocol.CriticOutput{Success: ok, Feedback: "Failed: too far"}), nil
		}),
		Learning: StageFunc(func(_ context.Context, s State) (Patch, error) {
			sc.calls = append(sc.calls, Learning)
			sc.learned++
			return nil, nil
		}),
	}
}

func newEngine(t *testing.T, sc *script) *Engine {
	t.Helper()
	e, err := New(Config{Stages: sc.stages(), Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestRunSuccess(t *testing.T) {
	sc := &script{verdicts: []bool{false, true}}
	e := newEngine(t, sc)
	s, err := e.Run(context.Background(), &protocol.Perception{})
	if err != nil {
		t.Fatal(err)
	}
	want := []Node{Curriculum, Skill, Action, Critic, Action, Critic, Learning}
	if diff := cmp.Diff(want, sc.calls); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
	if s.Task != "Cook a burger" || s.RetryCount != 1 || !s.Succeeded() {
		t.Errorf("state = %+v", s)
	}
	if got := s.Plan[0].Args["id"]; got != "Stove2" {
		t.Errorf("plan is not the latest action output: %v", got)
	}
	if sc.learned != 1 {
		t.Errorf("learned = %d", sc.learned)
	}
}

func TestRunRetryFeedsCritique(t *testing.T) {
	sc := &script{verdicts: []bool{false, false, true}}
	e := newEngine(t, sc)
	if _, err := e.Run(context.Background(), &protocol.Perception{}); err != nil {
		t.Fatal(err)
	}
	want := []string{"", "Failed: too far", "Failed: too far"}
	if diff := cmp.Diff(want, sc.actionInput); diff != "" {
		t.Errorf("action feedback (-want +got):\n%s", diff)
	}
}

func TestRunGivesUp(t *testing.T) {
	sc := &script{}
	e := newEngine(t, sc)
	s, err := e.Run(context.Background(), &protocol.Perception{})
	if err != nil {
		t.Fatal(err)
	}
	actions := 0
	for _, n := range sc.calls {
		if n == Action {
			actions++
		}
	}
	if actions != DefaultMaxRetries+1 {
		t.Errorf("action ran %d times, want %d", actions, DefaultMaxRetries+1)
	}
	if sc.calls[len(sc.calls)-1] != Critic {
		t.Errorf("last call = %s, want critic", sc.calls[len(sc.calls)-1])
	}
	if s.RetryCount != DefaultMaxRetries+1 || sc.learned != 0 {
		t.Errorf("retry = %d learned = %d", s.RetryCount, sc.learned)
	}
}

func TestRunWithoutRetries(t *testing.T) {
	sc := &script{}
	noRetries := 0
	e, err := New(Config{Stages: sc.stages(), MaxRetries: &noRetries, Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatal(err)
	}
	s, err := e.Run(context.Background(), &protocol.Perception{})
	if err != nil {
		t.Fatal(err)
	}
	want := []Node{Curriculum, Skill, Action, Critic}
	if diff := cmp.Diff(want, sc.calls); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
	if s.RetryCount != 1 || s.Succeeded() {
		t.Errorf("state = %+v", s)
	}
}

func TestNewRejectsNegativeRetries(t *testing.T) {
	n := -1
	if _, err := New(Config{Stages: (&script{}).stages(), MaxRetries: &n}); err == nil {
		t.Fatal("New with negative retries succeeded")
	}
}

func TestRunStepLimit(t *testing.T) {
	sc := &script{}
	e, err := New(Config{Stages: sc.stages(), MaxSteps: 3, Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(context.Background(), &protocol.Perception{}); err != nil {
		t.Fatal(err)
	}
	if len(sc.calls) != 3 {
		t.Errorf("calls = %v, want 3", sc.calls)
	}
}

func TestRunStageError(t *testing.T) {
	sc := &script{}
	stages := sc.stages()
	boom := errors.New("backend down")
	stages.Action = StageFunc(func(context.Context, State) (Patch, error) { return nil, boom })
	e, err := New(Config{Stages: stages, Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(context.Background(), &protocol.Perception{}); !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
}

func TestRunCancelled(t *testing.T) {
	sc := &script{}
	e := newEngine(t, sc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Run(ctx, &protocol.Perception{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v", err)
	}
	if len(sc.calls) != 0 {
		t.Errorf("stages ran after cancel: %v", sc.calls)
	}
}

func TestHistoryWindow(t *testing.T) {
	sc := &script{verdicts: []bool{true, true, true, true, true, true, true}}
	for i := range 7 {
		sc.tasks = append(sc.tasks, fmt.Sprint("task", i))
	}
	e := newEngine(t, sc)
	var seen [][]string
	stages := sc.stages()
	inner := stages.Curriculum
	stages.Curriculum = StageFunc(func(ctx context.Context, s State) (Patch, error) {
		seen = append(seen, s.History)
		return inner.Run(ctx, s)
	})
	e.stages = stages
	for range 7 {
		if _, err := e.Run(context.Background(), &protocol.Perception{}); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff([]string{"task1", "task0"}, seen[2]); diff != "" {
		t.Errorf("history at third run (-want +got):\n%s", diff)
	}
	want := []string{"task6", "task5", "task4", "task3", "task2"}
	if diff := cmp.Diff(want, e.History()); diff != "" {
		t.Errorf("History (-want +got):\n%s", diff)
	}
}

func TestNewRequiresStages(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New without stages succeeded")
	}
}
