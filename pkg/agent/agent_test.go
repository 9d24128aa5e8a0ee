package agent

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/paprika-agent/paprika/pkg/config"
	"github.com/paprika-agent/paprika/pkg/embed"
	"github.com/paprika-agent/paprika/pkg/genx"
	"github.com/paprika-agent/paprika/pkg/knowledge"
	"github.com/paprika-agent/paprika/pkg/kv"
	"github.com/paprika-agent/paprika/pkg/prompts"
	"github.com/paprika-agent/paprika/pkg/protocol"
	"github.com/paprika-agent/paprika/pkg/tools"
	"github.com/paprika-agent/paprika/pkg/workflow"
)

var discard = slog.New(slog.DiscardHandler)

// scripted replays canned replies per stage. The last reply of a stage
// repeats once the queue is drained.
type scripted struct {
	mu      sync.Mutex
	replies map[string][]string
	errs    map[string]error
	calls   map[string]int
	inputs  map[string][]string
}

func newScripted(replies map[string][]string) *scripted {
	return &scripted{
		replies: replies,
		errs:    map[string]error{},
		calls:   map[string]int{},
		inputs:  map[string][]string{},
	}
}

func (g *scripted) Generate(_ context.Context, _ string, mctx genx.ModelContext) (string, genx.Usage, error) {
	var stage string
	for p := range mctx.Prompts() {
		stage = p.Name
		break
	}
	var user string
	for m := range mctx.Messages() {
		if c, ok := m.Payload.(genx.Contents); ok {
			user = c.String()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[stage]++
	g.inputs[stage] = append(g.inputs[stage], user)
	if err := g.errs[stage]; err != nil {
		return "", genx.Usage{}, err
	}
	q := g.replies[stage]
	if len(q) == 0 {
		return "", genx.Usage{}, genx.ErrNoContent
	}
	reply := q[0]
	if len(q) > 1 {
		g.replies[stage] = q[1:]
	}
	return reply, genx.Usage{PromptTokenCount: 10, GeneratedTokenCount: 5}, nil
}

func (g *scripted) Invoke(ctx context.Context, model string, mctx genx.ModelContext, fn *genx.FuncTool) (genx.Usage, *genx.FuncCall, error) {
	text, usage, err := g.Generate(ctx, model, mctx)
	if err != nil {
		return usage, nil, err
	}
	return usage, fn.NewFuncCall(text), nil
}

func newStore(t *testing.T) *knowledge.KVStore {
	t.Helper()
	s, err := knowledge.OpenKV(context.Background(), knowledge.KVConfig{
		KV:       kv.NewMemory(nil),
		Embedder: embed.NewHash(128),
		Logger:   discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newDeps(t *testing.T, gen genx.Generator) Deps {
	t.Helper()
	ps, err := prompts.New(prompts.Options{Logger: discard})
	if err != nil {
		t.Fatal(err)
	}
	r := tools.NewRegistry(discard)
	tools.AddGame(r)
	return Deps{
		Generator: gen,
		Model:     "test",
		Prompts:   ps,
		Store:     newStore(t),
		Tools:     r.BuildAll(tools.Context{Config: config.Default(), Logger: discard}),
		Logger:    discard,
	}
}

func kitchen() *protocol.Perception {
	return &protocol.Perception{
		TimeHour:   12,
		Day:        3,
		Mode:       protocol.ModeReality,
		LocationID: "Kitchen",
		NearbyObjects: []protocol.WorldObject{
			{ID: "Stove", Type: "appliance", Distance: 4, State: "off"},
			{ID: "Fridge", Type: "appliance", Distance: 2, State: "closed"},
		},
		LastActionStatus: "Failed: too far",
	}
}

func TestCriticRetryBound(t *testing.T) {
	gen := newScripted(map[string][]string{prompts.Critic: {"I think it went well."}})
	c, err := NewCritic(newDeps(t, gen), CriticOptions{})
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Check(context.Background(), kitchen(), "Cook a burger")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ExhaustedVerdict, v); diff != "" {
		t.Errorf("verdict (-want +got):\n%s", diff)
	}
	if got := gen.calls[prompts.Critic]; got != DefaultCriticRetries {
		t.Errorf("critic attempts = %d, want %d", got, DefaultCriticRetries)
	}
}

func TestCriticRequiresSuccessField(t *testing.T) {
	gen := newScripted(map[string][]string{prompts.Critic: {
		`{"reasoning": "unsure"}`,
		`Verdict: {"success": true, "reasoning": "burger on plate", "feedback": ""}`,
	}})
	c, err := NewCritic(newDeps(t, gen), CriticOptions{MaxRetries: 3})
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Check(context.Background(), kitchen(), "Cook a burger")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Success || v.Reasoning != "burger on plate" {
		t.Errorf("verdict = %+v", v)
	}
	if gen.calls[prompts.Critic] != 2 {
		t.Errorf("critic attempts = %d, want 2", gen.calls[prompts.Critic])
	}
}

func TestCriticBackendErrorPropagates(t *testing.T) {
	gen := newScripted(nil)
	boom := errors.New("401 unauthorized")
	gen.errs[prompts.Critic] = boom
	c, err := NewCritic(newDeps(t, gen), CriticOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Check(context.Background(), kitchen(), "x"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if gen.calls[prompts.Critic] != 1 {
		t.Errorf("backend errors must not be retried, got %d calls", gen.calls[prompts.Critic])
	}
}

func TestCriticMessage(t *testing.T) {
	got := criticMessage(kitchen(), "Cook a burger")
	for _, want := range []string{
		"--- GOAL ---\nCook a burger",
		"Holding: Nothing",
		"Visible Objects: Stove(off), Fridge(closed)",
		"Last Action Status: Failed: too far",
		"Last Error: None",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("critic message missing %q:\n%s", want, got)
		}
	}
}

func TestActionDropsInvalidElements(t *testing.T) {
	gen := newScripted(map[string][]string{prompts.Action: {`Here is my plan:
[
  {"thought_trace": "get closer", "function": "move_to", "args": {"id": "Stove"}, "is_finished": false},
  {"thought_trace": "missing function", "args": {}},
  {"function": "interact", "args": {"id": "Stove", "action": "use"}, "is_finished": true}
]`}})
	a := NewAction(newDeps(t, gen), false)
	plan, err := a.Plan(context.Background(), ActionInput{Perception: kitchen(), Task: "Cook a burger"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"move_to", "interact"}, plan.Functions()); diff != "" {
		t.Errorf("functions (-want +got):\n%s", diff)
	}
	if !plan[1].IsFinished {
		t.Error("is_finished lost")
	}
}

func TestActionDropsTruncatedElement(t *testing.T) {
	reply := `[{"function":"say","args":{"text":"hi"}},{"function":"move_to","args":{"id":"Sto`
	gen := newScripted(map[string][]string{prompts.Action: {reply}})
	a := NewAction(newDeps(t, gen), false)
	plan, err := a.Plan(context.Background(), ActionInput{Perception: kitchen(), Task: "Greet"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"say"}, plan.Functions()); diff != "" {
		t.Errorf("functions (-want +got):\n%s", diff)
	}
}

func TestActionUnparsableIsEmptyPlan(t *testing.T) {
	gen := newScripted(map[string][]string{prompts.Action: {"I would rather not."}})
	a := NewAction(newDeps(t, gen), false)
	plan, err := a.Plan(context.Background(), ActionInput{Perception: kitchen(), Task: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if plan == nil || len(plan) != 0 {
		t.Errorf("plan = %#v, want empty", plan)
	}
	if gen.calls[prompts.Action] != 1 {
		t.Errorf("action calls = %d, want 1", gen.calls[prompts.Action])
	}
}

func TestActionStrictTools(t *testing.T) {
	reply := `[{"function": "fly", "args": {}}, {"function": "say", "args": {"text": "hi"}}]`
	gen := newScripted(map[string][]string{prompts.Action: {reply}})
	strict := NewAction(newDeps(t, gen), true)
	plan, err := strict.Plan(context.Background(), ActionInput{Perception: kitchen(), Task: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"say"}, plan.Functions()); diff != "" {
		t.Errorf("strict functions (-want +got):\n%s", diff)
	}

	lax := NewAction(newDeps(t, gen), false)
	plan, _ = lax.Plan(context.Background(), ActionInput{Perception: kitchen(), Task: "x"})
	if len(plan) != 2 {
		t.Errorf("lax plan = %v", plan.Functions())
	}
}

func TestActionMessage(t *testing.T) {
	last := protocol.Plan{{Function: "pickup", Args: map[string]any{"id": "Stove"}}}
	tests := []struct {
		name       string
		in         ActionInput
		wantFailed bool
	}{
		{"first attempt", ActionInput{Task: "Cook a burger"}, false},
		{"plan without critique", ActionInput{Task: "Cook a burger", LastPlan: last}, false},
		{"critique without plan", ActionInput{Task: "Cook a burger", Critique: "Failed: too far"}, false},
		{"failed attempt", ActionInput{Task: "Cook a burger", LastPlan: last, Critique: "Failed: too far"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.Perception = kitchen()
			got := actionMessage(tt.in)
			if failed := strings.Contains(got, "PREVIOUS PLAN FAILED"); failed != tt.wantFailed {
				t.Errorf("failed block = %v, want %v:\n%s", failed, tt.wantFailed, got)
			}
			if !strings.Contains(got, "I can see: Stove (off), Fridge (closed)") {
				t.Errorf("observation missing:\n%s", got)
			}
			if tt.wantFailed && !strings.Contains(got, `"function":"pickup"`) {
				t.Errorf("last plan missing:\n%s", got)
			}
		})
	}

	empty := &protocol.Perception{LocationID: "Garden", NearbyObjects: []protocol.WorldObject{}}
	if got := actionMessage(ActionInput{Perception: empty, Task: "x"}); !strings.Contains(got, "I see nothing interactable nearby") {
		t.Errorf("empty observation:\n%s", got)
	}
}

func TestCurriculumFallback(t *testing.T) {
	gen := newScripted(map[string][]string{prompts.Curriculum: {"hmm", `{"task": ""}`}})
	c, err := NewCurriculum(newDeps(t, gen), CurriculumOptions{})
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Propose(context.Background(), kitchen(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(FallbackTask, out); diff != "" {
		t.Errorf("fallback (-want +got):\n%s", diff)
	}
	if gen.calls[prompts.Curriculum] != DefaultCurriculumRetries {
		t.Errorf("attempts = %d", gen.calls[prompts.Curriculum])
	}
}

func TestCurriculumMessage(t *testing.T) {
	deps := newDeps(t, nil)
	ctx := context.Background()
	if err := deps.Store.AppendMemory(ctx, &knowledge.MemoryRecord{
		Day: 2, Content: "The Stove in the Kitchen burns when left on", MemoryType: knowledge.MemoryFact,
	}); err != nil {
		t.Fatal(err)
	}
	gen := newScripted(map[string][]string{prompts.Curriculum: {`{"task": "Cook a burger", "reasoning": "hungry", "difficulty": 2}`}})
	deps.Generator = gen
	c, err := NewCurriculum(deps, CurriculumOptions{})
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Propose(ctx, kitchen(), []string{"Wash the dishes", "Open the Fridge"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Task != "Cook a burger" || out.Difficulty != 2 {
		t.Errorf("out = %+v", out)
	}
	msg := gen.inputs[prompts.Curriculum][0]
	for _, want := range []string{
		"Location: Kitchen",
		"Inventory: Empty",
		"Status: Day 3, 12:00",
		"- The Stove in the Kitchen burns when left on (Day 2)",
		"Wash the dishes, Open the Fridge",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("curriculum message missing %q:\n%s", want, msg)
		}
	}
}

func TestCurriculumStructured(t *testing.T) {
	gen := newScripted(map[string][]string{prompts.Curriculum: {`{"task": "Open the Fridge", "reasoning": "r", "difficulty": 1}`}})
	c, err := NewCurriculum(newDeps(t, gen), CurriculumOptions{Structured: true})
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Propose(context.Background(), kitchen(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Task != "Open the Fridge" {
		t.Errorf("task = %q", out.Task)
	}
}

func TestMemoryQuery(t *testing.T) {
	p := kitchen()
	burger := "Burger"
	p.HeldItem = &burger
	if got, want := memoryQuery(p), "Location: Kitchen. Nearby: Stove, Fridge. Holding: Burger. "; got != want {
		t.Errorf("memoryQuery = %q, want %q", got, want)
	}
	if got := renderMemories(nil); got != "No relevant memories found." {
		t.Errorf("renderMemories(nil) = %q", got)
	}
}

func TestSkillLearnAndRetrieve(t *testing.T) {
	gen := newScripted(map[string][]string{prompts.Skill: {
		"not json",
		`{"task_name": "Make burger", "description": "Fry a patty on the stove", "steps_text": "1. Move to Fridge\n2. Pickup Patty\n3. Interact with Stove"}`,
	}})
	deps := newDeps(t, gen)
	sk := NewSkill(deps, 0)
	ctx := context.Background()
	plan := protocol.Plan{{Function: "move_to", Args: map[string]any{"id": "Fridge"}}}

	if !sk.Learn(ctx, "Cook a burger", plan) {
		t.Fatal("Learn failed")
	}
	rec, err := deps.Store.Skill(ctx, "Cook a burger")
	if err != nil {
		t.Fatalf("skill not stored under the learned task: %v", err)
	}
	if rec.Description != "Fry a patty on the stove" {
		t.Errorf("description = %q", rec.Description)
	}
	if !strings.Contains(gen.inputs[prompts.Skill][0], `"function":"move_to"`) {
		t.Errorf("skill request lacks the action history:\n%s", gen.inputs[prompts.Skill][0])
	}

	guide := sk.Retrieve(ctx, "Cook a burger")
	if !strings.HasPrefix(guide, "--- KNOWN RECIPE / SKILL ---\nTask: Cook a burger\n") {
		t.Errorf("guide = %q", guide)
	}
	if !strings.Contains(guide, "3. Interact with Stove") {
		t.Errorf("guide lacks steps: %q", guide)
	}
}

func TestSkillRetrieveEmpty(t *testing.T) {
	sk := NewSkill(newDeps(t, newScripted(nil)), 0)
	if got := sk.Retrieve(context.Background(), "Cook a burger"); got != "" {
		t.Errorf("Retrieve = %q, want empty", got)
	}
}

func TestSkillLearnDropsAfterRetries(t *testing.T) {
	gen := newScripted(map[string][]string{prompts.Skill: {"no"}})
	deps := newDeps(t, gen)
	sk := NewSkill(deps, 0)
	if sk.Learn(context.Background(), "Cook a burger", nil) {
		t.Fatal("Learn succeeded on garbage")
	}
	if gen.calls[prompts.Skill] != DefaultSkillRetries {
		t.Errorf("attempts = %d", gen.calls[prompts.Skill])
	}
	if _, err := deps.Store.Skill(context.Background(), "Cook a burger"); !errors.Is(err, knowledge.ErrNotFound) {
		t.Errorf("Skill err = %v", err)
	}
}

func TestNewRejectsBadModes(t *testing.T) {
	deps := newDeps(t, newScripted(nil))
	cfg := config.Default().Agent
	cfg.CriticMode = "telepathic"
	if _, err := New(deps, cfg, nil); err == nil {
		t.Error("unknown critic mode accepted")
	}
	cfg = config.Default().Agent
	cfg.CurriculumMode = "manual"
	if _, err := New(deps, cfg, nil); err == nil {
		t.Error("manual mode without operator accepted")
	}
	if _, err := New(Deps{}, config.Default().Agent, nil); err == nil {
		t.Error("missing deps accepted")
	}
}

func TestOperator(t *testing.T) {
	in := strings.NewReader("\nCook a burger\nhungry\nlots\n3\nmaybe\nY\nlooks done\n\n")
	var out bytes.Buffer
	op := NewOperator(in, &out)
	ctx := context.Background()

	task, err := op.Task(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := protocol.CurriculumOutput{Task: "Cook a burger", Reasoning: "hungry", Difficulty: 3}
	if diff := cmp.Diff(want, task); diff != "" {
		t.Errorf("task (-want +got):\n%s", diff)
	}
	v, err := op.Verdict(ctx, "--- GOAL ---")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Success || v.Reasoning != "looks done" || v.Feedback != "" {
		t.Errorf("verdict = %+v", v)
	}
	if n := strings.Count(out.String(), "invalid answer"); n != 3 {
		t.Errorf("re-prompted %d times, want 3", n)
	}
	if _, err := op.Task(ctx); err == nil {
		t.Error("Task on closed input succeeded")
	}
}

func TestCookBurgerScenario(t *testing.T) {
	gen := newScripted(map[string][]string{
		prompts.Curriculum: {`{"task": "Cook a burger", "reasoning": "It is noon and the stove is here.", "difficulty": 3}`},
		prompts.Action: {`[
			{"thought_trace": "The stove is too far away.", "function": "move_to", "args": {"id": "Stove"}, "is_finished": false},
			{"function": "interact", "args": {"id": "Stove", "action": "use"}, "is_finished": true}
		]`},
		prompts.Critic: {`{"success": false, "reasoning": "The engine reported a failure.", "feedback": "Failed: too far. Move closer first."}`},
	})
	deps := newDeps(t, gen)
	a, err := New(deps, config.Default().Agent, nil)
	if err != nil {
		t.Fatal(err)
	}
	e, err := workflow.New(workflow.Config{Stages: a.Stages(), Logger: discard})
	if err != nil {
		t.Fatal(err)
	}
	s, err := e.Run(context.Background(), kitchen())
	if err != nil {
		t.Fatal(err)
	}
	if s.Task != "Cook a burger" {
		t.Errorf("task = %q", s.Task)
	}
	if len(s.Plan) == 0 || !slices.Contains([]string{"move_to", "say", "interact"}, s.Plan[0].Function) {
		t.Errorf("plan = %v", s.Plan.Functions())
	}
	if s.Critique == nil || s.Critique.Success {
		t.Errorf("critique = %+v, want failure", s.Critique)
	}
	if got := gen.calls[prompts.Critic]; got != workflow.DefaultMaxRetries+1 {
		t.Errorf("critic calls = %d", got)
	}
	// Every retry sees the critique verbatim.
	for i, in := range gen.inputs[prompts.Action][1:] {
		if !strings.Contains(in, "Failed: too far. Move closer first.") {
			t.Errorf("action input %d lacks the critique:\n%s", i+1, in)
		}
	}
	if gen.calls[prompts.Skill] != 0 {
		t.Error("learning ran after a failure")
	}
}

func TestLearningRemembersSuccess(t *testing.T) {
	gen := newScripted(map[string][]string{prompts.Skill: {`{"task_name": "x", "description": "d", "steps_text": "1. Say hi"}`}})
	deps := newDeps(t, gen)
	l := NewLearning(NewSkill(deps, 0), deps.Store, discard)
	p := kitchen()
	patch, err := l.Run(context.Background(), workflow.State{Perception: p, Task: "Greet the player", Plan: protocol.Plan{{Function: "say"}}})
	if err != nil || patch != nil {
		t.Fatalf("Run = %v, %v", patch, err)
	}
	ms, err := deps.Store.RecentMemories(context.Background(), p.Day, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 1 || ms[0].Content != "Completed task: Greet the player" || ms[0].Importance != SuccessImportance {
		t.Errorf("memories = %+v", ms)
	}
	if _, err := deps.Store.Skill(context.Background(), "Greet the player"); err != nil {
		t.Errorf("skill: %v", err)
	}
}
