package prompts

import (
	"github.com/MakeNowJust/heredoc"
)

// FailedPlan is appended to the action request when the previous plan
// for the same task was judged a failure.
func FailedPlan(plan, critique string) string {
	return heredoc.Docf(`
		--- PREVIOUS PLAN FAILED ---
		Plan: %s
		Critique: %s
		Do not repeat the same mistake. Try a different function or different arguments.
	`, plan, critique)
}

// SkillRequest asks the skill stage to turn an action history into a
// recipe.
func SkillRequest(task, history string) string {
	return heredoc.Docf(`
		--- COMPLETED TASK ---
		%q

		--- RAW ACTION HISTORY ---
		%s

		--- INSTRUCTIONS ---
		Convert this history into a GENERIC Standard Operating Procedure (SOP).
		1. Generalize coordinates (e.g., don't say "Move to (1,2)", say "Move to Fridge").
		2. Keep it concise (3-6 steps).
		3. Output strict JSON with the fields task_name, description and steps_text.
	`, task, history)
}

// SkillGuide renders a retrieved skill for the action stage.
func SkillGuide(task, description, steps string) string {
	return heredoc.Docf(`
		--- KNOWN RECIPE / SKILL ---
		Task: %s
		Description: %s
		Guide:
		%s
	`, task, description, steps)
}
