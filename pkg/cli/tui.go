package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the terminal color scheme.
type Theme struct {
	Primary lipgloss.Color // Main accent color
	Dim     lipgloss.Color // Dimmed/help text color
	Alert   lipgloss.Color // Failures
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	Alert:   lipgloss.Color("#ff5f5f"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Border lipgloss.Style
	Help   lipgloss.Style
	Alert  lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Label:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Border: lipgloss.NewStyle().Foreground(t.Primary),
		Help:   lipgloss.NewStyle().Foreground(t.Dim),
		Alert:  lipgloss.NewStyle().Bold(true).Foreground(t.Alert),
	}
}

// Section is a labeled block of a Panel.
type Section struct {
	Label string
	Lines []string
}

// Panel is a bordered summary box, used to show the result of a run.
type Panel struct {
	Styles   Styles
	Title    string
	Status   string
	Failed   bool
	Sections []Section
}

// Render renders the panel width columns wide. Long lines are cut with
// an ellipsis.
func (p Panel) Render(width int) string {
	width = max(width, 20)
	bc := p.Styles.Border
	inner := width - 4

	var lines []string
	lines = append(lines, bc.Render("╭"+strings.Repeat("─", width-2)+"╮"))

	status := p.Styles.Help.Render("[" + p.Status + "]")
	if p.Failed {
		status = p.Styles.Alert.Render("[" + p.Status + "]")
	}
	lines = append(lines, p.row(p.Styles.Title.Render(p.Title)+" "+status, inner))

	for _, sec := range p.Sections {
		label := p.Styles.Label.Render(sec.Label)
		pad := max(0, width-3-lipgloss.Width(label))
		lines = append(lines, bc.Render("├─")+label+bc.Render(strings.Repeat("─", pad)+"┤"))
		for _, text := range sec.Lines {
			lines = append(lines, p.row(text, inner))
		}
	}

	lines = append(lines, bc.Render("╰"+strings.Repeat("─", width-2)+"╯"))
	return strings.Join(lines, "\n")
}

func (p Panel) row(text string, inner int) string {
	if lipgloss.Width(text) > inner {
		text = truncate(text, inner-1) + "…"
	}
	bc := p.Styles.Border
	return bc.Render("│") + " " + text + strings.Repeat(" ", max(0, inner-lipgloss.Width(text))) + " " + bc.Render("│")
}

// truncate cuts s to at most width columns without splitting runes.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	cur := 0
	for i, r := range s {
		w := lipgloss.Width(string(r))
		if cur+w > width {
			return s[:i]
		}
		cur += w
	}
	return s
}
