// Package ui implements the terminal chat surface for sidekick.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Adaptive palette: readable on both light and dark terminals.
var (
	accentColor  = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}
	mutedColor   = lipgloss.AdaptiveColor{Light: "#8a8f98", Dark: "#6b7280"}
	errorColor   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#EF5350"}
	successColor = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#81C784"}
	warningColor = lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#FFB74D"}
)

// Styles holds the lipgloss styles used by the chat surface.
type Styles struct {
	Header    lipgloss.Style
	Muted     lipgloss.Style
	UserLabel lipgloss.Style
	BotLabel  lipgloss.Style
	Error     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Spinner   lipgloss.Style
	Prompt    lipgloss.Style
	Context   lipgloss.Style
	Inactive  lipgloss.Style
	Input     lipgloss.Style
}

// DefaultStyles returns the standard sidekick styling.
func DefaultStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(accentColor),
		Muted:     lipgloss.NewStyle().Foreground(mutedColor),
		UserLabel: lipgloss.NewStyle().Bold(true).Foreground(successColor),
		BotLabel:  lipgloss.NewStyle().Bold(true).Foreground(accentColor),
		Error:     lipgloss.NewStyle().Foreground(errorColor),
		Success:   lipgloss.NewStyle().Foreground(successColor),
		Warning:   lipgloss.NewStyle().Foreground(warningColor),
		Spinner:   lipgloss.NewStyle().Foreground(accentColor),
		Prompt:    lipgloss.NewStyle().Foreground(accentColor),
		Context:   lipgloss.NewStyle().Foreground(accentColor),
		Inactive:  lipgloss.NewStyle().Foreground(mutedColor).Strikethrough(true),
		Input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1),
	}
}

// RenderDivider draws a horizontal rule of the given width.
func (s Styles) RenderDivider(width int) string {
	if width <= 0 {
		width = 80
	}
	return s.Muted.Render(strings.Repeat("─", width))
}
