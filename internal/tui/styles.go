// Package tui provides the shared look of the tascade terminal interfaces.
package tui

import "github.com/charmbracelet/lipgloss"

// Tokyo Night inspired color palette
var (
	ColorFg      = lipgloss.Color("#c0caf5")
	ColorFgMuted = lipgloss.Color("#565f89")
	ColorSuccess = lipgloss.Color("#9ece6a")
	ColorInfo    = lipgloss.Color("#7aa2f7")
	ColorDanger  = lipgloss.Color("#f7768e")
	ColorWarning = lipgloss.Color("#e0af68")
	ColorAccent  = lipgloss.Color("#d4a373")
	ColorReview  = lipgloss.Color("#bb9af7")
)

// StatusColor returns the color for a task status or connection state.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "completed", "connected":
		return ColorSuccess
	case "in_progress", "connecting":
		return ColorInfo
	case "blocked", "cancelled", "disconnected":
		return ColorDanger
	case "pending", "reconnecting":
		return ColorWarning
	case "review":
		return ColorReview
	default:
		return ColorFgMuted
	}
}

// Common styles
var (
	StyleTitle = lipgloss.NewStyle().
			Foreground(ColorFg).
			Bold(true)

	StyleMuted = lipgloss.NewStyle().
			Foreground(ColorFgMuted)

	StyleAccent = lipgloss.NewStyle().
			Foreground(ColorAccent)
)

// StatusStyle returns the style for a status.
func StatusStyle(status string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(StatusColor(status))
}
