// Package cli provides shared output utilities for the tascade commands.
package cli

import (
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	colorsOnce    sync.Once
	colorsEnabled bool
)

// ColorsEnabled returns true if stdout is a terminal and NO_COLOR is unset.
func ColorsEnabled() bool {
	colorsOnce.Do(func() {
		colorsEnabled = term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""
	})
	return colorsEnabled
}

// ForceColors enables or disables colors regardless of terminal detection.
func ForceColors(enabled bool) {
	colorsOnce.Do(func() {})
	colorsEnabled = enabled
}

// TerminalWidth returns the width of stdout, or fallback when it is not a terminal.
func TerminalWidth(fallback int) int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}

var (
	colorRed     = lipgloss.Color("#f7768e")
	colorGreen   = lipgloss.Color("#9ece6a")
	colorYellow  = lipgloss.Color("#e0af68")
	colorBlue    = lipgloss.Color("#7aa2f7")
	colorMagenta = lipgloss.Color("#bb9af7")
	colorCyan    = lipgloss.Color("#7dcfff")
	colorGray    = lipgloss.Color("#565f89")
)

// Styled renders text with style only if colors are enabled.
func Styled(text string, style lipgloss.Style) string {
	if !ColorsEnabled() {
		return text
	}
	return style.Render(text)
}

func Bolden(text string) string { return Styled(text, lipgloss.NewStyle().Bold(true)) }
func Dimmed(text string) string { return Styled(text, lipgloss.NewStyle().Faint(true)) }

func RedText(text string) string    { return Styled(text, lipgloss.NewStyle().Foreground(colorRed)) }
func GreenText(text string) string  { return Styled(text, lipgloss.NewStyle().Foreground(colorGreen)) }
func YellowText(text string) string { return Styled(text, lipgloss.NewStyle().Foreground(colorYellow)) }
func CyanText(text string) string   { return Styled(text, lipgloss.NewStyle().Foreground(colorCyan)) }
func GrayText(text string) string   { return Styled(text, lipgloss.NewStyle().Foreground(colorGray)) }

func BoldCyan(text string) string {
	return Styled(text, lipgloss.NewStyle().Bold(true).Foreground(colorCyan))
}

// StatusColor returns the color for a task status.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "in_progress":
		return colorBlue
	case "completed":
		return colorGreen
	case "blocked", "cancelled":
		return colorRed
	case "review":
		return colorMagenta
	case "deferred":
		return colorGray
	default:
		return colorYellow
	}
}

// StatusText renders a status with its icon and color.
func StatusText(status string) string {
	icon, ok := StatusIcons[status]
	if !ok {
		icon = Circle
	}
	return Styled(icon+" "+status, lipgloss.NewStyle().Foreground(StatusColor(status)))
}

// PriorityText renders a priority with its color.
func PriorityText(priority string) string {
	switch priority {
	case "high":
		return RedText(priority)
	case "low":
		return GrayText(priority)
	default:
		return priority
	}
}
