package cmd

import "github.com/charmbracelet/lipgloss"

var (
	headerColor  = lipgloss.Color("#F780FF") // Bright pink
	mutedColor   = lipgloss.Color("#6272A4") // Muted purple
	warnColor    = lipgloss.Color("#F1FA8C") // Yellow
	errorColor   = lipgloss.Color("#FF5555") // Red
	successColor = lipgloss.Color("#50FA7B") // Green
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(headerColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(warnColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(successColor)
)
