package main

import "github.com/charmbracelet/lipgloss"

// Terminal styles for human-readable output. lipgloss drops the colors when
// stdout is not a terminal.
var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	})
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	})
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	})
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	})
	boldStyle = lipgloss.NewStyle().Bold(true)
)

// statusStyle picks the style for a run status.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "ok":
		return passStyle
	case "cancelled":
		return warnStyle
	default:
		return failStyle
	}
}
