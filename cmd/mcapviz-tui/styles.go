package main

import "github.com/charmbracelet/lipgloss"

const (
	bgDefault = "#1e1e1e"
	bgBorder  = "#3c3c3c"

	fgDefault = "#cccccc"
	fgBright  = "#ffffff"
	fgDim     = "#808080"

	colorPlaying = "#4ec9b0"
	colorPaused  = "#dcdcaa"
	colorError   = "#f48771"
	colorAccent  = "#4fc1ff"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorAccent))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(fgBright))

	playingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorPlaying)).
			Bold(true)

	pausedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorPaused))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorError)).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(fgDim))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(bgBorder)).
			Padding(0, 1)

	scrubFilledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent))
	scrubEmptyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(bgBorder))
)
