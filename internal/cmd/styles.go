package cmd

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/agentree/internal/lifecycle"
)

var (
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	greenColor   = lipgloss.Color("#10B981")
	amberColor   = lipgloss.Color("#F59E0B")
	redColor     = lipgloss.Color("#F87171")
	blueColor    = lipgloss.Color("#60A5FA")
	mutedColor   = lipgloss.Color("#9CA3AF")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	labelStyle   = lipgloss.NewStyle().Foreground(mutedColor).Width(12)
	successStyle = lipgloss.NewStyle().Foreground(greenColor)
	warnStyle    = lipgloss.NewStyle().Foreground(amberColor)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(redColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	commandStyle = lipgloss.NewStyle().Foreground(blueColor)
)

// stateStyle colors an agent state by how much attention it needs.
func stateStyle(s lifecycle.State) lipgloss.Style {
	switch s {
	case lifecycle.StateRunning, lifecycle.StateDispatched, lifecycle.StateMerging:
		return lipgloss.NewStyle().Foreground(blueColor)
	case lifecycle.StateCompleted, lifecycle.StateMerged:
		return successStyle
	case lifecycle.StateConflict, lifecycle.StateKilled:
		return warnStyle
	case lifecycle.StateFailed, lifecycle.StateError:
		return lipgloss.NewStyle().Foreground(redColor)
	default:
		return mutedStyle
	}
}

// worktreeStyle colors a worktree state.
func worktreeStyle(w lifecycle.WorktreeState) lipgloss.Style {
	switch w {
	case lifecycle.WorktreeClean:
		return mutedStyle
	case lifecycle.WorktreeCommitted:
		return successStyle
	case lifecycle.WorktreeDirty:
		return warnStyle
	case lifecycle.WorktreeConflict:
		return lipgloss.NewStyle().Foreground(redColor)
	default:
		return mutedStyle
	}
}

// fit truncates s to width terminal columns, keeping any styling intact.
func fit(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "...")
}
