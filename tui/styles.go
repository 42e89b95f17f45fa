package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/vpn-dialer/vpn"
)

var (
	colorMuted      = lipgloss.Color("245")
	colorConnecting = lipgloss.Color("214")
	colorConnected  = lipgloss.Color("42")
	colorError      = lipgloss.Color("196")

	titleStyle = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	labelStyle = lipgloss.NewStyle().Foreground(colorMuted).Width(10)
	errorStyle = lipgloss.NewStyle().Foreground(colorError)
	noteStyle  = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)

	buttonStyle = lipgloss.NewStyle().
			Padding(0, 2).
			Border(lipgloss.RoundedBorder()).
			Bold(true)
	buttonDisabledStyle = buttonStyle.
				Bold(false).
				Foreground(colorMuted).
				BorderForeground(colorMuted)

	frameStyle = lipgloss.NewStyle().Padding(1, 2)
)

// stateStyle colours the state line by visual variant.
func stateStyle(v vpn.Visual) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch v {
	case vpn.VisualConnected:
		return base.Foreground(colorConnected)
	case vpn.VisualConnecting:
		return base.Foreground(colorConnecting)
	default:
		return base.Foreground(colorMuted)
	}
}

// stateGlyph is shown before the state label when no operation is running.
func stateGlyph(v vpn.Visual) string {
	if v == vpn.VisualConnected {
		return "●"
	}
	return "○"
}
