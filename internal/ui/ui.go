// Package ui provides terminal styling helpers for CLI output.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Plain reports whether styling should be suppressed. Respects NO_COLOR and
// dumb terminals.
func Plain() bool {
	return termenv.EnvColorProfile() == termenv.Ascii
}

func render(style lipgloss.Style, s string) string {
	if Plain() {
		return s
	}
	return style.Render(s)
}

// RenderAccent highlights informational markers.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass marks success output.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn marks warnings.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderError marks failures.
func RenderError(s string) string { return render(errorStyle, s) }

// RenderMuted de-emphasizes secondary detail.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// RenderHeader styles section headings.
func RenderHeader(s string) string { return render(headerStyle, s) }
