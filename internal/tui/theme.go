// Package tui provides the interactive prompts and terminal styles.
package tui

import (
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// Palette is the campus color set.
type Palette struct {
	Primary lipgloss.AdaptiveColor
	Success lipgloss.AdaptiveColor
	Error   lipgloss.AdaptiveColor
	Muted   lipgloss.AdaptiveColor
}

// DefaultPalette returns the campus colors.
func DefaultPalette() Palette {
	return Palette{
		Primary: lipgloss.AdaptiveColor{Light: "#047857", Dark: "#10b981"},
		Success: lipgloss.AdaptiveColor{Light: "#1e8e3e", Dark: "#81c995"},
		Error:   lipgloss.AdaptiveColor{Light: "#d93025", Dark: "#f28b82"},
		Muted:   lipgloss.AdaptiveColor{Light: "#80868b", Dark: "#6e7681"},
	}
}

// NoColorPalette returns empty colors. Lipgloss renders them as plain text.
func NoColorPalette() Palette {
	empty := lipgloss.AdaptiveColor{}
	return Palette{Primary: empty, Success: empty, Error: empty, Muted: empty}
}

// ResolvePalette honors NO_COLOR.
func ResolvePalette() Palette {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return NoColorPalette()
	}
	return DefaultPalette()
}

// Theme returns the form theme for the resolved palette.
func Theme() *huh.Theme {
	p := ResolvePalette()
	t := huh.ThemeBase()

	t.Focused.Base = t.Focused.Base.BorderForeground(p.Primary)
	t.Focused.Title = t.Focused.Title.Foreground(p.Primary).Bold(true)
	t.Focused.NoteTitle = t.Focused.NoteTitle.Foreground(p.Primary).Bold(true)
	t.Focused.Description = t.Focused.Description.Foreground(p.Muted)
	t.Focused.ErrorIndicator = t.Focused.ErrorIndicator.Foreground(p.Error)
	t.Focused.ErrorMessage = t.Focused.ErrorMessage.Foreground(p.Error)
	t.Focused.FocusedButton = t.Focused.FocusedButton.Background(p.Primary)

	t.Blurred = t.Focused
	t.Blurred.Base = t.Blurred.Base.BorderStyle(lipgloss.HiddenBorder())
	return t
}

// Styles are the status line styles used outside of forms.
type Styles struct {
	OK    lipgloss.Style
	Error lipgloss.Style
	Muted lipgloss.Style
}

// NewStyles builds styles from p.
func NewStyles(p Palette) *Styles {
	return &Styles{
		OK:    lipgloss.NewStyle().Foreground(p.Success).Bold(true),
		Error: lipgloss.NewStyle().Foreground(p.Error).Bold(true),
		Muted: lipgloss.NewStyle().Foreground(p.Muted),
	}
}

// RenderStatus renders a check or cross followed by message.
func (s *Styles) RenderStatus(ok bool, message string) string {
	if ok {
		return s.OK.Render("✓ " + message)
	}
	return s.Error.Render("✗ " + message)
}
