package output

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorScheme defines the colors used for the summary.
type ColorScheme struct {
	Title *color.Color
	Label *color.Color
	Value *color.Color
	Good  *color.Color
	Warn  *color.Color
	Bad   *color.Color
	Dim   *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	s := &ColorScheme{
		Title: color.New(color.FgCyan, color.Bold),
		Label: color.New(color.Bold),
		Value: color.New(color.FgCyan),
		Good:  color.New(color.FgGreen),
		Warn:  color.New(color.FgYellow),
		Bad:   color.New(color.FgRed, color.Bold),
		Dim:   color.New(color.Faint),
	}
	// The writer, not the process stdout, decides whether color is used.
	for _, c := range s.all() {
		c.EnableColor()
	}
	return s
}

// NoColorScheme returns a color scheme with all colors disabled.
func NoColorScheme() *ColorScheme {
	s := DefaultColorScheme()
	for _, c := range s.all() {
		c.DisableColor()
	}
	return s
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Label, s.Value, s.Good, s.Warn, s.Bad, s.Dim}
}

// rate picks a color for a failure fraction.
func (s *ColorScheme) rate(failure float64) *color.Color {
	switch {
	case failure > 0.05:
		return s.Bad
	case failure > 0.01:
		return s.Warn
	default:
		return s.Good
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// useColor decides whether to color output written to w.
func useColor(w io.Writer, noColor, forceColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	if forceColor || os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if term := os.Getenv("TERM"); term == "dumb" {
		return false
	}
	return IsTerminal(w)
}
