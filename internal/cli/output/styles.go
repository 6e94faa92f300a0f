package output

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const (
	symbolSuccess = "✓"
	symbolFailed  = "✗"
	symbolSkipped = "○"
	symbolRunning = "•"
)

// Styles are the lipgloss styles used in text mode.
type Styles struct {
	Header1   lipgloss.Style
	Header2   lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Info      lipgloss.Style
	ModelPath lipgloss.Style

	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusSkipped lipgloss.Style
	StatusRunning lipgloss.Style
}

// NewStyles builds styles bound to w. Colors are disabled when w is not a
// terminal.
func NewStyles(w io.Writer, tty bool) *Styles {
	lr := lipgloss.NewRenderer(w)
	if !tty {
		lr.SetColorProfile(termenv.Ascii)
	}

	return &Styles{
		Header1:   lr.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Header2:   lr.NewStyle().Bold(true),
		Bold:      lr.NewStyle().Bold(true),
		Muted:     lr.NewStyle().Foreground(lipgloss.Color("8")),
		Success:   lr.NewStyle().Foreground(lipgloss.Color("10")),
		Warning:   lr.NewStyle().Foreground(lipgloss.Color("11")),
		Error:     lr.NewStyle().Foreground(lipgloss.Color("9")),
		Info:      lr.NewStyle().Foreground(lipgloss.Color("14")),
		ModelPath: lr.NewStyle().Foreground(lipgloss.Color("6")),

		StatusSuccess: lr.NewStyle().Foreground(lipgloss.Color("10")).SetString(symbolSuccess),
		StatusFailed:  lr.NewStyle().Foreground(lipgloss.Color("9")).SetString(symbolFailed),
		StatusSkipped: lr.NewStyle().Foreground(lipgloss.Color("8")).SetString(symbolSkipped),
		StatusRunning: lr.NewStyle().Foreground(lipgloss.Color("11")).SetString(symbolRunning),
	}
}

// Status renders the icon for a run or asset status.
func (s *Styles) Status(status string) string {
	switch status {
	case "success", "completed":
		return s.StatusSuccess.String()
	case "failed":
		return s.StatusFailed.String()
	case "skipped":
		return s.StatusSkipped.String()
	default:
		return s.StatusRunning.String()
	}
}

// StatusSymbol returns the plain icon for a status.
func StatusSymbol(status string) string {
	switch status {
	case "success", "completed":
		return symbolSuccess
	case "failed":
		return symbolFailed
	case "skipped":
		return symbolSkipped
	default:
		return symbolRunning
	}
}
