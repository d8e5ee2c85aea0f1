package style

import (
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

// --- Reusable Colors ---
var (
	colorPink     = lipgloss.Color("205")
	colorDarkGray = lipgloss.Color("240")
	colorCyan     = lipgloss.Color("212")
	colorPurple   = lipgloss.Color("99")
	colorRed      = lipgloss.Color("196")
	colorGreen    = lipgloss.Color("42")
	colorYellow   = lipgloss.Color("214")
)

// --- General Purpose Styles ---
var (
	ErrorStyle   = lipgloss.NewStyle().Foreground(colorRed)
	SuccessStyle = lipgloss.NewStyle().Foreground(colorGreen)
	WarningStyle = lipgloss.NewStyle().Foreground(colorYellow)
	HelpStyle    = lipgloss.NewStyle().Faint(true)
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPink)
)

// --- Transfer Styles ---
var (
	BaseStyle          = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(colorDarkGray).Padding(0, 1)
	HighlightFontStyle = lipgloss.NewStyle().Foreground(colorCyan)
	MutedStyle         = lipgloss.NewStyle().Foreground(colorDarkGray)
)

// --- File Picker Styles ---
var (
	CursorStyle   = lipgloss.NewStyle().Foreground(colorCyan).SetString("> ")
	NoCursorStyle = lipgloss.NewStyle().SetString("  ")
	DirStyle      = lipgloss.NewStyle().Foreground(colorPurple)
	HeaderStyle   = lipgloss.NewStyle().Bold(true)
)

// --- Common Components ---

// NewSpinner creates a spinner with a consistent style.
func NewSpinner() spinner.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorPink)
	return s
}

// NewProgress creates a progress bar in the application's colors.
func NewProgress(width int) progress.Model {
	p := progress.New(
		progress.WithGradient(string(colorPurple), string(colorPink)),
		progress.WithWidth(width),
	)
	return p
}

// StateStyle picks the style for a connection state label.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "ready":
		return SuccessStyle
	case "error":
		return ErrorStyle
	case "establishing", "closing":
		return WarningStyle
	default:
		return MutedStyle
	}
}
