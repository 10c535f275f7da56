package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#7aa2f7")
	colorDim     = lipgloss.Color("#565f89")
	colorBorder  = lipgloss.Color("#3b4261")
	colorWarn    = lipgloss.Color("#e0af68")
	colorError   = lipgloss.Color("#f7768e")
	colorHigh    = lipgloss.Color("#f7768e")
	colorLow     = lipgloss.Color("#9ece6a")
)

type styles struct {
	Title        lipgloss.Style
	Banner       lipgloss.Style
	Error        lipgloss.Style
	Notice       lipgloss.Style
	Column       lipgloss.Style
	ColumnActive lipgloss.Style
	ColumnTitle  lipgloss.Style
	Task         lipgloss.Style
	TaskSelected lipgloss.Style
	Muted        lipgloss.Style
	PriorityHigh lipgloss.Style
	PriorityLow  lipgloss.Style
	HelpKey      lipgloss.Style
	HelpDesc     lipgloss.Style
}

func newStyles() styles {
	return styles{
		Title: lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true),
		Banner: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1a1b26")).
			Background(colorWarn).
			Padding(0, 1).
			Bold(true),
		Error: lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true),
		Notice: lipgloss.NewStyle().
			Foreground(colorWarn),
		Column: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1),
		ColumnActive: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 1),
		ColumnTitle: lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true).
			MarginBottom(1),
		Task: lipgloss.NewStyle(),
		TaskSelected: lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true),
		Muted: lipgloss.NewStyle().
			Foreground(colorDim),
		PriorityHigh: lipgloss.NewStyle().
			Foreground(colorHigh),
		PriorityLow: lipgloss.NewStyle().
			Foreground(colorLow),
		HelpKey: lipgloss.NewStyle().
			Foreground(colorPrimary),
		HelpDesc: lipgloss.NewStyle().
			Foreground(colorDim),
	}
}
