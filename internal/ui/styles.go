package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// PolyGo palette
var (
	Primary = lipgloss.Color("#6366F1") // indigo
	Accent  = lipgloss.Color("#EC4899") // pink
	Success = lipgloss.Color("#10B981")
	Warning = lipgloss.Color("#F59E0B")
	Error   = lipgloss.Color("#EF4444")
	Muted   = lipgloss.Color("#6B7280")
	Light   = lipgloss.Color("#F9FAFB")
	Panel   = lipgloss.Color("#1F2937")
)

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

var (
	SuccessStyle = fg(Success).Bold(true)
	ErrorStyle   = fg(Error).Bold(true)
	WarningStyle = fg(Warning)
	MutedStyle   = fg(Muted)
	BoldStyle    = lipgloss.NewStyle().Bold(true)
	SpinnerStyle = fg(Primary)

	// SubtitleStyle marks secondary state such as an active transcription.
	SubtitleStyle = fg(Accent).Italic(true)

	// StatusStyle is the room state badge.
	StatusStyle = lipgloss.NewStyle().Foreground(Light).Background(Primary).Padding(0, 1).Bold(true)

	// CaptionStyle is one line of the caption overlay.
	CaptionStyle = lipgloss.NewStyle().Foreground(Light).Background(Panel).Padding(0, 1)

	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(Primary).Background(Panel).Padding(0, 2).MarginBottom(1)
	FooterStyle = MutedStyle.MarginTop(1)

	// WarningBoxStyle frames the end-of-meeting warning.
	WarningBoxStyle = lipgloss.NewStyle().Border(lipgloss.ThickBorder()).BorderForeground(Warning).Padding(0, 1)
)

// Participant table cells
var (
	TableHeaderStyle = fg(Primary).Bold(true).Align(lipgloss.Center)
	TableRowStyle    = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("255"))
	TableRowAltStyle = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("245"))
)

const (
	IconSuccess  = "✅"
	IconError    = "❌"
	IconWarning  = "⚠️"
	IconInfo     = "ℹ️"
	IconRoom     = "🚪"
	IconHost     = "👑"
	IconConnect  = "🔌"
	IconMicOn    = "🎙️"
	IconMicOff   = "🔇"
	IconCamOn    = "📷"
	IconCamOff   = "🚫"
	IconHand     = "✋"
	IconChat     = "💬"
	IconCaptions = "📝"
	IconTime     = "⏱️"
	IconSummary  = "📋"
)

func PrintError(msg string) {
	fmt.Printf("%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

func PrintSuccess(msg string) {
	fmt.Printf("%s %s\n", SuccessStyle.Render(IconSuccess), msg)
}

func PrintSuccessf(format string, args ...any) {
	PrintSuccess(fmt.Sprintf(format, args...))
}

func PrintInfo(msg string) {
	fmt.Printf("%s %s\n", IconInfo, msg)
}

func PrintInfof(format string, args ...any) {
	PrintInfo(fmt.Sprintf(format, args...))
}
