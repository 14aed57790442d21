package ui

import (
	"fmt"
	"strings"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/meeting"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/signaling"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/utils"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// ParticipantTable renders the remote participants using lipgloss/table
type ParticipantTable struct {
	items  []meeting.Participant
	showID bool
}

func NewParticipantTable(items []meeting.Participant) *ParticipantTable {
	return &ParticipantTable{items: items}
}

// ShowIDs adds the connection id column, which host commands take.
func (t *ParticipantTable) ShowIDs() *ParticipantTable {
	t.showID = true
	return t
}

// View renders the table as a string
func (t *ParticipantTable) View() string {
	if len(t.items) == 0 {
		return MutedStyle.Render("Nobody else is here yet")
	}

	headers := []string{"#", "Name", "Mic", "Cam", "Status"}
	if t.showID {
		headers = append(headers, "ID")
	}

	var rows [][]string
	for i, p := range t.items {
		name := utils.TruncateString(utils.DisplayName(p.Name, p.ConnectionID), 24)
		if p.Role == meeting.RoleHost {
			name = IconHost + " " + name
		}
		if p.HandRaised {
			name += " " + IconHand
		}
		row := []string{
			fmt.Sprintf("%d", i+1),
			name,
			onOff(p.AudioEnabled, IconMicOn, IconMicOff),
			onOff(p.VideoEnabled, IconCamOn, IconCamOff),
			string(p.Status),
		}
		if t.showID {
			row = append(row, p.ConnectionID)
		}
		rows = append(rows, row)
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func onOff(on bool, yes, no string) string {
	if on {
		return yes
	}
	return no
}

// SummaryView renders a meeting summary as a plain table for the terminal
// scrollback after the meeting view closed.
func SummaryView(summary signaling.MeetingSummary) string {
	tw := prettytable.NewWriter()
	tw.SetTitle(IconSummary + " Meeting summary")
	tw.SetStyle(prettytable.StyleRounded)
	tw.Style().Title.Align = text.AlignCenter
	tw.SetColumnConfigs([]prettytable.ColumnConfig{
		{Number: 1, WidthMax: 14},
		{Number: 2, WidthMax: 72},
	})

	tw.AppendRow(prettytable.Row{"Summary", summary.Summary})
	if !summary.GeneratedAt.IsZero() {
		tw.AppendRow(prettytable.Row{"Generated", summary.GeneratedAt.Local().Format("2006-01-02 15:04")})
	}
	tw.AppendSeparator()
	tw.AppendRow(prettytable.Row{"Key points", bullets(summary.KeyPoints)})
	tw.AppendSeparator()
	tw.AppendRow(prettytable.Row{"Action items", bullets(summary.ActionItems)})
	return tw.Render()
}

func bullets(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "• " + item
	}
	return strings.Join(lines, "\n")
}

func RenderSummary(summary signaling.MeetingSummary) {
	fmt.Println(SummaryView(summary))
}
