package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/meeting"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/utils"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Actions is what the meeting view drives. *meeting.Session implements it.
type Actions interface {
	ToggleAudio(ctx context.Context) (bool, error)
	ToggleVideo(ctx context.Context) (bool, error)
	RaiseHand(ctx context.Context) error
	LowerHand(ctx context.Context) error
	SendChatMessage(ctx context.Context, text string) error
	StartTranscription(ctx context.Context) error
	StopTranscription()
	SetCaptions(enabled bool, targetLanguage string)
	LowerAllHands(ctx context.Context) error
	ToggleParticipantMic(ctx context.Context, connectionID string, enabled bool) error
	ToggleParticipantCam(ctx context.Context, connectionID string, enabled bool) error
	KickUser(ctx context.Context, connectionID string) error
	EndRoom(ctx context.Context) error
	RequestMeetingSummary(ctx context.Context) error
	Snapshot() meeting.Snapshot
}

const (
	actionTimeout = 10 * time.Second
	maxNotices    = 4
	maxChatLines  = 8
)

type refreshMsg struct{}

type noticeMsg meeting.Notice

type actionResultMsg struct {
	op  string
	err error
}

// MeetingUI runs the interactive meeting view until the user leaves or the
// meeting ends.
type MeetingUI struct {
	model   *meetingModel
	refresh chan struct{}
	notices chan meeting.Notice
	done    chan struct{}
}

// NewMeetingUI creates the view. language is the caption target language.
func NewMeetingUI(actions Actions, language string) *MeetingUI {
	refresh := make(chan struct{}, 1)
	notices := make(chan meeting.Notice, 32)
	done := make(chan struct{})
	return &MeetingUI{
		model:   newMeetingModel(actions, language, refresh, notices, done),
		refresh: refresh,
		notices: notices,
		done:    done,
	}
}

// Refresh asks the view to redraw from a new snapshot. It never blocks.
func (ui *MeetingUI) Refresh() {
	select {
	case ui.refresh <- struct{}{}:
	default:
	}
}

// Notice shows a short message in the view. Notices are dropped when the
// view is far behind.
func (ui *MeetingUI) Notice(n meeting.Notice) {
	select {
	case ui.notices <- n:
	default:
	}
}

// Run blocks until the user quits, the meeting ends or ctx is cancelled.
func (ui *MeetingUI) Run(ctx context.Context) error {
	defer close(ui.done)
	program := tea.NewProgram(ui.model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("meeting view: %w", err)
	}
	return nil
}

type meetingModel struct {
	actions  Actions
	language string
	refresh  <-chan struct{}
	notices  <-chan meeting.Notice
	done     <-chan struct{}

	snap      meeting.Snapshot
	log       []meeting.Notice
	input     textinput.Model
	spinner   spinner.Model
	startedAt time.Time
	width     int
	quitting  bool
}

func newMeetingModel(actions Actions, language string, refresh <-chan struct{}, notices <-chan meeting.Notice, done <-chan struct{}) *meetingModel {
	in := textinput.New()
	in.Placeholder = "Message, or /help"
	in.Prompt = IconChat + " "
	in.CharLimit = 500

	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = SpinnerStyle

	return &meetingModel{
		actions:   actions,
		language:  language,
		refresh:   refresh,
		notices:   notices,
		done:      done,
		snap:      actions.Snapshot(),
		input:     in,
		spinner:   s,
		startedAt: time.Now(),
	}
}

func (m *meetingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

func (m *meetingModel) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.refresh:
			return refreshMsg{}
		case n := <-m.notices:
			return noticeMsg(n)
		case <-m.done:
			return nil
		}
	}
}

func (m *meetingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(20, msg.Width-8)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case refreshMsg:
		m.snap = m.actions.Snapshot()
		if m.snap.State == meeting.Left {
			m.quitting = true
			return m, tea.Quit
		}
		return m, m.listen()

	case noticeMsg:
		m.addNotice(meeting.Notice(msg))
		return m, m.listen()

	case actionResultMsg:
		if msg.err != nil {
			m.addNotice(meeting.Notice{Level: meeting.NoticeError, Message: msg.err.Error(), At: time.Now()})
		}
		m.snap = m.actions.Snapshot()
	}
	return m, nil
}

func (m *meetingModel) handleKey(key tea.KeyMsg) tea.Cmd {
	if key.Type == tea.KeyCtrlC {
		m.quitting = true
		return tea.Quit
	}

	if m.input.Focused() {
		switch key.Type {
		case tea.KeyEsc:
			m.input.Blur()
			return nil
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			return m.submit(line)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(key)
		return cmd
	}

	switch key.String() {
	case "q":
		m.quitting = true
		return tea.Quit
	case "m":
		return m.do("toggle microphone", func(ctx context.Context) error {
			_, err := m.actions.ToggleAudio(ctx)
			return err
		})
	case "v":
		return m.do("toggle camera", func(ctx context.Context) error {
			_, err := m.actions.ToggleVideo(ctx)
			return err
		})
	case "h":
		if m.snap.HandRaised {
			return m.do("lower hand", m.actions.LowerHand)
		}
		return m.do("raise hand", m.actions.RaiseHand)
	case "c":
		enabled := !m.snap.Captions
		m.actions.SetCaptions(enabled, m.language)
		m.snap = m.actions.Snapshot()
		return nil
	case "t":
		if m.snap.Transcribing {
			m.actions.StopTranscription()
			m.snap = m.actions.Snapshot()
			return nil
		}
		return m.do("start transcription", m.actions.StartTranscription)
	case "s":
		return m.do("request summary", m.actions.RequestMeetingSummary)
	case "enter", "/", "i":
		m.input.Focus()
		if key.String() == "/" {
			m.input.SetValue("/")
			m.input.CursorEnd()
		}
		return textinput.Blink
	}
	return nil
}

func (m *meetingModel) submit(line string) tea.Cmd {
	cmd, err := ParseCommand(line)
	if errors.Is(err, errEmptyInput) {
		return nil
	}
	if err != nil {
		m.addNotice(meeting.Notice{Level: meeting.NoticeWarn, Message: err.Error(), At: time.Now()})
		return nil
	}

	switch cmd.Kind {
	case CommandChat:
		return m.do("send chat message", func(ctx context.Context) error {
			return m.actions.SendChatMessage(ctx, cmd.Arg)
		})
	case CommandHelp:
		m.addNotice(meeting.Notice{Level: meeting.NoticeInfo, Message: commandHelp, At: time.Now()})
		return nil
	case CommandLowerAll:
		return m.do("lower all hands", m.actions.LowerAllHands)
	case CommandEnd:
		return m.do("end meeting", m.actions.EndRoom)
	case CommandSummary:
		return m.do("request summary", m.actions.RequestMeetingSummary)
	case CommandCaptions:
		lang := m.language
		if cmd.Arg != "" {
			lang = cmd.Arg
		}
		m.language = lang
		m.actions.SetCaptions(true, lang)
		m.snap = m.actions.Snapshot()
		return nil
	}

	target, err := ResolveParticipant(m.snap.Participants, cmd.Arg)
	if err != nil {
		m.addNotice(meeting.Notice{Level: meeting.NoticeWarn, Message: err.Error(), At: time.Now()})
		return nil
	}
	id := target.ConnectionID
	switch cmd.Kind {
	case CommandKick:
		return m.do("kick participant", func(ctx context.Context) error { return m.actions.KickUser(ctx, id) })
	case CommandMute, CommandUnmute:
		on := cmd.Kind == CommandUnmute
		return m.do("toggle participant microphone", func(ctx context.Context) error {
			return m.actions.ToggleParticipantMic(ctx, id, on)
		})
	case CommandCamOff, CommandCamOn:
		on := cmd.Kind == CommandCamOn
		return m.do("toggle participant camera", func(ctx context.Context) error {
			return m.actions.ToggleParticipantCam(ctx, id, on)
		})
	}
	return nil
}

// do runs a session call off the UI goroutine and reports the outcome.
func (m *meetingModel) do(op string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionResultMsg{op: op, err: fn(ctx)}
	}
}

func (m *meetingModel) addNotice(n meeting.Notice) {
	m.log = append(m.log, n)
	if len(m.log) > maxNotices {
		m.log = m.log[len(m.log)-maxNotices:]
	}
}

func (m *meetingModel) View() string {
	if m.quitting {
		return ""
	}
	snap := m.snap
	var b strings.Builder

	title := fmt.Sprintf("%s %s", IconRoom, snap.EventID)
	if snap.IsHost {
		title += " " + IconHost
	}
	b.WriteString(HeaderStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	if snap.EndWarning != "" {
		b.WriteString(WarningBoxStyle.Render(IconTime + " " + snap.EndWarning))
		b.WriteString("\n\n")
	}

	table := NewParticipantTable(snap.Participants)
	if snap.IsHost {
		table.ShowIDs()
	}
	b.WriteString(table.View())
	b.WriteString("\n\n")

	if snap.Captions {
		for _, t := range snap.Overlay {
			line := fmt.Sprintf("%s: %s", utils.DisplayName(t.SenderName, t.SpeakerID), t.Text())
			b.WriteString(CaptionStyle.Render(IconCaptions + " " + line))
			b.WriteString("\n")
		}
	}

	chat := snap.Chat
	if len(chat) > maxChatLines {
		chat = chat[len(chat)-maxChatLines:]
	}
	for _, c := range chat {
		sender := utils.DisplayName(c.SenderName, c.SenderID)
		if c.SenderID == snap.LocalID {
			sender = "you"
		}
		fmt.Fprintf(&b, "%s %s %s\n",
			MutedStyle.Render(c.Timestamp.Local().Format("15:04")),
			BoldStyle.Render(sender+":"),
			c.Message)
	}

	switch {
	case snap.SummaryGenerating:
		fmt.Fprintf(&b, "%s Generating meeting summary\n", m.spinner.View())
	case snap.SummaryError != "":
		b.WriteString(ErrorStyle.Render("Summary failed: "+snap.SummaryError) + "\n")
	case snap.Summary != nil:
		b.WriteString(SuccessStyle.Render(IconSummary+" Summary ready, shown when you leave") + "\n")
	}

	for _, n := range m.log {
		b.WriteString(renderNotice(n))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString(FooterStyle.Render(m.help()))
	return b.String()
}

func (m *meetingModel) statusLine() string {
	snap := m.snap
	conn := SuccessStyle.Render(IconConnect + " connected")
	if !snap.Connected {
		conn = WarningStyle.Render(m.spinner.View() + " reconnecting")
	}

	parts := []string{
		StatusStyle.Render(snap.State.String()),
		conn,
		MutedStyle.Render(IconTime + " " + utils.FormatTimeDuration(time.Since(m.startedAt))),
	}
	if !snap.Media.HasStream {
		parts = append(parts, MutedStyle.Render("no devices"))
	} else {
		parts = append(parts,
			onOff(snap.Media.AudioEnabled, IconMicOn, IconMicOff),
			onOff(snap.Media.VideoEnabled, IconCamOn, IconCamOff))
	}
	if snap.HandRaised {
		parts = append(parts, IconHand)
	}
	if snap.Transcribing {
		parts = append(parts, SubtitleStyle.Render("transcribing"))
	}
	return strings.Join(parts, "  ")
}

func (m *meetingModel) help() string {
	if m.input.Focused() {
		return "\nenter send • esc controls • ctrl+c leave"
	}
	return "\nm mic • v camera • h hand • c captions • t transcribe • s summary • enter chat • q leave"
}

func renderNotice(n meeting.Notice) string {
	switch n.Level {
	case meeting.NoticeError:
		return ErrorStyle.Render(IconError + " " + n.Message)
	case meeting.NoticeWarn:
		return WarningStyle.Render(IconWarning + " " + n.Message)
	default:
		return MutedStyle.Render(IconInfo + " " + n.Message)
	}
}
