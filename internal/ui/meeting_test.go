package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/media"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/meeting"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/signaling"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

type fakeActions struct {
	mu    sync.Mutex
	calls []string
	snap  meeting.Snapshot
	err   error
}

func (f *fakeActions) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeActions) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeActions) ToggleAudio(context.Context) (bool, error) {
	return true, f.record("ToggleAudio")
}

func (f *fakeActions) ToggleVideo(context.Context) (bool, error) {
	return true, f.record("ToggleVideo")
}

func (f *fakeActions) RaiseHand(context.Context) error { return f.record("RaiseHand") }
func (f *fakeActions) LowerHand(context.Context) error { return f.record("LowerHand") }

func (f *fakeActions) SendChatMessage(_ context.Context, text string) error {
	return f.record("SendChatMessage " + text)
}

func (f *fakeActions) StartTranscription(context.Context) error {
	return f.record("StartTranscription")
}

func (f *fakeActions) StopTranscription() { f.record("StopTranscription") }

func (f *fakeActions) SetCaptions(enabled bool, lang string) {
	f.record("SetCaptions " + map[bool]string{true: "on", false: "off"}[enabled] + " " + lang)
	f.mu.Lock()
	f.snap.Captions = enabled
	f.mu.Unlock()
}

func (f *fakeActions) LowerAllHands(context.Context) error { return f.record("LowerAllHands") }

func (f *fakeActions) ToggleParticipantMic(_ context.Context, id string, on bool) error {
	if on {
		return f.record("ToggleParticipantMic " + id + " on")
	}
	return f.record("ToggleParticipantMic " + id + " off")
}

func (f *fakeActions) ToggleParticipantCam(_ context.Context, id string, on bool) error {
	if on {
		return f.record("ToggleParticipantCam " + id + " on")
	}
	return f.record("ToggleParticipantCam " + id + " off")
}

func (f *fakeActions) KickUser(_ context.Context, id string) error { return f.record("KickUser " + id) }
func (f *fakeActions) EndRoom(context.Context) error               { return f.record("EndRoom") }

func (f *fakeActions) RequestMeetingSummary(context.Context) error {
	return f.record("RequestMeetingSummary")
}

func (f *fakeActions) Snapshot() meeting.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func newTestModel(actions *fakeActions) *meetingModel {
	return newMeetingModel(actions, "vi", make(chan struct{}, 1), make(chan meeting.Notice, 4), make(chan struct{}))
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and runs the resulting action, feeding its result back.
func press(m *meetingModel, key tea.KeyMsg) tea.Cmd {
	_, cmd := m.Update(key)
	if cmd == nil {
		return nil
	}
	if res, ok := cmd().(actionResultMsg); ok {
		m.Update(res)
	}
	return cmd
}

func testParticipants() []meeting.Participant {
	return []meeting.Participant{
		{ConnectionID: "c-1", Name: "Bob", Role: meeting.RoleAttendee, Status: meeting.StatusConnected, AudioEnabled: true},
		{ConnectionID: "c-2", Name: "Lan", Role: meeting.RoleAttendee, Status: meeting.StatusConnecting, HandRaised: true},
		{ConnectionID: "c-3", Name: "lan", Role: meeting.RoleAttendee, Status: meeting.StatusConnected},
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    Command
		wantErr bool
	}{
		{line: "hello there", want: Command{Kind: CommandChat, Arg: "hello there"}},
		{line: "  /KICK  Bob ", want: Command{Kind: CommandKick, Arg: "Bob"}},
		{line: "/mute c-1", want: Command{Kind: CommandMute, Arg: "c-1"}},
		{line: "/unmute c-1", want: Command{Kind: CommandUnmute, Arg: "c-1"}},
		{line: "/camoff Lan", want: Command{Kind: CommandCamOff, Arg: "Lan"}},
		{line: "/lowerall", want: Command{Kind: CommandLowerAll}},
		{line: "/captions ja", want: Command{Kind: CommandCaptions, Arg: "ja"}},
		{line: "//not a command", want: Command{Kind: CommandChat, Arg: "/not a command"}},
		{line: "/kick", wantErr: true},
		{line: "/dance", wantErr: true},
		{line: "   ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCommand(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestResolveParticipant(t *testing.T) {
	ps := testParticipants()

	if p, err := ResolveParticipant(ps, "c-3"); err != nil || p.ConnectionID != "c-3" {
		t.Errorf("by id = %+v, %v", p, err)
	}
	if p, err := ResolveParticipant(ps, "bob"); err != nil || p.ConnectionID != "c-1" {
		t.Errorf("by name = %+v, %v", p, err)
	}
	if _, err := ResolveParticipant(ps, "LAN"); err == nil {
		t.Error("ambiguous name resolved")
	}
	if _, err := ResolveParticipant(ps, "nobody"); err == nil {
		t.Error("unknown name resolved")
	}
}

func TestControlKeys(t *testing.T) {
	actions := &fakeActions{snap: meeting.Snapshot{State: meeting.InCall}}
	m := newTestModel(actions)

	press(m, runes("m"))
	press(m, runes("v"))
	press(m, runes("h"))
	press(m, runes("t"))
	press(m, runes("c"))
	press(m, runes("s"))

	want := []string{
		"ToggleAudio",
		"ToggleVideo",
		"RaiseHand",
		"StartTranscription",
		"SetCaptions on vi",
		"RequestMeetingSummary",
	}
	if got := actions.called(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", got, want)
	}

	actions.mu.Lock()
	actions.snap.HandRaised = true
	actions.snap.Transcribing = true
	actions.mu.Unlock()
	m.Update(refreshMsg{})

	press(m, runes("h"))
	press(m, runes("t"))
	got := actions.called()
	if got[len(got)-2] != "LowerHand" || got[len(got)-1] != "StopTranscription" {
		t.Errorf("calls = %v, want LowerHand then StopTranscription", got)
	}
}

func TestChatInputAndHostCommands(t *testing.T) {
	actions := &fakeActions{snap: meeting.Snapshot{
		State:        meeting.InCall,
		IsHost:       true,
		Participants: testParticipants(),
	}}
	m := newTestModel(actions)

	submit := func(line string) {
		t.Helper()
		if !m.input.Focused() {
			press(m, tea.KeyMsg{Type: tea.KeyEnter})
		}
		m.input.SetValue(line)
		press(m, tea.KeyMsg{Type: tea.KeyEnter})
		if m.input.Value() != "" {
			t.Errorf("input not cleared after %q", line)
		}
	}

	submit("hello everyone")
	submit("/kick Bob")
	submit("/mute c-2")
	submit("/camon c-3")
	submit("/lowerall")
	submit("/captions ja")
	submit("/end")

	want := []string{
		"SendChatMessage hello everyone",
		"KickUser c-1",
		"ToggleParticipantMic c-2 off",
		"ToggleParticipantCam c-3 on",
		"LowerAllHands",
		"SetCaptions on ja",
		"EndRoom",
	}
	if got := actions.called(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", got, want)
	}

	// Letters typed into the input are text, not controls.
	m.Update(runes("m"))
	if got := actions.called(); len(got) != len(want) {
		t.Errorf("typing triggered a control: %v", got[len(want):])
	}
	if m.input.Value() != "m" {
		t.Errorf("input = %q, want %q", m.input.Value(), "m")
	}

	press(m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.input.Focused() {
		t.Error("esc did not leave the input")
	}
}

func TestUnknownTargetAndFailuresBecomeNotices(t *testing.T) {
	actions := &fakeActions{
		snap: meeting.Snapshot{State: meeting.InCall, IsHost: true, Participants: testParticipants()},
		err:  errors.New("only the host can do this"),
	}
	m := newTestModel(actions)
	m.input.Focus()

	m.input.SetValue("/kick Lan")
	press(m, tea.KeyMsg{Type: tea.KeyEnter})
	if len(actions.called()) != 0 {
		t.Fatalf("ambiguous target was kicked: %v", actions.called())
	}

	m.input.SetValue("/lowerall")
	press(m, tea.KeyMsg{Type: tea.KeyEnter})

	if len(m.log) != 2 {
		t.Fatalf("notices = %+v, want 2", m.log)
	}
	if m.log[0].Level != meeting.NoticeWarn {
		t.Errorf("target notice level = %v", m.log[0].Level)
	}
	if m.log[1].Level != meeting.NoticeError || !strings.Contains(m.log[1].Message, "only the host") {
		t.Errorf("failure notice = %+v", m.log[1])
	}
}

func TestRefreshQuitsWhenMeetingEnds(t *testing.T) {
	actions := &fakeActions{snap: meeting.Snapshot{State: meeting.InCall}}
	m := newTestModel(actions)

	if _, cmd := m.Update(refreshMsg{}); cmd == nil {
		t.Fatal("refresh did not keep listening")
	}

	actions.mu.Lock()
	actions.snap.State = meeting.Left
	actions.mu.Unlock()

	_, cmd := m.Update(refreshMsg{})
	if cmd == nil {
		t.Fatal("no command after the meeting ended")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("view did not quit after the meeting ended")
	}
	if m.View() != "" {
		t.Error("view still renders after quitting")
	}
}

func TestMeetingUIDeliversRefreshAndNotices(t *testing.T) {
	actions := &fakeActions{snap: meeting.Snapshot{State: meeting.InCall}}
	ui := NewMeetingUI(actions, "en")

	ui.Notice(meeting.Notice{Level: meeting.NoticeInfo, Message: "Bob joined"})
	if msg, ok := ui.model.listen()().(noticeMsg); !ok || msg.Message != "Bob joined" {
		t.Fatalf("listen = %#v, want the notice", msg)
	}

	ui.Refresh()
	ui.Refresh() // coalesced
	if _, ok := ui.model.listen()().(refreshMsg); !ok {
		t.Fatal("refresh not delivered")
	}

	close(ui.done)
	result := make(chan tea.Msg, 1)
	go func() { result <- ui.model.listen()() }()
	select {
	case msg := <-result:
		if msg != nil {
			t.Errorf("listen after done = %#v, want nil", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("listen blocked after done")
	}
}

func TestViewRendersMeeting(t *testing.T) {
	actions := &fakeActions{snap: meeting.Snapshot{
		EventID:      "event-42",
		LocalID:      "me",
		State:        meeting.InCall,
		IsHost:       true,
		Connected:    true,
		Media:        media.State{HasStream: true, AudioEnabled: true},
		Captions:     true,
		Participants: testParticipants(),
		Chat: []meeting.ChatMessage{
			{SenderID: "c-1", SenderName: "Bob", Message: "hi all", Timestamp: time.Now()},
			{SenderID: "me", SenderName: "Me", Message: "welcome", Timestamp: time.Now()},
		},
		EndWarning: "The meeting ends in 5 minutes",
		Summary:    &signaling.MeetingSummary{Summary: "done"},
	}}
	m := newTestModel(actions)
	view := m.View()

	for _, want := range []string{"event-42", IconHost, "Bob", "c-2", "hi all", "you:", "ends in 5 minutes", "Summary ready"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestParticipantTableAndSummaryView(t *testing.T) {
	if got := NewParticipantTable(nil).View(); !strings.Contains(got, "Nobody else") {
		t.Errorf("empty table = %q", got)
	}

	view := NewParticipantTable(testParticipants()).View()
	if strings.Contains(view, "c-1") {
		t.Error("ids shown without ShowIDs")
	}
	if !strings.Contains(view, IconHand) || !strings.Contains(view, "connecting") {
		t.Errorf("table missing hand or status:\n%s", view)
	}

	summary := SummaryView(signaling.MeetingSummary{
		Summary:     "2 participants contributed 3 messages to the meeting.",
		KeyPoints:   []string{"Ship the beta"},
		ActionItems: nil,
		GeneratedAt: time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC),
	})
	for _, want := range []string{"Meeting summary", "Ship the beta", "Action items", "Generated"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary view missing %q:\n%s", want, summary)
		}
	}
}

func TestStepReportsOutcome(t *testing.T) {
	var out strings.Builder
	fast := spinner.Spinner{Frames: []string{"-", "+"}, FPS: time.Millisecond}

	err := step(&out, fast, "Joining", "Joined", func() error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	if err != nil || !strings.Contains(out.String(), "Joined") {
		t.Errorf("success step: err = %v, output %q", err, out.String())
	}

	out.Reset()
	boom := errors.New("hub unreachable")
	if err := step(&out, fast, "Joining", "Joined", func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("failed step err = %v, want %v", err, boom)
	}
	if strings.Contains(out.String(), "Joined") {
		t.Errorf("failed step printed success: %q", out.String())
	}
}
