package signaling

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
)

// Event is a typed message pushed by the hub, or a connection lifecycle
// change reported by the Client. The set of implementations is closed.
type Event interface {
	// Target is the hub method name the event travels under.
	Target() string
	arguments() []any
}

// ChatMessage is a chat line as relayed by the hub.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Transcription is one finalised utterance of a remote speaker.
type Transcription struct {
	ID         string    `json:"id"`
	SpeakerID  string    `json:"speakerId"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	Language   string    `json:"language"`
	Timestamp  time.Time `json:"timestamp"`
}

// MeetingSummary is the generated summary of a meeting.
type MeetingSummary struct {
	EventID     string    `json:"eventId"`
	Summary     string    `json:"summary"`
	KeyPoints   []string  `json:"keyPoints"`
	ActionItems []string  `json:"actionItems"`
	GeneratedAt time.Time `json:"generatedAt"`
}

type SetRole struct {
	IsHost bool
}

type HostInfo struct {
	ConnectionID string
	Name         string
}

type UserJoined struct {
	ConnectionID string
	Name         string
	IsHost       bool
}

type UserLeft struct {
	ConnectionID string
}

type ReceiveOffer struct {
	From string
	SDP  string
}

type ReceiveAnswer struct {
	From string
	SDP  string
}

type ReceiveIceCandidate struct {
	From      string
	Candidate webrtc.ICECandidateInit
}

// ReceiveMediaState reports that a participant toggled a media kind.
type ReceiveMediaState struct {
	ConnectionID string
	Kind         string
	Enabled      bool
}

type ReceiveChatMessage struct {
	Message ChatMessage
}

type ReceiveWave struct {
	ConnectionID string
}

type ReceiveUnwave struct {
	ConnectionID string
}

type AllHandsLowered struct{}

// ToggleMicCommand is the host forcing the local microphone on or off.
type ToggleMicCommand struct {
	Enabled bool
}

// ToggleCamCommand is the host forcing the local camera on or off.
type ToggleCamCommand struct {
	Enabled bool
}

type MicStateChanged struct {
	ConnectionID string
	Enabled      bool
}

type CamStateChanged struct {
	ConnectionID string
	Enabled      bool
}

type KickedFromRoom struct {
	Reason string
}

type ShowEndWarning struct {
	Message string
}

type RoomEnded struct{}

type ReceiveTranscription struct {
	Transcription Transcription
}

type ReceiveMeetingSummary struct {
	Summary MeetingSummary
}

type SummaryGenerating struct{}

type SummaryError struct {
	Message string
}

// Reconnecting is emitted when the connection dropped and retries started.
type Reconnecting struct {
	Err error
}

// Reconnected is emitted after a retry re-established the connection.
type Reconnected struct{}

// Closed is emitted once the client gave up or was closed.
type Closed struct {
	Err error
}

// Unknown carries an invocation whose target has no typed event.
type Unknown struct {
	Method    string
	Arguments []json.RawMessage
}

func (SetRole) Target() string { return "SetRole" }
func (HostInfo) Target() string { return "HostInfo" }
func (UserJoined) Target() string { return "UserJoined" }
func (UserLeft) Target() string { return "UserLeft" }
func (ReceiveOffer) Target() string { return "ReceiveOffer" }
func (ReceiveAnswer) Target() string { return "ReceiveAnswer" }
func (ReceiveIceCandidate) Target() string { return "ReceiveIceCandidate" }
func (ReceiveMediaState) Target() string { return "ReceiveMediaState" }
func (ReceiveChatMessage) Target() string { return "ReceiveChatMessage" }
func (ReceiveWave) Target() string { return "ReceiveWave" }
func (ReceiveUnwave) Target() string { return "ReceiveUnwave" }
func (AllHandsLowered) Target() string { return "AllHandsLowered" }
func (ToggleMicCommand) Target() string { return "ToggleMicCommand" }
func (ToggleCamCommand) Target() string { return "ToggleCamCommand" }
func (MicStateChanged) Target() string { return "MicStateChanged" }
func (CamStateChanged) Target() string { return "CamStateChanged" }
func (KickedFromRoom) Target() string { return "KickedFromRoom" }
func (ShowEndWarning) Target() string { return "ShowEndWarning" }
func (RoomEnded) Target() string { return "RoomEnded" }
func (ReceiveTranscription) Target() string { return "ReceiveTranscription" }
func (ReceiveMeetingSummary) Target() string { return "ReceiveMeetingSummary" }
func (SummaryGenerating) Target() string { return "SummaryGenerating" }
func (SummaryError) Target() string { return "SummaryError" }
func (Reconnecting) Target() string { return "" }
func (Reconnected) Target() string { return "" }
func (Closed) Target() string { return "" }
func (u Unknown) Target() string { return u.Method }

func (e SetRole) arguments() []any { return []any{e.IsHost} }
func (e HostInfo) arguments() []any { return []any{e.ConnectionID, e.Name} }
func (e UserJoined) arguments() []any { return []any{e.ConnectionID, e.Name, e.IsHost} }
func (e UserLeft) arguments() []any { return []any{e.ConnectionID} }
func (e ReceiveOffer) arguments() []any {
	return []any{e.From, e.SDP}
}
func (e ReceiveAnswer) arguments() []any {
	return []any{e.From, e.SDP}
}
func (e ReceiveIceCandidate) arguments() []any {
	return []any{e.From, e.Candidate}
}
func (e ReceiveMediaState) arguments() []any {
	return []any{e.ConnectionID, e.Kind, e.Enabled}
}
func (e ReceiveChatMessage) arguments() []any { return []any{e.Message} }
func (e ReceiveWave) arguments() []any { return []any{e.ConnectionID} }
func (e ReceiveUnwave) arguments() []any { return []any{e.ConnectionID} }
func (AllHandsLowered) arguments() []any { return nil }
func (e ToggleMicCommand) arguments() []any { return []any{e.Enabled} }
func (e ToggleCamCommand) arguments() []any { return []any{e.Enabled} }
func (e MicStateChanged) arguments() []any { return []any{e.ConnectionID, e.Enabled} }
func (e CamStateChanged) arguments() []any { return []any{e.ConnectionID, e.Enabled} }
func (e KickedFromRoom) arguments() []any { return []any{e.Reason} }
func (e ShowEndWarning) arguments() []any { return []any{e.Message} }
func (RoomEnded) arguments() []any { return nil }
func (e ReceiveTranscription) arguments() []any { return []any{e.Transcription} }
func (e ReceiveMeetingSummary) arguments() []any { return []any{e.Summary} }
func (SummaryGenerating) arguments() []any { return nil }
func (e SummaryError) arguments() []any { return []any{e.Message} }
func (Reconnecting) arguments() []any { return nil }
func (Reconnected) arguments() []any { return nil }
func (Closed) arguments() []any { return nil }
func (u Unknown) arguments() []any {
	args := make([]any, len(u.Arguments))
	for i, a := range u.Arguments {
		args[i] = a
	}
	return args
}

// Encode turns a hub event into a fire-and-forget invocation record.
func Encode(ev Event) (*Message, error) {
	return NewInvocation("", ev.Target(), ev.arguments()...)
}
