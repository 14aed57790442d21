package meeting

import (
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/captions"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/media"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/signaling"
)

// RoomState is the local membership lifecycle of a room.
type RoomState int

const (
	Idle RoomState = iota
	Joining
	Joined
	InCall
	Leaving
	Left
)

func (s RoomState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case InCall:
		return "in-call"
	case Leaving:
		return "leaving"
	case Left:
		return "left"
	default:
		return "unknown"
	}
}

var roomTransitions = map[RoomState][]RoomState{
	Idle:    {Joining, Left},
	Joining: {Joined, Idle, Leaving, Left},
	Joined:  {InCall, Leaving, Left},
	InCall:  {Leaving, Left},
	Leaving: {Left},
}

// CanTransition reports whether the room lifecycle allows from -> to. Left
// is terminal.
func CanTransition(from, to RoomState) bool {
	for _, next := range roomTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Role string

const (
	RoleHost     Role = "host"
	RoleAttendee Role = "attendee"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Participant is a remote member of the room.
type Participant struct {
	ConnectionID string
	Name         string
	Role         Role
	Status       Status
	AudioEnabled bool
	VideoEnabled bool
	HandRaised   bool

	// HasStream reports whether media from this participant arrived.
	HasStream bool
}

// ChatMessage is one line of the room chat.
type ChatMessage = signaling.ChatMessage

type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarn
	NoticeError
)

// Notice is a short user-facing message, such as a join or an end warning.
type Notice struct {
	Level   NoticeLevel
	Message string
	At      time.Time
}

// Snapshot is a consistent copy of the session state for rendering.
type Snapshot struct {
	EventID      string
	Name         string
	LocalID      string
	State        RoomState
	IsHost       bool
	Connected    bool
	HandRaised   bool
	Media        media.State
	Transcribing bool
	Captions     bool
	Participants []Participant
	Chat         []ChatMessage
	Overlay      []captions.Transcript
	EndWarning   string

	Summary           *signaling.MeetingSummary
	SummaryGenerating bool
	SummaryError      string
}
