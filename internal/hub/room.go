package hub

import (
	"sort"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/signaling"
)

// Room is one meeting. It is owned by the Run loop.
type Room struct {
	ID        string
	HostID    string
	StartedAt time.Time

	members     map[string]*Client
	chat        []signaling.ChatMessage
	transcripts []signaling.Transcription
	summary     *signaling.MeetingSummary
	timers      []*time.Timer
}

func newRoom(id string) *Room {
	return &Room{
		ID:        id,
		StartedAt: time.Now(),
		members:   make(map[string]*Client),
	}
}

// sortedMembers returns members ordered by join time, then id.
func (r *Room) sortedMembers() []*Client {
	out := make([]*Client, 0, len(r.members))
	for _, c := range r.members {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].joinedAt.Equal(out[j].joinedAt) {
			return out[i].joinedAt.Before(out[j].joinedAt)
		}
		return out[i].id < out[j].id
	})
	return out
}

func (r *Room) participants() []signaling.ParticipantInfo {
	members := r.sortedMembers()
	out := make([]signaling.ParticipantInfo, 0, len(members))
	for _, c := range members {
		out = append(out, signaling.ParticipantInfo{
			ConnectionID: c.id,
			Name:         c.name,
			IsHost:       c.id == r.HostID,
			AudioEnabled: c.audio,
			VideoEnabled: c.video,
			HandRaised:   c.hand,
		})
	}
	return out
}

func (r *Room) stopTimers() {
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = nil
}
