package hub

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/signaling"
)

const maxKeyPoints = 5

var actionMarkers = []string{"action item", "todo", "to do", "will ", "need to", "needs to", "let's", "follow up"}

// ExtractiveSummarizer picks key points and action items out of what was
// said and written during the meeting.
type ExtractiveSummarizer struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

func (s ExtractiveSummarizer) Summarize(ctx context.Context, eventID string, transcripts []signaling.Transcription, chat []signaling.ChatMessage) (signaling.MeetingSummary, error) {
	if err := ctx.Err(); err != nil {
		return signaling.MeetingSummary{}, err
	}
	if len(transcripts) == 0 && len(chat) == 0 {
		return signaling.MeetingSummary{}, fmt.Errorf("nothing was said in meeting %s yet", eventID)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	type line struct {
		text string
		at   time.Time
	}
	speakers := make(map[string]bool)
	var lines []line
	for _, t := range transcripts {
		if text := strings.TrimSpace(t.Text); text != "" {
			speakers[t.SpeakerID] = true
			lines = append(lines, line{text, t.Timestamp})
		}
	}
	for _, m := range chat {
		if text := strings.TrimSpace(m.Message); text != "" {
			speakers[m.SenderID] = true
			lines = append(lines, line{text, m.Timestamp})
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].at.Before(lines[j].at) })

	var actions []string
	for _, l := range lines {
		lower := strings.ToLower(l.text)
		for _, marker := range actionMarkers {
			if strings.Contains(lower, marker) {
				actions = append(actions, l.text)
				break
			}
		}
	}

	// The longest contributions, kept in the order they were made.
	ranked := make([]int, len(lines))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(i, j int) bool { return len(lines[ranked[i]].text) > len(lines[ranked[j]].text) })
	if len(ranked) > maxKeyPoints {
		ranked = ranked[:maxKeyPoints]
	}
	sort.Ints(ranked)
	keyPoints := make([]string, 0, len(ranked))
	for _, i := range ranked {
		keyPoints = append(keyPoints, lines[i].text)
	}

	return signaling.MeetingSummary{
		EventID:     eventID,
		Summary:     fmt.Sprintf("%d participants contributed %d messages to the meeting.", len(speakers), len(lines)),
		KeyPoints:   keyPoints,
		ActionItems: actions,
		GeneratedAt: now().UTC(),
	}, nil
}
