package meeting

import (
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/captions"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/signaling"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/utils"
)

// handle applies one hub event. Events are handled one at a time, in
// arrival order, on the session's run goroutine.
func (s *Session) handle(ev signaling.Event) {
	if s.State() == Left {
		return
	}
	ctx := s.ctx

	switch ev := ev.(type) {
	case signaling.SetRole:
		s.mu.Lock()
		s.isHost = ev.IsHost
		s.mu.Unlock()

	case signaling.HostInfo:
		if s.isLocal(ev.ConnectionID) {
			return
		}
		s.mu.Lock()
		p := s.upsertLocked(ev.ConnectionID)
		p.Role = RoleHost
		if ev.Name != "" {
			p.Name = ev.Name
		}
		s.mu.Unlock()

	case signaling.UserJoined:
		if s.isLocal(ev.ConnectionID) {
			return
		}
		s.mu.Lock()
		p := s.upsertLocked(ev.ConnectionID)
		p.Name = ev.Name
		p.Role = roleOf(ev.IsHost)
		p.Status = StatusConnecting
		inCall := s.state == InCall
		s.mu.Unlock()

		s.notice(NoticeInfo, "%s joined", utils.DisplayName(ev.Name, ev.ConnectionID))
		if inCall {
			if err := s.peers.StartOffer(ctx, ev.ConnectionID); err != nil {
				s.logger.Warn("offer to new participant", "remote_id", ev.ConnectionID, "error", err)
			}
		}

	case signaling.UserLeft:
		s.mu.Lock()
		p, ok := s.participants[ev.ConnectionID]
		name := ev.ConnectionID
		if ok {
			name = utils.DisplayName(p.Name, p.ConnectionID)
			delete(s.participants, ev.ConnectionID)
		}
		s.mu.Unlock()

		s.peers.ClosePeer(ev.ConnectionID)
		if ok {
			s.notice(NoticeInfo, "%s left", name)
		}

	case signaling.ReceiveOffer:
		if s.isLocal(ev.From) {
			return
		}
		s.ensureParticipant(ev.From)
		if err := s.peers.HandleOffer(ctx, ev.From, ev.SDP); err != nil {
			s.logger.Warn("handle offer", "remote_id", ev.From, "error", err)
		}

	case signaling.ReceiveAnswer:
		if err := s.peers.HandleAnswer(ctx, ev.From, ev.SDP); err != nil {
			s.logger.Warn("handle answer", "remote_id", ev.From, "error", err)
		}

	case signaling.ReceiveIceCandidate:
		if s.isLocal(ev.From) {
			return
		}
		s.ensureParticipant(ev.From)
		if err := s.peers.AddICECandidate(ev.From, ev.Candidate); err != nil {
			s.logger.Warn("add ICE candidate", "remote_id", ev.From, "error", err)
		}

	case signaling.ReceiveMediaState:
		s.setMediaFlag(ev.ConnectionID, ev.Kind, ev.Enabled)

	case signaling.MicStateChanged:
		s.setMediaFlag(ev.ConnectionID, signaling.KindAudio, ev.Enabled)

	case signaling.CamStateChanged:
		s.setMediaFlag(ev.ConnectionID, signaling.KindVideo, ev.Enabled)

	case signaling.ReceiveChatMessage:
		s.mu.Lock()
		s.chat = append(s.chat, ev.Message)
		s.mu.Unlock()

	case signaling.ReceiveWave:
		s.setHand(ev.ConnectionID, true)

	case signaling.ReceiveUnwave:
		s.setHand(ev.ConnectionID, false)

	case signaling.AllHandsLowered:
		s.mu.Lock()
		s.handRaised = false
		for _, p := range s.participants {
			p.HandRaised = false
		}
		s.mu.Unlock()

	case signaling.ToggleMicCommand:
		if err := s.media.SetAudioEnabled(ctx, ev.Enabled); err != nil {
			s.logger.Warn("host microphone command", "enabled", ev.Enabled, "error", err)
			return
		}
		s.micChanged(ev.Enabled)
		if ev.Enabled {
			s.notice(NoticeInfo, "The host turned your microphone on")
		} else {
			s.notice(NoticeInfo, "The host muted your microphone")
		}

	case signaling.ToggleCamCommand:
		if err := s.media.SetVideoEnabled(ctx, ev.Enabled); err != nil {
			s.logger.Warn("host camera command", "enabled", ev.Enabled, "error", err)
			return
		}
		if ev.Enabled {
			s.notice(NoticeInfo, "The host turned your camera on")
		} else {
			s.notice(NoticeInfo, "The host turned your camera off")
		}

	case signaling.KickedFromRoom:
		msg := "You were removed from the meeting"
		if ev.Reason != "" {
			msg += ": " + ev.Reason
		}
		s.teardown(NoticeError, msg)
		s.hub.Close()

	case signaling.ShowEndWarning:
		s.mu.Lock()
		s.endWarning = ev.Message
		s.mu.Unlock()
		s.notice(NoticeWarn, "%s", ev.Message)

	case signaling.RoomEnded:
		s.teardown(NoticeInfo, "The meeting has ended")
		s.hub.Close()

	case signaling.ReceiveTranscription:
		t := ev.Transcription
		if s.isLocal(t.SpeakerID) {
			return
		}
		s.captions.HandleIncoming(captions.Transcript{
			ID:           t.ID,
			SpeakerID:    t.SpeakerID,
			SenderName:   t.SenderName,
			Language:     t.Language,
			OriginalText: t.Text,
			Timestamp:    t.Timestamp,
		})

	case signaling.SummaryGenerating:
		s.mu.Lock()
		s.summaryGenerating = true
		s.summaryErr = ""
		s.mu.Unlock()

	case signaling.ReceiveMeetingSummary:
		summary := ev.Summary
		s.mu.Lock()
		s.summary = &summary
		s.summaryGenerating = false
		s.summaryErr = ""
		s.mu.Unlock()
		s.notice(NoticeInfo, "Meeting summary is ready")

	case signaling.SummaryError:
		s.mu.Lock()
		s.summaryGenerating = false
		s.summaryErr = ev.Message
		s.mu.Unlock()
		s.notice(NoticeWarn, "Meeting summary failed: %s", ev.Message)

	case signaling.Reconnecting:
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		s.notice(NoticeWarn, "Connection to the meeting lost, reconnecting")

	case signaling.Reconnected:
		s.rejoin()

	case signaling.Closed:
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		s.notice(NoticeError, "Disconnected from the meeting")

	case signaling.Unknown:
		s.logger.Debug("unhandled hub event", "target", ev.Method)
	}
	s.notify()
}

// rejoin re-announces this participant after the hub connection came back.
// The hub assigns a new connection id, so peers negotiated under the old one
// are rebuilt.
func (s *Session) rejoin() {
	ctx := s.ctx
	previous := s.LocalID()

	if err := s.join(ctx); err != nil {
		s.notice(NoticeError, "Could not rejoin the meeting: %v", err)
		return
	}

	if s.LocalID() != previous {
		s.peers.CloseAll()
		s.mu.Lock()
		for _, p := range s.participants {
			p.Status = StatusConnecting
		}
		s.mu.Unlock()
	}
	s.refreshParticipants(ctx)
	s.sig.flush(ctx)

	s.mu.Lock()
	inCall := s.state == InCall
	ids := s.participantIDsLocked()
	s.mu.Unlock()
	if inCall {
		for _, id := range ids {
			if err := s.peers.StartOffer(ctx, id); err != nil {
				s.logger.Warn("offer after reconnect", "remote_id", id, "error", err)
			}
		}
	}
	s.notice(NoticeInfo, "Reconnected to the meeting")
}

func (s *Session) isLocal(id string) bool {
	local := s.LocalID()
	return local != "" && id == local
}

// ensureParticipant creates a placeholder record for a peer that signalled
// before it was announced.
func (s *Session) ensureParticipant(id string) {
	s.mu.Lock()
	s.upsertLocked(id)
	s.mu.Unlock()
}

func (s *Session) setMediaFlag(id, kind string, enabled bool) {
	if s.isLocal(id) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return
	}
	if kind == signaling.KindAudio {
		p.AudioEnabled = enabled
	} else {
		p.VideoEnabled = enabled
	}
}

func (s *Session) setHand(id string, raised bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.localID {
		s.handRaised = raised
		return
	}
	if p, ok := s.participants[id]; ok {
		p.HandRaised = raised
	}
}
