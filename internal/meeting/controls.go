package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/signaling"
)

// ToggleAudio flips the microphone. Muting stops transcription; unmuting
// restarts it when muting was what stopped it.
func (s *Session) ToggleAudio(ctx context.Context) (bool, error) {
	enabled, err := s.media.ToggleAudio(ctx)
	if err != nil {
		return false, NewError("toggle microphone", err)
	}
	s.micChanged(enabled)
	return enabled, nil
}

// ToggleVideo flips the camera, reacquiring it when the device went away.
func (s *Session) ToggleVideo(ctx context.Context) (bool, error) {
	enabled, err := s.media.ToggleVideo(ctx)
	if err != nil {
		return false, NewError("toggle camera", err)
	}
	return enabled, nil
}

func (s *Session) micChanged(enabled bool) {
	if !enabled {
		transcribing := s.captions.Enabled()
		s.mu.Lock()
		s.stopResumeLocked()
		if transcribing {
			s.resumeTranscription = true
		}
		s.mu.Unlock()
		s.captions.StopTranscription()
		return
	}

	s.mu.Lock()
	resume := s.resumeTranscription && s.state != Left
	s.resumeTranscription = false
	s.stopResumeLocked()
	if resume && s.opts.UnmuteResumeDelay > 0 {
		s.resumeTimer = time.AfterFunc(s.opts.UnmuteResumeDelay, s.resumeTranscriptionNow)
		resume = false
	}
	s.mu.Unlock()

	if resume {
		s.resumeTranscriptionNow()
	}
}

func (s *Session) resumeTranscriptionNow() {
	if s.State() == Left {
		return
	}
	if err := s.captions.StartTranscription(s.ctx, s.opts.Language); err != nil {
		s.notice(NoticeWarn, "Could not resume transcription: %v", err)
	}
}

func (s *Session) stopResumeLocked() {
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}
}

// StartTranscription starts transcribing the local microphone.
func (s *Session) StartTranscription(ctx context.Context) error {
	if err := s.requireJoined("start transcription"); err != nil {
		return err
	}
	if err := s.captions.StartTranscription(ctx, s.opts.Language); err != nil {
		return NewError("start transcription", err)
	}
	return nil
}

func (s *Session) StopTranscription() {
	s.mu.Lock()
	s.resumeTranscription = false
	s.stopResumeLocked()
	s.mu.Unlock()
	s.captions.StopTranscription()
}

// SetCaptions shows or hides remote captions, translated into
// targetLanguage when it is set.
func (s *Session) SetCaptions(enabled bool, targetLanguage string) {
	s.captions.SetCaptions(enabled, targetLanguage)
}

func (s *Session) SendChatMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return NewError("send chat message", errors.New("message is empty"))
	}
	if err := s.requireJoined("send chat message"); err != nil {
		return err
	}
	if _, err := s.hub.Invoke(ctx, signaling.MethodSendChatMessage, s.opts.EventID, text); err != nil {
		return NewError("send chat message", err)
	}
	return nil
}

func (s *Session) RaiseHand(ctx context.Context) error {
	return s.wave(ctx, true)
}

func (s *Session) LowerHand(ctx context.Context) error {
	return s.wave(ctx, false)
}

func (s *Session) wave(ctx context.Context, raise bool) error {
	op, method := "raise hand", signaling.MethodSendWave
	if !raise {
		op, method = "lower hand", signaling.MethodUnwave
	}
	if err := s.requireJoined(op); err != nil {
		return err
	}
	if err := s.hub.Send(ctx, method, s.opts.EventID); err != nil {
		return NewError(op, err)
	}
	s.mu.Lock()
	s.handRaised = raise
	s.mu.Unlock()
	s.notify()
	return nil
}

// LowerAllHands lowers every raised hand in the room. Host only.
func (s *Session) LowerAllHands(ctx context.Context) error {
	return s.hostCommand(ctx, "lower all hands", signaling.MethodLowerAllHands, s.opts.EventID)
}

// ToggleParticipantMic turns a participant's microphone on or off. Host only.
func (s *Session) ToggleParticipantMic(ctx context.Context, connectionID string, enabled bool) error {
	return s.hostCommand(ctx, "toggle participant microphone", signaling.MethodToggleMic, s.opts.EventID, connectionID, enabled)
}

// ToggleParticipantCam turns a participant's camera on or off. Host only.
func (s *Session) ToggleParticipantCam(ctx context.Context, connectionID string, enabled bool) error {
	return s.hostCommand(ctx, "toggle participant camera", signaling.MethodToggleCam, s.opts.EventID, connectionID, enabled)
}

// KickUser removes a participant from the room. Host only.
func (s *Session) KickUser(ctx context.Context, connectionID string) error {
	return s.hostCommand(ctx, "kick participant", signaling.MethodKickUser, s.opts.EventID, connectionID)
}

// hostCommand invokes a host-only method. Failures are logged and returned,
// they never affect the session.
func (s *Session) hostCommand(ctx context.Context, op, method string, args ...any) error {
	if err := s.requireHost(op); err != nil {
		return err
	}
	if _, err := s.hub.Invoke(ctx, method, args...); err != nil {
		s.logger.Warn("host command failed", "op", op, "error", err)
		return NewError(op, err)
	}
	return nil
}

// RequestMeetingSummary asks the hub to generate a summary. The result
// arrives as an event.
func (s *Session) RequestMeetingSummary(ctx context.Context) error {
	if err := s.requireJoined("request meeting summary"); err != nil {
		return err
	}
	if _, err := s.hub.Invoke(ctx, signaling.MethodRequestMeetingSummary, s.opts.EventID); err != nil {
		return NewError("request meeting summary", err)
	}
	s.mu.Lock()
	s.summaryGenerating = true
	s.summaryErr = ""
	s.mu.Unlock()
	s.notify()
	return nil
}

// GetMeetingSummary fetches the stored summary. It returns nil when none was
// generated yet.
func (s *Session) GetMeetingSummary(ctx context.Context) (*signaling.MeetingSummary, error) {
	if err := s.requireJoined("get meeting summary"); err != nil {
		return nil, err
	}
	raw, err := s.hub.Invoke(ctx, signaling.MethodGetMeetingSummary, s.opts.EventID)
	if err != nil {
		return nil, NewError("get meeting summary", err)
	}
	var summary *signaling.MeetingSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, WrapError("get meeting summary", err, "decode result")
	}
	if summary != nil {
		s.mu.Lock()
		copied := *summary
		s.summary = &copied
		s.mu.Unlock()
		s.notify()
	}
	return summary, nil
}
