package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/signaling"
	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
)

// errDeferred marks a method that completes later from another goroutine.
var errDeferred = errors.New("completion deferred")

type method func(h *Hub, ctx context.Context, c *Client, msg *signaling.Message) (any, error)

var methods = map[string]method{
	signaling.MethodJoinRoom:               (*Hub).joinRoom,
	signaling.MethodJoinRoomConfirm:        (*Hub).joinRoomConfirm,
	signaling.MethodGetParticipants:        (*Hub).getParticipants,
	signaling.MethodLeaveRoom:              (*Hub).leaveRoom,
	signaling.MethodEndRoom:                (*Hub).endRoomMethod,
	signaling.MethodSendOffer:              (*Hub).sendOffer,
	signaling.MethodSendAnswer:             (*Hub).sendAnswer,
	signaling.MethodSendIceCandidate:       (*Hub).sendIceCandidate,
	signaling.MethodBroadcastMediaState:    (*Hub).broadcastMediaState,
	signaling.MethodSendChatMessage:        (*Hub).sendChatMessage,
	signaling.MethodSendWave:               (*Hub).sendWave,
	signaling.MethodUnwave:                 (*Hub).unwave,
	signaling.MethodLowerAllHands:          (*Hub).lowerAllHands,
	signaling.MethodToggleMic:              (*Hub).toggleMic,
	signaling.MethodToggleCam:              (*Hub).toggleCam,
	signaling.MethodKickUser:               (*Hub).kickUser,
	signaling.MethodBroadcastTranscription: (*Hub).broadcastTranscription,
	signaling.MethodRequestTranslation:     (*Hub).requestTranslation,
	signaling.MethodRequestMeetingSummary:  (*Hub).requestMeetingSummary,
	signaling.MethodGetMeetingSummary:      (*Hub).getMeetingSummary,
}

func (h *Hub) handle(ctx context.Context, req request) {
	m, ok := methods[req.msg.Target]
	if !ok {
		h.complete(req.client, req.msg.InvocationID, nil, fmt.Errorf("unknown method %q", req.msg.Target))
		return
	}
	result, err := m(h, ctx, req.client, req.msg)
	if errors.Is(err, errDeferred) {
		return
	}
	if err != nil {
		h.logger.Debug("method failed", "method", req.msg.Target, "connection_id", req.client.id, "error", err)
	}
	h.complete(req.client, req.msg.InvocationID, result, err)
}

// args decodes the invocation arguments in order.
func args(msg *signaling.Message, vs ...any) error {
	for i, v := range vs {
		if err := msg.Arg(i, v); err != nil {
			return err
		}
	}
	return nil
}

// roomOf returns the room c joined, checking it matches eventID.
func (h *Hub) roomOf(c *Client, eventID string) (*Room, error) {
	room, ok := h.rooms[c.roomID]
	if !ok || room.ID != eventID {
		return nil, ErrNotInRoom
	}
	return room, nil
}

// hostRoom is roomOf restricted to the room host.
func (h *Hub) hostRoom(c *Client, eventID string) (*Room, error) {
	room, err := h.roomOf(c, eventID)
	if err != nil {
		return nil, err
	}
	if room.HostID != c.id {
		return nil, ErrNotHost
	}
	return room, nil
}

func (h *Hub) joinRoom(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	var (
		eventID, name string
		isHost        bool
	)
	if err := args(msg, &eventID, &name); err != nil {
		return nil, err
	}
	// isHost is optional.
	_ = msg.Arg(2, &isHost)
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, errors.New("event id is required")
	}

	if c.roomID != "" {
		h.leave(c)
	}

	room, ok := h.rooms[eventID]
	if !ok {
		room = newRoom(eventID)
		h.rooms[eventID] = room
		h.scheduleLimits(room)
		h.logger.Info("room opened", "event_id", eventID)
	}
	if _, present := room.members[room.HostID]; isHost && !present {
		room.HostID = c.id
	}

	c.roomID = eventID
	c.name = name
	c.joinedAt = time.Now()
	c.audio, c.video, c.hand = true, true, false
	room.members[c.id] = c
	host := room.HostID == c.id

	h.emit(c, signaling.SetRole{IsHost: host})
	if !host {
		if hc, ok := room.members[room.HostID]; ok {
			h.emit(c, signaling.HostInfo{ConnectionID: hc.id, Name: hc.name})
		}
	}
	h.broadcast(room, signaling.UserJoined{ConnectionID: c.id, Name: name, IsHost: host}, c)
	h.logger.Info("participant joined", "event_id", eventID, "connection_id", c.id, "name", name, "host", host)

	return signaling.JoinResult{ConnectionID: c.id, IsHost: host}, nil
}

func (h *Hub) joinRoomConfirm(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	var eventID, connectionID string
	if err := args(msg, &eventID, &connectionID); err != nil {
		return nil, err
	}
	if _, err := h.roomOf(c, eventID); err != nil {
		return nil, err
	}
	if connectionID != c.id {
		return nil, errors.New("connection id mismatch")
	}
	return nil, nil
}

func (h *Hub) getParticipants(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	var eventID string
	if err := args(msg, &eventID); err != nil {
		return nil, err
	}
	room, err := h.roomOf(c, eventID)
	if err != nil {
		return nil, err
	}
	return room.participants(), nil
}

func (h *Hub) leaveRoom(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	var eventID string
	if err := args(msg, &eventID); err != nil {
		return nil, err
	}
	if _, err := h.roomOf(c, eventID); err != nil {
		return nil, err
	}
	h.leave(c)
	return nil, nil
}

func (h *Hub) endRoomMethod(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	var eventID string
	if err := args(msg, &eventID); err != nil {
		return nil, err
	}
	room, err := h.hostRoom(c, eventID)
	if err != nil {
		return nil, err
	}
	h.endRoom(room)
	return nil, nil
}

// relay forwards an offer, answer or candidate to one member of the room.
func (h *Hub) relay(c *Client, eventID, targetID string, ev signaling.Event) error {
	room, err := h.roomOf(c, eventID)
	if err != nil {
		return err
	}
	target, ok := room.members[targetID]
	if !ok {
		return fmt.Errorf("participant %s is not in the room", targetID)
	}
	h.emit(target, ev)
	return nil
}

func (h *Hub) sendOffer(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	var eventID, targetID, sdp string
	if err := args(msg, &eventID, &targetID, &sdp); err != nil {
		return nil, err
	}
	return nil, h.relay(c, eventID, targetID, signaling.ReceiveOffer{From: c.id, SDP: sdp})
}

func (h *Hub) sendAnswer(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	var eventID, targetID, sdp string
	if err := args(msg, &eventID, &targetID, &sdp); err != nil {
		return nil, err
	}
	return nil, h.relay(c, eventID, targetID, signaling.ReceiveAnswer{From: c.id, SDP: sdp})
}

func (h *Hub) sendIceCandidate(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	var (
		eventID, targetID string
		candidate         pion.ICECandidateInit
	)
	if err := args(msg, &eventID, &targetID, &candidate); err != nil {
		return nil, err
	}
	return nil, h.relay(c, eventID, targetID, signaling.ReceiveIceCandidate{From: c.id, Candidate: candidate})
}

func (h *Hub) broadcastMediaState(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	var (
		eventID, connectionID, kind string
		enabled                     bool
	)
	if err := args(msg, &eventID, &connectionID, &kind, &enabled); err != nil {
		return nil, err
	}
	room, err := h.roomOf(c, eventID)
	if err != nil {
		return nil, err
	}
	if connectionID != c.id {
		return nil, errors.New("cannot broadcast media state for another participant")
	}
	switch kind {
	case signaling.KindAudio:
		c.audio = enabled
	case signaling.KindVideo:
		c.video = enabled
	default:
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}
	h.broadcast(room, signaling.ReceiveMediaState{ConnectionID: c.id, Kind: kind, Enabled: enabled}, c)
	return nil, nil
}

func (h *Hub) sendChatMessage(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	var eventID, text string
	if err := args(msg, &eventID, &text); err != nil {
		return nil, err
	}
	room, err := h.roomOf(c, eventID)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("message is empty")
	}
	chat := signaling.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   c.id,
		SenderName: c.name,
		Message:    text,
		Timestamp:  time.Now().UTC(),
	}
	room.chat = append(room.chat, chat)
	h.broadcast(room, signaling.ReceiveChatMessage{Message: chat}, nil)
	return nil, nil
}

func (h *Hub) sendWave(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	return nil, h.setHand(c, msg, true)
}

func (h *Hub) unwave(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	return nil, h.setHand(c, msg, false)
}

func (h *Hub) setHand(c *Client, msg *signaling.Message, raised bool) error {
	var eventID string
	if err := args(msg, &eventID); err != nil {
		return err
	}
	room, err := h.roomOf(c, eventID)
	if err != nil {
		return err
	}
	c.hand = raised
	if raised {
		h.broadcast(room, signaling.ReceiveWave{ConnectionID: c.id}, nil)
	} else {
		h.broadcast(room, signaling.ReceiveUnwave{ConnectionID: c.id}, nil)
	}
	return nil
}

func (h *Hub) lowerAllHands(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	var eventID string
	if err := args(msg, &eventID); err != nil {
		return nil, err
	}
	room, err := h.hostRoom(c, eventID)
	if err != nil {
		return nil, err
	}
	for _, m := range room.members {
		m.hand = false
	}
	h.broadcast(room, signaling.AllHandsLowered{}, nil)
	return nil, nil
}

// hostTarget resolves the host-only command target.
func (h *Hub) hostTarget(c *Client, msg *signaling.Message, rest ...any) (*Room, *Client, error) {
	var eventID, targetID string
	if err := args(msg, append([]any{&eventID, &targetID}, rest...)...); err != nil {
		return nil, nil, err
	}
	room, err := h.hostRoom(c, eventID)
	if err != nil {
		return nil, nil, err
	}
	target, ok := room.members[targetID]
	if !ok {
		return nil, nil, fmt.Errorf("participant %s is not in the room", targetID)
	}
	return room, target, nil
}

func (h *Hub) toggleMic(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	var enabled bool
	room, target, err := h.hostTarget(c, msg, &enabled)
	if err != nil {
		return nil, err
	}
	target.audio = enabled
	h.emit(target, signaling.ToggleMicCommand{Enabled: enabled})
	h.broadcast(room, signaling.MicStateChanged{ConnectionID: target.id, Enabled: enabled}, target)
	return nil, nil
}

func (h *Hub) toggleCam(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	var enabled bool
	room, target, err := h.hostTarget(c, msg, &enabled)
	if err != nil {
		return nil, err
	}
	target.video = enabled
	h.emit(target, signaling.ToggleCamCommand{Enabled: enabled})
	h.broadcast(room, signaling.CamStateChanged{ConnectionID: target.id, Enabled: enabled}, target)
	return nil, nil
}

func (h *Hub) kickUser(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	_, target, err := h.hostTarget(c, msg)
	if err != nil {
		return nil, err
	}
	if target == c {
		return nil, errors.New("the host cannot kick themselves")
	}
	h.emit(target, signaling.KickedFromRoom{Reason: "You were removed from the meeting by the host"})
	h.leave(target)
	return nil, nil
}

func (h *Hub) broadcastTranscription(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	var eventID, text, language string
	if err := args(msg, &eventID, &text, &language); err != nil {
		return nil, err
	}
	room, err := h.roomOf(c, eventID)
	if err != nil {
		return nil, err
	}
	t := signaling.Transcription{
		ID:         uuid.NewString(),
		SpeakerID:  c.id,
		SenderName: c.name,
		Text:       text,
		Language:   language,
		Timestamp:  time.Now().UTC(),
	}
	room.transcripts = append(room.transcripts, t)
	h.broadcast(room, signaling.ReceiveTranscription{Transcription: t}, c)
	return nil, nil
}

const translateTimeout = 10 * time.Second

func (h *Hub) requestTranslation(ctx context.Context, c *Client, msg *signaling.Message) (any, error) {
	var eventID, text, target string
	if err := args(msg, &eventID, &text, &target); err != nil {
		return nil, err
	}
	if _, err := h.roomOf(c, eventID); err != nil {
		return nil, err
	}
	id := msg.InvocationID
	go func() {
		tctx, cancel := context.WithTimeout(ctx, translateTimeout)
		defer cancel()
		translated, err := h.opts.Translator.Translate(tctx, text, target)
		h.post(func() { h.complete(c, id, translated, err) })
	}()
	return nil, errDeferred
}

func (h *Hub) requestMeetingSummary(ctx context.Context, c *Client, msg *signaling.Message) (any, error) {
	var eventID string
	if err := args(msg, &eventID); err != nil {
		return nil, err
	}
	room, err := h.roomOf(c, eventID)
	if err != nil {
		return nil, err
	}
	h.broadcast(room, signaling.SummaryGenerating{}, nil)

	transcripts := append([]signaling.Transcription(nil), room.transcripts...)
	chat := append([]signaling.ChatMessage(nil), room.chat...)
	go func() {
		summary, err := h.opts.Summarizer.Summarize(ctx, eventID, transcripts, chat)
		h.post(func() {
			r, ok := h.rooms[eventID]
			if !ok || r != room {
				return
			}
			if err != nil {
				h.logger.Warn("summarize meeting", "event_id", eventID, "error", err)
				h.broadcast(r, signaling.SummaryError{Message: err.Error()}, nil)
				return
			}
			r.summary = &summary
			h.broadcast(r, signaling.ReceiveMeetingSummary{Summary: summary}, nil)
		})
	}()
	return nil, nil
}

func (h *Hub) getMeetingSummary(_ context.Context, c *Client, msg *signaling.Message) (any, error) {
	var eventID string
	if err := args(msg, &eventID); err != nil {
		return nil, err
	}
	room, err := h.roomOf(c, eventID)
	if err != nil {
		return nil, err
	}
	return room.summary, nil
}
