// Package meeting runs one participant's membership of a meeting room: it
// joins through the hub, keeps the participant list, drives the peer mesh
// and couples local media with the captions pipeline.
package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/captions"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/media"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/peer"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/signaling"
	pion "github.com/pion/webrtc/v4"
)

// Hub is the meeting hub connection. *signaling.Client implements it.
type Hub interface {
	Connect(ctx context.Context) error
	Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error)
	Send(ctx context.Context, method string, args ...any) error
	Events() <-chan signaling.Event
	Connected() bool
	Close()
}

type Options struct {
	EventID  string
	Name     string
	IsHost   bool
	Language string

	Hub Hub

	// MediaSource is nil to join without camera and microphone.
	MediaSource media.Source
	Constraints media.Constraints
	Prefs       media.PrefsStore

	PeerConfig          pion.Configuration
	NewConn             peer.ConnFactory
	DisconnectGrace     time.Duration
	RenegotiateDebounce time.Duration

	// Recognizer is nil when speech recognition is unavailable.
	Recognizer captions.Engine

	// UnmuteResumeDelay is the pause between unmuting and restarting
	// transcription that was stopped by muting. Zero means
	// DefaultUnmuteResumeDelay; negative resumes at once.
	UnmuteResumeDelay time.Duration

	Logger   *slog.Logger
	OnChange func()
	OnNotice func(Notice)
}

// DefaultUnmuteResumeDelay lets the microphone settle before recognition
// restarts after an unmute.
const DefaultUnmuteResumeDelay = 800 * time.Millisecond

// Session is one participant's view of a meeting room.
type Session struct {
	opts   Options
	hub    Hub
	logger *slog.Logger

	peers    *peer.Manager
	media    *media.Controller
	captions *captions.Pipeline
	sig      *signaler

	ctx      context.Context
	cancel   context.CancelFunc
	runOnce  sync.Once
	quit     chan struct{}
	quitOnce sync.Once

	mu                  sync.Mutex
	state               RoomState
	localID             string
	isHost              bool
	connected           bool
	handRaised          bool
	participants        map[string]*Participant
	chat                []ChatMessage
	endWarning          string
	summary             *signaling.MeetingSummary
	summaryGenerating   bool
	summaryErr          string
	resumeTranscription bool
	resumeTimer         *time.Timer
}

func NewSession(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.UnmuteResumeDelay == 0 {
		opts.UnmuteResumeDelay = DefaultUnmuteResumeDelay
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		opts:         opts,
		hub:          opts.Hub,
		logger:       logger.With("component", "meeting", "event_id", opts.EventID),
		ctx:          ctx,
		cancel:       cancel,
		quit:         make(chan struct{}),
		isHost:       opts.IsHost,
		participants: make(map[string]*Participant),
	}
	s.sig = &signaler{s: s}

	s.peers = peer.NewManager(peer.Options{
		LocalID:             s.LocalID,
		Configuration:       opts.PeerConfig,
		NewConn:             opts.NewConn,
		Signaler:            s.sig,
		Logger:              logger,
		DisconnectGrace:     opts.DisconnectGrace,
		RenegotiateDebounce: opts.RenegotiateDebounce,
		OnICEStateChange:    s.onICEState,
		OnRemoteTrack:       func(string, *peer.RemoteTrack) { s.notify() },
	})
	s.media = media.NewController(media.ControllerOptions{
		Source:      opts.MediaSource,
		Constraints: opts.Constraints,
		Prefs:       opts.Prefs,
		Broadcaster: s.sig,
		Tracks:      s.peers,
		Logger:      logger,
		OnChange:    func(media.State) { s.notify() },
	})
	s.captions = captions.NewPipeline(captions.Options{
		Engine:      opts.Recognizer,
		Broadcaster: s.sig,
		Mic:         s.media,
		Logger:      logger,
		OnChange:    s.notify,
	})
	return s
}

// JoinRoom acquires local media, connects to the hub and announces this
// participant. Calls while a join is in flight or complete do nothing.
func (s *Session) JoinRoom(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Joining, Joined, InCall:
		s.mu.Unlock()
		return nil
	case Idle:
		s.transitionLocked(Joining)
	default:
		s.mu.Unlock()
		return NewError("join room", ErrRoomLeft)
	}
	s.mu.Unlock()
	s.notify()

	if s.opts.MediaSource != nil {
		stream, err := s.media.GetLocalStream(ctx)
		if err != nil {
			s.notice(NoticeWarn, "Camera or microphone unavailable, joining without local media")
		} else {
			s.peers.SetLocalTracks(stream.LocalTracks())
		}
	}

	if err := s.hub.Connect(ctx); err != nil {
		s.abortJoin()
		return WrapError("join room", err, "connect to hub")
	}
	s.runOnce.Do(func() { go s.run() })

	if err := s.join(ctx); err != nil {
		s.abortJoin()
		return NewError("join room", err)
	}

	s.mu.Lock()
	ok := s.transitionLocked(Joined)
	s.mu.Unlock()
	if !ok {
		return NewError("join room", ErrRoomLeft)
	}

	s.refreshParticipants(ctx)
	s.sig.flush(ctx)
	s.notice(NoticeInfo, "Joined the meeting")
	return nil
}

func (s *Session) abortJoin() {
	s.mu.Lock()
	if s.state == Joining {
		s.transitionLocked(Idle)
	}
	s.mu.Unlock()
	s.notify()
}

// join announces this participant and records the connection id assigned by
// the hub. It runs on first join and after every reconnect.
func (s *Session) join(ctx context.Context) error {
	raw, err := s.hub.Invoke(ctx, signaling.MethodJoinRoom, s.opts.EventID, s.opts.Name, s.opts.IsHost)
	if err != nil {
		return err
	}
	var res signaling.JoinResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("decode join result: %w", err)
	}
	if res.ConnectionID == "" {
		return errors.New("hub returned no connection id")
	}

	s.mu.Lock()
	s.localID = res.ConnectionID
	s.isHost = res.IsHost
	s.connected = true
	s.mu.Unlock()
	s.logger.Info("joined room", "connection_id", res.ConnectionID, "host", res.IsHost)

	if _, err := s.hub.Invoke(ctx, signaling.MethodJoinRoomConfirm, s.opts.EventID, res.ConnectionID); err != nil {
		s.logger.Warn("confirm attendance", "error", err)
	}
	return nil
}

// refreshParticipants replaces the participant list with the hub's view.
func (s *Session) refreshParticipants(ctx context.Context) {
	raw, err := s.hub.Invoke(ctx, signaling.MethodGetParticipants, s.opts.EventID)
	if err != nil {
		s.logger.Warn("get participants", "error", err)
		return
	}
	var list []signaling.ParticipantInfo
	if err := json.Unmarshal(raw, &list); err != nil {
		s.logger.Warn("decode participants", "error", err)
		return
	}

	s.mu.Lock()
	seen := make(map[string]bool, len(list))
	for _, info := range list {
		if info.ConnectionID == s.localID {
			continue
		}
		seen[info.ConnectionID] = true
		p := s.upsertLocked(info.ConnectionID)
		p.Name = info.Name
		p.Role = roleOf(info.IsHost)
		p.AudioEnabled = info.AudioEnabled
		p.VideoEnabled = info.VideoEnabled
		p.HandRaised = info.HandRaised
	}
	var gone []string
	for id := range s.participants {
		if !seen[id] {
			gone = append(gone, id)
			delete(s.participants, id)
		}
	}
	s.mu.Unlock()

	for _, id := range gone {
		s.peers.ClosePeer(id)
	}
	s.notify()
}

// StartCall offers to every participant already in the room. Participants
// joining later are offered to as they arrive.
func (s *Session) StartCall(ctx context.Context) error {
	s.mu.Lock()
	if s.state == InCall {
		s.mu.Unlock()
		return nil
	}
	if !s.transitionLocked(InCall) {
		s.mu.Unlock()
		return NewError("start call", ErrNotJoined)
	}
	ids := s.participantIDsLocked()
	s.mu.Unlock()
	s.notify()

	for _, id := range ids {
		if err := s.peers.StartOffer(ctx, id); err != nil {
			s.logger.Warn("start offer", "remote_id", id, "error", err)
		}
	}
	return nil
}

// LeaveRoom tells the hub this participant leaves, then releases every
// connection and device.
func (s *Session) LeaveRoom(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Leaving || s.state == Left {
		s.mu.Unlock()
		return nil
	}
	member := s.state != Idle
	if member {
		s.transitionLocked(Leaving)
	}
	s.mu.Unlock()

	if member && s.hub.Connected() {
		if _, err := s.hub.Invoke(ctx, signaling.MethodLeaveRoom, s.opts.EventID); err != nil {
			s.logger.Warn("leave room", "error", err)
		}
	}
	s.teardown(NoticeInfo, "You left the meeting")
	s.hub.Close()
	return nil
}

// EndRoom ends the meeting for everyone. Only the host may end it.
func (s *Session) EndRoom(ctx context.Context) error {
	if err := s.requireHost("end room"); err != nil {
		return err
	}
	if _, err := s.hub.Invoke(ctx, signaling.MethodEndRoom, s.opts.EventID); err != nil {
		return NewError("end room", err)
	}
	s.teardown(NoticeInfo, "You ended the meeting")
	s.hub.Close()
	return nil
}

// teardown closes every peer, stops local media and captions and marks the
// session Left. Later calls do nothing.
func (s *Session) teardown(level NoticeLevel, reason string) {
	s.mu.Lock()
	if s.state == Left {
		s.mu.Unlock()
		return
	}
	s.transitionLocked(Left)
	s.participants = make(map[string]*Participant)
	s.connected = false
	s.handRaised = false
	s.resumeTranscription = false
	s.stopResumeLocked()
	s.mu.Unlock()

	s.peers.CloseAll()
	s.captions.Close()
	s.media.Stop()
	s.sig.reset()
	s.quitOnce.Do(func() { close(s.quit) })
	s.cancel()

	s.logger.Info("room session ended", "reason", reason)
	s.notice(level, "%s", reason)
	s.notify()
}

// Done is closed once the session reached Left.
func (s *Session) Done() <-chan struct{} {
	return s.quit
}

func (s *Session) run() {
	events := s.hub.Events()
	for {
		select {
		case ev := <-events:
			s.handle(ev)
		case <-s.quit:
			return
		}
	}
}

func (s *Session) transitionLocked(to RoomState) bool {
	if !CanTransition(s.state, to) {
		return false
	}
	s.logger.Debug("room state", "from", s.state.String(), "to", to.String())
	s.state = to
	return true
}

func (s *Session) requireHost(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Joined && s.state != InCall {
		return NewError(op, ErrNotJoined)
	}
	if !s.isHost {
		return NewError(op, ErrNotHost)
	}
	return nil
}

func (s *Session) requireJoined(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Joined && s.state != InCall {
		return NewError(op, ErrNotJoined)
	}
	return nil
}

func (s *Session) upsertLocked(id string) *Participant {
	p, ok := s.participants[id]
	if !ok {
		p = &Participant{ConnectionID: id, Role: RoleAttendee, Status: StatusConnecting}
		s.participants[id] = p
	}
	return p
}

func (s *Session) participantIDsLocked() []string {
	ids := make([]string, 0, len(s.participants))
	for id := range s.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func roleOf(host bool) Role {
	if host {
		return RoleHost
	}
	return RoleAttendee
}

func (s *Session) onICEState(remoteID string, state pion.ICEConnectionState) {
	var status Status
	switch state {
	case pion.ICEConnectionStateNew, pion.ICEConnectionStateChecking:
		status = StatusConnecting
	case pion.ICEConnectionStateConnected, pion.ICEConnectionStateCompleted:
		status = StatusConnected
	case pion.ICEConnectionStateDisconnected, pion.ICEConnectionStateFailed, pion.ICEConnectionStateClosed:
		status = StatusDisconnected
	default:
		return
	}

	s.mu.Lock()
	p, ok := s.participants[remoteID]
	if ok {
		p.Status = status
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
}

// LocalID is the connection id assigned by the hub, empty before joining.
func (s *Session) LocalID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localID
}

func (s *Session) State() RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the session holds a live hub connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Participants returns the remote participants, host first, then by name.
func (s *Session) Participants() []Participant {
	s.mu.Lock()
	out := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, *p)
	}
	s.mu.Unlock()

	for i := range out {
		out[i].HasStream = len(s.peers.RemoteTracks(out[i].ConnectionID)) > 0
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Role == RoleHost) != (out[j].Role == RoleHost) {
			return out[i].Role == RoleHost
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ConnectionID < out[j].ConnectionID
	})
	return out
}

func (s *Session) Chat() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatMessage(nil), s.chat...)
}

// Captions returns every received transcript, oldest first.
func (s *Session) Captions() []captions.Transcript {
	return s.captions.Transcripts()
}

// Peers exposes the peer connection manager.
func (s *Session) Peers() *peer.Manager {
	return s.peers
}

// Snapshot copies the whole session state.
func (s *Session) Snapshot() Snapshot {
	participants := s.Participants()

	s.mu.Lock()
	snap := Snapshot{
		EventID:           s.opts.EventID,
		Name:              s.opts.Name,
		LocalID:           s.localID,
		State:             s.state,
		IsHost:            s.isHost,
		Connected:         s.connected,
		HandRaised:        s.handRaised,
		Chat:              append([]ChatMessage(nil), s.chat...),
		EndWarning:        s.endWarning,
		SummaryGenerating: s.summaryGenerating,
		SummaryError:      s.summaryErr,
	}
	if s.summary != nil {
		summary := *s.summary
		snap.Summary = &summary
	}
	s.mu.Unlock()

	snap.Participants = participants
	snap.Media = s.media.State()
	snap.Transcribing = s.captions.Enabled()
	snap.Captions = s.captions.CaptionsEnabled()
	snap.Overlay = s.captions.Overlay()
	return snap
}

func (s *Session) notify() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

func (s *Session) notice(level NoticeLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case NoticeError:
		s.logger.Error(msg)
	case NoticeWarn:
		s.logger.Warn(msg)
	default:
		s.logger.Info(msg)
	}
	if s.opts.OnNotice != nil {
		s.opts.OnNotice(Notice{Level: level, Message: msg, At: time.Now()})
	}
}
