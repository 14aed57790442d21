package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/prefs"
	pion "github.com/pion/webrtc/v4"
)

// ErrNoStream is returned by toggles before a local stream was acquired.
var ErrNoStream = errors.New("no local media stream")

// MediaBroadcaster tells other participants about local media changes.
type MediaBroadcaster interface {
	BroadcastMediaState(ctx context.Context, kind string, enabled bool) error
}

// TrackUpdater pushes replaced tracks into every peer connection.
type TrackUpdater interface {
	UpdatePeerConnectionTracks(ctx context.Context, tracks []pion.TrackLocal)
}

// PrefsStore persists mute preferences.
type PrefsStore interface {
	Load() (prefs.Prefs, error)
	Update(fn func(*prefs.Prefs)) error
}

// State is a snapshot of local media.
type State struct {
	HasStream    bool
	AudioEnabled bool
	VideoEnabled bool
}

type ControllerOptions struct {
	Source      Source
	Constraints Constraints
	Prefs       PrefsStore
	Broadcaster MediaBroadcaster
	Tracks      TrackUpdater
	Logger      *slog.Logger

	// OnChange is called after every local media change.
	OnChange func(State)
}

// Controller owns the local stream shared by every peer connection.
type Controller struct {
	opts   ControllerOptions
	logger *slog.Logger

	mu         sync.Mutex
	stream     *Stream
	acquiring  chan struct{}
	acquireErr error
}

func NewController(opts ControllerOptions) *Controller {
	if opts.Constraints == (Constraints{}) {
		opts.Constraints = Constraints{Audio: true, Video: true}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{opts: opts, logger: logger.With("component", "media")}
}

// GetLocalStream acquires the camera and microphone once. Concurrent callers
// share the same acquisition. A failed acquisition may be retried.
func (c *Controller) GetLocalStream(ctx context.Context) (*Stream, error) {
	c.mu.Lock()
	if c.stream != nil {
		s := c.stream
		c.mu.Unlock()
		return s, nil
	}
	if wait := c.acquiring; wait != nil {
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.stream != nil {
			return c.stream, nil
		}
		return nil, c.acquireErr
	}
	wait := make(chan struct{})
	c.acquiring = wait
	c.mu.Unlock()

	stream, err := Acquire(ctx, c.opts.Source, c.opts.Constraints)
	if err == nil {
		c.applyPrefs(stream)
	}

	c.mu.Lock()
	c.acquiring = nil
	c.acquireErr = err
	if err == nil {
		c.stream = stream
	}
	c.mu.Unlock()
	close(wait)

	if err != nil {
		c.logger.Warn("acquire local media", "error", err)
		return nil, err
	}
	c.logger.Info("local media acquired", "tracks", len(stream.Tracks()))
	c.notify()
	return stream, nil
}

func (c *Controller) applyPrefs(s *Stream) {
	if c.opts.Prefs == nil {
		return
	}
	p, err := c.opts.Prefs.Load()
	if err != nil {
		c.logger.Warn("load media preferences", "error", err)
		return
	}
	if p.MicEnabled != nil {
		setEnabled(s.AudioTracks(), *p.MicEnabled)
	}
	if p.CamEnabled != nil {
		setEnabled(s.VideoTracks(), *p.CamEnabled)
	}
}

func setEnabled(tracks []*Track, enabled bool) {
	for _, t := range tracks {
		t.SetEnabled(enabled)
	}
}

// Stream returns the current local stream, or nil.
func (c *Controller) Stream() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// AudioTrack returns the first local audio track, or nil.
func (c *Controller) AudioTrack() *Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	if audio := c.stream.AudioTracks(); len(audio) > 0 {
		return audio[0]
	}
	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	if c.stream == nil {
		return State{}
	}
	st := State{HasStream: true}
	for _, t := range c.stream.AudioTracks() {
		st.AudioEnabled = st.AudioEnabled || t.Live()
	}
	for _, t := range c.stream.VideoTracks() {
		st.VideoEnabled = st.VideoEnabled || t.Live()
	}
	return st
}

// ToggleAudio flips microphone enablement and returns the new value.
func (c *Controller) ToggleAudio(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.stream == nil {
		c.mu.Unlock()
		return false, ErrNoStream
	}
	audio := c.stream.AudioTracks()
	if len(audio) == 0 {
		c.mu.Unlock()
		return false, ErrDeviceUnavailable
	}
	next := !audio[0].Enabled()
	setEnabled(audio, next)
	c.mu.Unlock()

	c.committed(ctx, KindAudio, next)
	return next, nil
}

// SetAudioEnabled forces microphone enablement.
func (c *Controller) SetAudioEnabled(ctx context.Context, enabled bool) error {
	c.mu.Lock()
	if c.stream == nil {
		c.mu.Unlock()
		return ErrNoStream
	}
	audio := c.stream.AudioTracks()
	if len(audio) == 0 {
		c.mu.Unlock()
		return ErrDeviceUnavailable
	}
	setEnabled(audio, enabled)
	c.mu.Unlock()

	c.committed(ctx, KindAudio, enabled)
	return nil
}

// ToggleVideo flips camera enablement. When the video track has ended a new
// camera track is acquired, combined with the current audio tracks, and
// pushed into every peer connection.
func (c *Controller) ToggleVideo(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.stream == nil {
		c.mu.Unlock()
		return false, ErrNoStream
	}
	video := c.stream.VideoTracks()
	if len(video) > 0 && !video[0].Ended() {
		next := !video[0].Enabled()
		setEnabled(video, next)
		c.mu.Unlock()

		c.committed(ctx, KindVideo, next)
		return next, nil
	}
	c.mu.Unlock()

	if err := c.reacquireVideo(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// SetVideoEnabled forces camera enablement, reacquiring an ended camera when
// enabling.
func (c *Controller) SetVideoEnabled(ctx context.Context, enabled bool) error {
	c.mu.Lock()
	if c.stream == nil {
		c.mu.Unlock()
		return ErrNoStream
	}
	video := c.stream.VideoTracks()
	if enabled && (len(video) == 0 || video[0].Ended()) {
		c.mu.Unlock()
		return c.reacquireVideo(ctx)
	}
	setEnabled(video, enabled)
	c.mu.Unlock()

	c.committed(ctx, KindVideo, enabled)
	return nil
}

func (c *Controller) reacquireVideo(ctx context.Context) error {
	fresh, err := Acquire(ctx, c.opts.Source, Constraints{Video: true})
	if err != nil {
		c.logger.Warn("reacquire camera", "error", err)
		return err
	}

	var camera *Track
	for _, t := range fresh.Tracks() {
		if camera == nil && t.Kind() == pion.RTPCodecTypeVideo {
			camera = t
			continue
		}
		t.Stop()
	}
	if camera == nil {
		return ErrDeviceUnavailable
	}

	c.mu.Lock()
	if c.stream == nil {
		c.mu.Unlock()
		camera.Stop()
		return ErrNoStream
	}
	for _, old := range c.stream.VideoTracks() {
		old.Stop()
	}
	combined := NewStream(append(c.stream.AudioTracks(), camera)...)
	c.stream = combined
	c.mu.Unlock()

	c.logger.Info("camera reacquired", "track", camera.ID())
	if c.opts.Tracks != nil {
		c.opts.Tracks.UpdatePeerConnectionTracks(ctx, combined.LocalTracks())
	}
	c.committed(ctx, KindVideo, true)
	return nil
}

// committed persists, broadcasts and reports one media change.
func (c *Controller) committed(ctx context.Context, kind string, enabled bool) {
	if c.opts.Prefs != nil {
		err := c.opts.Prefs.Update(func(p *prefs.Prefs) {
			if kind == KindAudio {
				p.MicEnabled = prefs.Bool(enabled)
			} else {
				p.CamEnabled = prefs.Bool(enabled)
			}
		})
		if err != nil {
			c.logger.Warn("save media preferences", "error", err)
		}
	}

	if c.opts.Broadcaster != nil {
		if err := c.opts.Broadcaster.BroadcastMediaState(ctx, kind, enabled); err != nil {
			c.logger.Warn("broadcast media state", "kind", kind, "error", err)
		}
	}

	c.logger.Debug("media state changed", "kind", kind, "enabled", enabled)
	c.notify()
}

func (c *Controller) notify() {
	if c.opts.OnChange != nil {
		c.opts.OnChange(c.State())
	}
}

// Stop stops every local track and forgets the stream.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.stream
	c.stream = nil
	c.mu.Unlock()

	if s != nil {
		s.Stop()
		c.notify()
	}
}
