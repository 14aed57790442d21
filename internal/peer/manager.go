package peer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bep/debounce"
	pion "github.com/pion/webrtc/v4"
)

// DefaultDisconnectGrace is how long a disconnected ICE transport may
// recover on its own before an ICE restart.
const DefaultDisconnectGrace = 3 * time.Second

// DefaultRenegotiateDebounce coalesces the renegotiations of a device switch,
// which replaces audio and video one after the other.
const DefaultRenegotiateDebounce = 150 * time.Millisecond

// Signaler relays negotiation messages to a remote participant.
type Signaler interface {
	SendOffer(ctx context.Context, remoteID, sdp string) error
	SendAnswer(ctx context.Context, remoteID, sdp string) error
	SendICECandidate(ctx context.Context, remoteID string, candidate pion.ICECandidateInit) error
	Connected() bool
}

// Options configures a Manager.
type Options struct {
	// LocalID returns the local connection id. It is read on every
	// negotiation because the id is only known after joining.
	LocalID func() string

	Configuration pion.Configuration
	NewConn       ConnFactory
	Signaler      Signaler
	Logger        *slog.Logger

	// DisconnectGrace defaults to DefaultDisconnectGrace.
	DisconnectGrace time.Duration

	// RenegotiateDebounce coalesces renegotiations after track changes.
	// Zero means DefaultRenegotiateDebounce; negative renegotiates immediately.
	RenegotiateDebounce time.Duration

	OnICEStateChange func(remoteID string, state pion.ICEConnectionState)
	OnRemoteTrack    func(remoteID string, track *RemoteTrack)
}

// Manager owns one peer connection per remote participant.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu          sync.RWMutex
	peers       map[string]*Peer
	localTracks []pion.TrackLocal
}

func NewManager(opts Options) *Manager {
	if opts.NewConn == nil {
		opts.NewConn = NewPionConn
	}
	if opts.DisconnectGrace <= 0 {
		opts.DisconnectGrace = DefaultDisconnectGrace
	}
	if opts.RenegotiateDebounce == 0 {
		opts.RenegotiateDebounce = DefaultRenegotiateDebounce
	}
	if opts.LocalID == nil {
		opts.LocalID = func() string { return "" }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:   opts,
		logger: logger.With("component", "peer"),
		peers:  make(map[string]*Peer),
	}
}

// SetLocalTracks sets the tracks added to connections created from now on.
func (m *Manager) SetLocalTracks(tracks []pion.TrackLocal) {
	m.mu.Lock()
	m.localTracks = append([]pion.TrackLocal(nil), tracks...)
	m.mu.Unlock()
}

// CreatePeerConnection returns the entry for remoteID, creating it on first use.
func (m *Manager) CreatePeerConnection(remoteID string) (*Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.peers[remoteID]; ok {
		return p, nil
	}

	p := &Peer{
		remoteID:  remoteID,
		logger:    m.logger.With("remote_id", remoteID),
		iceStates: make(chan pion.ICEConnectionState, 8),
		quit:      make(chan struct{}),
		state:     NoConnection,
	}
	if m.opts.RenegotiateDebounce > 0 {
		p.debounced = debounce.New(m.opts.RenegotiateDebounce)
	}

	conn, err := m.dial(p, m.localTracks)
	if err != nil {
		return nil, fmt.Errorf("create peer connection for %s: %w", remoteID, err)
	}
	p.conn = conn

	m.peers[remoteID] = p
	go m.watchICE(p)

	p.logger.Debug("peer connection created", "local_tracks", len(m.localTracks))
	return p, nil
}

// dial creates a connection for p carrying tracks and attaches the
// handlers. Callbacks from a connection that was since replaced are dropped.
func (m *Manager) dial(p *Peer, tracks []pion.TrackLocal) (Conn, error) {
	conn, err := m.opts.NewConn(m.opts.Configuration)
	if err != nil {
		return nil, err
	}
	gen := p.gen.Add(1)
	current := func() bool { return p.gen.Load() == gen }

	conn.OnICECandidate(func(candidate pion.ICECandidateInit) {
		if !current() {
			return
		}
		if err := m.opts.Signaler.SendICECandidate(context.Background(), p.remoteID, candidate); err != nil {
			p.logger.Warn("send ICE candidate", "error", err)
		}
	})
	conn.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		if !current() {
			return
		}
		select {
		case p.iceStates <- state:
		case <-p.quit:
		}
	})
	conn.OnTrack(func(track *pion.TrackRemote) {
		if !current() {
			return
		}
		rt := p.addRemoteTrack(track)
		p.logger.Info("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if m.opts.OnRemoteTrack != nil {
			m.opts.OnRemoteTrack(p.remoteID, rt)
		}
	})

	for _, track := range tracks {
		if _, err := conn.AddTrack(track); err != nil {
			p.logger.Warn("add local track", "kind", track.Kind().String(), "error", err)
		}
	}
	return conn, nil
}

// Get returns the entry for remoteID or nil.
func (m *Manager) Get(remoteID string) *Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peers[remoteID]
}

// Peers returns every entry ordered by remote id.
func (m *Manager) Peers() []*Peer {
	m.mu.RLock()
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].remoteID < out[j].remoteID })
	return out
}

// RemoteTracks returns the inbound tracks of remoteID.
func (m *Manager) RemoteTracks(remoteID string) []*RemoteTrack {
	p := m.Get(remoteID)
	if p == nil {
		return nil
	}
	return p.RemoteTracks()
}

// UpdatePeerConnectionTracks swaps every sender track for the track of the
// same kind in tracks, then renegotiates stable connections.
func (m *Manager) UpdatePeerConnectionTracks(ctx context.Context, tracks []pion.TrackLocal) {
	m.SetLocalTracks(tracks)

	for _, p := range m.Peers() {
		m.replaceTracks(p, tracks)
		m.scheduleRenegotiation(ctx, p)
	}
}

func (m *Manager) replaceTracks(p *Peer, tracks []pion.TrackLocal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	covered := make(map[pion.RTPCodecType]bool)
	for _, sender := range p.conn.Senders() {
		current := sender.Track()
		if current == nil {
			continue
		}
		kind := current.Kind()
		covered[kind] = true

		next := firstOfKind(tracks, kind)
		if next == nil || next == current {
			continue
		}
		if err := sender.ReplaceTrack(next); err != nil {
			p.logger.Warn("replace track", "kind", kind.String(), "error", err)
		}
	}

	for _, track := range tracks {
		if covered[track.Kind()] {
			continue
		}
		covered[track.Kind()] = true
		if _, err := p.conn.AddTrack(track); err != nil {
			p.logger.Warn("add track", "kind", track.Kind().String(), "error", err)
		}
	}
}

func firstOfKind(tracks []pion.TrackLocal, kind pion.RTPCodecType) pion.TrackLocal {
	for _, t := range tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func (m *Manager) scheduleRenegotiation(ctx context.Context, p *Peer) {
	if p.debounced == nil {
		m.renegotiate(ctx, p)
		return
	}
	p.debounced(func() { m.renegotiate(context.Background(), p) })
}

// ClosePeer closes and forgets the entry for remoteID.
func (m *Manager) ClosePeer(remoteID string) {
	m.mu.Lock()
	p, ok := m.peers[remoteID]
	delete(m.peers, remoteID)
	m.mu.Unlock()

	if ok {
		p.close()
		p.logger.Info("peer connection closed")
	}
}

// CloseAll closes every entry.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	peers := m.peers
	m.peers = make(map[string]*Peer)
	m.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}
