package peer

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	pion "github.com/pion/webrtc/v4"
)

var (
	ErrUnknownPeer = errors.New("unknown peer")
	ErrPeerClosed  = errors.New("peer connection closed")
)

// Peer is the connection entry for one remote participant.
type Peer struct {
	remoteID string
	conn     Conn
	logger   *slog.Logger

	iceStates chan pion.ICEConnectionState
	quit      chan struct{}
	debounced func(f func())

	// gen identifies the current connection; callbacks from replaced
	// connections carry an older value and are dropped.
	gen atomic.Uint64

	// mu serialises negotiation for this peer.
	mu          sync.Mutex
	state       NegotiationState
	initiated   bool
	pending     []pion.ICECandidateInit
	renegotiate bool
	iceRestart  bool
	unsent      *pion.SessionDescription
	iceTimer    *time.Timer
	closed      bool

	tracksMu sync.Mutex
	remote   []*RemoteTrack
}

// RemoteTrack is an inbound media track and its received packet count.
type RemoteTrack struct {
	Track   *pion.TrackRemote
	packets atomic.Uint64
}

// Packets returns the number of RTP packets read so far.
func (t *RemoteTrack) Packets() uint64 {
	return t.packets.Load()
}

func (t *RemoteTrack) drain() {
	for {
		if _, _, err := t.Track.ReadRTP(); err != nil {
			return
		}
		t.packets.Add(1)
	}
}

func (p *Peer) RemoteID() string { return p.remoteID }

// Conn exposes the underlying connection. It changes when the connection is
// rebuilt after an offer collision.
func (p *Peer) Conn() Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

func (p *Peer) State() NegotiationState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Initiated reports whether an offer or answer was already produced for this peer.
func (p *Peer) Initiated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initiated
}

// PendingCandidates is the number of remote candidates waiting for a
// remote description.
func (p *Peer) PendingCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// RemoteTracks returns the inbound tracks seen so far.
func (p *Peer) RemoteTracks() []*RemoteTrack {
	p.tracksMu.Lock()
	defer p.tracksMu.Unlock()
	out := make([]*RemoteTrack, len(p.remote))
	copy(out, p.remote)
	return out
}

func (p *Peer) addRemoteTrack(track *pion.TrackRemote) *RemoteTrack {
	rt := &RemoteTrack{Track: track}
	p.tracksMu.Lock()
	p.remote = append(p.remote, rt)
	p.tracksMu.Unlock()
	go rt.drain()
	return rt
}

// setState must be called with p.mu held.
func (p *Peer) setState(next NegotiationState) {
	if !CanTransition(p.state, next) {
		p.logger.Warn("illegal negotiation transition", "from", p.state, "to", next)
		return
	}
	if p.state != next {
		p.logger.Debug("negotiation state", "from", p.state, "to", next)
	}
	p.state = next
}

// stopTimer must be called with p.mu held.
func (p *Peer) stopTimer() {
	if p.iceTimer != nil {
		p.iceTimer.Stop()
		p.iceTimer = nil
	}
}

func (p *Peer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.stopTimer()
	p.pending = nil
	p.unsent = nil
	p.setState(Closed)
	close(p.quit)
	conn := p.conn
	p.mu.Unlock()

	if err := conn.Close(); err != nil {
		p.logger.Warn("close peer connection", "error", err)
	}
}
