// Package peertest provides an in-memory peer.Conn for tests. It models the
// signaling state machine and reports ICE "connected" once both descriptions
// are applied; no packets are exchanged. Like pion it cannot roll back a
// local description.
package peertest

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/peer"
	pion "github.com/pion/webrtc/v4"
)

var (
	errClosed   = errors.New("peertest: connection closed")
	errRollback = errors.New("peertest: rollback is not supported")
)

// fingerprints numbers connections across networks so each one has its own
// certificate fingerprint.
var fingerprints atomic.Uint64

// Network records every connection created through its Factory.
type Network struct {
	mu    sync.Mutex
	conns []*Conn

	// NoCandidates disables local candidate emission.
	NoCandidates bool
}

// Factory returns a peer.ConnFactory backed by this network.
func (n *Network) Factory() peer.ConnFactory {
	return func(pion.Configuration) (peer.Conn, error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		c := &Conn{
			id:           len(n.conns) + 1,
			fingerprint:  fmt.Sprintf("sha-256 FA:KE:%04X", fingerprints.Add(1)),
			signaling:    pion.SignalingStateStable,
			ice:          pion.ICEConnectionStateNew,
			noCandidates: n.NoCandidates,
		}
		n.conns = append(n.conns, c)
		return c, nil
	}
}

// Conns returns the connections created so far.
func (n *Network) Conns() []*Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Conn(nil), n.conns...)
}

// Sender is a fake RTP sender.
type Sender struct {
	mu       sync.Mutex
	track    pion.TrackLocal
	replaced int
}

func (s *Sender) Track() pion.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *Sender) ReplaceTrack(track pion.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	s.replaced++
	return nil
}

// Replaced counts ReplaceTrack calls.
func (s *Sender) Replaced() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaced
}

// Conn is an in-memory peer.Conn.
type Conn struct {
	id           int
	fingerprint  string
	noCandidates bool

	mu            sync.Mutex
	signaling     pion.SignalingState
	ice           pion.ICEConnectionState
	pendingLocal  *pion.SessionDescription
	currentLocal  *pion.SessionDescription
	pendingRemote *pion.SessionDescription
	currentRemote *pion.SessionDescription
	seq           int
	offers        int
	restarts      int
	applied       []pion.ICECandidateInit
	senders       []*Sender
	closed        bool

	onCandidate func(pion.ICECandidateInit)
	onICE       func(pion.ICEConnectionState)
}

var _ peer.Conn = (*Conn)(nil)

func (c *Conn) SignalingState() pion.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signaling
}

func (c *Conn) ICEConnectionState() pion.ICEConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ice
}

func (c *Conn) RemoteDescription() *pion.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingRemote != nil {
		return c.pendingRemote
	}
	return c.currentRemote
}

func (c *Conn) CreateOffer(options *pion.OfferOptions) (pion.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pion.SessionDescription{}, errClosed
	}
	c.seq++
	c.offers++
	if options != nil && options.ICERestart {
		c.restarts++
	}
	return pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: c.sdpLocked("fake-offer")}, nil
}

func (c *Conn) CreateAnswer(*pion.AnswerOptions) (pion.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pion.SessionDescription{}, errClosed
	}
	if c.signaling != pion.SignalingStateHaveRemoteOffer {
		return pion.SessionDescription{}, fmt.Errorf("peertest: create answer in state %s", c.signaling)
	}
	c.seq++
	return pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: c.sdpLocked("fake-answer")}, nil
}

// sdpLocked renders a minimal session description with the fingerprint of c.
func (c *Conn) sdpLocked(name string) string {
	return fmt.Sprintf("v=0\r\no=- %d %d IN IP4 127.0.0.1\r\ns=%s\r\nt=0 0\r\na=fingerprint:%s\r\n",
		c.id, c.seq, name, c.fingerprint)
}

func (c *Conn) SetLocalDescription(desc pion.SessionDescription) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}

	switch desc.Type {
	case pion.SDPTypeOffer:
		if c.signaling != pion.SignalingStateStable && c.signaling != pion.SignalingStateHaveLocalOffer {
			c.mu.Unlock()
			return fmt.Errorf("peertest: set local offer in state %s", c.signaling)
		}
		c.pendingLocal = &desc
		c.signaling = pion.SignalingStateHaveLocalOffer

	case pion.SDPTypeAnswer:
		if c.signaling != pion.SignalingStateHaveRemoteOffer {
			c.mu.Unlock()
			return fmt.Errorf("peertest: set local answer in state %s", c.signaling)
		}
		c.currentLocal = &desc
		c.currentRemote = c.pendingRemote
		c.pendingRemote = nil
		c.signaling = pion.SignalingStateStable

	case pion.SDPTypeRollback:
		c.mu.Unlock()
		return errRollback

	default:
		c.mu.Unlock()
		return fmt.Errorf("peertest: unsupported local description %s", desc.Type)
	}

	candidate, emit := c.nextCandidateLocked()
	connected := c.connectLocked()
	onCandidate, onICE := c.onCandidate, c.onICE
	c.mu.Unlock()

	if emit && onCandidate != nil {
		onCandidate(candidate)
	}
	if connected && onICE != nil {
		onICE(pion.ICEConnectionStateConnected)
	}
	return nil
}

func (c *Conn) SetRemoteDescription(desc pion.SessionDescription) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}

	switch desc.Type {
	case pion.SDPTypeOffer:
		if c.signaling != pion.SignalingStateStable {
			c.mu.Unlock()
			return fmt.Errorf("peertest: set remote offer in state %s", c.signaling)
		}
		c.pendingRemote = &desc
		c.signaling = pion.SignalingStateHaveRemoteOffer

	case pion.SDPTypeAnswer:
		if c.signaling != pion.SignalingStateHaveLocalOffer {
			c.mu.Unlock()
			return fmt.Errorf("peertest: set remote answer in state %s", c.signaling)
		}
		c.currentRemote = &desc
		c.currentLocal = c.pendingLocal
		c.pendingLocal = nil
		c.signaling = pion.SignalingStateStable

	default:
		c.mu.Unlock()
		return fmt.Errorf("peertest: unsupported remote description %s", desc.Type)
	}

	connected := c.connectLocked()
	onICE := c.onICE
	c.mu.Unlock()

	if connected && onICE != nil {
		onICE(pion.ICEConnectionStateConnected)
	}
	return nil
}

// connectLocked moves ICE to connected once a full exchange completed.
func (c *Conn) connectLocked() bool {
	if c.signaling != pion.SignalingStateStable || c.currentLocal == nil || c.currentRemote == nil {
		return false
	}
	if c.ice == pion.ICEConnectionStateConnected {
		return false
	}
	c.ice = pion.ICEConnectionStateConnected
	return true
}

func (c *Conn) nextCandidateLocked() (pion.ICECandidateInit, bool) {
	if c.noCandidates {
		return pion.ICECandidateInit{}, false
	}
	mid := "0"
	return pion.ICECandidateInit{
		Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 10.0.0.%d 5000%d typ host", c.seq, c.id, c.seq%10),
		SDPMid:    &mid,
	}, true
}

func (c *Conn) AddICECandidate(candidate pion.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	if c.pendingRemote == nil && c.currentRemote == nil {
		return errors.New("peertest: remote description not set")
	}
	c.applied = append(c.applied, candidate)
	return nil
}

func (c *Conn) AddTrack(track pion.TrackLocal) (peer.Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	s := &Sender{track: track}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *Conn) Senders() []peer.Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]peer.Sender, len(c.senders))
	for i, s := range c.senders {
		out[i] = s
	}
	return out
}

func (c *Conn) OnICECandidate(f func(pion.ICECandidateInit)) {
	c.mu.Lock()
	c.onCandidate = f
	c.mu.Unlock()
}

func (c *Conn) OnICEConnectionStateChange(f func(pion.ICEConnectionState)) {
	c.mu.Lock()
	c.onICE = f
	c.mu.Unlock()
}

// OnTrack is accepted but never fires: no media flows.
func (c *Conn) OnTrack(func(*pion.TrackRemote)) {}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.signaling = pion.SignalingStateClosed
	c.ice = pion.ICEConnectionStateClosed
	onICE := c.onICE
	c.mu.Unlock()

	if onICE != nil {
		onICE(pion.ICEConnectionStateClosed)
	}
	return nil
}

// SetICEState forces an ICE state and notifies the handler.
func (c *Conn) SetICEState(state pion.ICEConnectionState) {
	c.mu.Lock()
	c.ice = state
	onICE := c.onICE
	c.mu.Unlock()
	if onICE != nil {
		onICE(state)
	}
}

// Applied returns the remote candidates applied so far.
func (c *Conn) Applied() []pion.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pion.ICECandidateInit(nil), c.applied...)
}

// Offers counts created offers; Restarts counts those with ICERestart.
func (c *Conn) Offers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers
}

func (c *Conn) Restarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarts
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FakeSenders returns the concrete senders for assertions.
func (c *Conn) FakeSenders() []*Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Sender(nil), c.senders...)
}
