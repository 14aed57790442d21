package peer

import (
	"context"
	"fmt"

	"github.com/pion/sdp/v3"
	pion "github.com/pion/webrtc/v4"
)

// StartOffer sends the initial offer to remoteID. It does nothing when the
// peer was already initiated or is not in a fresh stable state, except that
// an offer whose delivery failed earlier is sent again.
func (m *Manager) StartOffer(ctx context.Context, remoteID string) error {
	p, err := m.CreatePeerConnection(remoteID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPeerClosed
	}
	if p.unsent != nil {
		return m.resendLocked(ctx, p)
	}
	if p.initiated || p.conn.SignalingState() != pion.SignalingStateStable || p.conn.RemoteDescription() != nil {
		p.logger.Debug("skipping offer", "initiated", p.initiated, "signaling_state", p.conn.SignalingState().String())
		return nil
	}

	p.initiated = true
	if err := m.offerLocked(ctx, p, nil, LocalOfferPending); err != nil {
		p.initiated = p.unsent != nil
		return err
	}
	return nil
}

// HandleOffer applies a remote offer using perfect negotiation. On a
// collision the impolite side ignores the incoming offer. The polite side
// abandons its own offer by rebuilding the connection, since pion cannot roll
// back a local description. An offer from a rebuilt remote connection is
// accepted on a rebuilt local one.
func (m *Manager) HandleOffer(ctx context.Context, remoteID, sdp string) error {
	p, err := m.CreatePeerConnection(remoteID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPeerClosed
	}

	switch {
	case remoteRestarted(p.conn.RemoteDescription(), sdp):
		p.logger.Info("remote connection restarted, rebuilding")
		if err := m.rebuildLocked(p); err != nil {
			return err
		}

	case p.conn.SignalingState() != pion.SignalingStateStable:
		if !Polite(m.opts.LocalID(), remoteID) {
			p.logger.Info("offer collision, ignoring remote offer")
			return nil
		}
		established := p.conn.RemoteDescription() != nil
		if err := m.rebuildLocked(p); err != nil {
			return err
		}
		if established {
			// The colliding offer belongs to the old transport. Start a new
			// session instead; the remote side rebuilds when it sees it.
			p.logger.Info("offer collision on an established connection, restarting")
			p.initiated = true
			return m.offerLocked(ctx, p, nil, LocalOfferPending)
		}
		p.logger.Info("offer collision, abandoning local offer")
	}

	offer := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: sdp}
	if err := p.conn.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	p.setState(RemoteOfferReceived)
	p.drainLocked()

	answer, err := p.conn.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := p.conn.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	p.initiated = true
	p.setState(Stable)

	if err := m.opts.Signaler.SendAnswer(ctx, remoteID, answer.SDP); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}

	m.afterStableLocked(ctx, p)
	return nil
}

// HandleAnswer applies a remote answer to the outstanding local offer.
// Stale answers are ignored.
func (m *Manager) HandleAnswer(ctx context.Context, remoteID, sdp string) error {
	p := m.Get(remoteID)
	if p == nil {
		return fmt.Errorf("answer from %s: %w", remoteID, ErrUnknownPeer)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPeerClosed
	}
	if state := p.conn.SignalingState(); state != pion.SignalingStateHaveLocalOffer {
		p.logger.Debug("ignoring answer", "signaling_state", state.String())
		return nil
	}

	answer := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: sdp}
	if err := p.conn.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	p.unsent = nil
	p.setState(Stable)
	p.drainLocked()

	m.afterStableLocked(ctx, p)
	return nil
}

// AddICECandidate applies a remote candidate, or queues it until the remote
// description is set. A candidate for an unknown participant creates its
// entry so the candidate is never lost.
func (m *Manager) AddICECandidate(remoteID string, candidate pion.ICECandidateInit) error {
	p, err := m.CreatePeerConnection(remoteID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPeerClosed
	}
	if p.conn.RemoteDescription() == nil {
		p.pending = append(p.pending, candidate)
		return nil
	}
	if err := p.conn.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

// drainLocked applies queued candidates once. Must be called with p.mu held.
func (p *Peer) drainLocked() {
	if len(p.pending) == 0 {
		return
	}
	queued := p.pending
	p.pending = nil

	for _, c := range queued {
		if err := p.conn.AddICECandidate(c); err != nil {
			p.logger.Warn("apply queued ICE candidate", "error", err)
		}
	}
	p.logger.Debug("applied queued ICE candidates", "count", len(queued))
}

// offerLocked creates, applies and sends an offer. If sending fails the
// applied offer is kept and sent again by resendLocked. Must be called with
// p.mu held.
func (m *Manager) offerLocked(ctx context.Context, p *Peer, options *pion.OfferOptions, next NegotiationState) error {
	offer, err := p.conn.CreateOffer(options)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.conn.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	p.setState(next)

	if err := m.opts.Signaler.SendOffer(ctx, p.remoteID, offer.SDP); err != nil {
		p.unsent = &offer
		return fmt.Errorf("send offer: %w", err)
	}
	p.unsent = nil
	return nil
}

// resendLocked sends the applied local offer whose delivery failed. Must be
// called with p.mu held.
func (m *Manager) resendLocked(ctx context.Context, p *Peer) error {
	if p.conn.SignalingState() != pion.SignalingStateHaveLocalOffer {
		p.unsent = nil
		return nil
	}
	if err := m.opts.Signaler.SendOffer(ctx, p.remoteID, p.unsent.SDP); err != nil {
		return fmt.Errorf("resend offer: %w", err)
	}
	p.logger.Info("resent offer")
	p.unsent = nil
	return nil
}

// rebuildLocked replaces the connection of p with a fresh one carrying the
// current local tracks. Queued remote candidates survive. Must be called with
// p.mu held.
func (m *Manager) rebuildLocked(p *Peer) error {
	m.mu.RLock()
	tracks := append([]pion.TrackLocal(nil), m.localTracks...)
	m.mu.RUnlock()

	conn, err := m.dial(p, tracks)
	if err != nil {
		return fmt.Errorf("rebuild peer connection: %w", err)
	}
	old := p.conn
	p.conn = conn
	p.unsent = nil
	p.renegotiate, p.iceRestart = false, false
	p.stopTimer()
	p.setState(NoConnection)

	p.tracksMu.Lock()
	p.remote = nil
	p.tracksMu.Unlock()

	go func() {
		if err := old.Close(); err != nil {
			p.logger.Warn("close replaced connection", "error", err)
		}
	}()
	p.logger.Debug("peer connection rebuilt", "local_tracks", len(tracks))
	return nil
}

// remoteRestarted reports whether offer comes from a different remote
// connection than current, judged by the DTLS certificate fingerprint.
func remoteRestarted(current *pion.SessionDescription, offer string) bool {
	if current == nil {
		return false
	}
	prev, next := fingerprint(current.SDP), fingerprint(offer)
	return prev != "" && next != "" && prev != next
}

func fingerprint(raw string) string {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return ""
	}
	if v, ok := desc.Attribute("fingerprint"); ok {
		return v
	}
	for _, media := range desc.MediaDescriptions {
		if v, ok := media.Attribute("fingerprint"); ok {
			return v
		}
	}
	return ""
}

// afterStableLocked issues a renegotiation that was deferred while an offer
// was outstanding. Must be called with p.mu held.
func (m *Manager) afterStableLocked(ctx context.Context, p *Peer) {
	if !p.renegotiate && !p.iceRestart {
		return
	}
	var options *pion.OfferOptions
	if p.iceRestart {
		options = &pion.OfferOptions{ICERestart: true}
	}
	p.renegotiate, p.iceRestart = false, false

	if !m.opts.Signaler.Connected() {
		p.logger.Debug("signaling disconnected, dropping deferred renegotiation")
		return
	}
	if err := m.offerLocked(ctx, p, options, Renegotiating); err != nil {
		p.logger.Warn("deferred renegotiation", "error", err)
	}
}

// renegotiate offers again after local tracks changed.
func (m *Manager) renegotiate(ctx context.Context, p *Peer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if !m.opts.Signaler.Connected() {
		p.logger.Debug("signaling disconnected, skipping renegotiation")
		return
	}
	if p.unsent != nil {
		if err := m.resendLocked(ctx, p); err != nil {
			p.logger.Warn("resend offer", "error", err)
			return
		}
		p.renegotiate = p.conn.RemoteDescription() != nil
		return
	}
	// The initial offer carries the current tracks.
	if p.conn.RemoteDescription() == nil {
		return
	}
	if p.conn.SignalingState() != pion.SignalingStateStable {
		p.renegotiate = true
		return
	}
	if err := m.offerLocked(ctx, p, nil, Renegotiating); err != nil {
		p.logger.Warn("renegotiate", "error", err)
	}
}
