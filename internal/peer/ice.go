package peer

import (
	"context"
	"time"

	pion "github.com/pion/webrtc/v4"
)

// watchICE handles ICE state changes of one peer in arrival order.
func (m *Manager) watchICE(p *Peer) {
	for {
		select {
		case state := <-p.iceStates:
			m.handleICEState(p, state)
		case <-p.quit:
			return
		}
	}
}

func (m *Manager) handleICEState(p *Peer, state pion.ICEConnectionState) {
	p.logger.Info("ICE connection state", "state", state.String())

	if m.opts.OnICEStateChange != nil {
		m.opts.OnICEStateChange(p.remoteID, state)
	}

	switch state {
	case pion.ICEConnectionStateDisconnected:
		p.mu.Lock()
		if !p.closed {
			p.stopTimer()
			conn := p.conn
			p.iceTimer = time.AfterFunc(m.opts.DisconnectGrace, func() {
				if p.Conn() == conn && conn.ICEConnectionState() == pion.ICEConnectionStateDisconnected {
					m.restartICE(p)
				}
			})
		}
		p.mu.Unlock()

	case pion.ICEConnectionStateFailed:
		p.mu.Lock()
		p.stopTimer()
		p.mu.Unlock()
		m.restartICE(p)

	case pion.ICEConnectionStateConnected, pion.ICEConnectionStateCompleted, pion.ICEConnectionStateClosed:
		p.mu.Lock()
		p.stopTimer()
		p.mu.Unlock()
	}
}

// restartICE sends an offer with fresh ICE credentials. While another offer
// is outstanding the restart is deferred until the peer is stable again.
func (m *Manager) restartICE(p *Peer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if !m.opts.Signaler.Connected() {
		p.logger.Warn("cannot restart ICE while signaling is disconnected")
		return
	}
	if p.unsent != nil {
		if err := m.resendLocked(context.Background(), p); err != nil {
			p.logger.Warn("resend offer", "error", err)
		}
	}
	if p.conn.SignalingState() != pion.SignalingStateStable {
		p.iceRestart = true
		return
	}

	p.logger.Info("restarting ICE")
	if err := m.offerLocked(context.Background(), p, &pion.OfferOptions{ICERestart: true}, Renegotiating); err != nil {
		p.logger.Warn("ICE restart", "error", err)
	}
}
