package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/signaling"
	pion "github.com/pion/webrtc/v4"
)

type queuedCandidate struct {
	remoteID  string
	candidate pion.ICECandidateInit
}

// signaler relays peer, media and captions traffic through the hub. ICE
// candidates produced while the hub is unreachable are queued and flushed
// after the next join.
type signaler struct {
	s *Session

	mu    sync.Mutex
	queue []queuedCandidate
}

func (g *signaler) SendOffer(ctx context.Context, remoteID, sdp string) error {
	return g.s.hub.Send(ctx, signaling.MethodSendOffer, g.s.opts.EventID, remoteID, sdp)
}

func (g *signaler) SendAnswer(ctx context.Context, remoteID, sdp string) error {
	return g.s.hub.Send(ctx, signaling.MethodSendAnswer, g.s.opts.EventID, remoteID, sdp)
}

func (g *signaler) SendICECandidate(ctx context.Context, remoteID string, candidate pion.ICECandidateInit) error {
	if !g.s.Connected() {
		g.enqueue(remoteID, candidate)
		return nil
	}
	err := g.s.hub.Send(ctx, signaling.MethodSendIceCandidate, g.s.opts.EventID, remoteID, candidate)
	if errors.Is(err, signaling.ErrNotConnected) {
		g.enqueue(remoteID, candidate)
		return nil
	}
	return err
}

func (g *signaler) Connected() bool {
	return g.s.hub.Connected()
}

func (g *signaler) enqueue(remoteID string, candidate pion.ICECandidateInit) {
	g.mu.Lock()
	g.queue = append(g.queue, queuedCandidate{remoteID, candidate})
	g.mu.Unlock()
}

// flush sends queued candidates in order. Candidates that cannot be sent
// stay queued.
func (g *signaler) flush(ctx context.Context) {
	g.mu.Lock()
	queue := g.queue
	g.queue = nil
	g.mu.Unlock()

	for i, qc := range queue {
		err := g.s.hub.Send(ctx, signaling.MethodSendIceCandidate, g.s.opts.EventID, qc.remoteID, qc.candidate)
		if err != nil {
			g.s.logger.Warn("flush ICE candidates", "pending", len(queue)-i, "error", err)
			g.mu.Lock()
			g.queue = append(queue[i:len(queue):len(queue)], g.queue...)
			g.mu.Unlock()
			return
		}
	}
	if len(queue) > 0 {
		g.s.logger.Debug("flushed queued ICE candidates", "count", len(queue))
	}
}

func (g *signaler) pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

func (g *signaler) reset() {
	g.mu.Lock()
	g.queue = nil
	g.mu.Unlock()
}

func (g *signaler) BroadcastMediaState(ctx context.Context, kind string, enabled bool) error {
	localID := g.s.LocalID()
	if localID == "" {
		return nil
	}
	return g.s.hub.Send(ctx, signaling.MethodBroadcastMediaState, g.s.opts.EventID, localID, kind, enabled)
}

func (g *signaler) BroadcastTranscription(ctx context.Context, text, language string) error {
	return g.s.hub.Send(ctx, signaling.MethodBroadcastTranscription, g.s.opts.EventID, text, language)
}

func (g *signaler) RequestTranslation(ctx context.Context, text, targetLanguage string) (string, error) {
	raw, err := g.s.hub.Invoke(ctx, signaling.MethodRequestTranslation, g.s.opts.EventID, text, targetLanguage)
	if err != nil {
		return "", err
	}
	var translated string
	if err := json.Unmarshal(raw, &translated); err != nil {
		return "", err
	}
	return translated, nil
}
