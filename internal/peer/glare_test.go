package peer_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/peer"
	pion "github.com/pion/webrtc/v4"
)

// wire carries signaling messages from one manager to another in order.
// Nothing is delivered before release, so both offers cross on the wire.
type wire struct {
	from string

	mu     sync.Mutex
	queue  []func(*peer.Manager)
	target *peer.Manager
	errs   []error
	wake   chan struct{}
}

func (w *wire) fail(err error) {
	w.mu.Lock()
	w.errs = append(w.errs, err)
	w.mu.Unlock()
}

func (w *wire) failures() []error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]error(nil), w.errs...)
}

func newWire(from string) *wire {
	return &wire{from: from, wake: make(chan struct{}, 1)}
}

func (w *wire) push(deliver func(*peer.Manager)) {
	w.mu.Lock()
	w.queue = append(w.queue, deliver)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *wire) release(ctx context.Context) {
	go w.run(ctx)
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *wire) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}
		for {
			w.mu.Lock()
			if len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			next := w.queue[0]
			w.queue = w.queue[1:]
			target := w.target
			w.mu.Unlock()
			next(target)
		}
	}
}

func (w *wire) SendOffer(_ context.Context, _ string, sdp string) error {
	w.push(func(m *peer.Manager) {
		if err := m.HandleOffer(context.Background(), w.from, sdp); err != nil {
			w.fail(fmt.Errorf("HandleOffer from %s: %w", w.from, err))
		}
	})
	return nil
}

func (w *wire) SendAnswer(_ context.Context, _ string, sdp string) error {
	w.push(func(m *peer.Manager) {
		if err := m.HandleAnswer(context.Background(), w.from, sdp); err != nil {
			w.fail(fmt.Errorf("HandleAnswer from %s: %w", w.from, err))
		}
	})
	return nil
}

func (w *wire) SendICECandidate(_ context.Context, _ string, candidate pion.ICECandidateInit) error {
	w.push(func(m *peer.Manager) {
		// Candidates of a replaced connection may fail to apply.
		_ = m.AddICECandidate(w.from, candidate)
	})
	return nil
}

func (w *wire) Connected() bool { return true }

type iceLog struct {
	mu        sync.Mutex
	connected bool
}

func (l *iceLog) record(_ string, state pion.ICEConnectionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if state == pion.ICEConnectionStateConnected || state == pion.ICEConnectionStateCompleted {
		l.connected = true
	}
}

func (l *iceLog) isConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func TestGlareWithPionConnections(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real ICE agents")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	toB, toA := newWire("a"), newWire("b")
	logA, logB := &iceLog{}, &iceLog{}
	newManager := func(localID string, sig peer.Signaler, log *iceLog) *peer.Manager {
		m := peer.NewManager(peer.Options{
			LocalID:          func() string { return localID },
			NewConn:          peer.NewPionConn,
			Signaler:         sig,
			OnICEStateChange: log.record,
		})
		m.SetLocalTracks([]pion.TrackLocal{
			newTrack(t, pion.MimeTypeOpus, localID+"-audio"),
			newTrack(t, pion.MimeTypeVP8, localID+"-video"),
		})
		t.Cleanup(m.CloseAll)
		return m
	}
	a := newManager("a", toB, logA)
	b := newManager("b", toA, logB)
	toB.target, toA.target = b, a

	if err := a.StartOffer(ctx, "b"); err != nil {
		t.Fatalf("a.StartOffer: %v", err)
	}
	if err := b.StartOffer(ctx, "a"); err != nil {
		t.Fatalf("b.StartOffer: %v", err)
	}
	toB.release(ctx)
	toA.release(ctx)

	deadline := time.Now().Add(15 * time.Second)
	for !logA.isConnected() || !logB.isConnected() {
		if time.Now().After(deadline) {
			t.Fatalf("ICE not connected: a=%v b=%v (a state %s, b state %s)",
				logA.isConnected(), logB.isConnected(), a.Get("b").State(), b.Get("a").State())
		}
		time.Sleep(20 * time.Millisecond)
	}

	for _, w := range []*wire{toA, toB} {
		for _, err := range w.failures() {
			t.Error(err)
		}
	}
	for name, p := range map[string]*peer.Peer{"a": a.Get("b"), "b": b.Get("a")} {
		if got := p.State(); got != peer.Stable {
			t.Errorf("%s negotiation state = %s, want stable", name, got)
		}
		if got := p.Conn().SignalingState(); got != pion.SignalingStateStable {
			t.Errorf("%s signaling state = %s, want stable", name, got)
		}
	}
}
