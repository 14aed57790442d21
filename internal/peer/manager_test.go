package peer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/peer"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/peer/peertest"
	pion "github.com/pion/webrtc/v4"
)

type sdpMessage struct {
	to  string
	sdp string
}

type recordingSignaler struct {
	mu         sync.Mutex
	offline    bool
	failOffers bool
	offers     []sdpMessage
	answers    []sdpMessage
	candidates []string
}

func (r *recordingSignaler) SendOffer(_ context.Context, remoteID, sdp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOffers {
		return errors.New("hub unreachable")
	}
	r.offers = append(r.offers, sdpMessage{remoteID, sdp})
	return nil
}

func (r *recordingSignaler) SendAnswer(_ context.Context, remoteID, sdp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, sdpMessage{remoteID, sdp})
	return nil
}

func (r *recordingSignaler) SendICECandidate(_ context.Context, remoteID string, _ pion.ICECandidateInit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = append(r.candidates, remoteID)
	return nil
}

func (r *recordingSignaler) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.offline
}

func (r *recordingSignaler) setFailOffers(fail bool) {
	r.mu.Lock()
	r.failOffers = fail
	r.mu.Unlock()
}

func (r *recordingSignaler) lastOffer(t *testing.T) sdpMessage {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.offers) == 0 {
		t.Fatal("no offer sent")
	}
	return r.offers[len(r.offers)-1]
}

func (r *recordingSignaler) lastAnswer(t *testing.T) sdpMessage {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.answers) == 0 {
		t.Fatal("no answer sent")
	}
	return r.answers[len(r.answers)-1]
}

func (r *recordingSignaler) counts() (offers, answers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.offers), len(r.answers)
}

type side struct {
	mgr *peer.Manager
	net *peertest.Network
	sig *recordingSignaler
}

func newSide(localID string, opts ...func(*peer.Options)) *side {
	s := &side{net: &peertest.Network{}, sig: &recordingSignaler{}}
	o := peer.Options{
		LocalID:             func() string { return localID },
		NewConn:             s.net.Factory(),
		Signaler:            s.sig,
		DisconnectGrace:     20 * time.Millisecond,
		RenegotiateDebounce: -1,
	}
	for _, opt := range opts {
		opt(&o)
	}
	s.mgr = peer.NewManager(o)
	return s
}

func (s *side) conn(t *testing.T, remoteID string) *peertest.Conn {
	t.Helper()
	p := s.mgr.Get(remoteID)
	if p == nil {
		t.Fatalf("no peer for %s", remoteID)
	}
	return p.Conn().(*peertest.Conn)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTrack(t *testing.T, mime, id string) pion.TrackLocal {
	t.Helper()
	track, err := pion.NewTrackLocalStaticRTP(pion.RTPCodecCapability{MimeType: mime}, id, "local")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticRTP: %v", err)
	}
	return track
}

func TestCreatePeerConnectionIsIdempotent(t *testing.T) {
	s := newSide("a")

	first, err := s.mgr.CreatePeerConnection("b")
	if err != nil {
		t.Fatalf("CreatePeerConnection: %v", err)
	}
	second, err := s.mgr.CreatePeerConnection("b")
	if err != nil {
		t.Fatalf("CreatePeerConnection: %v", err)
	}

	if first != second {
		t.Error("second call returned a different entry")
	}
	if got := len(s.net.Conns()); got != 1 {
		t.Errorf("connections created = %d, want 1", got)
	}
	if got := len(s.mgr.Peers()); got != 1 {
		t.Errorf("peers = %d, want 1", got)
	}
}

func TestLocalTracksAddedOnCreate(t *testing.T) {
	s := newSide("a")
	s.mgr.SetLocalTracks([]pion.TrackLocal{
		newTrack(t, pion.MimeTypeOpus, "audio"),
		newTrack(t, pion.MimeTypeVP8, "video"),
	})

	if _, err := s.mgr.CreatePeerConnection("b"); err != nil {
		t.Fatalf("CreatePeerConnection: %v", err)
	}
	if got := len(s.conn(t, "b").FakeSenders()); got != 2 {
		t.Errorf("senders = %d, want 2", got)
	}
}

func TestGlareAcceptsOfferFromSmallerID(t *testing.T) {
	ctx := context.Background()
	a := newSide("a")
	b := newSide("b")

	if err := a.mgr.StartOffer(ctx, "b"); err != nil {
		t.Fatalf("a.StartOffer: %v", err)
	}
	if err := b.mgr.StartOffer(ctx, "a"); err != nil {
		t.Fatalf("b.StartOffer: %v", err)
	}
	offerA := a.sig.lastOffer(t)
	offerB := b.sig.lastOffer(t)

	// Both offers cross on the wire.
	if err := a.mgr.HandleOffer(ctx, "b", offerB.sdp); err != nil {
		t.Fatalf("a.HandleOffer: %v", err)
	}
	if err := b.mgr.HandleOffer(ctx, "a", offerA.sdp); err != nil {
		t.Fatalf("b.HandleOffer: %v", err)
	}
	if err := a.mgr.HandleAnswer(ctx, "b", b.sig.lastAnswer(t).sdp); err != nil {
		t.Fatalf("a.HandleAnswer: %v", err)
	}

	if _, answers := a.sig.counts(); answers != 0 {
		t.Errorf("a sent %d answers, want 0", answers)
	}
	if _, answers := b.sig.counts(); answers != 1 {
		t.Errorf("b sent %d answers, want 1", answers)
	}
	if got := len(a.net.Conns()); got != 1 {
		t.Errorf("a created %d connections, want 1", got)
	}
	// b cannot roll back its offer, so it answers on a fresh connection.
	bConns := b.net.Conns()
	if len(bConns) != 2 {
		t.Fatalf("b created %d connections, want 2", len(bConns))
	}
	eventually(t, bConns[0].Closed)
	if b.conn(t, "a") != bConns[1] {
		t.Error("b still uses the connection holding the abandoned offer")
	}

	for name, c := range map[string]*peertest.Conn{"a": a.conn(t, "b"), "b": b.conn(t, "a")} {
		if got := c.ICEConnectionState(); got != pion.ICEConnectionStateConnected {
			t.Errorf("%s ICE state = %s, want connected", name, got)
		}
		if got := c.SignalingState(); got != pion.SignalingStateStable {
			t.Errorf("%s signaling state = %s, want stable", name, got)
		}
	}
	if got := a.mgr.Get("b").State(); got != peer.Stable {
		t.Errorf("a negotiation state = %s, want stable", got)
	}
}

func TestGlareOnEstablishedConnectionRestartsSession(t *testing.T) {
	ctx := context.Background()
	a := newSide("a")
	b := newSide("b")

	// Initial negotiation a -> b.
	if err := a.mgr.StartOffer(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if err := b.mgr.HandleOffer(ctx, "a", a.sig.lastOffer(t).sdp); err != nil {
		t.Fatal(err)
	}
	if err := a.mgr.HandleAnswer(ctx, "b", b.sig.lastAnswer(t).sdp); err != nil {
		t.Fatal(err)
	}

	// Both sides renegotiate at once.
	a.mgr.UpdatePeerConnectionTracks(ctx, []pion.TrackLocal{newTrack(t, pion.MimeTypeOpus, "a-audio")})
	b.mgr.UpdatePeerConnectionTracks(ctx, []pion.TrackLocal{newTrack(t, pion.MimeTypeOpus, "b-audio")})
	reofferA := a.sig.lastOffer(t)
	reofferB := b.sig.lastOffer(t)

	if err := a.mgr.HandleOffer(ctx, "b", reofferB.sdp); err != nil {
		t.Fatalf("a.HandleOffer: %v", err)
	}
	if err := b.mgr.HandleOffer(ctx, "a", reofferA.sdp); err != nil {
		t.Fatalf("b.HandleOffer: %v", err)
	}

	// b restarted with a new connection and offered from it; a accepts
	// the offer from the new remote connection on a new connection too.
	restart := b.sig.lastOffer(t)
	if restart.sdp == reofferB.sdp {
		t.Fatal("b did not offer from a rebuilt connection")
	}
	if err := a.mgr.HandleOffer(ctx, "b", restart.sdp); err != nil {
		t.Fatalf("a.HandleOffer(restart): %v", err)
	}
	if err := b.mgr.HandleAnswer(ctx, "a", a.sig.lastAnswer(t).sdp); err != nil {
		t.Fatalf("b.HandleAnswer: %v", err)
	}

	if got := len(a.net.Conns()); got != 2 {
		t.Errorf("a connections = %d, want 2", got)
	}
	if got := len(b.net.Conns()); got != 2 {
		t.Errorf("b connections = %d, want 2", got)
	}
	for name, s := range map[string]*side{"a": a, "b": b} {
		remote := map[string]string{"a": "b", "b": "a"}[name]
		c := s.conn(t, remote)
		if got := c.ICEConnectionState(); got != pion.ICEConnectionStateConnected {
			t.Errorf("%s ICE state = %s, want connected", name, got)
		}
		if got := c.SignalingState(); got != pion.SignalingStateStable {
			t.Errorf("%s signaling state = %s, want stable", name, got)
		}
		if got := len(c.FakeSenders()); got != 1 {
			t.Errorf("%s senders on rebuilt connection = %d, want 1", name, got)
		}
	}
}

func TestUnsentOfferIsResent(t *testing.T) {
	ctx := context.Background()
	s := newSide("a")
	s.sig.setFailOffers(true)

	if err := s.mgr.StartOffer(ctx, "b"); err == nil {
		t.Fatal("StartOffer succeeded with an unreachable hub")
	}
	if offers, _ := s.sig.counts(); offers != 0 {
		t.Fatalf("offers = %d, want 0", offers)
	}

	s.sig.setFailOffers(false)
	if err := s.mgr.StartOffer(ctx, "b"); err != nil {
		t.Fatalf("StartOffer after reconnect: %v", err)
	}
	if offers, _ := s.sig.counts(); offers != 1 {
		t.Fatalf("offers after reconnect = %d, want 1", offers)
	}
	if err := s.mgr.StartOffer(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if offers, _ := s.sig.counts(); offers != 1 {
		t.Errorf("offer sent again after delivery, offers = %d", offers)
	}

	if err := s.mgr.HandleAnswer(ctx, "b", "answer"); err != nil {
		t.Fatal(err)
	}
	if got := s.mgr.Get("b").State(); got != peer.Stable {
		t.Errorf("state = %s, want stable", got)
	}
}

func TestStartOfferSendsOnce(t *testing.T) {
	ctx := context.Background()
	s := newSide("a")

	for i := 0; i < 3; i++ {
		if err := s.mgr.StartOffer(ctx, "b"); err != nil {
			t.Fatalf("StartOffer: %v", err)
		}
	}
	if offers, _ := s.sig.counts(); offers != 1 {
		t.Errorf("offers sent = %d, want 1", offers)
	}
	if !s.mgr.Get("b").Initiated() {
		t.Error("peer not marked initiated")
	}
	if got := s.mgr.Get("b").State(); got != peer.LocalOfferPending {
		t.Errorf("state = %s, want %s", got, peer.LocalOfferPending)
	}
}

func TestQueuedCandidatesAppliedExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := newSide("b")

	cands := []string{"candidate:1", "candidate:2", "candidate:3"}
	for _, c := range cands[:2] {
		if err := s.mgr.AddICECandidate("a", pion.ICECandidateInit{Candidate: c}); err != nil {
			t.Fatalf("AddICECandidate: %v", err)
		}
	}

	p := s.mgr.Get("a")
	if p == nil {
		t.Fatal("candidate for unknown peer did not create an entry")
	}
	if got := p.PendingCandidates(); got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}
	if got := len(s.conn(t, "a").Applied()); got != 0 {
		t.Fatalf("applied before remote description = %d, want 0", got)
	}

	if err := s.mgr.HandleOffer(ctx, "a", "remote offer"); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if err := s.mgr.AddICECandidate("a", pion.ICECandidateInit{Candidate: cands[2]}); err != nil {
		t.Fatalf("AddICECandidate: %v", err)
	}

	applied := s.conn(t, "a").Applied()
	if len(applied) != len(cands) {
		t.Fatalf("applied = %d candidates, want %d", len(applied), len(cands))
	}
	for i, c := range applied {
		if c.Candidate != cands[i] {
			t.Errorf("applied[%d] = %q, want %q", i, c.Candidate, cands[i])
		}
	}
	if got := p.PendingCandidates(); got != 0 {
		t.Errorf("pending after drain = %d, want 0", got)
	}
}

func TestHandleAnswerIgnoresStaleAnswer(t *testing.T) {
	ctx := context.Background()
	s := newSide("a")

	if _, err := s.mgr.CreatePeerConnection("b"); err != nil {
		t.Fatal(err)
	}
	if err := s.mgr.HandleAnswer(ctx, "b", "stale"); err != nil {
		t.Fatalf("HandleAnswer on stable peer: %v", err)
	}
	if s.conn(t, "b").RemoteDescription() != nil {
		t.Error("stale answer was applied")
	}
	if err := s.mgr.HandleAnswer(ctx, "zz", "x"); err == nil {
		t.Error("answer for unknown peer returned no error")
	}
}

func TestUpdatePeerConnectionTracksReplacesOnEveryPeer(t *testing.T) {
	ctx := context.Background()
	s := newSide("b")

	audio := newTrack(t, pion.MimeTypeOpus, "audio")
	s.mgr.SetLocalTracks([]pion.TrackLocal{audio, newTrack(t, pion.MimeTypeVP8, "video-1")})

	// "a" is fully negotiated, "c" has not negotiated yet.
	if err := s.mgr.HandleOffer(ctx, "a", "offer from a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.mgr.CreatePeerConnection("c"); err != nil {
		t.Fatal(err)
	}
	offersBefore, _ := s.sig.counts()

	video2 := newTrack(t, pion.MimeTypeVP8, "video-2")
	s.mgr.UpdatePeerConnectionTracks(ctx, []pion.TrackLocal{audio, video2})

	for _, remote := range []string{"a", "c"} {
		for _, sender := range s.conn(t, remote).FakeSenders() {
			switch sender.Track().Kind() {
			case pion.RTPCodecTypeVideo:
				if sender.Track() != video2 || sender.Replaced() != 1 {
					t.Errorf("%s: video sender not replaced once", remote)
				}
			case pion.RTPCodecTypeAudio:
				if sender.Replaced() != 0 {
					t.Errorf("%s: audio sender replaced %d times", remote, sender.Replaced())
				}
			}
		}
	}

	offersAfter, _ := s.sig.counts()
	if offersAfter-offersBefore != 1 {
		t.Errorf("renegotiation offers = %d, want 1", offersAfter-offersBefore)
	}
	if got := s.sig.lastOffer(t).to; got != "a" {
		t.Errorf("renegotiation offer went to %q, want a", got)
	}
	if got := s.mgr.Get("a").State(); got != peer.Renegotiating {
		t.Errorf("state = %s, want %s", got, peer.Renegotiating)
	}
}

func TestRenegotiationDeferredUntilStable(t *testing.T) {
	ctx := context.Background()
	s := newSide("a")
	s.mgr.SetLocalTracks([]pion.TrackLocal{newTrack(t, pion.MimeTypeVP8, "video-1")})

	// Negotiate once, then start a renegotiation that stays outstanding.
	if err := s.mgr.StartOffer(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.mgr.HandleAnswer(ctx, "b", "answer-1"); err != nil {
		t.Fatal(err)
	}
	s.mgr.UpdatePeerConnectionTracks(ctx, []pion.TrackLocal{newTrack(t, pion.MimeTypeVP8, "video-2")})
	if offers, _ := s.sig.counts(); offers != 2 {
		t.Fatalf("offers = %d, want 2", offers)
	}

	// A second change while the first re-offer is outstanding must wait.
	s.mgr.UpdatePeerConnectionTracks(ctx, []pion.TrackLocal{newTrack(t, pion.MimeTypeVP8, "video-3")})
	if offers, _ := s.sig.counts(); offers != 2 {
		t.Fatalf("offers while pending = %d, want 2", offers)
	}

	if err := s.mgr.HandleAnswer(ctx, "b", "answer-2"); err != nil {
		t.Fatal(err)
	}
	if offers, _ := s.sig.counts(); offers != 3 {
		t.Errorf("offers after stable = %d, want 3", offers)
	}
}

func TestRenegotiationDebounced(t *testing.T) {
	ctx := context.Background()
	s := newSide("a", func(o *peer.Options) { o.RenegotiateDebounce = 30 * time.Millisecond })

	if err := s.mgr.StartOffer(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.mgr.HandleAnswer(ctx, "b", "answer"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		s.mgr.UpdatePeerConnectionTracks(ctx, []pion.TrackLocal{newTrack(t, pion.MimeTypeVP8, "video")})
	}

	eventually(t, func() bool {
		offers, _ := s.sig.counts()
		return offers == 2
	})
	time.Sleep(60 * time.Millisecond)
	if offers, _ := s.sig.counts(); offers != 2 {
		t.Errorf("offers = %d, want 2 after a burst", offers)
	}
}

func TestRenegotiationDebouncedByDefault(t *testing.T) {
	ctx := context.Background()
	s := newSide("a", func(o *peer.Options) { o.RenegotiateDebounce = 0 })

	if err := s.mgr.StartOffer(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.mgr.HandleAnswer(ctx, "b", "answer"); err != nil {
		t.Fatal(err)
	}
	s.mgr.UpdatePeerConnectionTracks(ctx, []pion.TrackLocal{newTrack(t, pion.MimeTypeOpus, "audio")})
	s.mgr.UpdatePeerConnectionTracks(ctx, []pion.TrackLocal{newTrack(t, pion.MimeTypeVP8, "video")})

	if offers, _ := s.sig.counts(); offers != 1 {
		t.Fatalf("offers right after track changes = %d, want 1", offers)
	}
	eventually(t, func() bool {
		offers, _ := s.sig.counts()
		return offers == 2
	})
}

func TestICEFailureRestartsImmediately(t *testing.T) {
	ctx := context.Background()
	s := newSide("a")

	if err := s.mgr.StartOffer(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.mgr.HandleAnswer(ctx, "b", "answer"); err != nil {
		t.Fatal(err)
	}

	conn := s.conn(t, "b")
	conn.SetICEState(pion.ICEConnectionStateFailed)
	eventually(t, func() bool { return conn.Restarts() == 1 })
}

func TestICEDisconnectRecovery(t *testing.T) {
	tests := []struct {
		name         string
		recover      bool
		wantRestarts int
	}{
		{name: "recovers within grace", recover: true, wantRestarts: 0},
		{name: "stays disconnected", recover: false, wantRestarts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newSide("a")
			if err := s.mgr.StartOffer(ctx, "b"); err != nil {
				t.Fatal(err)
			}
			if err := s.mgr.HandleAnswer(ctx, "b", "answer"); err != nil {
				t.Fatal(err)
			}

			conn := s.conn(t, "b")
			conn.SetICEState(pion.ICEConnectionStateDisconnected)
			if tt.recover {
				conn.SetICEState(pion.ICEConnectionStateConnected)
			}
			time.Sleep(100 * time.Millisecond)

			if got := conn.Restarts(); got != tt.wantRestarts {
				t.Errorf("restarts = %d, want %d", got, tt.wantRestarts)
			}
		})
	}
}

func TestClosePeer(t *testing.T) {
	s := newSide("a")
	for _, id := range []string{"b", "c"} {
		if _, err := s.mgr.CreatePeerConnection(id); err != nil {
			t.Fatal(err)
		}
	}

	conn := s.conn(t, "b")
	s.mgr.ClosePeer("b")
	if !conn.Closed() {
		t.Error("connection not closed")
	}
	if s.mgr.Get("b") != nil {
		t.Error("entry still registered")
	}

	s.mgr.CloseAll()
	if got := len(s.mgr.Peers()); got != 0 {
		t.Errorf("peers after CloseAll = %d", got)
	}
	for _, c := range s.net.Conns() {
		if !c.Closed() {
			t.Error("CloseAll left a connection open")
		}
	}
}
