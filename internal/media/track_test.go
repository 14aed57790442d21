package media_test

import (
	"testing"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/media"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/media/mediatest"
	pion "github.com/pion/webrtc/v4"
)

func TestTrackDropsPacketsWhileDisabled(t *testing.T) {
	dev := mediatest.NewDevice(pion.RTPCodecTypeAudio)
	track, err := media.NewTrack("stream", dev)
	if err != nil {
		t.Fatal(err)
	}
	defer track.Stop()

	packets, cancel := track.Tap(4)
	defer cancel()

	// Each Emit returns once the previous packet was fully handled.
	track.SetEnabled(false)
	dev.Emit([]byte("muted-1"))
	dev.Emit([]byte("muted-2"))
	dev.Emit([]byte("muted-3"))
	select {
	case pkt := <-packets:
		t.Fatalf("tapped %q while disabled", pkt.Payload)
	default:
	}

	track.SetEnabled(true)
	dev.Emit([]byte("live-1"))
	dev.Emit([]byte("live-2"))

	select {
	case pkt := <-packets:
		switch string(pkt.Payload) {
		case "muted-3", "live-1":
		default:
			t.Errorf("first tapped payload = %q", pkt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no packet tapped")
	}
}

func TestTrackEnds(t *testing.T) {
	dev := mediatest.NewDevice(pion.RTPCodecTypeVideo)
	track, err := media.NewTrack("stream", dev)
	if err != nil {
		t.Fatal(err)
	}

	ended := make(chan struct{})
	track.OnEnded(func() { close(ended) })
	packets, _ := track.Tap(1)

	dev.End()

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("OnEnded not called")
	}
	if !track.Ended() || track.Live() {
		t.Error("track still reported live after device ended")
	}
	if _, ok := <-packets; ok {
		t.Error("tap channel not closed after end")
	}

	called := false
	track.OnEnded(func() { called = true })
	if !called {
		t.Error("OnEnded on an ended track did not run immediately")
	}
}
