package media_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/media"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/media/mediatest"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/prefs"
	pion "github.com/pion/webrtc/v4"
)

type broadcast struct {
	kind    string
	enabled bool
}

type recorder struct {
	mu         sync.Mutex
	broadcasts []broadcast
	updates    [][]pion.TrackLocal
}

func (r *recorder) BroadcastMediaState(_ context.Context, kind string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, broadcast{kind, enabled})
	return nil
}

func (r *recorder) UpdatePeerConnectionTracks(_ context.Context, tracks []pion.TrackLocal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, tracks)
}

func (r *recorder) last() broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcasts[len(r.broadcasts)-1]
}

func newController(t *testing.T, src *mediatest.Source) (*media.Controller, *recorder, *prefs.Store) {
	t.Helper()
	rec := &recorder{}
	store := prefs.NewStore(filepath.Join(t.TempDir(), "prefs.msgpack"))
	c := media.NewController(media.ControllerOptions{
		Source:      src,
		Prefs:       store,
		Broadcaster: rec,
		Tracks:      rec,
	})
	t.Cleanup(c.Stop)
	return c, rec, store
}

func TestGetLocalStreamAcquiresOnce(t *testing.T) {
	src := &mediatest.Source{}
	c, _, _ := newController(t, src)

	var wg sync.WaitGroup
	streams := make([]*media.Stream, 8)
	for i := range streams {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := c.GetLocalStream(context.Background())
			if err != nil {
				t.Errorf("GetLocalStream: %v", err)
			}
			streams[i] = s
		}(i)
	}
	wg.Wait()

	if got := src.Opens(); got != 1 {
		t.Errorf("device opens = %d, want 1", got)
	}
	for i, s := range streams {
		if s != streams[0] {
			t.Errorf("caller %d got a different stream", i)
		}
	}
}

func TestGetLocalStreamRetriesAfterFailure(t *testing.T) {
	src := &mediatest.Source{Err: errors.New("permission denied")}
	c, _, _ := newController(t, src)

	if _, err := c.GetLocalStream(context.Background()); !errors.Is(err, media.ErrDeviceUnavailable) {
		t.Fatalf("error = %v, want ErrDeviceUnavailable", err)
	}

	src.Err = nil
	s, err := c.GetLocalStream(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(s.AudioTracks()) != 1 || len(s.VideoTracks()) != 1 {
		t.Errorf("stream has %d audio / %d video tracks", len(s.AudioTracks()), len(s.VideoTracks()))
	}
}

func TestGetLocalStreamAppliesPreferences(t *testing.T) {
	src := &mediatest.Source{}
	c, _, store := newController(t, src)
	if err := store.Save(prefs.Prefs{MicEnabled: prefs.Bool(false)}); err != nil {
		t.Fatal(err)
	}

	if _, err := c.GetLocalStream(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := c.State()
	if st.AudioEnabled {
		t.Error("microphone enabled despite saved preference")
	}
	if !st.VideoEnabled {
		t.Error("camera disabled without a saved preference")
	}
}

func TestToggleAudio(t *testing.T) {
	src := &mediatest.Source{}
	c, rec, store := newController(t, src)

	if _, err := c.ToggleAudio(context.Background()); !errors.Is(err, media.ErrNoStream) {
		t.Fatalf("toggle before acquire: %v", err)
	}
	if _, err := c.GetLocalStream(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, want := range []bool{false, true, false} {
		got, err := c.ToggleAudio(context.Background())
		if err != nil {
			t.Fatalf("ToggleAudio: %v", err)
		}
		if got != want {
			t.Errorf("ToggleAudio = %v, want %v", got, want)
		}
		if b := rec.last(); b.kind != media.KindAudio || b.enabled != want {
			t.Errorf("broadcast = %+v, want audio %v", b, want)
		}
	}

	p, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if p.MicEnabled == nil || *p.MicEnabled {
		t.Errorf("saved mic preference = %v, want false", p.MicEnabled)
	}
}

func TestToggleVideo(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(t *testing.T, c *media.Controller, src *mediatest.Source)
		wantEnabled bool
		wantNew     bool
	}{
		{
			name:        "live enabled track is disabled",
			setup:       func(*testing.T, *media.Controller, *mediatest.Source) {},
			wantEnabled: false,
		},
		{
			name: "live disabled track is enabled",
			setup: func(t *testing.T, c *media.Controller, _ *mediatest.Source) {
				if _, err := c.ToggleVideo(context.Background()); err != nil {
					t.Fatal(err)
				}
			},
			wantEnabled: true,
		},
		{
			name: "ended track is reacquired",
			setup: func(t *testing.T, c *media.Controller, src *mediatest.Source) {
				src.Last(pion.RTPCodecTypeVideo).End()
				video := c.Stream().VideoTracks()[0]
				select {
				case <-video.Done():
				case <-time.After(time.Second):
					t.Fatal("video track did not end")
				}
			},
			wantEnabled: true,
			wantNew:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &mediatest.Source{}
			c, rec, _ := newController(t, src)
			before, err := c.GetLocalStream(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			tt.setup(t, c, src)

			got, err := c.ToggleVideo(context.Background())
			if err != nil {
				t.Fatalf("ToggleVideo: %v", err)
			}
			if got != tt.wantEnabled {
				t.Errorf("ToggleVideo = %v, want %v", got, tt.wantEnabled)
			}
			if b := rec.last(); b.kind != media.KindVideo || b.enabled != tt.wantEnabled {
				t.Errorf("broadcast = %+v", b)
			}

			after := c.Stream()
			if !tt.wantNew {
				if after != before {
					t.Error("stream replaced for a live track")
				}
				if len(rec.updates) != 0 {
					t.Error("peer tracks updated for a live track")
				}
				return
			}

			if after == before {
				t.Fatal("stream not replaced after reacquiring")
			}
			if len(after.VideoTracks()) != 1 {
				t.Fatalf("video tracks = %d, want exactly 1", len(after.VideoTracks()))
			}
			if after.VideoTracks()[0] == before.VideoTracks()[0] {
				t.Error("video track not replaced")
			}
			if after.AudioTracks()[0] != before.AudioTracks()[0] {
				t.Error("audio track not carried over")
			}
			if len(rec.updates) != 1 || len(rec.updates[0]) != 2 {
				t.Errorf("peer track updates = %v, want one update with 2 tracks", rec.updates)
			}
		})
	}
}

func TestToggleVideoReacquireFailure(t *testing.T) {
	src := &mediatest.Source{}
	c, _, _ := newController(t, src)
	if _, err := c.GetLocalStream(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Stream().VideoTracks()[0].Stop()
	src.Err = errors.New("camera busy")

	if _, err := c.ToggleVideo(context.Background()); !errors.Is(err, media.ErrDeviceUnavailable) {
		t.Fatalf("error = %v, want ErrDeviceUnavailable", err)
	}
	if c.State().VideoEnabled {
		t.Error("video reported enabled after failed reacquire")
	}
}
