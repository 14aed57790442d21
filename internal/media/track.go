package media

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
)

// Kind names used when broadcasting media state.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// Device is an open capture device producing RTP packets of one kind.
// Read returns an error once the device ended or was closed.
type Device interface {
	Kind() pion.RTPCodecType
	Codec() pion.RTPCodecCapability
	Read() ([]*rtp.Packet, error)
	Close() error
}

// Track is a local media track. Packets from the device are forwarded to
// every peer connection the track is bound to while it is enabled.
type Track struct {
	id     string
	kind   pion.RTPCodecType
	local  *pion.TrackLocalStaticRTP
	device Device

	enabled  atomic.Bool
	ended    atomic.Bool
	stopOnce sync.Once
	endOnce  sync.Once
	done     chan struct{}

	mu      sync.Mutex
	onEnded []func()
	taps    map[int]chan *rtp.Packet
	nextTap int
}

// NewTrack wraps d and starts forwarding its packets.
func NewTrack(streamID string, d Device) (*Track, error) {
	id := d.Kind().String() + "-" + uuid.NewString()
	local, err := pion.NewTrackLocalStaticRTP(d.Codec(), id, streamID)
	if err != nil {
		return nil, err
	}

	t := &Track{
		id:     id,
		kind:   d.Kind(),
		local:  local,
		device: d,
		done:   make(chan struct{}),
		taps:   make(map[int]chan *rtp.Packet),
	}
	t.enabled.Store(true)

	go t.pump()
	return t, nil
}

func (t *Track) pump() {
	defer t.end()

	for {
		packets, err := t.device.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) && !t.ended.Load() {
				slog.Debug("capture device stopped", "track", t.id, "error", err)
			}
			return
		}
		if !t.enabled.Load() {
			continue
		}

		for _, pkt := range packets {
			if err := t.local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				slog.Debug("write local RTP", "track", t.id, "error", err)
			}
			t.fanOut(pkt)
		}
	}
}

func (t *Track) fanOut(pkt *rtp.Packet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.taps {
		select {
		case ch <- pkt:
		default:
		}
	}
}

func (t *Track) end() {
	t.endOnce.Do(func() {
		t.ended.Store(true)
		close(t.done)

		t.mu.Lock()
		callbacks := t.onEnded
		t.onEnded = nil
		for id, ch := range t.taps {
			close(ch)
			delete(t.taps, id)
		}
		t.mu.Unlock()

		for _, f := range callbacks {
			f()
		}
	})
}

func (t *Track) ID() string { return t.id }
func (t *Track) Kind() pion.RTPCodecType { return t.kind }

// Local is the track to bind to peer connections.
func (t *Track) Local() pion.TrackLocal { return t.local }

func (t *Track) Enabled() bool { return t.enabled.Load() }

func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Ended reports whether the device stopped producing media for good.
func (t *Track) Ended() bool { return t.ended.Load() }

// Live reports whether the track is enabled and not ended.
func (t *Track) Live() bool { return t.Enabled() && !t.Ended() }

// Done is closed when the track ends.
func (t *Track) Done() <-chan struct{} { return t.done }

// OnEnded registers f to run once the track ends. If it already ended f runs
// immediately.
func (t *Track) OnEnded(f func()) {
	t.mu.Lock()
	if !t.ended.Load() {
		t.onEnded = append(t.onEnded, f)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	f()
}

// Tap returns a copy of the packet flow. Packets are dropped when the
// buffer is full. The channel is closed by cancel or when the track ends.
func (t *Track) Tap(buffer int) (<-chan *rtp.Packet, func()) {
	ch := make(chan *rtp.Packet, buffer)

	t.mu.Lock()
	if t.ended.Load() {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := t.nextTap
	t.nextTap++
	t.taps[id] = ch
	t.mu.Unlock()

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.taps[id]; ok {
			close(c)
			delete(t.taps, id)
		}
	}
}

// Stop releases the device. It is safe to call more than once.
func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		if err := t.device.Close(); err != nil {
			slog.Debug("close capture device", "track", t.id, "error", err)
		}
		t.end()
	})
}
