package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
)

// ErrDeviceUnavailable wraps every failure to open a capture device.
var ErrDeviceUnavailable = errors.New("media device unavailable")

// Constraints selects which kinds to capture.
type Constraints struct {
	Audio bool
	Video bool
}

// Source opens capture devices.
type Source interface {
	Open(ctx context.Context, c Constraints) ([]Device, error)
}

// Stream is an ordered set of local tracks.
type Stream struct {
	id     string
	tracks []*Track
}

func NewStream(tracks ...*Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: tracks}
}

// Acquire opens the devices selected by c and wraps them in a Stream.
func Acquire(ctx context.Context, src Source, c Constraints) (*Stream, error) {
	devices, err := src.Open(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no devices matched", ErrDeviceUnavailable)
	}

	s := &Stream{id: uuid.NewString()}
	for i, d := range devices {
		t, err := NewTrack(s.id, d)
		if err != nil {
			s.Stop()
			for _, rest := range devices[i:] {
				rest.Close()
			}
			return nil, fmt.Errorf("create %s track: %w", d.Kind(), err)
		}
		s.tracks = append(s.tracks, t)
	}
	return s, nil
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []*Track {
	return append([]*Track(nil), s.tracks...)
}

func (s *Stream) AudioTracks() []*Track { return s.ofKind(pion.RTPCodecTypeAudio) }

func (s *Stream) VideoTracks() []*Track { return s.ofKind(pion.RTPCodecTypeVideo) }

func (s *Stream) ofKind(kind pion.RTPCodecType) []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// LocalTracks returns the pion tracks to bind to peer connections.
func (s *Stream) LocalTracks() []pion.TrackLocal {
	out := make([]pion.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t.Local())
	}
	return out
}

// Stop stops every track.
func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}
