// Package mediatest provides capture devices that need no hardware.
package mediatest

import (
	"context"
	"io"
	"sync"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/media"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
)

// Device is a capture device fed by Emit.
type Device struct {
	kind    pion.RTPCodecType
	packets chan *rtp.Packet
	quit    chan struct{}
	once    sync.Once
}

func NewDevice(kind pion.RTPCodecType) *Device {
	return &Device{
		kind:    kind,
		packets: make(chan *rtp.Packet),
		quit:    make(chan struct{}),
	}
}

func (d *Device) Kind() pion.RTPCodecType { return d.kind }

func (d *Device) Codec() pion.RTPCodecCapability {
	if d.kind == pion.RTPCodecTypeAudio {
		return pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	return pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000}
}

func (d *Device) Read() ([]*rtp.Packet, error) {
	select {
	case pkt := <-d.packets:
		return []*rtp.Packet{pkt}, nil
	case <-d.quit:
		return nil, io.EOF
	}
}

// Emit delivers one packet. It returns false once the device ended.
func (d *Device) Emit(payload []byte) bool {
	select {
	case d.packets <- &rtp.Packet{Payload: payload}:
		return true
	case <-d.quit:
		return false
	}
}

// End simulates the device going away.
func (d *Device) End() {
	d.once.Do(func() { close(d.quit) })
}

func (d *Device) Close() error {
	d.End()
	return nil
}

// Source opens fake devices and records them.
type Source struct {
	mu      sync.Mutex
	opens   int
	devices []*Device

	// Err makes Open fail.
	Err error
	// NoVideo makes Open return no camera.
	NoVideo bool
}

func (s *Source) Open(_ context.Context, c media.Constraints) ([]media.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opens++
	if s.Err != nil {
		return nil, s.Err
	}

	var out []media.Device
	if c.Audio {
		d := NewDevice(pion.RTPCodecTypeAudio)
		s.devices = append(s.devices, d)
		out = append(out, d)
	}
	if c.Video && !s.NoVideo {
		d := NewDevice(pion.RTPCodecTypeVideo)
		s.devices = append(s.devices, d)
		out = append(out, d)
	}
	return out, nil
}

// Opens counts Open calls.
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Devices returns every device opened so far, oldest first.
func (s *Source) Devices() []*Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Device(nil), s.devices...)
}

// Last returns the most recently opened device of kind, or nil.
func (s *Source) Last(kind pion.RTPCodecType) *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.devices) - 1; i >= 0; i-- {
		if s.devices[i].kind == kind {
			return s.devices[i]
		}
	}
	return nil
}
