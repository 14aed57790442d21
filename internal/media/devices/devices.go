// Package devices captures the local camera and microphone with
// pion/mediadevices and encodes them as VP8 and Opus.
package devices

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/media"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"

	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the camera driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone driver
)

const mtu = 1200

// Options tunes capture and encoding.
type Options struct {
	Width, Height int
	FrameRate     float64
	VideoBitRate  int
	AudioBitRate  int
}

func (o *Options) defaults() {
	if o.Width == 0 {
		o.Width = 640
	}
	if o.Height == 0 {
		o.Height = 480
	}
	if o.FrameRate == 0 {
		o.FrameRate = 30
	}
	if o.VideoBitRate == 0 {
		o.VideoBitRate = 500_000
	}
	if o.AudioBitRate == 0 {
		o.AudioBitRate = 32_000
	}
}

// Source opens hardware devices.
type Source struct {
	opts     Options
	selector *mediadevices.CodecSelector
}

var _ media.Source = (*Source)(nil)

func New(opts Options) (*Source, error) {
	opts.defaults()

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("create VP8 params: %w", err)
	}
	vpxParams.BitRate = opts.VideoBitRate
	vpxParams.KeyFrameInterval = 60
	vpxParams.RateControlEndUsage = vpx.RateControlVBR
	vpxParams.Deadline = 20 * time.Millisecond

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("create Opus params: %w", err)
	}
	opusParams.BitRate = opts.AudioBitRate
	opusParams.Latency = opus.Latency20ms

	return &Source{
		opts: opts,
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Open calls GetUserMedia for the requested kinds.
func (s *Source) Open(ctx context.Context, c media.Constraints) ([]media.Device, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: s.selector}
	if c.Video {
		constraints.Video = func(mtc *mediadevices.MediaTrackConstraints) {
			mtc.Width = prop.Int(s.opts.Width)
			mtc.Height = prop.Int(s.opts.Height)
			mtc.FrameRate = prop.Float(s.opts.FrameRate)
		}
	}
	if c.Audio {
		constraints.Audio = func(mtc *mediadevices.MediaTrackConstraints) {
			mtc.SampleRate = prop.Int(48000)
			mtc.ChannelCount = prop.Int(1)
			mtc.Latency = prop.Duration(20 * time.Millisecond)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}

	var out []media.Device
	for _, track := range stream.GetTracks() {
		d, err := newDevice(track)
		if err != nil {
			track.Close()
			for _, opened := range out {
				opened.Close()
			}
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// device reads encoded RTP from one mediadevices track.
type device struct {
	track  mediadevices.Track
	reader mediadevices.RTPReadCloser
	codec  pion.RTPCodecCapability
}

func newDevice(track mediadevices.Track) (*device, error) {
	codec := pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if track.Kind() == pion.RTPCodecTypeVideo {
		codec = pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000}
	}

	reader, err := track.NewRTPReader(codec.MimeType, rand.Uint32(), mtu)
	if err != nil {
		return nil, fmt.Errorf("open %s RTP reader: %w", track.Kind(), err)
	}
	return &device{track: track, reader: reader, codec: codec}, nil
}

func (d *device) Kind() pion.RTPCodecType { return d.track.Kind() }
func (d *device) Codec() pion.RTPCodecCapability { return d.codec }

func (d *device) Read() ([]*rtp.Packet, error) {
	packets, _, err := d.reader.Read()
	return packets, err
}

func (d *device) Close() error {
	d.reader.Close()
	return d.track.Close()
}
