// Package captions turns the local microphone into broadcast transcriptions
// and renders remote transcriptions as live captions.
package captions

import (
	"context"
	"errors"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/media"
)

var (
	// ErrUnsupported means no speech recognition engine is available.
	ErrUnsupported = errors.New("speech recognition is not supported")

	// ErrMicUnavailable means there is no live, enabled microphone track.
	ErrMicUnavailable = errors.New("microphone is muted or unavailable")
)

// Result is one recognition hypothesis. Only final results are broadcast.
type Result struct {
	Text  string
	Final bool
}

// Recognition is a running recognition session. Results is closed when the
// session ends, after which Err reports why (nil for a normal end).
type Recognition interface {
	Results() <-chan Result
	Err() error
	Stop()
}

// Engine starts speech recognition on an audio track.
type Engine interface {
	Listen(ctx context.Context, language string, audio *media.Track) (Recognition, error)
}

type unsupported struct{}

func (unsupported) Listen(context.Context, string, *media.Track) (Recognition, error) {
	return nil, ErrUnsupported
}

// Unsupported is the engine used when recognition is unavailable.
var Unsupported Engine = unsupported{}
