package captions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/media"
)

const (
	defaultRestartDelay = 250 * time.Millisecond
	translateTimeout    = 10 * time.Second
	overlaySize         = 3
)

// State of the local transcription feature.
type State int

const (
	Idle State = iota
	Listening
)

func (s State) String() string {
	if s == Listening {
		return "listening"
	}
	return "idle"
}

// Transcript is a remote utterance shown as a caption. Only TranslatedText
// changes after the transcript was recorded.
type Transcript struct {
	ID             string
	SpeakerID      string
	SenderName     string
	Language       string
	OriginalText   string
	TranslatedText string
	TargetLanguage string
	Timestamp      time.Time
}

// Text is the translation when present, the original otherwise.
func (t Transcript) Text() string {
	if t.TranslatedText != "" {
		return t.TranslatedText
	}
	return t.OriginalText
}

// Broadcaster sends transcriptions to the room and asks the hub for
// translations.
type Broadcaster interface {
	BroadcastTranscription(ctx context.Context, text, language string) error
	RequestTranslation(ctx context.Context, text, targetLanguage string) (string, error)
}

// MicSource yields the current local microphone track.
type MicSource interface {
	AudioTrack() *media.Track
}

type Options struct {
	// Engine may be nil when recognition is unavailable.
	Engine      Engine
	Broadcaster Broadcaster
	Mic         MicSource
	Logger      *slog.Logger

	// RestartDelay is the pause before recognition is restarted after it
	// ended on its own.
	RestartDelay time.Duration

	OnChange func()
}

// Pipeline runs local transcription and remote captions.
type Pipeline struct {
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	enabled     bool
	language    string
	cancel      context.CancelFunc
	gen         int
	captions    bool
	target      string
	transcripts []Transcript
}

func NewPipeline(opts Options) *Pipeline {
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = defaultRestartDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{opts: opts, logger: logger.With("component", "captions")}
}

func (p *Pipeline) liveTrack() *media.Track {
	track := p.opts.Mic.AudioTrack()
	if track == nil || !track.Live() {
		return nil
	}
	return track
}

// StartTranscription starts recognising the local microphone in language.
func (p *Pipeline) StartTranscription(ctx context.Context, language string) error {
	if p.opts.Engine == nil {
		return ErrUnsupported
	}
	track := p.liveTrack()
	if track == nil {
		return ErrMicUnavailable
	}

	p.mu.Lock()
	if p.enabled {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	rec, err := p.opts.Engine.Listen(runCtx, language, track)
	if err != nil {
		cancel()
		if errors.Is(err, ErrUnsupported) {
			return ErrUnsupported
		}
		return fmt.Errorf("start recognition: %w", err)
	}

	p.mu.Lock()
	if p.enabled {
		p.mu.Unlock()
		rec.Stop()
		cancel()
		return nil
	}
	p.enabled = true
	p.state = Listening
	p.language = language
	p.cancel = cancel
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	p.logger.Info("transcription started", "language", language)
	go p.run(runCtx, gen, language, rec)
	p.notify()
	return nil
}

// StopTranscription stops local recognition. It is a no-op when idle.
func (p *Pipeline) StopTranscription() {
	p.mu.Lock()
	if !p.enabled {
		p.mu.Unlock()
		return
	}
	p.enabled = false
	p.state = Idle
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.logger.Info("transcription stopped")
	p.notify()
}

// run consumes recognition sessions, restarting them while the feature is
// enabled and the microphone stays live.
func (p *Pipeline) run(ctx context.Context, gen int, language string, rec Recognition) {
	for {
		p.consume(ctx, language, rec)
		rec.Stop()
		if err := rec.Err(); err != nil {
			p.logger.Warn("recognition error", "error", err)
		}
		if ctx.Err() != nil {
			return
		}

		select {
		case <-time.After(p.opts.RestartDelay):
		case <-ctx.Done():
			return
		}

		track := p.liveTrack()
		if track == nil {
			p.teardown(gen, "microphone is no longer live")
			return
		}
		next, err := p.opts.Engine.Listen(ctx, language, track)
		if err != nil {
			p.teardown(gen, err.Error())
			return
		}
		p.logger.Debug("recognition restarted")
		rec = next
	}
}

func (p *Pipeline) consume(ctx context.Context, language string, rec Recognition) {
	for {
		select {
		case <-ctx.Done():
			rec.Stop()
			return
		case r, ok := <-rec.Results():
			if !ok {
				return
			}
			if !r.Final || r.Text == "" {
				continue
			}
			// The microphone may have been muted mid-utterance.
			if p.liveTrack() == nil {
				p.logger.Debug("dropping final result, microphone muted")
				continue
			}
			if err := p.opts.Broadcaster.BroadcastTranscription(ctx, r.Text, language); err != nil {
				p.logger.Warn("broadcast transcription", "error", err)
			}
		}
	}
}

func (p *Pipeline) teardown(gen int, reason string) {
	p.mu.Lock()
	if p.gen != gen || !p.enabled {
		p.mu.Unlock()
		return
	}
	p.enabled = false
	p.state = Idle
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.logger.Info("transcription stopped", "reason", reason)
	p.notify()
}

// Enabled reports whether local transcription is on.
func (p *Pipeline) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetCaptions turns live captions on or off and sets the language captions
// are translated into. An empty target shows original text.
func (p *Pipeline) SetCaptions(enabled bool, targetLanguage string) {
	p.mu.Lock()
	p.captions = enabled
	p.target = targetLanguage
	p.mu.Unlock()
	p.notify()
}

func (p *Pipeline) CaptionsEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.captions
}

// HandleIncoming records a remote transcript while captions are on and
// requests a translation when its language differs from the target.
func (p *Pipeline) HandleIncoming(t Transcript) {
	p.mu.Lock()
	if !p.captions {
		p.mu.Unlock()
		return
	}
	t.TargetLanguage = p.target
	t.TranslatedText = ""
	p.transcripts = append(p.transcripts, t)
	translate := p.target != "" && p.target != t.Language
	p.mu.Unlock()

	if translate {
		go p.translate(t.ID, t.OriginalText, t.TargetLanguage)
	}
	p.notify()
}

func (p *Pipeline) translate(id, text, target string) {
	ctx, cancel := context.WithTimeout(context.Background(), translateTimeout)
	defer cancel()

	translated, err := p.opts.Broadcaster.RequestTranslation(ctx, text, target)
	if err != nil || translated == "" {
		if err != nil {
			p.logger.Warn("translation failed, showing original text", "error", err)
		}
		translated = text
	}

	p.mu.Lock()
	for i := range p.transcripts {
		if p.transcripts[i].ID == id {
			p.transcripts[i].TranslatedText = translated
			break
		}
	}
	p.mu.Unlock()
	p.notify()
}

// Transcripts returns every recorded transcript, oldest first.
func (p *Pipeline) Transcripts() []Transcript {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Transcript(nil), p.transcripts...)
}

// Overlay returns the most recent transcripts, newest first.
func (p *Pipeline) Overlay() []Transcript {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := min(len(p.transcripts), overlaySize)
	out := make([]Transcript, 0, n)
	for i := len(p.transcripts) - 1; i >= len(p.transcripts)-n; i-- {
		out = append(out, p.transcripts[i])
	}
	return out
}

// Close stops transcription and captions.
func (p *Pipeline) Close() {
	p.StopTranscription()
	p.mu.Lock()
	p.captions = false
	p.mu.Unlock()
}

func (p *Pipeline) notify() {
	if p.opts.OnChange != nil {
		p.opts.OnChange()
	}
}
