// Package wsengine streams microphone audio to a speech recognition service
// over a websocket and reads back JSON results.
//
// Audio is sent as one binary frame per RTP payload. The service answers with
// text frames of the form {"text": "...", "final": true}.
package wsengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/captions"
	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/media"
	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
)

const (
	tapBuffer    = 64
	writeTimeout = 5 * time.Second
)

// Engine connects to the recognition service at URL.
type Engine struct {
	URL    string
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

var _ captions.Engine = (*Engine)(nil)

func New(serviceURL string) *Engine {
	return &Engine{URL: serviceURL}
}

type result struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Listen opens one recognition session fed by audio.
func (e *Engine) Listen(ctx context.Context, language string, audio *media.Track) (captions.Recognition, error) {
	if e.URL == "" {
		return nil, captions.ErrUnsupported
	}
	u, err := url.Parse(e.URL)
	if err != nil {
		return nil, fmt.Errorf("parse recognition url: %w", err)
	}
	q := u.Query()
	q.Set("language", language)
	u.RawQuery = q.Encode()

	dialer := e.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial recognition service: %w", err)
	}

	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	packets, untap := audio.Tap(tapBuffer)
	r := &recognition{
		conn:    conn,
		untap:   untap,
		logger:  logger,
		results: make(chan captions.Result, 16),
		stopped: make(chan struct{}),
	}
	go r.send(packets)
	go r.receive()
	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.stopped:
		}
	}()
	return r, nil
}

type recognition struct {
	conn    *websocket.Conn
	untap   func()
	logger  *slog.Logger
	results chan captions.Result
	stopped chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

func (r *recognition) Results() <-chan captions.Result { return r.results }

func (r *recognition) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *recognition) Stop() {
	r.once.Do(func() {
		close(r.stopped)
		r.untap()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = r.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		r.conn.Close()
	})
}

func (r *recognition) send(packets <-chan *rtp.Packet) {
	for pkt := range packets {
		r.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := r.conn.WriteMessage(websocket.BinaryMessage, pkt.Payload); err != nil {
			r.logger.Debug("send audio to recognition service", "error", err)
			return
		}
	}
	// The track ended or was untapped: tell the service no more audio follows.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "end of audio")
	_ = r.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (r *recognition) receive() {
	defer close(r.results)
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			select {
			case <-r.stopped:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					r.setErr(err)
				}
			}
			return
		}

		var res result
		if err := json.Unmarshal(data, &res); err != nil {
			r.logger.Debug("malformed recognition result", "error", err)
			continue
		}
		select {
		case r.results <- captions.Result{Text: res.Text, Final: res.Final}:
		case <-r.stopped:
			return
		}
	}
}

func (r *recognition) setErr(err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}
