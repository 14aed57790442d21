// Package hub is an in-memory meeting hub speaking the same JSON hub
// protocol as the production backend. It is meant for local development and
// tests.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/signaling"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotInRoom    = errors.New("you must join the room first")
	ErrNotHost      = errors.New("only the host can do this")
	ErrStopped      = errors.New("hub stopped")
)

// Translator translates caption text.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// Summarizer builds a meeting summary from the room history.
type Summarizer interface {
	Summarize(ctx context.Context, eventID string, transcripts []signaling.Transcription, chat []signaling.ChatMessage) (signaling.MeetingSummary, error)
}

type identityTranslator struct{}

func (identityTranslator) Translate(_ context.Context, text, _ string) (string, error) {
	return text, nil
}

type Options struct {
	// Translator defaults to returning the text unchanged.
	Translator Translator
	// Summarizer defaults to an extractive summary of the transcripts.
	Summarizer Summarizer

	// MaxDuration ends rooms automatically. WarnBefore is how long before the
	// end participants are warned. Zero disables both.
	MaxDuration time.Duration
	WarnBefore  time.Duration

	Logger *slog.Logger
}

type request struct {
	client *Client
	msg    *signaling.Message
}

// Hub is the central brain of the development server. All room and client
// state is owned by the Run goroutine.
type Hub struct {
	opts   Options
	logger *slog.Logger

	rooms   map[string]*Room
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	requests   chan request
	exec       chan func()
	done       chan struct{}
}

func NewHub(opts Options) *Hub {
	if opts.Translator == nil {
		opts.Translator = identityTranslator{}
	}
	if opts.Summarizer == nil {
		opts.Summarizer = ExtractiveSummarizer{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		opts:       opts,
		logger:     logger.With("component", "hub"),
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		requests:   make(chan request, 256),
		exec:       make(chan func(), 64),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and invocations until ctx is cancelled. It is
// the single goroutine that touches rooms and clients.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.logger.Debug("client registered", "connection_id", c.id, "remote", c.conn.RemoteAddr().String())

		case c := <-h.unregister:
			if !h.clients[c] {
				continue
			}
			h.leave(c)
			delete(h.clients, c)
			close(c.send)
			h.logger.Debug("client unregistered", "connection_id", c.id)

		case req := <-h.requests:
			if !h.clients[req.client] {
				continue
			}
			h.handle(ctx, req)

		case fn := <-h.exec:
			fn()

		case <-ctx.Done():
			for _, room := range h.rooms {
				room.stopTimers()
			}
			for c := range h.clients {
				close(c.send)
			}
			h.clients = nil
			return
		}
	}
}

// Done is closed once Run returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Attach registers a new websocket connection and starts its pumps.
func (h *Hub) Attach(conn *websocket.Conn) *Client {
	c := &Client{
		hub:  h,
		conn: conn,
		id:   uuid.NewString(),
		send: make(chan []byte, 256),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return c
	}
	go c.WritePump()
	go c.ReadPump()
	return c
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(req request) {
	select {
	case h.requests <- req:
	case <-h.done:
	}
}

// do runs fn on the Run goroutine and waits for it.
func (h *Hub) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case h.exec <- func() { fn(); close(finished) }:
	case <-h.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrStopped
	}
}

// post schedules fn on the Run goroutine without waiting.
func (h *Hub) post(fn func()) {
	go func() {
		select {
		case h.exec <- fn:
		case <-h.done:
		}
	}()
}

// deliver queues a record for c. A client that cannot keep up is dropped.
func (h *Hub) deliver(c *Client, rec []byte) {
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- rec:
	default:
		h.logger.Warn("client send buffer full, dropping client", "connection_id", c.id)
		h.leave(c)
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) emit(c *Client, ev signaling.Event) {
	msg, err := signaling.Encode(ev)
	if err != nil {
		h.logger.Error("encode event", "target", ev.Target(), "error", err)
		return
	}
	rec, err := signaling.EncodeRecord(msg)
	if err != nil {
		h.logger.Error("encode record", "target", ev.Target(), "error", err)
		return
	}
	h.deliver(c, rec)
}

// broadcast sends ev to every member of room except skip.
func (h *Hub) broadcast(room *Room, ev signaling.Event, skip *Client) {
	for _, c := range room.sortedMembers() {
		if c != skip {
			h.emit(c, ev)
		}
	}
}

func (h *Hub) complete(c *Client, id string, result any, err error) {
	if id == "" {
		if err != nil {
			h.logger.Debug("invocation failed", "connection_id", c.id, "error", err)
		}
		return
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	msg, encErr := signaling.NewCompletion(id, result, errMsg)
	if encErr != nil {
		h.logger.Error("encode completion", "error", encErr)
		return
	}
	rec, encErr := signaling.EncodeRecord(msg)
	if encErr != nil {
		h.logger.Error("encode record", "error", encErr)
		return
	}
	h.deliver(c, rec)
}

// leave removes c from its room and tells the others.
func (h *Hub) leave(c *Client) {
	room, ok := h.rooms[c.roomID]
	c.roomID = ""
	if !ok {
		return
	}
	if _, member := room.members[c.id]; !member {
		return
	}
	delete(room.members, c.id)
	h.logger.Info("participant left", "event_id", room.ID, "connection_id", c.id)

	if len(room.members) == 0 {
		room.stopTimers()
		delete(h.rooms, room.ID)
		h.logger.Info("room closed", "event_id", room.ID)
		return
	}
	h.broadcast(room, signaling.UserLeft{ConnectionID: c.id}, nil)
}

// endRoom tells every member the room ended and forgets it.
func (h *Hub) endRoom(room *Room) {
	room.stopTimers()
	h.broadcast(room, signaling.RoomEnded{}, nil)
	for _, c := range room.members {
		c.roomID = ""
	}
	delete(h.rooms, room.ID)
	h.logger.Info("room ended", "event_id", room.ID)
}

func (h *Hub) scheduleLimits(room *Room) {
	if h.opts.MaxDuration <= 0 {
		return
	}
	id := room.ID
	if warnAt := h.opts.MaxDuration - h.opts.WarnBefore; h.opts.WarnBefore > 0 && warnAt > 0 {
		room.timers = append(room.timers, time.AfterFunc(warnAt, func() {
			h.post(func() {
				if r, ok := h.rooms[id]; ok && r == room {
					h.broadcast(r, signaling.ShowEndWarning{Message: "The meeting will end in " + h.opts.WarnBefore.String()}, nil)
				}
			})
		}))
	}
	room.timers = append(room.timers, time.AfterFunc(h.opts.MaxDuration, func() {
		h.post(func() {
			if r, ok := h.rooms[id]; ok && r == room {
				h.endRoom(r)
			}
		})
	}))
}

// WarnRoom shows an end warning to every member of eventID.
func (h *Hub) WarnRoom(eventID, message string) error {
	var err error
	if doErr := h.do(func() {
		room, ok := h.rooms[eventID]
		if !ok {
			err = ErrRoomNotFound
			return
		}
		h.broadcast(room, signaling.ShowEndWarning{Message: message}, nil)
	}); doErr != nil {
		return doErr
	}
	return err
}

// EndRoom ends eventID for everyone.
func (h *Hub) EndRoom(eventID string) error {
	var err error
	if doErr := h.do(func() {
		room, ok := h.rooms[eventID]
		if !ok {
			err = ErrRoomNotFound
			return
		}
		h.endRoom(room)
	}); doErr != nil {
		return doErr
	}
	return err
}

// RoomInfo describes an active room.
type RoomInfo struct {
	ID           string                      `json:"id"`
	HostID       string                      `json:"hostId,omitempty"`
	StartedAt    time.Time                   `json:"startedAt"`
	Participants []signaling.ParticipantInfo `json:"participants"`
}

// Rooms lists active rooms.
func (h *Hub) Rooms() ([]RoomInfo, error) {
	var out []RoomInfo
	err := h.do(func() {
		for _, room := range h.rooms {
			out = append(out, RoomInfo{
				ID:           room.ID,
				HostID:       room.HostID,
				StartedAt:    room.StartedAt,
				Participants: room.participants(),
			})
		}
	})
	return out, err
}
