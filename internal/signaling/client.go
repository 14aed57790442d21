package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/dns"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	keepAlivePeriod  = 15 * time.Second
	handshakeTimeout = 15 * time.Second
	maxMessageSize   = 512 * 1024
	eventBuffer      = 256
	outgoingBuffer   = 64
)

var (
	// ErrNotConnected is returned when the hub connection is down.
	ErrNotConnected = errors.New("hub connection is not established")

	// ErrClosed is returned after Close or after reconnection gave up.
	ErrClosed = errors.New("hub client is closed")
)

// DefaultReconnectDelays is the wait before each reconnection attempt.
var DefaultReconnectDelays = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

// HubError is a failed completion returned by the hub.
type HubError struct {
	Method  string
	Message string
}

func (e *HubError) Error() string {
	return fmt.Sprintf("hub method %s failed: %s", e.Method, e.Message)
}

// Options configures a Client.
type Options struct {
	URL string

	// ReconnectDelays overrides DefaultReconnectDelays. Set NoReconnect to
	// disable automatic reconnection.
	ReconnectDelays []time.Duration
	NoReconnect     bool

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// link is one websocket connection generation.
type link struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (l *link) stop() {
	l.once.Do(func() { close(l.done) })
}

// Client manages the websocket connection to the meeting hub.
type Client struct {
	url    string
	dialer *websocket.Dialer
	delays []time.Duration
	logger *slog.Logger

	events      chan Event
	done        chan struct{}
	closeOnce   sync.Once
	nextID      atomic.Uint64
	deliverOnce sync.Once

	// backlog holds events the consumer has not taken yet, so the read
	// pump never waits on Events.
	backlogMu sync.Mutex
	backlog   []Event
	wake      chan struct{}

	mu      sync.Mutex
	link    *link
	pending map[string]chan *Message
	closed  bool
}

// NewClient creates a hub client. Nothing is dialed until Connect.
func NewClient(opts Options) *Client {
	delays := opts.ReconnectDelays
	if delays == nil {
		delays = DefaultReconnectDelays
	}
	if opts.NoReconnect {
		delays = nil
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = newDialer()
	}

	return &Client{
		url:     opts.URL,
		dialer:  dialer,
		delays:  delays,
		logger:  logger.With("component", "signaling"),
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		pending: make(map[string]chan *Message),
	}
}

// newDialer returns a websocket dialer that resolves hosts with the
// fallback resolver.
func newDialer() *websocket.Dialer {
	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		resolvedIP, err := dns.Lookup(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}

		var d net.Dialer
		return d.DialContext(ctx, network, net.JoinHostPort(resolvedIP, port))
	}
	return &dialer
}

// Connect dials the hub and performs the protocol handshake. It is a no-op
// when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.link != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	l, leftover, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed || c.link != nil {
		closed := c.closed
		c.mu.Unlock()
		l.stop()
		l.conn.Close()
		if closed {
			return ErrClosed
		}
		return nil
	}
	c.link = l
	c.mu.Unlock()

	go c.writePump(l)
	go c.readPump(l, leftover)

	c.logger.Info("connected to hub", "url", c.url)
	return nil
}

// dial opens a websocket and completes the handshake. Records that arrived
// in the same frame as the handshake response are returned as leftover.
func (c *Client) dial(ctx context.Context) (*link, [][]byte, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	req, err := EncodeRecord(HandshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("send handshake: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("read handshake: %w", err)
	}

	records := SplitRecords(frame)
	if len(records) == 0 {
		conn.Close()
		return nil, nil, errors.New("empty handshake response")
	}

	var resp HandshakeResponse
	if err := json.Unmarshal(records[0], &resp); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("decode handshake: %w", err)
	}
	if resp.Error != "" {
		conn.Close()
		return nil, nil, fmt.Errorf("handshake rejected: %s", resp.Error)
	}

	return &link{
		conn: conn,
		out:  make(chan []byte, outgoingBuffer),
		done: make(chan struct{}),
	}, records[1:], nil
}

// readPump reads records from one connection generation.
func (c *Client) readPump(l *link, leftover [][]byte) {
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for _, rec := range leftover {
		if stop := c.handleRecord(l, rec); stop {
			return
		}
	}

	for {
		_, frame, err := l.conn.ReadMessage()
		if err != nil {
			c.linkLost(l, err)
			return
		}
		l.conn.SetReadDeadline(time.Now().Add(pongWait))

		for _, rec := range SplitRecords(frame) {
			if stop := c.handleRecord(l, rec); stop {
				return
			}
		}
	}
}

// handleRecord processes one record and reports whether the read loop must stop.
func (c *Client) handleRecord(l *link, rec []byte) bool {
	var msg Message
	if err := json.Unmarshal(rec, &msg); err != nil {
		c.logger.Warn("dropping malformed hub record", "error", err)
		return false
	}

	switch msg.Type {
	case TypeInvocation:
		ev, err := Decode(&msg)
		if err != nil {
			c.logger.Warn("dropping undecodable hub event", "target", msg.Target, "error", err)
			return false
		}
		c.emit(ev)

	case TypeCompletion:
		c.complete(&msg)

	case TypePing:

	case TypeClose:
		reason := errors.New("hub closed the connection")
		if msg.Error != "" {
			reason = fmt.Errorf("hub closed the connection: %s", msg.Error)
		}
		if msg.AllowReconnect {
			c.linkLost(l, reason)
		} else {
			c.shutdown(reason)
		}
		return true

	default:
		c.logger.Debug("ignoring hub record", "type", msg.Type)
	}
	return false
}

// writePump writes queued records and keeps the connection alive.
func (c *Client) writePump(l *link) {
	ticker := time.NewTicker(keepAlivePeriod)

	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()

	ping, _ := EncodeRecord(Message{Type: TypePing})

	for {
		select {
		case rec := <-l.out:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, rec); err != nil {
				return
			}

		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if err := l.conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}

		case <-l.done:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			l.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// linkLost tears down a dropped connection generation and starts reconnecting.
func (c *Client) linkLost(l *link, cause error) {
	c.mu.Lock()
	if c.closed || c.link != l {
		c.mu.Unlock()
		l.stop()
		return
	}
	c.link = nil
	pending := c.takePending()
	c.mu.Unlock()

	l.stop()
	for _, ch := range pending {
		close(ch)
	}

	if len(c.delays) == 0 {
		c.shutdown(cause)
		return
	}

	c.logger.Warn("hub connection lost, reconnecting", "error", cause)
	c.emit(Reconnecting{Err: cause})
	go c.reconnect()
}

// reconnect retries the dial on the configured schedule.
func (c *Client) reconnect() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if first := c.delays[0]; first > 0 {
		select {
		case <-time.After(first):
		case <-ctx.Done():
			return
		}
	}

	var (
		l        *link
		leftover [][]byte
		attempt  int
	)
	operation := func() error {
		attempt++
		var err error
		l, leftover, err = c.dial(ctx)
		return err
	}
	notify := func(err error, next time.Duration) {
		c.logger.Warn("hub reconnect attempt failed", "attempt", attempt, "error", err, "next_retry", next)
	}

	b := backoff.WithContext(newScheduleBackOff(c.delays[1:]), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		c.shutdown(fmt.Errorf("reconnect failed after %d attempts: %w", attempt, err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		l.stop()
		l.conn.Close()
		return
	}
	c.link = l
	c.mu.Unlock()

	go c.writePump(l)
	c.logger.Info("reconnected to hub", "attempts", attempt)
	c.emit(Reconnected{})
	go c.readPump(l, leftover)
}

// shutdown permanently stops the client and reports Closed.
func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		l := c.link
		c.link = nil
		pending := c.takePending()
		c.mu.Unlock()

		if l != nil {
			l.stop()
		}
		for _, ch := range pending {
			close(ch)
		}

		c.emit(Closed{Err: cause})
		close(c.done)
	})
}

// takePending must be called with c.mu held.
func (c *Client) takePending() map[string]chan *Message {
	pending := c.pending
	c.pending = make(map[string]chan *Message)
	return pending
}

// emit queues ev for Events without blocking.
func (c *Client) emit(ev Event) {
	c.deliverOnce.Do(func() { go c.deliver() })

	c.backlogMu.Lock()
	c.backlog = append(c.backlog, ev)
	c.backlogMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// deliver moves queued events to Events in order until the client stops.
func (c *Client) deliver() {
	for {
		c.backlogMu.Lock()
		queued := c.backlog
		c.backlog = nil
		c.backlogMu.Unlock()

		for i, ev := range queued {
			select {
			case c.events <- ev:
			case <-c.done:
				c.flush(queued[i:])
				return
			}
		}

		select {
		case <-c.wake:
		case <-c.done:
			c.flush(nil)
			return
		}
	}
}

// flush hands over what still fits in the events buffer after shutdown.
func (c *Client) flush(rest []Event) {
	c.backlogMu.Lock()
	rest = append(rest, c.backlog...)
	c.backlog = nil
	c.backlogMu.Unlock()

	for i, ev := range rest {
		select {
		case c.events <- ev:
		default:
			c.logger.Warn("event buffer full after shutdown, dropping events", "dropped", len(rest)-i)
			return
		}
	}
}

func (c *Client) complete(msg *Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.InvocationID]
	delete(c.pending, msg.InvocationID)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("completion for unknown invocation", "id", msg.InvocationID)
		return
	}
	ch <- msg
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// current returns the live link or the reason there is none.
func (c *Client) current() (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.link == nil {
		return nil, ErrNotConnected
	}
	return c.link, nil
}

func (c *Client) write(ctx context.Context, l *link, msg *Message) error {
	rec, err := EncodeRecord(msg)
	if err != nil {
		return err
	}
	select {
	case l.out <- rec:
		return nil
	case <-l.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invoke calls a hub method and waits for its completion.
func (c *Client) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	msg, err := NewInvocation(id, method, args...)
	if err != nil {
		return nil, err
	}

	ch := make(chan *Message, 1)
	c.mu.Lock()
	l := c.link
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, ErrClosed
	case l == nil:
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(ctx, l, msg); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if res.Error != "" {
			return nil, &HubError{Method: method, Message: res.Error}
		}
		return res.Result, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// Send calls a hub method without waiting for a completion.
func (c *Client) Send(ctx context.Context, method string, args ...any) error {
	msg, err := NewInvocation("", method, args...)
	if err != nil {
		return err
	}
	l, err := c.current()
	if err != nil {
		return err
	}
	return c.write(ctx, l, msg)
}

// Events returns the ordered stream of inbound events.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connected reports whether a hub connection is currently established.
func (c *Client) Connected() bool {
	_, err := c.current()
	return err == nil
}

// Done is closed once the client stopped for good.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.shutdown(nil)
}
