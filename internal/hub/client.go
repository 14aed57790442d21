package hub

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/signaling"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// SDP offers with many candidates fit comfortably.
	maxMessageSize = 512 * 1024

	handshakeWait = 15 * time.Second
)

// Client is one websocket connection to the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string

	// send is closed by the Run loop when the client is unregistered.
	send chan []byte

	// Owned by the Run loop.
	roomID   string
	name     string
	joinedAt time.Time
	audio    bool
	video    bool
	hand     bool
}

// ID is the connection id assigned by the hub.
func (c *Client) ID() string { return c.id }

// handshake reads the protocol handshake and acknowledges it.
func (c *Client) handshake() error {
	c.conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, frame, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	records := signaling.SplitRecords(frame)
	if len(records) == 0 {
		return errors.New("empty handshake")
	}

	var req signaling.HandshakeRequest
	resp := signaling.HandshakeResponse{}
	if err := json.Unmarshal(records[0], &req); err != nil {
		resp.Error = "malformed handshake"
	} else if req.Protocol != "json" || req.Version != 1 {
		resp.Error = "unsupported protocol " + req.Protocol
	}

	out, err := signaling.EncodeRecord(resp)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, out); err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}

	for _, rec := range records[1:] {
		c.dispatch(rec)
	}
	return nil
}

// ReadPump pumps records from the websocket connection to the hub.
//
// There is at most one reader on a connection: every read happens on this
// goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.handshake(); err != nil {
		c.hub.logger.Debug("handshake failed", "connection_id", c.id, "error", err)
		return
	}

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("read from client", "connection_id", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		for _, rec := range signaling.SplitRecords(frame) {
			if stop := c.dispatch(rec); stop {
				return
			}
		}
	}
}

// dispatch forwards one record and reports whether the client asked to close.
func (c *Client) dispatch(rec []byte) bool {
	var msg signaling.Message
	if err := json.Unmarshal(rec, &msg); err != nil {
		c.hub.logger.Debug("malformed record", "connection_id", c.id, "error", err)
		return false
	}
	switch msg.Type {
	case signaling.TypeInvocation:
		c.hub.submit(request{client: c, msg: &msg})
	case signaling.TypeClose:
		return true
	}
	return false
}

// WritePump pumps records from the hub to the websocket connection.
//
// There is at most one writer on a connection: every write happens on this
// goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case rec, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, rec); err != nil {
				c.hub.logger.Debug("write to client", "connection_id", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
