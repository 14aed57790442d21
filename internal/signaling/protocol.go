package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RecordSeparator terminates every JSON record on the wire.
const RecordSeparator byte = 0x1e

// MessageType identifies the kind of hub protocol record.
type MessageType int

const (
	TypeInvocation MessageType = 1
	TypeCompletion MessageType = 3
	TypePing       MessageType = 6
	TypeClose      MessageType = 7
)

// Message is a single hub protocol record.
type Message struct {
	Type           MessageType       `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

// HandshakeRequest is the first record a client writes after dialing.
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse is the server's answer to the handshake. An empty Error
// means the handshake succeeded.
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// NewInvocation builds an invocation record. An empty id makes it
// fire-and-forget: the server sends no completion.
func NewInvocation(id, target string, args ...any) (*Message, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d of %s: %w", i, target, err)
		}
		raw = append(raw, b)
	}
	return &Message{
		Type:         TypeInvocation,
		InvocationID: id,
		Target:       target,
		Arguments:    raw,
	}, nil
}

// NewCompletion builds a completion for invocation id. A non-empty errMsg
// reports failure and result is ignored.
func NewCompletion(id string, result any, errMsg string) (*Message, error) {
	msg := &Message{Type: TypeCompletion, InvocationID: id}
	if errMsg != "" {
		msg.Error = errMsg
		return msg, nil
	}
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode completion result: %w", err)
		}
		msg.Result = b
	}
	return msg, nil
}

// Arg decodes argument i into v.
func (m *Message) Arg(i int, v any) error {
	if i >= len(m.Arguments) {
		return fmt.Errorf("%s: missing argument %d", m.Target, i)
	}
	if err := json.Unmarshal(m.Arguments[i], v); err != nil {
		return fmt.Errorf("%s: argument %d: %w", m.Target, i, err)
	}
	return nil
}

// EncodeRecord marshals v as JSON and appends the record separator.
func EncodeRecord(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, RecordSeparator), nil
}

// SplitRecords returns the non-empty records in a websocket frame.
func SplitRecords(frame []byte) [][]byte {
	var records [][]byte
	for _, part := range bytes.Split(frame, []byte{RecordSeparator}) {
		if len(bytes.TrimSpace(part)) == 0 {
			continue
		}
		records = append(records, part)
	}
	return records
}
