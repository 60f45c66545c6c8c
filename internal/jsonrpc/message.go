// Package jsonrpc implements the JSON-RPC 2.0 envelope the engine and
// plugins exchange over the framed byte stream in package frame: requests,
// responses, and notifications, with id correlation and the host's method
// table.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the literal jsonrpc field value every message carries.
const Version = "2.0"

// Methods the engine sends to a plugin as requests.
const (
	MethodInitialize = "initialize"
	MethodPing       = "ping"
	MethodExecute    = "execute"
	MethodInput      = "input"
	MethodShutdown   = "shutdown"
)

// Notifications a plugin sends back to the engine.
const (
	MethodStream   = "stream"
	MethodComplete = "complete"
	MethodError    = "error"
	MethodLog      = "log"
)

// Message is the wire envelope. Exactly one of the three shapes below is
// populated, distinguished by presence of ID and Result/Error:
//
//   - Request:      ID != nil, Method != ""
//   - Response:     ID != nil, Method == "", Result or Error set
//   - Notification: ID == nil, Method != ""
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Kind classifies a decoded Message.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindResponse
	KindNotification
)

// Classify reports which shape m has.
func (m *Message) Classify() Kind {
	switch {
	case m.ID != nil && m.Method != "":
		return KindRequest
	case m.ID != nil && m.Method == "":
		return KindResponse
	case m.ID == nil && m.Method != "":
		return KindNotification
	default:
		return KindInvalid
	}
}

// NewRequest builds a Request message with the given id and params.
func NewRequest(id int64, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a Notification message (no id, no response expected).
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResult builds a successful Response for id.
func NewResult(id int64, result any) (*Message, error) {
	raw, err := marshalParams(result)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, ID: &id, Result: raw}, nil
}

// NewErrorResponse builds a failed Response for id.
func NewErrorResponse(id int64, rpcErr *RPCError) *Message {
	return &Message{JSONRPC: Version, ID: &id, Error: rpcErr}
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: marshal params: %w", err)
	}
	return b, nil
}

// Decode parses a single frame payload into a Message.
func Decode(payload []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode serialises m back to a frame payload.
func Encode(m *Message) ([]byte, error) {
	if m.JSONRPC == "" {
		m.JSONRPC = Version
	}
	return json.Marshal(m)
}

// UnmarshalParams decodes m.Params (or m.Result, for a response) into out.
func UnmarshalParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
