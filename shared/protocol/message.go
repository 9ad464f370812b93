// Package protocol defines the wire frame format and closed message-type
// enumeration shared by the server and the agent wrapper.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the only protocol version this codec understands.
const Version = "1.0.0"

// MessageType is the closed enumeration of frame types, partitioned into
// three directions: client->server, server->client, and bidirectional.
type MessageType string

// Client -> server.
const (
	TypeDashboardConnect   MessageType = "dashboard:connect"
	TypeAgentConnect       MessageType = "agent:connect"
	TypeCommandRequest     MessageType = "command:request"
	TypeCommandInterrupt   MessageType = "command:interrupt"
	TypeHeartbeat          MessageType = "agent:heartbeat"
	TypeDashboardSubscribe MessageType = "dashboard:subscribe"
)

// Server -> client.
const (
	TypeConnectionAck MessageType = "connection:ack"
	TypeAgentList     MessageType = "agent:list"
	TypeAgentStatus   MessageType = "agent:status"
	TypeTerminalOutput MessageType = "terminal:output"
	TypeCommandStatus  MessageType = "command:status"
	TypeCommandQueue   MessageType = "command:queue"
	TypeTokenRefresh   MessageType = "token:refresh"
	TypeError          MessageType = "error"
	TypeAgentControl   MessageType = "agent:control"
	TypeEmergencyStop  MessageType = "emergency-stop"
)

// Bidirectional.
const (
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
	TypeAck  MessageType = "ack"
)

// clientToServer and serverToClient record direction membership for
// IsClientOriginated and IsServerOriginated; Decode itself only checks that
// a type is known.
var clientToServer = map[MessageType]bool{
	TypeDashboardConnect:   true,
	TypeAgentConnect:       true,
	TypeCommandRequest:     true,
	TypeCommandInterrupt:   true,
	TypeHeartbeat:          true,
	TypeDashboardSubscribe: true,
}

var serverToClient = map[MessageType]bool{
	TypeConnectionAck:  true,
	TypeAgentList:      true,
	TypeAgentStatus:    true,
	TypeTerminalOutput: true,
	TypeCommandStatus:  true,
	TypeCommandQueue:   true,
	TypeTokenRefresh:   true,
	TypeError:          true,
	TypeAgentControl:   true,
	TypeEmergencyStop:  true,
}

var bidirectional = map[MessageType]bool{
	TypePing: true,
	TypePong: true,
	TypeAck:  true,
}

// IsClientOriginated reports whether t may legally originate from a client
// (dashboard or agent wrapper).
func IsClientOriginated(t MessageType) bool {
	return clientToServer[t] || bidirectional[t]
}

// IsServerOriginated reports whether t may legally originate from the
// server.
func IsServerOriginated(t MessageType) bool {
	return serverToClient[t] || bidirectional[t]
}

// IsKnownType reports whether t is a member of the closed enumeration at
// all, regardless of direction.
func IsKnownType(t MessageType) bool {
	return clientToServer[t] || serverToClient[t] || bidirectional[t]
}

// Frame is the wire envelope for every message: {version, type, id,
// timestamp, payload}. Payload is kept as json.RawMessage so the frame can
// be decoded in two steps — envelope first, typed payload second — and so
// unknown optional fields inside a known payload survive when a frame is
// forwarded without its payload being decoded into a typed struct.
type Frame struct {
	Version   string          `json:"version"`
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DecodeError is returned by Decode when a frame is structurally invalid or
// its type is not a member of the closed enumeration.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode error: %s", e.Reason)
}

// Encode marshals msg, which must be a *Frame built via NewFrame, to bytes.
// Unknown fields on authored messages are not a concern here since Frame's
// Payload is produced by the caller from a concrete struct — stripping of
// unknown fields on re-serialization happens naturally because marshaling a
// concrete Go struct only ever emits its declared fields.
func Encode(f *Frame) ([]byte, error) {
	if f.Version == "" {
		f.Version = Version
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return b, nil
}

// Decode parses raw bytes into a Frame envelope and validates the envelope
// shape. It does not decode the payload — callers type-switch on Type and
// unmarshal Payload into the matching struct.
func Decode(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := validateEnvelope(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func validateEnvelope(f *Frame) error {
	if f.Version == "" {
		return &DecodeError{Reason: "missing version"}
	}
	if f.Type == "" {
		return &DecodeError{Reason: "missing type"}
	}
	if !IsKnownType(f.Type) {
		return &DecodeError{Reason: fmt.Sprintf("unknown type %q", f.Type)}
	}
	if f.ID == "" {
		return &DecodeError{Reason: "missing id"}
	}
	if f.Timestamp <= 0 {
		return &DecodeError{Reason: "non-positive timestamp"}
	}
	return nil
}

// NewFrame builds a Frame envelope around a typed payload, marshaling it to
// json.RawMessage. id is normally a uuid.NewString() result; timestamp is
// normally time.Now(), stored on the frame as Unix milliseconds.
func NewFrame(t MessageType, id string, timestamp time.Time, payload any) (*Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshaling payload for %s: %w", t, err)
	}
	return &Frame{
		Version:   Version,
		Type:      t,
		ID:        id,
		Timestamp: timestamp.UnixMilli(),
		Payload:   raw,
	}, nil
}

// DecodePayload unmarshals f's payload into dst, a pointer to the struct
// matching f.Type.
func DecodePayload(f *Frame, dst any) error {
	if len(f.Payload) == 0 {
		return &DecodeError{Reason: fmt.Sprintf("%s: empty payload", f.Type)}
	}
	if err := json.Unmarshal(f.Payload, dst); err != nil {
		return &DecodeError{Reason: fmt.Sprintf("%s: %v", f.Type, err)}
	}
	return nil
}
