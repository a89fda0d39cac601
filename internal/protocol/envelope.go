// Package protocol defines the JSON message envelope and payloads exchanged
// over Redis pub/sub between the simulator service and its clients.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message type constants.
const (
	TypePVReadRequest    = "pv.read.request"
	TypePVReadResponse   = "pv.read.response"
	TypePVWriteRequest   = "pv.write.request"
	TypePVWriteResponse  = "pv.write.response"
	TypeServiceHeartbeat = "service.heartbeat"
	TypeSystemFault      = "system.fault"
)

// ValidMessageTypes lists all valid message types.
var ValidMessageTypes = []string{
	TypePVReadRequest,
	TypePVReadResponse,
	TypePVWriteRequest,
	TypePVWriteResponse,
	TypeServiceHeartbeat,
	TypeSystemFault,
}

// SchemaVersion is the current protocol version.
const SchemaVersion = "v1.0.0"

// Pub/sub channel names.
const (
	HeartbeatChannel = "events:heartbeat"
	FaultChannel     = "events:fault"
)

// RequestChannel is the channel a simulator instance listens on for
// pv.read.request and pv.write.request messages.
func RequestChannel(instance string) string {
	return "pv:" + instance
}

// ResponseChannel is the channel a client listens on for responses to its
// own requests.
func ResponseChannel(service, instance string) string {
	return "responses:" + service + ":" + instance
}

// Message is the top-level protocol message containing an envelope and payload.
type Message struct {
	Envelope Envelope        `json:"envelope"`
	Payload  json.RawMessage `json:"payload"`
}

// Envelope contains message metadata and routing information.
type Envelope struct {
	ID            string `json:"id"`
	Timestamp     int64  `json:"timestamp"`
	Source        Source `json:"source"`
	SchemaVersion string `json:"schema_version"`
	Type          string `json:"type"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ReplyTo       string `json:"reply_to,omitempty"`
}

// Source identifies who sent a message.
type Source struct {
	Service  string `json:"service"`
	Instance string `json:"instance"`
	Version  string `json:"version"`
}

// Error is a standard error object used in response payloads.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error codes used in response payloads.
const (
	ErrCodeUnknownVariable = "UNKNOWN_VARIABLE"
	ErrCodeReadOnly        = "READ_ONLY"
	ErrCodeInternal        = "INTERNAL"
)

// ReadRequestPayload asks for a variable's current value.
type ReadRequestPayload struct {
	Name string `json:"name"`
}

// ReadResponsePayload returns a variable's value, or an error.
type ReadResponsePayload struct {
	Name  string  `json:"name"`
	Value *string `json:"value"`
	Unit  string  `json:"unit,omitempty"`
	Error *Error  `json:"error,omitempty"`
}

// WriteRequestPayload requests a new value for a variable. Value is the raw
// string form; the simulator parses, clamps, and arbitrates it.
type WriteRequestPayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// WriteResponsePayload reports the value the store holds after the write.
// A clamped or refused request is not an error: Stored differs from Requested.
type WriteResponsePayload struct {
	Name      string `json:"name"`
	Requested string `json:"requested"`
	Stored    string `json:"stored"`
	Error     *Error `json:"error,omitempty"`
}

// HeartbeatPayload contains fields from the service.heartbeat payload.
type HeartbeatPayload struct {
	Status            string   `json:"status"`
	UptimeSeconds     int64    `json:"uptime_seconds"`
	MachineMode       string   `json:"machine_mode"`
	BeamCurrentAvg    float64  `json:"beam_current_avg"`
	Ticks             uint64   `json:"ticks"`
	Variables         []string `json:"variables"`
	RequestsProcessed *int     `json:"requests_processed,omitempty"`
	RequestsFailed    *int     `json:"requests_failed,omitempty"`
	LastError         *string  `json:"last_error"`
}

// FaultPayload contains fields from the system.fault payload.
type FaultPayload struct {
	Mode        string `json:"mode"`
	PriorMode   string `json:"prior_mode,omitempty"`
	Reason      string `json:"reason"`
	Description string `json:"description,omitempty"`
}

// NewEnvelope creates a new envelope with a generated UUIDv4 and current UTC timestamp.
func NewEnvelope(source Source, msgType string) Envelope {
	return Envelope{
		ID:            uuid.New().String(),
		Timestamp:     time.Now().UTC().Unix(),
		Source:        source,
		SchemaVersion: SchemaVersion,
		Type:          msgType,
	}
}

// NewMessage builds a complete message with envelope and marshaled payload.
func NewMessage(source Source, msgType string, payload interface{}) (*Message, error) {
	env := NewEnvelope(source, msgType)

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	return &Message{
		Envelope: env,
		Payload:  json.RawMessage(payloadBytes),
	}, nil
}

// NewRequest builds a request message with a fresh correlation id and the
// caller's response channel as reply_to.
func NewRequest(source Source, msgType string, replyTo string, payload interface{}) (*Message, error) {
	msg, err := NewMessage(source, msgType, payload)
	if err != nil {
		return nil, err
	}
	msg.Envelope.CorrelationID = uuid.New().String()
	msg.Envelope.ReplyTo = replyTo
	return msg, nil
}

// NewResponse builds a response message correlated to a request.
func NewResponse(source Source, msgType string, req *Message, payload interface{}) (*Message, error) {
	msg, err := NewMessage(source, msgType, payload)
	if err != nil {
		return nil, err
	}
	msg.Envelope.CorrelationID = req.Envelope.CorrelationID
	return msg, nil
}

// Parse unmarshals JSON bytes into a Message.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return &msg, nil
}

// ParseReadRequest extracts a ReadRequestPayload from a Message.
func ParseReadRequest(msg *Message) (*ReadRequestPayload, error) {
	var p ReadRequestPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return nil, fmt.Errorf("parse read request payload: %w", err)
	}
	return &p, nil
}

// ParseReadResponse extracts a ReadResponsePayload from a Message.
func ParseReadResponse(msg *Message) (*ReadResponsePayload, error) {
	var p ReadResponsePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return nil, fmt.Errorf("parse read response payload: %w", err)
	}
	return &p, nil
}

// ParseWriteRequest extracts a WriteRequestPayload from a Message.
func ParseWriteRequest(msg *Message) (*WriteRequestPayload, error) {
	var p WriteRequestPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return nil, fmt.Errorf("parse write request payload: %w", err)
	}
	return &p, nil
}

// ParseWriteResponse extracts a WriteResponsePayload from a Message.
func ParseWriteResponse(msg *Message) (*WriteResponsePayload, error) {
	var p WriteResponsePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return nil, fmt.Errorf("parse write response payload: %w", err)
	}
	return &p, nil
}

// ParseHeartbeat extracts a HeartbeatPayload from a Message.
func ParseHeartbeat(msg *Message) (*HeartbeatPayload, error) {
	var p HeartbeatPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return nil, fmt.Errorf("parse heartbeat payload: %w", err)
	}
	return &p, nil
}

// ParseFault extracts a FaultPayload from a Message.
func ParseFault(msg *Message) (*FaultPayload, error) {
	var p FaultPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return nil, fmt.Errorf("parse fault payload: %w", err)
	}
	return &p, nil
}
