package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedFrame marks inbound frames that cannot become typed events.
var ErrMalformedFrame = errors.New("malformed frame")

// EventKind is the wire discriminator of one inbound realtime frame.
// Params: constants matching the backend "tipo" values.
// Returns: event variant selector.
type EventKind string

const (
	// EventConnectedAck confirms the channel handshake.
	EventConnectedAck EventKind = "conexion_exitosa"
	// EventNewAlert carries one freshly raised alert.
	EventNewAlert EventKind = "nueva_alerta"
	// EventPong answers a liveness ping.
	EventPong EventKind = "pong"
	// EventError reports a backend-side error.
	EventError EventKind = "error"
)

// InboundEvent is one decoded realtime event.
// Params: kind discriminator, optional message/user, timestamp, and opaque alert payload.
// Returns: typed event for dispatcher consumers.
type InboundEvent struct {
	Kind      EventKind
	Message   string
	User      string
	Timestamp time.Time
	Alert     json.RawMessage
}

// wireFrame mirrors the JSON frame sent by the realtime backend.
type wireFrame struct {
	Kind      EventKind       `json:"tipo"`
	Message   *string         `json:"mensaje"`
	Timestamp string          `json:"timestamp"`
	User      *string         `json:"usuario"`
	Alert     json.RawMessage `json:"alerta"`
}

// DecodeFrame decodes and validates one inbound text frame.
// Params: raw frame bytes.
// Returns: typed event or error wrapping ErrMalformedFrame.
func DecodeFrame(raw []byte) (InboundEvent, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 || payload[0] != '{' {
		return InboundEvent{}, fmt.Errorf("%w: not a JSON object", ErrMalformedFrame)
	}
	var frame wireFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return InboundEvent{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch frame.Kind {
	case EventConnectedAck, EventNewAlert, EventPong, EventError:
	case "":
		return InboundEvent{}, fmt.Errorf("%w: tipo is required", ErrMalformedFrame)
	default:
		return InboundEvent{}, fmt.Errorf("%w: unsupported tipo %q", ErrMalformedFrame, frame.Kind)
	}

	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(frame.Timestamp))
	if err != nil {
		return InboundEvent{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedFrame, err)
	}

	event := InboundEvent{
		Kind:      frame.Kind,
		Timestamp: ts.UTC(),
	}
	if frame.Message != nil {
		event.Message = *frame.Message
	}
	if frame.User != nil {
		event.User = *frame.User
	}
	if frame.Kind == EventNewAlert {
		if len(frame.Alert) == 0 || bytes.Equal(frame.Alert, []byte("null")) {
			return InboundEvent{}, fmt.Errorf("%w: alerta is required for tipo=%s", ErrMalformedFrame, frame.Kind)
		}
		event.Alert = append(json.RawMessage(nil), frame.Alert...)
	}
	return event, nil
}

// ConnectionState is the realtime channel lifecycle state.
// Params: Idle/Connecting/Open/Closing/Closed constants.
// Returns: state owned by the connection manager.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

// String returns human-readable connection state.
// Params: none.
// Returns: lower-case state name.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionStates lists every state in lifecycle order.
func ConnectionStates() []ConnectionState {
	return []ConnectionState{StateIdle, StateConnecting, StateOpen, StateClosing, StateClosed}
}

// CloseEvent describes one channel closure.
// Params: websocket close code, reason text, and manual-close marker.
// Returns: payload for close handlers.
type CloseEvent struct {
	Code   int
	Reason string
	Manual bool
}

// TransportError wraps one channel-level failure fanned out to error handlers.
type TransportError struct {
	Op  string
	Err error
}

// Error renders failing operation and cause.
func (e *TransportError) Error() string {
	return fmt.Sprintf("realtime %s: %v", e.Op, e.Err)
}

// Unwrap exposes cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}
