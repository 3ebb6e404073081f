// Package transport speaks the chat server's websocket protocol: JSON event
// envelopes in, command envelopes out. It knows nothing about merging; decoded
// events are handed to a Dispatcher target (the active room session) and
// commands are serialized from the domain command types.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Server-to-client event names.
const (
	EventMessage        = "message"
	EventHistoryPage    = "previousMessagesLoaded"
	EventRoomJoined     = "joinRoomSuccess"
	EventMessagesRead   = "messagesRead"
	EventReactionUpdate = "messageReactionUpdate"
	EventParticipants   = "participantsUpdate"
	EventSessionEnded   = "session_ended"
	EventError          = "error"
)

// Client-to-server command names.
const (
	CmdJoinRoom      = "joinRoom"
	CmdLeaveRoom     = "leaveRoom"
	CmdFetchPrevious = "fetchPreviousMessages"
	CmdChatMessage   = "chatMessage"
)

// Envelope is the wire frame: an event name plus its raw payload, decoded a
// second time once the event is known.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerError is the payload of the server's error event. The server sends
// one when a request fails, including a dropped history fetch.
type ServerError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return "transport: server error " + e.Code
	}
	return "transport: server error: " + e.Message
}

var (
	// ErrEmptyEvent means the frame carried no event name.
	ErrEmptyEvent = errors.New("transport: envelope has no event name")

	// ErrNotConnected means a command was issued with no live connection.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrClientClosed means the client was shut down by its owner.
	ErrClientClosed = errors.New("transport: client closed")
)

// EncodeEnvelope serializes a command frame.
func EncodeEnvelope(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("transport: encode %s payload: %w", event, err)
		}
		data = b
	}
	b, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("transport: encode %s envelope: %w", event, err)
	}
	return b, nil
}

// DecodeEnvelope parses a wire frame without touching its payload.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("transport: decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrEmptyEvent
	}
	return env, nil
}
