// Package domain defines the value types shared between the sync engine,
// the transport layer, and the local archive. The JSON tags mirror the wire
// protocol of the chat service, so these types double as the transport
// payload shapes.
package domain

import (
	"time"
)

// MessageKind discriminates the payload of a Message.
type MessageKind string

// Supported message kinds. The server rejects anything else.
const (
	KindText   MessageKind = "text"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// MaxContentRunes is the server-side cap on message content length.
const MaxContentRunes = 10000

// FileMeta describes an uploaded file attached to a file message. The blob
// itself lives in object storage; StorageID is the opaque reference.
type FileMeta struct {
	StorageID    string `json:"_id"`
	Filename     string `json:"filename"`
	OriginalName string `json:"originalname"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
}

// MessageReader records a single user's read acknowledgement of a message.
type MessageReader struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message is a single chat message. Content is immutable once stored;
// Readers and Reactions are the only fields mutated after creation, via
// receipt and reaction events respectively.
//
// Fields:
//   - ID: opaque unique identifier, stable across redeliveries.
//   - RoomID: owning room.
//   - Kind: text, file, or system.
//   - SenderID: origin user; empty for system messages.
//   - File: present only for file messages.
//   - Timestamp: wall-clock at origin; ties between messages are broken by ID.
type Message struct {
	ID        string              `json:"_id"`
	RoomID    string              `json:"room,omitempty"`
	Kind      MessageKind         `json:"type"`
	Content   string              `json:"content,omitempty"`
	SenderID  string              `json:"sender,omitempty"`
	File      *FileMeta           `json:"fileData,omitempty"`
	Mentions  []string            `json:"mentions,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Readers   []MessageReader     `json:"readers,omitempty"`
	Reactions map[string][]string `json:"reactions,omitempty"`

	// ClientKey is echoed back by the server for messages this client
	// submitted. It lets the outbox recognize the reflection of its own
	// sends without comparing content and timestamps.
	ClientKey string `json:"clientKey,omitempty"`
}

// Valid reports whether the message carries the fields every stored entry
// must have. Entries failing this check are skipped during merges, never
// stored and never fatal to their batch.
func (m *Message) Valid() bool {
	return m != nil && m.ID != "" && !m.Timestamp.IsZero()
}

// Before orders messages by (Timestamp, ID) ascending. The ID tie-break keeps
// the order deterministic when two messages share a timestamp.
func (m *Message) Before(other *Message) bool {
	if !m.Timestamp.Equal(other.Timestamp) {
		return m.Timestamp.Before(other.Timestamp)
	}
	return m.ID < other.ID
}

// MarkRead records that userID has read the message at the given time.
// It reports whether the state changed; marking an already-read message
// is a no-op.
func (m *Message) MarkRead(userID string, at time.Time) bool {
	for _, r := range m.Readers {
		if r.UserID == userID {
			return false
		}
	}
	m.Readers = append(m.Readers, MessageReader{UserID: userID, ReadAt: at})
	return true
}

// AddReaction adds userID under the given reaction symbol. It reports whether
// the state changed; duplicate additions are no-ops.
func (m *Message) AddReaction(symbol, userID string) bool {
	for _, u := range m.Reactions[symbol] {
		if u == userID {
			return false
		}
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	m.Reactions[symbol] = append(m.Reactions[symbol], userID)
	return true
}

// RemoveReaction removes userID from the given reaction symbol, dropping the
// symbol entirely once its last user is gone. It reports whether the state
// changed.
func (m *Message) RemoveReaction(symbol, userID string) bool {
	users, ok := m.Reactions[symbol]
	if !ok {
		return false
	}
	for i, u := range users {
		if u == userID {
			users = append(users[:i], users[i+1:]...)
			if len(users) == 0 {
				delete(m.Reactions, symbol)
			} else {
				m.Reactions[symbol] = users
			}
			return true
		}
	}
	return false
}

// Clone returns a deep copy. The store clones incoming messages on insert so
// later mutation of the caller's value cannot bypass first-write-wins.
func (m *Message) Clone() *Message {
	cp := *m
	if m.File != nil {
		f := *m.File
		cp.File = &f
	}
	if m.Mentions != nil {
		cp.Mentions = append([]string(nil), m.Mentions...)
	}
	if m.Readers != nil {
		cp.Readers = append([]MessageReader(nil), m.Readers...)
	}
	if m.Reactions != nil {
		cp.Reactions = make(map[string][]string, len(m.Reactions))
		for k, v := range m.Reactions {
			cp.Reactions[k] = append([]string(nil), v...)
		}
	}
	return &cp
}
