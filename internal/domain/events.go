// Package domain – inbound events and outbound commands.
//
// These are the two narrow interfaces between the sync engine and the rest of
// the system: events flow in from the transport (room snapshot, history page,
// live message, receipt and reaction deltas), commands flow out (fetch older
// history, submit a message, join/leave a room). The engine treats everything
// behind them as a black box.
package domain

import "time"

// RoomSnapshot is the full currently-known message set delivered once after a
// successful room join. HasOlder signals whether history precedes the oldest
// delivered message server-side. RoomID identifies the room the snapshot
// belongs to; empty means the server did not say.
type RoomSnapshot struct {
	RoomID   string    `json:"roomId,omitempty"`
	Messages []Message `json:"messages"`
	HasOlder bool      `json:"hasMore"`
}

// HistoryPage is a batch of messages strictly older than the requested cursor,
// delivered in response to a FetchOlder command. RoomID and Token echo the
// originating request so a late response for a superseded room or session can
// be recognized and discarded before merging.
type HistoryPage struct {
	RoomID   string    `json:"roomId,omitempty"`
	Token    string    `json:"token,omitempty"`
	Messages []Message `json:"messages"`
	HasOlder bool      `json:"hasMore"`
}

// ReadReceipt acknowledges one or more messages as read by a user.
type ReadReceipt struct {
	MessageIDs []string  `json:"messageIds"`
	UserID     string    `json:"userId"`
	At         time.Time `json:"timestamp"`
}

// ReactionDelta adds or removes a single user's reaction on a message.
type ReactionDelta struct {
	MessageID string `json:"messageId"`
	Symbol    string `json:"reaction"`
	UserID    string `json:"userId"`
	Added     bool   `json:"added"`
}

// Participant is a member of a room, as carried by participants updates.
type Participant struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// FetchOlder asks the server for up to Limit messages older than Before.
// A zero Before means "from the newest". Token carries the requesting
// session's generation, echoed on the HistoryPage.
type FetchOlder struct {
	RoomID string    `json:"roomId"`
	Before time.Time `json:"before,omitempty"`
	Limit  int       `json:"limit"`
	Token  string    `json:"token,omitempty"`
}

// SubmitMessage carries an outbound text or file message. ClientKey is a
// client-generated idempotency key: the server echoes it back so redeliveries
// and our own reflected sends deduplicate by key rather than by content.
type SubmitMessage struct {
	RoomID    string      `json:"room"`
	Kind      MessageKind `json:"type"`
	Content   string      `json:"content,omitempty"`
	File      *FileMeta   `json:"fileData,omitempty"`
	ClientKey string      `json:"clientKey"`
}

// JoinRoom and LeaveRoom mark the lifecycle boundaries of a room session.
type JoinRoom struct {
	RoomID string `json:"roomId"`
}

// LeaveRoom ends participation in a room.
type LeaveRoom struct {
	RoomID string `json:"roomId"`
}
