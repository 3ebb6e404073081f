package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ktbchat/go-chat-sync/internal/domain"
	"github.com/ktbchat/go-chat-sync/internal/outbox"
	"github.com/ktbchat/go-chat-sync/internal/utils"
)

// RoomInspector is the read/paging surface the debug API needs from the
// active room session.
type RoomInspector interface {
	RoomID() string
	Snapshot() []*domain.Message
	HasMoreHistory() bool
	IsLoadingHistory() bool
	HistoryFailed() bool
	LoadOlder() bool
	RetryHistory() bool
}

// Submitter is the outbound surface: text submission plus pending-echo count.
type Submitter interface {
	SubmitText(ctx context.Context, content string) (string, error)
	PendingCount() int
}

// Handler bundles the debug API endpoints over one room session.
type Handler struct {
	Room   RoomInspector
	Outbox Submitter
}

// New constructs the handler set.
func New(room RoomInspector, ob Submitter) *Handler {
	return &Handler{Room: room, Outbox: ob}
}

// roomStateResponse is the GET /room payload.
type roomStateResponse struct {
	RoomID         string            `json:"roomId"`
	MessageCount   int               `json:"messageCount"`
	HasMoreHistory bool              `json:"hasMoreHistory"`
	LoadingHistory bool              `json:"loadingHistory"`
	HistoryFailed  bool              `json:"historyFailed"`
	PendingSends   int               `json:"pendingSends"`
	Messages       []*domain.Message `json:"messages"`
}

// GetRoom returns the current reconciled room state and messages. An optional
// ?limit=N query trims the response to the newest N messages; the counters
// still describe the full store.
func (h *Handler) GetRoom(c *gin.Context) {
	if h.Room == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeNoSession, "no active room session")
		return
	}
	msgs := h.Room.Snapshot()
	total := len(msgs)
	if limit := utils.AtoiDefault(c.Query("limit"), 0); limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	ok(c, http.StatusOK, roomStateResponse{
		RoomID:         h.Room.RoomID(),
		MessageCount:   total,
		HasMoreHistory: h.Room.HasMoreHistory(),
		LoadingHistory: h.Room.IsLoadingHistory(),
		HistoryFailed:  h.Room.HistoryFailed(),
		PendingSends:   h.pendingSends(),
		Messages:       msgs,
	})
}

// LoadOlder triggers a history page fetch. 202 when accepted, 409 when a
// fetch is already in flight or history is exhausted or failed.
func (h *Handler) LoadOlder(c *gin.Context) {
	if h.Room == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeNoSession, "no active room session")
		return
	}
	if !h.Room.LoadOlder() {
		fail(c, http.StatusConflict, ErrCodeConflict, "history fetch not accepted")
		return
	}
	c.Status(http.StatusAccepted)
}

// RetryHistory clears a terminal history failure and re-requests.
func (h *Handler) RetryHistory(c *gin.Context) {
	if h.Room == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeNoSession, "no active room session")
		return
	}
	if !h.Room.RetryHistory() {
		fail(c, http.StatusConflict, ErrCodeConflict, "retry not accepted")
		return
	}
	c.Status(http.StatusAccepted)
}

// postMessageRequest is the POST /messages body.
type postMessageRequest struct {
	Content string `json:"content"`
}

// postMessageResponse echoes the idempotency key assigned to the send.
type postMessageResponse struct {
	ClientKey string `json:"clientKey"`
}

// PostMessage submits a text message through the outbox.
func (h *Handler) PostMessage(c *gin.Context) {
	if h.Outbox == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeNoSession, "no active room session")
		return
	}
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	key, err := h.Outbox.SubmitText(c.Request.Context(), req.Content)
	if err != nil {
		switch {
		case errors.Is(err, outbox.ErrEmptyContent), errors.Is(err, outbox.ErrTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, outbox.ErrRateLimited):
			fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, err.Error())
		default:
			fail(c, http.StatusBadGateway, ErrCodeSubmitFailed, "message submission failed")
		}
		return
	}
	ok(c, http.StatusAccepted, postMessageResponse{ClientKey: key})
}

func (h *Handler) pendingSends() int {
	if h.Outbox == nil {
		return 0
	}
	return h.Outbox.PendingCount()
}
