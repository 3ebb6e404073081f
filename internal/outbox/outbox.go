// Package outbox – outbound message submission.
//
// The Outbox owns everything that happens to a message between the caller's
// intent and the wire: validation, Unicode normalization, idempotency-key
// assignment, and rate limiting. It also recognizes the server's reflection of
// this client's own sends, so callers can distinguish "my message came back"
// from "someone else's message arrived".
//
// Observability: submissions are OpenTelemetry-instrumented; spans carry the
// room id and message kind.
package outbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ktbchat/go-chat-sync/internal/domain"
)

// Submission errors.
var (
	// ErrEmptyContent is returned when a text submission is empty after
	// trimming.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrTooLong is returned when content exceeds the server's rune cap.
	ErrTooLong = errors.New("message content too long")

	// ErrMissingFile is returned when a file submission carries no file
	// descriptor.
	ErrMissingFile = errors.New("file message has no file data")

	// ErrRateLimited is returned when the submission rate cap is hit.
	ErrRateLimited = errors.New("submission rate limit exceeded")
)

// Sender is the wire half of submission. The websocket client implements it.
type Sender interface {
	SendChat(cmd domain.SubmitMessage) error
}

// Outbox validates and submits outbound messages for one room.
type Outbox struct {
	RoomID string
	Sender Sender

	// MaxContentRunes caps content length; zero means the server default.
	MaxContentRunes int

	// Limiter throttles submissions. Nil disables throttling.
	Limiter *rate.Limiter

	mu      sync.Mutex
	pending map[string]struct{}

	log zerolog.Logger
}

// New returns an Outbox for roomID submitting through sender.
func New(roomID string, sender Sender, limiter *rate.Limiter, log zerolog.Logger) *Outbox {
	return &Outbox{
		RoomID:  roomID,
		Sender:  sender,
		Limiter: limiter,
		pending: make(map[string]struct{}),
		log:     log.With().Str("component", "outbox").Str("room", roomID).Logger(),
	}
}

// SubmitText validates, normalizes, and sends a text message. It returns the
// generated idempotency key; the server echoes it on the reflected message.
func (o *Outbox) SubmitText(ctx context.Context, content string) (string, error) {
	tr := otel.Tracer("outbox/Outbox")
	_, span := tr.Start(ctx, "SubmitText",
		trace.WithAttributes(attribute.String("room.id", o.RoomID)),
	)
	defer span.End()

	content = norm.NFC.String(strings.TrimSpace(content))
	if content == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > o.maxRunes() {
		return "", ErrTooLong
	}
	return o.submit(domain.SubmitMessage{
		RoomID:  o.RoomID,
		Kind:    domain.KindText,
		Content: content,
	})
}

// SubmitFile sends a file message referencing an already-uploaded blob.
// Optional caption text goes through the same normalization as text messages.
func (o *Outbox) SubmitFile(ctx context.Context, file *domain.FileMeta, caption string) (string, error) {
	tr := otel.Tracer("outbox/Outbox")
	_, span := tr.Start(ctx, "SubmitFile",
		trace.WithAttributes(
			attribute.String("room.id", o.RoomID),
			attribute.String("file.mime", mimeOf(file)),
		),
	)
	defer span.End()

	if file == nil || file.StorageID == "" {
		return "", ErrMissingFile
	}
	caption = norm.NFC.String(strings.TrimSpace(caption))
	if utf8.RuneCountInString(caption) > o.maxRunes() {
		return "", ErrTooLong
	}
	f := *file
	return o.submit(domain.SubmitMessage{
		RoomID:  o.RoomID,
		Kind:    domain.KindFile,
		Content: caption,
		File:    &f,
	})
}

func (o *Outbox) submit(cmd domain.SubmitMessage) (string, error) {
	if o.Limiter != nil && !o.Limiter.Allow() {
		o.log.Warn().Msg("submission rate limited")
		return "", ErrRateLimited
	}
	cmd.ClientKey = uuid.NewString()

	o.mu.Lock()
	o.pending[cmd.ClientKey] = struct{}{}
	o.mu.Unlock()

	if err := o.Sender.SendChat(cmd); err != nil {
		o.mu.Lock()
		delete(o.pending, cmd.ClientKey)
		o.mu.Unlock()
		return "", err
	}
	o.log.Debug().Str("key", cmd.ClientKey).Str("kind", string(cmd.Kind)).Msg("message submitted")
	return cmd.ClientKey, nil
}

// Acknowledge inspects an incoming message and reports whether it is the
// server's reflection of a pending send from this outbox. Each key
// acknowledges at most once; redeliveries of the same echo return false and
// fall through to the store's normal id dedup.
func (o *Outbox) Acknowledge(msg *domain.Message) bool {
	if msg == nil || msg.ClientKey == "" {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.pending[msg.ClientKey]; !ok {
		return false
	}
	delete(o.pending, msg.ClientKey)
	o.log.Debug().Str("key", msg.ClientKey).Str("id", msg.ID).Msg("own send acknowledged")
	return true
}

// PendingCount reports how many sends are still awaiting their echo.
func (o *Outbox) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

func (o *Outbox) maxRunes() int {
	if o.MaxContentRunes > 0 {
		return o.MaxContentRunes
	}
	return domain.MaxContentRunes
}

func mimeOf(f *domain.FileMeta) string {
	if f == nil {
		return ""
	}
	return f.MimeType
}
