package outbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ktbchat/go-chat-sync/internal/domain"
	"github.com/ktbchat/go-chat-sync/internal/roomsync"
)

type fakeSender struct {
	sent []domain.SubmitMessage
	err  error
}

func (f *fakeSender) SendChat(cmd domain.SubmitMessage) error {
	f.sent = append(f.sent, cmd)
	return f.err
}

func newOutbox(limiter *rate.Limiter) (*Outbox, *fakeSender) {
	s := &fakeSender{}
	return New("room1", s, limiter, zerolog.Nop()), s
}

func TestSubmitText(t *testing.T) {
	o, s := newOutbox(nil)
	key, err := o.SubmitText(context.Background(), "  hello  ")
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if key == "" {
		t.Fatalf("key must be generated")
	}
	if len(s.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(s.sent))
	}
	got := s.sent[0]
	if got.Content != "hello" {
		t.Fatalf("content = %q, want trimmed", got.Content)
	}
	if got.RoomID != "room1" || got.Kind != domain.KindText || got.ClientKey != key {
		t.Fatalf("command = %+v", got)
	}
}

func TestSubmitText_Normalizes(t *testing.T) {
	o, s := newOutbox(nil)
	// "é" as 'e' + combining acute; NFC composes it to a single rune.
	if _, err := o.SubmitText(context.Background(), "café"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if got := s.sent[0].Content; got != "café" {
		t.Fatalf("content = %q, want composed form", got)
	}
}

func TestSubmitText_Validation(t *testing.T) {
	o, _ := newOutbox(nil)
	if _, err := o.SubmitText(context.Background(), "   "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("err = %v, want ErrEmptyContent", err)
	}
	o.MaxContentRunes = 5
	if _, err := o.SubmitText(context.Background(), "123456"); !errors.Is(err, ErrTooLong) {
		t.Fatalf("err = %v, want ErrTooLong", err)
	}
	if _, err := o.SubmitText(context.Background(), "12345"); err != nil {
		t.Fatalf("at the cap: %v", err)
	}
}

func TestSubmitText_DefaultCap(t *testing.T) {
	o, _ := newOutbox(nil)
	if _, err := o.SubmitText(context.Background(), strings.Repeat("x", domain.MaxContentRunes+1)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("err = %v, want ErrTooLong", err)
	}
}

func TestSubmitFile(t *testing.T) {
	o, s := newOutbox(nil)
	file := &domain.FileMeta{StorageID: "f1", Filename: "a.png", OriginalName: "a.png", MimeType: "image/png", Size: 42}
	key, err := o.SubmitFile(context.Background(), file, " caption ")
	if err != nil {
		t.Fatalf("SubmitFile: %v", err)
	}
	got := s.sent[0]
	if got.Kind != domain.KindFile || got.File == nil || got.File.StorageID != "f1" {
		t.Fatalf("command = %+v", got)
	}
	if got.Content != "caption" || got.ClientKey != key {
		t.Fatalf("command = %+v", got)
	}

	if _, err := o.SubmitFile(context.Background(), nil, ""); !errors.Is(err, ErrMissingFile) {
		t.Fatalf("err = %v, want ErrMissingFile", err)
	}
}

func TestSubmit_RateLimited(t *testing.T) {
	o, _ := newOutbox(rate.NewLimiter(rate.Every(time.Hour), 1))
	if _, err := o.SubmitText(context.Background(), "first"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := o.SubmitText(context.Background(), "second"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestSubmit_SendFailureClearsPending(t *testing.T) {
	o, s := newOutbox(nil)
	s.err = errors.New("not connected")
	if _, err := o.SubmitText(context.Background(), "hi"); err == nil {
		t.Fatalf("send failure must surface")
	}
	if o.PendingCount() != 0 {
		t.Fatalf("failed send must not stay pending")
	}
}

// wireSink records commands for both the outbox and the room session, standing
// in for the websocket client that serves them in production.
type wireSink struct {
	fakeSender
}

func (w *wireSink) SendJoin(domain.JoinRoom) error         { return nil }
func (w *wireSink) SendLeave(domain.LeaveRoom) error       { return nil }
func (w *wireSink) SendFetchOlder(domain.FetchOlder) error { return nil }

// The session's insert hook is where server echoes settle pending submissions,
// so a full round trip must leave the pending set empty.
func TestPendingDrainsWhenEchoMerges(t *testing.T) {
	sink := &wireSink{}
	o := New("room1", sink, nil, zerolog.Nop())
	sess := roomsync.NewSession("room1", sink,
		roomsync.WithLogger(zerolog.Nop()),
		roomsync.WithInsertHook(func(msgs []domain.Message) {
			for i := range msgs {
				o.Acknowledge(&msgs[i])
			}
		}),
	)
	defer func() { _ = sess.Close() }()

	key, err := o.SubmitText(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if o.PendingCount() != 1 {
		t.Fatalf("pending = %d before the echo", o.PendingCount())
	}

	echo := domain.Message{ID: "m1", ClientKey: key, Content: "hello", Timestamp: time.Now()}
	sess.HandleSnapshot(domain.RoomSnapshot{RoomID: "room1", Messages: []domain.Message{echo}})

	if o.PendingCount() != 0 {
		t.Fatalf("pending = %d after the echo merged", o.PendingCount())
	}
}

func TestAcknowledge(t *testing.T) {
	o, _ := newOutbox(nil)
	key, err := o.SubmitText(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if o.PendingCount() != 1 {
		t.Fatalf("pending = %d", o.PendingCount())
	}

	echo := &domain.Message{ID: "m1", ClientKey: key, Timestamp: time.Now()}
	if !o.Acknowledge(echo) {
		t.Fatalf("echo with our key must acknowledge")
	}
	if o.Acknowledge(echo) {
		t.Fatalf("a key acknowledges at most once")
	}
	if o.Acknowledge(&domain.Message{ID: "m2", ClientKey: "someone-else"}) {
		t.Fatalf("foreign keys must not acknowledge")
	}
	if o.Acknowledge(&domain.Message{ID: "m3"}) {
		t.Fatalf("messages without a key must not acknowledge")
	}
	if o.PendingCount() != 0 {
		t.Fatalf("pending = %d after ack", o.PendingCount())
	}
}
