package transport

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ktbchat/go-chat-sync/internal/domain"
	"github.com/ktbchat/go-chat-sync/internal/observability"
)

// RoomHandler is the inbound half of the transport contract: the event
// callbacks a room session exposes. The sync engine's Session satisfies it.
type RoomHandler interface {
	RoomID() string
	HandleSnapshot(snap domain.RoomSnapshot)
	HandleHistoryPage(page domain.HistoryPage)
	HandleHistoryFailure(err error)
	HandleLive(msg domain.Message)
	HandleReceipt(r domain.ReadReceipt)
	HandleReaction(d domain.ReactionDelta)
	HandleParticipants(ps []domain.Participant)
	HandleSessionEnded()
}

// Dispatcher decodes inbound envelopes and routes them to the active room
// handler. Swapping the handler (room change) is safe while frames are in
// flight: events for the previous room are filtered by room id, and the old
// session's own closed check catches the rest.
type Dispatcher struct {
	mu      sync.RWMutex
	handler RoomHandler

	log zerolog.Logger
}

// NewDispatcher returns a dispatcher with no active handler; frames arriving
// before Attach are counted and dropped.
func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{log: log.With().Str("component", "dispatcher").Logger()}
}

// Attach makes h the active room handler, replacing any previous one.
func (d *Dispatcher) Attach(h RoomHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// Detach clears the active handler.
func (d *Dispatcher) Detach() {
	d.mu.Lock()
	d.handler = nil
	d.mu.Unlock()
}

func (d *Dispatcher) current() RoomHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handler
}

// Dispatch decodes one wire frame and routes it. Undecodable frames and
// payloads are dropped with a counter bump; routing itself never fails.
func (d *Dispatcher) Dispatch(raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		observability.WireDecodeErrors.Inc()
		d.log.Warn().Err(err).Msg("dropping undecodable frame")
		return
	}
	observability.WireEvents.WithLabelValues(env.Event).Inc()

	h := d.current()
	if h == nil {
		d.log.Debug().Str("event", env.Event).Msg("no active room, dropping event")
		return
	}

	switch env.Event {
	case EventRoomJoined:
		var snap domain.RoomSnapshot
		if d.decode(env, &snap) {
			if snap.RoomID != "" && snap.RoomID != h.RoomID() {
				d.log.Debug().Str("room", snap.RoomID).Msg("dropping snapshot for inactive room")
				return
			}
			h.HandleSnapshot(snap)
		}
	case EventHistoryPage:
		var page domain.HistoryPage
		if d.decode(env, &page) {
			if page.RoomID != "" && page.RoomID != h.RoomID() {
				d.log.Debug().Str("room", page.RoomID).Msg("dropping history page for inactive room")
				return
			}
			h.HandleHistoryPage(page)
		}
	case EventError:
		var se ServerError
		if d.decode(env, &se) {
			d.log.Warn().Str("code", se.Code).Str("message", se.Message).Msg("server reported an error")
			h.HandleHistoryFailure(&se)
		}
	case EventMessage:
		var msg domain.Message
		if d.decode(env, &msg) {
			if msg.RoomID != "" && msg.RoomID != h.RoomID() {
				d.log.Debug().Str("room", msg.RoomID).Msg("dropping message for inactive room")
				return
			}
			h.HandleLive(msg)
		}
	case EventMessagesRead:
		var r domain.ReadReceipt
		if d.decode(env, &r) {
			h.HandleReceipt(r)
		}
	case EventReactionUpdate:
		var delta domain.ReactionDelta
		if d.decode(env, &delta) {
			h.HandleReaction(delta)
		}
	case EventParticipants:
		var ps []domain.Participant
		if d.decode(env, &ps) {
			h.HandleParticipants(ps)
		}
	case EventSessionEnded:
		h.HandleSessionEnded()
	default:
		d.log.Debug().Str("event", env.Event).Msg("ignoring unknown event")
	}
}

func (d *Dispatcher) decode(env Envelope, dst any) bool {
	if err := json.Unmarshal(env.Data, dst); err != nil {
		observability.WireDecodeErrors.Inc()
		d.log.Warn().Err(err).Str("event", env.Event).Msg("dropping undecodable payload")
		return false
	}
	return true
}
