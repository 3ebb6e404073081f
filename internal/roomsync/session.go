package roomsync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ktbchat/go-chat-sync/internal/domain"
	"github.com/ktbchat/go-chat-sync/internal/observability"
)

// CommandSink is the outbound half of the transport contract: the commands
// the engine issues toward the server. The websocket client implements it;
// tests substitute fakes.
type CommandSink interface {
	SendJoin(cmd domain.JoinRoom) error
	SendLeave(cmd domain.LeaveRoom) error
	SendFetchOlder(cmd domain.FetchOlder) error
}

// Option customizes a Session.
type Option func(*sessionConfig)

type sessionConfig struct {
	pagination PaginationConfig
	flushDelay time.Duration
	log        zerolog.Logger

	onParticipants func([]domain.Participant)
	onSessionEnded func()
	onInserted     func([]domain.Message)
}

// WithLogger routes the session's (and its components') logs.
func WithLogger(log zerolog.Logger) Option {
	return func(c *sessionConfig) { c.log = log }
}

// WithPagination overrides the history pagination tuning.
func WithPagination(cfg PaginationConfig) Option {
	return func(c *sessionConfig) { c.pagination = cfg }
}

// WithFlushDelay overrides the live ingest batching delay.
func WithFlushDelay(d time.Duration) Option {
	return func(c *sessionConfig) { c.flushDelay = d }
}

// WithParticipantsHandler registers a callback for participants updates.
func WithParticipantsHandler(fn func([]domain.Participant)) Option {
	return func(c *sessionConfig) { c.onParticipants = fn }
}

// WithSessionEndedHandler registers a callback for the server-side session
// termination event.
func WithSessionEndedHandler(fn func()) Option {
	return func(c *sessionConfig) { c.onSessionEnded = fn }
}

// WithInsertHook registers a callback invoked after each merge with the
// messages stored for the first time, in order. The local archive hangs off
// this hook.
func WithInsertHook(fn func([]domain.Message)) Option {
	return func(c *sessionConfig) { c.onInserted = fn }
}

// Session owns the full reconciliation engine for one room: the store, the
// reconciler writing it, the pagination controller, and the live ingest
// queue. One session exists per active room; switching rooms discards the
// session wholesale and starts a fresh one.
//
// All merges are serialized through the session mutex, so each appears atomic
// to observers. Subscribers are notified at most once per merge, never
// mid-merge. Events delivered after Close are detected by the generation
// token and discarded rather than merged into a dead store.
type Session struct {
	roomID     string
	generation string

	mu     sync.Mutex
	rec    *Reconciler
	pager  *PaginationController
	queue  *IngestQueue
	sink   CommandSink
	closed bool

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int

	cfg sessionConfig
	log zerolog.Logger
}

// NewSession builds the engine for roomID. The session does not join the room
// until Join is called.
func NewSession(roomID string, sink CommandSink, opts ...Option) *Session {
	cfg := sessionConfig{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		roomID:     roomID,
		generation: uuid.NewString(),
		sink:       sink,
		subs:       make(map[int]func()),
		cfg:        cfg,
		log:        cfg.log.With().Str("component", "session").Str("room", roomID).Logger(),
	}

	store := NewStore()
	s.rec = NewReconciler(store, cfg.log)
	s.pager = NewPaginationController(roomID, s.rec, s.sendFetch, cfg.pagination, cfg.log)
	// Backoff retries fire on a timer goroutine; route them through the
	// session lock like every other mutation.
	s.pager.schedule = func(d time.Duration, fn func()) func() {
		return afterFuncSchedule(d, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.closed {
				return
			}
			fn()
		})
	}
	s.queue = NewIngestQueue(cfg.flushDelay, s.deliverLive, cfg.log)
	return s
}

// RoomID returns the room this session serves.
func (s *Session) RoomID() string { return s.roomID }

// Generation returns the session token compared at merge time to detect
// late-arriving responses for a superseded session.
func (s *Session) Generation() string { return s.generation }

// Join announces the session to the server. The room snapshot arrives
// asynchronously as a joinRoomSuccess event routed to HandleSnapshot.
func (s *Session) Join(ctx context.Context) error {
	tr := otel.Tracer("roomsync/Session")
	_, span := tr.Start(ctx, "Join",
		trace.WithAttributes(attribute.String("room.id", s.roomID)),
	)
	defer span.End()

	s.log.Info().Msg("joining room")
	return s.sink.SendJoin(domain.JoinRoom{RoomID: s.roomID})
}

// Rejoin re-announces the session after a transport reconnect. A fetch that
// was in flight when the connection dropped is abandoned, since its response
// will never arrive; the resulting snapshot flows through the normal
// idempotent merge path, so overlap with already-stored messages is harmless.
func (s *Session) Rejoin() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.pager.Interrupt()
	s.mu.Unlock()
	s.log.Info().Msg("rejoining room after reconnect")
	return s.sink.SendJoin(domain.JoinRoom{RoomID: s.roomID})
}

// HandleSnapshot merges the initial (or post-reconnect) room snapshot.
// Snapshots naming a different room are discarded.
func (s *Session) HandleSnapshot(snap domain.RoomSnapshot) {
	s.mu.Lock()
	if s.closed || (snap.RoomID != "" && snap.RoomID != s.roomID) {
		s.mu.Unlock()
		observability.StaleResponsesDropped.Inc()
		s.log.Debug().Str("room", snap.RoomID).Msg("discarding snapshot for superseded session")
		return
	}
	res := s.rec.MergeSnapshot(snap.Messages, snap.HasOlder)
	s.afterMergeLocked(res)
}

// HandleHistoryPage feeds a history response to the pagination controller.
// The page's room id and echoed generation token are compared here, at merge
// time: a response for another room, for a closed session, or carrying a
// token minted before the last Reset is discarded, never merged.
func (s *Session) HandleHistoryPage(page domain.HistoryPage) {
	s.mu.Lock()
	if s.closed ||
		(page.RoomID != "" && page.RoomID != s.roomID) ||
		(page.Token != "" && page.Token != s.generation) {
		s.mu.Unlock()
		observability.StaleResponsesDropped.Inc()
		s.log.Debug().Str("room", page.RoomID).Msg("discarding history page for superseded session")
		return
	}
	res := s.pager.OnPageReceived(page)
	s.afterMergeLocked(res)
}

// HandleHistoryFailure feeds a fetch failure to the pagination controller.
func (s *Session) HandleHistoryFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pager.OnPageFailed(err)
}

// HandleLive buffers a live-pushed message; the ingest queue batches the
// merge.
func (s *Session) HandleLive(msg domain.Message) {
	s.queue.Enqueue(msg)
}

// HandleReceipt applies a read receipt to every referenced message. Unknown
// ids are dropped per the engine's no-buffering policy.
func (s *Session) HandleReceipt(r domain.ReadReceipt) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	applied := false
	for _, id := range r.MessageIDs {
		if s.rec.ApplyReceipt(id, r.UserID, r.At) {
			applied = true
		}
	}
	s.mu.Unlock()
	if applied {
		s.notify()
	}
}

// HandleReaction applies a reaction delta.
func (s *Session) HandleReaction(d domain.ReactionDelta) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	applied := s.rec.ApplyReactionDelta(d.MessageID, d.Symbol, d.UserID, d.Added)
	s.mu.Unlock()
	if applied {
		s.notify()
	}
}

// HandleParticipants forwards a participants update to the registered hook.
func (s *Session) HandleParticipants(ps []domain.Participant) {
	if s.cfg.onParticipants != nil {
		s.cfg.onParticipants(ps)
	}
}

// HandleSessionEnded forwards the server-side termination signal.
func (s *Session) HandleSessionEnded() {
	s.log.Warn().Msg("server ended the session")
	if s.cfg.onSessionEnded != nil {
		s.cfg.onSessionEnded()
	}
}

// LoadOlder asks for the next page of history. Returns false when a fetch is
// already in flight, history is exhausted, the last attempt failed
// terminally, or the store is empty.
func (s *Session) LoadOlder() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.pager.RequestOlder()
}

// RetryHistory clears a terminal history failure and re-requests.
func (s *Session) RetryHistory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.pager.Retry()
}

// Snapshot returns the current ordered messages. The slice is shared until
// the next merge; callers treat it as read-only and may compare successive
// results by reference to detect change.
func (s *Session) Snapshot() []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Store().Snapshot()
}

// HasMoreHistory reports whether older history may still exist server-side.
func (s *Session) HasMoreHistory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Store().HasOlder()
}

// IsLoadingHistory reports whether a history fetch is in flight or backing
// off.
func (s *Session) IsLoadingHistory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pager.InFlight()
}

// HistoryFailed reports the terminal "unable to load older messages" state.
func (s *Session) HistoryFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pager.Failed()
}

// Subscribe registers a store-changed callback, fired at most once per merge
// and never mid-merge. The returned function unsubscribes.
func (s *Session) Subscribe(fn func()) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Reset clears the store and the pagination state for an explicit manual
// reload, rotating the generation token so in-flight history responses
// carrying the old token fail the merge-time comparison and are discarded.
func (s *Session) Reset() {
	s.mu.Lock()
	s.generation = uuid.NewString()
	s.rec.Store().Clear()
	s.pager.Reset()
	s.mu.Unlock()
	s.notify()
}

// Close leaves the room and tears the engine down: timers cancelled, buffers
// dropped, store cleared. Late events hitting a closed session are discarded.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.generation = uuid.NewString()
	s.pager.Close()
	s.rec.Store().Clear()
	s.mu.Unlock()

	s.queue.Close()
	s.log.Info().Msg("session closed")
	return s.sink.SendLeave(domain.LeaveRoom{RoomID: s.roomID})
}

// sendFetch is the pagination controller's outbound path. The command is
// stamped with the session generation so the response can be matched against
// it when it lands. Always called with s.mu held.
func (s *Session) sendFetch(cmd domain.FetchOlder) {
	cmd.Token = s.generation
	if err := s.sink.SendFetchOlder(cmd); err != nil {
		s.log.Warn().Err(err).Msg("failed to send fetch command")
		// Count it as a transport failure so the backoff machinery engages.
		s.pager.OnPageFailed(err)
	}
}

// deliverLive is the ingest queue's flush target.
func (s *Session) deliverLive(batch []domain.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	res := s.rec.MergeLiveBatch(batch)
	s.afterMergeLocked(res)
}

// afterMergeLocked finishes a merge: fires the insert hook and releases the
// lock before notifying subscribers. Callers must hold s.mu.
func (s *Session) afterMergeLocked(res MergeResult) {
	var inserted []domain.Message
	if s.cfg.onInserted != nil && len(res.InsertedIDs) > 0 {
		inserted = make([]domain.Message, 0, len(res.InsertedIDs))
		for _, id := range res.InsertedIDs {
			if m, ok := s.rec.Store().Get(id); ok {
				inserted = append(inserted, *m.Clone())
			}
		}
	}
	changed := res.Changed()
	s.mu.Unlock()

	if len(inserted) > 0 {
		s.cfg.onInserted(inserted)
	}
	if changed {
		s.notify()
	}
}

// notify invokes the current subscribers outside any lock held on the store.
func (s *Session) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
