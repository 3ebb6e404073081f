package roomsync

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ktbchat/go-chat-sync/internal/domain"
	"github.com/ktbchat/go-chat-sync/internal/observability"
)

// FetchState is the pagination state machine position.
type FetchState int

// Pagination states. Transitions:
//
//	Idle -> Fetching -> Idle      (page received)
//	                 -> Backoff   (retriable failure) -> Fetching
//	                 -> Idle      (retries exhausted; Failed() set)
//	any  -> Exhausted             (server reports no more history)
const (
	StateIdle FetchState = iota
	StateFetching
	StateBackoff
	StateExhausted
)

// String implements fmt.Stringer for logs and errors.
func (s FetchState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateBackoff:
		return "backoff"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// fetchSender issues the outbound fetch command. Implemented by the
// transport's command sink; replaced by fakes in tests.
type fetchSender func(domain.FetchOlder)

// scheduleFunc schedules fn after d and returns a cancel function. The default
// wraps time.AfterFunc; the owning Session substitutes a lock-acquiring
// variant, and tests substitute a synchronous one.
type scheduleFunc func(d time.Duration, fn func()) (cancel func())

func afterFuncSchedule(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// PaginationController enforces at most one in-flight history fetch per room,
// tracks the "load older" cursor, and retries failures with capped exponential
// backoff. The Reconciler's dedup protects correctness even if the single
// in-flight rule were violated; the controller is the primary defense against
// wasted requests and out-of-order cursor advancement.
//
// Not safe for concurrent use; the owning Session serializes all calls,
// including the backoff timer callback.
type PaginationController struct {
	roomID string
	rec    *Reconciler

	limit       int
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	send     fetchSender
	schedule scheduleFunc

	state       FetchState
	attempt     int
	failed      bool
	cursor      time.Time
	cancelTimer func()

	log zerolog.Logger
}

// PaginationConfig carries the tuning knobs for a controller. Zero values
// fall back to the defaults below, which match the chat frontend's behavior
// (30-message pages, 3 attempts, 2s base delay).
type PaginationConfig struct {
	PageLimit   int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c *PaginationConfig) applyDefaults() {
	if c.PageLimit <= 0 {
		c.PageLimit = 30
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
}

// NewPaginationController returns a controller in Idle state.
func NewPaginationController(roomID string, rec *Reconciler, send fetchSender, cfg PaginationConfig, log zerolog.Logger) *PaginationController {
	cfg.applyDefaults()
	return &PaginationController{
		roomID:      roomID,
		rec:         rec,
		limit:       cfg.PageLimit,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		send:        send,
		schedule:    afterFuncSchedule,
		log:         log.With().Str("component", "pagination").Str("room", roomID).Logger(),
	}
}

// State returns the current state machine position.
func (p *PaginationController) State() FetchState { return p.state }

// InFlight reports whether a fetch (or its backoff retry) is pending.
func (p *PaginationController) InFlight() bool {
	return p.state == StateFetching || p.state == StateBackoff
}

// Failed reports whether the last request exhausted its retries. Only an
// explicit Retry clears it.
func (p *PaginationController) Failed() bool { return p.failed }

// RequestOlder issues a "fetch history before the oldest known timestamp"
// command. It is a no-op returning false while a fetch is in flight, after a
// terminal failure, when the server reported no more history, or when the
// store is empty (nothing to page before).
func (p *PaginationController) RequestOlder() bool {
	if p.InFlight() || p.failed {
		return false
	}
	if !p.rec.Store().HasOlder() {
		p.state = StateExhausted
		return false
	}
	if p.state == StateExhausted {
		// A later snapshot re-raised hasOlder (rejoin path).
		p.state = StateIdle
	}
	oldest, ok := p.rec.Store().OldestTimestamp()
	if !ok {
		return false
	}
	p.attempt = 0
	p.cursor = oldest
	p.state = StateFetching
	p.issue()
	return true
}

func (p *PaginationController) issue() {
	p.log.Debug().Time("before", p.cursor).Int("limit", p.limit).Int("attempt", p.attempt).Msg("requesting older messages")
	p.send(domain.FetchOlder{RoomID: p.roomID, Before: p.cursor, Limit: p.limit})
}

// OnPageReceived merges the delivered page, advances the cursor to the new
// oldest timestamp, and returns to Idle (or Exhausted when the server
// reported the end of history). Pages arriving while no fetch is in flight
// are merged anyway: dedup makes that harmless, and the server may push an
// unsolicited backfill after reconnect.
func (p *PaginationController) OnPageReceived(page domain.HistoryPage) MergeResult {
	p.stopTimer()
	res := p.rec.MergeHistoryPage(page.Messages, page.HasOlder)
	p.attempt = 0
	if page.HasOlder {
		p.state = StateIdle
	} else {
		p.state = StateExhausted
	}
	if oldest, ok := p.rec.Store().OldestTimestamp(); ok {
		p.cursor = oldest
	}
	observability.HistoryFetches.WithLabelValues("ok").Inc()
	return res
}

// OnPageFailed handles a transport failure for the in-flight fetch. Below the
// attempt cap it schedules a retry after exponential backoff (base delay
// doubling per attempt, capped); past the cap it returns to Idle with the
// terminal failed flag set, recoverable only via Retry.
func (p *PaginationController) OnPageFailed(err error) {
	if !p.InFlight() {
		return
	}
	p.stopTimer()
	p.attempt++
	if p.attempt < p.maxAttempts {
		delay := p.backoffDelay()
		p.state = StateBackoff
		p.log.Warn().Err(err).Int("attempt", p.attempt).Dur("delay", delay).Msg("history fetch failed, retrying")
		observability.HistoryFetches.WithLabelValues("retry").Inc()
		p.cancelTimer = p.schedule(delay, p.resend)
		return
	}
	p.state = StateIdle
	p.failed = true
	p.log.Error().Err(err).Int("attempts", p.attempt).Msg("history fetch failed terminally")
	observability.HistoryFetches.WithLabelValues("failed").Inc()
}

// resend fires when the backoff timer elapses.
func (p *PaginationController) resend() {
	if p.state != StateBackoff {
		return
	}
	p.state = StateFetching
	p.issue()
}

// Retry clears a terminal failure and issues a fresh request. It is the
// explicit manual recovery the presentation layer binds to its "unable to
// load older messages" retry affordance.
func (p *PaginationController) Retry() bool {
	if p.InFlight() {
		return false
	}
	p.failed = false
	p.attempt = 0
	return p.RequestOlder()
}

// Interrupt abandons an in-flight fetch whose response can no longer arrive,
// typically because the connection carrying it dropped. The controller
// returns to Idle so the next RequestOlder starts fresh; a terminal failure
// is not set.
func (p *PaginationController) Interrupt() {
	if !p.InFlight() {
		return
	}
	p.stopTimer()
	p.state = StateIdle
	p.attempt = 0
	p.log.Debug().Msg("in-flight history fetch abandoned")
}

// Reset returns the controller to its initial state: no fetch in flight, no
// terminal failure, attempt counter cleared.
func (p *PaginationController) Reset() {
	p.stopTimer()
	p.state = StateIdle
	p.attempt = 0
	p.failed = false
}

// Close cancels any pending backoff timer. The controller is unusable after.
func (p *PaginationController) Close() {
	p.stopTimer()
	p.state = StateIdle
}

func (p *PaginationController) stopTimer() {
	if p.cancelTimer != nil {
		p.cancelTimer()
		p.cancelTimer = nil
	}
}

func (p *PaginationController) backoffDelay() time.Duration {
	d := p.baseDelay << (p.attempt - 1)
	if d > p.maxDelay {
		d = p.maxDelay
	}
	return d
}
