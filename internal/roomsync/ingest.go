package roomsync

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ktbchat/go-chat-sync/internal/domain"
	"github.com/ktbchat/go-chat-sync/internal/observability"
)

// defaultFlushDelay bounds how long a live message waits before its batch is
// merged. Short enough to be imperceptible, long enough to coalesce a burst.
const defaultFlushDelay = 10 * time.Millisecond

// IngestQueue decouples the arrival rate of live push messages from the
// Reconciler's merge cadence: a burst of N messages triggers one merge, not N.
// The flush always happens asynchronously, never on the call stack of
// Enqueue, and within a bounded short delay.
//
// Unlike the rest of the engine this type locks internally: Enqueue is called
// from the transport's read goroutine while the flush fires on a timer
// goroutine.
type IngestQueue struct {
	mu             sync.Mutex
	pending        []domain.Message
	seen           map[string]struct{} // ids enqueued in the current flush cycle
	flushScheduled bool
	flushing       bool
	closed         bool

	delay       time.Duration
	schedule    scheduleFunc
	cancelTimer func()
	deliver     func([]domain.Message)

	log zerolog.Logger
}

// NewIngestQueue returns a queue delivering batches to deliver. A non-positive
// delay falls back to the default.
func NewIngestQueue(delay time.Duration, deliver func([]domain.Message), log zerolog.Logger) *IngestQueue {
	if delay <= 0 {
		delay = defaultFlushDelay
	}
	return &IngestQueue{
		seen:     make(map[string]struct{}),
		delay:    delay,
		schedule: afterFuncSchedule,
		deliver:  deliver,
		log:      log.With().Str("component", "ingest").Logger(),
	}
}

// Enqueue buffers a live message and schedules a flush if none is pending.
// Messages whose id was already enqueued in the current flush cycle are
// dropped here; the Reconciler's id dedup still backstops anything that
// slips through across cycles.
func (q *IngestQueue) Enqueue(msg domain.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if msg.ID != "" {
		if _, dup := q.seen[msg.ID]; dup {
			return
		}
		q.seen[msg.ID] = struct{}{}
	}
	q.pending = append(q.pending, msg)
	if !q.flushScheduled {
		q.flushScheduled = true
		q.cancelTimer = q.schedule(q.delay, q.Flush)
	}
}

// Flush atomically takes everything pending and hands it to the Reconciler in
// one batch. Never re-entrant: an Enqueue arriving during delivery joins the
// next cycle, and a nested Flush is a no-op. Normally driven by the timer;
// exported so teardown paths can drain synchronously.
func (q *IngestQueue) Flush() {
	q.mu.Lock()
	if q.closed || q.flushing {
		q.mu.Unlock()
		return
	}
	q.flushScheduled = false
	q.cancelTimer = nil
	batch := q.pending
	q.pending = nil
	q.seen = make(map[string]struct{})
	if len(batch) == 0 {
		q.mu.Unlock()
		return
	}
	q.flushing = true
	q.mu.Unlock()

	observability.IngestFlushSize.Observe(float64(len(batch)))
	q.deliver(batch)

	q.mu.Lock()
	q.flushing = false
	// Anything enqueued while delivering starts the next cycle.
	if len(q.pending) > 0 && !q.flushScheduled {
		q.flushScheduled = true
		q.cancelTimer = q.schedule(q.delay, q.Flush)
	}
	q.mu.Unlock()
}

// Close cancels the pending flush and drops buffered messages. Called on room
// teardown, where the store is being discarded anyway.
func (q *IngestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	if q.cancelTimer != nil {
		q.cancelTimer()
		q.cancelTimer = nil
	}
	if n := len(q.pending); n > 0 {
		q.log.Debug().Int("dropped", n).Msg("dropping buffered live messages on close")
	}
	q.pending = nil
	q.seen = nil
}
