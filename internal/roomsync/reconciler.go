package roomsync

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ktbchat/go-chat-sync/internal/domain"
	"github.com/ktbchat/go-chat-sync/internal/observability"
)

// Reconciler is the single authority for mutating a Store. All three inbound
// batch sources funnel through it, sharing one dedup rule: a message id is
// stored at most once, first write wins for content, and later duplicates are
// discarded without error. Receipt and reaction deltas are separate idempotent
// updates keyed by message id.
//
// Merge operations are synchronous and run to completion: a merge appears
// atomic to any observer. Duplicate, overlapping, and out-of-order input are
// expected steady-state conditions, not errors; a batch is never discarded
// for one bad entry.
type Reconciler struct {
	store *Store
	log   zerolog.Logger
}

// NewReconciler returns a Reconciler owning the given store.
func NewReconciler(store *Store, log zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, log: log.With().Str("component", "reconciler").Logger()}
}

// Store exposes the owned store for read access.
func (r *Reconciler) Store() *Store { return r.store }

// MergeSnapshot merges the initial room snapshot. The input is treated as the
// full currently-known set but still deduplicates against pre-existing
// entries, so merging the same snapshot twice is idempotent (reconnect
// re-joins take this path).
func (r *Reconciler) MergeSnapshot(msgs []domain.Message, hasOlder bool) MergeResult {
	return r.merge(msgs, ProvInitial, &hasOlder)
}

// MergeHistoryPage merges a page of older history. By contract of the caller
// the input is strictly older than the current oldest entry; violations are
// harmless, the shared dedup and ordering rules still hold.
func (r *Reconciler) MergeHistoryPage(msgs []domain.Message, hasOlder bool) MergeResult {
	return r.merge(msgs, ProvHistory, &hasOlder)
}

// MergeLiveBatch merges live-pushed messages. Input may be newer than, equal
// to, or (under redelivery) identical to existing entries. hasOlder is not
// touched: live traffic says nothing about history depth.
func (r *Reconciler) MergeLiveBatch(msgs []domain.Message) MergeResult {
	return r.merge(msgs, ProvLive, nil)
}

// merge is the shared core behind the three provenance-specific entry points.
func (r *Reconciler) merge(msgs []domain.Message, prov Provenance, hasOlder *bool) MergeResult {
	batch := make([]*domain.Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	malformed := 0
	for i := range msgs {
		m := &msgs[i]
		if !m.Valid() {
			malformed++
			continue
		}
		// First occurrence wins within the batch too.
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		batch = append(batch, m.Clone())
	}

	res := r.store.applyMerge(batch, hasOlder)
	res.MalformedCount = malformed

	observability.MergeBatches.WithLabelValues(string(prov)).Inc()
	observability.MergeBatchSize.WithLabelValues(string(prov)).Observe(float64(len(msgs)))
	if res.DuplicateCount > 0 {
		observability.DuplicatesDropped.Add(float64(res.DuplicateCount))
	}
	if malformed > 0 {
		observability.MalformedDropped.Add(float64(malformed))
		r.log.Warn().
			Int("skipped", malformed).
			Str("provenance", string(prov)).
			Msg("skipped malformed entries in batch")
	}

	r.log.Debug().
		Str("provenance", string(prov)).
		Int("batch", len(msgs)).
		Int("inserted", len(res.InsertedIDs)).
		Int("duplicates", res.DuplicateCount).
		Int("prepended", res.PrependedCount).
		Int("appended", res.AppendedCount).
		Msg("merged batch")

	return res
}

// ApplyReceipt records that userID read messageID at the given time. It
// reports whether state changed: false when the user already read the message
// or when the id is unknown. Unknown ids are dropped, not buffered; the drop
// is counted so reordered delivery losses stay observable.
func (r *Reconciler) ApplyReceipt(messageID, userID string, at time.Time) bool {
	m, ok := r.store.Get(messageID)
	if !ok {
		observability.UnknownTargetDropped.WithLabelValues("receipt").Inc()
		r.log.Debug().Str("message_id", messageID).Msg("receipt for unknown message dropped")
		return false
	}
	if !m.MarkRead(userID, at) {
		return false
	}
	r.store.markDirty()
	return true
}

// ApplyReactionDelta adds or removes userID under symbol on messageID. Same
// idempotence and unknown-id policy as ApplyReceipt.
func (r *Reconciler) ApplyReactionDelta(messageID, symbol, userID string, added bool) bool {
	m, ok := r.store.Get(messageID)
	if !ok {
		observability.UnknownTargetDropped.WithLabelValues("reaction").Inc()
		r.log.Debug().Str("message_id", messageID).Msg("reaction for unknown message dropped")
		return false
	}
	var applied bool
	if added {
		applied = m.AddReaction(symbol, userID)
	} else {
		applied = m.RemoveReaction(symbol, userID)
	}
	if applied {
		r.store.markDirty()
	}
	return applied
}
