// Package roomsync implements the client-side message reconciliation engine:
// merging batches from three independent sources (room join snapshot, paged
// history, live push) into a single deduplicated, time-ordered per-room
// sequence, with single-in-flight history pagination and batched live ingest.
//
// Engineered with the same ergonomics as the rest of the codebase:
//
//   - Deterministic ordering and sorting (stable (timestamp, id) order)
//   - Merge operations are total functions: malformed entries are skipped
//     per-entry, duplicates and out-of-order input are steady-state, never errors
//   - Single-writer discipline: only the Reconciler mutates the Store, and a
//     Session serializes all access; individual types are not self-locking
//   - Snapshot identity is stable across calls while nothing changed, so a
//     presentation layer can change-detect by reference
package roomsync

import (
	"sort"
	"time"

	"github.com/ktbchat/go-chat-sync/internal/domain"
)

// Provenance is the origin category of a merged batch. It affects where the
// merged result lands in the order, never how dedup works.
type Provenance string

// Batch provenances.
const (
	ProvInitial Provenance = "initial"
	ProvHistory Provenance = "history"
	ProvLive    Provenance = "live"
)

// MergeResult describes what a merge changed.
type MergeResult struct {
	// InsertedIDs lists ids stored for the first time, in batch order.
	InsertedIDs []string
	// UpdatedReceiptIDs lists already-stored ids whose reader set grew from a
	// duplicate delivery's copy.
	UpdatedReceiptIDs []string
	// UpdatedReactionIDs lists already-stored ids whose reactions grew from a
	// duplicate delivery's copy.
	UpdatedReactionIDs []string
	// PrependedCount and AppendedCount count inserted messages landing before
	// the previously-known oldest, respectively after the previously-known
	// newest, entry.
	PrependedCount int
	AppendedCount  int
	// DuplicateCount counts incoming entries whose content was discarded
	// because the id was already stored (first-write-wins).
	DuplicateCount int
	// MalformedCount counts entries skipped for missing id or timestamp.
	MalformedCount int
}

// Changed reports whether the merge altered the store at all.
func (r MergeResult) Changed() bool {
	return len(r.InsertedIDs) > 0 || len(r.UpdatedReceiptIDs) > 0 || len(r.UpdatedReactionIDs) > 0
}

// Store is the ordered, deduplicated message collection for one room session.
// It is created empty on join, populated exclusively by the Reconciler, and
// discarded wholesale on room change. Not safe for concurrent use; the owning
// Session serializes access.
type Store struct {
	entries  map[string]*domain.Message
	order    []*domain.Message // ascending (timestamp, id)
	hasOlder bool

	snap      []*domain.Message
	snapStale bool
}

// NewStore returns an empty store. hasOlder starts true: until the first
// snapshot arrives the client must assume history exists.
func NewStore() *Store {
	return &Store{
		entries:   make(map[string]*domain.Message),
		hasOlder:  true,
		snapStale: true,
	}
}

// Len returns the number of stored messages.
func (s *Store) Len() int { return len(s.order) }

// Get returns the stored message for id, if any.
func (s *Store) Get(id string) (*domain.Message, bool) {
	m, ok := s.entries[id]
	return m, ok
}

// HasOlder reports whether history prior to the oldest known message may
// still exist server-side.
func (s *Store) HasOlder() bool { return s.hasOlder }

// OldestTimestamp returns the timestamp of the oldest stored message. The
// second return is false for an empty store.
func (s *Store) OldestTimestamp() (time.Time, bool) {
	if len(s.order) == 0 {
		return time.Time{}, false
	}
	return s.order[0].Timestamp, true
}

// Snapshot returns the current order, oldest first. The returned slice is
// shared until the next committed mutation, so two calls with no mutation in
// between return the identical slice header; callers must treat it as
// read-only.
func (s *Store) Snapshot() []*domain.Message {
	if s.snapStale {
		s.snap = make([]*domain.Message, len(s.order))
		copy(s.snap, s.order)
		s.snapStale = false
	}
	return s.snap
}

// Clear empties the store, e.g. on room leave or manual reset.
func (s *Store) Clear() {
	s.entries = make(map[string]*domain.Message)
	s.order = nil
	s.hasOlder = true
	s.markDirty()
}

func (s *Store) markDirty() { s.snapStale = true }

// applyMerge inserts the batch, already validated, cloned, and deduplicated
// within itself by the Reconciler. Entries whose id is present keep the stored
// content (first-write-wins) but contribute any readers/reactions the stored
// copy lacks: those are monotonic, idempotent updates keyed by id, not content
// replacements. hasOlder, when non-nil, overwrites the paging flag.
//
// Postcondition: order is fully sorted by (timestamp, id) with no duplicate
// ids.
func (s *Store) applyMerge(batch []*domain.Message, hasOlder *bool) MergeResult {
	var res MergeResult

	var fresh []*domain.Message
	for _, in := range batch {
		cur, ok := s.entries[in.ID]
		if !ok {
			s.entries[in.ID] = in
			fresh = append(fresh, in)
			res.InsertedIDs = append(res.InsertedIDs, in.ID)
			continue
		}

		res.DuplicateCount++
		readersGrew := false
		for _, r := range in.Readers {
			if cur.MarkRead(r.UserID, r.ReadAt) {
				readersGrew = true
			}
		}
		reactionsGrew := false
		for sym, users := range in.Reactions {
			for _, u := range users {
				if cur.AddReaction(sym, u) {
					reactionsGrew = true
				}
			}
		}
		if readersGrew {
			res.UpdatedReceiptIDs = append(res.UpdatedReceiptIDs, in.ID)
		}
		if reactionsGrew {
			res.UpdatedReactionIDs = append(res.UpdatedReactionIDs, in.ID)
		}
		if readersGrew || reactionsGrew {
			s.markDirty()
		}
	}

	if hasOlder != nil {
		s.hasOlder = *hasOlder
	}
	if len(fresh) == 0 {
		return res
	}

	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Before(fresh[j]) })

	if n := len(s.order); n > 0 {
		first, last := s.order[0], s.order[n-1]
		for _, m := range fresh {
			switch {
			case m.Before(first):
				res.PrependedCount++
			case last.Before(m):
				res.AppendedCount++
			}
		}
	} else {
		res.AppendedCount = len(fresh)
	}

	s.order = mergeOrdered(s.order, fresh)
	s.markDirty()
	return res
}

// mergeOrdered merges two (timestamp, id)-sorted runs into a new sorted slice.
// Linear, allocation-bounded; both inputs are left untouched.
func mergeOrdered(a, b []*domain.Message) []*domain.Message {
	if len(a) == 0 {
		return append([]*domain.Message(nil), b...)
	}
	out := make([]*domain.Message, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if b[j].Before(a[i]) {
			out = append(out, b[j])
			j++
		} else {
			out = append(out, a[i])
			i++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
