// Package ordering holds the two delivery disciplines a session can run
// under: a strict, gap-free sequence and causal release of messages whose
// declared dependencies have already been delivered.
package ordering

import (
	"slices"
	"time"

	"github.com/agrathwohl/pvp/internal/model"
)

// StrictView is a consumer's cursor over a strictly ordered stream.
// Sequence zero marks an unsequenced, out-of-band message and is always
// accepted without moving the cursor.
type StrictView struct {
	next uint64
}

// NewStrictView returns a view expecting first as the next sequence.
func NewStrictView(first uint64) *StrictView {
	if first == 0 {
		first = 1
	}
	return &StrictView{next: first}
}

// Expected returns the next sequence number the view will accept.
func (v *StrictView) Expected() uint64 {
	return v.next
}

// Accept advances the view past seq or rejects it with out_of_order.
func (v *StrictView) Accept(seq uint64) error {
	if seq == 0 {
		return nil
	}
	if seq != v.next {
		return model.Errorf(model.CodeOutOfOrder, "expected sequence %d, got %d", v.next, seq)
	}
	v.next++
	return nil
}

// DefaultDeliveredLimit bounds how many delivered ids a CausalBuffer
// remembers.
const DefaultDeliveredLimit = 10000

type held[T any] struct {
	id    string
	deps  []string
	item  T
	since time.Time
}

// CausalBuffer tracks which message ids have been delivered and parks
// items until every dependency they declare is among them.
type CausalBuffer[T any] struct {
	limit     int
	delivered map[string]struct{}
	order     []string
	held      []held[T]
}

// NewCausalBuffer returns a buffer remembering up to limit delivered ids
// (DefaultDeliveredLimit when limit <= 0).
func NewCausalBuffer[T any](limit int) *CausalBuffer[T] {
	if limit <= 0 {
		limit = DefaultDeliveredLimit
	}
	return &CausalBuffer[T]{
		limit:     limit,
		delivered: make(map[string]struct{}),
	}
}

// SetLimit changes how many delivered ids are remembered (the default when
// limit <= 0), forgetting the oldest beyond it.
func (b *CausalBuffer[T]) SetLimit(limit int) {
	if limit <= 0 {
		limit = DefaultDeliveredLimit
	}
	b.limit = limit
	if n := len(b.order) - limit; n > 0 {
		for _, id := range b.order[:n] {
			delete(b.delivered, id)
		}
		b.order = slices.Delete(b.order, 0, n)
	}
}

// Limit returns how many delivered ids are remembered.
func (b *CausalBuffer[T]) Limit() int { return b.limit }

// MarkDelivered records id as delivered. The oldest ids are forgotten once
// the limit is reached.
func (b *CausalBuffer[T]) MarkDelivered(id string) {
	if id == "" {
		return
	}
	if _, ok := b.delivered[id]; ok {
		return
	}
	b.delivered[id] = struct{}{}
	b.order = append(b.order, id)
	if len(b.order) > b.limit {
		delete(b.delivered, b.order[0])
		b.order = b.order[1:]
	}
}

// Delivered reports whether id has been delivered.
func (b *CausalBuffer[T]) Delivered(id string) bool {
	_, ok := b.delivered[id]
	return ok
}

// Missing returns the deps that have not been delivered yet.
func (b *CausalBuffer[T]) Missing(deps []string) []string {
	var out []string
	for _, d := range deps {
		if !b.Delivered(d) {
			out = append(out, d)
		}
	}
	return out
}

// Hold parks item until all of deps are delivered. It reports false, and
// keeps the first copy, when id is already parked.
func (b *CausalBuffer[T]) Hold(id string, deps []string, item T, now time.Time) bool {
	if id != "" && b.Held(id) {
		return false
	}
	b.held = append(b.held, held[T]{id: id, deps: slices.Clone(deps), item: item, since: now})
	return true
}

// Held reports whether id is parked.
func (b *CausalBuffer[T]) Held(id string) bool {
	return slices.ContainsFunc(b.held, func(h held[T]) bool { return h.id == id })
}

// Len returns the number of parked items.
func (b *CausalBuffer[T]) Len() int {
	return len(b.held)
}

// NextReady removes and returns the oldest parked item whose dependencies
// are all delivered. Callers deliver it, mark it, then ask again, which
// yields a topological order.
func (b *CausalBuffer[T]) NextReady() (T, bool) {
	for i, h := range b.held {
		if len(b.Missing(h.deps)) == 0 {
			b.held = slices.Delete(b.held, i, i+1)
			return h.item, true
		}
	}
	var zero T
	return zero, false
}

// Expire removes and returns items parked for at least maxAge.
func (b *CausalBuffer[T]) Expire(maxAge time.Duration, now time.Time) []T {
	if maxAge <= 0 {
		return nil
	}
	var out []T
	kept := b.held[:0]
	for _, h := range b.held {
		if now.Sub(h.since) >= maxAge {
			out = append(out, h.item)
			continue
		}
		kept = append(kept, h)
	}
	clear(b.held[len(kept):])
	b.held = kept
	return out
}
