// Package router implements the pure channel-tag dispatcher between the
// exchange adapter and the two sinks. Grounded on
// original_source/feeds/core/router.py's PipelineRouter: bind/publish/
// stats translated from Python's asyncio fan-out into direct,
// synchronous Enqueue calls on each bound writer.
package router

import (
	"context"
	"sync"

	"feedline/internal/event"
	"feedline/internal/health"
)

// Writer is the interface both sinks implement; Enqueue must preserve
// arrival order for events of the same (instrument, channel) pair. Both
// implementations append to an unbounded in-memory buffer and return at
// once: Enqueue never suspends the caller, and a full sink applies no
// backpressure.
type Writer interface {
	Name() string
	Enqueue(ctx context.Context, ev event.Event) error
}

// Router fans out events to the writers bound to their channel. It
// holds no mutable per-event state of its own (spec.md §3 Ownership).
type Router struct {
	mu       sync.RWMutex
	bindings map[event.Channel][]Writer
	health   *health.Monitor

	statsMu sync.Mutex
	byChan  map[event.Channel]int64
}

func New() *Router {
	return &Router{
		bindings: make(map[event.Channel][]Writer),
		byChan:   make(map[event.Channel]int64),
	}
}

// SetHealth wires a health.Monitor into the router so Publish can
// record the "routed" and "written" counters as events actually flow,
// rather than leaving them to be polled after the fact.
func (r *Router) SetHealth(h *health.Monitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health = h
}

// Bind attaches a writer to a channel. A channel may be bound to zero,
// one, or two writers (spec.md §4.2).
func (r *Router) Bind(ch event.Channel, w Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[ch] = append(r.bindings[ch], w)
}

// WritersFor returns a copy of the writers currently bound to ch.
func (r *Router) WritersFor(ch event.Channel) []Writer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Writer(nil), r.bindings[ch]...)
}

// AllWriters returns the set of unique writers bound to any channel.
func (r *Router) AllWriters() []Writer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]Writer)
	for _, ws := range r.bindings {
		for _, w := range ws {
			seen[w.Name()] = w
		}
	}
	out := make([]Writer, 0, len(seen))
	for _, w := range seen {
		out = append(out, w)
	}
	return out
}

// Publish dispatches ev to every writer bound to its channel. If both
// writers are selected it enqueues into both. Neither enqueue blocks
// (both writers buffer without bound), so Publish never suspends the
// caller. Returns the first enqueue error encountered, after attempting
// all bound writers.
func (r *Router) Publish(ctx context.Context, ev event.Event) error {
	hdr := ev.Header()
	r.mu.RLock()
	writers := r.bindings[hdr.Channel]
	h := r.health
	r.mu.RUnlock()

	r.statsMu.Lock()
	r.byChan[hdr.Channel]++
	r.statsMu.Unlock()

	if h != nil {
		h.RecordRouted(hdr.Channel)
	}

	var firstErr error
	for _, w := range writers {
		if err := w.Enqueue(ctx, ev); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if h != nil {
			h.RecordWritten(hdr.Channel, hdr.TsEventNs, hdr.TsRecvNs)
		}
	}
	return firstErr
}

// Stats returns a snapshot of events published per channel. The health
// monitor's "routed" counter does not read it; Publish feeds that
// counter directly through RecordRouted.
func (r *Router) Stats() map[event.Channel]int64 {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	out := make(map[event.Channel]int64, len(r.byChan))
	for k, v := range r.byChan {
		out[k] = v
	}
	return out
}
