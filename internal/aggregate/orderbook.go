// Package aggregate implements the per-symbol state machines owned
// exclusively by the shard that reads their symbol: the orderbook diff
// bootstrap/resync state machine, the 5s trade aggregator, the kline
// passthrough validator, and the mark/funding combiner.
//
// The orderbook state machine is grounded on the legacy
// original_source/binance_collector.py's LocalOrderbook.apply_diff and
// rest_snapshot methods — the newer modular Python rewrite
// (feeds/exchanges/binance/adapter.py) forwards every diff
// unconditionally and does not implement sequence-gap detection at all,
// so this type follows the legacy module instead.
package aggregate

import (
	"sort"
	"time"

	"feedline/internal/event"
	"feedline/internal/money"
)

// DiffState is the orderbook diff bootstrap/sync state (spec.md §4.1).
type DiffState int

const (
	Uninit DiffState = iota
	Bootstrapping
	Synced
	Resyncing
)

func (s DiffState) String() string {
	switch s {
	case Uninit:
		return "UNINIT"
	case Bootstrapping:
		return "BOOTSTRAPPING"
	case Synced:
		return "SYNCED"
	case Resyncing:
		return "RESYNCING"
	default:
		return "UNKNOWN"
	}
}

// restSnapshotCooldown is the minimum interval between REST snapshot
// fetch attempts for the same symbol (spec.md §4.1, §5).
const restSnapshotCooldown = 30 * time.Second

// ApplyOutcome reports what happened to an incoming diff, so the
// adapter can drive its drop/gap counters without re-deriving state.
type ApplyOutcome int

const (
	OutcomeApplied ApplyOutcome = iota
	OutcomeBuffered
	OutcomeStaleDropped
	OutcomeGapResync
)

// OrderBook is the per-symbol diff-orderbook state machine. It is owned
// exclusively by the shard that reads its symbol's diff stream; no
// synchronization is provided or required (spec.md §5 ownership rule).
type OrderBook struct {
	Instrument string
	State      DiffState

	bids map[string]money.Decimal
	asks map[string]money.Decimal
	lastU int64

	pending []event.OrderBookDiffEvent

	lastRestSnapshot time.Time
	restInFlight     bool
}

// NewOrderBook constructs an orderbook in UNINIT state.
func NewOrderBook(instrument string) *OrderBook {
	return &OrderBook{
		Instrument: instrument,
		State:      Uninit,
		bids:       make(map[string]money.Decimal),
		asks:       make(map[string]money.Decimal),
	}
}

// NeedsSnapshot reports whether a REST snapshot fetch should be
// scheduled now, honoring the per-symbol cooldown.
func (b *OrderBook) NeedsSnapshot(now time.Time) bool {
	if b.restInFlight {
		return false
	}
	if b.State != Uninit && b.State != Resyncing {
		return false
	}
	if b.lastRestSnapshot.IsZero() {
		return true
	}
	return now.Sub(b.lastRestSnapshot) >= restSnapshotCooldown
}

// MarkSnapshotRequested records that a fetch is in flight, starting the
// cooldown window immediately (matches the legacy collector's
// _rest_inflight / _last_rest_snapshot_s bookkeeping).
func (b *OrderBook) MarkSnapshotRequested(now time.Time) {
	b.restInFlight = true
	b.lastRestSnapshot = now
}

// ApplyDiff feeds one incoming diff through the state machine.
func (b *OrderBook) ApplyDiff(diff event.OrderBookDiffEvent) ApplyOutcome {
	switch b.State {
	case Uninit, Bootstrapping:
		b.pending = append(b.pending, diff)
		b.State = Bootstrapping
		return OutcomeBuffered

	case Synced:
		if diff.Sequence <= b.lastU {
			return OutcomeStaleDropped
		}
		if diff.PrevSequence > b.lastU+1 {
			b.enterResync()
			b.pending = append(b.pending, diff)
			return OutcomeGapResync
		}
		b.apply(diff)
		b.lastU = diff.Sequence
		return OutcomeApplied

	case Resyncing:
		b.pending = append(b.pending, diff)
		return OutcomeBuffered
	}
	return OutcomeStaleDropped
}

// enterResync clears the book and per §4.1 "transition to RESYNCING,
// clear book, schedule REST snapshot fetch with per-symbol cooldown".
func (b *OrderBook) enterResync() {
	b.State = Resyncing
	b.bids = make(map[string]money.Decimal)
	b.asks = make(map[string]money.Decimal)
	b.restInFlight = false
}

// IntegrateSnapshot applies a REST depth snapshot as the bootstrap
// baseline, then replays buffered diffs that satisfy
// U <= snapshot_last+1 <= u, discarding earlier ones, and transitions
// to SYNCED with last_u set to the final applied sequence (spec.md
// §4.1's bootstrap rule). If a buffered diff still leaves a gap, the
// book stays in RESYNCING with that diff kept pending.
func (b *OrderBook) IntegrateSnapshot(lastUpdateID int64, bids, asks map[string]money.Decimal) {
	b.bids = bids
	b.asks = asks
	b.lastU = lastUpdateID
	b.restInFlight = false

	pending := b.pending
	b.pending = nil

	sort.Slice(pending, func(i, j int) bool { return pending[i].Sequence < pending[j].Sequence })

	for _, diff := range pending {
		if diff.Sequence <= b.lastU {
			continue // discard earlier
		}
		if diff.PrevSequence > b.lastU+1 {
			// later bootstrap diff also has a gap relative to the
			// snapshot; stay in resync rather than silently applying
			// a broken sequence.
			b.pending = append(b.pending, diff)
			continue
		}
		b.apply(diff)
		b.lastU = diff.Sequence
	}

	if len(b.pending) > 0 {
		b.State = Resyncing
		return
	}
	b.State = Synced
}

// apply sets or deletes each (price, qty) pair from the book. qty == 0
// deletes the level (spec.md §4.1 Apply rule).
func (b *OrderBook) apply(diff event.OrderBookDiffEvent) {
	for price, qty := range diff.Bids {
		if qty.IsZero() {
			delete(b.bids, price)
		} else {
			b.bids[price] = qty
		}
	}
	for price, qty := range diff.Asks {
		if qty.IsZero() {
			delete(b.asks, price)
		} else {
			b.asks[price] = qty
		}
	}
}

// L1 derives best bid/ask and their quantities from the current book.
// ok is false when either side is empty.
func (b *OrderBook) L1() (bestBid, bestBidQty, bestAsk, bestAskQty money.Decimal, crossed bool, ok bool) {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return money.Zero, money.Zero, money.Zero, money.Zero, false, false
	}
	bestBid, bestBidQty = maxByPrice(b.bids)
	bestAsk, bestAskQty = minByPrice(b.asks)
	crossed = bestBid.Cmp(bestAsk) >= 0
	return bestBid, bestBidQty, bestAsk, bestAskQty, crossed, true
}

func maxByPrice(levels map[string]money.Decimal) (price, qty money.Decimal) {
	first := true
	for p, q := range levels {
		d := money.MustParse(p)
		if first || d.GreaterThan(price) {
			price, qty = d, q
			first = false
		}
	}
	return
}

func minByPrice(levels map[string]money.Decimal) (price, qty money.Decimal) {
	first := true
	for p, q := range levels {
		d := money.MustParse(p)
		if first || d.LessThan(price) {
			price, qty = d, q
			first = false
		}
	}
	return
}
