package aggregate

import (
	"feedline/internal/event"
	"feedline/internal/money"
)

const (
	windowNs     = int64(5_000_000_000)
	intervalS    = 5
	closerGraceNs = int64(2_000_000_000)
)

// WindowStartNs aligns a trade's event time to the 5s grid (spec.md
// §3: window_start_ns = floor(ts_event_ns / 5e9) * 5e9).
func WindowStartNs(tsEventNs int64) int64 {
	return (tsEventNs / windowNs) * windowNs
}

// TradeAggregator is the per-symbol 5s aggregated-trade roller (spec.md
// §4.1). It is owned exclusively by its shard; no synchronization is
// provided.
type TradeAggregator struct {
	instrument string
	current    *accumulator
	lost       int64
}

type accumulator struct {
	windowStartNs int64
	open, high, low, close money.Decimal
	volume, notional       money.Decimal
	buyQty, sellQty        money.Decimal
	buyNotional, sellNotional money.Decimal
	tradeCount     int64
	firstTradeID   int64
	lastTradeID    int64
	hasTradeID     bool
}

func NewTradeAggregator(instrument string) *TradeAggregator {
	return &TradeAggregator{instrument: instrument}
}

// Lost returns the count of late trades dropped (spec.md §4.1, S2).
func (a *TradeAggregator) Lost() int64 { return a.lost }

// AddTrade folds one trade into the open accumulator, emitting and
// resetting it first if the trade belongs to a newer window, or
// dropping it (incrementing Lost) if it belongs to an older window
// than the one currently open.
//
// Returns the emitted event and true when a row closed as a result of
// this trade (the "current window rolled over" case); the "idle window
// timed out" case is handled by CloseIfIdle, driven by a wall-clock
// ticker in the adapter per spec.md §4.1. dropped is true when the
// trade belonged to a window older than the one currently open (spec.md
// §4.1, S2) — the caller is expected to surface this as a drop.
func (a *TradeAggregator) AddTrade(trade event.TradeEvent) (emitted event.AggTrades5sEvent, didEmit bool, dropped bool) {
	ws := WindowStartNs(trade.Base.TsEventNs)

	if a.current != nil && ws < a.current.windowStartNs {
		a.lost++
		return event.AggTrades5sEvent{}, false, true
	}

	if a.current != nil && ws > a.current.windowStartNs {
		emitted = a.render()
		didEmit = true
		a.current = nil
	}

	if a.current == nil {
		a.current = &accumulator{
			windowStartNs: ws,
			open:          trade.Price,
			high:          trade.Price,
			low:           trade.Price,
			close:         trade.Price,
			volume:        money.Zero,
			notional:      money.Zero,
			buyQty:        money.Zero,
			sellQty:       money.Zero,
			buyNotional:   money.Zero,
			sellNotional:  money.Zero,
		}
	}

	a.fold(trade)
	return emitted, didEmit, false
}

func (a *TradeAggregator) fold(trade event.TradeEvent) {
	c := a.current
	if trade.Price.GreaterThan(c.high) {
		c.high = trade.Price
	}
	if trade.Price.LessThan(c.low) {
		c.low = trade.Price
	}
	c.close = trade.Price
	c.volume = c.volume.Add(trade.Qty)
	c.notional = c.notional.Add(trade.Price.Mul(trade.Qty))
	c.tradeCount++

	if trade.HasAggressor {
		if trade.Side == event.SideBuy {
			c.buyQty = c.buyQty.Add(trade.Qty)
			c.buyNotional = c.buyNotional.Add(trade.Price.Mul(trade.Qty))
		} else {
			c.sellQty = c.sellQty.Add(trade.Qty)
			c.sellNotional = c.sellNotional.Add(trade.Price.Mul(trade.Qty))
		}
	}

	if trade.HasTradeID {
		if !c.hasTradeID {
			c.firstTradeID = trade.TradeID
			c.hasTradeID = true
		}
		c.lastTradeID = trade.TradeID
	}
}

func (a *TradeAggregator) render() event.AggTrades5sEvent {
	c := a.current
	return event.AggTrades5sEvent{
		Base: event.Base{
			Instrument: a.instrument,
			Channel:    event.ChannelAggTrades5s,
			TsEventNs:  c.windowStartNs,
		},
		WindowStartNs: c.windowStartNs,
		IntervalS:     intervalS,
		Open:          c.open,
		High:          c.high,
		Low:           c.low,
		Close:         c.close,
		Volume:        c.volume,
		Notional:      c.notional,
		TradeCount:    c.tradeCount,
		BuyQty:        c.buyQty,
		SellQty:       c.sellQty,
		BuyNotional:   c.buyNotional,
		SellNotional:  c.sellNotional,
		FirstTradeID:  c.firstTradeID,
		LastTradeID:   c.lastTradeID,
	}
}

// CloseIfIdle emits and clears the open accumulator when its window end
// plus the 2s grace period has passed relative to nowNs (spec.md §4.1's
// wall-clock closer task). Idle windows with no trades at all produce
// no row (elided, not zero-filled) because there is no open
// accumulator to close.
func (a *TradeAggregator) CloseIfIdle(nowNs int64) (emitted event.AggTrades5sEvent, didEmit bool) {
	if a.current == nil {
		return event.AggTrades5sEvent{}, false
	}
	windowEnd := a.current.windowStartNs + windowNs
	if nowNs < windowEnd+closerGraceNs {
		return event.AggTrades5sEvent{}, false
	}
	emitted = a.render()
	a.current = nil
	return emitted, true
}
