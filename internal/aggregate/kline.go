package aggregate

import "feedline/internal/event"

// KlinePassthrough validates and forwards vendor kline frames. Unlike
// the trade and orderbook feeds, klines arrive already aggregated by
// the exchange; this type exists only to enforce the closed-candle
// rule spec.md §4.1 states for the klines channel — only frames with
// is_closed=true are forwarded, since a candle still being built is
// not yet a stable row for either sink.
type KlinePassthrough struct {
	instrument string
	dropped    int64
}

func NewKlinePassthrough(instrument string) *KlinePassthrough {
	return &KlinePassthrough{instrument: instrument}
}

// Dropped counts open (not-yet-closed) candle frames discarded.
func (k *KlinePassthrough) Dropped() int64 { return k.dropped }

// Accept reports whether the frame should be forwarded to the router.
func (k *KlinePassthrough) Accept(ev event.KlineEvent) bool {
	if !ev.IsClosed {
		k.dropped++
		return false
	}
	return true
}
