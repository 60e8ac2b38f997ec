// Package event defines the canonical, sink-agnostic record produced by
// the exchange adapter and consumed by the router. The source's
// event-class hierarchy collapses to a single tagged sum here: one
// struct per channel, all carrying the same BaseEvent header. The router
// dispatches on the Channel tag; the writers type-switch on the concrete
// struct to build their rows and commands.
package event

import "feedline/internal/money"

// Channel identifies an event's logical stream. The set is closed.
type Channel string

const (
	ChannelTrades          Channel = "trades"
	ChannelAggTrades5s     Channel = "agg_trades_5s"
	ChannelL1              Channel = "l1"
	ChannelOBTop5          Channel = "ob_top5"
	ChannelOBTop20         Channel = "ob_top20"
	ChannelOBDiff          Channel = "ob_diff"
	ChannelLiquidations    Channel = "liquidations"
	ChannelKlines          Channel = "klines"
	ChannelMarkPrice       Channel = "mark_price"
	ChannelFunding         Channel = "funding"
	ChannelAdvancedMetrics Channel = "advanced_metrics"
)

// Side is a trade or book-level aggressor/resting side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Base is the header present on every event: instrument, channel tag,
// exchange-originated event time, and collector receive time.
//
// ts_event_ns is the exchange-originated timestamp in nanoseconds since
// epoch. Where the vendor provides only millisecond resolution, the
// millisecond count is left-placed directly into this nanosecond-typed
// field without multiplying by 1e6 for MarkPriceEvent specifically —
// this is a documented legacy behavior (see MarkPriceEvent) preserved
// for compatibility, not a bug to fix.
type Base struct {
	Instrument string
	Channel    Channel
	TsEventNs  int64
	TsRecvNs   int64
}

// Event is implemented by every channel-specific variant so the router
// and writers can dispatch on Header().Channel without reflection.
type Event interface {
	Header() Base
}

type TradeEvent struct {
	Base
	Price       money.Decimal
	Qty         money.Decimal
	Side        Side
	TradeID     int64
	HasTradeID  bool
	IsAggressor bool
	HasAggressor bool
}

func (e TradeEvent) Header() Base { return e.Base }

// AggTrades5sEvent is the 5-second grid-aligned rollup of TradeEvent.
// WindowStartNs is always a multiple of 5e9 (invariant 1, spec.md §8).
type AggTrades5sEvent struct {
	Base
	WindowStartNs int64
	IntervalS     int64
	Open          money.Decimal
	High          money.Decimal
	Low           money.Decimal
	Close         money.Decimal
	Volume        money.Decimal
	Notional      money.Decimal
	TradeCount    int64
	BuyQty        money.Decimal
	SellQty       money.Decimal
	BuyNotional   money.Decimal
	SellNotional  money.Decimal
	FirstTradeID  int64
	LastTradeID   int64
}

func (e AggTrades5sEvent) Header() Base { return e.Base }

// Depth is the supported depth levels for OrderBookDepthEvent.
type Depth int

const (
	Depth1   Depth = 1
	Depth5   Depth = 5
	Depth10  Depth = 10
	Depth20  Depth = 20
	Depth50  Depth = 50
	Depth100 Depth = 100
)

// OrderBookDepthEvent carries a depth snapshot: parallel price/qty
// arrays, bids sorted descending, asks ascending. Used for l1 (depth=1),
// ob_top5 and ob_top20.
type OrderBookDepthEvent struct {
	Base
	Depth     Depth
	BidPrices []money.Decimal
	BidQtys   []money.Decimal
	AskPrices []money.Decimal
	AskQtys   []money.Decimal
}

func (e OrderBookDepthEvent) Header() Base { return e.Base }

// OrderBookDiffEvent is one incremental update on the diff-orderbook
// feed. Sequence/PrevSequence correspond to the vendor's u/U fields.
// Bids/Asks map price string to qty; qty == 0 means delete. Crossed is
// a non-wire field that neither the parser nor the orderbook state
// machine sets, and no sink writes it.
type OrderBookDiffEvent struct {
	Base
	Sequence     int64
	PrevSequence int64
	Bids         map[string]money.Decimal
	Asks         map[string]money.Decimal
	Crossed      bool
}

func (e OrderBookDiffEvent) Header() Base { return e.Base }

type LiquidationEvent struct {
	Base
	Side      Side
	Price     money.Decimal
	Qty       money.Decimal
	OrderID   string
	HasOrder  bool
	Reason    string
	HasReason bool
}

func (e LiquidationEvent) Header() Base { return e.Base }

// KlineEvent carries the full field set spec.md's columnar table schema
// and the cache writer's hash fields require. The Python reference this
// repository is grounded on (original_source/feeds/core/events.py) omits
// QuoteVolume/TakerBuyBaseVolume/TakerBuyQuoteVolume; those fields are
// present here because spec.md §6 and the redis writer's field builder
// both require them.
type KlineEvent struct {
	Base
	Interval             string
	Open                 money.Decimal
	High                 money.Decimal
	Low                  money.Decimal
	Close                money.Decimal
	Volume               money.Decimal
	QuoteVolume          money.Decimal
	TakerBuyBaseVolume   money.Decimal
	TakerBuyQuoteVolume  money.Decimal
	TradeCount           int64
	IsClosed             bool
}

func (e KlineEvent) Header() Base { return e.Base }

// MarkPriceEvent. ts_event_ns here preserves the legacy behavior
// documented in SPEC_FULL.md §9 Open Question 1: the exchange's
// millisecond value is stored directly into the nanosecond-typed field
// without multiplying by 1e6 for this channel specifically, because
// mark_price@1s frames are treated as already "close enough" to a
// coarse second-granularity series downstream. This is intentional and
// must not be "fixed" by a future contributor.
type MarkPriceEvent struct {
	Base
	MarkPrice  money.Decimal
	IndexPrice money.Decimal
	HasIndex   bool
}

func (e MarkPriceEvent) Header() Base { return e.Base }

type FundingEvent struct {
	Base
	FundingRate      money.Decimal
	NextFundingTsNs  int64
}

func (e FundingEvent) Header() Base { return e.Base }

// AdvancedMetricsEvent is derived internally from top5 book state
// (spread, mid, imbalance) and is never subscribed to as a wire stream.
type AdvancedMetricsEvent struct {
	Base
	Metrics map[string]money.Decimal
}

func (e AdvancedMetricsEvent) Header() Base { return e.Base }
