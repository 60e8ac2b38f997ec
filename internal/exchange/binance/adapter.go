package binance

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"feedline/internal/aggregate"
	"feedline/internal/event"
	"feedline/internal/health"
	"feedline/internal/money"
	"feedline/internal/router"
	"feedline/logger"
)

// idleCloseTick is how often the wall-clock closer task checks
// per-symbol trade accumulators for an idle window past the 2s grace
// period (spec.md §4.1).
const idleCloseTick = 500 * time.Millisecond

// Config describes one adapter instance's scope: a market, a host, the
// symbol universe, and which channels to subscribe.
type Config struct {
	Host           string
	Market         MarketType
	Symbols        []string
	Channels       []event.Channel
	KlineIntervals []string // only consulted when Channels includes klines
	// DisableDiff implements Open Question 2's resolution (SPEC_FULL.md
	// §4.2): when true, the ob_diff shard is never started and the
	// orderbook state machine is never fed, even if ob_diff is present
	// in Channels.
	DisableDiff   bool
	SnapshotLimit int
}

// Adapter owns the per-symbol aggregator state and the shard pool for
// one exchange/market combination (spec.md §4.1, §5 ownership rule:
// each symbol's state is reached only from its shard's goroutine).
type Adapter struct {
	cfg    Config
	router *router.Router
	health *health.Monitor
	log    *logger.Entry
	snap   *SnapshotFetcher

	booksMu sync.Mutex
	books   map[string]*aggregate.OrderBook

	aggMu sync.Mutex
	aggs  map[string]*aggregate.TradeAggregator

	klineMu sync.Mutex
	klines  map[string]*aggregate.KlinePassthrough

	lostMu sync.Mutex
	lost   map[event.Channel]int64
}

// New constructs an Adapter bound to r, reporting frame/drop counters
// into h (spec.md §4.1, §4.5). Start must be called to begin connecting
// shards.
func New(cfg Config, r *router.Router, h *health.Monitor) *Adapter {
	return &Adapter{
		cfg:    cfg,
		router: r,
		health: h,
		log:    logger.GetLogger().WithComponent("binance_adapter"),
		snap:   NewSnapshotFetcher(cfg.Host, cfg.SnapshotLimit),
		books:  make(map[string]*aggregate.OrderBook),
		aggs:   make(map[string]*aggregate.TradeAggregator),
		klines: make(map[string]*aggregate.KlinePassthrough),
		lost:   make(map[event.Channel]int64),
	}
}

// Start launches one goroutine per shard across every configured
// channel, plus the idle-closer and REST-snapshot-scheduler background
// tasks. It returns once every shard goroutine has been launched; it
// does not block for their lifetime.
func (a *Adapter) Start(ctx context.Context, wg *sync.WaitGroup) {
	for _, ch := range a.cfg.Channels {
		if ch == event.ChannelOBDiff && a.cfg.DisableDiff {
			continue
		}
		a.startChannel(ctx, wg, ch)
	}

	if hasChannel(a.cfg.Channels, event.ChannelTrades) {
		wg.Add(1)
		go a.idleCloserLoop(ctx, wg)
	}
	if hasChannel(a.cfg.Channels, event.ChannelOBDiff) && !a.cfg.DisableDiff {
		wg.Add(1)
		go a.snapshotSchedulerLoop(ctx, wg)
	}
}

func (a *Adapter) startChannel(ctx context.Context, wg *sync.WaitGroup, ch event.Channel) {
	intervals := a.cfg.KlineIntervals
	if ch != event.ChannelKlines {
		intervals = []string{""}
	}
	if len(intervals) == 0 {
		intervals = []string{"1m"}
	}

	for _, interval := range intervals {
		for _, shard := range PlanShards(ch, interval, a.cfg.Symbols) {
			wg.Add(1)
			go a.runShard(ctx, wg, shard)
		}
	}
}

func (a *Adapter) runShard(ctx context.Context, wg *sync.WaitGroup, shard Shard) {
	defer wg.Done()
	base := BaseURL(a.cfg.Market, a.cfg.Host)
	url := CombinedStreamURL(base, shard.Channel, shard.Interval, shard.Symbols)
	tracker := &weightTracker{window: time.Now()}
	log := a.log.WithFields(logger.Fields{"channel": string(shard.Channel), "symbols": len(shard.Symbols)})

	runShardLoop(ctx, url, func(raw []byte) error {
		return a.dispatch(ctx, shard.Channel, raw)
	}, tracker, log, a.health, shard.Channel)
}

func (a *Adapter) dispatch(ctx context.Context, channel event.Channel, raw []byte) error {
	var env envelope
	recvNs := nowNs()
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil // malformed frame; drop, don't kill the shard
	}
	if a.health != nil {
		a.health.RecordWS(channel)
	}

	// Partial-depth payloads carry no symbol; take it from the stream name.
	sym := strings.ToUpper(strings.SplitN(env.Stream, "@", 2)[0])

	switch channel {
	case event.ChannelTrades:
		trade, err := ParseTrade(env.Data, recvNs)
		if err != nil {
			return nil
		}
		a.router.Publish(ctx, trade)
		emitted, did, dropped := a.aggregatorFor(trade.Base.Instrument).AddTrade(trade)
		if did {
			a.router.Publish(ctx, emitted)
		} else if dropped {
			a.countLost(event.ChannelAggTrades5s, "late_trade")
		}

	case event.ChannelL1:
		depth, err := ParseBookTicker(sym, env.Data, recvNs)
		if err != nil {
			return nil
		}
		a.router.Publish(ctx, depth)

	case event.ChannelOBTop5:
		depth, err := ParsePartialDepth(sym, event.ChannelOBTop5, event.Depth5, env.Data, recvNs)
		if err != nil {
			return nil
		}
		a.router.Publish(ctx, depth)
		a.router.Publish(ctx, deriveAdvancedMetrics(depth))

	case event.ChannelOBTop20:
		depth, err := ParsePartialDepth(sym, event.ChannelOBTop20, event.Depth20, env.Data, recvNs)
		if err != nil {
			return nil
		}
		a.router.Publish(ctx, depth)

	case event.ChannelOBDiff:
		diff, err := ParseDiff(env.Data, recvNs)
		if err != nil {
			return nil
		}
		book := a.bookFor(diff.Base.Instrument)
		switch book.ApplyDiff(diff) {
		case aggregate.OutcomeApplied:
			a.router.Publish(ctx, diff)
		case aggregate.OutcomeStaleDropped:
			a.countLost(event.ChannelOBDiff, "stale_diff")
		case aggregate.OutcomeGapResync:
			a.countLost(event.ChannelOBDiff, "gap_resync")
		}

	case event.ChannelLiquidations:
		liq, err := ParseLiquidation(env.Data, recvNs)
		if err != nil {
			return nil
		}
		a.router.Publish(ctx, liq)

	case event.ChannelMarkPrice, event.ChannelFunding:
		frame, err := ParseMarkFunding(env.Data, recvNs)
		if err != nil {
			return nil
		}
		mark, funding := aggregate.SplitMarkFunding(frame)
		a.router.Publish(ctx, mark)
		a.router.Publish(ctx, funding)

	case event.ChannelKlines:
		kline, err := ParseKline(env.Data, recvNs)
		if err != nil {
			return nil
		}
		if a.klinePassthroughFor(kline.Base.Instrument).Accept(kline) {
			a.router.Publish(ctx, kline)
		}
	}
	return nil
}

// idleCloserLoop drives TradeAggregator.CloseIfIdle across every
// symbol currently tracked (spec.md §4.1's wall-clock closer task).
func (a *Adapter) idleCloserLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(idleCloseTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := nowNs()
			a.aggMu.Lock()
			snapshot := make([]*aggregate.TradeAggregator, 0, len(a.aggs))
			for _, agg := range a.aggs {
				snapshot = append(snapshot, agg)
			}
			a.aggMu.Unlock()
			for _, agg := range snapshot {
				if emitted, did := agg.CloseIfIdle(now); did {
					a.router.Publish(ctx, emitted)
				}
			}
		}
	}
}

// snapshotSchedulerLoop periodically checks every orderbook's
// NeedsSnapshot and fetches a REST snapshot to (re)bootstrap it
// (spec.md §4.1, §5's >=30s cooldown).
func (a *Adapter) snapshotSchedulerLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			a.booksMu.Lock()
			due := make([]*aggregate.OrderBook, 0)
			for _, b := range a.books {
				if b.NeedsSnapshot(now) {
					b.MarkSnapshotRequested(now)
					due = append(due, b)
				}
			}
			a.booksMu.Unlock()
			for _, b := range due {
				go a.fetchAndIntegrate(ctx, b)
			}
		}
	}
}

func (a *Adapter) fetchAndIntegrate(ctx context.Context, book *aggregate.OrderBook) {
	lastUpdateID, bids, asks, err := a.snap.Fetch(ctx, book.Instrument)
	if err != nil {
		a.log.WithError(err).WithField("instrument", book.Instrument).Warn("rest snapshot fetch failed")
		return
	}
	book.IntegrateSnapshot(lastUpdateID, bids, asks)
}

func (a *Adapter) bookFor(instrument string) *aggregate.OrderBook {
	a.booksMu.Lock()
	defer a.booksMu.Unlock()
	b, ok := a.books[instrument]
	if !ok {
		b = aggregate.NewOrderBook(instrument)
		a.books[instrument] = b
	}
	return b
}

func (a *Adapter) aggregatorFor(instrument string) *aggregate.TradeAggregator {
	a.aggMu.Lock()
	defer a.aggMu.Unlock()
	agg, ok := a.aggs[instrument]
	if !ok {
		agg = aggregate.NewTradeAggregator(instrument)
		a.aggs[instrument] = agg
	}
	return agg
}

func (a *Adapter) klinePassthroughFor(instrument string) *aggregate.KlinePassthrough {
	a.klineMu.Lock()
	defer a.klineMu.Unlock()
	k, ok := a.klines[instrument]
	if !ok {
		k = aggregate.NewKlinePassthrough(instrument)
		a.klines[instrument] = k
	}
	return k
}

func (a *Adapter) countLost(ch event.Channel, reason string) {
	a.lostMu.Lock()
	a.lost[ch]++
	a.lostMu.Unlock()
	if a.health != nil {
		a.health.RecordDrop(ch, 1, reason)
	}
}

// Lost returns per-channel protocol-level drop counts (stale diffs,
// gap resyncs, late trades) for the health monitor (spec.md §4.1's `drop` counter).
func (a *Adapter) Lost() map[event.Channel]int64 {
	a.lostMu.Lock()
	defer a.lostMu.Unlock()
	out := make(map[event.Channel]int64, len(a.lost))
	for k, v := range a.lost {
		out[k] = v
	}
	return out
}

func hasChannel(channels []event.Channel, target event.Channel) bool {
	for _, c := range channels {
		if c == target {
			return true
		}
	}
	return false
}

// deriveAdvancedMetrics computes spread/mid/imbalance from a top5
// depth snapshot (SPEC_FULL.md §4.1: "derived from the top5 state,
// never subscribed to as a wire stream").
func deriveAdvancedMetrics(depth event.OrderBookDepthEvent) event.AdvancedMetricsEvent {
	metrics := map[string]money.Decimal{}
	base := depth.Base
	base.Channel = event.ChannelAdvancedMetrics

	if len(depth.BidPrices) == 0 || len(depth.AskPrices) == 0 {
		return event.AdvancedMetricsEvent{Base: base, Metrics: metrics}
	}

	bestBid, bestAsk := depth.BidPrices[0], depth.AskPrices[0]
	spread := bestAsk.Sub(bestBid)
	mid := bestBid.Add(bestAsk).Value()
	mid = mid.Div(money.MustParse("2").Value())
	midDec, _ := money.Parse(mid.String())

	bidQty, askQty := depth.BidQtys[0], depth.AskQtys[0]
	denom := bidQty.Add(askQty)
	imbalance := money.Zero
	if !denom.IsZero() {
		iv := bidQty.Sub(askQty).Value().Div(denom.Value())
		imbalance, _ = money.Parse(iv.String())
	}

	metrics["spread"] = spread
	metrics["mid"] = midDec
	metrics["imbalance"] = imbalance
	return event.AdvancedMetricsEvent{Base: base, Metrics: metrics}
}
