// Package health implements the per-channel rolling counters and
// periodic structured report spec.md §4.5 defines. Grounded on
// logger/report.go's periodic system-stats line for the `[sys]` shape
// and on the teacher's plain-atomics idiom (spec.md §9's "avoid
// shared-mutex contention" design note rules out a mutex-guarded
// counter struct here).
package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"feedline/internal/event"
	"feedline/logger"
)

// LogInterval returns the per-channel report cadence spec.md §4.5
// assigns: 5s for agg_trades_5s, 10s for mark_price/funding, 60s for
// klines, 5s default for everything else.
func LogInterval(ch event.Channel) time.Duration {
	switch ch {
	case event.ChannelAggTrades5s:
		return 5 * time.Second
	case event.ChannelMarkPrice, event.ChannelFunding:
		return 10 * time.Second
	case event.ChannelKlines:
		return 60 * time.Second
	default:
		return 5 * time.Second
	}
}

// counters is the atomic counter block for one channel (spec.md
// §4.5's list). lagSumMs/lagMaxMs/lagSamples back the avg/max lag_ms
// computation.
type counters struct {
	ws          int64
	routed      int64
	written     int64
	flushed     int64
	dropped     int64
	wsLast      int64 // snapshot of ws at last report, for backlog_ws
	writtenLast int64

	backlogEWMA int64 // fixed-point: value * 1000

	lagSumMs   int64
	lagMaxMs   int64
	lagSamples int64

	// auxOutgoing/auxAttempts are the shard-level ws_outgoing/ws_attempts
	// gauge pair (SPEC_FULL.md §4.1 supplemental), latest value only.
	auxOutgoing int64
	auxAttempts int64
}

// ChannelConfig carries the static inputs needed to compute `expected`
// for one channel (spec.md §4.5's formula table). The report window
// itself (`interval_s` in each formula) is LogInterval, not configured
// here — only the symbol count varies per preset.
type ChannelConfig struct {
	SymbolCount int
}

// Monitor owns one counters block per channel and the background
// report loop. CloudWatch export is optional and off unless
// CloudWatchEnabled.
type Monitor struct {
	log *logger.Entry

	mu        sync.RWMutex
	counters  map[event.Channel]*counters
	configs   map[event.Channel]ChannelConfig
	intervals map[event.Channel]time.Duration

	PresetLabel       string
	CloudWatchEnabled bool
}

func New(presetLabel string) *Monitor {
	return &Monitor{
		log:         logger.GetLogger().WithComponent("health"),
		counters:    make(map[event.Channel]*counters),
		configs:     make(map[event.Channel]ChannelConfig),
		intervals:   make(map[event.Channel]time.Duration),
		PresetLabel: presetLabel,
	}
}

// Configure registers a channel's expected-rate inputs. Must be called
// before Start for every channel the preset subscribes to.
func (m *Monitor) Configure(ch event.Channel, cfg ChannelConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[ch] = cfg
	if _, ok := m.counters[ch]; !ok {
		m.counters[ch] = &counters{}
	}
}

// SetLogInterval overrides a channel's report cadence for this
// monitor, per the preset document's `log_interval_s` override
// (spec.md §6). Must be called before Start.
func (m *Monitor) SetLogInterval(ch event.Channel, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intervals[ch] = d
}

func (m *Monitor) logInterval(ch event.Channel) time.Duration {
	m.mu.RLock()
	d, ok := m.intervals[ch]
	m.mu.RUnlock()
	if ok {
		return d
	}
	return LogInterval(ch)
}

func (m *Monitor) counterFor(ch event.Channel) *counters {
	m.mu.RLock()
	c, ok := m.counters[ch]
	m.mu.RUnlock()
	if ok {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[ch]; ok {
		return c
	}
	c = &counters{}
	m.counters[ch] = c
	return c
}

// RecordWS increments the "frames accepted from WebSocket" counter.
func (m *Monitor) RecordWS(ch event.Channel) {
	atomic.AddInt64(&m.counterFor(ch).ws, 1)
}

// RecordRouted increments the "events handed to the router" counter.
func (m *Monitor) RecordRouted(ch event.Channel) {
	atomic.AddInt64(&m.counterFor(ch).routed, 1)
}

// RecordWritten increments the "rows enqueued to a sink" counter and
// folds one lag_ms sample (spec.md §4.5: (ts_recv_ns-ts_event_ns)/1e6).
func (m *Monitor) RecordWritten(ch event.Channel, tsEventNs, tsRecvNs int64) {
	c := m.counterFor(ch)
	atomic.AddInt64(&c.written, 1)
	lagMs := (tsRecvNs - tsEventNs) / 1_000_000
	atomic.AddInt64(&c.lagSumMs, lagMs)
	atomic.AddInt64(&c.lagSamples, 1)
	for {
		cur := atomic.LoadInt64(&c.lagMaxMs)
		if lagMs <= cur {
			break
		}
		if atomic.CompareAndSwapInt64(&c.lagMaxMs, cur, lagMs) {
			break
		}
	}
}

// RecordFlushed increments the "rows confirmed by sink flush" counter
// by n.
func (m *Monitor) RecordFlushed(ch event.Channel, n int64) {
	atomic.AddInt64(&m.counterFor(ch).flushed, n)
}

// RecordDrop increments ch's protocol-level drop counter by n and logs
// a WARNING immediately, per spec.md §7's drop taxonomy (stale diffs,
// gap resyncs, late trades) — these are reported as they happen, not
// just folded silently into the periodic report.
func (m *Monitor) RecordDrop(ch event.Channel, n int64, reason string) {
	atomic.AddInt64(&m.counterFor(ch).dropped, n)
	m.log.WithFields(logger.Fields{
		"preset":  m.PresetLabel,
		"channel": string(ch),
		"reason":  reason,
		"count":   n,
	}).Warn("protocol-level drop")
}

// RecordShardHealth records ch's most recent shard reconnect's
// ws_outgoing/ws_attempts gauge pair (SPEC_FULL.md §4.1 supplemental).
func (m *Monitor) RecordShardHealth(ch event.Channel, outgoing, attempts int) {
	c := m.counterFor(ch)
	atomic.StoreInt64(&c.auxOutgoing, int64(outgoing))
	atomic.StoreInt64(&c.auxAttempts, int64(attempts))
}

// Snapshot is one channel's computed report line for one interval.
type Snapshot struct {
	Channel     event.Channel
	WS          int64
	Routed      int64
	Written     int64
	Flushed     int64
	Dropped     int64
	Pending     int64
	Expected    int64
	Missing     int64
	Backlog     float64
	BacklogWS   int64
	LagAvgMs    float64
	LagMaxMs    int64
	WSOutgoing  int64
	WSAttempts  int64
}

// Snapshot computes and returns ch's current report line on demand,
// without waiting for the next report tick. Calling it consumes the
// same per-interval accumulators (lag samples, backlog_ws baseline) the
// periodic report loop would.
func (m *Monitor) Snapshot(ch event.Channel) Snapshot {
	return m.snapshot(ch, time.Now())
}

const backlogEWMAAlpha = 0.3

func (m *Monitor) snapshot(ch event.Channel, now time.Time) Snapshot {
	c := m.counterFor(ch)
	m.mu.RLock()
	cfg := m.configs[ch]
	m.mu.RUnlock()

	ws := atomic.LoadInt64(&c.ws)
	written := atomic.LoadInt64(&c.written)
	flushed := atomic.LoadInt64(&c.flushed)
	routed := atomic.LoadInt64(&c.routed)
	pending := written - flushed

	interval := m.logInterval(ch).Seconds()
	expected := expectedRows(ch, cfg, interval)
	missing := expected - flushed
	if missing < 0 {
		missing = 0
	}

	deficit := float64(expected - flushed)
	prevEWMA := float64(atomic.LoadInt64(&c.backlogEWMA)) / 1000
	newEWMA := backlogEWMAAlpha*deficit + (1-backlogEWMAAlpha)*prevEWMA
	atomic.StoreInt64(&c.backlogEWMA, int64(newEWMA*1000))

	wsLast := atomic.SwapInt64(&c.wsLast, ws)
	writtenLast := atomic.SwapInt64(&c.writtenLast, written)
	backlogWS := (ws - wsLast) - (written - writtenLast)

	lagSum := atomic.SwapInt64(&c.lagSumMs, 0)
	lagSamples := atomic.SwapInt64(&c.lagSamples, 0)
	lagMax := atomic.SwapInt64(&c.lagMaxMs, 0)
	lagAvg := 0.0
	if lagSamples > 0 {
		lagAvg = float64(lagSum) / float64(lagSamples)
	}

	return Snapshot{
		Channel:    ch,
		WS:         ws,
		Routed:     routed,
		Written:    written,
		Flushed:    flushed,
		Dropped:    atomic.LoadInt64(&c.dropped),
		Pending:    pending,
		Expected:   expected,
		Missing:    missing,
		Backlog:    newEWMA,
		BacklogWS:  backlogWS,
		LagAvgMs:   lagAvg,
		LagMaxMs:   lagMax,
		WSOutgoing: atomic.LoadInt64(&c.auxOutgoing),
		WSAttempts: atomic.LoadInt64(&c.auxAttempts),
	}
}

// expectedRows implements spec.md §4.5's per-channel formula table.
func expectedRows(ch event.Channel, cfg ChannelConfig, intervalS float64) int64 {
	switch ch {
	case event.ChannelAggTrades5s:
		return int64(float64(cfg.SymbolCount) * (intervalS / 5))
	case event.ChannelMarkPrice, event.ChannelFunding:
		return int64(cfg.SymbolCount) * int64(intervalS)
	case event.ChannelKlines:
		return int64(float64(cfg.SymbolCount) / 60 * intervalS)
	default:
		return 0
	}
}

// Start launches one reporting goroutine per configured channel, each
// on its own LogInterval cadence. The ambient `[sys]` line comes from
// logger.StartReport, not from here.
func (m *Monitor) Start(ctx context.Context, wg *sync.WaitGroup) {
	m.mu.RLock()
	channels := make([]event.Channel, 0, len(m.configs))
	for ch := range m.configs {
		channels = append(channels, ch)
	}
	m.mu.RUnlock()

	for _, ch := range channels {
		wg.Add(1)
		go m.reportLoop(ctx, wg, ch)
	}
}

func (m *Monitor) reportLoop(ctx context.Context, wg *sync.WaitGroup, ch event.Channel) {
	defer wg.Done()
	ticker := time.NewTicker(m.logInterval(ch))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := m.snapshot(ch, time.Now())
			m.logSnapshot(snap)
			if m.CloudWatchEnabled {
				m.publishSnapshot(snap)
			}
		}
	}
}

func (m *Monitor) logSnapshot(s Snapshot) {
	m.log.WithFields(logger.Fields{
		"preset":      m.PresetLabel,
		"channel":     string(s.Channel),
		"ws":          s.WS,
		"routed":      s.Routed,
		"written":     s.Written,
		"flushed":     s.Flushed,
		"dropped":     s.Dropped,
		"pending":     s.Pending,
		"expected":    s.Expected,
		"missing":     s.Missing,
		"backlog":     s.Backlog,
		"backlog_ws":  s.BacklogWS,
		"lag_avg_ms":  s.LagAvgMs,
		"lag_max_ms":  s.LagMaxMs,
		"ws_outgoing": s.WSOutgoing,
		"ws_attempts": s.WSAttempts,
	}).Info("channel health report")
}
