// Package supervisor owns one preset's process lifecycle: CPU affinity
// binding, writer-set construction from the enable_columnar/
// enable_cache switches, router and adapter construction, and the
// ordered shutdown sequence (spec.md §4.6). Grounded on the teacher's
// top-level main.go shutdown pattern, generalized from one hardcoded
// multi-exchange pipeline into a per-preset construction step.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"feedline/config"
	"feedline/internal/cache"
	"feedline/internal/columnar"
	"feedline/internal/event"
	"feedline/internal/exchange/binance"
	"feedline/internal/health"
	"feedline/internal/router"
	"feedline/logger"
)

// shutdownDeadline bounds the force-flush step of the ordered shutdown
// sequence (spec.md §4.6).
const shutdownDeadline = 5 * time.Second

// statsPollInterval is how often the supervisor folds each writer's
// flush counters into the health monitor (spec.md §4.5's "flushed"
// counter) — neither writer holds a reference to health.Monitor itself.
const statsPollInterval = time.Second

// Supervisor runs exactly one preset: one adapter, one router, the
// writer set the preset's configuration enables, and the per-channel
// health monitor.
type Supervisor struct {
	preset config.Preset
	cfg    *config.Config
	log    *logger.Entry

	router  *router.Router
	adapter *binance.Adapter
	health  *health.Monitor

	columnarWriter *columnar.Writer
	cacheWriter    *cache.Writer
}

// New constructs a Supervisor for preset, wiring writers according to
// cfg.Feedline.EnableColumnar/EnableCache. Writer clients (HTTP,
// Redis) are constructed here but not started; call Run to start
// everything and block until ctx is cancelled.
func New(cfg *config.Config, preset config.Preset) (*Supervisor, error) {
	s := &Supervisor{
		preset: preset,
		cfg:    cfg,
		log:    logger.GetLogger().WithComponent("supervisor").WithFields(logger.Fields{"preset": preset.Label}),
		router: router.New(),
		health: health.New(preset.Label),
	}
	s.router.SetHealth(s.health)

	channels, err := parseChannels(preset.Channels)
	if err != nil {
		return nil, err
	}

	if cfg.Feedline.EnableColumnar {
		w := columnar.New(columnar.Config{
			Endpoint:      cfg.Columnar.URL,
			Database:      cfg.Columnar.Database,
			BatchRows:     cfg.Columnar.BatchRows,
			FlushInterval: cfg.Columnar.FlushInterval(),
			Compression:   cfg.Columnar.Compression,
			HTTPTimeout:   cfg.Columnar.InsertTimeout(),
		})
		s.columnarWriter = w
		for _, ch := range channels {
			s.router.Bind(ch, w)
		}
	}

	if cfg.Feedline.EnableCache {
		w, err := cache.New(cache.Config{
			DSN:           cfg.Cache.URL,
			PipelineSize:  cfg.Cache.PipelineSize,
			FlushInterval: cfg.Cache.FlushInterval(),
			StreamMaxLen:  cfg.Cache.StreamMaxLen,
		})
		if err != nil {
			return nil, fmt.Errorf("construct cache writer: %w", err)
		}
		s.cacheWriter = w
		for _, ch := range channels {
			s.router.Bind(ch, w)
		}
	}

	if s.columnarWriter == nil && s.cacheWriter == nil {
		return nil, fmt.Errorf("preset %q: no writer enabled", preset.Label)
	}

	market := binance.MarketPerpLinear
	switch preset.Market {
	case "spot":
		market = binance.MarketSpot
	case "perp_inverse":
		market = binance.MarketPerpInverse
	}

	s.adapter = binance.New(binance.Config{
		Host:           preset.Host,
		Market:         market,
		Symbols:        preset.Symbols,
		Channels:       channels,
		KlineIntervals: preset.KlineIntervals,
		DisableDiff:    preset.DisableDiff,
		SnapshotLimit:  preset.SnapshotLimit,
	}, s.router, s.health)

	for _, ch := range channels {
		s.health.Configure(ch, health.ChannelConfig{
			SymbolCount: len(preset.Symbols),
		})
		if override, ok := preset.LogIntervalS[string(ch)]; ok {
			s.health.SetLogInterval(ch, time.Duration(override)*time.Second)
		}
	}
	s.health.CloudWatchEnabled = cfg.Logging.HealthCloudWatchEnabled

	return s, nil
}

func parseChannels(names []string) ([]event.Channel, error) {
	valid := map[event.Channel]bool{
		event.ChannelTrades:          true,
		event.ChannelAggTrades5s:     true,
		event.ChannelL1:              true,
		event.ChannelOBTop5:          true,
		event.ChannelOBTop20:         true,
		event.ChannelOBDiff:          true,
		event.ChannelLiquidations:    true,
		event.ChannelKlines:          true,
		event.ChannelMarkPrice:       true,
		event.ChannelFunding:         true,
		event.ChannelAdvancedMetrics: true,
	}
	out := make([]event.Channel, 0, len(names))
	for _, n := range names {
		ch := event.Channel(n)
		if !valid[ch] {
			return nil, fmt.Errorf("unknown channel %q", n)
		}
		out = append(out, ch)
	}
	return out, nil
}

// Run binds CPU affinity (best-effort), starts the writers, the
// health monitor, and the adapter, and blocks until ctx is cancelled.
// It then runs the ordered shutdown: stop the adapter, drain the
// router, force-flush both writers within shutdownDeadline, close
// connections.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := bindCPU(s.preset.CPUAffinity); err != nil {
		s.log.WithError(err).Warn("cpu affinity bind failed, continuing unpinned")
	}

	var wg sync.WaitGroup

	if s.columnarWriter != nil {
		s.columnarWriter.Start(ctx)
	}
	if s.cacheWriter != nil {
		s.cacheWriter.Start(ctx)
	}

	s.health.Start(ctx, &wg)

	wg.Add(1)
	go s.pollWriterStats(ctx, &wg)

	adapterCtx, cancelAdapter := context.WithCancel(ctx)
	defer cancelAdapter()
	s.adapter.Start(adapterCtx, &wg)

	s.log.Info("supervisor running")
	<-ctx.Done()
	s.log.Info("shutdown signal received")

	return s.shutdown(&wg, cancelAdapter)
}

// pollWriterStats periodically reads each enabled writer's per-channel
// flush counters and folds the delta since the last poll into the
// health monitor, since columnar.Writer and cache.Writer are built
// without any reference to health.Monitor.
func (s *Supervisor) pollWriterStats(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(statsPollInterval)
	defer ticker.Stop()

	lastColumnar := make(map[string]int64)
	lastCache := make(map[event.Channel]int64)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.columnarWriter != nil {
				for table, st := range s.columnarWriter.Stats() {
					if delta := st.Flushed - lastColumnar[table]; delta > 0 {
						s.health.RecordFlushed(columnarTableChannel(table), delta)
					}
					lastColumnar[table] = st.Flushed
				}
			}
			if s.cacheWriter != nil {
				for ch, st := range s.cacheWriter.Stats() {
					if delta := st.Flushed - lastCache[ch]; delta > 0 {
						s.health.RecordFlushed(ch, delta)
					}
					lastCache[ch] = st.Flushed
				}
			}
		}
	}
}

// columnarTableChannel maps a columnar table name back to its event
// channel. Table names match the channel string directly except
// ob_diff, whose table is named order_book_diffs (internal/columnar's
// own naming convention).
func columnarTableChannel(table string) event.Channel {
	if table == "order_book_diffs" {
		return event.ChannelOBDiff
	}
	return event.Channel(table)
}

func (s *Supervisor) shutdown(wg *sync.WaitGroup, cancelAdapter context.CancelFunc) error {
	// Stop the adapter (close sockets) first so no new events enter the
	// router during drain.
	cancelAdapter()

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(shutdownDeadline):
		s.log.Warn("adapter shutdown did not complete within deadline")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()

	if s.columnarWriter != nil {
		s.columnarWriter.Stop(flushCtx)
	}
	if s.cacheWriter != nil {
		s.cacheWriter.Stop(flushCtx)
	}

	s.log.Info("supervisor stopped")
	return nil
}
