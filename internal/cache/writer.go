// Package cache implements the pipelined KV sink. Grounded on
// original_source/feeds/pipelines/redis_writer.py's RedisCommand
// dataclass and _build_*_command dispatch, translated to Go and backed
// by github.com/redis/go-redis/v9 (an enrichment import grounded on the
// retrieval pack's sawpanic-cryptorun and handikong-gopherex repos,
// since the teacher itself carries no Redis client).
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"feedline/internal/event"
	"feedline/logger"
)

const namespace = "marketdata"

// TTLs fixed by spec.md §4.4 (bit-exact external contract).
const (
	markPriceTTL   = 3 * time.Second
	aggTrades5sTTL = 10 * time.Second
	klinesTTL      = 120 * time.Second
)

// defaultStreamMaxLen is the approximate MAXLEN for XADD streams (spec.md
// §4.4), overridable via Config.
const defaultStreamMaxLen = 1000

// Config holds the writer's tunables. Defaults match spec.md §4.4/§6.
type Config struct {
	// DSN is passed to redis.ParseURL; credentials embedded per the
	// scheme's userinfo convention.
	DSN string
	// PipelineSize is the command-count flush threshold. Default 200.
	PipelineSize int
	// FlushInterval is the time-based flush threshold. Default 50ms.
	FlushInterval time.Duration
	// StreamMaxLen bounds XADD streams via approximate trimming.
	StreamMaxLen int64
	// PipelineTimeout bounds each pipeline exec (spec.md §5: 3s).
	PipelineTimeout time.Duration
	Client          redis.UniversalClient
}

func (c *Config) setDefaults() {
	if c.PipelineSize <= 0 {
		c.PipelineSize = 200
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 50 * time.Millisecond
	}
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = defaultStreamMaxLen
	}
	if c.PipelineTimeout <= 0 {
		c.PipelineTimeout = 3 * time.Second
	}
}

// command mirrors the Python RedisCommand dataclass: a single HSET or
// XADD plus an optional trailing EXPIRE.
type command struct {
	kind   string // "hset" or "xadd"
	key    string
	fields map[string]any
	ttl    time.Duration
	maxLen int64
}

type counters struct {
	mu          sync.Mutex
	flushed     map[event.Channel]int64
	flushFailed map[event.Channel]int64
}

// Writer is the cache sink. One Writer serves every channel's command
// set; commands queue into a single pipeline buffer.
type Writer struct {
	cfg Config
	log *logger.Entry

	mu    sync.Mutex
	queue []queuedCommand

	counters counters

	flushSignal chan struct{}
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

type queuedCommand struct {
	ch  event.Channel
	cmd command
}

func New(cfg Config) (*Writer, error) {
	cfg.setDefaults()
	if cfg.Client == nil {
		opts, err := redis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("cache: parse dsn: %w", err)
		}
		cfg.Client = redis.NewClient(opts)
	}
	return &Writer{
		cfg: cfg,
		log: logger.GetLogger().WithComponent("cache_writer"),
		counters: counters{
			flushed:     make(map[event.Channel]int64),
			flushFailed: make(map[event.Channel]int64),
		},
		flushSignal: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}, nil
}

func (w *Writer) Name() string { return "cache" }

func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.flushLoop(ctx)
}

func (w *Writer) flushLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.flushSignal:
			w.flush(ctx)
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// Enqueue builds the command set for ev and appends it to the pipeline
// buffer, signaling an immediate flush when PipelineSize is reached.
func (w *Writer) Enqueue(ctx context.Context, ev event.Event) error {
	cmds := buildCommands(ev, w.cfg.StreamMaxLen)
	if len(cmds) == 0 {
		return nil
	}
	ch := ev.Header().Channel

	w.mu.Lock()
	for _, c := range cmds {
		w.queue = append(w.queue, queuedCommand{ch: ch, cmd: c})
	}
	full := len(w.queue) >= w.cfg.PipelineSize
	w.mu.Unlock()

	if full {
		select {
		case w.flushSignal <- struct{}{}:
		default:
		}
	}
	return nil
}

// flush dispatches the queued commands as a single non-transactional
// pipeline. A pipeline-level error fails the whole batch: commands are
// lost and counted as flush_failed per channel, and the client
// reconnects with backoff on the next attempt (spec.md §4.4).
func (w *Writer) flush(ctx context.Context) {
	w.mu.Lock()
	batch := w.queue
	w.queue = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, w.cfg.PipelineTimeout)
	defer cancel()

	pipe := w.cfg.Client.Pipeline()
	for _, qc := range batch {
		addToPipeline(pipe, qc.cmd)
	}
	_, err := pipe.Exec(execCtx)

	byChannel := make(map[event.Channel]int)
	for _, qc := range batch {
		byChannel[qc.ch]++
	}

	w.counters.mu.Lock()
	if err != nil {
		for ch, n := range byChannel {
			w.counters.flushFailed[ch] += int64(n)
		}
	} else {
		for ch, n := range byChannel {
			w.counters.flushed[ch] += int64(n)
		}
	}
	w.counters.mu.Unlock()

	if err != nil {
		w.log.WithError(err).WithField("commands", len(batch)).Error("pipeline exec failed; batch lost")
	}
}

func addToPipeline(pipe redis.Pipeliner, c command) {
	switch c.kind {
	case "hset":
		pipe.HSet(context.Background(), c.key, c.fields)
		if c.ttl > 0 {
			pipe.Expire(context.Background(), c.key, c.ttl)
		}
	case "xadd":
		args := &redis.XAddArgs{
			Stream: c.key,
			Values: c.fields,
		}
		if c.maxLen > 0 {
			args.MaxLen = c.maxLen
			args.Approx = true
		}
		pipe.XAdd(context.Background(), args)
	}
}

// Stats returns flushed/flush_failed counters per channel for the
// health monitor, computed per (key-pattern, channel) per
// SPEC_FULL.md §9's loss-accounting resolution.
func (w *Writer) Stats() map[event.Channel]struct{ Flushed, FlushFailed int64 } {
	w.counters.mu.Lock()
	defer w.counters.mu.Unlock()
	out := make(map[event.Channel]struct{ Flushed, FlushFailed int64 })
	for ch, n := range w.counters.flushed {
		v := out[ch]
		v.Flushed = n
		out[ch] = v
	}
	for ch, n := range w.counters.flushFailed {
		v := out[ch]
		v.FlushFailed = n
		out[ch] = v
	}
	return out
}

// Flush forces delivery of the current queue, used by the supervisor's
// ordered shutdown.
func (w *Writer) Flush(ctx context.Context) {
	w.flush(ctx)
}

func (w *Writer) Stop(ctx context.Context) {
	w.Flush(ctx)
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("cache writer stopped")
}

func key(parts ...string) string {
	out := namespace
	for _, p := range parts {
		out += ":" + p
	}
	return out
}
