// Package columnar implements the batched HTTP analytics sink. Grounded
// on original_source/feeds/pipelines/clickhouse_writer.py for the
// per-table buffering and row-shape rules, and on internal/writer
// logging idiom from the teacher for batch lifecycle messages. Diverges
// intentionally from the Python reference's indefinite re-buffer on
// failure: this writer implements spec.md §4.3's literal retry-then-drop
// semantics.
package columnar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	lz4 "github.com/pierrec/lz4/v4"

	"feedline/internal/event"
	"feedline/logger"
)

// Config holds the writer's tunables. Defaults match spec.md §4.3/§6.
type Config struct {
	// Endpoint is the HTTP URL, credentials embedded via userinfo per
	// spec.md §6.
	Endpoint string
	Database string
	// BatchRows is the row count flush threshold. Default 5000.
	BatchRows int
	// FlushInterval is the time-based flush threshold. Default 250ms.
	FlushInterval time.Duration
	// Compression selects the Content-Encoding header value; "lz4" or
	// "" (disabled).
	Compression string
	// HTTPTimeout bounds each insert POST. Default 10s (spec.md §5).
	HTTPTimeout time.Duration
	Client      *http.Client
}

func (c *Config) setDefaults() {
	if c.BatchRows <= 0 {
		c.BatchRows = 5000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 250 * time.Millisecond
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.HTTPTimeout}
	}
}

// tableCounters are the per-table counters spec.md §4.3 requires.
type tableCounters struct {
	written     int64
	flushed     int64
	flushFailed int64
}

type buffer struct {
	mu   sync.Mutex
	rows []map[string]any
}

// Writer is the columnar sink. One Writer serves every table; buffers
// are keyed by table name.
type Writer struct {
	cfg Config
	log *logger.Entry

	buffersMu sync.RWMutex
	buffers   map[string]*buffer
	opened    map[string]time.Time

	countersMu sync.RWMutex
	counters   map[string]*tableCounters

	flushCh chan string
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Writer. Start must be called before Enqueue.
func New(cfg Config) *Writer {
	cfg.setDefaults()
	return &Writer{
		cfg:      cfg,
		log:      logger.GetLogger().WithComponent("columnar_writer"),
		buffers:  make(map[string]*buffer),
		opened:   make(map[string]time.Time),
		counters: make(map[string]*tableCounters),
		flushCh:  make(chan string, 64),
		stopCh:   make(chan struct{}),
	}
}

func (w *Writer) Name() string { return "columnar" }

// Start launches the background flush-interval ticker. It must run for
// the lifetime of the process; Stop performs a final forced flush.
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
		case table := <-w.flushCh:
			w.flushTable(ctx, table)
		case <-ticker.C:
			w.flushDueTables(ctx)
		}
	}
}

// Enqueue converts ev into its table row(s) and appends them to the
// corresponding per-table buffer(s), signaling an immediate flush when
// a buffer reaches BatchRows.
func (w *Writer) Enqueue(ctx context.Context, ev event.Event) error {
	rows := eventToRows(ev)
	for table, row := range rows {
		w.appendRow(table, row)
		w.countWritten(table)
		if w.bufferLen(table) >= w.cfg.BatchRows {
			select {
			case w.flushCh <- table:
			default:
			}
		}
	}
	return nil
}

func (w *Writer) appendRow(table string, row map[string]any) {
	w.buffersMu.Lock()
	b, ok := w.buffers[table]
	if !ok {
		b = &buffer{}
		w.buffers[table] = b
	}
	if _, seen := w.opened[table]; !seen {
		w.opened[table] = time.Now()
	}
	w.buffersMu.Unlock()

	b.mu.Lock()
	b.rows = append(b.rows, row)
	b.mu.Unlock()
}

func (w *Writer) bufferLen(table string) int {
	w.buffersMu.RLock()
	b, ok := w.buffers[table]
	w.buffersMu.RUnlock()
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

// flushDueTables flushes every table whose buffer is non-empty and has
// aged past FlushInterval since it first became non-empty.
func (w *Writer) flushDueTables(ctx context.Context) {
	now := time.Now()
	w.buffersMu.RLock()
	due := make([]string, 0, len(w.buffers))
	for table, opened := range w.opened {
		if now.Sub(opened) >= w.cfg.FlushInterval {
			due = append(due, table)
		}
	}
	w.buffersMu.RUnlock()
	for _, table := range due {
		w.flushTable(ctx, table)
	}
}

// flushTable drains the table's buffer and attempts delivery with
// retry-then-drop semantics.
func (w *Writer) flushTable(ctx context.Context, table string) {
	w.buffersMu.Lock()
	b, ok := w.buffers[table]
	if !ok {
		w.buffersMu.Unlock()
		return
	}
	delete(w.opened, table)
	w.buffersMu.Unlock()

	b.mu.Lock()
	rows := b.rows
	b.rows = nil
	b.mu.Unlock()

	if len(rows) == 0 {
		return
	}

	if err := w.sendWithRetry(ctx, table, rows); err != nil {
		w.countFlushFailed(table, len(rows))
		w.log.WithError(err).WithField("table", table).WithField("rows", len(rows)).Error("flush failed after retry budget; batch dropped")
		return
	}
	w.countFlushed(table, len(rows))
}

var backoffSchedule = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond}

func (w *Writer) sendWithRetry(ctx context.Context, table string, rows []map[string]any) error {
	var lastErr error
	for attempt := 0; attempt <= len(backoffSchedule); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffSchedule[attempt-1]):
			}
		}
		if err := w.send(ctx, table, rows); err != nil {
			lastErr = err
			w.log.WithError(err).WithField("table", table).WithField("attempt", attempt).Warn("insert failed; retrying")
			continue
		}
		return nil
	}
	return fmt.Errorf("columnar: flush %s after %d attempts: %w", table, len(backoffSchedule)+1, lastErr)
}

func (w *Writer) send(ctx context.Context, table string, rows []map[string]any) error {
	body, contentEncoding, err := encodeRows(rows, w.cfg.Compression)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.cfg.HTTPTimeout)
	defer cancel()

	endpoint, err := url.Parse(w.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("columnar: invalid endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("query", fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", w.cfg.Database, table))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("columnar: transport error: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("columnar: non-2xx status %d", resp.StatusCode)
	}
	return nil
}

// encodeRows renders rows as newline-delimited JSON, optionally lz4
// framed when compression == "lz4" (spec.md §6).
func encodeRows(rows []map[string]any, compression string) (body []byte, contentEncoding string, err error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return nil, "", fmt.Errorf("columnar: encode row: %w", err)
		}
	}

	if compression != "lz4" {
		return buf.Bytes(), "", nil
	}

	var compressed bytes.Buffer
	zw := lz4.NewWriter(&compressed)
	if _, err := zw.Write(buf.Bytes()); err != nil {
		return nil, "", fmt.Errorf("columnar: lz4 compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("columnar: lz4 close: %w", err)
	}
	return compressed.Bytes(), "lz4", nil
}

func (w *Writer) countWritten(table string) {
	atomic.AddInt64(&w.countersFor(table).written, 1)
}

func (w *Writer) countFlushed(table string, n int) {
	atomic.AddInt64(&w.countersFor(table).flushed, int64(n))
}

func (w *Writer) countFlushFailed(table string, n int) {
	atomic.AddInt64(&w.countersFor(table).flushFailed, int64(n))
}

func (w *Writer) countersFor(table string) *tableCounters {
	w.countersMu.RLock()
	c, ok := w.counters[table]
	w.countersMu.RUnlock()
	if ok {
		return c
	}
	w.countersMu.Lock()
	defer w.countersMu.Unlock()
	if c, ok := w.counters[table]; ok {
		return c
	}
	c = &tableCounters{}
	w.counters[table] = c
	return c
}

// TableStats exposes written/flushed/pending/flush_failed per table for
// the health monitor, per spec.md §4.3's counter list.
type TableStats struct {
	Written     int64
	Flushed     int64
	Pending     int64
	FlushFailed int64
}

func (w *Writer) Stats() map[string]TableStats {
	w.countersMu.RLock()
	defer w.countersMu.RUnlock()
	out := make(map[string]TableStats, len(w.counters))
	for table, c := range w.counters {
		written := atomic.LoadInt64(&c.written)
		flushed := atomic.LoadInt64(&c.flushed)
		out[table] = TableStats{
			Written:     written,
			Flushed:     flushed,
			Pending:     written - flushed,
			FlushFailed: atomic.LoadInt64(&c.flushFailed),
		}
	}
	return out
}

// Flush forces delivery of every non-empty buffer, used by the
// supervisor's ordered shutdown (spec.md §4.6, §5's 5s deadline).
func (w *Writer) Flush(ctx context.Context) {
	w.buffersMu.RLock()
	tables := make([]string, 0, len(w.buffers))
	for table := range w.buffers {
		tables = append(tables, table)
	}
	w.buffersMu.RUnlock()
	for _, table := range tables {
		w.flushTable(ctx, table)
	}
}

// Stop signals the flush loop to exit after a final forced flush.
func (w *Writer) Stop(ctx context.Context) {
	w.Flush(ctx)
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("columnar writer stopped")
}
