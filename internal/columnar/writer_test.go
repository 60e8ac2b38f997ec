package columnar

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"feedline/internal/event"
	"feedline/internal/money"
)

func tradeEvent(instrument string, price, qty string) event.TradeEvent {
	return event.TradeEvent{
		Base: event.Base{
			Instrument: instrument,
			Channel:    event.ChannelTrades,
			TsEventNs:  1,
			TsRecvNs:   2,
		},
		Price: money.MustParse(price),
		Qty:   money.MustParse(qty),
		Side:  event.SideBuy,
	}
}

// S5 — batch flush by size: batch_rows=10, flush_interval_ms=60000.
// Enqueue 10 trades; expect an insert posted quickly with exactly 10
// lines and flushed to increase by 10.
func TestFlushBySize(t *testing.T) {
	var postCount int64
	var lastLines int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&postCount, 1)
		sc := bufio.NewScanner(r.Body)
		var n int64
		for sc.Scan() {
			n++
		}
		atomic.StoreInt64(&lastLines, n)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wr := New(Config{
		Endpoint:      srv.URL,
		Database:      "marketdata",
		BatchRows:     10,
		FlushInterval: 60 * time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wr.Start(ctx)
	defer wr.Stop(context.Background())

	for i := 0; i < 10; i++ {
		if err := wr.Enqueue(ctx, tradeEvent("BTCUSDT", "100", "1")); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&postCount) > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	if atomic.LoadInt64(&postCount) == 0 {
		t.Fatalf("expected an insert POST within 100ms")
	}
	if got := atomic.LoadInt64(&lastLines); got != 10 {
		t.Fatalf("lines = %d, want 10", got)
	}
	stats := wr.Stats()["trades"]
	if stats.Flushed != 10 {
		t.Fatalf("flushed = %d, want 10", stats.Flushed)
	}
}

// S6 — batch flush by time: batch_rows=10 as in S5 but a 50ms
// flush_interval_ms and only 3 rows enqueued; wait past it and expect
// the insert posted with 3 lines.
func TestFlushByTime(t *testing.T) {
	var lastLines int64
	var posted int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.StoreInt64(&posted, 1)
		sc := bufio.NewScanner(r.Body)
		var n int64
		for sc.Scan() {
			n++
		}
		atomic.StoreInt64(&lastLines, n)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wr := New(Config{
		Endpoint:      srv.URL,
		Database:      "marketdata",
		BatchRows:     10,
		FlushInterval: 50 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wr.Start(ctx)
	defer wr.Stop(context.Background())

	for i := 0; i < 3; i++ {
		if err := wr.Enqueue(ctx, tradeEvent("BTCUSDT", "100", "1")); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	time.Sleep(300 * time.Millisecond)

	if atomic.LoadInt64(&posted) == 0 {
		t.Fatalf("expected a time-based flush")
	}
	if got := atomic.LoadInt64(&lastLines); got != 3 {
		t.Fatalf("lines = %d, want 3", got)
	}
}

// Failure semantics: non-2xx triggers retry-then-drop with a
// flush_failed counter increment and no successful flush.
func TestFlushFailedAfterRetryBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wr := New(Config{
		Endpoint:      srv.URL,
		Database:      "marketdata",
		BatchRows:     1,
		FlushInterval: time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wr.Start(ctx)

	if err := wr.Enqueue(ctx, tradeEvent("BTCUSDT", "100", "1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if wr.Stats()["trades"].FlushFailed > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	wr.Stop(context.Background())

	stats := wr.Stats()["trades"]
	if stats.FlushFailed != 1 {
		t.Fatalf("flush_failed = %d, want 1", stats.FlushFailed)
	}
	if stats.Flushed != 0 {
		t.Fatalf("flushed = %d, want 0", stats.Flushed)
	}
}
