package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"

	"feedline/internal/event"
	"feedline/internal/money"
)

func newMockWriter(t *testing.T) (*Writer, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	w, err := New(Config{Client: db, PipelineSize: 200, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w, mock
}

func dec(s string) money.Decimal {
	d, err := money.Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// TestFlushSetsTTLPerSpecContract covers S4: a mark_price write must
// be expired with the channel's fixed TTL (3s) via a trailing EXPIRE
// in the same pipeline.
func TestFlushSetsTTLPerSpecContract(t *testing.T) {
	w, mock := newMockWriter(t)

	ev := event.MarkPriceEvent{
		Base:      event.Base{Instrument: "BTCUSDT", Channel: event.ChannelMarkPrice, TsEventNs: 1, TsRecvNs: 2},
		MarkPrice: dec("50000.1"),
	}

	mock.MatchExpectationsInOrder(false)
	field := `^(ts_event_ns|ts_recv_ns|mark_px)$`
	mock.Regexp().ExpectHSet(`marketdata:last:mark:BTCUSDT`, field, `.*`, field, `.*`, field, `.*`).SetVal(1)
	mock.Regexp().ExpectExpire(`marketdata:last:mark:BTCUSDT`, markPriceTTL).SetVal(true)

	if err := w.Enqueue(context.Background(), ev); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	w.Flush(context.Background())

	stats := w.Stats()
	if stats[event.ChannelMarkPrice].Flushed != 1 {
		t.Errorf("want 1 flushed command for mark_price, got %+v", stats[event.ChannelMarkPrice])
	}
}

// TestFlushCountsFailureOnPipelineError covers spec.md §9.3's
// per-(key-pattern,channel) loss accounting: a failing pipeline
// increments flush_failed for the channel present in that batch.
func TestFlushCountsFailureOnPipelineError(t *testing.T) {
	w, mock := newMockWriter(t)

	ev := event.AggTrades5sEvent{
		Base: event.Base{Instrument: "ETHUSDT", Channel: event.ChannelAggTrades5s, TsEventNs: 1, TsRecvNs: 2},
	}

	mock.MatchExpectationsInOrder(false)
	mock.Regexp().ExpectHSet(`.*`, `.*`).SetErr(context.DeadlineExceeded)

	if err := w.Enqueue(context.Background(), ev); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	w.Flush(context.Background())

	stats := w.Stats()
	if stats[event.ChannelAggTrades5s].FlushFailed != 1 {
		t.Errorf("want 1 flush_failed for agg_trades_5s, got %+v", stats[event.ChannelAggTrades5s])
	}
}

// TestEnqueueSkipsEventsWithNoCommands covers the diff-orderbook feed:
// only snapshots are cached, so a diff event must not reach the
// pipeline at all (no mock expectations are set; any HSet/XAdd call
// would fail the test).
func TestEnqueueSkipsEventsWithNoCommands(t *testing.T) {
	w, _ := newMockWriter(t)
	ev := event.OrderBookDiffEvent{
		Base: event.Base{Instrument: "BTCUSDT", Channel: event.ChannelOBDiff, TsEventNs: 1, TsRecvNs: 2},
		Bids: map[string]money.Decimal{"100": dec("1")},
	}
	if err := w.Enqueue(context.Background(), ev); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	w.Flush(context.Background())
	if stats := w.Stats(); len(stats) != 0 {
		t.Fatalf("want no flush activity for a diff event, got %+v", stats)
	}
}
