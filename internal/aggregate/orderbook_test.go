package aggregate

import (
	"testing"
	"time"

	"feedline/internal/event"
	"feedline/internal/money"
)

func diffEvent(prevSeq, seq int64) event.OrderBookDiffEvent {
	return event.OrderBookDiffEvent{
		Base:         event.Base{Instrument: "BTCUSDT", Channel: event.ChannelOBDiff},
		PrevSequence: prevSeq,
		Sequence:     seq,
		Bids:         map[string]money.Decimal{"100": money.MustParse("1")},
		Asks:         map[string]money.Decimal{"101": money.MustParse("1")},
	}
}

// S3 — orderbook gap triggers resync.
func TestGapTriggersResync(t *testing.T) {
	b := NewOrderBook("BTCUSDT")
	b.IntegrateSnapshot(1000, map[string]money.Decimal{"99": money.MustParse("1")}, map[string]money.Decimal{"102": money.MustParse("1")})
	if b.State != Synced {
		t.Fatalf("state = %v, want SYNCED", b.State)
	}

	outcome := b.ApplyDiff(diffEvent(1005, 1010))
	if outcome != OutcomeGapResync {
		t.Fatalf("outcome = %v, want OutcomeGapResync", outcome)
	}
	if b.State != Resyncing {
		t.Fatalf("state = %v, want RESYNCING", b.State)
	}
	if len(b.bids) != 0 || len(b.asks) != 0 {
		t.Fatalf("expected book cleared on resync, got bids=%v asks=%v", b.bids, b.asks)
	}
}

func TestStaleDiffDropped(t *testing.T) {
	b := NewOrderBook("BTCUSDT")
	b.IntegrateSnapshot(1000, map[string]money.Decimal{}, map[string]money.Decimal{})

	outcome := b.ApplyDiff(diffEvent(999, 999))
	if outcome != OutcomeStaleDropped {
		t.Fatalf("outcome = %v, want OutcomeStaleDropped", outcome)
	}
	if b.lastU != 1000 {
		t.Fatalf("lastU mutated on stale drop: %d", b.lastU)
	}
}

func TestBootstrapBuffersUntilSnapshot(t *testing.T) {
	b := NewOrderBook("BTCUSDT")
	if b.ApplyDiff(diffEvent(1, 2)) != OutcomeBuffered {
		t.Fatalf("expected buffered outcome while UNINIT")
	}
	if b.State != Bootstrapping {
		t.Fatalf("state = %v, want BOOTSTRAPPING", b.State)
	}

	b.IntegrateSnapshot(1, map[string]money.Decimal{"99": money.MustParse("1")}, map[string]money.Decimal{"103": money.MustParse("1")})
	if b.State != Synced {
		t.Fatalf("state = %v, want SYNCED after snapshot integration", b.State)
	}
	if b.lastU != 2 {
		t.Fatalf("lastU = %d, want 2 (buffered diff replayed)", b.lastU)
	}
}

func TestNeedsSnapshotCooldown(t *testing.T) {
	b := NewOrderBook("BTCUSDT")
	now := time.Now()
	if !b.NeedsSnapshot(now) {
		t.Fatalf("expected snapshot needed on fresh UNINIT book")
	}
	b.MarkSnapshotRequested(now)
	if b.NeedsSnapshot(now.Add(10 * time.Second)) {
		t.Fatalf("expected cooldown to block snapshot request within 30s")
	}
}

func TestL1DerivesBestLevels(t *testing.T) {
	b := NewOrderBook("BTCUSDT")
	b.IntegrateSnapshot(1, map[string]money.Decimal{"99": money.MustParse("1"), "98": money.MustParse("2")},
		map[string]money.Decimal{"101": money.MustParse("3"), "102": money.MustParse("4")})

	bestBid, bidQty, bestAsk, askQty, crossed, ok := b.L1()
	if !ok {
		t.Fatalf("expected L1 ok")
	}
	if bestBid.String() != "99" || bidQty.String() != "1" {
		t.Fatalf("best bid = %s/%s, want 99/1", bestBid, bidQty)
	}
	if bestAsk.String() != "101" || askQty.String() != "3" {
		t.Fatalf("best ask = %s/%s, want 101/3", bestAsk, askQty)
	}
	if crossed {
		t.Fatalf("book should not be crossed")
	}
}
