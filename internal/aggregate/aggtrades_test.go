package aggregate

import (
	"testing"

	"feedline/internal/event"
	"feedline/internal/money"
)

func trade(tsEventNs int64, price, qty string, side event.Side) event.TradeEvent {
	return event.TradeEvent{
		Base:         event.Base{Instrument: "BTCUSDT", Channel: event.ChannelTrades, TsEventNs: tsEventNs},
		Price:        money.MustParse(price),
		Qty:          money.MustParse(qty),
		Side:         side,
		HasAggressor: true,
		IsAggressor:  true,
	}
}

// S1 — 5s aggregation, single symbol, three trades landing in the same
// window.
func TestAggregatesThreeTradesInOneWindow(t *testing.T) {
	a := NewTradeAggregator("BTCUSDT")
	windowStart := int64(1_700_000_000) * 1_000_000_000

	if _, did, _ := a.AddTrade(trade(windowStart+1_000_000, "100", "2", event.SideBuy)); did {
		t.Fatalf("unexpected emit on first trade")
	}
	if _, did, _ := a.AddTrade(trade(windowStart+2_000_000_000, "110", "2", event.SideBuy)); did {
		t.Fatalf("unexpected emit on second trade")
	}
	if _, did, _ := a.AddTrade(trade(windowStart+4_000_000_000, "90", "2", event.SideSell)); did {
		t.Fatalf("unexpected emit on third trade")
	}

	emitted, did := a.CloseIfIdle(windowStart + 5_000_000_000 + 2_000_000_000)
	if !did {
		t.Fatalf("expected idle-close emit past grace period")
	}

	if emitted.WindowStartNs != windowStart {
		t.Fatalf("window_start_ns = %d, want %d", emitted.WindowStartNs, windowStart)
	}
	if emitted.Open.String() != "100" || emitted.High.String() != "110" ||
		emitted.Low.String() != "90" || emitted.Close.String() != "90" {
		t.Fatalf("ohlc = %s/%s/%s/%s, want 100/110/90/90",
			emitted.Open, emitted.High, emitted.Low, emitted.Close)
	}
	if emitted.Volume.String() != "6" {
		t.Fatalf("volume = %s, want 6", emitted.Volume)
	}
	if emitted.TradeCount != 3 {
		t.Fatalf("trade_count = %d, want 3", emitted.TradeCount)
	}
	if emitted.BuyQty.String() != "4" {
		t.Fatalf("buy_qty = %s, want 4", emitted.BuyQty)
	}
	if emitted.SellQty.String() != "2" {
		t.Fatalf("sell_qty = %s, want 2", emitted.SellQty)
	}
}

// S2 — a trade whose event time falls in an already-closed window is
// dropped and counted as lost, not folded into the new window.
func TestLateTradeDroppedAndCounted(t *testing.T) {
	a := NewTradeAggregator("BTCUSDT")
	windowStart := int64(1_700_000_000) * 1_000_000_000

	a.AddTrade(trade(windowStart+1_000_000, "100", "1", event.SideBuy))
	emitted, did, _ := a.AddTrade(trade(windowStart+5_000_000_000+1_000_000, "200", "1", event.SideBuy))
	if !did {
		t.Fatalf("expected window rollover emit when next trade starts a new window")
	}
	if emitted.WindowStartNs != windowStart {
		t.Fatalf("rolled-over emit window_start_ns = %d, want %d", emitted.WindowStartNs, windowStart)
	}

	if a.Lost() != 0 {
		t.Fatalf("lost = %d before any late trade, want 0", a.Lost())
	}

	// This trade's timestamp belongs to the already-closed first window.
	late := trade(windowStart+2_000_000_000, "150", "1", event.SideBuy)
	_, did, dropped := a.AddTrade(late)
	if did {
		t.Fatalf("late trade must not itself trigger an emit")
	}
	if !dropped {
		t.Fatalf("expected late trade to report dropped=true")
	}
	if a.Lost() != 1 {
		t.Fatalf("lost = %d, want 1", a.Lost())
	}
}

func TestWindowStartNsFloorsToFiveSecondGrid(t *testing.T) {
	ws := WindowStartNs(1_700_000_003_200_000_000)
	want := int64(1_700_000_000) * 1_000_000_000
	if ws != want {
		t.Fatalf("WindowStartNs = %d, want %d", ws, want)
	}
}
