package binance

import (
	"testing"

	"feedline/internal/event"
)

func TestParseTradeDecodesDecimalsAsStrings(t *testing.T) {
	raw := []byte(`{"E":1700000000123,"s":"BTCUSDT","a":42,"p":"50000.10","q":"0.001","m":false}`)
	trade, err := ParseTrade(raw, 999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade.Price.String() != "50000.10" {
		t.Fatalf("price = %s, want exact round-trip 50000.10", trade.Price)
	}
	if trade.Qty.String() != "0.001" {
		t.Fatalf("qty = %s, want 0.001", trade.Qty)
	}
	if trade.Side != event.SideBuy {
		t.Fatalf("side = %s, want BUY when m=false (buyer is not the market maker)", trade.Side)
	}
	if trade.Base.TsEventNs != 1700000000123*1_000_000 {
		t.Fatalf("ts_event_ns = %d, want ms*1e6", trade.Base.TsEventNs)
	}
	if trade.Base.TsRecvNs != 999 {
		t.Fatalf("ts_recv_ns = %d, want 999", trade.Base.TsRecvNs)
	}
}

func TestParseDiffCarriesSequenceFields(t *testing.T) {
	raw := []byte(`{"E":1700000000000,"s":"BTCUSDT","U":100,"u":105,"b":[["99","1"]],"a":[["101","0"]]}`)
	diff, err := ParseDiff(raw, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff.PrevSequence != 100 || diff.Sequence != 105 {
		t.Fatalf("sequence fields = %d/%d, want 100/105", diff.PrevSequence, diff.Sequence)
	}
	if diff.Bids["99"].String() != "1" {
		t.Fatalf("bid qty = %s, want 1", diff.Bids["99"])
	}
	if diff.Asks["101"].String() != "0" {
		t.Fatalf("ask qty = %s, want 0 (deletion marker)", diff.Asks["101"])
	}
}

func TestParseMarkFundingPreservesLegacyTimestamp(t *testing.T) {
	raw := []byte(`{"E":1700000000000,"s":"BTCUSDT","p":"50000.5","i":"50001.1","r":"0.0001","T":1700003600000}`)
	frame, err := ParseMarkFunding(raw, 55)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.TsEventNs != 1700000000000 {
		t.Fatalf("ts_event_ns = %d, want the raw ms value unmultiplied (legacy behavior)", frame.TsEventNs)
	}
	if frame.MarkPrice.String() != "50000.5" {
		t.Fatalf("mark_price = %s, want 50000.5", frame.MarkPrice)
	}
	if frame.NextFundingTsNs != 1700003600000*1_000_000 {
		t.Fatalf("next_funding_ts_ns = %d, want ms*1e6", frame.NextFundingTsNs)
	}
}
