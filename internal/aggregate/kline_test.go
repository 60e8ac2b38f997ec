package aggregate

import (
	"testing"

	"feedline/internal/event"
	"feedline/internal/money"
)

func TestKlinePassthroughDropsOpenCandle(t *testing.T) {
	k := NewKlinePassthrough("BTCUSDT")
	open := event.KlineEvent{Base: event.Base{Instrument: "BTCUSDT"}, IsClosed: false}
	if k.Accept(open) {
		t.Fatalf("expected open candle to be rejected")
	}
	if k.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", k.Dropped())
	}

	closed := event.KlineEvent{Base: event.Base{Instrument: "BTCUSDT"}, IsClosed: true}
	if !k.Accept(closed) {
		t.Fatalf("expected closed candle to be accepted")
	}
}

func TestSplitMarkFundingProducesBothEvents(t *testing.T) {
	frame := MarkFundingFrame{
		Instrument:      "BTCUSDT",
		TsEventNs:       1000,
		TsRecvNs:        2000,
		MarkPrice:       money.MustParse("50000.5"),
		IndexPrice:      money.MustParse("50001.1"),
		HasIndex:        true,
		FundingRate:     money.MustParse("0.0001"),
		NextFundingTsNs: 3600_000_000_000,
	}
	mark, funding := SplitMarkFunding(frame)

	if mark.Header().Channel != event.ChannelMarkPrice || mark.MarkPrice.String() != "50000.5" {
		t.Fatalf("mark event wrong: %+v", mark)
	}
	if funding.Header().Channel != event.ChannelFunding || funding.FundingRate.String() != "0.0001" {
		t.Fatalf("funding event wrong: %+v", funding)
	}
	if mark.Header().Instrument != funding.Header().Instrument {
		t.Fatalf("instrument mismatch between split events")
	}
}
