package cache

import (
	"testing"

	"feedline/internal/event"
	"feedline/internal/money"
)

func TestBuildCommandsMarkPriceTTL(t *testing.T) {
	ev := event.MarkPriceEvent{
		Base:      event.Base{Instrument: "BTCUSDT", Channel: event.ChannelMarkPrice, TsEventNs: 1, TsRecvNs: 2},
		MarkPrice: money.MustParse("50000.10"),
	}
	cmds := buildCommands(ev, 1000)
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command, got %d", len(cmds))
	}
	c := cmds[0]
	if c.kind != "hset" {
		t.Fatalf("kind = %s, want hset", c.kind)
	}
	if c.key != "marketdata:last:mark:BTCUSDT" {
		t.Fatalf("key = %s, want marketdata:last:mark:BTCUSDT", c.key)
	}
	if c.ttl != markPriceTTL {
		t.Fatalf("ttl = %v, want %v", c.ttl, markPriceTTL)
	}
	if c.fields["mark_px"] != "50000.10" {
		t.Fatalf("mark_px field = %v, want exact round-trip 50000.10", c.fields["mark_px"])
	}
}

func TestBuildCommandsTradeStream(t *testing.T) {
	ev := event.TradeEvent{
		Base:       event.Base{Instrument: "ETHUSDT", Channel: event.ChannelTrades, TsEventNs: 1, TsRecvNs: 2},
		Price:      money.MustParse("3000"),
		Qty:        money.MustParse("0.5"),
		Side:       event.SideSell,
		TradeID:    42,
		HasTradeID: true,
	}
	cmds := buildCommands(ev, 1000)
	if len(cmds) != 1 || cmds[0].kind != "xadd" {
		t.Fatalf("expected one xadd command, got %+v", cmds)
	}
	if cmds[0].key != "marketdata:stream:trades:ETHUSDT" {
		t.Fatalf("key = %s", cmds[0].key)
	}
	if cmds[0].maxLen != 1000 {
		t.Fatalf("maxLen = %d, want 1000", cmds[0].maxLen)
	}
}

func TestBuildCommandsKlineKeyAndTTL(t *testing.T) {
	ev := event.KlineEvent{
		Base:     event.Base{Instrument: "BTCUSDT", Channel: event.ChannelKlines, TsEventNs: 1, TsRecvNs: 2},
		Interval: "1m",
		Open:     money.MustParse("1"),
		High:     money.MustParse("1"),
		Low:      money.MustParse("1"),
		Close:    money.MustParse("1"),
		Volume:   money.MustParse("1"),
	}
	cmds := buildCommands(ev, 1000)
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command")
	}
	if cmds[0].key != "marketdata:last:klines:1m:BTCUSDT" {
		t.Fatalf("key = %s", cmds[0].key)
	}
	if cmds[0].ttl != klinesTTL {
		t.Fatalf("ttl = %v, want %v", cmds[0].ttl, klinesTTL)
	}
}

func TestDepthHashKeyByLevel(t *testing.T) {
	ev := event.OrderBookDepthEvent{
		Base:      event.Base{Instrument: "BTCUSDT", Channel: event.ChannelL1, TsEventNs: 1, TsRecvNs: 2},
		Depth:     event.Depth1,
		BidPrices: []money.Decimal{money.MustParse("100")},
		BidQtys:   []money.Decimal{money.MustParse("1")},
		AskPrices: []money.Decimal{money.MustParse("101")},
		AskQtys:   []money.Decimal{money.MustParse("2")},
	}
	cmds := buildCommands(ev, 1000)
	if cmds[0].key != "marketdata:last:l1:BTCUSDT" {
		t.Fatalf("key = %s, want marketdata:last:l1:BTCUSDT", cmds[0].key)
	}
	if cmds[0].fields["b1_px"] != "100" || cmds[0].fields["a1_sz"] != "2" {
		t.Fatalf("fields = %+v", cmds[0].fields)
	}
}
