package binance

import (
	"testing"

	"feedline/internal/event"
)

func TestPlanShardsRespectsPerChannelLimit(t *testing.T) {
	symbols := make([]string, 120)
	for i := range symbols {
		symbols[i] = "SYM"
	}
	shards := PlanShards(event.ChannelTrades, "", symbols)
	if len(shards) != 3 {
		t.Fatalf("shards = %d, want 3 (120 symbols / 50 per shard)", len(shards))
	}
	if len(shards[0].Symbols) != 50 || len(shards[2].Symbols) != 20 {
		t.Fatalf("unexpected shard sizes: %d, %d", len(shards[0].Symbols), len(shards[2].Symbols))
	}
}

func TestMaxStreamsPerConnPolicy(t *testing.T) {
	cases := map[event.Channel]int{
		event.ChannelTrades:    50,
		event.ChannelMarkPrice: 100,
		event.ChannelKlines:    200,
	}
	for ch, want := range cases {
		if got := MaxStreamsPerConn(ch); got != want {
			t.Fatalf("MaxStreamsPerConn(%s) = %d, want %d", ch, got, want)
		}
	}
}

func TestStreamNameTemplates(t *testing.T) {
	cases := []struct {
		ch       event.Channel
		interval string
		want     string
	}{
		{event.ChannelTrades, "", "btcusdt@aggTrade"},
		{event.ChannelL1, "", "btcusdt@bookTicker"},
		{event.ChannelOBTop5, "", "btcusdt@depth5@100ms"},
		{event.ChannelOBDiff, "", "btcusdt@depth@100ms"},
		{event.ChannelMarkPrice, "", "btcusdt@markPrice@1s"},
		{event.ChannelKlines, "1m", "btcusdt@kline_1m"},
	}
	for _, c := range cases {
		got := StreamName(c.ch, "BTCUSDT", c.interval)
		if got != c.want {
			t.Fatalf("StreamName(%s) = %s, want %s", c.ch, got, c.want)
		}
	}
}

func TestCombinedStreamURL(t *testing.T) {
	url := CombinedStreamURL("wss://fstream.example.com", event.ChannelTrades, "", []string{"BTCUSDT", "ETHUSDT"})
	want := "wss://fstream.example.com/stream?streams=btcusdt@aggTrade/ethusdt@aggTrade"
	if url != want {
		t.Fatalf("CombinedStreamURL = %s, want %s", url, want)
	}
}
