// Package binance implements the sharded WebSocket fan-out adapter for
// Binance's futures/spot market-data streams, the per-shard reconnect
// loop, wire-frame parsing into canonical events, and the REST
// depth-snapshot fetch used to bootstrap the orderbook diff state
// machine. Grounded on original_source/feeds/exchanges/binance/
// adapter.py for the shard task shape and on
// original_source/feeds/exchanges/binance/capabilities.py for stream
// naming, with the legacy original_source/binance_collector.py's
// LocalOrderbook supplying the sequence-gap arithmetic the modular
// rewrite dropped (see internal/aggregate).
package binance

import "feedline/internal/event"

// MaxStreamsPerConn is the per-channel shard size ceiling (spec.md
// §4.1): a shard with N symbols on one channel opens one connection
// subscribing to N streams of that channel type.
func MaxStreamsPerConn(ch event.Channel) int {
	switch ch {
	case event.ChannelTrades:
		return 50
	case event.ChannelMarkPrice, event.ChannelFunding:
		return 100
	case event.ChannelKlines:
		return 200
	default:
		return 50
	}
}

// Shard is one WebSocket connection's share of symbols for a single
// channel.
type Shard struct {
	Channel  event.Channel
	Interval string // kline interval, only meaningful when Channel == ChannelKlines
	Symbols  []string
}

// PlanShards partitions symbols into shards of at most
// MaxStreamsPerConn(channel) symbols each, in input order, so that the
// symbol-to-shard mapping is static for the run (spec.md §5 ordering
// rule: "events for one instrument always pass through one shard").
func PlanShards(channel event.Channel, interval string, symbols []string) []Shard {
	limit := MaxStreamsPerConn(channel)
	if limit <= 0 {
		limit = 50
	}
	var shards []Shard
	for i := 0; i < len(symbols); i += limit {
		end := i + limit
		if end > len(symbols) {
			end = len(symbols)
		}
		shards = append(shards, Shard{
			Channel:  channel,
			Interval: interval,
			Symbols:  symbols[i:end],
		})
	}
	return shards
}
