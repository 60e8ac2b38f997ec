package binance

import (
	"fmt"
	"strings"

	"feedline/internal/event"
)

// MarketType selects the base WebSocket host family (spec.md §4.1).
type MarketType string

const (
	MarketSpot        MarketType = "spot"
	MarketPerpLinear   MarketType = "perp_linear"
	MarketPerpInverse  MarketType = "perp_inverse"
)

// BaseURL returns the wss:// base for the given market type and
// configured hostname (spec.md §4.1: the wire shape is vendor-fixed,
// the hostname is configuration-supplied).
func BaseURL(market MarketType, host string) string {
	switch market {
	case MarketPerpLinear:
		return fmt.Sprintf("wss://fstream.%s", host)
	case MarketPerpInverse:
		return fmt.Sprintf("wss://dstream.%s", host)
	default:
		return fmt.Sprintf("wss://stream.%s:9443", host)
	}
}

// StreamName builds the vendor per-symbol stream name for one channel
// (spec.md §4.1's table). interval is only used for klines.
func StreamName(channel event.Channel, symbol, interval string) string {
	s := strings.ToLower(symbol)
	switch channel {
	case event.ChannelTrades:
		return s + "@aggTrade"
	case event.ChannelL1:
		return s + "@bookTicker"
	case event.ChannelOBTop5:
		return s + "@depth5@100ms"
	case event.ChannelOBTop20:
		return s + "@depth20@100ms"
	case event.ChannelOBDiff:
		return s + "@depth@100ms"
	case event.ChannelLiquidations:
		return s + "@forceOrder"
	case event.ChannelMarkPrice, event.ChannelFunding:
		return s + "@markPrice@1s"
	case event.ChannelKlines:
		return s + "@kline_" + interval
	default:
		return ""
	}
}

// CombinedStreamURL builds the `wss://<host>/stream?streams=a/b/c`
// combined-stream URL for a shard's symbol set (spec.md §6).
func CombinedStreamURL(base string, channel event.Channel, interval string, symbols []string) string {
	names := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		names = append(names, StreamName(channel, sym, interval))
	}
	return base + "/stream?streams=" + strings.Join(names, "/")
}
