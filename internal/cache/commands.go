package cache

import (
	"strconv"

	"feedline/internal/event"
)

// buildCommands translates a canonical event into the Redis command set
// spec.md §4.4's keyspace table and the Python reference's
// _build_*_command functions define. Commands carry ts_event_ns/
// ts_recv_ns on every write per spec.md §4.4.
func buildCommands(ev event.Event, streamMaxLen int64) []command {
	hdr := ev.Header()
	instrument := hdr.Instrument

	base := map[string]any{
		"ts_event_ns": hdr.TsEventNs,
		"ts_recv_ns":  hdr.TsRecvNs,
	}

	switch e := ev.(type) {
	case event.TradeEvent:
		fields := cloneMap(base,
			"px", e.Price.String(),
			"qty", e.Qty.String(),
			"side", string(e.Side),
		)
		if e.HasTradeID {
			fields["trade_id"] = strconv.FormatInt(e.TradeID, 10)
		}
		if e.HasAggressor {
			fields["is_aggressor"] = strconv.FormatBool(e.IsAggressor)
		}
		return []command{{
			kind:   "xadd",
			key:    key("stream", "trades", instrument),
			fields: fields,
			maxLen: streamMaxLen,
		}}

	case event.LiquidationEvent:
		fields := cloneMap(base,
			"side", string(e.Side),
			"px", e.Price.String(),
			"qty", e.Qty.String(),
		)
		if e.HasOrder {
			fields["order_id"] = e.OrderID
		}
		if e.HasReason {
			fields["reason"] = e.Reason
		}
		return []command{{
			kind:   "xadd",
			key:    key("stream", "liquidations", instrument),
			fields: fields,
			maxLen: streamMaxLen,
		}}

	case event.OrderBookDepthEvent:
		hashName := depthHashName(e.Depth)
		if hashName == "" {
			return nil
		}
		fields := cloneMap(base)
		for i := range e.BidPrices {
			fields[indexedField("b", i, "px")] = e.BidPrices[i].String()
			fields[indexedField("b", i, "sz")] = e.BidQtys[i].String()
		}
		for i := range e.AskPrices {
			fields[indexedField("a", i, "px")] = e.AskPrices[i].String()
			fields[indexedField("a", i, "sz")] = e.AskQtys[i].String()
		}
		return []command{{
			kind:   "hset",
			key:    key("last", hashName, instrument),
			fields: fields,
		}}

	case event.MarkPriceEvent:
		fields := cloneMap(base, "mark_px", e.MarkPrice.String())
		if e.HasIndex {
			fields["index_px"] = e.IndexPrice.String()
		}
		return []command{{
			kind:   "hset",
			key:    key("last", "mark", instrument),
			fields: fields,
			ttl:    markPriceTTL,
		}}

	case event.FundingEvent:
		fields := cloneMap(base,
			"funding_rate", e.FundingRate.String(),
			"next_funding_ts_ns", strconv.FormatInt(e.NextFundingTsNs, 10),
		)
		return []command{{
			kind:   "hset",
			key:    key("last", "funding", instrument),
			fields: fields,
		}}

	case event.AggTrades5sEvent:
		fields := cloneMap(base,
			"interval_s", strconv.FormatInt(e.IntervalS, 10),
			"window_start_ns", strconv.FormatInt(e.WindowStartNs, 10),
			"open", e.Open.String(),
			"high", e.High.String(),
			"low", e.Low.String(),
			"close", e.Close.String(),
			"volume", e.Volume.String(),
			"notional", e.Notional.String(),
			"trade_count", strconv.FormatInt(e.TradeCount, 10),
			"buy_qty", e.BuyQty.String(),
			"sell_qty", e.SellQty.String(),
			"buy_notional", e.BuyNotional.String(),
			"sell_notional", e.SellNotional.String(),
			"first_trade_id", strconv.FormatInt(e.FirstTradeID, 10),
			"last_trade_id", strconv.FormatInt(e.LastTradeID, 10),
		)
		return []command{{
			kind:   "hset",
			key:    key("last", "agg_trades_5s", instrument),
			fields: fields,
			ttl:    aggTrades5sTTL,
		}}

	case event.KlineEvent:
		fields := cloneMap(base,
			"interval", e.Interval,
			"open", e.Open.String(),
			"high", e.High.String(),
			"low", e.Low.String(),
			"close", e.Close.String(),
			"volume", e.Volume.String(),
			"quote_volume", e.QuoteVolume.String(),
			"taker_buy_base_volume", e.TakerBuyBaseVolume.String(),
			"taker_buy_quote_volume", e.TakerBuyQuoteVolume.String(),
			"trade_count", strconv.FormatInt(e.TradeCount, 10),
			"is_closed", strconv.FormatBool(e.IsClosed),
		)
		return []command{{
			kind:   "hset",
			key:    key("last", "klines", e.Interval, instrument),
			fields: fields,
			ttl:    klinesTTL,
		}}

	case event.AdvancedMetricsEvent:
		fields := cloneMap(base)
		for name, v := range e.Metrics {
			fields[name] = v.String()
		}
		return []command{{
			kind:   "hset",
			key:    key("last", "adv", instrument),
			fields: fields,
		}}
	}

	return nil
}

func depthHashName(d event.Depth) string {
	switch d {
	case event.Depth1:
		return "l1"
	case event.Depth5:
		return "top5"
	case event.Depth10:
		return "top10"
	case event.Depth20:
		return "top20"
	case event.Depth50:
		return "top50"
	case event.Depth100:
		return "top100"
	default:
		return ""
	}
}

func indexedField(prefix string, i int, suffix string) string {
	return prefix + strconv.Itoa(i+1) + "_" + suffix
}

func cloneMap(base map[string]any, kv ...any) map[string]any {
	out := make(map[string]any, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}
