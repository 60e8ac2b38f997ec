package columnar

import (
	"strconv"

	"feedline/internal/event"
)

// eventToRows converts a canonical event into its table row(s). Most
// events produce exactly one row in one table; this returns a map so
// the shape generalizes cleanly if a future channel fans out into more
// than one table (per SPEC_FULL.md §9.3's "one event may emit two rows
// across tables" note — none of the current channels do, but the loss
// counters are already computed per (table, channel) in Stats() to
// accommodate that without a rewrite).
//
// Table/column names are restated from spec.md §6 verbatim.
func eventToRows(ev event.Event) map[string]map[string]any {
	hdr := ev.Header()
	common := map[string]any{
		"instrument":   hdr.Instrument,
		"ts_event_ns":  hdr.TsEventNs,
		"ts_recv_ns":   hdr.TsRecvNs,
	}

	switch e := ev.(type) {
	case event.TradeEvent:
		row := cloneWith(common,
			"price", e.Price,
			"qty", e.Qty,
			"side", string(e.Side),
		)
		if e.HasTradeID {
			row["trade_id"] = e.TradeID
		}
		return map[string]map[string]any{"trades": row}

	case event.AggTrades5sEvent:
		row := cloneWith(common,
			"window_start_ns", e.WindowStartNs,
			"interval_s", e.IntervalS,
			"open", e.Open,
			"high", e.High,
			"low", e.Low,
			"close", e.Close,
			"volume", e.Volume,
			"notional", e.Notional,
			"trade_count", e.TradeCount,
			"buy_qty", e.BuyQty,
			"sell_qty", e.SellQty,
			"buy_notional", e.BuyNotional,
			"sell_notional", e.SellNotional,
			"first_trade_id", e.FirstTradeID,
			"last_trade_id", e.LastTradeID,
		)
		return map[string]map[string]any{"agg_trades_5s": row}

	case event.LiquidationEvent:
		row := cloneWith(common,
			"side", string(e.Side),
			"price", e.Price,
			"qty", e.Qty,
		)
		if e.HasOrder {
			row["order_id"] = e.OrderID
		}
		if e.HasReason {
			row["reason"] = e.Reason
		}
		return map[string]map[string]any{"liquidations": row}

	case event.MarkPriceEvent:
		row := cloneWith(common, "mark_price", e.MarkPrice)
		if e.HasIndex {
			row["index_price"] = e.IndexPrice
		}
		return map[string]map[string]any{"mark_price": row}

	case event.FundingEvent:
		row := cloneWith(common,
			"funding_rate", e.FundingRate,
			"next_funding_ts_ns", e.NextFundingTsNs,
		)
		return map[string]map[string]any{"funding": row}

	case event.KlineEvent:
		row := cloneWith(common,
			"interval", e.Interval,
			"open", e.Open,
			"high", e.High,
			"low", e.Low,
			"close", e.Close,
			"volume", e.Volume,
			"quote_volume", e.QuoteVolume,
			"taker_buy_base_volume", e.TakerBuyBaseVolume,
			"taker_buy_quote_volume", e.TakerBuyQuoteVolume,
			"trade_count", e.TradeCount,
			"is_closed", e.IsClosed,
		)
		return map[string]map[string]any{"klines": row}

	case event.OrderBookDepthEvent:
		table := depthTable(e.Depth)
		row := cloneWith(common, "depth", int(e.Depth))
		for i, p := range e.BidPrices {
			row[bidKey(i, "px")] = p
		}
		for i, q := range e.BidQtys {
			row[bidKey(i, "sz")] = q
		}
		for i, p := range e.AskPrices {
			row[askKey(i, "px")] = p
		}
		for i, q := range e.AskQtys {
			row[askKey(i, "sz")] = q
		}
		return map[string]map[string]any{table: row}

	case event.OrderBookDiffEvent:
		row := cloneWith(common,
			"sequence", e.Sequence,
			"prev_sequence", e.PrevSequence,
			"bid_count", len(e.Bids),
			"ask_count", len(e.Asks),
		)
		return map[string]map[string]any{"order_book_diffs": row}

	case event.AdvancedMetricsEvent:
		row := cloneWith(common)
		for name, v := range e.Metrics {
			row[name] = v
		}
		return map[string]map[string]any{"advanced_metrics": row}
	}

	return nil
}

func depthTable(d event.Depth) string {
	switch d {
	case event.Depth1:
		return "l1"
	case event.Depth5:
		return "ob_top5"
	case event.Depth20:
		return "ob_top20"
	default:
		return "order_book_depth"
	}
}

func bidKey(i int, suffix string) string {
	return indexedKey("b", i, suffix)
}

func askKey(i int, suffix string) string {
	return indexedKey("a", i, suffix)
}

func indexedKey(prefix string, i int, suffix string) string {
	return prefix + strconv.Itoa(i+1) + "_" + suffix
}

func cloneWith(base map[string]any, kv ...any) map[string]any {
	out := make(map[string]any, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}
