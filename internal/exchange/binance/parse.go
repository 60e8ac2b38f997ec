package binance

import (
	"encoding/json"
	"fmt"
	"time"

	"feedline/internal/aggregate"
	"feedline/internal/event"
	"feedline/internal/money"
)

// envelope is the combined-stream wrapper every frame arrives in
// (spec.md §6: `{stream, data}`).
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type wireAggTrade struct {
	EventTimeMs int64  `json:"E"`
	Symbol      string `json:"s"`
	TradeID     int64  `json:"a"`
	Price       string `json:"p"`
	Qty         string `json:"q"`
	IsBuyerMM   bool   `json:"m"` // true when the buyer is the market maker, i.e. the aggressor sold
}

type wireBookTicker struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

type wirePartialDepth struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type wireDiffDepth struct {
	EventTimeMs   int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

type wireForceOrder struct {
	EventTimeMs int64 `json:"E"`
	Order       struct {
		Symbol  string `json:"s"`
		Side    string `json:"S"`
		Price   string `json:"p"`
		OrigQty string `json:"q"`
	} `json:"o"`
}

type wireMarkPrice struct {
	EventTimeMs     int64  `json:"E"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	IndexPrice      string `json:"i"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

type wireKline struct {
	EventTimeMs int64  `json:"E"`
	Symbol      string `json:"s"`
	K           struct {
		Interval           string `json:"i"`
		Open               string `json:"o"`
		High               string `json:"h"`
		Low                string `json:"l"`
		Close              string `json:"c"`
		Volume             string `json:"v"`
		QuoteVolume        string `json:"q"`
		TakerBuyBaseVolume string `json:"V"`
		TakerBuyQuoteVolume string `json:"Q"`
		TradeCount         int64  `json:"n"`
		IsClosed           bool   `json:"x"`
	} `json:"k"`
}

// ParseTrade decodes an aggTrade data payload.
func ParseTrade(data []byte, recvNs int64) (event.TradeEvent, error) {
	var w wireAggTrade
	if err := json.Unmarshal(data, &w); err != nil {
		return event.TradeEvent{}, fmt.Errorf("binance: decode aggTrade: %w", err)
	}
	price, err := money.Parse(w.Price)
	if err != nil {
		return event.TradeEvent{}, err
	}
	qty, err := money.Parse(w.Qty)
	if err != nil {
		return event.TradeEvent{}, err
	}
	side := event.SideBuy
	if w.IsBuyerMM {
		side = event.SideSell
	}
	return event.TradeEvent{
		Base: event.Base{
			Instrument: w.Symbol,
			Channel:    event.ChannelTrades,
			TsEventNs:  w.EventTimeMs * 1_000_000,
			TsRecvNs:   recvNs,
		},
		Price:        price,
		Qty:          qty,
		Side:         side,
		TradeID:      w.TradeID,
		HasTradeID:   true,
		IsAggressor:  true,
		HasAggressor: true,
	}, nil
}

// ParseBookTicker decodes a bookTicker payload into a depth=1 snapshot.
// bookTicker carries no event-time field, so recvNs doubles as
// ts_event_ns here (documented: best-effort, not vendor-authoritative).
func ParseBookTicker(symbol string, data []byte, recvNs int64) (event.OrderBookDepthEvent, error) {
	var w wireBookTicker
	if err := json.Unmarshal(data, &w); err != nil {
		return event.OrderBookDepthEvent{}, fmt.Errorf("binance: decode bookTicker: %w", err)
	}
	bidPx, err := money.Parse(w.BidPrice)
	if err != nil {
		return event.OrderBookDepthEvent{}, err
	}
	bidQty, err := money.Parse(w.BidQty)
	if err != nil {
		return event.OrderBookDepthEvent{}, err
	}
	askPx, err := money.Parse(w.AskPrice)
	if err != nil {
		return event.OrderBookDepthEvent{}, err
	}
	askQty, err := money.Parse(w.AskQty)
	if err != nil {
		return event.OrderBookDepthEvent{}, err
	}
	return event.OrderBookDepthEvent{
		Base: event.Base{
			Instrument: symbolOr(w.Symbol, symbol),
			Channel:    event.ChannelL1,
			TsEventNs:  recvNs,
			TsRecvNs:   recvNs,
		},
		Depth:     event.Depth1,
		BidPrices: []money.Decimal{bidPx},
		BidQtys:   []money.Decimal{bidQty},
		AskPrices: []money.Decimal{askPx},
		AskQtys:   []money.Decimal{askQty},
	}, nil
}

// ParsePartialDepth decodes a depth5/depth20 partial-book payload.
func ParsePartialDepth(symbol string, channel event.Channel, depth event.Depth, data []byte, recvNs int64) (event.OrderBookDepthEvent, error) {
	var w wirePartialDepth
	if err := json.Unmarshal(data, &w); err != nil {
		return event.OrderBookDepthEvent{}, fmt.Errorf("binance: decode partial depth: %w", err)
	}
	bidPx, bidQty, err := parseLevels(w.Bids)
	if err != nil {
		return event.OrderBookDepthEvent{}, err
	}
	askPx, askQty, err := parseLevels(w.Asks)
	if err != nil {
		return event.OrderBookDepthEvent{}, err
	}
	return event.OrderBookDepthEvent{
		Base: event.Base{
			Instrument: symbol,
			Channel:    channel,
			TsEventNs:  recvNs,
			TsRecvNs:   recvNs,
		},
		Depth:     depth,
		BidPrices: bidPx,
		BidQtys:   bidQty,
		AskPrices: askPx,
		AskQtys:   askQty,
	}, nil
}

// ParseDiff decodes a depthUpdate frame into a canonical diff event.
func ParseDiff(data []byte, recvNs int64) (event.OrderBookDiffEvent, error) {
	var w wireDiffDepth
	if err := json.Unmarshal(data, &w); err != nil {
		return event.OrderBookDiffEvent{}, fmt.Errorf("binance: decode depthUpdate: %w", err)
	}
	bids, err := levelMap(w.Bids)
	if err != nil {
		return event.OrderBookDiffEvent{}, err
	}
	asks, err := levelMap(w.Asks)
	if err != nil {
		return event.OrderBookDiffEvent{}, err
	}
	return event.OrderBookDiffEvent{
		Base: event.Base{
			Instrument: w.Symbol,
			Channel:    event.ChannelOBDiff,
			TsEventNs:  w.EventTimeMs * 1_000_000,
			TsRecvNs:   recvNs,
		},
		Sequence:     w.FinalUpdateID,
		PrevSequence: w.FirstUpdateID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

// ParseLiquidation decodes a forceOrder frame.
func ParseLiquidation(data []byte, recvNs int64) (event.LiquidationEvent, error) {
	var w wireForceOrder
	if err := json.Unmarshal(data, &w); err != nil {
		return event.LiquidationEvent{}, fmt.Errorf("binance: decode forceOrder: %w", err)
	}
	price, err := money.Parse(w.Order.Price)
	if err != nil {
		return event.LiquidationEvent{}, err
	}
	qty, err := money.Parse(w.Order.OrigQty)
	if err != nil {
		return event.LiquidationEvent{}, err
	}
	side := event.SideBuy
	if w.Order.Side == "SELL" {
		side = event.SideSell
	}
	return event.LiquidationEvent{
		Base: event.Base{
			Instrument: w.Order.Symbol,
			Channel:    event.ChannelLiquidations,
			TsEventNs:  w.EventTimeMs * 1_000_000,
			TsRecvNs:   recvNs,
		},
		Side:  side,
		Price: price,
		Qty:   qty,
	}, nil
}

// ParseMarkFunding decodes a markPrice@1s frame into the combiner input
// (internal/aggregate.SplitMarkFunding produces the two canonical
// events).
func ParseMarkFunding(data []byte, recvNs int64) (aggregate.MarkFundingFrame, error) {
	var w wireMarkPrice
	if err := json.Unmarshal(data, &w); err != nil {
		return aggregate.MarkFundingFrame{}, fmt.Errorf("binance: decode markPriceUpdate: %w", err)
	}
	mark, err := money.Parse(w.MarkPrice)
	if err != nil {
		return aggregate.MarkFundingFrame{}, err
	}
	hasIndex := w.IndexPrice != ""
	var index money.Decimal
	if hasIndex {
		index, err = money.Parse(w.IndexPrice)
		if err != nil {
			return aggregate.MarkFundingFrame{}, err
		}
	}
	rate, err := money.Parse(w.FundingRate)
	if err != nil {
		return aggregate.MarkFundingFrame{}, err
	}
	return aggregate.MarkFundingFrame{
		Instrument: w.Symbol,
		// Preserved legacy behavior (SPEC_FULL.md §9 Open Question 1,
		// event.MarkPriceEvent doc comment): the millisecond value is
		// NOT multiplied by 1e6 for this channel.
		TsEventNs:       w.EventTimeMs,
		TsRecvNs:        recvNs,
		MarkPrice:       mark,
		IndexPrice:      index,
		HasIndex:        hasIndex,
		FundingRate:     rate,
		NextFundingTsNs: w.NextFundingTime * 1_000_000,
	}, nil
}

// ParseKline decodes a kline_<interval> frame.
func ParseKline(data []byte, recvNs int64) (event.KlineEvent, error) {
	var w wireKline
	if err := json.Unmarshal(data, &w); err != nil {
		return event.KlineEvent{}, fmt.Errorf("binance: decode kline: %w", err)
	}
	open, err := money.Parse(w.K.Open)
	if err != nil {
		return event.KlineEvent{}, err
	}
	high, err := money.Parse(w.K.High)
	if err != nil {
		return event.KlineEvent{}, err
	}
	low, err := money.Parse(w.K.Low)
	if err != nil {
		return event.KlineEvent{}, err
	}
	close, err := money.Parse(w.K.Close)
	if err != nil {
		return event.KlineEvent{}, err
	}
	volume, err := money.Parse(w.K.Volume)
	if err != nil {
		return event.KlineEvent{}, err
	}
	quoteVolume, err := money.Parse(w.K.QuoteVolume)
	if err != nil {
		return event.KlineEvent{}, err
	}
	takerBase, err := money.Parse(w.K.TakerBuyBaseVolume)
	if err != nil {
		return event.KlineEvent{}, err
	}
	takerQuote, err := money.Parse(w.K.TakerBuyQuoteVolume)
	if err != nil {
		return event.KlineEvent{}, err
	}
	return event.KlineEvent{
		Base: event.Base{
			Instrument: w.Symbol,
			Channel:    event.ChannelKlines,
			TsEventNs:  w.EventTimeMs * 1_000_000,
			TsRecvNs:   recvNs,
		},
		Interval:            w.K.Interval,
		Open:                open,
		High:                high,
		Low:                 low,
		Close:               close,
		Volume:              volume,
		QuoteVolume:         quoteVolume,
		TakerBuyBaseVolume:  takerBase,
		TakerBuyQuoteVolume: takerQuote,
		TradeCount:          w.K.TradeCount,
		IsClosed:            w.K.IsClosed,
	}, nil
}

func parseLevels(raw [][]string) ([]money.Decimal, []money.Decimal, error) {
	prices := make([]money.Decimal, 0, len(raw))
	qtys := make([]money.Decimal, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) != 2 {
			return nil, nil, fmt.Errorf("binance: malformed level %v", lvl)
		}
		p, err := money.Parse(lvl[0])
		if err != nil {
			return nil, nil, err
		}
		q, err := money.Parse(lvl[1])
		if err != nil {
			return nil, nil, err
		}
		prices = append(prices, p)
		qtys = append(qtys, q)
	}
	return prices, qtys, nil
}

func levelMap(raw [][]string) (map[string]money.Decimal, error) {
	out := make(map[string]money.Decimal, len(raw))
	for _, lvl := range raw {
		if len(lvl) != 2 {
			return nil, fmt.Errorf("binance: malformed level %v", lvl)
		}
		q, err := money.Parse(lvl[1])
		if err != nil {
			return nil, err
		}
		out[lvl[0]] = q
	}
	return out, nil
}

func symbolOr(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}

// nowNs is the receive-timestamp source used by the adapter.
func nowNs() int64 { return time.Now().UnixNano() }
