package aggregate

import (
	"feedline/internal/event"
	"feedline/internal/money"
)

// MarkFundingFrame is the decimal-parsed shape of a single
// `<symbol>@markPrice@1s` wire frame, which the adapter splits into a
// MarkPriceEvent and a FundingEvent (spec.md §4.1: "mark_price,
// funding ... single stream, two events").
type MarkFundingFrame struct {
	Instrument      string
	TsEventNs       int64
	TsRecvNs        int64
	MarkPrice       money.Decimal
	IndexPrice      money.Decimal
	HasIndex        bool
	FundingRate     money.Decimal
	NextFundingTsNs int64
}

// SplitMarkFunding produces the two canonical events carried by one
// markPrice@1s frame. Grounded on original_source's combined
// mark-price/funding handler, which emits both records from the same
// decoded payload rather than treating them as independent streams.
func SplitMarkFunding(f MarkFundingFrame) (event.MarkPriceEvent, event.FundingEvent) {
	base := event.Base{
		Instrument: f.Instrument,
		Channel:    event.ChannelMarkPrice,
		TsEventNs:  f.TsEventNs,
		TsRecvNs:   f.TsRecvNs,
	}

	mark := event.MarkPriceEvent{
		Base:       base,
		MarkPrice:  f.MarkPrice,
		IndexPrice: f.IndexPrice,
		HasIndex:   f.HasIndex,
	}

	fundingBase := base
	fundingBase.Channel = event.ChannelFunding
	// Only mark_price keeps the raw millisecond value; funding carries
	// true nanoseconds.
	fundingBase.TsEventNs = f.TsEventNs * 1_000_000

	funding := event.FundingEvent{
		Base:            fundingBase,
		FundingRate:     f.FundingRate,
		NextFundingTsNs: f.NextFundingTsNs,
	}

	return mark, funding
}
