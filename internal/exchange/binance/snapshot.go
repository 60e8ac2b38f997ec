package binance

import (
	"context"
	"fmt"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"

	"feedline/internal/money"
)

// snapshotTimeout, snapshotAttempts implement spec.md §5's REST
// snapshot policy: "5s, 3 attempts, with per-symbol cooldown >= 30s".
// The cooldown itself lives in internal/aggregate.OrderBook.
const (
	snapshotTimeout  = 5 * time.Second
	snapshotAttempts = 3
)

// SnapshotFetcher wraps go-binance/v2's futures depth-snapshot REST
// client (SPEC_FULL.md §4.1 supplemental dependency wiring) with the
// spec's timeout/attempt policy.
type SnapshotFetcher struct {
	client *futures.Client
	limit  int
}

// NewSnapshotFetcher builds a fetcher against host, with limit book
// levels per snapshot (Binance's depth endpoint accepts 5/10/20/50/100/
// 500/1000).
func NewSnapshotFetcher(host string, limit int) *SnapshotFetcher {
	client := futures.NewClient("", "")
	client.BaseURL = fmt.Sprintf("https://fapi.%s", host)
	if limit <= 0 {
		limit = 1000
	}
	return &SnapshotFetcher{client: client, limit: limit}
}

// Fetch retrieves the current depth snapshot for symbol, retrying up
// to snapshotAttempts times with the shared backoff schedule, each
// attempt bounded by snapshotTimeout.
func (f *SnapshotFetcher) Fetch(ctx context.Context, symbol string) (lastUpdateID int64, bids, asks map[string]money.Decimal, err error) {
	var lastErr error
	for attempt := 0; attempt < snapshotAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, nil, nil, ctx.Err()
			case <-time.After(backoffSchedule(attempt)):
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
		resp, doErr := f.client.NewDepthService().Symbol(symbol).Limit(f.limit).Do(reqCtx)
		cancel()
		if doErr != nil {
			lastErr = doErr
			continue
		}

		bids, err = bidsToMap(resp.Bids)
		if err != nil {
			return 0, nil, nil, err
		}
		asks, err = asksToMap(resp.Asks)
		if err != nil {
			return 0, nil, nil, err
		}
		return resp.LastUpdateID, bids, asks, nil
	}
	return 0, nil, nil, fmt.Errorf("binance: snapshot fetch %s failed after %d attempts: %w", symbol, snapshotAttempts, lastErr)
}

func backoffSchedule(attempt int) time.Duration {
	schedule := []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond}
	if attempt-1 < len(schedule) {
		return schedule[attempt-1]
	}
	return schedule[len(schedule)-1]
}

func bidsToMap(levels []futures.Bid) (map[string]money.Decimal, error) {
	out := make(map[string]money.Decimal, len(levels))
	for _, lvl := range levels {
		q, err := money.Parse(lvl.Quantity)
		if err != nil {
			return nil, err
		}
		out[lvl.Price] = q
	}
	return out, nil
}

func asksToMap(levels []futures.Ask) (map[string]money.Decimal, error) {
	out := make(map[string]money.Decimal, len(levels))
	for _, lvl := range levels {
		q, err := money.Parse(lvl.Quantity)
		if err != nil {
			return nil, err
		}
		out[lvl.Price] = q
	}
	return out, nil
}
