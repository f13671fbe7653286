package backtest

import (
	"context"
	"fmt"
	"time"

	"hl-pairs-bot/internal/market"
)

// BarWriter persists one joint bar record, replacing any existing
// record at the same timestamp.
type BarWriter interface {
	SaveBar(ctx context.Context, record market.BarRecord) error
}

// Backfill fetches candle history for both legs over [start, end] and
// upserts the joint records into the bar store. Timestamps present for
// only one leg are skipped; the pair pipeline needs both prices. The
// number of records written is returned.
func Backfill(ctx context.Context, store BarWriter, source market.PriceSource, legA, legB string, start, end time.Time) (int, error) {
	if end.Before(start) {
		return 0, fmt.Errorf("%w: end %s before start %s", market.ErrInvalidTimeRange,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	barsA, err := source.FetchHistory(ctx, legA, start, end)
	if err != nil {
		return 0, fmt.Errorf("fetch %s history: %w", legA, err)
	}
	barsB, err := source.FetchHistory(ctx, legB, start, end)
	if err != nil {
		return 0, fmt.Errorf("fetch %s history: %w", legB, err)
	}
	byTime := make(map[int64]market.PriceBar, len(barsB))
	for _, bar := range barsB {
		byTime[bar.Timestamp.UTC().Unix()] = bar
	}
	written := 0
	for _, barA := range barsA {
		barB, ok := byTime[barA.Timestamp.UTC().Unix()]
		if !ok {
			continue
		}
		record := market.BarRecord{
			Timestamp: barA.Timestamp.UTC(),
			MidA:      barA.Mid,
			MarkA:     barA.Mark,
			CloseA:    barA.Close,
			MidB:      barB.Mid,
			MarkB:     barB.Mark,
			CloseB:    barB.Close,
		}
		if err := store.SaveBar(ctx, record); err != nil {
			return written, fmt.Errorf("save bar at %s: %w", record.Timestamp.Format(time.RFC3339), err)
		}
		written++
	}
	return written, nil
}
