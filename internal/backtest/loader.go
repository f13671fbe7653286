package backtest

import (
	"context"
	"fmt"
	"time"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/market"
	"hl-pairs-bot/internal/strategy"
)

// BarStore reads persisted pair bars in ascending timestamp order.
type BarStore interface {
	LoadBarRange(ctx context.Context, start, end time.Time) ([]market.BarRecord, error)
}

// LoadBars reads bars covering [start, end] from the store and resolves
// prices with the configured field preference. Incomplete coverage of
// the requested range is an error rather than a silent truncation.
func LoadBars(ctx context.Context, store BarStore, cfg *config.Config, start, end time.Time) ([]strategy.Bar, error) {
	start = market.AlignBarClose(start, cfg.Runtime.Interval)
	end = market.AlignBarClose(end, cfg.Runtime.Interval)
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", market.ErrInvalidTimeRange, end, start)
	}
	records, err := store.LoadBarRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 || records[0].Timestamp.After(start) || records[len(records)-1].Timestamp.Before(end) {
		return nil, fmt.Errorf("%w: requested %s..%s", market.ErrInsufficientPairs, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return RecordsToBars(records, cfg.Data.PriceField)
}

// RecordsToBars converts stored records to run input. A record missing a
// resolvable price on either leg is an error.
func RecordsToBars(records []market.BarRecord, field config.PriceField) ([]strategy.Bar, error) {
	bars := make([]strategy.Bar, 0, len(records))
	for _, record := range records {
		priceA := record.EffectiveA(field)
		if priceA == nil {
			return nil, fmt.Errorf("%w: leg A at %s", market.ErrMissingPrice, record.Timestamp.Format(time.RFC3339))
		}
		priceB := record.EffectiveB(field)
		if priceB == nil {
			return nil, fmt.Errorf("%w: leg B at %s", market.ErrMissingPrice, record.Timestamp.Format(time.RFC3339))
		}
		interval := 8
		if record.FundingIntervalHours != nil && *record.FundingIntervalHours > 0 {
			interval = int(*record.FundingIntervalHours)
		}
		bars = append(bars, strategy.Bar{
			Timestamp:            record.Timestamp,
			PriceA:               *priceA,
			PriceB:               *priceB,
			FundingA:             record.FundingA,
			FundingB:             record.FundingB,
			FundingIntervalHours: interval,
		})
	}
	return bars, nil
}
