package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/funding"
)

// PriceSource serves closed bars per instrument. FetchBar resolves one
// bar at an aligned close; FetchHistory returns all available bars in
// [start, end] in ascending timestamp order, for backfill and warm-up.
type PriceSource interface {
	FetchBar(ctx context.Context, instrument string, barClose time.Time) (PriceBar, error)
	FetchHistory(ctx context.Context, instrument string, start, end time.Time) ([]PriceBar, error)
}

// BalanceSource reports account equity in quote currency.
type BalanceSource interface {
	Equity(ctx context.Context) (decimal.Decimal, error)
}

// StaticBalance is a BalanceSource with a fixed equity, used for paper runs.
type StaticBalance struct {
	Value decimal.Decimal
}

func (s StaticBalance) Equity(ctx context.Context) (decimal.Decimal, error) {
	return s.Value, nil
}

// PairFetcher resolves both legs at the same bar close and applies the
// configured price field preference.
type PairFetcher struct {
	source   PriceSource
	legA     string
	legB     string
	field    config.PriceField
	interval time.Duration
}

func NewPairFetcher(source PriceSource, cfg *config.Config) *PairFetcher {
	return &PairFetcher{
		source:   source,
		legA:     cfg.Strategy.LegA,
		legB:     cfg.Strategy.LegB,
		field:    cfg.Data.PriceField,
		interval: cfg.Runtime.Interval,
	}
}

func (f *PairFetcher) FetchPair(ctx context.Context, ts time.Time) (PairSnapshot, error) {
	aligned := AlignBarClose(ts, f.interval)
	barA, err := f.source.FetchBar(ctx, f.legA, aligned)
	if err != nil {
		return PairSnapshot{}, err
	}
	barB, err := f.source.FetchBar(ctx, f.legB, aligned)
	if err != nil {
		return PairSnapshot{}, err
	}
	if err := barA.Validate(); err != nil {
		return PairSnapshot{}, err
	}
	if err := barB.Validate(); err != nil {
		return PairSnapshot{}, err
	}
	if !barA.Timestamp.Equal(barB.Timestamp) {
		return PairSnapshot{}, fmt.Errorf("%w: timestamps differ (%s vs %s)",
			ErrInconsistentPair, barA.Timestamp.Format(time.RFC3339), barB.Timestamp.Format(time.RFC3339))
	}
	if !barA.Timestamp.Equal(aligned) {
		return PairSnapshot{}, fmt.Errorf("%w: bar timestamp %s does not match requested close %s",
			ErrInconsistentPair, barA.Timestamp.Format(time.RFC3339), aligned.Format(time.RFC3339))
	}
	priceA := barA.EffectivePrice(f.field)
	if priceA == nil {
		return PairSnapshot{}, fmt.Errorf("%w: %s at %s", ErrMissingPrice, f.legA, aligned.Format(time.RFC3339))
	}
	priceB := barB.EffectivePrice(f.field)
	if priceB == nil {
		return PairSnapshot{}, fmt.Errorf("%w: %s at %s", ErrMissingPrice, f.legB, aligned.Format(time.RFC3339))
	}
	return PairSnapshot{Timestamp: aligned, PriceA: *priceA, PriceB: *priceB, Field: f.field}, nil
}

// RecordSource replays stored bar records as both a price source and a
// funding source. Paper runs use it to walk historical data through the
// same live tick path.
type RecordSource struct {
	legA string
	legB string

	mu      sync.RWMutex
	records map[int64]BarRecord
}

func NewRecordSource(legA, legB string, records []BarRecord) *RecordSource {
	indexed := make(map[int64]BarRecord, len(records))
	for _, record := range records {
		indexed[record.Timestamp.UTC().Unix()] = record
	}
	return &RecordSource{legA: legA, legB: legB, records: indexed}
}

func (s *RecordSource) Add(record BarRecord) {
	s.mu.Lock()
	s.records[record.Timestamp.UTC().Unix()] = record
	s.mu.Unlock()
}

func (s *RecordSource) FetchBar(ctx context.Context, instrument string, barClose time.Time) (PriceBar, error) {
	s.mu.RLock()
	record, ok := s.records[barClose.UTC().Unix()]
	s.mu.RUnlock()
	if !ok {
		return PriceBar{}, fmt.Errorf("%w: no record at %s", ErrMissingPrice, barClose.Format(time.RFC3339))
	}
	switch instrument {
	case s.legA:
		return record.legA(instrument), nil
	case s.legB:
		return record.legB(instrument), nil
	default:
		return PriceBar{}, fmt.Errorf("%w: unknown instrument %s", ErrInconsistentPair, instrument)
	}
}

func (s *RecordSource) FetchHistory(ctx context.Context, instrument string, start, end time.Time) ([]PriceBar, error) {
	if instrument != s.legA && instrument != s.legB {
		return nil, fmt.Errorf("%w: unknown instrument %s", ErrInconsistentPair, instrument)
	}
	startUnix := start.UTC().Unix()
	endUnix := end.UTC().Unix()
	s.mu.RLock()
	keys := make([]int64, 0, len(s.records))
	for key := range s.records {
		if key >= startUnix && key <= endUnix {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	bars := make([]PriceBar, 0, len(keys))
	for _, key := range keys {
		record := s.records[key]
		if instrument == s.legA {
			bars = append(bars, record.legA(instrument))
		} else {
			bars = append(bars, record.legB(instrument))
		}
	}
	s.mu.RUnlock()
	return bars, nil
}

func (s *RecordSource) FetchRate(ctx context.Context, instrument string, ts time.Time) (funding.Rate, error) {
	s.mu.RLock()
	record, ok := s.records[AlignBarClose(ts, 0).Unix()]
	if !ok {
		// Funding is attached to bar closes; fall back to the latest
		// record at or before ts.
		record, ok = s.latestAtLocked(ts)
	}
	s.mu.RUnlock()
	if !ok {
		return funding.Rate{}, fmt.Errorf("%w: no funding record at %s", ErrMissingPrice, ts.Format(time.RFC3339))
	}
	var rate *decimal.Decimal
	switch instrument {
	case s.legA:
		rate = record.FundingA
	case s.legB:
		rate = record.FundingB
	default:
		return funding.Rate{}, fmt.Errorf("%w: unknown instrument %s", ErrInconsistentPair, instrument)
	}
	if rate == nil {
		return funding.Rate{}, fmt.Errorf("%w: funding missing for %s", ErrMissingPrice, instrument)
	}
	interval := 8
	if record.FundingIntervalHours != nil && *record.FundingIntervalHours > 0 {
		interval = int(*record.FundingIntervalHours)
	}
	return funding.Rate{
		Instrument:    instrument,
		Rate:          *rate,
		Timestamp:     record.Timestamp,
		IntervalHours: interval,
	}, nil
}

func (s *RecordSource) latestAtLocked(ts time.Time) (BarRecord, bool) {
	cutoff := ts.UTC().Unix()
	keys := make([]int64, 0, len(s.records))
	for key := range s.records {
		if key <= cutoff {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return BarRecord{}, false
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return s.records[keys[len(keys)-1]], true
}
