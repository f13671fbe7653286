// Package funding estimates the carry cost of holding a pair position
// and applies the configured entry controls against it.
package funding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/state"
)

var (
	ErrMissingData = errors.New("funding data missing")
	ErrInvalidRate = errors.New("invalid funding rate")
)

// Rate is one instrument's funding rate per funding interval.
type Rate struct {
	Instrument    string
	Rate          decimal.Decimal
	Timestamp     time.Time
	IntervalHours int
}

func (r Rate) Validate() error {
	if r.IntervalHours <= 0 {
		return fmt.Errorf("%w: interval_hours must be > 0", ErrInvalidRate)
	}
	return nil
}

// Snapshot pairs both legs' rates at a single timestamp.
type Snapshot struct {
	A             Rate
	B             Rate
	IntervalHours int
}

// Source supplies funding rates per instrument.
type Source interface {
	FetchRate(ctx context.Context, instrument string, ts time.Time) (Rate, error)
}

// Fetcher pulls both legs from a Source and checks they agree on the
// funding interval.
type Fetcher struct {
	source Source
	legA   string
	legB   string
}

func NewFetcher(source Source, legA, legB string) *Fetcher {
	return &Fetcher{source: source, legA: legA, legB: legB}
}

func (f *Fetcher) FetchPairRates(ctx context.Context, ts time.Time) (Snapshot, error) {
	a, err := f.source.FetchRate(ctx, f.legA, ts)
	if err != nil {
		return Snapshot{}, err
	}
	b, err := f.source.FetchRate(ctx, f.legB, ts)
	if err != nil {
		return Snapshot{}, err
	}
	if err := a.Validate(); err != nil {
		return Snapshot{}, err
	}
	if err := b.Validate(); err != nil {
		return Snapshot{}, err
	}
	if a.IntervalHours != b.IntervalHours {
		return Snapshot{}, fmt.Errorf("%w: funding intervals must match", ErrInvalidRate)
	}
	return Snapshot{A: a, B: b, IntervalHours: a.IntervalHours}, nil
}

// ZeroSource reports zero funding for every instrument. Used in paper
// mode and in backtests without funding data.
type ZeroSource struct {
	intervalHours int
}

func NewZeroSource(intervalHours int) *ZeroSource {
	if intervalHours <= 0 {
		intervalHours = 8
	}
	return &ZeroSource{intervalHours: intervalHours}
}

func (s *ZeroSource) FetchRate(_ context.Context, instrument string, ts time.Time) (Rate, error) {
	return Rate{Instrument: instrument, Rate: decimal.Zero, Timestamp: ts, IntervalHours: s.intervalHours}, nil
}

// History keeps a bounded per-instrument window of observed rates.
type History struct {
	capacity int
	entries  map[string][]Rate
}

func NewHistory(capacity int) (*History, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be > 0", ErrInvalidRate)
	}
	return &History{capacity: capacity, entries: map[string][]Rate{}}, nil
}

func (h *History) Push(rate Rate) {
	window := h.entries[rate.Instrument]
	if len(window) == h.capacity {
		copy(window, window[1:])
		window[len(window)-1] = rate
	} else {
		window = append(window, rate)
	}
	h.entries[rate.Instrument] = window
}

func (h *History) Window(instrument string) []Rate {
	window := h.entries[instrument]
	out := make([]Rate, len(window))
	copy(out, window)
	return out
}

// CostEstimate is the projected carry of holding the position for the
// full max-hold horizon. Cost is floored at zero: favorable carry never
// rewards an entry.
type CostEstimate struct {
	Cost          decimal.Decimal
	Normalized    decimal.Decimal
	IntervalHours int
}

// EstimateCost projects funding paid over ceil(max_hold/interval)
// funding events. The sign convention: longs pay positive rates, shorts
// receive them.
func EstimateCost(direction state.Direction, notionalA, notionalB decimal.Decimal, rateA, rateB Rate, maxHoldHours int) (CostEstimate, error) {
	if rateA.IntervalHours <= 0 {
		return CostEstimate{}, fmt.Errorf("%w: interval_hours must be > 0", ErrInvalidRate)
	}
	intervals := (maxHoldHours + rateA.IntervalHours - 1) / rateA.IntervalHours

	var perInterval decimal.Decimal
	switch direction {
	case state.LongAShortB:
		perInterval = rateA.Rate.Mul(notionalA).Sub(rateB.Rate.Mul(notionalB))
	case state.ShortALongB:
		perInterval = rateB.Rate.Mul(notionalB).Sub(rateA.Rate.Mul(notionalA))
	default:
		return CostEstimate{}, fmt.Errorf("%w: unknown direction %q", ErrInvalidRate, direction)
	}

	cost := perInterval.Mul(decimal.NewFromInt(int64(intervals)))
	if cost.Sign() < 0 {
		cost = decimal.Zero
	}
	totalNotional := notionalA.Add(notionalB)
	normalized := decimal.Zero
	if totalNotional.Sign() > 0 {
		normalized = cost.Div(totalNotional)
	}
	return CostEstimate{Cost: cost, Normalized: normalized, IntervalHours: rateA.IntervalHours}, nil
}

// Decision is the combined effect of the configured controls on one
// prospective entry.
type Decision struct {
	Skip            bool
	AdjustedEntryZ  decimal.Decimal
	AdjustedCapital decimal.Decimal
}

// ApplyControls runs the configured modes in order. Filter can veto the
// entry, threshold raises the effective entry_z, and size scales capital
// down to at most c_min_ratio of the original.
func ApplyControls(cfg config.FundingConfig, entryZ, capital decimal.Decimal, est CostEstimate) (Decision, error) {
	decision := Decision{AdjustedEntryZ: entryZ, AdjustedCapital: capital}
	one := decimal.NewFromInt(1)

	for _, mode := range cfg.Modes {
		switch mode {
		case config.FundingFilter:
			if cfg.CostThreshold == nil {
				return Decision{}, errors.New("cost_threshold missing for funding filter")
			}
			if est.Cost.GreaterThan(decimal.NewFromFloat(*cfg.CostThreshold)) {
				decision.Skip = true
			}
		case config.FundingThreshold:
			if cfg.ThresholdK == nil {
				return Decision{}, errors.New("threshold_k missing for funding threshold")
			}
			k := decimal.NewFromFloat(*cfg.ThresholdK)
			decision.AdjustedEntryZ = decision.AdjustedEntryZ.Add(k.Mul(est.Normalized))
		case config.FundingSize:
			if cfg.SizeAlpha == nil {
				return Decision{}, errors.New("size_alpha missing for funding size")
			}
			if cfg.CMinRatio == nil {
				return Decision{}, errors.New("c_min_ratio missing for funding size")
			}
			alpha := decimal.NewFromFloat(*cfg.SizeAlpha)
			minRatio := decimal.NewFromFloat(*cfg.CMinRatio)
			ratio := one.Sub(alpha.Mul(est.Normalized))
			if ratio.LessThan(minRatio) {
				ratio = minRatio
			}
			if ratio.GreaterThan(one) {
				ratio = one
			}
			decision.AdjustedCapital = capital.Mul(ratio)
		default:
			return Decision{}, fmt.Errorf("unknown funding mode %q", mode)
		}
	}

	return decision, nil
}
