package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/config"
)

var (
	ErrInvalidPrice      = errors.New("market: invalid price")
	ErrMissingPrice      = errors.New("market: missing price")
	ErrInconsistentPair  = errors.New("market: inconsistent pair data")
	ErrInvalidTimeRange  = errors.New("market: invalid time range")
	ErrInsufficientPairs = errors.New("market: insufficient coverage")
)

// PriceBar is a single closed bar for one instrument. Any of the three
// price fields may be absent depending on what the venue returned.
type PriceBar struct {
	Instrument string
	Timestamp  time.Time
	Mid        *decimal.Decimal
	Mark       *decimal.Decimal
	Close      *decimal.Decimal
}

// EffectivePrice resolves the preferred field with fallback to the
// remaining fields in a fixed order.
func (b PriceBar) EffectivePrice(field config.PriceField) *decimal.Decimal {
	switch field {
	case config.PriceMark:
		return firstPrice(b.Mark, b.Mid, b.Close)
	case config.PriceClose:
		return firstPrice(b.Close, b.Mid, b.Mark)
	default:
		return firstPrice(b.Mid, b.Mark, b.Close)
	}
}

func (b PriceBar) Validate() error {
	for _, field := range []struct {
		label string
		value *decimal.Decimal
	}{
		{"mid", b.Mid},
		{"mark", b.Mark},
		{"close", b.Close},
	} {
		if field.value != nil && field.value.Sign() <= 0 {
			return fmt.Errorf("%w: %s %s must be > 0 for %s", ErrInvalidPrice, field.label, field.value, b.Instrument)
		}
	}
	return nil
}

func firstPrice(values ...*decimal.Decimal) *decimal.Decimal {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// PairSnapshot carries one resolved price per leg at a single bar close.
type PairSnapshot struct {
	Timestamp time.Time
	PriceA    decimal.Decimal
	PriceB    decimal.Decimal
	Field     config.PriceField
}

// BarRecord is the persisted form of one pair bar, raw fields for both
// legs plus funding rates when the collector had them.
type BarRecord struct {
	Timestamp            time.Time        `json:"timestamp"`
	MidA                 *decimal.Decimal `json:"mid_a,omitempty"`
	MarkA                *decimal.Decimal `json:"mark_a,omitempty"`
	CloseA               *decimal.Decimal `json:"close_a,omitempty"`
	MidB                 *decimal.Decimal `json:"mid_b,omitempty"`
	MarkB                *decimal.Decimal `json:"mark_b,omitempty"`
	CloseB               *decimal.Decimal `json:"close_b,omitempty"`
	FundingA             *decimal.Decimal `json:"funding_a,omitempty"`
	FundingB             *decimal.Decimal `json:"funding_b,omitempty"`
	FundingIntervalHours *int64           `json:"funding_interval_hours,omitempty"`
}

func (r BarRecord) legA(instrument string) PriceBar {
	return PriceBar{Instrument: instrument, Timestamp: r.Timestamp, Mid: r.MidA, Mark: r.MarkA, Close: r.CloseA}
}

func (r BarRecord) legB(instrument string) PriceBar {
	return PriceBar{Instrument: instrument, Timestamp: r.Timestamp, Mid: r.MidB, Mark: r.MarkB, Close: r.CloseB}
}

// EffectiveA resolves leg A's price for the preferred field.
func (r BarRecord) EffectiveA(field config.PriceField) *decimal.Decimal {
	return r.legA("").EffectivePrice(field)
}

// EffectiveB resolves leg B's price for the preferred field.
func (r BarRecord) EffectiveB(field config.PriceField) *decimal.Decimal {
	return r.legB("").EffectivePrice(field)
}

// AlignBarClose floors a timestamp to the most recent bar close for the
// given bar interval.
func AlignBarClose(ts time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return ts.UTC()
	}
	secs := int64(interval / time.Second)
	unix := ts.UTC().Unix()
	aligned := unix - ((unix % secs + secs) % secs)
	return time.Unix(aligned, 0).UTC()
}
