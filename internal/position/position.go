// Package position sizes the two legs: risk-parity weights from
// realized volatility, capital selection, and conversion of notionals
// into venue-legal order quantities.
package position

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/config"
)

var (
	ErrInvalidVolatility = errors.New("volatility must be positive")
	ErrInvalidPrice      = errors.New("price must be > 0")
	ErrBelowMinimum      = errors.New("order below minimum constraints")
)

var one = decimal.NewFromInt(1)

type Weights struct {
	WA decimal.Decimal
	WB decimal.Decimal
}

// RiskParityWeights splits capital inversely to each leg's volatility so
// both legs contribute equal risk. Non-positive vols fall back to an
// even split. WA + WB is exactly 1.
func RiskParityWeights(volA, volB decimal.Decimal) (Weights, error) {
	if volA.Sign() <= 0 || volB.Sign() <= 0 {
		half := decimal.NewFromFloat(0.5)
		return Weights{WA: half, WB: half}, nil
	}
	invA := one.Div(volA)
	invB := one.Div(volB)
	total := invA.Add(invB)
	if total.IsZero() {
		return Weights{}, ErrInvalidVolatility
	}
	wA := invA.Div(total)
	return Weights{WA: wA, WB: one.Sub(wA)}, nil
}

// Capital returns the gross notional to deploy for an entry under the
// configured capital mode.
func Capital(cfg config.PositionConfig, equity decimal.Decimal) (decimal.Decimal, error) {
	switch cfg.CMode {
	case config.CapitalFixedNotional:
		if cfg.CValue == nil {
			return decimal.Zero, errors.New("c_value required for fixed notional")
		}
		return decimal.NewFromFloat(*cfg.CValue), nil
	case config.CapitalEquityRatio:
		if cfg.EquityRatioK == nil {
			return decimal.Zero, errors.New("equity_ratio_k required for equity ratio")
		}
		return equity.Mul(decimal.NewFromFloat(*cfg.EquityRatioK)), nil
	default:
		return decimal.Zero, fmt.Errorf("unknown capital mode %q", cfg.CMode)
	}
}

type OrderSize struct {
	Qty      decimal.Decimal
	Notional decimal.Decimal
	Price    decimal.Decimal
}

// SizeConverter turns a target notional into an order quantity that
// respects step size, precision, and venue minimums.
type SizeConverter struct {
	constraints config.InstrumentConstraints
	policy      config.MinSizePolicy
}

func NewSizeConverter(constraints config.InstrumentConstraints, policy config.MinSizePolicy) *SizeConverter {
	return &SizeConverter{constraints: constraints, policy: policy}
}

func (c *SizeConverter) ConvertNotional(notional, price decimal.Decimal) (OrderSize, error) {
	if price.Sign() <= 0 {
		return OrderSize{}, ErrInvalidPrice
	}
	rawQty := notional.Div(price)
	qty, err := c.roundQty(rawQty, c.constraints.RoundingMode)
	if err != nil {
		return OrderSize{}, err
	}
	rounded := qty.Mul(price)

	minQty := decimal.NewFromFloat(c.constraints.MinQty)
	minNotional := decimal.NewFromFloat(c.constraints.MinNotional)
	if qty.LessThan(minQty) || rounded.LessThan(minNotional) {
		if c.policy == config.MinSizeSkip {
			return OrderSize{}, ErrBelowMinimum
		}
		// Adjust up to whichever minimum binds, rounding away from zero
		// so the result stays legal.
		target := minQty
		if byNotional := minNotional.Div(price); byNotional.GreaterThan(minQty) {
			target = byNotional
		}
		adjusted, err := c.roundQty(target, config.RoundCeil)
		if err != nil {
			return OrderSize{}, err
		}
		return OrderSize{Qty: adjusted, Notional: adjusted.Mul(price), Price: price}, nil
	}

	return OrderSize{Qty: qty, Notional: rounded, Price: price}, nil
}

func (c *SizeConverter) roundQty(qty decimal.Decimal, mode config.RoundingMode) (decimal.Decimal, error) {
	step := decimal.NewFromFloat(c.constraints.StepSize)
	if step.Sign() <= 0 {
		return decimal.Zero, errors.New("step_size must be > 0")
	}
	steps := qty.Div(step)
	switch mode {
	case config.RoundFloor:
		steps = steps.Floor()
	case config.RoundCeil:
		steps = steps.Ceil()
	case config.RoundHalf:
		steps = steps.Round(0)
	default:
		return decimal.Zero, fmt.Errorf("unknown rounding mode %q", mode)
	}
	return steps.Mul(step).Round(int32(c.constraints.QtyPrecision)), nil
}
