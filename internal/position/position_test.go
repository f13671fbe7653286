package position

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/config"
)

func TestRiskParityWeightsInverseVol(t *testing.T) {
	w, err := RiskParityWeights(decimal.NewFromFloat(0.02), decimal.NewFromFloat(0.01))
	if err != nil {
		t.Fatalf("weights: %v", err)
	}
	// Leg B is half as volatile, so it carries twice the weight.
	third := decimal.NewFromInt(1).Div(decimal.NewFromInt(3))
	if !w.WA.Sub(third).Abs().LessThan(decimal.NewFromFloat(1e-12)) {
		t.Fatalf("expected w_a 1/3, got %v", w.WA)
	}
	if !w.WA.Add(w.WB).Equal(decimal.NewFromInt(1)) {
		t.Fatalf("weights must sum to exactly 1, got %v", w.WA.Add(w.WB))
	}
}

func TestRiskParityWeightsFallbackEvenSplit(t *testing.T) {
	w, err := RiskParityWeights(decimal.Zero, decimal.NewFromFloat(0.01))
	if err != nil {
		t.Fatalf("weights: %v", err)
	}
	half := decimal.NewFromFloat(0.5)
	if !w.WA.Equal(half) || !w.WB.Equal(half) {
		t.Fatalf("expected even split for non-positive vol, got %+v", w)
	}
}

func TestCapitalFixedNotional(t *testing.T) {
	v := 50000.0
	cfg := config.PositionConfig{CMode: config.CapitalFixedNotional, CValue: &v}
	got, err := Capital(cfg, decimal.NewFromInt(123456))
	if err != nil {
		t.Fatalf("capital: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("expected fixed 50000, got %v", got)
	}
}

func TestCapitalEquityRatio(t *testing.T) {
	k := 0.25
	cfg := config.PositionConfig{CMode: config.CapitalEquityRatio, EquityRatioK: &k}
	got, err := Capital(cfg, decimal.NewFromInt(100000))
	if err != nil {
		t.Fatalf("capital: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(25000)) {
		t.Fatalf("expected 25000, got %v", got)
	}
}

func TestCapitalEquityRatioRequiresK(t *testing.T) {
	cfg := config.PositionConfig{CMode: config.CapitalEquityRatio}
	if _, err := Capital(cfg, decimal.NewFromInt(1)); err == nil {
		t.Fatalf("expected error for missing equity_ratio_k")
	}
}

func defaultConverter(policy config.MinSizePolicy) *SizeConverter {
	return NewSizeConverter(config.DefaultConstraints(), policy)
}

func TestConvertNotionalFloorsToStep(t *testing.T) {
	conv := defaultConverter(config.MinSizeSkip)
	// 2500 / 2000 = 1.25 exactly on the step grid.
	got, err := conv.ConvertNotional(decimal.NewFromInt(2500), decimal.NewFromInt(2000))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !got.Qty.Equal(decimal.NewFromFloat(1.25)) {
		t.Fatalf("expected qty 1.25, got %v", got.Qty)
	}
	// 2501 / 2000 = 1.2505 floors down a step.
	got, err = conv.ConvertNotional(decimal.NewFromInt(2501), decimal.NewFromInt(2000))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !got.Qty.Equal(decimal.NewFromFloat(1.25)) {
		t.Fatalf("expected floored qty 1.25, got %v", got.Qty)
	}
	if !got.Notional.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("expected recomputed notional 2500, got %v", got.Notional)
	}
}

func TestConvertNotionalSkipPolicy(t *testing.T) {
	conv := defaultConverter(config.MinSizeSkip)
	_, err := conv.ConvertNotional(decimal.NewFromInt(5), decimal.NewFromInt(2000))
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected below-minimum error, got %v", err)
	}
}

func TestConvertNotionalAdjustPolicy(t *testing.T) {
	conv := defaultConverter(config.MinSizeAdjust)
	got, err := conv.ConvertNotional(decimal.NewFromInt(5), decimal.NewFromInt(2000))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	minQty := decimal.NewFromFloat(0.01)
	minNotional := decimal.NewFromInt(10)
	if got.Qty.LessThan(minQty) || got.Notional.LessThan(minNotional) {
		t.Fatalf("adjusted order still below minimums: %+v", got)
	}
}

func TestConvertNotionalRejectsBadPrice(t *testing.T) {
	conv := defaultConverter(config.MinSizeSkip)
	if _, err := conv.ConvertNotional(decimal.NewFromInt(100), decimal.Zero); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price error, got %v", err)
	}
}
