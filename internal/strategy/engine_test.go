package strategy

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/exec"
	"hl-pairs-bot/internal/market"
	"hl-pairs-bot/internal/state"
)

type fakeExecutor struct {
	submits []exec.OrderRequest
	closes  []exec.OrderRequest
}

func (f *fakeExecutor) Submit(_ context.Context, order exec.OrderRequest) (decimal.Decimal, error) {
	f.submits = append(f.submits, order)
	return order.Qty, nil
}

func (f *fakeExecutor) Close(_ context.Context, order exec.OrderRequest) (decimal.Decimal, error) {
	f.closes = append(f.closes, order)
	return order.Qty, nil
}

func engineConfig() *config.Config {
	cfg := config.Default()
	cfg.Strategy.NZ = 3
	cfg.Strategy.EntryZ = 1.2
	cfg.Strategy.TPZ = 0.2
	cfg.Strategy.SLZ = 3.0
	cfg.Position.NVol = 2
	cfg.Runtime.DisableFunding = true
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *fakeExecutor) {
	t.Helper()
	executor := &fakeExecutor{}
	orders := exec.NewEngine(executor, exec.RetryConfig{MaxAttempts: 1}, nil)
	engine, err := NewEngine(cfg, state.NewMachine(cfg.Risk), orders, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine, executor
}

// barSeries builds bars with leg B pinned at 1 so r equals ln(priceA).
func barSeries(rValues []float64) []Bar {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]Bar, 0, len(rValues))
	for i, r := range rValues {
		bars = append(bars, Bar{
			Timestamp: base.Add(time.Duration(i) * 15 * time.Minute),
			PriceA:    decimal.NewFromFloat(math.Exp(r)),
			PriceB:    decimal.NewFromInt(1),
		})
	}
	return bars
}

func TestEngineEntersAndTakesProfit(t *testing.T) {
	cfg := engineConfig()
	engine, executor := newTestEngine(t, cfg)
	ctx := context.Background()

	bars := barSeries([]float64{0, 0, 0, 0.01, 0, 0, 0})
	var outcomes []Outcome
	for _, bar := range bars {
		outcome, err := engine.ProcessBar(ctx, bar)
		if err != nil {
			t.Fatalf("ProcessBar at %s: %v", bar.Timestamp, err)
		}
		outcomes = append(outcomes, outcome)
	}

	entry := outcomes[3]
	if len(entry.Trades) != 1 || entry.Trades[0].Event != TradeEntry {
		t.Fatalf("expected entry trade on bar 4, got %+v", entry.Trades)
	}
	if entry.Trades[0].Direction != state.ShortALongB {
		t.Fatalf("direction = %s, want SHORT_A_LONG_B on positive z", entry.Trades[0].Direction)
	}
	if entry.Trades[0].QtyA.Sign() >= 0 {
		t.Fatalf("leg A qty should be negative, got %s", entry.Trades[0].QtyA)
	}
	if len(executor.submits) != 2 {
		t.Fatalf("expected 2 order submissions, got %d", len(executor.submits))
	}
	if entry.Bar.State != state.InPosition {
		t.Fatalf("state after entry = %s", entry.Bar.State)
	}

	exit := outcomes[6]
	if len(exit.Trades) != 1 || exit.Trades[0].Event != TradeExit {
		t.Fatalf("expected exit trade on bar 7, got %+v", exit.Trades)
	}
	if exit.Trades[0].Reason != state.TakeProfit {
		t.Fatalf("exit reason = %s", exit.Trades[0].Reason)
	}
	if exit.Trades[0].RealizedPnL.Sign() <= 0 {
		t.Fatalf("short leg A should profit on reversion, pnl = %s", exit.Trades[0].RealizedPnL)
	}
	if exit.Bar.State != state.Flat {
		t.Fatalf("state after take profit = %s", exit.Bar.State)
	}
	if !engine.CumulativePnL().Equal(exit.Trades[0].RealizedPnL) {
		t.Fatalf("cumulative pnl = %s", engine.CumulativePnL())
	}
}

func TestEngineRepairsResidualBeforeSignals(t *testing.T) {
	cfg := engineConfig()
	engine, executor := newTestEngine(t, cfg)
	ctx := context.Background()

	entryTime := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	residual := state.PositionSnapshot{
		Direction: state.LongAShortB,
		EntryTime: entryTime,
		LegA: state.PositionLeg{
			Qty:      decimal.RequireFromString("1.5"),
			AvgPrice: decimal.NewFromInt(2000),
			Notional: decimal.NewFromInt(3000),
		},
	}
	if err := engine.Machine().Hydrate(state.StrategyState{Status: state.InPosition, Position: &residual}); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	bar := barSeries([]float64{0})[0]
	outcome, err := engine.ProcessBar(ctx, bar)
	if err != nil {
		t.Fatalf("ProcessBar: %v", err)
	}
	if len(outcome.Events) != 1 || outcome.Events[0].Kind != EventResidualRepair {
		t.Fatalf("expected residual repair event, got %+v", outcome.Events)
	}
	if outcome.Bar.State != state.Flat {
		t.Fatalf("state after repair = %s", outcome.Bar.State)
	}
	if len(executor.closes) != 1 {
		t.Fatalf("expected one close call, got %d", len(executor.closes))
	}
	if executor.closes[0].Side != exec.Sell {
		t.Fatalf("long residual should close with a sell, got %s", executor.closes[0].Side)
	}
}

func TestEngineFundingFilterSkipsEntry(t *testing.T) {
	cfg := engineConfig()
	cfg.Runtime.DisableFunding = false
	cfg.Funding.Modes = []config.FundingMode{config.FundingFilter}
	threshold := 0.001
	cfg.Funding.CostThreshold = &threshold
	engine, executor := newTestEngine(t, cfg)
	ctx := context.Background()

	rateA := decimal.Zero
	rateB := decimal.RequireFromString("0.01")
	bars := barSeries([]float64{0, 0, 0, 0.01})
	var last Outcome
	for _, bar := range bars {
		bar.FundingA = &rateA
		bar.FundingB = &rateB
		bar.FundingIntervalHours = 8
		outcome, err := engine.ProcessBar(ctx, bar)
		if err != nil {
			t.Fatalf("ProcessBar: %v", err)
		}
		last = outcome
	}

	if len(last.Trades) != 0 {
		t.Fatalf("expected no trades, got %+v", last.Trades)
	}
	if len(executor.submits) != 0 {
		t.Fatalf("expected no order submissions, got %d", len(executor.submits))
	}
	if last.Bar.FundingSkip == nil || !*last.Bar.FundingSkip {
		t.Fatalf("funding skip not recorded: %+v", last.Bar.FundingSkip)
	}
	if last.Bar.FundingCostEst == nil || last.Bar.FundingCostEst.Sign() <= 0 {
		t.Fatalf("funding cost estimate missing: %+v", last.Bar.FundingCostEst)
	}
	if last.Bar.State != state.Flat {
		t.Fatalf("state = %s", last.Bar.State)
	}
}

func TestEngineBelowMinimumIsNoTrade(t *testing.T) {
	cfg := engineConfig()
	small := 5.0
	cfg.Position.CValue = &small
	engine, executor := newTestEngine(t, cfg)
	ctx := context.Background()

	for _, bar := range barSeries([]float64{0, 0, 0, 0.01}) {
		outcome, err := engine.ProcessBar(ctx, bar)
		if err != nil {
			t.Fatalf("ProcessBar: %v", err)
		}
		if len(outcome.Trades) != 0 {
			t.Fatalf("expected no trades with sub-minimum capital, got %+v", outcome.Trades)
		}
	}
	if len(executor.submits) != 0 {
		t.Fatalf("expected no submissions, got %d", len(executor.submits))
	}
}

func TestEngineEquityRatioNeedsEquitySource(t *testing.T) {
	cfg := engineConfig()
	cfg.Position.CMode = config.CapitalEquityRatio
	k := 0.5
	cfg.Position.EquityRatioK = &k
	engine, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	bars := barSeries([]float64{0, 0, 0, 0.01})
	var lastErr error
	for _, bar := range bars {
		if _, err := engine.ProcessBar(ctx, bar); err != nil {
			lastErr = err
		}
	}
	if !errors.Is(lastErr, ErrMissingEquity) {
		t.Fatalf("expected ErrMissingEquity, got %v", lastErr)
	}
}

type failingBalance struct {
	err error
}

func (b failingBalance) Equity(ctx context.Context) (decimal.Decimal, error) {
	return decimal.Zero, b.err
}

func TestEngineEquityRatioFallsBackToConfiguredEquity(t *testing.T) {
	cfg := engineConfig()
	cfg.Position.CMode = config.CapitalEquityRatio
	k := 0.5
	cfg.Position.EquityRatioK = &k
	equity := 50000.0
	cfg.Position.EquityValue = &equity

	executor := &fakeExecutor{}
	orders := exec.NewEngine(executor, exec.RetryConfig{MaxAttempts: 1}, nil)
	balance := failingBalance{err: errors.New("balance endpoint unavailable")}
	engine, err := NewEngine(cfg, state.NewMachine(cfg.Risk), orders, balance, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ctx := context.Background()
	var entries int
	for _, bar := range barSeries([]float64{0, 0, 0, 0.01}) {
		outcome, err := engine.ProcessBar(ctx, bar)
		if err != nil {
			t.Fatalf("ProcessBar with configured equity fallback: %v", err)
		}
		for _, trade := range outcome.Trades {
			if trade.Event == TradeEntry {
				entries++
			}
		}
	}
	if entries != 1 {
		t.Fatalf("entries = %d, want 1 sized from equity_value", entries)
	}
	if len(executor.submits) == 0 {
		t.Fatalf("expected order submissions sized from equity_value")
	}
}

func TestEngineEquityRatioErrorWithoutFallback(t *testing.T) {
	cfg := engineConfig()
	cfg.Position.CMode = config.CapitalEquityRatio
	k := 0.5
	cfg.Position.EquityRatioK = &k

	executor := &fakeExecutor{}
	orders := exec.NewEngine(executor, exec.RetryConfig{MaxAttempts: 1}, nil)
	sourceErr := errors.New("balance endpoint unavailable")
	engine, err := NewEngine(cfg, state.NewMachine(cfg.Risk), orders, failingBalance{err: sourceErr}, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	ctx := context.Background()
	var lastErr error
	for _, bar := range barSeries([]float64{0, 0, 0, 0.01}) {
		if _, err := engine.ProcessBar(ctx, bar); err != nil {
			lastErr = err
		}
	}
	if !errors.Is(lastErr, sourceErr) {
		t.Fatalf("expected balance source error, got %v", lastErr)
	}
}

func TestEngineWarmUpRebuildsWindows(t *testing.T) {
	cfg := engineConfig()
	engine, _ := newTestEngine(t, cfg)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := barSeries([]float64{0, 0, 0})
	records := make([]market.BarRecord, 0, len(bars))
	for _, bar := range bars {
		a := bar.PriceA
		b := bar.PriceB
		records = append(records, market.BarRecord{Timestamp: bar.Timestamp, MidA: &a, MidB: &b})
	}
	if err := engine.WarmUp(records); err != nil {
		t.Fatalf("WarmUp: %v", err)
	}

	// The first live bar after warm up already has full windows, so a
	// z excursion triggers an entry immediately.
	bar := Bar{
		Timestamp: base.Add(3 * 15 * time.Minute),
		PriceA:    decimal.NewFromFloat(math.Exp(0.01)),
		PriceB:    decimal.NewFromInt(1),
	}
	outcome, err := engine.ProcessBar(context.Background(), bar)
	if err != nil {
		t.Fatalf("ProcessBar: %v", err)
	}
	if len(outcome.Trades) != 1 || outcome.Trades[0].Event != TradeEntry {
		t.Fatalf("expected entry on first live bar, got %+v", outcome.Trades)
	}
}
