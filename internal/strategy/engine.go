package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/exec"
	"hl-pairs-bot/internal/funding"
	"hl-pairs-bot/internal/market"
	"hl-pairs-bot/internal/position"
	"hl-pairs-bot/internal/state"
)

var (
	ErrMissingEquity   = errors.New("strategy: equity unavailable for equity_ratio sizing")
	ErrCapitalExceeded = errors.New("strategy: capital exceeds max notional cap")
)

// Engine drives one strategy instance bar by bar: indicator update,
// signal handling, sizing, order submission, and state transitions.
// A failed bar returns before any machine mutation is committed.
type Engine struct {
	cfg      *config.Config
	log      *zap.Logger
	pipeline *Pipeline
	machine  *state.Machine
	orders   *exec.Engine
	balance  market.BalanceSource

	sizerA *position.SizeConverter
	sizerB *position.SizeConverter

	cumulativePnL decimal.Decimal
}

func NewEngine(cfg *config.Config, machine *state.Machine, orders *exec.Engine, balance market.BalanceSource, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pipeline, err := NewPipeline(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		log:      log,
		pipeline: pipeline,
		machine:  machine,
		orders:   orders,
		balance:  balance,
		sizerA:   position.NewSizeConverter(cfg.ConstraintsFor(cfg.Strategy.LegA), cfg.Position.MinSizePolicy),
		sizerB:   position.NewSizeConverter(cfg.ConstraintsFor(cfg.Strategy.LegB), cfg.Position.MinSizePolicy),
	}, nil
}

func (e *Engine) Machine() *state.Machine { return e.machine }

func (e *Engine) CumulativePnL() decimal.Decimal { return e.cumulativePnL }

// WarmUp replays stored records through the indicator chain so a
// restarted process resumes with full windows. Signals are discarded.
func (e *Engine) WarmUp(records []market.BarRecord) error {
	field := e.cfg.Data.PriceField
	current := e.machine.State()
	for _, record := range records {
		priceA := record.EffectiveA(field)
		priceB := record.EffectiveB(field)
		if priceA == nil || priceB == nil {
			continue
		}
		if _, err := e.pipeline.Update(*priceA, *priceB, current.Status, current.Position, record.Timestamp); err != nil {
			return fmt.Errorf("warm up at %s: %w", record.Timestamp, err)
		}
	}
	e.log.Info("indicator warm up complete", zap.Int("bars", len(records)))
	return nil
}

func (e *Engine) ProcessBar(ctx context.Context, bar Bar) (Outcome, error) {
	now := bar.Timestamp
	e.machine.Update(now)

	var events []Event
	current := e.machine.State()
	if current.Position != nil && current.Position.HasResidual() {
		if err := e.orders.RepairResidual(ctx, current.Position, e.cfg.Strategy.LegA, e.cfg.Strategy.LegB); err != nil {
			return Outcome{}, fmt.Errorf("repair residual: %w", err)
		}
		e.machine.ForceFlat()
		events = append(events, Event{Kind: EventResidualRepair})
		e.log.Warn("residual position repaired", zap.Time("bar", now))
		current = e.machine.State()
	}

	out, err := e.pipeline.Update(bar.PriceA, bar.PriceB, current.Status, current.Position, now)
	if err != nil {
		return Outcome{}, err
	}

	var weights *position.Weights
	if out.Vol.VolA != nil && out.Vol.VolB != nil {
		w, err := position.RiskParityWeights(*out.Vol.VolA, *out.Vol.VolB)
		if err != nil {
			return Outcome{}, err
		}
		weights = &w
	}

	log := BarLog{
		Timestamp:     now,
		PriceA:        &bar.PriceA,
		PriceB:        &bar.PriceB,
		R:             &out.R,
		Mu:            out.Score.Mean,
		Sigma:         out.Score.Sigma,
		SigmaEff:      out.Score.SigmaEff,
		Z:             out.Score.Z,
		VolA:          out.Vol.VolA,
		VolB:          out.Vol.VolB,
		FundingA:      bar.FundingA,
		FundingB:      bar.FundingB,
		UnrealizedPnL: decimal.Zero,
	}
	if weights != nil {
		log.WA = &weights.WA
		log.WB = &weights.WB
	}

	var trades []TradeLog
	switch {
	case out.Exit != nil && current.Position != nil:
		trade, err := e.handleExit(ctx, bar, out.Exit.Reason, current.Position)
		if err != nil {
			return Outcome{}, err
		}
		trades = append(trades, trade)
		events = append(events, Event{Kind: EventExit, Reason: out.Exit.Reason})
		if out.Exit.Reason == state.StopLoss {
			events = append(events, Event{Kind: EventCooldownStart})
		}
	case out.Entry != nil && weights != nil:
		trade, entered, err := e.handleEntry(ctx, bar, out.Entry.Direction, *weights, &log)
		if err != nil {
			return Outcome{}, err
		}
		if entered {
			trades = append(trades, trade)
			events = append(events, Event{Kind: EventEntry})
		}
	}

	final := e.machine.State()
	log.State = final.Status
	log.Position = final.Position
	log.Events = events
	if final.Position != nil {
		log.UnrealizedPnL = unrealizedPnL(final.Position, bar.PriceA, bar.PriceB)
	}
	return Outcome{Bar: log, Trades: trades, Events: events}, nil
}

func (e *Engine) handleEntry(ctx context.Context, bar Bar, direction state.Direction, weights position.Weights, log *BarLog) (TradeLog, bool, error) {
	equity, err := e.resolveEquity(ctx, bar)
	if err != nil {
		return TradeLog{}, false, err
	}
	capital, err := position.Capital(e.cfg.Position, equity)
	if err != nil {
		return TradeLog{}, false, err
	}
	if e.cfg.Position.MaxNotional != nil {
		limit := decimal.NewFromFloat(*e.cfg.Position.MaxNotional)
		if capital.GreaterThan(limit) {
			return TradeLog{}, false, fmt.Errorf("%w: %s > %s", ErrCapitalExceeded, capital, limit)
		}
	}

	notionalA := capital.Mul(weights.WA)
	notionalB := capital.Mul(weights.WB)
	log.NotionalA = &notionalA
	log.NotionalB = &notionalB

	if skipped, err := e.applyFundingControls(bar, direction, notionalA, notionalB, log); err != nil {
		return TradeLog{}, false, err
	} else if skipped {
		e.log.Info("entry skipped by funding filter", zap.Time("bar", bar.Timestamp))
		return TradeLog{}, false, nil
	}

	sizeA, err := e.sizerA.ConvertNotional(notionalA, bar.PriceA)
	if err != nil {
		if errors.Is(err, position.ErrBelowMinimum) {
			e.log.Info("entry below minimum size", zap.Error(err))
			return TradeLog{}, false, nil
		}
		return TradeLog{}, false, err
	}
	sizeB, err := e.sizerB.ConvertNotional(notionalB, bar.PriceB)
	if err != nil {
		if errors.Is(err, position.ErrBelowMinimum) {
			e.log.Info("entry below minimum size", zap.Error(err))
			return TradeLog{}, false, nil
		}
		return TradeLog{}, false, err
	}

	sideA, sideB := entrySides(direction)
	orderA := e.buildOrder(e.cfg.Strategy.LegA, sideA, sizeA.Qty, bar.PriceA)
	orderB := e.buildOrder(e.cfg.Strategy.LegB, sideB, sizeB.Qty, bar.PriceB)
	if err := e.orders.OpenPair(ctx, orderA, orderB); err != nil {
		return TradeLog{}, false, err
	}

	snapshot := state.PositionSnapshot{
		Direction: direction,
		EntryTime: bar.Timestamp,
		LegA: state.PositionLeg{
			Qty:      signedQty(sizeA.Qty, sideA),
			AvgPrice: bar.PriceA,
			Notional: sizeA.Notional,
		},
		LegB: state.PositionLeg{
			Qty:      signedQty(sizeB.Qty, sideB),
			AvgPrice: bar.PriceB,
			Notional: sizeB.Notional,
		},
	}
	if err := e.machine.Enter(snapshot, bar.Timestamp); err != nil {
		return TradeLog{}, false, err
	}
	e.log.Info("entered position",
		zap.String("direction", string(direction)),
		zap.String("qty_a", sizeA.Qty.String()),
		zap.String("qty_b", sizeB.Qty.String()))
	return TradeLog{
		Timestamp:             bar.Timestamp,
		Event:                 TradeEntry,
		Direction:             direction,
		QtyA:                  snapshot.LegA.Qty,
		QtyB:                  snapshot.LegB.Qty,
		PriceA:                bar.PriceA,
		PriceB:                bar.PriceB,
		EntryTime:             bar.Timestamp,
		EntryPriceA:           bar.PriceA,
		EntryPriceB:           bar.PriceB,
		RealizedPnL:           decimal.Zero,
		CumulativeRealizedPnL: e.cumulativePnL,
	}, true, nil
}

func (e *Engine) handleExit(ctx context.Context, bar Bar, reason state.ExitReason, pos *state.PositionSnapshot) (TradeLog, error) {
	orderA := e.buildOrder(e.cfg.Strategy.LegA, exec.CloseSideFor(pos.LegA.Qty), pos.LegA.Qty.Abs(), bar.PriceA)
	orderB := e.buildOrder(e.cfg.Strategy.LegB, exec.CloseSideFor(pos.LegB.Qty), pos.LegB.Qty.Abs(), bar.PriceB)
	if err := e.orders.ClosePair(ctx, orderA, orderB); err != nil {
		return TradeLog{}, err
	}
	realized := unrealizedPnL(pos, bar.PriceA, bar.PriceB)
	if err := e.machine.Exit(reason, bar.Timestamp); err != nil {
		return TradeLog{}, err
	}
	e.cumulativePnL = e.cumulativePnL.Add(realized)
	e.log.Info("exited position",
		zap.String("reason", string(reason)),
		zap.String("realized_pnl", realized.String()))
	return TradeLog{
		Timestamp:             bar.Timestamp,
		Event:                 TradeExit,
		Reason:                reason,
		Direction:             pos.Direction,
		QtyA:                  pos.LegA.Qty,
		QtyB:                  pos.LegB.Qty,
		PriceA:                bar.PriceA,
		PriceB:                bar.PriceB,
		EntryTime:             pos.EntryTime,
		EntryPriceA:           pos.LegA.AvgPrice,
		EntryPriceB:           pos.LegB.AvgPrice,
		RealizedPnL:           realized,
		CumulativeRealizedPnL: e.cumulativePnL,
	}, nil
}

// applyFundingControls estimates the expected carry cost for the entry
// and runs the configured control chain. Only the filter's skip outcome
// gates submission; adjusted threshold and capital are logged for
// observability.
func (e *Engine) applyFundingControls(bar Bar, direction state.Direction, notionalA, notionalB decimal.Decimal, log *BarLog) (bool, error) {
	if e.cfg.Runtime.DisableFunding || bar.FundingA == nil || bar.FundingB == nil {
		return false, nil
	}
	interval := bar.FundingIntervalHours
	if interval <= 0 {
		interval = 8
	}
	rateA := funding.Rate{Instrument: e.cfg.Strategy.LegA, Rate: *bar.FundingA, Timestamp: bar.Timestamp, IntervalHours: interval}
	rateB := funding.Rate{Instrument: e.cfg.Strategy.LegB, Rate: *bar.FundingB, Timestamp: bar.Timestamp, IntervalHours: interval}
	est, err := funding.EstimateCost(direction, notionalA, notionalB, rateA, rateB, e.cfg.Risk.MaxHoldHours)
	if err != nil {
		return false, err
	}
	log.FundingCostEst = &est.Cost

	entryZ := decimal.NewFromFloat(e.cfg.Strategy.EntryZ)
	capital := notionalA.Add(notionalB)
	decision, err := funding.ApplyControls(e.cfg.Funding, entryZ, capital, est)
	if err != nil {
		return false, err
	}
	log.FundingSkip = &decision.Skip
	if !decision.AdjustedEntryZ.Equal(entryZ) || !decision.AdjustedCapital.Equal(capital) {
		e.log.Debug("funding controls adjusted entry parameters",
			zap.String("adjusted_entry_z", decision.AdjustedEntryZ.String()),
			zap.String("adjusted_capital", decision.AdjustedCapital.String()))
	}
	return decision.Skip, nil
}

func (e *Engine) resolveEquity(ctx context.Context, bar Bar) (decimal.Decimal, error) {
	if e.cfg.Position.CMode != config.CapitalEquityRatio {
		return decimal.Zero, nil
	}
	if bar.Equity != nil {
		return *bar.Equity, nil
	}
	if e.balance != nil {
		equity, err := e.balance.Equity(ctx)
		if err == nil {
			return equity, nil
		}
		if e.cfg.Position.EquityValue == nil {
			return decimal.Zero, err
		}
		e.log.Warn("balance source failed, using configured equity_value", zap.Error(err))
	}
	if e.cfg.Position.EquityValue != nil {
		return decimal.NewFromFloat(*e.cfg.Position.EquityValue), nil
	}
	return decimal.Zero, ErrMissingEquity
}

func (e *Engine) buildOrder(instrument string, side exec.OrderSide, qty, price decimal.Decimal) exec.OrderRequest {
	order := exec.OrderRequest{
		Instrument: instrument,
		Side:       side,
		Qty:        qty,
		Type:       e.cfg.Execution.OrderType,
	}
	if order.Type == config.OrderLimit {
		limit := limitPrice(price, side, e.cfg.Execution.SlippageBps)
		order.LimitPrice = &limit
	}
	return order
}

// limitPrice pads the reference price by the slippage allowance, up for
// buys and down for sells.
func limitPrice(price decimal.Decimal, side exec.OrderSide, slippageBps int) decimal.Decimal {
	pad := decimal.NewFromInt(int64(slippageBps)).Div(decimal.NewFromInt(10000))
	if side == exec.Buy {
		return price.Mul(decimal.NewFromInt(1).Add(pad))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(pad))
}

func entrySides(direction state.Direction) (exec.OrderSide, exec.OrderSide) {
	if direction.LongA() {
		return exec.Buy, exec.Sell
	}
	return exec.Sell, exec.Buy
}

func signedQty(qty decimal.Decimal, side exec.OrderSide) decimal.Decimal {
	if side == exec.Sell {
		return qty.Neg()
	}
	return qty
}

func unrealizedPnL(pos *state.PositionSnapshot, priceA, priceB decimal.Decimal) decimal.Decimal {
	pnlA := priceA.Sub(pos.LegA.AvgPrice).Mul(pos.LegA.Qty)
	pnlB := priceB.Sub(pos.LegB.AvgPrice).Mul(pos.LegB.Qty)
	return pnlA.Add(pnlB)
}
