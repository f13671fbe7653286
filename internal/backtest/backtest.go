// Package backtest replays stored pair bars through the same indicator
// pipeline and state machine the live engine uses, with fills assumed at
// bar prices. Runs are deterministic: the same bars and config always
// produce the same trades.
package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/funding"
	"hl-pairs-bot/internal/position"
	"hl-pairs-bot/internal/state"
	"hl-pairs-bot/internal/strategy"
)

var (
	ErrMissingInitialEquity = errors.New("backtest: initial_equity required for equity_ratio mode")
	ErrCapitalExceeded      = errors.New("backtest: capital exceeds max notional cap")
)

const defaultInitialEquity = 100000

// Trade is one completed round trip.
type Trade struct {
	EntryTime  time.Time        `json:"entry_time"`
	ExitTime   time.Time        `json:"exit_time"`
	PnL        decimal.Decimal  `json:"pnl"`
	ExitReason state.ExitReason `json:"exit_reason"`
}

// EquityPoint is the account value after processing one bar.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// Result bundles everything one run produced.
type Result struct {
	Trades      []Trade
	EquityCurve []EquityPoint
	BarLogs     []strategy.BarLog
	Metrics     Metrics
}

// Engine replays bars under a fixed configuration.
type Engine struct {
	cfg *config.Config
	log *zap.Logger
}

func NewEngine(cfg *config.Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, log: log}
}

func (e *Engine) initialEquity() (decimal.Decimal, error) {
	if e.cfg.Position.CMode == config.CapitalEquityRatio {
		if e.cfg.Backtest.InitialEquity == nil {
			return decimal.Decimal{}, ErrMissingInitialEquity
		}
		return decimal.NewFromFloat(*e.cfg.Backtest.InitialEquity), nil
	}
	if e.cfg.Backtest.InitialEquity != nil {
		return decimal.NewFromFloat(*e.cfg.Backtest.InitialEquity), nil
	}
	if e.cfg.Position.CValue != nil {
		return decimal.NewFromFloat(*e.cfg.Position.CValue), nil
	}
	return decimal.NewFromInt(defaultInitialEquity), nil
}

func (e *Engine) Run(bars []strategy.Bar) (*Result, error) {
	pipeline, err := strategy.NewPipeline(e.cfg)
	if err != nil {
		return nil, err
	}
	machine := state.NewMachine(e.cfg.Risk)
	equity, err := e.initialEquity()
	if err != nil {
		return nil, err
	}

	// Entries always size with the skip policy so a thin bar produces no
	// trade instead of a padded one.
	sizerA := position.NewSizeConverter(e.cfg.ConstraintsFor(e.cfg.Strategy.LegA), config.MinSizeSkip)
	sizerB := position.NewSizeConverter(e.cfg.ConstraintsFor(e.cfg.Strategy.LegB), config.MinSizeSkip)

	result := &Result{}
	var open *state.PositionSnapshot

	for i := range bars {
		bar := bars[i]
		machine.Update(bar.Timestamp)
		current := machine.State()
		out, err := pipeline.Update(bar.PriceA, bar.PriceB, current.Status, current.Position, bar.Timestamp)
		if err != nil {
			return nil, err
		}

		if out.Entry != nil && out.Vol.VolA != nil && out.Vol.VolB != nil {
			snapshot, err := e.tryEnter(bar, out.Entry.Direction, *out.Vol.VolA, *out.Vol.VolB, equity, sizerA, sizerB)
			if err != nil {
				return nil, err
			}
			if snapshot != nil {
				if err := machine.Enter(*snapshot, bar.Timestamp); err != nil {
					return nil, err
				}
				open = snapshot
			}
		}

		if out.Exit != nil && open != nil {
			holdingHours := int(bar.Timestamp.Sub(open.EntryTime).Hours())
			if holdingHours < 0 {
				holdingHours = 0
			}
			pnl, err := e.tradePnL(*open, bar, holdingHours)
			if err != nil {
				return nil, err
			}
			equity = equity.Add(pnl)
			result.Trades = append(result.Trades, Trade{
				EntryTime:  open.EntryTime,
				ExitTime:   bar.Timestamp,
				PnL:        pnl,
				ExitReason: out.Exit.Reason,
			})
			if err := machine.Exit(out.Exit.Reason, bar.Timestamp); err != nil {
				return nil, err
			}
			open = nil
		}

		result.EquityCurve = append(result.EquityCurve, EquityPoint{
			Timestamp: bar.Timestamp,
			Equity:    equity,
		})

		final := machine.State()
		result.BarLogs = append(result.BarLogs, strategy.BarLog{
			Timestamp: bar.Timestamp,
			PriceA:    &bars[i].PriceA,
			PriceB:    &bars[i].PriceB,
			R:         &out.R,
			Mu:        out.Score.Mean,
			Sigma:     out.Score.Sigma,
			SigmaEff:  out.Score.SigmaEff,
			Z:         out.Score.Z,
			VolA:      out.Vol.VolA,
			VolB:      out.Vol.VolB,
			FundingA:  bar.FundingA,
			FundingB:  bar.FundingB,
			State:     final.Status,
			Position:  final.Position,
		})
	}

	metrics, err := ComputeMetrics(result.Trades, result.EquityCurve, e.cfg.Backtest.RiskFreeRate)
	if err != nil {
		return nil, err
	}
	result.Metrics = metrics
	return result, nil
}

func (e *Engine) tryEnter(bar strategy.Bar, direction state.Direction, volA, volB, equity decimal.Decimal, sizerA, sizerB *position.SizeConverter) (*state.PositionSnapshot, error) {
	capital, err := position.Capital(e.cfg.Position, equity)
	if err != nil {
		return nil, err
	}
	if e.cfg.Position.MaxNotional != nil {
		limit := decimal.NewFromFloat(*e.cfg.Position.MaxNotional)
		if capital.GreaterThan(limit) {
			return nil, fmt.Errorf("%w: %s > %s", ErrCapitalExceeded, capital, limit)
		}
	}
	weights, err := position.RiskParityWeights(volA, volB)
	if err != nil {
		return nil, err
	}
	notionalA := capital.Mul(weights.WA)
	notionalB := capital.Mul(weights.WB)

	sizeA, err := sizerA.ConvertNotional(notionalA, bar.PriceA)
	if err != nil {
		if errors.Is(err, position.ErrBelowMinimum) {
			return nil, nil
		}
		return nil, err
	}
	sizeB, err := sizerB.ConvertNotional(notionalB, bar.PriceB)
	if err != nil {
		if errors.Is(err, position.ErrBelowMinimum) {
			return nil, nil
		}
		return nil, err
	}

	qtyA := sizeA.Qty
	qtyB := sizeB.Qty.Neg()
	if !direction.LongA() {
		qtyA = qtyA.Neg()
		qtyB = qtyB.Neg()
	}
	return &state.PositionSnapshot{
		Direction: direction,
		EntryTime: bar.Timestamp,
		LegA:      state.PositionLeg{Qty: qtyA, AvgPrice: bar.PriceA, Notional: notionalA},
		LegB:      state.PositionLeg{Qty: qtyB, AvgPrice: bar.PriceB, Notional: notionalB},
	}, nil
}

// tradePnL applies signed percentage returns per leg to the entry
// notionals, then subtracts the enabled fee, slippage, and funding costs.
func (e *Engine) tradePnL(pos state.PositionSnapshot, bar strategy.Bar, holdingHours int) (decimal.Decimal, error) {
	retA := bar.PriceA.Sub(pos.LegA.AvgPrice).Div(pos.LegA.AvgPrice)
	retB := bar.PriceB.Sub(pos.LegB.AvgPrice).Div(pos.LegB.AvgPrice)
	var pnl decimal.Decimal
	if pos.Direction.LongA() {
		pnl = retA.Mul(pos.LegA.Notional).Sub(retB.Mul(pos.LegB.Notional))
	} else {
		pnl = retB.Mul(pos.LegB.Notional).Sub(retA.Mul(pos.LegA.Notional))
	}

	totalNotional := pos.LegA.Notional.Add(pos.LegB.Notional)
	bps := decimal.NewFromInt(10000)
	if e.cfg.Backtest.Fees() {
		pnl = pnl.Sub(totalNotional.Mul(decimal.NewFromInt(int64(e.cfg.Backtest.FeeBps))).Div(bps))
	}
	if e.cfg.Backtest.Slippage() {
		pnl = pnl.Sub(totalNotional.Mul(decimal.NewFromInt(int64(e.cfg.Backtest.SlippageBps))).Div(bps))
	}

	if e.cfg.Backtest.Funding() && bar.FundingA != nil && bar.FundingB != nil {
		rateA := funding.Rate{Instrument: e.cfg.Strategy.LegA, Rate: *bar.FundingA, Timestamp: bar.Timestamp, IntervalHours: 8}
		rateB := funding.Rate{Instrument: e.cfg.Strategy.LegB, Rate: *bar.FundingB, Timestamp: bar.Timestamp, IntervalHours: 8}
		est, err := funding.EstimateCost(pos.Direction, pos.LegA.Notional, pos.LegB.Notional, rateA, rateB, holdingHours)
		if err != nil {
			return decimal.Decimal{}, err
		}
		pnl = pnl.Sub(est.Cost)
	}
	return pnl, nil
}

// RunSensitivity runs the same bars under each configuration in order.
func RunSensitivity(cfgs []*config.Config, bars []strategy.Bar, log *zap.Logger) ([]*Result, error) {
	results := make([]*Result, 0, len(cfgs))
	for _, cfg := range cfgs {
		result, err := NewEngine(cfg, log).Run(bars)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// VerifyReproducibility runs twice and confirms identical trade counts
// and final equity.
func VerifyReproducibility(cfg *config.Config, bars []strategy.Bar, log *zap.Logger) error {
	engine := NewEngine(cfg, log)
	first, err := engine.Run(bars)
	if err != nil {
		return err
	}
	second, err := engine.Run(bars)
	if err != nil {
		return err
	}
	if len(first.Trades) != len(second.Trades) {
		return fmt.Errorf("backtest: trade count mismatch (%d vs %d)", len(first.Trades), len(second.Trades))
	}
	if len(first.EquityCurve) > 0 {
		a := first.EquityCurve[len(first.EquityCurve)-1].Equity
		b := second.EquityCurve[len(second.EquityCurve)-1].Equity
		if !a.Equal(b) {
			return fmt.Errorf("backtest: final equity mismatch (%s vs %s)", a, b)
		}
	}
	return nil
}
