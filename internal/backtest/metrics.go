package backtest

import (
	"math"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/state"
)

const secondsPerYear = 31_536_000

// Metrics summarizes a run. A run with no trades or fewer than two
// equity points reports zeros across the board.
type Metrics struct {
	WinRate          decimal.Decimal `json:"win_rate"`
	ProfitFactor     decimal.Decimal `json:"profit_factor"`
	StopLossRate     decimal.Decimal `json:"stop_loss_rate"`
	AnnualizedReturn decimal.Decimal `json:"annualized_return"`
	SharpeRatio      decimal.Decimal `json:"sharpe_ratio"`
	MaxDrawdown      decimal.Decimal `json:"max_drawdown"`
	TradeCount       int             `json:"trade_count"`
}

func ComputeMetrics(trades []Trade, curve []EquityPoint, riskFreeRate float64) (Metrics, error) {
	if len(trades) == 0 || len(curve) < 2 {
		return Metrics{}, nil
	}

	wins := 0
	stopLosses := 0
	profit := decimal.Zero
	loss := decimal.Zero
	for _, trade := range trades {
		switch {
		case trade.PnL.Sign() > 0:
			wins++
			profit = profit.Add(trade.PnL)
		case trade.PnL.Sign() < 0:
			loss = loss.Add(trade.PnL.Abs())
		}
		if trade.ExitReason == state.StopLoss {
			stopLosses++
		}
	}
	count := decimal.NewFromInt(int64(len(trades)))
	metrics := Metrics{
		WinRate:      decimal.NewFromInt(int64(wins)).Div(count),
		StopLossRate: decimal.NewFromInt(int64(stopLosses)).Div(count),
		TradeCount:   len(trades),
	}
	if !loss.IsZero() {
		metrics.ProfitFactor = profit.Div(loss)
	}

	start := curve[0]
	end := curve[len(curve)-1]
	durationSecs := end.Timestamp.Sub(start.Timestamp).Seconds()
	if durationSecs > 0 && start.Equity.Sign() > 0 && end.Equity.Sign() > 0 {
		years := durationSecs / secondsPerYear
		total, _ := end.Equity.Div(start.Equity).Float64()
		annualized := math.Pow(total, 1/years) - 1
		if !math.IsNaN(annualized) && !math.IsInf(annualized, 0) {
			metrics.AnnualizedReturn = decimal.NewFromFloat(annualized)
		}
	}

	peak := decimal.Zero
	for _, point := range curve {
		if point.Equity.GreaterThan(peak) {
			peak = point.Equity
		}
		if peak.Sign() > 0 {
			drawdown := peak.Sub(point.Equity).Div(peak)
			if drawdown.GreaterThan(metrics.MaxDrawdown) {
				metrics.MaxDrawdown = drawdown
			}
		}
	}

	metrics.SharpeRatio = sharpeRatio(curve, riskFreeRate)
	return metrics, nil
}

// sharpeRatio computes the annualized Sharpe over per-bar equity
// returns, with sample variance and the risk-free rate converted to a
// per-period rate.
func sharpeRatio(curve []EquityPoint, riskFreeRate float64) decimal.Decimal {
	returns := make([]float64, 0, len(curve)-1)
	totalDelta := 0.0
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1]
		next := curve[i]
		if prev.Equity.Sign() <= 0 {
			continue
		}
		ret, _ := next.Equity.Div(prev.Equity).Float64()
		returns = append(returns, ret-1)
		totalDelta += next.Timestamp.Sub(prev.Timestamp).Seconds()
	}
	if len(returns) < 2 || totalDelta <= 0 {
		return decimal.Zero
	}

	mean := 0.0
	for _, ret := range returns {
		mean += ret
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, ret := range returns {
		diff := ret - mean
		variance += diff * diff
	}
	variance /= float64(len(returns)) - 1
	std := math.Sqrt(variance)
	if std <= 0 {
		return decimal.Zero
	}

	avgDelta := totalDelta / float64(len(returns))
	periodsPerYear := secondsPerYear / avgDelta
	rfPerPeriod := math.Pow(1+riskFreeRate, 1/periodsPerYear) - 1
	sharpe := (mean - rfPerPeriod) / std * math.Sqrt(periodsPerYear)
	if math.IsNaN(sharpe) || math.IsInf(sharpe, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(sharpe)
}
