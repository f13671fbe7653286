package app

import (
	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/strategy"
	"hl-pairs-bot/internal/timescale"
)

// Timescale columns are float64 for dashboard friendliness; the journal
// and sqlite keep the exact decimal values.
func floatPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f, _ := d.Float64()
	return &f
}

func barRow(bar strategy.BarLog) timescale.BarRow {
	row := timescale.BarRow{
		Time:           bar.Timestamp,
		PriceA:         floatPtr(bar.PriceA),
		PriceB:         floatPtr(bar.PriceB),
		R:              floatPtr(bar.R),
		Mu:             floatPtr(bar.Mu),
		Sigma:          floatPtr(bar.Sigma),
		SigmaEff:       floatPtr(bar.SigmaEff),
		Z:              floatPtr(bar.Z),
		VolA:           floatPtr(bar.VolA),
		VolB:           floatPtr(bar.VolB),
		FundingA:       floatPtr(bar.FundingA),
		FundingB:       floatPtr(bar.FundingB),
		FundingCostEst: floatPtr(bar.FundingCostEst),
		UnrealizedPnL:  floatPtr(&bar.UnrealizedPnL),
		State:          string(bar.State),
	}
	if bar.FundingSkip != nil {
		row.FundingSkip = *bar.FundingSkip
	}
	if bar.Position != nil {
		row.Direction = string(bar.Position.Direction)
	}
	return row
}

func tradeRow(trade strategy.TradeLog) timescale.TradeRow {
	row := timescale.TradeRow{
		Time:          trade.Timestamp,
		Event:         string(trade.Event),
		Direction:     string(trade.Direction),
		Reason:        string(trade.Reason),
		CumulativePnL: decimalFloat(trade.CumulativeRealizedPnL),
		PriceA:        decimalFloat(trade.PriceA),
		PriceB:        decimalFloat(trade.PriceB),
		QtyA:          decimalFloat(trade.QtyA),
		QtyB:          decimalFloat(trade.QtyB),
		NotionalA:     decimalFloat(trade.QtyA.Abs().Mul(trade.PriceA)),
		NotionalB:     decimalFloat(trade.QtyB.Abs().Mul(trade.PriceB)),
	}
	if trade.Event == strategy.TradeExit {
		pnl := decimalFloat(trade.RealizedPnL)
		row.RealizedPnL = &pnl
	}
	return row
}

func decimalFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
