// Package signals turns z-score snapshots into entry and exit decisions.
package signals

import (
	"time"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/state"
)

type EntrySignal struct {
	Direction state.Direction
	Z         decimal.Decimal
}

type ExitSignal struct {
	Reason state.ExitReason
	Z      decimal.Decimal
}

// EntryDetector fires when |z| crosses from below entry_z into the
// [entry_z, sl_z) band. Being inside the band is not enough: a bar
// already beyond entry_z only triggers if the previous bar was below it,
// so a restart mid-excursion does not chase the move.
type EntryDetector struct {
	entryZ decimal.Decimal
	slZ    decimal.Decimal
	prevZ  *decimal.Decimal
}

func NewEntryDetector(cfg config.StrategyConfig) *EntryDetector {
	return &EntryDetector{
		entryZ: decimal.NewFromFloat(cfg.EntryZ),
		slZ:    decimal.NewFromFloat(cfg.SLZ),
	}
}

// Update consumes the latest z-score (nil while the window warms up) and
// returns an entry signal when a crossing lands in the entry band and
// the strategy is flat. A nil z-score resets the crossing memory.
func (d *EntryDetector) Update(z *decimal.Decimal, status state.Status) *EntrySignal {
	if z == nil {
		d.prevZ = nil
		return nil
	}

	absZ := z.Abs()
	inZone := absZ.GreaterThanOrEqual(d.entryZ) && absZ.LessThan(d.slZ)
	crossed := inZone
	if d.prevZ != nil {
		crossed = d.prevZ.Abs().LessThan(d.entryZ) && inZone
	}

	v := *z
	d.prevZ = &v

	if !crossed || status != state.Flat {
		return nil
	}

	direction := state.LongAShortB
	if z.GreaterThanOrEqual(d.entryZ) {
		direction = state.ShortALongB
	}
	return &EntrySignal{Direction: direction, Z: *z}
}

// ExitDetector evaluates stop loss, take profit (with optional
// confirmation bars), and the time stop, in that priority order.
type ExitDetector struct {
	tpZ           decimal.Decimal
	slZ           decimal.Decimal
	maxHoldHours  int
	confirmBarsTP int
	tpCount       int
}

func NewExitDetector(strategy config.StrategyConfig, risk config.RiskConfig) *ExitDetector {
	return &ExitDetector{
		tpZ:           decimal.NewFromFloat(strategy.TPZ),
		slZ:           decimal.NewFromFloat(strategy.SLZ),
		maxHoldHours:  risk.MaxHoldHours,
		confirmBarsTP: risk.ConfirmBarsTP,
	}
}

func (d *ExitDetector) Evaluate(z *decimal.Decimal, status state.Status, position *state.PositionSnapshot, now time.Time) *ExitSignal {
	if status != state.InPosition {
		d.tpCount = 0
		return nil
	}
	if position == nil || z == nil {
		d.tpCount = 0
		return nil
	}
	absZ := z.Abs()

	if absZ.GreaterThanOrEqual(d.slZ) {
		d.tpCount = 0
		return &ExitSignal{Reason: state.StopLoss, Z: *z}
	}

	if absZ.LessThanOrEqual(d.tpZ) {
		if d.confirmBarsTP == 0 {
			d.tpCount = 0
			return &ExitSignal{Reason: state.TakeProfit, Z: *z}
		}
		d.tpCount++
		if d.tpCount >= d.confirmBarsTP {
			d.tpCount = 0
			return &ExitSignal{Reason: state.TakeProfit, Z: *z}
		}
	} else {
		d.tpCount = 0
	}

	if position.HoldingHours(now) >= int64(d.maxHoldHours) {
		return &ExitSignal{Reason: state.TimeStop, Z: *z}
	}

	return nil
}
