// Package state holds the strategy position lifecycle: the Flat /
// InPosition / Cooldown machine, crash recovery, and persistence.
package state

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction of a pair position: which leg is long.
type Direction string

const (
	LongAShortB Direction = "LONG_A_SHORT_B"
	ShortALongB Direction = "SHORT_A_LONG_B"
)

func (d Direction) LongA() bool { return d == LongAShortB }
func (d Direction) LongB() bool { return d == ShortALongB }

type ExitReason string

const (
	TakeProfit ExitReason = "TAKE_PROFIT"
	StopLoss   ExitReason = "STOP_LOSS"
	TimeStop   ExitReason = "TIME_STOP"
)

type Status string

const (
	Flat       Status = "FLAT"
	InPosition Status = "IN_POSITION"
	Cooldown   Status = "COOLDOWN"
)

type PositionLeg struct {
	Qty      decimal.Decimal `json:"qty"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	Notional decimal.Decimal `json:"notional"`
}

type PositionSnapshot struct {
	Direction Direction   `json:"direction"`
	EntryTime time.Time   `json:"entry_time"`
	LegA      PositionLeg `json:"leg_a"`
	LegB      PositionLeg `json:"leg_b"`
}

// HasResidual reports a one-sided position: exactly one leg open.
func (p *PositionSnapshot) HasResidual() bool {
	aZero := p.LegA.Qty.IsZero()
	bZero := p.LegB.Qty.IsZero()
	return aZero != bZero
}

func (p *PositionSnapshot) IsFlat() bool {
	return p.LegA.Qty.IsZero() && p.LegB.Qty.IsZero()
}

// HoldingHours is the whole number of hours since entry.
func (p *PositionSnapshot) HoldingHours(now time.Time) int64 {
	return int64(now.Sub(p.EntryTime).Hours())
}

type StrategyState struct {
	Status        Status            `json:"status"`
	Position      *PositionSnapshot `json:"position,omitempty"`
	CooldownUntil *time.Time        `json:"cooldown_until,omitempty"`
}

func NewState() StrategyState {
	return StrategyState{Status: Flat}
}
