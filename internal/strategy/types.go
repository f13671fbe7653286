package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/state"
)

type EventKind string

const (
	EventEntry          EventKind = "ENTRY"
	EventExit           EventKind = "EXIT"
	EventCooldownStart  EventKind = "COOLDOWN_START"
	EventResidualRepair EventKind = "RESIDUAL_REPAIR"
)

// Event is one state-changing occurrence on a bar. Reason is set for
// exit events only.
type Event struct {
	Kind   EventKind        `json:"kind"`
	Reason state.ExitReason `json:"reason,omitempty"`
}

// Bar is one aligned observation of both legs, with funding rates and
// account equity attached when the caller had them.
type Bar struct {
	Timestamp            time.Time
	PriceA               decimal.Decimal
	PriceB               decimal.Decimal
	FundingA             *decimal.Decimal
	FundingB             *decimal.Decimal
	FundingIntervalHours int
	Equity               *decimal.Decimal
}

// BarLog is the full per-bar snapshot written to the journal.
type BarLog struct {
	Timestamp      time.Time               `json:"timestamp"`
	PriceA         *decimal.Decimal        `json:"price_a,omitempty"`
	PriceB         *decimal.Decimal        `json:"price_b,omitempty"`
	R              *decimal.Decimal        `json:"r,omitempty"`
	Mu             *decimal.Decimal        `json:"mu,omitempty"`
	Sigma          *decimal.Decimal        `json:"sigma,omitempty"`
	SigmaEff       *decimal.Decimal        `json:"sigma_eff,omitempty"`
	Z              *decimal.Decimal        `json:"zscore,omitempty"`
	VolA           *decimal.Decimal        `json:"vol_a,omitempty"`
	VolB           *decimal.Decimal        `json:"vol_b,omitempty"`
	WA             *decimal.Decimal        `json:"w_a,omitempty"`
	WB             *decimal.Decimal        `json:"w_b,omitempty"`
	NotionalA      *decimal.Decimal        `json:"notional_a,omitempty"`
	NotionalB      *decimal.Decimal        `json:"notional_b,omitempty"`
	FundingA       *decimal.Decimal        `json:"funding_a,omitempty"`
	FundingB       *decimal.Decimal        `json:"funding_b,omitempty"`
	FundingCostEst *decimal.Decimal        `json:"funding_cost_est,omitempty"`
	FundingSkip    *bool                   `json:"funding_skip,omitempty"`
	UnrealizedPnL  decimal.Decimal         `json:"unrealized_pnl"`
	State          state.Status            `json:"state"`
	Position       *state.PositionSnapshot `json:"position,omitempty"`
	Events         []Event                 `json:"events"`
}

type TradeEvent string

const (
	TradeEntry TradeEvent = "ENTRY"
	TradeExit  TradeEvent = "EXIT"
)

// TradeLog records one executed entry or exit.
type TradeLog struct {
	Timestamp             time.Time        `json:"timestamp"`
	Event                 TradeEvent       `json:"event"`
	Reason                state.ExitReason `json:"reason,omitempty"`
	Direction             state.Direction  `json:"direction"`
	QtyA                  decimal.Decimal  `json:"qty_a"`
	QtyB                  decimal.Decimal  `json:"qty_b"`
	PriceA                decimal.Decimal  `json:"price_a"`
	PriceB                decimal.Decimal  `json:"price_b"`
	EntryTime             time.Time        `json:"entry_time"`
	EntryPriceA           decimal.Decimal  `json:"entry_price_a"`
	EntryPriceB           decimal.Decimal  `json:"entry_price_b"`
	RealizedPnL           decimal.Decimal  `json:"realized_pnl"`
	CumulativeRealizedPnL decimal.Decimal  `json:"cumulative_realized_pnl"`
}

// Outcome is everything one processed bar produced.
type Outcome struct {
	Bar    BarLog
	Trades []TradeLog
	Events []Event
}
