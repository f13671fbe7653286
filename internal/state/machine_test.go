package state

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/config"
)

func testRisk() config.RiskConfig {
	return config.RiskConfig{MaxHoldHours: 48, CooldownHours: 24}
}

func testPosition(entry time.Time) PositionSnapshot {
	return PositionSnapshot{
		Direction: LongAShortB,
		EntryTime: entry,
		LegA:      PositionLeg{Qty: decimal.NewFromInt(1), AvgPrice: decimal.NewFromInt(2000), Notional: decimal.NewFromInt(2000)},
		LegB:      PositionLeg{Qty: decimal.NewFromFloat(0.05), AvgPrice: decimal.NewFromInt(40000), Notional: decimal.NewFromInt(2000)},
	}
}

func TestMachineEnterExitTakeProfit(t *testing.T) {
	m := NewMachine(testRisk())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := m.Enter(testPosition(now), now); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if m.State().Status != InPosition {
		t.Fatalf("expected in-position, got %s", m.State().Status)
	}
	if err := m.Exit(TakeProfit, now.Add(time.Hour)); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if m.State().Status != Flat || m.State().Position != nil || m.State().CooldownUntil != nil {
		t.Fatalf("expected flat state after take profit, got %+v", m.State())
	}
}

func TestMachineStopLossStartsCooldown(t *testing.T) {
	m := NewMachine(testRisk())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := m.Enter(testPosition(now), now); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := m.Exit(StopLoss, now); err != nil {
		t.Fatalf("exit: %v", err)
	}
	s := m.State()
	if s.Status != Cooldown || s.CooldownUntil == nil {
		t.Fatalf("expected cooldown after stop loss, got %+v", s)
	}
	if got := s.CooldownUntil.Sub(now); got != 24*time.Hour {
		t.Fatalf("expected 24h cooldown, got %v", got)
	}

	if err := m.Enter(testPosition(now), now.Add(time.Hour)); err == nil {
		t.Fatalf("expected enter to fail during cooldown")
	}

	m.Update(now.Add(23 * time.Hour))
	if m.State().Status != Cooldown {
		t.Fatalf("expected cooldown to persist before deadline")
	}
	m.Update(now.Add(24 * time.Hour))
	if m.State().Status != Flat {
		t.Fatalf("expected flat after cooldown expiry, got %s", m.State().Status)
	}
	if err := m.Enter(testPosition(now), now.Add(25*time.Hour)); err != nil {
		t.Fatalf("enter after cooldown: %v", err)
	}
}

func TestMachineRejectsInvalidTransitions(t *testing.T) {
	m := NewMachine(testRisk())
	now := time.Now().UTC()
	if err := m.Exit(TakeProfit, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for exit while flat, got %v", err)
	}
	if err := m.Enter(testPosition(now), now); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := m.Enter(testPosition(now), now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for double enter, got %v", err)
	}
}

func TestMachineHydrateValidates(t *testing.T) {
	m := NewMachine(testRisk())
	pos := testPosition(time.Now().UTC())
	if err := m.Hydrate(StrategyState{Status: Flat, Position: &pos}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected hydrate to reject flat state with position, got %v", err)
	}
	if err := m.Hydrate(StrategyState{Status: InPosition}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected hydrate to reject in-position without snapshot, got %v", err)
	}
	if err := m.Hydrate(StrategyState{Status: Cooldown}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected hydrate to reject cooldown without deadline, got %v", err)
	}
	if err := m.Hydrate(StrategyState{Status: InPosition, Position: &pos}); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if m.State().Status != InPosition {
		t.Fatalf("expected hydrated in-position state")
	}
}

func TestPositionResidualDetection(t *testing.T) {
	pos := testPosition(time.Now().UTC())
	if pos.HasResidual() {
		t.Fatalf("balanced position should not be residual")
	}
	pos.LegB.Qty = decimal.Zero
	if !pos.HasResidual() {
		t.Fatalf("one-sided position should be residual")
	}
	pos.LegA.Qty = decimal.Zero
	if pos.HasResidual() || !pos.IsFlat() {
		t.Fatalf("empty position should be flat, not residual")
	}
}

func TestRecoverExpiresCooldown(t *testing.T) {
	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	report := Recover(StrategyState{Status: Cooldown, CooldownUntil: &past}, now)
	if report.State.Status != Flat || report.State.CooldownUntil != nil {
		t.Fatalf("expected expired cooldown to go flat, got %+v", report.State)
	}
	if len(report.Actions) != 0 {
		t.Fatalf("expected no recovery actions, got %v", report.Actions)
	}
}

func TestRecoverFlagsResidual(t *testing.T) {
	now := time.Now().UTC()
	pos := testPosition(now.Add(-time.Hour))
	pos.LegB.Qty = decimal.Zero
	report := Recover(StrategyState{Status: InPosition, Position: &pos}, now)
	if len(report.Actions) != 1 || report.Actions[0] != RepairResidual {
		t.Fatalf("expected residual repair action, got %v", report.Actions)
	}
	if len(report.Alerts) == 0 {
		t.Fatalf("expected alert for residual leg")
	}
	if report.State.Status != InPosition {
		t.Fatalf("expected state to remain in-position pending repair")
	}
}

func TestRecoverResetsMissingPosition(t *testing.T) {
	now := time.Now().UTC()
	report := Recover(StrategyState{Status: InPosition}, now)
	if report.State.Status != Flat {
		t.Fatalf("expected reset to flat, got %s", report.State.Status)
	}
	if len(report.Alerts) == 0 {
		t.Fatalf("expected alert for missing position")
	}
}
