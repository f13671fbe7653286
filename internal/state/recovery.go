package state

import "time"

type RecoveryAction string

const RepairResidual RecoveryAction = "REPAIR_RESIDUAL"

type RecoveryReport struct {
	State   StrategyState
	Actions []RecoveryAction
	Alerts  []string
}

// Recover sanitizes a persisted state on startup: expired cooldowns go
// flat, an in-position state without a snapshot is reset, and a
// one-sided position is flagged for residual repair.
func Recover(s StrategyState, now time.Time) RecoveryReport {
	report := RecoveryReport{}

	if s.Status == Cooldown && s.CooldownUntil != nil && !now.Before(*s.CooldownUntil) {
		s.Status = Flat
		s.CooldownUntil = nil
	}

	if s.Status == InPosition {
		switch {
		case s.Position == nil:
			report.Alerts = append(report.Alerts, "missing position while in-position")
			s.Status = Flat
		case s.Position.HasResidual():
			report.Actions = append(report.Actions, RepairResidual)
			report.Alerts = append(report.Alerts, "residual leg detected on recovery")
		}
	}

	report.State = s
	return report
}
