package state

import (
	"errors"
	"fmt"
	"time"

	"hl-pairs-bot/internal/config"
)

var ErrInvalidTransition = errors.New("invalid transition")

// Machine enforces the position lifecycle. Transitions that would skip a
// phase (enter while holding, exit while flat) are rejected.
type Machine struct {
	state    StrategyState
	cooldown time.Duration
}

func NewMachine(risk config.RiskConfig) *Machine {
	return &Machine{
		state:    NewState(),
		cooldown: time.Duration(risk.CooldownHours) * time.Hour,
	}
}

func (m *Machine) State() StrategyState { return m.state }

// ForceFlat wipes the machine back to flat. Used after rollback when the
// venue is known to hold no position.
func (m *Machine) ForceFlat() {
	m.state = NewState()
}

// Hydrate replaces the machine state with a persisted one after checking
// internal consistency.
func (m *Machine) Hydrate(s StrategyState) error {
	switch s.Status {
	case Flat:
		if s.Position != nil {
			return fmt.Errorf("%w: flat state cannot contain position", ErrInvalidTransition)
		}
	case InPosition:
		if s.Position == nil {
			return fmt.Errorf("%w: in-position state missing position", ErrInvalidTransition)
		}
	case Cooldown:
		if s.CooldownUntil == nil {
			return fmt.Errorf("%w: cooldown state missing cooldown_until", ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, s.Status)
	}
	m.state = s
	return nil
}

func (m *Machine) Enter(position PositionSnapshot, now time.Time) error {
	if m.state.Status != Flat {
		return fmt.Errorf("%w: cannot enter unless flat", ErrInvalidTransition)
	}
	if m.state.CooldownUntil != nil && now.Before(*m.state.CooldownUntil) {
		return fmt.Errorf("%w: cannot enter during cooldown", ErrInvalidTransition)
	}
	m.state.Status = InPosition
	m.state.Position = &position
	m.state.CooldownUntil = nil
	return nil
}

// Exit closes the position. A stop loss starts the cooldown clock; take
// profit and time stop return straight to flat.
func (m *Machine) Exit(reason ExitReason, now time.Time) error {
	if m.state.Status != InPosition {
		return fmt.Errorf("%w: cannot exit unless in position", ErrInvalidTransition)
	}
	switch reason {
	case StopLoss:
		until := now.Add(m.cooldown)
		m.state.Status = Cooldown
		m.state.CooldownUntil = &until
	case TakeProfit, TimeStop:
		m.state.Status = Flat
		m.state.CooldownUntil = nil
	default:
		return fmt.Errorf("%w: unknown exit reason %q", ErrInvalidTransition, reason)
	}
	m.state.Position = nil
	return nil
}

// Update expires the cooldown once its deadline passes.
func (m *Machine) Update(now time.Time) {
	if m.state.Status == Cooldown && m.state.CooldownUntil != nil && !now.Before(*m.state.CooldownUntil) {
		m.state.Status = Flat
		m.state.CooldownUntil = nil
	}
}
