package state

import (
	"context"
	"encoding/json"
	"strings"
)

const StrategyStateKey = "strategy:state"

// LoadStrategyState reads the persisted lifecycle state, reporting false
// when none has been saved yet.
func LoadStrategyState(ctx context.Context, store Store) (StrategyState, bool, error) {
	if store == nil {
		return StrategyState{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, StrategyStateKey)
	if err != nil {
		return StrategyState{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return StrategyState{}, false, nil
	}
	var s StrategyState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return StrategyState{}, false, err
	}
	return s, true, nil
}

func SaveStrategyState(ctx context.Context, store Store, s StrategyState) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return store.Set(ctx, StrategyStateKey, string(payload))
}
