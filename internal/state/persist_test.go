package state

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type memStore struct {
	values map[string]string
}

func newMemStore() *memStore { return &memStore{values: map[string]string{}} }

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	delete(m.values, key)
	return nil
}

func (m *memStore) Close() error { return nil }

func TestStrategyStateRoundTrip(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	_, ok, err := LoadStrategyState(ctx, store)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if ok {
		t.Fatalf("expected no persisted state")
	}

	entry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	saved := StrategyState{
		Status: InPosition,
		Position: &PositionSnapshot{
			Direction: ShortALongB,
			EntryTime: entry,
			LegA:      PositionLeg{Qty: decimal.NewFromFloat(1.25), AvgPrice: decimal.NewFromInt(2000), Notional: decimal.NewFromInt(2500)},
			LegB:      PositionLeg{Qty: decimal.NewFromFloat(0.0625), AvgPrice: decimal.NewFromInt(40000), Notional: decimal.NewFromInt(2500)},
		},
	}
	if err := SaveStrategyState(ctx, store, saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := LoadStrategyState(ctx, store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("expected persisted state")
	}
	if got.Status != InPosition || got.Position == nil {
		t.Fatalf("unexpected state: %+v", got)
	}
	if got.Position.Direction != ShortALongB || !got.Position.EntryTime.Equal(entry) {
		t.Fatalf("unexpected position: %+v", got.Position)
	}
	if !got.Position.LegA.Qty.Equal(decimal.NewFromFloat(1.25)) {
		t.Fatalf("unexpected leg qty: %v", got.Position.LegA.Qty)
	}
}

func TestLoadStrategyStateNilStore(t *testing.T) {
	_, ok, err := LoadStrategyState(context.Background(), nil)
	if err != nil || ok {
		t.Fatalf("expected nil store to report nothing, got ok=%v err=%v", ok, err)
	}
}
