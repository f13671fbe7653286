package exec

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/state"
)

type mockCall struct {
	kind  string
	order OrderRequest
}

type mockExecutor struct {
	submits map[string][]response
	closes  map[string][]response
	calls   []mockCall
}

type response struct {
	fill decimal.Decimal
	err  error
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{submits: map[string][]response{}, closes: map[string][]response{}}
}

func (m *mockExecutor) pushSubmit(instrument string, fill decimal.Decimal, err error) {
	m.submits[instrument] = append(m.submits[instrument], response{fill: fill, err: err})
}

func (m *mockExecutor) pushClose(instrument string, fill decimal.Decimal, err error) {
	m.closes[instrument] = append(m.closes[instrument], response{fill: fill, err: err})
}

func (m *mockExecutor) pop(store map[string][]response, instrument string) response {
	queue := store[instrument]
	if len(queue) == 0 {
		return response{err: Fatalf("no mock response for %s", instrument)}
	}
	head := queue[0]
	store[instrument] = queue[1:]
	return head
}

func (m *mockExecutor) Submit(_ context.Context, order OrderRequest) (decimal.Decimal, error) {
	m.calls = append(m.calls, mockCall{kind: "submit", order: order})
	r := m.pop(m.submits, order.Instrument)
	return r.fill, r.err
}

func (m *mockExecutor) Close(_ context.Context, order OrderRequest) (decimal.Decimal, error) {
	m.calls = append(m.calls, mockCall{kind: "close", order: order})
	r := m.pop(m.closes, order.Instrument)
	return r.fill, r.err
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}
}

func order(instrument string, side OrderSide, qty float64) OrderRequest {
	return OrderRequest{Instrument: instrument, Side: side, Qty: decimal.NewFromFloat(qty), Type: config.OrderMarket}
}

func TestOpenPairSuccess(t *testing.T) {
	mock := newMockExecutor()
	mock.pushSubmit("ETH-PERP", decimal.NewFromInt(1), nil)
	mock.pushSubmit("BTC-PERP", decimal.NewFromFloat(0.05), nil)
	engine := NewEngine(mock, fastRetry(), nil)

	err := engine.OpenPair(context.Background(), order("ETH-PERP", Buy, 1), order("BTC-PERP", Sell, 0.05))
	if err != nil {
		t.Fatalf("open pair: %v", err)
	}
	if len(mock.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(mock.calls))
	}
}

func TestOpenPairFirstLegFailureAborts(t *testing.T) {
	mock := newMockExecutor()
	mock.pushSubmit("ETH-PERP", decimal.Zero, Fatalf("rejected"))
	engine := NewEngine(mock, fastRetry(), nil)

	err := engine.OpenPair(context.Background(), order("ETH-PERP", Buy, 1), order("BTC-PERP", Sell, 0.05))
	if err == nil || IsPartialFill(err) {
		t.Fatalf("first leg failure must not be a partial fill, got %v", err)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected no second leg or rollback, got %d calls", len(mock.calls))
	}
}

func TestOpenPairSecondLegFailureRollsBack(t *testing.T) {
	mock := newMockExecutor()
	mock.pushSubmit("ETH-PERP", decimal.NewFromInt(1), nil)
	mock.pushSubmit("BTC-PERP", decimal.Zero, Fatalf("rejected"))
	mock.pushClose("ETH-PERP", decimal.NewFromInt(1), nil)
	engine := NewEngine(mock, fastRetry(), nil)

	err := engine.OpenPair(context.Background(), order("ETH-PERP", Buy, 1), order("BTC-PERP", Sell, 0.05))
	if !IsPartialFill(err) {
		t.Fatalf("expected partial fill error, got %v", err)
	}
	last := mock.calls[len(mock.calls)-1]
	if last.kind != "close" || last.order.Instrument != "ETH-PERP" {
		t.Fatalf("expected compensating close of first leg, got %+v", last)
	}
	if last.order.Side != Sell {
		t.Fatalf("closing a positive fill must sell, got %s", last.order.Side)
	}
}

func TestOpenPairRetriesTransient(t *testing.T) {
	mock := newMockExecutor()
	mock.pushSubmit("ETH-PERP", decimal.Zero, Transientf("timeout"))
	mock.pushSubmit("ETH-PERP", decimal.NewFromInt(1), nil)
	mock.pushSubmit("BTC-PERP", decimal.NewFromFloat(0.05), nil)
	engine := NewEngine(mock, fastRetry(), nil)

	if err := engine.OpenPair(context.Background(), order("ETH-PERP", Buy, 1), order("BTC-PERP", Sell, 0.05)); err != nil {
		t.Fatalf("open pair with transient retry: %v", err)
	}
	if len(mock.calls) != 3 {
		t.Fatalf("expected retried submit, got %d calls", len(mock.calls))
	}
}

func TestFatalErrorsAreNotRetried(t *testing.T) {
	mock := newMockExecutor()
	mock.pushSubmit("ETH-PERP", decimal.Zero, Fatalf("rejected"))
	mock.pushSubmit("ETH-PERP", decimal.NewFromInt(1), nil)
	engine := NewEngine(mock, fastRetry(), nil)

	err := engine.OpenPair(context.Background(), order("ETH-PERP", Buy, 1), order("BTC-PERP", Sell, 0.05))
	if err == nil {
		t.Fatalf("expected fatal error to surface")
	}
	if len(mock.calls) != 1 {
		t.Fatalf("fatal error must not be retried, got %d calls", len(mock.calls))
	}
}

func TestClosePairRollbackExecuted(t *testing.T) {
	mock := newMockExecutor()
	mock.pushClose("ETH-PERP", decimal.NewFromInt(1), nil)
	mock.pushClose("BTC-PERP", decimal.Zero, Fatalf("rejected"))
	mock.pushSubmit("ETH-PERP", decimal.NewFromInt(1), nil)
	engine := NewEngine(mock, fastRetry(), nil)

	err := engine.ClosePair(context.Background(), order("ETH-PERP", Sell, 1), order("BTC-PERP", Buy, 0.05))
	if !IsPartialFill(err) {
		t.Fatalf("expected partial fill error, got %v", err)
	}
	if !strings.Contains(err.Error(), "rollback executed") {
		t.Fatalf("expected rollback executed message, got %q", err.Error())
	}
	last := mock.calls[len(mock.calls)-1]
	if last.kind != "submit" || last.order.Side != Buy {
		t.Fatalf("expected re-opening submit on opposite side, got %+v", last)
	}
}

func TestClosePairRollbackFailed(t *testing.T) {
	mock := newMockExecutor()
	mock.pushClose("ETH-PERP", decimal.NewFromInt(1), nil)
	mock.pushClose("BTC-PERP", decimal.Zero, Fatalf("rejected"))
	mock.pushSubmit("ETH-PERP", decimal.Zero, Fatalf("also rejected"))
	engine := NewEngine(mock, fastRetry(), nil)

	err := engine.ClosePair(context.Background(), order("ETH-PERP", Sell, 1), order("BTC-PERP", Buy, 0.05))
	if !IsPartialFill(err) {
		t.Fatalf("expected partial fill error, got %v", err)
	}
	if !strings.Contains(err.Error(), "rollback failed") {
		t.Fatalf("expected rollback failed message, got %q", err.Error())
	}
}

func TestClosePairFirstLegFailureSurfaces(t *testing.T) {
	mock := newMockExecutor()
	mock.pushClose("ETH-PERP", decimal.Zero, Fatalf("rejected"))
	engine := NewEngine(mock, fastRetry(), nil)

	err := engine.ClosePair(context.Background(), order("ETH-PERP", Sell, 1), order("BTC-PERP", Buy, 0.05))
	if err == nil || IsPartialFill(err) {
		t.Fatalf("first leg close failure should not be partial fill, got %v", err)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected no second close, got %d calls", len(mock.calls))
	}
}

func TestRepairResidualClosesLoneLeg(t *testing.T) {
	mock := newMockExecutor()
	mock.pushClose("BTC-PERP", decimal.NewFromFloat(0.05), nil)
	engine := NewEngine(mock, fastRetry(), nil)

	pos := &state.PositionSnapshot{
		Direction: state.LongAShortB,
		LegB:      state.PositionLeg{Qty: decimal.NewFromFloat(-0.05), AvgPrice: decimal.NewFromInt(40000)},
	}
	if err := engine.RepairResidual(context.Background(), pos, "ETH-PERP", "BTC-PERP"); err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected one close, got %d", len(mock.calls))
	}
	got := mock.calls[0].order
	if got.Instrument != "BTC-PERP" || got.Side != Buy {
		t.Fatalf("short residual should be bought back, got %+v", got)
	}
	if !got.Qty.Equal(decimal.NewFromFloat(0.05)) {
		t.Fatalf("expected abs qty, got %v", got.Qty)
	}
}

func TestRepairResidualNoOpWhenBalanced(t *testing.T) {
	mock := newMockExecutor()
	engine := NewEngine(mock, fastRetry(), nil)
	pos := &state.PositionSnapshot{
		LegA: state.PositionLeg{Qty: decimal.NewFromInt(1)},
		LegB: state.PositionLeg{Qty: decimal.NewFromFloat(-0.05)},
	}
	if err := engine.RepairResidual(context.Background(), pos, "ETH-PERP", "BTC-PERP"); err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(mock.calls) != 0 {
		t.Fatalf("balanced position must not trade, got %d calls", len(mock.calls))
	}
}

func TestRetryRespectsContext(t *testing.T) {
	mock := newMockExecutor()
	mock.pushSubmit("ETH-PERP", decimal.Zero, Transientf("timeout"))
	engine := NewEngine(mock, RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := engine.OpenPair(ctx, order("ETH-PERP", Buy, 1), order("BTC-PERP", Sell, 0.05))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
