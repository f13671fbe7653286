package exec

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/state"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func RetryFromConfig(cfg config.ExecutionConfig) RetryConfig {
	return RetryConfig{MaxAttempts: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay}
}

// Counter matches the metrics counters without importing them.
type Counter interface {
	Inc()
}

type noopCounter struct{}

func (noopCounter) Inc() {}

// Engine coordinates two-leg order sagas on top of an OrderExecutor.
type Engine struct {
	executor  OrderExecutor
	retry     RetryConfig
	log       *zap.Logger
	submitted Counter
	failed    Counter
}

func NewEngine(executor OrderExecutor, retry RetryConfig, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{executor: executor, retry: retry, log: log, submitted: noopCounter{}, failed: noopCounter{}}
}

// SetCounters installs order telemetry. Nil counters are ignored.
func (e *Engine) SetCounters(submitted, failed Counter) {
	if submitted != nil {
		e.submitted = submitted
	}
	if failed != nil {
		e.failed = failed
	}
}

// OpenPair submits leg A, then leg B. If leg B fails, leg A is closed
// again (compensation) and a partial-fill error is returned. A failure
// of leg A itself aborts with no exposure.
func (e *Engine) OpenPair(ctx context.Context, orderA, orderB OrderRequest) error {
	fillA, err := e.retrySubmit(ctx, orderA)
	if err != nil {
		return err
	}

	if _, err := e.retrySubmit(ctx, orderB); err != nil {
		rollback := OrderRequest{
			Instrument: orderA.Instrument,
			Side:       CloseSideFor(fillA),
			Qty:        fillA.Abs(),
			Type:       config.OrderMarket,
			LimitPrice: orderA.LimitPrice,
		}
		if _, rbErr := e.retryClose(ctx, rollback); rbErr != nil {
			e.log.Error("entry rollback failed, manual reconciliation required",
				zap.String("instrument", rollback.Instrument),
				zap.Error(rbErr),
			)
		}
		return PartialFillf("%v", err)
	}
	return nil
}

// ClosePair closes leg A, then leg B. If leg B fails the already-closed
// leg A is re-opened so the position stays paired; either way the caller
// gets a partial-fill error describing what happened.
func (e *Engine) ClosePair(ctx context.Context, orderA, orderB OrderRequest) error {
	if _, err := e.retryClose(ctx, orderA); err != nil {
		return err
	}
	if _, err := e.retryClose(ctx, orderB); err != nil {
		rollback := OrderRequest{
			Instrument: orderA.Instrument,
			Side:       orderA.Side.Opposite(),
			Qty:        orderA.Qty,
			Type:       orderA.Type,
			LimitPrice: orderA.LimitPrice,
		}
		if _, rbErr := e.retrySubmit(ctx, rollback); rbErr != nil {
			return PartialFillf("close second leg failed: %v; rollback failed: %v", err, rbErr)
		}
		return PartialFillf("close second leg failed: %v; rollback executed", err)
	}
	return nil
}

// RepairResidual flattens a one-sided position left by a crashed saga.
// Balanced or empty positions are a no-op.
func (e *Engine) RepairResidual(ctx context.Context, position *state.PositionSnapshot, legA, legB string) error {
	if position == nil {
		return nil
	}
	if !position.LegA.Qty.IsZero() && position.LegB.Qty.IsZero() {
		return e.closeLeg(ctx, legA, position.LegA)
	}
	if !position.LegB.Qty.IsZero() && position.LegA.Qty.IsZero() {
		return e.closeLeg(ctx, legB, position.LegB)
	}
	return nil
}

func (e *Engine) closeLeg(ctx context.Context, instrument string, leg state.PositionLeg) error {
	price := leg.AvgPrice
	order := OrderRequest{
		Instrument: instrument,
		Side:       CloseSideFor(leg.Qty),
		Qty:        leg.Qty.Abs(),
		Type:       config.OrderMarket,
		LimitPrice: &price,
	}
	_, err := e.retryClose(ctx, order)
	return err
}

func (e *Engine) retrySubmit(ctx context.Context, order OrderRequest) (decimal.Decimal, error) {
	return e.retryWith(ctx, func() (decimal.Decimal, error) {
		return e.executor.Submit(ctx, order)
	})
}

func (e *Engine) retryClose(ctx context.Context, order OrderRequest) (decimal.Decimal, error) {
	return e.retryWith(ctx, func() (decimal.Decimal, error) {
		return e.executor.Close(ctx, order)
	})
}

// retryWith retries transient failures with doubling backoff. Fatal and
// partial-fill errors surface immediately.
func (e *Engine) retryWith(ctx context.Context, fn func() (decimal.Decimal, error)) (decimal.Decimal, error) {
	attempts := e.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := e.retry.BaseDelay
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		fill, err := fn()
		if err == nil {
			e.submitted.Inc()
			return fill, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt+1 == attempts {
			e.failed.Inc()
			return decimal.Zero, err
		}
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}
	return decimal.Zero, lastErr
}
