// Package exec submits paired orders with compensation: the second leg
// failing rolls the first back so the book never stays one-sided.
package exec

import (
	"context"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/config"
)

type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// CloseSideFor returns the side that flattens a signed position qty.
func CloseSideFor(qty decimal.Decimal) OrderSide {
	if qty.Sign() > 0 {
		return Sell
	}
	return Buy
}

func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderRequest struct {
	Instrument string
	Side       OrderSide
	Qty        decimal.Decimal
	Type       config.OrderType
	LimitPrice *decimal.Decimal
}

// OrderExecutor is the venue boundary. Submit opens exposure, Close
// reduces it; both return the filled quantity.
type OrderExecutor interface {
	Submit(ctx context.Context, order OrderRequest) (decimal.Decimal, error)
	Close(ctx context.Context, order OrderRequest) (decimal.Decimal, error)
}

// PaperExecutor fills every order at the requested quantity.
type PaperExecutor struct{}

func (PaperExecutor) Submit(_ context.Context, order OrderRequest) (decimal.Decimal, error) {
	return order.Qty, nil
}

func (PaperExecutor) Close(_ context.Context, order OrderRequest) (decimal.Decimal, error) {
	return order.Qty, nil
}
