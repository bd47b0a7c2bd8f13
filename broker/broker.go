package broker

import (
	"context"
)

// Broker is the order-entry and query surface of the paper-trading back
// office. The engine implements it; the CLI and replay drive it.
type Broker interface {
	CreateAccount(ctx context.Context, p AccountParams) (Account, error)
	GetAccount(ctx context.Context, token string) (Account, error)
	Positions(ctx context.Context, token string) ([]Position, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, token, orderID string) error
	OrderStatus(ctx context.Context, token, orderID string) (Order, error)
}

// AccountParams carries the optional overrides for a new account. Zero values
// fall back to the configured defaults.
type AccountParams struct {
	Capital   float64
	Cost      float64
	Tax       float64
	Slippoint float64
	Info      string
}
