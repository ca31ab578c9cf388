package ports

import (
	"context"

	"github.com/marquinhogomes/pairtrader/internal/domain"
)

// ExecutionGateway is the broker/terminal surface the engine trades through.
// Every call is potentially slow and fallible: implementations return an
// explicit error instead of panicking across the boundary, and callers wrap
// each call with a timeout. A rejected mutation surfaces as
// *domain.GatewayRejectedError; a transport problem as any other error.
type ExecutionGateway interface {
	// GetOpenPositions returns every open position owned by this terminal,
	// including positions from other magic ids.
	GetOpenPositions(ctx context.Context) ([]domain.BrokerPosition, error)

	// GetPendingOrders returns every live pending order.
	GetPendingOrders(ctx context.Context) ([]domain.BrokerOrder, error)

	// OpenLeg submits one leg (market or limit) and returns its receipt.
	OpenLeg(ctx context.Context, req domain.OpenLegRequest) (domain.LegReceipt, error)

	// CloseLeg closes an open position by ticket at market.
	CloseLeg(ctx context.Context, ticket string) error

	// CancelOrder cancels a live pending order by ticket.
	CancelOrder(ctx context.Context, ticket string) error

	// ModifyStops updates stop-loss/take-profit on an open position.
	// A zero value leaves that stop unchanged.
	ModifyStops(ctx context.Context, ticket string, stopLoss, takeProfit float64) error

	// GetTick returns the current best bid/ask for a symbol.
	GetTick(ctx context.Context, symbol string) (domain.Tick, error)
}
