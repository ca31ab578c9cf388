package metrics

import (
	"context"
	"time"

	"github.com/marquinhogomes/pairtrader/internal/domain"
	"github.com/marquinhogomes/pairtrader/internal/ports"
)

// TimedGateway decorates an ExecutionGateway with per-operation latency
// observations. Errors pass through untouched.
type TimedGateway struct {
	next ports.ExecutionGateway
}

func NewTimedGateway(next ports.ExecutionGateway) *TimedGateway {
	return &TimedGateway{next: next}
}

func (g *TimedGateway) observe(op string, start time.Time) {
	GatewayCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (g *TimedGateway) GetOpenPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	defer g.observe("get_open_positions", time.Now())
	return g.next.GetOpenPositions(ctx)
}

func (g *TimedGateway) GetPendingOrders(ctx context.Context) ([]domain.BrokerOrder, error) {
	defer g.observe("get_pending_orders", time.Now())
	return g.next.GetPendingOrders(ctx)
}

func (g *TimedGateway) OpenLeg(ctx context.Context, req domain.OpenLegRequest) (domain.LegReceipt, error) {
	defer g.observe("open_leg", time.Now())
	return g.next.OpenLeg(ctx, req)
}

func (g *TimedGateway) CloseLeg(ctx context.Context, ticket string) error {
	defer g.observe("close_leg", time.Now())
	return g.next.CloseLeg(ctx, ticket)
}

func (g *TimedGateway) CancelOrder(ctx context.Context, ticket string) error {
	defer g.observe("cancel_order", time.Now())
	return g.next.CancelOrder(ctx, ticket)
}

func (g *TimedGateway) ModifyStops(ctx context.Context, ticket string, stopLoss, takeProfit float64) error {
	defer g.observe("modify_stops", time.Now())
	return g.next.ModifyStops(ctx, ticket, stopLoss, takeProfit)
}

func (g *TimedGateway) GetTick(ctx context.Context, symbol string) (domain.Tick, error) {
	defer g.observe("get_tick", time.Now())
	return g.next.GetTick(ctx, symbol)
}
