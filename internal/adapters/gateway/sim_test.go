package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marquinhogomes/pairtrader/internal/domain"
)

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Volatility = 0 // precios estables salvo SetQuote explícito
	cfg.RatePerSec = 10000
	cfg.Burst = 1000
	return cfg
}

func TestMarketOrderFillsWithSpread(t *testing.T) {
	g := NewSimGateway(quietConfig(), nil)
	g.SetQuote("VALE3", 50.0)

	rcpt, err := g.OpenLeg(context.Background(), domain.OpenLegRequest{
		MagicID: 1, Symbol: "VALE3", Side: domain.SideLong, Volume: 100, Market: true,
	})
	require.NoError(t, err)
	assert.True(t, rcpt.Filled)
	assert.InDelta(t, 50.01, rcpt.OpenPrice, 1e-9) // compra al ask

	rcpt, err = g.OpenLeg(context.Background(), domain.OpenLegRequest{
		MagicID: 1, Symbol: "VALE3", Side: domain.SideShort, Volume: 100, Market: true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 49.99, rcpt.OpenPrice, 1e-9) // vende al bid
}

func TestLimitOrderFillsWhenCrossed(t *testing.T) {
	g := NewSimGateway(quietConfig(), nil)
	g.SetQuote("VALE3", 50.0)

	rcpt, err := g.OpenLeg(context.Background(), domain.OpenLegRequest{
		MagicID: 1, Symbol: "VALE3", Side: domain.SideLong, Volume: 100, Price: 49.0,
	})
	require.NoError(t, err)
	assert.False(t, rcpt.Filled)

	orders, err := g.GetPendingOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)

	// El precio baja hasta cruzar el límite
	g.SetQuote("VALE3", 48.9)

	orders, err = g.GetPendingOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)

	positions, err := g.GetOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, rcpt.Ticket, positions[0].Ticket)
	assert.InDelta(t, 49.0, positions[0].OpenPrice, 1e-9)
}

func TestImmediatelyExecutableLimitFills(t *testing.T) {
	g := NewSimGateway(quietConfig(), nil)
	g.SetQuote("VALE3", 50.0)

	rcpt, err := g.OpenLeg(context.Background(), domain.OpenLegRequest{
		MagicID: 1, Symbol: "VALE3", Side: domain.SideLong, Volume: 100, Price: 51.0,
	})
	require.NoError(t, err)
	assert.True(t, rcpt.Filled)
}

func TestStopLossSweep(t *testing.T) {
	g := NewSimGateway(quietConfig(), nil)
	g.SetQuote("VALE3", 50.0)

	rcpt, err := g.OpenLeg(context.Background(), domain.OpenLegRequest{
		MagicID: 1, Symbol: "VALE3", Side: domain.SideLong, Volume: 100,
		Market: true, StopLoss: 48.0,
	})
	require.NoError(t, err)

	g.SetQuote("VALE3", 47.5)

	positions, err := g.GetOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions, "stop loss hit closes the position")
	_ = rcpt
}

func TestTakeProfitSweepShort(t *testing.T) {
	g := NewSimGateway(quietConfig(), nil)
	g.SetQuote("PETR4", 40.0)

	_, err := g.OpenLeg(context.Background(), domain.OpenLegRequest{
		MagicID: 1, Symbol: "PETR4", Side: domain.SideShort, Volume: 100,
		Market: true, TakeProfit: 38.0,
	})
	require.NoError(t, err)

	g.SetQuote("PETR4", 37.5)

	positions, err := g.GetOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestProfitMarkToMarket(t *testing.T) {
	g := NewSimGateway(quietConfig(), nil)
	g.SetQuote("VALE3", 50.0)

	_, err := g.OpenLeg(context.Background(), domain.OpenLegRequest{
		MagicID: 1, Symbol: "VALE3", Side: domain.SideLong, Volume: 100, Market: true,
	})
	require.NoError(t, err)

	g.SetQuote("VALE3", 51.0)

	positions, err := g.GetOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	// Compró a 50.01 (ask), marca a 50.99 (bid): 0.98 * 100
	assert.InDelta(t, 98.0, positions[0].Profit, 1e-9)
}

func TestFailureInjectionOneShot(t *testing.T) {
	g := NewSimGateway(quietConfig(), nil)
	g.SetQuote("VALE3", 50.0)

	g.FailNext("OpenLeg", &domain.GatewayRejectedError{Op: "OpenLeg", Code: "BUSY"})

	_, err := g.OpenLeg(context.Background(), domain.OpenLegRequest{
		MagicID: 1, Symbol: "VALE3", Side: domain.SideLong, Volume: 100, Market: true,
	})
	require.Error(t, err)

	var rejected *domain.GatewayRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "BUSY", rejected.Code)

	// El siguiente intento funciona
	_, err = g.OpenLeg(context.Background(), domain.OpenLegRequest{
		MagicID: 1, Symbol: "VALE3", Side: domain.SideLong, Volume: 100, Market: true,
	})
	require.NoError(t, err)
}

func TestModifyStops(t *testing.T) {
	g := NewSimGateway(quietConfig(), nil)
	g.SetQuote("VALE3", 50.0)

	rcpt, err := g.OpenLeg(context.Background(), domain.OpenLegRequest{
		MagicID: 1, Symbol: "VALE3", Side: domain.SideLong, Volume: 100,
		Market: true, StopLoss: 48.0, TakeProfit: 53.0,
	})
	require.NoError(t, err)

	// Cero deja el otro stop intacto
	require.NoError(t, g.ModifyStops(context.Background(), rcpt.Ticket, 50.01, 0))

	positions, err := g.GetOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 50.01, positions[0].StopLoss, 1e-9)
	assert.InDelta(t, 53.0, positions[0].TakeProfit, 1e-9)
}

func TestUnknownTicketRejected(t *testing.T) {
	g := NewSimGateway(quietConfig(), nil)

	err := g.CloseLeg(context.Background(), "NOPE")
	var rejected *domain.GatewayRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "NOT_FOUND", rejected.Code)

	err = g.CancelOrder(context.Background(), "NOPE")
	require.ErrorAs(t, err, &rejected)
}
