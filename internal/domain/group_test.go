package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTable(t *testing.T) {
	cases := []struct {
		from, to GroupState
		want     bool
	}{
		{StatePendingEntry, StatePartiallyFilled, true},
		{StatePendingEntry, StateBothOpen, true},
		{StatePendingEntry, StateClosing, true},
		{StatePendingEntry, StateClosed, false},
		{StatePartiallyFilled, StateBothOpen, true},
		{StatePartiallyFilled, StateOrphan, true},
		{StatePartiallyFilled, StatePendingEntry, false},
		{StateBothOpen, StateOrphan, true},
		{StateBothOpen, StateClosing, true},
		{StateBothOpen, StatePartiallyFilled, false},
		{StateOrphan, StateClosing, true},
		{StateOrphan, StateClosed, true},
		{StateClosing, StateClosed, true},
		{StateClosing, StateBothOpen, false},
		{StateClosed, StateClosing, false},
		{StateClosed, StateClosed, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

// ORPHAN nunca vuelve a un estado con ambas patas vivas.
func TestOrphanIsMonotonic(t *testing.T) {
	for _, to := range []GroupState{StatePendingEntry, StatePartiallyFilled, StateBothOpen} {
		assert.False(t, CanTransition(StateOrphan, to), "ORPHAN -> %s", to)
	}
}

func TestTotalProfitSkipsClosedLegs(t *testing.T) {
	g := TradeGroup{
		Dependent:   Leg{Status: LegOpen, Profit: 30},
		Independent: Leg{Status: LegClosed, Profit: 999},
		RealizedPnL: 12.5,
	}
	assert.InDelta(t, 42.5, g.TotalProfit(), 1e-9)
}

func TestCapBreached(t *testing.T) {
	g := TradeGroup{
		Dependent:   Leg{Status: LegOpen, Profit: 80},
		Independent: Leg{Status: LegOpen, Profit: 45},
		ProfitCap:   120,
		LossCap:     120,
	}

	breached, reason := g.CapBreached()
	assert.True(t, breached)
	assert.Equal(t, "profit cap", reason)

	g.Dependent.Profit = -100
	g.Independent.Profit = -25
	breached, reason = g.CapBreached()
	assert.True(t, breached)
	assert.Equal(t, "loss cap", reason)

	g.Dependent.Profit = 10
	g.Independent.Profit = -10
	breached, _ = g.CapBreached()
	assert.False(t, breached)
}

func TestCapBreachedDisabledWithZeroCaps(t *testing.T) {
	g := TradeGroup{
		Dependent: Leg{Status: LegOpen, Profit: 100000},
	}
	breached, _ := g.CapBreached()
	assert.False(t, breached)
}

func TestOpenAndPendingLegs(t *testing.T) {
	g := TradeGroup{
		Dependent:   Leg{Role: RoleDependent, Status: LegOpen},
		Independent: Leg{Role: RoleIndependent, Status: LegPending},
	}
	assert.Len(t, g.OpenLegs(), 1)
	assert.Equal(t, RoleDependent, g.OpenLegs()[0].Role)
	assert.Len(t, g.PendingLegs(), 1)
	assert.Equal(t, RoleIndependent, g.PendingLegs()[0].Role)
}

func TestPartner(t *testing.T) {
	g := TradeGroup{
		Dependent:   Leg{Role: RoleDependent, Symbol: "VALE3"},
		Independent: Leg{Role: RoleIndependent, Symbol: "BRAP4"},
	}
	assert.Equal(t, "BRAP4", g.Partner(&g.Dependent).Symbol)
	assert.Equal(t, "VALE3", g.Partner(&g.Independent).Symbol)
}

func TestLegProfitPct(t *testing.T) {
	l := Leg{OpenPrice: 50, Volume: 100, Profit: 250}
	assert.InDelta(t, 5.0, l.ProfitPct(), 1e-9)

	empty := Leg{}
	assert.Zero(t, empty.ProfitPct())
}

func TestEntryCandidateSides(t *testing.T) {
	buy := EntryCandidate{Signal: PairSignal{Kind: SignalBuy}}
	assert.Equal(t, SideLong, buy.DependentSide())
	assert.Equal(t, SideShort, buy.IndependentSide())

	sell := EntryCandidate{Signal: PairSignal{Kind: SignalSell}}
	assert.Equal(t, SideShort, sell.DependentSide())
	assert.Equal(t, SideLong, sell.IndependentSide())
}
