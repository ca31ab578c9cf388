package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marquinhogomes/pairtrader/internal/domain"
)

// --- fakes ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeGateway struct {
	mu         sync.Mutex
	positions  map[string]domain.BrokerPosition
	orders     map[string]domain.BrokerOrder
	nextTicket int
	fillPrice  float64

	failOpenAt  int // fail the Nth OpenLeg call (1-based); 0 = never
	openCalls   int
	failClose   bool
	closeCalls  []string
	cancelCalls []string
	modifyCalls []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		positions: make(map[string]domain.BrokerPosition),
		orders:    make(map[string]domain.BrokerOrder),
		fillPrice: 50.0,
	}
}

func (f *fakeGateway) ticket() string {
	f.nextTicket++
	return fmt.Sprintf("T%d", f.nextTicket)
}

func (f *fakeGateway) GetOpenPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.BrokerPosition, 0, len(f.positions))
	for _, p := range f.positions {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeGateway) GetPendingOrders(ctx context.Context) ([]domain.BrokerOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.BrokerOrder, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeGateway) OpenLeg(ctx context.Context, req domain.OpenLegRequest) (domain.LegReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCalls++
	if f.failOpenAt > 0 && f.openCalls == f.failOpenAt {
		return domain.LegReceipt{}, &domain.GatewayRejectedError{Op: "OpenLeg", Code: "REJECTED"}
	}
	t := f.ticket()
	if req.Market {
		f.positions[t] = domain.BrokerPosition{
			Ticket: t, MagicID: req.MagicID, Symbol: req.Symbol,
			Side: req.Side, Volume: req.Volume, OpenPrice: f.fillPrice, CurrentPrice: f.fillPrice,
		}
		return domain.LegReceipt{Ticket: t, OpenPrice: f.fillPrice, Filled: true}, nil
	}
	f.orders[t] = domain.BrokerOrder{
		Ticket: t, MagicID: req.MagicID, Symbol: req.Symbol,
		Side: req.Side, Volume: req.Volume, Price: req.Price,
	}
	return domain.LegReceipt{Ticket: t}, nil
}

func (f *fakeGateway) CloseLeg(ctx context.Context, ticket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls = append(f.closeCalls, ticket)
	if f.failClose {
		return &domain.GatewayRejectedError{Op: "CloseLeg", Ticket: ticket, Code: "BUSY"}
	}
	delete(f.positions, ticket)
	return nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, ticket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls = append(f.cancelCalls, ticket)
	delete(f.orders, ticket)
	return nil
}

func (f *fakeGateway) ModifyStops(ctx context.Context, ticket string, sl, tp float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modifyCalls = append(f.modifyCalls, ticket)
	p, ok := f.positions[ticket]
	if !ok {
		return &domain.GatewayRejectedError{Op: "ModifyStops", Ticket: ticket, Code: "NOT_FOUND"}
	}
	if sl != 0 {
		p.StopLoss = sl
	}
	if tp != 0 {
		p.TakeProfit = tp
	}
	f.positions[ticket] = p
	return nil
}

func (f *fakeGateway) GetTick(ctx context.Context, symbol string) (domain.Tick, error) {
	return domain.Tick{Symbol: symbol, Bid: f.fillPrice, Ask: f.fillPrice}, nil
}

// fill converts a pending order into an open position with the same ticket.
func (f *fakeGateway) fill(ticket string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[ticket]
	if !ok {
		return
	}
	delete(f.orders, ticket)
	f.positions[ticket] = domain.BrokerPosition{
		Ticket: o.Ticket, MagicID: o.MagicID, Symbol: o.Symbol,
		Side: o.Side, Volume: o.Volume, OpenPrice: o.Price, CurrentPrice: o.Price,
	}
}

func (f *fakeGateway) setProfit(ticket string, profit float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.positions[ticket]
	p.Profit = profit
	f.positions[ticket] = p
}

func (f *fakeGateway) removePosition(ticket string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.positions, ticket)
}

func (f *fakeGateway) addPosition(p domain.BrokerPosition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[p.Ticket] = p
}

func (f *fakeGateway) addOrder(o domain.BrokerOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.Ticket] = o
}

func (f *fakeGateway) orderTickets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for t := range f.orders {
		out = append(out, t)
	}
	return out
}

type fakeStorage struct {
	mu       sync.Mutex
	archives []domain.GroupArchive
	records  map[string]domain.AdjustmentRecord
	seedMax  int64
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{records: make(map[string]domain.AdjustmentRecord)}
}

func (s *fakeStorage) ArchiveGroup(ctx context.Context, a domain.GroupArchive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archives = append(s.archives, a)
	return nil
}

func (s *fakeStorage) GetArchivedGroups(ctx context.Context, day string) ([]domain.GroupArchive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.GroupArchive
	for _, a := range s.archives {
		if day == "" || domain.DayKey(a.ClosedAt) == day {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStorage) MaxMagicID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := s.seedMax
	for _, a := range s.archives {
		if a.Group.MagicID > max {
			max = a.Group.MagicID
		}
	}
	return max, nil
}

func (s *fakeStorage) SaveAdjustment(ctx context.Context, rec domain.AdjustmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.Scope + "|" + string(rec.Kind) + "|" + rec.Day
	if _, ok := s.records[key]; !ok {
		s.records[key] = rec
	}
	return nil
}

func (s *fakeStorage) GetAdjustments(ctx context.Context, day string) ([]domain.AdjustmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AdjustmentRecord
	for _, r := range s.records {
		if r.Day == day {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStorage) PurgeAdjustmentsBefore(ctx context.Context, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, r := range s.records {
		if r.Day < day {
			delete(s.records, k)
		}
	}
	return nil
}

func (s *fakeStorage) Close() error { return nil }

// --- helpers ---

func testClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)}
}

func newTestManager(t *testing.T, gw *fakeGateway, st *fakeStorage, clock *fakeClock) *Manager {
	t.Helper()
	m, err := New(context.Background(), Config{
		MagicPrefix:   77,
		MaxOpenGroups: 5,
		ProfitCap:     120,
		LossCap:       120,
		Location:      time.UTC,
	}, gw, st, clock, slog.Default())
	require.NoError(t, err)
	return m
}

func testCandidate() domain.EntryCandidate {
	return domain.EntryCandidate{
		Signal: domain.PairSignal{
			PairID:          "VALE3/PETR4",
			Dependent:       "VALE3",
			Independent:     "PETR4",
			Kind:            domain.SignalBuy,
			Beta:            0.8,
			LastDependent:   50.0,
			LastIndependent: 40.0,
			PassesFilters:   true,
		},
		EntryPrice:        50.0,
		TargetPrice:       52.0,
		StopPrice:         48.5,
		VolumeDependent:   100,
		VolumeIndependent: 100,
	}
}

// openBothOpenGroup opens a group, fills both entry orders and reconciles.
func openBothOpenGroup(t *testing.T, m *Manager, gw *fakeGateway) (int64, domain.TradeGroup) {
	t.Helper()
	magic, err := m.OpenGroup(context.Background(), testCandidate())
	require.NoError(t, err)
	for _, ticket := range gw.orderTickets() {
		gw.fill(ticket)
	}
	require.NoError(t, m.ReconcileAll(context.Background()))

	groups := m.Groups()
	require.Len(t, groups, 1)
	require.Equal(t, domain.StateBothOpen, groups[0].State)
	return magic, groups[0]
}

// --- tests ---

func TestOpenGroupStartsPendingEntry(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(t, gw, newFakeStorage(), testClock())

	magic, err := m.OpenGroup(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, int64(7700001), magic)

	groups := m.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, domain.StatePendingEntry, groups[0].State)
	assert.Len(t, gw.orderTickets(), 2)
}

func TestOpenGroupRollsBackFirstLegOnRejection(t *testing.T) {
	gw := newFakeGateway()
	gw.failOpenAt = 2
	m := newTestManager(t, gw, newFakeStorage(), testClock())

	_, err := m.OpenGroup(context.Background(), testCandidate())
	require.Error(t, err)

	assert.Empty(t, m.Groups())
	assert.Len(t, gw.cancelCalls, 1)
	assert.Empty(t, gw.orderTickets())
}

func TestOpenGroupRespectsMaxOpenGroups(t *testing.T) {
	gw := newFakeGateway()
	st := newFakeStorage()
	clock := testClock()
	m, err := New(context.Background(), Config{
		MagicPrefix: 77, MaxOpenGroups: 1, Location: time.UTC,
	}, gw, st, clock, slog.Default())
	require.NoError(t, err)

	_, err = m.OpenGroup(context.Background(), testCandidate())
	require.NoError(t, err)
	_, err = m.OpenGroup(context.Background(), testCandidate())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max open groups")
}

func TestMagicSequenceRestartsAboveArchive(t *testing.T) {
	st := newFakeStorage()
	st.seedMax = 7700042
	m := newTestManager(t, newFakeGateway(), st, testClock())

	magic, err := m.OpenGroup(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.Equal(t, int64(7700043), magic)
}

func TestReconcileFillsToBothOpen(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(t, gw, newFakeStorage(), testClock())

	_, g := openBothOpenGroup(t, m, gw)
	assert.Equal(t, domain.LegOpen, g.Dependent.Status)
	assert.Equal(t, domain.LegOpen, g.Independent.Status)
	assert.InDelta(t, 50.0, g.Dependent.OpenPrice, 1e-9)
	assert.InDelta(t, 40.0, g.Independent.OpenPrice, 1e-9)
}

func TestReconcileOneConvergesSingleGroup(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(t, gw, newFakeStorage(), testClock())

	magic, err := m.OpenGroup(context.Background(), testCandidate())
	require.NoError(t, err)
	for _, tk := range gw.orderTickets() {
		gw.fill(tk)
	}

	require.NoError(t, m.ReconcileOne(context.Background(), magic))

	groups := m.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, domain.StateBothOpen, groups[0].State)

	err = m.ReconcileOne(context.Background(), 999999)
	assert.ErrorContains(t, err, "unknown magic id")
}

func TestPartialFillConvertsPartnerToMarket(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(t, gw, newFakeStorage(), testClock())

	_, err := m.OpenGroup(context.Background(), testCandidate())
	require.NoError(t, err)

	// Solo se llena la pata dependiente
	groups := m.Groups()
	gw.fill(groups[0].Dependent.Ticket)

	require.NoError(t, m.ReconcileAll(context.Background()))

	groups = m.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, domain.StateBothOpen, groups[0].State)
	assert.Len(t, gw.cancelCalls, 1)   // the stale limit order
	assert.Equal(t, 3, gw.openCalls)   // two entries plus the market conversion
	assert.Empty(t, gw.orderTickets()) // nothing pending remains
	assert.Equal(t, domain.LegOpen, groups[0].Independent.Status)
}

func TestCapBreachClosesBothLegs(t *testing.T) {
	gw := newFakeGateway()
	st := newFakeStorage()
	m := newTestManager(t, gw, st, testClock())

	_, g := openBothOpenGroup(t, m, gw)
	gw.setProfit(g.Dependent.Ticket, 70)
	gw.setProfit(g.Independent.Ticket, 55)

	require.NoError(t, m.ReconcileAll(context.Background()))

	assert.Empty(t, m.Groups())
	assert.Len(t, gw.closeCalls, 2)

	require.Len(t, st.archives, 1)
	arch := st.archives[0]
	assert.Equal(t, domain.StateClosed, arch.Group.State)
	assert.Equal(t, "profit cap", arch.Group.CloseReason)
	assert.InDelta(t, 125.0, arch.Group.RealizedPnL, 1e-9)
}

func TestLossCapClosesBothLegs(t *testing.T) {
	gw := newFakeGateway()
	st := newFakeStorage()
	m := newTestManager(t, gw, st, testClock())

	_, g := openBothOpenGroup(t, m, gw)
	gw.setProfit(g.Dependent.Ticket, -80)
	gw.setProfit(g.Independent.Ticket, -45)

	require.NoError(t, m.ReconcileAll(context.Background()))

	require.Len(t, st.archives, 1)
	assert.Equal(t, "loss cap", st.archives[0].Group.CloseReason)
}

func TestOrphanResolvedInSameCycle(t *testing.T) {
	gw := newFakeGateway()
	st := newFakeStorage()
	m := newTestManager(t, gw, st, testClock())

	_, g := openBothOpenGroup(t, m, gw)

	// La pata independiente se cierra fuera del motor (TP del broker)
	gw.setProfit(g.Dependent.Ticket, 10)
	gw.removePosition(g.Independent.Ticket)

	require.NoError(t, m.ReconcileAll(context.Background()))

	// Superviviente cerrada y grupo archivado en el mismo pase
	assert.Empty(t, m.Groups())
	assert.Contains(t, gw.closeCalls, g.Dependent.Ticket)
	require.Len(t, st.archives, 1)
	assert.Equal(t, "orphan resolution", st.archives[0].Group.CloseReason)
}

func TestCloseFailureRetriesNextPass(t *testing.T) {
	gw := newFakeGateway()
	st := newFakeStorage()
	m := newTestManager(t, gw, st, testClock())

	magic, _ := openBothOpenGroup(t, m, gw)
	require.NoError(t, m.RequestClose(magic, "manual"))

	gw.failClose = true
	require.NoError(t, m.ReconcileAll(context.Background()))

	groups := m.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, domain.StateClosing, groups[0].State)
	assert.Positive(t, m.Retries())
	assert.Empty(t, st.archives)

	gw.failClose = false
	require.NoError(t, m.ReconcileAll(context.Background()))
	assert.Empty(t, m.Groups())
	require.Len(t, st.archives, 1)
	assert.Equal(t, "manual", st.archives[0].Group.CloseReason)
}

func TestRequestCloseIdempotent(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(t, gw, newFakeStorage(), testClock())

	magic, _ := openBothOpenGroup(t, m, gw)
	require.NoError(t, m.RequestClose(magic, "primera"))
	require.NoError(t, m.RequestClose(magic, "segunda"))

	groups := m.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, domain.StateClosing, groups[0].State)
	assert.Equal(t, "primera", groups[0].CloseReason)
}

func TestRequestCloseUnknownMagic(t *testing.T) {
	m := newTestManager(t, newFakeGateway(), newFakeStorage(), testClock())
	err := m.RequestClose(999, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown magic id")
}

func TestThirdBrokerLegFlagsGroup(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(t, gw, newFakeStorage(), testClock())

	magic, _ := openBothOpenGroup(t, m, gw)

	gw.addPosition(domain.BrokerPosition{
		Ticket: "EXTRANEOUS", MagicID: magic, Symbol: "ITUB4",
		Side: domain.SideLong, Volume: 100,
	})
	require.NoError(t, m.ReconcileAll(context.Background()))

	groups := m.Groups()
	require.Len(t, groups, 1)
	assert.True(t, groups[0].Flagged)
	assert.Equal(t, 1, m.FlaggedCount())
	assert.Empty(t, gw.closeCalls)

	// Un grupo marcado queda fuera de toda mutación automática
	err := m.RequestClose(magic, "intento")
	require.Error(t, err)

	applied, err := m.ApplyBreakEven(context.Background(), magic, domain.AdjustBreakEven)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestApplyBreakEvenOncePerDay(t *testing.T) {
	gw := newFakeGateway()
	st := newFakeStorage()
	clock := testClock()
	m := newTestManager(t, gw, st, clock)

	magic, g := openBothOpenGroup(t, m, gw)

	applied, err := m.ApplyBreakEven(context.Background(), magic, domain.AdjustBreakEven)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Len(t, gw.modifyCalls, 2)

	require.NoError(t, m.ReconcileAll(context.Background()))
	groups := m.Groups()
	assert.InDelta(t, g.Dependent.OpenPrice, groups[0].Dependent.StopLoss, 1e-9)

	// Segunda aplicación el mismo día: no toca el gateway
	applied, err = m.ApplyBreakEven(context.Background(), magic, domain.AdjustBreakEven)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Len(t, gw.modifyCalls, 2)
}

func TestAdjustmentRecordSurvivesRestart(t *testing.T) {
	gw := newFakeGateway()
	st := newFakeStorage()
	clock := testClock()
	m := newTestManager(t, gw, st, clock)

	magic, _ := openBothOpenGroup(t, m, gw)
	applied, err := m.ApplyBreakEven(context.Background(), magic, domain.AdjustIntradayBreakEven)
	require.NoError(t, err)
	require.True(t, applied)

	// Proceso reiniciado dos minutos después, mismo storage
	clock.set(clock.Now().Add(2 * time.Minute))
	m2 := newTestManager(t, gw, st, clock)

	applied, err = m2.ApplyBreakEven(context.Background(), magic, domain.AdjustIntradayBreakEven)
	require.NoError(t, err)
	assert.False(t, applied, "adjustment must not repeat after restart")
}

func TestGlobalRecordSurvivesRestart(t *testing.T) {
	st := newFakeStorage()
	clock := testClock()
	m := newTestManager(t, newFakeGateway(), st, clock)

	assert.False(t, m.GlobalDone(domain.AdjustForceFlatten))
	require.NoError(t, m.RecordGlobal(context.Background(), domain.AdjustForceFlatten))
	assert.True(t, m.GlobalDone(domain.AdjustForceFlatten))

	m2 := newTestManager(t, newFakeGateway(), st, clock)
	assert.True(t, m2.GlobalDone(domain.AdjustForceFlatten))
}

func TestRecordsExpireOnDayChange(t *testing.T) {
	st := newFakeStorage()
	clock := testClock()
	m := newTestManager(t, newFakeGateway(), st, clock)

	require.NoError(t, m.RecordGlobal(context.Background(), domain.AdjustPendingPurge))
	require.True(t, m.GlobalDone(domain.AdjustPendingPurge))

	clock.set(clock.Now().Add(24 * time.Hour))
	require.NoError(t, m.RollDay(context.Background()))
	assert.False(t, m.GlobalDone(domain.AdjustPendingPurge))
}

func TestReconcileSweepsStrayLegsWithOwnPrefix(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(t, gw, newFakeStorage(), testClock())

	magic, _ := openBothOpenGroup(t, m, gw)

	// Patas con nuestro prefijo pero sin grupo vivo (restos de un proceso
	// anterior) y una posición de otro robot: solo las primeras se barren.
	gw.addPosition(domain.BrokerPosition{Ticket: "S1", MagicID: 7700099, Symbol: "GGBR4", Volume: 100})
	gw.addOrder(domain.BrokerOrder{Ticket: "S2", MagicID: 7700098, Symbol: "BBDC4", Volume: 100})
	gw.addPosition(domain.BrokerPosition{Ticket: "X1", MagicID: 8800001, Symbol: "CSNA3", Volume: 100})

	require.NoError(t, m.ReconcileAll(context.Background()))

	assert.Contains(t, gw.closeCalls, "S1")
	assert.Contains(t, gw.cancelCalls, "S2")
	assert.NotContains(t, gw.closeCalls, "X1")

	// El grupo vivo no se toca
	groups := m.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, magic, groups[0].MagicID)
	assert.Equal(t, domain.StateBothOpen, groups[0].State)
}

func TestApplyShrinkTakeProfit(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(t, gw, newFakeStorage(), testClock())

	magic, g := openBothOpenGroup(t, m, gw)

	applied, err := m.ApplyShrinkTakeProfit(context.Background(), magic, 0.6)
	require.NoError(t, err)
	assert.True(t, applied)

	require.NoError(t, m.ReconcileAll(context.Background()))
	groups := m.Groups()
	require.Len(t, groups, 1)

	// TP original a 2.0 de la entrada (50 → 52); al 60%: 50 + 1.2
	dep := groups[0].Dependent
	assert.InDelta(t, g.Dependent.OpenPrice+0.6*2.0, dep.TakeProfit, 1e-9)

	// Segunda aplicación: registrada, no repite
	applied, err = m.ApplyShrinkTakeProfit(context.Background(), magic, 0.6)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestApplyShrinkTakeProfitHonorsMinStopDistance(t *testing.T) {
	gw := newFakeGateway()
	m, err := New(context.Background(), Config{
		MagicPrefix:     77,
		MaxOpenGroups:   5,
		Location:        time.UTC,
		MinStopDistance: 0.5,
	}, gw, newFakeStorage(), testClock(), slog.Default())
	require.NoError(t, err)

	magic, g := openBothOpenGroup(t, m, gw)

	// Fracción agresiva: 0.1 * 2.0 = 0.2, menor que la distancia mínima.
	// El TP se queda a 0.5 de la entrada, no encima de ella.
	applied, err := m.ApplyShrinkTakeProfit(context.Background(), magic, 0.1)
	require.NoError(t, err)
	assert.True(t, applied)

	require.NoError(t, m.ReconcileAll(context.Background()))
	groups := m.Groups()
	require.Len(t, groups, 1)
	assert.InDelta(t, g.Dependent.OpenPrice+0.5, groups[0].Dependent.TakeProfit, 1e-9)
}

func TestCancelPendingEntryCollapsesUnfilledGroup(t *testing.T) {
	gw := newFakeGateway()
	st := newFakeStorage()
	m := newTestManager(t, gw, st, testClock())

	magic, err := m.OpenGroup(context.Background(), testCandidate())
	require.NoError(t, err)

	require.NoError(t, m.CancelPendingEntry(context.Background(), magic, "pending purge"))
	require.NoError(t, m.ReconcileAll(context.Background()))

	assert.Empty(t, m.Groups())
	assert.Len(t, gw.cancelCalls, 2)
	require.Len(t, st.archives, 1)
	assert.Equal(t, "pending purge", st.archives[0].Group.CloseReason)
}

func TestConcurrentSnapshotsDuringReconcile(t *testing.T) {
	gw := newFakeGateway()
	m := newTestManager(t, gw, newFakeStorage(), testClock())

	magic, _ := openBothOpenGroup(t, m, gw)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Groups()
				m.GroupsByState()
				m.AdjustmentCounts()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 20; j++ {
			_ = m.ReconcileAll(context.Background())
		}
	}()
	wg.Wait()

	found := false
	for _, g := range m.Groups() {
		if g.MagicID == magic {
			found = true
		}
	}
	assert.True(t, found)
}
