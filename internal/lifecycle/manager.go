package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marquinhogomes/pairtrader/internal/domain"
	"github.com/marquinhogomes/pairtrader/internal/metrics"
	"github.com/marquinhogomes/pairtrader/internal/ports"
)

// Config are the execution-side parameters of the lifecycle manager.
type Config struct {
	MagicPrefix   int64
	MaxOpenGroups int

	// Combined P/L caps per group, account currency. Zero disables a cap.
	ProfitCap float64
	LossCap   float64

	GatewayTimeout time.Duration
	Location       *time.Location

	// Floor for a shrunk take-profit's distance from the entry price, in
	// price units. Keeps the new TP from landing on top of the open price.
	MinStopDistance float64
}

// Manager owns every live TradeGroup and is the only writer of group state.
// Risk jobs and the trading loop request mutations through its methods; the
// reconcile pass applies gateway reality back onto the groups.
type Manager struct {
	cfg     Config
	gateway ports.ExecutionGateway
	storage ports.ArchiveStorage
	clock   ports.Clock
	log     *slog.Logger

	store  *groupStore
	ledger *adjustmentLedger

	retries     atomic.Int64
	closedToday atomic.Int64

	mu            sync.Mutex
	lastReconcile time.Time
}

// New builds a Manager, seeding the magic id sequence and today's adjustment
// records from storage so restarts neither reuse ids nor repeat adjustments.
func New(ctx context.Context, cfg Config, gw ports.ExecutionGateway, storage ports.ArchiveStorage, clock ports.Clock, log *slog.Logger) (*Manager, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	store, err := newGroupStore(ctx, storage, cfg.MagicPrefix)
	if err != nil {
		return nil, fmt.Errorf("lifecycle.New: %w", err)
	}
	ledger, err := newAdjustmentLedger(ctx, storage, clock.Now().In(cfg.Location))
	if err != nil {
		return nil, fmt.Errorf("lifecycle.New: %w", err)
	}

	return &Manager{
		cfg:     cfg,
		gateway: gw,
		storage: storage,
		clock:   clock,
		log:     log,
		store:   store,
		ledger:  ledger,
	}, nil
}

func (m *Manager) now() time.Time { return m.clock.Now().In(m.cfg.Location) }

func (m *Manager) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.GatewayTimeout)
}

func scopeOf(magicID int64) string { return strconv.FormatInt(magicID, 10) }

// OpenGroup submits both legs of a candidate as limit orders and registers
// the resulting group. If the second leg is rejected the first is rolled
// back before returning: a group never starts with a naked leg.
func (m *Manager) OpenGroup(ctx context.Context, cand domain.EntryCandidate) (int64, error) {
	if open := m.store.countOpen(); open >= m.cfg.MaxOpenGroups {
		return 0, fmt.Errorf("lifecycle.OpenGroup %s: max open groups reached (%d)", cand.Signal.PairID, open)
	}

	magicID := m.store.nextMagic()
	now := m.now()

	depReq := domain.OpenLegRequest{
		MagicID:    magicID,
		Symbol:     cand.Signal.Dependent,
		Side:       cand.DependentSide(),
		Volume:     cand.VolumeDependent,
		StopLoss:   cand.StopPrice,
		TakeProfit: cand.TargetPrice,
		Market:     false,
		Price:      cand.EntryPrice,
		Comment:    "pair " + cand.Signal.PairID + " dep",
	}
	indReq := domain.OpenLegRequest{
		MagicID: magicID,
		Symbol:  cand.Signal.Independent,
		Side:    cand.IndependentSide(),
		Volume:  cand.VolumeIndependent,
		Market:  false,
		Price:   cand.Signal.LastIndependent,
		Comment: "pair " + cand.Signal.PairID + " ind",
	}

	gctx, cancel := m.gatewayCtx(ctx)
	depRcpt, err := m.gateway.OpenLeg(gctx, depReq)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("lifecycle.OpenGroup %s: dependent leg: %w", cand.Signal.PairID, err)
	}

	gctx, cancel = m.gatewayCtx(ctx)
	indRcpt, err := m.gateway.OpenLeg(gctx, indReq)
	cancel()
	if err != nil {
		m.rollbackLeg(ctx, depRcpt, cand.Signal.Dependent)
		return 0, fmt.Errorf("lifecycle.OpenGroup %s: independent leg: %w", cand.Signal.PairID, err)
	}

	group := &domain.TradeGroup{
		MagicID:     magicID,
		PairID:      cand.Signal.PairID,
		Dependent:   buildLeg(cand.Signal.Dependent, domain.RoleDependent, cand.DependentSide(), depReq, depRcpt),
		Independent: buildLeg(cand.Signal.Independent, domain.RoleIndependent, cand.IndependentSide(), indReq, indRcpt),
		State:       entryState(depRcpt, indRcpt),
		OpenedAt:    now,
		ProfitCap:   m.cfg.ProfitCap,
		LossCap:     m.cfg.LossCap,
	}

	if err := m.store.put(group); err != nil {
		return 0, fmt.Errorf("lifecycle.OpenGroup %s: %w", cand.Signal.PairID, err)
	}
	m.log.Info("group opened",
		"magic", magicID, "pair", cand.Signal.PairID, "state", group.State,
		"dep_ticket", depRcpt.Ticket, "ind_ticket", indRcpt.Ticket)
	return magicID, nil
}

func buildLeg(symbol string, role domain.LegRole, side domain.LegSide, req domain.OpenLegRequest, rcpt domain.LegReceipt) domain.Leg {
	leg := domain.Leg{
		ID:         uuid.NewString(),
		Ticket:     rcpt.Ticket,
		Symbol:     symbol,
		Side:       side,
		Role:       role,
		Volume:     req.Volume,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Status:     domain.LegPending,
	}
	if req.TakeProfit > 0 {
		leg.OriginalTPDist = absf(req.TakeProfit - req.Price)
	}
	if rcpt.Filled {
		leg.Status = domain.LegOpen
		leg.OpenPrice = rcpt.OpenPrice
		leg.CurrentPrice = rcpt.OpenPrice
	}
	return leg
}

func entryState(dep, ind domain.LegReceipt) domain.GroupState {
	switch {
	case dep.Filled && ind.Filled:
		return domain.StateBothOpen
	case dep.Filled || ind.Filled:
		return domain.StatePartiallyFilled
	default:
		return domain.StatePendingEntry
	}
}

// rollbackLeg undoes the first leg after the second was rejected. Failure to
// roll back is logged loudly; the reconcile pass has no group to repair it
// under, so the operator must act.
func (m *Manager) rollbackLeg(ctx context.Context, rcpt domain.LegReceipt, symbol string) {
	gctx, cancel := m.gatewayCtx(ctx)
	defer cancel()

	var err error
	if rcpt.Filled {
		err = m.gateway.CloseLeg(gctx, rcpt.Ticket)
	} else {
		err = m.gateway.CancelOrder(gctx, rcpt.Ticket)
	}
	if err != nil {
		m.log.Error("rollback of first leg failed, manual intervention required",
			"ticket", rcpt.Ticket, "symbol", symbol, "err", err)
		return
	}
	m.log.Warn("first leg rolled back after partner rejection", "ticket", rcpt.Ticket, "symbol", symbol)
}

// RequestClose marks a group CLOSING with the given reason. Idempotent:
// requesting a close on a group already CLOSING or CLOSED is a no-op. The
// gateway work happens in the next reconcile pass.
func (m *Manager) RequestClose(magicID int64, reason string) error {
	found, err := m.store.withGroup(magicID, func(g *domain.TradeGroup) error {
		if g.Flagged {
			return fmt.Errorf("group %d flagged: %s", g.MagicID, g.FlagReason)
		}
		if g.State == domain.StateClosing || g.State == domain.StateClosed {
			return nil
		}
		if !domain.CanTransition(g.State, domain.StateClosing) {
			return fmt.Errorf("group %d: cannot close from %s", g.MagicID, g.State)
		}
		g.State = domain.StateClosing
		g.CloseReason = reason
		m.log.Info("close requested", "magic", g.MagicID, "reason", reason)
		return nil
	})
	if err != nil {
		return fmt.Errorf("lifecycle.RequestClose: %w", err)
	}
	if !found {
		return fmt.Errorf("lifecycle.RequestClose: unknown magic id %d", magicID)
	}
	return nil
}

// CloseWithRecord requests a close and records the adjustment kind for the
// group and day. Returns false without acting when the record already exists.
func (m *Manager) CloseWithRecord(ctx context.Context, magicID int64, kind domain.AdjustmentKind, reason string) (bool, error) {
	scope := scopeOf(magicID)
	if m.ledger.done(scope, kind) {
		return false, nil
	}
	if err := m.RequestClose(magicID, reason); err != nil {
		return false, err
	}
	if err := m.ledger.record(ctx, scope, kind, m.now()); err != nil {
		return false, fmt.Errorf("lifecycle.CloseWithRecord: %w", err)
	}
	return true, nil
}

// ApplyBreakEven moves the stop-loss of every open leg to its own entry
// price, recorded under the given kind. Returns false without touching the
// gateway when the adjustment was already applied today.
func (m *Manager) ApplyBreakEven(ctx context.Context, magicID int64, kind domain.AdjustmentKind) (bool, error) {
	scope := scopeOf(magicID)
	if m.ledger.done(scope, kind) {
		return false, nil
	}

	applied := false
	found, err := m.store.withGroup(magicID, func(g *domain.TradeGroup) error {
		if g.Flagged || g.IsTerminal() || g.State == domain.StateClosing {
			return nil
		}
		for _, leg := range g.OpenLegs() {
			if leg.StopLoss == leg.OpenPrice {
				continue
			}
			gctx, cancel := m.gatewayCtx(ctx)
			err := m.gateway.ModifyStops(gctx, leg.Ticket, leg.OpenPrice, 0)
			cancel()
			if err != nil {
				m.noteRetry()
				return fmt.Errorf("move stop to entry (ticket %s): %w", leg.Ticket, err)
			}
			leg.StopLoss = leg.OpenPrice
			applied = true
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("lifecycle.ApplyBreakEven group %d: %w", magicID, err)
	}
	if !found {
		return false, fmt.Errorf("lifecycle.ApplyBreakEven: unknown magic id %d", magicID)
	}
	if !applied {
		return false, nil
	}
	if err := m.ledger.record(ctx, scope, kind, m.now()); err != nil {
		return false, fmt.Errorf("lifecycle.ApplyBreakEven: %w", err)
	}
	m.log.Info("stops moved to entry", "magic", magicID, "kind", kind)
	return true, nil
}

// ApplyShrinkTakeProfit rewrites every open leg's take-profit to fraction of
// its original distance from the entry price. Recorded per group and day.
func (m *Manager) ApplyShrinkTakeProfit(ctx context.Context, magicID int64, fraction float64) (bool, error) {
	scope := scopeOf(magicID)
	kind := domain.AdjustIntradayShrinkTP
	if m.ledger.done(scope, kind) {
		return false, nil
	}

	applied := false
	found, err := m.store.withGroup(magicID, func(g *domain.TradeGroup) error {
		if g.Flagged || g.IsTerminal() || g.State == domain.StateClosing {
			return nil
		}
		for _, leg := range g.OpenLegs() {
			if leg.OriginalTPDist <= 0 {
				continue
			}
			dist := fraction * leg.OriginalTPDist
			if dist < m.cfg.MinStopDistance {
				dist = m.cfg.MinStopDistance
			}
			newTP := leg.OpenPrice + dist
			if leg.Side == domain.SideShort {
				newTP = leg.OpenPrice - dist
			}
			gctx, cancel := m.gatewayCtx(ctx)
			err := m.gateway.ModifyStops(gctx, leg.Ticket, 0, newTP)
			cancel()
			if err != nil {
				m.noteRetry()
				return fmt.Errorf("shrink take-profit (ticket %s): %w", leg.Ticket, err)
			}
			leg.TakeProfit = newTP
			applied = true
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("lifecycle.ApplyShrinkTakeProfit group %d: %w", magicID, err)
	}
	if !found {
		return false, fmt.Errorf("lifecycle.ApplyShrinkTakeProfit: unknown magic id %d", magicID)
	}
	if !applied {
		return false, nil
	}
	if err := m.ledger.record(ctx, scope, kind, m.now()); err != nil {
		return false, fmt.Errorf("lifecycle.ApplyShrinkTakeProfit: %w", err)
	}
	m.log.Info("take-profits shrunk", "magic", magicID, "fraction", fraction)
	return true, nil
}

// CancelPendingEntry cancels every still-pending leg of a group. A group
// with no opened leg collapses straight to CLOSED; one with an open leg is
// routed through the normal close path.
func (m *Manager) CancelPendingEntry(ctx context.Context, magicID int64, reason string) error {
	var needsClose bool
	found, err := m.store.withGroup(magicID, func(g *domain.TradeGroup) error {
		if g.Flagged || g.IsTerminal() || g.State == domain.StateClosing {
			return nil
		}
		for _, leg := range g.PendingLegs() {
			gctx, cancel := m.gatewayCtx(ctx)
			err := m.gateway.CancelOrder(gctx, leg.Ticket)
			cancel()
			if err != nil {
				m.noteRetry()
				return fmt.Errorf("cancel pending (ticket %s): %w", leg.Ticket, err)
			}
			now := m.now()
			leg.Status = domain.LegClosed
			leg.ClosedAt = &now
		}
		if len(g.OpenLegs()) == 0 {
			g.CloseReason = reason
			g.State = domain.StateClosing // nothing left at the gateway; reconcile archives it
		} else {
			needsClose = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("lifecycle.CancelPendingEntry group %d: %w", magicID, err)
	}
	if !found {
		return fmt.Errorf("lifecycle.CancelPendingEntry: unknown magic id %d", magicID)
	}
	if needsClose {
		return m.RequestClose(magicID, reason)
	}
	return nil
}

// GlobalDone reports whether a global job kind already ran today.
func (m *Manager) GlobalDone(kind domain.AdjustmentKind) bool {
	return m.ledger.done(domain.GlobalScope, kind)
}

// RecordGlobal marks a global job kind as executed for today.
func (m *Manager) RecordGlobal(ctx context.Context, kind domain.AdjustmentKind) error {
	return m.ledger.record(ctx, domain.GlobalScope, kind, m.now())
}

// RollDay refreshes the day-scoped adjustment cache. Call it once per
// monitoring cycle; it is a no-op until the calendar day changes.
func (m *Manager) RollDay(ctx context.Context) error {
	if err := m.ledger.rollDay(ctx, m.now()); err != nil {
		return err
	}
	return nil
}

// Groups returns deep copies of every live group.
func (m *Manager) Groups() []domain.TradeGroup {
	return m.store.snapshotGroups()
}

// GroupsByState tallies live groups per state.
func (m *Manager) GroupsByState() map[domain.GroupState]int {
	out := make(map[domain.GroupState]int)
	for _, g := range m.Groups() {
		out[g.State]++
	}
	return out
}

// AdjustmentCounts returns today's recorded adjustments by kind.
func (m *Manager) AdjustmentCounts() map[domain.AdjustmentKind]int {
	return m.ledger.countsByKind()
}

// Retries returns the cumulative count of gateway mutations that failed and
// were left for a later cycle.
func (m *Manager) Retries() int { return int(m.retries.Load()) }

func (m *Manager) noteRetry() {
	m.retries.Add(1)
	metrics.GatewayRetries.Inc()
}

// ClosedToday returns the number of groups archived since startup today.
func (m *Manager) ClosedToday() int { return int(m.closedToday.Load()) }

// LastReconcile returns when the last reconcile pass finished.
func (m *Manager) LastReconcile() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReconcile
}

// FlaggedCount returns how many live groups are excluded from automation.
func (m *Manager) FlaggedCount() int {
	n := 0
	for _, g := range m.Groups() {
		if g.Flagged {
			n++
		}
	}
	return n
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
