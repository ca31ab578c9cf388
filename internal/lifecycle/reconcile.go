package lifecycle

import (
	"context"
	"fmt"

	"github.com/marquinhogomes/pairtrader/internal/domain"
	"github.com/marquinhogomes/pairtrader/internal/metrics"
)

// brokerView is one fetch of gateway state, shared by every group in a pass.
type brokerView struct {
	posByTicket map[string]domain.BrokerPosition
	ordByTicket map[string]domain.BrokerOrder
	legsByMagic map[int64]int
}

func (m *Manager) fetchBrokerView(ctx context.Context) (*brokerView, error) {
	gctx, cancel := m.gatewayCtx(ctx)
	positions, err := m.gateway.GetOpenPositions(gctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("lifecycle.fetchBrokerView: positions: %w", err)
	}

	gctx, cancel = m.gatewayCtx(ctx)
	orders, err := m.gateway.GetPendingOrders(gctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("lifecycle.fetchBrokerView: orders: %w", err)
	}

	v := &brokerView{
		posByTicket: make(map[string]domain.BrokerPosition, len(positions)),
		ordByTicket: make(map[string]domain.BrokerOrder, len(orders)),
		legsByMagic: make(map[int64]int),
	}
	for _, p := range positions {
		v.posByTicket[p.Ticket] = p
		v.legsByMagic[p.MagicID]++
	}
	for _, o := range orders {
		v.ordByTicket[o.Ticket] = o
		v.legsByMagic[o.MagicID]++
	}
	return v, nil
}

// ReconcileAll applies gateway reality onto every live group: leg fills and
// closes, pending-to-market conversion, orphan resolution, cap enforcement
// and the CLOSING drain. Gateway state is fetched once per pass. A failed
// fetch aborts the pass; per-group gateway failures only bump the retry
// counter and leave the group for the next pass.
func (m *Manager) ReconcileAll(ctx context.Context) error {
	if err := m.RollDay(ctx); err != nil {
		return err
	}

	view, err := m.fetchBrokerView(ctx)
	if err != nil {
		m.noteRetry()
		return err
	}

	m.sweepStrayLegs(ctx, view)

	for _, magicID := range m.store.magicIDs() {
		var finalize bool
		m.store.withGroup(magicID, func(g *domain.TradeGroup) error {
			finalize = m.reconcileGroup(ctx, g, view)
			return nil
		})
		if finalize {
			m.store.remove(magicID)
		}
	}

	m.mu.Lock()
	m.lastReconcile = m.clock.Now()
	m.mu.Unlock()
	return nil
}

// ReconcileOne converges a single group against a fresh gateway view. Same
// semantics as one iteration of ReconcileAll.
func (m *Manager) ReconcileOne(ctx context.Context, magicID int64) error {
	view, err := m.fetchBrokerView(ctx)
	if err != nil {
		m.noteRetry()
		return err
	}

	var finalize bool
	ok, err := m.store.withGroup(magicID, func(g *domain.TradeGroup) error {
		finalize = m.reconcileGroup(ctx, g, view)
		return nil
	})
	if !ok {
		return fmt.Errorf("lifecycle.ReconcileOne: unknown magic id %d", magicID)
	}
	if err != nil {
		return err
	}
	if finalize {
		m.store.remove(magicID)
	}
	return nil
}

// sweepStrayLegs winds down broker legs that carry this engine's magic
// prefix but map to no live group. Live groups only exist in memory, so
// after a crash the gateway can hold legs whose pair mapping is gone; an
// unmanaged leg is failed safe toward flat, never adopted.
func (m *Manager) sweepStrayLegs(ctx context.Context, view *brokerView) {
	live := make(map[int64]bool)
	for _, id := range m.store.magicIDs() {
		live[id] = true
	}

	for ticket, p := range view.posByTicket {
		if p.MagicID/100000 != m.cfg.MagicPrefix || live[p.MagicID] {
			continue
		}
		err := &domain.UnresolvableMappingError{MagicID: p.MagicID, Ticket: ticket}
		m.log.Error("stray position without a live group, closing", "symbol", p.Symbol, "err", err)
		gctx, cancel := m.gatewayCtx(ctx)
		if cerr := m.gateway.CloseLeg(gctx, ticket); cerr != nil {
			m.noteRetry()
			m.log.Warn("stray close failed, retrying next pass", "ticket", ticket, "err", cerr)
		}
		cancel()
	}

	for ticket, o := range view.ordByTicket {
		if o.MagicID/100000 != m.cfg.MagicPrefix || live[o.MagicID] {
			continue
		}
		err := &domain.UnresolvableMappingError{MagicID: o.MagicID, Ticket: ticket}
		m.log.Error("stray order without a live group, canceling", "symbol", o.Symbol, "err", err)
		gctx, cancel := m.gatewayCtx(ctx)
		if cerr := m.gateway.CancelOrder(gctx, ticket); cerr != nil {
			m.noteRetry()
			m.log.Warn("stray cancel failed, retrying next pass", "ticket", ticket, "err", cerr)
		}
		cancel()
	}
}

// reconcileGroup runs one pass over a single group. Returns true when the
// group reached CLOSED and was archived, so the caller can drop it from the
// live table.
func (m *Manager) reconcileGroup(ctx context.Context, g *domain.TradeGroup, view *brokerView) bool {
	if g.Flagged || g.IsTerminal() {
		return false
	}

	// A magic id must never own more than two broker legs. If it does,
	// something outside this process traded on our id: stop guessing.
	if n := view.legsByMagic[g.MagicID]; n > 2 {
		err := &domain.InvariantViolationError{MagicID: g.MagicID, Detail: fmt.Sprintf("%d broker legs", n)}
		g.Flagged = true
		g.FlagReason = err.Error()
		m.log.Error("group flagged, excluded from automation", "magic", g.MagicID, "err", err)
		return false
	}

	for _, leg := range g.Legs() {
		m.syncLeg(g, leg, view)
	}

	if g.State == domain.StateClosing {
		return m.driveClosing(ctx, g)
	}

	open := len(g.OpenLegs())
	pending := len(g.PendingLegs())

	switch {
	case open == 2:
		m.transition(g, domain.StateBothOpen)

	case open == 1 && pending == 1:
		m.transition(g, domain.StatePartiallyFilled)
		if m.convertPendingToMarket(ctx, g) {
			return true
		}

	case open == 1 && pending == 0:
		// Partner gone while this leg is live: orphan. Monotonic,
		// resolved fail-safe toward flat in this same pass.
		m.transition(g, domain.StateOrphan)
		m.log.Warn("orphan leg detected, closing survivor",
			"magic", g.MagicID, "ticket", g.OpenLegs()[0].Ticket)
		g.CloseReason = "orphan resolution"
		m.transition(g, domain.StateClosing)
		return m.driveClosing(ctx, g)

	case open == 0 && pending == 1:
		// One entry order disappeared without filling; the pair can no
		// longer complete. Cancel the leftover and wind the group down.
		g.CloseReason = "entry order lost"
		m.transition(g, domain.StateClosing)
		return m.driveClosing(ctx, g)

	case open == 0 && pending == 0:
		// Everything already gone at the gateway.
		if g.CloseReason == "" {
			g.CloseReason = "legs closed externally"
		}
		m.transition(g, domain.StateClosing)
		return m.driveClosing(ctx, g)
	}

	if open > 0 {
		if breached, reason := g.CapBreached(); breached {
			g.CloseReason = reason
			m.log.Info("cap breached", "magic", g.MagicID, "reason", reason, "pnl", g.TotalProfit())
			m.transition(g, domain.StateClosing)
			return m.driveClosing(ctx, g)
		}
	}
	return false
}

// syncLeg reconciles one leg against the broker view.
func (m *Manager) syncLeg(g *domain.TradeGroup, leg *domain.Leg, view *brokerView) {
	switch leg.Status {
	case domain.LegPending:
		if _, still := view.ordByTicket[leg.Ticket]; still {
			return
		}
		if pos, ok := view.posByTicket[leg.Ticket]; ok {
			// Entry order filled.
			leg.Status = domain.LegOpen
			leg.OpenPrice = pos.OpenPrice
			leg.CurrentPrice = pos.CurrentPrice
			leg.Profit = pos.Profit
			if leg.TakeProfit > 0 && leg.OriginalTPDist == 0 {
				leg.OriginalTPDist = absf(leg.TakeProfit - leg.OpenPrice)
			}
			m.log.Info("leg filled", "magic", g.MagicID, "ticket", leg.Ticket, "symbol", leg.Symbol, "price", pos.OpenPrice)
			return
		}
		// Order vanished without a fill (expired or canceled outside).
		now := m.now()
		leg.Status = domain.LegClosed
		leg.ClosedAt = &now
		m.log.Warn("pending leg disappeared without fill", "magic", g.MagicID, "ticket", leg.Ticket)

	case domain.LegOpen:
		if pos, ok := view.posByTicket[leg.Ticket]; ok {
			leg.CurrentPrice = pos.CurrentPrice
			leg.Profit = pos.Profit
			leg.StopLoss = pos.StopLoss
			leg.TakeProfit = pos.TakeProfit
			return
		}
		// Position closed at the broker (SL/TP hit, or closed manually).
		now := m.now()
		leg.Status = domain.LegClosed
		leg.ClosedAt = &now
		g.RealizedPnL += leg.Profit
		m.log.Info("leg closed at broker", "magic", g.MagicID, "ticket", leg.Ticket, "profit", leg.Profit)
	}
}

// convertPendingToMarket replaces the unfilled entry order with a market
// order once its partner has filled, so the hedge is never one-sided longer
// than one pass. If the market order is rejected the group is failed safe
// toward flat by closing the filled partner. Returns true if that fail-safe
// path archived the group.
func (m *Manager) convertPendingToMarket(ctx context.Context, g *domain.TradeGroup) bool {
	pendings := g.PendingLegs()
	if len(pendings) != 1 {
		return false
	}
	leg := pendings[0]

	gctx, cancel := m.gatewayCtx(ctx)
	err := m.gateway.CancelOrder(gctx, leg.Ticket)
	cancel()
	if err != nil {
		m.noteRetry()
		m.log.Warn("cancel before market conversion failed, retrying next pass",
			"magic", g.MagicID, "ticket", leg.Ticket, "err", err)
		return false
	}

	req := domain.OpenLegRequest{
		MagicID: g.MagicID,
		Symbol:  leg.Symbol,
		Side:    leg.Side,
		Volume:  leg.Volume,
		Market:  true,
		Comment: "pair " + g.PairID + " market conversion",
	}
	gctx, cancel = m.gatewayCtx(ctx)
	rcpt, err := m.gateway.OpenLeg(gctx, req)
	cancel()
	if err != nil {
		m.noteRetry()
		m.log.Error("market conversion rejected, failing safe toward flat",
			"magic", g.MagicID, "symbol", leg.Symbol, "err", err)
		now := m.now()
		leg.Status = domain.LegClosed
		leg.ClosedAt = &now
		g.CloseReason = "market conversion rejected"
		m.transition(g, domain.StateClosing)
		return m.driveClosing(ctx, g)
	}

	leg.Ticket = rcpt.Ticket
	leg.Status = domain.LegOpen
	leg.OpenPrice = rcpt.OpenPrice
	leg.CurrentPrice = rcpt.OpenPrice
	m.transition(g, domain.StateBothOpen)
	m.log.Info("pending leg converted to market",
		"magic", g.MagicID, "ticket", rcpt.Ticket, "symbol", leg.Symbol, "price", rcpt.OpenPrice)
	return false
}

// driveClosing cancels pending legs and closes open legs, then archives the
// group once nothing remains at the gateway. Gateway failures leave the
// group CLOSING for the next pass; the close is confirmed by absence, never
// assumed. Returns true once the group is archived.
func (m *Manager) driveClosing(ctx context.Context, g *domain.TradeGroup) bool {
	stuck := false

	for _, leg := range g.PendingLegs() {
		gctx, cancel := m.gatewayCtx(ctx)
		err := m.gateway.CancelOrder(gctx, leg.Ticket)
		cancel()
		if err != nil {
			m.noteRetry()
			m.log.Warn("cancel failed, retrying next pass", "magic", g.MagicID, "ticket", leg.Ticket, "err", err)
			stuck = true
			continue
		}
		now := m.now()
		leg.Status = domain.LegClosed
		leg.ClosedAt = &now
	}

	for _, leg := range g.OpenLegs() {
		gctx, cancel := m.gatewayCtx(ctx)
		err := m.gateway.CloseLeg(gctx, leg.Ticket)
		cancel()
		if err != nil {
			m.noteRetry()
			m.log.Warn("close failed, retrying next pass", "magic", g.MagicID, "ticket", leg.Ticket, "err", err)
			stuck = true
			continue
		}
		now := m.now()
		leg.Status = domain.LegClosed
		leg.ClosedAt = &now
		g.RealizedPnL += leg.Profit
	}

	if stuck {
		return false
	}
	return m.finalize(ctx, g)
}

// finalize archives a fully closed group. If archiving fails the group stays
// CLOSING in memory and is retried; CLOSED is only reached through a
// successful archive.
func (m *Manager) finalize(ctx context.Context, g *domain.TradeGroup) bool {
	now := m.now()
	g.State = domain.StateClosed
	g.ClosedAt = &now

	err := m.storage.ArchiveGroup(ctx, domain.GroupArchive{Group: *g, ClosedAt: now})
	if err != nil {
		g.State = domain.StateClosing
		g.ClosedAt = nil
		m.noteRetry()
		m.log.Error("archive failed, group retried next pass", "magic", g.MagicID, "err", err)
		return false
	}

	m.closedToday.Add(1)
	metrics.GroupsClosed.WithLabelValues(g.CloseReason).Inc()
	m.log.Info("group closed",
		"magic", g.MagicID, "pair", g.PairID, "reason", g.CloseReason, "pnl", g.RealizedPnL)
	return true
}

// transition applies a state change if the state machine allows it; an
// attempt the table forbids is a bug and is logged, not applied.
func (m *Manager) transition(g *domain.TradeGroup, to domain.GroupState) {
	if g.State == to {
		return
	}
	if !domain.CanTransition(g.State, to) {
		m.log.Error("illegal state transition suppressed",
			"magic", g.MagicID, "from", g.State, "to", to)
		return
	}
	m.log.Debug("state transition", "magic", g.MagicID, "from", g.State, "to", to)
	g.State = to
}
