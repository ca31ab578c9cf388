package gateway

// Gateway de ejecución simulado.
//
// Reproduce el contrato del terminal real: fills instantáneos a mercado con
// spread, órdenes límite que se llenan cuando el precio las cruza, barrido
// de SL/TP en cada avance de precio, y un rate limiter como el que impone
// el broker. La inyección de fallos permite ensayar cada ruta de reintento
// del motor sin tocar un broker de verdad.

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"golang.org/x/time/rate"

	"github.com/marquinhogomes/pairtrader/internal/domain"
	"github.com/marquinhogomes/pairtrader/internal/ports"
)

// Config parametriza la simulación.
type Config struct {
	Spread     float64 // spread absoluto bid/ask
	Volatility float64 // desviación del paso del random walk
	Seed       int64
	RatePerSec float64 // llamadas por segundo admitidas
	Burst      int
}

// DefaultConfig devuelve una simulación razonable para acciones B3.
func DefaultConfig() Config {
	return Config{
		Spread:     0.02,
		Volatility: 0.05,
		Seed:       1,
		RatePerSec: 20,
		Burst:      10,
	}
}

// SimGateway implementa ports.ExecutionGateway en memoria.
type SimGateway struct {
	cfg     Config
	limiter *rate.Limiter
	clock   ports.Clock

	mu         sync.Mutex
	rng        *rand.Rand
	quotes     map[string]float64 // símbolo → mid
	positions  map[string]domain.BrokerPosition
	orders     map[string]domain.BrokerOrder
	nextTicket int

	// op → error a devolver en la próxima llamada de esa operación
	failures map[string]error
}

func NewSimGateway(cfg Config, clock ports.Clock) *SimGateway {
	if clock == nil {
		clock = ports.RealClock{}
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	return &SimGateway{
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		clock:     clock,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		quotes:    make(map[string]float64),
		positions: make(map[string]domain.BrokerPosition),
		orders:    make(map[string]domain.BrokerOrder),
		failures:  make(map[string]error),
	}
}

// SetQuote fija el mid de un símbolo.
func (s *SimGateway) SetQuote(symbol string, mid float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = mid
	s.sweepLocked()
}

// FailNext hace fallar la próxima llamada de la operación dada
// ("OpenLeg", "CloseLeg", "CancelOrder", "ModifyStops").
func (s *SimGateway) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// Advance da un paso de random walk a todos los símbolos y barre SL/TP y
// órdenes límite contra los nuevos precios.
func (s *SimGateway) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sym, mid := range s.quotes {
		s.quotes[sym] = mid + s.rng.NormFloat64()*s.cfg.Volatility
	}
	s.sweepLocked()
}

func (s *SimGateway) injected(op string) error {
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

func (s *SimGateway) ticketLocked() string {
	s.nextTicket++
	return fmt.Sprintf("SIM%06d", s.nextTicket)
}

func (s *SimGateway) bidAskLocked(symbol string) (float64, float64, error) {
	mid, ok := s.quotes[symbol]
	if !ok {
		return 0, 0, &domain.GatewayRejectedError{Op: "GetTick", Code: "UNKNOWN_SYMBOL " + symbol}
	}
	half := s.cfg.Spread / 2
	return mid - half, mid + half, nil
}

// sweepLocked llena límites cruzados y ejecuta SL/TP alcanzados.
func (s *SimGateway) sweepLocked() {
	for t, o := range s.orders {
		bid, ask, err := s.bidAskLocked(o.Symbol)
		if err != nil {
			continue
		}
		filled := (o.Side == domain.SideLong && ask <= o.Price) ||
			(o.Side == domain.SideShort && bid >= o.Price)
		if !filled {
			continue
		}
		delete(s.orders, t)
		s.positions[t] = domain.BrokerPosition{
			Ticket: t, MagicID: o.MagicID, Symbol: o.Symbol, Side: o.Side,
			Volume: o.Volume, OpenPrice: o.Price, CurrentPrice: o.Price,
			OpenedAt: s.clock.Now(),
		}
	}

	for t, p := range s.positions {
		bid, ask, err := s.bidAskLocked(p.Symbol)
		if err != nil {
			continue
		}
		mark := bid
		if p.Side == domain.SideShort {
			mark = ask
		}
		p.CurrentPrice = mark
		p.Profit = legProfit(p, mark)
		s.positions[t] = p

		hitSL := p.StopLoss > 0 && ((p.Side == domain.SideLong && mark <= p.StopLoss) ||
			(p.Side == domain.SideShort && mark >= p.StopLoss))
		hitTP := p.TakeProfit > 0 && ((p.Side == domain.SideLong && mark >= p.TakeProfit) ||
			(p.Side == domain.SideShort && mark <= p.TakeProfit))
		if hitSL || hitTP {
			delete(s.positions, t)
		}
	}
}

func legProfit(p domain.BrokerPosition, mark float64) float64 {
	if p.Side == domain.SideLong {
		return (mark - p.OpenPrice) * p.Volume
	}
	return (p.OpenPrice - mark) * p.Volume
}

// --- ports.ExecutionGateway ---

func (s *SimGateway) GetOpenPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gateway.GetOpenPositions: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BrokerPosition, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (s *SimGateway) GetPendingOrders(ctx context.Context) ([]domain.BrokerOrder, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gateway.GetPendingOrders: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BrokerOrder, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out, nil
}

func (s *SimGateway) OpenLeg(ctx context.Context, req domain.OpenLegRequest) (domain.LegReceipt, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return domain.LegReceipt{}, fmt.Errorf("gateway.OpenLeg: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("OpenLeg"); err != nil {
		return domain.LegReceipt{}, err
	}
	if req.Volume <= 0 {
		return domain.LegReceipt{}, &domain.GatewayRejectedError{Op: "OpenLeg", Code: "INVALID_VOLUME"}
	}

	t := s.ticketLocked()
	if req.Market {
		bid, ask, err := s.bidAskLocked(req.Symbol)
		if err != nil {
			return domain.LegReceipt{}, err
		}
		fill := ask
		if req.Side == domain.SideShort {
			fill = bid
		}
		s.positions[t] = domain.BrokerPosition{
			Ticket: t, MagicID: req.MagicID, Symbol: req.Symbol, Side: req.Side,
			Volume: req.Volume, OpenPrice: fill, CurrentPrice: fill,
			StopLoss: req.StopLoss, TakeProfit: req.TakeProfit,
			OpenedAt: s.clock.Now(),
		}
		return domain.LegReceipt{Ticket: t, OpenPrice: fill, Filled: true}, nil
	}

	if req.Price <= 0 {
		return domain.LegReceipt{}, &domain.GatewayRejectedError{Op: "OpenLeg", Code: "INVALID_PRICE"}
	}
	s.orders[t] = domain.BrokerOrder{
		Ticket: t, MagicID: req.MagicID, Symbol: req.Symbol, Side: req.Side,
		Volume: req.Volume, Price: req.Price, PlacedAt: s.clock.Now(),
	}
	// La orden puede ser ejecutable ya mismo
	s.sweepLocked()
	if p, ok := s.positions[t]; ok {
		return domain.LegReceipt{Ticket: t, OpenPrice: p.OpenPrice, Filled: true}, nil
	}
	return domain.LegReceipt{Ticket: t}, nil
}

func (s *SimGateway) CloseLeg(ctx context.Context, ticket string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("gateway.CloseLeg: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CloseLeg"); err != nil {
		return err
	}
	if _, ok := s.positions[ticket]; !ok {
		return &domain.GatewayRejectedError{Op: "CloseLeg", Ticket: ticket, Code: "NOT_FOUND"}
	}
	delete(s.positions, ticket)
	return nil
}

func (s *SimGateway) CancelOrder(ctx context.Context, ticket string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("gateway.CancelOrder: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CancelOrder"); err != nil {
		return err
	}
	if _, ok := s.orders[ticket]; !ok {
		return &domain.GatewayRejectedError{Op: "CancelOrder", Ticket: ticket, Code: "NOT_FOUND"}
	}
	delete(s.orders, ticket)
	return nil
}

func (s *SimGateway) ModifyStops(ctx context.Context, ticket string, stopLoss, takeProfit float64) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("gateway.ModifyStops: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("ModifyStops"); err != nil {
		return err
	}
	p, ok := s.positions[ticket]
	if !ok {
		return &domain.GatewayRejectedError{Op: "ModifyStops", Ticket: ticket, Code: "NOT_FOUND"}
	}
	if stopLoss != 0 {
		p.StopLoss = stopLoss
	}
	if takeProfit != 0 {
		p.TakeProfit = takeProfit
	}
	s.positions[ticket] = p
	return nil
}

func (s *SimGateway) GetTick(ctx context.Context, symbol string) (domain.Tick, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return domain.Tick{}, fmt.Errorf("gateway.GetTick: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bid, ask, err := s.bidAskLocked(symbol)
	if err != nil {
		return domain.Tick{}, err
	}
	return domain.Tick{Symbol: symbol, Bid: bid, Ask: ask, At: s.clock.Now()}, nil
}
