package domain

import "time"

// GroupState representa el estado del ciclo de vida de un TradeGroup.
type GroupState string

const (
	StatePendingEntry    GroupState = "PENDING_ENTRY"    // ambas patas enviadas, ninguna confirmada
	StatePartiallyFilled GroupState = "PARTIALLY_FILLED" // una pata abierta, la otra pendiente
	StateBothOpen        GroupState = "BOTH_OPEN"        // ambas patas confirmadas abiertas
	StateOrphan          GroupState = "ORPHAN"           // una pata abierta y su pareja cerrada
	StateClosing         GroupState = "CLOSING"          // cierre solicitado para las patas restantes
	StateClosed          GroupState = "CLOSED"           // terminal; se archiva
)

// ValidTransitions define los cambios de estado permitidos.
// ORPHAN es monótono: solo avanza hacia CLOSING/CLOSED, nunca vuelve a BOTH_OPEN.
var ValidTransitions = map[GroupState][]GroupState{
	StatePendingEntry:    {StatePartiallyFilled, StateBothOpen, StateOrphan, StateClosing},
	StatePartiallyFilled: {StateBothOpen, StateOrphan, StateClosing},
	StateBothOpen:        {StateOrphan, StateClosing},
	StateOrphan:          {StateClosing, StateClosed},
	StateClosing:         {StateClosed},
	StateClosed:          {},
}

// CanTransition devuelve true si el cambio from → to está permitido.
func CanTransition(from, to GroupState) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// LegSide es la dirección de una pata.
type LegSide string

const (
	SideLong  LegSide = "LONG"
	SideShort LegSide = "SHORT"
)

// LegStatus es el estado de una pata según lo reportado por el gateway.
type LegStatus string

const (
	LegPending LegStatus = "PENDING"
	LegOpen    LegStatus = "OPEN"
	LegClosed  LegStatus = "CLOSED"
)

// Leg es un lado de un TradeGroup. Solo el lifecycle manager la muta,
// en respuesta al estado reportado por el gateway.
type Leg struct {
	ID     string // UUID local
	Ticket string // referencia del gateway (orden pendiente o posición)

	Symbol string
	Side   LegSide
	Role   LegRole

	Volume       float64
	OpenPrice    float64
	CurrentPrice float64
	StopLoss     float64
	TakeProfit   float64

	// Distancia TP original, para la regla de contracción del job de las 15:10.
	OriginalTPDist float64

	Status LegStatus
	Profit float64 // P/L reportado por el gateway (moneda de la cuenta)

	ClosedAt *time.Time
}

// LegRole distingue la pata dependiente de la independiente dentro del grupo.
type LegRole string

const (
	RoleDependent   LegRole = "DEPENDENT"
	RoleIndependent LegRole = "INDEPENDENT"
)

// ProfitPct devuelve el P/L de la pata como porcentaje del valor de entrada.
func (l Leg) ProfitPct() float64 {
	basis := l.OpenPrice * l.Volume
	if basis <= 0 {
		return 0
	}
	return l.Profit / basis * 100
}

// TradeGroup es la unidad de propiedad de una posición de par: dos patas
// correlacionadas en el gateway por un magic id. Propiedad exclusiva del
// lifecycle manager; el risk controller solo solicita mutaciones a través
// de su API (regla single-writer).
type TradeGroup struct {
	MagicID int64
	PairID  string

	Dependent   Leg
	Independent Leg

	State    GroupState
	OpenedAt time.Time
	ClosedAt *time.Time

	ProfitCap float64 // cierre forzado si P/L combinado >= ProfitCap
	LossCap   float64 // cierre forzado si P/L combinado <= -LossCap

	CloseReason string

	// Flagged excluye al grupo de toda mutación automática (violación de
	// invariante observada; requiere intervención manual).
	Flagged    bool
	FlagReason string

	RealizedPnL float64
}

// Legs devuelve punteros a ambas patas para iteración.
func (g *TradeGroup) Legs() []*Leg {
	return []*Leg{&g.Dependent, &g.Independent}
}

// TotalProfit suma el P/L reportado de las patas no cerradas más el realizado.
func (g *TradeGroup) TotalProfit() float64 {
	total := g.RealizedPnL
	for _, l := range g.Legs() {
		if l.Status != LegClosed {
			total += l.Profit
		}
	}
	return total
}

// OpenLegs devuelve las patas confirmadas abiertas.
func (g *TradeGroup) OpenLegs() []*Leg {
	var out []*Leg
	for _, l := range g.Legs() {
		if l.Status == LegOpen {
			out = append(out, l)
		}
	}
	return out
}

// PendingLegs devuelve las patas con orden pendiente viva.
func (g *TradeGroup) PendingLegs() []*Leg {
	var out []*Leg
	for _, l := range g.Legs() {
		if l.Status == LegPending {
			out = append(out, l)
		}
	}
	return out
}

// LegByID busca una pata por su ID local.
func (g *TradeGroup) LegByID(id string) *Leg {
	for _, l := range g.Legs() {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// Partner devuelve la pata pareja de la dada.
func (g *TradeGroup) Partner(l *Leg) *Leg {
	if l.Role == RoleDependent {
		return &g.Independent
	}
	return &g.Dependent
}

// IsTerminal devuelve true si el grupo ya no admite transiciones.
func (g *TradeGroup) IsTerminal() bool { return g.State == StateClosed }

// CapBreached evalúa los topes de P/L combinado del grupo.
// Un breach (ganancia o pérdida) fuerza el grupo a CLOSING.
func (g *TradeGroup) CapBreached() (breached bool, reason string) {
	total := g.TotalProfit()
	if g.ProfitCap > 0 && total >= g.ProfitCap {
		return true, "profit cap"
	}
	if g.LossCap > 0 && total <= -g.LossCap {
		return true, "loss cap"
	}
	return false, ""
}

// GroupArchive es la vista persistible de un grupo cerrado.
type GroupArchive struct {
	Group    TradeGroup
	ClosedAt time.Time
}
