package domain

import "time"

// SignalKind clasifica la señal generada por el análisis de un par.
type SignalKind string

const (
	SignalBuy     SignalKind = "BUY"     // zscore < -threshold: comprar dependiente, vender independiente
	SignalSell    SignalKind = "SELL"    // zscore > +threshold: vender dependiente, comprar independiente
	SignalNeutral SignalKind = "NEUTRAL" // sin señal accionable
)

// PairSignal es el resultado inmutable de un pase de análisis sobre un par
// (dependiente, independiente) con un período de lookback dado.
// Nunca se muta: el siguiente ciclo lo reemplaza por uno nuevo.
type PairSignal struct {
	PairID string // "DEP/IND", p.ej. "PETR4/VALE3"

	Dependent   string
	Independent string

	// --- Regresión lineal (dependiente ~ const + beta·independiente) ---
	Alpha    float64
	Beta     float64
	RSquared float64

	// --- Residuo y z-score ---
	ResidualMean float64
	ResidualStd  float64
	ZScore       float64 // (último residuo - media) / std

	// --- Tests estadísticos ---
	ADFPValue   float64 // estacionariedad del residuo
	CointPValue float64 // cointegración de las series crudas (NaN si deshabilitado)

	// --- Filtros ---
	CoefVariation float64 // std residuo relativa al nivel de precio del dependiente, en %
	PassesFilters bool    // AND de todos los filtros numéricos
	FailedFilters []string

	// --- Sectores (para la política same-sector del ranker) ---
	SectorDependent   string
	SectorIndependent string

	Kind       SignalKind
	Confidence float64 // min(|zscore| / 3, 1)

	// Últimos precios observados (base para el candidato de entrada)
	LastDependent   float64
	LastIndependent float64

	Lookback   int
	ComputedAt time.Time
}

// Actionable devuelve true si la señal pasó todos los filtros y no es neutral.
func (s PairSignal) Actionable() bool {
	return s.PassesFilters && s.Kind != SignalNeutral
}

// AbsZScore devuelve |zscore| (clave primaria de ranking).
func (s PairSignal) AbsZScore() float64 {
	if s.ZScore < 0 {
		return -s.ZScore
	}
	return s.ZScore
}

// SameSector devuelve true si ambos instrumentos pertenecen al mismo sector.
func (s PairSignal) SameSector() bool {
	return s.SectorDependent != "" && s.SectorDependent == s.SectorIndependent
}

// EntryCandidate es una PairSignal que pasó todos los filtros y está lista
// para ejecución. Lo crea el ranker y lo consume una sola vez el lifecycle
// manager (se promueve a TradeGroup o se descarta).
type EntryCandidate struct {
	Signal PairSignal

	// Niveles sugeridos para la pata dependiente
	EntryPrice  float64 // último cierre del dependiente
	TargetPrice float64 // valor justo de la regresión: alpha + beta·independiente
	StopPrice   float64 // entry ∓ stop_zscore·std_residuo

	// Volúmenes calculados por pata
	VolumeDependent   float64
	VolumeIndependent float64 // beta·volumen dependiente, redondeado al paso
}

// DependentSide devuelve el lado de la pata dependiente según la señal.
func (c EntryCandidate) DependentSide() LegSide {
	if c.Signal.Kind == SignalBuy {
		return SideLong
	}
	return SideShort
}

// IndependentSide devuelve el lado de la pata independiente (opuesto al dependiente).
func (c EntryCandidate) IndependentSide() LegSide {
	if c.Signal.Kind == SignalBuy {
		return SideShort
	}
	return SideLong
}
