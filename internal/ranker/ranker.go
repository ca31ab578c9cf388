package ranker

import (
	"log/slog"
	"math"
	"sort"

	"github.com/marquinhogomes/pairtrader/internal/domain"
)

// Config controla el filtrado y dimensionado de candidatos de entrada.
type Config struct {
	MaxCandidates  int     // tamaño máximo del ranking final
	SameSectorOnly bool    // conservar solo pares cuyas dos patas comparten sector
	BaseVolume     float64 // volumen del leg dependiente
	VolumeStep     float64 // múltiplo al que se redondea el volumen independiente
	StopZScore     float64 // distancia del stop en unidades de desviación residual
}

// DefaultConfig devuelve los parámetros habituales de sesión.
func DefaultConfig() Config {
	return Config{
		MaxCandidates:  10,
		SameSectorOnly: false,
		BaseVolume:     100,
		VolumeStep:     100,
		StopZScore:     3.0,
	}
}

// Ranker convierte un lote de señales en una lista ordenada de candidatos
// de entrada. Sin estado: cada llamada es independiente.
type Ranker struct {
	cfg Config
}

func New(cfg Config) *Ranker {
	return &Ranker{cfg: cfg}
}

// Rank filtra las señales no accionables, ordena por |zscore| descendente
// (desempate por R² descendente, orden estable) y construye los primeros
// MaxCandidates candidatos de entrada.
func (r *Ranker) Rank(signals []domain.PairSignal) []domain.EntryCandidate {
	eligible := make([]domain.PairSignal, 0, len(signals))
	for _, s := range signals {
		if !s.Actionable() {
			continue
		}
		if r.cfg.SameSectorOnly && !s.SameSector() {
			slog.Debug("ranker: par descartado por sectores distintos",
				"pair", s.PairID, "dep", s.SectorDependent, "ind", s.SectorIndependent)
			continue
		}
		eligible = append(eligible, s)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		zi, zj := eligible[i].AbsZScore(), eligible[j].AbsZScore()
		if zi != zj {
			return zi > zj
		}
		return eligible[i].RSquared > eligible[j].RSquared
	})

	if len(eligible) > r.cfg.MaxCandidates {
		eligible = eligible[:r.cfg.MaxCandidates]
	}

	out := make([]domain.EntryCandidate, 0, len(eligible))
	for _, s := range eligible {
		out = append(out, r.buildCandidate(s))
	}
	return out
}

// buildCandidate dimensiona los dos legs y calcula los niveles de entrada.
// El precio objetivo es el valor ajustado de la regresión (alpha + beta·x);
// el stop se coloca a StopZScore desviaciones residuales en contra.
func (r *Ranker) buildCandidate(s domain.PairSignal) domain.EntryCandidate {
	c := domain.EntryCandidate{
		Signal:          s,
		EntryPrice:      s.LastDependent,
		TargetPrice:     s.Alpha + s.Beta*s.LastIndependent,
		VolumeDependent: r.cfg.BaseVolume,
	}

	// Stop a StopZScore desviaciones residuales en contra de la pata dependiente
	stopDist := r.cfg.StopZScore * s.ResidualStd
	if s.Kind == domain.SignalBuy {
		c.StopPrice = c.EntryPrice - stopDist
	} else {
		c.StopPrice = c.EntryPrice + stopDist
	}

	c.VolumeIndependent = roundToStep(math.Abs(s.Beta)*r.cfg.BaseVolume, r.cfg.VolumeStep)
	return c
}

// roundToStep redondea v al múltiplo de step más cercano, con mínimo step.
func roundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	rounded := math.Round(v/step) * step
	if rounded < step {
		rounded = step
	}
	return rounded
}
