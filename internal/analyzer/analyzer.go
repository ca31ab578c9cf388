package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/marquinhogomes/pairtrader/internal/domain"
	"github.com/marquinhogomes/pairtrader/internal/ports"
)

// FilterConfig contiene los umbrales numéricos que una señal debe superar.
// El AND de todos los checks es PassesFilters.
type FilterConfig struct {
	R2Min               float64 // R² mínimo de la regresión
	BetaMax             float64 // |beta| máximo
	CoefVarMax          float64 // CV máximo del residuo sobre el nivel de precio
	ADFPMax             float64 // p-value máximo del test de estacionariedad
	CointPMax           float64 // p-value máximo del test de cointegración
	ZScoreThreshold     float64 // |zscore| mínimo para señal BUY/SELL
	EnableCointegration bool
	MinObservations     int // solapamiento mínimo entre series
}

// DefaultFilterConfig devuelve umbrales conservadores.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		R2Min:               0.5,
		BetaMax:             2.0,
		CoefVarMax:          5000.0,
		ADFPMax:             0.05,
		CointPMax:           0.05,
		ZScoreThreshold:     2.0,
		EnableCointegration: true,
		MinObservations:     20,
	}
}

// SectorLookup resuelve el sector de un símbolo ("" si es desconocido).
type SectorLookup func(symbol string) string

// Analyzer convierte dos series de precios alineadas en una PairSignal.
// Es una función pura de sus entradas: sin efectos secundarios, sin estado.
type Analyzer struct {
	cfg     FilterConfig
	stats   ports.Statistics
	sectors SectorLookup
}

// New crea un Analyzer con la librería estadística inyectada.
func New(cfg FilterConfig, stats ports.Statistics, sectors SectorLookup) *Analyzer {
	if sectors == nil {
		sectors = func(string) string { return "" }
	}
	return &Analyzer{cfg: cfg, stats: stats, sectors: sectors}
}

// Analyze ejecuta un pase de análisis sobre el par (dependiente, independiente).
// Devuelve domain.ErrInsufficientData si el solapamiento es menor al mínimo.
//
// Política de fallos: si un sub-estadístico no puede calcularse, ese filtro se
// degrada a "no superado" (fail-closed) en vez de abortar el análisis; una
// estadística rota nunca aprueba un par en silencio.
func (a *Analyzer) Analyze(ctx context.Context, dep, ind domain.PriceSeries) (domain.PairSignal, error) {
	y, x := domain.AlignSeries(dep, ind)
	if len(y) < a.cfg.MinObservations {
		return domain.PairSignal{}, fmt.Errorf("analyzer.Analyze %s/%s: %w (have %d, need %d)",
			dep.Symbol, ind.Symbol, domain.ErrInsufficientData, len(y), a.cfg.MinObservations)
	}

	sig := domain.PairSignal{
		PairID:            dep.Symbol + "/" + ind.Symbol,
		Dependent:         dep.Symbol,
		Independent:       ind.Symbol,
		SectorDependent:   a.sectors(dep.Symbol),
		SectorIndependent: a.sectors(ind.Symbol),
		LastDependent:     y[len(y)-1],
		LastIndependent:   x[len(x)-1],
		Lookback:          len(y),
		ComputedAt:        time.Now().UTC(),
		Kind:              domain.SignalNeutral,
	}

	fit, err := a.stats.OLS(y, x)
	if err != nil {
		// Sin regresión no hay señal: esto sí es irrecuperable para el par
		return domain.PairSignal{}, fmt.Errorf("analyzer.Analyze %s: OLS: %w", sig.PairID, err)
	}
	sig.Alpha = fit.Alpha
	sig.Beta = fit.Beta
	sig.RSquared = fit.RSquared

	mean, std := meanStd(fit.Residuals)
	sig.ResidualMean = mean
	sig.ResidualStd = std

	failed := map[string]bool{}

	if std > 0 {
		last := fit.Residuals[len(fit.Residuals)-1]
		sig.ZScore = (last - mean) / std
	} else {
		// Residuo degenerado: sin dispersión no hay z-score ni señal
		failed["zscore"] = true
		a.logDegraded(sig.PairID, "zscore", "zero residual std")
	}

	// Coeficiente de variación: dispersión del residuo relativa al nivel
	// de precio del dependiente. La media del propio residuo no sirve de
	// base: una OLS con intercepto la deja en cero salvo ruido de coma
	// flotante. Fail-closed si el nivel de precio es cero.
	level, _ := meanStd(y)
	if level != 0 {
		sig.CoefVariation = math.Abs(std / level * 100)
		if sig.CoefVariation > a.cfg.CoefVarMax {
			failed["coef_var"] = true
		}
	} else {
		sig.CoefVariation = math.Inf(1)
		failed["coef_var"] = true
		a.logDegraded(sig.PairID, "coef_var", "zero dependent price level")
	}

	if sig.RSquared < a.cfg.R2Min {
		failed["r2"] = true
	}
	if math.Abs(sig.Beta) > a.cfg.BetaMax {
		failed["beta"] = true
	}

	if p, err := a.stats.StationarityTest(fit.Residuals); err != nil {
		sig.ADFPValue = math.NaN()
		failed["adf"] = true
		a.logDegraded(sig.PairID, "adf", err.Error())
	} else {
		sig.ADFPValue = p
		if p > a.cfg.ADFPMax {
			failed["adf"] = true
		}
	}

	if a.cfg.EnableCointegration {
		if p, err := a.stats.CointegrationTest(y, x); err != nil {
			sig.CointPValue = math.NaN()
			failed["coint"] = true
			a.logDegraded(sig.PairID, "coint", err.Error())
		} else {
			sig.CointPValue = p
			if p > a.cfg.CointPMax {
				failed["coint"] = true
			}
		}
	} else {
		sig.CointPValue = math.NaN()
	}

	sig.PassesFilters = len(failed) == 0
	// Orden fijo para logs y tests reproducibles
	for _, name := range []string{"r2", "beta", "coef_var", "adf", "coint", "zscore"} {
		if failed[name] {
			sig.FailedFilters = append(sig.FailedFilters, name)
		}
	}

	// Clasificación: BUY si el residuo está muy por debajo de su media,
	// SELL si muy por encima; solo si todos los filtros pasan.
	if sig.PassesFilters {
		switch {
		case sig.ZScore < -a.cfg.ZScoreThreshold:
			sig.Kind = domain.SignalBuy
		case sig.ZScore > a.cfg.ZScoreThreshold:
			sig.Kind = domain.SignalSell
		}
	}
	sig.Confidence = math.Min(sig.AbsZScore()/3.0, 1.0)

	return sig, nil
}

func (a *Analyzer) logDegraded(pairID, statistic, reason string) {
	err := &domain.StatisticDegradedError{Statistic: statistic, Reason: reason}
	slog.Debug("analyzer: statistic degraded, filter fails closed",
		"pair", pairID, "err", err)
}

func meanStd(values []float64) (mean, std float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= n

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= n
	return mean, math.Sqrt(variance)
}
