package feed

// Feed de datos sintético y determinista.
//
// Genera series de cierres reproducibles a partir de una semilla: los
// símbolos base siguen un random walk y los símbolos relacionados se
// construyen como alpha + beta·base + ruido AR(1), de modo que los pares
// configurados son cointegrados de verdad y el análisis encuentra señales
// reales, no casuales.

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/marquinhogomes/pairtrader/internal/domain"
	"github.com/marquinhogomes/pairtrader/internal/ports"
)

// Relation define un símbolo derivado: symbol = Alpha + Beta·Base + ruido.
type Relation struct {
	Base     string
	Alpha    float64
	Beta     float64
	NoiseStd float64 // desviación del ruido AR(1)
	Phi      float64 // persistencia del ruido, |phi| < 1
}

// SyntheticFeed implementa ports.MarketDataFeed.
type SyntheticFeed struct {
	seed      int64
	bases     map[string]float64  // símbolo base → precio inicial
	relations map[string]Relation // símbolo derivado → relación
	clock     ports.Clock

	mu    sync.Mutex
	cache map[string]domain.PriceSeries
}

// NewSyntheticFeed crea el feed. bases fija el precio inicial de cada
// símbolo independiente; relations define los dependientes.
func NewSyntheticFeed(seed int64, bases map[string]float64, relations map[string]Relation, clock ports.Clock) *SyntheticFeed {
	if clock == nil {
		clock = ports.RealClock{}
	}
	return &SyntheticFeed{
		seed:      seed,
		bases:     bases,
		relations: relations,
		clock:     clock,
		cache:     make(map[string]domain.PriceSeries),
	}
}

// GetSeries devuelve lookback cierres del símbolo, el más antiguo primero.
// La misma petición dentro de la misma vela devuelve la misma serie.
func (f *SyntheticFeed) GetSeries(ctx context.Context, symbol, timeframe string, lookback int) (domain.PriceSeries, error) {
	if lookback <= 0 {
		return domain.PriceSeries{}, fmt.Errorf("feed.GetSeries %s: invalid lookback %d", symbol, lookback)
	}
	step, err := timeframeStep(timeframe)
	if err != nil {
		return domain.PriceSeries{}, fmt.Errorf("feed.GetSeries %s: %w", symbol, err)
	}

	end := f.clock.Now().Truncate(step)
	key := fmt.Sprintf("%s|%s|%d|%d", symbol, timeframe, lookback, end.Unix())

	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.cache[key]; ok {
		return s, nil
	}

	closes, err := f.closesLocked(symbol, lookback)
	if err != nil {
		return domain.PriceSeries{}, err
	}

	s := domain.PriceSeries{Symbol: symbol, Timeframe: timeframe}
	start := end.Add(-time.Duration(lookback-1) * step)
	for i := 0; i < lookback; i++ {
		s.Times = append(s.Times, start.Add(time.Duration(i)*step))
		s.Closes = append(s.Closes, closes[i])
	}
	f.cache[key] = s
	return s, nil
}

// closesLocked genera los cierres de un símbolo. Un derivado arrastra la
// generación de su base con la misma semilla, así ambos comparten camino.
func (f *SyntheticFeed) closesLocked(symbol string, n int) ([]float64, error) {
	if base, ok := f.bases[symbol]; ok {
		return f.walk(symbol, base, n), nil
	}

	rel, ok := f.relations[symbol]
	if !ok {
		return nil, fmt.Errorf("feed: unknown symbol %q", symbol)
	}
	baseStart, ok := f.bases[rel.Base]
	if !ok {
		return nil, fmt.Errorf("feed: relation %q references unknown base %q", symbol, rel.Base)
	}

	baseCloses := f.walk(rel.Base, baseStart, n)
	rng := f.rngFor(symbol)
	phi := rel.Phi
	if phi == 0 {
		phi = 0.5
	}

	out := make([]float64, n)
	noise := 0.0
	for i := 0; i < n; i++ {
		noise = phi*noise + rng.NormFloat64()*rel.NoiseStd
		out[i] = rel.Alpha + rel.Beta*baseCloses[i] + noise
	}
	return out, nil
}

// walk genera un random walk determinista para un símbolo base.
func (f *SyntheticFeed) walk(symbol string, start float64, n int) []float64 {
	rng := f.rngFor(symbol)
	out := make([]float64, n)
	price := start
	for i := 0; i < n; i++ {
		price += rng.NormFloat64() * start * 0.002
		out[i] = price
	}
	return out
}

func (f *SyntheticFeed) rngFor(symbol string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return rand.New(rand.NewSource(f.seed ^ int64(h.Sum64())))
}

// timeframeStep traduce "M15"/"H1" a una duración de vela.
func timeframeStep(tf string) (time.Duration, error) {
	tf = strings.ToUpper(strings.TrimSpace(tf))
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	var mins int
	if _, err := fmt.Sscanf(tf[1:], "%d", &mins); err != nil || mins <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	switch tf[0] {
	case 'M':
		return time.Duration(mins) * time.Minute, nil
	case 'H':
		return time.Duration(mins) * time.Hour, nil
	case 'D':
		return time.Duration(mins) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
}
