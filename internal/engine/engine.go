package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marquinhogomes/pairtrader/internal/analyzer"
	"github.com/marquinhogomes/pairtrader/internal/domain"
	"github.com/marquinhogomes/pairtrader/internal/ports"
	"github.com/marquinhogomes/pairtrader/internal/ranker"
)

// PairSpec nombra un par a vigilar: dependiente ~ independiente.
type PairSpec struct {
	Dependent   string
	Independent string
}

// GroupOpener is the slice of the lifecycle manager the signal cycle needs.
type GroupOpener interface {
	Groups() []domain.TradeGroup
	OpenGroup(ctx context.Context, cand domain.EntryCandidate) (int64, error)
}

// Config parametriza el ciclo de señales.
type Config struct {
	Pairs     []PairSpec
	Timeframe string
	Lookback  int
}

// Engine runs the signal half of the system: fetch series, analyze every
// configured pair, rank the survivors and promote the best candidates to
// trade groups. One pair failing never aborts the cycle; it is skipped and
// counted so the degradation stays visible in the snapshot.
type Engine struct {
	cfg      Config
	feed     ports.MarketDataFeed
	analyzer *analyzer.Analyzer
	ranker   *ranker.Ranker
	manager  GroupOpener
	clock    ports.Clock
	log      *slog.Logger

	mu          sync.Mutex
	lastCycle   time.Time
	skipped     int
	lastSignals []domain.PairSignal
}

func New(cfg Config, feed ports.MarketDataFeed, an *analyzer.Analyzer, rk *ranker.Ranker, mgr GroupOpener, clock ports.Clock, log *slog.Logger) *Engine {
	if clock == nil {
		clock = ports.RealClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg: cfg, feed: feed, analyzer: an, ranker: rk,
		manager: mgr, clock: clock, log: log,
	}
}

// RunSignalCycle executes one full analysis pass. Series are fetched once
// per symbol, shared across every pair that references it.
func (e *Engine) RunSignalCycle(ctx context.Context) error {
	series, err := e.fetchSeries(ctx)
	if err != nil {
		return err
	}

	skipped := 0
	signals := make([]domain.PairSignal, 0, len(e.cfg.Pairs))
	for _, p := range e.cfg.Pairs {
		dep, ok := series[p.Dependent]
		if !ok {
			skipped++
			continue
		}
		ind, ok := series[p.Independent]
		if !ok {
			skipped++
			continue
		}

		sig, err := e.analyzer.Analyze(ctx, dep, ind)
		if err != nil {
			skipped++
			if errors.Is(err, domain.ErrInsufficientData) {
				e.log.Debug("pair skipped", "pair", p.Dependent+"/"+p.Independent, "err", err)
			} else {
				e.log.Warn("pair analysis failed", "pair", p.Dependent+"/"+p.Independent, "err", err)
			}
			continue
		}
		signals = append(signals, sig)
	}

	candidates := e.ranker.Rank(signals)
	e.openCandidates(ctx, candidates)

	e.mu.Lock()
	e.lastCycle = e.clock.Now()
	e.skipped = skipped
	e.lastSignals = signals
	e.mu.Unlock()

	e.log.Info("signal cycle finished",
		"pairs", len(e.cfg.Pairs), "signals", len(signals),
		"candidates", len(candidates), "skipped", skipped)
	return nil
}

// fetchSeries loads every referenced symbol once. A symbol that cannot be
// fetched is simply absent from the map; its pairs count as skipped.
func (e *Engine) fetchSeries(ctx context.Context) (map[string]domain.PriceSeries, error) {
	symbols := make(map[string]struct{})
	for _, p := range e.cfg.Pairs {
		symbols[p.Dependent] = struct{}{}
		symbols[p.Independent] = struct{}{}
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("engine.fetchSeries: no pairs configured")
	}

	out := make(map[string]domain.PriceSeries, len(symbols))
	for sym := range symbols {
		s, err := e.feed.GetSeries(ctx, sym, e.cfg.Timeframe, e.cfg.Lookback)
		if err != nil {
			e.log.Warn("series fetch failed", "symbol", sym, "err", err)
			continue
		}
		out[sym] = s
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("engine.fetchSeries: no series available")
	}
	return out, nil
}

// openCandidates promotes candidates in rank order, one group per pair.
// A capacity rejection from the manager ends the pass; any other rejection
// only skips that candidate.
func (e *Engine) openCandidates(ctx context.Context, candidates []domain.EntryCandidate) {
	if len(candidates) == 0 {
		return
	}

	live := make(map[string]bool)
	for _, g := range e.manager.Groups() {
		if !g.IsTerminal() {
			live[g.PairID] = true
		}
	}

	for _, c := range candidates {
		if live[c.Signal.PairID] {
			continue
		}
		magic, err := e.manager.OpenGroup(ctx, c)
		if err != nil {
			e.log.Warn("candidate rejected", "pair", c.Signal.PairID, "err", err)
			continue
		}
		live[c.Signal.PairID] = true
		e.log.Info("candidate promoted", "pair", c.Signal.PairID, "magic", magic,
			"zscore", c.Signal.ZScore, "confidence", c.Signal.Confidence)
	}
}

// LastCycle returns when the last signal cycle finished.
func (e *Engine) LastCycle() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastCycle
}

// SkippedPairs returns how many pairs the last cycle skipped.
func (e *Engine) SkippedPairs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.skipped
}

// LatestSignals returns a copy of the signals of the last cycle.
func (e *Engine) LatestSignals() []domain.PairSignal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.PairSignal(nil), e.lastSignals...)
}
