package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marquinhogomes/pairtrader/config"
	"github.com/marquinhogomes/pairtrader/internal/adapters/feed"
	"github.com/marquinhogomes/pairtrader/internal/adapters/gateway"
	"github.com/marquinhogomes/pairtrader/internal/adapters/notify"
	"github.com/marquinhogomes/pairtrader/internal/adapters/stats"
	"github.com/marquinhogomes/pairtrader/internal/adapters/storage"
	"github.com/marquinhogomes/pairtrader/internal/analyzer"
	"github.com/marquinhogomes/pairtrader/internal/api"
	"github.com/marquinhogomes/pairtrader/internal/domain"
	"github.com/marquinhogomes/pairtrader/internal/engine"
	"github.com/marquinhogomes/pairtrader/internal/lifecycle"
	"github.com/marquinhogomes/pairtrader/internal/metrics"
	"github.com/marquinhogomes/pairtrader/internal/orchestrator"
	"github.com/marquinhogomes/pairtrader/internal/ports"
	"github.com/marquinhogomes/pairtrader/internal/ranker"
	"github.com/marquinhogomes/pairtrader/internal/riskjobs"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one signal + reconcile cycle and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print the full group table (default: compact 1-line)")
	report := flag.String("report", "", "print the closed-group report for a day (YYYY-MM-DD or \"today\") and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	loc, err := cfg.Location()
	if err != nil {
		slog.Error("invalid trading timezone", "err", err, "tz", cfg.Schedule.Timezone)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	notifier := notify.NewConsole(*table)

	if *report != "" {
		runReport(ctx, store, notifier, *report, loc)
		return
	}

	slog.Info("pairtrader starting",
		"config", *configPath,
		"pairs", len(cfg.Pairs),
		"interval", cfg.AnalysisInterval(),
		"timezone", cfg.Schedule.Timezone,
		"once", *once,
	)

	clock := ports.RealClock{}

	fd := buildFeed(cfg, clock)
	sim := gateway.NewSimGateway(gateway.Config{
		Spread:     cfg.Sim.Spread,
		Volatility: cfg.Sim.Volatility,
		Seed:       cfg.Sim.Seed,
		RatePerSec: 20,
		Burst:      10,
	}, clock)
	seedQuotes(ctx, cfg, fd, sim)

	an := analyzer.New(analyzer.FilterConfig{
		R2Min:               cfg.Analysis.R2Min,
		BetaMax:             cfg.Analysis.BetaMax,
		CoefVarMax:          cfg.Analysis.CoefVarMax,
		ADFPMax:             cfg.Analysis.ADFPMax,
		CointPMax:           cfg.Analysis.CointPMax,
		ZScoreThreshold:     cfg.Analysis.ZScoreThreshold,
		EnableCointegration: cfg.Analysis.EnableCointegration,
		MinObservations:     cfg.Analysis.MinObservations,
	}, stats.New(), cfg.SectorOf)

	rk := ranker.New(ranker.Config{
		MaxCandidates:  cfg.Analysis.MaxCandidates,
		SameSectorOnly: cfg.Analysis.SameSectorOnly,
		BaseVolume:     cfg.Trading.BaseVolume,
		VolumeStep:     cfg.Trading.VolumeStep,
		StopZScore:     cfg.Analysis.StopZScore,
	})

	mgr, err := lifecycle.New(ctx, lifecycle.Config{
		MagicPrefix:     cfg.Trading.MagicPrefix,
		MaxOpenGroups:   cfg.Trading.MaxOpenGroups,
		ProfitCap:       cfg.Trading.ProfitCap,
		LossCap:         cfg.Trading.LossCap,
		GatewayTimeout:  cfg.GatewayTimeout(),
		Location:        loc,
		MinStopDistance: cfg.Schedule.MinStopDistance,
	}, metrics.NewTimedGateway(sim), store, clock, slog.Default())
	if err != nil {
		slog.Error("failed to start lifecycle manager", "err", err)
		os.Exit(1)
	}

	risk, err := riskjobs.New(riskjobs.Config{
		Location:             loc,
		BreakEvenWindowFrom:  cfg.Schedule.BreakEvenStart,
		BreakEvenWindowTo:    cfg.Schedule.BreakEvenEnd,
		BreakEvenProfit:      cfg.Schedule.BreakEvenProfit,
		ProfitCloseLevel:     cfg.Schedule.ProfitCloseAmount,
		AdjustTime:           cfg.Schedule.AdjustAt,
		IntradayClosePct:     cfg.Schedule.AdjustClosePct,
		IntradayBreakEvenPct: cfg.Schedule.AdjustBreakEvenPct,
		ShrinkFraction:       cfg.Schedule.TPShrinkFactor,
		PurgeTime:            cfg.Schedule.PurgeAt,
		FlattenTime:          cfg.Schedule.FlattenAt,
	}, mgr, store, clock, slog.Default())
	if err != nil {
		slog.Error("invalid risk schedule", "err", err)
		os.Exit(1)
	}

	eng := engine.New(engine.Config{
		Pairs:     enginePairs(cfg.Pairs),
		Timeframe: cfg.Analysis.Timeframe,
		Lookback:  cfg.Analysis.Lookback,
	}, fd, an, rk, mgr, clock, slog.Default())

	orch := orchestrator.New(clock, cfg.Trading.GatewayAlertThreshold, slog.Default())
	orch.SetSource(snapshotSource(mgr, eng))

	if *once {
		runOnce(ctx, eng, mgr, notifier, orch)
		return
	}

	var srv *api.Server
	if cfg.API.Enabled {
		srv = api.NewServer(cfg.API.Addr, statusView{orch: orch, mgr: mgr}, store, slog.Default())
		go func() {
			if err := srv.Start(); err != nil {
				slog.Error("api server exited", "err", err)
			}
		}()
	}

	orch.Start(ctx, []orchestrator.Task{
		{Name: "signals", Interval: cfg.AnalysisInterval(), Run: signalTask(eng)},
		{Name: "reconcile", Interval: cfg.MonitorInterval(), Run: reconcileTask(mgr, orch)},
		{Name: "risk", Interval: cfg.MonitorInterval(), Run: risk.RunCycle},
		{Name: "sim-ticks", Interval: time.Second, Run: func(context.Context) error {
			sim.Advance()
			return nil
		}},
		{Name: "status", Interval: time.Minute, Run: func(ctx context.Context) error {
			return notifier.NotifyStatus(ctx, orch.Snapshot(), mgr.Groups())
		}},
	})

	<-ctx.Done()
	slog.Info("shutting down")

	if srv != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Warn("api shutdown", "err", err)
		}
		shutCancel()
	}
	orch.Wait()
	slog.Info("pairtrader stopped cleanly")
}

// runOnce executes a single signal cycle plus reconcile pass and prints the
// resulting status. Useful to sanity-check a config without going resident.
func runOnce(ctx context.Context, eng *engine.Engine, mgr *lifecycle.Manager, notifier *notify.Console, orch *orchestrator.Orchestrator) {
	if err := eng.RunSignalCycle(ctx); err != nil {
		slog.Error("signal cycle failed", "err", err)
		os.Exit(1)
	}
	if err := mgr.ReconcileAll(ctx); err != nil {
		slog.Warn("reconcile pass failed", "err", err)
	}
	if err := notifier.NotifyStatus(ctx, orch.Snapshot(), mgr.Groups()); err != nil {
		slog.Warn("notifier error", "err", err)
	}
}

func runReport(ctx context.Context, store *storage.SQLiteStorage, notifier *notify.Console, day string, loc *time.Location) {
	if day == "today" {
		day = domain.DayKey(time.Now().In(loc))
	}
	archives, err := store.GetArchivedGroups(ctx, day)
	if err != nil {
		slog.Error("failed to load archive", "err", err, "day", day)
		os.Exit(1)
	}
	notifier.PrintDailyReport(day, archives)
}

// signalTask wraps the signal cycle with its metrics.
func signalTask(eng *engine.Engine) func(ctx context.Context) error {
	var lastSkipped int
	return func(ctx context.Context) error {
		start := time.Now()
		err := eng.RunSignalCycle(ctx)
		metrics.SignalCycleDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		metrics.SignalCycles.Inc()
		if skipped := eng.SkippedPairs(); skipped > lastSkipped {
			metrics.SkippedPairs.WithLabelValues("analysis").Add(float64(skipped - lastSkipped))
			lastSkipped = skipped
		} else {
			lastSkipped = skipped
		}
		for _, s := range eng.LatestSignals() {
			if s.Actionable() {
				metrics.ActionableSignals.WithLabelValues(string(s.Kind)).Inc()
			}
		}
		return nil
	}
}

// reconcileTask runs a reconcile pass and refreshes the state gauges.
func reconcileTask(mgr *lifecycle.Manager, orch *orchestrator.Orchestrator) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		err := mgr.ReconcileAll(ctx)
		metrics.ObserveSnapshot(orch.Snapshot())
		return err
	}
}

// buildFeed arma el feed sintético desde la sección sim. Los símbolos de los
// pares sin entrada en bases ni relations reciben un precio base por defecto
// para que el análisis nunca arranque ciego.
func buildFeed(cfg *config.Config, clock ports.Clock) *feed.SyntheticFeed {
	bases := make(map[string]float64, len(cfg.Sim.Bases))
	for sym, price := range cfg.Sim.Bases {
		bases[sym] = price
	}
	relations := make(map[string]feed.Relation, len(cfg.Sim.Relations))
	for sym, rel := range cfg.Sim.Relations {
		relations[sym] = feed.Relation{
			Base:     rel.Base,
			Alpha:    rel.Alpha,
			Beta:     rel.Beta,
			NoiseStd: rel.NoiseStd,
			Phi:      rel.Phi,
		}
	}
	for _, p := range cfg.Pairs {
		for _, sym := range []string{p.Dependent, p.Independent} {
			if _, ok := bases[sym]; ok {
				continue
			}
			if _, ok := relations[sym]; ok {
				continue
			}
			slog.Warn("symbol missing from sim config, using default base price", "symbol", sym)
			bases[sym] = 50
		}
	}
	return feed.NewSyntheticFeed(cfg.Sim.Seed, bases, relations, clock)
}

// seedQuotes alinea el gateway simulado con el último cierre del feed para
// que las órdenes límite de la primera sesión tengan precios coherentes.
func seedQuotes(ctx context.Context, cfg *config.Config, fd *feed.SyntheticFeed, sim *gateway.SimGateway) {
	seen := make(map[string]bool)
	for _, p := range cfg.Pairs {
		for _, sym := range []string{p.Dependent, p.Independent} {
			if seen[sym] {
				continue
			}
			seen[sym] = true
			series, err := fd.GetSeries(ctx, sym, cfg.Analysis.Timeframe, cfg.Analysis.Lookback)
			if err != nil || series.Len() == 0 {
				slog.Warn("could not seed quote from feed", "symbol", sym, "err", err)
				continue
			}
			sim.SetQuote(sym, series.Last())
		}
	}
}

func enginePairs(pairs []config.PairConfig) []engine.PairSpec {
	out := make([]engine.PairSpec, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, engine.PairSpec{Dependent: p.Dependent, Independent: p.Independent})
	}
	return out
}

func snapshotSource(mgr *lifecycle.Manager, eng *engine.Engine) orchestrator.SnapshotSource {
	return func() domain.StatusSnapshot {
		states := mgr.GroupsByState()
		open := 0
		for _, n := range states {
			open += n
		}
		return domain.StatusSnapshot{
			GroupsByState:      states,
			OpenGroups:         open,
			ClosedToday:        mgr.ClosedToday(),
			AdjustmentsToday:   mgr.AdjustmentCounts(),
			LastSignalCycle:    eng.LastCycle(),
			LastReconcileCycle: mgr.LastReconcile(),
			SkippedPairs:       eng.SkippedPairs(),
			GatewayRetries:     mgr.Retries(),
			FlaggedGroups:      mgr.FlaggedCount(),
		}
	}
}

// statusView reúne las dos mitades del estado que sirve la API.
type statusView struct {
	orch *orchestrator.Orchestrator
	mgr  *lifecycle.Manager
}

func (v statusView) Snapshot() domain.StatusSnapshot { return v.orch.Snapshot() }
func (v statusView) Groups() []domain.TradeGroup     { return v.mgr.Groups() }

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
