package riskjobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marquinhogomes/pairtrader/internal/domain"
	"github.com/marquinhogomes/pairtrader/internal/ports"
)

// GroupManager is the mutation surface the risk controller is allowed to
// touch. It never mutates a group directly: every action goes through the
// lifecycle manager, which owns the state and the idempotency records.
type GroupManager interface {
	Groups() []domain.TradeGroup
	RequestClose(magicID int64, reason string) error
	CloseWithRecord(ctx context.Context, magicID int64, kind domain.AdjustmentKind, reason string) (bool, error)
	ApplyBreakEven(ctx context.Context, magicID int64, kind domain.AdjustmentKind) (bool, error)
	ApplyShrinkTakeProfit(ctx context.Context, magicID int64, fraction float64) (bool, error)
	CancelPendingEntry(ctx context.Context, magicID int64, reason string) error
	GlobalDone(kind domain.AdjustmentKind) bool
	RecordGlobal(ctx context.Context, kind domain.AdjustmentKind) error
}

// Config holds the risk schedule. Times are wall-clock HH:MM in Location.
type Config struct {
	Location *time.Location

	// Continuous job: inside this window, move stops to entry once a group's
	// combined P/L (account currency) reaches BreakEvenProfit, and close it
	// outright at ProfitCloseLevel.
	BreakEvenWindowFrom string
	BreakEvenWindowTo   string
	BreakEvenProfit     float64
	ProfitCloseLevel    float64

	// 15:10 three-way adjust, thresholds in percent of entry value.
	AdjustTime           string
	IntradayClosePct     float64
	IntradayBreakEvenPct float64
	ShrinkFraction       float64

	// 15:20 purge of groups that never fully opened.
	PurgeTime string

	// 16:01 forced flatten.
	FlattenTime string

	// Adjustment records older than this many days are purged daily.
	RecordRetentionDays int
}

// Controller runs the scheduled risk jobs. Each job is idempotent per day:
// running a cycle twice, or restarting mid-day, never repeats an adjustment.
type Controller struct {
	cfg     Config
	mgr     GroupManager
	storage ports.ArchiveStorage
	clock   ports.Clock
	log     *slog.Logger

	beWindow Window
	adjust   DailyTrigger
	purge    DailyTrigger
	flatten  DailyTrigger
}

func New(cfg Config, mgr GroupManager, storage ports.ArchiveStorage, clock ports.Clock, log *slog.Logger) (*Controller, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RecordRetentionDays <= 0 {
		cfg.RecordRetentionDays = 7
	}
	if log == nil {
		log = slog.Default()
	}

	beWindow, err := NewWindow(cfg.BreakEvenWindowFrom, cfg.BreakEvenWindowTo)
	if err != nil {
		return nil, fmt.Errorf("riskjobs.New: %w", err)
	}
	adjust, err := NewDailyTrigger(cfg.AdjustTime)
	if err != nil {
		return nil, fmt.Errorf("riskjobs.New: %w", err)
	}
	purge, err := NewDailyTrigger(cfg.PurgeTime)
	if err != nil {
		return nil, fmt.Errorf("riskjobs.New: %w", err)
	}
	flatten, err := NewDailyTrigger(cfg.FlattenTime)
	if err != nil {
		return nil, fmt.Errorf("riskjobs.New: %w", err)
	}

	return &Controller{
		cfg: cfg, mgr: mgr, storage: storage, clock: clock, log: log,
		beWindow: beWindow, adjust: adjust, purge: purge, flatten: flatten,
	}, nil
}

// RunCycle evaluates every job against the current wall clock. Call it on a
// short interval (~10s); the day-scoped records make repeat evaluation free.
func (c *Controller) RunCycle(ctx context.Context) error {
	now := c.clock.Now().In(c.cfg.Location)
	var errs []error

	if c.beWindow.Contains(now) {
		errs = append(errs, c.runContinuous(ctx))
	}
	if c.adjust.Due(now) {
		errs = append(errs, c.runIntradayAdjust(ctx))
	}
	if c.purge.Due(now) {
		errs = append(errs, c.runPendingPurge(ctx))
	}
	if c.flatten.Due(now) {
		errs = append(errs, c.runForceFlatten(ctx, now))
	}
	return errors.Join(errs...)
}

// runContinuous applies the break-even ladder to every fully open group.
func (c *Controller) runContinuous(ctx context.Context) error {
	var errs []error
	for _, g := range c.mgr.Groups() {
		if g.State != domain.StateBothOpen || g.Flagged {
			continue
		}
		total := g.TotalProfit()

		switch {
		case c.cfg.ProfitCloseLevel > 0 && total >= c.cfg.ProfitCloseLevel:
			done, err := c.mgr.CloseWithRecord(ctx, g.MagicID, domain.AdjustProfitClose, "profit target")
			if err != nil {
				errs = append(errs, fmt.Errorf("riskjobs: profit close group %d: %w", g.MagicID, err))
			} else if done {
				c.log.Info("profit target reached, closing", "magic", g.MagicID, "pnl", total)
			}

		case c.cfg.BreakEvenProfit > 0 && total >= c.cfg.BreakEvenProfit:
			done, err := c.mgr.ApplyBreakEven(ctx, g.MagicID, domain.AdjustBreakEven)
			if err != nil {
				errs = append(errs, fmt.Errorf("riskjobs: break-even group %d: %w", g.MagicID, err))
			} else if done {
				c.log.Info("break-even applied", "magic", g.MagicID, "pnl", total)
			}
		}
	}
	return errors.Join(errs...)
}

// runIntradayAdjust applies the three-way 15:10 rule to every fully open
// group: close the clear winners, protect the moderate ones at entry, and
// shrink the take-profit of the rest so they can still exit before the
// session ends. The three outcomes are mutually exclusive per group per day,
// and a global record pins each group to the branch its P/L was in when the
// pass ran; without it a group drifting across thresholds later in the day
// would pick up a second, different adjustment.
func (c *Controller) runIntradayAdjust(ctx context.Context) error {
	if c.mgr.GlobalDone(domain.AdjustIntradayAdjust) {
		return nil
	}

	var errs []error
	for _, g := range c.mgr.Groups() {
		if g.State != domain.StateBothOpen || g.Flagged {
			continue
		}
		pct := groupProfitPct(g)

		switch {
		case pct > c.cfg.IntradayClosePct:
			_, err := c.mgr.CloseWithRecord(ctx, g.MagicID, domain.AdjustIntradayClose, "intraday profit close")
			if err != nil {
				errs = append(errs, fmt.Errorf("riskjobs: intraday close group %d: %w", g.MagicID, err))
			}

		case pct >= c.cfg.IntradayBreakEvenPct:
			_, err := c.mgr.ApplyBreakEven(ctx, g.MagicID, domain.AdjustIntradayBreakEven)
			if err != nil {
				errs = append(errs, fmt.Errorf("riskjobs: intraday break-even group %d: %w", g.MagicID, err))
			}

		default:
			_, err := c.mgr.ApplyShrinkTakeProfit(ctx, g.MagicID, c.cfg.ShrinkFraction)
			if err != nil {
				errs = append(errs, fmt.Errorf("riskjobs: shrink tp group %d: %w", g.MagicID, err))
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if err := c.mgr.RecordGlobal(ctx, domain.AdjustIntradayAdjust); err != nil {
		return fmt.Errorf("riskjobs: record intraday adjust: %w", err)
	}
	return nil
}

// runPendingPurge winds down every group that still has an unfilled entry
// order. The global record is only written after a clean pass, so a failure
// leaves the job armed for the next cycle.
func (c *Controller) runPendingPurge(ctx context.Context) error {
	if c.mgr.GlobalDone(domain.AdjustPendingPurge) {
		return nil
	}

	var errs []error
	purged := 0
	for _, g := range c.mgr.Groups() {
		if g.Flagged {
			continue
		}
		if g.State != domain.StatePendingEntry && g.State != domain.StatePartiallyFilled {
			continue
		}
		if err := c.mgr.CancelPendingEntry(ctx, g.MagicID, "pending purge"); err != nil {
			errs = append(errs, fmt.Errorf("riskjobs: purge group %d: %w", g.MagicID, err))
			continue
		}
		purged++
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if err := c.mgr.RecordGlobal(ctx, domain.AdjustPendingPurge); err != nil {
		return fmt.Errorf("riskjobs: record purge: %w", err)
	}
	c.log.Info("pending purge executed", "groups", purged)
	return nil
}

// runForceFlatten requests a close on every group still alive at session
// end, and takes the chance to drop stale adjustment records.
func (c *Controller) runForceFlatten(ctx context.Context, now time.Time) error {
	if c.mgr.GlobalDone(domain.AdjustForceFlatten) {
		return nil
	}

	var errs []error
	flattened := 0
	for _, g := range c.mgr.Groups() {
		if g.Flagged || g.IsTerminal() {
			continue
		}
		if g.State == domain.StateClosing {
			continue
		}
		if err := c.mgr.RequestClose(g.MagicID, "session end flatten"); err != nil {
			errs = append(errs, fmt.Errorf("riskjobs: flatten group %d: %w", g.MagicID, err))
			continue
		}
		flattened++
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if err := c.mgr.RecordGlobal(ctx, domain.AdjustForceFlatten); err != nil {
		return fmt.Errorf("riskjobs: record flatten: %w", err)
	}

	cutoff := domain.DayKey(now.AddDate(0, 0, -c.cfg.RecordRetentionDays))
	if err := c.storage.PurgeAdjustmentsBefore(ctx, cutoff); err != nil {
		// Housekeeping only; next day retries.
		c.log.Warn("stale record purge failed", "cutoff", cutoff, "err", err)
	}

	c.log.Info("forced flatten executed", "groups", flattened)
	return nil
}

// groupProfitPct is the group's combined P/L as a percentage of the entry
// value of its open legs.
func groupProfitPct(g domain.TradeGroup) float64 {
	var basis float64
	for _, l := range g.Legs() {
		if l.Status == domain.LegOpen {
			basis += l.OpenPrice * l.Volume
		}
	}
	if basis <= 0 {
		return 0
	}
	return g.TotalProfit() / basis * 100
}
