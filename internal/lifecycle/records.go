package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marquinhogomes/pairtrader/internal/domain"
	"github.com/marquinhogomes/pairtrader/internal/metrics"
	"github.com/marquinhogomes/pairtrader/internal/ports"
)

// adjustmentLedger answers "was this adjustment already applied today?".
// Records are persisted before they are cached, so a crash between the
// gateway mutation and the record at worst repeats an idempotent mutation,
// never loses the marker after it is written.
type adjustmentLedger struct {
	mu      sync.Mutex
	storage ports.ArchiveStorage

	day   string
	cache map[recordKey]struct{}
}

type recordKey struct {
	scope string
	kind  domain.AdjustmentKind
}

func newAdjustmentLedger(ctx context.Context, storage ports.ArchiveStorage, now time.Time) (*adjustmentLedger, error) {
	l := &adjustmentLedger{storage: storage}
	if err := l.loadDay(ctx, domain.DayKey(now)); err != nil {
		return nil, err
	}
	return l, nil
}

// loadDay replaces the cache with the persisted records for the given day.
// Caller holds no lock; takes l.mu itself.
func (l *adjustmentLedger) loadDay(ctx context.Context, day string) error {
	recs, err := l.storage.GetAdjustments(ctx, day)
	if err != nil {
		return fmt.Errorf("lifecycle.adjustmentLedger: load day %s: %w", day, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.day = day
	l.cache = make(map[recordKey]struct{}, len(recs))
	for _, r := range recs {
		l.cache[recordKey{scope: r.Scope, kind: r.Kind}] = struct{}{}
	}
	return nil
}

// rollDay reloads the cache when the trading day changes.
func (l *adjustmentLedger) rollDay(ctx context.Context, now time.Time) error {
	day := domain.DayKey(now)
	l.mu.Lock()
	current := l.day
	l.mu.Unlock()
	if current == day {
		return nil
	}
	return l.loadDay(ctx, day)
}

// done reports whether (scope, kind) is already recorded for today.
func (l *adjustmentLedger) done(scope string, kind domain.AdjustmentKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.cache[recordKey{scope: scope, kind: kind}]
	return ok
}

// record persists and caches an adjustment marker. Safe to call twice with
// the same triple: storage treats the duplicate as a no-op.
func (l *adjustmentLedger) record(ctx context.Context, scope string, kind domain.AdjustmentKind, now time.Time) error {
	rec := domain.AdjustmentRecord{
		Scope:      scope,
		Kind:       kind,
		Day:        domain.DayKey(now),
		RecordedAt: now,
	}
	if err := l.storage.SaveAdjustment(ctx, rec); err != nil {
		return fmt.Errorf("lifecycle.adjustmentLedger: save %s/%s: %w", scope, kind, err)
	}
	metrics.Adjustments.WithLabelValues(string(kind)).Inc()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.day == rec.Day {
		l.cache[recordKey{scope: scope, kind: kind}] = struct{}{}
	}
	return nil
}

// countsByKind returns today's recorded adjustments grouped by kind.
func (l *adjustmentLedger) countsByKind() map[domain.AdjustmentKind]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[domain.AdjustmentKind]int)
	for k := range l.cache {
		out[k.kind]++
	}
	return out
}
