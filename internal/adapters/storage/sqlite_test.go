package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marquinhogomes/pairtrader/internal/domain"
)

func testStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleArchive(magic int64, closedAt time.Time) domain.GroupArchive {
	closed := closedAt
	return domain.GroupArchive{
		ClosedAt: closedAt,
		Group: domain.TradeGroup{
			MagicID:     magic,
			PairID:      "VALE3/PETR4",
			State:       domain.StateClosed,
			OpenedAt:    closedAt.Add(-2 * time.Hour),
			ClosedAt:    &closed,
			CloseReason: "profit cap",
			RealizedPnL: 125.5,
			Dependent: domain.Leg{
				ID: "dep-" + domain.DayKey(closedAt), Ticket: "T1", Symbol: "VALE3",
				Side: domain.SideLong, Role: domain.RoleDependent,
				Volume: 100, OpenPrice: 50, Status: domain.LegClosed, Profit: 80,
				ClosedAt: &closed,
			},
			Independent: domain.Leg{
				ID: "ind-" + domain.DayKey(closedAt), Ticket: "T2", Symbol: "PETR4",
				Side: domain.SideShort, Role: domain.RoleIndependent,
				Volume: 100, OpenPrice: 40, Status: domain.LegClosed, Profit: 45.5,
				ClosedAt: &closed,
			},
		},
	}
}

func TestArchiveAndReload(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()
	closedAt := time.Date(2026, 8, 28, 15, 30, 0, 0, time.UTC)

	require.NoError(t, s.ArchiveGroup(ctx, sampleArchive(7700001, closedAt)))

	got, err := s.GetArchivedGroups(ctx, "2026-08-28")
	require.NoError(t, err)
	require.Len(t, got, 1)

	g := got[0].Group
	assert.Equal(t, int64(7700001), g.MagicID)
	assert.Equal(t, "VALE3/PETR4", g.PairID)
	assert.Equal(t, "profit cap", g.CloseReason)
	assert.InDelta(t, 125.5, g.RealizedPnL, 1e-9)
	assert.Equal(t, domain.StateClosed, g.State)

	assert.Equal(t, "VALE3", g.Dependent.Symbol)
	assert.Equal(t, domain.RoleDependent, g.Dependent.Role)
	assert.InDelta(t, 80.0, g.Dependent.Profit, 1e-9)
	assert.Equal(t, "PETR4", g.Independent.Symbol)
	assert.Equal(t, domain.SideShort, g.Independent.Side)
	require.NotNil(t, g.Independent.ClosedAt)
}

func TestGetArchivedGroupsFiltersByDay(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	require.NoError(t, s.ArchiveGroup(ctx, sampleArchive(1, time.Date(2026, 8, 27, 16, 0, 0, 0, time.UTC))))
	require.NoError(t, s.ArchiveGroup(ctx, sampleArchive(2, time.Date(2026, 8, 28, 16, 0, 0, 0, time.UTC))))

	got, err := s.GetArchivedGroups(ctx, "2026-08-28")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Group.MagicID)

	all, err := s.GetArchivedGroups(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestArchiveGroupRetryOverwrites(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()
	closedAt := time.Date(2026, 8, 28, 15, 30, 0, 0, time.UTC)

	a := sampleArchive(7700001, closedAt)
	require.NoError(t, s.ArchiveGroup(ctx, a))

	a.Group.RealizedPnL = 130
	require.NoError(t, s.ArchiveGroup(ctx, a))

	got, err := s.GetArchivedGroups(ctx, "")
	require.NoError(t, err)
	require.Len(t, got, 1, "retry must not duplicate the group")
	assert.InDelta(t, 130.0, got[0].Group.RealizedPnL, 1e-9)
}

func TestMaxMagicID(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	max, err := s.MaxMagicID(ctx)
	require.NoError(t, err)
	assert.Zero(t, max)

	closedAt := time.Date(2026, 8, 28, 15, 30, 0, 0, time.UTC)
	require.NoError(t, s.ArchiveGroup(ctx, sampleArchive(7700007, closedAt)))
	require.NoError(t, s.ArchiveGroup(ctx, sampleArchive(7700003, closedAt.Add(time.Minute))))

	max, err = s.MaxMagicID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7700007), max)
}

func TestSaveAdjustmentDuplicateIsNoOp(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	rec := domain.AdjustmentRecord{
		Scope: "7700001", Kind: domain.AdjustBreakEven, Day: "2026-08-28",
		RecordedAt: time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveAdjustment(ctx, rec))

	rec.RecordedAt = rec.RecordedAt.Add(time.Hour)
	require.NoError(t, s.SaveAdjustment(ctx, rec))

	got, err := s.GetAdjustments(ctx, "2026-08-28")
	require.NoError(t, err)
	require.Len(t, got, 1)
	// El primer registro gana
	assert.Equal(t, 11, got[0].RecordedAt.UTC().Hour())
}

func TestGetAdjustmentsScopedByDay(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	for _, rec := range []domain.AdjustmentRecord{
		{Scope: "7700001", Kind: domain.AdjustBreakEven, Day: "2026-08-27", RecordedAt: time.Now()},
		{Scope: "7700001", Kind: domain.AdjustIntradayClose, Day: "2026-08-28", RecordedAt: time.Now()},
		{Scope: domain.GlobalScope, Kind: domain.AdjustForceFlatten, Day: "2026-08-28", RecordedAt: time.Now()},
	} {
		require.NoError(t, s.SaveAdjustment(ctx, rec))
	}

	got, err := s.GetAdjustments(ctx, "2026-08-28")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestPurgeAdjustmentsBefore(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	for _, day := range []string{"2026-08-20", "2026-08-25", "2026-08-28"} {
		require.NoError(t, s.SaveAdjustment(ctx, domain.AdjustmentRecord{
			Scope: domain.GlobalScope, Kind: domain.AdjustPendingPurge, Day: day, RecordedAt: time.Now(),
		}))
	}

	require.NoError(t, s.PurgeAdjustmentsBefore(ctx, "2026-08-25"))

	old, err := s.GetAdjustments(ctx, "2026-08-20")
	require.NoError(t, err)
	assert.Empty(t, old)

	kept, err := s.GetAdjustments(ctx, "2026-08-25")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}
