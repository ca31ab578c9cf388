package notify_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marquinhogomes/pairtrader/internal/adapters/notify"
	"github.com/marquinhogomes/pairtrader/internal/domain"
)

func makeGroup(magic int64, state domain.GroupState, profit float64) domain.TradeGroup {
	return domain.TradeGroup{
		MagicID:  magic,
		PairID:   "VALE3/PETR4",
		State:    state,
		OpenedAt: time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC),
		Dependent: domain.Leg{
			Symbol: "VALE3", Side: domain.SideLong, Status: domain.LegOpen,
			OpenPrice: 50, Volume: 100, Profit: profit,
		},
		Independent: domain.Leg{
			Symbol: "PETR4", Side: domain.SideShort, Status: domain.LegOpen,
			OpenPrice: 40, Volume: 100,
		},
	}
}

func makeSnapshot() domain.StatusSnapshot {
	return domain.StatusSnapshot{
		TakenAt:     time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC),
		OpenGroups:  1,
		ClosedToday: 2,
		Tasks: []domain.TaskStatus{
			{Name: "signals", Alive: true},
			{Name: "monitor", Alive: false},
		},
	}
}

func TestNotifyStatusTable(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	err := n.NotifyStatus(context.Background(), makeSnapshot(),
		[]domain.TradeGroup{makeGroup(7700001, domain.StateBothOpen, 35.5)})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "7700001")
	assert.Contains(t, out, "VALE3/PETR4")
	assert.Contains(t, out, "BOTH_OPEN")
	assert.Contains(t, out, "35.50")
	assert.Contains(t, out, "+signals")
	assert.Contains(t, out, "-monitor")
}

func TestNotifyStatusCompact(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	err := n.NotifyStatus(context.Background(), makeSnapshot(),
		[]domain.TradeGroup{makeGroup(7700002, domain.StateClosing, -12.0)})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "7700002")
	assert.Contains(t, out, "CLOSING")
	assert.Contains(t, out, "-12.00")
}

func TestNotifyStatusEmpty(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	err := n.NotifyStatus(context.Background(), makeSnapshot(), nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "sin grupos vivos")
}

func TestNotifyStatusFlaggedGroup(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	g := makeGroup(7700003, domain.StateBothOpen, 0)
	g.Flagged = true
	g.FlagReason = "3 broker legs"

	err := n.NotifyStatus(context.Background(), makeSnapshot(), []domain.TradeGroup{g})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "MANUAL: 3 broker legs")
}

func TestPrintDailyReport(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	closed := time.Date(2026, 8, 28, 15, 45, 0, 0, time.UTC)
	g := makeGroup(7700004, domain.StateClosed, 0)
	g.CloseReason = "profit cap"
	g.RealizedPnL = 125.0

	n.PrintDailyReport("2026-08-28", []domain.GroupArchive{{Group: g, ClosedAt: closed}})

	out := buf.String()
	assert.Contains(t, out, "7700004")
	assert.Contains(t, out, "profit cap")
	assert.Contains(t, out, "125.00")
	assert.Contains(t, out, "total 2026-08-28")
}
