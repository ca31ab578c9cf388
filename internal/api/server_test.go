package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marquinhogomes/pairtrader/internal/domain"
)

type fakeStatus struct {
	snap   domain.StatusSnapshot
	groups []domain.TradeGroup
}

func (f *fakeStatus) Snapshot() domain.StatusSnapshot { return f.snap }
func (f *fakeStatus) Groups() []domain.TradeGroup     { return f.groups }

type fakeArchive struct {
	archives []domain.GroupArchive
	err      error
	lastDay  string
}

func (f *fakeArchive) GetArchivedGroups(ctx context.Context, day string) ([]domain.GroupArchive, error) {
	f.lastDay = day
	return f.archives, f.err
}

func liveGroup() domain.TradeGroup {
	return domain.TradeGroup{
		MagicID:  7700001,
		PairID:   "VALE3/PETR4",
		State:    domain.StateBothOpen,
		OpenedAt: time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC),
		Dependent: domain.Leg{
			Ticket: "T1", Symbol: "VALE3", Side: domain.SideLong,
			Role: domain.RoleDependent, Status: domain.LegOpen,
			Volume: 100, OpenPrice: 50, Profit: 35.5,
		},
		Independent: domain.Leg{
			Ticket: "T2", Symbol: "PETR4", Side: domain.SideShort,
			Role: domain.RoleIndependent, Status: domain.LegOpen,
			Volume: 100, OpenPrice: 40,
		},
	}
}

func testServer(status *fakeStatus, archive *fakeArchive) *Server {
	return NewServer("127.0.0.1:0", status, archive, nil)
}

func doRequest(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := testServer(&fakeStatus{}, &fakeArchive{})
	rec := doRequest(t, s, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	status := &fakeStatus{snap: domain.StatusSnapshot{
		OpenGroups:  3,
		ClosedToday: 1,
		Tasks:       []domain.TaskStatus{{Name: "signals", Alive: true}},
	}}
	s := testServer(status, &fakeArchive{})

	rec := doRequest(t, s, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.StatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3, got.OpenGroups)
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, "signals", got.Tasks[0].Name)
}

func TestGroupsEndpoint(t *testing.T) {
	s := testServer(&fakeStatus{groups: []domain.TradeGroup{liveGroup()}}, &fakeArchive{})

	rec := doRequest(t, s, "/api/v1/groups")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []groupView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(7700001), got[0].MagicID)
	assert.Equal(t, "BOTH_OPEN", got[0].State)
	assert.InDelta(t, 35.5, got[0].TotalProfit, 1e-9)
	require.Len(t, got[0].Legs, 2)
	assert.Equal(t, "DEPENDENT", got[0].Legs[0].Role)
}

func TestClosedEndpointFiltersByDay(t *testing.T) {
	archive := &fakeArchive{archives: []domain.GroupArchive{{
		Group:    liveGroup(),
		ClosedAt: time.Date(2026, 8, 28, 16, 0, 0, 0, time.UTC),
	}}}
	s := testServer(&fakeStatus{}, archive)

	rec := doRequest(t, s, "/api/v1/closed?day=2026-08-28")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-08-28", archive.lastDay)

	var got []groupView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 1)
}

func TestClosedEndpointArchiveError(t *testing.T) {
	s := testServer(&fakeStatus{}, &fakeArchive{err: errors.New("disk gone")})

	rec := doRequest(t, s, "/api/v1/closed")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "archive unavailable")
}

func TestUnknownRouteIs404(t *testing.T) {
	s := testServer(&fakeStatus{}, &fakeArchive{})
	rec := doRequest(t, s, "/api/v1/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
