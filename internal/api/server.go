package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marquinhogomes/pairtrader/internal/domain"
)

// StatusProvider feeds the read-only endpoints. All methods return copies;
// a slow HTTP client never holds an engine lock.
type StatusProvider interface {
	Snapshot() domain.StatusSnapshot
	Groups() []domain.TradeGroup
}

// ArchiveProvider serves historical closed groups.
type ArchiveProvider interface {
	GetArchivedGroups(ctx context.Context, day string) ([]domain.GroupArchive, error)
}

// Server exposes the engine state over HTTP:
//
//	GET /healthz              liveness
//	GET /metrics              Prometheus scrape
//	GET /api/v1/status        full status snapshot
//	GET /api/v1/groups        live trade groups
//	GET /api/v1/closed?day=   archived groups (default: all)
type Server struct {
	status  StatusProvider
	archive ArchiveProvider
	log     *slog.Logger
	srv     *http.Server
}

func NewServer(addr string, status StatusProvider, archive ArchiveProvider, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{status: status, archive: archive, log: log}

	router := mux.NewRouter()
	router.Use(s.recovery)
	router.Use(s.logging)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/groups", s.handleGroups).Methods(http.MethodGet)
	v1.HandleFunc("/closed", s.handleClosed).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("api listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Snapshot())
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups := s.status.Groups()
	out := make([]groupView, 0, len(groups))
	for _, g := range groups {
		out = append(out, toGroupView(g))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClosed(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	archives, err := s.archive.GetArchivedGroups(r.Context(), day)
	if err != nil {
		s.log.Error("archive query failed", "day", day, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "archive unavailable"})
		return
	}

	out := make([]groupView, 0, len(archives))
	for _, a := range archives {
		out = append(out, toGroupView(a.Group))
	}
	writeJSON(w, http.StatusOK, out)
}

// groupView is the wire shape of a trade group.
type groupView struct {
	MagicID     int64      `json:"magic_id"`
	PairID      string     `json:"pair_id"`
	State       string     `json:"state"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`
	TotalProfit float64    `json:"total_profit"`
	Flagged     bool       `json:"flagged,omitempty"`
	FlagReason  string     `json:"flag_reason,omitempty"`
	Legs        []legView  `json:"legs"`
}

type legView struct {
	Ticket     string  `json:"ticket"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Role       string  `json:"role"`
	Volume     float64 `json:"volume"`
	OpenPrice  float64 `json:"open_price"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Status     string  `json:"status"`
	Profit     float64 `json:"profit"`
}

func toGroupView(g domain.TradeGroup) groupView {
	v := groupView{
		MagicID:     g.MagicID,
		PairID:      g.PairID,
		State:       string(g.State),
		OpenedAt:    g.OpenedAt,
		ClosedAt:    g.ClosedAt,
		CloseReason: g.CloseReason,
		TotalProfit: g.TotalProfit(),
		Flagged:     g.Flagged,
		FlagReason:  g.FlagReason,
	}
	for _, l := range g.Legs() {
		v.Legs = append(v.Legs, legView{
			Ticket: l.Ticket, Symbol: l.Symbol, Side: string(l.Side), Role: string(l.Role),
			Volume: l.Volume, OpenPrice: l.OpenPrice, StopLoss: l.StopLoss,
			TakeProfit: l.TakeProfit, Status: string(l.Status), Profit: l.Profit,
		})
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// recovery turns a handler panic into a 500 instead of killing the process.
func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("handler panic", "path", r.URL.Path, "panic", rec)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}
