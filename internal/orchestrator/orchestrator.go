package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marquinhogomes/pairtrader/internal/domain"
	"github.com/marquinhogomes/pairtrader/internal/metrics"
	"github.com/marquinhogomes/pairtrader/internal/ports"
)

const maxAlerts = 50

// Task is a periodic duty run under supervision. Run is invoked once per
// Interval; an error is recorded and the task keeps its schedule, a panic is
// recovered and counted as a restart. A task only stops when the context is
// canceled.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// SnapshotSource supplies the domain half of a status snapshot; the
// orchestrator adds task liveness and alerts on top.
type SnapshotSource func() domain.StatusSnapshot

// Orchestrator supervises the engine's long-running duties and assembles the
// read-only status view. Task failures degrade the snapshot and raise
// alerts; they never take the process down.
type Orchestrator struct {
	clock ports.Clock
	log   *slog.Logger

	// Consecutive failures of one task before a CRITICAL alert.
	alertThreshold int

	mu     sync.Mutex
	tasks  map[string]*taskState
	order  []string
	alerts []domain.Alert
	source SnapshotSource

	wg sync.WaitGroup
}

type taskState struct {
	name      string
	alive     bool
	restarts  int
	lastBeat  time.Time
	lastError string
	consec    int
}

func New(clock ports.Clock, alertThreshold int, log *slog.Logger) *Orchestrator {
	if clock == nil {
		clock = ports.RealClock{}
	}
	if alertThreshold <= 0 {
		alertThreshold = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		clock:          clock,
		log:            log,
		alertThreshold: alertThreshold,
		tasks:          make(map[string]*taskState),
	}
}

// SetSource installs the provider of the domain status fields.
func (o *Orchestrator) SetSource(fn SnapshotSource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.source = fn
}

// Start launches one goroutine per task. It returns immediately; Wait blocks
// until every task has exited after the context is canceled.
func (o *Orchestrator) Start(ctx context.Context, tasks []Task) {
	for _, t := range tasks {
		o.mu.Lock()
		o.tasks[t.Name] = &taskState{name: t.Name, alive: true, lastBeat: o.clock.Now()}
		o.order = append(o.order, t.Name)
		o.mu.Unlock()

		o.wg.Add(1)
		go o.runTask(ctx, t)
	}
}

// Wait blocks until all supervised tasks have exited.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) runTask(ctx context.Context, t Task) {
	defer o.wg.Done()
	o.log.Info("task started", "task", t.Name, "interval", t.Interval)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		o.runOnce(ctx, t)
		select {
		case <-ctx.Done():
			o.markStopped(t.Name)
			o.log.Info("task stopped", "task", t.Name)
			return
		case <-ticker.C:
		}
	}
}

// runOnce executes a single task iteration with panic containment.
func (o *Orchestrator) runOnce(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			o.recordFailure(t.Name, fmt.Errorf("panic: %v", r), true)
		}
	}()

	if err := t.Run(ctx); err != nil {
		// Context cancellation during shutdown is not a failure.
		if ctx.Err() != nil {
			return
		}
		o.recordFailure(t.Name, err, false)
		return
	}
	o.recordSuccess(t.Name)
}

func (o *Orchestrator) recordSuccess(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.tasks[name]
	st.alive = true
	st.lastBeat = o.clock.Now()
	st.lastError = ""
	st.consec = 0
}

func (o *Orchestrator) recordFailure(name string, err error, panicked bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.tasks[name]
	st.lastBeat = o.clock.Now()
	st.lastError = err.Error()
	st.consec++
	if panicked {
		st.restarts++
		metrics.TaskRestarts.WithLabelValues(name).Inc()
		o.log.Error("task panicked, restarting", "task", name, "err", err)
		o.appendAlertLocked("ERROR", fmt.Sprintf("task %s panicked: %v", name, err))
	} else {
		o.log.Warn("task iteration failed", "task", name, "err", err)
	}

	if st.consec == o.alertThreshold {
		o.appendAlertLocked("CRITICAL",
			fmt.Sprintf("task %s failed %d consecutive times: %v", name, st.consec, err))
	}
}

func (o *Orchestrator) markStopped(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tasks[name].alive = false
}

// Alert raises an operator-visible alert from outside the task loop.
func (o *Orchestrator) Alert(severity, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.appendAlertLocked(severity, message)
}

func (o *Orchestrator) appendAlertLocked(severity, message string) {
	o.alerts = append(o.alerts, domain.Alert{
		Severity: severity,
		Message:  message,
		At:       o.clock.Now(),
	})
	if len(o.alerts) > maxAlerts {
		o.alerts = o.alerts[len(o.alerts)-maxAlerts:]
	}
}

// TaskStatuses returns the liveness view of every task, in start order.
func (o *Orchestrator) TaskStatuses() []domain.TaskStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.TaskStatus, 0, len(o.order))
	for _, name := range o.order {
		st := o.tasks[name]
		out = append(out, domain.TaskStatus{
			Name:      st.name,
			Alive:     st.alive,
			Restarts:  st.restarts,
			LastBeat:  st.lastBeat,
			LastError: st.lastError,
		})
	}
	return out
}

// Snapshot assembles the full status view: domain fields from the source,
// task liveness and alerts from the supervisor. Always a copy.
func (o *Orchestrator) Snapshot() domain.StatusSnapshot {
	o.mu.Lock()
	source := o.source
	alerts := append([]domain.Alert(nil), o.alerts...)
	o.mu.Unlock()

	var snap domain.StatusSnapshot
	if source != nil {
		snap = source()
	}
	snap.TakenAt = o.clock.Now()
	snap.Tasks = o.TaskStatuses()
	snap.Alerts = alerts
	return snap
}
