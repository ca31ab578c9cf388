package domain

import "time"

// TaskStatus es la vista de liveness de una tarea supervisada.
type TaskStatus struct {
	Name      string    `json:"name"`
	Alive     bool      `json:"alive"`
	Restarts  int       `json:"restarts"`
	LastBeat  time.Time `json:"last_beat"`
	LastError string    `json:"last_error,omitempty"`
}

// Alert es una condición escalada al colaborador de UI/telemetría.
type Alert struct {
	Severity string    `json:"severity"` // WARNING | ERROR | CRITICAL
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// StatusSnapshot es la vista de solo lectura que el motor expone al exterior.
// Siempre es una copia: leerla no retiene ningún lock interno.
type StatusSnapshot struct {
	TakenAt time.Time `json:"taken_at"`

	// Grupos por estado
	GroupsByState map[GroupState]int `json:"groups_by_state"`
	OpenGroups    int                `json:"open_groups"`
	ClosedToday   int                `json:"closed_today"`

	// Ajustes ejecutados hoy, por tipo
	AdjustmentsToday map[AdjustmentKind]int `json:"adjustments_today"`

	// Último ciclo de cada duty
	LastSignalCycle    time.Time `json:"last_signal_cycle"`
	LastReconcileCycle time.Time `json:"last_reconcile_cycle"`

	// Degradaciones visibles (nunca un resultado parcial silencioso)
	SkippedPairs   int `json:"skipped_pairs"`
	GatewayRetries int `json:"gateway_retries"`
	FlaggedGroups  int `json:"flagged_groups"`

	Tasks  []TaskStatus `json:"tasks"`
	Alerts []Alert      `json:"alerts"`
}
