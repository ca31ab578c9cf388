package domain

import (
	"errors"
	"fmt"
)

// ErrInsufficientData indica que un par no tiene el solapamiento mínimo de
// observaciones para analizarse. El candidato se salta; no es fatal.
var ErrInsufficientData = errors.New("insufficient aligned observations")

// StatisticDegradedError indica que un sub-estadístico no pudo calcularse
// (p.ej. división por cero en el coeficiente de variación). El filtro
// afectado se trata como no superado (fail-closed); no aborta el análisis.
type StatisticDegradedError struct {
	Statistic string
	Reason    string
}

func (e *StatisticDegradedError) Error() string {
	return fmt.Sprintf("statistic %s degraded: %s", e.Statistic, e.Reason)
}

// GatewayRejectedError indica que el gateway devolvió un código de fallo
// para una mutación. Se reintenta en el siguiente ciclo.
type GatewayRejectedError struct {
	Op     string
	Ticket string
	Code   string
}

func (e *GatewayRejectedError) Error() string {
	if e.Ticket != "" {
		return fmt.Sprintf("gateway rejected %s (ticket %s): %s", e.Op, e.Ticket, e.Code)
	}
	return fmt.Sprintf("gateway rejected %s: %s", e.Op, e.Code)
}

// UnresolvableMappingError indica una pata huérfana sin mapping de par
// recuperable. Dispara el cierre fail-safe de la pata superviviente.
type UnresolvableMappingError struct {
	MagicID int64
	Ticket  string
}

func (e *UnresolvableMappingError) Error() string {
	return fmt.Sprintf("no pair mapping for magic %d (ticket %s)", e.MagicID, e.Ticket)
}

// InvariantViolationError indica un estado que el motor no debe intentar
// adivinar (p.ej. un grupo con más de 2 patas en el gateway). El grupo se
// marca para intervención manual y se excluye de la automatización.
type InvariantViolationError struct {
	MagicID int64
	Detail  string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation on group %d: %s", e.MagicID, e.Detail)
}
