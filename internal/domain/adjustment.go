package domain

import "time"

// AdjustmentKind identifica cada acción de riesgo idempotente por día.
type AdjustmentKind string

const (
	// Job continuo de break-even
	AdjustBreakEven   AdjustmentKind = "BREAK_EVEN"
	AdjustProfitClose AdjustmentKind = "PROFIT_CLOSE"

	// Job de ajuste de las 15:10 (tres salidas mutuamente excluyentes)
	AdjustIntradayClose     AdjustmentKind = "INTRADAY_CLOSE"      // profit > 25%
	AdjustIntradayBreakEven AdjustmentKind = "INTRADAY_BREAK_EVEN" // profit en [15%, 25%)
	AdjustIntradayShrinkTP  AdjustmentKind = "INTRADAY_SHRINK_TP"  // resto: TP al 60% de su distancia
	AdjustIntradayAdjust    AdjustmentKind = "INTRADAY_ADJUST"     // marcador global del pase completo

	// Jobs globales de horario fijo
	AdjustPendingPurge AdjustmentKind = "PENDING_PURGE" // 15:20
	AdjustForceFlatten AdjustmentKind = "FORCE_FLATTEN" // 16:01
)

// GlobalScope es el scope de los registros de job (no ligados a un grupo).
const GlobalScope = "global"

// AdjustmentRecord es el marcador de idempotencia de un ajuste ejecutado:
// un ajuste del mismo kind no se reaplica al mismo scope el mismo día.
// Se crea cuando el ajuste se confirma; nunca se muta; expira al cambiar de día.
type AdjustmentRecord struct {
	Scope      string // magic id del grupo en decimal, o GlobalScope
	Kind       AdjustmentKind
	Day        string // "2006-01-02" en la zona horaria de trading
	RecordedAt time.Time
}

// DayKey formatea un instante como clave de día calendario.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
