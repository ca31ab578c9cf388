package storage

// Persistencia mínima pero suficiente para sobrevivir reinicios.
//
// Estrategia:
//   - `closed_groups` + `group_legs`: histórico de grupos cerrados. Los
//     grupos vivos NO se persisten: tras un reinicio se reconstruyen desde
//     el gateway (reconciliación), que es la fuente de verdad.
//   - `adjustments`: marcadores de idempotencia (scope, kind, day). Clave
//     primaria compuesta → el duplicado es un no-op a nivel de SQL.
//   - El magic id máximo archivado ancla la secuencia tras cada arranque.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marquinhogomes/pairtrader/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
-- Grupos cerrados, una fila por grupo
CREATE TABLE IF NOT EXISTS closed_groups (
    magic_id     INTEGER PRIMARY KEY,
    pair_id      TEXT     NOT NULL,
    opened_at    DATETIME NOT NULL,
    closed_at    DATETIME NOT NULL,
    closed_day   TEXT     NOT NULL,
    close_reason TEXT     NOT NULL DEFAULT '',
    realized_pnl REAL     NOT NULL DEFAULT 0,
    flagged      INTEGER  NOT NULL DEFAULT 0,
    flag_reason  TEXT     NOT NULL DEFAULT ''
);

-- Dos filas por grupo cerrado
CREATE TABLE IF NOT EXISTS group_legs (
    id               TEXT PRIMARY KEY,
    magic_id         INTEGER NOT NULL,
    ticket           TEXT    NOT NULL DEFAULT '',
    symbol           TEXT    NOT NULL,
    side             TEXT    NOT NULL,
    role             TEXT    NOT NULL,
    volume           REAL    NOT NULL DEFAULT 0,
    open_price       REAL    NOT NULL DEFAULT 0,
    stop_loss        REAL    NOT NULL DEFAULT 0,
    take_profit      REAL    NOT NULL DEFAULT 0,
    original_tp_dist REAL    NOT NULL DEFAULT 0,
    status           TEXT    NOT NULL,
    profit           REAL    NOT NULL DEFAULT 0,
    closed_at        DATETIME
);

-- Marcadores de idempotencia de ajustes: el PK hace el trabajo
CREATE TABLE IF NOT EXISTS adjustments (
    scope       TEXT     NOT NULL,
    kind        TEXT     NOT NULL,
    day         TEXT     NOT NULL,
    recorded_at DATETIME NOT NULL,
    PRIMARY KEY (scope, kind, day)
);

CREATE INDEX IF NOT EXISTS idx_groups_day  ON closed_groups(closed_day);
CREATE INDEX IF NOT EXISTS idx_legs_magic  ON group_legs(magic_id);
CREATE INDEX IF NOT EXISTS idx_adj_day     ON adjustments(day);
`

// SQLiteStorage implementa ports.ArchiveStorage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica
// el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// ArchiveGroup persiste un grupo cerrado con sus dos patas. Reintento tras
// fallo parcial: el grupo se reescribe y las patas se reemplazan.
func (s *SQLiteStorage) ArchiveGroup(ctx context.Context, a domain.GroupArchive) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.ArchiveGroup: begin tx: %w", err)
	}
	defer tx.Rollback()

	g := a.Group
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO closed_groups
			(magic_id, pair_id, opened_at, closed_at, closed_day,
			 close_reason, realized_pnl, flagged, flag_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(magic_id) DO UPDATE SET
			closed_at    = excluded.closed_at,
			closed_day   = excluded.closed_day,
			close_reason = excluded.close_reason,
			realized_pnl = excluded.realized_pnl,
			flagged      = excluded.flagged,
			flag_reason  = excluded.flag_reason
	`,
		g.MagicID, g.PairID, g.OpenedAt.UTC(), a.ClosedAt.UTC(), domain.DayKey(a.ClosedAt),
		g.CloseReason, g.RealizedPnL, boolToInt(g.Flagged), g.FlagReason,
	); err != nil {
		return fmt.Errorf("storage.ArchiveGroup: insert group %d: %w", g.MagicID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_legs WHERE magic_id = ?`, g.MagicID); err != nil {
		return fmt.Errorf("storage.ArchiveGroup: clear legs %d: %w", g.MagicID, err)
	}
	for _, leg := range []domain.Leg{g.Dependent, g.Independent} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_legs
				(id, magic_id, ticket, symbol, side, role, volume, open_price,
				 stop_loss, take_profit, original_tp_dist, status, profit, closed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			leg.ID, g.MagicID, leg.Ticket, leg.Symbol, string(leg.Side), string(leg.Role),
			leg.Volume, leg.OpenPrice, leg.StopLoss, leg.TakeProfit, leg.OriginalTPDist,
			string(leg.Status), leg.Profit, utcOrNil(leg.ClosedAt),
		); err != nil {
			return fmt.Errorf("storage.ArchiveGroup: insert leg %s: %w", leg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.ArchiveGroup: commit: %w", err)
	}
	return nil
}

// GetArchivedGroups devuelve los grupos cerrados de un día ("" = todos),
// con sus patas reconstruidas por rol.
func (s *SQLiteStorage) GetArchivedGroups(ctx context.Context, day string) ([]domain.GroupArchive, error) {
	query := `
		SELECT magic_id, pair_id, opened_at, closed_at, close_reason,
		       realized_pnl, flagged, flag_reason
		FROM closed_groups`
	args := []any{}
	if day != "" {
		query += ` WHERE closed_day = ?`
		args = append(args, day)
	}
	query += ` ORDER BY closed_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.GetArchivedGroups: query: %w", err)
	}
	defer rows.Close()

	var out []domain.GroupArchive
	for rows.Next() {
		var (
			g       domain.TradeGroup
			closed  time.Time
			flagged int
		)
		if err := rows.Scan(&g.MagicID, &g.PairID, &g.OpenedAt, &closed,
			&g.CloseReason, &g.RealizedPnL, &flagged, &g.FlagReason); err != nil {
			return nil, fmt.Errorf("storage.GetArchivedGroups: scan: %w", err)
		}
		g.State = domain.StateClosed
		g.Flagged = flagged != 0
		g.ClosedAt = &closed

		if err := s.loadLegs(ctx, &g); err != nil {
			return nil, err
		}
		out = append(out, domain.GroupArchive{Group: g, ClosedAt: closed})
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) loadLegs(ctx context.Context, g *domain.TradeGroup) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket, symbol, side, role, volume, open_price,
		       stop_loss, take_profit, original_tp_dist, status, profit, closed_at
		FROM group_legs WHERE magic_id = ?`, g.MagicID)
	if err != nil {
		return fmt.Errorf("storage.loadLegs %d: %w", g.MagicID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			leg      domain.Leg
			side     string
			role     string
			status   string
			closedAt sql.NullTime
		)
		if err := rows.Scan(&leg.ID, &leg.Ticket, &leg.Symbol, &side, &role,
			&leg.Volume, &leg.OpenPrice, &leg.StopLoss, &leg.TakeProfit,
			&leg.OriginalTPDist, &status, &leg.Profit, &closedAt); err != nil {
			return fmt.Errorf("storage.loadLegs %d: scan: %w", g.MagicID, err)
		}
		leg.Side = domain.LegSide(side)
		leg.Role = domain.LegRole(role)
		leg.Status = domain.LegStatus(status)
		if closedAt.Valid {
			t := closedAt.Time
			leg.ClosedAt = &t
		}

		if leg.Role == domain.RoleDependent {
			g.Dependent = leg
		} else {
			g.Independent = leg
		}
	}
	return rows.Err()
}

// MaxMagicID devuelve el mayor magic id archivado (0 si no hay ninguno).
func (s *SQLiteStorage) MaxMagicID(ctx context.Context) (int64, error) {
	var max int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(magic_id), 0) FROM closed_groups`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("storage.MaxMagicID: %w", err)
	}
	return max, nil
}

// SaveAdjustment registra un ajuste ejecutado. El PK (scope, kind, day)
// convierte el duplicado en no-op.
func (s *SQLiteStorage) SaveAdjustment(ctx context.Context, rec domain.AdjustmentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO adjustments (scope, kind, day, recorded_at)
		VALUES (?, ?, ?, ?)`,
		rec.Scope, string(rec.Kind), rec.Day, rec.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("storage.SaveAdjustment %s/%s: %w", rec.Scope, rec.Kind, err)
	}
	return nil
}

// GetAdjustments devuelve los ajustes registrados para un día.
func (s *SQLiteStorage) GetAdjustments(ctx context.Context, day string) ([]domain.AdjustmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, kind, day, recorded_at FROM adjustments WHERE day = ?`, day)
	if err != nil {
		return nil, fmt.Errorf("storage.GetAdjustments %s: %w", day, err)
	}
	defer rows.Close()

	var out []domain.AdjustmentRecord
	for rows.Next() {
		var (
			rec  domain.AdjustmentRecord
			kind string
		)
		if err := rows.Scan(&rec.Scope, &kind, &rec.Day, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("storage.GetAdjustments %s: scan: %w", day, err)
		}
		rec.Kind = domain.AdjustmentKind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PurgeAdjustmentsBefore elimina marcadores anteriores al día dado.
func (s *SQLiteStorage) PurgeAdjustmentsBefore(ctx context.Context, day string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM adjustments WHERE day < ?`, day); err != nil {
		return fmt.Errorf("storage.PurgeAdjustmentsBefore %s: %w", day, err)
	}
	return nil
}

// Close cierra la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
