package ports

import (
	"context"

	"github.com/marquinhogomes/pairtrader/internal/domain"
)

// ArchiveStorage persists what must survive a process restart: closed groups
// and the day-scoped adjustment records that keep scheduled jobs idempotent.
type ArchiveStorage interface {
	// ArchiveGroup persists a closed group and its legs.
	ArchiveGroup(ctx context.Context, a domain.GroupArchive) error

	// GetArchivedGroups returns archived groups for a calendar day ("" = all).
	GetArchivedGroups(ctx context.Context, day string) ([]domain.GroupArchive, error)

	// MaxMagicID returns the highest magic id ever archived (0 if none),
	// so a restarted process never reuses a live id.
	MaxMagicID(ctx context.Context) (int64, error)

	// SaveAdjustment records an executed adjustment. Saving the same
	// (scope, kind, day) twice is a no-op.
	SaveAdjustment(ctx context.Context, rec domain.AdjustmentRecord) error

	// GetAdjustments returns every adjustment recorded for a calendar day.
	GetAdjustments(ctx context.Context, day string) ([]domain.AdjustmentRecord, error)

	// PurgeAdjustmentsBefore removes records older than the given day.
	PurgeAdjustmentsBefore(ctx context.Context, day string) error

	Close() error
}
