package ports

import (
	"context"

	"github.com/marquinhogomes/pairtrader/internal/domain"
)

// Notifier presenta el estado del motor al usuario.
type Notifier interface {
	// NotifyStatus muestra el snapshot actual más la tabla de grupos abiertos.
	NotifyStatus(ctx context.Context, snap domain.StatusSnapshot, groups []domain.TradeGroup) error
}
