package ports

import (
	"context"

	"github.com/marquinhogomes/pairtrader/internal/domain"
)

// MarketDataFeed provides historical close series for analysis.
type MarketDataFeed interface {
	// GetSeries returns up to lookback closes for the symbol at the given
	// timeframe, oldest first.
	GetSeries(ctx context.Context, symbol, timeframe string, lookback int) (domain.PriceSeries, error)
}
