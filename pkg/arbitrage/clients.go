package arbitrage

import (
	"context"

	"github.com/gregtusar/carry/pkg/models"
	"github.com/shopspring/decimal"
)

// MarketData is the read-only view of the exchange the engine needs.
type MarketData interface {
	SpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	CurrentFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error)
	AllCurrentFundingRates(ctx context.Context) (map[string]decimal.Decimal, error)
	FundingRateHistory(ctx context.Context, symbol string, limit int) ([]models.FundingSample, error)
	QuoteVolume24h(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type Account interface {
	AssetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
}

type OrderPlacer interface {
	PlaceSpotMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity decimal.Decimal) (*models.OrderResult, error)
	PlaceFuturesMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity decimal.Decimal) (*models.OrderResult, error)
}

// Exchange is everything the Hedge Executor talks to.
type Exchange interface {
	MarketData
	Account
	OrderPlacer
}
