package arbitrage

import (
	"context"
	"fmt"
	"sort"

	"github.com/gregtusar/carry/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultScanConcurrency = 8

type ScanParams struct {
	MinFundingRate     decimal.Decimal
	MinAvgVolume       decimal.Decimal
	HistoryDays        int
	StabilityThreshold float64
}

func (p ScanParams) Validate() error {
	if p.MinFundingRate.IsNegative() {
		return fmt.Errorf("%w: min funding rate must not be negative", ErrInvalidParams)
	}
	if p.MinAvgVolume.IsNegative() {
		return fmt.Errorf("%w: min average volume must not be negative", ErrInvalidParams)
	}
	if p.HistoryDays < 1 {
		return fmt.Errorf("%w: history days must be at least 1", ErrInvalidParams)
	}
	if p.StabilityThreshold < 0 || p.StabilityThreshold > 1 {
		return fmt.Errorf("%w: stability threshold must be within [0,1]", ErrInvalidParams)
	}
	return nil
}

// Scanner ranks perpetual symbols by funding rate, keeping only those that
// are liquid and whose rate has held its direction.
type Scanner struct {
	market      MarketData
	logger      *logrus.Logger
	concurrency int
}

func NewScanner(market MarketData, logger *logrus.Logger, concurrency int) *Scanner {
	if concurrency < 1 {
		concurrency = defaultScanConcurrency
	}
	return &Scanner{
		market:      market,
		logger:      logger,
		concurrency: concurrency,
	}
}

func (s *Scanner) Scan(ctx context.Context, params ScanParams) ([]models.OpportunityCandidate, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	rates, err := s.market.AllCurrentFundingRates(ctx)
	if err != nil {
		return nil, dataUnavailable("current funding rates", err)
	}

	symbols := make([]string, 0, len(rates))
	for symbol, rate := range rates {
		if rate.Abs().LessThan(params.MinFundingRate) {
			continue
		}
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	s.logger.WithFields(logrus.Fields{
		"listed":    len(rates),
		"surviving": len(symbols),
	}).Debug("Funding rate pre-filter complete")

	limit := historyLimit(params.HistoryDays)
	results := make([]*models.OpportunityCandidate, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		rate := rates[symbol]
		g.Go(func() error {
			results[i] = s.evaluate(gctx, symbol, rate, limit, params)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := make([]models.OpportunityCandidate, 0, len(results))
	for _, c := range results {
		if c != nil {
			candidates = append(candidates, *c)
		}
	}
	rankCandidates(candidates)

	s.logger.WithField("candidates", len(candidates)).Info("Opportunity scan complete")
	return candidates, nil
}

// evaluate returns nil when the symbol is skipped or filtered out.
func (s *Scanner) evaluate(ctx context.Context, symbol string, rate decimal.Decimal, limit int, params ScanParams) *models.OpportunityCandidate {
	log := s.logger.WithField("symbol", symbol)

	history, err := s.market.FundingRateHistory(ctx, symbol, limit)
	if err != nil {
		log.WithError(err).Debug("Skipping symbol, funding history unavailable")
		return nil
	}
	volume, err := s.market.QuoteVolume24h(ctx, symbol)
	if err != nil {
		log.WithError(err).Debug("Skipping symbol, volume unavailable")
		return nil
	}

	stability := Stability(rate, history)
	if !volume.GreaterThan(params.MinAvgVolume) || stability < params.StabilityThreshold {
		return nil
	}

	return &models.OpportunityCandidate{
		Symbol:             symbol,
		CurrentFundingRate: rate,
		AvgVolume:          volume,
		Stability:          stability,
	}
}

// rankCandidates orders by descending absolute funding rate. Input must
// already be in a deterministic order for ties to be stable.
func rankCandidates(candidates []models.OpportunityCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CurrentFundingRate.Abs().GreaterThan(candidates[j].CurrentFundingRate.Abs())
	})
}
