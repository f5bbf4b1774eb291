package monitor

import (
	"context"
	"sort"
	"sync"

	"github.com/gregtusar/carry/pkg/binance"
	"github.com/gregtusar/carry/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RateSource is satisfied by *binance.MarkPriceStream.
type RateSource interface {
	Run(ctx context.Context, handler binance.MarkPriceHandler) error
}

// FundingMonitor keeps the latest mark price entry of every perpetual seen on
// the stream and reports the ones whose live funding rate clears a floor.
type FundingMonitor struct {
	source   RateSource
	minRate  decimal.Decimal
	onUpdate func([]models.MarkPrice)
	latest   map[string]models.MarkPrice
	logger   *logrus.Logger
	mu       sync.RWMutex
	stopCh   chan struct{}
	doneCh   chan struct{}
	err      error
	stopOnce sync.Once
}

// NewFundingMonitor reports symbols with |funding rate| >= minRate. onUpdate
// may be nil; when set it receives the qualifying subset of each batch.
func NewFundingMonitor(source RateSource, minRate decimal.Decimal, onUpdate func([]models.MarkPrice), logger *logrus.Logger) *FundingMonitor {
	return &FundingMonitor{
		source:   source,
		minRate:  minRate.Abs(),
		onUpdate: onUpdate,
		latest:   make(map[string]models.MarkPrice),
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (m *FundingMonitor) Start(ctx context.Context) {
	m.logger.WithField("min_funding_rate", m.minRate.String()).Info("Starting funding monitor")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-ctx.Done():
		case <-m.stopCh:
			cancel()
		}
	}()
	go func() {
		defer cancel()
		err := m.source.Run(ctx, m.handle)
		if err != nil && ctx.Err() == nil {
			m.logger.WithError(err).Error("Funding monitor stream stopped")
		}
		m.err = err
		close(m.doneCh)
	}()
}

// Stop ends the stream and waits for it to return.
func (m *FundingMonitor) Stop() error {
	m.stopOnce.Do(func() {
		m.logger.Info("Stopping funding monitor")
		close(m.stopCh)
	})
	<-m.doneCh
	return m.err
}

// Done is closed once the stream has returned; Err then holds its error.
func (m *FundingMonitor) Done() <-chan struct{} {
	return m.doneCh
}

func (m *FundingMonitor) Err() error {
	<-m.doneCh
	return m.err
}

func (m *FundingMonitor) handle(prices []models.MarkPrice) {
	qualifying := make([]models.MarkPrice, 0)

	m.mu.Lock()
	for _, p := range prices {
		m.latest[p.Symbol] = p
		if m.qualifies(p) {
			qualifying = append(qualifying, p)
		}
	}
	m.mu.Unlock()

	if m.onUpdate != nil && len(qualifying) > 0 {
		rankByRate(qualifying)
		m.onUpdate(qualifying)
	}
}

func (m *FundingMonitor) qualifies(p models.MarkPrice) bool {
	return p.FundingRate.Abs().GreaterThanOrEqual(m.minRate)
}

// Snapshots returns the latest qualifying entries, highest |rate| first.
func (m *FundingMonitor) Snapshots() []models.MarkPrice {
	m.mu.RLock()
	snapshots := make([]models.MarkPrice, 0, len(m.latest))
	for _, p := range m.latest {
		if m.qualifies(p) {
			snapshots = append(snapshots, p)
		}
	}
	m.mu.RUnlock()

	rankByRate(snapshots)
	return snapshots
}

func rankByRate(prices []models.MarkPrice) {
	sort.Slice(prices, func(i, j int) bool {
		ai, aj := prices[i].FundingRate.Abs(), prices[j].FundingRate.Abs()
		if !ai.Equal(aj) {
			return ai.GreaterThan(aj)
		}
		return prices[i].Symbol < prices[j].Symbol
	})
}
