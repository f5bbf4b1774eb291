package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gregtusar/carry/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarket struct {
	rates      map[string]decimal.Decimal
	ratesErr   error
	history    map[string][]models.FundingSample
	historyErr map[string]error
	volume     map[string]decimal.Decimal
	volumeErr  map[string]error
	delay      map[string]time.Duration

	mu            sync.Mutex
	historyCalls  map[string]int
	historyLimits []int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		rates:        map[string]decimal.Decimal{},
		history:      map[string][]models.FundingSample{},
		historyErr:   map[string]error{},
		volume:       map[string]decimal.Decimal{},
		volumeErr:    map[string]error{},
		delay:        map[string]time.Duration{},
		historyCalls: map[string]int{},
	}
}

// add registers a symbol with its current rate, quote volume and history.
func (f *fakeMarket) add(symbol, rate, volume string, history ...string) {
	f.rates[symbol] = d(rate)
	f.volume[symbol] = d(volume)
	f.history[symbol] = samples(history...)
}

func (f *fakeMarket) SpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("not used")
}

func (f *fakeMarket) CurrentFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.rates[symbol], nil
}

func (f *fakeMarket) AllCurrentFundingRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	if f.ratesErr != nil {
		return nil, f.ratesErr
	}
	out := make(map[string]decimal.Decimal, len(f.rates))
	for k, v := range f.rates {
		out[k] = v
	}
	return out, nil
}

func (f *fakeMarket) FundingRateHistory(ctx context.Context, symbol string, limit int) ([]models.FundingSample, error) {
	f.mu.Lock()
	f.historyCalls[symbol]++
	f.historyLimits = append(f.historyLimits, limit)
	f.mu.Unlock()

	if delay := f.delay[symbol]; delay > 0 {
		time.Sleep(delay)
	}
	if err := f.historyErr[symbol]; err != nil {
		return nil, err
	}
	return f.history[symbol], nil
}

func (f *fakeMarket) QuoteVolume24h(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := f.volumeErr[symbol]; err != nil {
		return decimal.Zero, err
	}
	return f.volume[symbol], nil
}

func defaultParams() ScanParams {
	return ScanParams{
		MinFundingRate:     d("0.0005"),
		MinAvgVolume:       d("1000000"),
		HistoryDays:        7,
		StabilityThreshold: 0.8,
	}
}

func symbolsOf(cs []models.OpportunityCandidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Symbol
	}
	return out
}

func TestScanFiltersAndRanks(t *testing.T) {
	market := newFakeMarket()
	market.add("AAAUSDT", "0.002", "5000000", "0.001", "0.002", "0.001", "0.003", "0.001")
	market.add("BBBUSDT", "-0.003", "2000000",
		"-0.001", "-0.002", "-0.001", "-0.003", "-0.001", "-0.001", "-0.002", "-0.001", "-0.001", "0.001")
	market.add("CCCUSDT", "0.0001", "90000000", "0.0001")
	market.add("DDDUSDT", "0.001", "500000", "0.001", "0.001")
	market.add("EEEUSDT", "0.004", "9000000", "0.001", "-0.001")
	market.add("FFFUSDT", "0.001", "1000000", "0.001", "0.001")
	market.add("GGGUSDT", "-0.0005", "3000000", "-0.0005", "-0.0004")

	scanner := NewScanner(market, quietLogger(), 4)
	got, err := scanner.Scan(context.Background(), defaultParams())
	require.NoError(t, err)

	assert.Equal(t, []string{"BBBUSDT", "AAAUSDT", "GGGUSDT"}, symbolsOf(got))
	assert.Equal(t, 1, market.historyCalls["GGGUSDT"], "rate equal to the minimum survives the pre-filter")
	assert.Equal(t, 0.9, got[0].Stability)
	assert.True(t, got[0].CurrentFundingRate.Equal(d("-0.003")))
	assert.True(t, got[0].AvgVolume.Equal(d("2000000")))
	assert.Equal(t, 1.0, got[1].Stability)

	assert.Zero(t, market.historyCalls["CCCUSDT"], "pre-filtered symbol must not be fetched")
	for _, limit := range market.historyLimits {
		assert.Equal(t, 21, limit)
	}
}

func TestScanBatchFailureAbortsScan(t *testing.T) {
	market := newFakeMarket()
	market.add("AAAUSDT", "0.002", "5000000", "0.001")
	market.ratesErr = errors.New("premium index: 503")

	got, err := NewScanner(market, quietLogger(), 0).Scan(context.Background(), defaultParams())
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.Nil(t, got)
	assert.Empty(t, market.historyCalls)
}

func TestScanSkipsSymbolOnDetailError(t *testing.T) {
	market := newFakeMarket()
	market.add("AAAUSDT", "0.002", "5000000", "0.001")
	market.add("BBBUSDT", "0.003", "5000000", "0.001")
	market.add("CCCUSDT", "0.004", "5000000", "0.001")
	market.historyErr["BBBUSDT"] = errors.New("timeout")
	market.volumeErr["CCCUSDT"] = fmt.Errorf("ticker: %w", models.ErrMalformedResponse)

	got, err := NewScanner(market, quietLogger(), 2).Scan(context.Background(), defaultParams())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAUSDT"}, symbolsOf(got))
}

func TestScanEmptyHistoryScoresZero(t *testing.T) {
	market := newFakeMarket()
	market.add("AAAUSDT", "0.002", "5000000")

	params := defaultParams()
	got, err := NewScanner(market, quietLogger(), 1).Scan(context.Background(), params)
	require.NoError(t, err)
	assert.Empty(t, got)

	params.StabilityThreshold = 0
	got, err = NewScanner(market, quietLogger(), 1).Scan(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.0, got[0].Stability)
}

func TestScanRankingIndependentOfFetchOrder(t *testing.T) {
	build := func(delays map[string]time.Duration) *fakeMarket {
		m := newFakeMarket()
		m.add("AAAUSDT", "0.001", "5000000", "0.001")
		m.add("BBBUSDT", "-0.001", "5000000", "-0.001")
		m.add("CCCUSDT", "0.002", "5000000", "0.001")
		m.add("DDDUSDT", "0.001", "5000000", "0.002")
		m.add("EEEUSDT", "-0.0015", "5000000", "-0.002")
		m.delay = delays
		return m
	}

	forward := build(map[string]time.Duration{
		"AAAUSDT": 1 * time.Millisecond,
		"BBBUSDT": 5 * time.Millisecond,
		"CCCUSDT": 10 * time.Millisecond,
		"DDDUSDT": 15 * time.Millisecond,
		"EEEUSDT": 20 * time.Millisecond,
	})
	reverse := build(map[string]time.Duration{
		"AAAUSDT": 20 * time.Millisecond,
		"BBBUSDT": 15 * time.Millisecond,
		"CCCUSDT": 10 * time.Millisecond,
		"DDDUSDT": 5 * time.Millisecond,
		"EEEUSDT": 1 * time.Millisecond,
	})

	a, err := NewScanner(forward, quietLogger(), 5).Scan(context.Background(), defaultParams())
	require.NoError(t, err)
	b, err := NewScanner(reverse, quietLogger(), 5).Scan(context.Background(), defaultParams())
	require.NoError(t, err)
	c, err := NewScanner(forward, quietLogger(), 1).Scan(context.Background(), defaultParams())
	require.NoError(t, err)

	want := []string{"CCCUSDT", "EEEUSDT", "AAAUSDT", "BBBUSDT", "DDDUSDT"}
	assert.Equal(t, want, symbolsOf(a))
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestScanInvalidParams(t *testing.T) {
	scanner := NewScanner(newFakeMarket(), quietLogger(), 1)

	cases := map[string]func(p *ScanParams){
		"negative rate":     func(p *ScanParams) { p.MinFundingRate = d("-0.1") },
		"negative volume":   func(p *ScanParams) { p.MinAvgVolume = d("-1") },
		"zero days":         func(p *ScanParams) { p.HistoryDays = 0 },
		"threshold above 1": func(p *ScanParams) { p.StabilityThreshold = 1.5 },
		"threshold below 0": func(p *ScanParams) { p.StabilityThreshold = -0.1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := defaultParams()
			mutate(&p)
			_, err := scanner.Scan(context.Background(), p)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}
