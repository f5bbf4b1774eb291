package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gregtusar/carry/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockExchange struct {
	mock.Mock
}

func (m *mockExchange) SpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockExchange) CurrentFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockExchange) AllCurrentFundingRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	args := m.Called(ctx)
	rates, _ := args.Get(0).(map[string]decimal.Decimal)
	return rates, args.Error(1)
}

func (m *mockExchange) FundingRateHistory(ctx context.Context, symbol string, limit int) ([]models.FundingSample, error) {
	args := m.Called(ctx, symbol, limit)
	history, _ := args.Get(0).([]models.FundingSample)
	return history, args.Error(1)
}

func (m *mockExchange) QuoteVolume24h(ctx context.Context, symbol string) (decimal.Decimal, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockExchange) AssetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockExchange) PlaceSpotMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity decimal.Decimal) (*models.OrderResult, error) {
	args := m.Called(ctx, symbol, side, quantity)
	res, _ := args.Get(0).(*models.OrderResult)
	return res, args.Error(1)
}

func (m *mockExchange) PlaceFuturesMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity decimal.Decimal) (*models.OrderResult, error) {
	args := m.Called(ctx, symbol, side, quantity)
	res, _ := args.Get(0).(*models.OrderResult)
	return res, args.Error(1)
}

type fakeClock struct {
	now   time.Time
	slept []time.Duration
	err   error
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return c.err
}

func qty(s string) interface{} {
	want := d(s)
	return mock.MatchedBy(func(q decimal.Decimal) bool { return q.Equal(want) })
}

func filled(id int64, price string) *models.OrderResult {
	return &models.OrderResult{OrderID: id, Status: models.OrderStatusFilled, AvgPrice: d(price)}
}

func newTestExecutor(ex *mockExchange, clock *fakeClock, opts ...ExecutorOption) *Executor {
	cfg := ExecutorConfig{
		Fees:         models.DefaultFeeModel(),
		QuoteAsset:   "USDT",
		HoldInterval: 10 * time.Second,
	}
	opts = append(opts, WithClock(clock))
	return NewExecutor(ex, cfg, quietLogger(), opts...)
}

// preflight wires the three reads every execution starts with.
func preflight(ex *mockExchange, balance, rate, price string) {
	ex.On("AssetBalance", mock.Anything, "BTC").Return(d(balance), nil).Once()
	ex.On("CurrentFundingRate", mock.Anything, "BTCUSDT").Return(d(rate), nil).Once()
	ex.On("SpotPrice", mock.Anything, "BTCUSDT").Return(d(price), nil).Once()
}

// orderSequence lists placed orders as "<market> <side>" in call order.
func orderSequence(ex *mockExchange) []string {
	var seq []string
	for _, c := range ex.Calls {
		switch c.Method {
		case "PlaceSpotMarketOrder":
			seq = append(seq, fmt.Sprintf("spot %s", c.Arguments.Get(2)))
		case "PlaceFuturesMarketOrder":
			seq = append(seq, fmt.Sprintf("futures %s", c.Arguments.Get(2)))
		}
	}
	return seq
}

func TestExecuteZeroBalancePlacesNoOrders(t *testing.T) {
	ex := &mockExchange{}
	ex.On("AssetBalance", mock.Anything, "BTC").Return(d("0"), nil).Once()

	report, err := newTestExecutor(ex, &fakeClock{}).Execute(context.Background(), "BTCUSDT", d("1"))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, models.StateFailed, report.State)
	assert.Equal(t, models.StateBalanceChecked, report.FailedAt)
	ex.AssertNotCalled(t, "PlaceSpotMarketOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	ex.AssertNotCalled(t, "PlaceFuturesMarketOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	ex.AssertExpectations(t)
}

func TestExecuteZeroRequestedIsInsufficient(t *testing.T) {
	ex := &mockExchange{}
	ex.On("AssetBalance", mock.Anything, "BTC").Return(d("3"), nil).Once()

	_, err := newTestExecutor(ex, &fakeClock{}).Execute(context.Background(), "BTCUSDT", d("0"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, orderSequence(ex))
}

func TestExecuteCapsQuantityAtBalance(t *testing.T) {
	ex := &mockExchange{}
	preflight(ex, "0.5", "0.0003", "40000")
	ex.On("PlaceSpotMarketOrder", mock.Anything, "BTCUSDT", models.OrderSideBuy, qty("0.5")).Return(filled(1, "40010"), nil).Once()
	ex.On("PlaceFuturesMarketOrder", mock.Anything, "BTCUSDT", models.OrderSideSell, qty("0.5")).Return(filled(2, "40020"), nil).Once()
	ex.On("PlaceFuturesMarketOrder", mock.Anything, "BTCUSDT", models.OrderSideBuy, qty("0.5")).Return(filled(3, "40030"), nil).Once()
	ex.On("PlaceSpotMarketOrder", mock.Anything, "BTCUSDT", models.OrderSideSell, qty("0.5")).Return(filled(4, "40040"), nil).Once()

	clock := &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	report, err := newTestExecutor(ex, clock).Execute(context.Background(), "BTCUSDT", d("2"))
	require.NoError(t, err)

	assert.Equal(t, models.StateSettled, report.State)
	assert.True(t, report.Quantity.Equal(d("0.5")), "quantity = %s", report.Quantity)
	assert.Equal(t, []time.Duration{10 * time.Second}, clock.slept)
	assert.Equal(t, []string{"spot BUY", "futures SELL", "futures BUY", "spot SELL"}, orderSequence(ex))

	require.NotNil(t, report.Position)
	assert.Equal(t, models.DirectionFundingPositive, report.Position.Direction)
	assert.True(t, report.Position.SpotEntryPrice.Equal(d("40010")))
	assert.True(t, report.Position.SpotExitPrice.Equal(d("40040")))
	assert.Equal(t, int64(3), report.Position.FuturesCloseID)
	ex.AssertExpectations(t)
}

func TestExecuteNegativeFundingMirrorsLegs(t *testing.T) {
	ex := &mockExchange{}
	preflight(ex, "1", "-0.0005", "100")
	ex.On("PlaceSpotMarketOrder", mock.Anything, "BTCUSDT", models.OrderSideSell, qty("1")).Return(filled(1, "100"), nil).Once()
	ex.On("PlaceFuturesMarketOrder", mock.Anything, "BTCUSDT", models.OrderSideBuy, qty("1")).Return(filled(2, "100"), nil).Once()
	ex.On("PlaceFuturesMarketOrder", mock.Anything, "BTCUSDT", models.OrderSideSell, qty("1")).Return(filled(3, "100"), nil).Once()
	ex.On("PlaceSpotMarketOrder", mock.Anything, "BTCUSDT", models.OrderSideBuy, qty("1")).Return(filled(4, "100"), nil).Once()

	report, err := newTestExecutor(ex, &fakeClock{}).Execute(context.Background(), "btcusdt", d("1"))
	require.NoError(t, err)

	assert.Equal(t, models.DirectionFundingNegative, report.Position.Direction)
	assert.Equal(t, []string{"spot SELL", "futures BUY", "futures SELL", "spot BUY"}, orderSequence(ex))
	ex.AssertExpectations(t)
}

func TestExecuteReportsFeeNegativeProfit(t *testing.T) {
	ex := &mockExchange{}
	preflight(ex, "5", "0.001", "100")
	ex.On("PlaceSpotMarketOrder", mock.Anything, "BTCUSDT", mock.Anything, qty("1")).Return(filled(1, "101"), nil).Twice()
	ex.On("PlaceFuturesMarketOrder", mock.Anything, "BTCUSDT", mock.Anything, qty("1")).Return(filled(2, "101"), nil).Twice()

	report, err := newTestExecutor(ex, &fakeClock{}).Execute(context.Background(), "BTCUSDT", d("1"))
	require.NoError(t, err)

	assert.True(t, report.Fees.Equal(d("0.24")), "fees = %s", report.Fees)
	assert.True(t, report.GrossProfit.Equal(d("0.1")), "gross = %s", report.GrossProfit)
	assert.True(t, report.NetProfit.Equal(d("-0.14")), "net = %s", report.NetProfit)
	assert.Contains(t, report.Message, "-0.1400 USDT")
}

func TestExecuteFailureAtFuturesOpenStopsSequence(t *testing.T) {
	ex := &mockExchange{}
	preflight(ex, "1", "0.0004", "100")
	ex.On("PlaceSpotMarketOrder", mock.Anything, "BTCUSDT", models.OrderSideBuy, qty("1")).Return(filled(1, "100"), nil).Once()
	ex.On("PlaceFuturesMarketOrder", mock.Anything, "BTCUSDT", models.OrderSideSell, qty("1")).Return(nil, errors.New("margin insufficient")).Once()

	clock := &fakeClock{}
	report, err := newTestExecutor(ex, clock).Execute(context.Background(), "BTCUSDT", d("1"))
	require.Error(t, err)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, models.StateFuturesOpened, execErr.Step)
	assert.ErrorIs(t, err, ErrOrderPlacementFailed)

	assert.Equal(t, models.StateFailed, report.State)
	assert.Equal(t, models.StateFuturesOpened, report.FailedAt)
	assert.Contains(t, report.Message, "spot leg open")
	assert.Empty(t, clock.slept)
	assert.Equal(t, []string{"spot BUY", "futures SELL"}, orderSequence(ex))
	ex.AssertExpectations(t)
}

func TestExecuteRejectedOrderIsFailure(t *testing.T) {
	ex := &mockExchange{}
	preflight(ex, "1", "0.0004", "100")
	rejected := &models.OrderResult{OrderID: 9, Status: models.OrderStatusRejected}
	ex.On("PlaceSpotMarketOrder", mock.Anything, "BTCUSDT", models.OrderSideBuy, qty("1")).Return(rejected, nil).Once()

	report, err := newTestExecutor(ex, &fakeClock{}).Execute(context.Background(), "BTCUSDT", d("1"))
	assert.ErrorIs(t, err, ErrOrderPlacementFailed)
	assert.Equal(t, models.StateSpotOpened, report.FailedAt)
	assert.Equal(t, []string{"spot BUY"}, orderSequence(ex))
}

func TestExecuteCancelledDuringHold(t *testing.T) {
	ex := &mockExchange{}
	preflight(ex, "1", "0.0004", "100")
	ex.On("PlaceSpotMarketOrder", mock.Anything, "BTCUSDT", models.OrderSideBuy, qty("1")).Return(filled(1, "100"), nil).Once()
	ex.On("PlaceFuturesMarketOrder", mock.Anything, "BTCUSDT", models.OrderSideSell, qty("1")).Return(filled(2, "100"), nil).Once()

	clock := &fakeClock{err: context.Canceled}
	report, err := newTestExecutor(ex, clock).Execute(context.Background(), "BTCUSDT", d("1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.StateHolding, report.FailedAt)
	assert.Equal(t, []string{"spot BUY", "futures SELL"}, orderSequence(ex))
}

func TestExecuteCancelDuringLegLetsOrderComplete(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ex := &mockExchange{}
	preflight(ex, "1", "0.0004", "100")
	ex.On("PlaceSpotMarketOrder", mock.Anything, "BTCUSDT", models.OrderSideBuy, qty("1")).Return(filled(1, "100"), nil).Once()

	var orderCtxErr error
	ex.On("PlaceFuturesMarketOrder", mock.Anything, "BTCUSDT", models.OrderSideSell, qty("1")).
		Run(func(args mock.Arguments) {
			cancel()
			orderCtxErr = args.Get(0).(context.Context).Err()
		}).
		Return(filled(2, "100"), nil).Once()

	clock := &fakeClock{}
	report, err := newTestExecutor(ex, clock).Execute(ctx, "BTCUSDT", d("1"))

	assert.NoError(t, orderCtxErr, "in-flight order must not see the caller's cancellation")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.StateHolding, report.FailedAt)
	assert.Equal(t, int64(2), report.Position.FuturesOpenID)
	assert.Contains(t, report.Message, "both legs open")
	assert.Empty(t, clock.slept)
	assert.Equal(t, []string{"spot BUY", "futures SELL"}, orderSequence(ex))
	ex.AssertExpectations(t)
}

func TestRecordIgnoresTransitionsAfterTerminalState(t *testing.T) {
	var events []models.ExecutionEvent
	e := newTestExecutor(&mockExchange{}, &fakeClock{}, WithObserver(func(ev models.ExecutionEvent) {
		events = append(events, ev)
	}))
	x := &execution{
		Executor: e,
		report:   &models.ExecutionReport{ID: "x1", State: models.StateSettled},
		log:      e.logger.WithField("execution_id", "x1"),
	}

	x.transition(models.StateHolding)
	_ = x.fail(models.StateSpotClosed, errors.New("late"))

	assert.Equal(t, models.StateSettled, x.report.State)
	assert.Empty(t, x.report.FailedAt)
	assert.Empty(t, x.report.Transitions)
	assert.Empty(t, events)
}

func TestExecuteCancelledBeforeFirstLeg(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ex := &mockExchange{}
	ex.On("AssetBalance", mock.Anything, "BTC").Return(d("1"), nil).Once()
	ex.On("CurrentFundingRate", mock.Anything, "BTCUSDT").Return(d("0.0004"), nil).Once()
	ex.On("SpotPrice", mock.Anything, "BTCUSDT").
		Run(func(mock.Arguments) { cancel() }).
		Return(d("100"), nil).Once()

	report, err := newTestExecutor(ex, &fakeClock{}).Execute(ctx, "BTCUSDT", d("1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.StateSpotOpened, report.FailedAt)
	assert.Empty(t, orderSequence(ex))
}

func TestExecuteInvalidSymbol(t *testing.T) {
	ex := &mockExchange{}

	report, err := newTestExecutor(ex, &fakeClock{}).Execute(context.Background(), "BTCBUSD", d("1"))
	assert.ErrorIs(t, err, ErrInvalidSymbol)
	assert.Equal(t, models.StateBalanceChecked, report.FailedAt)
	ex.AssertNotCalled(t, "AssetBalance", mock.Anything, mock.Anything)
}

func TestExecuteBalanceUnavailable(t *testing.T) {
	ex := &mockExchange{}
	ex.On("AssetBalance", mock.Anything, "BTC").Return(decimal.Zero, errors.New("401 unauthorized")).Once()

	_, err := newTestExecutor(ex, &fakeClock{}).Execute(context.Background(), "BTCUSDT", d("1"))
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.NotErrorIs(t, err, ErrInsufficientBalance)
}

func TestExecuteNotifiesObservers(t *testing.T) {
	ex := &mockExchange{}
	preflight(ex, "1", "0.0004", "100")
	ex.On("PlaceSpotMarketOrder", mock.Anything, "BTCUSDT", mock.Anything, qty("1")).Return(filled(1, "100"), nil).Twice()
	ex.On("PlaceFuturesMarketOrder", mock.Anything, "BTCUSDT", mock.Anything, qty("1")).Return(filled(2, "100"), nil).Twice()

	var states []models.ExecutionState
	observer := func(ev models.ExecutionEvent) { states = append(states, ev.To) }

	report, err := newTestExecutor(ex, &fakeClock{}, WithObserver(observer)).Execute(context.Background(), "BTCUSDT", d("1"))
	require.NoError(t, err)

	want := []models.ExecutionState{
		models.StateBalanceChecked,
		models.StateSpotOpened,
		models.StateFuturesOpened,
		models.StateHolding,
		models.StateFuturesClosed,
		models.StateSpotClosed,
		models.StateSettled,
	}
	assert.Equal(t, want, states)
	require.Len(t, report.Transitions, len(want))
	assert.Equal(t, models.StateIdle, report.Transitions[0].From)
}

func TestCollateralAsset(t *testing.T) {
	e := newTestExecutor(&mockExchange{}, &fakeClock{})

	asset, err := e.CollateralAsset("ethusdt")
	require.NoError(t, err)
	assert.Equal(t, "ETH", asset)

	_, err = e.CollateralAsset("USDT")
	assert.ErrorIs(t, err, ErrInvalidSymbol)
}
