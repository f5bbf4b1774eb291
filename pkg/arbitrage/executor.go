package arbitrage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gregtusar/carry/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultQuoteAsset   = "USDT"
	DefaultHoldInterval = 10 * time.Second

	// orderTimeout bounds a single order request once it has been sent.
	orderTimeout = 30 * time.Second
)

type ExecutorConfig struct {
	Fees         models.FeeModel
	QuoteAsset   string
	HoldInterval time.Duration
}

type ExecutorOption func(*Executor)

// WithClock replaces the wall clock used for timestamps and the hold.
func WithClock(clock Clock) ExecutorOption {
	return func(e *Executor) { e.clock = clock }
}

// WithObserver registers fn for every state transition. fn runs on the
// executing goroutine and must not block.
func WithObserver(fn func(models.ExecutionEvent)) ExecutorOption {
	return func(e *Executor) { e.observers = append(e.observers, fn) }
}

// Executor opens a spot leg and an opposite futures leg, holds them through
// a funding settlement, then unwinds futures first and spot last.
type Executor struct {
	exchange     Exchange
	fees         models.FeeModel
	quoteAsset   string
	holdInterval time.Duration
	clock        Clock
	logger       *logrus.Logger
	observers    []func(models.ExecutionEvent)
}

func NewExecutor(exchange Exchange, cfg ExecutorConfig, logger *logrus.Logger, opts ...ExecutorOption) *Executor {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = DefaultQuoteAsset
	}
	if cfg.HoldInterval <= 0 {
		cfg.HoldInterval = DefaultHoldInterval
	}

	e := &Executor{
		exchange:     exchange,
		fees:         cfg.Fees,
		quoteAsset:   cfg.QuoteAsset,
		holdInterval: cfg.HoldInterval,
		clock:        RealClock(),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CollateralAsset strips the quote suffix, BTCUSDT -> BTC.
func (e *Executor) CollateralAsset(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	asset := strings.TrimSuffix(symbol, e.quoteAsset)
	if asset == symbol || asset == "" {
		return "", fmt.Errorf("%w: %q is not quoted in %s", ErrInvalidSymbol, symbol, e.quoteAsset)
	}
	return asset, nil
}

// Execute runs one hedge to completion. On failure the returned report is
// still populated and the error is an *ExecutionError naming the step.
func (e *Executor) Execute(ctx context.Context, symbol string, requested decimal.Decimal) (*models.ExecutionReport, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	x := &execution{
		Executor: e,
		report: &models.ExecutionReport{
			ID:        uuid.NewString(),
			Symbol:    symbol,
			State:     models.StateIdle,
			Requested: requested,
		},
	}
	x.log = e.logger.WithFields(logrus.Fields{
		"execution_id": x.report.ID,
		"symbol":       symbol,
	})

	if requested.IsNegative() {
		return x.report, x.fail(models.StateBalanceChecked,
			fmt.Errorf("%w: requested quantity %s is negative", ErrInvalidParams, requested))
	}

	pos, err := x.preflight(ctx)
	if err != nil {
		return x.report, err
	}

	if err := x.run(ctx, pos); err != nil {
		return x.report, err
	}
	x.settle(pos)
	return x.report, nil
}

type execution struct {
	*Executor
	report *models.ExecutionReport
	log    *logrus.Entry
}

func (x *execution) preflight(ctx context.Context) (*models.HedgePosition, error) {
	symbol := x.report.Symbol
	next := models.StateBalanceChecked

	asset, err := x.CollateralAsset(symbol)
	if err != nil {
		return nil, x.fail(next, err)
	}

	balance, err := x.exchange.AssetBalance(ctx, asset)
	if err != nil {
		return nil, x.fail(next, dataUnavailable(asset+" balance", err))
	}
	quantity := decimal.Min(x.report.Requested, balance)
	if !balance.IsPositive() || !quantity.IsPositive() {
		return nil, x.fail(next, fmt.Errorf("%w: %s available %s, requested %s",
			ErrInsufficientBalance, asset, balance, x.report.Requested))
	}

	rate, err := x.exchange.CurrentFundingRate(ctx, symbol)
	if err != nil {
		return nil, x.fail(next, dataUnavailable("funding rate", err))
	}
	price, err := x.exchange.SpotPrice(ctx, symbol)
	if err != nil {
		return nil, x.fail(next, dataUnavailable("spot price", err))
	}
	if !price.IsPositive() {
		return nil, x.fail(next, dataUnavailable("spot price",
			fmt.Errorf("%w: non-positive price %s", ErrMalformedResponse, price)))
	}

	x.report.Quantity = quantity
	x.report.FundingRate = rate
	x.report.SpotPrice = price
	x.transition(next)

	x.log.WithFields(logrus.Fields{
		"asset":        asset,
		"balance":      balance.String(),
		"quantity":     quantity.String(),
		"funding_rate": rate.String(),
		"spot_price":   price.String(),
	}).Info("Hedge pre-flight passed")

	pos := &models.HedgePosition{
		Symbol:    symbol,
		Direction: models.DirectionForRate(rate),
		Quantity:  quantity,
	}
	x.report.Position = pos
	return pos, nil
}

func (x *execution) run(ctx context.Context, pos *models.HedgePosition) error {
	spotSide := pos.Direction.SpotOpenSide()
	futuresSide := pos.Direction.FuturesOpenSide()

	res, err := x.placeLeg(ctx, models.StateSpotOpened, models.MarketTypeSpot, spotSide, pos.Quantity)
	if err != nil {
		return err
	}
	pos.SpotOpenID = res.OrderID
	pos.SpotEntryPrice = fillPrice(res, x.report.SpotPrice)
	pos.OpenedAt = x.clock.Now()

	res, err = x.placeLeg(ctx, models.StateFuturesOpened, models.MarketTypeFutures, futuresSide, pos.Quantity)
	if err != nil {
		return err
	}
	pos.FuturesOpenID = res.OrderID

	if err := ctx.Err(); err != nil {
		return x.fail(models.StateHolding, err)
	}
	x.transition(models.StateHolding)
	x.log.WithField("hold", x.holdInterval.String()).Info("Hedge open, holding through funding")
	if err := x.clock.Sleep(ctx, x.holdInterval); err != nil {
		return x.fail(models.StateHolding, err)
	}

	res, err = x.placeLeg(ctx, models.StateFuturesClosed, models.MarketTypeFutures, futuresSide.Opposite(), pos.Quantity)
	if err != nil {
		return err
	}
	pos.FuturesCloseID = res.OrderID

	res, err = x.placeLeg(ctx, models.StateSpotClosed, models.MarketTypeSpot, spotSide.Opposite(), pos.Quantity)
	if err != nil {
		return err
	}
	pos.SpotCloseID = res.OrderID
	pos.SpotExitPrice = fillPrice(res, x.report.SpotPrice)
	pos.ClosedAt = x.clock.Now()
	return nil
}

// placeLeg submits one market order and advances to `to` once it is accepted.
func (x *execution) placeLeg(ctx context.Context, to models.ExecutionState, market models.MarketType, side models.OrderSide, qty decimal.Decimal) (*models.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, x.fail(to, err)
	}

	// Cancellation is honoured between legs only. An order already on its
	// way to the exchange is allowed to complete so its outcome is known.
	orderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orderTimeout)
	defer cancel()

	symbol := x.report.Symbol
	var (
		res *models.OrderResult
		err error
	)
	switch market {
	case models.MarketTypeSpot:
		res, err = x.exchange.PlaceSpotMarketOrder(orderCtx, symbol, side, qty)
	default:
		res, err = x.exchange.PlaceFuturesMarketOrder(orderCtx, symbol, side, qty)
	}
	if err != nil {
		return nil, x.fail(to, fmt.Errorf("%w: %s %s %s %s: %w", ErrOrderPlacementFailed, market, side, qty, symbol, err))
	}
	if res == nil {
		return nil, x.fail(to, fmt.Errorf("%w: %s %s %s: %w", ErrOrderPlacementFailed, market, side, symbol, ErrMalformedResponse))
	}
	if res.Status.Failed() {
		return nil, x.fail(to, fmt.Errorf("%w: %s %s %s: order %d %s", ErrOrderPlacementFailed, market, side, symbol, res.OrderID, res.Status))
	}

	x.log.WithFields(logrus.Fields{
		"market":   market,
		"side":     side,
		"quantity": qty.String(),
		"order_id": res.OrderID,
		"status":   res.Status,
	}).Info("Hedge leg placed")
	x.transition(to)
	return res, nil
}

func (x *execution) settle(pos *models.HedgePosition) {
	price, qty, rate := x.report.SpotPrice, pos.Quantity, x.report.FundingRate

	fee := Fee(x.fees, price, qty)
	gross := GrossProfit(rate, price, qty)
	net := gross.Sub(fee)

	x.report.Fees = fee.Round(reportPrecision)
	x.report.GrossProfit = gross.Round(reportPrecision)
	x.report.NetProfit = net.Round(reportPrecision)
	x.report.Message = fmt.Sprintf("Arbitrage executed. Estimated net profit: %s %s",
		net.StringFixed(reportPrecision), x.quoteAsset)
	x.transition(models.StateSettled)

	x.log.WithFields(logrus.Fields{
		"fees":       x.report.Fees.String(),
		"net_profit": x.report.NetProfit.String(),
	}).Info("Hedge settled")
}

func (x *execution) transition(to models.ExecutionState) {
	x.record(to, "", "")
}

func (x *execution) fail(at models.ExecutionState, err error) error {
	if x.report.State.Terminal() {
		return &ExecutionError{Step: at, Err: err}
	}
	x.report.FailedAt = at
	x.report.Message = fmt.Sprintf("Execution failed at %s (%s): %v", at, exposureAt(at), err)
	x.record(models.StateFailed, at, err.Error())

	x.log.WithError(err).WithField("failed_at", at).Error("Hedge execution failed")
	return &ExecutionError{Step: at, Err: err}
}

func (x *execution) record(to, failedAt models.ExecutionState, errMsg string) {
	from := x.report.State
	if from.Terminal() {
		x.log.WithFields(logrus.Fields{"from": from, "to": to}).Warn("Ignoring transition after terminal state")
		return
	}
	now := x.clock.Now()
	x.report.State = to
	x.report.Transitions = append(x.report.Transitions, models.StateTransition{From: from, To: to, At: now})

	x.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("Execution state changed")

	ev := models.ExecutionEvent{
		ExecutionID: x.report.ID,
		Symbol:      x.report.Symbol,
		From:        from,
		To:          to,
		FailedAt:    failedAt,
		Error:       errMsg,
		Timestamp:   now,
	}
	for _, fn := range x.observers {
		fn(ev)
	}
}

// exposureAt describes what is left on the books when the step reaching
// `at` did not complete.
func exposureAt(at models.ExecutionState) string {
	switch at {
	case models.StateBalanceChecked:
		return "no orders placed"
	case models.StateSpotOpened:
		return "spot order unconfirmed, futures leg not sent"
	case models.StateFuturesOpened:
		return "spot leg open, futures leg unconfirmed"
	case models.StateHolding:
		return "both legs open"
	case models.StateFuturesClosed:
		return "both legs open, futures close unconfirmed"
	case models.StateSpotClosed:
		return "futures leg closed, spot leg still open"
	}
	return "unknown"
}

func fillPrice(res *models.OrderResult, fallback decimal.Decimal) decimal.Decimal {
	if res.AvgPrice.IsPositive() {
		return res.AvgPrice
	}
	return fallback
}
