package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	// DirectionFundingPositive: longs pay shorts, hold long spot / short futures.
	DirectionFundingPositive Direction = "funding_positive"
	// DirectionFundingNegative: shorts pay longs, hold short spot / long futures.
	DirectionFundingNegative Direction = "funding_negative"
)

// DirectionForRate picks the side of the hedge that collects the funding payment.
func DirectionForRate(rate decimal.Decimal) Direction {
	if rate.IsPositive() {
		return DirectionFundingPositive
	}
	return DirectionFundingNegative
}

// SpotOpenSide is the spot side used to open the hedge. The futures leg is
// always its opposite, and closing reverses both.
func (d Direction) SpotOpenSide() OrderSide {
	if d == DirectionFundingPositive {
		return OrderSideBuy
	}
	return OrderSideSell
}

func (d Direction) FuturesOpenSide() OrderSide {
	return d.SpotOpenSide().Opposite()
}

type HedgePosition struct {
	Symbol         string          `json:"symbol"`
	Direction      Direction       `json:"direction"`
	Quantity       decimal.Decimal `json:"quantity"`
	SpotEntryPrice decimal.Decimal `json:"spot_entry_price"`
	SpotExitPrice  decimal.Decimal `json:"spot_exit_price"`
	SpotOpenID     int64           `json:"spot_open_order_id,omitempty"`
	FuturesOpenID  int64           `json:"futures_open_order_id,omitempty"`
	FuturesCloseID int64           `json:"futures_close_order_id,omitempty"`
	SpotCloseID    int64           `json:"spot_close_order_id,omitempty"`
	OpenedAt       time.Time       `json:"opened_at"`
	ClosedAt       time.Time       `json:"closed_at"`
}

// FeeModel holds taker fee rates applied to notional on each fill.
type FeeModel struct {
	SpotFeeRate    decimal.Decimal
	FuturesFeeRate decimal.Decimal
}

func DefaultFeeModel() FeeModel {
	return FeeModel{
		SpotFeeRate:    decimal.RequireFromString("0.001"),
		FuturesFeeRate: decimal.RequireFromString("0.0002"),
	}
}

type ExecutionState string

const (
	StateIdle           ExecutionState = "Idle"
	StateBalanceChecked ExecutionState = "BalanceChecked"
	StateSpotOpened     ExecutionState = "SpotOpened"
	StateFuturesOpened  ExecutionState = "FuturesOpened"
	StateHolding        ExecutionState = "Holding"
	StateFuturesClosed  ExecutionState = "FuturesClosed"
	StateSpotClosed     ExecutionState = "SpotClosed"
	StateSettled        ExecutionState = "Settled"
	StateFailed         ExecutionState = "Failed"
)

// Terminal reports whether no further transition can happen.
func (s ExecutionState) Terminal() bool {
	return s == StateSettled || s == StateFailed
}

type StateTransition struct {
	From ExecutionState `json:"from"`
	To   ExecutionState `json:"to"`
	At   time.Time      `json:"at"`
}

// ExecutionEvent is published on every state transition of an execution.
type ExecutionEvent struct {
	ExecutionID string         `json:"execution_id"`
	Symbol      string         `json:"symbol"`
	From        ExecutionState `json:"from"`
	To          ExecutionState `json:"to"`
	FailedAt    ExecutionState `json:"failed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

type ExecutionReport struct {
	ID          string            `json:"id"`
	Symbol      string            `json:"symbol"`
	State       ExecutionState    `json:"state"`
	FailedAt    ExecutionState    `json:"failed_at,omitempty"`
	Position    *HedgePosition    `json:"position,omitempty"`
	FundingRate decimal.Decimal   `json:"funding_rate"`
	SpotPrice   decimal.Decimal   `json:"spot_price"`
	Requested   decimal.Decimal   `json:"requested_quantity"`
	Quantity    decimal.Decimal   `json:"quantity"`
	Fees        decimal.Decimal   `json:"fees"`
	GrossProfit decimal.Decimal   `json:"gross_profit"`
	NetProfit   decimal.Decimal   `json:"net_profit"`
	Message     string            `json:"message"`
	Transitions []StateTransition `json:"transitions"`
}
