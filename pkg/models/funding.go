package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundingSample is one settled funding event of a perpetual contract.
type FundingSample struct {
	Symbol     string          `json:"symbol"`
	Rate       decimal.Decimal `json:"rate"`
	ObservedAt time.Time       `json:"observed_at"`
}

// OpportunityCandidate is a symbol that passed every scan filter.
type OpportunityCandidate struct {
	Symbol             string          `json:"symbol"`
	CurrentFundingRate decimal.Decimal `json:"current_funding_rate"`
	AvgVolume          decimal.Decimal `json:"avg_volume"`
	Stability          float64         `json:"stability"`
}

// MarkPrice is a single entry of the futures mark price stream.
type MarkPrice struct {
	Symbol          string          `json:"symbol"`
	MarkPrice       decimal.Decimal `json:"mark_price"`
	IndexPrice      decimal.Decimal `json:"index_price"`
	FundingRate     decimal.Decimal `json:"funding_rate"`
	NextFundingTime time.Time       `json:"next_funding_time"`
	EventTime       time.Time       `json:"event_time"`
}
