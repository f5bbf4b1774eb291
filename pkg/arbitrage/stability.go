package arbitrage

import (
	"github.com/gregtusar/carry/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	// FundingEventsPerDay is the settlement cadence of the venue (every 8h).
	FundingEventsPerDay = 3
	// MaxHistoryWindow is the largest history the venue returns per request.
	MaxHistoryWindow = 1000
)

// Stability returns the fraction of history whose sign matches reference.
// Zero samples never count as aligned and an empty history scores 0.
func Stability(reference decimal.Decimal, history []models.FundingSample) float64 {
	if len(history) > MaxHistoryWindow {
		history = history[len(history)-MaxHistoryWindow:]
	}
	if len(history) == 0 {
		return 0
	}

	refSign := reference.Sign()
	if refSign == 0 {
		return 0
	}

	aligned := 0
	for _, s := range history {
		if s.Rate.Sign() == refSign {
			aligned++
		}
	}
	return float64(aligned) / float64(len(history))
}

// historyLimit converts a day count into the number of funding events to request.
func historyLimit(days int) int {
	n := days * FundingEventsPerDay
	if n < 1 {
		return 1
	}
	if n > MaxHistoryWindow {
		return MaxHistoryWindow
	}
	return n
}
