package arbitrage

import (
	"io"
	"time"

	"github.com/gregtusar/carry/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func samples(rates ...string) []models.FundingSample {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.FundingSample, len(rates))
	for i, r := range rates {
		out[i] = models.FundingSample{
			Rate:       d(r),
			ObservedAt: base.Add(time.Duration(i) * 8 * time.Hour),
		}
	}
	return out
}
