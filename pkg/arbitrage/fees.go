package arbitrage

import (
	"github.com/gregtusar/carry/pkg/models"
	"github.com/shopspring/decimal"
)

const reportPrecision = 4

var two = decimal.NewFromInt(2)

// Fee is the cost of opening and closing both legs at price for quantity.
func Fee(fees models.FeeModel, price, quantity decimal.Decimal) decimal.Decimal {
	notional := price.Mul(quantity)
	spot := notional.Mul(fees.SpotFeeRate).Mul(two)
	futures := notional.Mul(fees.FuturesFeeRate).Mul(two)
	return spot.Add(futures)
}

// GrossProfit is one funding payment collected on the hedged notional.
func GrossProfit(fundingRate, price, quantity decimal.Decimal) decimal.Decimal {
	return fundingRate.Abs().Mul(price).Mul(quantity)
}

// NetProfit may be negative; small rates routinely lose to fees.
func NetProfit(fees models.FeeModel, fundingRate, price, quantity decimal.Decimal) decimal.Decimal {
	return GrossProfit(fundingRate, price, quantity).Sub(Fee(fees, price, quantity))
}
