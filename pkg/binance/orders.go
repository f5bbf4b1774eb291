package binance

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gregtusar/carry/pkg/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func marketOrderParams(symbol string, side models.OrderSide, quantity decimal.Decimal, respType string) url.Values {
	return url.Values{
		"symbol":           {symbol},
		"side":             {string(side)},
		"type":             {string(models.OrderTypeMarket)},
		"quantity":         {quantity.String()},
		"newOrderRespType": {respType},
	}
}

// PlaceSpotMarketOrder sends a spot market order and waits for its fill report.
func (c *Client) PlaceSpotMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity decimal.Decimal) (*models.OrderResult, error) {
	var raw spotOrderResponse
	ep := endpoint{client: c.spot, method: http.MethodPost, path: "/api/v3/order", signed: true}
	if err := c.do(ctx, ep, marketOrderParams(symbol, side, quantity, "FULL"), &raw); err != nil {
		return nil, errors.Wrapf(err, "spot %s %s %s", side, quantity, symbol)
	}

	executed, err := parseOptional("executedQty", raw.ExecutedQty)
	if err != nil {
		return nil, err
	}
	quote, err := parseOptional("cummulativeQuoteQty", raw.CummulativeQuoteQty)
	if err != nil {
		return nil, err
	}
	avg := decimal.Zero
	if executed.IsPositive() {
		avg = quote.Div(executed)
	}

	res := &models.OrderResult{
		OrderID:     raw.OrderID,
		Market:      models.MarketTypeSpot,
		Symbol:      symbol,
		Side:        side,
		Status:      models.OrderStatus(raw.Status),
		ExecutedQty: executed,
		AvgPrice:    avg,
		UpdatedAt:   millis(raw.TransactTime),
	}
	c.logOrder(res)
	return res, nil
}

// PlaceFuturesMarketOrder sends a USDⓈ-M perpetual market order.
func (c *Client) PlaceFuturesMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity decimal.Decimal) (*models.OrderResult, error) {
	var raw futuresOrderResponse
	ep := endpoint{client: c.futures, method: http.MethodPost, path: "/fapi/v1/order", signed: true}
	if err := c.do(ctx, ep, marketOrderParams(symbol, side, quantity, "RESULT"), &raw); err != nil {
		return nil, errors.Wrapf(err, "futures %s %s %s", side, quantity, symbol)
	}

	executed, err := parseOptional("executedQty", raw.ExecutedQty)
	if err != nil {
		return nil, err
	}
	avg, err := parseOptional("avgPrice", raw.AvgPrice)
	if err != nil {
		return nil, err
	}

	res := &models.OrderResult{
		OrderID:     raw.OrderID,
		Market:      models.MarketTypeFutures,
		Symbol:      symbol,
		Side:        side,
		Status:      models.OrderStatus(raw.Status),
		ExecutedQty: executed,
		AvgPrice:    avg,
		UpdatedAt:   millis(raw.UpdateTime),
	}
	c.logOrder(res)
	return res, nil
}

func (c *Client) logOrder(res *models.OrderResult) {
	c.logger.WithFields(logrus.Fields{
		"market":   res.Market,
		"symbol":   res.Symbol,
		"side":     res.Side,
		"order_id": res.OrderID,
		"status":   res.Status,
		"executed": res.ExecutedQty.String(),
	}).Info("Order placed")
}
