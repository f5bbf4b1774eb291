package binance

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gregtusar/carry/pkg/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Balances returns every spot asset with a non-zero free or locked amount.
func (c *Client) Balances(ctx context.Context) ([]models.Balance, error) {
	var info accountInfo
	if err := c.do(ctx, c.spotGet("/api/v3/account", true), nil, &info); err != nil {
		return nil, errors.Wrap(err, "account")
	}

	out := make([]models.Balance, 0, len(info.Balances))
	for _, b := range info.Balances {
		free, err := parseOptional("free", b.Free)
		if err != nil {
			return nil, errors.Wrap(err, b.Asset)
		}
		locked, err := parseOptional("locked", b.Locked)
		if err != nil {
			return nil, errors.Wrap(err, b.Asset)
		}
		if free.IsZero() && locked.IsZero() {
			continue
		}
		out = append(out, models.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

// AssetBalance returns the free spot balance of asset; an unlisted asset is zero.
func (c *Client) AssetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	balances, err := c.Balances(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return b.Free, nil
		}
	}
	return decimal.Zero, nil
}

// GetTradeHistory returns the most recent own spot trades on symbol.
func (c *Client) GetTradeHistory(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	var raw []myTrade
	params := url.Values{
		"symbol": {symbol},
		"limit":  {strconv.Itoa(limit)},
	}
	if err := c.do(ctx, c.spotGet("/api/v3/myTrades", true), params, &raw); err != nil {
		return nil, errors.Wrapf(err, "trade history %s", symbol)
	}

	out := make([]models.Trade, 0, len(raw))
	for _, t := range raw {
		price, err := parseDecimal("price", t.Price)
		if err != nil {
			return nil, err
		}
		qty, err := parseDecimal("qty", t.Qty)
		if err != nil {
			return nil, err
		}
		side := models.OrderSideSell
		if t.IsBuyer {
			side = models.OrderSideBuy
		}
		out = append(out, models.Trade{
			TradeID:   t.ID,
			OrderID:   t.OrderID,
			Symbol:    t.Symbol,
			Side:      side,
			Price:     price,
			Quantity:  qty,
			Timestamp: millis(t.Time),
		})
	}
	return out, nil
}

// GetOpenOrders returns resting spot orders on symbol, or on every symbol
// when symbol is empty.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error) {
	var raw []openOrder
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	if err := c.do(ctx, c.spotGet("/api/v3/openOrders", true), params, &raw); err != nil {
		return nil, errors.Wrapf(err, "open orders %s", symbol)
	}

	out := make([]models.OpenOrder, 0, len(raw))
	for _, o := range raw {
		price, err := parseOptional("price", o.Price)
		if err != nil {
			return nil, err
		}
		qty, err := parseDecimal("origQty", o.OrigQty)
		if err != nil {
			return nil, err
		}
		out = append(out, models.OpenOrder{
			OrderID:   o.OrderID,
			Symbol:    o.Symbol,
			Side:      models.OrderSide(o.Side),
			Type:      models.OrderType(o.Type),
			Price:     price,
			Quantity:  qty,
			CreatedAt: millis(o.Time),
		})
	}
	return out, nil
}

// CancelOrder cancels a resting spot order.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{
		"symbol":  {symbol},
		"orderId": {strconv.FormatInt(orderID, 10)},
	}
	ep := endpoint{client: c.spot, method: http.MethodDelete, path: "/api/v3/order", signed: true}
	if err := c.do(ctx, ep, params, nil); err != nil {
		return errors.Wrapf(err, "cancel order %d on %s", orderID, symbol)
	}
	c.logger.WithField("symbol", symbol).WithField("order_id", orderID).Info("Order cancelled")
	return nil
}
