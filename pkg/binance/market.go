package binance

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gregtusar/carry/pkg/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// SpotPrice returns the latest spot trade price.
func (c *Client) SpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var tp tickerPrice
	params := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, c.spotGet("/api/v3/ticker/price", false), params, &tp); err != nil {
		return decimal.Zero, errors.Wrapf(err, "spot price %s", symbol)
	}
	return parseDecimal("price", tp.Price)
}

// CurrentFundingRate returns the last settled funding rate of one perpetual.
func (c *Client) CurrentFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var pi premiumIndex
	params := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, c.futuresGet("/fapi/v1/premiumIndex"), params, &pi); err != nil {
		return decimal.Zero, errors.Wrapf(err, "funding rate %s", symbol)
	}
	return parseDecimal("lastFundingRate", pi.LastFundingRate)
}

// AllCurrentFundingRates returns the last funding rate of every listed
// perpetual. Contracts without a funding rate are not perpetuals and are left out.
func (c *Client) AllCurrentFundingRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	var entries []premiumIndex
	if err := c.do(ctx, c.futuresGet("/fapi/v1/premiumIndex"), nil, &entries); err != nil {
		return nil, errors.Wrap(err, "premium index")
	}

	rates := make(map[string]decimal.Decimal, len(entries))
	for _, e := range entries {
		if e.Symbol == "" || e.LastFundingRate == "" {
			continue
		}
		r, err := parseDecimal("lastFundingRate", e.LastFundingRate)
		if err != nil {
			return nil, errors.Wrap(err, e.Symbol)
		}
		rates[e.Symbol] = r
	}
	return rates, nil
}

// FundingRateHistory returns up to limit settled funding events, oldest first.
func (c *Client) FundingRateHistory(ctx context.Context, symbol string, limit int) ([]models.FundingSample, error) {
	var entries []fundingRateEntry
	params := url.Values{
		"symbol": {symbol},
		"limit":  {strconv.Itoa(limit)},
	}
	if err := c.do(ctx, c.futuresGet("/fapi/v1/fundingRate"), params, &entries); err != nil {
		return nil, errors.Wrapf(err, "funding history %s", symbol)
	}

	out := make([]models.FundingSample, 0, len(entries))
	for i, e := range entries {
		r, err := parseDecimal(fmt.Sprintf("fundingRate[%d]", i), e.FundingRate)
		if err != nil {
			return nil, errors.Wrap(err, symbol)
		}
		out = append(out, models.FundingSample{
			Symbol:     e.Symbol,
			Rate:       r,
			ObservedAt: millis(e.FundingTime),
		})
	}
	return out, nil
}

// QuoteVolume24h returns the rolling 24h futures volume in quote units.
func (c *Client) QuoteVolume24h(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var t ticker24h
	params := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, c.futuresGet("/fapi/v1/ticker/24hr"), params, &t); err != nil {
		return decimal.Zero, errors.Wrapf(err, "24h ticker %s", symbol)
	}
	return parseDecimal("quoteVolume", t.QuoteVolume)
}
