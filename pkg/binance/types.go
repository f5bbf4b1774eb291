package binance

import (
	"fmt"
	"time"

	"github.com/gregtusar/carry/pkg/models"
	"github.com/shopspring/decimal"
)

// Numeric fields arrive as strings and are sometimes empty (delivery
// contracts report lastFundingRate ""), so they are parsed by hand.

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type premiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

type fundingRateEntry struct {
	Symbol      string `json:"symbol"`
	FundingRate string `json:"fundingRate"`
	FundingTime int64  `json:"fundingTime"`
}

type ticker24h struct {
	Symbol      string `json:"symbol"`
	QuoteVolume string `json:"quoteVolume"`
}

type accountInfo struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type spotOrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	Status              string `json:"status"`
	Side                string `json:"side"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	TransactTime        int64  `json:"transactTime"`
}

type futuresOrderResponse struct {
	Symbol      string `json:"symbol"`
	OrderID     int64  `json:"orderId"`
	Status      string `json:"status"`
	Side        string `json:"side"`
	ExecutedQty string `json:"executedQty"`
	AvgPrice    string `json:"avgPrice"`
	UpdateTime  int64  `json:"updateTime"`
}

type myTrade struct {
	Symbol  string `json:"symbol"`
	ID      int64  `json:"id"`
	OrderID int64  `json:"orderId"`
	Price   string `json:"price"`
	Qty     string `json:"qty"`
	Time    int64  `json:"time"`
	IsBuyer bool   `json:"isBuyer"`
}

type openOrder struct {
	Symbol  string `json:"symbol"`
	OrderID int64  `json:"orderId"`
	Price   string `json:"price"`
	OrigQty string `json:"origQty"`
	Side    string `json:"side"`
	Type    string `json:"type"`
	Time    int64  `json:"time"`
}

// markPriceEvent is one element of the !markPrice@arr stream payload.
type markPriceEvent struct {
	EventType       string `json:"e"`
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	IndexPrice      string `json:"i"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", models.ErrMalformedResponse, err)
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: %s is empty", models.ErrMalformedResponse, field)
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", models.ErrMalformedResponse, field, err)
	}
	return v, nil
}

// parseOptional treats an empty field as zero.
func parseOptional(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return parseDecimal(field, s)
}

func millis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (m markPriceEvent) toModel() (models.MarkPrice, error) {
	mark, err := parseDecimal("p", m.MarkPrice)
	if err != nil {
		return models.MarkPrice{}, err
	}
	index, err := parseOptional("i", m.IndexPrice)
	if err != nil {
		return models.MarkPrice{}, err
	}
	funding, err := parseOptional("r", m.FundingRate)
	if err != nil {
		return models.MarkPrice{}, err
	}
	return models.MarkPrice{
		Symbol:          m.Symbol,
		MarkPrice:       mark,
		IndexPrice:      index,
		FundingRate:     funding,
		NextFundingTime: millis(m.NextFundingTime),
		EventTime:       millis(m.EventTime),
	}, nil
}
