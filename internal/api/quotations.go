package api

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/url"
	"slices"
)

// Endpoint paths.
const (
	PricePath      = "/uapi/domestic-stock/v1/quotations/inquire-price"
	DailyChartPath = "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice"
	ETFPricePath   = "/uapi/etfetn/v1/quotations/inquire-price"
	NewsTitlePath  = "/uapi/domestic-stock/v1/quotations/news-title"
	FinancePath    = "/uapi/domestic-stock/v1/finance/"
)

// Transaction ids.
const (
	TrIDInquirePrice = "FHKST01010100"
	TrIDDailyChart   = "FHKST03010100"
	TrIDETFPrice     = "FHPST02400000"
	TrIDNewsTitle    = "FHKST01011800"
)

// MarketStock is the fid_cond_mrkt_div_code for the domestic stock market.
const MarketStock = "J"

// FinancialTypes maps financial statement data types to their transaction ids.
var FinancialTypes = map[string]string{
	"balance-sheet":      "FHKST66430100",
	"income-statement":   "FHKST66430200",
	"financial-ratio":    "FHKST66430300",
	"profit-ratio":       "FHKST66430400",
	"other-major-ratios": "FHKST66430500",
	"stability-ratio":    "FHKST66430600",
	"growth-ratio":       "FHKST66430800",
}

// ErrUnknownDataType is returned for a data type missing from FinancialTypes.
var ErrUnknownDataType = errors.New("unknown financial data type")

// DataTypes returns the supported financial data types in sorted order.
func DataTypes() []string {
	return slices.Sorted(maps.Keys(FinancialTypes))
}

// InquirePrice returns the current price of a stock.
func (c *Client) InquirePrice(ctx context.Context, code string) (json.RawMessage, error) {
	return c.Call(ctx, PricePath, url.Values{
		"fid_cond_mrkt_div_code": {MarketStock},
		"fid_input_iscd":         {code},
	}, TrIDInquirePrice)
}

// DailyChartPrice returns adjusted daily prices for a stock between start and
// end (YYYYMMDD, inclusive).
func (c *Client) DailyChartPrice(ctx context.Context, code, start, end string) (json.RawMessage, error) {
	return c.Call(ctx, DailyChartPath, url.Values{
		"fid_cond_mrkt_div_code": {MarketStock},
		"fid_input_iscd":         {code},
		"fid_input_date_1":       {start},
		"fid_input_date_2":       {end},
		"fid_period_div_code":    {"D"},
		"fid_org_adj_prc":        {"1"},
	}, TrIDDailyChart)
}

// ETFPrice returns the current price of an ETF.
func (c *Client) ETFPrice(ctx context.Context, code string) (json.RawMessage, error) {
	return c.Call(ctx, ETFPricePath, url.Values{
		"fid_cond_mrkt_div_code": {MarketStock},
		"fid_input_iscd":         {code},
	}, TrIDETFPrice)
}

// NewsTitles returns recent news headlines. An empty code lists all stocks.
func (c *Client) NewsTitles(ctx context.Context, code string) (json.RawMessage, error) {
	return c.Call(ctx, NewsTitlePath, url.Values{
		"FID_INPUT_ISCD": {code},
	}, TrIDNewsTitle)
}

// FinancialStatement returns one financial statement for a stock. Responses
// are served from the response cache when one is configured.
func (c *Client) FinancialStatement(ctx context.Context, code, dataType string) (json.RawMessage, error) {
	trID, ok := FinancialTypes[dataType]
	if !ok {
		return nil, ErrUnknownDataType
	}

	key := "finance:" + code + ":" + dataType
	if c.cache != nil {
		data, hit, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		} else if hit {
			return json.RawMessage(data), nil
		}
	}

	body, err := c.Call(ctx, FinancePath+dataType, url.Values{
		"fid_cond_mrkt_div_code": {MarketStock},
		"fid_input_iscd":         {code},
		"fid_div_cls_code":       {"1"},
	}, trID)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, body, c.cacheTTL); err != nil {
			c.logger.Warn("cache write failed", "key", key, "error", err)
		}
	}

	return body, nil
}
