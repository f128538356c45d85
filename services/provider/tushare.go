// Package provider talks to the upstream market-data vendor. The wire
// shape is the tushare pro contract: one POST endpoint, api_name routing,
// columnar responses (fields + items).
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"quantsync/services/engine"
)

const pageLimit = 5000

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

type apiRequest struct {
	APIName string         `json:"api_name"`
	Token   string         `json:"token"`
	Params  map[string]any `json:"params"`
	Fields  string         `json:"fields,omitempty"`
}

type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

func (c *Client) call(ctx context.Context, apiName string, params map[string]any, fields string) (*apiResponse, error) {
	body, err := json.Marshal(apiRequest{APIName: apiName, Token: c.token, Params: params, Fields: fields})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", apiName, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", apiName, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", apiName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("call %s: http %d", apiName, resp.StatusCode)
	}
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", apiName, err)
	}
	if out.Code != 0 {
		return nil, fmt.Errorf("call %s: vendor error %d: %s", apiName, out.Code, out.Msg)
	}
	return &out, nil
}

// columns maps field names to item positions for columnar responses.
type columns map[string]int

func (r *apiResponse) columns() columns {
	c := make(columns, len(r.Data.Fields))
	for i, f := range r.Data.Fields {
		c[f] = i
	}
	return c
}

func (c columns) str(item []any, field string) string {
	i, ok := c[field]
	if !ok || i >= len(item) || item[i] == nil {
		return ""
	}
	s, _ := item[i].(string)
	return s
}

func (c columns) num(item []any, field string) float64 {
	i, ok := c[field]
	if !ok || i >= len(item) || item[i] == nil {
		return 0
	}
	f, _ := item[i].(float64)
	return f
}

// vendorDate converts the vendor's YYYYMMDD to the internal YYYY-MM-DD.
func vendorDate(s string) string {
	if len(s) != 8 {
		return s
	}
	return s[:4] + "-" + s[4:6] + "-" + s[6:8]
}

// compactDate converts YYYY-MM-DD to the vendor's YYYYMMDD.
func compactDate(s string) string {
	if len(s) == 10 {
		return s[:4] + s[5:7] + s[8:10]
	}
	return s
}

// StockBasics fetches metadata for all listed stocks.
func (c *Client) StockBasics(ctx context.Context) ([]engine.StockInfo, error) {
	resp, err := c.call(ctx, "stock_basic",
		map[string]any{"list_status": "L"},
		"ts_code,name,market,industry,list_date")
	if err != nil {
		return nil, err
	}
	cols := resp.columns()
	out := make([]engine.StockInfo, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		out = append(out, engine.StockInfo{
			Symbol:   cols.str(item, "ts_code"),
			Name:     cols.str(item, "name"),
			Market:   cols.str(item, "market"),
			Industry: cols.str(item, "industry"),
			ListDate: vendorDate(cols.str(item, "list_date")),
		})
	}
	return out, nil
}

// DailyByDate fetches market-wide daily bars for one trade date, paging
// through the vendor's row limit.
func (c *Client) DailyByDate(ctx context.Context, tradeDate string) ([]engine.DailyRow, error) {
	var out []engine.DailyRow
	offset := 0
	for {
		resp, err := c.call(ctx, "daily", map[string]any{
			"trade_date": compactDate(tradeDate),
			"limit":      pageLimit,
			"offset":     offset,
		}, "ts_code,trade_date,open,high,low,close,vol,amount")
		if err != nil {
			return nil, err
		}
		cols := resp.columns()
		for _, item := range resp.Data.Items {
			out = append(out, engine.DailyRow{
				Symbol:    cols.str(item, "ts_code"),
				TradeDate: vendorDate(cols.str(item, "trade_date")),
				Open:      cols.num(item, "open"),
				High:      cols.num(item, "high"),
				Low:       cols.num(item, "low"),
				Close:     cols.num(item, "close"),
				Volume:    cols.num(item, "vol"),
				Amount:    cols.num(item, "amount"),
			})
		}
		if len(resp.Data.Items) < pageLimit {
			return out, nil
		}
		offset += pageLimit
	}
}

// AdjFactorsByDate fetches per-symbol adjustment factors for one trade date.
func (c *Client) AdjFactorsByDate(ctx context.Context, tradeDate string) (map[string]float64, error) {
	out := make(map[string]float64)
	offset := 0
	for {
		resp, err := c.call(ctx, "adj_factor", map[string]any{
			"trade_date": compactDate(tradeDate),
			"limit":      pageLimit,
			"offset":     offset,
		}, "ts_code,adj_factor")
		if err != nil {
			return nil, err
		}
		cols := resp.columns()
		for _, item := range resp.Data.Items {
			out[cols.str(item, "ts_code")] = cols.num(item, "adj_factor")
		}
		if len(resp.Data.Items) < pageLimit {
			return out, nil
		}
		offset += pageLimit
	}
}

// TradeCalendar fetches open/closed flags for an exchange across a range.
func (c *Client) TradeCalendar(ctx context.Context, exchange, startDate, endDate string) (map[string]bool, error) {
	resp, err := c.call(ctx, "trade_cal", map[string]any{
		"exchange":   exchange,
		"start_date": compactDate(startDate),
		"end_date":   compactDate(endDate),
	}, "cal_date,is_open")
	if err != nil {
		return nil, err
	}
	cols := resp.columns()
	out := make(map[string]bool, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		out[vendorDate(cols.str(item, "cal_date"))] = cols.num(item, "is_open") == 1
	}
	return out, nil
}

// IndexDaily fetches daily closes for one index symbol across a range.
func (c *Client) IndexDaily(ctx context.Context, symbol, startDate, endDate string) ([]engine.IndexClose, error) {
	resp, err := c.call(ctx, "index_daily", map[string]any{
		"ts_code":    symbol,
		"start_date": compactDate(startDate),
		"end_date":   compactDate(endDate),
	}, "trade_date,close")
	if err != nil {
		return nil, err
	}
	cols := resp.columns()
	out := make([]engine.IndexClose, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		out = append(out, engine.IndexClose{
			Date:  vendorDate(cols.str(item, "trade_date")),
			Close: cols.num(item, "close"),
		})
	}
	// vendor returns newest-first; regime math wants oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
