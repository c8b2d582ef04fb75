// Package yahoo reads index quotes from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updown/internal/domain"
)

// DefaultHosts are tried in order; query2 answers more reliably from cloud
// egress.
var DefaultHosts = []string{
	"https://query2.finance.yahoo.com",
	"https://query1.finance.yahoo.com",
}

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Client implements domain.QuoteSupplier.
type Client struct {
	hosts      []string
	httpClient *http.Client
	now        func() time.Time
}

var _ domain.QuoteSupplier = (*Client)(nil)

// NewClient creates a client over hosts (DefaultHosts when empty). Each
// host attempt is bounded by timeout.
func NewClient(hosts []string, timeout time.Duration) *Client {
	if len(hosts) == 0 {
		hosts = DefaultHosts
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		hosts:      hosts,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// chartMeta is the subset of chart.result[0].meta we read.
type chartMeta struct {
	Symbol             string          `json:"symbol"`
	RegularMarketPrice decimal.Decimal `json:"regularMarketPrice"`
	RegularMarketOpen  decimal.Decimal `json:"regularMarketOpen"`
	ChartPreviousClose decimal.Decimal `json:"chartPreviousClose"`
	RegularMarketTime  int64           `json:"regularMarketTime"`
	MarketState        string          `json:"marketState"`
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta chartMeta `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// GetQuote fetches symbol from each host in turn and returns the first
// success. Open falls back to the previous close when the session has not
// printed an open yet.
func (c *Client) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	var errs []error
	for _, host := range c.hosts {
		meta, err := c.fetch(ctx, host, symbol)
		if err == nil {
			q, err := c.toQuote(symbol, meta)
			if err != nil {
				return domain.Quote{}, fmt.Errorf("yahoo: quote %s: %w", symbol, err)
			}
			return q, nil
		}
		if ctx.Err() != nil {
			return domain.Quote{}, fmt.Errorf("yahoo: quote %s: %w", symbol, ctx.Err())
		}
		errs = append(errs, fmt.Errorf("%s: %w", host, err))
	}
	return domain.Quote{}, fmt.Errorf("yahoo: quote %s: %w", symbol, errors.Join(errs...))
}

func (c *Client) fetch(ctx context.Context, host, symbol string) (chartMeta, error) {
	u := host + "/v8/finance/chart/" + url.PathEscape(symbol) + "?interval=1d&range=1d"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return chartMeta{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chartMeta{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return chartMeta{}, fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return chartMeta{}, fmt.Errorf("%w: %s", domain.ErrNotFound, symbol)
	case resp.StatusCode == http.StatusTooManyRequests:
		return chartMeta{}, domain.ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return chartMeta{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var cr chartResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return chartMeta{}, fmt.Errorf("decode chart: %w", err)
	}
	if cr.Chart.Error != nil {
		return chartMeta{}, fmt.Errorf("chart error %s: %s", cr.Chart.Error.Code, cr.Chart.Error.Description)
	}
	if len(cr.Chart.Result) == 0 || !cr.Chart.Result[0].Meta.RegularMarketPrice.IsPositive() {
		return chartMeta{}, domain.ErrNoPrice
	}
	return cr.Chart.Result[0].Meta, nil
}

func (c *Client) toQuote(symbol string, m chartMeta) (domain.Quote, error) {
	open := m.RegularMarketOpen
	if !open.IsPositive() {
		open = m.ChartPreviousClose
	}
	state := m.MarketState
	if state == "" {
		state = "CLOSED"
	}
	ts := c.now().UTC()
	if m.RegularMarketTime > 0 {
		ts = time.Unix(m.RegularMarketTime, 0).UTC()
	}
	q := domain.Quote{Symbol: symbol, MarketState: state, Timestamp: ts}
	var err error
	if q.Price, err = domain.PriceFromDecimal(m.RegularMarketPrice); err != nil {
		return domain.Quote{}, err
	}
	if q.Open, err = domain.PriceFromDecimal(open); err != nil {
		return domain.Quote{}, err
	}
	if q.PreviousClose, err = domain.PriceFromDecimal(m.ChartPreviousClose); err != nil {
		return domain.Quote{}, err
	}
	return q, nil
}
