package quotes

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

const iexBaseURL = "https://cloud.iexapis.com/stable"

// IEX is the last provider in the default chain.
type IEX struct {
	cfg *config
}

// NewIEX creates an IEX Cloud provider
func NewIEX(apiKey string, opts ...Option) *IEX {
	return &IEX{cfg: newConfig(iexBaseURL, apiKey, opts...)}
}

// Name returns the provider key
func (x *IEX) Name() string { return "iex" }

// iexQuoteResponse: changePercent arrives as a fraction (0.0123 = 1.23%).
type iexQuoteResponse struct {
	Symbol        string  `json:"symbol"`
	LatestPrice   float64 `json:"latestPrice"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	PreviousClose float64 `json:"previousClose"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	LatestVolume  int64   `json:"latestVolume"`
	MarketCap     float64 `json:"marketCap"`
	LatestUpdate  int64   `json:"latestUpdate"` // milliseconds
}

type iexChartBar struct {
	Close float64 `json:"close"`
}

func iexRange(period string) string {
	switch period {
	case models.Period1D:
		return "1d"
	case models.Period1W:
		return "5d"
	case models.Period1M:
		return "1m"
	case models.Period3M:
		return "3m"
	case models.Period1Y:
		return "1y"
	default:
		return "1m"
	}
}

// GetQuote fetches and normalizes an IEX quote with a chart sparkline.
func (x *IEX) GetQuote(ctx context.Context, symbol, period string) (*models.Quote, error) {
	sym := url.PathEscape(strings.ToLower(symbol))
	params := url.Values{}
	params.Set("token", x.cfg.apiKey)

	var resp iexQuoteResponse
	reqURL := fmt.Sprintf("%s/stock/%s/quote?%s", x.cfg.baseURL, sym, params.Encode())
	if err := x.cfg.getJSON(ctx, x.Name(), reqURL, &resp); err != nil {
		return nil, err
	}

	updated := time.Now()
	if resp.LatestUpdate > 0 {
		updated = time.UnixMilli(resp.LatestUpdate)
	}

	q := &models.Quote{
		Symbol:        strings.ToUpper(symbol),
		Current:       resp.LatestPrice,
		Open:          resp.Open,
		High:          resp.High,
		Low:           resp.Low,
		PreviousClose: resp.PreviousClose,
		Change:        resp.Change,
		ChangePercent: resp.ChangePercent * 100,
		Volume:        resp.LatestVolume,
		MarketCap:     resp.MarketCap,
		LastUpdated:   updated,
		Provider:      x.Name(),
	}

	if sparkline, err := x.getSparkline(ctx, sym, period); err == nil {
		q.Sparkline = sparkline
	}

	return validated(x.Name(), q)
}

func (x *IEX) getSparkline(ctx context.Context, sym, period string) ([]float64, error) {
	params := url.Values{}
	params.Set("token", x.cfg.apiKey)
	params.Set("chartCloseOnly", "true")

	var bars []iexChartBar
	reqURL := fmt.Sprintf("%s/stock/%s/chart/%s?%s", x.cfg.baseURL, sym, iexRange(period), params.Encode())
	if err := x.cfg.getJSON(ctx, x.Name(), reqURL, &bars); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("empty chart")
	}

	series := make([]float64, 0, len(bars))
	for _, b := range bars {
		series = append(series, b.Close)
	}

	return downsample(tailClean(series), models.SparklinePoints(period)), nil
}

// Ensure IEX implements QuoteProvider
var _ interfaces.QuoteProvider = (*IEX)(nil)
