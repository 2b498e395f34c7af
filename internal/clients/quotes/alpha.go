package quotes

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

const alphaBaseURL = "https://www.alphavantage.co"

// Alpha is the Alpha Vantage provider, first in the default chain.
type Alpha struct {
	cfg *config
}

// NewAlpha creates an Alpha Vantage provider
func NewAlpha(apiKey string, opts ...Option) *Alpha {
	return &Alpha{cfg: newConfig(alphaBaseURL, apiKey, opts...)}
}

// Name returns the provider key
func (a *Alpha) Name() string { return "alpha" }

// alphaQuoteResponse is the GLOBAL_QUOTE payload. All values arrive as
// strings, change percent with a trailing "%".
type alphaQuoteResponse struct {
	GlobalQuote struct {
		Symbol        string `json:"01. symbol"`
		Open          string `json:"02. open"`
		High          string `json:"03. high"`
		Low           string `json:"04. low"`
		Price         string `json:"05. price"`
		Volume        string `json:"06. volume"`
		PreviousClose string `json:"08. previous close"`
		Change        string `json:"09. change"`
		ChangePercent string `json:"10. change percent"`
	} `json:"Global Quote"`
	Note string `json:"Note,omitempty"` // throttle message
}

type alphaDailyResponse struct {
	Series map[string]struct {
		Close string `json:"4. close"`
	} `json:"Time Series (Daily)"`
}

// GetQuote fetches and normalizes an Alpha Vantage quote with a daily
// sparkline for the requested period.
func (a *Alpha) GetQuote(ctx context.Context, symbol, period string) (*models.Quote, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)
	params.Set("apikey", a.cfg.apiKey)

	var resp alphaQuoteResponse
	if err := a.cfg.getJSON(ctx, a.Name(), a.cfg.baseURL+"/query?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Note != "" {
		return nil, &APIError{Provider: a.Name(), StatusCode: 429, Message: resp.Note}
	}
	if resp.GlobalQuote.Symbol == "" {
		return nil, &APIError{Provider: a.Name(), StatusCode: 404, Message: "empty quote for " + symbol}
	}

	q := &models.Quote{
		Symbol:        strings.ToUpper(resp.GlobalQuote.Symbol),
		Current:       alphaFloat(resp.GlobalQuote.Price),
		Open:          alphaFloat(resp.GlobalQuote.Open),
		High:          alphaFloat(resp.GlobalQuote.High),
		Low:           alphaFloat(resp.GlobalQuote.Low),
		PreviousClose: alphaFloat(resp.GlobalQuote.PreviousClose),
		Change:        alphaFloat(resp.GlobalQuote.Change),
		ChangePercent: alphaPercent(resp.GlobalQuote.ChangePercent),
		Volume:        int64(alphaFloat(resp.GlobalQuote.Volume)),
		LastUpdated:   time.Now(),
		Provider:      a.Name(),
	}

	if sparkline, err := a.getSparkline(ctx, symbol, period); err == nil {
		q.Sparkline = sparkline
	}

	return validated(a.Name(), q)
}

func (a *Alpha) getSparkline(ctx context.Context, symbol, period string) ([]float64, error) {
	params := url.Values{}
	params.Set("function", "TIME_SERIES_DAILY")
	params.Set("symbol", symbol)
	params.Set("outputsize", "compact")
	if period == models.Period1Y {
		params.Set("outputsize", "full")
	}
	params.Set("apikey", a.cfg.apiKey)

	var resp alphaDailyResponse
	if err := a.cfg.getJSON(ctx, a.Name(), a.cfg.baseURL+"/query?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Series) == 0 {
		return nil, fmt.Errorf("empty daily series for %s", symbol)
	}

	dates := make([]string, 0, len(resp.Series))
	for d := range resp.Series {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	start := periodStart(period, time.Now()).Format("2006-01-02")
	series := make([]float64, 0, len(dates))
	for _, d := range dates {
		if d < start {
			continue
		}
		series = append(series, alphaFloat(resp.Series[d].Close))
	}

	return downsample(tailClean(series), models.SparklinePoints(period)), nil
}

func alphaFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func alphaPercent(s string) float64 {
	return alphaFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"))
}

// Ensure Alpha implements QuoteProvider
var _ interfaces.QuoteProvider = (*Alpha)(nil)
