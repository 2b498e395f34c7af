package quotes

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// Finnhub is the second provider in the default chain.
type Finnhub struct {
	cfg *config
}

// NewFinnhub creates a Finnhub provider
func NewFinnhub(apiKey string, opts ...Option) *Finnhub {
	return &Finnhub{cfg: newConfig(finnhubBaseURL, apiKey, opts...)}
}

// Name returns the provider key
func (f *Finnhub) Name() string { return "finnhub" }

// finnhubQuoteResponse: c=current, o=open, h=high, l=low, pc=previous
// close, d=change, dp=change percent, t=unix timestamp.
type finnhubQuoteResponse struct {
	Current       float64 `json:"c"`
	Open          float64 `json:"o"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	PreviousClose float64 `json:"pc"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	Timestamp     int64   `json:"t"`
}

type finnhubCandleResponse struct {
	Close  []float64 `json:"c"`
	Status string    `json:"s"` // "ok" or "no_data"
}

// GetQuote fetches and normalizes a Finnhub quote with a candle sparkline.
func (f *Finnhub) GetQuote(ctx context.Context, symbol, period string) (*models.Quote, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("token", f.cfg.apiKey)

	var resp finnhubQuoteResponse
	if err := f.cfg.getJSON(ctx, f.Name(), f.cfg.baseURL+"/quote?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	updated := time.Now()
	if resp.Timestamp > 0 {
		updated = time.Unix(resp.Timestamp, 0)
	}

	q := &models.Quote{
		Symbol:        strings.ToUpper(symbol),
		Current:       resp.Current,
		Open:          resp.Open,
		High:          resp.High,
		Low:           resp.Low,
		PreviousClose: resp.PreviousClose,
		Change:        resp.Change,
		ChangePercent: resp.ChangePercent,
		LastUpdated:   updated,
		Provider:      f.Name(),
	}

	if sparkline, err := f.getSparkline(ctx, symbol, period); err == nil {
		q.Sparkline = sparkline
	}

	return validated(f.Name(), q)
}

func (f *Finnhub) getSparkline(ctx context.Context, symbol, period string) ([]float64, error) {
	now := time.Now()
	resolution := "D"
	if period == models.Period1D {
		resolution = "5"
	}

	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("resolution", resolution)
	params.Set("from", strconv.FormatInt(periodStart(period, now).Unix(), 10))
	params.Set("to", strconv.FormatInt(now.Unix(), 10))
	params.Set("token", f.cfg.apiKey)

	var resp finnhubCandleResponse
	if err := f.cfg.getJSON(ctx, f.Name(), f.cfg.baseURL+"/stock/candle?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" || len(resp.Close) == 0 {
		return nil, fmt.Errorf("no candle data for %s", symbol)
	}

	return downsample(tailClean(resp.Close), models.SparklinePoints(period)), nil
}

// Ensure Finnhub implements QuoteProvider
var _ interfaces.QuoteProvider = (*Finnhub)(nil)
