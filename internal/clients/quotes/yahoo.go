package quotes

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// Yahoo is the third provider in the default chain. Keyless; the chart
// endpoint carries both the snapshot and the sparkline series.
type Yahoo struct {
	cfg *config
}

// NewYahoo creates a Yahoo Finance provider
func NewYahoo(opts ...Option) *Yahoo {
	return &Yahoo{cfg: newConfig(yahooBaseURL, "", opts...)}
}

// Name returns the provider key
func (y *Yahoo) Name() string { return "yahoo" }

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func yahooRange(period string) (rng, interval string) {
	switch period {
	case models.Period1D:
		return "1d", "5m"
	case models.Period1W:
		return "5d", "1d"
	case models.Period1M:
		return "1mo", "1d"
	case models.Period3M:
		return "3mo", "1d"
	case models.Period1Y:
		return "1y", "1d"
	default:
		return "1mo", "1d"
	}
}

// GetQuote fetches and normalizes a Yahoo chart snapshot.
func (y *Yahoo) GetQuote(ctx context.Context, symbol, period string) (*models.Quote, error) {
	rng, interval := yahooRange(period)

	params := url.Values{}
	params.Set("range", rng)
	params.Set("interval", interval)

	reqURL := fmt.Sprintf("%s/v8/finance/chart/%s?%s",
		y.cfg.baseURL, url.PathEscape(strings.ToUpper(symbol)), params.Encode())

	var resp yahooChartResponse
	if err := y.cfg.getJSON(ctx, y.Name(), reqURL, &resp); err != nil {
		return nil, err
	}
	if resp.Chart.Error != nil {
		return nil, &APIError{Provider: y.Name(), StatusCode: 404, Message: resp.Chart.Error.Description}
	}
	if len(resp.Chart.Result) == 0 {
		return nil, common.NewError(common.KindMalformed, "yahoo returned empty chart for "+symbol)
	}

	result := resp.Chart.Result[0]
	meta := result.Meta

	q := &models.Quote{
		Symbol:        strings.ToUpper(symbol),
		Current:       meta.RegularMarketPrice,
		PreviousClose: meta.ChartPreviousClose,
		Change:        meta.RegularMarketPrice - meta.ChartPreviousClose,
		LastUpdated:   time.Now(),
		Provider:      y.Name(),
	}
	if meta.ChartPreviousClose > 0 {
		q.ChangePercent = q.Change / meta.ChartPreviousClose * 100
	}
	if meta.RegularMarketTime > 0 {
		q.LastUpdated = time.Unix(meta.RegularMarketTime, 0)
	}

	if len(result.Indicators.Quote) > 0 {
		bars := result.Indicators.Quote[0]
		if closes := tailClean(bars.Close); len(closes) > 0 {
			q.Sparkline = downsample(closes, models.SparklinePoints(period))
			q.Open = firstNonZero(bars.Open)
			q.High = maxOf(bars.High)
			q.Low = minOf(bars.Low)
			q.Volume = sumOf(bars.Volume)
		}
	}

	return validated(y.Name(), q)
}

func firstNonZero(vals []float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func maxOf(vals []float64) float64 {
	var m float64
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(vals []float64) float64 {
	var m float64
	for _, v := range vals {
		if v > 0 && (m == 0 || v < m) {
			m = v
		}
	}
	return m
}

func sumOf(vals []int64) int64 {
	var s int64
	for _, v := range vals {
		s += v
	}
	return s
}

// Ensure Yahoo implements QuoteProvider
var _ interfaces.QuoteProvider = (*Yahoo)(nil)
