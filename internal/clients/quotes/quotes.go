// Package quotes implements the upstream price providers consumed by the
// quote service's fallback chain: alpha, finnhub, yahoo, iex.
package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/models"
)

const (
	DefaultTimeout   = 5 * time.Second
	DefaultRateLimit = 5 // requests per second per provider
)

// config is the shared per-provider client state.
type config struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// Option configures a provider client
type Option func(*config)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) Option {
	return func(c *config) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithRateLimit sets the provider's courtesy rate limit
func WithRateLimit(requestsPerSecond int) Option {
	return func(c *config) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.httpClient.Timeout = timeout
	}
}

func newConfig(baseURL, apiKey string, opts ...Option) *config {
	c := &config{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError represents a provider API error
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %s (status: %d)", e.Provider, e.Message, e.StatusCode)
}

// getJSON performs a rate-limited GET and decodes the JSON response.
func (c *config) getJSON(ctx context.Context, provider, reqURL string, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("provider", provider).Msg("quote request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.WrapError(common.KindTransient, provider+" request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		apiErr := &APIError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return common.WrapError(common.KindRateLimited, provider+" throttled", apiErr)
		}
		return common.WrapError(common.KindTransient, provider+" request failed", apiErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return common.WrapError(common.KindMalformed, provider+" unparseable response", err)
	}

	return nil
}

// validated rejects quotes that fail sanity checks so the chain continues
// to the next provider instead of caching garbage.
func validated(provider string, q *models.Quote) (*models.Quote, error) {
	if !q.Valid() {
		return nil, common.NewError(common.KindMalformed,
			fmt.Sprintf("%s returned malformed quote for %s (current=%.2f changePct=%.2f)",
				provider, q.Symbol, q.Current, q.ChangePercent))
	}
	return q, nil
}

// periodStart returns the series start time for a sparkline period.
func periodStart(period string, now time.Time) time.Time {
	switch period {
	case models.Period1D:
		return now.AddDate(0, 0, -1)
	case models.Period1W:
		return now.AddDate(0, 0, -7)
	case models.Period1M:
		return now.AddDate(0, -1, 0)
	case models.Period3M:
		return now.AddDate(0, -3, 0)
	case models.Period1Y:
		return now.AddDate(-1, 0, 0)
	default:
		return now.AddDate(0, -1, 0)
	}
}

// downsample reduces a series to at most n evenly spaced points, always
// keeping the final point.
func downsample(series []float64, n int) []float64 {
	if n <= 0 || len(series) <= n {
		return series
	}
	out := make([]float64, 0, n)
	step := float64(len(series)-1) / float64(n-1)
	for i := 0; i < n; i++ {
		idx := int(math.Round(float64(i) * step))
		if idx >= len(series) {
			idx = len(series) - 1
		}
		out = append(out, series[idx])
	}
	return out
}

// tailClean drops zero/NaN points providers emit for halted bars.
func tailClean(series []float64) []float64 {
	out := series[:0]
	for _, v := range series {
		if v > 0 && !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}
