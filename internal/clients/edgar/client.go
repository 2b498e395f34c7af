// Package edgar provides a polite client for the SEC EDGAR endpoints
package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

const (
	DefaultBaseURL   = "https://data.sec.gov"
	DefaultUserAgent = "FilingWatch/1.0 (ops@filingwatch.dev)"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second, shared "edgar" bucket

	maxRetries = 3
)

// Client implements the EdgarClient interface. All requests share one
// limiter bucket so the process stays inside EDGAR's fair-access policy.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *common.SlidingWindow
	sleep      func(ctx context.Context, d time.Duration) error
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithUserAgent sets the mandatory descriptive User-Agent
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithLimiter shares an external sliding-window limiter
func WithLimiter(limiter *common.SlidingWindow) ClientOption {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithRateLimit sets the edgar bucket limit on the client's own limiter
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter.SetLimit(bucketEdgar, requestsPerSecond, time.Second)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

const bucketEdgar = "edgar"

// NewClient creates a new EDGAR client
func NewClient(opts ...ClientOption) *Client {
	limiter := common.NewSlidingWindow(DefaultRateLimit, time.Second)
	limiter.SetLimit(bucketEdgar, DefaultRateLimit, time.Second)

	c := &Client{
		baseURL:   DefaultBaseURL,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: limiter,
		logger:  common.NewSilentLogger(),
		sleep:   sleepCtx,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an EDGAR API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EDGAR API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// get performs a rate-limited GET with retry on 429/5xx.
// Retry delay is max(server Retry-After, 2^attempt seconds).
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<attempt) * time.Second
			if ra := retryAfter(lastErr); ra > delay {
				delay = ra
			}
			c.logger.Debug().
				Str("path", path).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("EDGAR retry")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.Acquire(ctx, bucketEdgar); err != nil {
			return nil, common.WrapError(common.KindRateLimited, "limiter wait", err)
		}

		body, err := c.doGet(ctx, path)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var apiErr *APIError
		if !retryableStatus(err, &apiErr) {
			return nil, classify(apiErr, err, path)
		}
	}

	return nil, common.WrapError(common.KindTransient, "EDGAR retries exhausted", lastErr)
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	c.logger.Debug().Str("path", path).Msg("EDGAR request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   path,
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil {
				return nil, &retryAfterError{apiErr: apiErr, after: time.Duration(secs) * time.Second}
			}
		}
		return nil, apiErr
	}

	return io.ReadAll(resp.Body)
}

// retryAfterError carries a server-requested delay alongside the API error.
type retryAfterError struct {
	apiErr *APIError
	after  time.Duration
}

func (e *retryAfterError) Error() string { return e.apiErr.Error() }
func (e *retryAfterError) Unwrap() error { return e.apiErr }

func retryAfter(err error) time.Duration {
	if rae, ok := err.(*retryAfterError); ok {
		return rae.after
	}
	return 0
}

func retryableStatus(err error, apiErr **APIError) bool {
	if rae, ok := err.(*retryAfterError); ok {
		*apiErr = rae.apiErr
		return rae.apiErr.StatusCode == http.StatusTooManyRequests || rae.apiErr.StatusCode >= 500
	}
	if ae, ok := err.(*APIError); ok {
		*apiErr = ae
		return ae.StatusCode == http.StatusTooManyRequests || ae.StatusCode >= 500
	}
	// Transport errors (timeouts, connection resets) retry too.
	return true
}

func classify(apiErr *APIError, err error, path string) error {
	if apiErr == nil {
		return err
	}
	switch apiErr.StatusCode {
	case http.StatusNotFound:
		return common.WrapError(common.KindNotFound, "filing not found: "+path, apiErr)
	case http.StatusForbidden:
		return common.WrapError(common.KindValidation, "EDGAR rejected request (check User-Agent)", apiErr)
	default:
		return common.WrapError(common.KindTransient, "EDGAR request failed", apiErr)
	}
}

// submissionsResponse is the EDGAR submissions payload with its
// parallel-array recent-filings shape.
type submissionsResponse struct {
	CIK            json.Number `json:"cik"`
	Name           string      `json:"name"`
	SIC            string      `json:"sic"`
	SICDescription string      `json:"sicDescription"`
	Tickers        []string    `json:"tickers"`
	Exchanges      []string    `json:"exchanges"`
	Filings        struct {
		Recent struct {
			AccessionNumber       []string `json:"accessionNumber"`
			FilingDate            []string `json:"filingDate"`
			ReportDate            []string `json:"reportDate"`
			Form                  []string `json:"form"`
			PrimaryDocument       []string `json:"primaryDocument"`
			PrimaryDocDescription []string `json:"primaryDocDescription"`
		} `json:"recent"`
	} `json:"filings"`
}

// GetSubmissions retrieves the company header and recent filings, pivoting
// EDGAR's parallel arrays into records sorted by filed date descending.
func (c *Client) GetSubmissions(ctx context.Context, cik string) (*models.CompanyInfo, []models.FilingMeta, error) {
	padded := models.NormalizeCIK(cik)
	if padded == "" {
		return nil, nil, common.NewError(common.KindValidation, "invalid CIK: "+cik)
	}

	body, err := c.get(ctx, "/submissions/CIK"+padded+".json")
	if err != nil {
		return nil, nil, err
	}

	var resp submissionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil, common.WrapError(common.KindMalformed, "decode submissions", err)
	}

	info := &models.CompanyInfo{
		CIK:            padded,
		Name:           resp.Name,
		SIC:            resp.SIC,
		SICDescription: resp.SICDescription,
		Tickers:        resp.Tickers,
		Exchanges:      resp.Exchanges,
	}

	recent := resp.Filings.Recent
	metas := make([]models.FilingMeta, 0, len(recent.AccessionNumber))
	for i := range recent.AccessionNumber {
		meta := models.FilingMeta{
			CIK:         padded,
			AccessionNo: models.NormalizeAccession(recent.AccessionNumber[i]),
		}
		if i < len(recent.Form) {
			meta.FormType = recent.Form[i]
		}
		if i < len(recent.FilingDate) {
			meta.FiledDate, _ = time.Parse("2006-01-02", recent.FilingDate[i])
		}
		if i < len(recent.ReportDate) && recent.ReportDate[i] != "" {
			meta.ReportDate, _ = time.Parse("2006-01-02", recent.ReportDate[i])
		}
		if i < len(recent.PrimaryDocument) {
			meta.PrimaryDocument = recent.PrimaryDocument[i]
		}
		if i < len(recent.PrimaryDocDescription) {
			meta.Description = recent.PrimaryDocDescription[i]
		}
		metas = append(metas, meta)
	}

	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].FiledDate.After(metas[j].FiledDate)
	})

	return info, metas, nil
}

// GetFilings retrieves filing metadata filtered by the options, sorted by
// filed date descending.
func (c *Client) GetFilings(ctx context.Context, cik string, opts ...interfaces.FilingOption) ([]models.FilingMeta, error) {
	params := &interfaces.FilingParams{}
	for _, opt := range opts {
		opt(params)
	}

	_, metas, err := c.GetSubmissions(ctx, cik)
	if err != nil {
		return nil, err
	}

	filtered := make([]models.FilingMeta, 0, len(metas))
	for _, m := range metas {
		if params.Form != "" && !strings.EqualFold(m.FormType, params.Form) {
			continue
		}
		if !params.After.IsZero() && !m.FiledDate.After(params.After) {
			continue
		}
		if !params.Before.IsZero() && !m.FiledDate.Before(params.Before) {
			continue
		}
		filtered = append(filtered, m)
		if params.Count > 0 && len(filtered) >= params.Count {
			break
		}
	}

	return filtered, nil
}

// tickerCatalogue is the company_tickers.json shape: an object keyed by
// row index, values carrying cik/ticker/title.
type tickerCatalogue map[string]struct {
	CIKStr json.Number `json:"cik_str"`
	Ticker string      `json:"ticker"`
	Title  string      `json:"title"`
}

// SearchCompanies queries the ticker catalogue by symbol or name fragment.
// Exact ticker matches sort first, then name matches alphabetically.
func (c *Client) SearchCompanies(ctx context.Context, query string) ([]models.CompanyMatch, error) {
	q := strings.TrimSpace(strings.ToUpper(query))
	if q == "" {
		return nil, common.NewError(common.KindValidation, "empty search query")
	}

	body, err := c.get(ctx, "/files/company_tickers.json")
	if err != nil {
		return nil, err
	}

	var catalogue tickerCatalogue
	if err := json.Unmarshal(body, &catalogue); err != nil {
		return nil, common.WrapError(common.KindMalformed, "decode ticker catalogue", err)
	}

	var matches []models.CompanyMatch
	for _, row := range catalogue {
		ticker := strings.ToUpper(row.Ticker)
		name := strings.ToUpper(row.Title)
		if ticker != q && !strings.Contains(name, q) {
			continue
		}
		matches = append(matches, models.CompanyMatch{
			CIK:    models.NormalizeCIK(row.CIKStr.String()),
			Name:   row.Title,
			Ticker: row.Ticker,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		iExact := strings.EqualFold(matches[i].Ticker, q)
		jExact := strings.EqualFold(matches[j].Ticker, q)
		if iExact != jExact {
			return iExact
		}
		return matches[i].Name < matches[j].Name
	})

	return matches, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Ensure Client implements EdgarClient
var _ interfaces.EdgarClient = (*Client)(nil)
