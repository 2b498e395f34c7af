// Package quote implements the price adapter: an ordered provider chain
// with caching and stale-data fallback
package quote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

const (
	DefaultCacheTTL        = 60 * time.Second
	DefaultProviderTimeout = 5 * time.Second
)

type cacheEntry struct {
	quote    models.Quote
	storedAt time.Time
}

// Service implements the QuoteService interface
type Service struct {
	providers []interfaces.QuoteProvider
	limiter   *common.SlidingWindow
	logger    *common.Logger

	ttl             time.Duration
	providerTimeout time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time // injectable clock for testing
}

// Option configures the service
type Option func(*Service)

// WithCacheTTL sets the per-symbol cache TTL
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// WithProviderTimeout sets the per-provider attempt timeout
func WithProviderTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		s.providerTimeout = timeout
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a quote service over an ordered provider chain
func NewService(providers []interfaces.QuoteProvider, limiter *common.SlidingWindow, opts ...Option) *Service {
	s := &Service{
		providers:       providers,
		limiter:         limiter,
		logger:          common.NewSilentLogger(),
		ttl:             DefaultCacheTTL,
		providerTimeout: DefaultProviderTimeout,
		cache:           make(map[string]cacheEntry),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Providers returns the configured chain order
func (s *Service) Providers() []string {
	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}
	return names
}

// GetQuote returns a normalized quote: from cache when fresh, else from the
// first provider in the chain that succeeds, else from an expired cache
// entry when stale data is allowed.
func (s *Service) GetQuote(ctx context.Context, symbol string, opts interfaces.QuoteOptions) (*models.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, common.NewError(common.KindValidation, "empty symbol")
	}

	period := opts.Period
	if period == "" {
		period = models.Period1M
	}
	key := symbol + "|" + period

	if !opts.SkipCache {
		if q, ok := s.cached(key, false); ok {
			s.logger.Debug().Str("symbol", symbol).Msg("quote cache hit")
			return q, nil
		}
	}

	chain, err := s.chainFor(opts.ForceProvider)
	if err != nil {
		return nil, err
	}

	var attempts []models.ProviderAttempt
	var primaryError string

	for i, provider := range chain {
		quote, attemptErr := s.tryProvider(ctx, provider, symbol, period)
		if attemptErr != nil {
			attempts = append(attempts, models.ProviderAttempt{
				Provider: provider.Name(),
				Success:  false,
				Error:    attemptErr.Error(),
			})
			if primaryError == "" {
				primaryError = fmt.Sprintf("%s: %v", provider.Name(), attemptErr)
			}
			s.logger.Warn().
				Str("symbol", symbol).
				Str("provider", provider.Name()).
				Err(attemptErr).
				Msg("quote provider failed")
			continue
		}

		attempts = append(attempts, models.ProviderAttempt{Provider: provider.Name(), Success: true})
		quote.FallbackUsed = i > 0
		quote.PrimaryError = ""
		if quote.FallbackUsed {
			quote.PrimaryError = primaryError
		}
		quote.ProviderChain = attempts

		s.store(key, quote)
		return quote, nil
	}

	if opts.AllowStale {
		if q, ok := s.cached(key, true); ok {
			q.Stale = true
			q.StaleAge = s.now().Sub(q.LastUpdated)
			q.ProviderChain = attempts
			q.PrimaryError = primaryError
			s.logger.Warn().
				Str("symbol", symbol).
				Dur("stale_age", q.StaleAge).
				Msg("all providers failed, serving stale quote")
			return q, nil
		}
	}

	return nil, common.NewError(common.KindUnavailable,
		fmt.Sprintf("all providers unavailable for %s (tried: %s)", symbol, strings.Join(names(attempts), ", ")))
}

// tryProvider runs one attempt under the provider's limiter bucket and
// timeout.
func (s *Service) tryProvider(ctx context.Context, provider interfaces.QuoteProvider, symbol, period string) (*models.Quote, error) {
	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx, "quote:"+provider.Name()); err != nil {
			return nil, err
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	return provider.GetQuote(attemptCtx, symbol, period)
}

// chainFor resolves the provider order, honoring a forced provider.
func (s *Service) chainFor(force string) ([]interfaces.QuoteProvider, error) {
	if force == "" {
		return s.providers, nil
	}
	for _, p := range s.providers {
		if strings.EqualFold(p.Name(), force) {
			return []interfaces.QuoteProvider{p}, nil
		}
	}
	return nil, common.NewError(common.KindValidation, "unknown provider: "+force)
}

// cached returns a copy of the cache entry. Fresh-only unless allowExpired.
func (s *Service) cached(key string, allowExpired bool) (*models.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[key]
	if !ok {
		return nil, false
	}
	if !allowExpired && s.now().Sub(entry.storedAt) >= s.ttl {
		return nil, false
	}

	q := entry.quote
	return &q, true
}

func (s *Service) store(key string, q *models.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cacheEntry{quote: *q, storedAt: s.now()}
}

// PurgeExpired drops cache entries older than maxAge and returns the number
// removed. Entries past the TTL but inside maxAge survive so the stale
// fallback keeps something to serve.
func (s *Service) PurgeExpired(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	cutoff := s.now().Add(-maxAge)
	for key, entry := range s.cache {
		if entry.storedAt.Before(cutoff) {
			delete(s.cache, key)
			purged++
		}
	}
	return purged
}

func names(attempts []models.ProviderAttempt) []string {
	out := make([]string, len(attempts))
	for i, a := range attempts {
		out[i] = a.Provider
	}
	return out
}

// Ensure Service implements QuoteService
var _ interfaces.QuoteService = (*Service)(nil)
