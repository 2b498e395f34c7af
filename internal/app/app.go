// Package app wires configuration, clients, storage, and services into one
// runnable daemon core.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bobmcallan/filingwatch/internal/clients/dispatch"
	"github.com/bobmcallan/filingwatch/internal/clients/edgar"
	"github.com/bobmcallan/filingwatch/internal/clients/gemini"
	"github.com/bobmcallan/filingwatch/internal/clients/quotes"
	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/services/alert"
	"github.com/bobmcallan/filingwatch/internal/services/analyze"
	"github.com/bobmcallan/filingwatch/internal/services/diffengine"
	"github.com/bobmcallan/filingwatch/internal/services/extract"
	"github.com/bobmcallan/filingwatch/internal/services/ingest"
	"github.com/bobmcallan/filingwatch/internal/services/jobmanager"
	"github.com/bobmcallan/filingwatch/internal/services/quote"
	"github.com/bobmcallan/filingwatch/internal/services/watchlist"
	surrealstore "github.com/bobmcallan/filingwatch/internal/storage/surrealdb"
)

// App holds all initialized clients, services, and background runners.
type App struct {
	Config           *common.Config
	Logger           *common.Logger
	Storage          interfaces.StorageManager
	EdgarClient      interfaces.EdgarClient
	GeminiClient     interfaces.SummaryClient
	QuoteService     interfaces.QuoteService
	IngestService    interfaces.IngestService
	AlertService     interfaces.AlertService
	WatchlistService interfaces.WatchlistService
	JobManager       *jobmanager.Manager
	Poller           *jobmanager.Poller
	StartupTime      time.Time
}

// NewApp initializes the full daemon: config, logger, storage, clients,
// services, and the job manager with all handlers registered. Background
// loops do not run until Start.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	if configPath == "" {
		configPath = os.Getenv("FILINGWATCH_CONFIG")
	}
	if configPath == "" {
		configPath = "config/filingwatch.toml"
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	storageManager, err := surrealstore.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	edgarClient := edgar.NewClient(
		edgar.WithBaseURL(config.Clients.Edgar.BaseURL),
		edgar.WithUserAgent(config.Clients.Edgar.UserAgent),
		edgar.WithRateLimit(config.Clients.Edgar.RateLimit),
		edgar.WithTimeout(config.Clients.Edgar.GetTimeout()),
		edgar.WithLogger(logger),
	)

	var geminiClient interfaces.SummaryClient
	if key := config.Clients.Gemini.APIKey; key != "" {
		client, err := gemini.NewClient(context.Background(), key,
			gemini.WithModel(config.Clients.Gemini.Model),
			gemini.WithLogger(logger),
		)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize Gemini client - filings will be stored without summaries")
		} else {
			geminiClient = client
		}
	}

	quoteService := buildQuoteService(config, logger)

	jobManager := jobmanager.NewManager(storageManager, logger, config.JobManager)

	ingestOpts := []ingest.Option{ingest.WithLogger(logger)}
	if geminiClient != nil {
		ingestOpts = append(ingestOpts, ingest.WithSummarizer(geminiClient))
	}
	extractor := extract.NewService(logger)
	differ := diffengine.NewService(analyze.NewService())
	ingestService := ingest.NewService(storageManager, edgarClient, extractor, differ, jobManager, ingestOpts...)

	dispatcher := buildDispatcher(config, logger)

	alertService := alert.NewService(storageManager, jobManager, dispatcher,
		alert.WithQuotes(quoteService),
		alert.WithLogger(logger),
	)

	watchlistService := watchlist.NewService(storageManager, edgarClient, logger)

	ingestService.RegisterHandlers(jobManager)
	alertService.RegisterHandlers(jobManager)
	registerCleanup(jobManager, storageManager, quoteService, config.JobManager, logger)

	poller := jobmanager.NewPoller(jobManager, storageManager, logger, config.Poller, config.JobManager)

	a := &App{
		Config:           config,
		Logger:           logger,
		Storage:          storageManager,
		EdgarClient:      edgarClient,
		GeminiClient:     geminiClient,
		QuoteService:     quoteService,
		IngestService:    ingestService,
		AlertService:     alertService,
		WatchlistService: watchlistService,
		JobManager:       jobManager,
		Poller:           poller,
		StartupTime:      startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")

	return a, nil
}

// Start launches the worker pool and the polling scheduler.
func (a *App) Start(ctx context.Context) error {
	if err := a.JobManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job manager: %w", err)
	}
	if err := a.Poller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}
	return nil
}

// Close shuts down in reverse start order: poller, job manager (draining
// in-flight jobs within the shutdown grace), then storage.
func (a *App) Close() {
	if a.Poller != nil {
		a.Poller.Stop()
		a.Poller = nil
	}
	if a.JobManager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.JobManager.GetShutdownGrace())
		if err := a.JobManager.Stop(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("Job manager shutdown failed")
		}
		cancel()
		a.JobManager = nil
	}
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
}

// buildQuoteService assembles the provider chain from config order. Providers
// requiring an API key are skipped when none is configured.
func buildQuoteService(config *common.Config, logger *common.Logger) *quote.Service {
	qc := config.Clients.Quotes

	var providers []interfaces.QuoteProvider
	for _, name := range qc.Providers {
		key := qc.Keys[name]
		opts := []quotes.Option{quotes.WithLogger(logger)}

		switch name {
		case "alpha":
			if key == "" {
				logger.Warn().Str("provider", name).Msg("Quote provider skipped - no API key")
				continue
			}
			providers = append(providers, quotes.NewAlpha(key, opts...))
		case "finnhub":
			if key == "" {
				logger.Warn().Str("provider", name).Msg("Quote provider skipped - no API key")
				continue
			}
			providers = append(providers, quotes.NewFinnhub(key, opts...))
		case "yahoo":
			providers = append(providers, quotes.NewYahoo(opts...))
		case "iex":
			if key == "" {
				logger.Warn().Str("provider", name).Msg("Quote provider skipped - no API key")
				continue
			}
			providers = append(providers, quotes.NewIEX(key, opts...))
		default:
			logger.Warn().Str("provider", name).Msg("Unknown quote provider in config")
		}
	}

	limiter := common.NewSlidingWindow(5, time.Second)
	for name, limits := range qc.Limits {
		limiter.SetLimit("quote:"+name, limits.RateLimit, limits.GetWindow())
	}

	return quote.NewService(providers, limiter,
		quote.WithCacheTTL(qc.GetCacheTTL()),
		quote.WithProviderTimeout(qc.GetProviderTimeout()),
		quote.WithLogger(logger),
	)
}

// buildDispatcher returns the webhook dispatcher when an endpoint is
// configured, else the log dispatcher.
func buildDispatcher(config *common.Config, logger *common.Logger) interfaces.AlertDispatcher {
	if url := config.Alerts.WebhookURL; url != "" {
		return dispatch.NewWebhook(url,
			dispatch.WithTimeout(config.Alerts.GetWebhookTimeout()),
			dispatch.WithLogger(logger),
		)
	}
	logger.Info().Msg("No alert webhook configured - deliveries go to the log dispatcher")
	return dispatch.NewLogDispatcher(logger)
}
