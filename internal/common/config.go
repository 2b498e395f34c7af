// Package common provides shared utilities for FilingWatch
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for FilingWatch
type Config struct {
	Environment string           `toml:"environment"`
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Clients     ClientsConfig    `toml:"clients"`
	JobManager  JobManagerConfig `toml:"jobmanager"`
	Poller      PollerConfig     `toml:"poller"`
	Alerts      AlertsConfig     `toml:"alerts"`
	Logging     LoggingConfig    `toml:"logging"`
}

// ServerConfig holds daemon listen configuration (job-event WebSocket endpoint).
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds SurrealDB connection settings.
type StorageConfig struct {
	Address   string `toml:"address"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	DataPath  string `toml:"data_path"` // raw file output (sparkline charts)
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Edgar  EdgarConfig  `toml:"edgar"`
	Quotes QuotesConfig `toml:"quotes"`
	Gemini GeminiConfig `toml:"gemini"`
}

// EdgarConfig holds SEC EDGAR client configuration.
// UserAgent is mandatory per SEC fair-access guidelines and should identify
// the application and a contact email.
type EdgarConfig struct {
	BaseURL   string `toml:"base_url"`
	UserAgent string `toml:"user_agent"`
	RateLimit int    `toml:"rate_limit"` // requests per second, global bucket
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *EdgarConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// QuotesConfig holds quote provider chain configuration.
type QuotesConfig struct {
	Providers       []string                  `toml:"providers"` // chain order
	CacheTTL        string                    `toml:"cache_ttl"`
	ProviderTimeout string                    `toml:"provider_timeout"`
	Keys            map[string]string         `toml:"keys"` // provider -> api key
	Limits          map[string]ProviderLimits `toml:"limits"`
}

// ProviderLimits holds per-provider rate limiting.
type ProviderLimits struct {
	RateLimit int    `toml:"rate_limit"` // requests per window
	Window    string `toml:"window"`
}

// GetWindow parses the limit window, defaulting to one second.
func (p *ProviderLimits) GetWindow() time.Duration {
	d, err := time.ParseDuration(p.Window)
	if err != nil {
		return time.Second
	}
	return d
}

// GetCacheTTL parses the quote cache TTL.
func (c *QuotesConfig) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetProviderTimeout parses the per-provider attempt timeout.
func (c *QuotesConfig) GetProviderTimeout() time.Duration {
	d, err := time.ParseDuration(c.ProviderTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GeminiConfig holds the optional filing-summary generator configuration.
type GeminiConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// JobManagerConfig holds worker pool configuration.
type JobManagerConfig struct {
	MaxConcurrent    int    `toml:"max_concurrent"`
	MaxRetries       int    `toml:"max_retries"`
	Heartbeat        string `toml:"heartbeat"`
	ShutdownGrace    string `toml:"shutdown_grace"`
	PurgeAfter       string `toml:"purge_after"`
	ReaperInterval   string `toml:"reaper_interval"`
	CleanupInterval  string `toml:"cleanup_interval"`
}

// GetMaxConcurrent returns the worker count, defaulting to 3.
func (c *JobManagerConfig) GetMaxConcurrent() int {
	if c.MaxConcurrent <= 0 {
		return 3
	}
	return c.MaxConcurrent
}

// GetMaxRetries returns the retry budget, defaulting to 3.
func (c *JobManagerConfig) GetMaxRetries() int {
	if c.MaxRetries <= 0 {
		return 3
	}
	return c.MaxRetries
}

// GetHeartbeat parses the worker heartbeat interval.
func (c *JobManagerConfig) GetHeartbeat() time.Duration {
	d, err := time.ParseDuration(c.Heartbeat)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetShutdownGrace parses the stop() drain deadline.
func (c *JobManagerConfig) GetShutdownGrace() time.Duration {
	d, err := time.ParseDuration(c.ShutdownGrace)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetPurgeAfter parses the terminal-job retention period.
func (c *JobManagerConfig) GetPurgeAfter() time.Duration {
	d, err := time.ParseDuration(c.PurgeAfter)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// GetReaperInterval parses the stuck-job reaper interval.
func (c *JobManagerConfig) GetReaperInterval() time.Duration {
	d, err := time.ParseDuration(c.ReaperInterval)
	if err != nil {
		return time.Minute
	}
	return d
}

// GetCleanupInterval parses the CLEANUP job scheduling interval.
func (c *JobManagerConfig) GetCleanupInterval() time.Duration {
	d, err := time.ParseDuration(c.CleanupInterval)
	if err != nil {
		return time.Hour
	}
	return d
}

// PollerConfig holds the EDGAR poll scheduler configuration.
type PollerConfig struct {
	Interval string `toml:"interval"`
}

// GetInterval parses the poll interval, defaulting to 15 minutes.
func (c *PollerConfig) GetInterval() time.Duration {
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

// AlertsConfig holds alert fan-out configuration. An empty WebhookURL routes
// deliveries to the log dispatcher.
type AlertsConfig struct {
	MaterialityThreshold float64 `toml:"materiality_threshold"`
	MaxDeliveryRetries   int     `toml:"max_delivery_retries"`
	WebhookURL           string  `toml:"webhook_url"`
	WebhookTimeout       string  `toml:"webhook_timeout"`
}

// GetWebhookTimeout parses the dispatch timeout, defaulting to 10 seconds.
func (c *AlertsConfig) GetWebhookTimeout() time.Duration {
	d, err := time.ParseDuration(c.WebhookTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetMaterialityThreshold returns the fan-out threshold, defaulting to 0.7.
func (c *AlertsConfig) GetMaterialityThreshold() float64 {
	if c.MaterialityThreshold <= 0 || c.MaterialityThreshold > 1 {
		return 0.7
	}
	return c.MaterialityThreshold
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Address:   "ws://localhost:8000/rpc",
			Username:  "root",
			Password:  "root",
			Namespace: "filingwatch",
			Database:  "filingwatch",
			DataPath:  "data",
		},
		Clients: ClientsConfig{
			Edgar: EdgarConfig{
				BaseURL:   "https://data.sec.gov",
				UserAgent: "FilingWatch/1.0 (ops@filingwatch.dev)",
				RateLimit: 10,
				Timeout:   "30s",
			},
			Quotes: QuotesConfig{
				Providers:       []string{"alpha", "finnhub", "yahoo", "iex"},
				CacheTTL:        "60s",
				ProviderTimeout: "5s",
			},
			Gemini: GeminiConfig{
				Model: "gemini-2.0-flash",
			},
		},
		JobManager: JobManagerConfig{
			MaxConcurrent:   3,
			MaxRetries:      3,
			Heartbeat:       "30s",
			ShutdownGrace:   "30s",
			PurgeAfter:      "24h",
			ReaperInterval:  "1m",
			CleanupInterval: "1h",
		},
		Poller: PollerConfig{
			Interval: "15m",
		},
		Alerts: AlertsConfig{
			MaterialityThreshold: 0.7,
			MaxDeliveryRetries:   3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FILINGWATCH_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("FILINGWATCH_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("FILINGWATCH_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("FILINGWATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if addr := os.Getenv("FILINGWATCH_DB_ADDRESS"); addr != "" {
		config.Storage.Address = addr
	}
	if user := os.Getenv("FILINGWATCH_DB_USERNAME"); user != "" {
		config.Storage.Username = user
	}
	if pass := os.Getenv("FILINGWATCH_DB_PASSWORD"); pass != "" {
		config.Storage.Password = pass
	}

	if ua := os.Getenv("FILINGWATCH_EDGAR_USER_AGENT"); ua != "" {
		config.Clients.Edgar.UserAgent = ua
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Clients.Gemini.APIKey = key
	}

	if url := os.Getenv("FILINGWATCH_ALERT_WEBHOOK"); url != "" {
		config.Alerts.WebhookURL = url
	}

	// Provider keys: FILINGWATCH_QUOTE_KEY_ALPHA etc.
	for _, provider := range config.Clients.Quotes.Providers {
		envName := "FILINGWATCH_QUOTE_KEY_" + strings.ToUpper(provider)
		if key := os.Getenv(envName); key != "" {
			if config.Clients.Quotes.Keys == nil {
				config.Clients.Quotes.Keys = make(map[string]string)
			}
			config.Clients.Quotes.Keys[provider] = key
		}
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
