// Package config resolves runtime settings from the process environment.
// A .env file, when present, is merged in by the command entrypoint before
// FromEnv runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/maplemetrics/finagent/core"
	"github.com/maplemetrics/finagent/mcp"
)

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config is the resolved runtime configuration.
type Config struct {
	// Model selection.
	ModelProvider string // "openai" or "anthropic"
	ModelID       string
	OpenAIAPIKey  string
	AnthropicKey  string

	// Tool transports.
	EnableChart    bool
	EnableYFinance bool
	EnableTavily   bool
	ChartURL       string
	YFinanceCmd    string
	TavilyURL      string
	TavilyAPIKey   string
	ToolTimeout    time.Duration

	// Context window management.
	MaxContextTokens int
	MaxSummaryTokens int

	// Reasoning loop.
	MaxIterations int
	ModelTimeout  time.Duration

	// HTTP server.
	HTTPAddr string

	// Logging.
	LogLevel  string
	LogFormat string // "json" or "console"
}

// FromEnv builds a Config from environment variables, applying defaults for
// everything a financial analysis deployment can reasonably assume.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ModelProvider:    getEnv("MODEL_PROVIDER", ProviderOpenAI),
		ModelID:          os.Getenv("MODEL_ID"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:     os.Getenv("ANTHROPIC_API_KEY"),
		EnableChart:      getEnvBool("ENABLE_CHART", true),
		EnableYFinance:   getEnvBool("ENABLE_YFINANCE", true),
		EnableTavily:     getEnvBool("ENABLE_TAVILY", true),
		ChartURL:         getEnv("CHART_URL", "http://localhost:1122/mcp"),
		YFinanceCmd:      getEnv("YFINANCE_COMMAND", "mcp-yahoo-finance"),
		TavilyURL:        getEnv("TAVILY_URL", "https://mcp.tavily.com/mcp"),
		TavilyAPIKey:     os.Getenv("TAVILY_API_KEY"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.MaxContextTokens, err = getEnvInt("MAX_CONTEXT_TOKENS", 2000); err != nil {
		return nil, err
	}
	if cfg.MaxSummaryTokens, err = getEnvInt("MAX_SUMMARY_TOKENS", 1000); err != nil {
		return nil, err
	}
	if cfg.MaxIterations, err = getEnvInt("MAX_ITERATIONS", 25); err != nil {
		return nil, err
	}
	if cfg.ToolTimeout, err = getEnvDuration("TOOL_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ModelTimeout, err = getEnvDuration("MODEL_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field constraints FromEnv cannot express.
func (c *Config) Validate() error {
	switch c.ModelProvider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return core.NewConfigurationError("MODEL_PROVIDER", "unknown provider %q", c.ModelProvider)
	}
	if c.MaxSummaryTokens >= c.MaxContextTokens {
		return core.NewConfigurationError("MAX_SUMMARY_TOKENS",
			"summary budget %d must be below the context budget %d", c.MaxSummaryTokens, c.MaxContextTokens)
	}
	if c.MaxIterations < 1 {
		return core.NewConfigurationError("MAX_ITERATIONS", "must be at least 1, got %d", c.MaxIterations)
	}
	if c.EnableTavily && c.TavilyAPIKey == "" {
		return core.NewConfigurationError("TAVILY_API_KEY", "required when ENABLE_TAVILY is set")
	}
	return nil
}

// ToServerConfigs maps the enabled tool transports to MCP server configs.
func (c *Config) ToServerConfigs() []mcp.ServerConfig {
	var cfgs []mcp.ServerConfig
	if c.EnableChart {
		cfgs = append(cfgs, mcp.ServerConfig{
			ID:        "chart",
			Transport: mcp.TransportHTTP,
			URL:       c.ChartURL,
			Timeout:   c.ToolTimeout,
		})
	}
	if c.EnableYFinance {
		cfgs = append(cfgs, mcp.ServerConfig{
			ID:        "yfinance",
			Transport: mcp.TransportStdio,
			Command:   c.YFinanceCmd,
			Timeout:   c.ToolTimeout,
		})
	}
	if c.EnableTavily {
		cfgs = append(cfgs, mcp.ServerConfig{
			ID:        "tavily",
			Transport: mcp.TransportHTTP,
			URL:       c.TavilyURL,
			Headers:   map[string]string{"Authorization": "Bearer " + c.TavilyAPIKey},
			Timeout:   c.ToolTimeout,
		})
	}
	return cfgs
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}
