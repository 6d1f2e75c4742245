package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harun/groupbot/pkg/agent"
	"github.com/harun/groupbot/pkg/emotion"
	"github.com/harun/groupbot/pkg/gate"
	"github.com/harun/groupbot/pkg/memory"
	"github.com/harun/groupbot/pkg/router"
	"github.com/harun/groupbot/pkg/tools"
)

// Config represents the main groupbot configuration
type Config struct {
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`
	Bot      BotConfig      `json:"bot" mapstructure:"bot"`
	Memory   MemoryConfig   `json:"memory" mapstructure:"memory"`
	Agent    AgentConfig    `json:"agent" mapstructure:"agent"`
	Router   RouterConfig   `json:"router" mapstructure:"router"`
	Emotion  EmotionConfig  `json:"emotion" mapstructure:"emotion"`
	Tools    ToolsConfig    `json:"tools" mapstructure:"tools"`
	AI       AIConfig       `json:"ai" mapstructure:"ai"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken         string  `json:"bot_token" mapstructure:"bot_token"`
	Allowlist        []int64 `json:"allowlist" mapstructure:"allowlist"` // empty allows every chat
	DedupeTTLSeconds int     `json:"dedupe_ttl_seconds" mapstructure:"dedupe_ttl_seconds"`
}

// BotConfig holds the reply gating settings
type BotConfig struct {
	ResponseProbability float64 `json:"response_probability" mapstructure:"response_probability"`
	MaxConcurrency      int     `json:"max_concurrency" mapstructure:"max_concurrency"`
	MentionToken        string  `json:"mention_token" mapstructure:"mention_token"` // defaults to @<bot username>
}

// MemoryConfig holds group memory settings
type MemoryConfig struct {
	WindowSize       int    `json:"window_size" mapstructure:"window_size"`
	SnapshotPath     string `json:"snapshot_path" mapstructure:"snapshot_path"` // empty disables persistence
	SnapshotSchedule string `json:"snapshot_schedule" mapstructure:"snapshot_schedule"`
	ResetSchedule    string `json:"reset_schedule" mapstructure:"reset_schedule"` // empty disables
}

// AgentConfig holds executor and model settings
type AgentConfig struct {
	MaxIterations      int     `json:"max_iterations" mapstructure:"max_iterations"`
	MaxRetries         int     `json:"max_retries" mapstructure:"max_retries"`
	LoopTimeoutSeconds int     `json:"loop_timeout_seconds" mapstructure:"loop_timeout_seconds"`
	RetryBackoffMs     int     `json:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	Apology            string  `json:"apology" mapstructure:"apology"`
	Model              string  `json:"model" mapstructure:"model"`
	Temperature        float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens          int     `json:"max_tokens" mapstructure:"max_tokens"`
	SystemPrompt       string  `json:"system_prompt" mapstructure:"system_prompt"`
	DirectPrompt       string  `json:"direct_prompt" mapstructure:"direct_prompt"`
	NativeTools        bool    `json:"native_tools" mapstructure:"native_tools"`
}

// RouterConfig holds the tool routing keywords
type RouterConfig struct {
	Keywords []string `json:"keywords" mapstructure:"keywords"`
}

// EmotionConfig holds emotion tagging settings
type EmotionConfig struct {
	Enabled bool                `json:"enabled" mapstructure:"enabled"`
	Lexicon map[string][]string `json:"lexicon" mapstructure:"lexicon"`
}

// ToolsConfig holds crypto tool endpoints and limits
type ToolsConfig struct {
	HTTPTimeoutSeconds int     `json:"http_timeout_seconds" mapstructure:"http_timeout_seconds"`
	CoinGeckoBaseURL   string  `json:"coingecko_base_url" mapstructure:"coingecko_base_url"`
	FearGreedURL       string  `json:"fear_greed_url" mapstructure:"fear_greed_url"`
	BlockchainBaseURL  string  `json:"blockchain_base_url" mapstructure:"blockchain_base_url"`
	RequestsPerSecond  float64 `json:"requests_per_second" mapstructure:"requests_per_second"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai, gemini
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url,omitempty" mapstructure:"base_url"`
	Model    string `json:"model,omitempty" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
}

// MetricsConfig holds the prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			DedupeTTLSeconds: 300,
		},
		Bot: BotConfig{
			ResponseProbability: 0.3,
			MaxConcurrency:      16,
		},
		Memory: MemoryConfig{
			WindowSize:       memory.DefaultWindowSize,
			SnapshotSchedule: "@every 5m",
		},
		Agent: AgentConfig{
			MaxIterations:      2,
			MaxRetries:         2,
			LoopTimeoutSeconds: 10,
			Apology:            agent.DefaultApology,
			Model:              "gpt-4o-mini",
			Temperature:        0.7,
			MaxTokens:          2048,
		},
		Router: RouterConfig{
			Keywords: router.DefaultKeywords(),
		},
		Emotion: EmotionConfig{
			Enabled: true,
			Lexicon: emotion.DefaultLexicon(),
		},
		Tools: ToolsConfig{
			HTTPTimeoutSeconds: 10,
			CoinGeckoBaseURL:   tools.DefaultCoinGeckoURL,
			FearGreedURL:       tools.DefaultFearGreedURL,
			BlockchainBaseURL:  tools.DefaultBlockchainURL,
			RequestsPerSecond:  5,
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// LoopTimeout returns the tool loop budget as a duration.
func (c *Config) LoopTimeout() time.Duration {
	return time.Duration(c.Agent.LoopTimeoutSeconds) * time.Second
}

// RetryBackoff returns the base retry wait as a duration.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Agent.RetryBackoffMs) * time.Millisecond
}

// DedupeTTL returns how long a processed update id is remembered.
func (c *Config) DedupeTTL() time.Duration {
	return time.Duration(c.Telegram.DedupeTTLSeconds) * time.Second
}

// HTTPTimeout returns the tool HTTP timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Tools.HTTPTimeoutSeconds) * time.Second
}

// AuthProfiles converts the configured profiles for the provider failover chain.
func (c *Config) AuthProfiles() []agent.AuthProfile {
	out := make([]agent.AuthProfile, 0, len(c.AI.Profiles))
	for _, p := range c.AI.Profiles {
		out = append(out, agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			BaseURL:  p.BaseURL,
			Model:    p.Model,
			Priority: p.Priority,
		})
	}
	return out
}

// Validate checks the settings the daemon cannot start without.
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if !isSupportedProvider(profile.Provider) {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: %s)", profile.ID, profile.Provider, strings.Join(agent.SupportedProviders(), ", "))
		}
	}

	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token is required")
	}
	if err := gate.ValidateProbability(c.Bot.ResponseProbability); err != nil {
		return fmt.Errorf("bot.response_probability: %w", err)
	}
	if c.Bot.MaxConcurrency < 1 {
		return fmt.Errorf("bot.max_concurrency must be at least 1, got %d", c.Bot.MaxConcurrency)
	}
	if c.Memory.WindowSize < 1 {
		return fmt.Errorf("memory.window_size must be at least 1, got %d", c.Memory.WindowSize)
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.MaxRetries < 0 {
		return fmt.Errorf("agent.max_retries must be >= 0, got %d", c.Agent.MaxRetries)
	}
	if strings.TrimSpace(c.Agent.Apology) == "" {
		return fmt.Errorf("agent.apology cannot be empty")
	}

	return nil
}

func isSupportedProvider(name string) bool {
	for _, p := range agent.SupportedProviders() {
		if p == name {
			return true
		}
	}
	return false
}
