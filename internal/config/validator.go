package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/harun/groupbot/pkg/gate"
)

var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "gemini":
		if !strings.HasPrefix(key, "AIza") {
			return fmt.Errorf("invalid Gemini API key format (should start with AIza)")
		}
	default:
		return fmt.Errorf("unsupported provider: %s", provider)
	}

	return nil
}

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	// <bot_id>:<secret>
	if !telegramTokenPattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSchedule checks a cron spec. Empty means disabled.
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateConfig reports every problem instead of stopping at the first.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if len(cfg.AI.Profiles) == 0 {
		errors = append(errors, fmt.Errorf("no AI profiles configured"))
	}
	seen := make(map[string]bool)
	for i, profile := range cfg.AI.Profiles {
		if profile.ID != "" && seen[profile.ID] {
			errors = append(errors, fmt.Errorf("AI profile %d: duplicate id %s", i, profile.ID))
		}
		seen[profile.ID] = true
		if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
			errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
		}
	}

	if err := v.ValidateTelegramToken(cfg.Telegram.BotToken); err != nil {
		errors = append(errors, err)
	}
	if cfg.Telegram.DedupeTTLSeconds < 0 {
		errors = append(errors, fmt.Errorf("telegram dedupe_ttl_seconds must be >= 0"))
	}

	if err := gate.ValidateProbability(cfg.Bot.ResponseProbability); err != nil {
		errors = append(errors, fmt.Errorf("bot.response_probability: %w", err))
	}
	if cfg.Bot.MaxConcurrency < 1 {
		errors = append(errors, fmt.Errorf("bot.max_concurrency must be >= 1"))
	}
	if cfg.Bot.MentionToken != "" && !strings.HasPrefix(cfg.Bot.MentionToken, "@") {
		errors = append(errors, fmt.Errorf("bot.mention_token must start with @"))
	}

	if cfg.Memory.WindowSize < 1 {
		errors = append(errors, fmt.Errorf("memory.window_size must be >= 1"))
	}
	if err := v.ValidateSchedule(cfg.Memory.SnapshotSchedule); err != nil {
		errors = append(errors, fmt.Errorf("memory.snapshot_schedule: %w", err))
	}
	if err := v.ValidateSchedule(cfg.Memory.ResetSchedule); err != nil {
		errors = append(errors, fmt.Errorf("memory.reset_schedule: %w", err))
	}

	if cfg.Agent.MaxIterations < 1 {
		errors = append(errors, fmt.Errorf("agent.max_iterations must be >= 1"))
	}
	if cfg.Agent.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("agent.max_retries must be >= 0"))
	}
	if cfg.Agent.LoopTimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("agent.loop_timeout_seconds must be >= 0"))
	}
	if cfg.Agent.RetryBackoffMs < 0 {
		errors = append(errors, fmt.Errorf("agent.retry_backoff_ms must be >= 0"))
	}
	if strings.TrimSpace(cfg.Agent.Apology) == "" {
		errors = append(errors, fmt.Errorf("agent.apology cannot be empty"))
	}
	if err := v.ValidateTemperature(cfg.Agent.Temperature); err != nil {
		errors = append(errors, fmt.Errorf("agent: %w", err))
	}
	if cfg.Agent.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.Agent.MaxTokens); err != nil {
			errors = append(errors, fmt.Errorf("agent: %w", err))
		}
	}

	if len(cfg.Router.Keywords) == 0 {
		errors = append(errors, fmt.Errorf("router.keywords is empty: every message would be answered directly"))
	}

	if cfg.Tools.HTTPTimeoutSeconds < 1 {
		errors = append(errors, fmt.Errorf("tools.http_timeout_seconds must be >= 1"))
	}
	if cfg.Tools.RequestsPerSecond < 0 {
		errors = append(errors, fmt.Errorf("tools.requests_per_second must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errors = append(errors, fmt.Errorf("metrics.addr is required when metrics are enabled"))
	}

	return errors
}
