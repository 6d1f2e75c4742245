package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. GROUPBOT_TELEGRAM_BOT_TOKEN.
const EnvPrefix = "GROUPBOT"

// envKeys are the scalar keys that may be set from the environment without a config file.
var envKeys = []string{
	"telegram.bot_token",
	"telegram.dedupe_ttl_seconds",
	"bot.response_probability",
	"bot.max_concurrency",
	"bot.mention_token",
	"memory.window_size",
	"memory.snapshot_path",
	"memory.snapshot_schedule",
	"memory.reset_schedule",
	"agent.max_iterations",
	"agent.max_retries",
	"agent.loop_timeout_seconds",
	"agent.retry_backoff_ms",
	"agent.apology",
	"agent.model",
	"agent.temperature",
	"agent.max_tokens",
	"emotion.enabled",
	"tools.http_timeout_seconds",
	"tools.requests_per_second",
	"logging.level",
	"logging.file",
	"logging.pretty",
	"metrics.enabled",
	"metrics.addr",
	"data_dir",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file over the defaults and applies environment overrides.
// A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to determine config path")
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	// lists and maps from the file replace the defaults instead of merging into them
	if v.IsSet("router.keywords") {
		cfg.Router.Keywords = nil
	}
	if v.IsSet("emotion.lexicon") {
		cfg.Emotion.Lexicon = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(configPath)
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "groupbot.log")
	}

	return cfg, nil
}

// Save writes cfg as JSON to the config path, creating its directory.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to determine config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("telegram", cfg.Telegram)
	v.Set("bot", cfg.Bot)
	v.Set("memory", cfg.Memory)
	v.Set("agent", cfg.Agent)
	v.Set("router", cfg.Router)
	v.Set("emotion", cfg.Emotion)
	v.Set("tools", cfg.Tools)
	v.Set("ai", cfg.AI)
	v.Set("logging", cfg.Logging)
	v.Set("metrics", cfg.Metrics)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path, defaulting to ~/.groupbot/groupbot.json.
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".groupbot", "groupbot.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
