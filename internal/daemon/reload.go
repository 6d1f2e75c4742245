package daemon

import (
	"github.com/harun/groupbot/internal/config"
)

// applyConfig applies the hot-reloadable settings of a reloaded config.
// Everything else needs a restart.
func (d *Daemon) applyConfig(cfg *config.Config) {
	logger := d.logger.Component("config")

	if err := cfg.Validate(); err != nil {
		logger.Warn().Err(err).Msg("Reloaded config is invalid, keeping the running settings")
		return
	}

	if err := d.pipeline.UpdateSettings(cfg.Bot.ResponseProbability, d.mentionToken(cfg), cfg.Emotion.Enabled); err != nil {
		logger.Warn().Err(err).Msg("Rejected reloaded bot settings")
		return
	}
	d.pipeline.SetAllowlist(cfg.Telegram.Allowlist)
	d.router.SetKeywords(cfg.Router.Keywords)
	d.tagger.SetLexicon(cfg.Emotion.Lexicon)
	if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
		logger.Warn().Err(err).Msg("Ignoring invalid log level")
	}

	d.mu.Lock()
	d.config = cfg
	d.mu.Unlock()

	logger.Info().
		Float64("response_probability", cfg.Bot.ResponseProbability).
		Int("keywords", len(cfg.Router.Keywords)).
		Str("log_level", cfg.Logging.Level).
		Msg("Applied reloaded settings")
}
