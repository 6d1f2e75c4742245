package tools

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Default upstream endpoints.
const (
	DefaultCoinGeckoURL  = "https://api.coingecko.com/api/v3"
	DefaultFearGreedURL  = "https://api.alternative.me/fng/"
	DefaultBlockchainURL = "https://api.blockchain.info"
)

// CryptoConfig configures the crypto tool set.
type CryptoConfig struct {
	CoinGeckoURL      string
	FearGreedURL      string
	BlockchainURL     string
	HTTPTimeout       time.Duration
	RequestsPerSecond float64
	Logger            zerolog.Logger
}

func (c CryptoConfig) withDefaults() CryptoConfig {
	if c.CoinGeckoURL == "" {
		c.CoinGeckoURL = DefaultCoinGeckoURL
	}
	if c.FearGreedURL == "" {
		c.FearGreedURL = DefaultFearGreedURL
	}
	if c.BlockchainURL == "" {
		c.BlockchainURL = DefaultBlockchainURL
	}
	return c
}

// RegisterCrypto registers crypto_price and crypto_analysis, sharing one rate-limited client.
func RegisterCrypto(r *Registry, cfg CryptoConfig) error {
	cfg = cfg.withDefaults()
	client := NewHTTPClient(cfg.HTTPTimeout, cfg.RequestsPerSecond)

	if err := r.Register(NewPriceTool(client, cfg.CoinGeckoURL)); err != nil {
		return fmt.Errorf("register %s: %w", PriceToolName, err)
	}
	analysis := NewAnalysisTool(client, AnalysisConfig{
		FearGreedURL:  cfg.FearGreedURL,
		BlockchainURL: cfg.BlockchainURL,
		Logger:        cfg.Logger,
	})
	if err := r.Register(analysis); err != nil {
		return fmt.Errorf("register %s: %w", AnalysisToolName, err)
	}
	return nil
}
