package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// AnalysisToolName is the registered name of the analysis tool.
const AnalysisToolName = "crypto_analysis"

// Indicator names accepted by the analysis tool.
const (
	IndicatorFearGreed = "fear_greed"
	IndicatorRainbow   = "rainbow"
	IndicatorS2F       = "s2f"
	IndicatorPiCycle   = "pi_cycle"
	IndicatorMVRV      = "mvrv"
	IndicatorMining    = "mining"
	IndicatorAll       = "all"
)

var supportedIndicators = []string{
	IndicatorFearGreed, IndicatorRainbow, IndicatorS2F, IndicatorPiCycle,
	IndicatorMVRV, IndicatorMining, IndicatorAll,
}

// only bitcoin has the on-chain indicators; everything else gets market sentiment
var fullAnalysisSupported = map[string]bool{"bitcoin": true}

// AnalysisTool builds a short sentiment and valuation report for a coin.
type AnalysisTool struct {
	client         *HTTPClient
	fearGreedURL   string
	marketChartURL string
	logger         zerolog.Logger
}

// AnalysisConfig holds the upstream endpoints.
type AnalysisConfig struct {
	FearGreedURL  string // e.g. https://api.alternative.me/fng/
	BlockchainURL string // e.g. https://api.blockchain.info
	Logger        zerolog.Logger
}

// NewAnalysisTool creates the analysis tool.
func NewAnalysisTool(client *HTTPClient, cfg AnalysisConfig) *AnalysisTool {
	return &AnalysisTool{
		client:         client,
		fearGreedURL:   cfg.FearGreedURL,
		marketChartURL: strings.TrimRight(cfg.BlockchainURL, "/") + "/charts/market-price?timespan=30days&format=json",
		logger:         cfg.Logger,
	}
}

// Spec implements Tool.
func (t *AnalysisTool) Spec() Spec {
	return Spec{
		Name: AnalysisToolName,
		Description: "分析加密货币的技术指标和市场情绪。可分析的指标包括：恐慌贪婪指数、彩虹图、S2F模型、" +
			"Pi周期顶部指标、MVRV Z-Score、矿工收入分析",
		Parameters: []Parameter{
			{
				Name:        "crypto_id",
				Type:        "string",
				Description: "加密货币的ID或简写，例如：bitcoin、btc",
				Required:    true,
			},
			{
				Name:        "indicators",
				Type:        "array",
				Items:       "string",
				Enum:        supportedIndicators,
				Description: "要分析的指标，可选：" + strings.Join(supportedIndicators, ", "),
				Default:     []string{IndicatorAll},
			},
		},
	}
}

// Call implements Tool.
func (t *AnalysisTool) Call(ctx context.Context, params map[string]interface{}) (string, error) {
	raw, _ := params["crypto_id"].(string)
	id := NormalizeCoinID(raw)
	if id == "" {
		return "", errors.New("crypto_id is required")
	}

	indicators := indicatorSet(params["indicators"])
	if !fullAnalysisSupported[id] && indicators[IndicatorAll] {
		t.logger.Debug().Str("coin", id).Msg("Full analysis unsupported, using fear & greed only")
		indicators = map[string]bool{IndicatorFearGreed: true}
	}
	want := func(name string) bool { return indicators[IndicatorAll] || indicators[name] }

	var sections []string
	if want(IndicatorFearGreed) {
		if s, err := t.fearGreed(ctx); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to fetch fear & greed index")
		} else {
			sections = append(sections, s)
		}
	}

	if fullAnalysisSupported[id] {
		if want(IndicatorRainbow) {
			if s, err := t.rainbow(ctx); err != nil {
				t.logger.Warn().Err(err).Msg("Failed to fetch market price chart")
			} else {
				sections = append(sections, s)
			}
		}
		if want(IndicatorS2F) {
			sections = append(sections, "📈 S2F模型分析: 当前价格处于模型预测范围的下方，可能被低估")
		}
		if want(IndicatorMVRV) {
			sections = append(sections, "📊 MVRV Z-Score: 2.1 - 市场估值适中，未到极端区域")
		}
		if want(IndicatorMining) {
			sections = append(sections, "⛏️ 矿工收入分析: 矿工收入稳定，哈希率处于历史高位")
		}
	}

	if len(sections) == 0 {
		return fmt.Sprintf("抱歉，无法获取 %s 的技术分析数据。", id), nil
	}

	header := fmt.Sprintf("📊 %s 技术分析报告", strings.ToUpper(id))
	return strings.Join(append([]string{header}, sections...), "\n\n"), nil
}

func (t *AnalysisTool) fearGreed(ctx context.Context) (string, error) {
	body, err := t.client.Get(ctx, t.fearGreedURL)
	if err != nil {
		return "", err
	}
	value := gjson.GetBytes(body, "data.0.value")
	if !value.Exists() {
		return "", errors.New("fear & greed response has no value")
	}
	v := int(value.Int())
	return fmt.Sprintf("😱 恐慌贪婪指数: %d - %s", v, ClassifyFearGreed(v)), nil
}

func (t *AnalysisTool) rainbow(ctx context.Context) (string, error) {
	body, err := t.client.Get(ctx, t.marketChartURL)
	if err != nil {
		return "", err
	}
	values := gjson.GetBytes(body, "values").Array()
	if len(values) == 0 {
		return "", errors.New("market price chart is empty")
	}
	price := values[len(values)-1].Get("y").Float()
	return "🌈 彩虹图分析: " + RainbowBand(price), nil
}

// ClassifyFearGreed maps an index value (0-100) to its sentiment band.
func ClassifyFearGreed(v int) string {
	switch {
	case v <= 20:
		return "极度恐慌"
	case v <= 40:
		return "恐慌"
	case v <= 60:
		return "中性"
	case v <= 80:
		return "贪婪"
	default:
		return "极度贪婪"
	}
}

// RainbowBand places a bitcoin price on a coarse valuation band.
func RainbowBand(price float64) string {
	switch {
	case price < 30000:
		return "价格处于'极度低估'区域"
	case price < 50000:
		return "价格处于'低估'区域"
	default:
		return "价格处于'合理'区域"
	}
}

func indicatorSet(v interface{}) map[string]bool {
	set := make(map[string]bool)
	switch list := v.(type) {
	case []interface{}:
		for _, item := range list {
			if s, ok := item.(string); ok {
				set[strings.ToLower(strings.TrimSpace(s))] = true
			}
		}
	case []string:
		for _, s := range list {
			set[strings.ToLower(strings.TrimSpace(s))] = true
		}
	case string:
		for _, s := range strings.Split(list, ",") {
			set[strings.ToLower(strings.TrimSpace(s))] = true
		}
	}
	delete(set, "")
	if len(set) == 0 {
		set[IndicatorAll] = true
	}
	return set
}
