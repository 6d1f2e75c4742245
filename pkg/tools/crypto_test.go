package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type marketServer struct {
	*httptest.Server
	priceStatus atomic.Int32
	fngStatus   atomic.Int32
	chartStatus atomic.Int32
	priceHits   atomic.Int32
}

func newMarketServer(t *testing.T) *marketServer {
	t.Helper()
	ms := &marketServer{}
	ms.priceStatus.Store(http.StatusOK)
	ms.fngStatus.Store(http.StatusOK)
	ms.chartStatus.Store(http.StatusOK)

	mux := http.NewServeMux()
	mux.HandleFunc("/simple/price", func(w http.ResponseWriter, r *http.Request) {
		ms.priceHits.Add(1)
		if status := int(ms.priceStatus.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		switch r.URL.Query().Get("ids") {
		case "bitcoin":
			w.Write([]byte(`{"bitcoin":{"usd":67123.456}}`))
		case "usd-coin":
			w.Write([]byte(`{"usd-coin":{"usd":1.0001}}`))
		default:
			w.Write([]byte(`{}`))
		}
	})
	mux.HandleFunc("/fng/", func(w http.ResponseWriter, r *http.Request) {
		if status := int(ms.fngStatus.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Write([]byte(`{"name":"Fear and Greed Index","data":[{"value":"72","value_classification":"Greed"}]}`))
	})
	mux.HandleFunc("/charts/market-price", func(w http.ResponseWriter, r *http.Request) {
		if status := int(ms.chartStatus.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		assert.Equal(t, "30days", r.URL.Query().Get("timespan"))
		w.Write([]byte(`{"values":[{"x":1,"y":25000},{"x":2,"y":42000.5}]}`))
	})

	ms.Server = httptest.NewServer(mux)
	t.Cleanup(ms.Close)
	return ms
}

func newCryptoRegistry(t *testing.T, ms *marketServer) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, RegisterCrypto(r, CryptoConfig{
		CoinGeckoURL:  ms.URL,
		FearGreedURL:  ms.URL + "/fng/",
		BlockchainURL: ms.URL,
		HTTPTimeout:   2 * time.Second,
		Logger:        zerolog.Nop(),
	}))
	return r
}

func TestRegisterCrypto(t *testing.T) {
	r := newCryptoRegistry(t, newMarketServer(t))
	assert.Equal(t, []string{AnalysisToolName, PriceToolName}, r.Names())

	assert.Error(t, RegisterCrypto(r, CryptoConfig{}), "second registration must conflict")
}

func TestPriceTool(t *testing.T) {
	ctx := context.Background()
	ms := newMarketServer(t)
	r := newCryptoRegistry(t, ms)

	t.Run("ticker is normalized and price formatted", func(t *testing.T) {
		res := r.Execute(ctx, PriceToolName, map[string]interface{}{"crypto_id": " BTC "})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "BITCOIN 当前价格: $67,123.46 USD", res.Output)
	})

	t.Run("hyphenated id", func(t *testing.T) {
		res := r.Execute(ctx, PriceToolName, map[string]interface{}{"crypto_id": "usdc"})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "USD-COIN 当前价格: $1.00 USD", res.Output)
	})

	t.Run("unknown coin", func(t *testing.T) {
		res := r.Execute(ctx, PriceToolName, map[string]interface{}{"crypto_id": "notacoin"})
		require.True(t, res.Success)
		assert.Equal(t, "找不到 notacoin 的价格信息", res.Output)
	})

	t.Run("invalid id is rejected before any request", func(t *testing.T) {
		before := ms.priceHits.Load()
		res := r.Execute(ctx, PriceToolName, map[string]interface{}{"crypto_id": "bit coin/../x"})
		assert.False(t, res.Success)
		assert.Equal(t, before, ms.priceHits.Load())
	})

	t.Run("upstream error status", func(t *testing.T) {
		ms.priceStatus.Store(http.StatusTooManyRequests)
		defer ms.priceStatus.Store(http.StatusOK)

		res := r.Execute(ctx, PriceToolName, map[string]interface{}{"crypto_id": "btc"})
		assert.False(t, res.Success)
		assert.Equal(t, "tool error: 获取价格时出错: 429", res.Observation())
	})
}

func TestAnalysisTool(t *testing.T) {
	ctx := context.Background()

	t.Run("bitcoin full report", func(t *testing.T) {
		r := newCryptoRegistry(t, newMarketServer(t))
		res := r.Execute(ctx, AnalysisToolName, map[string]interface{}{"crypto_id": "btc"})
		require.True(t, res.Success, res.Error)

		sections := strings.Split(res.Output, "\n\n")
		require.Len(t, sections, 6)
		assert.Equal(t, "📊 BITCOIN 技术分析报告", sections[0])
		assert.Equal(t, "😱 恐慌贪婪指数: 72 - 贪婪", sections[1])
		assert.Equal(t, "🌈 彩虹图分析: 价格处于'低估'区域", sections[2])
		assert.Contains(t, sections[3], "S2F")
		assert.Contains(t, sections[4], "MVRV")
		assert.Contains(t, sections[5], "矿工收入分析")
	})

	t.Run("selected indicators", func(t *testing.T) {
		r := newCryptoRegistry(t, newMarketServer(t))
		res := r.Execute(ctx, AnalysisToolName, map[string]interface{}{
			"crypto_id":  "bitcoin",
			"indicators": []interface{}{"mining", "fear_greed"},
		})
		require.True(t, res.Success, res.Error)
		sections := strings.Split(res.Output, "\n\n")
		require.Len(t, sections, 3)
		assert.Contains(t, sections[1], "恐慌贪婪指数")
		assert.Contains(t, sections[2], "矿工收入分析")
	})

	t.Run("other coins only get fear and greed", func(t *testing.T) {
		r := newCryptoRegistry(t, newMarketServer(t))
		res := r.Execute(ctx, AnalysisToolName, map[string]interface{}{"crypto_id": "eth"})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "📊 ETHEREUM 技术分析报告\n\n😱 恐慌贪婪指数: 72 - 贪婪", res.Output)
	})

	t.Run("failed indicators are skipped", func(t *testing.T) {
		ms := newMarketServer(t)
		ms.chartStatus.Store(http.StatusInternalServerError)
		r := newCryptoRegistry(t, ms)

		res := r.Execute(ctx, AnalysisToolName, map[string]interface{}{
			"crypto_id":  "btc",
			"indicators": []interface{}{"rainbow", "fear_greed"},
		})
		require.True(t, res.Success)
		assert.NotContains(t, res.Output, "彩虹图")
		assert.Contains(t, res.Output, "恐慌贪婪指数")
	})

	t.Run("nothing available", func(t *testing.T) {
		ms := newMarketServer(t)
		ms.fngStatus.Store(http.StatusBadGateway)
		r := newCryptoRegistry(t, ms)

		res := r.Execute(ctx, AnalysisToolName, map[string]interface{}{"crypto_id": "doge"})
		require.True(t, res.Success)
		assert.Equal(t, "抱歉，无法获取 dogecoin 的技术分析数据。", res.Output)
	})

	t.Run("unsupported indicator fails validation", func(t *testing.T) {
		r := newCryptoRegistry(t, newMarketServer(t))
		res := r.Execute(ctx, AnalysisToolName, map[string]interface{}{
			"crypto_id":  "btc",
			"indicators": []interface{}{"astrology"},
		})
		assert.False(t, res.Success)
	})
}

func TestClassifyFearGreed(t *testing.T) {
	tests := map[int]string{0: "极度恐慌", 20: "极度恐慌", 21: "恐慌", 40: "恐慌", 60: "中性", 80: "贪婪", 81: "极度贪婪", 100: "极度贪婪"}
	for v, want := range tests {
		assert.Equal(t, want, ClassifyFearGreed(v), "value %d", v)
	}
}

func TestRainbowBand(t *testing.T) {
	assert.Contains(t, RainbowBand(29999), "极度低估")
	assert.Contains(t, RainbowBand(30000), "'低估'")
	assert.Contains(t, RainbowBand(50000), "合理")
}

func TestNormalizeCoinID(t *testing.T) {
	assert.Equal(t, "bitcoin", NormalizeCoinID("BTC"))
	assert.Equal(t, "avalanche-2", NormalizeCoinID("avax"))
	assert.Equal(t, "bitcoin", NormalizeCoinID("比特币"))
	assert.Equal(t, "bitcoin", NormalizeCoinID(`{"btc"}`))
	assert.Equal(t, "pepe", NormalizeCoinID(" Pepe "))
}

func TestFormatUSD(t *testing.T) {
	assert.Equal(t, "1,234,567.89", FormatUSD(1234567.891))
	assert.Equal(t, "0.50", FormatUSD(0.5))
}

func TestHTTPClient_RateLimitRespectsContext(t *testing.T) {
	ms := newMarketServer(t)
	client := NewHTTPClient(time.Second, 0.001)

	_, err := client.Get(context.Background(), ms.URL+"/fng/")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Get(ctx, ms.URL+"/fng/")
	assert.Error(t, err)
}
