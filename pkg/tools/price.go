package tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// PriceToolName is the registered name of the price tool.
const PriceToolName = "crypto_price"

var coinIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

var usdPrinter = message.NewPrinter(language.English)

// PriceTool looks up a coin's USD spot price on CoinGecko.
type PriceTool struct {
	client  *HTTPClient
	baseURL string
}

// NewPriceTool creates the price tool. baseURL is the CoinGecko API root, e.g. https://api.coingecko.com/api/v3.
func NewPriceTool(client *HTTPClient, baseURL string) *PriceTool {
	return &PriceTool{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Spec implements Tool.
func (t *PriceTool) Spec() Spec {
	return Spec{
		Name:        PriceToolName,
		Description: "获取加密货币的当前价格。输入货币ID（如 bitcoin, ethereum）",
		Parameters: []Parameter{
			{
				Name:        "crypto_id",
				Type:        "string",
				Description: "加密货币的ID或简写，例如：bitcoin、btc、ethereum、eth",
				Required:    true,
			},
		},
	}
}

// Call implements Tool.
func (t *PriceTool) Call(ctx context.Context, params map[string]interface{}) (string, error) {
	raw, _ := params["crypto_id"].(string)
	id := NormalizeCoinID(raw)
	if id == "" {
		return "", errors.New("crypto_id is required")
	}
	if !coinIDPattern.MatchString(id) {
		return "", fmt.Errorf("invalid crypto id: %s", raw)
	}

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", t.baseURL, url.QueryEscape(id))
	body, err := t.client.Get(ctx, endpoint)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return "", fmt.Errorf("获取价格时出错: %d", se.StatusCode)
		}
		return "", err
	}

	price := gjson.GetBytes(body, id+".usd")
	if !price.Exists() {
		return fmt.Sprintf("找不到 %s 的价格信息", id), nil
	}
	return fmt.Sprintf("%s 当前价格: $%s USD", strings.ToUpper(id), FormatUSD(price.Float())), nil
}

// FormatUSD renders v with thousands separators and two decimals.
func FormatUSD(v float64) string {
	return usdPrinter.Sprintf("%.2f", v)
}
