package tools

import "strings"

// coinIDs maps tickers and common names to CoinGecko ids.
var coinIDs = map[string]string{
	"btc":   "bitcoin",
	"eth":   "ethereum",
	"bnb":   "binancecoin",
	"sol":   "solana",
	"xrp":   "ripple",
	"ada":   "cardano",
	"doge":  "dogecoin",
	"usdt":  "tether",
	"usdc":  "usd-coin",
	"dai":   "dai",
	"dot":   "polkadot",
	"link":  "chainlink",
	"uni":   "uniswap",
	"matic": "polygon",
	"avax":  "avalanche-2",

	"bitcoin":  "bitcoin",
	"ethereum": "ethereum",
	"solana":   "solana",
	"ripple":   "ripple",
	"cardano":  "cardano",

	"比特币": "bitcoin",
	"以太坊": "ethereum",
	"狗狗币": "dogecoin",
}

// NormalizeCoinID lower-cases and trims id and resolves known aliases.
// Unknown ids pass through unchanged.
func NormalizeCoinID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.Trim(id, `{}"' `)
	if mapped, ok := coinIDs[id]; ok {
		return mapped
	}
	return id
}
