package router

// DefaultKeywords returns the built-in crypto keyword set.
// Tickers that are common English substrings (sol, ada) are left out.
func DefaultKeywords() []string {
	return []string{
		// coins and tickers
		"bitcoin", "btc", "ethereum", "eth", "binance", "bnb", "solana", "ripple", "xrp",
		"cardano", "dogecoin", "doge", "tether", "usdt", "usdc", "polkadot", "chainlink",
		"uniswap", "polygon", "matic", "avalanche", "avax",
		// market terms
		"crypto", "price", "market", "fear", "greed", "rainbow", "stock-to-flow", "s2f",
		"mvrv", "pi cycle", "halving", "mining", "indicator",
		// chinese
		"比特币", "以太坊", "狗狗币", "加密货币", "币价", "价格", "行情", "市值", "恐慌", "贪婪",
		"指数", "分析", "技术指标", "彩虹图", "减半", "矿工", "挖矿",
	}
}
