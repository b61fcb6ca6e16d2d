package profile

import (
	"context"
	"fmt"
	"strings"
)

// MarketData is the market-data collaborator boundary. Every accessor can
// fail; the cache treats any failure as "absent" and falls back to static
// defaults rather than propagating the error into the event pipeline.
type MarketData interface {
	Volume24h(ctx context.Context, symbol string) (float64, error)
	MarketCap(ctx context.Context, symbol string) (float64, error)
	Volatility(ctx context.Context, symbol string) (float64, error)
	AverageTradeSize(ctx context.Context, symbol string) (float64, error)
}

// fallbackClass is a hard-coded per-asset-class default used when the
// market-data collaborator is unavailable.
type fallbackClass struct {
	marketCap    float64
	volume24h    float64
	volatility   float64
	avgTradeSize float64
}

var fallbackClasses = map[string]fallbackClass{
	// majors
	"BTC": {marketCap: 800e9, volume24h: 15e9, volatility: 0.03, avgTradeSize: 25_000},
	"ETH": {marketCap: 300e9, volume24h: 8e9, volatility: 0.04, avgTradeSize: 15_000},
	// large caps
	"SOL": {marketCap: 60e9, volume24h: 2e9, volatility: 0.06, avgTradeSize: 8_000},
	"BNB": {marketCap: 80e9, volume24h: 1.5e9, volatility: 0.04, avgTradeSize: 8_000},
	"XRP": {marketCap: 30e9, volume24h: 1e9, volatility: 0.05, avgTradeSize: 5_000},
}

// everything else is assumed thin until proven otherwise
var fallbackDefault = fallbackClass{
	marketCap:    500e6,
	volume24h:    20e6,
	volatility:   0.08,
	avgTradeSize: 2_000,
}

func fallbackFor(symbol string) fallbackClass {
	base := baseAsset(symbol)
	if cls, ok := fallbackClasses[base]; ok {
		return cls
	}
	return fallbackDefault
}

// FallbackProfile builds a static profile for a symbol when the collaborator
// is down. Callers mark the result with Source "fallback" and cap the
// threshold confidence accordingly.
func FallbackProfile(symbol string) AssetProfile {
	cls := fallbackFor(symbol)
	return AssetProfile{
		Symbol:       symbol,
		MarketCap:    cls.marketCap,
		Volume24h:    cls.volume24h,
		Volatility:   cls.volatility,
		Tier:         AssignTier(cls.marketCap, cls.volume24h),
		AvgTradeSize: cls.avgTradeSize,
		Source:       "fallback",
	}
}

var quoteSuffixes = []string{"USDT", "USDC", "BUSD", "USD"}

// baseAsset strips the quote suffix from a canonical symbol, e.g.
// BTCUSDT -> BTC.
func baseAsset(symbol string) string {
	symbol = strings.ToUpper(symbol)
	for _, q := range quoteSuffixes {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return strings.TrimSuffix(symbol, q)
		}
	}
	return symbol
}

// ErrUnavailable is returned by providers that cannot serve a field for a
// symbol. The cache maps it onto the fallback path.
var ErrUnavailable = fmt.Errorf("market data unavailable")
