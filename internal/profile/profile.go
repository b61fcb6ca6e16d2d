package profile

import "time"

// LiquidityTier is a coarse classification of an asset's trading depth,
// used to scale thresholds.
type LiquidityTier int

const (
	TierMicroCap LiquidityTier = iota
	Tier3
	Tier2
	Tier1
)

func (t LiquidityTier) String() string {
	switch t {
	case Tier1:
		return "TIER_1"
	case Tier2:
		return "TIER_2"
	case Tier3:
		return "TIER_3"
	default:
		return "MICRO_CAP"
	}
}

// Tier floors: an asset must clear both the market-cap and the 24h-volume
// floor to earn a tier.
const (
	tier1CapFloor = 100e9
	tier1VolFloor = 1e9
	tier2CapFloor = 10e9
	tier2VolFloor = 100e6
	tier3CapFloor = 1e9
	tier3VolFloor = 10e6
)

// AssetProfile is the cached per-symbol market classification.
type AssetProfile struct {
	Symbol       string        `json:"symbol"`
	MarketCap    float64       `json:"market_cap"`
	Volume24h    float64       `json:"volume_24h"`
	Volatility   float64       `json:"volatility"` // fractional, e.g. 0.04 = 4%
	Tier         LiquidityTier `json:"tier"`
	AvgTradeSize float64       `json:"avg_trade_size"`
	FetchedAt    time.Time     `json:"fetched_at"`
	Source       string        `json:"source"` // provider name or "fallback"
}

// AssignTier maps market cap and 24h volume onto a liquidity tier.
func AssignTier(marketCap, volume24h float64) LiquidityTier {
	switch {
	case marketCap >= tier1CapFloor && volume24h >= tier1VolFloor:
		return Tier1
	case marketCap >= tier2CapFloor && volume24h >= tier2VolFloor:
		return Tier2
	case marketCap >= tier3CapFloor && volume24h >= tier3VolFloor:
		return Tier3
	default:
		return TierMicroCap
	}
}
