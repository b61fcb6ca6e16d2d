package profile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// stubMarketData serves fixed values and counts calls; err != nil fails
// every accessor.
type stubMarketData struct {
	volume24h    float64
	marketCap    float64
	volatility   float64
	avgTradeSize float64
	err          error
	calls        int64
}

func (s *stubMarketData) Volume24h(ctx context.Context, symbol string) (float64, error) {
	atomic.AddInt64(&s.calls, 1)
	return s.volume24h, s.err
}

func (s *stubMarketData) MarketCap(ctx context.Context, symbol string) (float64, error) {
	atomic.AddInt64(&s.calls, 1)
	return s.marketCap, s.err
}

func (s *stubMarketData) Volatility(ctx context.Context, symbol string) (float64, error) {
	atomic.AddInt64(&s.calls, 1)
	return s.volatility, s.err
}

func (s *stubMarketData) AverageTradeSize(ctx context.Context, symbol string) (float64, error) {
	atomic.AddInt64(&s.calls, 1)
	return s.avgTradeSize, s.err
}

func TestAssignTier(t *testing.T) {
	cases := []struct {
		cap, vol float64
		want     LiquidityTier
	}{
		{800e9, 15e9, Tier1},
		{100e9, 1e9, Tier1},
		{100e9, 0.5e9, Tier2}, // cap qualifies, volume does not
		{50e9, 2e9, Tier2},
		{5e9, 50e6, Tier3},
		{2e9, 5e6, TierMicroCap}, // volume below tier 3 floor
		{100e6, 1e6, TierMicroCap},
	}
	for _, tc := range cases {
		if got := AssignTier(tc.cap, tc.vol); got != tc.want {
			t.Fatalf("AssignTier(%g, %g) = %v, want %v", tc.cap, tc.vol, got, tc.want)
		}
	}
}

func TestProfile_CachedUntilTTL(t *testing.T) {
	stub := &stubMarketData{volume24h: 2e9, marketCap: 150e9, volatility: 0.03, avgTradeSize: 10_000}
	cache := NewCache(stub, time.Hour)

	p1 := cache.Profile(context.Background(), "BTCUSDT")
	callsAfterFirst := atomic.LoadInt64(&stub.calls)
	p2 := cache.Profile(context.Background(), "BTCUSDT")

	if atomic.LoadInt64(&stub.calls) != callsAfterFirst {
		t.Fatalf("expected no provider calls on cache hit")
	}
	if p1 != p2 {
		t.Fatalf("expected the same cached profile instance")
	}
	if p1.Tier != Tier1 {
		t.Fatalf("expected TIER_1, got %s", p1.Tier)
	}
	if p1.Source != "binance" {
		t.Fatalf("expected provider-sourced profile, got %q", p1.Source)
	}
}

func TestProfile_RefreshAfterTTL(t *testing.T) {
	stub := &stubMarketData{volume24h: 2e9, marketCap: 150e9, volatility: 0.03, avgTradeSize: 10_000}
	cache := NewCache(stub, time.Nanosecond)

	cache.Profile(context.Background(), "BTCUSDT")
	first := atomic.LoadInt64(&stub.calls)
	time.Sleep(time.Millisecond)
	cache.Profile(context.Background(), "BTCUSDT")

	if atomic.LoadInt64(&stub.calls) <= first {
		t.Fatalf("expected provider calls after TTL expiry")
	}
}

func TestProfile_FallbackOnProviderFailure(t *testing.T) {
	stub := &stubMarketData{err: ErrUnavailable}
	cache := NewCache(stub, time.Hour)

	p := cache.Profile(context.Background(), "BTCUSDT")
	if p.Source != "fallback" {
		t.Fatalf("expected fallback-sourced profile, got %q", p.Source)
	}
	// the BTC fallback class still lands in the top tier
	if p.Tier != Tier1 {
		t.Fatalf("expected BTC fallback class to be TIER_1, got %s", p.Tier)
	}
	if cache.FallbackServed() != 1 {
		t.Fatalf("expected fallback counter to increment, got %d", cache.FallbackServed())
	}

	unknown := cache.Profile(context.Background(), "OBSCUREUSDT")
	if unknown.Tier != TierMicroCap {
		t.Fatalf("expected unknown asset fallback to be MICRO_CAP, got %s", unknown.Tier)
	}
}

func TestFallbackProfile_BaseAssetParsing(t *testing.T) {
	p := FallbackProfile("ETHUSDT")
	if p.MarketCap != fallbackClasses["ETH"].marketCap {
		t.Fatalf("expected ETH class, got cap %g", p.MarketCap)
	}
	if got := baseAsset("SOLUSDC"); got != "SOL" {
		t.Fatalf("expected SOL, got %s", got)
	}
	if got := baseAsset("WEIRD"); got != "WEIRD" {
		t.Fatalf("expected passthrough for unknown quote, got %s", got)
	}
}

func TestCache_Evict(t *testing.T) {
	stub := &stubMarketData{volume24h: 1e6, marketCap: 1e6, volatility: 0.1, avgTradeSize: 100}
	cache := NewCache(stub, time.Hour)
	cache.Profile(context.Background(), "AUSDT")
	cache.Profile(context.Background(), "BUSDT")
	if cache.Len() != 2 {
		t.Fatalf("expected 2 cached profiles, got %d", cache.Len())
	}
	cache.Evict("AUSDT")
	if cache.Len() != 1 {
		t.Fatalf("expected 1 cached profile after evict, got %d", cache.Len())
	}
}
