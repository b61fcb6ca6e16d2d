package profile

import (
	"context"
	"sync"
	"time"

	"cascadeflow/logger"
)

// Cache lazily builds and TTL-refreshes per-symbol asset profiles. A profile
// is created on the first threshold request for its symbol, refreshed when
// stale and otherwise reused; nothing invalidates it except TTL expiry.
//
// Profile never fails: when the collaborator cannot serve a field the static
// per-asset-class default fills in and the profile is marked as fallback
// sourced, which the threshold engine translates into lowered confidence.
type Cache struct {
	provider MarketData
	ttl      time.Duration
	log      *logger.Log

	mu       sync.RWMutex
	profiles map[string]*AssetProfile

	fallbackServed int64
}

func NewCache(provider MarketData, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		provider: provider,
		ttl:      ttl,
		log:      logger.GetLogger(),
		profiles: make(map[string]*AssetProfile, 128),
	}
}

// Profile returns the cached profile for a symbol, refreshing it when
// stale. This is the only path in the core that may block on I/O, and only
// on miss or TTL expiry.
func (c *Cache) Profile(ctx context.Context, symbol string) *AssetProfile {
	c.mu.RLock()
	p, ok := c.profiles[symbol]
	c.mu.RUnlock()
	if ok && time.Since(p.FetchedAt) < c.ttl {
		return p
	}

	fresh := c.build(ctx, symbol)

	c.mu.Lock()
	// Another goroutine may have refreshed while we fetched; last write wins,
	// both are equally fresh.
	c.profiles[symbol] = fresh
	c.mu.Unlock()
	return fresh
}

func (c *Cache) build(ctx context.Context, symbol string) *AssetProfile {
	log := c.log.WithComponent("asset_profile").WithField("symbol", symbol)
	fallback := fallbackFor(symbol)
	profile := AssetProfile{
		Symbol:    symbol,
		FetchedAt: time.Now().UTC(),
		Source:    "binance",
	}
	degraded := false

	if v, err := c.provider.Volume24h(ctx, symbol); err == nil {
		profile.Volume24h = v
	} else {
		log.WithError(err).Debug("volume fetch failed, using class default")
		profile.Volume24h = fallback.volume24h
		degraded = true
	}

	if v, err := c.provider.MarketCap(ctx, symbol); err == nil {
		profile.MarketCap = v
	} else {
		log.WithError(err).Debug("market cap fetch failed, using class default")
		profile.MarketCap = fallback.marketCap
		degraded = true
	}

	if v, err := c.provider.Volatility(ctx, symbol); err == nil {
		profile.Volatility = v
	} else {
		log.WithError(err).Debug("volatility fetch failed, using class default")
		profile.Volatility = fallback.volatility
		degraded = true
	}

	if v, err := c.provider.AverageTradeSize(ctx, symbol); err == nil {
		profile.AvgTradeSize = v
	} else {
		log.WithError(err).Debug("average trade size fetch failed, using class default")
		profile.AvgTradeSize = fallback.avgTradeSize
		degraded = true
	}

	profile.Tier = AssignTier(profile.MarketCap, profile.Volume24h)
	if degraded {
		profile.Source = "fallback"
		c.mu.Lock()
		c.fallbackServed++
		c.mu.Unlock()
		log.WithField("tier", profile.Tier.String()).Warn("asset profile built from fallback defaults")
	}
	return &profile
}

// Len returns the number of cached profiles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.profiles)
}

// FallbackServed counts profiles built from static defaults.
func (c *Cache) FallbackServed() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fallbackServed
}

// Evict drops a symbol's profile. Used by stale-symbol eviction.
func (c *Cache) Evict(symbol string) {
	c.mu.Lock()
	delete(c.profiles, symbol)
	c.mu.Unlock()
}
