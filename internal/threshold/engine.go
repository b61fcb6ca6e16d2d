package threshold

import (
	"context"
	"sync"
	"time"

	"cascadeflow/internal/profile"
	"cascadeflow/logger"
)

// Result is the concrete threshold set for one symbol, cached until
// ValidUntil passes.
type Result struct {
	Symbol       string                `json:"symbol"`
	SingleUSD    float64               `json:"single_usd"`
	CascadeUSD   float64               `json:"cascade_usd"`
	CascadeCount int                   `json:"cascade_count"`
	OIChangePct  float64               `json:"oi_change_pct"`
	Confidence   float64               `json:"confidence"`
	Method       string                `json:"method"`
	Session      Session               `json:"-"`
	Tier         profile.LiquidityTier `json:"-"`
	ValidUntil   time.Time             `json:"valid_until"`
}

// tierParams hold the per-tier scaling constants: the fraction of daily
// volume that constitutes a notable single liquidation, the absolute floor
// that fraction never undercuts, and the cascade count / OI-change bars.
type tierParams struct {
	baseFraction float64
	floorUSD     float64
	cascadeCount int
	oiChangePct  float64
	confidence   float64
}

func paramsFor(tier profile.LiquidityTier) tierParams {
	switch tier {
	case profile.Tier1:
		return tierParams{baseFraction: 0.0005, floorUSD: 250_000, cascadeCount: 6, oiChangePct: 2.0, confidence: 0.30}
	case profile.Tier2:
		return tierParams{baseFraction: 0.001, floorUSD: 50_000, cascadeCount: 5, oiChangePct: 3.0, confidence: 0.20}
	case profile.Tier3:
		return tierParams{baseFraction: 0.002, floorUSD: 10_000, cascadeCount: 4, oiChangePct: 5.0, confidence: 0.10}
	default:
		return tierParams{baseFraction: 0.005, floorUSD: 1_000, cascadeCount: 3, oiChangePct: 8.0, confidence: 0}
	}
}

// cascadeMultiple: a cascade is notable at five times the single bar.
const cascadeMultiple = 5.0

// Engine converts asset profiles, the current session and recent volatility
// into concrete thresholds. Results are cached per symbol until ValidUntil.
type Engine struct {
	profiles *profile.Cache
	cacheTTL time.Duration
	log      *logger.Log
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]*Result
}

func NewEngine(profiles *profile.Cache, cacheTTL time.Duration) *Engine {
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Minute
	}
	return &Engine{
		profiles: profiles,
		cacheTTL: cacheTTL,
		log:      logger.GetLogger(),
		now:      time.Now,
		cache:    make(map[string]*Result, 128),
	}
}

// Threshold returns the cached result for a symbol, recomputing when the
// cache entry expired. The profile lookup underneath is the only path that
// may block, and only on a profile cache miss.
func (e *Engine) Threshold(ctx context.Context, symbol string) *Result {
	now := e.now()

	e.mu.RLock()
	r, ok := e.cache[symbol]
	e.mu.RUnlock()
	if ok && now.Before(r.ValidUntil) {
		return r
	}

	r = e.compute(ctx, symbol, now)

	e.mu.Lock()
	e.cache[symbol] = r
	e.mu.Unlock()
	return r
}

func (e *Engine) compute(ctx context.Context, symbol string, now time.Time) *Result {
	p := e.profiles.Profile(ctx, symbol)
	params := paramsFor(p.Tier)
	session := CurrentSession(now)

	base := p.Volume24h * params.baseFraction
	single := base * session.Multiplier() * volatilityMultiplier(p.Volatility)
	if single < params.floorUSD {
		single = params.floorUSD
	}

	method := "volume_scaled"
	confidence := confidenceScore(params, session, p.Volatility)
	if p.Source == "fallback" {
		method = "static_fallback"
		if confidence > 0.3 {
			confidence = 0.3
		}
	}

	r := &Result{
		Symbol:       symbol,
		SingleUSD:    single,
		CascadeUSD:   single * cascadeMultiple,
		CascadeCount: params.cascadeCount,
		OIChangePct:  params.oiChangePct,
		Confidence:   confidence,
		Method:       method,
		Session:      session,
		Tier:         p.Tier,
		ValidUntil:   now.Add(e.cacheTTL),
	}

	e.log.WithComponent("threshold_engine").WithFields(logger.Fields{
		"symbol":     symbol,
		"tier":       p.Tier.String(),
		"session":    session.String(),
		"single_usd": r.SingleUSD,
		"method":     method,
		"confidence": confidence,
	}).Debug("thresholds recomputed")

	return r
}

// volatilityMultiplier maps the fractional volatility score onto [0.5, 2.0].
// Around 3-4% daily movement is neutral; calm tapes tighten thresholds,
// violent tapes loosen them.
func volatilityMultiplier(volatility float64) float64 {
	m := 0.5 + volatility*15
	if m < 0.5 {
		return 0.5
	}
	if m > 2.0 {
		return 2.0
	}
	return m
}

// confidenceScore combines tier quality, session liquidity and volatility
// extremity. Very high volatility reduces trust in the calculation.
func confidenceScore(params tierParams, session Session, volatility float64) float64 {
	c := 0.5 + params.confidence + session.ConfidenceBonus()
	switch {
	case volatility > 0.15:
		c -= 0.20
	case volatility > 0.10:
		c -= 0.10
	}
	if c < 0.10 {
		return 0.10
	}
	if c > 0.95 {
		return 0.95
	}
	return c
}

// CacheLen returns the number of cached threshold results.
func (e *Engine) CacheLen() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// Evict drops a symbol's cached result. Used by stale-symbol eviction.
func (e *Engine) Evict(symbol string) {
	e.mu.Lock()
	delete(e.cache, symbol)
	e.mu.Unlock()
}

// SetNow overrides the engine clock. Test hook.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
}
