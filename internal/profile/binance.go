package profile

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"cascadeflow/logger"
)

// circulatingSupply approximates circulating supply for majors so a market
// cap can be derived from the futures last price. Assets missing here fall
// through to the fallback path for the cap field only.
var circulatingSupply = map[string]float64{
	"BTC":  19.7e6,
	"ETH":  120e6,
	"BNB":  150e6,
	"SOL":  460e6,
	"XRP":  55e9,
	"DOGE": 145e9,
	"ADA":  35e9,
}

type statsEntry struct {
	stats     *futures.PriceChangeStats
	fetchedAt time.Time
}

// BinanceMarketData serves the market-data collaborator interface from the
// Binance futures 24h ticker endpoint. One REST call backs all four
// accessors for a symbol; results are memoized for a minute so a profile
// refresh costs a single request.
type BinanceMarketData struct {
	client  *futures.Client
	limiter *rate.Limiter
	log     *logger.Log

	mu    sync.Mutex
	memo  map[string]statsEntry
	memoT time.Duration
}

func NewBinanceMarketData(requestsPerSecond float64, burst int) *BinanceMarketData {
	return &BinanceMarketData{
		client:  futures.NewClient("", ""),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		log:     logger.GetLogger(),
		memo:    make(map[string]statsEntry, 64),
		memoT:   time.Minute,
	}
}

func (b *BinanceMarketData) stats24h(ctx context.Context, symbol string) (*futures.PriceChangeStats, error) {
	b.mu.Lock()
	entry, ok := b.memo[symbol]
	b.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < b.memoT {
		return entry.stats, nil
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	list, err := b.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance 24h stats for %s: %w", symbol, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("binance 24h stats for %s: %w", symbol, ErrUnavailable)
	}

	b.mu.Lock()
	b.memo[symbol] = statsEntry{stats: list[0], fetchedAt: time.Now()}
	b.mu.Unlock()
	return list[0], nil
}

func (b *BinanceMarketData) Volume24h(ctx context.Context, symbol string) (float64, error) {
	stats, err := b.stats24h(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return parsePositive(stats.QuoteVolume)
}

func (b *BinanceMarketData) MarketCap(ctx context.Context, symbol string) (float64, error) {
	supply, ok := circulatingSupply[baseAsset(symbol)]
	if !ok {
		return 0, fmt.Errorf("no supply estimate for %s: %w", symbol, ErrUnavailable)
	}
	stats, err := b.stats24h(ctx, symbol)
	if err != nil {
		return 0, err
	}
	last, err := parsePositive(stats.LastPrice)
	if err != nil {
		return 0, err
	}
	return supply * last, nil
}

func (b *BinanceMarketData) Volatility(ctx context.Context, symbol string) (float64, error) {
	stats, err := b.stats24h(ctx, symbol)
	if err != nil {
		return 0, err
	}
	pct, err := strconv.ParseFloat(stats.PriceChangePercent, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price change percent %q: %w", stats.PriceChangePercent, err)
	}
	return math.Abs(pct) / 100, nil
}

func (b *BinanceMarketData) AverageTradeSize(ctx context.Context, symbol string) (float64, error) {
	stats, err := b.stats24h(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if stats.Count <= 0 {
		return 0, ErrUnavailable
	}
	quoteVol, err := parsePositive(stats.QuoteVolume)
	if err != nil {
		return 0, err
	}
	return quoteVol / float64(stats.Count), nil
}

func parsePositive(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrUnavailable
	}
	return v, nil
}
