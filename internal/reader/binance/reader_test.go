package binance

import (
	"context"
	"testing"

	"cascadeflow/config"
	liqchan "cascadeflow/internal/channel/liq"
)

func minimalConfig() *config.Config {
	return &config.Config{
		Source: config.SourceConfig{
			Binance: config.ExchangeSourceConfig{
				Enabled: true,
				Symbols: []string{"BTCUSDT"},
			},
		},
	}
}

func TestNewReader(t *testing.T) {
	cfg := minimalConfig()
	ch := liqchan.NewChannels(1)
	r := Binance_LIQ_NewReader(cfg, ch, []string{"BTCUSDT"})
	if r == nil {
		t.Fatal("Binance_LIQ_NewReader returned nil")
	}
}

func TestStartDisabled(t *testing.T) {
	cfg := minimalConfig()
	cfg.Source.Binance.Enabled = false
	r := Binance_LIQ_NewReader(cfg, liqchan.NewChannels(1), nil)
	if err := r.Binance_LIQ_Start(context.Background()); err == nil {
		t.Fatal("expected error when stream is disabled")
	}
}

func TestStartNoSymbols(t *testing.T) {
	cfg := minimalConfig()
	cfg.Source.Binance.Symbols = nil
	r := Binance_LIQ_NewReader(cfg, liqchan.NewChannels(1), nil)
	if err := r.Binance_LIQ_Start(context.Background()); err == nil {
		t.Fatal("expected error when no symbols are configured")
	}
}
