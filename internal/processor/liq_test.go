package processor

import (
	"math"
	"testing"
	"time"

	"cascadeflow/internal/models"
)

func rawMsg(exchange, symbol, payload string) models.RawLiquidationMessage {
	return models.RawLiquidationMessage{
		Exchange:  exchange,
		Symbol:    symbol,
		Data:      []byte(payload),
		Timestamp: time.Date(2025, time.March, 5, 15, 0, 0, 0, time.UTC),
	}
}

func TestNormalize_Binance(t *testing.T) {
	payload := `{"E":1741186800123,"o":{"s":"BTCUSDT","S":"SELL","o":"LIMIT","q":"0.5","p":"60000"}}`
	events, ok := Normalize(rawMsg("binance", "BTCUSDT", payload))
	if !ok || len(events) != 1 {
		t.Fatalf("expected one normalized event, got ok=%v n=%d", ok, len(events))
	}
	ev := events[0]
	if ev.Symbol != "BTCUSDT" || ev.Exchange != "binance" {
		t.Fatalf("identity = %s/%s", ev.Symbol, ev.Exchange)
	}
	if ev.Side != models.SideLong {
		t.Fatalf("side = %s, want LONG for a forced SELL", ev.Side)
	}
	if ev.Price != 60000 || ev.Quantity != 0.5 {
		t.Fatalf("price/qty = %.2f/%.4f", ev.Price, ev.Quantity)
	}
	if math.Abs(ev.Value-30000) > 1e-9 {
		t.Fatalf("value = %.2f, want 30000", ev.Value)
	}
	if ev.Timestamp != 1741186800123 {
		t.Fatalf("timestamp = %d", ev.Timestamp)
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("normalized event must validate: %v", err)
	}
}

func TestNormalize_Bybit(t *testing.T) {
	payload := `{"topic":"allLiquidation.BTCUSDT","ts":1741186800500,"data":{"symbol":"BTCUSDT","side":"Buy","size":"2","price":"59000","execQty":"1.5","execPrice":"59100"}}`
	events, ok := Normalize(rawMsg("bybit", "BTCUSDT", payload))
	if !ok || len(events) != 1 {
		t.Fatalf("expected one normalized event, got ok=%v n=%d", ok, len(events))
	}
	ev := events[0]
	if ev.Side != models.SideShort {
		t.Fatalf("side = %s, want SHORT for a forced BUY", ev.Side)
	}
	// exec fields take precedence over the order fields
	if ev.Price != 59100 || ev.Quantity != 1.5 {
		t.Fatalf("price/qty = %.2f/%.2f, want exec values", ev.Price, ev.Quantity)
	}
	if ev.Timestamp != 1741186800500 {
		t.Fatalf("timestamp = %d", ev.Timestamp)
	}
}

func TestNormalize_BybitFallbackFields(t *testing.T) {
	payload := `{"ts":0,"data":{"symbol":"ETHUSDT","side":"Sell","size":"3","price":"2500"}}`
	events, ok := Normalize(rawMsg("bybit", "ETHUSDT", payload))
	if !ok || len(events) != 1 {
		t.Fatalf("expected one normalized event, got ok=%v n=%d", ok, len(events))
	}
	ev := events[0]
	if ev.Price != 2500 || ev.Quantity != 3 {
		t.Fatalf("price/qty = %.2f/%.2f, want order fields when exec absent", ev.Price, ev.Quantity)
	}
	// zero ts falls back to the receive timestamp
	if ev.Timestamp != rawMsg("bybit", "", "").Timestamp.UnixMilli() {
		t.Fatalf("timestamp = %d, want receive time", ev.Timestamp)
	}
}

func TestNormalize_Okx(t *testing.T) {
	payload := `{"arg":{"channel":"liquidation-orders","instType":"SWAP"},"data":[{"instId":"BTC-USDT-SWAP","instType":"SWAP","details":[{"side":"sell","sz":"10","bkPx":"60000","posSide":"long","ts":"1741186800999"}]}]}`
	events, ok := Normalize(rawMsg("okx", "BTC-USDT-SWAP", payload))
	if !ok || len(events) != 1 {
		t.Fatalf("expected one normalized event, got ok=%v n=%d", ok, len(events))
	}
	ev := events[0]
	if ev.Symbol != "BTCUSDT" {
		t.Fatalf("symbol = %s, want canonical BTCUSDT", ev.Symbol)
	}
	if ev.Side != models.SideLong {
		t.Fatalf("side = %s, want LONG", ev.Side)
	}
	if ev.Price != 60000 || ev.Quantity != 10 {
		t.Fatalf("price/qty = %.2f/%.2f", ev.Price, ev.Quantity)
	}
	if ev.Timestamp != 1741186800999 {
		t.Fatalf("timestamp = %d", ev.Timestamp)
	}
}

func TestNormalize_OkxBatchedDetails(t *testing.T) {
	payload := `{"arg":{"channel":"liquidation-orders","instType":"SWAP"},"data":[` +
		`{"instId":"BTC-USDT-SWAP","details":[` +
		`{"side":"sell","sz":"1","bkPx":"60000","ts":"1741186800100"},` +
		`{"side":"buy","sz":"2","bkPx":"60100","ts":"1741186800200"}]},` +
		`{"instId":"ETH-USDT-SWAP","details":[` +
		`{"side":"sell","sz":"5","bkPx":"2500","ts":"1741186800300"}]}]}`
	events, ok := Normalize(rawMsg("okx", "", payload))
	if !ok || len(events) != 3 {
		t.Fatalf("expected 3 normalized events, got ok=%v n=%d", ok, len(events))
	}
	if events[0].Side != models.SideLong || events[1].Side != models.SideShort {
		t.Fatalf("sides = %s/%s, want LONG/SHORT", events[0].Side, events[1].Side)
	}
	if events[2].Symbol != "ETHUSDT" {
		t.Fatalf("symbol = %s, want canonical ETHUSDT", events[2].Symbol)
	}
	if events[2].Value != 12500 {
		t.Fatalf("value = %.2f, want 12500", events[2].Value)
	}
}

func TestNormalize_Kucoin(t *testing.T) {
	payload := `{"data":{"symbol":"XBTUSDTM","side":"buy","size":4,"price":"60000","ts":1741186801000}}`
	events, ok := Normalize(rawMsg("kucoin", "XBTUSDTM", payload))
	if !ok || len(events) != 1 {
		t.Fatalf("expected one normalized event, got ok=%v n=%d", ok, len(events))
	}
	ev := events[0]
	if ev.Symbol != "BTCUSDT" {
		t.Fatalf("symbol = %s, want canonical BTCUSDT", ev.Symbol)
	}
	if ev.Side != models.SideShort {
		t.Fatalf("side = %s, want SHORT", ev.Side)
	}
	if ev.Quantity != 4 {
		t.Fatalf("quantity = %.0f", ev.Quantity)
	}
}

func TestNormalize_Garbage(t *testing.T) {
	cases := []struct {
		exchange string
		payload  string
	}{
		{"binance", `not json`},
		{"binance", `{"E":1,"o":{}}`},
		{"bybit", `{"data":{}}`},
		{"okx", `[1,2,3]`},
		{"okx", `{"data":[]}`},
		{"okx", `{"data":[{"instId":"","details":[{"side":"sell","sz":"1"}]}]}`},
		{"kucoin", `{"data":{}}`},
		{"deribit", `{"anything":true}`},
	}
	for _, tc := range cases {
		if _, ok := Normalize(rawMsg(tc.exchange, "X", tc.payload)); ok {
			t.Fatalf("expected rejection for %s payload %q", tc.exchange, tc.payload)
		}
	}
}

func TestNormalize_UnknownSide(t *testing.T) {
	payload := `{"E":1741186800123,"o":{"s":"BTCUSDT","S":"","o":"LIMIT","q":"0.5","p":"60000"}}`
	events, ok := Normalize(rawMsg("binance", "BTCUSDT", payload))
	if !ok || len(events) != 1 {
		t.Fatalf("expected parse to succeed, got ok=%v n=%d", ok, len(events))
	}
	if events[0].Side != models.SideUnknown {
		t.Fatalf("side = %s, want UNKNOWN", events[0].Side)
	}
}
