package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cascadeflow/config"
	"cascadeflow/internal/engine"
	"cascadeflow/logger"
)

type stubSource struct {
	status  engine.Status
	symbols map[string]engine.SymbolStatus
}

func (s *stubSource) Status() engine.Status { return s.status }

func (s *stubSource) SymbolStatus(symbol string) (engine.SymbolStatus, bool) {
	st, ok := s.symbols[symbol]
	return st, ok
}

func (s *stubSource) Symbols() []string {
	out := make([]string, 0, len(s.symbols))
	for symbol := range s.symbols {
		out = append(out, symbol)
	}
	return out
}

func newTestServer(t *testing.T) (*Server, *stubSource) {
	t.Helper()

	source := &stubSource{
		status: engine.Status{EventsProcessed: 42, TrackedSymbols: 1},
		symbols: map[string]engine.SymbolStatus{
			"BTCUSDT": {Symbol: "BTCUSDT", BufferedLen: 7, LastEvent: time.Unix(100, 0)},
		},
	}

	cfg := config.DashboardConfig{
		Enabled:         true,
		Address:         ":9090",
		RefreshInterval: config.Duration(time.Second),
		LogHistory:      10,
		MetricsHistory:  10,
	}
	srv, err := NewServer(cfg, source, logger.Logger())
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	if srv == nil {
		t.Fatal("expected non-nil server")
	}
	t.Cleanup(srv.cleanup)
	return srv, source
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                           "0.0.0.0:8080",
		"  :9090  ":                  "0.0.0.0:9090",
		"localhost":                  "localhost:8080",
		"0.0.0.0:80":                 "0.0.0.0:80",
		"[::1]:443":                  "[::1]:443",
		"::1":                        "[::1]:8080",
		"*:8080":                     "0.0.0.0:8080",
		"http://13.200.112.203:8080": "13.200.112.203:8080",
		"https://13.200.112.203":     "13.200.112.203:8080",
		"http://:7070":               "0.0.0.0:7070",
		"tcp://localhost:5050":       "localhost:5050",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServerDisabled(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: false}, &stubSource{}, logger.Logger())
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	if srv != nil {
		t.Fatal("expected nil server when disabled")
	}
}

func TestNewServerNormalizesConfiguredAddress(t *testing.T) {
	srv, _ := newTestServer(t)
	if got := srv.Address(); got != "0.0.0.0:9090" {
		t.Fatalf("server address = %q, want %q", got, "0.0.0.0:9090")
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	router, err := srv.buildRouter()
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}

	var status engine.Status
	if err := json.Unmarshal(res.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding status payload: %v", err)
	}
	if status.EventsProcessed != 42 || status.TrackedSymbols != 1 {
		t.Fatalf("unexpected status payload: %+v", status)
	}
}

func TestSymbolEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	router, err := srv.buildRouter()
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/symbols/btcusdt", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}

	var status engine.SymbolStatus
	if err := json.Unmarshal(res.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding symbol payload: %v", err)
	}
	if status.Symbol != "BTCUSDT" || status.BufferedLen != 7 {
		t.Fatalf("unexpected symbol payload: %+v", status)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/symbols/DOGEUSDT", nil)
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for untracked symbol, got %d", res.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	router, err := srv.buildRouter()
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
}
