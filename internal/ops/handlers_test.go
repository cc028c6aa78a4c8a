package ops

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yalvarez/trading-platform/internal/config"
	"github.com/yalvarez/trading-platform/internal/manager"
)

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		cfg     config.OpsConfig
		reqHost string
		want    bool
	}{
		{
			name:    "empty origin is allowed",
			origin:  "",
			cfg:     config.OpsConfig{},
			reqHost: "localhost:8090",
			want:    true,
		},
		{
			name:    "localhost origin allowed by default",
			origin:  "http://localhost:8090",
			cfg:     config.OpsConfig{},
			reqHost: "localhost:8090",
			want:    true,
		},
		{
			name:    "non-local origin denied by default",
			origin:  "https://evil.example",
			cfg:     config.OpsConfig{},
			reqHost: "localhost:8090",
			want:    false,
		},
		{
			name:    "allowlist permits exact origin",
			origin:  "https://ops.example.com",
			cfg:     config.OpsConfig{AllowedOrigins: []string{"https://ops.example.com"}},
			reqHost: "0.0.0.0:8090",
			want:    true,
		},
		{
			name:    "allowlist denies everything else",
			origin:  "https://evil.example",
			cfg:     config.OpsConfig{AllowedOrigins: []string{"https://ops.example.com"}},
			reqHost: "0.0.0.0:8090",
			want:    false,
		},
		{
			name:    "same host allowed when no allowlist",
			origin:  "https://copytrader.internal:8090",
			cfg:     config.OpsConfig{},
			reqHost: "copytrader.internal:8090",
			want:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isOriginAllowed(tt.origin, tt.cfg, tt.reqHost); got != tt.want {
				t.Fatalf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

type fakeProvider struct {
	accounts []manager.AccountSnapshot
}

func (f *fakeProvider) Snapshot() []manager.AccountSnapshot {
	return f.accounts
}

func testHandlers(provider StatusProvider) *Handlers {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewHandlers(provider, config.OpsConfig{Port: 8090}, NewHub(logger), logger)
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	h := testHandlers(&fakeProvider{})
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %q, want %q", body["status"], "ok")
	}
}

func TestHandleSnapshot(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		accounts: []manager.AccountSnapshot{
			{
				Name:   "alpha",
				Mode:   "general",
				Active: true,
				Trades: []manager.TradeSnapshot{
					{Ticket: 1001, Symbol: "XAUUSD", Direction: "BUY"},
					{Ticket: 1002, Symbol: "XAUUSD", Direction: "SELL"},
				},
			},
			{
				Name:   "beta",
				Mode:   "reentry",
				Active: true,
				Trades: []manager.TradeSnapshot{
					{Ticket: 2001, Symbol: "EURUSD", Direction: "BUY"},
				},
			},
		},
	}

	h := testHandlers(provider)
	rec := httptest.NewRecorder()
	h.HandleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var snap Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(snap.Accounts))
	}
	if snap.OpenTrades != 3 {
		t.Fatalf("open trades = %d, want 3", snap.OpenTrades)
	}
	if snap.Accounts[0].Name != "alpha" || snap.Accounts[1].Mode != "reentry" {
		t.Fatalf("unexpected account payload: %+v", snap.Accounts)
	}
}
