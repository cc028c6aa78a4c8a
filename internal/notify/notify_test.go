package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yalvarez/trading-platform/internal/config"
	"github.com/yalvarez/trading-platform/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testAccounts() []types.Account {
	return []types.Account{
		{Name: "acct1", ChatID: "-1001"},
		{Name: "acct2"}, // no chat configured
	}
}

func TestNotifyPostsToAPI(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var got []notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notify" {
			t.Errorf("path = %s, want /notify", r.URL.Path)
		}
		var msg notification
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode body: %v", err)
		}
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(config.NotifierConfig{
		Enabled: true, APIURL: srv.URL, Timeout: 2 * time.Second, QueueSize: 8,
	}, testAccounts(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { n.Run(ctx); close(done) }()

	n.Notify("acct1", "TP1 hit on XAUUSD #100")

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		count := len(got)
		mu.Unlock()
		if count == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("notification never delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if got[0].ChatID != "-1001" {
		t.Errorf("chat_id = %s, want -1001", got[0].ChatID)
	}
	if !strings.Contains(got[0].Message, "acct1") || !strings.Contains(got[0].Message, "TP1 hit") {
		t.Errorf("message = %q, want account prefix and text", got[0].Message)
	}
	cancel()
	<-done
}

func TestNotifySkipsUnroutedAccount(t *testing.T) {
	t.Parallel()
	n := New(config.NotifierConfig{Enabled: true, APIURL: "http://localhost:1", QueueSize: 1}, testAccounts(), testLogger())
	n.Notify("acct2", "no chat configured")
	n.Notify("unknown", "unknown account")
	if len(n.queue) != 0 {
		t.Errorf("queue length = %d, want 0", len(n.queue))
	}
}

func TestNotifyDisabledIsNoop(t *testing.T) {
	t.Parallel()
	n := New(config.NotifierConfig{Enabled: false, QueueSize: 1}, testAccounts(), testLogger())
	n.Notify("acct1", "ignored")
	if len(n.queue) != 0 {
		t.Errorf("queue length = %d, want 0 when disabled", len(n.queue))
	}
}

func TestNotifyDropsOnFullQueue(t *testing.T) {
	t.Parallel()
	n := New(config.NotifierConfig{Enabled: true, APIURL: "http://localhost:1", QueueSize: 1}, testAccounts(), testLogger())
	n.Notify("acct1", "first")
	n.Notify("acct1", "second") // queue full, dropped without blocking
	if len(n.queue) != 1 {
		t.Errorf("queue length = %d, want 1", len(n.queue))
	}
}
