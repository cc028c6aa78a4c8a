package mt5

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/yalvarez/trading-platform/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPoolLookup(t *testing.T) {
	t.Parallel()
	pool := NewPool([]types.Account{
		{Name: "alpha", Host: "10.0.0.1", Port: 18001},
		{Name: "beta", Host: "10.0.0.2", Port: 18002},
	}, 5*time.Second, testLogger())

	c, err := pool.Client("alpha")
	if err != nil {
		t.Fatalf("Client(alpha): %v", err)
	}
	if c.Account() != "alpha" {
		t.Errorf("Account() = %q, want alpha", c.Account())
	}

	if _, err := pool.Client("missing"); err == nil {
		t.Error("Client(missing) = nil error, want error")
	}
}

func TestPoolAccountsSorted(t *testing.T) {
	t.Parallel()
	pool := NewPool([]types.Account{
		{Name: "zeta"}, {Name: "alpha"}, {Name: "mid"},
	}, time.Second, testLogger())

	got := pool.Accounts()
	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("Accounts() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Accounts()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
