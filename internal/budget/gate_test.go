package budget

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	path := filepath.Join(t.TempDir(), "budget.db")
	g, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestCheckAndLog_AccumulatesWithinLimit(t *testing.T) {
	g := newTestGate(t)
	g.Default = Limits{MaxCallsPerDay: 10, MaxCostUSDPerDay: 5.0}

	ctx := context.Background()
	if err := g.CheckAndLog(ctx, "opencode", 3, 1.0); err != nil {
		t.Fatalf("CheckAndLog: %v", err)
	}
	if err := g.CheckAndLog(ctx, "opencode", 3, 1.0); err != nil {
		t.Fatalf("CheckAndLog: %v", err)
	}
}

func TestCheckAndLog_RejectsOverCallLimit(t *testing.T) {
	g := newTestGate(t)
	g.Default = Limits{MaxCallsPerDay: 2, MaxCostUSDPerDay: 1000}

	ctx := context.Background()
	if err := g.CheckAndLog(ctx, "opencode", 2, 0); err != nil {
		t.Fatalf("CheckAndLog: %v", err)
	}

	err := g.CheckAndLog(ctx, "opencode", 1, 0)
	var exceeded *Exceeded
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected *Exceeded, got %v", err)
	}
}

func TestCheckAndLog_RejectsOverCostLimit(t *testing.T) {
	g := newTestGate(t)
	g.Default = Limits{MaxCallsPerDay: 1000, MaxCostUSDPerDay: 1.0}

	ctx := context.Background()
	if err := g.CheckAndLog(ctx, "opencode", 1, 0.9); err != nil {
		t.Fatalf("CheckAndLog: %v", err)
	}

	err := g.CheckAndLog(ctx, "opencode", 1, 0.2)
	var exceeded *Exceeded
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected *Exceeded, got %v", err)
	}
}

func TestCheckAndLog_PerWorkerOverride(t *testing.T) {
	g := newTestGate(t)
	g.Default = Limits{MaxCallsPerDay: 1000, MaxCostUSDPerDay: 1000}
	g.PerWorker = map[string]Limits{
		"anthropic": {MaxCallsPerDay: 1, MaxCostUSDPerDay: 1000},
	}

	ctx := context.Background()
	if err := g.CheckAndLog(ctx, "anthropic", 1, 0); err != nil {
		t.Fatalf("CheckAndLog: %v", err)
	}
	if err := g.CheckAndLog(ctx, "anthropic", 1, 0); err == nil {
		t.Fatal("expected second call to exceed the anthropic-specific limit")
	}
	// The default worker's own budget is unaffected.
	if err := g.CheckAndLog(ctx, "opencode", 500, 0); err != nil {
		t.Fatalf("CheckAndLog: %v", err)
	}
}

func TestCheckAndLog_ConcurrentCallsNeverOverrunLimit(t *testing.T) {
	g := newTestGate(t)
	g.Default = Limits{MaxCallsPerDay: 5, MaxCostUSDPerDay: 1000}

	ctx := context.Background()
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.CheckAndLog(ctx, "opencode", 1, 0); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 5 {
		t.Errorf("expected exactly 5 successful calls under the limit of 5, got %d", successes)
	}
}
