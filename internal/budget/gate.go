// Package budget enforces daily per-worker spend and call-count ceilings
// using a SQLite-backed counter table, so concurrent runners sharing one
// database never race a check-then-write past the configured maxima.
package budget

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Exceeded is returned by CheckAndLog when logging this call would push
// either the call count or the cost past its configured daily maximum.
type Exceeded struct {
	Worker      string
	Date        string
	CallsUsed   int
	CallsMax    int
	CostUSDUsed float64
	CostUSDMax  float64
}

func (e *Exceeded) Error() string {
	return fmt.Sprintf("budget exceeded for worker %q on %s: calls %d/%d, cost $%.4f/$%.4f",
		e.Worker, e.Date, e.CallsUsed, e.CallsMax, e.CostUSDUsed, e.CostUSDMax)
}

// Limits are the daily maxima applied per worker name. A zero (or
// negative) field disables that ceiling; Open seeds Gate.Default with
// DefaultMaxCalls/DefaultMaxCostUSD.
type Limits struct {
	MaxCallsPerDay   int
	MaxCostUSDPerDay float64
}

const (
	DefaultMaxCalls   = 500
	DefaultMaxCostUSD = 50.0
)

// Gate is a SQLite-backed daily (date, worker) counter table, guarded by
// BEGIN IMMEDIATE so the check-then-write is atomic across processes.
type Gate struct {
	db *sql.DB

	// PerWorker overrides the default limits for specific worker names.
	PerWorker map[string]Limits
	Default   Limits
}

// Open creates (or reuses) the SQLite database at path and ensures the
// counters table exists.
func Open(path string) (*Gate, error) {
	// _txlock=immediate makes every BeginTx issue BEGIN IMMEDIATE.
	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening budget database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("executing %s: %w", pragma, err)
		}
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS worker_budget (
		day        TEXT NOT NULL,
		worker     TEXT NOT NULL,
		api_calls  INTEGER NOT NULL DEFAULT 0,
		cost_usd   REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (day, worker)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating worker_budget table: %w", err)
	}

	return &Gate{db: db, Default: Limits{MaxCallsPerDay: DefaultMaxCalls, MaxCostUSDPerDay: DefaultMaxCostUSD}}, nil
}

// Close closes the underlying database handle.
func (g *Gate) Close() error {
	return g.db.Close()
}

func (g *Gate) limitsFor(worker string) Limits {
	if l, ok := g.PerWorker[worker]; ok {
		return l
	}
	return g.Default
}

// CheckAndLog reads today's aggregate for worker, compares the
// prospective total (existing + calls/costUSD) against the configured
// daily maxima, and either commits the increment or raises *Exceeded —
// all inside a single BEGIN IMMEDIATE transaction, so two runners
// racing the same worker's budget can never both pass the check.
func (g *Gate) CheckAndLog(ctx context.Context, worker string, calls int, costUSD float64) error {
	limits := g.limitsFor(worker)
	day := time.Now().UTC().Format("2006-01-02")

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning budget transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("setting busy timeout: %w", err)
	}
	// BEGIN IMMEDIATE acquires the write lock up front, eliminating the
	// check-then-write race between concurrent runners.
	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO worker_budget (day, worker) VALUES (?, ?)", day, worker); err != nil {
		return fmt.Errorf("seeding budget row: %w", err)
	}

	var usedCalls int
	var usedCost float64
	row := tx.QueryRowContext(ctx, "SELECT api_calls, cost_usd FROM worker_budget WHERE day = ? AND worker = ?", day, worker)
	if err := row.Scan(&usedCalls, &usedCost); err != nil {
		return fmt.Errorf("reading budget row: %w", err)
	}

	nextCalls := usedCalls + calls
	nextCost := usedCost + costUSD

	if (limits.MaxCallsPerDay > 0 && nextCalls > limits.MaxCallsPerDay) ||
		(limits.MaxCostUSDPerDay > 0 && nextCost > limits.MaxCostUSDPerDay) {
		return &Exceeded{
			Worker:      worker,
			Date:        day,
			CallsUsed:   usedCalls,
			CallsMax:    limits.MaxCallsPerDay,
			CostUSDUsed: usedCost,
			CostUSDMax:  limits.MaxCostUSDPerDay,
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE worker_budget SET api_calls = ?, cost_usd = ? WHERE day = ? AND worker = ?",
		nextCalls, nextCost, day, worker); err != nil {
		return fmt.Errorf("updating budget row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing budget transaction: %w", err)
	}
	return nil
}
