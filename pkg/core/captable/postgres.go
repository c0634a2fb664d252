package captable

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"opm_backsolve/pkg/core/waterfall"
)

var (
	pool     *pgxpool.Pool
	poolOnce sync.Once
)

// InitDB initializes the shared connection pool from a database URL.
// Only the first call takes effect.
func InitDB(ctx context.Context, databaseURL string) error {
	var err error
	poolOnce.Do(func() {
		if databaseURL == "" {
			err = fmt.Errorf("database URL not set")
			return
		}
		cfg, parseErr := pgxpool.ParseConfig(databaseURL)
		if parseErr != nil {
			err = fmt.Errorf("failed to parse database config: %w", parseErr)
			return
		}
		pool, err = pgxpool.NewWithConfig(ctx, cfg)
	})
	return err
}

// Close releases the pool.
func Close() {
	if pool != nil {
		pool.Close()
	}
}

// PostgresStore serves breakpoints and cap tables from Postgres. Both
// live as JSONB documents keyed by valuation ID:
//
//	CREATE TABLE IF NOT EXISTS valuation_breakpoints (
//	  valuation_id TEXT PRIMARY KEY,
//	  breakpoints_json JSONB NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE IF NOT EXISTS valuation_cap_tables (
//	  valuation_id TEXT PRIMARY KEY,
//	  cap_table_json JSONB NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct{}

// NewPostgresStore returns a store using the shared pool; call InitDB
// first.
func NewPostgresStore() *PostgresStore { return &PostgresStore{} }

func (s *PostgresStore) Breakpoints(ctx context.Context, valuationID string) ([]waterfall.Breakpoint, error) {
	if pool == nil {
		return nil, &UpstreamError{Resource: "breakpoints", Key: valuationID, Err: fmt.Errorf("database pool not initialized")}
	}
	var raw []byte
	err := pool.QueryRow(ctx,
		`SELECT breakpoints_json FROM valuation_breakpoints WHERE valuation_id = $1`,
		valuationID).Scan(&raw)
	if err != nil {
		return nil, &UpstreamError{Resource: "breakpoints", Key: valuationID, Err: err}
	}
	var bps []waterfall.Breakpoint
	if err := json.Unmarshal(raw, &bps); err != nil {
		return nil, &UpstreamError{Resource: "breakpoints", Key: valuationID, Err: fmt.Errorf("malformed row: %w", err)}
	}
	return bps, nil
}

func (s *PostgresStore) CapTable(ctx context.Context, valuationID string) (*CapTable, error) {
	if pool == nil {
		return nil, &UpstreamError{Resource: "cap_table", Key: valuationID, Err: fmt.Errorf("database pool not initialized")}
	}
	var raw []byte
	err := pool.QueryRow(ctx,
		`SELECT cap_table_json FROM valuation_cap_tables WHERE valuation_id = $1`,
		valuationID).Scan(&raw)
	if err != nil {
		return nil, &UpstreamError{Resource: "cap_table", Key: valuationID, Err: err}
	}
	var ct CapTable
	if err := json.Unmarshal(raw, &ct); err != nil {
		return nil, &UpstreamError{Resource: "cap_table", Key: valuationID, Err: fmt.Errorf("malformed row: %w", err)}
	}
	ct.ValuationID = valuationID
	return &ct, nil
}

// SaveBreakpoints upserts a breakpoint schedule, mirroring the upsert
// idiom used elsewhere in the service.
func (s *PostgresStore) SaveBreakpoints(ctx context.Context, valuationID string, bps []waterfall.Breakpoint) error {
	if pool == nil {
		return fmt.Errorf("database pool not initialized")
	}
	raw, err := json.Marshal(bps)
	if err != nil {
		return fmt.Errorf("failed to marshal breakpoints: %w", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO valuation_breakpoints (valuation_id, breakpoints_json, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (valuation_id)
		DO UPDATE SET breakpoints_json = EXCLUDED.breakpoints_json, updated_at = EXCLUDED.updated_at;
	`, valuationID, raw, time.Now())
	return err
}

// SaveCapTable upserts a cap table document.
func (s *PostgresStore) SaveCapTable(ctx context.Context, ct *CapTable) error {
	if pool == nil {
		return fmt.Errorf("database pool not initialized")
	}
	raw, err := json.Marshal(ct)
	if err != nil {
		return fmt.Errorf("failed to marshal cap table: %w", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO valuation_cap_tables (valuation_id, cap_table_json, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (valuation_id)
		DO UPDATE SET cap_table_json = EXCLUDED.cap_table_json, updated_at = EXCLUDED.updated_at;
	`, ct.ValuationID, raw, time.Now())
	return err
}
