// Package captable defines the collaborator ports the backsolve engine
// consumes — breakpoints, cap-table share counts, Black-Scholes
// defaults — plus the data-backed adapters behind them. The engine never
// fetches mid-iteration; handlers resolve everything up front through
// these interfaces.
package captable

import (
	"context"
	"fmt"

	"opm_backsolve/pkg/core/pricing"
	"opm_backsolve/pkg/core/waterfall"
)

// CapTable is the share structure of one valuation, as produced by the
// cap-table service.
type CapTable struct {
	ValuationID      string             `json:"valuation_id"`
	TotalShares      float64            `json:"total_shares"`
	ShareClassTotals map[string]float64 `json:"share_class_totals"`
	ObservedPrices   map[string]float64 `json:"observed_prices"` // class -> observed price per share
}

// BreakpointsProvider returns the ordered breakpoint schedule for a
// valuation, produced by the external waterfall-allocation collaborator.
type BreakpointsProvider interface {
	Breakpoints(ctx context.Context, valuationID string) ([]waterfall.Breakpoint, error)
}

// CapTableProvider returns share counts and observed prices.
type CapTableProvider interface {
	CapTable(ctx context.Context, valuationID string) (*CapTable, error)
}

// DefaultsProvider supplies Black-Scholes defaults used when a request
// omits overrides.
type DefaultsProvider interface {
	Defaults(ctx context.Context) (pricing.Params, error)
}

// UpstreamError wraps a collaborator failure with what was requested, so
// the boundary can distinguish it from validation and convergence
// failures.
type UpstreamError struct {
	Resource string // "breakpoints", "cap_table"
	Key      string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s fetch failed for %q: %v", e.Resource, e.Key, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StaticDefaults is a DefaultsProvider backed by service configuration.
type StaticDefaults struct {
	Params pricing.Params
}

func (s StaticDefaults) Defaults(ctx context.Context) (pricing.Params, error) {
	return s.Params, nil
}
