// Package backsolve inverts the OPM waterfall: given an observed
// per-share price for one security class, it solves for the enterprise
// value that reproduces it, either for a single scenario or for a
// probability-weighted (PWERM) set of scenarios.
package backsolve

import (
	"fmt"
	"time"

	"opm_backsolve/pkg/core/audit"
	"opm_backsolve/pkg/core/pricing"
	"opm_backsolve/pkg/core/waterfall"
)

// ValidationError names the request field that failed, so callers can
// correct and resubmit without reading solver internals.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ScenarioError attributes a failure to the scenario whose inputs were
// degenerate, so callers learn which leg of a weighted request to fix.
type ScenarioError struct {
	Index int
	Name  string
	Err   error
}

func (e *ScenarioError) Error() string {
	return fmt.Sprintf("scenario %d (%q): %v", e.Index, e.Name, e.Err)
}

func (e *ScenarioError) Unwrap() error { return e.Err }

// EngineError wraps an internal failure with the audit trail recorded
// up to the failure point, keeping the iteration history retrievable
// for debugging.
type EngineError struct {
	TrailID string
	Trail   []audit.Event
	Err     error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("backsolve failed (trail %s): %v", e.TrailID, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Request is a single-scenario backsolve. Constructed per call, consumed
// once, never persisted.
type Request struct {
	TargetFMV        float64                `json:"target_fmv"`
	SecurityClassID  string                 `json:"security_class_id"`
	Params           pricing.Params         `json:"params"`
	Breakpoints      []waterfall.Breakpoint `json:"breakpoints"`
	TotalShares      float64                `json:"total_shares"`
	ShareClassTotals map[string]float64     `json:"share_class_totals"`

	// Solver knobs; zero values take the solver defaults.
	Tolerance     float64 `json:"tolerance,omitempty"`
	MaxIterations int     `json:"max_iterations,omitempty"`
}

// Metadata carries run diagnostics alongside the numeric result.
type Metadata struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Method    string        `json:"method"`
	TrailID   string        `json:"trail_id"`
}

// Result is the outcome of a single-scenario backsolve. Converged=false
// still carries the best estimate and full diagnostics.
type Result struct {
	EnterpriseValue float64               `json:"enterprise_value"`
	TargetFMV       float64               `json:"target_fmv"`
	ActualFMV       float64               `json:"actual_fmv"`
	Error           float64               `json:"error"` // ActualFMV - TargetFMV
	Converged       bool                  `json:"converged"`
	Iterations      int                   `json:"iterations"`
	Allocation      *waterfall.Allocation `json:"allocation"`
	Metadata        Metadata              `json:"metadata"`
	Warnings        []string              `json:"warnings,omitempty"`
	Trail           []audit.Event         `json:"trail,omitempty"`
}

// ProbabilityFormat says how scenario probabilities were supplied.
type ProbabilityFormat string

const (
	ProbabilityFraction   ProbabilityFormat = "fraction"   // values in [0,1] summing to 1
	ProbabilityPercentage ProbabilityFormat = "percentage" // values in [0,100] summing to 100
)

// Scenario is one leg of a weighted (PWERM) backsolve. Exactly one
// scenario per request carries IsBacksolve=true; its EnterpriseValue is
// ignored and solved for, every other scenario's is fixed.
type Scenario struct {
	Name            string         `json:"name"`
	Probability     float64        `json:"probability"`
	Params          pricing.Params `json:"params"`
	EnterpriseValue float64        `json:"enterprise_value,omitempty"`
	IsBacksolve     bool           `json:"is_backsolve"`
}

// WeightedRequest is a multi-scenario backsolve whose probability-
// weighted blend of per-share prices must hit the target.
type WeightedRequest struct {
	TargetFMV         float64                `json:"target_fmv"`
	SecurityClassID   string                 `json:"security_class_id"`
	Scenarios         []Scenario             `json:"scenarios"`
	ProbabilityFormat ProbabilityFormat      `json:"probability_format"`
	Breakpoints       []waterfall.Breakpoint `json:"breakpoints"`
	TotalShares       float64                `json:"total_shares"`
	ShareClassTotals  map[string]float64     `json:"share_class_totals"`

	Tolerance     float64 `json:"tolerance,omitempty"`
	MaxIterations int     `json:"max_iterations,omitempty"`
}

// ScenarioResult is one scenario's contribution at the solved value.
type ScenarioResult struct {
	Name            string                `json:"name"`
	Probability     float64               `json:"probability"` // normalized fraction
	EnterpriseValue float64               `json:"enterprise_value"`
	FMV             float64               `json:"fmv"`
	WeightedFMV     float64               `json:"weighted_fmv"`
	IsBacksolve     bool                  `json:"is_backsolve"`
	Allocation      *waterfall.Allocation `json:"allocation,omitempty"`
}

// WeightedResult is the outcome of a weighted backsolve.
type WeightedResult struct {
	TargetFMV              float64          `json:"target_fmv"`
	ActualWeightedFMV      float64          `json:"actual_weighted_fmv"`
	Error                  float64          `json:"error"`
	EnterpriseValue        float64          `json:"enterprise_value"` // solved value of the backsolve scenario
	Converged              bool             `json:"converged"`
	Iterations             int              `json:"iterations"`
	BacksolveScenarioIndex int              `json:"backsolve_scenario_index"`
	ScenarioResults        []ScenarioResult `json:"scenario_results"`
	Metadata               Metadata         `json:"metadata"`
	Warnings               []string         `json:"warnings,omitempty"`
	Trail                  []audit.Event    `json:"trail,omitempty"`
}
