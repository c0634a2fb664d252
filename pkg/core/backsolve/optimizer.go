package backsolve

import (
	"time"

	"opm_backsolve/pkg/core/audit"
	"opm_backsolve/pkg/core/solver"
	"opm_backsolve/pkg/core/waterfall"
	"opm_backsolve/pkg/logging"
)

// Backsolve solves for the enterprise value whose waterfall allocation
// reproduces the target per-share price for the requested class.
//
// Validation failures return a *ValidationError before any iteration.
// Convergence failures are not errors: the result carries
// Converged=false with the best estimate, iteration count and residual,
// so the caller can decide whether an approximate answer is acceptable.
func Backsolve(req *Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	trail := audit.NewTrail(req.SecurityClassID)
	started := time.Now()

	objective := func(v float64) float64 {
		alloc, err := waterfall.Allocate(v, req.Breakpoints, req.ShareClassTotals, req.Params)
		if err != nil {
			// Unreachable after validation (v >= 0 from the solver,
			// breakpoints checked); treat as a zero price so the solver
			// keeps a consistent sign.
			trail.Record("allocate", v, 0, -req.TargetFMV, err.Error())
			return 0
		}
		price, err := alloc.PriceOf(req.SecurityClassID)
		if err != nil {
			trail.Record("allocate", v, 0, -req.TargetFMV, err.Error())
			return 0
		}
		return price
	}

	res := solver.Solve(objective, solver.Options{
		Target:        req.TargetFMV,
		Seed:          req.TargetFMV * req.TotalShares,
		Tolerance:     req.Tolerance,
		MaxIterations: req.MaxIterations,
		OnIteration: func(it solver.Iteration) {
			trail.Record(it.Method, it.X, it.FX+req.TargetFMV, it.FX, "")
		},
	})

	// Re-run the allocator at the root for the full per-class breakdown.
	alloc, err := waterfall.Allocate(res.Root, req.Breakpoints, req.ShareClassTotals, req.Params)
	var actual float64
	if err == nil {
		actual, err = alloc.PriceOf(req.SecurityClassID)
	}
	if err != nil {
		// Keep the iteration history retrievable even when the final
		// breakdown cannot be produced.
		return nil, &EngineError{TrailID: trail.ID(), Trail: trail.Events(), Err: err}
	}
	alloc.RoundForReport()

	trail.Record("finalize", res.Root, actual, actual-req.TargetFMV, res.Method)
	result := &Result{
		EnterpriseValue: res.Root,
		TargetFMV:       req.TargetFMV,
		ActualFMV:       actual,
		Error:           actual - req.TargetFMV,
		Converged:       res.Converged,
		Iterations:      res.Iterations,
		Allocation:      alloc,
		Metadata: Metadata{
			StartedAt: started,
			Duration:  time.Since(started),
			Method:    res.Method,
			TrailID:   trail.ID(),
		},
		Trail: trail.Events(),
	}
	if !res.Converged {
		result.Warnings = append(result.Warnings,
			"root finder did not converge; result is the best estimate within the last bracket")
		logging.Default().Warn("backsolve did not converge",
			"trail_id", trail.ID(),
			"security_class", req.SecurityClassID,
			"iterations", res.Iterations,
			"residual", res.Residual,
			"bracket_lo", res.BracketLo,
			"bracket_hi", res.BracketHi,
		)
	}
	return result, nil
}

func validateRequest(req *Request) error {
	if req == nil {
		return invalid("request", "missing body")
	}
	if req.TargetFMV <= 0 {
		return invalid("target_fmv", "must be > 0, got %v", req.TargetFMV)
	}
	if req.SecurityClassID == "" {
		return invalid("security_class_id", "missing")
	}
	if req.TotalShares <= 0 {
		return invalid("total_shares", "must be > 0, got %v", req.TotalShares)
	}
	if len(req.ShareClassTotals) == 0 {
		return invalid("share_class_totals", "missing")
	}
	for class, shares := range req.ShareClassTotals {
		if shares <= 0 {
			return invalid("share_class_totals", "class %q has non-positive share count %v", class, shares)
		}
	}
	if _, ok := req.ShareClassTotals[req.SecurityClassID]; !ok {
		return invalid("security_class_id", "class %q not present in share_class_totals", req.SecurityClassID)
	}
	if err := waterfall.Validate(req.Breakpoints); err != nil {
		return invalid("breakpoints", "%v", err)
	}
	if err := req.Params.Validate(); err != nil {
		return invalid("params", "%v", err)
	}
	if req.Tolerance < 0 {
		return invalid("tolerance", "must be >= 0, got %v", req.Tolerance)
	}
	if req.MaxIterations < 0 {
		return invalid("max_iterations", "must be >= 0, got %v", req.MaxIterations)
	}
	return nil
}
