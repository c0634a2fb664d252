package backsolve

import (
	"fmt"
	"math"
	"time"

	"opm_backsolve/pkg/core/audit"
	"opm_backsolve/pkg/core/solver"
	"opm_backsolve/pkg/core/waterfall"
	"opm_backsolve/pkg/logging"
)

// probabilitySumTolerance bounds how far normalized probabilities may
// drift from summing to exactly 1.
const probabilitySumTolerance = 1e-6

// WeightedBacksolve solves the PWERM variant: every fixed scenario
// contributes its probability-weighted per-share price, and the single
// backsolve-flagged scenario's enterprise value is solved so the blend
// hits the target.
//
// Each scenario prices the waterfall with its own Black-Scholes
// parameters; different exit paths legitimately carry different time
// horizons and volatilities.
func WeightedBacksolve(req *WeightedRequest) (*WeightedResult, error) {
	probs, backsolveIdx, err := validateWeightedRequest(req)
	if err != nil {
		return nil, err
	}

	trail := audit.NewTrail(req.SecurityClassID)
	started := time.Now()

	// Fixed scenarios price once; only the backsolve scenario varies
	// during iteration.
	fixedContribution := 0.0
	for i, sc := range req.Scenarios {
		if sc.IsBacksolve {
			continue
		}
		price, err := scenarioPrice(req, sc.EnterpriseValue, i)
		if err != nil {
			return nil, err
		}
		fixedContribution += probs[i] * price
		trail.Record("scenario", sc.EnterpriseValue, price, 0,
			fmt.Sprintf("fixed scenario %q p=%v", sc.Name, probs[i]))
	}

	bs := req.Scenarios[backsolveIdx]
	pBack := probs[backsolveIdx]

	objective := func(v float64) float64 {
		alloc, err := waterfall.Allocate(v, req.Breakpoints, req.ShareClassTotals, bs.Params)
		if err != nil {
			trail.Record("allocate", v, 0, -req.TargetFMV, err.Error())
			return fixedContribution
		}
		price, err := alloc.PriceOf(req.SecurityClassID)
		if err != nil {
			trail.Record("allocate", v, 0, -req.TargetFMV, err.Error())
			return fixedContribution
		}
		return fixedContribution + pBack*price
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

	// Build per-scenario breakdowns at the solved value.
	result := &WeightedResult{
		TargetFMV:              req.TargetFMV,
		EnterpriseValue:        res.Root,
		Converged:              res.Converged,
		Iterations:             res.Iterations,
		BacksolveScenarioIndex: backsolveIdx,
		ScenarioResults:        make([]ScenarioResult, 0, len(req.Scenarios)),
		Metadata: Metadata{
			StartedAt: started,
			Method:    res.Method,
			TrailID:   trail.ID(),
		},
	}

	blended := 0.0
	for i, sc := range req.Scenarios {
		ev := sc.EnterpriseValue
		if sc.IsBacksolve {
			ev = res.Root
		}
		alloc, err := waterfall.Allocate(ev, req.Breakpoints, req.ShareClassTotals, sc.Params)
		var price float64
		if err == nil {
			price, err = alloc.PriceOf(req.SecurityClassID)
		}
		if err != nil {
			// Fixed scenarios already priced above, so this is the
			// backsolve leg at a value the solver could not improve
			// on (typically 0 when no root exists). Keep the result
			// structured and flag the leg instead of failing.
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("scenario %q produced no valid allocation at value %v: %v", sc.Name, ev, err))
			result.ScenarioResults = append(result.ScenarioResults, ScenarioResult{
				Name:            sc.Name,
				Probability:     probs[i],
				EnterpriseValue: ev,
				IsBacksolve:     sc.IsBacksolve,
			})
			continue
		}
		alloc.RoundForReport()
		weighted := probs[i] * price
		blended += weighted
		result.ScenarioResults = append(result.ScenarioResults, ScenarioResult{
			Name:            sc.Name,
			Probability:     probs[i],
			EnterpriseValue: ev,
			FMV:             price,
			WeightedFMV:     weighted,
			IsBacksolve:     sc.IsBacksolve,
			Allocation:      alloc,
		})
	}

	result.ActualWeightedFMV = blended
	result.Error = blended - req.TargetFMV
	if !res.Converged {
		result.Warnings = append(result.Warnings,
			"root finder did not converge; result is the best estimate within the last bracket")
		logging.Default().Warn("weighted backsolve did not converge",
			"trail_id", trail.ID(),
			"security_class", req.SecurityClassID,
			"iterations", res.Iterations,
			"residual", res.Residual,
		)
	}
	trail.Record("finalize", res.Root, blended, result.Error, res.Method)
	result.Metadata.Duration = time.Since(started)
	result.Trail = trail.Events()
	return result, nil
}

// scenarioPrice prices one fixed scenario, wrapping failures with the
// scenario index so degenerate inputs are attributable.
func scenarioPrice(req *WeightedRequest, ev float64, idx int) (float64, error) {
	sc := req.Scenarios[idx]
	alloc, err := waterfall.Allocate(ev, req.Breakpoints, req.ShareClassTotals, sc.Params)
	if err != nil {
		return 0, &ScenarioError{Index: idx, Name: sc.Name, Err: err}
	}
	price, err := alloc.PriceOf(req.SecurityClassID)
	if err != nil {
		return 0, &ScenarioError{Index: idx, Name: sc.Name, Err: err}
	}
	return price, nil
}

// validateWeightedRequest checks the request shape and returns the
// normalized probability fractions plus the index of the backsolve
// scenario.
func validateWeightedRequest(req *WeightedRequest) ([]float64, int, error) {
	if req == nil {
		return nil, 0, invalid("request", "missing body")
	}
	if req.TargetFMV <= 0 {
		return nil, 0, invalid("target_fmv", "must be > 0, got %v", req.TargetFMV)
	}
	if req.SecurityClassID == "" {
		return nil, 0, invalid("security_class_id", "missing")
	}
	if req.TotalShares <= 0 {
		return nil, 0, invalid("total_shares", "must be > 0, got %v", req.TotalShares)
	}
	if len(req.Scenarios) < 2 {
		return nil, 0, invalid("scenarios", "need at least 2 scenarios, got %d", len(req.Scenarios))
	}
	for class, shares := range req.ShareClassTotals {
		if shares <= 0 {
			return nil, 0, invalid("share_class_totals", "class %q has non-positive share count %v", class, shares)
		}
	}
	if _, ok := req.ShareClassTotals[req.SecurityClassID]; !ok {
		return nil, 0, invalid("security_class_id", "class %q not present in share_class_totals", req.SecurityClassID)
	}
	if err := waterfall.Validate(req.Breakpoints); err != nil {
		return nil, 0, invalid("breakpoints", "%v", err)
	}

	divisor := 1.0
	switch req.ProbabilityFormat {
	case ProbabilityFraction, "":
		// fraction is the default
	case ProbabilityPercentage:
		divisor = 100.0
	default:
		return nil, 0, invalid("probability_format", "unknown format %q", req.ProbabilityFormat)
	}

	probs := make([]float64, len(req.Scenarios))
	backsolveIdx := -1
	sum := 0.0
	for i, sc := range req.Scenarios {
		field := fmt.Sprintf("scenarios[%d]", i)
		if sc.Probability < 0 {
			return nil, 0, invalid(field+".probability", "must be >= 0, got %v", sc.Probability)
		}
		probs[i] = sc.Probability / divisor
		sum += probs[i]
		if err := sc.Params.Validate(); err != nil {
			return nil, 0, invalid(field+".params", "%v", err)
		}
		if sc.IsBacksolve {
			if backsolveIdx >= 0 {
				return nil, 0, invalid("scenarios", "more than one scenario flagged is_backsolve (%d and %d)", backsolveIdx, i)
			}
			backsolveIdx = i
		} else if sc.EnterpriseValue <= 0 {
			return nil, 0, invalid(field+".enterprise_value", "fixed scenario %q requires a positive enterprise value", sc.Name)
		}
	}
	if backsolveIdx < 0 {
		return nil, 0, invalid("scenarios", "exactly one scenario must be flagged is_backsolve")
	}
	if math.Abs(sum-1) > probabilitySumTolerance {
		return nil, 0, invalid("scenarios", "probabilities sum to %v after normalization, must equal 1", sum)
	}
	return probs, backsolveIdx, nil
}
