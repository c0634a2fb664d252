package backsolve

import (
	"errors"
	"math"
	"strings"
	"testing"

	"opm_backsolve/pkg/core/pricing"
	"opm_backsolve/pkg/core/waterfall"
)

func weightedRequest() *WeightedRequest {
	return &WeightedRequest{
		TargetFMV:       1.80,
		SecurityClassID: "common",
		Scenarios: []Scenario{
			{
				Name:        "ipo",
				Probability: 0.6,
				Params:      pricing.Params{TimeToLiquidity: 1.5, Volatility: 0.55, RiskFreeRate: 0.04},
				IsBacksolve: true,
			},
			{
				Name:            "acquisition",
				Probability:     0.4,
				Params:          pricing.Params{TimeToLiquidity: 3.0, Volatility: 0.40, RiskFreeRate: 0.035},
				EnterpriseValue: 12_000_000,
			},
		},
		ProbabilityFormat: ProbabilityFraction,
		Breakpoints:       testBreakpoints(),
		TotalShares:       7_500_000,
		ShareClassTotals: map[string]float64{
			"preferred-a": 1_500_000,
			"common":      6_000_000,
		},
	}
}

func TestWeightedBacksolve_Consistency(t *testing.T) {
	// p·P1 + (1-p)·P2 must equal the target within tolerance, where P2
	// comes from the fixed scenario and P1 from the solved one.
	req := weightedRequest()
	res, err := WeightedBacksolve(req)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Converged {
		t.Fatalf("did not converge: %+v", res)
	}
	if math.Abs(res.ActualWeightedFMV-req.TargetFMV) > 1e-4 {
		t.Errorf("blended FMV = %v, want %v", res.ActualWeightedFMV, req.TargetFMV)
	}

	// Recompute each leg independently.
	blend := 0.0
	for _, sr := range res.ScenarioResults {
		alloc, err := waterfall.Allocate(sr.EnterpriseValue, req.Breakpoints, req.ShareClassTotals, req.Scenarios[indexOf(t, res, sr.Name)].Params)
		if err != nil {
			t.Fatal(err)
		}
		price, err := alloc.PriceOf("common")
		if err != nil {
			t.Fatal(err)
		}
		blend += sr.Probability * price
	}
	if math.Abs(blend-req.TargetFMV) > 1e-4 {
		t.Errorf("independently recomputed blend = %v, want %v", blend, req.TargetFMV)
	}
	if res.BacksolveScenarioIndex != 0 {
		t.Errorf("backsolve scenario index = %d, want 0", res.BacksolveScenarioIndex)
	}
}

func indexOf(t *testing.T, res *WeightedResult, name string) int {
	t.Helper()
	for i, sr := range res.ScenarioResults {
		if sr.Name == name {
			return i
		}
	}
	t.Fatalf("scenario %q missing from results", name)
	return -1
}

func TestWeightedBacksolve_PercentageFormat(t *testing.T) {
	req := weightedRequest()
	req.ProbabilityFormat = ProbabilityPercentage
	req.Scenarios[0].Probability = 60
	req.Scenarios[1].Probability = 40
	res, err := WeightedBacksolve(req)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Converged {
		t.Fatalf("did not converge: %+v", res)
	}
	if math.Abs(res.ScenarioResults[0].Probability-0.6) > 1e-12 {
		t.Errorf("normalized probability = %v, want 0.6", res.ScenarioResults[0].Probability)
	}
}

func TestWeightedBacksolve_PerScenarioParamsMatter(t *testing.T) {
	// Doubling the fixed scenario's time horizon changes its price and
	// therefore the solved enterprise value of the backsolve leg.
	base, err := WeightedBacksolve(weightedRequest())
	if err != nil {
		t.Fatal(err)
	}
	bumped := weightedRequest()
	bumped.Scenarios[1].Params.TimeToLiquidity = 6.0
	alt, err := WeightedBacksolve(bumped)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(base.EnterpriseValue-alt.EnterpriseValue) < 1 {
		t.Errorf("per-scenario params ignored: EV %v vs %v", base.EnterpriseValue, alt.EnterpriseValue)
	}
}

func TestWeightedBacksolve_ValidationErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*WeightedRequest)
	}{
		{"one scenario", func(r *WeightedRequest) { r.Scenarios = r.Scenarios[:1] }},
		{"no backsolve flag", func(r *WeightedRequest) {
			r.Scenarios[0].IsBacksolve = false
			r.Scenarios[0].EnterpriseValue = 1e6
		}},
		{"two backsolve flags", func(r *WeightedRequest) { r.Scenarios[1].IsBacksolve = true }},
		{"fixed scenario missing value", func(r *WeightedRequest) { r.Scenarios[1].EnterpriseValue = 0 }},
		{"probabilities off", func(r *WeightedRequest) { r.Scenarios[1].Probability = 0.25 }},
		{"negative probability", func(r *WeightedRequest) {
			r.Scenarios[0].Probability = -0.6
			r.Scenarios[1].Probability = 1.6
		}},
		{"bad format", func(r *WeightedRequest) { r.ProbabilityFormat = "basis_points" }},
		{"zero target", func(r *WeightedRequest) { r.TargetFMV = 0 }},
		{"unknown class", func(r *WeightedRequest) { r.SecurityClassID = "series-z" }},
	}
	for _, tc := range cases {
		req := weightedRequest()
		tc.mutate(req)
		_, err := WeightedBacksolve(req)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}
}

func TestWeightedBacksolve_DefaultFormatIsFraction(t *testing.T) {
	req := weightedRequest()
	req.ProbabilityFormat = ""
	if _, err := WeightedBacksolve(req); err != nil {
		t.Fatalf("empty probability format should default to fraction: %v", err)
	}
}

func TestWeightedBacksolve_FixedLegsAboveTarget(t *testing.T) {
	// The fixed scenario's weighted price alone overshoots the target,
	// so no enterprise value for the backsolve leg can hit it. That is
	// a non-convergence outcome, not an error: the result must come
	// back structured with the backsolve leg flagged in the warnings.
	req := weightedRequest()
	req.TargetFMV = 0.05
	res, err := WeightedBacksolve(req)
	if err != nil {
		t.Fatalf("convergence failure surfaced as hard error: %v", err)
	}
	if res.Converged {
		t.Fatalf("expected Converged=false, got %+v", res)
	}
	if len(res.ScenarioResults) != len(req.Scenarios) {
		t.Fatalf("scenario results = %d, want %d", len(res.ScenarioResults), len(req.Scenarios))
	}
	back := res.ScenarioResults[res.BacksolveScenarioIndex]
	if back.Allocation != nil || back.FMV != 0 {
		t.Errorf("backsolve leg should carry no allocation at value %v: %+v", back.EnterpriseValue, back)
	}
	var named bool
	for _, w := range res.Warnings {
		if strings.Contains(w, `"ipo"`) {
			named = true
		}
	}
	if !named {
		t.Errorf("warnings should name the failed scenario, got %v", res.Warnings)
	}
	if res.ActualWeightedFMV <= req.TargetFMV {
		t.Errorf("blended FMV %v should still exceed the unreachable target %v", res.ActualWeightedFMV, req.TargetFMV)
	}
}

func TestWeightedBacksolve_DegenerateFixedScenario(t *testing.T) {
	// A fixed scenario whose intrinsic value never reaches the class's
	// breakpoint cannot price that class; the error must say which
	// scenario to fix.
	req := weightedRequest()
	req.Scenarios[1].Params = pricing.Params{}
	req.Scenarios[1].EnterpriseValue = 1_000_000
	_, err := WeightedBacksolve(req)
	var serr *ScenarioError
	if !errors.As(err, &serr) {
		t.Fatalf("expected ScenarioError, got %v", err)
	}
	if serr.Index != 1 || serr.Name != "acquisition" {
		t.Errorf("error attributed to scenario %d (%q), want 1 (\"acquisition\")", serr.Index, serr.Name)
	}
}

func TestWeightedBacksolve_TrailCoversScenariosAndIterations(t *testing.T) {
	res, err := WeightedBacksolve(weightedRequest())
	if err != nil {
		t.Fatal(err)
	}
	var sawScenario, sawFinalize bool
	for _, ev := range res.Trail {
		switch ev.Stage {
		case "scenario":
			sawScenario = true
		case "finalize":
			sawFinalize = true
		}
	}
	if !sawScenario {
		t.Error("trail missing fixed-scenario pricing events")
	}
	if !sawFinalize {
		t.Error("trail missing finalize event")
	}
}
