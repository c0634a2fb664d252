package backsolve

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	core "opm_backsolve/pkg/core/backsolve"
	"opm_backsolve/pkg/core/captable"
	"opm_backsolve/pkg/core/pricing"
	"opm_backsolve/pkg/core/waterfall"
)

func seededStore() *captable.MemoryStore {
	store := captable.NewMemoryStore()
	store.PutCapTable(&captable.CapTable{
		ValuationID: "val-2026-06",
		TotalShares: 5_000_000,
		ShareClassTotals: map[string]float64{
			"preferred-a": 1_000_000,
			"common":      4_000_000,
			"observer":    500_000,
		},
		ObservedPrices: map[string]float64{"common": 1.45},
	})
	store.PutBreakpoints("val-2026-06", []waterfall.Breakpoint{
		{
			Value: 0,
			Kind:  waterfall.KindLiquidationPreference,
			Participants: []waterfall.Participant{
				{SecurityClass: "preferred-a", ParticipatingShares: 1_000_000, ParticipationPercent: 1},
			},
		},
		{
			Value: 2_000_000,
			Kind:  waterfall.KindProRata,
			Participants: []waterfall.Participant{
				{SecurityClass: "preferred-a", ParticipatingShares: 1_000_000, ParticipationPercent: 0.2},
				{SecurityClass: "common", ParticipatingShares: 4_000_000, ParticipationPercent: 0.8},
			},
		},
	})
	return store
}

func testHandler() *Handler {
	store := seededStore()
	defaults := captable.StaticDefaults{Params: pricing.Params{
		TimeToLiquidity: 2.0,
		Volatility:      0.5,
		RiskFreeRate:    0.04,
	}}
	presets, _ := ParsePresets([]byte(`{
		// near-term IPO path
		ipo: { time_to_liquidity: 1.0, volatility: 0.6, risk_free_rate: 0.04 }
	}`))
	return NewHandler(store, store, defaults, presets)
}

func post(t *testing.T, h http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestHandleBacksolve_OK(t *testing.T) {
	h := testHandler()
	rec := post(t, h.HandleBacksolve, map[string]interface{}{
		"valuation_id":      "val-2026-06",
		"security_class_id": "common",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var res core.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Converged {
		t.Errorf("expected convergence, got %+v", res)
	}
	// Target falls back to the observed price on file.
	if res.TargetFMV != 1.45 {
		t.Errorf("target = %v, want observed 1.45", res.TargetFMV)
	}
	if res.EnterpriseValue <= 0 {
		t.Errorf("enterprise value = %v", res.EnterpriseValue)
	}
	if len(res.Trail) == 0 {
		t.Error("response missing audit trail")
	}
}

func TestHandleBacksolve_ExplicitTargetAndOverrides(t *testing.T) {
	h := testHandler()
	rec := post(t, h.HandleBacksolve, map[string]interface{}{
		"valuation_id":      "val-2026-06",
		"security_class_id": "common",
		"target_fmv":        2.00,
		"volatility":        0.75,
		"time_to_liquidity": 1.0,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var res core.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.TargetFMV != 2.00 {
		t.Errorf("target = %v, want 2.00", res.TargetFMV)
	}
}

func TestHandleBacksolve_MissingFieldsRejected(t *testing.T) {
	h := testHandler()
	rec := post(t, h.HandleBacksolve, map[string]interface{}{
		"security_class_id": "common",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
}

func TestHandleBacksolve_UnknownValuationIs502(t *testing.T) {
	h := testHandler()
	rec := post(t, h.HandleBacksolve, map[string]interface{}{
		"valuation_id":      "missing",
		"security_class_id": "common",
	})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status %d, want 502", rec.Code)
	}
}

func TestHandleBacksolve_NegativeTargetRejected(t *testing.T) {
	h := testHandler()
	rec := post(t, h.HandleBacksolve, map[string]interface{}{
		"valuation_id":      "val-2026-06",
		"security_class_id": "common",
		"target_fmv":        -1.0,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
}

func TestHandleWeighted_OK(t *testing.T) {
	h := testHandler()
	rec := post(t, h.HandleWeighted, map[string]interface{}{
		"valuation_id":       "val-2026-06",
		"security_class_id":  "common",
		"probability_format": "percentage",
		"scenarios": []map[string]interface{}{
			{"name": "ipo", "preset": "ipo", "probability": 55, "is_backsolve": true},
			{"name": "downside", "probability": 45, "enterprise_value": 3_000_000, "time_to_liquidity": 3.0},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var res core.WeightedResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Converged {
		t.Fatalf("expected convergence: %+v", res)
	}
	if res.BacksolveScenarioIndex != 0 {
		t.Errorf("backsolve index = %d, want 0", res.BacksolveScenarioIndex)
	}
	if len(res.ScenarioResults) != 2 {
		t.Fatalf("got %d scenario results, want 2", len(res.ScenarioResults))
	}
	// Preset params flow into the solved scenario.
	if got := res.ScenarioResults[0].Probability; got != 0.55 {
		t.Errorf("normalized probability = %v, want 0.55", got)
	}
}

func TestHandleWeighted_UnknownPresetRejected(t *testing.T) {
	h := testHandler()
	rec := post(t, h.HandleWeighted, map[string]interface{}{
		"valuation_id":      "val-2026-06",
		"security_class_id": "common",
		"scenarios": []map[string]interface{}{
			{"name": "a", "preset": "mars-landing", "probability": 0.5, "is_backsolve": true},
			{"name": "b", "probability": 0.5, "enterprise_value": 1_000_000},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
}

func TestHandleWeighted_BadScenarioCountRejected(t *testing.T) {
	h := testHandler()
	rec := post(t, h.HandleWeighted, map[string]interface{}{
		"valuation_id":      "val-2026-06",
		"security_class_id": "common",
		"scenarios": []map[string]interface{}{
			{"name": "only", "probability": 1, "is_backsolve": true},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
}

func TestHandleWeighted_DegenerateScenarioIs422(t *testing.T) {
	// A fixed scenario whose enterprise value sits below the class's
	// breakpoint at zero time to liquidity cannot price the class. The
	// response must name the scenario rather than collapse to a 500.
	h := testHandler()
	rec := post(t, h.HandleWeighted, map[string]interface{}{
		"valuation_id":       "val-2026-06",
		"security_class_id":  "common",
		"probability_format": "percentage",
		"scenarios": []map[string]interface{}{
			{"name": "ipo", "preset": "ipo", "probability": 55, "is_backsolve": true},
			{"name": "downside", "probability": 45, "enterprise_value": 1_000_000, "time_to_liquidity": 0},
		},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, want 422: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"downside"`) {
		t.Errorf("body should name the failed scenario: %s", rec.Body.String())
	}
}

func TestHandleBacksolve_UnpriceableClassKeepsTrailID(t *testing.T) {
	// "observer" holds shares but participates in no breakpoint, so it
	// can never be priced. The 500 carries the trail id for follow-up.
	h := testHandler()
	rec := post(t, h.HandleBacksolve, map[string]interface{}{
		"valuation_id":      "val-2026-06",
		"security_class_id": "observer",
		"target_fmv":        1.0,
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "trail") {
		t.Errorf("body should reference the audit trail: %s", rec.Body.String())
	}
}

func TestHandleBacksolve_MethodNotAllowed(t *testing.T) {
	h := testHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.HandleBacksolve(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status %d, want 405", rec.Code)
	}
}
