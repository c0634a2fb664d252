// Package backsolve exposes the single and weighted backsolve
// operations over HTTP JSON. Handlers resolve breakpoints, cap tables
// and Black-Scholes defaults through collaborator ports before invoking
// the core engine; nothing is fetched mid-iteration.
package backsolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	core "opm_backsolve/pkg/core/backsolve"
	"opm_backsolve/pkg/core/captable"
	"opm_backsolve/pkg/core/pricing"
	"opm_backsolve/pkg/core/waterfall"
	"opm_backsolve/pkg/logging"
)

// Handler holds the collaborator ports for the backsolve endpoints.
type Handler struct {
	Breakpoints captable.BreakpointsProvider
	CapTables   captable.CapTableProvider
	Defaults    captable.DefaultsProvider
	Presets     Presets

	log      *slog.Logger
	validate *validator.Validate
}

// NewHandler wires the backsolve endpoints. presets may be nil when no
// scenario preset file is configured.
func NewHandler(bp captable.BreakpointsProvider, ct captable.CapTableProvider, def captable.DefaultsProvider, presets Presets) *Handler {
	return &Handler{
		Breakpoints: bp,
		CapTables:   ct,
		Defaults:    def,
		Presets:     presets,
		log:         logging.Default(),
		validate:    validator.New(),
	}
}

// BacksolveRequest is the wire shape of POST /api/backsolve. Omitted
// Black-Scholes fields fall back to the configured defaults; an omitted
// target uses the observed price from the cap table.
type BacksolveRequest struct {
	ValuationID     string   `json:"valuation_id" validate:"required"`
	SecurityClassID string   `json:"security_class_id" validate:"required"`
	TargetFMV       *float64 `json:"target_fmv,omitempty" validate:"omitempty,gt=0"`
	Volatility      *float64 `json:"volatility,omitempty" validate:"omitempty,gt=0"`
	RiskFreeRate    *float64 `json:"risk_free_rate,omitempty"`
	TimeToLiquidity *float64 `json:"time_to_liquidity,omitempty" validate:"omitempty,gte=0"`
	DividendYield   *float64 `json:"dividend_yield,omitempty" validate:"omitempty,gte=0"`
	Tolerance       float64  `json:"tolerance,omitempty" validate:"gte=0"`
	MaxIterations   int      `json:"max_iterations,omitempty" validate:"gte=0"`
}

// WeightedScenario is one scenario leg on the wire. A preset name pulls
// Black-Scholes parameters from the configured preset file; explicit
// fields override the preset, and anything still unset falls back to
// the service defaults.
type WeightedScenario struct {
	Name            string   `json:"name" validate:"required"`
	Preset          string   `json:"preset,omitempty"`
	Probability     float64  `json:"probability" validate:"gte=0"`
	Volatility      *float64 `json:"volatility,omitempty" validate:"omitempty,gt=0"`
	RiskFreeRate    *float64 `json:"risk_free_rate,omitempty"`
	TimeToLiquidity *float64 `json:"time_to_liquidity,omitempty" validate:"omitempty,gte=0"`
	DividendYield   *float64 `json:"dividend_yield,omitempty" validate:"omitempty,gte=0"`
	EnterpriseValue *float64 `json:"enterprise_value,omitempty" validate:"omitempty,gt=0"`
	IsBacksolve     bool     `json:"is_backsolve"`
}

// WeightedRequest is the wire shape of POST /api/backsolve/weighted.
type WeightedRequest struct {
	ValuationID       string             `json:"valuation_id" validate:"required"`
	SecurityClassID   string             `json:"security_class_id" validate:"required"`
	TargetFMV         *float64           `json:"target_fmv,omitempty" validate:"omitempty,gt=0"`
	ProbabilityFormat string             `json:"probability_format,omitempty" validate:"omitempty,oneof=fraction percentage"`
	Scenarios         []WeightedScenario `json:"scenarios" validate:"required,min=2,dive"`
	Tolerance         float64            `json:"tolerance,omitempty" validate:"gte=0"`
	MaxIterations     int                `json:"max_iterations,omitempty" validate:"gte=0"`
}

func cors(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// HandleBacksolve serves POST /api/backsolve.
func (h *Handler) HandleBacksolve(w http.ResponseWriter, r *http.Request) {
	cors(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BacksolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("malformed request body: %v", err), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	ct, bps, status, err := h.resolveInputs(ctx, req.ValuationID)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	params, err := h.resolveParams(r, req.Volatility, req.RiskFreeRate, req.TimeToLiquidity, req.DividendYield, "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	target, err := resolveTarget(req.TargetFMV, ct, req.SecurityClassID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := core.Backsolve(&core.Request{
		TargetFMV:        target,
		SecurityClassID:  req.SecurityClassID,
		Params:           params,
		Breakpoints:      bps,
		TotalShares:      ct.TotalShares,
		ShareClassTotals: ct.ShareClassTotals,
		Tolerance:        req.Tolerance,
		MaxIterations:    req.MaxIterations,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	h.log.Info("backsolve complete",
		"valuation_id", req.ValuationID,
		"security_class", req.SecurityClassID,
		"enterprise_value", result.EnterpriseValue,
		"converged", result.Converged,
		"iterations", result.Iterations,
	)
	writeJSON(w, result)
}

// HandleWeighted serves POST /api/backsolve/weighted.
func (h *Handler) HandleWeighted(w http.ResponseWriter, r *http.Request) {
	cors(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req WeightedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("malformed request body: %v", err), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	ct, bps, status, err := h.resolveInputs(ctx, req.ValuationID)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	scenarios := make([]core.Scenario, 0, len(req.Scenarios))
	for i, sc := range req.Scenarios {
		params, err := h.resolveParams(r, sc.Volatility, sc.RiskFreeRate, sc.TimeToLiquidity, sc.DividendYield, sc.Preset)
		if err != nil {
			http.Error(w, fmt.Sprintf("scenarios[%d]: %v", i, err), http.StatusBadRequest)
			return
		}
		coreSc := core.Scenario{
			Name:        sc.Name,
			Probability: sc.Probability,
			Params:      params,
			IsBacksolve: sc.IsBacksolve,
		}
		if sc.EnterpriseValue != nil {
			coreSc.EnterpriseValue = *sc.EnterpriseValue
		}
		scenarios = append(scenarios, coreSc)
	}

	target, err := resolveTarget(req.TargetFMV, ct, req.SecurityClassID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	format := core.ProbabilityFormat(req.ProbabilityFormat)
	result, err := core.WeightedBacksolve(&core.WeightedRequest{
		TargetFMV:         target,
		SecurityClassID:   req.SecurityClassID,
		Scenarios:         scenarios,
		ProbabilityFormat: format,
		Breakpoints:       bps,
		TotalShares:       ct.TotalShares,
		ShareClassTotals:  ct.ShareClassTotals,
		Tolerance:         req.Tolerance,
		MaxIterations:     req.MaxIterations,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	h.log.Info("weighted backsolve complete",
		"valuation_id", req.ValuationID,
		"security_class", req.SecurityClassID,
		"enterprise_value", result.EnterpriseValue,
		"converged", result.Converged,
		"iterations", result.Iterations,
	)
	writeJSON(w, result)
}

// resolveInputs fetches the cap table and breakpoints up front, mapping
// upstream failures to 502 so they are distinguishable from validation
// errors.
func (h *Handler) resolveInputs(ctx context.Context, valuationID string) (*captable.CapTable, []waterfall.Breakpoint, int, error) {
	ct, err := h.CapTables.CapTable(ctx, valuationID)
	if err != nil {
		h.log.Error("cap table fetch failed", "valuation_id", valuationID, "error", err)
		return nil, nil, http.StatusBadGateway, err
	}
	bps, err := h.Breakpoints.Breakpoints(ctx, valuationID)
	if err != nil {
		h.log.Error("breakpoints fetch failed", "valuation_id", valuationID, "error", err)
		return nil, nil, http.StatusBadGateway, err
	}
	return ct, bps, 0, nil
}

// resolveParams layers Black-Scholes parameters: service defaults, then
// the named preset if any, then explicit request overrides.
func (h *Handler) resolveParams(r *http.Request, vol, rate, t, q *float64, preset string) (pricing.Params, error) {
	params, err := h.Defaults.Defaults(r.Context())
	if err != nil {
		return pricing.Params{}, fmt.Errorf("defaults unavailable: %w", err)
	}
	if preset != "" {
		p, ok := h.Presets[preset]
		if !ok {
			return pricing.Params{}, fmt.Errorf("unknown scenario preset %q", preset)
		}
		params = p
	}
	if vol != nil {
		params.Volatility = *vol
	}
	if rate != nil {
		params.RiskFreeRate = *rate
	}
	if t != nil {
		params.TimeToLiquidity = *t
	}
	if q != nil {
		params.DividendYield = *q
	}
	return params, nil
}

// resolveTarget picks the explicit target if given, otherwise the
// observed price the cap-table service recorded for the class.
func resolveTarget(override *float64, ct *captable.CapTable, class string) (float64, error) {
	if override != nil {
		return *override, nil
	}
	price, ok := ct.ObservedPrices[class]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("no target_fmv supplied and no observed price on file for class %q", class)
	}
	return price, nil
}

// writeEngineError maps core failures onto the error taxonomy:
// validation -> 400 with the failing field, a degenerate scenario ->
// 422 naming the scenario, upstream -> 502, anything else -> 500 with
// a generic body (details stay in the log, keyed by the trail id when
// the engine carried one).
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		http.Error(w, verr.Error(), http.StatusBadRequest)
		return
	}
	var serr *core.ScenarioError
	if errors.As(err, &serr) {
		http.Error(w, serr.Error(), http.StatusUnprocessableEntity)
		return
	}
	var uerr *captable.UpstreamError
	if errors.As(err, &uerr) {
		http.Error(w, uerr.Error(), http.StatusBadGateway)
		return
	}
	var eerr *core.EngineError
	if errors.As(err, &eerr) {
		h.log.Error("backsolve failed", "path", r.URL.Path, "trail_id", eerr.TrailID, "error", err)
		http.Error(w, fmt.Sprintf("internal error (trail %s)", eerr.TrailID), http.StatusInternalServerError)
		return
	}
	h.log.Error("backsolve failed", "path", r.URL.Path, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Default().Error("response encode failed", "error", err)
	}
}
