// Package pricing provides the Black-Scholes option math underlying the
// OPM waterfall: European call values and call-spread (tranche) values on
// total enterprise value.
package pricing

import (
	"fmt"
	"math"
)

// Params holds the Black-Scholes inputs for one valuation scenario.
// The unknown during a backsolve is the spot (enterprise value); these
// fields are fixed for the life of a scenario and never mutated.
type Params struct {
	TimeToLiquidity float64 `json:"time_to_liquidity" yaml:"time_to_liquidity"` // years
	Volatility      float64 `json:"volatility" yaml:"volatility"`               // annualized
	RiskFreeRate    float64 `json:"risk_free_rate" yaml:"risk_free_rate"`       // annualized, may be negative
	DividendYield   float64 `json:"dividend_yield" yaml:"dividend_yield"`       // continuous, >= 0
}

// Validate checks scenario parameters. A zero time-to-liquidity is legal
// (valuation date on the liquidity date); CallValue degrades to intrinsic
// value in that case rather than erroring.
func (p Params) Validate() error {
	if p.TimeToLiquidity < 0 {
		return fmt.Errorf("time_to_liquidity must be >= 0, got %v", p.TimeToLiquidity)
	}
	if p.Volatility < 0 {
		return fmt.Errorf("volatility must be >= 0, got %v", p.Volatility)
	}
	if p.DividendYield < 0 {
		return fmt.Errorf("dividend_yield must be >= 0, got %v", p.DividendYield)
	}
	return nil
}

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// CallValue prices a European call with continuous dividend yield.
//
// FORMULA: C = S·e^(-qT)·N(d1) - K·e^(-rT)·N(d2)
//
//	d1 = [ln(S/K) + (r - q + σ²/2)·T] / (σ·√T)
//	d2 = d1 - σ·√T
//
// Degenerate inputs (T <= 0 or σ <= 0) fall back to the discounted
// intrinsic value max(S·e^(-qT) - K·e^(-rT), 0): valuation dates
// occasionally coincide with the liquidity date and must still price.
// A strike of 0 values the whole discounted spot.
func CallValue(spot, strike, t, vol, rate, q float64) float64 {
	if spot <= 0 {
		return 0
	}
	if t <= 0 || vol <= 0 {
		return math.Max(spot*math.Exp(-q*math.Max(t, 0))-strike*math.Exp(-rate*math.Max(t, 0)), 0)
	}
	if strike <= 0 {
		return spot * math.Exp(-q*t)
	}

	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (rate-q+0.5*vol*vol)*t) / (vol * sqrtT)
	d2 := d1 - vol*sqrtT

	value := spot*math.Exp(-q*t)*normCDF(d1) - strike*math.Exp(-rate*t)*normCDF(d2)
	return math.Max(value, 0)
}

// Call prices a European call using scenario parameters.
func Call(spot, strike float64, p Params) float64 {
	return CallValue(spot, strike, p.TimeToLiquidity, p.Volatility, p.RiskFreeRate, p.DividendYield)
}

// TrancheValue prices the slice of enterprise value between two adjacent
// breakpoints as a call spread: long a call struck at lower, short a call
// struck at upper. An infinite upper strike prices the uncapped top
// tranche. The result is clamped at zero against float cancellation.
func TrancheValue(spot, lower, upper float64, p Params) float64 {
	low := Call(spot, lower, p)
	if math.IsInf(upper, 1) {
		return low
	}
	return math.Max(low-Call(spot, upper, p), 0)
}
