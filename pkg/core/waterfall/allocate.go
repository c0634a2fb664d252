package waterfall

import (
	"fmt"
	"math"

	"opm_backsolve/pkg/core/pricing"
)

// Allocate runs the OPM waterfall at one enterprise value.
//
// Each pair of adjacent breakpoints (B_i, B_i+1) defines a tranche
// priced as a call spread struck at the two thresholds with
// spot = enterpriseValue; the final breakpoint is an uncapped call so
// value above the last threshold still accrues. Each tranche's value is
// split across that breakpoint's participants by participation percent.
//
// Share counts for per-share prices come from shareClassTotals, which
// represents the full cap table; participants may carry their own
// participating-share counts for schedule purposes, but prices are
// per total shares outstanding of the class.
//
// Breakpoints are assumed Validate-clean; Allocate re-checks only what
// it cannot proceed without.
func Allocate(enterpriseValue float64, breakpoints []Breakpoint, shareClassTotals map[string]float64, p pricing.Params) (*Allocation, error) {
	if enterpriseValue < 0 {
		return nil, fmt.Errorf("enterprise value must be >= 0, got %v", enterpriseValue)
	}
	if len(breakpoints) == 0 {
		return nil, fmt.Errorf("breakpoints: list is empty")
	}

	alloc := &Allocation{
		EnterpriseValue: enterpriseValue,
		Classes:         make(map[string]*ClassAllocation, len(shareClassTotals)),
	}

	for i, bp := range breakpoints {
		upper := math.Inf(1)
		if i+1 < len(breakpoints) {
			upper = breakpoints[i+1].Value
		}
		tranche := pricing.TrancheValue(enterpriseValue, bp.Value, upper, p)
		if tranche == 0 {
			continue
		}

		distributed := 0.0
		for _, part := range bp.Participants {
			slice := tranche * part.ParticipationPercent
			if slice == 0 {
				continue
			}
			distributed += slice

			ca, ok := alloc.Classes[part.SecurityClass]
			if !ok {
				ca = &ClassAllocation{
					SecurityClass: part.SecurityClass,
					Shares:        shareClassTotals[part.SecurityClass],
				}
				alloc.Classes[part.SecurityClass] = ca
			}
			ca.Value += slice
		}
		alloc.TotalAllocated += distributed
		alloc.Unallocated += tranche - distributed
	}

	for _, ca := range alloc.Classes {
		if ca.Shares > 0 {
			ca.PerShare = ca.Value / ca.Shares
		}
	}
	return alloc, nil
}
