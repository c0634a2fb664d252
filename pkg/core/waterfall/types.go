// Package waterfall models the OPM capitalization waterfall: an ordered
// list of enterprise-value breakpoints, each with a participation
// schedule, and the allocation of tranche values across security classes.
package waterfall

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Kind categorizes what changes in the payoff structure at a breakpoint.
type Kind string

const (
	KindLiquidationPreference Kind = "liquidation_preference"
	KindConversion            Kind = "conversion"
	KindOptionPool            Kind = "option_pool"
	KindProRata               Kind = "pro_rata"
)

// ValidKind reports whether k is one of the enumerated breakpoint kinds.
func ValidKind(k Kind) bool {
	switch k {
	case KindLiquidationPreference, KindConversion, KindOptionPool, KindProRata:
		return true
	}
	return false
}

// Participant is one security class sharing value above a breakpoint.
type Participant struct {
	SecurityClass        string  `json:"security_class"`
	ParticipatingShares  float64 `json:"participating_shares"`
	ParticipationPercent float64 `json:"participation_percent"` // fraction of the tranche, in [0,1]
}

// Breakpoint is an enterprise-value threshold at which the allocation of
// incremental value changes. Breakpoints arrive ordered ascending by
// Value; equal values are legal and processed in input order.
type Breakpoint struct {
	Value        float64       `json:"value"`
	Kind         Kind          `json:"kind"`
	Participants []Participant `json:"participants"`
}

// participationTolerance absorbs float noise when checking that percents
// at one breakpoint sum to at most 1.
const participationTolerance = 1e-9

// Validate checks the structural invariants of a breakpoint list:
// non-empty, non-negative ascending values (ties allowed), enumerated
// kinds, per-participant shares >= 0 and percents in [0,1], and percents
// at each breakpoint summing to <= 1. Violations are reported, never
// silently normalized.
func Validate(breakpoints []Breakpoint) error {
	if len(breakpoints) == 0 {
		return fmt.Errorf("breakpoints: list is empty")
	}
	prev := 0.0
	for i, bp := range breakpoints {
		if bp.Value < 0 {
			return fmt.Errorf("breakpoints[%d].value: must be >= 0, got %v", i, bp.Value)
		}
		if bp.Value < prev {
			return fmt.Errorf("breakpoints[%d].value: not ascending (%v after %v)", i, bp.Value, prev)
		}
		prev = bp.Value
		if !ValidKind(bp.Kind) {
			return fmt.Errorf("breakpoints[%d].kind: unknown kind %q", i, bp.Kind)
		}
		if len(bp.Participants) == 0 {
			return fmt.Errorf("breakpoints[%d].participants: list is empty", i)
		}
		pctSum := 0.0
		for j, p := range bp.Participants {
			if p.SecurityClass == "" {
				return fmt.Errorf("breakpoints[%d].participants[%d].security_class: empty", i, j)
			}
			if p.ParticipatingShares < 0 {
				return fmt.Errorf("breakpoints[%d].participants[%d].participating_shares: must be >= 0, got %v", i, j, p.ParticipatingShares)
			}
			if p.ParticipationPercent < 0 || p.ParticipationPercent > 1 {
				return fmt.Errorf("breakpoints[%d].participants[%d].participation_percent: must be in [0,1], got %v", i, j, p.ParticipationPercent)
			}
			pctSum += p.ParticipationPercent
		}
		if pctSum > 1+participationTolerance {
			return fmt.Errorf("breakpoints[%d]: participation percents sum to %v, must not exceed 1", i, pctSum)
		}
	}
	return nil
}

// ClassAllocation is the value a single security class receives across
// all tranches it participates in.
type ClassAllocation struct {
	SecurityClass string  `json:"security_class"`
	Value         float64 `json:"value"`
	Shares        float64 `json:"shares"`
	PerShare      float64 `json:"per_share"`
}

// Allocation is the full per-class result of one waterfall run at a
// fixed enterprise value.
type Allocation struct {
	EnterpriseValue float64                     `json:"enterprise_value"`
	Classes         map[string]*ClassAllocation `json:"classes"`
	TotalAllocated  float64                     `json:"total_allocated"`
	Unallocated     float64                     `json:"unallocated"` // tranche value left by percents summing below 1
}

// PriceOf returns the per-share price for a class. Classes with zero
// shares have no meaningful price and error out.
func (a *Allocation) PriceOf(class string) (float64, error) {
	ca, ok := a.Classes[class]
	if !ok {
		return 0, fmt.Errorf("security class %q received no allocation", class)
	}
	if ca.Shares <= 0 {
		return 0, fmt.Errorf("security class %q has no shares outstanding", class)
	}
	return ca.PerShare, nil
}

// Sorted returns class allocations ordered by class name, for stable
// report output.
func (a *Allocation) Sorted() []*ClassAllocation {
	out := make([]*ClassAllocation, 0, len(a.Classes))
	for _, ca := range a.Classes {
		out = append(out, ca)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SecurityClass < out[j].SecurityClass })
	return out
}

// RoundForReport rounds every reported class value to cents. Internal
// math stays in float64; only what leaves the engine is rounded.
func (a *Allocation) RoundForReport() {
	for _, ca := range a.Classes {
		ca.Value = roundCents(ca.Value)
	}
	a.TotalAllocated = roundCents(a.TotalAllocated)
	a.Unallocated = roundCents(a.Unallocated)
}

func roundCents(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
