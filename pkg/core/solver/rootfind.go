// Package solver implements the scalar root finder shared by the single
// and weighted backsolve optimizers. It inverts a monotone non-decreasing
// function of one variable with a bracketing bisection/secant hybrid.
package solver

import "math"

// Defaults used when Options leaves the corresponding field zero.
const (
	DefaultTolerance     = 1e-6
	DefaultMaxIterations = 200
	DefaultMaxExpansions = 64
	DefaultSeed          = 1.0
)

// Iteration describes one function evaluation during the solve.
type Iteration struct {
	N      int     // 1-based evaluation count
	X      float64 // candidate input
	FX     float64 // f(X) - target
	Method string  // "bracket", "bisection" or "secant"
}

// Options configures a solve. The zero value gets sensible defaults.
type Options struct {
	Target        float64 // value f is driven to; 0 when f already embeds it
	Seed          float64 // initial upper bracket guess, doubled until f >= target
	Tolerance     float64 // |f(x) - target| below which the solve converges
	MaxIterations int
	MaxExpansions int              // cap on bracket doublings
	OnIteration   func(Iteration) // optional per-evaluation hook
}

// Result reports the outcome of a solve. Converged=false carries the best
// estimate plus the last bracket so callers can report partial results
// instead of failing outright.
type Result struct {
	Root       float64 `json:"root"`
	Converged  bool    `json:"converged"`
	Iterations int     `json:"iterations"`
	Residual   float64 `json:"residual"` // f(Root) - target
	BracketLo  float64 `json:"bracket_lo"`
	BracketHi  float64 `json:"bracket_hi"`
	Method     string  `json:"method"` // method of the final accepted step
}

// Solve finds x >= 0 with f(x) = target for a monotone non-decreasing f.
//
// The bracket starts at [0, seed] and the upper bound doubles until
// f(hi) >= target or the expansion cap is hit; expansion failure reports
// non-convergence with the last bracket rather than returning a wrong
// root. Inside the bracket each step tries a secant estimate and falls
// back to bisection whenever the estimate leaves the bracket, so
// convergence is never worse than pure bisection.
func Solve(f func(float64) float64, opts Options) Result {
	tol := opts.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	maxExp := opts.MaxExpansions
	if maxExp <= 0 {
		maxExp = DefaultMaxExpansions
	}
	seed := opts.Seed
	if seed <= 0 {
		seed = DefaultSeed
	}

	evals := 0
	g := func(x float64, method string) float64 {
		evals++
		fx := f(x) - opts.Target
		if opts.OnIteration != nil {
			opts.OnIteration(Iteration{N: evals, X: x, FX: fx, Method: method})
		}
		return fx
	}

	lo := 0.0
	gLo := g(lo, "bracket")
	if math.Abs(gLo) < tol {
		return Result{Root: lo, Converged: true, Iterations: evals, Residual: gLo, BracketLo: lo, BracketHi: lo, Method: "bracket"}
	}
	if gLo > 0 {
		// Monotone non-decreasing f with f(0) already above target: no
		// root exists on [0, inf).
		return Result{Root: lo, Converged: false, Iterations: evals, Residual: gLo, BracketLo: lo, BracketHi: lo, Method: "bracket"}
	}

	hi := seed
	gHi := g(hi, "bracket")
	for n := 0; gHi < 0 && math.Abs(gHi) >= tol; n++ {
		if n >= maxExp {
			return Result{Root: hi, Converged: false, Iterations: evals, Residual: gHi, BracketLo: lo, BracketHi: hi, Method: "bracket"}
		}
		lo, gLo = hi, gHi
		hi *= 2
		gHi = g(hi, "bracket")
	}
	if math.Abs(gHi) < tol {
		return Result{Root: hi, Converged: true, Iterations: evals, Residual: gHi, BracketLo: lo, BracketHi: hi, Method: "bracket"}
	}

	// Invariant from here: gLo < 0 <= gHi.
	best, gBest, method := hi, gHi, "bisection"
	if math.Abs(gLo) < math.Abs(gHi) {
		best, gBest = lo, gLo
	}
	for evals < maxIter {
		x := (lo + hi) / 2
		step := "bisection"
		if gHi != gLo {
			secant := hi - gHi*(hi-lo)/(gHi-gLo)
			if secant > lo && secant < hi && !math.IsNaN(secant) {
				x, step = secant, "secant"
			}
		}

		gx := g(x, step)
		if math.Abs(gx) < math.Abs(gBest) {
			best, gBest, method = x, gx, step
		}
		if math.Abs(gx) < tol {
			return Result{Root: x, Converged: true, Iterations: evals, Residual: gx, BracketLo: lo, BracketHi: hi, Method: step}
		}
		if gx < 0 {
			lo, gLo = x, gx
		} else {
			hi, gHi = x, gx
		}
		if hi-lo <= 1e-13*math.Max(1, math.Abs(hi)) {
			// Bracket exhausted to float precision without meeting the
			// residual tolerance.
			break
		}
	}

	return Result{Root: best, Converged: false, Iterations: evals, Residual: gBest, BracketLo: lo, BracketHi: hi, Method: method}
}
