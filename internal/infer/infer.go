// Package infer defines the seam between the statistical pipeline and the
// sampling engine. The pipeline only ever sees these interfaces, so tests
// can inject a stub runner that returns fixed draws and the engine can be
// swapped without touching diagnostics, predictive checks or comparison.
package infer

import (
	"context"
	"fmt"

	"hierfit/pkg/types"
)

// Target is a differentiable unnormalized log density over an unconstrained
// parameter vector. Implementations must be safe for concurrent use: chains
// evaluate the same target from independent goroutines.
type Target interface {
	// Dim is the length of the unconstrained parameter vector.
	Dim() int
	// LogDensity evaluates the joint log density at x and, when grad is
	// non-nil, writes the gradient into it. grad has length Dim.
	LogDensity(x []float64, grad []float64) float64
	// ConstrainedDim and Constrain map an unconstrained draw to the
	// reported parameter vector (e.g. log tau back to tau, auxiliary
	// variables to actual offsets).
	ConstrainedDim() int
	Constrain(x []float64, out []float64)
	// ParamNames names the constrained parameters, in Constrain order.
	ParamNames() []string
}

// Config controls one sampling run.
type Config struct {
	Chains       int
	Warmup       int
	Draws        int
	TargetAccept float64
	MaxTreeDepth int
	Seed         uint64
	// Label tags engine metrics; typically the model name.
	Label string
}

// Runner draws from a target's posterior. Implementations run their chains
// independently (no shared mutable state) and return only after every chain
// has completed its retained-sample phase.
type Runner interface {
	Run(ctx context.Context, t Target, cfg Config) (*Posterior, error)
}

// Posterior is an immutable set of constrained posterior draws, one entry
// per (chain, iteration) pair for every reported parameter.
type Posterior struct {
	Names []string
	// Draws indexed [chain][iteration][param].
	Draws [][][]float64
	Stats []types.ChainStats
}

// NumChains returns the chain count.
func (p *Posterior) NumChains() int { return len(p.Draws) }

// NumDraws returns the total retained draws across chains.
func (p *Posterior) NumDraws() int {
	n := 0
	for _, c := range p.Draws {
		n += len(c)
	}
	return n
}

// Index returns the position of a named parameter, or an error.
func (p *Posterior) Index(name string) (int, error) {
	for i, n := range p.Names {
		if n == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no parameter %q in posterior", name)
}

// Flat returns all draws of one parameter, chains concatenated in order.
func (p *Posterior) Flat(param int) []float64 {
	out := make([]float64, 0, p.NumDraws())
	for _, chain := range p.Draws {
		for _, draw := range chain {
			out = append(out, draw[param])
		}
	}
	return out
}

// ByChain returns one parameter's draws split per chain.
func (p *Posterior) ByChain(param int) [][]float64 {
	out := make([][]float64, len(p.Draws))
	for c, chain := range p.Draws {
		seq := make([]float64, len(chain))
		for i, draw := range chain {
			seq[i] = draw[param]
		}
		out[c] = seq
	}
	return out
}

// Divergences sums post-warmup divergences over chains.
func (p *Posterior) Divergences() int {
	n := 0
	for _, s := range p.Stats {
		n += s.Divergences
	}
	return n
}
