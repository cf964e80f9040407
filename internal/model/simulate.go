package model

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"hierfit/internal/dataset"
	"hierfit/pkg/types"
)

// Replicate simulates one replicated response vector: for each observation
// it draws from N(mean(theta, i), sigma_i) using the same fixed noise scale
// as the data. Used by the posterior predictive check.
func (m *Model) Replicate(theta []float64, src rand.Source, out []float64) {
	for i := range m.y {
		n := distuv.Normal{Mu: m.MeanAt(theta, i), Sigma: m.sigma[i], Src: src}
		out[i] = n.Rand()
	}
}

// Truth is a known ground-truth parameter set for synthetic data.
type Truth struct {
	Slope     float64
	Intercept float64
	// Tau is the offset scale; zero means no offsets (an M0 world).
	Tau float64
	// Offsets may be nil, in which case they are drawn from N(0, Tau).
	Offsets []float64
}

// SimulateTable generates a synthetic dataset from the given truth: perLab
// observations for each named lab, predictor spread uniformly over
// [-2, 2], group-constant noise scales from sigmas. It backs the
// calibration and recovery checks and the `simulate` subcommand.
func SimulateTable(labs []string, perLab int, sigmas []float64, truth Truth, src rand.Source) (*dataset.Table, Truth, error) {
	if len(labs) == 0 || perLab < 1 {
		return nil, truth, fmt.Errorf("need at least one lab and one observation per lab")
	}
	if len(sigmas) != len(labs) {
		return nil, truth, fmt.Errorf("need one sigma per lab (%d labs, %d sigmas)", len(labs), len(sigmas))
	}
	rng := rand.New(src)
	offsets := truth.Offsets
	if offsets == nil {
		offsets = make([]float64, len(labs))
		if truth.Tau > 0 {
			pop := distuv.Normal{Mu: 0, Sigma: truth.Tau, Src: src}
			for j := range offsets {
				offsets[j] = pop.Rand()
			}
		}
	} else if len(offsets) != len(labs) {
		return nil, truth, fmt.Errorf("need one offset per lab")
	}
	truth.Offsets = offsets

	var obs []types.Observation
	for j, lab := range labs {
		if sigmas[j] <= 0 {
			return nil, truth, fmt.Errorf("sigma for lab %s must be positive", lab)
		}
		noise := distuv.Normal{Mu: 0, Sigma: sigmas[j], Src: src}
		for k := 0; k < perLab; k++ {
			x := -2 + 4*rng.Float64()
			y := truth.Slope*x + truth.Intercept + offsets[j] + noise.Rand()
			obs = append(obs, types.Observation{Lab: lab, X: x, Y: y, Sigma: sigmas[j]})
		}
	}
	tbl, err := dataset.New(obs)
	if err != nil {
		return nil, truth, err
	}
	return tbl, truth, nil
}
