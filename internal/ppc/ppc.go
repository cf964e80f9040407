// Package ppc runs posterior predictive checks: it replicates the response
// vector under posterior draws, compares observed data against the
// replicated bands, and summarizes standardized residuals.
package ppc

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"

	"hierfit/internal/dataset"
	"hierfit/internal/infer"
	"hierfit/internal/model"
	"hierfit/pkg/types"
)

// maxReplications bounds the number of posterior draws used for
// replication; draws beyond it are thinned evenly.
const maxReplications = 1000

// Band is the replicated 95% interval for one observation alongside the
// observed value.
type Band struct {
	Lower    float64
	Median   float64
	Upper    float64
	Observed float64
}

// Result holds everything the report and the plots need from a check.
type Result struct {
	Bands     []Band
	Coverage  float64
	Groups    []types.GroupCheck
	Residuals []float64
	Stats     types.ResidualStats
}

// Check replicates data under the posterior and scores the fit. Residuals
// are standardized by the known noise scales, so for a well-specified
// model they should look like standard normal draws.
func Check(m *model.Model, p *infer.Posterior, src rand.Source) (*Result, error) {
	thetas := thin(p, maxReplications)
	if len(thetas) == 0 {
		return nil, fmt.Errorf("ppc: posterior has no draws")
	}
	n := m.NumObs()
	tbl := m.Table()

	muHat := make([]float64, n)
	for _, th := range thetas {
		for i := 0; i < n; i++ {
			muHat[i] += m.MeanAt(th, i)
		}
	}
	for i := range muHat {
		muHat[i] /= float64(len(thetas))
	}

	res := &Result{Residuals: make([]float64, n)}
	for i, o := range tbl.Obs {
		res.Residuals[i] = (o.Y - muHat[i]) / o.Sigma
	}
	res.Stats = residualStats(res.Residuals)

	reps := make([][]float64, len(thetas))
	for s, th := range thetas {
		reps[s] = make([]float64, n)
		m.Replicate(th, src, reps[s])
	}

	res.Bands = make([]Band, n)
	covered := 0
	col := make([]float64, len(reps))
	for i := 0; i < n; i++ {
		for s := range reps {
			col[s] = reps[s][i]
		}
		sort.Float64s(col)
		b := Band{
			Lower:    stat.Quantile(0.025, stat.Empirical, col, nil),
			Median:   stat.Quantile(0.5, stat.Empirical, col, nil),
			Upper:    stat.Quantile(0.975, stat.Empirical, col, nil),
			Observed: tbl.Obs[i].Y,
		}
		if b.Observed >= b.Lower && b.Observed <= b.Upper {
			covered++
		}
		res.Bands[i] = b
	}
	res.Coverage = float64(covered) / float64(n)

	res.Groups = groupChecks(tbl, reps)
	return res, nil
}

// thin flattens the posterior draws across chains, keeping at most max of
// them at an even stride.
func thin(p *infer.Posterior, max int) [][]float64 {
	var all [][]float64
	for _, chain := range p.Draws {
		all = append(all, chain...)
	}
	if len(all) <= max {
		return all
	}
	stride := float64(len(all)) / float64(max)
	out := make([][]float64, 0, max)
	for k := 0; k < max; k++ {
		out = append(out, all[int(float64(k)*stride)])
	}
	return out
}

func residualStats(z []float64) types.ResidualStats {
	maxAbs := 0.0
	for _, v := range z {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	return types.ResidualStats{
		Mean:   stat.Mean(z, nil),
		SD:     stat.StdDev(z, nil),
		MaxAbs: maxAbs,
	}
}

// groupChecks computes per-lab mean and SD test statistics on observed
// data and their posterior predictive tail probabilities. The results are
// archived in the run payload, so undefined SD statistics for single
// observation labs are zero rather than NaN.
func groupChecks(tbl *dataset.Table, reps [][]float64) []types.GroupCheck {
	checks := make([]types.GroupCheck, len(tbl.Labs))
	for j, lab := range tbl.Labs {
		var idx []int
		for i, g := range tbl.Group {
			if g == j {
				idx = append(idx, i)
			}
		}
		obs := make([]float64, len(idx))
		for k, i := range idx {
			obs[k] = tbl.Obs[i].Y
		}
		obsMean := stat.Mean(obs, nil)

		c := types.GroupCheck{
			Lab:          lab,
			N:            len(idx),
			ObservedMean: obsMean,
		}
		if len(idx) > 1 {
			c.ObservedSD = stat.StdDev(obs, nil)
		}

		meanGE, sdGE := 0, 0
		vals := make([]float64, len(idx))
		for _, rep := range reps {
			for k, i := range idx {
				vals[k] = rep[i]
			}
			if stat.Mean(vals, nil) >= obsMean {
				meanGE++
			}
			if len(vals) > 1 && stat.StdDev(vals, nil) >= c.ObservedSD {
				sdGE++
			}
		}
		c.MeanPValue = float64(meanGE) / float64(len(reps))
		if len(idx) > 1 {
			c.SDPValue = float64(sdGE) / float64(len(reps))
		}
		checks[j] = c
	}
	return checks
}
