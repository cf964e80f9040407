// Package diagnostics computes convergence statistics over completed
// posterior sample sets. Everything here is a pure function of the draws:
// summaries are recomputed on demand and never mutated in place.
//
// The statistics are advisory. A bad R-hat or a small effective sample size
// never aborts the pipeline; it flags the affected parameter so the report
// cannot present its estimate as trustworthy.
package diagnostics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"hierfit/internal/infer"
	"hierfit/pkg/types"
)

// Thresholds are the reliability tolerances. Zero values fall back to the
// conventional R-hat <= 1.01 and ESS >= 300.
type Thresholds struct {
	RHatMax float64
	MinESS  float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.RHatMax == 0 {
		t.RHatMax = 1.01
	}
	if t.MinESS == 0 {
		t.MinESS = 300
	}
	return t
}

// splitChains halves every chain so that within-chain drift shows up as
// between-chain disagreement.
func splitChains(chains [][]float64) [][]float64 {
	var out [][]float64
	for _, c := range chains {
		h := len(c) / 2
		if h < 1 {
			continue
		}
		out = append(out, c[:h], c[h:h+h])
	}
	return out
}

// RHat is the split potential scale-reduction statistic. Values near 1
// indicate the chains have mixed; above ~1.01 the parameter must not be
// reported as converged.
func RHat(chains [][]float64) float64 {
	seqs := splitChains(chains)
	if len(seqs) < 2 {
		return math.NaN()
	}
	n := len(seqs[0])
	if n < 2 {
		return math.NaN()
	}
	means := make([]float64, len(seqs))
	vars := make([]float64, len(seqs))
	for i, s := range seqs {
		means[i] = stat.Mean(s, nil)
		vars[i] = stat.Variance(s, nil)
	}
	w := stat.Mean(vars, nil)
	b := stat.Variance(means, nil) // = B/n in Gelman et al. notation
	if w <= 0 {
		if b <= 0 {
			return 1
		}
		return math.Inf(1)
	}
	varPlus := float64(n-1)/float64(n)*w + b
	return math.Sqrt(varPlus / w)
}

// ESS is the effective sample size across chains, computed from combined
// autocorrelations with Geyer's initial monotone sequence truncation.
func ESS(chains [][]float64) float64 {
	seqs := splitChains(chains)
	if len(seqs) < 1 {
		return math.NaN()
	}
	m := len(seqs)
	n := len(seqs[0])
	if n < 4 {
		return math.NaN()
	}
	total := float64(m * n)

	means := make([]float64, m)
	vars := make([]float64, m)
	for i, s := range seqs {
		means[i] = stat.Mean(s, nil)
		vars[i] = stat.Variance(s, nil)
	}
	w := stat.Mean(vars, nil)
	varPlus := float64(n-1) / float64(n) * w
	if m > 1 {
		varPlus += stat.Variance(means, nil)
	}
	if varPlus <= 0 || math.IsNaN(varPlus) {
		return math.NaN()
	}

	// Mean autocovariance over chains at each lag.
	acov := func(lag int) float64 {
		s := 0.0
		for i, seq := range seqs {
			var c float64
			for t := 0; t < n-lag; t++ {
				c += (seq[t] - means[i]) * (seq[t+lag] - means[i])
			}
			s += c / float64(n)
		}
		return s / float64(m)
	}

	// rho_t per Stan: combines within-chain autocovariance with the
	// cross-chain variance estimate.
	rho := func(lag int) float64 {
		return 1 - (w-acov(lag))/varPlus
	}

	// Geyer pairs: sum while the paired autocorrelations stay positive,
	// enforcing monotone decrease.
	sum := 0.0
	prev := math.Inf(1)
	for lag := 1; lag+1 < n; lag += 2 {
		pair := rho(lag) + rho(lag+1)
		if pair < 0 {
			break
		}
		if pair > prev {
			pair = prev
		}
		sum += pair
		prev = pair
	}
	tau := 1 + 2*sum
	if tau < 1 {
		tau = 1
	}
	ess := total / tau
	if ess > total {
		ess = total
	}
	return ess
}

// Quantiles returns the posterior median and the central interval bounds
// for the given tail probability (0.05 gives a 95% interval).
func Quantiles(draws []float64, tail float64) (median, lower, upper float64) {
	sorted := append([]float64(nil), draws...)
	sort.Float64s(sorted)
	median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	lower = stat.Quantile(tail/2, stat.Empirical, sorted, nil)
	upper = stat.Quantile(1-tail/2, stat.Empirical, sorted, nil)
	return median, lower, upper
}

// Summarize builds the per-parameter diagnostics table for a posterior.
func Summarize(p *infer.Posterior, th Thresholds) []types.DiagnosticRow {
	th = th.withDefaults()
	rows := make([]types.DiagnosticRow, 0, len(p.Names))
	for idx, name := range p.Names {
		chains := p.ByChain(idx)
		rhat := RHat(chains)
		ess := ESS(chains)
		median, lo, hi := Quantiles(p.Flat(idx), 0.05)
		row := types.DiagnosticRow{
			Param:    name,
			Median:   median,
			Lower:    lo,
			Upper:    hi,
			RHat:     rhat,
			ESS:      ess,
			Reliable: true,
		}
		if math.IsNaN(rhat) || rhat > th.RHatMax {
			row.Reliable = false
			row.Note = fmt.Sprintf("R-hat %.3f above %.2f: chains have not mixed", rhat, th.RHatMax)
		} else if math.IsNaN(ess) || ess < th.MinESS {
			row.Reliable = false
			row.Note = fmt.Sprintf("ESS %.0f below %.0f: interval unreliable", ess, th.MinESS)
		}
		rows = append(rows, row)
	}
	return rows
}
