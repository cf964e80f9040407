// Package sampler implements the No-U-Turn variant of Hamiltonian Monte
// Carlo used to draw from a model posterior. Chains are fully independent:
// each runs in its own goroutine with its own RNG, and results are only
// assembled after every chain has finished its retained-sample phase.
package sampler

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/exp/rand"

	"hierfit/internal/infer"
	"hierfit/pkg/types"
)

// Dual-averaging constants from Hoffman & Gelman (2014).
const (
	adaptGamma = 0.05
	adaptT0    = 10.0
	adaptKappa = 0.75
	// Energy error beyond which a trajectory counts as divergent.
	divergenceThreshold = 1000.0
)

// NUTS is the production infer.Runner.
type NUTS struct{}

// New returns a NUTS runner.
func New() *NUTS { return &NUTS{} }

// Run draws cfg.Draws retained samples per chain after cfg.Warmup
// adaptation iterations, running cfg.Chains chains concurrently.
// Divergences are counted and surfaced in the chain stats, never dropped.
func (s *NUTS) Run(ctx context.Context, t infer.Target, cfg infer.Config) (*infer.Posterior, error) {
	if cfg.Chains < 1 {
		return nil, fmt.Errorf("need at least one chain")
	}
	if cfg.Warmup < 20 {
		return nil, fmt.Errorf("warmup too short: %d", cfg.Warmup)
	}
	if cfg.Draws < 1 {
		return nil, fmt.Errorf("draws must be positive")
	}
	if cfg.TargetAccept <= 0 || cfg.TargetAccept >= 1 {
		cfg.TargetAccept = 0.8
	}
	if cfg.MaxTreeDepth < 1 {
		cfg.MaxTreeDepth = 10
	}
	label := cfg.Label
	if label == "" {
		label = "model"
	}

	raw := make([][][]float64, cfg.Chains)
	stats := make([]types.ChainStats, cfg.Chains)
	errs := make([]error, cfg.Chains)

	var wg sync.WaitGroup
	for c := 0; c < cfg.Chains; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			// Decorrelate chain seeds without making them depend on the
			// chain count.
			seed := cfg.Seed + uint64(c)*0x9e3779b97f4a7c15
			raw[c], stats[c], errs[c] = runChain(ctx, t, cfg, c, seed)
		}(c)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	// All chains joined; constrain draws for reporting.
	post := &infer.Posterior{
		Names: t.ParamNames(),
		Draws: make([][][]float64, cfg.Chains),
		Stats: stats,
	}
	for c := range raw {
		post.Draws[c] = make([][]float64, len(raw[c]))
		for i, x := range raw[c] {
			out := make([]float64, t.ConstrainedDim())
			t.Constrain(x, out)
			post.Draws[c][i] = out
		}
		divergencesTotal.WithLabelValues(label).Add(float64(stats[c].Divergences))
		drawsTotal.WithLabelValues(label).Add(float64(len(raw[c])))
	}
	return post, nil
}

// point is one phase-space state on a trajectory.
type point struct {
	x, p, grad []float64
	logp       float64
}

func clonePoint(pt point) point {
	return point{
		x:    append([]float64(nil), pt.x...),
		p:    append([]float64(nil), pt.p...),
		grad: append([]float64(nil), pt.grad...),
		logp: pt.logp,
	}
}

// chain holds per-chain sampler state. Nothing here is shared.
type chain struct {
	t       infer.Target
	rng     *rand.Rand
	dim     int
	massInv []float64
	eps     float64
	delta   float64
	maxD    int

	// dual averaging
	mu, logEps, logEpsBar, hBar float64
	adaptIter                   int
}

func runChain(ctx context.Context, t infer.Target, cfg infer.Config, idx int, seed uint64) ([][]float64, types.ChainStats, error) {
	c := &chain{
		t:       t,
		rng:     rand.New(rand.NewSource(seed)),
		dim:     t.Dim(),
		massInv: make([]float64, t.Dim()),
		delta:   cfg.TargetAccept,
		maxD:    cfg.MaxTreeDepth,
	}
	for d := range c.massInv {
		c.massInv[d] = 1
	}

	cur := point{x: make([]float64, c.dim), grad: make([]float64, c.dim)}
	for d := range cur.x {
		cur.x[d] = -2 + 4*c.rng.Float64()
	}
	cur.logp = t.LogDensity(cur.x, cur.grad)
	if math.IsNaN(cur.logp) || math.IsInf(cur.logp, 0) {
		return nil, types.ChainStats{}, fmt.Errorf("chain %d: non-finite log density at init", idx)
	}
	c.resetStepSize(cur)

	// Mass-matrix estimation window inside warmup.
	winLo, winHi := cfg.Warmup/4, 3*cfg.Warmup/4
	winSum := make([]float64, c.dim)
	winSumSq := make([]float64, c.dim)
	winN := 0

	stats := types.ChainStats{Chain: idx}
	draws := make([][]float64, 0, cfg.Draws)
	var acceptSum float64

	total := cfg.Warmup + cfg.Draws
	for iter := 0; iter < total; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		warm := iter < cfg.Warmup
		if iter == cfg.Warmup {
			// freeze the adapted step size for sampling
			c.eps = math.Exp(c.logEpsBar)
		}

		var res transition
		cur, res = c.transition(cur)

		if warm {
			c.adaptStepSize(res.accept)
			if iter >= winLo && iter < winHi {
				for d, v := range cur.x {
					winSum[d] += v
					winSumSq[d] += v * v
				}
				winN++
			}
			if iter == winHi-1 && winN > 10 {
				n := float64(winN)
				for d := range c.massInv {
					v := winSumSq[d]/n - (winSum[d]/n)*(winSum[d]/n)
					// regularize toward unit scale, Stan-style
					c.massInv[d] = (n/(n+5))*v + (5/(n+5))*1e-3
					if c.massInv[d] <= 0 || math.IsNaN(c.massInv[d]) {
						c.massInv[d] = 1
					}
				}
				c.resetStepSize(cur)
			}
			continue
		}
		if res.diverged {
			stats.Divergences++
		}
		if res.maxDepth {
			stats.MaxDepthHits++
		}
		acceptSum += res.accept
		draws = append(draws, append([]float64(nil), cur.x...))
	}

	stats.Draws = len(draws)
	stats.StepSize = c.eps
	if len(draws) > 0 {
		stats.MeanAccept = acceptSum / float64(len(draws))
	}
	return draws, stats, nil
}

// kinetic is the momentum term of the Hamiltonian.
func (c *chain) kinetic(p []float64) float64 {
	k := 0.0
	for d, v := range p {
		k += 0.5 * c.massInv[d] * v * v
	}
	return k
}

// leapfrog advances one step of size dir*eps and returns the new point.
func (c *chain) leapfrog(pt point, dir float64) point {
	eps := dir * c.eps
	next := clonePoint(pt)
	for d := range next.p {
		next.p[d] += 0.5 * eps * next.grad[d]
	}
	for d := range next.x {
		next.x[d] += eps * c.massInv[d] * next.p[d]
	}
	next.logp = c.t.LogDensity(next.x, next.grad)
	for d := range next.p {
		next.p[d] += 0.5 * eps * next.grad[d]
	}
	return next
}

// resetStepSize finds a fresh reasonable step size at the current point and
// restarts dual averaging around it.
func (c *chain) resetStepSize(cur point) {
	c.eps = c.findEpsilon(cur)
	c.mu = math.Log(10 * c.eps)
	c.logEps = math.Log(c.eps)
	c.logEpsBar = 0
	c.hBar = 0
	c.adaptIter = 0
}

// findEpsilon is the doubling/halving heuristic from Hoffman & Gelman.
func (c *chain) findEpsilon(cur point) float64 {
	c.eps = 1
	p := make([]float64, c.dim)
	for d := range p {
		p[d] = c.rng.NormFloat64() / math.Sqrt(c.massInv[d])
	}
	pt := point{x: cur.x, p: p, grad: cur.grad, logp: cur.logp}
	h0 := cur.logp - c.kinetic(p)
	next := c.leapfrog(pt, 1)
	h1 := next.logp - c.kinetic(next.p)
	if math.IsNaN(h1) || math.IsInf(h1, 0) {
		h1 = math.Inf(-1)
	}
	a := -1.0
	if h1-h0 > math.Log(0.5) {
		a = 1.0
	}
	for i := 0; i < 50; i++ {
		if a*(h1-h0) <= -a*math.Log(2) {
			break
		}
		c.eps *= math.Pow(2, a)
		next = c.leapfrog(pt, 1)
		h1 = next.logp - c.kinetic(next.p)
		if math.IsNaN(h1) || math.IsInf(h1, 0) {
			h1 = math.Inf(-1)
		}
	}
	if c.eps <= 0 || math.IsNaN(c.eps) {
		c.eps = 1e-3
	}
	return c.eps
}

func (c *chain) adaptStepSize(accept float64) {
	c.adaptIter++
	m := float64(c.adaptIter)
	c.hBar = (1-1/(m+adaptT0))*c.hBar + (c.delta-accept)/(m+adaptT0)
	c.logEps = c.mu - math.Sqrt(m)/adaptGamma*c.hBar
	eta := math.Pow(m, -adaptKappa)
	c.logEpsBar = eta*c.logEps + (1-eta)*c.logEpsBar
	c.eps = math.Exp(c.logEps)
}

// transition runs one NUTS update from cur and returns the next state.
type transition struct {
	accept   float64
	diverged bool
	maxDepth bool
}

func (c *chain) transition(cur point) (point, transition) {
	p0 := make([]float64, c.dim)
	for d := range p0 {
		p0[d] = c.rng.NormFloat64() / math.Sqrt(c.massInv[d])
	}
	cur = point{x: cur.x, p: p0, grad: cur.grad, logp: cur.logp}

	joint0 := cur.logp - c.kinetic(p0)
	logu := joint0 + math.Log(c.rng.Float64())

	minus := clonePoint(cur)
	plus := clonePoint(cur)
	sample := cur
	n := 1
	res := transition{}
	var alphaSum float64
	var nAlpha int

	depth := 0
	for depth < c.maxD {
		dir := 1.0
		if c.rng.Float64() < 0.5 {
			dir = -1.0
		}
		var sub subtree
		if dir < 0 {
			sub = c.buildTree(minus, logu, dir, depth, joint0)
			minus = sub.minus
		} else {
			sub = c.buildTree(plus, logu, dir, depth, joint0)
			plus = sub.plus
		}
		alphaSum += sub.alpha
		nAlpha += sub.nAlpha
		if sub.diverged {
			res.diverged = true
		}
		if !sub.ok {
			break
		}
		if sub.n > 0 && c.rng.Float64() < float64(sub.n)/float64(n) {
			sample = sub.sample
		}
		n += sub.n
		if !noUTurn(c.massInv, minus, plus) {
			break
		}
		depth++
	}
	if depth == c.maxD {
		res.maxDepth = true
	}
	if nAlpha > 0 {
		res.accept = alphaSum / float64(nAlpha)
	}
	return sample, res
}

type subtree struct {
	minus, plus point
	sample      point
	n           int
	ok          bool
	diverged    bool
	alpha       float64
	nAlpha      int
}

// buildTree recursively doubles the trajectory (Hoffman & Gelman alg. 3).
func (c *chain) buildTree(from point, logu, dir float64, depth int, joint0 float64) subtree {
	if depth == 0 {
		next := c.leapfrog(from, dir)
		joint := next.logp - c.kinetic(next.p)
		if math.IsNaN(joint) {
			joint = math.Inf(-1)
		}
		st := subtree{minus: next, plus: next, sample: next, nAlpha: 1}
		if logu <= joint {
			st.n = 1
		}
		st.ok = logu < joint+divergenceThreshold
		st.diverged = !st.ok
		st.alpha = math.Min(1, math.Exp(joint-joint0))
		return st
	}

	first := c.buildTree(from, logu, dir, depth-1, joint0)
	if !first.ok {
		return first
	}
	var second subtree
	if dir < 0 {
		second = c.buildTree(first.minus, logu, dir, depth-1, joint0)
		first.minus = second.minus
	} else {
		second = c.buildTree(first.plus, logu, dir, depth-1, joint0)
		first.plus = second.plus
	}
	if second.n > 0 && c.rng.Float64() < float64(second.n)/float64(first.n+second.n) {
		first.sample = second.sample
	}
	first.n += second.n
	first.alpha += second.alpha
	first.nAlpha += second.nAlpha
	first.diverged = first.diverged || second.diverged
	first.ok = second.ok && noUTurn(c.massInv, first.minus, first.plus)
	return first
}

// noUTurn is the termination criterion: stops when the trajectory ends start
// moving toward each other.
func noUTurn(massInv []float64, minus, plus point) bool {
	var dotMinus, dotPlus float64
	for d := range minus.x {
		dx := plus.x[d] - minus.x[d]
		dotMinus += dx * massInv[d] * minus.p[d]
		dotPlus += dx * massInv[d] * plus.p[d]
	}
	return dotMinus >= 0 && dotPlus >= 0
}
