// Package dataset loads and prepares the multi-lab measurement table.
//
// Observations are loaded once and are immutable for the session; the only
// transformation is the documented centering/scaling of the predictor, which
// produces a new Table rather than mutating the loaded one.
package dataset

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"hierfit/internal/common/fsutil"
	"hierfit/pkg/types"
)

// Table is a loaded dataset plus the group structure derived from it.
// Group[i] is the index into Labs for observation i; labs are numbered in
// order of first appearance.
type Table struct {
	Obs   []types.Observation
	Labs  []string
	Group []int

	// Centered reports whether the predictor has been centered. XMean and
	// XScale describe the applied transform: x_work = (x_raw - XMean)/XScale.
	Centered bool
	XMean    float64
	XScale   float64
}

// LabSummary is a per-group view used by reports and predictive checks.
type LabSummary struct {
	Lab   string
	N     int
	MeanX float64
	MeanY float64
	Sigma float64
}

// Load reads a CSV with columns lab,x,y,sigma (any order, matched by header
// name, case-insensitive). All parse and validation failures here are fatal
// configuration errors: they are reported before any sampling begins.
func Load(path string) (*Table, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("dataset %s has no data rows", path)
	}

	col := map[string]int{}
	for i, name := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, want := range []string{"lab", "x", "y", "sigma"} {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("dataset %s: missing column %q", path, want)
		}
	}

	obs := make([]types.Observation, 0, len(rows)-1)
	for n, row := range rows[1:] {
		get := func(name string) (float64, error) {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[col[name]]), 64)
			if err != nil {
				return 0, fmt.Errorf("dataset %s row %d: bad %s value %q", path, n+2, name, row[col[name]])
			}
			return v, nil
		}
		x, err := get("x")
		if err != nil {
			return nil, err
		}
		y, err := get("y")
		if err != nil {
			return nil, err
		}
		sigma, err := get("sigma")
		if err != nil {
			return nil, err
		}
		obs = append(obs, types.Observation{
			Lab:   strings.TrimSpace(row[col["lab"]]),
			X:     x,
			Y:     y,
			Sigma: sigma,
		})
	}
	return New(obs)
}

// New validates raw observations and derives the group structure.
func New(obs []types.Observation) (*Table, error) {
	if len(obs) < 2 {
		return nil, fmt.Errorf("need at least 2 observations, have %d", len(obs))
	}
	t := &Table{Obs: obs, XScale: 1}
	index := map[string]int{}
	for i, o := range obs {
		if o.Lab == "" {
			return nil, fmt.Errorf("observation %d: empty lab identifier", i)
		}
		if o.Sigma <= 0 || math.IsNaN(o.Sigma) || math.IsInf(o.Sigma, 0) {
			return nil, fmt.Errorf("observation %d (lab %s): noise scale must be positive, have %v", i, o.Lab, o.Sigma)
		}
		if math.IsNaN(o.X) || math.IsNaN(o.Y) || math.IsInf(o.X, 0) || math.IsInf(o.Y, 0) {
			return nil, fmt.Errorf("observation %d (lab %s): non-finite value", i, o.Lab)
		}
		g, ok := index[o.Lab]
		if !ok {
			g = len(t.Labs)
			index[o.Lab] = g
			t.Labs = append(t.Labs, o.Lab)
		}
		t.Group = append(t.Group, g)
	}
	return t, nil
}

// Standardize returns a copy with the predictor centered on its mean and,
// when scale is true, divided by its standard deviation. Centering is a hard
// precondition for the hierarchical variant: with an uncentered predictor
// the offset population mean is not identifiable against the intercept.
func (t *Table) Standardize(scale bool) *Table {
	xs := t.Xs()
	mean := stat.Mean(xs, nil)
	sd := 1.0
	if scale {
		if s := stat.StdDev(xs, nil); s > 0 && !math.IsNaN(s) {
			sd = s
		}
	}
	out := &Table{
		Obs:      make([]types.Observation, len(t.Obs)),
		Labs:     t.Labs,
		Group:    t.Group,
		Centered: true,
		XMean:    t.XMean + t.XScale*mean,
		XScale:   t.XScale * sd,
	}
	copy(out.Obs, t.Obs)
	for i := range out.Obs {
		out.Obs[i].X = (t.Obs[i].X - mean) / sd
	}
	return out
}

// RawX maps a working predictor value back to its original units.
func (t *Table) RawX(x float64) float64 { return t.XMean + t.XScale*x }

// NumGroups returns the number of distinct labs.
func (t *Table) NumGroups() int { return len(t.Labs) }

// GroupSizes returns the observation count per lab.
func (t *Table) GroupSizes() []int {
	sizes := make([]int, len(t.Labs))
	for _, g := range t.Group {
		sizes[g]++
	}
	return sizes
}

// Xs returns the working predictor values (centered if Standardize ran).
func (t *Table) Xs() []float64 {
	xs := make([]float64, len(t.Obs))
	for i, o := range t.Obs {
		xs[i] = o.X
	}
	return xs
}

// Ys returns the responses.
func (t *Table) Ys() []float64 {
	ys := make([]float64, len(t.Obs))
	for i, o := range t.Obs {
		ys[i] = o.Y
	}
	return ys
}

// Summaries returns per-lab counts and means. Sigma is taken from the
// lab's first observation; in this workflow it is constant within a lab.
func (t *Table) Summaries() []LabSummary {
	out := make([]LabSummary, len(t.Labs))
	for i, lab := range t.Labs {
		out[i].Lab = lab
	}
	for i, o := range t.Obs {
		s := &out[t.Group[i]]
		if s.N == 0 {
			s.Sigma = o.Sigma
		}
		s.N++
		s.MeanX += o.X
		s.MeanY += o.Y
	}
	for i := range out {
		if out[i].N > 0 {
			out[i].MeanX /= float64(out[i].N)
			out[i].MeanY /= float64(out[i].N)
		}
	}
	return out
}
