// Package plot renders the run figures as PNG files: the fit with its
// posterior predictive band, the offset scale posterior, and the
// standardized residual histogram against its reference density.
package plot

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const (
	width  = 6 * vg.Inch
	height = 4 * vg.Inch

	tileWidth  = 3 * vg.Inch
	tileHeight = 2.5 * vg.Inch
)

// bandPlot builds one observed-over-band panel. The inputs are parallel
// per-observation slices; xs need not be sorted.
func bandPlot(title string, xs, ys, lower, upper []float64, legend bool) (*plot.Plot, error) {
	n := len(xs)
	if n == 0 || len(ys) != n || len(lower) != n || len(upper) != n {
		return nil, fmt.Errorf("plot: mismatched series lengths")
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })

	pts := make(plotter.XYs, n)
	lo := make(plotter.XYs, n)
	hi := make(plotter.XYs, n)
	for j, i := range idx {
		pts[j] = plotter.XY{X: xs[i], Y: ys[i]}
		lo[j] = plotter.XY{X: xs[i], Y: lower[i]}
		hi[j] = plotter.XY{X: xs[i], Y: upper[i]}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	loLine, err := plotter.NewLine(lo)
	if err != nil {
		return nil, err
	}
	hiLine, err := plotter.NewLine(hi)
	if err != nil {
		return nil, err
	}
	loLine.LineStyle.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
	hiLine.LineStyle.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	p.Add(loLine, hiLine, scatter)
	if legend {
		p.Legend.Add("replicated 95% band", loLine)
		p.Legend.Add("observed", scatter)
	}
	return p, nil
}

// FitBands draws the observed points over the replicated 95% band.
func FitBands(path, title string, xs, ys, lower, upper []float64) error {
	p, err := bandPlot(title, xs, ys, lower, upper, true)
	if err != nil {
		return err
	}
	return p.Save(width, height, path)
}

// GroupFitBands draws one observed-over-band panel per lab, tiled on a
// single canvas. group maps each observation to its index in labs.
func GroupFitBands(path, title string, labs []string, group []int, xs, ys, lower, upper []float64) error {
	if len(labs) == 0 {
		return fmt.Errorf("plot: no labs")
	}
	if len(group) != len(xs) {
		return fmt.Errorf("plot: mismatched series lengths")
	}

	cols := 3
	if len(labs) < cols {
		cols = len(labs)
	}
	rows := (len(labs) + cols - 1) / cols

	plots := make([][]*plot.Plot, rows)
	for r := range plots {
		plots[r] = make([]*plot.Plot, cols)
	}
	for j, lab := range labs {
		var gx, gy, glo, ghi []float64
		for i, g := range group {
			if g != j {
				continue
			}
			gx = append(gx, xs[i])
			gy = append(gy, ys[i])
			glo = append(glo, lower[i])
			ghi = append(ghi, upper[i])
		}
		name := lab
		if title != "" {
			name = title + " " + lab
		}
		p, err := bandPlot(name, gx, gy, glo, ghi, false)
		if err != nil {
			return fmt.Errorf("lab %s: %w", lab, err)
		}
		plots[j/cols][j%cols] = p
	}

	img := vgimg.New(vg.Length(cols)*tileWidth, vg.Length(rows)*tileHeight)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: rows, Cols: cols,
		PadX: vg.Millimeter, PadY: vg.Millimeter,
		PadTop: vg.Millimeter, PadBottom: vg.Millimeter,
		PadLeft: vg.Millimeter, PadRight: vg.Millimeter,
	}
	canvases := plot.Align(plots, tiles, dc)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if plots[r][c] != nil {
				plots[r][c].Draw(canvases[r][c])
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Histogram draws a normalized histogram of posterior draws.
func Histogram(path, title, xlabel string, draws []float64) error {
	if len(draws) == 0 {
		return fmt.Errorf("plot: no draws")
	}
	h, err := plotter.NewHist(plotter.Values(draws), 40)
	if err != nil {
		return err
	}
	h.Normalize(1)

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = "density"
	p.Add(h)
	return p.Save(width, height, path)
}

// Residuals draws the standardized residual histogram with the standard
// normal density for reference. A gross mismatch is visible at a glance.
func Residuals(path string, z []float64) error {
	if len(z) == 0 {
		return fmt.Errorf("plot: no residuals")
	}
	h, err := plotter.NewHist(plotter.Values(z), 30)
	if err != nil {
		return err
	}
	h.Normalize(1)

	ref := plotter.NewFunction(func(x float64) float64 {
		return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
	})
	ref.Samples = 200

	p := plot.New()
	p.Title.Text = "standardized residuals"
	p.X.Label.Text = "z"
	p.Y.Label.Text = "density"
	p.Add(h, ref)
	p.Legend.Add("N(0,1)", ref)

	// Keep the reference density visible even for tight residuals.
	if p.X.Max < 3 {
		p.X.Max = 3
	}
	if p.X.Min > -3 {
		p.X.Min = -3
	}
	return p.Save(width, height, path)
}
