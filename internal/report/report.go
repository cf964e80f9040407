// Package report renders a completed run as a plain-text summary: per-model
// diagnostics, sampler health, the predictive comparison, and the
// conclusion. Every estimate appears next to its convergence diagnostics so
// an unreliable number can never be quoted without its caveat.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"hierfit/pkg/types"
)

// Render writes the full report for run to w.
func Render(w io.Writer, run *types.Run) error {
	fmt.Fprintf(w, "run %s\n", run.Meta.ID)
	fmt.Fprintf(w, "dataset %s (%d observations, %d labs)\n", run.Meta.DatasetPath,
		run.Meta.Observations, run.Meta.Labs)
	fmt.Fprintf(w, "sha256 %s\n", run.Meta.Fingerprint)
	fmt.Fprintf(w, "created %s\n\n", run.Meta.CreatedAt.Format("2006-01-02 15:04:05 MST"))

	for i := range run.Models {
		if err := renderModel(w, &run.Models[i]); err != nil {
			return err
		}
	}
	if err := renderComparison(w, &run.Comparison); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nconclusion: %s\n", run.Comparison.Conclusion)
	return nil
}

// WriteFile renders the report to path.
func WriteFile(path string, run *types.Run) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Render(f, run); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func renderModel(w io.Writer, m *types.ModelResult) error {
	fmt.Fprintf(w, "== %s ==\n", m.Model)

	divergences := 0
	for _, c := range m.Chains {
		divergences += c.Divergences
	}
	fmt.Fprintf(w, "chains %d", len(m.Chains))
	if divergences > 0 {
		fmt.Fprintf(w, ", %d divergent transitions (inspect before trusting tails)", divergences)
	} else {
		fmt.Fprintf(w, ", no divergences")
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "param\tmedian\t2.5%\t97.5%\tr-hat\tess\tnote")
	for _, d := range m.Diagnostics {
		note := d.Note
		if note == "" && d.Reliable {
			note = "ok"
		}
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%.3f\t%.0f\t%s\n",
			d.Param, d.Median, d.Lower, d.Upper, d.RHat, d.ESS, note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "standardized residuals: mean %.2f, sd %.2f, max |z| %.2f\n",
		m.Residuals.Mean, m.Residuals.SD, m.Residuals.MaxAbs)
	fmt.Fprintf(w, "replicated 95%% band covers %.0f%% of observations\n", 100*m.Coverage)

	if len(m.Groups) > 0 {
		tw = tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "lab\tn\tmean\tsd\tp(mean)\tp(sd)\tnote")
		for _, g := range m.Groups {
			sd, psd := fmt.Sprintf("%.3f", g.ObservedSD), fmt.Sprintf("%.3f", g.SDPValue)
			if g.N < 2 {
				sd, psd = "-", "-"
			}
			fmt.Fprintf(tw, "%s\t%d\t%.3f\t%s\t%.3f\t%s\t%s\n",
				g.Lab, g.N, g.ObservedMean, sd, g.MeanPValue, psd, groupNote(g))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	fmt.Fprintln(w)
	return nil
}

// groupNote flags labs whose observed statistics sit in the far tails of
// their replicated distributions.
func groupNote(g types.GroupCheck) string {
	extreme := func(p float64) bool { return p < 0.025 || p > 0.975 }
	switch {
	case extreme(g.MeanPValue) && g.N > 1 && extreme(g.SDPValue):
		return "mean and spread misfit"
	case extreme(g.MeanPValue):
		return "mean misfit"
	case g.N > 1 && extreme(g.SDPValue):
		return "spread misfit"
	}
	return "ok"
}

func renderComparison(w io.Writer, c *types.Comparison) error {
	fmt.Fprintln(w, "== comparison ==")
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "model\tmethod\telpd\tse\tp_eff\tbad k")
	for _, r := range c.Rows {
		bad := "-"
		if strings.EqualFold(r.Method, "psis-loo") {
			bad = fmt.Sprintf("%d", r.BadK)
		}
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%.1f\t%.1f\t%s\n",
			r.Model, r.Method, r.ELPD, r.SE, r.PEff, bad)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "delta elpd %.1f (se %.1f), favored %s\n", c.DeltaELPD, c.DeltaSE, c.Favored)
	return nil
}
