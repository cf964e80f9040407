package dataset

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hierfit/pkg/types"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "labs.csv")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad(t *testing.T) {
	p := writeCSV(t, "lab,x,y,sigma\nnist,1.0,2.0,0.5\nnist,2.0,2.5,0.5\nptb,1.5,2.2,0.8\n")
	tbl, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tbl.Obs) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(tbl.Obs))
	}
	if got := tbl.NumGroups(); got != 2 {
		t.Fatalf("expected 2 labs, got %d", got)
	}
	if tbl.Labs[0] != "nist" || tbl.Labs[1] != "ptb" {
		t.Fatalf("labs not in first-appearance order: %v", tbl.Labs)
	}
	if tbl.Group[2] != 1 {
		t.Fatalf("unexpected grouping: %v", tbl.Group)
	}
	sizes := tbl.GroupSizes()
	if sizes[0] != 2 || sizes[1] != 1 {
		t.Fatalf("unexpected sizes: %v", sizes)
	}
}

func TestLoadColumnOrderAndCase(t *testing.T) {
	p := writeCSV(t, "Sigma,Y,X,Lab\n0.5,2.0,1.0,nist\n0.5,2.5,2.0,ptb\n")
	tbl, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tbl.Obs[0].Lab != "nist" || tbl.Obs[0].X != 1.0 || tbl.Obs[0].Y != 2.0 || tbl.Obs[0].Sigma != 0.5 {
		t.Fatalf("columns mismatched: %+v", tbl.Obs[0])
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name, csv, want string
	}{
		{"missing column", "lab,x,y\nnist,1,2\nptb,2,3\n", "missing column"},
		{"bad number", "lab,x,y,sigma\nnist,one,2,0.5\n", "bad x value"},
		{"zero sigma", "lab,x,y,sigma\nnist,1,2,0\nptb,2,3,0.5\n", "noise scale"},
		{"negative sigma", "lab,x,y,sigma\nnist,1,2,-0.5\nptb,2,3,0.5\n", "noise scale"},
		{"single row", "lab,x,y,sigma\nnist,1,2,0.5\n", "at least 2"},
		{"empty lab", "lab,x,y,sigma\n,1,2,0.5\nptb,2,3,0.5\n", "empty lab"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := writeCSV(t, tc.csv)
			_, err := Load(p)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestStandardize(t *testing.T) {
	obs := []types.Observation{
		{Lab: "a", X: 10, Y: 1, Sigma: 1},
		{Lab: "a", X: 20, Y: 2, Sigma: 1},
		{Lab: "b", X: 30, Y: 3, Sigma: 1},
	}
	tbl, err := New(obs)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c := tbl.Standardize(false)
	if !c.Centered {
		t.Fatalf("expected centered table")
	}
	if tbl.Centered || tbl.Obs[0].X != 10 {
		t.Fatalf("original table mutated")
	}
	var sum float64
	for _, o := range c.Obs {
		sum += o.X
	}
	if math.Abs(sum) > 1e-12 {
		t.Fatalf("centered predictor should sum to zero, got %v", sum)
	}
	// Round trip back to raw units.
	for i, o := range c.Obs {
		if math.Abs(c.RawX(o.X)-obs[i].X) > 1e-12 {
			t.Fatalf("raw round trip failed at %d: %v vs %v", i, c.RawX(o.X), obs[i].X)
		}
	}

	s := tbl.Standardize(true)
	var ss float64
	for _, o := range s.Obs {
		ss += o.X * o.X
	}
	sd := math.Sqrt(ss / float64(len(s.Obs)-1))
	if math.Abs(sd-1) > 1e-12 {
		t.Fatalf("scaled predictor should have unit sd, got %v", sd)
	}
	for i, o := range s.Obs {
		if math.Abs(s.RawX(o.X)-obs[i].X) > 1e-9 {
			t.Fatalf("scaled raw round trip failed at %d", i)
		}
	}
}

func TestStandardizeConstantPredictor(t *testing.T) {
	obs := []types.Observation{
		{Lab: "a", X: 5, Y: 1, Sigma: 1},
		{Lab: "b", X: 5, Y: 2, Sigma: 1},
	}
	tbl, err := New(obs)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// Zero variance must not blow up the scale.
	s := tbl.Standardize(true)
	if s.XScale != 1 {
		t.Fatalf("expected scale 1 for constant predictor, got %v", s.XScale)
	}
	if s.Obs[0].X != 0 || s.Obs[1].X != 0 {
		t.Fatalf("expected centered zeros, got %+v", s.Obs)
	}
}

func TestSummaries(t *testing.T) {
	obs := []types.Observation{
		{Lab: "a", X: 1, Y: 2, Sigma: 0.5},
		{Lab: "a", X: 3, Y: 4, Sigma: 0.5},
		{Lab: "b", X: 10, Y: 20, Sigma: 1.5},
	}
	tbl, err := New(obs)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sums := tbl.Summaries()
	if len(sums) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(sums))
	}
	if sums[0].N != 2 || sums[0].MeanX != 2 || sums[0].MeanY != 3 || sums[0].Sigma != 0.5 {
		t.Fatalf("unexpected summary for a: %+v", sums[0])
	}
	if sums[1].N != 1 || sums[1].Sigma != 1.5 {
		t.Fatalf("unexpected summary for b: %+v", sums[1])
	}
}
