package plot

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/exp/rand"
)

func checkPNG(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Fatalf("%s is empty", path)
	}
	head := make([]byte, 8)
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Read(head); err != nil {
		t.Fatal(err)
	}
	if string(head[1:4]) != "PNG" {
		t.Fatalf("%s does not look like a PNG", path)
	}
}

func TestFitBands(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	n := 60
	xs := make([]float64, n)
	ys := make([]float64, n)
	lo := make([]float64, n)
	hi := make([]float64, n)
	for i := range xs {
		xs[i] = -2 + 4*rng.Float64()
		ys[i] = 1.5*xs[i] + rng.NormFloat64()
		lo[i] = ys[i] - 2
		hi[i] = ys[i] + 2
	}
	path := filepath.Join(t.TempDir(), "fit.png")
	if err := FitBands(path, "fit", xs, ys, lo, hi); err != nil {
		t.Fatal(err)
	}
	checkPNG(t, path)

	if err := FitBands(path, "fit", xs, ys[:1], lo, hi); err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
}

func TestGroupFitBands(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	labs := []string{"aa", "bb", "cc", "dd", "ee"}
	var group []int
	var xs, ys, lo, hi []float64
	for j := range labs {
		for k := 0; k < 12; k++ {
			x := -2 + 4*rng.Float64()
			y := 1.5*x + float64(j) + rng.NormFloat64()
			group = append(group, j)
			xs = append(xs, x)
			ys = append(ys, y)
			lo = append(lo, y-2)
			hi = append(hi, y+2)
		}
	}
	path := filepath.Join(t.TempDir(), "by_lab.png")
	if err := GroupFitBands(path, "M1", labs, group, xs, ys, lo, hi); err != nil {
		t.Fatal(err)
	}
	checkPNG(t, path)

	if err := GroupFitBands(path, "M1", nil, group, xs, ys, lo, hi); err == nil {
		t.Fatal("expected error for empty lab list")
	}
	if err := GroupFitBands(path, "M1", labs, group[:3], xs, ys, lo, hi); err == nil {
		t.Fatal("expected error for mismatched group index")
	}
}

func TestHistogram(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	draws := make([]float64, 500)
	for i := range draws {
		draws[i] = rng.Float64()
	}
	path := filepath.Join(t.TempDir(), "tau.png")
	if err := Histogram(path, "tau posterior", "tau", draws); err != nil {
		t.Fatal(err)
	}
	checkPNG(t, path)

	if err := Histogram(path, "tau", "tau", nil); err == nil {
		t.Fatal("expected error for empty draws")
	}
}

func TestResiduals(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	z := make([]float64, 200)
	for i := range z {
		z[i] = rng.NormFloat64()
	}
	path := filepath.Join(t.TempDir(), "resid.png")
	if err := Residuals(path, z); err != nil {
		t.Fatal(err)
	}
	checkPNG(t, path)
}
