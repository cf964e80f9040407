// Package e2e exercises the whole system in process: fit on a synthetic
// dataset, archive the run, then read everything back through the HTTP
// surface the way a browser would.
package e2e

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"

	"hierfit/internal/config"
	"hierfit/internal/httpapi"
	"hierfit/internal/model"
	"hierfit/internal/pipeline"
	"hierfit/internal/sampler"
	"hierfit/internal/store"
	"hierfit/pkg/types"
)

func writeDataset(t *testing.T, dir string) string {
	t.Helper()
	labs := []string{"aa", "bb", "cc", "dd"}
	sigmas := []float64{0.4, 0.5, 0.6, 0.5}
	truth := model.Truth{Slope: 1.2, Intercept: 0.3, Tau: 1.0}
	tbl, _, err := model.SimulateTable(labs, 15, sigmas, truth, rand.NewSource(5))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "labs.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := csv.NewWriter(f)
	_ = w.Write([]string{"lab", "x", "y", "sigma"})
	for _, o := range tbl.Obs {
		_ = w.Write([]string{
			o.Lab,
			strconv.FormatFloat(o.X, 'f', 4, 64),
			strconv.FormatFloat(o.Y, 'f', 4, 64),
			strconv.FormatFloat(o.Sigma, 'f', 3, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFitThenServe(t *testing.T) {
	if testing.Short() {
		t.Skip("full fit is slow")
	}
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Dataset = writeDataset(t, dir)
	cfg.OutDir = filepath.Join(dir, "out")
	cfg.Sampler.Chains = 2
	cfg.Sampler.Warmup = 200
	cfg.Sampler.Draws = 200
	cfg.Sampler.Seed = 3

	p, err := pipeline.New(cfg, sampler.New(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	srv := httptest.NewServer(httpapi.NewMux(st, cfg.OutDir))
	defer srv.Close()

	// Listing shows the archived run.
	var listing types.RunsResponse
	getJSON(t, srv.URL+"/runs", &listing)
	if len(listing.Runs) != 1 || listing.Runs[0].ID != run.Meta.ID {
		t.Fatalf("listing: %+v", listing.Runs)
	}

	// The full payload round-trips with diagnostics and comparison intact.
	var got types.Run
	getJSON(t, srv.URL+"/runs/"+run.Meta.ID, &got)
	if len(got.Models) != 2 || got.Comparison.Conclusion == "" {
		t.Fatalf("run payload incomplete: %+v", got.Comparison)
	}
	for _, m := range got.Models {
		if len(m.Diagnostics) == 0 {
			t.Fatalf("%s: no diagnostics", m.Model)
		}
	}

	// Artifacts are reachable exactly as linked from the index page.
	resp, err := http.Get(srv.URL + "/artifacts/" + run.Meta.ID + "/report.txt")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), run.Meta.ID) {
		t.Fatalf("report fetch: %d %q", resp.StatusCode, string(body)[:min(len(body), 80)])
	}

	index := getText(t, srv.URL+"/")
	if !strings.Contains(index, run.Meta.ID) {
		t.Fatal("index page does not link the run")
	}
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s: %d %s", url, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("%s: %v", url, err)
	}
}

func getText(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("%s: %d", url, resp.StatusCode)
	}
	return string(body)
}
