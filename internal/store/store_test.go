package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"hierfit/pkg/types"
)

func sampleRun(id string, created time.Time) *types.Run {
	return &types.Run{
		Meta: types.RunMeta{
			ID:           id,
			CreatedAt:    created,
			DatasetPath:  "testdata/labs.csv",
			Fingerprint:  "00ff",
			Observations: 163,
			Labs:         7,
		},
		Config: []byte(`{"sampler":{"chains":4}}`),
		Models: []types.ModelResult{{
			Model:  "M0",
			Params: []string{"slope", "intercept"},
			Draws:  [][][]float64{{{1.2, -0.3}}},
			Chains: []types.ChainStats{{Chain: 0, Draws: 1}},
			Diagnostics: []types.DiagnosticRow{
				{Param: "slope", Median: 1.2, RHat: 1.0, ESS: 900, Reliable: true},
			},
		}},
		Comparison: types.Comparison{Favored: "M0", Conclusion: "no offsets"},
	}
}

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "out", "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveGetRoundtrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	run := sampleRun("r1", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, run) {
		t.Fatalf("roundtrip mismatch:\n got %+v\nwant %+v", got, run)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	old := sampleRun("old", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	recent := sampleRun("recent", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	for _, r := range []*types.Run{old, recent} {
		if err := s.SaveRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	metas, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 || metas[0].ID != "recent" || metas[1].ID != "old" {
		t.Fatalf("unexpected order: %+v", metas)
	}
}

func TestSaveOverwrites(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	run := sampleRun("r1", time.Now().UTC())
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	run.Comparison.Conclusion = "revised"
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Comparison.Conclusion != "revised" {
		t.Fatalf("overwrite lost: %q", got.Comparison.Conclusion)
	}
	metas, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 1 {
		t.Fatalf("upsert duplicated the row: %d entries", len(metas))
	}
}

func TestGetMissing(t *testing.T) {
	s := openTemp(t)
	if _, err := s.GetRun(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveRejectsEmptyID(t *testing.T) {
	s := openTemp(t)
	if err := s.SaveRun(context.Background(), &types.Run{}); err == nil {
		t.Fatal("expected error for missing id")
	}
}
