// Package pipeline orchestrates a complete fitting run: load and prepare
// the dataset, fit both model variants, run diagnostics and predictive
// checks, compare the variants, and persist the artifacts. Configuration
// errors abort before any sampling starts; sampler pathologies such as
// divergent transitions are surfaced in the outputs, never fatal.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"

	"hierfit/internal/common/fsutil"
	"hierfit/internal/compare"
	"hierfit/internal/config"
	"hierfit/internal/dataset"
	"hierfit/internal/diagnostics"
	"hierfit/internal/infer"
	"hierfit/internal/model"
	"hierfit/internal/plot"
	"hierfit/internal/ppc"
	"hierfit/internal/report"
	"hierfit/internal/store"
	"hierfit/pkg/types"
)

// Pipeline runs the full workflow with an injected sampling engine.
type Pipeline struct {
	cfg    config.Config
	runner infer.Runner
	log    zerolog.Logger
}

// New validates cfg and binds the engine. Any configuration error is
// returned here, before data is touched or a chain is started.
func New(cfg config.Config, runner infer.Runner, log zerolog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if runner == nil {
		return nil, fmt.Errorf("pipeline: nil runner")
	}
	return &Pipeline{cfg: cfg, runner: runner, log: log}, nil
}

// fitted bundles the per-variant intermediate products the comparison
// stage needs after both fits complete.
type fitted struct {
	model     *model.Model
	posterior *infer.Posterior
	check     *ppc.Result
	result    types.ModelResult
}

// Run executes the workflow once and returns the persisted run.
func (p *Pipeline) Run(ctx context.Context) (*types.Run, error) {
	start := time.Now()
	cfg := p.cfg

	tbl, err := dataset.Load(cfg.Dataset)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	fp, err := fsutil.Fingerprint(cfg.Dataset)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}
	prepared := tbl.Standardize(cfg.ScalePredictor)
	p.log.Info().
		Int("observations", len(prepared.Obs)).
		Int("labs", prepared.NumGroups()).
		Str("sha256", fp).
		Msg("dataset loaded")

	param, err := model.ParameterizationFromString(cfg.Parameterization)
	if err != nil {
		return nil, err
	}
	family, err := model.TauFamilyFromString(cfg.Priors.TauFamily)
	if err != nil {
		return nil, err
	}
	priors := model.Priors{
		SlopeScale:     cfg.Priors.SlopeScale,
		InterceptScale: cfg.Priors.InterceptScale,
		TauScale:       cfg.Priors.TauScale,
		TauFamily:      family,
		TauDF:          cfg.Priors.TauDF,
	}

	run := &types.Run{
		Meta: types.RunMeta{
			ID:           uuid.NewString(),
			CreatedAt:    time.Now().UTC(),
			DatasetPath:  cfg.Dataset,
			Fingerprint:  fp,
			Observations: len(prepared.Obs),
			Labs:         prepared.NumGroups(),
		},
	}
	if run.Config, err = json.Marshal(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	var fits []*fitted
	for _, kind := range []model.Kind{model.M0, model.M1} {
		f, err := p.fit(ctx, kind, param, priors, prepared)
		if err != nil {
			return nil, err
		}
		fits = append(fits, f)
		run.Models = append(run.Models, f.result)
	}

	cmp, err := p.compareFits(fits[0], fits[1])
	if err != nil {
		return nil, err
	}
	run.Comparison = *cmp

	if err := p.persist(ctx, run, fits, prepared); err != nil {
		return nil, err
	}
	p.log.Info().
		Str("run", run.Meta.ID).
		Dur("elapsed", time.Since(start)).
		Str("favored", cmp.Favored).
		Msg("run complete")
	return run, nil
}

func (p *Pipeline) fit(ctx context.Context, kind model.Kind, param model.Parameterization, priors model.Priors, tbl *dataset.Table) (*fitted, error) {
	m, err := model.New(kind, param, priors, tbl)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	p.log.Info().Str("model", kind.String()).Int("chains", p.cfg.Sampler.Chains).Msg("sampling")

	post, err := p.runner.Run(ctx, m, infer.Config{
		Chains:       p.cfg.Sampler.Chains,
		Warmup:       p.cfg.Sampler.Warmup,
		Draws:        p.cfg.Sampler.Draws,
		TargetAccept: p.cfg.Sampler.TargetAccept,
		MaxTreeDepth: p.cfg.Sampler.MaxTreeDepth,
		Seed:         p.cfg.Sampler.Seed,
		Label:        kind.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	if div := post.Divergences(); div > 0 {
		p.log.Warn().Str("model", kind.String()).Int("divergences", div).
			Msg("divergent transitions; treat tail estimates with suspicion")
	}

	rows := diagnostics.Summarize(post, diagnostics.Thresholds{
		RHatMax: p.cfg.Diagnostics.RHatMax,
		MinESS:  p.cfg.Diagnostics.MinESS,
	})
	for _, r := range rows {
		if !r.Reliable {
			p.log.Warn().Str("model", kind.String()).Str("param", r.Param).Msg(r.Note)
		}
	}

	check, err := ppc.Check(m, post, rand.NewSource(p.cfg.Sampler.Seed+uint64(kind)+0x5bf0))
	if err != nil {
		return nil, fmt.Errorf("%s ppc: %w", kind, err)
	}

	return &fitted{
		model:     m,
		posterior: post,
		check:     check,
		result: types.ModelResult{
			Model:       kind.String(),
			Params:      m.ParamNames(),
			Draws:       post.Draws,
			Chains:      post.Stats,
			Diagnostics: rows,
			Residuals:   check.Stats,
			Coverage:    check.Coverage,
			Groups:      check.Groups,
		},
	}, nil
}

func (p *Pipeline) compareFits(base, hier *fitted) (*types.Comparison, error) {
	scores := make([]compare.ModelScores, 2)
	for i, f := range []*fitted{base, hier} {
		ll, err := compare.LogLikMatrix(f.model, f.posterior)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.result.Model, err)
		}
		scores[i] = compare.ModelScores{
			Name: f.result.Model,
			LOO:  compare.LOO(ll),
			WAIC: compare.WAIC(ll),
		}
		if bad := scores[i].LOO.BadK; bad > 0 {
			p.log.Warn().Str("model", f.result.Model).Int("bad_k", bad).
				Msg("observations with unstable importance weights")
		}
	}

	tau, err := tauEvidence(hier.posterior)
	if err != nil {
		return nil, err
	}
	cmp := compare.Conclude(scores[0], scores[1], tau)
	return &cmp, nil
}

// tauEvidence extracts the tau posterior interval and counts per-lab
// offset intervals excluding zero.
func tauEvidence(post *infer.Posterior) (compare.TauEvidence, error) {
	var ev compare.TauEvidence
	idx, err := post.Index("tau")
	if err != nil {
		return ev, err
	}
	ev.Median, ev.Lower, ev.Upper = diagnostics.Quantiles(post.Flat(idx), 0.05)
	for i, name := range post.Names {
		if len(name) < 7 || name[:7] != "offset[" {
			continue
		}
		ev.Groups++
		_, lo, hi := diagnostics.Quantiles(post.Flat(i), 0.05)
		if lo > 0 || hi < 0 {
			ev.OffsetsExclZero++
		}
	}
	return ev, nil
}

// persist writes the report and figures under OutDir/<run id> and archives
// the run in the SQLite store.
func (p *Pipeline) persist(ctx context.Context, run *types.Run, fits []*fitted, tbl *dataset.Table) (retErr error) {
	dir := filepath.Join(p.cfg.OutDir, run.Meta.ID)
	if err := fsutil.EnsureDir(dir); err != nil {
		return err
	}
	if err := report.WriteFile(filepath.Join(dir, "report.txt"), run); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	xs := make([]float64, len(tbl.Obs))
	for i, o := range tbl.Obs {
		xs[i] = tbl.RawX(o.X)
	}
	for _, f := range fits {
		name := f.result.Model
		lower := make([]float64, len(f.check.Bands))
		upper := make([]float64, len(f.check.Bands))
		ys := make([]float64, len(f.check.Bands))
		for i, b := range f.check.Bands {
			lower[i], upper[i], ys[i] = b.Lower, b.Upper, b.Observed
		}
		if err := plot.FitBands(filepath.Join(dir, "fit_"+name+".png"),
			name+" posterior predictive", xs, ys, lower, upper); err != nil {
			return fmt.Errorf("fit plot %s: %w", name, err)
		}
		if err := plot.GroupFitBands(filepath.Join(dir, "fit_"+name+"_by_lab.png"),
			name, tbl.Labs, tbl.Group, xs, ys, lower, upper); err != nil {
			return fmt.Errorf("group fit plot %s: %w", name, err)
		}
		if err := plot.Residuals(filepath.Join(dir, "residuals_"+name+".png"), f.check.Residuals); err != nil {
			return fmt.Errorf("residual plot %s: %w", name, err)
		}
	}
	if idx, err := fits[1].posterior.Index("tau"); err == nil {
		if err := plot.Histogram(filepath.Join(dir, "tau.png"),
			"offset scale posterior", "tau", fits[1].posterior.Flat(idx)); err != nil {
			return fmt.Errorf("tau plot: %w", err)
		}
	}

	st, err := store.Open(p.cfg.StorePath())
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil && retErr == nil {
			retErr = err
		}
	}()
	if err := st.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}
