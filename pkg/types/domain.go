package types

import "time"

// Observation is one measurement: a lab identifier, the predictor value,
// the measured response, and the lab's known measurement standard deviation.
// Sigma is a fixed instrument property, never an estimated parameter.
type Observation struct {
	// Lab (experiment/group) identifier.
	Lab string `json:"lab"`
	// Predictor value as recorded.
	X float64 `json:"x"`
	// Measured response.
	Y float64 `json:"y"`
	// Known measurement standard deviation (> 0).
	Sigma float64 `json:"sigma"`
}

// ChainStats summarizes one sampling chain after it has run to completion.
type ChainStats struct {
	// Chain index (0-based).
	Chain int `json:"chain"`
	// Retained (post warm-up) draws.
	Draws int `json:"draws"`
	// Divergent trajectories observed after warm-up. Non-zero counts are
	// surfaced to the user, never silently dropped.
	Divergences int `json:"divergences"`
	// Trajectories that hit the maximum tree depth.
	MaxDepthHits int `json:"max_depth_hits"`
	// Mean acceptance statistic over retained draws.
	MeanAccept float64 `json:"mean_accept"`
	// Adapted leapfrog step size.
	StepSize float64 `json:"step_size"`
}

// DiagnosticRow is one line of the per-parameter diagnostics table.
// Every reported estimate is paired with its reliability diagnostics.
type DiagnosticRow struct {
	Param string `json:"param"`
	// Posterior median.
	Median float64 `json:"median"`
	// Central 95% credible interval.
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	// Split potential scale-reduction statistic.
	RHat float64 `json:"rhat"`
	// Effective sample size across chains.
	ESS float64 `json:"ess"`
	// False when RHat or ESS is outside tolerance; the estimate must then
	// be presented as unreliable, not hidden.
	Reliable bool   `json:"reliable"`
	Note     string `json:"note,omitempty"`
}

// CompareRow is one model's cross-validated predictive score.
type CompareRow struct {
	Model string `json:"model"`
	// Estimator used: "psis-loo" or "waic".
	Method string `json:"method"`
	// Expected log predictive density and its standard error.
	ELPD float64 `json:"elpd"`
	SE   float64 `json:"se"`
	// Effective number of parameters.
	PEff float64 `json:"p_eff"`
	// Observations with Pareto k-hat above 0.7 (PSIS-LOO only).
	BadK int `json:"bad_k,omitempty"`
}

// Comparison is the M1-vs-M0 predictive comparison together with the
// corroborating evidence used for the narrative conclusion.
type Comparison struct {
	Rows []CompareRow `json:"rows"`
	// ELPD(M1) - ELPD(M0) and the standard error of the paired difference.
	DeltaELPD float64 `json:"delta_elpd"`
	DeltaSE   float64 `json:"delta_se"`
	// Model favored by the point difference (informative even when the
	// difference is within noise).
	Favored string `json:"favored"`
	// True when |DeltaELPD| clearly exceeds its standard error.
	Decisive bool `json:"decisive"`
	// Posterior median and 95% interval for the offset scale tau.
	TauMedian float64 `json:"tau_median"`
	TauLower  float64 `json:"tau_lower"`
	TauUpper  float64 `json:"tau_upper"`
	// Number of per-lab offset intervals excluding zero.
	OffsetsExclZero int `json:"offsets_excl_zero"`
	// Short natural-language statement on whether lab offsets are supported.
	Conclusion string `json:"conclusion"`
}

// ModelResult bundles everything produced for a single model variant.
type ModelResult struct {
	Model string `json:"model"`
	// Parameter names, in draw order.
	Params []string `json:"params"`
	// Posterior draws indexed [chain][iteration][param]. Written once after
	// the run completes and read-only thereafter.
	Draws [][][]float64 `json:"draws"`
	// Per-chain sampler statistics.
	Chains []ChainStats `json:"chains"`
	// Diagnostics table rows.
	Diagnostics []DiagnosticRow `json:"diagnostics"`
	// Standardized residual summary from the posterior predictive check.
	Residuals ResidualStats `json:"residuals"`
	// Share of observations inside their replicated 95% bands.
	Coverage float64 `json:"coverage"`
	// Per-lab posterior predictive checks.
	Groups []GroupCheck `json:"groups"`
}

// ResidualStats summarizes standardized residuals (observed minus
// posterior-mean prediction, divided by the known sigma). Near-standard
// Gaussian values indicate an adequate model; this is advisory only.
type ResidualStats struct {
	Mean   float64 `json:"mean"`
	SD     float64 `json:"sd"`
	MaxAbs float64 `json:"max_abs"`
}

// GroupCheck compares one lab's observed mean and spread with their
// replicated distributions. The p-values are posterior predictive tail
// probabilities; values near 0 or 1 flag misfit for that lab. The SD
// fields are zero and carry no information when N < 2.
type GroupCheck struct {
	Lab          string  `json:"lab"`
	N            int     `json:"n"`
	ObservedMean float64 `json:"observed_mean"`
	ObservedSD   float64 `json:"observed_sd"`
	MeanPValue   float64 `json:"mean_p"`
	SDPValue     float64 `json:"sd_p"`
}

// RunMeta identifies a completed fitting run.
type RunMeta struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	DatasetPath string    `json:"dataset_path"`
	// SHA-256 of the dataset file, for provenance.
	Fingerprint  string `json:"fingerprint"`
	Observations int    `json:"observations"`
	Labs         int    `json:"labs"`
}

// Run is the complete persisted artifact of one pipeline execution.
// It is written once after all chains have joined and is read-only
// thereafter; reports and the HTTP surface only ever read it.
type Run struct {
	Meta RunMeta `json:"meta"`
	// Immutable configuration the run was produced with, as JSON.
	Config []byte `json:"config,omitempty"`
	// Results for each fitted variant, M0 first.
	Models []ModelResult `json:"models"`
	// Predictive comparison and conclusion.
	Comparison Comparison `json:"comparison"`
}

// Model returns the named model result, or nil.
func (r *Run) Model(name string) *ModelResult {
	for i := range r.Models {
		if r.Models[i].Model == name {
			return &r.Models[i]
		}
	}
	return nil
}
