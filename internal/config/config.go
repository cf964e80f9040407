package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds every knob for a fitting run. It is assembled once, validated,
// and then passed by value into each pipeline stage so that runs are
// reproducible and comparable; nothing reads ambient/global settings.
type Config struct {
	// Dataset is the path to the measurements CSV (lab,x,y,sigma).
	Dataset string `json:"dataset" yaml:"dataset" toml:"dataset"`
	// OutDir receives the report, plots and the run database.
	OutDir string `json:"out_dir" yaml:"out_dir" toml:"out_dir"`
	// Store is the SQLite run database path. Empty means OutDir/runs.db.
	Store string `json:"store" yaml:"store" toml:"store"`
	// Addr is the HTTP listen address for serve mode, e.g. :8080.
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	Priors      Priors      `json:"priors" yaml:"priors" toml:"priors"`
	Sampler     Sampler     `json:"sampler" yaml:"sampler" toml:"sampler"`
	Diagnostics Diagnostics `json:"diagnostics" yaml:"diagnostics" toml:"diagnostics"`

	// Parameterization of the M1 offsets: "non-centered" (default) or
	// "centered". Both describe the same posterior.
	Parameterization string `json:"parameterization" yaml:"parameterization" toml:"parameterization"`
	// ScalePredictor divides the centered predictor by its standard
	// deviation in addition to centering it.
	ScalePredictor bool `json:"scale_predictor" yaml:"scale_predictor" toml:"scale_predictor"`
}

// Priors are the fixed prior scales. The offset population is zero-mean by
// construction; together with predictor centering that keeps the offsets
// identifiable against the global intercept.
type Priors struct {
	SlopeScale     float64 `json:"slope_scale" yaml:"slope_scale" toml:"slope_scale"`
	InterceptScale float64 `json:"intercept_scale" yaml:"intercept_scale" toml:"intercept_scale"`
	// TauScale is the scale of the prior on the offset scale tau.
	TauScale float64 `json:"tau_scale" yaml:"tau_scale" toml:"tau_scale"`
	// TauFamily selects the tau prior: "half-normal" or "half-student-t".
	TauFamily string `json:"tau_family" yaml:"tau_family" toml:"tau_family"`
	// TauDF is the degrees of freedom when TauFamily is "half-student-t".
	TauDF float64 `json:"tau_df" yaml:"tau_df" toml:"tau_df"`
}

// Sampler controls the NUTS runs.
type Sampler struct {
	// Chains must be at least 2 so cross-chain convergence statistics mean
	// something.
	Chains int `json:"chains" yaml:"chains" toml:"chains"`
	Warmup int `json:"warmup" yaml:"warmup" toml:"warmup"`
	Draws  int `json:"draws" yaml:"draws" toml:"draws"`
	// TargetAccept is the step-size adaptation target, typically 0.8-0.95.
	TargetAccept float64 `json:"target_accept" yaml:"target_accept" toml:"target_accept"`
	MaxTreeDepth int     `json:"max_tree_depth" yaml:"max_tree_depth" toml:"max_tree_depth"`
	Seed         uint64  `json:"seed" yaml:"seed" toml:"seed"`
}

// Diagnostics holds the reliability tolerances used when flagging
// parameters. Estimates outside tolerance are reported, with a warning.
type Diagnostics struct {
	RHatMax float64 `json:"rhat_max" yaml:"rhat_max" toml:"rhat_max"`
	MinESS  float64 `json:"min_ess" yaml:"min_ess" toml:"min_ess"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		OutDir: "out",
		Addr:   ":8080",
		Priors: Priors{
			SlopeScale:     10,
			InterceptScale: 10,
			TauScale:       1,
			TauFamily:      "half-normal",
			TauDF:          4,
		},
		Sampler: Sampler{
			Chains:       4,
			Warmup:       500,
			Draws:        500,
			TargetAccept: 0.9,
			MaxTreeDepth: 10,
			Seed:         1,
		},
		Diagnostics: Diagnostics{
			RHatMax: 1.01,
			MinESS:  300,
		},
		Parameterization: "non-centered",
		ScalePredictor:   true,
	}
}

// Load reads a configuration file based on its extension and overlays it on
// the defaults. Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Validate reports the first configuration error. All of these are fatal
// before any sampling begins.
func (c Config) Validate() error {
	if c.Dataset == "" {
		return fmt.Errorf("dataset path is required")
	}
	if c.Priors.SlopeScale <= 0 || c.Priors.InterceptScale <= 0 || c.Priors.TauScale <= 0 {
		return fmt.Errorf("prior scales must be positive")
	}
	switch c.Priors.TauFamily {
	case "half-normal":
	case "half-student-t":
		if c.Priors.TauDF <= 0 {
			return fmt.Errorf("tau_df must be positive for half-student-t")
		}
	default:
		return fmt.Errorf("unknown tau_family %q (want half-normal or half-student-t)", c.Priors.TauFamily)
	}
	if c.Sampler.Chains < 2 {
		return fmt.Errorf("chains must be at least 2 (cross-chain convergence checks need them)")
	}
	if c.Sampler.Warmup < 50 {
		return fmt.Errorf("warmup must be at least 50 iterations")
	}
	if c.Sampler.Draws < 1 {
		return fmt.Errorf("draws must be positive")
	}
	if c.Sampler.TargetAccept <= 0 || c.Sampler.TargetAccept >= 1 {
		return fmt.Errorf("target_accept must be in (0,1)")
	}
	if c.Sampler.MaxTreeDepth < 1 || c.Sampler.MaxTreeDepth > 15 {
		return fmt.Errorf("max_tree_depth must be in [1,15]")
	}
	switch c.Parameterization {
	case "non-centered", "centered":
	default:
		return fmt.Errorf("unknown parameterization %q", c.Parameterization)
	}
	if c.Diagnostics.RHatMax < 1 {
		return fmt.Errorf("rhat_max must be at least 1")
	}
	if c.Diagnostics.MinESS < 0 {
		return fmt.Errorf("min_ess must be non-negative")
	}
	return nil
}

// StorePath resolves the run database location.
func (c Config) StorePath() string {
	if c.Store != "" {
		return c.Store
	}
	return filepath.Join(c.OutDir, "runs.db")
}
