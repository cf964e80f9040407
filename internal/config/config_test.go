package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "dataset: labs.csv\nout_dir: /tmp/out\nsampler:\n  chains: 2\n  warmup: 200\n  draws: 300\n  seed: 7\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dataset != "labs.csv" || cfg.OutDir != "/tmp/out" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Sampler.Chains != 2 || cfg.Sampler.Warmup != 200 || cfg.Sampler.Draws != 300 || cfg.Sampler.Seed != 7 {
		t.Fatalf("unexpected sampler cfg: %+v", cfg.Sampler)
	}
	// Untouched fields keep their defaults.
	if cfg.Priors.TauFamily != "half-normal" || cfg.Diagnostics.RHatMax != 1.01 {
		t.Fatalf("defaults not preserved: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"dataset":"d.csv","priors":{"tau_scale":2.5,"tau_family":"half-student-t","tau_df":3}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dataset != "d.csv" || cfg.Priors.TauScale != 2.5 || cfg.Priors.TauFamily != "half-student-t" || cfg.Priors.TauDF != 3 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "dataset = \"d.csv\"\nparameterization = \"centered\"\n\n[sampler]\nchains = 3\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dataset != "d.csv" || cfg.Parameterization != "centered" || cfg.Sampler.Chains != 3 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	p = writeTempFile(t, d, "bad.yaml", "dataset: d.csv\n: broken\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected YAML unmarshal error")
	}
	p = writeTempFile(t, d, "bad.json", `{"dataset": }`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected JSON unmarshal error")
	}
}

func TestValidate(t *testing.T) {
	base := Default()
	base.Dataset = "labs.csv"
	if err := base.Validate(); err != nil {
		t.Fatalf("default config with dataset should validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing dataset", func(c *Config) { c.Dataset = "" }},
		{"negative prior scale", func(c *Config) { c.Priors.TauScale = -1 }},
		{"bad tau family", func(c *Config) { c.Priors.TauFamily = "lognormal" }},
		{"half-t without df", func(c *Config) { c.Priors.TauFamily = "half-student-t"; c.Priors.TauDF = 0 }},
		{"single chain", func(c *Config) { c.Sampler.Chains = 1 }},
		{"tiny warmup", func(c *Config) { c.Sampler.Warmup = 10 }},
		{"zero draws", func(c *Config) { c.Sampler.Draws = 0 }},
		{"accept out of range", func(c *Config) { c.Sampler.TargetAccept = 1.2 }},
		{"bad parameterization", func(c *Config) { c.Parameterization = "folded" }},
		{"rhat below one", func(c *Config) { c.Diagnostics.RHatMax = 0.9 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestStorePath(t *testing.T) {
	c := Default()
	c.OutDir = "/tmp/o"
	if got := c.StorePath(); got != filepath.Join("/tmp/o", "runs.db") {
		t.Fatalf("unexpected store path %q", got)
	}
	c.Store = "/var/lib/hierfit.db"
	if got := c.StorePath(); got != "/var/lib/hierfit.db" {
		t.Fatalf("unexpected store path %q", got)
	}
}
