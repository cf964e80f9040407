package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"

	"hierfit/internal/config"
	"hierfit/internal/httpapi"
	"hierfit/internal/model"
	"hierfit/internal/pipeline"
	"hierfit/internal/registry"
	"hierfit/internal/report"
	"hierfit/internal/sampler"
	"hierfit/internal/store"
)

// rootState carries flag values shared by all subcommands.
type rootState struct {
	configPath string
	logLevel   string
	log        zerolog.Logger
}

func buildRootCmd() *cobra.Command {
	st := &rootState{}
	root := &cobra.Command{
		Use:           "hierfit",
		Short:         "Hierarchical regression fitting for multi-lab measurement data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&st.configPath, "config", "", "Config file (.yaml/.json/.toml); defaults apply when omitted")
	root.PersistentFlags().StringVar(&st.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		lvl, err := zerolog.ParseLevel(st.logLevel)
		if err != nil {
			return fmt.Errorf("log-level: %w", err)
		}
		st.log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(lvl).With().Timestamp().Logger()
		return nil
	}

	root.AddCommand(fitCmd(st), simulateCmd(st), reportCmd(st), serveCmd(st), datasetsCmd())
	return root
}

func datasetsCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List measurement CSV files in a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, err := registry.LoadDir(dir)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "id\tsize\tpath")
			for _, d := range sets {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", d.ID, d.SizeBytes, d.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "Directory to scan for *.csv files")
	return cmd
}

func (st *rootState) loadConfig() (config.Config, error) {
	if st.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(st.configPath)
}

func fitCmd(st *rootState) *cobra.Command {
	var dataset, outDir string
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit both model variants and write the report, figures and archive entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := st.loadConfig()
			if err != nil {
				return err
			}
			if dataset != "" {
				cfg.Dataset = dataset
			}
			if outDir != "" {
				cfg.OutDir = outDir
			}
			p, err := pipeline.New(cfg, sampler.New(), st.log)
			if err != nil {
				return err
			}
			run, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}
			return report.Render(os.Stdout, run)
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", "Measurements CSV (lab,x,y,sigma); overrides config")
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory; overrides config")
	return cmd
}

func simulateCmd(st *rootState) *cobra.Command {
	var (
		labs    int
		perLab  int
		slope   float64
		interc  float64
		tau     float64
		sigma   float64
		seed    uint64
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate a synthetic dataset with known ground truth",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := make([]string, labs)
			sigmas := make([]float64, labs)
			for j := range names {
				names[j] = "lab" + strconv.Itoa(j+1)
				sigmas[j] = sigma
			}
			truth := model.Truth{Slope: slope, Intercept: interc, Tau: tau}
			tbl, truth, err := model.SimulateTable(names, perLab, sigmas, truth, rand.NewSource(seed))
			if err != nil {
				return err
			}
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			w := csv.NewWriter(f)
			if err := w.Write([]string{"lab", "x", "y", "sigma"}); err != nil {
				return err
			}
			for _, o := range tbl.Obs {
				rec := []string{
					o.Lab,
					strconv.FormatFloat(o.X, 'f', 4, 64),
					strconv.FormatFloat(o.Y, 'f', 4, 64),
					strconv.FormatFloat(o.Sigma, 'f', 3, 64),
				}
				if err := w.Write(rec); err != nil {
					return err
				}
			}
			w.Flush()
			if err := w.Error(); err != nil {
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			st.log.Info().Str("path", outPath).
				Int("observations", len(tbl.Obs)).
				Floats64("offsets", truth.Offsets).
				Msg("dataset written")
			return nil
		},
	}
	cmd.Flags().IntVar(&labs, "labs", 7, "Number of labs")
	cmd.Flags().IntVar(&perLab, "per-lab", 20, "Observations per lab")
	cmd.Flags().Float64Var(&slope, "slope", 1.0, "True slope")
	cmd.Flags().Float64Var(&interc, "intercept", 0.0, "True intercept")
	cmd.Flags().Float64Var(&tau, "tau", 0.5, "True offset scale (0 disables offsets)")
	cmd.Flags().Float64Var(&sigma, "sigma", 0.5, "Known per-observation noise scale")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "RNG seed")
	cmd.Flags().StringVar(&outPath, "out", "simulated.csv", "Output CSV path")
	return cmd
}

func reportCmd(st *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Re-render the report of an archived run to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := st.loadConfig()
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.StorePath())
			if err != nil {
				return err
			}
			defer s.Close()
			run, err := s.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return report.Render(os.Stdout, run)
		},
	}
	return cmd
}

func serveCmd(st *rootState) *cobra.Command {
	var (
		addr        string
		corsEnabled bool
		corsOrigins []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve archived runs and their artifacts over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := st.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			s, err := store.Open(cfg.StorePath())
			if err != nil {
				return err
			}
			defer s.Close()

			baseCtx, stopBase := context.WithCancel(context.Background())
			defer stopBase()
			httpapi.SetBaseContext(baseCtx)
			httpapi.SetLogger(st.log)
			httpapi.SetCORSOptions(corsEnabled, corsOrigins,
				[]string{http.MethodGet, http.MethodHead}, nil)

			srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(s, cfg.OutDir)}
			go func() {
				st.log.Info().Str("addr", cfg.Addr).Str("store", cfg.StorePath()).Msg("listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					st.log.Fatal().Err(err).Msg("server error")
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop
			stopBase()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. :8080; overrides config")
	cmd.Flags().BoolVar(&corsEnabled, "cors-enabled", false, "Enable CORS middleware")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors-origins", []string{"*"}, "Allowed CORS origins")
	return cmd
}
