// Package httpapi serves completed runs over HTTP: run listings, full run
// payloads, the rendered artifacts, and operational endpoints. It is a
// read-only surface; fitting happens in the CLI, never behind a request.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hierfit/internal/store"
	"hierfit/pkg/types"
)

// RunSource is what the HTTP layer needs from the run archive. *store.Store
// satisfies it; tests inject an in-memory implementation.
type RunSource interface {
	ListRuns(ctx context.Context) ([]types.RunMeta, error)
	GetRun(ctx context.Context, id string) (*types.Run, error)
}

// NewMux builds the router. artifactsDir is the output directory holding
// per-run reports and figures; it is served read-only under /artifacts/.
func NewMux(src RunSource, artifactsDir string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	r.Use(requestLogger)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := joinContexts(serverBaseCtx, req.Context())
		defer cancel()
		metas, err := src.ListRuns(ctx)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		renderIndex(w, metas)
	})

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := joinContexts(serverBaseCtx, req.Context())
		defer cancel()
		metas, err := src.ListRuns(ctx)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(types.RunsResponse{Runs: metas}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := joinContexts(serverBaseCtx, req.Context())
		defer cancel()
		id := chi.URLParam(req, "id")
		run, err := src.GetRun(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no run %s", id))
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(run); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	if artifactsDir != "" {
		fs := http.StripPrefix("/artifacts/", http.FileServer(http.Dir(artifactsDir)))
		r.Get("/artifacts/*", fs.ServeHTTP)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func renderIndex(w http.ResponseWriter, metas []types.RunMeta) {
	fmt.Fprint(w, "<!doctype html><title>hierfit runs</title><h1>runs</h1>")
	if len(metas) == 0 {
		fmt.Fprint(w, "<p>no runs yet</p>")
		return
	}
	fmt.Fprint(w, "<table><tr><th>id</th><th>created</th><th>dataset</th><th>obs</th><th>labs</th><th></th></tr>")
	for _, m := range metas {
		fmt.Fprintf(w,
			`<tr><td><a href="/runs/%s">%s</a></td><td>%s</td><td>%s</td><td>%d</td><td>%d</td>`+
				`<td><a href="/artifacts/%s/report.txt">report</a></td></tr>`,
			m.ID, m.ID, m.CreatedAt.Format(time.RFC3339), m.DatasetPath,
			m.Observations, m.Labs, m.ID)
	}
	fmt.Fprint(w, "</table>")
}
