package httpapi

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is an optional structured logger. If unset, falls back to log.Printf.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = parseLevel(os.Getenv("HIERFIT_LOG_LEVEL"))

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// requestLogger logs one line per request at info level and above.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lvl := requestLogLevel(r)
		if lvl < LevelInfo {
			next.ServeHTTP(w, r)
			return
		}
		sr := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(sr, r)
		if zlog != nil {
			z := zlog.Info().Str("path", r.URL.Path).Str("method", r.Method).
				Int("status", sr.status).Dur("dur", time.Since(start))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("request")
		} else {
			log.Printf("%s %s status=%d dur=%s", r.Method, r.URL.Path, sr.status, time.Since(start))
		}
	})
}
