package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets up the global zerolog logger with structured JSON output.
// Level is parsed from the given string (e.g. "debug", "info", "warn", "error").
func Init(level, service string) {
	InitWriter(os.Stdout, level, service)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level, service string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = true

	log.Logger = zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// HashIP produces a short, irreversible hash prefix of an IP address
// for log correlation without storing raw addresses.
func HashIP(ip string) string {
	h := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(h[:])[:12]
}

// RequestLogger logs each request once it completes. The route pattern is
// logged instead of the raw path so ids and search terms stay out of logs.
// clientIP resolves the caller address; it is only ever logged hashed.
func RequestLogger(clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			evt := log.Info()
			if status >= 500 {
				evt = log.Error()
			} else if status >= 400 {
				evt = log.Warn()
			}

			evt.
				Str("method", r.Method).
				Str("route", RoutePattern(r)).
				Int("status", status).
				Dur("duration_ms", time.Since(start)).
				Str("ip_hash", HashIP(clientIP(r))).
				Int("bytes_sent", ww.BytesWritten()).
				Msg("request")
		})
	}
}

// RoutePattern returns the matched chi route pattern, or "unmatched".
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
