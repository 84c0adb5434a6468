package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"carnival/activity"
	"carnival/httputil"
	"carnival/scraper"
	"carnival/settings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// ScraperProber tests scraper credentials by logical name.
type ScraperProber interface {
	Probe(ctx context.Context, name string) (scraper.ProbeResult, error)
}

// LLMProber tests the LLM credential.
type LLMProber interface {
	Probe(ctx context.Context) error
	Configured(ctx context.Context) bool
}

// HandleListKeys lists every credential with its value masked.
func (h *Handler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.Settings.KeyStatuses(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("admin list keys")
		httputil.WriteError(w, 500, "failed to load configuration")
		return
	}
	httputil.WriteJSON(w, 200, keys)
}

// HandleUpdateKey sets one credential by logical name.
func (h *Handler) HandleUpdateKey(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req struct {
		Value string `json:"value"`
		Host  string `json:"host"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, 400, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Value) == "" {
		httputil.WriteError(w, 400, "value is required")
		return
	}
	if err := h.Settings.UpdateKey(r.Context(), name, req.Value, req.Host); err != nil {
		if errors.Is(err, settings.ErrUnknownKeyName) {
			httputil.WriteError(w, 400, "unknown api key name")
			return
		}
		log.Error().Err(err).Str("key", name).Msg("admin update key")
		httputil.WriteError(w, 500, "failed to update api key")
		return
	}
	h.record(r, activity.APIKeyUpdated, map[string]string{"key": name})

	masked := settings.MaskAPIKey(strings.TrimSpace(req.Value))
	if name == "jwt" {
		masked = strings.Repeat("*", 15)
	}
	httputil.WriteJSON(w, 200, map[string]any{
		"success": true,
		"message": "api key updated",
		"masked":  masked,
	})
}

// HandleTestKey runs a live connectivity check for one credential.
func (h *Handler) HandleTestKey(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := r.Context()

	if name == "groq" {
		httputil.WriteJSON(w, 200, h.probeLLM(ctx))
		return
	}
	if name == "jwt" {
		httputil.WriteError(w, 400, "api not supported for testing")
		return
	}
	res, err := h.Scrapers.Probe(ctx, name)
	if err != nil {
		if errors.Is(err, settings.ErrUnknownKeyName) {
			httputil.WriteError(w, 400, "api not supported for testing")
			return
		}
		log.Error().Err(err).Str("key", name).Msg("admin test key")
		httputil.WriteJSON(w, 500, scraper.ProbeResult{Message: "test failed: " + err.Error()})
		return
	}
	httputil.WriteJSON(w, 200, res)
}

func (h *Handler) probeLLM(ctx context.Context) scraper.ProbeResult {
	if h.LLM == nil || !h.LLM.Configured(ctx) {
		return scraper.ProbeResult{Message: "api key not configured"}
	}
	if err := h.LLM.Probe(ctx); err != nil {
		return scraper.ProbeResult{Message: "error: " + err.Error()}
	}
	return scraper.ProbeResult{Success: true, Message: "Groq API is working"}
}

// HandleKeyStats reports LLM usage over the last week.
func (h *Handler) HandleKeyStats(w http.ResponseWriter, r *http.Request) {
	u, err := h.Activity.AIUsage(r.Context(), 7)
	if err != nil {
		log.Error().Err(err).Msg("admin key stats")
		httputil.WriteError(w, 500, "failed to load statistics")
		return
	}
	httputil.WriteJSON(w, 200, map[string]any{
		"groq": map[string]any{
			"last7Days": u.Daily,
			"total":     u.Total,
		},
	})
}
