package videos

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"carnival/activity"
	"carnival/httputil"
	"carnival/ratelimit"
	"carnival/scraper"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Handler serves /api/videos.
type Handler struct {
	Store    *Store
	Service  *Service
	Activity *activity.Log
}

// HandleCreate scrapes and stores a submitted URL.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, 400, "invalid request body")
		return
	}
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		httputil.WriteError(w, 400, "url is required")
		return
	}
	if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		httputil.WriteError(w, 400, "url must be an http(s) link")
		return
	}

	v, err := h.Service.Ingest(r.Context(), raw)
	if err != nil {
		writeIngestError(w, err)
		return
	}
	httputil.WriteJSON(w, 201, v)
}

func writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrDuplicate):
		httputil.WriteJSON(w, 409, map[string]interface{}{"error": "video already exists", "duplicate": true})
	case errors.Is(err, scraper.ErrUnsupportedPlatform):
		httputil.WriteError(w, 400, "unsupported platform, only TikTok and YouTube links are accepted")
	case errors.Is(err, scraper.ErrInvalidURL):
		httputil.WriteError(w, 400, "could not extract a video id from url")
	case errors.Is(err, scraper.ErrNotFound):
		httputil.WriteError(w, 404, "video not found on platform")
	case errors.Is(err, scraper.ErrNotConfigured):
		httputil.WriteError(w, 503, "scraper api not configured")
	case errors.Is(err, scraper.ErrInvalidKey):
		httputil.WriteError(w, 503, "scraper api key invalid")
	case errors.Is(err, scraper.ErrQuota):
		httputil.WriteError(w, 503, "scraper api quota exceeded")
	case errors.Is(err, scraper.ErrAllBackendsFailed), errors.Is(err, scraper.ErrUpstream):
		log.Warn().Err(err).Msg("ingest upstream failure")
		httputil.WriteError(w, 502, "failed to fetch video metadata")
	default:
		log.Error().Err(err).Msg("ingest failed")
		httputil.WriteError(w, 500, "internal error")
	}
}

// HandleList lists videos with their vote counts.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	platform := q.Get("platform")
	if platform != "" && platform != string(scraper.TikTok) && platform != string(scraper.YouTube) {
		httputil.WriteError(w, 400, "platform must be tiktok or youtube")
		return
	}
	list, err := h.Store.List(r.Context(), ListOptions{
		Platform: platform,
		Sort:     q.Get("sort"),
		Limit:    httputil.IntQuery(r, "limit", DefaultLimit, 1, MaxLimit),
	})
	if err != nil {
		log.Error().Err(err).Msg("list videos")
		httputil.WriteError(w, 500, "failed to list videos")
		return
	}
	httputil.WriteJSON(w, 200, list)
}

// HandleGet returns one video.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.WriteError(w, 400, err.Error())
		return
	}
	v, err := h.Store.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteError(w, 404, "video not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("id", id).Msg("get video")
		httputil.WriteError(w, 500, "failed to load video")
		return
	}
	httputil.WriteJSON(w, 200, v)
}

// HandleSearch runs a text search over titles, usernames and descriptions.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(chi.URLParam(r, "query"))
	if q == "" {
		httputil.WriteError(w, 400, "query is required")
		return
	}
	list, err := h.Store.Search(r.Context(), q, httputil.IntQuery(r, "limit", DefaultLimit, 1, MaxLimit))
	if err != nil {
		log.Error().Err(err).Msg("search videos")
		httputil.WriteError(w, 500, "search failed")
		return
	}
	httputil.WriteJSON(w, 200, list)
}

// HandleDelete removes a video and its votes.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.WriteError(w, 400, err.Error())
		return
	}
	if err := h.Store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteError(w, 404, "video not found")
			return
		}
		log.Error().Err(err).Int64("id", id).Msg("delete video")
		httputil.WriteError(w, 500, "failed to delete video")
		return
	}
	h.Activity.RecordQuietly(r.Context(), activity.VideoDeleted,
		map[string]int64{"videoId": id}, ratelimit.ClientIP(r), r.UserAgent())
	httputil.WriteJSON(w, 200, map[string]interface{}{"success": true, "message": "video deleted"})
}
