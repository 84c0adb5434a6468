package stats

import (
	"errors"
	"net/http"
	"time"

	"carnival/httputil"

	"github.com/rs/zerolog/log"
)

// Handler serves /api/stats.
type Handler struct {
	Stats *Service
}

func (h *Handler) fail(w http.ResponseWriter, err error, what string) {
	log.Error().Err(err).Str("query", what).Msg("stats query failed")
	httputil.WriteError(w, 500, "failed to load "+what)
}

// HandleSummary returns global counters.
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Stats.Summary(r.Context())
	if err != nil {
		h.fail(w, err, "summary")
		return
	}
	httputil.WriteJSON(w, 200, s)
}

// HandleRanking returns the top videos by votes.
func (h *Handler) HandleRanking(w http.ResponseWriter, r *http.Request) {
	list, err := h.Stats.Ranking(r.Context(), httputil.IntQuery(r, "limit", 10, 1, 100))
	if err != nil {
		h.fail(w, err, "ranking")
		return
	}
	httputil.WriteJSON(w, 200, list)
}

// HandleTrending returns videos ranked by recent votes.
func (h *Handler) HandleTrending(w http.ResponseWriter, r *http.Request) {
	hours := httputil.IntQuery(r, "hours", 24, 1, 24*30)
	limit := httputil.IntQuery(r, "limit", 10, 1, 100)
	list, err := h.Stats.Trending(r.Context(), time.Duration(hours)*time.Hour, limit)
	if err != nil {
		h.fail(w, err, "trending")
		return
	}
	httputil.WriteJSON(w, 200, list)
}

// HandleTimeline returns the daily vote series for a video.
func (h *Handler) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.WriteError(w, 400, err.Error())
		return
	}
	points, err := h.Stats.Timeline(r.Context(), id)
	if errors.Is(err, ErrVideoNotFound) {
		httputil.WriteError(w, 404, "video not found")
		return
	}
	if err != nil {
		h.fail(w, err, "timeline")
		return
	}
	httputil.WriteJSON(w, 200, points)
}

// HandleRandom returns one random video.
func (h *Handler) HandleRandom(w http.ResponseWriter, r *http.Request) {
	v, err := h.Stats.Random(r.Context())
	if errors.Is(err, ErrNoVideos) {
		httputil.WriteError(w, 404, "no videos available")
		return
	}
	if err != nil {
		h.fail(w, err, "random video")
		return
	}
	httputil.WriteJSON(w, 200, v)
}
