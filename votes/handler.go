package votes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"carnival/httputil"
	"carnival/ratelimit"

	"github.com/rs/zerolog/log"
)

// Handler serves /api/votes.
type Handler struct {
	Store *Store
}

// flexID accepts a video id as a JSON number or numeric string.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexID(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexID(n)
	return nil
}

// HandleCast records a vote from the caller's IP.
func (h *Handler) HandleCast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VideoID  flexID `json:"videoId"`
		VideoID2 flexID `json:"video_id"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, 400, "invalid request body")
		return
	}
	videoID := int64(req.VideoID)
	if videoID == 0 {
		videoID = int64(req.VideoID2)
	}
	if videoID <= 0 {
		httputil.WriteError(w, 400, "videoId is required")
		return
	}

	count, err := h.Store.Cast(r.Context(), videoID, ratelimit.ClientIP(r), r.UserAgent())
	switch {
	case errors.Is(err, ErrVideoNotFound):
		httputil.WriteError(w, 404, "video not found")
		return
	case errors.Is(err, ErrAlreadyVoted):
		httputil.WriteJSON(w, 409, map[string]interface{}{"error": "you already voted for this video", "alreadyVoted": true})
		return
	case err != nil:
		log.Error().Err(err).Int64("video_id", videoID).Msg("cast vote")
		httputil.WriteError(w, 500, "failed to record vote")
		return
	}
	httputil.WriteJSON(w, 200, map[string]interface{}{"success": true, "votes": count})
}

// HandleCheck reports whether the caller has voted for a video.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	videoID, err := httputil.IDParam(r, "videoId")
	if err != nil {
		httputil.WriteError(w, 400, err.Error())
		return
	}
	voted, err := h.Store.HasVoted(r.Context(), videoID, ratelimit.ClientIP(r))
	if err != nil {
		log.Error().Err(err).Msg("check vote")
		httputil.WriteError(w, 500, "failed to check vote")
		return
	}
	httputil.WriteJSON(w, 200, map[string]bool{"hasVoted": voted})
}

// HandleCount returns the vote total for a video.
func (h *Handler) HandleCount(w http.ResponseWriter, r *http.Request) {
	videoID, err := httputil.IDParam(r, "videoId")
	if err != nil {
		httputil.WriteError(w, 400, err.Error())
		return
	}
	n, err := h.Store.Count(r.Context(), videoID)
	if err != nil {
		log.Error().Err(err).Msg("count votes")
		httputil.WriteError(w, 500, "failed to count votes")
		return
	}
	httputil.WriteJSON(w, 200, map[string]int64{"video_id": videoID, "votes": n})
}
