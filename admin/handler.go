// Package admin serves the JWT-protected /api/admin surface: moderation,
// aggregate stats, runtime config and API key management.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"time"

	"carnival/activity"
	"carnival/db"
	"carnival/httputil"
	"carnival/ratelimit"
	"carnival/settings"
	"carnival/stats"
	"carnival/videos"
	"carnival/votes"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/rs/zerolog/log"
)

// ServerInfo is the static part of the config view.
type ServerInfo struct {
	Port              int    `json:"port"`
	Version           string `json:"version"`
	RateLimitWindowMS int    `json:"rateLimitWindow"`
	RateLimitMax      int    `json:"rateLimitMax"`
	SettingsSealed    bool   `json:"settingsSealed"`
}

// Handler holds dependencies for admin endpoints.
type Handler struct {
	DB       *db.CompatDB
	Videos   *videos.Store
	Votes    *votes.Store
	Stats    *stats.Service
	Settings *settings.Store
	Activity *activity.Log
	Scrapers ScraperProber
	LLM      LLMProber
	Server   ServerInfo
}

func (h *Handler) record(r *http.Request, action string, details any) {
	h.Activity.RecordQuietly(r.Context(), action, details, ratelimit.ClientIP(r), r.UserAgent())
}

// VoterCount is one row of the top voters table.
type VoterCount struct {
	UserIP    string `db:"user_ip" json:"user_ip"`
	VoteCount int64  `db:"vote_count" json:"vote_count"`
}

// HourCount is the number of votes cast in one hour of the day.
type HourCount struct {
	Hour  string `db:"hour" json:"hour"`
	Count int64  `db:"count" json:"count"`
}

// Overview is the admin dashboard payload.
type Overview struct {
	Videos       int64                 `json:"videos"`
	Votes        int64                 `json:"votes"`
	UniqueVoters int64                 `json:"uniqueVoters"`
	ByPlatform   []stats.PlatformCount `json:"byPlatform"`
	RecentVideos []videos.Video        `json:"recentVideos"`
	TopVoters    []VoterCount          `json:"topVoters"`
	VotesByHour  []HourCount           `json:"votesByHour"`
	System       map[string]any        `json:"system"`
}

func (h *Handler) overview(ctx context.Context) (*Overview, error) {
	sum, err := h.Stats.Summary(ctx)
	if err != nil {
		return nil, err
	}
	out := &Overview{
		Videos:       sum.TotalVideos,
		Votes:        sum.TotalVotes,
		UniqueVoters: sum.UniqueVoters,
		ByPlatform:   sum.VideosByPlatform,
		TopVoters:    []VoterCount{},
		VotesByHour:  []HourCount{},
	}

	out.RecentVideos, err = h.Videos.List(ctx, videos.ListOptions{Sort: videos.SortRecent, Limit: 10})
	if err != nil {
		return nil, err
	}
	if err := sqlscan.Select(ctx, h.DB, &out.TopVoters, `
		SELECT user_ip, COUNT(*) AS vote_count
		FROM votes
		GROUP BY user_ip
		ORDER BY vote_count DESC, user_ip ASC
		LIMIT 10`); err != nil {
		return nil, fmt.Errorf("top voters: %w", err)
	}
	hour := h.DB.HourOfExpr("voted_at")
	if err := sqlscan.Select(ctx, h.DB, &out.VotesByHour, fmt.Sprintf(`
		SELECT %s AS hour, COUNT(*) AS count
		FROM votes
		GROUP BY %s
		ORDER BY hour ASC`, hour, hour)); err != nil {
		return nil, fmt.Errorf("votes by hour: %w", err)
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	var dbSizeMB float64
	if err := h.DB.QueryRowContext(ctx, `SELECT `+h.DB.DBSizeExpr()).Scan(&dbSizeMB); err != nil {
		log.Warn().Err(err).Msg("admin stats: db size query failed")
	}
	out.System = map[string]any{
		"goroutines": runtime.NumGoroutine(),
		"memory_mb":  m.Alloc / 1024 / 1024,
		"go_version": runtime.Version(),
		"db_size_mb": dbSizeMB,
		"db_dialect": string(h.DB.Dialect),
	}
	return out, nil
}

// HandleStats returns the admin dashboard numbers.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	o, err := h.overview(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("admin stats failed")
		httputil.WriteError(w, 500, "failed to load statistics")
		return
	}
	httputil.WriteJSON(w, 200, map[string]any{"success": true, "stats": o})
}

// HandleUpdateVideo edits title, description or username.
func (h *Handler) HandleUpdateVideo(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.WriteError(w, 400, err.Error())
		return
	}
	var u videos.Update
	if err := httputil.DecodeJSON(r, &u); err != nil {
		httputil.WriteError(w, 400, "invalid request body")
		return
	}
	v, err := h.Videos.Update(r.Context(), id, u)
	switch {
	case errors.Is(err, videos.ErrNoFields):
		httputil.WriteError(w, 400, "no fields to update")
		return
	case errors.Is(err, videos.ErrNotFound):
		httputil.WriteError(w, 404, "video not found")
		return
	case err != nil:
		log.Error().Err(err).Int64("id", id).Msg("admin update video")
		httputil.WriteError(w, 500, "failed to update video")
		return
	}
	h.record(r, activity.VideoUpdated, map[string]int64{"videoId": id})
	httputil.WriteJSON(w, 200, map[string]any{"success": true, "message": "video updated", "video": v})
}

// HandleDeleteVideo removes one video and its votes.
func (h *Handler) HandleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.WriteError(w, 400, err.Error())
		return
	}
	if err := h.Videos.Delete(r.Context(), id); err != nil {
		if errors.Is(err, videos.ErrNotFound) {
			httputil.WriteError(w, 404, "video not found")
			return
		}
		log.Error().Err(err).Int64("id", id).Msg("admin delete video")
		httputil.WriteError(w, 500, "failed to delete video")
		return
	}
	h.record(r, activity.VideoDeleted, map[string]int64{"videoId": id})
	httputil.WriteJSON(w, 200, map[string]any{"success": true, "message": "video deleted"})
}

// HandleBulkDelete removes every video in {videoIds}.
func (h *Handler) HandleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VideoIDs []int64 `json:"videoIds"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, 400, "videoIds must be an array of ids")
		return
	}
	if len(req.VideoIDs) == 0 {
		httputil.WriteError(w, 400, "videoIds must not be empty")
		return
	}
	n, err := h.Videos.BulkDelete(r.Context(), req.VideoIDs)
	if err != nil {
		log.Error().Err(err).Int("requested", len(req.VideoIDs)).Msg("admin bulk delete")
		httputil.WriteError(w, 500, "failed to delete videos")
		return
	}
	h.record(r, activity.VideosBulkDeleted, map[string]any{"videoIds": req.VideoIDs, "deleted": n})
	httputil.WriteJSON(w, 200, map[string]any{
		"success":      true,
		"message":      fmt.Sprintf("%d video(s) deleted", n),
		"deletedCount": n,
	})
}

// HandleClearVotes removes every vote for a video.
func (h *Handler) HandleClearVotes(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "videoId")
	if err != nil {
		httputil.WriteError(w, 400, err.Error())
		return
	}
	n, err := h.Votes.ClearForVideo(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Int64("video_id", id).Msg("admin clear votes")
		httputil.WriteError(w, 500, "failed to clear votes")
		return
	}
	h.record(r, activity.VotesCleared, map[string]int64{"videoId": id, "deleted": n})
	httputil.WriteJSON(w, 200, map[string]any{
		"success":      true,
		"message":      fmt.Sprintf("%d vote(s) deleted", n),
		"deletedCount": n,
	})
}

// HandleGetConfig returns the masked scraper credentials and server info.
func (h *Handler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Settings.APIConfigs(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("admin get config")
		httputil.WriteError(w, 500, "failed to load configuration")
		return
	}
	entries, err := h.Settings.All(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("admin list config entries")
		httputil.WriteError(w, 500, "failed to load configuration")
		return
	}
	httputil.WriteJSON(w, 200, map[string]any{
		"success": true,
		"config": map[string]any{
			"apis":    cfg.Masked(),
			"server":  h.Server,
			"entries": entries,
		},
	})
}

// HandleUpdateConfig applies {apis} to the settings store.
func (h *Handler) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIs *settings.APIConfigsUpdate `json:"apis"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, 400, "invalid request body")
		return
	}
	if req.APIs == nil {
		httputil.WriteError(w, 400, "apis configuration is required")
		return
	}
	changed, err := h.Settings.UpdateAPIConfigs(r.Context(), *req.APIs)
	if err != nil {
		log.Error().Err(err).Msg("admin update config")
		httputil.WriteError(w, 500, "failed to save configuration")
		return
	}
	sort.Strings(changed)
	h.record(r, activity.ConfigUpdated, map[string][]string{"keys": changed})

	cfg, err := h.Settings.APIConfigs(r.Context())
	if err != nil {
		httputil.WriteError(w, 500, "failed to load configuration")
		return
	}
	httputil.WriteJSON(w, 200, map[string]any{
		"success": true,
		"message": "configuration updated",
		"config":  cfg.Masked(),
		"note":    "changes apply to the next request",
	})
}

// LogEvent is one row of the merged admin event feed.
type LogEvent struct {
	EventType   string    `db:"event_type" json:"event_type"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
	Description string    `db:"description" json:"description"`
	Details     string    `db:"details" json:"details"`
}

const maxLogEvents = 30

// RecentEvents merges recent submissions, votes and activity entries,
// newest first.
func (h *Handler) RecentEvents(ctx context.Context) ([]LogEvent, error) {
	var added, cast []LogEvent
	if err := sqlscan.Select(ctx, h.DB, &added, `
		SELECT 'VIDEO_ADDED' AS event_type, created_at AS timestamp,
			title AS description, username AS details
		FROM videos
		ORDER BY created_at DESC, id DESC
		LIMIT 20`); err != nil {
		return nil, fmt.Errorf("recent videos: %w", err)
	}
	if err := sqlscan.Select(ctx, h.DB, &cast, `
		SELECT 'VOTE_CAST' AS event_type, vo.voted_at AS timestamp,
			v.title AS description, vo.user_ip AS details
		FROM votes vo
		JOIN videos v ON vo.video_id = v.id
		ORDER BY vo.voted_at DESC, vo.id DESC
		LIMIT 20`); err != nil {
		return nil, fmt.Errorf("recent votes: %w", err)
	}
	entries, err := h.Activity.Recent(ctx, 20)
	if err != nil {
		return nil, err
	}

	events := make([]LogEvent, 0, len(added)+len(cast)+len(entries))
	events = append(events, added...)
	events = append(events, cast...)
	for _, e := range entries {
		events = append(events, LogEvent{
			EventType:   strings.ToUpper(e.Action),
			Timestamp:   e.CreatedAt,
			Description: e.Details,
			Details:     e.IPAddress,
		})
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if len(events) > maxLogEvents {
		events = events[:maxLogEvents]
	}
	return events, nil
}

// HandleLogs returns the merged event feed.
func (h *Handler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	events, err := h.RecentEvents(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("admin logs failed")
		httputil.WriteError(w, 500, "failed to load logs")
		return
	}
	httputil.WriteJSON(w, 200, map[string]any{"success": true, "logs": events})
}
