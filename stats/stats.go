// Package stats answers the aggregate views: summary counts, ranking,
// trending, per-video timelines and a random pick. Everything is computed
// per request.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carnival/db"
	"carnival/videos"

	"github.com/georgysavva/scany/v2/sqlscan"
)

var (
	ErrVideoNotFound = errors.New("video not found")
	ErrNoVideos      = errors.New("no videos available")
)

// DefaultTrendingWindow is the trailing window used when none is given.
const DefaultTrendingWindow = 24 * time.Hour

// PlatformCount is the number of videos on one platform.
type PlatformCount struct {
	Platform string `db:"platform" json:"platform"`
	Count    int64  `db:"count" json:"count"`
}

// Summary holds the global counters.
type Summary struct {
	TotalVideos      int64           `json:"totalVideos"`
	TotalVotes       int64           `json:"totalVotes"`
	UniqueVoters     int64           `json:"uniqueVoters"`
	VideosByPlatform []PlatformCount `json:"videosByPlatform"`
}

// TrendingVideo is a video with its votes inside the trending window.
// VoteCount stays the all-time total.
type TrendingVideo struct {
	videos.Video
	RecentVotes int64 `db:"recent_votes" json:"recent_votes"`
}

// TimelinePoint is one day of votes for a video.
type TimelinePoint struct {
	Date       string `db:"date" json:"date"`
	Votes      int64  `db:"votes" json:"votes"`
	Cumulative int64  `db:"-" json:"cumulative"`
}

// Service runs the aggregate queries.
type Service struct {
	DB *db.CompatDB
}

// New returns a Service over d.
func New(d *db.CompatDB) *Service { return &Service{DB: d} }

// Summary counts videos, votes and distinct voter IPs.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	var out Summary
	if err := s.DB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM videos),
			(SELECT COUNT(*) FROM votes),
			(SELECT COUNT(DISTINCT user_ip) FROM votes)`,
	).Scan(&out.TotalVideos, &out.TotalVotes, &out.UniqueVoters); err != nil {
		return Summary{}, fmt.Errorf("summary counts: %w", err)
	}
	byPlatform, err := s.ByPlatform(ctx)
	if err != nil {
		return Summary{}, err
	}
	out.VideosByPlatform = byPlatform
	return out, nil
}

// ByPlatform counts videos per platform.
func (s *Service) ByPlatform(ctx context.Context) ([]PlatformCount, error) {
	out := []PlatformCount{}
	if err := sqlscan.Select(ctx, s.DB, &out,
		`SELECT platform, COUNT(*) AS count FROM videos GROUP BY platform ORDER BY platform`); err != nil {
		return nil, fmt.Errorf("videos by platform: %w", err)
	}
	return out, nil
}

// Ranking orders videos by vote count, oldest submission first on ties.
func (s *Service) Ranking(ctx context.Context, limit int) ([]videos.Video, error) {
	if limit <= 0 {
		limit = 10
	}
	out := []videos.Video{}
	if err := sqlscan.Select(ctx, s.DB, &out,
		videos.SelectSQL+` ORDER BY vote_count DESC, v.created_at ASC, v.id ASC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("ranking: %w", err)
	}
	return out, nil
}

// Trending ranks videos by votes cast inside the trailing window. Videos
// with no votes in the window are left out.
func (s *Service) Trending(ctx context.Context, window time.Duration, limit int) ([]TrendingVideo, error) {
	if window <= 0 {
		window = DefaultTrendingWindow
	}
	if limit <= 0 {
		limit = 10
	}
	since := s.DB.DatetimeModifier(fmt.Sprintf("-%d seconds", int64(window/time.Second)))
	out := []TrendingVideo{}
	if err := sqlscan.Select(ctx, s.DB, &out, fmt.Sprintf(`
		SELECT v.id, v.platform, v.video_url, v.video_id, v.username, v.title,
			v.description, v.thumbnail_url, v.duration, v.view_count, v.created_at, v.updated_at,
			(SELECT COUNT(*) FROM votes a WHERE a.video_id = v.id) AS vote_count,
			COUNT(r.id) AS recent_votes
		FROM videos v
		JOIN votes r ON r.video_id = v.id
		WHERE r.voted_at > %s
		GROUP BY v.id
		ORDER BY recent_votes DESC, v.created_at ASC, v.id ASC
		LIMIT ?`, since), limit); err != nil {
		return nil, fmt.Errorf("trending: %w", err)
	}
	return out, nil
}

// Timeline buckets a video's votes per day with a running total.
func (s *Service) Timeline(ctx context.Context, videoID int64) ([]TimelinePoint, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `SELECT id FROM videos WHERE id = ?`, videoID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("timeline lookup: %w", err)
	}

	day := s.DB.DateOfExpr("voted_at")
	points := []TimelinePoint{}
	if err := sqlscan.Select(ctx, s.DB, &points, fmt.Sprintf(`
		SELECT %s AS date, COUNT(*) AS votes
		FROM votes WHERE video_id = ?
		GROUP BY %s ORDER BY date ASC`, day, day), videoID); err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	var running int64
	for i := range points {
		running += points[i].Votes
		points[i].Cumulative = running
	}
	return points, nil
}

// Random returns one video chosen uniformly.
func (s *Service) Random(ctx context.Context) (*videos.Video, error) {
	var v videos.Video
	err := sqlscan.Get(ctx, s.DB, &v, videos.SelectSQL+` ORDER BY RANDOM() LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoVideos
	}
	if err != nil {
		return nil, fmt.Errorf("random video: %w", err)
	}
	return &v, nil
}
