package videos

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carnival/db"
	"carnival/scraper"

	"github.com/rs/zerolog/log"
)

// Scraper fetches metadata for a submitted URL.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*scraper.Metadata, error)
}

// Observer receives ingestion outcomes.
type Observer interface {
	ObserveIngestion(outcome string)
}

// Service turns submitted URLs into stored videos.
type Service struct {
	Store    *Store
	Scraper  Scraper
	Observer Observer
}

// Ingest scrapes raw and stores the result. A URL or (platform, video id)
// already on file yields ErrDuplicate.
func (s *Service) Ingest(ctx context.Context, raw string) (*Video, error) {
	raw = strings.TrimSpace(raw)
	md, err := s.Scraper.Scrape(ctx, raw)
	if err != nil {
		s.observe("scrape_error")
		return nil, err
	}

	var v *Video
	err = db.WithTx(ctx, s.Store.DB, func(conn *db.CompatConn) error {
		var existing int64
		err := conn.QueryRowContext(ctx,
			`SELECT id FROM videos WHERE video_url = ? OR (platform = ? AND video_id = ?) LIMIT 1`,
			raw, string(md.Platform), md.VideoID).Scan(&existing)
		if err == nil {
			return fmt.Errorf("%w: id %d", ErrDuplicate, existing)
		}
		if !isNoRows(err) {
			return fmt.Errorf("duplicate check: %w", err)
		}

		var id int64
		if err := conn.QueryRowContext(ctx, `
			INSERT INTO videos (platform, video_url, video_id, username, title, description, thumbnail_url, duration, view_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			string(md.Platform), raw, md.VideoID, md.Username, md.Title, md.Description,
			md.ThumbnailURL, md.Duration, md.ViewCount).Scan(&id); err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicate, raw)
			}
			return fmt.Errorf("insert video: %w", err)
		}

		v, err = getVideo(ctx, conn, id)
		return err
	})
	switch {
	case errors.Is(err, ErrDuplicate):
		s.observe("duplicate")
		return nil, err
	case err != nil:
		s.observe("error")
		return nil, err
	}

	s.observe("created")
	log.Info().
		Int64("id", v.ID).
		Str("platform", v.Platform).
		Str("video_id", v.VideoID).
		Msg("video ingested")
	return v, nil
}

func (s *Service) observe(outcome string) {
	if s.Observer != nil {
		s.Observer.ObserveIngestion(outcome)
	}
}
