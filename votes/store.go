// Package votes records one vote per (video, client IP).
package votes

import (
	"context"
	"errors"
	"fmt"

	"carnival/db"
)

var (
	ErrVideoNotFound = errors.New("video not found")
	ErrAlreadyVoted  = errors.New("already voted for this video")
)

// Observer receives vote outcomes.
type Observer interface {
	ObserveVote(outcome string)
}

// Store reads and writes the votes table.
type Store struct {
	DB       *db.CompatDB
	Observer Observer
}

// NewStore returns a Store over d.
func NewStore(d *db.CompatDB) *Store { return &Store{DB: d} }

// Cast records a vote and returns the video's new total. The votes
// foreign key decides whether the video exists, so a video deleted
// concurrently is reported as ErrVideoNotFound.
func (s *Store) Cast(ctx context.Context, videoID int64, ip, userAgent string) (int64, error) {
	if _, err := s.DB.ExecContext(ctx,
		`INSERT INTO votes (video_id, user_ip, user_agent) VALUES (?, ?, ?)`,
		videoID, ip, userAgent); err != nil {
		if db.IsUniqueViolation(err) {
			s.observe("duplicate")
			return 0, ErrAlreadyVoted
		}
		if db.IsForeignKeyViolation(err) {
			s.observe("video_not_found")
			return 0, ErrVideoNotFound
		}
		s.observe("error")
		return 0, fmt.Errorf("insert vote: %w", err)
	}
	s.observe("accepted")
	return s.Count(ctx, videoID)
}

// HasVoted reports whether ip has voted for videoID.
func (s *Store) HasVoted(ctx context.Context, videoID int64, ip string) (bool, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM votes WHERE video_id = ? AND user_ip = ?`, videoID, ip).Scan(&n); err != nil {
		return false, fmt.Errorf("check vote: %w", err)
	}
	return n > 0, nil
}

// Count returns the number of votes for videoID.
func (s *Store) Count(ctx context.Context, videoID int64) (int64, error) {
	var n int64
	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM votes WHERE video_id = ?`, videoID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count votes: %w", err)
	}
	return n, nil
}

// ClearForVideo deletes every vote for videoID and reports how many went.
func (s *Store) ClearForVideo(ctx context.Context, videoID int64) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM votes WHERE video_id = ?`, videoID)
	if err != nil {
		return 0, fmt.Errorf("clear votes: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) observe(outcome string) {
	if s.Observer != nil {
		s.Observer.ObserveVote(outcome)
	}
}
