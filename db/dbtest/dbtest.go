// Package dbtest opens throwaway in-memory databases for package tests.
package dbtest

import (
	"context"
	"testing"

	"carnival/db"
)

// New returns a migrated in-memory SQLite database closed at test cleanup.
func New(t *testing.T) *db.CompatDB {
	t.Helper()
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// InsertVideo inserts a bare video row and returns its id.
func InsertVideo(t *testing.T, d *db.CompatDB, platform, url, videoID, title string) int64 {
	t.Helper()
	var id int64
	err := d.QueryRowContext(context.Background(),
		`INSERT INTO videos (platform, video_url, video_id, title) VALUES (?, ?, ?, ?) RETURNING id`,
		platform, url, videoID, title).Scan(&id)
	if err != nil {
		t.Fatalf("insert video: %v", err)
	}
	return id
}

// InsertVote inserts a vote row. An empty votedAt uses the column default.
func InsertVote(t *testing.T, d *db.CompatDB, videoID int64, ip, votedAt string) {
	t.Helper()
	var err error
	if votedAt == "" {
		_, err = d.ExecContext(context.Background(),
			`INSERT INTO votes (video_id, user_ip) VALUES (?, ?)`, videoID, ip)
	} else {
		_, err = d.ExecContext(context.Background(),
			`INSERT INTO votes (video_id, user_ip, voted_at) VALUES (?, ?, ?)`, videoID, ip, votedAt)
	}
	if err != nil {
		t.Fatalf("insert vote: %v", err)
	}
}
