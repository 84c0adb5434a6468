// Package videos stores scraped video metadata and runs the ingestion
// pipeline that turns a submitted URL into a video row.
package videos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"carnival/db"

	"github.com/georgysavva/scany/v2/sqlscan"
)

var (
	ErrNotFound  = errors.New("video not found")
	ErrDuplicate = errors.New("video already exists")
	ErrNoFields  = errors.New("no fields to update")
)

// Video is a stored video with its current vote count.
type Video struct {
	ID           int64     `db:"id" json:"id"`
	Platform     string    `db:"platform" json:"platform"`
	VideoURL     string    `db:"video_url" json:"video_url"`
	VideoID      string    `db:"video_id" json:"video_id"`
	Username     string    `db:"username" json:"username"`
	Title        string    `db:"title" json:"title"`
	Description  string    `db:"description" json:"description"`
	ThumbnailURL string    `db:"thumbnail_url" json:"thumbnail_url"`
	Duration     int64     `db:"duration" json:"duration"`
	ViewCount    int64     `db:"view_count" json:"view_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
	VoteCount    int64     `db:"vote_count" json:"vote_count"`
}

// SelectSQL selects every video column plus a correlated vote_count, aliased
// from videos as v. Callers append WHERE/ORDER BY clauses.
const SelectSQL = `SELECT v.id, v.platform, v.video_url, v.video_id, v.username, v.title,
	v.description, v.thumbnail_url, v.duration, v.view_count, v.created_at, v.updated_at,
	(SELECT COUNT(*) FROM votes vo WHERE vo.video_id = v.id) AS vote_count
	FROM videos v`

// Sort orders accepted by List.
const (
	SortRecent = "recent"
	SortVotes  = "votes"
	SortViews  = "views"
	SortTitle  = "title"
)

var orderBy = map[string]string{
	SortRecent: "v.created_at DESC, v.id DESC",
	SortVotes:  "vote_count DESC, v.created_at ASC, v.id ASC",
	SortViews:  "v.view_count DESC, v.id ASC",
	SortTitle:  "v.title ASC, v.id ASC",
}

// List limits.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ListOptions filters and orders List.
type ListOptions struct {
	Platform string
	Sort     string
	Limit    int
}

// Store reads and writes the videos table.
type Store struct {
	DB *db.CompatDB
}

// NewStore returns a Store over d.
func NewStore(d *db.CompatDB) *Store { return &Store{DB: d} }

// Get returns one video by id.
func (s *Store) Get(ctx context.Context, id int64) (*Video, error) {
	return getVideo(ctx, s.DB, id)
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

func getVideo(ctx context.Context, q sqlscan.Querier, id int64) (*Video, error) {
	var v Video
	err := sqlscan.Get(ctx, q, &v, SelectSQL+` WHERE v.id = ?`, id)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video %d: %w", id, err)
	}
	return &v, nil
}

// List returns videos filtered by platform and ordered by opts.Sort.
// Unknown sorts fall back to most recent first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Video, error) {
	order, ok := orderBy[opts.Sort]
	if !ok {
		order = orderBy[SortRecent]
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	query := SelectSQL
	var args []interface{}
	if opts.Platform != "" {
		query += ` WHERE v.platform = ?`
		args = append(args, opts.Platform)
	}
	query += ` ORDER BY ` + order + ` LIMIT ?`
	args = append(args, limit)

	out := []Video{}
	if err := sqlscan.Select(ctx, s.DB, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return out, nil
}

// likeEscaper makes LIKE wildcards in user input match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search matches q case-insensitively against title, username and
// description, newest first.
func (s *Store) Search(ctx context.Context, q string, limit int) ([]Video, error) {
	if limit <= 0 || limit > MaxLimit {
		limit = DefaultLimit
	}
	pattern := "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(q))) + "%"
	out := []Video{}
	if err := sqlscan.Select(ctx, s.DB, &out, SelectSQL+`
		WHERE LOWER(v.title) LIKE ? ESCAPE '\'
		   OR LOWER(v.username) LIKE ? ESCAPE '\'
		   OR LOWER(v.description) LIKE ? ESCAPE '\'
		ORDER BY v.created_at DESC, v.id DESC LIMIT ?`,
		pattern, pattern, pattern, limit); err != nil {
		return nil, fmt.Errorf("search videos: %w", err)
	}
	return out, nil
}

// Update is a partial edit; nil fields are left unchanged.
type Update struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Username    *string `json:"username"`
}

// Update applies u and returns the updated video.
func (s *Store) Update(ctx context.Context, id int64, u Update) (*Video, error) {
	var sets []string
	var args []interface{}
	if u.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *u.Title)
	}
	if u.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *u.Description)
	}
	if u.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *u.Username)
	}
	if len(sets) == 0 {
		return nil, ErrNoFields
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	res, err := s.DB.ExecContext(ctx,
		`UPDATE videos SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update video %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes a video; its votes go with it.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM videos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete video %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// BulkDelete removes every listed video and reports how many existed.
func (s *Store) BulkDelete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM videos WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk delete videos: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
