// Package activity records admin and AI events in the activity_logs table.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"carnival/db"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/rs/zerolog/log"
)

// Actions written to the log.
const (
	TriviaGenerated   = "trivia_generated"
	ChatMessage       = "chat_message"
	APIKeyUpdated     = "api_key_updated"
	ConfigUpdated     = "config_updated"
	VideoUpdated      = "video_updated"
	VideoDeleted      = "video_deleted"
	VideosBulkDeleted = "videos_bulk_deleted"
	VotesCleared      = "votes_cleared"
)

// Entry is one activity_logs row. Details holds the JSON text as stored.
type Entry struct {
	ID        int64     `db:"id" json:"id"`
	Action    string    `db:"action" json:"action"`
	Details   string    `db:"details" json:"details"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Log reads and writes activity entries.
type Log struct {
	DB *db.CompatDB
}

// New returns a Log over d.
func New(d *db.CompatDB) *Log { return &Log{DB: d} }

// Record stores an action. details is marshalled to JSON; nil stores "{}".
func (l *Log) Record(ctx context.Context, action string, details any, ip, userAgent string) error {
	payload := []byte("{}")
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal %s details: %w", action, err)
		}
		payload = b
	}
	if _, err := l.DB.ExecContext(ctx,
		`INSERT INTO activity_logs (action, details, ip_address, user_agent) VALUES (?, ?, ?, ?)`,
		action, string(payload), ip, userAgent); err != nil {
		return fmt.Errorf("record %s: %w", action, err)
	}
	return nil
}

// RecordQuietly is Record for callers that must not fail on a log write.
func (l *Log) RecordQuietly(ctx context.Context, action string, details any, ip, userAgent string) {
	if l == nil {
		return
	}
	if err := l.Record(ctx, action, details, ip, userAgent); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("activity log write failed")
	}
}

// Recent returns the newest entries first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	entries := []Entry{}
	if err := sqlscan.Select(ctx, l.DB, &entries,
		`SELECT id, action, details, ip_address, user_agent, created_at
		 FROM activity_logs ORDER BY created_at DESC, id DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	return entries, nil
}

// DailyCount is the number of AI calls on one day.
type DailyCount struct {
	Date  string `db:"date" json:"date"`
	Count int64  `db:"count" json:"count"`
}

// Usage summarizes AI activity over a trailing window.
type Usage struct {
	Days            int          `json:"days"`
	TriviaQuestions int64        `json:"triviaQuestions"`
	ChatMessages    int64        `json:"chatMessages"`
	Total           int64        `json:"total"`
	Daily           []DailyCount `json:"last7Days"`
}

// AIUsage counts trivia and chat events within the last days days, with a
// per-day breakdown newest first.
func (l *Log) AIUsage(ctx context.Context, days int) (Usage, error) {
	if days <= 0 {
		days = 7
	}
	u := Usage{Days: days, Daily: []DailyCount{}}
	since := l.DB.DatetimeModifier(fmt.Sprintf("-%d days", days))

	if err := l.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT
			COALESCE(SUM(CASE WHEN action = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN action = ? THEN 1 ELSE 0 END), 0)
		FROM activity_logs WHERE created_at > %s`, since),
		TriviaGenerated, ChatMessage).Scan(&u.TriviaQuestions, &u.ChatMessages); err != nil {
		return Usage{}, fmt.Errorf("ai usage totals: %w", err)
	}
	u.Total = u.TriviaQuestions + u.ChatMessages

	day := l.DB.DateOfExpr("created_at")
	if err := sqlscan.Select(ctx, l.DB, &u.Daily, fmt.Sprintf(`
		SELECT %s AS date, COUNT(*) AS count
		FROM activity_logs
		WHERE action IN (?, ?) AND created_at > %s
		GROUP BY %s
		ORDER BY date DESC`, day, since, day),
		TriviaGenerated, ChatMessage); err != nil {
		return Usage{}, fmt.Errorf("ai usage daily: %w", err)
	}
	return u, nil
}
