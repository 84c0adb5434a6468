// Package settings is the runtime-editable key-value config table. API
// credentials and the admin JWT secret are read from here on every use so
// admin edits apply without a restart.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"carnival/db"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/rs/zerolog/log"
)

// Config table keys.
const (
	KeyTikTokKey1  = "TIKTOK_API_KEY_1"
	KeyTikTokHost1 = "TIKTOK_API_HOST_1"
	KeyTikTokKey2  = "TIKTOK_API_KEY_2"
	KeyTikTokHost2 = "TIKTOK_API_HOST_2"
	KeyYouTube     = "YOUTUBE_API_KEY"
	KeyGroq        = "GROQ_API_KEY"
	KeyJWTSecret   = "JWT_SECRET"
	KeyRateWindow  = "RATE_LIMIT_WINDOW_MS"
	KeyRateMax     = "RATE_LIMIT_MAX_REQUESTS"
)

// Default RapidAPI hosts used when no host is configured.
const (
	DefaultTikTokHost1 = "tiktok-scraper7.p.rapidapi.com"
	DefaultTikTokHost2 = "tiktok-video-no-watermark2.p.rapidapi.com"
)

// secretKeys are sealed at rest when a Sealer is configured.
var secretKeys = map[string]bool{
	KeyTikTokKey1: true,
	KeyTikTokKey2: true,
	KeyYouTube:    true,
	KeyGroq:       true,
	KeyJWTSecret:  true,
}

// IsSecret reports whether key holds a credential.
func IsSecret(key string) bool { return secretKeys[key] }

// ErrUnknownKeyName is returned for a logical key name outside KeySpecs.
var ErrUnknownKeyName = errors.New("unknown api key name")

// KeySpec maps a logical credential name used by the admin API to its
// config keys.
type KeySpec struct {
	Name        string
	Label       string
	Key         string
	HostKey     string
	DefaultHost string
	Description string
}

var keySpecs = []KeySpec{
	{Name: "groq", Label: "Groq API", Key: KeyGroq, Description: "AI chat and trivia"},
	{Name: "tiktok1", Label: "TikTok API #1", Key: KeyTikTokKey1, HostKey: KeyTikTokHost1, DefaultHost: DefaultTikTokHost1, Description: "Primary TikTok scraper"},
	{Name: "tiktok2", Label: "TikTok API #2", Key: KeyTikTokKey2, HostKey: KeyTikTokHost2, DefaultHost: DefaultTikTokHost2, Description: "Fallback TikTok scraper"},
	{Name: "youtube", Label: "YouTube Data API v3", Key: KeyYouTube, Description: "YouTube metadata"},
	{Name: "jwt", Label: "JWT Secret", Key: KeyJWTSecret, Description: "Admin token signing secret"},
}

// LookupKeySpec resolves a logical name such as "tiktok1".
func LookupKeySpec(name string) (KeySpec, error) {
	for _, s := range keySpecs {
		if s.Name == name {
			return s, nil
		}
	}
	return KeySpec{}, fmt.Errorf("%w: %q", ErrUnknownKeyName, name)
}

// Entry is one config row.
type Entry struct {
	Key         string    `db:"key" json:"key"`
	Value       string    `db:"value" json:"value"`
	Description string    `db:"description" json:"description"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Store reads and writes the config table.
type Store struct {
	DB *db.CompatDB
	// Env is the fallback for missing or empty rows. Defaults to os.Getenv.
	Env func(string) string
	// Sealer encrypts secret values at rest. Nil stores plaintext.
	Sealer *Sealer
}

// New returns a Store falling back to the process environment.
func New(d *db.CompatDB, sealer *Sealer) *Store {
	return &Store{DB: d, Env: os.Getenv, Sealer: sealer}
}

func (s *Store) env(key string) string {
	if s.Env == nil {
		return os.Getenv(key)
	}
	return s.Env(key)
}

// Get returns the value for key. A missing or empty row falls back to the
// environment. A failing query is logged and also falls back.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var stored string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.env(key), nil
	case err != nil:
		log.Warn().Err(err).Str("key", key).Msg("config lookup failed, using environment")
		return s.env(key), nil
	}

	value, err := s.Sealer.Open(stored)
	if err != nil {
		return "", fmt.Errorf("unseal %s: %w", key, err)
	}
	if strings.TrimSpace(value) == "" {
		return s.env(key), nil
	}
	return value, nil
}

// GetMany returns values for several keys.
func (s *Store) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := s.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// IsConfigured reports whether key resolves to a non-blank value.
func (s *Store) IsConfigured(ctx context.Context, key string) bool {
	v, err := s.Get(ctx, key)
	return err == nil && strings.TrimSpace(v) != ""
}

func (s *Store) encode(key, value string) (string, error) {
	if !IsSecret(key) {
		return value, nil
	}
	return s.Sealer.Seal(value)
}

const upsertSQL = `INSERT INTO config (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`

// Set inserts or replaces the value for key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	enc, err := s.encode(key, value)
	if err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	if _, err := s.DB.ExecContext(ctx, upsertSQL, key, enc); err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	log.Info().Str("key", key).Bool("empty", value == "").Msg("config saved")
	return nil
}

// SetMany writes all values in one transaction.
func (s *Store) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	encoded := make(map[string]string, len(values))
	for _, k := range keys {
		enc, err := s.encode(k, values[k])
		if err != nil {
			return fmt.Errorf("seal %s: %w", k, err)
		}
		encoded[k] = enc
	}

	err := db.WithTx(ctx, s.DB, func(conn *db.CompatConn) error {
		for _, k := range keys {
			if _, err := conn.ExecContext(ctx, upsertSQL, k, encoded[k]); err != nil {
				return fmt.Errorf("set config %s: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Strs("keys", keys).Msg("config updated")
	return nil
}

// SeedEntry is an initial value written only when the key is absent.
type SeedEntry struct {
	Key         string
	Value       string
	Description string
}

// Seed inserts entries whose key is not yet present. Existing rows, including
// admin edits, are never overwritten. Blank values are skipped so the
// environment fallback stays in effect for them.
func (s *Store) Seed(ctx context.Context, entries []SeedEntry) error {
	for _, e := range entries {
		if strings.TrimSpace(e.Value) == "" {
			continue
		}
		enc, err := s.encode(e.Key, e.Value)
		if err != nil {
			return fmt.Errorf("seal %s: %w", e.Key, err)
		}
		if _, err := s.DB.ExecContext(ctx,
			`INSERT INTO config (key, value, description) VALUES (?, ?, ?) ON CONFLICT (key) DO NOTHING`,
			e.Key, enc, e.Description); err != nil {
			return fmt.Errorf("seed config %s: %w", e.Key, err)
		}
	}
	return nil
}

// All returns every stored row with secret values masked.
func (s *Store) All(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := sqlscan.Select(ctx, s.DB, &entries,
		`SELECT key, value, description, updated_at FROM config ORDER BY key`); err != nil {
		return nil, fmt.Errorf("list config: %w", err)
	}
	for i := range entries {
		if IsSecret(entries[i].Key) {
			plain, err := s.Sealer.Open(entries[i].Value)
			if err != nil {
				plain = ""
			}
			entries[i].Value = MaskAPIKey(plain)
		}
	}
	return entries, nil
}

// MaskAPIKey keeps the first and last four characters of a key.
// Keys shorter than eight characters are fully hidden.
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) < 8 {
		return "***"
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
