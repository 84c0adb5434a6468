// Package scraper resolves TikTok and YouTube URLs to video metadata using
// third-party APIs. Credentials are read from the settings store on every
// call, so admin edits apply to the next scrape.
package scraper

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrUnsupportedPlatform = errors.New("unsupported platform: only TikTok and YouTube URLs are accepted")
	ErrInvalidURL          = errors.New("could not extract a video id from the url")
	ErrNotConfigured       = errors.New("scraper api not configured")
	ErrNotFound            = errors.New("video not found upstream")
	ErrQuota               = errors.New("api quota exceeded or access forbidden")
	ErrInvalidKey          = errors.New("api key invalid")
	ErrUpstream            = errors.New("upstream api error")
	ErrAllBackendsFailed   = errors.New("all tiktok backends failed")
)

// DefaultTimeout bounds each outbound API call.
const DefaultTimeout = 10 * time.Second

// Platform is a supported video host.
type Platform string

const (
	TikTok  Platform = "tiktok"
	YouTube Platform = "youtube"
)

// DetectPlatform classifies a URL by substring. It does not validate the
// URL beyond that.
func DetectPlatform(raw string) (Platform, error) {
	switch {
	case strings.Contains(raw, "tiktok.com"):
		return TikTok, nil
	case strings.Contains(raw, "youtube.com"), strings.Contains(raw, "youtu.be"):
		return YouTube, nil
	}
	return "", ErrUnsupportedPlatform
}

// Metadata is the normalized scrape result for either platform.
type Metadata struct {
	Platform     Platform `json:"platform"`
	VideoID      string   `json:"video_id"`
	Username     string   `json:"username"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	ThumbnailURL string   `json:"thumbnail_url"`
	Duration     int64    `json:"duration"`
	ViewCount    int64    `json:"view_count"`
}

// Scraper fetches metadata for one platform.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Metadata, error)
}

// Credentials is the read side of the settings store.
type Credentials interface {
	Get(ctx context.Context, key string) (string, error)
}

// Observer receives one event per upstream attempt.
type Observer interface {
	ObserveScrape(backend, outcome string)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
