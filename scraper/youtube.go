package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"carnival/settings"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

var youtubeIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`youtube\.com/watch\?v=([\w-]+)`),
	regexp.MustCompile(`youtu\.be/([\w-]+)`),
	regexp.MustCompile(`youtube\.com/embed/([\w-]+)`),
	regexp.MustCompile(`youtube\.com/v/([\w-]+)`),
}

// ExtractYouTubeID returns the video id from watch, short, embed and /v/ URLs.
func ExtractYouTubeID(raw string) (string, error) {
	for _, p := range youtubeIDPatterns {
		if m := p.FindStringSubmatch(raw); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("youtube: %w", ErrInvalidURL)
}

var isoDurationRe = regexp.MustCompile(`PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?`)

// ParseISODuration converts an ISO-8601 PT#H#M#S duration to seconds.
// Missing parts count as zero; input without a PT section yields zero.
func ParseISODuration(d string) int64 {
	m := isoDurationRe.FindStringSubmatch(d)
	if m == nil {
		return 0
	}
	part := func(s string) int64 {
		if s == "" {
			return 0
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return part(m[1])*3600 + part(m[2])*60 + part(m[3])
}

// YouTubeScraper calls the YouTube Data API v3.
type YouTubeScraper struct {
	Creds    Credentials
	Limiter  *rate.Limiter
	Timeout  time.Duration
	Observer Observer
	// Endpoint overrides the API base URL; empty uses the public endpoint.
	Endpoint string
}

const backendYouTube = "youtube"

func (y *YouTubeScraper) timeout() time.Duration {
	if y.Timeout > 0 {
		return y.Timeout
	}
	return DefaultTimeout
}

func (y *YouTubeScraper) observe(outcome string) {
	if y.Observer != nil {
		y.Observer.ObserveScrape(backendYouTube, outcome)
	}
}

func (y *YouTubeScraper) service(ctx context.Context, key string) (*youtube.Service, error) {
	opts := []option.ClientOption{option.WithAPIKey(key)}
	if y.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(y.Endpoint))
	}
	return youtube.NewService(ctx, opts...)
}

// Scrape implements Scraper.
func (y *YouTubeScraper) Scrape(ctx context.Context, raw string) (*Metadata, error) {
	id, err := ExtractYouTubeID(raw)
	if err != nil {
		return nil, err
	}
	item, err := y.fetch(ctx, id, []string{"snippet", "contentDetails", "statistics"})
	if err != nil {
		return nil, err
	}

	md := &Metadata{
		Platform: YouTube,
		VideoID:  id,
		Username: "unknown",
		Title:    "Untitled",
	}
	if s := item.Snippet; s != nil {
		md.Username = firstNonEmpty(s.ChannelTitle, "unknown")
		md.Title = firstNonEmpty(s.Title, "Untitled")
		md.Description = s.Description
		if t := s.Thumbnails; t != nil {
			if t.High != nil && t.High.Url != "" {
				md.ThumbnailURL = t.High.Url
			} else if t.Default != nil {
				md.ThumbnailURL = t.Default.Url
			}
		}
	}
	if cd := item.ContentDetails; cd != nil {
		md.Duration = ParseISODuration(cd.Duration)
	}
	if st := item.Statistics; st != nil {
		md.ViewCount = int64(st.ViewCount)
	}
	log.Info().Str("video_id", id).Msg("youtube scrape succeeded")
	return md, nil
}

func (y *YouTubeScraper) fetch(ctx context.Context, id string, parts []string) (*youtube.Video, error) {
	key, err := y.Creds.Get(ctx, settings.KeyYouTube)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("youtube: %w", ErrNotConfigured)
	}
	if y.Limiter != nil {
		if err := y.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, y.timeout())
	defer cancel()

	svc, err := y.service(callCtx, key)
	if err != nil {
		y.observe("error")
		return nil, fmt.Errorf("youtube client: %w", err)
	}
	resp, err := svc.Videos.List(parts).Id(id).Context(callCtx).Do()
	if err != nil {
		y.observe("error")
		return nil, classifyYouTubeError(err)
	}
	if len(resp.Items) == 0 {
		y.observe("not_found")
		return nil, fmt.Errorf("youtube %s: %w", id, ErrNotFound)
	}
	y.observe("ok")
	return resp.Items[0], nil
}

func classifyYouTubeError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("youtube: %w", ErrInvalidKey)
		case http.StatusBadRequest:
			if keyRejected(gerr) {
				return fmt.Errorf("youtube: %w", ErrInvalidKey)
			}
		case http.StatusForbidden:
			return fmt.Errorf("youtube: %w", ErrQuota)
		case http.StatusNotFound:
			return fmt.Errorf("youtube: %w", ErrNotFound)
		}
		return fmt.Errorf("%w: youtube status %d: %s", ErrUpstream, gerr.Code, gerr.Message)
	}
	return fmt.Errorf("%w: youtube: %v", ErrUpstream, err)
}

// keyRejected reports whether a 400 from Google is about the API key
// rather than the request.
func keyRejected(gerr *googleapi.Error) bool {
	for _, e := range gerr.Errors {
		if e.Reason == "keyInvalid" {
			return true
		}
	}
	return strings.Contains(gerr.Message, "API key not valid") ||
		strings.Contains(gerr.Body, "API_KEY_INVALID")
}

// Probe checks the configured key with a lookup of a well-known video.
func (y *YouTubeScraper) Probe(ctx context.Context) ProbeResult {
	const knownVideo = "dQw4w9WgXcQ"
	_, err := y.fetch(ctx, knownVideo, []string{"snippet"})
	switch {
	case err == nil:
		return ProbeResult{Success: true, Message: "YouTube API responding"}
	case errors.Is(err, ErrNotConfigured):
		return ProbeResult{Message: "API key not configured"}
	case errors.Is(err, ErrInvalidKey):
		return ProbeResult{Message: "API key invalid"}
	case errors.Is(err, ErrQuota):
		return ProbeResult{Message: "API quota exceeded or access forbidden"}
	case errors.Is(err, ErrNotFound):
		return ProbeResult{Message: "API key lacks permissions or is invalid"}
	}
	return ProbeResult{Message: "error: " + err.Error()}
}
