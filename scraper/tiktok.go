package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"carnival/settings"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var tiktokIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`tiktok\.com/@[\w.-]+/video/(\d+)`),
	regexp.MustCompile(`tiktok\.com/v/(\d+)`),
	regexp.MustCompile(`vm\.tiktok\.com/(\w+)`),
	regexp.MustCompile(`vt\.tiktok\.com/(\w+)`),
}

// ExtractTikTokID returns the numeric id of a full URL, or the opaque code
// of a vm./vt. short link.
func ExtractTikTokID(raw string) (string, error) {
	for _, p := range tiktokIDPatterns {
		if m := p.FindStringSubmatch(raw); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("tiktok: %w", ErrInvalidURL)
}

// flexInt accepts JSON numbers and numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

type tiktokPrimaryPayload struct {
	Data *struct {
		Author struct {
			UniqueID string `json:"unique_id"`
			Nickname string `json:"nickname"`
		} `json:"author"`
		Title        string  `json:"title"`
		Desc         string  `json:"desc"`
		Cover        string  `json:"cover"`
		DynamicCover string  `json:"dynamic_cover"`
		Duration     flexInt `json:"duration"`
		PlayCount    flexInt `json:"play_count"`
	} `json:"data"`
}

func decodePrimary(body []byte, id string) (*Metadata, error) {
	var p tiktokPrimaryPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if p.Data == nil {
		return nil, errors.New("response has no data")
	}
	d := p.Data
	return &Metadata{
		Platform:     TikTok,
		VideoID:      id,
		Username:     firstNonEmpty(d.Author.UniqueID, d.Author.Nickname, "unknown"),
		Title:        firstNonEmpty(d.Title, d.Desc, "Untitled"),
		Description:  d.Desc,
		ThumbnailURL: firstNonEmpty(d.Cover, d.DynamicCover),
		Duration:     int64(d.Duration),
		ViewCount:    int64(d.PlayCount),
	}, nil
}

type tiktokSecondaryPayload struct {
	Data *struct {
		Author struct {
			UniqueID string `json:"uniqueId"`
			Nickname string `json:"nickname"`
		} `json:"author"`
		Video struct {
			Title    string  `json:"title"`
			Desc     string  `json:"desc"`
			Cover    string  `json:"cover"`
			Duration flexInt `json:"duration"`
		} `json:"video"`
		Stats struct {
			PlayCount flexInt `json:"playCount"`
		} `json:"stats"`
	} `json:"data"`
}

func decodeSecondary(body []byte, id string) (*Metadata, error) {
	var p tiktokSecondaryPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if p.Data == nil {
		return nil, errors.New("response has no data")
	}
	d := p.Data
	return &Metadata{
		Platform:     TikTok,
		VideoID:      id,
		Username:     firstNonEmpty(d.Author.UniqueID, d.Author.Nickname, "unknown"),
		Title:        firstNonEmpty(d.Video.Title, d.Video.Desc, "Untitled"),
		Description:  d.Video.Desc,
		ThumbnailURL: d.Video.Cover,
		Duration:     int64(d.Video.Duration),
		ViewCount:    int64(d.Stats.PlayCount),
	}, nil
}

// tiktokBackend is one RapidAPI provider. Backends are tried in order.
type tiktokBackend struct {
	name        string
	keyName     string
	hostName    string
	defaultHost string
	decode      func(body []byte, id string) (*Metadata, error)
}

var defaultTikTokBackends = []tiktokBackend{
	{"tiktok1", settings.KeyTikTokKey1, settings.KeyTikTokHost1, settings.DefaultTikTokHost1, decodePrimary},
	{"tiktok2", settings.KeyTikTokKey2, settings.KeyTikTokHost2, settings.DefaultTikTokHost2, decodeSecondary},
}

// TikTokScraper calls the RapidAPI TikTok backends with ordered fallback.
type TikTokScraper struct {
	Creds    Credentials
	Client   *http.Client
	Limiter  *rate.Limiter
	Timeout  time.Duration
	Observer Observer
	// Scheme defaults to https.
	Scheme string

	backends []tiktokBackend
}

func (t *TikTokScraper) list() []tiktokBackend {
	if t.backends != nil {
		return t.backends
	}
	return defaultTikTokBackends
}

func (t *TikTokScraper) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

func (t *TikTokScraper) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultTimeout
}

func (t *TikTokScraper) observe(backend, outcome string) {
	if t.Observer != nil {
		t.Observer.ObserveScrape(backend, outcome)
	}
}

func (t *TikTokScraper) endpoint(host, path string) string {
	scheme := t.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + host + path
}

type resolvedBackend struct {
	tiktokBackend
	key  string
	host string
}

func (t *TikTokScraper) resolve(ctx context.Context, b tiktokBackend) (resolvedBackend, error) {
	key, err := t.Creds.Get(ctx, b.keyName)
	if err != nil {
		return resolvedBackend{}, err
	}
	host, err := t.Creds.Get(ctx, b.hostName)
	if err != nil {
		return resolvedBackend{}, err
	}
	if host == "" {
		host = b.defaultHost
	}
	return resolvedBackend{tiktokBackend: b, key: key, host: host}, nil
}

// Scrape implements Scraper. Each configured backend gets one attempt; the
// first success wins.
func (t *TikTokScraper) Scrape(ctx context.Context, raw string) (*Metadata, error) {
	var configured []resolvedBackend
	for _, b := range t.list() {
		rb, err := t.resolve(ctx, b)
		if err != nil {
			return nil, err
		}
		if rb.key != "" {
			configured = append(configured, rb)
		}
	}
	if len(configured) == 0 {
		return nil, fmt.Errorf("tiktok: %w", ErrNotConfigured)
	}

	id, err := ExtractTikTokID(raw)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, b := range configured {
		md, err := t.call(ctx, b, id)
		if err == nil {
			t.observe(b.name, "ok")
			log.Info().Str("backend", b.name).Str("video_id", id).Msg("tiktok scrape succeeded")
			return md, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.observe(b.name, "error")
		log.Warn().Err(err).Str("backend", b.name).Str("video_id", id).Msg("tiktok backend failed, trying next")
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrAllBackendsFailed, lastErr)
}

func (t *TikTokScraper) call(ctx context.Context, b resolvedBackend, id string) (*Metadata, error) {
	if t.Limiter != nil {
		if err := t.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()

	u := t.endpoint(b.host, "/video/info") + "?" + url.Values{"video_id": {id}}.Encode()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-RapidAPI-Key", b.key)
	req.Header.Set("X-RapidAPI-Host", b.host)

	resp, err := t.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, b.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrUpstream, b.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: status %d", ErrUpstream, b.name, resp.StatusCode)
	}
	md, err := b.decode(body, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, b.name, err)
	}
	return md, nil
}

// Probe checks one backend's key and host with a request to the host root.
func (t *TikTokScraper) Probe(ctx context.Context, name string) ProbeResult {
	var found *tiktokBackend
	for i, b := range t.list() {
		if b.name == name {
			found = &t.list()[i]
			break
		}
	}
	if found == nil {
		return ProbeResult{Message: "unknown backend " + name}
	}
	b, err := t.resolve(ctx, *found)
	if err != nil {
		return ProbeResult{Message: "error: " + err.Error()}
	}
	if b.key == "" {
		return ProbeResult{Message: "API key or host not configured"}
	}

	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, t.endpoint(b.host, "/"), nil)
	if err != nil {
		return ProbeResult{Message: "error: " + err.Error()}
	}
	req.Header.Set("X-RapidAPI-Key", b.key)
	req.Header.Set("X-RapidAPI-Host", b.host)

	resp, err := t.client().Do(req)
	if err != nil {
		return ProbeResult{Message: "error: " + err.Error()}
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ProbeResult{Message: "API key invalid or lacks permissions"}
	case resp.StatusCode >= 500:
		return ProbeResult{Message: fmt.Sprintf("error: status %d", resp.StatusCode)}
	}
	return ProbeResult{Success: true, Message: "TikTok API responding", Details: "Host: " + b.host}
}
