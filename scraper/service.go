package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"carnival/settings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Service dispatches by platform and collapses concurrent scrapes of the
// same URL into one upstream call.
type Service struct {
	TikTok  Scraper
	YouTube Scraper

	group singleflight.Group
}

// Options configures NewService.
type Options struct {
	Creds      Credentials
	Observer   Observer
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	Client     *http.Client
	YouTubeURL string
}

// NewService builds TikTok and YouTube scrapers sharing one outbound limiter.
func NewService(o Options) *Service {
	var limiter *rate.Limiter
	if o.RatePerSec > 0 {
		burst := o.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(o.RatePerSec), burst)
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		TikTok: &TikTokScraper{
			Creds:    o.Creds,
			Client:   o.Client,
			Limiter:  limiter,
			Timeout:  timeout,
			Observer: o.Observer,
		},
		YouTube: &YouTubeScraper{
			Creds:    o.Creds,
			Limiter:  limiter,
			Timeout:  timeout,
			Observer: o.Observer,
			Endpoint: o.YouTubeURL,
		},
	}
}

func (s *Service) scraperFor(p Platform) (Scraper, error) {
	switch p {
	case TikTok:
		return s.TikTok, nil
	case YouTube:
		return s.YouTube, nil
	}
	return nil, ErrUnsupportedPlatform
}

// Scrape detects the platform and fetches metadata. The upstream call is
// detached from ctx cancellation so a client disconnect does not abort a
// scrape other callers may be sharing; per-call timeouts still apply.
func (s *Service) Scrape(ctx context.Context, raw string) (*Metadata, error) {
	p, err := DetectPlatform(raw)
	if err != nil {
		return nil, err
	}
	sc, err := s.scraperFor(p)
	if err != nil {
		return nil, err
	}

	detached := context.WithoutCancel(ctx)
	v, err, shared := s.group.Do(raw, func() (interface{}, error) {
		return sc.Scrape(detached, raw)
	})
	if shared {
		log.Debug().Str("platform", string(p)).Msg("scrape shared with concurrent request")
	}
	if err != nil {
		return nil, err
	}
	md, ok := v.(*Metadata)
	if !ok || md == nil {
		return nil, fmt.Errorf("%w: empty scrape result", ErrUpstream)
	}
	out := *md
	return &out, nil
}

// ProbeResult is the outcome of a credential connectivity test.
type ProbeResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Probe tests the credential behind a logical key name ("tiktok1",
// "tiktok2", "youtube").
func (s *Service) Probe(ctx context.Context, name string) (ProbeResult, error) {
	switch name {
	case "tiktok1", "tiktok2":
		tt, ok := s.TikTok.(*TikTokScraper)
		if !ok {
			return ProbeResult{}, fmt.Errorf("probe %s: unsupported scraper", name)
		}
		return tt.Probe(ctx, name), nil
	case "youtube":
		yt, ok := s.YouTube.(*YouTubeScraper)
		if !ok {
			return ProbeResult{}, fmt.Errorf("probe %s: unsupported scraper", name)
		}
		return yt.Probe(ctx), nil
	}
	if _, err := settings.LookupKeySpec(name); err != nil {
		return ProbeResult{}, err
	}
	return ProbeResult{}, fmt.Errorf("probe %s: not supported", name)
}
