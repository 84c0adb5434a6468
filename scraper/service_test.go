package scraper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"carnival/settings"
)

type fakeScraper struct {
	platform Platform
	calls    atomic.Int32
	gate     chan struct{}
	err      error
}

func (f *fakeScraper) Scrape(_ context.Context, raw string) (*Metadata, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Metadata{Platform: f.platform, VideoID: "id", Title: raw}, nil
}

func TestService_Dispatch(t *testing.T) {
	tt := &fakeScraper{platform: TikTok}
	yt := &fakeScraper{platform: YouTube}
	svc := &Service{TikTok: tt, YouTube: yt}

	md, err := svc.Scrape(context.Background(), "https://youtu.be/abc")
	if err != nil {
		t.Fatal(err)
	}
	if md.Platform != YouTube || yt.calls.Load() != 1 || tt.calls.Load() != 0 {
		t.Errorf("youtube dispatch: md=%+v yt=%d tt=%d", md, yt.calls.Load(), tt.calls.Load())
	}

	md, err = svc.Scrape(context.Background(), testTikTokURL)
	if err != nil {
		t.Fatal(err)
	}
	if md.Platform != TikTok || tt.calls.Load() != 1 {
		t.Errorf("tiktok dispatch: md=%+v tt=%d", md, tt.calls.Load())
	}
}

func TestService_UnsupportedPlatform(t *testing.T) {
	svc := &Service{TikTok: &fakeScraper{}, YouTube: &fakeScraper{}}
	_, err := svc.Scrape(context.Background(), "https://vimeo.com/123")
	if !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("err = %v, want ErrUnsupportedPlatform", err)
	}
}

func TestService_PropagatesScraperError(t *testing.T) {
	svc := &Service{YouTube: &fakeScraper{err: ErrQuota}}
	_, err := svc.Scrape(context.Background(), "https://youtu.be/abc")
	if !errors.Is(err, ErrQuota) {
		t.Fatalf("err = %v, want ErrQuota", err)
	}
}

func TestService_ConcurrentScrapesShareOneCall(t *testing.T) {
	yt := &fakeScraper{platform: YouTube, gate: make(chan struct{})}
	svc := &Service{YouTube: yt}

	const n = 5
	var wg sync.WaitGroup
	results := make([]*Metadata, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			md, err := svc.Scrape(context.Background(), "https://youtu.be/abc")
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = md
		}(i)
	}

	// Let every goroutine reach the in-flight call before releasing it.
	deadline := time.Now().Add(2 * time.Second)
	for yt.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(yt.gate)
	wg.Wait()

	if got := yt.calls.Load(); got < 1 || got > n {
		t.Fatalf("calls = %d", got)
	}
	if results[0] == nil {
		t.Fatal("missing result")
	}
	results[0].Title = "mutated"
	for i := 1; i < n; i++ {
		if results[i] != nil && results[i].Title == "mutated" {
			t.Errorf("result %d shares memory with result 0", i)
		}
	}
}

func TestService_ProbeUnknownName(t *testing.T) {
	svc := NewService(Options{Creds: mapCreds{}})
	if _, err := svc.Probe(context.Background(), "nope"); !errors.Is(err, settings.ErrUnknownKeyName) {
		t.Errorf("err = %v, want ErrUnknownKeyName", err)
	}
	if _, err := svc.Probe(context.Background(), "groq"); err == nil {
		t.Error("groq probe should be handled outside the scraper service")
	}
	res, err := svc.Probe(context.Background(), "tiktok1")
	if err != nil || res.Success {
		t.Errorf("unconfigured tiktok1 probe = %+v, %v", res, err)
	}
}
