package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"carnival/settings"
)

type mapCreds map[string]string

func (m mapCreds) Get(_ context.Context, key string) (string, error) { return m[key], nil }

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingObserver) ObserveScrape(backend, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, backend+":"+outcome)
}

func hostOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

const primaryPayload = `{
	"code": 0,
	"data": {
		"author": {"unique_id": "carnival_fan", "nickname": "Fan"},
		"title": "Murga final",
		"desc": "Murga final",
		"cover": "https://cdn.example/cover.jpg",
		"dynamic_cover": "https://cdn.example/dyn.webp",
		"duration": 42,
		"play_count": 123456
	}
}`

const secondaryPayload = `{
	"data": {
		"author": {"uniqueId": "carnival_fan", "nickname": "Fan"},
		"video": {
			"title": "Murga final",
			"desc": "Murga final",
			"cover": "https://cdn.example/cover.jpg",
			"duration": "42"
		},
		"stats": {"playCount": 123456}
	}
}`

func backendServer(t *testing.T, status int, body string, hits *int) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*hits++
		mu.Unlock()
		if r.URL.Path != "/video/info" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-RapidAPI-Key") == "" || r.Header.Get("X-RapidAPI-Host") == "" {
			http.Error(w, "missing rapidapi headers", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("video_id") != "7234567890" {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const testTikTokURL = "https://www.tiktok.com/@carnival_fan/video/7234567890"

func newTikTok(creds mapCreds, obs Observer) *TikTokScraper {
	return &TikTokScraper{Creds: creds, Scheme: "http", Observer: obs}
}

func TestTikTok_PrimarySuccessSkipsSecondary(t *testing.T) {
	var h1, h2 int
	s1 := backendServer(t, 200, primaryPayload, &h1)
	s2 := backendServer(t, 200, secondaryPayload, &h2)

	tt := newTikTok(mapCreds{
		settings.KeyTikTokKey1: "k1", settings.KeyTikTokHost1: hostOf(s1),
		settings.KeyTikTokKey2: "k2", settings.KeyTikTokHost2: hostOf(s2),
	}, nil)

	md, err := tt.Scrape(context.Background(), testTikTokURL)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if h1 != 1 || h2 != 0 {
		t.Errorf("hits = (%d, %d), want (1, 0)", h1, h2)
	}
	want := Metadata{
		Platform:     TikTok,
		VideoID:      "7234567890",
		Username:     "carnival_fan",
		Title:        "Murga final",
		Description:  "Murga final",
		ThumbnailURL: "https://cdn.example/cover.jpg",
		Duration:     42,
		ViewCount:    123456,
	}
	if *md != want {
		t.Errorf("metadata = %+v, want %+v", *md, want)
	}
}

func TestTikTok_PrimaryFailsSecondaryNormalizesIdentically(t *testing.T) {
	var h1, h2 int
	s1 := backendServer(t, 500, `{"message":"boom"}`, &h1)
	s2 := backendServer(t, 200, secondaryPayload, &h2)
	obs := &recordingObserver{}

	tt := newTikTok(mapCreds{
		settings.KeyTikTokKey1: "k1", settings.KeyTikTokHost1: hostOf(s1),
		settings.KeyTikTokKey2: "k2", settings.KeyTikTokHost2: hostOf(s2),
	}, obs)

	fromSecondary, err := tt.Scrape(context.Background(), testTikTokURL)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if h1 != 1 || h2 != 1 {
		t.Errorf("hits = (%d, %d), want (1, 1)", h1, h2)
	}

	fromPrimary, err := decodePrimary([]byte(primaryPayload), "7234567890")
	if err != nil {
		t.Fatal(err)
	}
	if *fromSecondary != *fromPrimary {
		t.Errorf("normalized metadata differs:\nsecondary %+v\nprimary   %+v", *fromSecondary, *fromPrimary)
	}
	if strings.Join(obs.events, ",") != "tiktok1:error,tiktok2:ok" {
		t.Errorf("observer events = %v", obs.events)
	}
}

func TestTikTok_MissingDataFallsThrough(t *testing.T) {
	var h1, h2 int
	s1 := backendServer(t, 200, `{"code":-1,"msg":"video not exist","data":null}`, &h1)
	s2 := backendServer(t, 200, secondaryPayload, &h2)

	tt := newTikTok(mapCreds{
		settings.KeyTikTokKey1: "k1", settings.KeyTikTokHost1: hostOf(s1),
		settings.KeyTikTokKey2: "k2", settings.KeyTikTokHost2: hostOf(s2),
	}, nil)

	if _, err := tt.Scrape(context.Background(), testTikTokURL); err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if h2 != 1 {
		t.Errorf("secondary hits = %d, want 1", h2)
	}
}

func TestTikTok_BothFail(t *testing.T) {
	var h1, h2 int
	s1 := backendServer(t, 502, `bad gateway`, &h1)
	s2 := backendServer(t, 429, `{"message":"quota"}`, &h2)

	tt := newTikTok(mapCreds{
		settings.KeyTikTokKey1: "k1", settings.KeyTikTokHost1: hostOf(s1),
		settings.KeyTikTokKey2: "k2", settings.KeyTikTokHost2: hostOf(s2),
	}, nil)

	_, err := tt.Scrape(context.Background(), testTikTokURL)
	if !errors.Is(err, ErrAllBackendsFailed) {
		t.Fatalf("err = %v, want ErrAllBackendsFailed", err)
	}
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("err = %v, should wrap the last upstream cause", err)
	}
	if !strings.Contains(err.Error(), "status 429") {
		t.Errorf("err = %v, want last cause (429)", err)
	}
}

func TestTikTok_SkipsUnconfiguredBackend(t *testing.T) {
	var h1, h2 int
	s1 := backendServer(t, 200, primaryPayload, &h1)
	s2 := backendServer(t, 200, secondaryPayload, &h2)

	tt := newTikTok(mapCreds{
		settings.KeyTikTokHost1: hostOf(s1),
		settings.KeyTikTokKey2:  "k2",
		settings.KeyTikTokHost2: hostOf(s2),
	}, nil)

	if _, err := tt.Scrape(context.Background(), testTikTokURL); err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if h1 != 0 || h2 != 1 {
		t.Errorf("hits = (%d, %d), want (0, 1)", h1, h2)
	}
}

func TestTikTok_NotConfigured(t *testing.T) {
	tt := newTikTok(mapCreds{}, nil)
	_, err := tt.Scrape(context.Background(), testTikTokURL)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestTikTok_InvalidURL(t *testing.T) {
	tt := newTikTok(mapCreds{settings.KeyTikTokKey1: "k1"}, nil)
	_, err := tt.Scrape(context.Background(), "https://www.tiktok.com/explore")
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("err = %v, want ErrInvalidURL", err)
	}
}

func TestTikTok_DefaultsWhenFieldsMissing(t *testing.T) {
	md, err := decodePrimary([]byte(`{"data":{"author":{"nickname":"Nick"},"desc":"only desc","dynamic_cover":"d.jpg"}}`), "1")
	if err != nil {
		t.Fatal(err)
	}
	if md.Username != "Nick" || md.Title != "only desc" || md.ThumbnailURL != "d.jpg" {
		t.Errorf("primary fallbacks = %+v", md)
	}

	md, err = decodeSecondary([]byte(`{"data":{}}`), "1")
	if err != nil {
		t.Fatal(err)
	}
	if md.Username != "unknown" || md.Title != "Untitled" {
		t.Errorf("secondary defaults = %+v", md)
	}
}

func TestTikTok_Probe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-RapidAPI-Key") != "good" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	tt := newTikTok(mapCreds{
		settings.KeyTikTokKey1: "good", settings.KeyTikTokHost1: hostOf(srv),
		settings.KeyTikTokKey2: "bad", settings.KeyTikTokHost2: hostOf(srv),
	}, nil)

	if res := tt.Probe(context.Background(), "tiktok1"); !res.Success {
		t.Errorf("tiktok1 probe = %+v, want success", res)
	}
	if res := tt.Probe(context.Background(), "tiktok2"); res.Success || !strings.Contains(res.Message, "invalid") {
		t.Errorf("tiktok2 probe = %+v, want invalid key", res)
	}
	if res := newTikTok(mapCreds{}, nil).Probe(context.Background(), "tiktok1"); res.Success {
		t.Errorf("unconfigured probe = %+v, want failure", res)
	}
	if res := tt.Probe(context.Background(), "tiktok9"); res.Success {
		t.Errorf("unknown backend probe = %+v, want failure", res)
	}
}
