package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"carnival/activity"
	"carnival/admin"
	"carnival/ai"
	"carnival/auth"
	"carnival/config"
	"carnival/db"
	"carnival/httputil"
	"carnival/logging"
	"carnival/metrics"
	"carnival/ratelimit"
	"carnival/scraper"
	"carnival/settings"
	"carnival/stats"
	"carnival/videos"
	"carnival/votes"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const version = "1.0.0"

// App wires the stores, services and handlers behind one router.
type App struct {
	cfg      *config.Config
	db       *db.CompatDB
	settings *settings.Store
	metrics  *metrics.Metrics
	limiter  *ratelimit.RateLimiter

	scrapers *scraper.Service
	llm      *ai.Client

	auth   *auth.Handler
	videos *videos.Handler
	votes  *votes.Handler
	stats  *stats.Handler
	ai     *ai.Handler
	admin  *admin.Handler
}

// seedEntries maps environment configuration onto config table rows.
func seedEntries(c config.APIConfig, rl config.RateLimitConfig) []settings.SeedEntry {
	return []settings.SeedEntry{
		{Key: settings.KeyTikTokKey1, Value: c.TikTokKey1, Description: "Primary TikTok RapidAPI key"},
		{Key: settings.KeyTikTokHost1, Value: c.TikTokHost1, Description: "Primary TikTok RapidAPI host"},
		{Key: settings.KeyTikTokKey2, Value: c.TikTokKey2, Description: "Fallback TikTok RapidAPI key"},
		{Key: settings.KeyTikTokHost2, Value: c.TikTokHost2, Description: "Fallback TikTok RapidAPI host"},
		{Key: settings.KeyYouTube, Value: c.YouTubeKey, Description: "YouTube Data API v3 key"},
		{Key: settings.KeyGroq, Value: c.GroqKey, Description: "Groq API key"},
		{Key: settings.KeyJWTSecret, Value: c.JWTSecret, Description: "Admin token signing secret"},
		{Key: settings.KeyRateWindow, Value: strconv.Itoa(rl.WindowMS), Description: "Rate limit window in ms (applied at startup)"},
		{Key: settings.KeyRateMax, Value: strconv.Itoa(rl.MaxRequests), Description: "Requests per window per IP (applied at startup)"},
	}
}

func newApp(ctx context.Context, cfg *config.Config, d *db.CompatDB) (*App, error) {
	var sealer *settings.Sealer
	if cfg.APIs.SettingsSecret != "" {
		sealer = settings.NewSealer(cfg.APIs.SettingsSecret)
	}
	st := settings.New(d, sealer)
	if err := st.Seed(ctx, seedEntries(cfg.APIs, cfg.RateLimit)); err != nil {
		return nil, err
	}

	m := metrics.New()
	scrapers := scraper.NewService(scraper.Options{
		Creds:      st,
		Observer:   m,
		RatePerSec: cfg.Scraper.RatePerSec,
		Burst:      cfg.Scraper.Burst,
		Timeout:    cfg.Scraper.Timeout,
		YouTubeURL: cfg.Scraper.YouTubeURL,
	})
	llm := &ai.Client{
		Creds:    st,
		BaseURL:  cfg.AI.BaseURL,
		Model:    cfg.AI.Model,
		Timeout:  cfg.AI.Timeout,
		Observer: m,
	}

	authHandler, err := auth.NewHandler(cfg.Admin.Username, cfg.Admin.Password, st)
	if err != nil {
		return nil, err
	}

	acts := activity.New(d)
	videoStore := videos.NewStore(d)
	voteStore := votes.NewStore(d)
	voteStore.Observer = m
	statsSvc := stats.New(d)

	a := &App{
		cfg:      cfg,
		db:       d,
		settings: st,
		metrics:  m,
		limiter:  ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window()),
		scrapers: scrapers,
		llm:      llm,
		auth:     authHandler,
		videos: &videos.Handler{
			Store:    videoStore,
			Service:  &videos.Service{Store: videoStore, Scraper: scrapers, Observer: m},
			Activity: acts,
		},
		votes: &votes.Handler{Store: voteStore},
		stats: &stats.Handler{Stats: statsSvc},
		ai: &ai.Handler{
			AI:       &ai.Service{LLM: llm, DB: d},
			Keys:     llm,
			Activity: acts,
		},
		admin: &admin.Handler{
			DB:       d,
			Videos:   videoStore,
			Votes:    voteStore,
			Stats:    statsSvc,
			Settings: st,
			Activity: acts,
			Scrapers: scrapers,
			LLM:      llm,
			Server: admin.ServerInfo{
				Port:              cfg.Server.Port,
				Version:           version,
				RateLimitWindowMS: cfg.RateLimit.WindowMS,
				RateLimitMax:      cfg.RateLimit.MaxRequests,
				SettingsSealed:    sealer != nil,
			},
		},
	}
	return a, nil
}

// Close stops background work owned by the app.
func (a *App) Close() {
	a.limiter.Stop()
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// Router builds the HTTP routes.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: splitOrigins(a.cfg.Server.AllowedOrigins),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(logging.RequestLogger(ratelimit.ClientIP))
	r.Use(a.metrics.Middleware)

	r.Get("/health", a.handleHealth)
	r.Handle("/metrics", a.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(ratelimit.Middleware(a.limiter))
		r.Get("/health", a.handleHealth)

		r.Route("/videos", func(r chi.Router) {
			r.Post("/", a.videos.HandleCreate)
			r.Get("/", a.videos.HandleList)
			r.Get("/search/{query}", a.videos.HandleSearch)
			r.Get("/{id}", a.videos.HandleGet)
			r.With(a.auth.Middleware).Delete("/{id}", a.videos.HandleDelete)
		})

		r.Route("/votes", func(r chi.Router) {
			r.Post("/", a.votes.HandleCast)
			r.Get("/check/{videoId}", a.votes.HandleCheck)
			r.Get("/video/{videoId}", a.votes.HandleCount)
		})

		r.Route("/stats", func(r chi.Router) {
			r.Get("/", a.stats.HandleSummary)
			r.Get("/ranking", a.stats.HandleRanking)
			r.Get("/trending", a.stats.HandleTrending)
			r.Get("/timeline/{id}", a.stats.HandleTimeline)
			r.Get("/random", a.stats.HandleRandom)
		})

		r.Route("/ai", func(r chi.Router) {
			r.Use(a.ai.RequireConfigured)
			r.Post("/trivia/generate", a.ai.HandleTrivia)
			r.Get("/trivia/topics", a.ai.HandleTopics)
			r.Post("/chat", a.ai.HandleChat)
			r.Get("/stats", a.ai.HandleStats)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", a.auth.HandleLogin)
			r.Group(func(r chi.Router) {
				r.Use(a.auth.Middleware)
				r.Get("/stats", a.admin.HandleStats)
				r.Put("/videos/{id}", a.admin.HandleUpdateVideo)
				r.Delete("/videos/{id}", a.admin.HandleDeleteVideo)
				r.Post("/videos/bulk-delete", a.admin.HandleBulkDelete)
				r.Post("/clear-votes/{videoId}", a.admin.HandleClearVotes)
				r.Get("/config", a.admin.HandleGetConfig)
				r.Put("/config", a.admin.HandleUpdateConfig)
				r.Get("/logs", a.admin.HandleLogs)
				r.Get("/api-keys", a.admin.HandleListKeys)
				r.Get("/api-keys/stats", a.admin.HandleKeyStats)
				r.Put("/api-keys/{name}", a.admin.HandleUpdateKey)
				r.Post("/api-keys/{name}/test", a.admin.HandleTestKey)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, 404, "route not found")
	})
	return r
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status, code := "OK", 200
	if err := a.db.PingContext(ctx); err != nil {
		status, code = "DEGRADED", 503
	}
	cfg, _ := a.settings.APIConfigs(ctx)
	groq := a.settings.IsConfigured(ctx, settings.KeyGroq)
	httputil.WriteJSON(w, code, map[string]interface{}{
		"status":    status,
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"apis": map[string]bool{
			"tiktok1": cfg.TikTok1.Configured,
			"tiktok2": cfg.TikTok2.Configured,
			"youtube": cfg.YouTube.Configured,
			"groq":    groq,
		},
		"features": map[string]bool{
			"tiktok":  cfg.TikTok1.Configured || cfg.TikTok2.Configured,
			"youtube": cfg.YouTube.Configured,
			"ai":      groq,
		},
	})
}
