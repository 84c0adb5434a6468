package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carnival/config"
	"carnival/db"
	"carnival/logging"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.Log.Level, "carnival")
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.APIs.JWTSecret == "change-this-secret" || cfg.Admin.Password == "admin123" {
		log.Warn().Msg("default admin credentials or JWT secret in use; change them before deploying")
	}

	d, err := db.Open(cfg.DB.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer d.Close()
	log.Info().Str("dialect", string(d.Dialect)).Msg("database ready")

	ctx := context.Background()
	app, err := newApp(ctx, cfg, d)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise app")
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("carnival API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("server shut down")
}
