// Command server exposes the guest-list HTTP API.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"guestlist/internal/analytics"
	"guestlist/internal/config"
	"guestlist/internal/httpapi"
	"guestlist/internal/logging"
	"guestlist/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})
	logging.SetGlobal(logger)

	db, err := store.Open(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.New(db)
	api := httpapi.New(st, st, st, st, analytics.New(analytics.DefaultConfig()), logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Routes(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info().Str("addr", server.Addr).Msg("API listening")
	return server.ListenAndServe()
}
