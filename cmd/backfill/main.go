// Command backfill resyncs whole venues from the spreadsheet mirror export.
// With no arguments it syncs every active venue; otherwise the named ones.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"guestlist/internal/config"
	"guestlist/internal/dedup"
	"guestlist/internal/logging"
	"guestlist/internal/showdate"
	"guestlist/internal/store"
	"guestlist/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "backfill:", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	dir := fs.String("dir", "", "mirror export directory (default MIRROR_DIR)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: backfill [flags] [venue ...]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})
	logging.SetGlobal(logger)

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.New(db)
	normalizer := showdate.New(cfg.Location)
	engine := dedup.New(st, normalizer, logger)

	mirrorDir := cfg.MirrorDir
	if *dir != "" {
		mirrorDir = *dir
	}

	venues := fs.Args()
	if len(venues) == 0 {
		venues, err = activeVenues(ctx, st)
		if err != nil {
			return err
		}
	}
	if len(venues) == 0 {
		return fmt.Errorf("no venues to sync")
	}

	s := syncer.New(syncer.NewCSVDir(mirrorDir), st, engine, normalizer, logger)
	job, err := s.Backfill(ctx, venues)
	if err != nil {
		return err
	}

	fmt.Printf("job %s: %s, %d records across %d venues\n",
		job.ID, job.Status, job.RecordsSynced, len(job.VenuesProcessed))
	if len(job.Errors) > 0 {
		return fmt.Errorf("some venues failed: %s", strings.Join(job.Errors, "; "))
	}
	return nil
}

func activeVenues(ctx context.Context, st *store.Store) ([]string, error) {
	rows, err := st.Venues(ctx)
	if err != nil {
		return nil, fmt.Errorf("list venues: %w", err)
	}
	var names []string
	for _, v := range rows {
		if v.Active {
			names = append(names, v.Name)
		}
	}
	return names, nil
}
