// Command ingest runs one ingestion pass: pull fresh sales and reservations
// from every configured provider, deduplicate them into the contact store and
// flag new contacts for the mailing-list export.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"guestlist/internal/config"
	"guestlist/internal/dedup"
	"guestlist/internal/logging"
	"guestlist/internal/mailbox"
	"guestlist/internal/showdate"
	"guestlist/internal/source"
	"guestlist/internal/source/bucketlist"
	"guestlist/internal/source/domore"
	"guestlist/internal/source/eventbrite"
	"guestlist/internal/source/fever"
	"guestlist/internal/source/goldstar"
	"guestlist/internal/source/squarespace"
	"guestlist/internal/store"
)

const mailingListBatch = 500

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ingest:", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	var (
		sources      = fs.String("source", "", "comma-separated source filter (squarespace,eventbrite,bucketlist,domore,fever,goldstar)")
		days         = fs.Int("days", 0, "lookback window in days; overrides minutes")
		storeOnly    = fs.Bool("store-only", false, "write contacts but skip the mailing-list export step")
		forceRefresh = fs.Bool("force-refresh", false, "reprocess provider data already marked as seen; replays collapse into existing contacts")
	)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ingest [flags] [minutes]\n\nFlags:\n")
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

	lookback := time.Duration(cfg.LookbackMinutes) * time.Minute
	if fs.NArg() > 0 {
		minutes, err := strconv.Atoi(fs.Arg(0))
		if err != nil || minutes <= 0 {
			return fmt.Errorf("minutes argument must be a positive integer, got %q", fs.Arg(0))
		}
		lookback = time.Duration(minutes) * time.Minute
	}
	if *days > 0 {
		lookback = time.Duration(*days) * 24 * time.Hour
	}

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.New(db)
	normalizer := showdate.New(cfg.Location)
	engine := dedup.New(st, normalizer, logger)

	adapters, err := buildAdapters(ctx, cfg, st, normalizer, logger, *forceRefresh, config.CommaList(*sources))
	if err != nil {
		return err
	}
	if len(adapters) == 0 {
		return fmt.Errorf("no sources configured; set provider credentials or check --source")
	}

	window := source.WindowFromLookback(time.Now(), lookback)
	logger.Info().
		Time("since", window.Since).
		Int("sources", len(adapters)).
		Msg("starting ingestion pass")

	summary := source.NewRunner(adapters, engine, logger).Run(ctx, window)
	for _, r := range summary.Results {
		if r.Err != nil {
			continue
		}
		fmt.Printf("%-12s fetched=%d created=%d updated=%d skipped=%d\n",
			r.Source, r.Fetched, r.Created, r.Updated, r.Skipped)
	}

	if !*storeOnly {
		if err := exportMailingList(ctx, st, cfg.ExportDir, logger); err != nil {
			return err
		}
	}

	if failed := summary.Failed(); len(failed) > 0 {
		return fmt.Errorf("sources failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

// buildAdapters wires every provider that has credentials configured,
// filtered down by the --source flag when one was given.
func buildAdapters(ctx context.Context, cfg config.Config, st *store.Store, normalizer *showdate.Normalizer, logger zerolog.Logger, forceRefresh bool, filter []string) ([]source.Adapter, error) {
	wanted := func(name string) bool {
		if len(filter) == 0 {
			return true
		}
		for _, f := range filter {
			if strings.EqualFold(f, name) {
				return true
			}
		}
		return false
	}

	var adapters []source.Adapter

	if cfg.Squarespace.APIKey != "" && wanted("squarespace") {
		adapters = append(adapters, squarespace.New(cfg.Squarespace.APIKey, normalizer, logger))
	}

	if cfg.Eventbrite.Token != "" && wanted("eventbrite") {
		adapters = append(adapters, eventbrite.New(cfg.Eventbrite.Token, cfg.Eventbrite.OrganizationID, normalizer, logger))
	}

	if cfg.Bucketlist.PartnerID != "" && wanted("bucketlist") {
		opts := []bucketlist.Option{bucketlist.WithForceRefresh(forceRefresh)}
		if cfg.Bucketlist.CookieFile != "" {
			name, value, err := readCookieFile(cfg.Bucketlist.CookieFile)
			if err != nil {
				return nil, err
			}
			opts = append(opts, bucketlist.WithSessionCookie(name, value))
		}
		adapters = append(adapters, bucketlist.New(
			cfg.Bucketlist.PartnerID,
			cfg.Bucketlist.LoginEmail,
			cfg.Bucketlist.LoginPass,
			st, normalizer, logger, opts...))
	}

	if cfg.Mailbox.TokenFile != "" && (wanted("domore") || wanted("fever") || wanted("goldstar")) {
		mail, err := mailbox.New(ctx, cfg.Mailbox.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("open mailbox: %w", err)
		}
		if wanted("domore") {
			adapters = append(adapters, domore.New(mail, st, normalizer, logger, domore.WithForceRefresh(forceRefresh)))
		}
		if wanted("fever") {
			adapters = append(adapters, fever.New(mail, st, normalizer, logger, fever.WithForceRefresh(forceRefresh)))
		}
		if wanted("goldstar") {
			adapters = append(adapters, goldstar.New(mail, st, normalizer, logger, goldstar.WithForceRefresh(forceRefresh)))
		}
	}

	return adapters, nil
}

// readCookieFile loads a saved "name=value" session cookie.
func readCookieFile(path string) (string, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read cookie file: %w", err)
	}
	name, value, ok := strings.Cut(strings.TrimSpace(string(raw)), "=")
	if !ok || name == "" {
		return "", "", fmt.Errorf("cookie file %s must contain name=value", path)
	}
	return name, value, nil
}

// exportMailingList writes a CSV batch of contacts not yet handed to the
// mailing list, then flags them so reruns never double-submit. The store
// query only returns contacts with an email address.
func exportMailingList(ctx context.Context, st *store.Store, dir string, logger zerolog.Logger) error {
	contacts, err := st.UnsyncedMailingListContacts(ctx, mailingListBatch)
	if err != nil {
		return fmt.Errorf("load unsynced contacts: %w", err)
	}
	if len(contacts) == 0 {
		return nil
	}

	now := time.Now()
	ids := make([]int64, 0, len(contacts))
	rows := make([][]string, 0, len(contacts))
	for _, c := range contacts {
		ids = append(ids, c.ID)
		rows = append(rows, []string{c.Email, c.FirstName, c.LastName, c.Phone, c.Venue})
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, "mailing-list-"+now.Format("20060102T150405")+".csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	w := csv.NewWriter(f)
	_ = w.Write([]string{"Email", "First Name", "Last Name", "Phone", "Venue"})
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("write export file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	logger.Info().Str("path", path).Int("contacts", len(rows)).Msg("wrote mailing-list export batch")

	if err := st.MarkMailingListSynced(ctx, ids, now); err != nil {
		return fmt.Errorf("mark mailing-list synced: %w", err)
	}
	return nil
}
