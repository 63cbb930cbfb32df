// Package syncer runs venue-wide backfills from the spreadsheet mirror the
// door staff maintain. Each venue has one workbook; each tab is one show's
// list.
package syncer

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"guestlist/internal/dedup"
	"guestlist/internal/guest"
	"guestlist/internal/showdate"
)

// RowSource yields spreadsheet rows per venue and tab.
type RowSource interface {
	Tabs(ctx context.Context, venue string) ([]string, error)
	Rows(ctx context.Context, venue, tab string) ([][]string, error)
}

// JobStore records backfill job lifecycle.
type JobStore interface {
	CreateSyncJob(ctx context.Context, jobType string) (*guest.SyncJob, error)
	StartSyncJob(ctx context.Context, id string) error
	FinishSyncJob(ctx context.Context, job *guest.SyncJob) error
}

// Up to this many venues sync at once; more just burns quota against the
// sheet backend's rate limits.
const venueConcurrency = 3

// Syncer drives whole-venue backfills.
type Syncer struct {
	rows       RowSource
	jobs       JobStore
	engine     *dedup.Engine
	normalizer *showdate.Normalizer
	logger     zerolog.Logger

	limiter      *rate.Limiter
	venueTimeout time.Duration
}

// New builds a Syncer.
func New(rows RowSource, jobs JobStore, engine *dedup.Engine, normalizer *showdate.Normalizer, logger zerolog.Logger) *Syncer {
	return &Syncer{
		rows:       rows,
		jobs:       jobs,
		engine:     engine,
		normalizer: normalizer,
		logger:     logger.With().Str("component", "syncer").Logger(),
		// One tab read per second across all venues.
		limiter:      rate.NewLimiter(rate.Every(time.Second), 3),
		venueTimeout: 10 * time.Minute,
	}
}

// Backfill syncs every tab of every named venue and returns the finished
// job record. A venue that fails is noted on the job; the others complete.
func (s *Syncer) Backfill(ctx context.Context, venues []string) (*guest.SyncJob, error) {
	job, err := s.jobs.CreateSyncJob(ctx, "backfill")
	if err != nil {
		return nil, err
	}
	if err := s.jobs.StartSyncJob(ctx, job.ID); err != nil {
		return nil, err
	}

	var (
		mu        sync.Mutex
		processed []string
		synced    int
		failures  []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(venueConcurrency)
	for _, venue := range venues {
		venue := venue
		g.Go(func() error {
			venueCtx, cancel := context.WithTimeout(gctx, s.venueTimeout)
			defer cancel()

			count, err := s.backfillVenue(venueCtx, venue)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error().Err(err).Str("venue", venue).Msg("venue backfill failed")
				failures = append(failures, venue+": "+err.Error())
				return nil
			}
			processed = append(processed, venue)
			synced += count
			return nil
		})
	}
	_ = g.Wait()

	job.VenuesProcessed = processed
	job.RecordsSynced = synced
	job.Errors = failures
	if len(processed) == 0 && len(failures) > 0 {
		job.Status = guest.JobFailed
	} else {
		job.Status = guest.JobCompleted
	}

	if err := s.jobs.FinishSyncJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Syncer) backfillVenue(ctx context.Context, venue string) (int, error) {
	tabs, err := s.rows.Tabs(ctx, venue)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, tab := range tabs {
		if err := s.limiter.Wait(ctx); err != nil {
			return total, err
		}

		showDate, err := s.normalizer.NormalizeAny(tab)
		if err != nil {
			s.logger.Warn().Str("venue", venue).Str("tab", tab).Msg("tab name is not a show date, skipping")
			continue
		}

		rows, err := s.rows.Rows(ctx, venue, tab)
		if err != nil {
			return total, err
		}

		records := s.rowRecords(venue, showDate, rows)
		result := s.engine.UpsertBatch(ctx, records)
		total += result.Created + result.Updated

		s.logger.Info().
			Str("venue", venue).
			Str("show_date", showDate).
			Int("created", result.Created).
			Int("updated", result.Updated).
			Int("skipped", result.Skipped).
			Msg("tab synced")
	}
	return total, nil
}

// rowRecords maps sheet rows to records. The first row is the header; the
// door staff occasionally reorder or add columns, so positions come from the
// header names rather than being fixed.
func (s *Syncer) rowRecords(venue, showDate string, rows [][]string) []guest.Record {
	if len(rows) < 2 {
		return nil
	}
	cols := headerIndex(rows[0])

	var records []guest.Record
	for _, row := range rows[1:] {
		first := cell(row, cols, "first name")
		last := cell(row, cols, "last name")
		if first == "" && last == "" {
			continue
		}

		tickets := 1
		if raw := cell(row, cols, "tickets"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
				tickets = n
			}
		}

		source := cell(row, cols, "source")
		if source == "" {
			source = guest.SourceManual
		}

		extra := guest.Extra{
			DiscountCode: guest.Str(cell(row, cols, "discount code")),
			EntryCode:    guest.Str(cell(row, cols, "entry code")),
		}
		if raw := cell(row, cols, "total price"); raw != "" {
			if price, err := strconv.ParseFloat(strings.TrimPrefix(raw, "$"), 64); err == nil {
				extra.TotalPrice = guest.Float(price)
			}
		}

		records = append(records, guest.Record{
			Venue:      venue,
			ShowDate:   showDate,
			Email:      cell(row, cols, "email"),
			Source:     source,
			TicketType: cell(row, cols, "ticket type"),
			FirstName:  first,
			LastName:   last,
			Tickets:    tickets,
			Phone:      cell(row, cols, "phone"),
			Extra:      extra,
		})
	}
	return records
}

func headerIndex(header []string) map[string]int {
	cols := make(map[string]int)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "quantity" {
			key = "tickets"
		}
		cols[key] = i
	}
	return cols
}

func cell(row []string, cols map[string]int, key string) string {
	idx, ok := cols[key]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
