// Package source defines the adapter contract every ticket provider
// implements and the runner that executes a sync pass across adapters.
package source

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"guestlist/internal/dedup"
	"guestlist/internal/guest"
)

// Window bounds one ingestion pass: only sales or reservations updated
// inside it are fetched.
type Window struct {
	Since time.Time
	Until time.Time
}

// WindowFromLookback builds a window covering the last d before now.
func WindowFromLookback(now time.Time, d time.Duration) Window {
	return Window{Since: now.Add(-d), Until: now}
}

// Adapter fetches attendee records from one provider.
type Adapter interface {
	// Name returns the canonical source label for records this adapter
	// emits.
	Name() string

	// Fetch returns the records updated inside the window. Implementations
	// must be safe to call repeatedly with overlapping windows; replays are
	// deduplicated downstream.
	Fetch(ctx context.Context, w Window) ([]guest.Record, error)
}

// transientError marks a failure worth retrying (timeouts, 5xx, dropped
// connections).
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so the runner will retry the fetch.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked retryable by an adapter, or is
// a network-level failure.
func IsTransient(err error) bool {
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return "unexpected status " + http.StatusText(e.Status) + " from " + e.URL
}

// CheckStatus converts a non-2xx response into an error, marking server-side
// failures and throttling as transient.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err := &StatusError{Status: resp.StatusCode, URL: resp.Request.URL.String()}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Transient(err)
	}
	return err
}

// AdapterResult summarizes one adapter's part of a sync pass.
type AdapterResult struct {
	Source  string
	Fetched int
	Created int
	Updated int
	Skipped int
	Err     error
}

// Summary aggregates a full pass.
type Summary struct {
	Results []AdapterResult
}

// TotalCreated sums new contacts across adapters.
func (s Summary) TotalCreated() int {
	n := 0
	for _, r := range s.Results {
		n += r.Created
	}
	return n
}

// Failed lists the adapters whose fetch ultimately failed.
func (s Summary) Failed() []string {
	var failed []string
	for _, r := range s.Results {
		if r.Err != nil {
			failed = append(failed, r.Source)
		}
	}
	return failed
}

// Runner executes a sync pass: fetch from each adapter, upsert through the
// dedup engine. One provider's outage never blocks the others.
type Runner struct {
	adapters []Adapter
	engine   *dedup.Engine
	logger   zerolog.Logger

	maxRetries int
	backoff    time.Duration
}

// NewRunner builds a Runner over the given adapters.
func NewRunner(adapters []Adapter, engine *dedup.Engine, logger zerolog.Logger) *Runner {
	return &Runner{
		adapters:   adapters,
		engine:     engine,
		logger:     logger.With().Str("component", "runner").Logger(),
		maxRetries: 3,
		backoff:    2 * time.Second,
	}
}

// Run performs one pass over the window and returns the per-adapter summary.
func (r *Runner) Run(ctx context.Context, w Window) Summary {
	var summary Summary
	for _, adapter := range r.adapters {
		result := r.runOne(ctx, adapter, w)
		summary.Results = append(summary.Results, result)
	}
	return summary
}

func (r *Runner) runOne(ctx context.Context, adapter Adapter, w Window) AdapterResult {
	logger := r.logger.With().Str("source", adapter.Name()).Logger()
	result := AdapterResult{Source: adapter.Name()}

	records, err := r.fetchWithRetry(ctx, adapter, w, logger)
	if err != nil {
		logger.Error().Err(err).Msg("fetch failed, source skipped this pass")
		result.Err = err
		return result
	}
	result.Fetched = len(records)

	batch := r.engine.UpsertBatch(ctx, records)
	result.Created = batch.Created
	result.Updated = batch.Updated
	result.Skipped = batch.Skipped

	logger.Info().
		Int("fetched", result.Fetched).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Msg("source synced")
	return result
}

func (r *Runner) fetchWithRetry(ctx context.Context, adapter Adapter, w Window, logger zerolog.Logger) ([]guest.Record, error) {
	backoff := r.backoff
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("retrying fetch")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		records, err := adapter.Fetch(ctx, w)
		if err == nil {
			return records, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}
