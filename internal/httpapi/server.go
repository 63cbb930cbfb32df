// Package httpapi serves the dashboard API over the stored guest lists.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"guestlist/internal/analytics"
	"guestlist/internal/guest"
)

// GuestService exposes stored guest lists and show listings.
type GuestService interface {
	ContactsByShow(ctx context.Context, venue, showDate string) ([]guest.Contact, error)
	ShowsForVenue(ctx context.Context, venue string, since time.Time) ([]guest.Show, error)
}

// VenueService manages venue configuration.
type VenueService interface {
	Venues(ctx context.Context) ([]guest.Venue, error)
	VenueByName(ctx context.Context, name string) (*guest.Venue, error)
	CreateVenue(ctx context.Context, v *guest.Venue) error
	UpdateVenue(ctx context.Context, v *guest.Venue) error
}

// JobService exposes sync-job state.
type JobService interface {
	SyncJob(ctx context.Context, id string) (*guest.SyncJob, error)
	RecentSyncJobs(ctx context.Context, since time.Time) ([]guest.SyncJob, error)
}

// HealthService reports storage liveness.
type HealthService interface {
	Health(ctx context.Context) (map[string]int, error)
}

// Shows listed per venue cover this much history; anything older is reachable
// only by exact date through the guest-list endpoint.
const showWindow = 60 * 24 * time.Hour

// Server wires HTTP handlers to the underlying services.
type Server struct {
	guests    GuestService
	venues    VenueService
	jobs      JobService
	health    HealthService
	breakdown *analytics.Engine
	logger    zerolog.Logger
}

// New configures a Server.
func New(guests GuestService, venues VenueService, jobs JobService, health HealthService, breakdown *analytics.Engine, logger zerolog.Logger) *Server {
	return &Server{
		guests:    guests,
		venues:    venues,
		jobs:      jobs,
		health:    health,
		breakdown: breakdown,
		logger:    logger.With().Str("component", "httpapi").Logger(),
	}
}

// Routes exposes the dashboard API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/api/health", s.handleHealth)

	r.Route("/api/venues", func(r chi.Router) {
		r.Get("/", s.handleListVenues)
		r.Post("/", s.handleCreateVenue)
		r.Put("/{venue}", s.handleUpdateVenue)
		r.Get("/{venue}/shows", s.handleListShows)
		r.Get("/{venue}/shows/{date}/guests", s.handleShowGuests)
		r.Get("/{venue}/shows/{date}/breakdown", s.handleShowBreakdown)
	})

	r.Route("/api/jobs", func(r chi.Router) {
		r.Get("/", s.handleRecentJobs)
		r.Get("/{id}", s.handleGetJob)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := s.health.Health(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "storage unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"tables": counts,
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}
