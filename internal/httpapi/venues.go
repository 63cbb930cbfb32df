package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"guestlist/internal/guest"
	"guestlist/internal/store"
)

func (s *Server) handleListVenues(w http.ResponseWriter, r *http.Request) {
	venues, err := s.venues.Venues(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list venues failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not list venues"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"venues": venueViews(venues)})
}

type venueRequest struct {
	Name               string   `json:"name"`
	City               string   `json:"city"`
	Active             *bool    `json:"active,omitempty"`
	DefaultTicketPrice *float64 `json:"default_ticket_price,omitempty"`
	CostType           string   `json:"cost_type"`
	CostRate           float64  `json:"cost_rate"`
}

func (req venueRequest) validate() string {
	switch req.CostType {
	case "", guest.CostPercentage, guest.CostFlat, guest.CostNone:
	default:
		return "cost_type must be percentage, flat or none"
	}
	if req.CostType == guest.CostPercentage && (req.CostRate < 0 || req.CostRate > 1) {
		return "percentage cost_rate must be between 0 and 1"
	}
	if req.CostRate < 0 {
		return "cost_rate must not be negative"
	}
	return ""
}

func (s *Server) handleCreateVenue(w http.ResponseWriter, r *http.Request) {
	var req venueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name is required"})
		return
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
		return
	}

	venue := &guest.Venue{
		Name:               req.Name,
		City:               req.City,
		Active:             true,
		DefaultTicketPrice: req.DefaultTicketPrice,
		CostType:           req.CostType,
		CostRate:           req.CostRate,
	}
	if venue.CostType == "" {
		venue.CostType = guest.CostNone
	}
	if req.Active != nil {
		venue.Active = *req.Active
	}

	if err := s.venues.CreateVenue(r.Context(), venue); err != nil {
		if errors.Is(err, store.ErrVenueExists) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "venue already exists"})
			return
		}
		s.logger.Error().Err(err).Str("venue", req.Name).Msg("create venue failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not create venue"})
		return
	}
	writeJSON(w, http.StatusCreated, venueView(*venue))
}

func (s *Server) handleUpdateVenue(w http.ResponseWriter, r *http.Request) {
	name, ok := pathParam(r, "venue")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid venue name"})
		return
	}

	var req venueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
		return
	}

	existing, err := s.venues.VenueByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "venue not found"})
			return
		}
		s.logger.Error().Err(err).Str("venue", name).Msg("load venue failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load venue"})
		return
	}

	if req.City != "" {
		existing.City = req.City
	}
	if req.Active != nil {
		existing.Active = *req.Active
	}
	if req.DefaultTicketPrice != nil {
		existing.DefaultTicketPrice = req.DefaultTicketPrice
	}
	if req.CostType != "" {
		existing.CostType = req.CostType
		existing.CostRate = req.CostRate
	}

	if err := s.venues.UpdateVenue(r.Context(), existing); err != nil {
		s.logger.Error().Err(err).Str("venue", name).Msg("update venue failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not update venue"})
		return
	}
	writeJSON(w, http.StatusOK, venueView(*existing))
}

type venueResponse struct {
	Name               string   `json:"name"`
	City               string   `json:"city"`
	Active             bool     `json:"active"`
	DefaultTicketPrice *float64 `json:"default_ticket_price,omitempty"`
	CostType           string   `json:"cost_type"`
	CostRate           float64  `json:"cost_rate"`
}

func venueView(v guest.Venue) venueResponse {
	return venueResponse{
		Name:               v.Name,
		City:               v.City,
		Active:             v.Active,
		DefaultTicketPrice: v.DefaultTicketPrice,
		CostType:           v.CostType,
		CostRate:           v.CostRate,
	}
}

func venueViews(venues []guest.Venue) []venueResponse {
	views := make([]venueResponse, 0, len(venues))
	for _, v := range venues {
		views = append(views, venueView(v))
	}
	return views
}

// pathParam decodes one URL path segment. Show dates and venue names carry
// spaces, so they arrive percent-encoded.
func pathParam(r *http.Request, key string) (string, bool) {
	raw := chi.URLParam(r, key)
	if raw == "" {
		return "", false
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", false
	}
	return decoded, true
}
