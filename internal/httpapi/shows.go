package httpapi

import (
	"errors"
	"net/http"
	"time"

	"guestlist/internal/analytics"
	"guestlist/internal/store"
)

type showResponse struct {
	Venue    string    `json:"venue"`
	ShowDate string    `json:"show_date"`
	StartsAt time.Time `json:"starts_at"`
}

func (s *Server) handleListShows(w http.ResponseWriter, r *http.Request) {
	venue, ok := pathParam(r, "venue")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid venue name"})
		return
	}

	since := time.Now().Add(-showWindow)
	shows, err := s.guests.ShowsForVenue(r.Context(), venue, since)
	if err != nil {
		s.logger.Error().Err(err).Str("venue", venue).Msg("list shows failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not list shows"})
		return
	}

	views := make([]showResponse, 0, len(shows))
	for _, show := range shows {
		views = append(views, showResponse{
			Venue:    show.Venue,
			ShowDate: show.ShowDate,
			StartsAt: show.ShowDateTime,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"shows": views})
}

type guestResponse struct {
	FirstName  string  `json:"first_name"`
	LastName   string  `json:"last_name"`
	Email      string  `json:"email"`
	Phone      string  `json:"phone,omitempty"`
	Source     string  `json:"source"`
	TicketType string  `json:"ticket_type,omitempty"`
	Tickets    int     `json:"tickets"`
	EntryCode  *string `json:"entry_code,omitempty"`
}

func (s *Server) handleShowGuests(w http.ResponseWriter, r *http.Request) {
	venue, showDate, ok := showParams(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid venue or show date"})
		return
	}

	contacts, err := s.guests.ContactsByShow(r.Context(), venue, showDate)
	if err != nil {
		s.logger.Error().Err(err).Str("venue", venue).Str("show_date", showDate).Msg("load guest list failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load guest list"})
		return
	}
	if len(contacts) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no guests for show"})
		return
	}

	views := make([]guestResponse, 0, len(contacts))
	totalTickets := 0
	for _, c := range contacts {
		totalTickets += c.Tickets
		views = append(views, guestResponse{
			FirstName:  c.FirstName,
			LastName:   c.LastName,
			Email:      c.Email,
			Phone:      c.Phone,
			Source:     c.Source,
			TicketType: c.TicketType,
			Tickets:    c.Tickets,
			EntryCode:  c.Extra.EntryCode,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"venue":         venue,
		"show_date":     showDate,
		"total_tickets": totalTickets,
		"guests":        views,
	})
}

func (s *Server) handleShowBreakdown(w http.ResponseWriter, r *http.Request) {
	venue, showDate, ok := showParams(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid venue or show date"})
		return
	}

	venueRow, err := s.venues.VenueByName(r.Context(), venue)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error().Err(err).Str("venue", venue).Msg("load venue failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load venue"})
		return
	}

	contacts, err := s.guests.ContactsByShow(r.Context(), venue, showDate)
	if err != nil {
		s.logger.Error().Err(err).Str("venue", venue).Str("show_date", showDate).Msg("load guest list failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load guest list"})
		return
	}

	breakdown, err := s.breakdown.Compute(venue, showDate, venueRow, contacts)
	if err != nil {
		if errors.Is(err, analytics.ErrNoContacts) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "no guests for show"})
			return
		}
		s.logger.Error().Err(err).Str("venue", venue).Str("show_date", showDate).Msg("breakdown failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not compute breakdown"})
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

func showParams(r *http.Request) (string, string, bool) {
	venue, ok := pathParam(r, "venue")
	if !ok {
		return "", "", false
	}
	date, ok := pathParam(r, "date")
	if !ok {
		return "", "", false
	}
	return venue, date, true
}
