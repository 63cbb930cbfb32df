package httpapi

import (
	"errors"
	"net/http"
	"time"

	"guestlist/internal/guest"
	"guestlist/internal/store"
)

type jobResponse struct {
	ID              string     `json:"id"`
	JobType         string     `json:"job_type"`
	Status          string     `json:"status"`
	VenuesProcessed []string   `json:"venues_processed,omitempty"`
	RecordsSynced   int        `json:"records_synced"`
	Errors          []string   `json:"errors,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func jobView(j guest.SyncJob) jobResponse {
	return jobResponse{
		ID:              j.ID,
		JobType:         j.JobType,
		Status:          j.Status,
		VenuesProcessed: j.VenuesProcessed,
		RecordsSynced:   j.RecordsSynced,
		Errors:          j.Errors,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		CreatedAt:       j.CreatedAt,
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid job id"})
		return
	}

	job, err := s.jobs.SyncJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "job not found"})
			return
		}
		s.logger.Error().Err(err).Str("job_id", id).Msg("load job failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not load job"})
		return
	}
	writeJSON(w, http.StatusOK, jobView(*job))
}

func (s *Server) handleRecentJobs(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-7 * 24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "since must be RFC 3339"})
			return
		}
		since = parsed
	}

	jobs, err := s.jobs.RecentSyncJobs(r.Context(), since)
	if err != nil {
		s.logger.Error().Err(err).Msg("list jobs failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not list jobs"})
		return
	}

	views := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, jobView(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}
