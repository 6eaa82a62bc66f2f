package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"dialcron/internal/core"
)

type runResponse struct {
	ID                string  `json:"id"`
	AutomationID      string  `json:"automation_id"`
	Status            string  `json:"status"`
	StartedAt         string  `json:"started_at"`
	EndedAt           *string `json:"ended_at,omitempty"`
	ContactsProcessed int     `json:"contacts_processed"`
	CallsInitiated    int     `json:"calls_initiated"`
	CallsFailed       int     `json:"calls_failed"`
	ErrorMessage      *string `json:"error_message,omitempty"`
}

type tickResponse struct {
	Due       int `json:"due"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeServiceError(w, s.logger, "load run", err)
		return
	}
	writeJSON(w, http.StatusOK, runToResponse(run))
}

// handleSchedulerTick runs one scheduler iteration synchronously.
func (s *Server) handleSchedulerTick(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.RunSchedulerNow(r.Context())
	if err != nil {
		writeServiceError(w, s.logger, "run scheduler", err)
		return
	}
	writeJSON(w, http.StatusOK, tickResponse{
		Due:       report.Due,
		Completed: report.Completed,
		Failed:    report.Failed,
		Skipped:   report.Skipped,
	})
}

func runToResponse(run *core.Run) runResponse {
	return runResponse{
		ID:                run.ID,
		AutomationID:      run.AutomationID,
		Status:            string(run.Status),
		StartedAt:         formatTime(run.StartedAt),
		EndedAt:           formatTimePtr(run.EndedAt),
		ContactsProcessed: run.ContactsProcessed,
		CallsInitiated:    run.CallsInitiated,
		CallsFailed:       run.CallsFailed,
		ErrorMessage:      run.ErrorMessage,
	}
}
