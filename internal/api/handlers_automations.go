package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"dialcron/internal/core"
)

type createAutomationRequest struct {
	UserID         string   `json:"user_id"`
	Name           string   `json:"name"`
	Enabled        *bool    `json:"enabled"`
	AgentRef       string   `json:"agent_ref"`
	TargetStatuses []string `json:"target_statuses"`
	Frequency      string   `json:"frequency"`
	RunDays        []string `json:"run_days"`
	RunTime        string   `json:"run_time"`
	Timezone       string   `json:"timezone"`
	MaxCallsPerRun int      `json:"max_calls_per_run"`
}

type updateAutomationRequest struct {
	Name           *string   `json:"name"`
	Enabled        *bool     `json:"enabled"`
	AgentRef       *string   `json:"agent_ref"`
	TargetStatuses *[]string `json:"target_statuses"`
	Frequency      *string   `json:"frequency"`
	RunDays        *[]string `json:"run_days"`
	RunTime        *string   `json:"run_time"`
	Timezone       *string   `json:"timezone"`
	MaxCallsPerRun *int      `json:"max_calls_per_run"`
}

type automationResponse struct {
	ID             string   `json:"id"`
	UserID         string   `json:"user_id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	AgentRef       string   `json:"agent_ref"`
	TargetStatuses []string `json:"target_statuses"`
	Frequency      string   `json:"frequency"`
	RunDays        []string `json:"run_days"`
	RunTime        string   `json:"run_time"`
	Timezone       string   `json:"timezone,omitempty"`
	MaxCallsPerRun int      `json:"max_calls_per_run"`
	LastRunAt      *string  `json:"last_run_at,omitempty"`
	NextRunAt      *string  `json:"next_run_at,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

type previewResponse struct {
	AutomationID string   `json:"automation_id"`
	Timezone     string   `json:"timezone"`
	NextTimes    []string `json:"next_times"`
}

func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	var req createAutomationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	runTime, err := core.ParseRunTime(req.RunTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	runDays, err := core.ParseWeekdays(req.RunDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	a, err := s.service.CreateAutomation(r.Context(), core.AutomationConfig{
		UserID:         req.UserID,
		Name:           req.Name,
		Enabled:        enabled,
		AgentRef:       req.AgentRef,
		TargetStatuses: core.ContactStatuses(req.TargetStatuses),
		Frequency:      core.Frequency(strings.ToLower(strings.TrimSpace(req.Frequency))),
		RunDays:        runDays,
		RunTime:        runTime,
		Timezone:       req.Timezone,
		MaxCallsPerRun: req.MaxCallsPerRun,
	})
	if err != nil {
		writeServiceError(w, s.logger, "create automation", err)
		return
	}
	writeJSON(w, http.StatusCreated, automationToResponse(a))
}

func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	automations, err := s.service.ListAutomations(r.Context(), userID)
	if err != nil {
		writeServiceError(w, s.logger, "list automations", err)
		return
	}
	res := make([]automationResponse, 0, len(automations))
	for _, a := range automations {
		res = append(res, automationToResponse(a))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	a, err := s.service.GetAutomation(r.Context(), chi.URLParam(r, "automationID"))
	if err != nil {
		writeServiceError(w, s.logger, "load automation", err)
		return
	}
	writeJSON(w, http.StatusOK, automationToResponse(a))
}

func (s *Server) handleUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	var req updateAutomationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	patch := core.AutomationPatch{
		Name:           req.Name,
		Enabled:        req.Enabled,
		AgentRef:       req.AgentRef,
		Timezone:       req.Timezone,
		MaxCallsPerRun: req.MaxCallsPerRun,
	}
	if req.TargetStatuses != nil {
		statuses := core.ContactStatuses(*req.TargetStatuses)
		patch.TargetStatuses = &statuses
	}
	if req.Frequency != nil {
		freq := core.Frequency(strings.ToLower(strings.TrimSpace(*req.Frequency)))
		patch.Frequency = &freq
	}
	if req.RunDays != nil {
		days, err := core.ParseWeekdays(*req.RunDays)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		patch.RunDays = &days
	}
	if req.RunTime != nil {
		rt, err := core.ParseRunTime(*req.RunTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		patch.RunTime = &rt
	}

	a, err := s.service.UpdateAutomation(r.Context(), chi.URLParam(r, "automationID"), patch)
	if err != nil {
		writeServiceError(w, s.logger, "update automation", err)
		return
	}
	writeJSON(w, http.StatusOK, automationToResponse(a))
}

func (s *Server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteAutomation(r.Context(), chi.URLParam(r, "automationID")); err != nil {
		writeServiceError(w, s.logger, "delete automation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunAutomation(w http.ResponseWriter, r *http.Request) {
	automationID := chi.URLParam(r, "automationID")
	run, err := s.service.TriggerRunNow(r.Context(), automationID)
	if err != nil {
		writeServiceError(w, s.logger, "start run", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":        run.ID,
		"automation_id": automationID,
		"status":        string(run.Status),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	if limit > 100 {
		limit = 100
	}
	runs, err := s.service.ListRuns(r.Context(), chi.URLParam(r, "automationID"), limit, offset)
	if err != nil {
		writeServiceError(w, s.logger, "list runs", err)
		return
	}
	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runToResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePreviewSchedule(w http.ResponseWriter, r *http.Request) {
	automationID := chi.URLParam(r, "automationID")
	count := parseIntDefault(r.URL.Query().Get("count"), 5)
	a, err := s.service.GetAutomation(r.Context(), automationID)
	if err != nil {
		writeServiceError(w, s.logger, "load automation", err)
		return
	}
	times, err := s.service.PreviewSchedule(r.Context(), automationID, count)
	if err != nil {
		writeServiceError(w, s.logger, "preview schedule", err)
		return
	}
	loc := core.AutomationLocation(a, s.service.Location())
	formatted := make([]string, 0, len(times))
	for _, t := range times {
		formatted = append(formatted, t.In(loc).Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, previewResponse{
		AutomationID: automationID,
		Timezone:     loc.String(),
		NextTimes:    formatted,
	})
}

func automationToResponse(a *core.Automation) automationResponse {
	statuses := make([]string, 0, len(a.TargetStatuses))
	for _, st := range a.TargetStatuses {
		statuses = append(statuses, string(st))
	}
	days := make([]string, 0, len(a.RunDays))
	for _, d := range a.RunDays {
		days = append(days, core.WeekdayName(d))
	}
	return automationResponse{
		ID:             a.ID,
		UserID:         a.UserID,
		Name:           a.Name,
		Enabled:        a.Enabled,
		AgentRef:       a.AgentRef,
		TargetStatuses: statuses,
		Frequency:      string(a.Frequency),
		RunDays:        days,
		RunTime:        a.RunTime.String(),
		Timezone:       a.Timezone,
		MaxCallsPerRun: a.MaxCallsPerRun,
		LastRunAt:      formatTimePtr(a.LastRunAt),
		NextRunAt:      formatTimePtr(a.NextRunAt),
		CreatedAt:      formatTime(a.CreatedAt),
		UpdatedAt:      formatTime(a.UpdatedAt),
	}
}
