package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dialcron/internal/core"
)

type auditEntryResponse struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Source    string `json:"source"`
	Message   string `json:"message"`
}

type contactRequest struct {
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number"`
	Status      string `json:"status"`
}

type importContactsRequest struct {
	UserID   string           `json:"user_id"`
	Contacts []contactRequest `json:"contacts"`
}

type contactResponse struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	FullName        string  `json:"full_name"`
	PhoneNumber     string  `json:"phone_number"`
	Status          string  `json:"status"`
	LastContactedAt *string `json:"last_contacted_at,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logger.Warn("health check", "err", err)
			writeError(w, http.StatusServiceUnavailable, "unavailable", "datastore unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	source := strings.TrimSpace(r.URL.Query().Get("source"))
	limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
	if limit > 1000 {
		limit = 1000
	}
	entries, err := s.audit.ListAuditEntries(r.Context(), source, limit)
	if err != nil {
		writeServiceError(w, s.logger, "list audit entries", err)
		return
	}
	resp := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, auditEntryResponse{
			ID:        e.ID,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
			Level:     string(e.Level),
			Source:    e.Source,
			Message:   e.Message,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "user_id is required")
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	contacts, err := s.contacts.ListContacts(r.Context(), userID, limit, offset)
	if err != nil {
		writeServiceError(w, s.logger, "list contacts", err)
		return
	}
	resp := make([]contactResponse, 0, len(contacts))
	for i := range contacts {
		resp = append(resp, contactToResponse(&contacts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleImportContacts validates the whole batch before inserting any row.
func (s *Server) handleImportContacts(w http.ResponseWriter, r *http.Request) {
	var req importContactsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "user_id is required")
		return
	}
	if len(req.Contacts) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "contacts must not be empty")
		return
	}

	contacts := make([]*core.Contact, 0, len(req.Contacts))
	for i, c := range req.Contacts {
		status := core.ContactStatusNew
		if c.Status != "" {
			status = core.ContactStatus(strings.ToLower(strings.TrimSpace(c.Status)))
		}
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_input", fmt.Sprintf("contacts[%d]: unknown status %q", i, c.Status))
			return
		}
		name := strings.TrimSpace(c.FullName)
		phone := strings.TrimSpace(c.PhoneNumber)
		if name == "" || phone == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", fmt.Sprintf("contacts[%d]: full_name and phone_number are required", i))
			return
		}
		contacts = append(contacts, &core.Contact{
			UserID:      userID,
			FullName:    name,
			PhoneNumber: phone,
			Status:      status,
		})
	}

	resp := make([]contactResponse, 0, len(contacts))
	for _, c := range contacts {
		if err := s.contacts.InsertContact(r.Context(), c); err != nil {
			writeServiceError(w, s.logger, "import contacts", err)
			return
		}
		resp = append(resp, contactToResponse(c))
	}
	writeJSON(w, http.StatusCreated, resp)
}

func contactToResponse(c *core.Contact) contactResponse {
	return contactResponse{
		ID:              c.ID,
		UserID:          c.UserID,
		FullName:        c.FullName,
		PhoneNumber:     c.PhoneNumber,
		Status:          string(c.Status),
		LastContactedAt: formatTimePtr(c.LastContactedAt),
		CreatedAt:       formatTime(c.CreatedAt),
	}
}
