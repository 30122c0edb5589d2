package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leadflowhq/outreach/internal/domain"
)

type enrollRequest struct {
	Contact   domain.Contact    `json:"contact"`
	Variables map[string]string `json:"variables,omitempty"`
}

func (h *Handlers) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if !decodeBody(w, r, &req) {
		return
	}
	e, err := h.Enrollments.Enroll(r.Context(), principalID(r), chi.URLParam(r, "sequenceID"), req.Contact, req.Variables)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

type bulkEnrollRequest struct {
	Contacts []enrollRequest `json:"contacts"`
}

type bulkEnrollError struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// BulkEnroll enrolls each contact independently; one rejection does not abort
// the batch. Duplicates and validation failures come back in the errors list.
func (h *Handlers) BulkEnroll(w http.ResponseWriter, r *http.Request) {
	var req bulkEnrollRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Contacts) == 0 {
		writeError(w, http.StatusBadRequest, "contacts is required")
		return
	}

	sequenceID := chi.URLParam(r, "sequenceID")
	principal := principalID(r)
	enrolled := 0
	var errs []bulkEnrollError
	for _, c := range req.Contacts {
		if _, err := h.Enrollments.Enroll(r.Context(), principal, sequenceID, c.Contact, c.Variables); err != nil {
			errs = append(errs, bulkEnrollError{Email: c.Contact.Email, Error: err.Error()})
			continue
		}
		enrolled++
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enrolled_count": enrolled,
		"errors":         errs,
	})
}

func (h *Handlers) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	list, err := h.Enrollments.List(r.Context(), principalID(r), chi.URLParam(r, "sequenceID"), limit, offset)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"enrollments": list, "count": len(list)})
}

func (h *Handlers) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	e, err := h.Enrollments.Get(r.Context(), principalID(r), chi.URLParam(r, "enrollmentID"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handlers) PauseEnrollment(w http.ResponseWriter, r *http.Request) {
	if err := h.Enrollments.Pause(r.Context(), principalID(r), chi.URLParam(r, "enrollmentID")); err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (h *Handlers) ResumeEnrollment(w http.ResponseWriter, r *http.Request) {
	if err := h.Enrollments.Resume(r.Context(), principalID(r), chi.URLParam(r, "enrollmentID")); err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

type stopRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handlers) StopEnrollment(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}
	if err := h.Enrollments.Stop(r.Context(), principalID(r), chi.URLParam(r, "enrollmentID"), req.Reason); err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
