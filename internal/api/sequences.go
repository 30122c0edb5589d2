package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leadflowhq/outreach/internal/domain"
)

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if h.Health != nil {
		resp["workers"] = h.Health.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

type createSequenceRequest struct {
	Name     string                   `json:"name"`
	Settings *domain.SequenceSettings `json:"settings,omitempty"`
}

func (h *Handlers) CreateSequence(w http.ResponseWriter, r *http.Request) {
	var req createSequenceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	settings := domain.DefaultSettings("")
	if req.Settings != nil {
		settings = *req.Settings
	}
	seq, err := h.Sequences.Create(r.Context(), principalID(r), req.Name, settings)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, seq)
}

func (h *Handlers) ListSequences(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	seqs, err := h.Sequences.List(r.Context(), principalID(r), limit, offset)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sequences": seqs, "count": len(seqs)})
}

func (h *Handlers) GetSequence(w http.ResponseWriter, r *http.Request) {
	seq, err := h.Sequences.Get(r.Context(), principalID(r), chi.URLParam(r, "sequenceID"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

func (h *Handlers) ListSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := h.Sequences.Steps(r.Context(), principalID(r), chi.URLParam(r, "sequenceID"))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"steps": steps, "count": len(steps)})
}

func (h *Handlers) AddStep(w http.ResponseWriter, r *http.Request) {
	var st domain.Step
	if !decodeBody(w, r, &st) {
		return
	}
	st.SequenceID = chi.URLParam(r, "sequenceID")
	warnings, err := h.Sequences.AddStep(r.Context(), principalID(r), &st)
	if err != nil {
		serviceError(w, err)
		return
	}
	resp := map[string]interface{}{"step": st}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) ActivateSequence(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Sequences.Activate)
}

func (h *Handlers) PauseSequence(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Sequences.Pause)
}

func (h *Handlers) ArchiveSequence(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Sequences.Archive)
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, principalID, id string) error) {
	if err := fn(r.Context(), principalID(r), chi.URLParam(r, "sequenceID")); err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) SequenceStats(w http.ResponseWriter, r *http.Request) {
	days := 30
	if d := r.URL.Query().Get("days"); d != "" {
		if n, err := strconv.Atoi(d); err == nil {
			days = n
		}
	}
	stats, err := h.Sequences.Stats(r.Context(), principalID(r), chi.URLParam(r, "sequenceID"), days)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stats": stats})
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
