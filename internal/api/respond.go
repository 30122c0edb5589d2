package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/leadflowhq/outreach/internal/enrollment"
	"github.com/leadflowhq/outreach/internal/pkg/logger"
	"github.com/leadflowhq/outreach/internal/repository/postgres"
	"github.com/leadflowhq/outreach/internal/sequence"
)

type ctxKey int

const principalKey ctxKey = 0

// requirePrincipal rejects /api requests without an X-Principal-ID header.
func requirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := r.Header.Get("X-Principal-ID")
		if principal == "" {
			writeError(w, http.StatusUnauthorized, "missing X-Principal-ID header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, principal)))
	})
}

func principalID(r *http.Request) string {
	p, _ := r.Context().Value(principalKey).(string)
	return p
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request",
			"method", r.Method, "path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Error("encode response", "error", err.Error())
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// serviceError maps sentinel errors onto HTTP statuses. Unknown errors are
// logged and surfaced as 500s without leaking internals.
func serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sequence.ErrNotFound), errors.Is(err, enrollment.ErrNotFound),
		errors.Is(err, postgres.ErrAccountNotFound),
		errors.Is(err, postgres.ErrActionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, enrollment.ErrAlreadyEnrolled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sequence.ErrInvalidTransition), errors.Is(err, enrollment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, enrollment.ErrSequenceNotActive),
		errors.Is(err, enrollment.ErrNoActiveSteps),
		errors.Is(err, enrollment.ErrMissingEmail),
		errors.Is(err, sequence.ErrInvalidStep),
		errors.Is(err, sequence.ErrBadStepOrder),
		errors.Is(err, sequence.ErrForwardConditionRef),
		errors.Is(err, sequence.ErrStepNotFound):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("request failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
