package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/leadflowhq/outreach/internal/domain"
)

func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Accounts.List(r.Context(), principalID(r))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts, "count": len(accounts)})
}

func (h *Handlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var a domain.SendingAccount
	if !decodeBody(w, r, &a) {
		return
	}
	if a.FromEmail == "" {
		writeError(w, http.StatusBadRequest, "from_email is required")
		return
	}
	switch a.Transport {
	case domain.TransportSMTP:
		if a.SMTPHost == "" || a.SMTPPort == 0 {
			writeError(w, http.StatusBadRequest, "smtp transport requires smtp_host and smtp_port")
			return
		}
	case domain.TransportSES:
		if a.AWSRegion == "" {
			writeError(w, http.StatusBadRequest, "ses transport requires aws_region")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "transport must be smtp or ses")
		return
	}

	a.ID = uuid.New().String()
	a.PrincipalID = principalID(r)
	if a.Channel == "" {
		a.Channel = domain.StepEmail
	}
	if a.HourlyCap <= 0 {
		a.HourlyCap = 50
	}
	if a.DailyCap <= 0 {
		a.DailyCap = 500
	}
	a.Active = true

	if err := h.Accounts.Create(r.Context(), &a); err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handlers) EnableAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.Accounts.Enable(r.Context(), principalID(r), chi.URLParam(r, "accountID")); err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}
