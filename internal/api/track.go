package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leadflowhq/outreach/internal/domain"
	"github.com/leadflowhq/outreach/internal/pkg/logger"
	"github.com/leadflowhq/outreach/internal/tracking"
)

// transparentGIF is a 1x1 transparent pixel served on open tracking hits.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0x21, 0xF9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2C, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3B,
}

func requestMeta(r *http.Request) tracking.Meta {
	return tracking.Meta{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}

// TrackOpen records an open event. The pixel is served unconditionally so a
// tampered or expired token still renders instead of breaking the email.
func (h *Handlers) TrackOpen(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sig := chi.URLParam(r, "sig")
	if err := h.Tracking.RecordOpen(r.Context(), token, sig, requestMeta(r)); err != nil {
		logger.Debug("open tracking rejected", "error", err.Error())
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(transparentGIF)
}

// TrackClick records a click event and redirects to the original URL. A bad
// signature is a 404; there is no original URL to fall back to.
func (h *Handlers) TrackClick(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sig := chi.URLParam(r, "sig")
	url, err := h.Tracking.RecordClick(r.Context(), token, sig, requestMeta(r))
	if err != nil {
		logger.Debug("click tracking rejected", "error", err.Error())
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

type replyWebhookRequest struct {
	TrackingID   string `json:"tracking_id,omitempty"`
	EnrollmentID string `json:"enrollment_id,omitempty"`
}

// ReplyWebhook accepts a reply signal keyed by either the message tracking id
// or the enrollment id, depending on what the upstream detector knows.
func (h *Handlers) ReplyWebhook(w http.ResponseWriter, r *http.Request) {
	var req replyWebhookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var err error
	switch {
	case req.TrackingID != "":
		err = h.Tracking.RecordReply(r.Context(), req.TrackingID, requestMeta(r))
	case req.EnrollmentID != "":
		err = h.Enrollments.MarkReplied(r.Context(), req.EnrollmentID)
	default:
		writeError(w, http.StatusBadRequest, "tracking_id or enrollment_id is required")
		return
	}
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type deliveryAckRequest struct {
	TrackingID string `json:"tracking_id"`
	MessageID  string `json:"message_id,omitempty"`
}

// DeliveryAck records that an out-of-process agent (browser extension,
// external channel API) finished delivering a pending_manual action.
func (h *Handlers) DeliveryAck(w http.ResponseWriter, r *http.Request) {
	var req deliveryAckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TrackingID == "" {
		writeError(w, http.StatusBadRequest, "tracking_id is required")
		return
	}
	action, err := h.Actions.GetByTrackingID(r.Context(), req.TrackingID)
	if err != nil {
		serviceError(w, err)
		return
	}
	if action.Status == domain.ActionSent {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_acknowledged"})
		return
	}
	var resp json.RawMessage
	if req.MessageID != "" {
		resp, _ = json.Marshal(map[string]string{"message_id": req.MessageID})
	}
	if err := h.Actions.MarkSent(r.Context(), action.ID, time.Now().UTC(), resp); err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type bounceWebhookRequest struct {
	TrackingID   string `json:"tracking_id,omitempty"`
	EnrollmentID string `json:"enrollment_id,omitempty"`
	BounceType   string `json:"bounce_type,omitempty"`
}

func (h *Handlers) BounceWebhook(w http.ResponseWriter, r *http.Request) {
	var req bounceWebhookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	hard := req.BounceType != "soft"
	var err error
	switch {
	case req.TrackingID != "":
		err = h.Tracking.RecordBounce(r.Context(), req.TrackingID, hard, requestMeta(r))
	case req.EnrollmentID != "" && hard:
		err = h.Enrollments.MarkBounced(r.Context(), req.EnrollmentID)
	case req.EnrollmentID != "":
		// Soft bounces without a tracking id carry no action to annotate.
	default:
		writeError(w, http.StatusBadRequest, "tracking_id or enrollment_id is required")
		return
	}
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
