package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"verification-service/internal/models"
	"verification-service/internal/phone"
	"verification-service/internal/util"
	"verification-service/internal/verification"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// DeliveryAuditor records carrier status callbacks against the delivery log.
type DeliveryAuditor interface {
	InsertDelivery(ctx context.Context, rec models.DeliveryRecord) error
}

// WebhookHandler receives carrier callbacks: delivery status updates and
// inbound keyword messages (STOP/START/HELP).
type WebhookHandler struct {
	gate      *verification.Gate
	audit     DeliveryAuditor
	authToken string
}

func NewWebhookHandler(gate *verification.Gate, audit DeliveryAuditor, authToken string) *WebhookHandler {
	return &WebhookHandler{gate: gate, audit: audit, authToken: authToken}
}

func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/sms", h.HandleInbound)
}

func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if h.authToken != "" && !h.validSignature(r) {
		util.Warn("Webhook signature rejected",
			zap.String("remote_addr", r.RemoteAddr))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if status := r.PostFormValue("SmsStatus"); status != "" {
		h.recordStatus(r, status)
		respondEmpty(w)
		return
	}

	if body := r.PostFormValue("Body"); body != "" {
		h.handleKeyword(r, body)
	}
	respondEmpty(w)
}

// validSignature checks the carrier HMAC-SHA1 scheme: base64(HMAC(token,
// full URL + POST params concatenated sorted by key)).
func (h *WebhookHandler) validSignature(r *http.Request) bool {
	provided := r.Header.Get("X-Twilio-Signature")
	if provided == "" {
		return false
	}

	expected := SignWebhookRequest(h.authToken, requestURL(r), r.PostForm)
	return hmac.Equal([]byte(provided), []byte(expected))
}

// SignWebhookRequest computes the webhook signature for a URL and form body.
func SignWebhookRequest(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (h *WebhookHandler) recordStatus(r *http.Request, status string) {
	if h.audit == nil {
		return
	}

	messageID := r.PostFormValue("MessageSid")
	if messageID == "" {
		messageID = r.PostFormValue("SmsSid")
	}

	rec := models.DeliveryRecord{
		Phone:       r.PostFormValue("To"),
		Type:        "status_update",
		Provider:    "twilio",
		MessageID:   messageID,
		Status:      status,
		ErrorDetail: r.PostFormValue("ErrorCode"),
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.audit.InsertDelivery(r.Context(), rec); err != nil {
		util.Error("Failed to record delivery status update",
			zap.String("message_id", messageID),
			zap.Error(err))
	}
}

// handleKeyword processes compliance keywords from the subscriber.
func (h *WebhookHandler) handleKeyword(r *http.Request, body string) {
	from := r.PostFormValue("From")
	e164, err := phone.Normalize(from)
	if err != nil {
		util.Warn("Webhook keyword from unparseable phone", zap.Error(err))
		return
	}

	var action string
	switch strings.ToUpper(strings.TrimSpace(body)) {
	case "STOP", "STOPALL", "UNSUBSCRIBE", "CANCEL", "END", "QUIT":
		action = "opt_out"
	case "START", "UNSTOP", "YES":
		action = "opt_in"
	case "HELP", "INFO":
		action = "help"
	default:
		return
	}

	if err := h.gate.RecordConsent(r.Context(), e164, action, "webhook", clientIP(r)); err != nil {
		util.Error("Failed to record webhook consent",
			zap.String("action", action),
			zap.Error(err))
	} else {
		util.Info("Consent keyword processed",
			zap.String("action", action),
			zap.String("phone", util.MaskPhone(e164)))
	}
}

func respondEmpty(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("<Response></Response>"))
}
