package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"verification-service/internal/config"
	"verification-service/internal/phone"
	"verification-service/internal/util"
	"verification-service/internal/verification"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const verifiedCookieTTL = 3600 // seconds

// VerifyHandler exposes the verification gate over HTTP.
type VerifyHandler struct {
	gate *verification.Gate
	cfg  *config.Config
}

func NewVerifyHandler(gate *verification.Gate, cfg *config.Config) *VerifyHandler {
	return &VerifyHandler{gate: gate, cfg: cfg}
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func errorResponse(message string) Response {
	return Response{Success: false, Error: message}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *VerifyHandler) RegisterRoutes(router chi.Router) {
	router.Route("/verification", func(r chi.Router) {
		r.Post("/send", h.SendCode)
		r.Post("/check", h.CheckCode)
	})
}

type sendCodeRequest struct {
	Phone        string `json:"phone"`
	CaptchaToken string `json:"captchaToken"`
}

// sendCodeResponse carries testMode at the top level; clients branch on it to
// show the fixed-code hint.
type sendCodeResponse struct {
	Success  bool   `json:"success"`
	TestMode bool   `json:"testMode"`
	Message  string `json:"message,omitempty"`
}

// SendCode handles POST /api/v1/verification/send.
func (h *VerifyHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sendCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	result, err := h.gate.RequestCode(ctx, verification.RequestCodeInput{
		Phone:        util.SanitizeInput(req.Phone),
		CaptchaToken: req.CaptchaToken,
		IP:           clientIP(r),
	})
	if err != nil {
		h.writeGateError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sendCodeResponse{
		Success:  true,
		TestMode: result.TestMode,
		Message:  "Verification code sent",
	})
}

type checkCodeRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// CheckCode handles POST /api/v1/verification/check. A successful check sets
// the verified-phone and consent cookies.
func (h *VerifyHandler) CheckCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req checkCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	if err := h.gate.VerifyCode(ctx, util.SanitizeInput(req.Phone), req.Code, clientIP(r)); err != nil {
		h.writeGateError(w, err)
		return
	}

	e164, err := phone.Normalize(req.Phone)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(verification.ErrInvalidPhone.Error()))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "verified_phone",
		Value:    e164,
		Path:     "/",
		MaxAge:   verifiedCookieTTL,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     "sms_consent",
		Value:    "granted",
		Path:     "/",
		MaxAge:   365 * 24 * 3600,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, successResponse(nil, "Phone verified"))
}

// writeGateError maps the gate taxonomy onto HTTP statuses. Policy denials
// keep their generic messages; anything unmapped becomes an opaque 500.
func (h *VerifyHandler) writeGateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, verification.ErrInvalidPhone):
		writeJSON(w, http.StatusBadRequest, errorResponse(verification.ErrInvalidPhone.Error()))
	case errors.Is(err, verification.ErrSuspiciousPhone):
		writeJSON(w, http.StatusBadRequest, errorResponse(verification.ErrSuspiciousPhone.Error()))
	case errors.Is(err, verification.ErrCaptchaFailed):
		writeJSON(w, http.StatusBadRequest, errorResponse(verification.ErrCaptchaFailed.Error()))
	case errors.Is(err, verification.ErrCodeMismatch):
		writeJSON(w, http.StatusBadRequest, errorResponse("Invalid or expired verification code"))
	case errors.Is(err, verification.ErrBlocked):
		writeJSON(w, http.StatusForbidden, errorResponse(verification.ErrBlocked.Error()))
	case errors.Is(err, verification.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errorResponse(verification.ErrRateLimited.Error()))
	default:
		util.Error("Verification request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal error"))
	}
}

// clientIP trusts RealIP middleware to have rewritten RemoteAddr; it strips a
// port when one is still present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
