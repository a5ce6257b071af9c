package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"verification-service/internal/abuse"
	"verification-service/internal/blocklist"
	"verification-service/internal/bucketing"
	"verification-service/internal/config"
	"verification-service/internal/hashing"
	"verification-service/internal/models"
	"verification-service/internal/ratelimit"
	"verification-service/internal/repository/scylla"
	"verification-service/internal/sms"
	"verification-service/internal/store"
	"verification-service/internal/util"
	"verification-service/internal/verification"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakeSender struct {
	messages []sms.Message
}

func (s *fakeSender) Send(_ context.Context, msg sms.Message) (sms.Outcome, error) {
	s.messages = append(s.messages, msg)
	return sms.Outcome{Provider: "fake", MessageID: "msg-1", Status: "sent"}, nil
}

type fakeCodeStore struct {
	latest map[string]*models.VerificationCode
}

func (s *fakeCodeStore) CreateCode(_ context.Context, code *models.VerificationCode) error {
	cp := *code
	s.latest[code.Phone] = &cp
	return nil
}

func (s *fakeCodeStore) GetLatestCode(_ context.Context, _ int, p string) (*models.VerificationCode, error) {
	vc, ok := s.latest[p]
	if !ok {
		return nil, scylla.ErrCodeNotFound
	}
	return vc, nil
}

func (s *fakeCodeStore) IncrementAttempts(_ context.Context, code *models.VerificationCode) error {
	if vc, ok := s.latest[code.Phone]; ok {
		vc.Attempts++
	}
	return nil
}

func (s *fakeCodeStore) DeleteCodesForPhone(_ context.Context, _ int, p string) error {
	delete(s.latest, p)
	return nil
}

type fakeConsentStore struct {
	records []*models.ConsentRecord
}

func (s *fakeConsentStore) Append(_ context.Context, rec *models.ConsentRecord) error {
	s.records = append(s.records, rec)
	return nil
}

type fakeAuditor struct {
	records []models.DeliveryRecord
}

func (a *fakeAuditor) InsertDelivery(_ context.Context, rec models.DeliveryRecord) error {
	a.records = append(a.records, rec)
	return nil
}

type handlerEnv struct {
	cfg      *config.Config
	clk      *fakeClock
	bl       *blocklist.Manager
	sender   *fakeSender
	consents *fakeConsentStore
	auditor  *fakeAuditor
	router   http.Handler
}

const webhookToken = "test-auth-token"

func newHandlerEnv() *handlerEnv {
	cfg := &config.Config{
		Environment: "test",
		Hashing: config.HashingConfig{
			Argon2MemoryCost:   1024,
			Argon2TimeCost:     1,
			Argon2Parallelism:  1,
			PepperRotationDays: 30,
		},
		Bucketing:    config.BucketingConfig{PhoneBuckets: 16},
		Verification: config.VerificationConfig{CodeTTL: 10 * time.Minute},
	}

	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mem := store.NewMemoryStoreWithClock(clk.Now)
	bl := blocklist.NewManager(mem)
	recent := abuse.NewRecentAttemptsWithClock(clk.Now)
	detector := abuse.NewDetector(mem, nil, bl, nil, nil, recent, "")

	env := &handlerEnv{
		cfg:      cfg,
		clk:      clk,
		bl:       bl,
		sender:   &fakeSender{},
		consents: &fakeConsentStore{},
		auditor:  &fakeAuditor{},
	}

	gate := verification.NewGate(
		cfg,
		mem,
		ratelimit.NewBank(mem, nil),
		bl,
		detector,
		nil,
		hashing.NewHasher(cfg),
		bucketing.NewBucketingManager(cfg),
		&fakeCodeStore{latest: make(map[string]*models.VerificationCode)},
		env.consents,
		nil,
		env.sender,
	)

	verifyHandler := NewVerifyHandler(gate, cfg)
	webhookHandler := NewWebhookHandler(gate, env.auditor, webhookToken)
	env.router = NewRouter(cfg, verifyHandler, webhookHandler, func() map[string]string {
		return map[string]string{"redis": "healthy"}
	}, util.Get())
	return env
}

func (e *handlerEnv) postJSON(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "http://example.com"+path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *handlerEnv) lastCode(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, e.sender.messages)
	body := e.sender.messages[len(e.sender.messages)-1].Body
	code := strings.TrimPrefix(body, "Your verification code is ")
	require.Len(t, code, 6)
	return code
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestSendAndCheckCode(t *testing.T) {
	env := newHandlerEnv()

	rec := env.postJSON(t, "/api/v1/verification/send", map[string]string{"phone": "(212) 555-0187"})
	require.Equal(t, http.StatusOK, rec.Code)

	// testMode sits at the top level of the payload, not nested under data.
	var sendResp struct {
		Success  bool  `json:"success"`
		TestMode *bool `json:"testMode"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sendResp))
	require.True(t, sendResp.Success)
	require.NotNil(t, sendResp.TestMode)
	require.False(t, *sendResp.TestMode)

	rec = env.postJSON(t, "/api/v1/verification/check", map[string]string{
		"phone": "(212) 555-0187",
		"code":  env.lastCode(t),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeResponse(t, rec).Success)

	cookies := rec.Result().Cookies()
	byName := make(map[string]*http.Cookie, len(cookies))
	for _, c := range cookies {
		byName[c.Name] = c
	}

	verified := byName["verified_phone"]
	require.NotNil(t, verified)
	require.Equal(t, "+12125550187", verified.Value)
	require.True(t, verified.HttpOnly)
	require.True(t, verified.Secure)
	require.Equal(t, http.SameSiteLaxMode, verified.SameSite)
	require.Equal(t, 3600, verified.MaxAge)

	consent := byName["sms_consent"]
	require.NotNil(t, consent)
	require.Equal(t, "granted", consent.Value)
}

func TestSendCodeInvalidPhone(t *testing.T) {
	env := newHandlerEnv()

	rec := env.postJSON(t, "/api/v1/verification/send", map[string]string{"phone": "12345"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.False(t, resp.Success)
	require.Equal(t, "invalid phone number format", resp.Error)
}

func TestSendCodeMalformedBody(t *testing.T) {
	env := newHandlerEnv()

	req := httptest.NewRequest(http.MethodPost, "http://example.com/api/v1/verification/send", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendCodeBlockedIP(t *testing.T) {
	env := newHandlerEnv()

	// httptest requests arrive from 192.0.2.1.
	require.NoError(t, env.bl.BlockIP(context.Background(), "192.0.2.1", "operator_block", time.Hour))

	rec := env.postJSON(t, "/api/v1/verification/send", map[string]string{"phone": "+12125550187"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "request not permitted", decodeResponse(t, rec).Error)
}

func TestSendCodeRateLimited(t *testing.T) {
	env := newHandlerEnv()

	rec := env.postJSON(t, "/api/v1/verification/send", map[string]string{"phone": "+12125550187"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Immediate resend for the same phone.
	rec = env.postJSON(t, "/api/v1/verification/send", map[string]string{"phone": "+12125550187"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "too many verification attempts", decodeResponse(t, rec).Error)
}

func TestCheckCodeWrong(t *testing.T) {
	env := newHandlerEnv()

	rec := env.postJSON(t, "/api/v1/verification/send", map[string]string{"phone": "+12125550187"})
	require.Equal(t, http.StatusOK, rec.Code)

	wrong := "000000"
	if wrong == env.lastCode(t) {
		wrong = "000001"
	}
	rec = env.postJSON(t, "/api/v1/verification/check", map[string]string{
		"phone": "+12125550187",
		"code":  wrong,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Invalid or expired verification code", decodeResponse(t, rec).Error)
	require.Empty(t, rec.Result().Cookies())
}

func TestSuspiciousPhoneGetsGenericError(t *testing.T) {
	env := newHandlerEnv()

	rec := env.postJSON(t, "/api/v1/verification/send", map[string]string{"phone": "+15555555555"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid phone number", decodeResponse(t, rec).Error)
}

func TestHealthEndpoint(t *testing.T) {
	env := newHandlerEnv()

	req := httptest.NewRequest(http.MethodGet, "http://example.com/health", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.Equal(t, "verification-service", status["service"])
	require.Equal(t, "healthy", status["redis"])
}

func TestUnknownRoute(t *testing.T) {
	env := newHandlerEnv()

	req := httptest.NewRequest(http.MethodGet, "http://example.com/nope", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newHandlerEnv()

	req := httptest.NewRequest(http.MethodGet, "http://example.com/api/v1/verification/send", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
