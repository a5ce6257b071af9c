package handler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const webhookURL = "http://example.com/webhooks/sms"

func (e *handlerEnv) postWebhook(t *testing.T, form url.Values, sign bool) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, webhookURL, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sign {
		req.Header.Set("X-Twilio-Signature", SignWebhookRequest(webhookToken, webhookURL, form))
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	env := newHandlerEnv()

	form := url.Values{"SmsStatus": {"delivered"}, "MessageSid": {"SM123"}}
	rec := env.postWebhook(t, form, false)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, env.auditor.records)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newHandlerEnv()

	form := url.Values{"SmsStatus": {"delivered"}, "MessageSid": {"SM123"}}
	req := httptest.NewRequest(http.MethodPost, webhookURL, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "bm90IGEgcmVhbCBzaWduYXR1cmU=")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookRecordsStatusUpdate(t *testing.T) {
	env := newHandlerEnv()

	form := url.Values{
		"SmsStatus":  {"undelivered"},
		"MessageSid": {"SM123"},
		"To":         {"+12125550187"},
		"ErrorCode":  {"30007"},
	}
	rec := env.postWebhook(t, form, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "<Response></Response>", rec.Body.String())
	require.Equal(t, "text/xml", rec.Header().Get("Content-Type"))

	require.Len(t, env.auditor.records, 1)
	entry := env.auditor.records[0]
	require.Equal(t, "undelivered", entry.Status)
	require.Equal(t, "SM123", entry.MessageID)
	require.Equal(t, "+12125550187", entry.Phone)
	require.Equal(t, "30007", entry.ErrorDetail)
	require.Equal(t, "status_update", entry.Type)
	require.Equal(t, "twilio", entry.Provider)
}

func TestWebhookFallsBackToSmsSid(t *testing.T) {
	env := newHandlerEnv()

	form := url.Values{
		"SmsStatus": {"delivered"},
		"SmsSid":    {"SM456"},
		"To":        {"+12125550187"},
	}
	rec := env.postWebhook(t, form, true)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, env.auditor.records, 1)
	require.Equal(t, "SM456", env.auditor.records[0].MessageID)
}

func TestWebhookStopKeyword(t *testing.T) {
	env := newHandlerEnv()

	form := url.Values{
		"From": {"+12125550187"},
		"Body": {"STOP"},
	}
	rec := env.postWebhook(t, form, true)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, env.consents.records, 1)
	entry := env.consents.records[0]
	require.Equal(t, "opt_out", entry.Action)
	require.Equal(t, "webhook", entry.Source)
}

func TestWebhookStartKeyword(t *testing.T) {
	env := newHandlerEnv()

	form := url.Values{
		"From": {"+12125550187"},
		"Body": {" yes "},
	}
	rec := env.postWebhook(t, form, true)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, env.consents.records, 1)
	require.Equal(t, "opt_in", env.consents.records[0].Action)
}

func TestWebhookIgnoresOtherBodies(t *testing.T) {
	env := newHandlerEnv()

	form := url.Values{
		"From": {"+12125550187"},
		"Body": {"what is this"},
	}
	rec := env.postWebhook(t, form, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, env.consents.records)
}

func TestSignWebhookRequestIsDeterministic(t *testing.T) {
	form := url.Values{
		"B": {"two"},
		"A": {"one"},
		"C": {"three"},
	}

	first := SignWebhookRequest("token", webhookURL, form)
	second := SignWebhookRequest("token", webhookURL, form)
	require.Equal(t, first, second)

	// Any change to token, URL or params yields a different signature.
	require.NotEqual(t, first, SignWebhookRequest("other", webhookURL, form))
	require.NotEqual(t, first, SignWebhookRequest("token", webhookURL+"?x=1", form))

	altered := url.Values{"B": {"two"}, "A": {"changed"}, "C": {"three"}}
	require.NotEqual(t, first, SignWebhookRequest("token", webhookURL, altered))
}
