package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"verification-service/internal/config"
)

// Carrier filtering and compliance codes Twilio reports.
const (
	twilioCodeFilteredCarrier = 30007
	twilioCodeFilteredContent = 30008
	twilioCodeOptedOut        = 21610
	twilioCodeInvalidNumber   = 21211
	twilioCodeRateLimited     = 20429
)

type TwilioProvider struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	client     *http.Client
}

func NewTwilioProvider(cfg *config.Config) *TwilioProvider {
	return &TwilioProvider{
		accountSID: cfg.SMS.Twilio.AccountSID,
		authToken:  cfg.SMS.Twilio.AuthToken,
		from:       cfg.SMS.Twilio.From,
		baseURL:    cfg.SMS.Twilio.BaseURL,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *TwilioProvider) Name() string { return "twilio" }

// Configured reports whether credentials are present.
func (p *TwilioProvider) Configured() bool {
	return p.accountSID != "" && p.authToken != "" && p.from != ""
}

type twilioMessageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Code         int    `json:"code"`    // error payload shape
	Message      string `json:"message"` // error payload shape
}

func (p *TwilioProvider) Send(ctx context.Context, msg Message) (SendResult, error) {
	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", p.from)
	form.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.baseURL, p.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return SendResult{}, fmt.Errorf("twilio request build failed: %w", err)
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	var body twilioMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return SendResult{}, fmt.Errorf("twilio response decode failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		return SendResult{}, &ProviderError{
			Provider: p.Name(),
			Code:     body.Code,
			Message:  body.Message,
			Status:   resp.StatusCode,
		}
	}
	if body.ErrorCode != nil {
		return SendResult{}, &ProviderError{
			Provider: p.Name(),
			Code:     *body.ErrorCode,
			Message:  body.ErrorMessage,
			Status:   resp.StatusCode,
		}
	}

	return SendResult{MessageID: body.SID, Provider: p.Name()}, nil
}

func (p *TwilioProvider) CheckStatus(ctx context.Context, messageID string) (DeliveryState, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages/%s.json",
		p.baseURL, p.accountSID, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return StateUnknown, fmt.Errorf("twilio status request build failed: %w", err)
	}
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return StateUnknown, fmt.Errorf("twilio status request failed: %w", err)
	}
	defer resp.Body.Close()

	var body twilioMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return StateUnknown, fmt.Errorf("twilio status decode failed: %w", err)
	}

	if body.ErrorCode != nil {
		switch *body.ErrorCode {
		case twilioCodeFilteredCarrier, twilioCodeFilteredContent:
			return StateFiltered, nil
		}
	}

	switch body.Status {
	case "queued", "accepted", "sending":
		return StateQueued, nil
	case "sent":
		return StateSent, nil
	case "delivered":
		return StateDelivered, nil
	case "undelivered":
		if body.ErrorCode != nil {
			switch *body.ErrorCode {
			case twilioCodeFilteredCarrier, twilioCodeFilteredContent:
				return StateFiltered, nil
			}
		}
		return StateFailed, nil
	case "failed":
		return StateFailed, nil
	default:
		return StateUnknown, nil
	}
}

func (p *TwilioProvider) Classify(err error) Classification {
	pe, ok := AsProviderError(err)
	if !ok {
		return ClassUnknown
	}
	switch pe.Code {
	case twilioCodeFilteredCarrier, twilioCodeFilteredContent:
		return ClassFiltered
	case twilioCodeOptedOut, twilioCodeInvalidNumber:
		return ClassInvalidNumber
	case twilioCodeRateLimited:
		return ClassRateLimited
	default:
		return ClassUnknown
	}
}
