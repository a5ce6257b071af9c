package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"verification-service/internal/config"
)

type InfobipProvider struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
}

func NewInfobipProvider(cfg *config.Config) *InfobipProvider {
	return &InfobipProvider{
		apiKey:  cfg.SMS.Infobip.APIKey,
		from:    cfg.SMS.Infobip.From,
		baseURL: cfg.SMS.Infobip.BaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *InfobipProvider) Name() string { return "infobip" }

func (p *InfobipProvider) Configured() bool {
	return p.apiKey != "" && p.from != ""
}

type infobipSendRequest struct {
	Messages []infobipMessage `json:"messages"`
}

type infobipMessage struct {
	Destinations []infobipDestination `json:"destinations"`
	From         string               `json:"from"`
	Text         string               `json:"text"`
}

type infobipDestination struct {
	To string `json:"to"`
}

type infobipStatus struct {
	GroupID   int    `json:"groupId"`
	GroupName string `json:"groupName"`
	ID        int    `json:"id"`
	Name      string `json:"name"`
}

type infobipSendResponse struct {
	Messages []struct {
		MessageID string        `json:"messageId"`
		Status    infobipStatus `json:"status"`
	} `json:"messages"`
	RequestError *struct {
		ServiceException struct {
			MessageID string `json:"messageId"`
			Text      string `json:"text"`
		} `json:"serviceException"`
	} `json:"requestError"`
}

func (p *InfobipProvider) Send(ctx context.Context, msg Message) (SendResult, error) {
	payload := infobipSendRequest{
		Messages: []infobipMessage{{
			Destinations: []infobipDestination{{To: msg.To}},
			From:         p.from,
			Text:         msg.Body,
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, fmt.Errorf("infobip payload encode failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/sms/2/text/advanced", bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("infobip request build failed: %w", err)
	}
	req.Header.Set("Authorization", "App "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("infobip request failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded infobipSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return SendResult{}, fmt.Errorf("infobip response decode failed: %w", err)
	}

	if resp.StatusCode >= 400 || len(decoded.Messages) == 0 {
		detail := "send rejected"
		if decoded.RequestError != nil {
			detail = decoded.RequestError.ServiceException.Text
		}
		return SendResult{}, &ProviderError{
			Provider: p.Name(),
			Message:  detail,
			Status:   resp.StatusCode,
		}
	}

	first := decoded.Messages[0]
	if first.Status.GroupName == "REJECTED" {
		return SendResult{}, &ProviderError{
			Provider: p.Name(),
			Code:     first.Status.ID,
			Message:  first.Status.Name,
			Status:   resp.StatusCode,
		}
	}

	return SendResult{MessageID: first.MessageID, Provider: p.Name()}, nil
}

type infobipReportsResponse struct {
	Results []struct {
		MessageID string        `json:"messageId"`
		Status    infobipStatus `json:"status"`
	} `json:"results"`
}

func (p *InfobipProvider) CheckStatus(ctx context.Context, messageID string) (DeliveryState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/sms/1/reports?messageId="+messageID, nil)
	if err != nil {
		return StateUnknown, fmt.Errorf("infobip status request build failed: %w", err)
	}
	req.Header.Set("Authorization", "App "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return StateUnknown, fmt.Errorf("infobip status request failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded infobipReportsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return StateUnknown, fmt.Errorf("infobip status decode failed: %w", err)
	}
	if len(decoded.Results) == 0 {
		return StateUnknown, nil
	}

	switch decoded.Results[0].Status.GroupName {
	case "PENDING":
		return StateQueued, nil
	case "DELIVERED":
		return StateDelivered, nil
	case "REJECTED":
		return StateFiltered, nil
	case "UNDELIVERABLE", "EXPIRED":
		return StateFailed, nil
	default:
		return StateUnknown, nil
	}
}

func (p *InfobipProvider) Classify(err error) Classification {
	pe, ok := AsProviderError(err)
	if !ok || pe.Provider != p.Name() {
		return ClassUnknown
	}
	switch pe.Status {
	case http.StatusTooManyRequests:
		return ClassRateLimited
	}
	switch pe.Message {
	case "REJECTED_DESTINATION", "MISSING_TO", "INVALID_DESTINATION_ADDRESS":
		return ClassInvalidNumber
	case "REJECTED_NOT_ENOUGH_CREDITS", "REJECTED_DESTINATION_NOT_REGISTERED":
		return ClassFiltered
	default:
		return ClassUnknown
	}
}
