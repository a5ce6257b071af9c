package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/config"
	"verification-service/internal/models"
	"verification-service/internal/util"
)

var (
	ErrAllProvidersFailed = errors.New("all sms providers failed")
	ErrMessageFiltered    = errors.New("message filtered by carrier")
)

// AuditSink receives the durable record of every dispatch outcome.
type AuditSink interface {
	InsertDelivery(ctx context.Context, rec models.DeliveryRecord) error
}

// AlertPublisher feeds the alerting pipeline when delivery degrades.
type AlertPublisher interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

type Outcome struct {
	Provider  string `json:"provider"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"` // sent, failed, test_mode
}

// Router tries providers in order, advancing on error. After an accepted send
// it polls delivery status once; a carrier-filtered message is retried once
// with the sanitized fallback body before the failure is surfaced.
type Router struct {
	providers []Provider
	cfg       *config.Config
	audit     AuditSink
	alerts    AlertPublisher
	pollDelay time.Duration
}

// NewRouter takes the ordered provider list. audit and alerts may be nil.
func NewRouter(cfg *config.Config, providers []Provider, audit AuditSink, alerts AlertPublisher) *Router {
	return &Router{
		providers: providers,
		cfg:       cfg,
		audit:     audit,
		alerts:    alerts,
		pollDelay: cfg.SMS.StatusPollDelay,
	}
}

// SetPollDelay overrides the status-poll wait. Tests set it to zero.
func (r *Router) SetPollDelay(d time.Duration) {
	r.pollDelay = d
}

func (r *Router) Providers() []Provider {
	return r.providers
}

func (r *Router) Send(ctx context.Context, msg Message) (Outcome, error) {
	if r.cfg.SMS.TestMode || r.cfg.IsTestPhone(msg.To) {
		outcome := Outcome{Status: "test_mode"}
		r.record(ctx, msg, "", "", "test_mode", "")
		util.Info("SMS suppressed in test mode", zap.String("phone", util.MaskPhone(msg.To)))
		return outcome, nil
	}

	if len(r.providers) == 0 {
		return Outcome{Status: "failed"}, ErrAllProvidersFailed
	}

	var lastErr error
	for _, p := range r.providers {
		outcome, err := r.sendVia(ctx, p, msg)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		util.Warn("Provider send failed, advancing",
			zap.String("provider", p.Name()),
			zap.String("classification", p.Classify(err).String()),
			zap.Error(err),
		)
	}

	r.alert(ctx, msg, lastErr)
	return Outcome{Status: "failed"}, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

func (r *Router) sendVia(ctx context.Context, p Provider, msg Message) (Outcome, error) {
	res, err := p.Send(ctx, msg)
	if err != nil {
		detail := p.Classify(err).String() + ": " + err.Error()
		r.record(ctx, msg, p.Name(), "", "failed", detail)
		return Outcome{}, err
	}

	if r.pollOnce(ctx, p, res.MessageID) == StateFiltered {
		return r.retryWithSafeBody(ctx, p, msg, res)
	}

	r.record(ctx, msg, p.Name(), res.MessageID, "sent", "")
	return Outcome{Provider: p.Name(), MessageID: res.MessageID, Status: "sent"}, nil
}

// retryWithSafeBody swaps the message body for the static fallback: no
// user-controlled content, just a pointer at the status page. Carriers that
// filter the fallback too get an alert raised.
func (r *Router) retryWithSafeBody(ctx context.Context, p Provider, msg Message, first SendResult) (Outcome, error) {
	util.Warn("Message filtered by carrier, retrying with fallback body",
		zap.String("provider", p.Name()),
		zap.String("message_id", first.MessageID),
	)
	r.record(ctx, msg, p.Name(), first.MessageID, "failed", "filtered")

	safe := msg
	safe.Body = "You have a new notification. View it at " + r.cfg.SMS.SafeStatusURL

	res, err := p.Send(ctx, safe)
	if err != nil {
		detail := p.Classify(err).String() + ": " + err.Error()
		r.record(ctx, safe, p.Name(), "", "failed", detail)
		return Outcome{}, err
	}

	if r.pollOnce(ctx, p, res.MessageID) == StateFiltered {
		r.record(ctx, safe, p.Name(), res.MessageID, "failed", "filtered_after_fallback")
		r.alert(ctx, msg, ErrMessageFiltered)
		util.Error("Fallback body filtered as well",
			zap.String("provider", p.Name()),
			zap.String("phone", util.MaskPhone(msg.To)),
		)
		return Outcome{}, ErrMessageFiltered
	}

	r.record(ctx, safe, p.Name(), res.MessageID, "sent", "fallback_body")
	return Outcome{Provider: p.Name(), MessageID: res.MessageID, Status: "sent"}, nil
}

func (r *Router) pollOnce(ctx context.Context, p Provider, messageID string) DeliveryState {
	if messageID == "" {
		return StateUnknown
	}

	if r.pollDelay > 0 {
		select {
		case <-ctx.Done():
			return StateUnknown
		case <-time.After(r.pollDelay):
		}
	}

	state, err := p.CheckStatus(ctx, messageID)
	if err != nil {
		util.Warn("Delivery status check failed",
			zap.String("provider", p.Name()),
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		return StateUnknown
	}
	return state
}

func (r *Router) record(ctx context.Context, msg Message, provider, messageID, status, detail string) {
	if r.audit == nil {
		return
	}

	rec := models.DeliveryRecord{
		UserID:      msg.UserID,
		Phone:       msg.To,
		Type:        msg.Type,
		Provider:    provider,
		MessageID:   messageID,
		Status:      status,
		ErrorDetail: detail,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.audit.InsertDelivery(ctx, rec); err != nil {
		util.Error("Failed to audit delivery outcome",
			zap.String("status", status),
			zap.Error(err),
		)
	}
}

type deliveryAlert struct {
	Phone     string    `json:"phone"`
	Type      string    `json:"type"`
	Error     string    `json:"error"`
	EventTime time.Time `json:"event_time"`
}

func (r *Router) alert(ctx context.Context, msg Message, cause error) {
	detail := "unknown"
	if cause != nil {
		detail = cause.Error()
	}
	util.Error("SMS delivery alert",
		zap.String("phone", util.MaskPhone(msg.To)),
		zap.String("cause", detail),
	)

	if r.alerts == nil {
		return
	}

	payload, err := json.Marshal(deliveryAlert{
		Phone:     util.MaskPhone(msg.To),
		Type:      msg.Type,
		Error:     detail,
		EventTime: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := r.alerts.Produce(ctx, r.cfg.Kafka.AlertsTopic, []byte(msg.To), payload); err != nil {
		util.Warn("Failed to publish delivery alert", zap.Error(err))
	}
}
