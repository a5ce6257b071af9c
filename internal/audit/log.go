// Package audit writes the append-only delivery and suspicious-activity
// records to ClickHouse, with a best-effort Elasticsearch mirror of delivery
// rows for the admin search surface.
package audit

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verification-service/internal/client"
	"verification-service/internal/models"
	"verification-service/internal/util"
)

const (
	insertDeliveryQuery = `
        INSERT INTO sms_delivery_log
            (id, user_id, phone, type, provider, message_id, status,
             error_detail, event_date, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertSuspiciousQuery = `
        INSERT INTO suspicious_activity
            (ip, phone, reason, event_date, event_time)
        VALUES (?, ?, ?, ?, ?)`
)

// Log is the audit sink. The Elasticsearch mirror may be nil; delivery rows
// then live only in ClickHouse.
type Log struct {
	ch *client.ClickHouseClient
	es *client.ESClient
}

func NewLog(ch *client.ClickHouseClient, es *client.ESClient) *Log {
	return &Log{ch: ch, es: es}
}

// InsertDelivery appends one dispatch outcome. Status updates arriving later
// (carrier webhooks) append further rows for the same message id; readers take
// the newest row per message.
func (l *Log) InsertDelivery(ctx context.Context, rec models.DeliveryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.EventDate == "" {
		rec.EventDate = rec.CreatedAt.UTC().Format("2006-01-02")
	}

	err := l.ch.Exec(ctx, insertDeliveryQuery,
		rec.ID, rec.UserID, rec.Phone, rec.Type, rec.Provider, rec.MessageID,
		rec.Status, rec.ErrorDetail, rec.EventDate, rec.CreatedAt)
	if err != nil {
		return err
	}

	l.mirrorDelivery(rec)
	return nil
}

func (l *Log) mirrorDelivery(rec models.DeliveryRecord) {
	if l.es == nil {
		return
	}

	res, err := l.es.IndexDocument(l.es.DeliveryIndex(), rec.ID, rec)
	if err != nil {
		util.Warn("Failed to mirror delivery record to Elasticsearch",
			zap.String("id", rec.ID),
			zap.Error(err))
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		util.Warn("Elasticsearch rejected delivery record",
			zap.String("id", rec.ID),
			zap.String("response", res.String()))
	}
}

func (l *Log) InsertSuspiciousActivity(ctx context.Context, rec models.SuspiciousActivityRecord) error {
	return l.ch.Exec(ctx, insertSuspiciousQuery,
		rec.IP, rec.Phone, rec.Reason, rec.EventDate, rec.EventTime)
}
