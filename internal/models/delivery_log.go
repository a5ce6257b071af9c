package models

import "time"

// DeliveryRecord is the durable record of one SMS dispatch attempt; the
// admin-monitoring surface reads these rows.
type DeliveryRecord struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	Phone       string    `db:"phone" json:"phone"`
	Type        string    `db:"type" json:"type"`
	Provider    string    `db:"provider" json:"provider"`
	MessageID   string    `db:"message_id" json:"message_id"`
	Status      string    `db:"status" json:"status"` // sent, failed, test_mode
	ErrorDetail string    `db:"error_detail" json:"error_detail"`
	EventDate   string    `db:"event_date" json:"event_date"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
