package models

import "time"

// SuspiciousActivityRecord is an append-only audit row, retained seven days.
// The rolling per-IP count over these records drives auto-blocking.
type SuspiciousActivityRecord struct {
	IP        string    `db:"ip"`
	Phone     string    `db:"phone"`
	Reason    string    `db:"reason"`
	EventDate string    `db:"event_date"`
	EventTime time.Time `db:"event_time"`
}
