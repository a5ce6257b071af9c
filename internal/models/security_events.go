package models

import "time"

// SecurityEvent is the wire shape published to the security-events topic.
type SecurityEvent struct {
	EventType string    `json:"event_type"`
	IPAddress string    `json:"ip_address"`
	Phone     string    `json:"phone,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	EventTime time.Time `json:"event_time"`
}
