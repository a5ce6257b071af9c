package models

import "time"

// BlockEntry denies all requests from IP until ExpiresAt. Entries live in the
// key-space store and disappear by TTL; there is no unblock on the request
// path.
type BlockEntry struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
}
