package models

import "time"

// ConsentRecord is the append-only SMS opt-in/opt-out trail per phone. The
// phone number is stored envelope-encrypted; PhoneHash is the lookup key.
type ConsentRecord struct {
	PhoneBucket    int       `db:"phone_bucket"`
	PhoneHash      string    `db:"phone_hash"`
	PhoneEncrypted []byte    `db:"phone_encrypted"`
	PhoneKeyID     string    `db:"phone_key_id"`
	Action         string    `db:"action"` // opt_in, opt_out, help
	Source         string    `db:"source"` // verification, webhook
	IPAddress      string    `db:"ip_address"`
	CreatedAt      time.Time `db:"created_at"`
}
