package models

import "time"

// VerificationCode is a single issued code. Only the most recently issued
// non-expired code for a phone is considered valid; the row is removed on
// successful verification (single use).
type VerificationCode struct {
	PhoneBucket   int       `db:"phone_bucket"`
	Phone         string    `db:"phone"`
	CodeID        string    `db:"code_id"`
	CodeHash      string    `db:"code_hash"`
	CodeSalt      string    `db:"code_salt"`
	PepperVersion int       `db:"pepper_version"`
	HashAlgorithm string    `db:"hash_algorithm"`
	ExpiresAt     time.Time `db:"expires_at"`
	Attempts      int       `db:"attempts"`
	IPAddress     string    `db:"ip_address"`
	IsTestPhone   bool      `db:"is_test_phone"`
	CreatedAt     time.Time `db:"created_at"`
}
