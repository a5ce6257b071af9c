package verification

import "errors"

// Error taxonomy for the gate. Handlers map these onto HTTP statuses; only
// validation errors carry detail the caller may see, policy denials stay
// generic so callers cannot probe which rule fired.
var (
	// Validation (400, safe detail).
	ErrInvalidPhone = errors.New("invalid phone number format")

	// Policy denials (generic messages).
	ErrSuspiciousPhone = errors.New("invalid phone number")                     // 400
	ErrBlocked         = errors.New("request not permitted")                    // 403
	ErrRateLimited     = errors.New("too many verification attempts")           // 429
	ErrCaptchaFailed   = errors.New("captcha verification failed")              // 400
	ErrCodeMismatch    = errors.New("invalid or expired verification code")     // 400

	// Infrastructure (500).
	ErrStorage  = errors.New("verification storage unavailable")
	ErrDelivery = errors.New("could not send verification code")
)
