// Package verification implements the phone verification gate: every code
// request passes the blocklist, the rate-limiter bank and the abuse detectors
// before a code is issued and dispatched.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/abuse"
	"verification-service/internal/blocklist"
	"verification-service/internal/bucketing"
	"verification-service/internal/config"
	"verification-service/internal/encryption"
	"verification-service/internal/hashing"
	"verification-service/internal/models"
	"verification-service/internal/phone"
	"verification-service/internal/ratelimit"
	"verification-service/internal/repository/scylla"
	"verification-service/internal/sms"
	"verification-service/internal/store"
	"verification-service/internal/util"
)

const (
	codeCachePrefix = "verification_code:"
	testPhoneCode   = "123456"
	vpnBlockTTL     = 24 * time.Hour
	fakeBlockTTL    = 24 * time.Hour
)

// CodeStore is the durable store of issued codes.
type CodeStore interface {
	CreateCode(ctx context.Context, code *models.VerificationCode) error
	GetLatestCode(ctx context.Context, phoneBucket int, phone string) (*models.VerificationCode, error)
	IncrementAttempts(ctx context.Context, code *models.VerificationCode) error
	DeleteCodesForPhone(ctx context.Context, phoneBucket int, phone string) error
}

// ConsentStore appends to the consent trail.
type ConsentStore interface {
	Append(ctx context.Context, rec *models.ConsentRecord) error
}

// Sender dispatches the SMS carrying the code.
type Sender interface {
	Send(ctx context.Context, msg sms.Message) (sms.Outcome, error)
}

// CaptchaVerifier validates challenge tokens when a secret is configured.
type CaptchaVerifier interface {
	Enabled() bool
	Verify(ctx context.Context, token, remoteIP string) error
}

type Gate struct {
	cfg       *config.Config
	store     store.Store
	bank      *ratelimit.Bank
	blocklist *blocklist.Manager
	detector  *abuse.Detector
	captcha   CaptchaVerifier
	hasher    *hashing.Hasher
	bucketing *bucketing.BucketingManager
	codes     CodeStore
	consents  ConsentStore
	crypto    *encryption.EncryptionManager
	sender    Sender
}

func NewGate(
	cfg *config.Config,
	s store.Store,
	bank *ratelimit.Bank,
	bl *blocklist.Manager,
	detector *abuse.Detector,
	captcha CaptchaVerifier,
	hasher *hashing.Hasher,
	bm *bucketing.BucketingManager,
	codes CodeStore,
	consents ConsentStore,
	crypto *encryption.EncryptionManager,
	sender Sender,
) *Gate {
	return &Gate{
		cfg:       cfg,
		store:     s,
		bank:      bank,
		blocklist: bl,
		detector:  detector,
		captcha:   captcha,
		hasher:    hasher,
		bucketing: bm,
		codes:     codes,
		consents:  consents,
		crypto:    crypto,
		sender:    sender,
	}
}

type RequestCodeInput struct {
	Phone        string
	CaptchaToken string
	IP           string
	UserID       string
}

type RequestCodeResult struct {
	Phone    string
	TestMode bool
}

// cachedCode is the Redis copy of an issued code.
type cachedCode struct {
	CodeID        string    `json:"code_id"`
	Hash          string    `json:"hash"`
	Salt          string    `json:"salt"`
	PepperVersion int       `json:"pepper_version"`
	Algorithm     string    `json:"algorithm"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// RequestCode runs the full gate in order and, when every check passes,
// issues a code, stores it hashed and dispatches the SMS.
func (g *Gate) RequestCode(ctx context.Context, in RequestCodeInput) (RequestCodeResult, error) {
	e164, err := phone.Normalize(in.Phone)
	if err != nil {
		return RequestCodeResult{}, fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}

	blocked, err := g.blocklist.IsBlocked(ctx, in.IP)
	if err != nil {
		return RequestCodeResult{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if blocked {
		return RequestCodeResult{}, ErrBlocked
	}

	vpn, err := g.detector.IsVPNOrProxy(ctx, in.IP)
	if err != nil {
		util.Warn("IP reputation lookup failed", zap.String("ip", in.IP), zap.Error(err))
	}
	if vpn {
		g.detector.LogSuspiciousActivity(ctx, in.IP, e164, abuse.ReasonVPNOrProxy)
		if err := g.blocklist.BlockIP(ctx, in.IP, abuse.ReasonVPNOrProxy, vpnBlockTTL); err != nil {
			util.Error("Failed to block VPN IP", zap.Error(err))
		}
		return RequestCodeResult{}, ErrBlocked
	}

	if !g.limitsBypassed() {
		allowed, _, err := g.bank.CheckAll(ctx, in.IP, e164)
		if err != nil {
			return RequestCodeResult{}, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		if !allowed {
			return RequestCodeResult{}, ErrRateLimited
		}
	}

	fake, err := g.detector.IsSuspiciousPhone(ctx, e164)
	if err != nil {
		return RequestCodeResult{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if fake {
		g.detector.LogSuspiciousActivity(ctx, in.IP, e164, abuse.ReasonFakePhone)
		if err := g.blocklist.BlockIP(ctx, in.IP, abuse.ReasonFakePhone, fakeBlockTTL); err != nil {
			util.Error("Failed to block IP for fake phone", zap.Error(err))
		}
		return RequestCodeResult{}, ErrSuspiciousPhone
	}

	// Skipped alongside the limiter bank: test runs re-request the same
	// phone immediately.
	if !g.limitsBypassed() && g.detector.IsRapidRepeat(e164) {
		g.detector.LogSuspiciousActivity(ctx, in.IP, e164, abuse.ReasonRapidRepeat)
		return RequestCodeResult{}, ErrRateLimited
	}

	if in.CaptchaToken != "" && g.captcha != nil && g.captcha.Enabled() {
		if err := g.captcha.Verify(ctx, in.CaptchaToken, in.IP); err != nil {
			return RequestCodeResult{}, fmt.Errorf("%w: %v", ErrCaptchaFailed, err)
		}
	}

	code, err := g.issueCode(e164)
	if err != nil {
		return RequestCodeResult{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if err := g.persistCode(ctx, e164, code, in.IP); err != nil {
		return RequestCodeResult{}, err
	}

	g.recordConsentBestEffort(ctx, e164, in.IP, "opt_in", "verification")

	outcome, err := g.sender.Send(ctx, sms.Message{
		To:     e164,
		Body:   "Your verification code is " + code,
		Type:   "verification",
		UserID: in.UserID,
	})
	if err != nil {
		return RequestCodeResult{}, fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	util.Info("Verification code issued",
		zap.String("phone", util.MaskPhone(e164)),
		zap.String("status", outcome.Status),
	)
	return RequestCodeResult{Phone: e164, TestMode: outcome.Status == "test_mode"}, nil
}

// VerifyCode checks a submitted code against the newest stored hash. A match
// consumes every code for the phone; anything else yields the same generic
// denial.
func (g *Gate) VerifyCode(ctx context.Context, rawPhone, code, ip string) error {
	e164, err := phone.Normalize(rawPhone)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}

	cached, err := g.loadCode(ctx, e164)
	if err != nil {
		return err
	}

	match, err := g.hasher.VerifyCode(code, &hashing.HashResult{
		Hash:          cached.Hash,
		Salt:          cached.Salt,
		PepperVersion: cached.PepperVersion,
		Algorithm:     cached.Algorithm,
	})
	if err != nil {
		util.Warn("Code hash verification errored",
			zap.String("phone", util.MaskPhone(e164)),
			zap.Error(err))
		return ErrCodeMismatch
	}

	bucket := g.bucketing.GetPhoneBucket(e164)
	if !match {
		g.bumpAttempts(ctx, bucket, e164)
		return ErrCodeMismatch
	}

	if err := g.store.Del(ctx, codeCachePrefix+e164); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if g.codes != nil {
		if err := g.codes.DeleteCodesForPhone(ctx, bucket, e164); err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}

	util.Info("Phone verified", zap.String("phone", util.MaskPhone(e164)))
	return nil
}

// RecordConsent appends one consent action with the phone encrypted at rest.
func (g *Gate) RecordConsent(ctx context.Context, e164, action, source, ip string) error {
	if g.consents == nil {
		return nil
	}

	rec := &models.ConsentRecord{
		PhoneBucket: g.bucketing.GetPhoneBucket(e164),
		PhoneHash:   hashPhone(e164),
		Action:      action,
		Source:      source,
		IPAddress:   ip,
		CreatedAt:   time.Now().UTC(),
	}

	if g.crypto != nil {
		enc, err := g.crypto.EncryptField(ctx, e164)
		if err != nil {
			return fmt.Errorf("consent encryption failed: %w", err)
		}
		rec.PhoneEncrypted = []byte(enc.EncryptedValue + "." + enc.EncryptedDEK)
		rec.PhoneKeyID = enc.KeyID
	}

	return g.consents.Append(ctx, rec)
}

func (g *Gate) recordConsentBestEffort(ctx context.Context, e164, ip, action, source string) {
	if err := g.RecordConsent(ctx, e164, action, source, ip); err != nil {
		util.Error("Failed to record consent",
			zap.String("phone", util.MaskPhone(e164)),
			zap.Error(err))
	}
}

func (g *Gate) limitsBypassed() bool {
	return g.cfg.Verification.BypassLimits || g.cfg.SMS.TestMode
}

// issueCode returns the fixed code for test phones and mock mode, otherwise a
// CSPRNG six-digit code.
func (g *Gate) issueCode(e164 string) (string, error) {
	if g.cfg.SMS.TestMode || g.cfg.IsTestPhone(e164) {
		return testPhoneCode, nil
	}

	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("code generation failed: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// persistCode writes the hashed code through to Redis and Scylla. A durable
// store failure fails the request unless the phone is a designated test phone.
func (g *Gate) persistCode(ctx context.Context, e164, code, ip string) error {
	hashed, err := g.hasher.HashCode(code)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	now := time.Now().UTC()
	vc := &models.VerificationCode{
		PhoneBucket:   g.bucketing.GetPhoneBucket(e164),
		Phone:         e164,
		CodeHash:      hashed.Hash,
		CodeSalt:      hashed.Salt,
		PepperVersion: hashed.PepperVersion,
		HashAlgorithm: hashed.Algorithm,
		ExpiresAt:     now.Add(g.cfg.Verification.CodeTTL),
		IPAddress:     ip,
		IsTestPhone:   g.cfg.IsTestPhone(e164),
	}

	if g.codes != nil {
		if err := g.codes.CreateCode(ctx, vc); err != nil {
			if !vc.IsTestPhone {
				return fmt.Errorf("%w: %v", ErrStorage, err)
			}
			util.Warn("Durable code write failed for test phone, continuing",
				zap.Error(err))
		}
	}

	payload, err := json.Marshal(cachedCode{
		CodeID:        vc.CodeID,
		Hash:          hashed.Hash,
		Salt:          hashed.Salt,
		PepperVersion: hashed.PepperVersion,
		Algorithm:     hashed.Algorithm,
		ExpiresAt:     vc.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := g.store.Set(ctx, codeCachePrefix+e164, string(payload), g.cfg.Verification.CodeTTL); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// loadCode prefers the Redis copy and falls back to the durable store.
func (g *Gate) loadCode(ctx context.Context, e164 string) (*cachedCode, error) {
	raw, err := g.store.Get(ctx, codeCachePrefix+e164)
	if err == nil {
		var cached cachedCode
		if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
			if time.Now().UTC().Before(cached.ExpiresAt) {
				return &cached, nil
			}
			return nil, ErrCodeMismatch
		}
	} else if !errors.Is(err, store.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if g.codes == nil {
		return nil, ErrCodeMismatch
	}

	vc, err := g.codes.GetLatestCode(ctx, g.bucketing.GetPhoneBucket(e164), e164)
	if err != nil {
		if errors.Is(err, scylla.ErrCodeNotFound) {
			return nil, ErrCodeMismatch
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return &cachedCode{
		CodeID:        vc.CodeID,
		Hash:          vc.CodeHash,
		Salt:          vc.CodeSalt,
		PepperVersion: vc.PepperVersion,
		Algorithm:     vc.HashAlgorithm,
		ExpiresAt:     vc.ExpiresAt,
	}, nil
}

func (g *Gate) bumpAttempts(ctx context.Context, bucket int, e164 string) {
	if g.codes == nil {
		return
	}
	vc, err := g.codes.GetLatestCode(ctx, bucket, e164)
	if err != nil {
		return
	}
	if err := g.codes.IncrementAttempts(ctx, vc); err != nil {
		util.Warn("Failed to increment code attempts", zap.Error(err))
	}
}

func hashPhone(e164 string) string {
	sum := sha256.Sum256([]byte(e164))
	return hex.EncodeToString(sum[:])
}
