package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"verification-service/internal/models"
	"verification-service/internal/util"
)

var ErrCodeNotFound = errors.New("no active verification code")

// CodeRepository persists verification codes. Rows cluster by created_at DESC
// inside the (phone_bucket, phone) partition, so the newest code is always the
// first row.
type CodeRepository struct {
	client *ScyllaClient
}

func NewCodeRepository(client *ScyllaClient) *CodeRepository {
	return &CodeRepository{client: client}
}

func (r *CodeRepository) CreateCode(ctx context.Context, code *models.VerificationCode) error {
	if code.CodeID == "" {
		code.CodeID = uuid.New().String()
	}

	now := time.Now().UTC()
	code.CreatedAt = now
	if code.ExpiresAt.IsZero() {
		code.ExpiresAt = now.Add(10 * time.Minute)
	}

	query := r.client.Prepared.CreateCode.WithContext(ctx).Bind(
		code.PhoneBucket, code.Phone, code.CreatedAt, code.CodeID,
		code.CodeHash, code.CodeSalt, code.PepperVersion, code.HashAlgorithm,
		code.ExpiresAt, code.Attempts, code.IPAddress, code.IsTestPhone)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to persist verification code",
			zap.String("phone", util.MaskPhone(code.Phone)),
			zap.String("code_id", code.CodeID),
			zap.Error(err))
		return fmt.Errorf("failed to persist verification code: %w", err)
	}

	return nil
}

// GetLatestCode returns the newest non-expired code for the phone.
func (r *CodeRepository) GetLatestCode(ctx context.Context, phoneBucket int, phone string) (*models.VerificationCode, error) {
	code := &models.VerificationCode{}

	query := r.client.Prepared.GetLatestCode.WithContext(ctx).Bind(phoneBucket, phone)

	err := r.client.ScanWithRetry(query,
		&code.PhoneBucket, &code.Phone, &code.CreatedAt, &code.CodeID,
		&code.CodeHash, &code.CodeSalt, &code.PepperVersion, &code.HashAlgorithm,
		&code.ExpiresAt, &code.Attempts, &code.IPAddress, &code.IsTestPhone)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to load verification code: %w", err)
	}

	if time.Now().UTC().After(code.ExpiresAt) {
		return nil, ErrCodeNotFound
	}

	return code, nil
}

func (r *CodeRepository) IncrementAttempts(ctx context.Context, code *models.VerificationCode) error {
	query := r.client.Prepared.IncrementAttempts.WithContext(ctx).Bind(
		code.Attempts+1, code.PhoneBucket, code.Phone, code.CreatedAt)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}
	code.Attempts++
	return nil
}

// DeleteCodesForPhone removes every code in the phone's partition. Called on
// successful verification so codes are single use.
func (r *CodeRepository) DeleteCodesForPhone(ctx context.Context, phoneBucket int, phone string) error {
	query := r.client.Prepared.DeleteCodesForPhone.WithContext(ctx).Bind(phoneBucket, phone)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to delete verification codes",
			zap.String("phone", util.MaskPhone(phone)),
			zap.Error(err))
		return fmt.Errorf("failed to delete verification codes: %w", err)
	}
	return nil
}
