package scylla

import (
	"context"
	"fmt"
	"time"

	"verification-service/internal/models"
)

// ConsentRepository appends to the immutable SMS consent trail.
type ConsentRepository struct {
	client *ScyllaClient
}

func NewConsentRepository(client *ScyllaClient) *ConsentRepository {
	return &ConsentRepository{client: client}
}

func (r *ConsentRepository) Append(ctx context.Context, rec *models.ConsentRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := r.client.Prepared.AppendConsent.WithContext(ctx).Bind(
		rec.PhoneBucket, rec.PhoneHash, rec.CreatedAt, rec.PhoneEncrypted,
		rec.PhoneKeyID, rec.Action, rec.Source, rec.IPAddress)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to append consent record: %w", err)
	}
	return nil
}

// History returns all consent actions recorded for a phone hash, newest first.
func (r *ConsentRepository) History(ctx context.Context, phoneBucket int, phoneHash string) ([]models.ConsentRecord, error) {
	iter := r.client.Prepared.GetConsentHistory.WithContext(ctx).Bind(phoneBucket, phoneHash).Iter()

	var records []models.ConsentRecord
	var rec models.ConsentRecord
	for iter.Scan(&rec.PhoneBucket, &rec.PhoneHash, &rec.CreatedAt,
		&rec.PhoneEncrypted, &rec.PhoneKeyID, &rec.Action, &rec.Source,
		&rec.IPAddress) {
		records = append(records, rec)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to read consent history: %w", err)
	}
	return records, nil
}
