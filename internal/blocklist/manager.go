// Package blocklist maintains temporary per-IP blocks in the key-value store.
// Blocks expire by TTL; nothing on the request path ever removes one early.
package blocklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"verification-service/internal/models"
	"verification-service/internal/store"
	"verification-service/internal/util"

	"go.uber.org/zap"
)

const keyPrefix = "blocked_ip:"

type Manager struct {
	store store.Store
}

func NewManager(s store.Store) *Manager {
	return &Manager{store: s}
}

// BlockIP records a block for ip lasting duration. Re-blocking an already
// blocked IP extends the block to the new expiry.
func (m *Manager) BlockIP(ctx context.Context, ip, reason string, duration time.Duration) error {
	entry := models.BlockEntry{
		IP:        ip,
		Reason:    reason,
		ExpiresAt: time.Now().Add(duration).UTC(),
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal block entry: %w", err)
	}

	if err := m.store.Set(ctx, keyPrefix+ip, string(payload), duration); err != nil {
		return fmt.Errorf("failed to store block entry: %w", err)
	}

	util.Warn("IP blocked",
		zap.String("ip", ip),
		zap.String("reason", reason),
		zap.Duration("duration", duration),
	)
	return nil
}

// IsBlocked reports whether ip currently has an active block. Store errors
// propagate so callers can fail closed.
func (m *Manager) IsBlocked(ctx context.Context, ip string) (bool, error) {
	_, err := m.store.Get(ctx, keyPrefix+ip)
	if errors.Is(err, store.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check block for %s: %w", ip, err)
	}
	return true, nil
}

// Get returns the active block entry for ip, or store.ErrKeyNotFound.
func (m *Manager) Get(ctx context.Context, ip string) (*models.BlockEntry, error) {
	raw, err := m.store.Get(ctx, keyPrefix+ip)
	if err != nil {
		return nil, err
	}

	var entry models.BlockEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("corrupt block entry for %s: %w", ip, err)
	}
	return &entry, nil
}

// Unblock lifts a block early. Admin tooling only.
func (m *Manager) Unblock(ctx context.Context, ip string) error {
	if err := m.store.Del(ctx, keyPrefix+ip); err != nil {
		return fmt.Errorf("failed to unblock %s: %w", ip, err)
	}
	util.Info("IP unblocked", zap.String("ip", ip))
	return nil
}
