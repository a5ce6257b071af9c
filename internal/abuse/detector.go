// Package abuse holds the signal detectors that feed the verification gate:
// IP reputation, fake phone patterns, rapid repeats and the per-IP daily
// suspicious-activity counter.
package abuse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"verification-service/internal/models"
	"verification-service/internal/store"
	"verification-service/internal/util"

	"go.uber.org/zap"
)

const (
	ReasonVPNOrProxy  = "vpn_or_proxy"
	ReasonFakePhone   = "fake_phone_pattern"
	ReasonRapidRepeat = "rapid_repeat"

	flaggedPhonePrefix = "flagged_phone:"
	dailyCounterPrefix = "suspicious_daily:"

	// More than this many signals from one IP in a day triggers an auto-block.
	dailyBlockThreshold = 5
	autoBlockDuration   = 7 * 24 * time.Hour
)

// Blocker is the slice of the blocklist the detector needs.
type Blocker interface {
	BlockIP(ctx context.Context, ip, reason string, duration time.Duration) error
}

// ActivityLog receives the durable audit copy of each signal.
type ActivityLog interface {
	InsertSuspiciousActivity(ctx context.Context, rec models.SuspiciousActivityRecord) error
}

// EventPublisher publishes security events to the stream consumed by the
// alerting pipeline.
type EventPublisher interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

type Detector struct {
	store      store.Store
	reputation IPReputation
	blocker    Blocker
	activity   ActivityLog
	events     EventPublisher
	recent     *RecentAttempts
	topic      string
}

// NewDetector wires the detector. activity and events may be nil when the
// audit store or broker is unavailable; signals are then log-only.
func NewDetector(s store.Store, rep IPReputation, blocker Blocker, activity ActivityLog, events EventPublisher, recent *RecentAttempts, topic string) *Detector {
	if rep == nil {
		rep = PrivateRangeReputation{}
	}
	if recent == nil {
		recent = NewRecentAttempts()
	}
	return &Detector{
		store:      s,
		reputation: rep,
		blocker:    blocker,
		activity:   activity,
		events:     events,
		recent:     recent,
		topic:      topic,
	}
}

func (d *Detector) IsVPNOrProxy(ctx context.Context, ip string) (bool, error) {
	return d.reputation.IsVPNOrProxy(ctx, ip)
}

// IsSuspiciousPhone flags throwaway numbers: repeated or sequential digit
// runs, an all-zero subscriber, or a phone explicitly flagged in the store.
func (d *Detector) IsSuspiciousPhone(ctx context.Context, e164 string) (bool, error) {
	if matchesFakePattern(e164) {
		return true, nil
	}

	flagged, err := d.store.Exists(ctx, flaggedPhonePrefix+e164)
	if err != nil {
		return false, fmt.Errorf("flagged phone lookup: %w", err)
	}
	return flagged, nil
}

// FlagPhone marks a phone as known-abusive for ttl.
func (d *Detector) FlagPhone(ctx context.Context, e164 string, ttl time.Duration) error {
	return d.store.Set(ctx, flaggedPhonePrefix+e164, "1", ttl)
}

// IsRapidRepeat records the attempt and reports whether the same phone was
// tried within the repeat threshold.
func (d *Detector) IsRapidRepeat(phone string) bool {
	return d.recent.TooSoon(phone)
}

// LogSuspiciousActivity records one signal everywhere it needs to go: the
// audit table, the security-event stream and the per-IP daily counter.
// Crossing the daily threshold blocks the IP for a week.
func (d *Detector) LogSuspiciousActivity(ctx context.Context, ip, phone, reason string) {
	now := time.Now().UTC()

	if d.activity != nil {
		rec := models.SuspiciousActivityRecord{
			IP:        ip,
			Phone:     phone,
			Reason:    reason,
			EventDate: now.Format("2006-01-02"),
			EventTime: now,
		}
		if err := d.activity.InsertSuspiciousActivity(ctx, rec); err != nil {
			util.Error("Failed to record suspicious activity",
				zap.String("ip", ip),
				zap.String("reason", reason),
				zap.Error(err),
			)
		}
	}

	if d.events != nil {
		event := models.SecurityEvent{
			EventType: "suspicious_activity",
			IPAddress: ip,
			Phone:     phone,
			Reason:    reason,
			EventTime: now,
		}
		if payload, err := json.Marshal(event); err == nil {
			if err := d.events.Produce(ctx, d.topic, []byte(ip), payload); err != nil {
				util.Warn("Failed to publish security event", zap.Error(err))
			}
		}
	}

	counterKey := dailyCounterPrefix + ip + ":" + now.Format("2006-01-02")
	count, err := d.store.IncrWithExpire(ctx, counterKey, 24*time.Hour)
	if err != nil {
		util.Error("Failed to bump suspicious counter", zap.String("ip", ip), zap.Error(err))
		return
	}

	if count > dailyBlockThreshold && d.blocker != nil {
		if err := d.blocker.BlockIP(ctx, ip, "repeated_suspicious_activity", autoBlockDuration); err != nil {
			util.Error("Failed to auto-block IP", zap.String("ip", ip), zap.Error(err))
		}
	}
}

// matchesFakePattern inspects the trailing ten digits of an E.164 number.
func matchesFakePattern(e164 string) bool {
	digits := strings.TrimPrefix(e164, "+")
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	if len(digits) < 7 {
		return false
	}

	allSame := true
	ascending := true
	descending := true
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			allSame = false
		}
		if digits[i] != next(digits[i-1]) {
			ascending = false
		}
		if digits[i] != prev(digits[i-1]) {
			descending = false
		}
	}
	if allSame || ascending || descending {
		return true
	}

	// All-zero subscriber number, e.g. +12125550000000 style test fillers.
	subscriber := digits[len(digits)-7:]
	return strings.Count(subscriber, "0") == len(subscriber)
}

func next(b byte) byte {
	if b == '9' {
		return '0'
	}
	return b + 1
}

func prev(b byte) byte {
	if b == '0' {
		return '9'
	}
	return b - 1
}
