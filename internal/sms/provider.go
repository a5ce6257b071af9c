// Package sms routes outbound messages across carrier providers and keeps the
// durable delivery audit trail.
package sms

import (
	"context"
	"errors"
	"fmt"
)

// Classification buckets provider failures without leaking provider error
// codes into the rest of the service. The set is closed; anything a provider
// cannot map lands in ClassUnknown.
type Classification int

const (
	ClassUnknown Classification = iota
	ClassFiltered
	ClassRateLimited
	ClassInvalidNumber
)

func (c Classification) String() string {
	switch c {
	case ClassFiltered:
		return "filtered"
	case ClassRateLimited:
		return "rate_limited"
	case ClassInvalidNumber:
		return "invalid_number"
	default:
		return "unknown"
	}
}

// DeliveryState is the provider-reported state of an accepted message.
type DeliveryState int

const (
	StateUnknown DeliveryState = iota
	StateQueued
	StateSent
	StateDelivered
	StateFiltered
	StateFailed
)

func (s DeliveryState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateSent:
		return "sent"
	case StateDelivered:
		return "delivered"
	case StateFiltered:
		return "filtered"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is one outbound SMS.
type Message struct {
	To     string
	Body   string
	Type   string // verification, notification
	UserID string
}

type SendResult struct {
	MessageID string
	Provider  string
}

// Provider is one carrier integration. Classify turns a Send error back into
// a Classification; providers own their magic error codes.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (SendResult, error)
	CheckStatus(ctx context.Context, messageID string) (DeliveryState, error)
	Classify(err error) Classification
}

// ProviderError carries the provider's own error code for classification.
type ProviderError struct {
	Provider string
	Code     int
	Message  string
	Status   int // HTTP status of the API response
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.Code, e.Message)
}

// AsProviderError unwraps err to a ProviderError when possible.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
