// Package ratelimit evaluates the fixed set of verification rate limits.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"verification-service/internal/store"
	"verification-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Kind int

const (
	SlidingWindow Kind = iota
	TokenBucket
)

type Scope int

const (
	ScopeIP Scope = iota
	ScopePhone
)

// Rule is one named limit. SlidingWindow rules use Limit/Window; TokenBucket
// rules use Capacity/RefillEvery.
type Rule struct {
	Name        string
	Kind        Kind
	Scope       Scope
	Limit       int
	Window      time.Duration
	Capacity    int
	RefillEvery time.Duration
}

// Result is the outcome of one rule for one request.
type Result struct {
	Name      string    `json:"name"`
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// DefaultRules is the production limit set for code requests.
var DefaultRules = []Rule{
	{Name: "phone_verification", Kind: SlidingWindow, Scope: ScopeIP, Limit: 3, Window: time.Hour},
	{Name: "per_phone", Kind: SlidingWindow, Scope: ScopePhone, Limit: 2, Window: 24 * time.Hour},
	{Name: "global_ip", Kind: SlidingWindow, Scope: ScopeIP, Limit: 10, Window: time.Hour},
	{Name: "burst", Kind: TokenBucket, Scope: ScopeIP, Capacity: 3, RefillEvery: 10 * time.Second},
}

// Bank evaluates every rule for each request. All rules are consulted even
// after one denies, so each window records the attempt and the most
// restrictive answer wins.
type Bank struct {
	store store.Store
	rules []Rule
}

func NewBank(s store.Store, rules []Rule) *Bank {
	if rules == nil {
		rules = DefaultRules
	}
	return &Bank{store: s, rules: rules}
}

func (b *Bank) Rules() []Rule {
	return b.rules
}

// CheckAll runs every rule concurrently and returns one Result per rule in
// rule order. The boolean is true only when every rule allowed the request.
func (b *Bank) CheckAll(ctx context.Context, ip, phone string) (bool, []Result, error) {
	results := make([]Result, len(b.rules))

	g, gctx := errgroup.WithContext(ctx)
	for i, rule := range b.rules {
		g.Go(func() error {
			res, err := b.check(gctx, rule, ip, phone)
			if err != nil {
				return fmt.Errorf("limiter %s: %w", rule.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, nil, err
	}

	allowed := true
	for _, res := range results {
		if !res.Allowed {
			allowed = false
			util.Info("Rate limit exceeded",
				zap.String("limiter", res.Name),
				zap.String("ip", ip),
				zap.Time("reset_at", res.ResetAt),
			)
		}
	}
	return allowed, results, nil
}

func (b *Bank) check(ctx context.Context, rule Rule, ip, phone string) (Result, error) {
	key := b.key(rule, ip, phone)

	var (
		lr        store.LimitResult
		err       error
		remaining int
	)
	switch rule.Kind {
	case TokenBucket:
		lr, err = b.store.TokenBucket(ctx, key, rule.Capacity, rule.RefillEvery)
		remaining = lr.Count
	default:
		lr, err = b.store.SlidingWindow(ctx, key, rule.Limit, rule.Window)
		remaining = rule.Limit - lr.Count
	}
	if err != nil {
		return Result{}, err
	}
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Name:      rule.Name,
		Allowed:   lr.Allowed,
		Remaining: remaining,
		ResetAt:   lr.ResetAt,
	}, nil
}

func (b *Bank) key(rule Rule, ip, phone string) string {
	if rule.Scope == ScopePhone {
		return fmt.Sprintf("ratelimit:%s:phone:%s", rule.Name, phone)
	}
	return fmt.Sprintf("ratelimit:%s:ip:%s", rule.Name, ip)
}
