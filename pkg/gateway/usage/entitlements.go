package usage

import (
	"context"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/client"
)

// Entitlements answers whether a user has unlimited talk time.
type Entitlements interface {
	IsPremium(ctx context.Context, userID string) (bool, error)
}

// SubscriptionSource resolves a user to their Stripe subscription.
// Store satisfies this.
type SubscriptionSource interface {
	SubscriptionID(ctx context.Context, userID string) (string, error)
}

// StripeEntitlements derives premium status from the user's Stripe
// subscription. A lapsed subscription keeps premium through a grace
// period so a failed card charge doesn't cut a call short.
type StripeEntitlements struct {
	sc    *client.API
	subs  SubscriptionSource
	grace time.Duration
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]entitlementCacheEntry
}

type entitlementCacheEntry struct {
	premium bool
	expires time.Time
}

// Stripe status is cached briefly so each turn doesn't round-trip to
// the billing API.
const entitlementCacheTTL = time.Minute

func NewStripeEntitlements(apiKey string, subs SubscriptionSource, grace time.Duration) *StripeEntitlements {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &StripeEntitlements{
		sc:    sc,
		subs:  subs,
		grace: grace,
		now:   time.Now,
		cache: make(map[string]entitlementCacheEntry),
	}
}

func (e *StripeEntitlements) IsPremium(ctx context.Context, userID string) (bool, error) {
	now := e.now()

	e.mu.Lock()
	if entry, ok := e.cache[userID]; ok && now.Before(entry.expires) {
		e.mu.Unlock()
		return entry.premium, nil
	}
	e.mu.Unlock()

	subID, err := e.subs.SubscriptionID(ctx, userID)
	if err != nil {
		return false, err
	}
	premium := false
	if subID != "" {
		sub, err := e.sc.Subscriptions.Get(subID, nil)
		if err != nil {
			return false, err
		}
		premium = e.subscriptionEntitles(sub, now)
	}

	e.mu.Lock()
	e.cache[userID] = entitlementCacheEntry{premium: premium, expires: now.Add(entitlementCacheTTL)}
	e.mu.Unlock()
	return premium, nil
}

func (e *StripeEntitlements) subscriptionEntitles(sub *stripe.Subscription, now time.Time) bool {
	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return true
	case stripe.SubscriptionStatusPastDue:
		// Dunning in progress, keep premium.
		return true
	case stripe.SubscriptionStatusCanceled:
		if sub.CanceledAt == 0 || e.grace <= 0 {
			return false
		}
		return now.Before(time.Unix(sub.CanceledAt, 0).Add(e.grace))
	default:
		return false
	}
}

// StaticEntitlements is a fixed premium set for tests and for running
// without billing configured.
type StaticEntitlements map[string]bool

func (s StaticEntitlements) IsPremium(ctx context.Context, userID string) (bool, error) {
	return s[userID], nil
}
