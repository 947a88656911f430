package usage

import (
	"context"
	"sync"
)

// Store persists per-user per-day talk time. Day keys are UTC dates in
// YYYY-MM-DD form.
type Store interface {
	// AddSeconds atomically adds spent seconds to the user's daily
	// total and returns the new total for that day.
	AddSeconds(ctx context.Context, userID, day string, seconds int) (int, error)

	// SecondsUsed returns the user's total for the given day.
	SecondsUsed(ctx context.Context, userID, day string) (int, error)

	// SubscriptionID returns the user's Stripe subscription ID, or ""
	// when the user has never subscribed.
	SubscriptionID(ctx context.Context, userID string) (string, error)
}

// MemoryStore is an in-process Store. It is the default when no
// database is configured; totals reset on restart.
type MemoryStore struct {
	mu      sync.Mutex
	totals  map[string]int    // userID+"/"+day -> seconds
	subs    map[string]string // userID -> subscription ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		totals: make(map[string]int),
		subs:   make(map[string]string),
	}
}

func (s *MemoryStore) AddSeconds(ctx context.Context, userID, day string, seconds int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "/" + day
	s.totals[key] += seconds
	return s.totals[key], nil
}

func (s *MemoryStore) SecondsUsed(ctx context.Context, userID, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals[userID+"/"+day], nil
}

func (s *MemoryStore) SubscriptionID(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[userID], nil
}

// SetSubscriptionID registers a subscription mapping (tests and local runs).
func (s *MemoryStore) SetSubscriptionID(userID, subID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[userID] = subID
}
