// Package usage enforces per-user daily talk-time budgets.
package usage

import (
	"context"
	"time"

	"github.com/warmline/warmline/pkg/core"
)

// Summary is the user's standing against their daily budget.
type Summary struct {
	Premium          bool `json:"premium"`
	UsedSeconds      int  `json:"used_seconds"`
	LimitSeconds     int  `json:"limit_seconds,omitempty"` // 0 when unlimited
	RemainingSeconds int  `json:"remaining_seconds,omitempty"`
	Warning          bool `json:"warning"`       // budget nearly spent
	LimitReached     bool `json:"limit_reached"` // budget spent
	ResetsInSeconds  int  `json:"resets_in_seconds"`
}

// Governor gates turns on the daily free budget. Premium users are
// unlimited; their time is still recorded for analytics.
type Governor struct {
	Store        Store
	Entitlements Entitlements

	FreeDailySeconds        int
	WarningThresholdSeconds int
	MaxCallDuration         time.Duration

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func (g *Governor) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// dayKey buckets usage by UTC calendar day.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func secondsUntilReset(t time.Time) int {
	utc := t.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return int(midnight.Sub(utc).Seconds())
}

// CheckBudget admits or rejects a new turn. A rejected check returns a
// usage limit error carrying seconds-until-reset as Retry-After.
func (g *Governor) CheckBudget(ctx context.Context, userID string) (*Summary, error) {
	now := g.now()

	premium, err := g.isPremium(ctx, userID)
	if err != nil {
		return nil, err
	}
	if premium {
		return &Summary{Premium: true, ResetsInSeconds: secondsUntilReset(now)}, nil
	}

	used, err := g.Store.SecondsUsed(ctx, userID, dayKey(now))
	if err != nil {
		return nil, err
	}
	summary := g.summarize(used, now)
	if summary.LimitReached {
		return nil, core.NewUsageLimitError("daily talk time limit reached", summary.ResetsInSeconds)
	}
	return summary, nil
}

// RecordUsage adds a finished segment of talk time. The duration is
// floored to whole seconds and clamped to [0, MaxCallDuration] before
// it touches the ledger, so clock glitches can't burn a day's budget.
func (g *Governor) RecordUsage(ctx context.Context, userID string, d time.Duration) (*Summary, error) {
	now := g.now()

	if d < 0 {
		d = 0
	}
	if g.MaxCallDuration > 0 && d > g.MaxCallDuration {
		d = g.MaxCallDuration
	}
	seconds := int(d.Seconds())

	total, err := g.Store.AddSeconds(ctx, userID, dayKey(now), seconds)
	if err != nil {
		return nil, err
	}

	premium, err := g.isPremium(ctx, userID)
	if err != nil {
		return nil, err
	}
	if premium {
		return &Summary{Premium: true, UsedSeconds: total, ResetsInSeconds: secondsUntilReset(now)}, nil
	}
	return g.summarize(total, now), nil
}

// Status reports the user's standing without admitting or recording.
func (g *Governor) Status(ctx context.Context, userID string) (*Summary, error) {
	now := g.now()

	premium, err := g.isPremium(ctx, userID)
	if err != nil {
		return nil, err
	}
	used, err := g.Store.SecondsUsed(ctx, userID, dayKey(now))
	if err != nil {
		return nil, err
	}
	if premium {
		return &Summary{Premium: true, UsedSeconds: used, ResetsInSeconds: secondsUntilReset(now)}, nil
	}
	return g.summarize(used, now), nil
}

func (g *Governor) summarize(used int, now time.Time) *Summary {
	remaining := g.FreeDailySeconds - used
	if remaining < 0 {
		remaining = 0
	}
	return &Summary{
		UsedSeconds:      used,
		LimitSeconds:     g.FreeDailySeconds,
		RemainingSeconds: remaining,
		Warning:          remaining > 0 && remaining <= g.WarningThresholdSeconds,
		LimitReached:     remaining <= 0,
		ResetsInSeconds:  secondsUntilReset(now),
	}
}

func (g *Governor) isPremium(ctx context.Context, userID string) (bool, error) {
	if g.Entitlements == nil {
		return false, nil
	}
	return g.Entitlements.IsPremium(ctx, userID)
}
