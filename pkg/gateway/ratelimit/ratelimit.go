// Package ratelimit enforces per-user short-window request ceilings.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	// Concurrency caps per user. Turns are short-lived HTTP requests;
	// live sessions are long-lived sockets and get their own cap.
	MaxConcurrentTurns        int
	MaxConcurrentLiveSessions int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*userLimiter
}

type userLimiter struct {
	mu sync.Mutex

	tb tokenBucket

	turnSem chan struct{}
	liveSem chan struct{}

	lastSeen time.Time
}

type tokenBucket struct {
	rps      float64
	capacity float64

	tokens float64
	last   time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*userLimiter),
	}
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// AcquireTurn admits one turn request for the user, applying the token
// bucket and the concurrent-turn cap.
func (l *Limiter) AcquireTurn(userID string, now time.Time) Decision {
	if userID == "" {
		userID = "anonymous"
	}

	ul := l.getOrCreate(userID, now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		ok, retryAfter := ul.allowToken(now, l.cfg.RPS, l.cfg.Burst)
		if !ok {
			return Decision{Allowed: false, RetryAfter: retryAfter}
		}
	}

	if l.cfg.MaxConcurrentTurns > 0 {
		select {
		case ul.turnSem <- struct{}{}:
			return Decision{
				Allowed: true,
				Permit:  &Permit{release: func() { <-ul.turnSem }},
			}
		default:
			return Decision{Allowed: false, RetryAfter: 1}
		}
	}

	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

// AcquireLiveSession admits one live socket for the user. Live sessions
// bypass the token bucket; they are rare and long-lived.
func (l *Limiter) AcquireLiveSession(userID string, now time.Time) Decision {
	if userID == "" {
		userID = "anonymous"
	}

	ul := l.getOrCreate(userID, now)

	if l.cfg.MaxConcurrentLiveSessions > 0 {
		select {
		case ul.liveSem <- struct{}{}:
			return Decision{
				Allowed: true,
				Permit:  &Permit{release: func() { <-ul.liveSem }},
			}
		default:
			return Decision{Allowed: false, RetryAfter: 1}
		}
	}

	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

func (l *Limiter) getOrCreate(userID string, now time.Time) *userLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// If still too big, drop one arbitrary entry (bounded memory > perfect fairness).
		if len(l.m) >= l.cfg.MaxEntries {
			for k := range l.m {
				delete(l.m, k)
				break
			}
		}
	}

	if ul, ok := l.m[userID]; ok {
		// lastSeen only moves under l.mu; gcLocked reads it there too.
		ul.lastSeen = now
		return ul
	}
	ul := &userLimiter{
		turnSem:  make(chan struct{}, maxInt(1, l.cfg.MaxConcurrentTurns)),
		liveSem:  make(chan struct{}, maxInt(1, l.cfg.MaxConcurrentLiveSessions)),
		lastSeen: now,
	}
	l.m[userID] = ul
	return ul
}

func (l *Limiter) gcLocked(now time.Time) {
	ttl := l.cfg.EntryTTL
	for k, v := range l.m {
		if now.Sub(v.lastSeen) > ttl {
			delete(l.m, k)
		}
	}
}

func (ul *userLimiter) allowToken(now time.Time, rps float64, burst int) (bool, int) {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	if burst <= 0 || rps <= 0 {
		return true, 0
	}
	capacity := float64(burst)
	if ul.tb.capacity == 0 {
		ul.tb = tokenBucket{
			rps:      rps,
			capacity: capacity,
			tokens:   capacity,
			last:     now,
		}
	}

	// If config changes at runtime (rare), adapt.
	ul.tb.rps = rps
	ul.tb.capacity = capacity

	elapsed := now.Sub(ul.tb.last).Seconds()
	if elapsed > 0 {
		ul.tb.tokens = math.Min(ul.tb.capacity, ul.tb.tokens+(elapsed*ul.tb.rps))
		ul.tb.last = now
	}

	if ul.tb.tokens >= 1.0 {
		ul.tb.tokens -= 1.0
		return true, 0
	}

	needed := 1.0 - ul.tb.tokens
	seconds := needed / ul.tb.rps
	retryAfter := int(math.Ceil(seconds))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
