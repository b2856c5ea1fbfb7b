// Package ratelimit keeps per-principal request budgets and meeting session
// caps in memory. It is single-process only.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentRequests int
	// MaxConcurrentSessions caps live meeting websockets per principal.
	MaxConcurrentSessions int

	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*principalLimiter
}

type principalLimiter struct {
	mu sync.Mutex

	tb tokenBucket

	reqSem     chan struct{}
	sessionSem chan struct{}

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
		m:   make(map[string]*principalLimiter),
	}
}

func PrincipalKeyFromAPIKey(apiKey string) string {
	return "k_" + digest(apiKey)
}

func PrincipalKeyFromIP(ip string) string {
	return "ip_" + digest(ip)
}

func digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
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

func (l *Limiter) AcquireRequest(principal string, now time.Time) Decision {
	pl := l.getOrCreate(principal, now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		ok, retryAfter := pl.allowToken(now, l.cfg.RPS, l.cfg.Burst)
		if !ok {
			return Decision{Allowed: false, RetryAfter: retryAfter}
		}
	}
	return acquire(pl.reqSem, l.cfg.MaxConcurrentRequests)
}

// AcquireSession reserves one live meeting session for principal. The permit
// must be released when the websocket closes.
func (l *Limiter) AcquireSession(principal string, now time.Time) Decision {
	pl := l.getOrCreate(principal, now)
	return acquire(pl.sessionSem, l.cfg.MaxConcurrentSessions)
}

func acquire(sem chan struct{}, limit int) Decision {
	if limit <= 0 {
		return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
	}
	select {
	case sem <- struct{}{}:
		return Decision{Allowed: true, Permit: &Permit{release: func() { <-sem }}}
	default:
		return Decision{Allowed: false, RetryAfter: 1}
	}
}

func (l *Limiter) getOrCreate(principal string, now time.Time) *principalLimiter {
	if principal == "" {
		principal = "anonymous"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if pl, ok := l.m[principal]; ok {
		pl.lastSeen = now
		return pl
	}
	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		if len(l.m) >= l.cfg.MaxEntries {
			for k, v := range l.m {
				if len(v.reqSem) == 0 && len(v.sessionSem) == 0 {
					delete(l.m, k)
					break
				}
			}
		}
	}
	pl := &principalLimiter{
		reqSem:     make(chan struct{}, max(1, l.cfg.MaxConcurrentRequests)),
		sessionSem: make(chan struct{}, max(1, l.cfg.MaxConcurrentSessions)),
		lastSeen:   now,
	}
	l.m[principal] = pl
	return pl
}

// gcLocked drops idle principals that hold no permits.
func (l *Limiter) gcLocked(now time.Time) {
	for k, v := range l.m {
		if now.Sub(v.lastSeen) > l.cfg.EntryTTL && len(v.reqSem) == 0 && len(v.sessionSem) == 0 {
			delete(l.m, k)
		}
	}
}

func (pl *principalLimiter) allowToken(now time.Time, rps float64, burst int) (bool, int) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	capacity := float64(burst)
	if pl.tb.capacity == 0 {
		pl.tb = tokenBucket{rps: rps, capacity: capacity, tokens: capacity, last: now}
	}
	pl.tb.rps = rps
	pl.tb.capacity = capacity

	if elapsed := now.Sub(pl.tb.last).Seconds(); elapsed > 0 {
		pl.tb.tokens = math.Min(pl.tb.capacity, pl.tb.tokens+elapsed*pl.tb.rps)
		pl.tb.last = now
	}
	if pl.tb.tokens >= 1.0 {
		pl.tb.tokens -= 1.0
		return true, 0
	}
	retryAfter := int(math.Ceil((1.0 - pl.tb.tokens) / pl.tb.rps))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}
