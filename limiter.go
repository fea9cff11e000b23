package main

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// How long an idle per-IP record survives before the sweep drops it.
const validatorIdleExpiry = 10 * time.Minute

// connValidator admits or rejects new connections per source IP. Each
// IP gets a leaky bucket; while an IP keeps hitting the bucket empty,
// the token cost of its next attempt doubles, so an aggressive
// reconnector locks itself out for longer and longer. Successful
// admits halve the cost back down.
type connValidator struct {
	refill rate.Limit
	burst  int

	mu    sync.Mutex
	perIP map[string]*ipRecord
}

type ipRecord struct {
	bucket   *rate.Limiter
	cost     int
	lastSeen time.Time
}

func newConnValidator(connsPerIP int) *connValidator {
	if connsPerIP <= 0 {
		connsPerIP = 10
	}
	return &connValidator{
		refill: rate.Every(time.Second),
		burst:  connsPerIP,
		perIP:  make(map[string]*ipRecord),
	}
}

// admit decides whether to accept a connection from ip right now.
func (v *connValidator) admit(ip string, now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, ok := v.perIP[ip]
	if !ok {
		rec = &ipRecord{
			bucket: rate.NewLimiter(v.refill, v.burst),
			cost:   1,
		}
		v.perIP[ip] = rec
	}
	rec.lastSeen = now

	if rec.bucket.AllowN(now, rec.cost) {
		if rec.cost > 1 {
			rec.cost /= 2
		}
		return true
	}

	// Cost beyond the bucket capacity could never be paid, so a full
	// bucket always admits at least one connection.
	if rec.cost*2 <= v.burst {
		rec.cost *= 2
	}
	return false
}

// sweep forgets IPs that have been quiet long enough to not matter.
func (v *connValidator) sweep(now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for ip, rec := range v.perIP {
		if now.Sub(rec.lastSeen) >= validatorIdleExpiry {
			delete(v.perIP, ip)
		}
	}
}
