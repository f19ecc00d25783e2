package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter applies a per-user command budget so one chat cannot flood the
// store with work.
type userLimiter struct {
	mu       sync.Mutex
	perMin   int
	limiters map[int64]*limiterEntry
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newUserLimiter(perMinute int) *userLimiter {
	return &userLimiter{
		perMin:   perMinute,
		limiters: make(map[int64]*limiterEntry),
	}
}

func (l *userLimiter) Allow(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.limiters[userID]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(l.perMin)/60.0), l.perMin/4+1),
		}
		l.limiters[userID] = entry
	}
	entry.lastAccess = time.Now()
	if len(l.limiters) > 1024 {
		l.sweepLocked()
	}
	return entry.limiter.Allow()
}

func (l *userLimiter) sweepLocked() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for userID, entry := range l.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(l.limiters, userID)
		}
	}
}
