package httpapi

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdle = 30 * time.Minute

type userLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

// rateLimiter hands out one token bucket per user. Idle buckets are dropped
// on the next pass after limiterIdle.
type rateLimiter struct {
	rps   rate.Limit
	burst int

	mu        sync.Mutex
	users     map[string]*userLimiter
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		users:     make(map[string]*userLimiter),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *rateLimiter) allow(user string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdle {
		for id, u := range l.users {
			if now.Sub(u.last) > limiterIdle {
				delete(l.users, id)
			}
		}
		l.lastSweep = now
	}

	u, ok := l.users[user]
	if !ok {
		u = &userLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.users[user] = u
	}
	u.last = now
	return u.limiter.AllowN(now, 1)
}

// middleware must run after ExtractUser so requests are keyed by user.
func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(GetUserID(r)) {
			respondError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
