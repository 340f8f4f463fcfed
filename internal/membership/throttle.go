package membership

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedUsernames bounds the throttle's memory. Past it, usernames whose bucket has
// refilled are forgotten before a new one is tracked.
const maxTrackedUsernames = 4096

// failureThrottle keeps one token bucket of failed logins per username, so failures
// against one account never lock out another.
type failureThrottle struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newFailureThrottle(limit rate.Limit, burst int) *failureThrottle {
	return &failureThrottle{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// blocked reports whether username has used up its failed attempts.
func (t *failureThrottle) blocked(username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[username]
	return ok && l.Tokens() < 1
}

// fail spends one attempt of username.
func (t *failureThrottle) fail(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[username]
	if !ok {
		if len(t.limiters) >= maxTrackedUsernames {
			t.sweep()
		}
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[username] = l
	}
	l.Allow()
}

// sweep drops the buckets that are full again. Callers hold t.mu.
func (t *failureThrottle) sweep() {
	for name, l := range t.limiters {
		if l.Tokens() >= float64(t.burst) {
			delete(t.limiters, name)
		}
	}
}

func (t *failureThrottle) tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}
