package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_DropsIdleUsers(t *testing.T) {
	now := time.Now()
	l := newRateLimiter(1, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("alice"))
	assert.False(t, l.allow("alice"))
	assert.True(t, l.allow("bob"))

	now = now.Add(2 * limiterIdle)
	assert.True(t, l.allow("bob"))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.users, 1)
	assert.Contains(t, l.users, "bob")
}
