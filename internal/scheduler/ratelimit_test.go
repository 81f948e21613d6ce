package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterEnforcesQuota(t *testing.T) {
	l := NewLimiter(time.Hour, map[string]int{ServiceEmail: 2})

	assert.True(t, l.Allow(ServiceEmail))
	assert.True(t, l.Consume(ServiceEmail))
	assert.True(t, l.Consume(ServiceEmail))
	assert.False(t, l.Allow(ServiceEmail))
	assert.False(t, l.Consume(ServiceEmail))
}

func TestLimiterWindowSlides(t *testing.T) {
	now := time.Date(2025, 11, 4, 9, 0, 0, 0, time.UTC)
	l := NewLimiter(time.Hour, map[string]int{ServiceTwitter: 1})
	l.now = func() time.Time { return now }

	assert.True(t, l.Consume(ServiceTwitter))
	assert.False(t, l.Allow(ServiceTwitter))

	now = now.Add(61 * time.Minute)
	assert.True(t, l.Allow(ServiceTwitter))
	assert.True(t, l.Consume(ServiceTwitter))
}

func TestLimiterUnknownServiceUnlimited(t *testing.T) {
	l := NewLimiter(time.Hour, map[string]int{ServiceEmail: 1})
	for i := 0; i < 100; i++ {
		assert.True(t, l.Consume("weather"))
	}
}

func TestLimiterSnapshot(t *testing.T) {
	l := NewLimiter(time.Hour, map[string]int{ServiceEmail: 3, ServiceSearch: 10})
	l.Consume(ServiceEmail)

	snap := l.Snapshot()
	assert.Equal(t, 2, snap[ServiceEmail])
	assert.Equal(t, 10, snap[ServiceSearch])
}
