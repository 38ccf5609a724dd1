package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLimiter_PerKeyBuckets(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	kl := NewKeyedLimiter(1, 2).WithClock(func() time.Time { return now })

	assert.True(t, kl.Allow("alice"))
	assert.True(t, kl.Allow("alice"))
	assert.False(t, kl.Allow("alice"), "burst exhausted")

	// other users have their own bucket
	assert.True(t, kl.Allow("bob"))

	now = now.Add(time.Second)
	assert.True(t, kl.Allow("alice"), "one token refilled")
	assert.False(t, kl.Allow("alice"))
}

func TestKeyedLimiter_Disabled(t *testing.T) {
	kl := NewKeyedLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, kl.Allow("alice"))
	}
	assert.Equal(t, 0, kl.Len())
}

func TestKeyedLimiter_Sweep(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	kl := NewKeyedLimiter(5, 5).WithClock(func() time.Time { return now })

	kl.Allow("alice")
	now = now.Add(9 * time.Minute)
	kl.Allow("bob")
	now = now.Add(2 * time.Minute)

	assert.Equal(t, 1, kl.Sweep())
	assert.Equal(t, 1, kl.Len())
}
