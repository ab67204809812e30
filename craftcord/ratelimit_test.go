package craftcord

import (
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestKeyedLimiter(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	k := newKeyedLimiter(time.Minute, 2)
	k.now = func() time.Time { return now }

	assert.True(t, k.Allow(testUserID))
	assert.True(t, k.Allow(testUserID))
	assert.False(t, k.Allow(testUserID))
	assert.True(t, k.Allow(testOtherID), "limits are per key")

	now = now.Add(30 * time.Second)
	assert.False(t, k.Allow(testUserID), "both grants are still inside the window")

	now = now.Add(30 * time.Second)
	assert.True(t, k.Allow(testUserID))
	assert.True(t, k.Allow(testUserID))
	assert.False(t, k.Allow(testUserID))

	assert.Equal(t, 2, k.Len())
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, k.Prune())
	assert.Zero(t, k.Len())
}

func TestKeyedLimiter_RollingWindow(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	now := start
	k := newKeyedLimiter(time.Minute, 3)
	k.now = func() time.Time { return now }

	// try every second for five minutes, then count grants in every
	// minute-long span
	var granted []time.Time
	for i := 0; i < 300; i++ {
		if k.Allow(testUserID) {
			granted = append(granted, now)
		}
		now = now.Add(time.Second)
	}
	assert.Len(t, granted, 15)
	for i, g := range granted {
		inWindow := 0
		for _, other := range granted[i:] {
			if other.Sub(g) < time.Minute {
				inWindow++
			}
		}
		assert.LessOrEqualf(t, inWindow, 3, "window starting %s", g.Sub(start))
	}
}
